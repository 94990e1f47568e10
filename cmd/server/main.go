package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auth-lifecycle/internal/anomaly"
	"auth-lifecycle/internal/audit"
	auditrepo "auth-lifecycle/internal/audit/repository"
	"auth-lifecycle/internal/config"
	"auth-lifecycle/internal/db"
	"auth-lifecycle/internal/identity"
	"auth-lifecycle/internal/security"
	"auth-lifecycle/internal/server"
	"auth-lifecycle/internal/server/cookies"
	sessionhandler "auth-lifecycle/internal/session/handler"
	sessionrepo "auth-lifecycle/internal/session/repository"
	sessionservice "auth-lifecycle/internal/session/service"
	"auth-lifecycle/internal/telemetry"
	"auth-lifecycle/internal/telemetry/otel"
	"auth-lifecycle/internal/telemetry/producer"
	tokenhandler "auth-lifecycle/internal/token/handler"
	tokenrepo "auth-lifecycle/internal/token/repository"
	tokenservice "auth-lifecycle/internal/token/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "auth-lifecycle-server", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	privateKey, err := security.ParsePrivateKey(cfg.JWTPrivateKey)
	if err != nil {
		log.Fatalf("jwt private key: %v", err)
	}
	publicKey, err := security.ParsePublicKey(cfg.JWTPublicKey)
	if err != nil {
		log.Fatalf("jwt public key: %v", err)
	}
	tokens := security.NewTokenProvider(privateKey, publicKey, cfg.JWTIssuer,
		cfg.AccessTTL(), cfg.RefreshTTL(), cfg.ShuntWindow())

	var idp identity.Provider = identity.NoopProvider{}
	if cfg.IdentityProviderURL != "" {
		idp = identity.NewHTTPProvider(cfg.IdentityProviderURL, cfg.IdentityProviderAPIKey)
	}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(pool), nil)

	evaluator := anomaly.NewOPAEvaluator(loadRegoPolicy(cfg.AnomalyRegoPolicy),
		cfg.SuspicionDistanceKM, cfg.GeoRecordDistanceKM)
	if err := evaluator.HealthCheck(ctx); err != nil {
		log.Fatalf("anomaly policy: %v", err)
	}

	tokenSvc := tokenservice.NewTokenService(tokenrepo.NewPostgresRepository(pool), tokens, idp, auditLogger)
	sessionSvc := sessionservice.NewSessionService(sessionrepo.NewPostgresRepository(pool), tokenSvc,
		evaluator, auditLogger, cfg.HeartbeatInterval(), cfg.LivenessWindow())

	var emitter telemetry.EventEmitter
	kafkaProducer, err := producer.NewKafkaProducer(cfg.LifecycleKafkaBrokersList(), cfg.LifecycleKafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitter = kafkaProducer
	} else {
		emitter = otel.NewEventEmitter(providers.LoggerProvider)
	}

	cw := cookies.NewWriter(cfg.Env != "local" && cfg.Env != "development")

	srv := server.New(server.Options{
		Addr:         cfg.HTTPAddr,
		Env:          cfg.Env,
		Tokens:       tokens,
		TokenService: tokenSvc,
		Cookies:      cw,
		Emitter:      emitter,
		TokenHandler: tokenhandler.NewHandler(tokenSvc, idp, sessionSvc, cw, emitter),
		SessionHandler: sessionhandler.NewHandler(sessionSvc, cw, emitter,
			cfg.HeartbeatInterval(), cfg.LivenessWindow()),
		HealthChecks: []server.HealthCheck{
			func(ctx context.Context) error { return pool.PingContext(ctx) },
			evaluator.HealthCheck,
		},
	})

	go func() {
		log.Printf("http server listening on %s", cfg.HTTPAddr)
		if err := srv.Run(); err != nil {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down http server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Let in-flight async emits drain before tearing down the exporters.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("http server stopped")
}

// loadRegoPolicy reads the custom anomaly policy file, or returns "" for the
// built-in policy. A configured-but-unreadable policy is fatal: silently
// falling back would weaken the anomaly response.
func loadRegoPolicy(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("anomaly policy: read %s: %v", path, err)
	}
	return string(data)
}
