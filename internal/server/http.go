// Package server assembles the HTTP surface: router, middleware chain, and
// lifecycle of the listener.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"auth-lifecycle/internal/security"
	"auth-lifecycle/internal/server/cookies"
	"auth-lifecycle/internal/server/middleware"
	sessionhandler "auth-lifecycle/internal/session/handler"
	"auth-lifecycle/internal/telemetry"
	tokenhandler "auth-lifecycle/internal/token/handler"
	tokenservice "auth-lifecycle/internal/token/service"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options carries everything the HTTP server needs.
type Options struct {
	Addr string
	Env  string

	Tokens       *security.TokenProvider
	TokenService *tokenservice.TokenService
	Cookies      cookies.Writer
	Emitter      telemetry.EventEmitter

	TokenHandler   *tokenhandler.Handler
	SessionHandler *sessionhandler.Handler

	// HealthChecks run on /healthz; any failure reports 503.
	HealthChecks []HealthCheck
}

// Server is the HTTP front of the token and session authorities.
type Server struct {
	http   *http.Server
	checks []HealthCheck
}

// New builds the router and returns a Server ready to Run.
func New(opts Options) *Server {
	if opts.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Telemetry(opts.Emitter, map[string]bool{"/healthz": true}))

	s := &Server{checks: opts.HealthChecks}
	engine.GET("/healthz", s.healthz)

	v1 := engine.Group("/v1")
	v1.Use(middleware.RefreshShunt(opts.Tokens, opts.TokenService, opts.Cookies))

	public := v1.Group("")
	public.Use(middleware.Auth(opts.Tokens, false))
	opts.TokenHandler.RegisterPublicRoutes(public)
	opts.SessionHandler.RegisterPublicRoutes(public)

	protected := v1.Group("")
	protected.Use(middleware.Auth(opts.Tokens, true))
	opts.TokenHandler.RegisterProtectedRoutes(protected)
	opts.SessionHandler.RegisterProtectedRoutes(protected)

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) healthz(c *gin.Context) {
	for _, check := range s.checks {
		if check == nil {
			continue
		}
		if err := check(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
