// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP gateway listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; empty until DB is wired.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim (e.g. "auth-lifecycle").
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "720h" = 30d).
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// JWTShuntWindow is how close to expiry an access token must be before the
	// gateway rotates it mid-request (e.g. "5m").
	JWTShuntWindow string `mapstructure:"JWT_SHUNT_WINDOW"`

	// SessionHeartbeatInterval is the expected client heartbeat period (e.g. "1m").
	// A session whose last heartbeat is older than this is alive but inactive.
	SessionHeartbeatInterval string `mapstructure:"SESSION_HEARTBEAT_INTERVAL"`
	// SessionLivenessWindow is the maximum heartbeat gap before a session is dead (e.g. "30m").
	SessionLivenessWindow string `mapstructure:"SESSION_LIVENESS_WINDOW"`
	// SuspicionDistanceKM is the geolocation jump, in kilometers, that flags a session
	// as suspicious within one liveness window (default 200).
	SuspicionDistanceKM float64 `mapstructure:"SUSPICION_DISTANCE_KM"`
	// GeoRecordDistanceKM is the minimum movement, in kilometers, before a new point
	// is appended to a session's geolocation history (default 0.25).
	GeoRecordDistanceKM float64 `mapstructure:"GEO_RECORD_DISTANCE_KM"`
	// AnomalyRegoPolicy is an optional path to a custom Rego policy for movement
	// evaluation; empty uses the built-in policy.
	AnomalyRegoPolicy string `mapstructure:"ANOMALY_REGO_POLICY"`

	// IdentityProviderURL is the base URL of the external identity provider's admin API.
	// Empty disables outbound identity-provider calls (dev).
	IdentityProviderURL string `mapstructure:"IDENTITY_PROVIDER_URL"`
	// IdentityProviderAPIKey authenticates admin API calls to the identity provider.
	IdentityProviderAPIKey string `mapstructure:"IDENTITY_PROVIDER_API_KEY"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Lifecycle event pipeline (optional). When Kafka brokers are set, the server
	// emits session/token lifecycle events to Kafka.
	// LifecycleKafkaBrokers is a comma-separated list of broker addresses.
	LifecycleKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// LifecycleKafkaTopic is the Kafka topic for lifecycle events.
	LifecycleKafkaTopic string `mapstructure:"LIFECYCLE_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the lifecycle worker to push events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the lifecycle worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("JWT_ISSUER", "auth-lifecycle")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("JWT_SHUNT_WINDOW", "5m")
	v.SetDefault("SESSION_HEARTBEAT_INTERVAL", "1m")
	v.SetDefault("SESSION_LIVENESS_WINDOW", "30m")
	v.SetDefault("SUSPICION_DISTANCE_KM", 200.0)
	v.SetDefault("GEO_RECORD_DISTANCE_KM", 0.25)
	v.SetDefault("ANOMALY_REGO_POLICY", "")
	v.SetDefault("IDENTITY_PROVIDER_URL", "")
	v.SetDefault("IDENTITY_PROVIDER_API_KEY", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("LIFECYCLE_KAFKA_TOPIC", "auth-lifecycle-events")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "auth-lifecycle-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.SuspicionDistanceKM <= 0 {
		return nil, errors.New("config: SUSPICION_DISTANCE_KM must be positive")
	}
	if cfg.GeoRecordDistanceKM <= 0 {
		return nil, errors.New("config: GEO_RECORD_DISTANCE_KM must be positive")
	}
	if cfg.GeoRecordDistanceKM >= cfg.SuspicionDistanceKM {
		return nil, errors.New("config: GEO_RECORD_DISTANCE_KM must be below SUSPICION_DISTANCE_KM")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, time.Hour)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 720*time.Hour)
}

// ShuntWindow parses JWTShuntWindow as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) ShuntWindow() time.Duration {
	return parseDuration(c.JWTShuntWindow, 5*time.Minute)
}

// HeartbeatInterval parses SessionHeartbeatInterval. Returns 1m if unset or invalid.
func (c *Config) HeartbeatInterval() time.Duration {
	return parseDuration(c.SessionHeartbeatInterval, time.Minute)
}

// LivenessWindow parses SessionLivenessWindow. Returns 30m if unset or invalid.
func (c *Config) LivenessWindow() time.Duration {
	return parseDuration(c.SessionLivenessWindow, 30*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// LifecycleKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event pipeline is enabled (non-empty list) and to create the producer.
func (c *Config) LifecycleKafkaBrokersList() []string {
	if c == nil || c.LifecycleKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.LifecycleKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
