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
	// HTTPAddr is the address the ops HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN; empty disables durable audit storage.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// PolicyFile is the path to the YAML endpoint policy table.
	PolicyFile string `mapstructure:"POLICY_FILE"`
	// DefaultRole is the role required for endpoints no policy rule matches.
	DefaultRole string `mapstructure:"DEFAULT_ROLE"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim; required when token auth is enabled.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim; required when token auth is enabled.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTTTL is the session token lifetime (e.g. "15m").
	JWTTTL string `mapstructure:"JWT_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// SessionTimeout is the idle timeout after which sessions expire (e.g. "1h").
	SessionTimeout string `mapstructure:"SESSION_TIMEOUT"`
	// CriticalActionTimeout is the max session age before critical actions
	// require password re-confirmation (e.g. "15m").
	CriticalActionTimeout string `mapstructure:"CRITICAL_ACTION_TIMEOUT"`
	// SessionSweepInterval is how often expired sessions are swept (e.g. "1m").
	SessionSweepInterval string `mapstructure:"SESSION_SWEEP_INTERVAL"`

	// EscalationWindow is the sliding window for counting escalation attempts (e.g. "60s").
	EscalationWindow string `mapstructure:"ESCALATION_WINDOW"`
	// EscalationMaxAttempts is the attempts-in-window threshold that triggers
	// blacklisting; default 3.
	EscalationMaxAttempts int `mapstructure:"ESCALATION_MAX_ATTEMPTS"`
	// EscalationPruneInterval is how often stale attempt records are pruned (e.g. "5m").
	EscalationPruneInterval string `mapstructure:"ESCALATION_PRUNE_INTERVAL"`

	// IntegrityCheckInterval is how often the audit chain is re-verified (e.g. "1m").
	IntegrityCheckInterval string `mapstructure:"INTEGRITY_CHECK_INTERVAL"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// AlertKafkaBrokers is a comma-separated list of Kafka broker addresses;
	// when set, critical audit entries are published to Kafka.
	AlertKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AlertKafkaTopic is the Kafka topic for critical-event alerts.
	AlertKafkaTopic string `mapstructure:"ALERT_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the alert worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the alert worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored (e.g. in CI). Env vars
// override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("POLICY_FILE", "policy.yaml")
	v.SetDefault("DEFAULT_ROLE", "EMPLOYEE")
	v.SetDefault("JWT_ISSUER", "attendguard-auth")
	v.SetDefault("JWT_AUDIENCE", "attendguard-api")
	v.SetDefault("JWT_TTL", "15m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SESSION_TIMEOUT", "1h")
	v.SetDefault("CRITICAL_ACTION_TIMEOUT", "15m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1m")
	v.SetDefault("ESCALATION_WINDOW", "60s")
	v.SetDefault("ESCALATION_MAX_ATTEMPTS", 3)
	v.SetDefault("ESCALATION_PRUNE_INTERVAL", "5m")
	v.SetDefault("INTEGRITY_CHECK_INTERVAL", "1m")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("ALERT_KAFKA_TOPIC", "attendguard-alerts")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "attendguard-alert-worker")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.EscalationMaxAttempts <= 0 {
		return nil, errors.New("config: ESCALATION_MAX_ATTEMPTS must be positive")
	}

	return &cfg, nil
}

// JWTLifetime parses JWTTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) JWTLifetime() time.Duration {
	return durationOr(c.JWTTTL, 15*time.Minute)
}

// SessionIdleTimeout parses SessionTimeout. Returns 1h if unset or invalid.
func (c *Config) SessionIdleTimeout() time.Duration {
	return durationOr(c.SessionTimeout, time.Hour)
}

// CriticalActionMaxAge parses CriticalActionTimeout. Returns 15m if unset or invalid.
func (c *Config) CriticalActionMaxAge() time.Duration {
	return durationOr(c.CriticalActionTimeout, 15*time.Minute)
}

// SweepInterval parses SessionSweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepInterval() time.Duration {
	return durationOr(c.SessionSweepInterval, time.Minute)
}

// AttemptWindow parses EscalationWindow. Returns 60s if unset or invalid.
func (c *Config) AttemptWindow() time.Duration {
	return durationOr(c.EscalationWindow, 60*time.Second)
}

// PruneInterval parses EscalationPruneInterval. Returns 5m if unset or invalid.
func (c *Config) PruneInterval() time.Duration {
	return durationOr(c.EscalationPruneInterval, 5*time.Minute)
}

// IntegrityInterval parses IntegrityCheckInterval. Returns 1m if unset or invalid.
func (c *Config) IntegrityInterval() time.Duration {
	return durationOr(c.IntegrityCheckInterval, time.Minute)
}

// AlertKafkaBrokersList returns Kafka broker addresses from the
// comma-separated config. A non-empty list means alerting via Kafka is on.
func (c *Config) AlertKafkaBrokersList() []string {
	if c == nil || c.AlertKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.AlertKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
