// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the complete service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Workflow WorkflowConfig
	Auth     AuthConfig
	NATS     NATSConfig
	Tracing  TracingConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `env:"SERVICE_NAME" envDefault:"be-plot-transfers"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8086"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"20s"`
	RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
	RateLimit       int           `env:"HTTP_RATE_LIMIT" envDefault:"120"`
	RateWindow      time.Duration `env:"HTTP_RATE_WINDOW" envDefault:"1m"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver     string `env:"STORE_DRIVER" envDefault:"postgres"`
	SQLitePath string `env:"SQLITE_PATH" envDefault:"plot-transfers.db"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host        string        `env:"DB_HOST" envDefault:"localhost"`
	Port        int           `env:"DB_PORT" envDefault:"5432"`
	User        string        `env:"DB_USER" envDefault:"postgres"`
	Password    string        `env:"DB_PASSWORD"`
	Database    string        `env:"DB_NAME" envDefault:"plot_transfers"`
	SSLMode     string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"20"`
	MinConns    int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	MaxConnTime time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"1h"`
	MaxIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	HealthCheck time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
}

// WorkflowConfig tunes the transition engine.
type WorkflowConfig struct {
	SeedFile       string        `env:"WORKFLOW_SEED_FILE"`
	WatchSeed      bool          `env:"WORKFLOW_WATCH_SEED" envDefault:"false"`
	InitialStage   string        `env:"WORKFLOW_INITIAL_STAGE" envDefault:"SUBMITTED"`
	ExecuteTimeout time.Duration `env:"WORKFLOW_EXECUTE_TIMEOUT" envDefault:"10s"`
	LockTimeout    time.Duration `env:"WORKFLOW_LOCK_TIMEOUT" envDefault:"5s"`
	IntakeDocs     []string      `env:"WORKFLOW_INTAKE_DOCUMENTS" envSeparator:","`
	Sections       []string      `env:"WORKFLOW_REQUIRED_SECTIONS" envSeparator:","`
}

// AuthConfig controls how the acting user is resolved from a request.
type AuthConfig struct {
	JWTSecret string `env:"AUTH_JWT_SECRET"`
	JWTIssuer string `env:"AUTH_JWT_ISSUER"`
}

// NATSConfig enables transition event publishing when URL is set.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"notifications.plots"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint string `env:"OTEL_ENDPOINT"`
	Enabled  bool   `env:"OTEL_ENABLED" envDefault:"true"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER=sqlite")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT out of range: %d", c.Server.Port)
	}
	if c.Workflow.InitialStage == "" {
		return fmt.Errorf("WORKFLOW_INITIAL_STAGE must not be empty")
	}
	if c.Workflow.ExecuteTimeout <= 0 {
		return fmt.Errorf("WORKFLOW_EXECUTE_TIMEOUT must be positive")
	}
	if c.Workflow.LockTimeout <= 0 || c.Workflow.LockTimeout > c.Workflow.ExecuteTimeout {
		return fmt.Errorf("WORKFLOW_LOCK_TIMEOUT must be positive and not exceed WORKFLOW_EXECUTE_TIMEOUT")
	}
	if c.Workflow.WatchSeed && c.Workflow.SeedFile == "" {
		return fmt.Errorf("WORKFLOW_WATCH_SEED requires WORKFLOW_SEED_FILE")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}
