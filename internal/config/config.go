package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
	Mutation  MutationConfig
	Health    HealthConfig
	App       AppConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"SERVER_PORT" required:"true"`
	Host            string        `envconfig:"SERVER_HOST" required:"true"`
	BaseURL         string        `envconfig:"SERVER_BASE_URL" required:"true"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" required:"true"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" required:"true"`
	IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" required:"true"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" required:"true"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// RedisConfig holds the connection settings for the link store.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR" required:"true"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be non-negative, got %d", c.DB)
	}
	return nil
}

// CacheConfig holds the in-process response cache settings.
type CacheConfig struct {
	MaxEntries int64         `envconfig:"CACHE_MAX_ENTRIES" default:"100000"`
	TTL        time.Duration `envconfig:"CACHE_TTL" default:"1h"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max entries must be positive, got %d", c.MaxEntries)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("ttl must be positive, got %s", c.TTL)
	}
	return nil
}

// TelemetryConfig holds the analytics ingest settings. Ingestion is
// optional: with no endpoints configured, click events are dropped.
type TelemetryConfig struct {
	IngestEndpoints []string      `envconfig:"TELEMETRY_INGEST_ENDPOINTS"`
	BearerToken     string        `envconfig:"TELEMETRY_BEARER_TOKEN"`
	Timeout         time.Duration `envconfig:"TELEMETRY_TIMEOUT" default:"10s"`
}

// Validate validates the telemetry configuration.
func (c *TelemetryConfig) Validate() error {
	if len(c.IngestEndpoints) > 0 && c.BearerToken == "" {
		return fmt.Errorf("bearer token is required when ingest endpoints are configured")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	return nil
}

// Enabled reports whether click events should be forwarded at all.
func (c *TelemetryConfig) Enabled() bool {
	return len(c.IngestEndpoints) > 0
}

// MutationConfig holds the backend mutation endpoint used to record
// destination health results. Optional: with no URL configured, health
// probing is disabled.
type MutationConfig struct {
	URL          string `envconfig:"MUTATION_URL"`
	SharedSecret string `envconfig:"MUTATION_SHARED_SECRET"`
}

// Validate validates the mutation configuration.
func (c *MutationConfig) Validate() error {
	if c.URL != "" && c.SharedSecret == "" {
		return fmt.Errorf("shared secret is required when mutation URL is configured")
	}
	return nil
}

// HealthConfig holds settings for the destination health prober.
type HealthConfig struct {
	// SelfHost is the public host of this service, used to detect
	// redirect loops pointing back at us.
	SelfHost string `envconfig:"HEALTH_SELF_HOST"`
}

// Validate validates the health configuration.
func (c *HealthConfig) Validate() error {
	return nil
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Environment string `envconfig:"APP_ENV" required:"true"`   // development, staging, production, test
	LogLevel    string `envconfig:"LOG_LEVEL" required:"true"` // debug, info, warn, error
}

// Validate validates the app configuration.
func (c *AppConfig) Validate() error {
	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
		"test":        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s (must be one of: development, staging, production, test)", c.Environment)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	return nil
}

// Load loads configuration from environment variables only.
// (Do .env loading in cmd/worker/main.go for dev, not here.)
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process("", &cfg.Server); err != nil {
		return nil, fmt.Errorf("failed to load Server config: %w", err)
	}
	if err := cfg.Server.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Server config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Redis); err != nil {
		return nil, fmt.Errorf("failed to load Redis config: %w", err)
	}
	if err := cfg.Redis.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Redis config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Cache); err != nil {
		return nil, fmt.Errorf("failed to load Cache config: %w", err)
	}
	if err := cfg.Cache.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Cache config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("failed to load Telemetry config: %w", err)
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Telemetry config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Mutation); err != nil {
		return nil, fmt.Errorf("failed to load Mutation config: %w", err)
	}
	if err := cfg.Mutation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Mutation config: %w", err)
	}

	if err := envconfig.Process("", &cfg.Health); err != nil {
		return nil, fmt.Errorf("failed to load Health config: %w", err)
	}
	if err := cfg.Health.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Health config: %w", err)
	}

	if err := envconfig.Process("", &cfg.App); err != nil {
		return nil, fmt.Errorf("failed to load App config: %w", err)
	}
	if err := cfg.App.Validate(); err != nil {
		return nil, fmt.Errorf("invalid App config: %w", err)
	}

	return cfg, nil
}
