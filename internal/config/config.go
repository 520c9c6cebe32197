// Package config defines the global configuration structure for the subsync
// service. Configuration is loaded once at process initialization and is
// immutable thereafter, following 12-Factor principles: OS environment takes
// priority over a local .env file. Any missing required value or invalid
// format causes startup to fail fast.
package config

import (
	"time"

	"subsync/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct. It is populated once during
// process initialization and never modified. Sub-components receive only the
// specific config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"subsync"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Domain Configurations
	Server   ServerConfig
	Database DatabaseConfig
	Billing  BillingConfig
	Identity IdentityConfig
	Dedup    DedupConfig
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public URL the checkout flow redirects back to (no trailing slash).
	AppURL         string        `envconfig:"APP_URL" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"29s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	// Tuning Parameters
	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// BillingConfig holds Polar payment integration credentials and keys.
type BillingConfig struct {
	PolarAccessToken   SecretString `envconfig:"POLAR_ACCESS_TOKEN" validate:"required"`
	PolarWebhookSecret SecretString `envconfig:"POLAR_WEBHOOK_SECRET" validate:"required"`
	PolarProProductID  string       `envconfig:"POLAR_PRO_PRODUCT_ID" validate:"required"`
	// Sandbox flips the API base to the provider's sandbox environment.
	PolarAPIBase string `envconfig:"POLAR_API_BASE"`
}

// IdentityConfig holds Clerk credentials.
type IdentityConfig struct {
	ClerkSecretKey     SecretString `envconfig:"CLERK_SECRET_KEY" validate:"required"`
	ClerkWebhookSecret SecretString `envconfig:"CLERK_WEBHOOK_SECRET" validate:"required"`
}

// DedupConfig selects the webhook dedup backend. With an empty RedisURL the
// service falls back to the in-process deduper, which is only safe for a
// single replica.
type DedupConfig struct {
	RedisURL      string        `envconfig:"DEDUP_REDIS_URL"`
	TTL           time.Duration `envconfig:"DEDUP_TTL" default:"1h"`
	SweepInterval time.Duration `envconfig:"DEDUP_SWEEP_INTERVAL" default:"1h"`
}

// IsLocal reports whether the service runs in local development mode, where
// stub external services are wired instead of real providers.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}
