package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// LoadConfig loads, populates, and validates the service configuration:
//  1. Enforce UTC to prevent timestamp drift between replicas.
//  2. Load .env via godotenv (non-fatal if absent; never overrides OS env).
//  3. Process envconfig tags to populate the Config struct.
//  4. Validate the struct using go-playground/validator.
//
// Any failure is returned to the caller, which should treat it as fatal.
func LoadConfig() (*Config, error) {
	time.Local = time.UTC

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment configuration: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}
