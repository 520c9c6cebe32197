package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_URL", "https://app.example.com")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/subsync")
	t.Setenv("POLAR_ACCESS_TOKEN", "polar_at_test")
	t.Setenv("POLAR_WEBHOOK_SECRET", "whsec_polar")
	t.Setenv("POLAR_PRO_PRODUCT_ID", "prod_pro")
	t.Setenv("CLERK_SECRET_KEY", "sk_test_clerk")
	t.Setenv("CLERK_WEBHOOK_SECRET", "whsec_clerk")
}

func TestLoadConfig_Success(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Environment)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "prod_pro", cfg.Billing.PolarProProductID)
	assert.False(t, cfg.IsLocal())

	// Secrets must not leak through fmt.
	assert.Equal(t, "***REDACTED***", cfg.Billing.PolarAccessToken.String())
	assert.Equal(t, "polar_at_test", cfg.Billing.PolarAccessToken.Unmask())
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POLAR_WEBHOOK_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfig_DedupDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Empty(t, cfg.Dedup.RedisURL)
	assert.Equal(t, "1h0m0s", cfg.Dedup.TTL.String())
}
