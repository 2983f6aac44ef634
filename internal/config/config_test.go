package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsCredentialEnvVars(t *testing.T) {
	t.Setenv("KALSHI_KEY_ID", "key-123")
	t.Setenv("KALSHI_KEY_FILE", "/tmp/kalshi.pem")

	cfg := Load()
	assert.Equal(t, "key-123", cfg.KalshiKeyID)
	assert.Equal(t, "/tmp/kalshi.pem", cfg.KalshiKeyFile)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("KALSHI_KEY_ID", "")
	t.Setenv("KALSHI_KEY_FILE", "")
	t.Setenv("KALSHI_BASE_URL", "")

	cfg := Load()
	assert.Empty(t, cfg.KalshiKeyID)
	assert.Equal(t, "private_key.pem", cfg.KalshiKeyFile)
	assert.Equal(t, "https://api.elections.kalshi.com/trade-api/v2", cfg.KalshiBaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
}
