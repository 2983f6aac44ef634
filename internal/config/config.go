package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Kalshi API
	KalshiBaseURL string
	KalshiWSURL   string
	KalshiKeyID   string
	KalshiKeyFile string

	// Strategy + risk limits file
	LimitsPath string

	// Journal
	JournalPath string

	// Telemetry
	LogLevel string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		KalshiBaseURL: envStr("KALSHI_BASE_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		KalshiWSURL:   envStr("KALSHI_WS_URL", "wss://api.elections.kalshi.com/trade-api/ws/v2"),
		KalshiKeyID:   envStr("KALSHI_KEY_ID", ""),
		KalshiKeyFile: envStr("KALSHI_KEY_FILE", "private_key.pem"),

		LimitsPath:  envStr("LIMITS_PATH", "internal/config/limits.yaml"),
		JournalPath: envStr("JOURNAL_PATH", "data/journal.db"),

		LogLevel: envStr("LOG_LEVEL", "info"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
