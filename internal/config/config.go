package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv    string
	Port      string
	LogLevel  string
	LogFormat string

	RedisURL string

	// CredentialKey is a hex-encoded AES-256 key. When set, pairing
	// credentials are sealed before they reach Redis.
	CredentialKey string

	// WhatsAppDB is the sqlite DSN for the whatsmeow credential container.
	WhatsAppDB string

	// QRWindow is how long a presented pairing code stays valid before the
	// session gives up with qr_expired.
	QRWindow time.Duration

	// Reconnect policy: exponential backoff starting at ReconnectBase,
	// doubling up to ReconnectCap, at most ReconnectMaxAttempts attempts.
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts int

	// SendRate throttles outbound messages per session (messages/second).
	SendRate  float64
	SendBurst int
}

// Load reads configuration from the environment. A .env file is applied
// first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "3000"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379"),
		CredentialKey: getEnv("CREDENTIAL_ENCRYPTION_KEY", ""),
		WhatsAppDB:    getEnv("WHATSAPP_DB", "file:data/whatsapp.db?_foreign_keys=on"),
	}

	var err error
	if cfg.QRWindow, err = getDuration("QR_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconnectBase, err = getDuration("RECONNECT_BASE", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectCap, err = getDuration("RECONNECT_CAP", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ReconnectMaxAttempts, err = getInt("RECONNECT_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.SendRate, err = getFloat("SEND_RATE", 1); err != nil {
		return nil, err
	}
	if cfg.SendBurst, err = getInt("SEND_BURST", 5); err != nil {
		return nil, err
	}

	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.ReconnectMaxAttempts < 0 {
		return nil, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative")
	}
	if cfg.QRWindow <= 0 {
		return nil, fmt.Errorf("QR_WINDOW must be positive")
	}
	if cfg.SendRate <= 0 {
		return nil, fmt.Errorf("SEND_RATE must be positive")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}
