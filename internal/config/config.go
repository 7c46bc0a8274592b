package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/shopspring/decimal"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string
	CurrencyCode       string

	CatalogPath     string
	CatalogCacheTTL time.Duration
	CartTTL         time.Duration

	PromoStartHour    int
	PromoEndHour      int
	PromoTimezone     string
	PromoHourOverride *int

	CartSyncPollInterval time.Duration
	CartSyncSettleDelay  time.Duration
	CartSyncMinInterval  time.Duration
	CartSyncIdleTimeout  time.Duration
	CartSyncEpsilon      decimal.Decimal

	LockTTL          time.Duration
	LockRetryBackoff time.Duration
	RateLimitWindow  time.Duration
	RateLimitMax     int
	IdempotencyTTL   time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		CurrencyCode:       valueOrDefault(k.String("CURRENCY_CODE"), "INR"),

		CatalogPath:     strings.TrimSpace(k.String("CATALOG_PATH")),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),
		CartTTL:         parseDuration(k.String("CART_TTL"), "168h"),

		PromoTimezone: valueOrDefault(k.String("PROMO_TIMEZONE"), "Asia/Kolkata"),

		CartSyncPollInterval: parseDuration(k.String("CART_SYNC_POLL_INTERVAL"), "10s"),
		CartSyncSettleDelay:  parseDuration(k.String("CART_SYNC_SETTLE_DELAY"), "300ms"),
		CartSyncMinInterval:  parseDuration(k.String("CART_SYNC_MIN_INTERVAL"), "1s"),
		CartSyncIdleTimeout:  parseDuration(k.String("CART_SYNC_IDLE_TIMEOUT"), "30m"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "5s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "25ms"),
		RateLimitWindow:  parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:     parseInt(k.String("RATE_LIMIT_MAX"), 120),
		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
	}

	var err error
	if cfg.PromoStartHour, err = parseHour("PROMO_START_HOUR", k.String("PROMO_START_HOUR"), 18); err != nil {
		return nil, err
	}
	if cfg.PromoEndHour, err = parseHour("PROMO_END_HOUR", k.String("PROMO_END_HOUR"), 9); err != nil {
		return nil, err
	}
	if raw := strings.TrimSpace(k.String("PROMO_HOUR_OVERRIDE")); raw != "" {
		h, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("PROMO_HOUR_OVERRIDE must be an integer: %w", err)
		}
		cfg.PromoHourOverride = &h
	}
	cfg.CartSyncEpsilon, err = decimal.NewFromString(valueOrDefault(k.String("CART_SYNC_EPSILON"), "0.001"))
	if err != nil || !cfg.CartSyncEpsilon.IsPositive() {
		return nil, errors.New("CART_SYNC_EPSILON must be a positive decimal")
	}

	if cfg.CatalogPath == "" {
		return nil, errors.New("CATALOG_PATH is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseHour(key, value string, fallback int) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback, nil
	}
	h, err := strconv.Atoi(value)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%s must be an hour between 0 and 23, got %q", key, value)
	}
	return h, nil
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
