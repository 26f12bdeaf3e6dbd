package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lexconsult/consult-control-plane/internal/billing"
	"github.com/lexconsult/consult-control-plane/internal/model"
)

const (
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"

	WidgetFake  = "fake"
	WidgetDaily = "daily"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string
	JWTSecret   string
	LogLevel    string
	// AllowedOrigins gates websocket upgrades; empty or "*" allows any.
	AllowedOrigins []string

	StateBackend string
	RedisAddr    string
	RedisDB      int
	SQLitePath   string

	WidgetProvider string
	DailyAPIKey    string
	DailyBaseURL   string

	BackendURL string
	CSRFToken  string

	PricingMode      model.PricingMode
	FixedFee         float64
	Currency         string
	PaymentTimeout   time.Duration
	PresenceInterval time.Duration
	RecordTTL        time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		ListenAddr:       envOrDefault("CONSULT_LISTEN_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("CONSULT_DATABASE_URL"),
		JWTSecret:        os.Getenv("CONSULT_JWT_SECRET"),
		LogLevel:         envOrDefault("CONSULT_LOG_LEVEL", "info"),
		AllowedOrigins:   splitCSV(os.Getenv("CONSULT_ALLOWED_ORIGINS")),
		StateBackend:     strings.ToLower(envOrDefault("CONSULT_STATE_BACKEND", BackendRedis)),
		RedisAddr:        envOrDefault("CONSULT_REDIS_ADDR", "localhost:6379"),
		RedisDB:          ParseNonNegativeIntEnv("CONSULT_REDIS_DB", 0),
		SQLitePath:       envOrDefault("CONSULT_SQLITE_PATH", "consult.db"),
		WidgetProvider:   strings.ToLower(envOrDefault("CONSULT_WIDGET_PROVIDER", WidgetFake)),
		DailyAPIKey:      os.Getenv("CONSULT_DAILY_API_KEY"),
		DailyBaseURL:     os.Getenv("CONSULT_DAILY_BASE_URL"),
		BackendURL:       os.Getenv("CONSULT_BACKEND_URL"),
		CSRFToken:        os.Getenv("CONSULT_CSRF_TOKEN"),
		Currency:         envOrDefault("CONSULT_CURRENCY", billing.DefaultCurrency),
		PaymentTimeout:   time.Duration(ParsePositiveIntEnv("CONSULT_PAYMENT_TIMEOUT_SECONDS", 10)) * time.Second,
		PresenceInterval: time.Duration(ParsePositiveIntEnv("CONSULT_PRESENCE_INTERVAL_SECONDS", 5)) * time.Second,
		RecordTTL:        time.Duration(ParsePositiveIntEnv("CONSULT_RECORD_TTL_HOURS", 24)) * time.Hour,
	}

	mode, err := billing.ParseMode(envOrDefault("CONSULT_PRICING_MODE", string(model.PricingFlat)))
	if err != nil {
		return Config{}, fmt.Errorf("CONSULT_PRICING_MODE: %w", err)
	}
	cfg.PricingMode = mode

	fee, err := parseAmountEnv("CONSULT_FIXED_FEE", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.FixedFee = fee

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("CONSULT_DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("CONSULT_JWT_SECRET is required")
	}
	switch cfg.StateBackend {
	case BackendRedis, BackendSQLite, BackendPostgres:
	default:
		return Config{}, fmt.Errorf("CONSULT_STATE_BACKEND must be one of redis|sqlite|postgres")
	}
	if cfg.WidgetProvider != WidgetFake && cfg.WidgetProvider != WidgetDaily {
		return Config{}, fmt.Errorf("CONSULT_WIDGET_PROVIDER must be one of fake|daily")
	}
	if cfg.WidgetProvider == WidgetDaily && cfg.DailyAPIKey == "" {
		return Config{}, fmt.Errorf("CONSULT_DAILY_API_KEY is required for daily widget provider")
	}
	if cfg.PricingMode == model.PricingFixedFee && cfg.FixedFee <= 0 {
		return Config{}, fmt.Errorf("CONSULT_FIXED_FEE must be positive in fixed_fee pricing mode")
	}
	return cfg, nil
}

func envOrDefault(k, v string) string {
	if raw := os.Getenv(k); raw != "" {
		return raw
	}
	return v
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func ParsePositiveIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return d
	}
	return n
}

func ParseNonNegativeIntEnv(k string, d int) int {
	raw := os.Getenv(k)
	if raw == "" {
		return d
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return d
	}
	return n
}

func parseAmountEnv(k string, d float64) (float64, error) {
	raw := strings.TrimSpace(os.Getenv(k))
	if raw == "" {
		return d, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number", k)
	}
	return v, nil
}
