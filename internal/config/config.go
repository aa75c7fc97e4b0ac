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

	"github.com/kasira-dev/fees-engine/internal/money"
)

// Discount strategy selectors. Exactly one strategy is active per deployment.
const (
	StrategyTiered  = "tiered"
	StrategyPerItem = "per_item"
)

const defaultTiers = "loyalty_bronze:500.00:0.01,loyalty_silver:2000.00:0.03,loyalty_gold:5000.00:0.05"

// FeeTier is one parsed discount tier.
type FeeTier struct {
	Name     string
	MinSpend money.Money
	RateBps  int64
}

// FeeConfig holds the parsed fee rule knobs.
type FeeConfig struct {
	DiscountStrategy string
	Tiers            []FeeTier
	PerItemAmount    money.Money
	PerItemMinQty    int
	SurchargeName    string
	SurchargeMethod  string
	SurchargeRateBps int64
	SurchargeTaxable bool
}

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	AdminAPIKeyHash    string
	CORSAllowedOrigins []string
	Fees               FeeConfig
	RecalcLockTTL      time.Duration
	LedgerCacheTTL     time.Duration
	IdempotencyTTL     time.Duration
	SessionTTL         time.Duration
	RefreshWebhookURL  string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	feeCfg, err := loadFees(k)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		AdminAPIKeyHash:    strings.TrimSpace(k.String("ADMIN_API_KEY_HASH")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		Fees:               feeCfg,
		RecalcLockTTL:      parseDuration(k.String("RECALC_LOCK_TTL"), "5s"),
		LedgerCacheTTL:     parseDuration(k.String("LEDGER_CACHE_TTL"), "5m"),
		IdempotencyTTL:     parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		SessionTTL:         parseDuration(k.String("SESSION_TTL"), "72h"),
		RefreshWebhookURL:  strings.TrimSpace(k.String("REFRESH_WEBHOOK_URL")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}

func loadFees(k *koanf.Koanf) (FeeConfig, error) {
	strategy := strings.ToLower(valueOrDefault(k.String("FEE_DISCOUNT_STRATEGY"), StrategyTiered))
	if strategy != StrategyTiered && strategy != StrategyPerItem {
		return FeeConfig{}, fmt.Errorf("FEE_DISCOUNT_STRATEGY %q: want %s or %s", strategy, StrategyTiered, StrategyPerItem)
	}

	tiers, err := parseTiers(valueOrDefault(k.String("FEE_DISCOUNT_TIERS"), defaultTiers))
	if err != nil {
		return FeeConfig{}, fmt.Errorf("FEE_DISCOUNT_TIERS: %w", err)
	}

	perItem, err := money.ParseAmount(valueOrDefault(k.String("FEE_PER_ITEM_AMOUNT"), "10.00"))
	if err != nil {
		return FeeConfig{}, fmt.Errorf("FEE_PER_ITEM_AMOUNT: %w", err)
	}

	rate, err := money.ParseRate(valueOrDefault(k.String("FEE_SURCHARGE_RATE"), "0.03"))
	if err != nil {
		return FeeConfig{}, fmt.Errorf("FEE_SURCHARGE_RATE: %w", err)
	}

	return FeeConfig{
		DiscountStrategy: strategy,
		Tiers:            tiers,
		PerItemAmount:    perItem,
		PerItemMinQty:    parseInt(k.String("FEE_PER_ITEM_MIN_QTY"), 0),
		SurchargeName:    valueOrDefault(k.String("FEE_SURCHARGE_NAME"), "cod_fee"),
		SurchargeMethod:  valueOrDefault(k.String("FEE_SURCHARGE_METHOD"), "cod"),
		SurchargeRateBps: rate,
		SurchargeTaxable: parseBool(valueOrDefault(k.String("FEE_SURCHARGE_TAXABLE"), "true")),
	}, nil
}

// parseTiers parses "name:min_spend:rate" triples separated by commas, for
// example "loyalty_bronze:500.00:0.01,loyalty_gold:5000.00:0.05".
func parseTiers(raw string) ([]FeeTier, error) {
	var tiers []FeeTier
	for _, part := range splitAndTrim(raw) {
		fields := strings.Split(part, ":")
		if len(fields) != 3 {
			return nil, fmt.Errorf("tier %q: want name:min_spend:rate", part)
		}
		name := strings.TrimSpace(fields[0])
		if name == "" {
			return nil, fmt.Errorf("tier %q: name required", part)
		}
		minSpend, err := money.ParseAmount(strings.TrimSpace(fields[1]))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		rate, err := money.ParseRate(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("tier %q: %w", part, err)
		}
		tiers = append(tiers, FeeTier{Name: name, MinSpend: minSpend, RateBps: rate})
	}
	if len(tiers) == 0 {
		return nil, errors.New("at least one tier required")
	}
	return tiers, nil
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
		return value
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	v, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return v
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
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
