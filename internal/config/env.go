package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parser collects parse errors instead of silently falling back.
type parser struct {
	errs *[]error
}

func (p parser) getDecimal(key, fallback string) decimal.Decimal {
	raw := getEnv(key, fallback)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: invalid decimal %q", key, raw))
		return decimal.Zero
	}
	return v
}

func (p parser) getInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		*p.errs = append(*p.errs, fmt.Errorf("%s: invalid integer %q", key, raw))
		return fallback
	}
	return v
}

// Helper to get int env with default; log sizing warns and falls back.
func getEnvAsIntLenient(key string, fallback int) int {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	val, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil || val < 0 {
		slog.Warn("invalid integer for config, using default", "key", key, "value", valueStr, "default", fallback)
		return fallback
	}
	return val
}
