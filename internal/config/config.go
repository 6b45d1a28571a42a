package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"bracket_trader/internal/models"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the validated runtime configuration.
type Config struct {
	Ticker          string
	TakeProfitPct   decimal.Decimal
	LossPct         decimal.Decimal
	StopLimitOffset decimal.Decimal

	ExchangeTZ   *time.Location
	MarketOpen   string
	MarketClose  string
	SessionGrace time.Duration

	FillWaitAttempts int
	FillWaitInterval time.Duration

	LedgerDB     string
	JournalFile  string
	KafkaBrokers string
	LedgerTopic  string

	TelegramBotToken string
	TelegramChatID   string

	LogLevel      string
	LogFile       string
	MaxLogSizeMB  int64
	MaxLogBackups int
}

// secretVars are masked when the .env file is dumped.
var secretVars = map[string]bool{
	"APCA_API_KEY_ID":      true,
	"APCA_API_SECRET_KEY":  true,
	"APCA_API_OAUTH_TOKEN": true,
	"TELEGRAM_BOT_TOKEN":   true,
	"TELEGRAM_CHAT_ID":     true,
}

// Load reads .env into the process environment (if present) and validates the
// settings the trading procedures need.
func Load() (*Config, error) {
	loadDotEnv()
	return FromEnv()
}

// LoadReporting is Load for the read-only commands; TICKER may be unset.
func LoadReporting() (*Config, error) {
	loadDotEnv()
	return fromEnv(false)
}

func loadDotEnv() {
	// A missing .env is normal in production; the process environment is used.
	_ = godotenv.Load()
}

// FromEnv builds a Config from the current environment. All problems are reported
// together.
func FromEnv() (*Config, error) {
	return fromEnv(true)
}

func fromEnv(trading bool) (*Config, error) {
	var errs []error
	p := parser{errs: &errs}

	cfg := &Config{
		Ticker:          strings.ToUpper(strings.TrimSpace(os.Getenv("TICKER"))),
		TakeProfitPct:   p.getDecimal("TAKE_PROFIT_PCT", "2.5"),
		LossPct:         p.getDecimal("LOSS_PCT", "1.0"),
		StopLimitOffset: p.getDecimal("STOP_LIMIT_OFFSET", "0.01"),

		MarketOpen:   getEnv("MARKET_OPEN", "09:30"),
		MarketClose:  getEnv("MARKET_CLOSE", "16:00"),
		SessionGrace: time.Duration(p.getInt("SESSION_GRACE_MIN", 1)) * time.Minute,

		FillWaitAttempts: p.getInt("FILL_WAIT_ATTEMPTS", 5),
		FillWaitInterval: time.Duration(p.getInt("FILL_WAIT_INTERVAL_MS", 1000)) * time.Millisecond,

		LedgerDB:     getEnv("LEDGER_DB", "data/trading_data.sqlite"),
		JournalFile:  getEnv("JOURNAL_FILE", "session_state.json"),
		KafkaBrokers: strings.TrimSpace(os.Getenv("KAFKA_BROKER_ADDR")),
		LedgerTopic:  getEnv("LEDGER_TOPIC", "settled-transactions"),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),

		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFile:       getEnv("LOG_FILE", "trader.log"),
		MaxLogSizeMB:  int64(getEnvAsIntLenient("MAX_LOG_SIZE_MB", 10)),
		MaxLogBackups: getEnvAsIntLenient("MAX_LOG_BACKUPS", 5),
	}

	if trading && cfg.Ticker == "" {
		errs = append(errs, errors.New("TICKER is required"))
	}
	if !cfg.TakeProfitPct.IsPositive() {
		errs = append(errs, fmt.Errorf("TAKE_PROFIT_PCT must be > 0, got %s", cfg.TakeProfitPct))
	}
	if !cfg.LossPct.IsPositive() || cfg.LossPct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		errs = append(errs, fmt.Errorf("LOSS_PCT must be between 0 and 100, got %s", cfg.LossPct))
	}
	if !cfg.StopLimitOffset.IsPositive() {
		errs = append(errs, fmt.Errorf("STOP_LIMIT_OFFSET must be > 0, got %s", cfg.StopLimitOffset))
	}

	loc, err := time.LoadLocation(getEnv("EXCHANGE_TZ", "America/New_York"))
	if err != nil {
		errs = append(errs, fmt.Errorf("EXCHANGE_TZ: %w", err))
	}
	cfg.ExchangeTZ = loc

	if err := validateSessionClock(cfg.MarketOpen, cfg.MarketClose); err != nil {
		errs = append(errs, err)
	}
	if cfg.SessionGrace < 0 {
		errs = append(errs, errors.New("SESSION_GRACE_MIN must be >= 0"))
	}
	if cfg.FillWaitAttempts < 0 {
		errs = append(errs, errors.New("FILL_WAIT_ATTEMPTS must be >= 0"))
	}
	if cfg.FillWaitInterval < 0 {
		errs = append(errs, errors.New("FILL_WAIT_INTERVAL_MS must be >= 0"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validateSessionClock(open, closeAt string) error {
	oh, om, err := models.ParseClock(open)
	if err != nil {
		return fmt.Errorf("MARKET_OPEN: %w", err)
	}
	ch, cm, err := models.ParseClock(closeAt)
	if err != nil {
		return fmt.Errorf("MARKET_CLOSE: %w", err)
	}
	if oh*60+om >= ch*60+cm {
		return fmt.Errorf("MARKET_OPEN %s must be before MARKET_CLOSE %s", open, closeAt)
	}
	return nil
}

// DumpDotEnv logs the variables defined in .env at DEBUG, masking secrets.
func DumpDotEnv(log *slog.Logger) {
	envMap, err := godotenv.Read()
	if err != nil {
		return
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		log.Debug(".env", "key", key, "value", Mask(key, envMap[key]))
	}
}

// Mask hides all but the last 4 characters of secret values.
func Mask(key, val string) string {
	if !secretVars[key] {
		return val
	}
	if len(val) > 4 {
		return "***" + val[len(val)-4:]
	}
	return "***"
}
