package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the backend. Everything comes from
// environment variables, read once at startup.
type Config struct {
	// HTTP listener
	Host           string
	Port           int
	AllowedOrigins []string // CSV in ALLOWED_ORIGINS; empty = allow all

	// Mode
	Debug bool

	// Symbols tracked by the market-data pipeline
	Symbols []string

	// Exchange endpoints (Binance USDⓈ-M futures by default)
	FuturesRESTURL string
	FuturesWSURL   string
	TestnetRESTURL string

	// MockOi switches the open-interest monitor to the synthetic source.
	MockOi bool

	// Pipeline cadences
	PublishInterval time.Duration // metrics assembler tick
	OiPollInterval  time.Duration
	TradeWindow     time.Duration // aggregator rolling window
	SubscriberQueue int           // per-subscription send queue
	DropCloseLimit  int           // droppedCount threshold before close
	ShutdownTimeout time.Duration

	// Execution / sizing ramp
	MaxLeverage    int
	StartingMargin decimal.Decimal
	MinMargin      decimal.Decimal
	RampStepPct    decimal.Decimal
	RampDecayPct   decimal.Decimal
	RampMaxMult    decimal.Decimal

	// Async logger bounds
	LoggerQueueLimit        int
	LoggerDropHaltThreshold int

	// Persistence
	DatabaseURL  string // postgres DSN; takes precedence when set
	DatabasePath string // sqlite file fallback

	// Telegram notifier (optional)
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           getEnvInt("PORT", 8080),
		AllowedOrigins: getEnvCSV("ALLOWED_ORIGINS"),

		Debug: getEnvBool("DEBUG", false),

		Symbols: getEnvCSV("SYMBOLS"),

		FuturesRESTURL: getEnv("FUTURES_REST_URL", "https://fapi.binance.com"),
		FuturesWSURL:   getEnv("FUTURES_WS_URL", "wss://fstream.binance.com"),
		TestnetRESTURL: getEnv("TESTNET_REST_URL", "https://testnet.binancefuture.com"),

		MockOi: getEnvBool("MOCK_OI", false),

		PublishInterval: getEnvDuration("PUBLISH_INTERVAL", 250*time.Millisecond),
		OiPollInterval:  getEnvDuration("OI_POLL_INTERVAL", 10*time.Second),
		TradeWindow:     getEnvDuration("TRADE_WINDOW", 60*time.Second),
		SubscriberQueue: getEnvInt("SUBSCRIBER_QUEUE", 64),
		DropCloseLimit:  getEnvInt("DROP_CLOSE_LIMIT", 256),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 5*time.Second),

		MaxLeverage:    getEnvInt("MAX_LEVERAGE", 20),
		StartingMargin: getEnvDecimal("STARTING_MARGIN", decimal.NewFromInt(100)),
		MinMargin:      getEnvDecimal("MIN_MARGIN", decimal.NewFromInt(10)),
		RampStepPct:    getEnvDecimal("RAMP_STEP_PCT", decimal.NewFromInt(10)),
		RampDecayPct:   getEnvDecimal("RAMP_DECAY_PCT", decimal.NewFromInt(20)),
		RampMaxMult:    getEnvDecimal("RAMP_MAX_MULT", decimal.NewFromInt(3)),

		LoggerQueueLimit:        getEnvInt("LOGGER_QUEUE_LIMIT", 1024),
		LoggerDropHaltThreshold: getEnvInt("LOGGER_DROP_HALT_THRESHOLD", 5000),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DatabasePath: getEnv("DATABASE_PATH", "data/flowdesk.db"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}

	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT"}
	}
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	// Validate
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d", cfg.Port)
	}
	if cfg.MaxLeverage < 1 {
		return nil, fmt.Errorf("MAX_LEVERAGE must be >= 1, got %d", cfg.MaxLeverage)
	}
	if cfg.PublishInterval < 50*time.Millisecond {
		return nil, fmt.Errorf("PUBLISH_INTERVAL too small: %s", cfg.PublishInterval)
	}
	if cfg.LoggerQueueLimit < 1 {
		return nil, fmt.Errorf("LOGGER_QUEUE_LIMIT must be >= 1, got %d", cfg.LoggerQueueLimit)
	}

	return cfg, nil
}

// Addr returns the host:port the HTTP server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OriginAllowed reports whether a browser Origin header is acceptable for
// the /ws endpoint. An empty allow-list accepts everything (dev mode).
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvCSV(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
