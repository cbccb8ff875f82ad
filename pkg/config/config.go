package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"pairs-trading-core/pkg/crypto"
)

// Config holds environment-driven settings for the pairs-trading core.
type Config struct {
	// Market data stream
	MarketHost    string
	MarketPort    string
	MarketSymbols []string
	UseMockFeed   bool

	// Order entry
	OrderHost        string
	OrderPort        string
	OrderPath        string
	OrderRateLimit   float64 // requests per second, 0 = unlimited
	OrderAPIKey      string
	OrderAPISecret   string
	ExecutionEnabled bool
	JournalPath      string // SQLite order journal; empty disables it

	// Pair strategy
	PairSymbolA string
	PairSymbolB string
	PairBeta    float64
	PairWindow  int
	PairEntryZ  float64
	PairExitZ   float64
	PairConfig  string // optional YAML file overriding the pair settings

	// Risk limits
	RiskMaxPosition float64
	RiskMaxNotional float64

	// Operator API
	APIPort   string // empty disables the API
	JWTSecret string

	// Logging
	LogLevel      string
	LogFile       string
	ConsoleOrders bool // print order updates to stdout

	// Version is reported on /api/status and in the User-Agent.
	Version string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current environment without reading .env.
func FromEnv() (*Config, error) {
	cfg := &Config{
		MarketHost:       getEnv("MARKET_HOST", "fstream.binance.com"),
		MarketPort:       getEnv("MARKET_PORT", "443"),
		MarketSymbols:    splitAndTrim(getEnv("MARKET_SYMBOLS", "btcusdt,ethusdt")),
		UseMockFeed:      getEnv("USE_MOCK_FEED", "false") == "true",
		OrderHost:        getEnv("ORDER_HOST", "testnet.binance.vision"),
		OrderPort:        getEnv("ORDER_PORT", "443"),
		OrderPath:        getEnv("ORDER_PATH", "/ws-api/v3"),
		OrderRateLimit:   getEnvFloat("ORDER_RATE_LIMIT", 0),
		OrderAPIKey:      os.Getenv("ORDER_API_KEY"),
		OrderAPISecret:   os.Getenv("ORDER_API_SECRET"),
		ExecutionEnabled: getEnv("EXECUTION_ENABLED", "true") == "true",
		JournalPath:      os.Getenv("ORDER_JOURNAL_PATH"),
		PairSymbolA:      strings.ToUpper(getEnv("PAIR_SYMBOL_A", "BTCUSDT")),
		PairSymbolB:      strings.ToUpper(getEnv("PAIR_SYMBOL_B", "ETHUSDT")),
		PairBeta:         getEnvFloat("PAIR_BETA", 0.065),
		PairWindow:       getEnvInt("PAIR_WINDOW", 20),
		PairEntryZ:       getEnvFloat("PAIR_ENTRY_Z", 2.0),
		PairExitZ:        getEnvFloat("PAIR_EXIT_Z", 0.5),
		PairConfig:       os.Getenv("PAIR_CONFIG"),
		RiskMaxPosition:  getEnvFloat("RISK_MAX_POSITION", 5),
		RiskMaxNotional:  getEnvFloat("RISK_MAX_NOTIONAL", 500000),
		APIPort:          os.Getenv("API_PORT"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		LogLevel:         strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:          os.Getenv("LOG_FILE"),
		ConsoleOrders:    getEnv("CONSOLE_ORDERS", "true") == "true",
		Version:          getEnv("APP_VERSION", "v0.1-dev"),
	}
	if _, set := os.LookupEnv("API_PORT"); !set {
		cfg.APIPort = "8080"
	}
	if err := cfg.openCredentials(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at connect time.
func (c *Config) Validate() error {
	var errs []error
	if c.MarketHost == "" || c.MarketPort == "" {
		errs = append(errs, errors.New("MARKET_HOST and MARKET_PORT are required"))
	}
	if c.OrderHost == "" || c.OrderPort == "" {
		errs = append(errs, errors.New("ORDER_HOST and ORDER_PORT are required"))
	}
	if c.OrderRateLimit < 0 {
		errs = append(errs, fmt.Errorf("ORDER_RATE_LIMIT must be >= 0, got %v", c.OrderRateLimit))
	}
	if c.PairWindow <= 0 {
		errs = append(errs, fmt.Errorf("PAIR_WINDOW must be > 0, got %d", c.PairWindow))
	}
	if c.RiskMaxPosition < 0 || c.RiskMaxNotional < 0 {
		errs = append(errs, errors.New("risk limits must be non-negative"))
	}
	if (c.OrderAPIKey == "") != (c.OrderAPISecret == "") {
		errs = append(errs, errors.New("ORDER_API_KEY and ORDER_API_SECRET must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// openCredentials decrypts ENC[vN]: order credentials with the keys in
// MASTER_ENCRYPTION_KEY (and _V2.. for rotation).
func (c *Config) openCredentials() error {
	if !crypto.Sealed(c.OrderAPIKey) && !crypto.Sealed(c.OrderAPISecret) {
		return nil
	}
	box, err := crypto.BoxFromEnv("MASTER_ENCRYPTION_KEY")
	if err != nil {
		return fmt.Errorf("config: sealed order credentials: %w", err)
	}
	if c.OrderAPIKey, err = box.Open(c.OrderAPIKey); err != nil {
		return fmt.Errorf("config: ORDER_API_KEY: %w", err)
	}
	if c.OrderAPISecret, err = box.Open(c.OrderAPISecret); err != nil {
		return fmt.Errorf("config: ORDER_API_SECRET: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
