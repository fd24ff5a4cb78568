package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	// Risk parameters (percent values)
	TargetProfitRate float64 // take-profit threshold, e.g. 5 = +5%
	MaxLossRate      float64 // stop-loss threshold, negative, e.g. -3 = -3%
	PositionRatioCap float64 // share of available capital committed per entry
	TrailingStopRate float64 // drawdown from peak that closes a position
	SplitCount       int
	MaxHoldingCount  int
	MaxRejections    int // consecutive rejected orders before an instrument is banned

	// Indicators
	MinHistory int

	// Gateway
	Gateway            string // "sim" or "bridge"
	BridgeURL          string
	AccountPassword    string // plain text or ENC[v1]:...
	SecretKey          string // base64 AES-256 key for ENC[v1] values
	RequestTimeout     time.Duration
	LoginTimeout       time.Duration
	RequestsPerSecond  float64
	SubscribeBatchSize int
	RealtimeFields     string

	// Session
	InstrumentsFile        string
	MarketOpen             string // HH:MM local time
	MarketClose            string
	MarketCheckInterval    time.Duration
	BalanceRefreshInterval time.Duration
	RestartAfterClose      bool

	// Simulated gateway
	SimInitialCash   int64
	SimTickInterval  time.Duration
	SimHistoryLength int
	SimRejectCodes   []string // instruments whose orders are rejected

	// Storage and output
	DBPath   string
	LogDir   string
	LogLevel string
	LogDev   bool
	Language string // en or ko, for CLI messages

	// Status API
	APIAddr        string
	APITokenSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		TargetProfitRate: getEnvFloat("TARGET_PROFIT_RATE", 5),
		MaxLossRate:      getEnvFloat("MAX_LOSS_RATE", -3),
		PositionRatioCap: getEnvFloat("POSITION_RATIO_CAP", 20),
		TrailingStopRate: getEnvFloat("TRAILING_STOP_RATE", 3),
		SplitCount:       getEnvInt("SPLIT_COUNT", 3),
		MaxHoldingCount:  getEnvInt("MAX_HOLDING_COUNT", 5),
		MaxRejections:    getEnvInt("MAX_REJECTIONS", 3),

		MinHistory: getEnvInt("MIN_HISTORY", 50),

		Gateway:            strings.ToLower(getEnv("GATEWAY", "sim")),
		BridgeURL:          getEnv("BRIDGE_URL", "ws://127.0.0.1:8765/gateway"),
		AccountPassword:    os.Getenv("ACCOUNT_PASSWORD"),
		SecretKey:          os.Getenv("SECRET_KEY"),
		RequestTimeout:     getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		LoginTimeout:       getEnvDuration("LOGIN_TIMEOUT", 60*time.Second),
		RequestsPerSecond:  getEnvFloat("REQUESTS_PER_SECOND", 4),
		SubscribeBatchSize: getEnvInt("SUBSCRIBE_BATCH_SIZE", 10),
		RealtimeFields:     getEnv("REALTIME_FIELDS", "10"),

		InstrumentsFile:        getEnv("INSTRUMENTS_FILE", "./instruments.yaml"),
		MarketOpen:             getEnv("MARKET_OPEN", "08:00"),
		MarketClose:            getEnv("MARKET_CLOSE", "18:00"),
		MarketCheckInterval:    getEnvDuration("MARKET_CHECK_INTERVAL", 5*time.Second),
		BalanceRefreshInterval: getEnvDuration("BALANCE_REFRESH_INTERVAL", time.Hour),
		RestartAfterClose:      getEnv("RESTART_AFTER_CLOSE", "false") == "true",

		SimInitialCash:   int64(getEnvInt("SIM_INITIAL_CASH", 10_000_000)),
		SimTickInterval:  getEnvDuration("SIM_TICK_INTERVAL", time.Second),
		SimHistoryLength: getEnvInt("SIM_HISTORY_LENGTH", 120),
		SimRejectCodes:   splitAndTrim(getEnv("SIM_REJECT_CODES", "")),

		DBPath:   getEnv("DB_PATH", "./data/autotrade.db"),
		LogDir:   getEnv("LOG_DIR", "./logs"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogDev:   getEnv("LOG_DEV", "false") == "true",
		Language: strings.ToLower(getEnv("LANGUAGE", "en")),

		APIAddr:        getEnv("API_ADDR", ":8080"),
		APITokenSecret: os.Getenv("API_TOKEN_SECRET"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the risk manager and session cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.SplitCount < 1 {
		errs = append(errs, fmt.Errorf("SPLIT_COUNT must be >= 1, got %d", c.SplitCount))
	}
	if c.PositionRatioCap <= 0 || c.PositionRatioCap > 100 {
		errs = append(errs, fmt.Errorf("POSITION_RATIO_CAP must be in (0,100], got %v", c.PositionRatioCap))
	}
	if c.TargetProfitRate <= 0 {
		errs = append(errs, fmt.Errorf("TARGET_PROFIT_RATE must be positive, got %v", c.TargetProfitRate))
	}
	if c.MaxLossRate >= 0 {
		errs = append(errs, fmt.Errorf("MAX_LOSS_RATE must be negative, got %v", c.MaxLossRate))
	}
	if c.TrailingStopRate <= 0 || c.TrailingStopRate >= 100 {
		errs = append(errs, fmt.Errorf("TRAILING_STOP_RATE must be in (0,100), got %v", c.TrailingStopRate))
	}
	if c.MaxHoldingCount < 1 {
		errs = append(errs, fmt.Errorf("MAX_HOLDING_COUNT must be >= 1, got %d", c.MaxHoldingCount))
	}
	if c.MinHistory < 2 {
		errs = append(errs, fmt.Errorf("MIN_HISTORY must be >= 2, got %d", c.MinHistory))
	}
	if c.RequestTimeout <= 0 || c.LoginTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT and LOGIN_TIMEOUT must be positive"))
	}
	if c.SubscribeBatchSize < 1 || c.SubscribeBatchSize > 10 {
		errs = append(errs, fmt.Errorf("SUBSCRIBE_BATCH_SIZE must be in [1,10], got %d", c.SubscribeBatchSize))
	}
	if c.Gateway != "sim" && c.Gateway != "bridge" {
		errs = append(errs, fmt.Errorf("GATEWAY must be sim or bridge, got %q", c.Gateway))
	}
	open, errOpen := ParseClock(c.MarketOpen)
	closeAt, errClose := ParseClock(c.MarketClose)
	switch {
	case errOpen != nil:
		errs = append(errs, errOpen)
	case errClose != nil:
		errs = append(errs, errClose)
	case closeAt <= open:
		errs = append(errs, fmt.Errorf("MARKET_CLOSE %s must be after MARKET_OPEN %s", c.MarketClose, c.MarketOpen))
	}
	return errors.Join(errs...)
}

// ParseClock converts "HH:MM" into an offset from midnight.
func ParseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", v, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
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

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
