package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	BinanceAPIKey    string
	BinanceSecretKey string
	IsTestnet        bool

	// KuCoin API (secondary venue; engine runs without it when unset)
	KuCoinAPIKey     string
	KuCoinSecretKey  string
	KuCoinPassphrase string

	// Trading Parameters
	TradeAmount    float64 // quote units per trade
	MinTradeAmount float64
	MaxTradeAmount float64
	Leverage       int

	// Price-proximity gate
	PriceThreshold         float64 // fraction, e.g. 0.02 for 2%
	MemecoinPriceThreshold float64 // wider override for memecoin symbols
	MemecoinSymbols        []string

	// Cooldowns
	TradeCooldown     time.Duration // per-symbol cooldown between attempts
	PositionCooldown  time.Duration // extended cooldown when a position exists
	MaxPositionTrades int           // merge tie-break bound

	// Fee mode
	UseFixedFeeCalculator bool
	FixedFeeRate          float64 // 0.0002 or 0.0005
	UseBNBDiscount        bool

	// User-data stream
	PingInterval         time.Duration
	PongTimeout          time.Duration
	MaxReconnectAttempts int
	ListenKeyRefresh     time.Duration
	ConnectionMaxAge     time.Duration

	// Venue call budget
	RequestTimeout time.Duration
	RetryAttempts  int

	// Symbol filter cache
	FilterCacheTTL time.Duration

	// Scheduler intervals
	StatusSyncInterval    time.Duration
	PnlBackfillInterval   time.Duration
	OrphanCleanupInterval time.Duration
	BalanceSyncInterval   time.Duration
	PositionAuditInterval time.Duration

	// HTTP ingress
	ListenAddr string

	// Database
	DBPath string

	// Logging
	LogLevel string
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.BinanceAPIKey = getEnv("BINANCE_API_KEY", "")
	cfg.BinanceSecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.BinanceAPIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.BinanceSecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// KuCoin API (optional)
	cfg.KuCoinAPIKey = getEnv("KUCOIN_API_KEY", "")
	cfg.KuCoinSecretKey = getEnv("KUCOIN_API_SECRET", "")
	cfg.KuCoinPassphrase = getEnv("KUCOIN_API_PASSPHRASE", "")
	if cfg.KuCoinAPIKey != "" && (cfg.KuCoinSecretKey == "" || cfg.KuCoinPassphrase == "") {
		errs = append(errs, "KUCOIN_API_SECRET and KUCOIN_API_PASSPHRASE must be set when KUCOIN_API_KEY is set")
	}

	// Trading parameters
	cfg.TradeAmount, err = getEnvAsFloatRequired("TRADE_AMOUNT", 101.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_AMOUNT: %v", err))
	} else if cfg.TradeAmount <= 0 {
		errs = append(errs, "TRADE_AMOUNT must be positive")
	}

	cfg.MinTradeAmount = getEnvAsFloat("MIN_TRADE_AMOUNT", 10.0)
	cfg.MaxTradeAmount = getEnvAsFloat("MAX_TRADE_AMOUNT", 1000.0)
	if cfg.MinTradeAmount > cfg.MaxTradeAmount {
		errs = append(errs, "MIN_TRADE_AMOUNT must not exceed MAX_TRADE_AMOUNT")
	} else if cfg.TradeAmount < cfg.MinTradeAmount || cfg.TradeAmount > cfg.MaxTradeAmount {
		errs = append(errs, "TRADE_AMOUNT must fall within [MIN_TRADE_AMOUNT, MAX_TRADE_AMOUNT]")
	}

	cfg.Leverage, err = getEnvAsIntRequired("LEVERAGE", 1)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LEVERAGE: %v", err))
	} else if cfg.Leverage <= 0 {
		errs = append(errs, "LEVERAGE must be positive")
	}

	// Price-proximity gate
	cfg.PriceThreshold, err = getEnvAsFloatRequired("PRICE_THRESHOLD", 0.02)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid PRICE_THRESHOLD: %v", err))
	} else if cfg.PriceThreshold <= 0 || cfg.PriceThreshold >= 1 {
		errs = append(errs, "PRICE_THRESHOLD must be between 0 and 1 (exclusive)")
	}
	cfg.MemecoinPriceThreshold = getEnvAsFloat("MEMECOIN_PRICE_THRESHOLD", 0.05)
	cfg.MemecoinSymbols = getEnvAsList("MEMECOIN_SYMBOLS", []string{"PEPE", "SHIB", "DOGE", "BONK", "WIF", "FLOKI"})

	// Cooldowns
	cfg.TradeCooldown = getEnvAsDuration("TRADE_COOLDOWN", 300*time.Second)
	cfg.PositionCooldown = getEnvAsDuration("POSITION_COOLDOWN", 600*time.Second)
	cfg.MaxPositionTrades = getEnvAsInt("MAX_POSITION_TRADES", 2)

	// Fee mode
	cfg.UseFixedFeeCalculator = getEnvAsBool("USE_FIXED_FEE_CALCULATOR", true)
	cfg.FixedFeeRate, err = getEnvAsFloatRequired("FIXED_FEE_RATE", 0.0002)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FIXED_FEE_RATE: %v", err))
	} else if cfg.FixedFeeRate != 0.0002 && cfg.FixedFeeRate != 0.0005 {
		errs = append(errs, "FIXED_FEE_RATE must be 0.0002 or 0.0005")
	}
	cfg.UseBNBDiscount = getEnvAsBool("USE_BNB_DISCOUNT", false)

	// User-data stream
	cfg.PingInterval = getEnvAsDuration("PING_INTERVAL", 180*time.Second)
	cfg.PongTimeout = getEnvAsDuration("PONG_TIMEOUT", 600*time.Second)
	cfg.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 10)
	if cfg.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}
	cfg.ListenKeyRefresh = getEnvAsDuration("LISTEN_KEY_REFRESH", 30*time.Minute)
	cfg.ConnectionMaxAge = getEnvAsDuration("CONNECTION_MAX_AGE", 24*time.Hour)

	// Venue call budget
	cfg.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second)
	cfg.RetryAttempts = getEnvAsInt("RETRY_ATTEMPTS", 3)

	// Symbol filter cache
	cfg.FilterCacheTTL = getEnvAsDuration("FILTER_CACHE_TTL", time.Hour)

	// Scheduler intervals
	cfg.StatusSyncInterval = getEnvAsDuration("STATUS_SYNC_INTERVAL", 24*time.Minute)
	cfg.PnlBackfillInterval = getEnvAsDuration("PNL_BACKFILL_INTERVAL", time.Hour)
	cfg.OrphanCleanupInterval = getEnvAsDuration("ORPHAN_CLEANUP_INTERVAL", 2*time.Hour)
	cfg.BalanceSyncInterval = getEnvAsDuration("BALANCE_SYNC_INTERVAL", 5*time.Minute)
	cfg.PositionAuditInterval = getEnvAsDuration("POSITION_AUDIT_INTERVAL", 5*time.Minute)

	// HTTP ingress
	cfg.ListenAddr = getEnv("LISTEN_ADDR", ":8080")

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/buybot.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "INFO")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// IsMemecoin reports whether the coin symbol gets the wider price threshold.
func (c *Config) IsMemecoin(coinSymbol string) bool {
	for _, s := range c.MemecoinSymbols {
		if strings.EqualFold(s, coinSymbol) {
			return true
		}
	}
	return false
}

// ThresholdFor returns the proximity threshold for a coin symbol.
func (c *Config) ThresholdFor(coinSymbol string) float64 {
	if c.IsMemecoin(coinSymbol) {
		return c.MemecoinPriceThreshold
	}
	return c.PriceThreshold
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration reads a duration given in seconds (plain integer) or in
// Go duration syntax ("24m", "2h").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	if dur, err := time.ParseDuration(valueStr); err == nil {
		return dur
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
