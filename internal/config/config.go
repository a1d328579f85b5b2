package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the engine reads from the environment. Only the
// Kalshi key pair is required; everything else has a default.
type Config struct {
	KalshiAPIKeyID    string
	KalshiPrivKeyPath string
	KalshiEnv         string // "prod" or "demo"
	DryRun            bool

	DurationMinutes int

	// Output
	CheckpointPath   string
	CheckpointPeriod time.Duration
	JournalPath      string
	JournalSQLite    string
	PosteriorPath    string
	LogDir           string

	// Market classes tracked this session, by series ticker prefix.
	SeriesBTCShort string
	SeriesBTCDaily string
	SeriesETHShort string
	SeriesETHDaily string

	// Exchange weights for the price aggregator. An exchange missing
	// from this map defaults to 0.1 at lookup time.
	ExchangeWeights map[string]float64

	// Feed cadences
	SentimentPollInterval  time.Duration
	CrossVenuePollInterval time.Duration
	FallbackPollInterval   time.Duration
	OrderbookCacheFresh    time.Duration
	OrderbookRefetchGuard  time.Duration

	// Strategy overrides: "STRATEGY_SIZE_MULT=flash=1.0,steam=0.5" etc.
	StrategySizeMult   map[string]float64
	StrategyHalfSpread map[string]float64

	// Operator-facing metrics surface (not a trading UI).
	MetricsAddr string
}

func (c *Config) BaseURL() string {
	if c.KalshiEnv == "prod" {
		return "https://api.elections.kalshi.com/trade-api/v2"
	}
	return "https://demo-api.kalshi.co/trade-api/v2"
}

func (c *Config) WSBaseURL() string {
	if c.KalshiEnv == "prod" {
		return "wss://api.elections.kalshi.com/trade-api/ws/v2"
	}
	return "wss://demo-api.kalshi.co/trade-api/ws/v2"
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		KalshiAPIKeyID:    os.Getenv("KALSHI_API_KEY_ID"),
		KalshiPrivKeyPath: getEnvDefault("KALSHI_PRIV_KEY_PATH", "./kalshi_private_key.pem"),
		KalshiEnv:         getEnvDefault("KALSHI_ENV", "prod"),
		DryRun:            getEnvBool("DRY_RUN", true),
		DurationMinutes:   getEnvInt("DURATION_MINUTES", 480),

		CheckpointPath:   getEnvDefault("CHECKPOINT_PATH", "./checkpoint.json"),
		CheckpointPeriod: time.Duration(getEnvInt("CHECKPOINT_PERIOD_SEC", 180)) * time.Second,
		JournalPath:      getEnvDefault("JOURNAL_PATH", "./journal.jsonl"),
		JournalSQLite:    getEnvDefault("JOURNAL_SQLITE_PATH", "./journal.db"),
		PosteriorPath:    getEnvDefault("POSTERIOR_PATH", "./posterior.json"),
		LogDir:           getEnvDefault("LOG_DIR", "./logs"),

		SeriesBTCShort: getEnvDefault("SERIES_BTC_SHORT", "KXBTC15M"),
		SeriesBTCDaily: getEnvDefault("SERIES_BTC_DAILY", "KXBTCD"),
		SeriesETHShort: getEnvDefault("SERIES_ETH_SHORT", "KXETH15M"),
		SeriesETHDaily: getEnvDefault("SERIES_ETH_DAILY", "KXETHD"),

		ExchangeWeights: defaultExchangeWeights(),

		SentimentPollInterval:  time.Duration(getEnvInt("SENTIMENT_POLL_SEC", 60)) * time.Second,
		CrossVenuePollInterval: time.Duration(getEnvInt("CROSSVENUE_POLL_SEC", 30)) * time.Second,
		FallbackPollInterval:   time.Duration(getEnvInt("FALLBACK_POLL_SEC", 5)) * time.Second,
		OrderbookCacheFresh:    time.Duration(getEnvInt("ORDERBOOK_FRESH_SEC", 30)) * time.Second,
		OrderbookRefetchGuard:  time.Duration(getEnvInt("ORDERBOOK_GUARD_SEC", 15)) * time.Second,

		StrategySizeMult:   parseFloatMap("STRATEGY_SIZE_MULT"),
		StrategyHalfSpread: parseFloatMap("STRATEGY_HALF_SPREAD"),

		MetricsAddr: getEnvDefault("METRICS_ADDR", ":9090"),
	}

	if cfg.KalshiAPIKeyID == "" {
		return nil, fmt.Errorf("KALSHI_API_KEY_ID is required")
	}
	if cfg.KalshiEnv != "prod" && cfg.KalshiEnv != "demo" {
		return nil, fmt.Errorf("KALSHI_ENV must be 'prod' or 'demo', got %q", cfg.KalshiEnv)
	}

	return cfg, nil
}

func defaultExchangeWeights() map[string]float64 {
	return map[string]float64{
		"binance":  0.4,
		"okx":      0.3,
		"coinbase": 0.2,
		"bybit":    0.1,
	}
}

func parseFloatMap(key string) map[string]float64 {
	out := make(map[string]float64)
	v := os.Getenv(key)
	if v == "" {
		return out
	}
	for _, pair := range strings.Split(v, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(kv[1]), 64)
		if err != nil {
			continue
		}
		out[strings.TrimSpace(kv[0])] = f
	}
	return out
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
