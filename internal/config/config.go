// Package config provides typed configuration for every component of the
// liquidity mapper. Configuration loads in priority order: defaults, then a
// JSON or YAML file, then environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// Config is the complete application configuration.
type Config struct {
	AppName string `json:"app_name" yaml:"app_name"`

	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Exchanges ExchangesConfig `json:"exchanges" yaml:"exchanges"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Analysis  AnalysisConfig  `json:"analysis" yaml:"analysis"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type is "duckdb" or "memory".
	Type string `json:"type" yaml:"type"`

	// Path is the DuckDB database file; ":memory:" keeps it in RAM.
	Path string `json:"path" yaml:"path"`
}

// ExchangesConfig holds the per-provider connector settings. Zero-value
// limits fall back to each provider's defaults.
type ExchangesConfig struct {
	// Enabled restricts which connectors are built; empty enables all.
	Enabled []string `json:"enabled" yaml:"enabled"`

	Binance BinanceConfig `json:"binance" yaml:"binance"`
	Bybit   BybitConfig   `json:"bybit" yaml:"bybit"`
	Bitget  BitgetConfig  `json:"bitget" yaml:"bitget"`
}

// BinanceConfig configures the Binance connector.
type BinanceConfig struct {
	SpotBaseURL    string `json:"spot_base_url" yaml:"spot_base_url"`
	FuturesBaseURL string `json:"futures_base_url" yaml:"futures_base_url"`
	KlineLimit     int    `json:"kline_limit" yaml:"kline_limit"`
	OILimit        int    `json:"oi_limit" yaml:"oi_limit"`
	FundingLimit   int    `json:"funding_limit" yaml:"funding_limit"`
	RequestDelay   string `json:"request_delay" yaml:"request_delay"`
}

// BybitConfig configures the Bybit connector.
type BybitConfig struct {
	BaseURL      string `json:"base_url" yaml:"base_url"`
	KlineLimit   int    `json:"kline_limit" yaml:"kline_limit"`
	OILimit      int    `json:"oi_limit" yaml:"oi_limit"`
	FundingLimit int    `json:"funding_limit" yaml:"funding_limit"`
	RequestDelay string `json:"request_delay" yaml:"request_delay"`
}

// BitgetConfig configures the Bitget connector.
type BitgetConfig struct {
	BaseURL           string `json:"base_url" yaml:"base_url"`
	SpotKlineLimit    int    `json:"spot_kline_limit" yaml:"spot_kline_limit"`
	FuturesKlineLimit int    `json:"futures_kline_limit" yaml:"futures_kline_limit"`
	FundingPageSize   int    `json:"funding_page_size" yaml:"funding_page_size"`
	RequestDelay      string `json:"request_delay" yaml:"request_delay"`
}

// IngestConfig configures backfill runs.
type IngestConfig struct {
	// Interval is the candle granularity to backfill.
	Interval string `json:"interval" yaml:"interval"`

	// LookbackDays bounds the backfill window ending now.
	LookbackDays int `json:"lookback_days" yaml:"lookback_days"`

	// MarketTypes lists "spot"/"perp"; empty means both.
	MarketTypes []string `json:"market_types" yaml:"market_types"`

	// BatchSize caps records per upsert call.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// RetryBudget bounds retries of one metric fetch, e.g. "2m".
	RetryBudget string `json:"retry_budget" yaml:"retry_budget"`
}

// AnalysisConfig configures the delta calculator defaults.
type AnalysisConfig struct {
	// Timeframes are lookback labels; empty means 1h/4h/12h/24h.
	Timeframes []string `json:"timeframes" yaml:"timeframes"`

	// FundingWindowPeriods is the rolling funding window, in periods.
	FundingWindowPeriods int `json:"funding_window_periods" yaml:"funding_window_periods"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `json:"level" yaml:"level"`

	// Format is json or text.
	Format string `json:"format" yaml:"format"`

	// Output is stdout, stderr, or file.
	Output string `json:"output" yaml:"output"`

	FilePath   string `json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		AppName: "liquidity-mapper",
		Storage: StorageConfig{
			Type: "duckdb",
			Path: "liquidity.duckdb",
		},
		Ingest: IngestConfig{
			Interval:     models.DefaultInterval,
			LookbackDays: 30,
			BatchSize:    100,
			RetryBudget:  "2m",
		},
		Analysis: AnalysisConfig{
			FundingWindowPeriods: 21,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration from defaults, an optional config file
// (JSON or YAML by extension), and environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config %s: %w", path, err)
		}
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if val := os.Getenv("APP_NAME"); val != "" {
		cfg.AppName = val
	}
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		cfg.Storage.Type = val
	}
	if val := os.Getenv("STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}
	if val := os.Getenv("EXCHANGES"); val != "" {
		cfg.Exchanges.Enabled = strings.Split(val, ",")
	}
	if val := os.Getenv("INGEST_INTERVAL"); val != "" {
		cfg.Ingest.Interval = val
	}
	if val := os.Getenv("INGEST_LOOKBACK_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil {
			cfg.Ingest.LookbackDays = days
		}
	}
	if val := os.Getenv("INGEST_BATCH_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			cfg.Ingest.BatchSize = size
		}
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		cfg.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		cfg.Logging.FilePath = val
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "duckdb":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the duckdb backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage type %q", c.Storage.Type)
	}

	for _, name := range c.Exchanges.Enabled {
		switch name {
		case "binance", "bybit", "bitget":
		default:
			return fmt.Errorf("unknown exchange %q", name)
		}
	}

	for _, mt := range c.Ingest.MarketTypes {
		if !models.MarketType(mt).Valid() {
			return fmt.Errorf("unknown market type %q", mt)
		}
	}

	if c.Ingest.LookbackDays <= 0 {
		return fmt.Errorf("lookback days must be positive")
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if _, err := c.RetryBudget(); err != nil {
		return fmt.Errorf("invalid retry budget: %w", err)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr":
	case "file":
		if c.Logging.FilePath == "" {
			return fmt.Errorf("file path is required for file log output")
		}
	default:
		return fmt.Errorf("unknown log output %q", c.Logging.Output)
	}

	return nil
}

// RetryBudget parses the ingest retry budget.
func (c *Config) RetryBudget() (time.Duration, error) {
	if c.Ingest.RetryBudget == "" {
		return 0, nil
	}
	return time.ParseDuration(c.Ingest.RetryBudget)
}

// MarketTypes converts the configured market type labels.
func (c *Config) MarketTypes() []models.MarketType {
	out := make([]models.MarketType, 0, len(c.Ingest.MarketTypes))
	for _, mt := range c.Ingest.MarketTypes {
		out = append(out, models.MarketType(mt))
	}
	return out
}

// ExchangeEnabled reports whether the named connector should be built.
func (c *Config) ExchangeEnabled(name string) bool {
	if len(c.Exchanges.Enabled) == 0 {
		return true
	}
	for _, e := range c.Exchanges.Enabled {
		if e == name {
			return true
		}
	}
	return false
}

// ParseDelay converts a provider request delay string, returning zero for
// an empty value so connectors apply their own default.
func ParseDelay(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	return time.ParseDuration(value)
}
