package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "liquidity-mapper", cfg.AppName)
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.Equal(t, "liquidity.duckdb", cfg.Storage.Path)
	assert.Equal(t, models.DefaultInterval, cfg.Ingest.Interval)
	assert.Equal(t, 30, cfg.Ingest.LookbackDays)
	assert.Equal(t, 100, cfg.Ingest.BatchSize)
	assert.Equal(t, 21, cfg.Analysis.FundingWindowPeriods)
	assert.Equal(t, "info", cfg.Logging.Level)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	content := `{
		"app_name": "test-mapper",
		"storage": {"type": "memory"},
		"ingest": {"interval": "4h", "lookback_days": 7, "batch_size": 50, "retry_budget": "30s"},
		"analysis": {"timeframes": ["1h", "24h"]}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-mapper", cfg.AppName)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "4h", cfg.Ingest.Interval)
	assert.Equal(t, 7, cfg.Ingest.LookbackDays)
	assert.Equal(t, 50, cfg.Ingest.BatchSize)
	assert.Equal(t, []string{"1h", "24h"}, cfg.Analysis.Timeframes)

	budget, err := cfg.RetryBudget()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, budget)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
app_name: yaml-mapper
storage:
  type: duckdb
  path: /tmp/test.duckdb
exchanges:
  enabled:
    - binance
    - bybit
  binance:
    kline_limit: 500
    request_delay: 250ms
ingest:
  market_types:
    - perp
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "yaml-mapper", cfg.AppName)
	assert.Equal(t, "/tmp/test.duckdb", cfg.Storage.Path)
	assert.Equal(t, []string{"binance", "bybit"}, cfg.Exchanges.Enabled)
	assert.Equal(t, 500, cfg.Exchanges.Binance.KlineLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, []models.MarketType{models.MarketTypePerp}, cfg.MarketTypes())

	delay, err := ParseDelay(cfg.Exchanges.Binance.RequestDelay)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, delay)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, "liquidity-mapper", cfg.AppName)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "memory")
	t.Setenv("EXCHANGES", "bitget")
	t.Setenv("INGEST_LOOKBACK_DAYS", "14")
	t.Setenv("INGEST_BATCH_SIZE", "25")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, []string{"bitget"}, cfg.Exchanges.Enabled)
	assert.Equal(t, 14, cfg.Ingest.LookbackDays)
	assert.Equal(t, 25, cfg.Ingest.BatchSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage type", func(c *Config) { c.Storage.Type = "postgres" }},
		{"duckdb without path", func(c *Config) { c.Storage.Path = "" }},
		{"unknown exchange", func(c *Config) { c.Exchanges.Enabled = []string{"kraken"} }},
		{"unknown market type", func(c *Config) { c.Ingest.MarketTypes = []string{"options"} }},
		{"non-positive lookback", func(c *Config) { c.Ingest.LookbackDays = 0 }},
		{"non-positive batch size", func(c *Config) { c.Ingest.BatchSize = -1 }},
		{"bad retry budget", func(c *Config) { c.Ingest.RetryBudget = "soon" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestExchangeEnabled(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.ExchangeEnabled("binance"))
	assert.True(t, cfg.ExchangeEnabled("bitget"))

	cfg.Exchanges.Enabled = []string{"bybit"}
	assert.True(t, cfg.ExchangeEnabled("bybit"))
	assert.False(t, cfg.ExchangeEnabled("binance"))
}

func TestParseDelayEmpty(t *testing.T) {
	delay, err := ParseDelay("")
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), delay)
}
