// Liquidity Mapper CLI
// This application backfills candles, open interest, and funding rates for
// one trading pair across Binance, Bybit, and Bitget, and computes
// multi-timeframe price, volume, and funding analytics from the stored
// series.
//
// Usage:
//
//	liquidity ingest --asset SOL --days 30
//	liquidity analyze --symbol SOLUSDT --days 7
//	liquidity funding --symbol SOLUSDT --days 14
//
// For detailed help on any command, use: liquidity <command> --help
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/johnayoung/go-liquidity-mapper/internal/analysis"
	"github.com/johnayoung/go-liquidity-mapper/internal/config"
	"github.com/johnayoung/go-liquidity-mapper/internal/exchange"
	"github.com/johnayoung/go-liquidity-mapper/internal/ingest"
	"github.com/johnayoung/go-liquidity-mapper/internal/logger"
	"github.com/johnayoung/go-liquidity-mapper/internal/models"
	"github.com/johnayoung/go-liquidity-mapper/internal/storage"
)

const (
	Version = "1.0.0"
	AppName = "liquidity"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
)

// CLI wires the configured store, connectors, and service together.
type CLI struct {
	config  *config.Config
	logMgr  *logger.Manager
	logger  *slog.Logger
	store   storage.MarketStore
	service *ingest.Service
	session ingest.Session
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.shutdown(ctx)

	switch command {
	case "ingest":
		if err := cli.handleIngest(ctx, args); err != nil {
			cli.logger.Error("ingest failed", "error", err)
			os.Exit(ExitDataError)
		}
	case "analyze":
		if err := cli.handleAnalyze(ctx, args); err != nil {
			cli.logger.Error("analysis failed", "error", err)
			os.Exit(ExitDataError)
		}
	case "funding":
		if err := cli.handleFunding(ctx, args); err != nil {
			cli.logger.Error("funding analysis failed", "error", err)
			os.Exit(ExitDataError)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}
}

// initialize loads configuration, builds the store and connectors, and
// assembles the ingest service.
func (cli *CLI) initialize(ctx context.Context) error {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(os.Getenv("LIQUIDITY_CONFIG"))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cli.config = cfg

	logMgr, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	cli.logMgr = logMgr
	cli.logger = logMgr.Logger()

	store, err := createStore(cfg, logMgr)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storage schema: %w", err)
	}
	cli.store = store

	connectors, err := buildConnectors(cfg, logMgr)
	if err != nil {
		return fmt.Errorf("failed to build connectors: %w", err)
	}

	retryBudget, err := cfg.RetryBudget()
	if err != nil {
		return fmt.Errorf("invalid retry budget: %w", err)
	}

	service, err := ingest.NewService(ingest.Options{
		Store:       store,
		Connectors:  connectors,
		Logger:      logMgr.Component("ingest"),
		BatchSize:   cfg.Ingest.BatchSize,
		RetryBudget: retryBudget,
	})
	if err != nil {
		return fmt.Errorf("failed to create ingest service: %w", err)
	}
	cli.service = service

	return nil
}

func (cli *CLI) shutdown(ctx context.Context) {
	if cli.store != nil {
		if err := cli.store.Close(); err != nil {
			cli.logger.Warn("failed to close store", "error", err)
		}
	}
	if cli.logMgr != nil {
		_ = cli.logMgr.Close()
	}
}

// createStore builds the storage backend named by the configuration.
func createStore(cfg *config.Config, logMgr *logger.Manager) (storage.MarketStore, error) {
	switch cfg.Storage.Type {
	case "duckdb":
		return storage.NewDuckDBStore(cfg.Storage.Path, logMgr.Component("storage"))
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// buildConnectors creates one connector per enabled exchange.
func buildConnectors(cfg *config.Config, logMgr *logger.Manager) ([]exchange.Connector, error) {
	var connectors []exchange.Connector

	if cfg.ExchangeEnabled("binance") {
		delay, err := config.ParseDelay(cfg.Exchanges.Binance.RequestDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid binance request delay: %w", err)
		}
		connectors = append(connectors, exchange.NewBinanceConnector(exchange.BinanceOptions{
			SpotBaseURL:    cfg.Exchanges.Binance.SpotBaseURL,
			FuturesBaseURL: cfg.Exchanges.Binance.FuturesBaseURL,
			KlineLimit:     cfg.Exchanges.Binance.KlineLimit,
			OILimit:        cfg.Exchanges.Binance.OILimit,
			FundingLimit:   cfg.Exchanges.Binance.FundingLimit,
			RequestDelay:   delay,
			Logger:         logMgr.Component("binance"),
		}))
	}

	if cfg.ExchangeEnabled("bybit") {
		delay, err := config.ParseDelay(cfg.Exchanges.Bybit.RequestDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid bybit request delay: %w", err)
		}
		connectors = append(connectors, exchange.NewBybitConnector(exchange.BybitOptions{
			BaseURL:      cfg.Exchanges.Bybit.BaseURL,
			KlineLimit:   cfg.Exchanges.Bybit.KlineLimit,
			OILimit:      cfg.Exchanges.Bybit.OILimit,
			FundingLimit: cfg.Exchanges.Bybit.FundingLimit,
			RequestDelay: delay,
			Logger:       logMgr.Component("bybit"),
		}))
	}

	if cfg.ExchangeEnabled("bitget") {
		delay, err := config.ParseDelay(cfg.Exchanges.Bitget.RequestDelay)
		if err != nil {
			return nil, fmt.Errorf("invalid bitget request delay: %w", err)
		}
		connectors = append(connectors, exchange.NewBitgetConnector(exchange.BitgetOptions{
			BaseURL:           cfg.Exchanges.Bitget.BaseURL,
			SpotKlineLimit:    cfg.Exchanges.Bitget.SpotKlineLimit,
			FuturesKlineLimit: cfg.Exchanges.Bitget.FuturesKlineLimit,
			FundingPageSize:   cfg.Exchanges.Bitget.FundingPageSize,
			RequestDelay:      delay,
			Logger:            logMgr.Component("bitget"),
		}))
	}

	if len(connectors) == 0 {
		return nil, fmt.Errorf("no exchanges enabled")
	}
	return connectors, nil
}

// handleIngest runs one backfill for a base asset or explicit symbol.
func (cli *CLI) handleIngest(ctx context.Context, args []string) error {
	flags, err := parseIngestFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("ingest")
		return nil
	}

	if flags.Asset == "" && flags.Symbol == "" {
		return fmt.Errorf("--asset or --symbol is required")
	}

	start, end, err := resolveWindow(flags.Start, flags.End, flags.Days, cli.config.Ingest.LookbackDays)
	if err != nil {
		return err
	}

	symbol := flags.Symbol
	if symbol == "" {
		symbol, err = cli.service.ResolveSymbol(ctx, flags.Asset)
		if err != nil {
			return fmt.Errorf("failed to resolve symbol for %s: %w", flags.Asset, err)
		}
		cli.logger.Info("resolved trading symbol", "asset", flags.Asset, "symbol", symbol)
	}
	cli.session.BaseAsset = flags.Asset
	cli.session.Symbol = symbol

	interval := flags.Interval
	if interval == "" {
		interval = cli.config.Ingest.Interval
	}

	marketTypes := cli.config.MarketTypes()
	if flags.Market != "" {
		marketTypes = []models.MarketType{models.MarketType(flags.Market)}
	}

	report, err := cli.service.Ingest(ctx, ingest.IngestRequest{
		Symbol:      symbol,
		Exchanges:   flags.Exchanges,
		MarketTypes: marketTypes,
		Interval:    interval,
		Start:       start,
		End:         end,
	})
	if err != nil {
		return err
	}
	cli.session.LastReport = report

	printIngestReport(report)
	if report.Failed() {
		return fmt.Errorf("one or more metric fetches failed")
	}
	return nil
}

// handleAnalyze computes per-exchange and aggregated timeframe deltas from
// the stored series.
func (cli *CLI) handleAnalyze(ctx context.Context, args []string) error {
	flags, err := parseAnalyzeFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("analyze")
		return nil
	}

	symbol := flags.Symbol
	if symbol == "" {
		symbol = cli.session.Symbol
	}
	if symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	start, end, err := resolveWindow(flags.Start, flags.End, flags.Days, cli.config.Ingest.LookbackDays)
	if err != nil {
		return err
	}

	timeframes := flags.Timeframes
	if len(timeframes) == 0 {
		timeframes = cli.config.Analysis.Timeframes
	}

	interval := flags.Interval
	if interval == "" {
		interval = cli.config.Ingest.Interval
	}

	result, err := cli.service.Analyze(ctx, ingest.AnalyzeRequest{
		Symbol:     symbol,
		Start:      start,
		End:        end,
		Interval:   interval,
		Timeframes: timeframes,
	})
	if err != nil {
		return err
	}
	cli.session.LastResult = result

	printAnalysisResult(result)
	return nil
}

// handleFunding computes the cross-exchange funding summary.
func (cli *CLI) handleFunding(ctx context.Context, args []string) error {
	flags, err := parseFundingFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("funding")
		return nil
	}

	symbol := flags.Symbol
	if symbol == "" {
		symbol = cli.session.Symbol
	}
	if symbol == "" {
		return fmt.Errorf("--symbol is required")
	}

	start, end, err := resolveWindow(flags.Start, flags.End, flags.Days, cli.config.Ingest.LookbackDays)
	if err != nil {
		return err
	}

	window := flags.Window
	if window <= 0 {
		window = cli.config.Analysis.FundingWindowPeriods
	}

	summary, err := cli.service.FundingStats(ctx, symbol, start, end, window)
	if err != nil {
		return err
	}
	cli.session.LastFunding = summary

	printFundingSummary(summary)
	return nil
}

// resolveWindow converts --start/--end/--days into a concrete UTC window.
func resolveWindow(startStr, endStr string, days, defaultDays int) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if startStr != "" {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date format, use YYYY-MM-DD: %w", err)
		}
	}
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date format, use YYYY-MM-DD: %w", err)
		}
	}

	if start.IsZero() && end.IsZero() {
		if days <= 0 {
			days = defaultDays
		}
		end = time.Now().UTC()
		start = end.AddDate(0, 0, -days)
	}
	if start.IsZero() || end.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("specify either --days or both --start and --end")
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time cannot be after end time")
	}
	return start, end, nil
}

// Output formatting

func printIngestReport(report *ingest.IngestReport) {
	fmt.Printf("Ingest run %s for %s\n", report.RunID, report.Symbol)
	fmt.Printf("Duration: %v\n\n", report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))

	fmt.Printf("%-10s %10s %14s %14s  %s\n", "Exchange", "Candles", "OpenInterest", "FundingRates", "Stored Range")
	fmt.Println(strings.Repeat("-", 80))
	for _, ex := range report.Exchanges {
		rangeStr := "-"
		if ex.StoredRange != nil {
			rangeStr = fmt.Sprintf("%s .. %s",
				ex.StoredRange.Earliest.Format("2006-01-02 15:04"),
				ex.StoredRange.Latest.Format("2006-01-02 15:04"))
		}
		fmt.Printf("%-10s %10d %14d %14d  %s\n",
			ex.Exchange, ex.Candles, ex.OpenInterest, ex.FundingRates, rangeStr)
		for _, f := range ex.Failures {
			fmt.Printf("  ! %s: %s\n", f.Metric, f.Err)
		}
	}
}

func printAnalysisResult(result *analysis.Result) {
	fmt.Printf("Analysis for %s (%s to %s)\n",
		result.Symbol,
		result.Start.Format("2006-01-02"),
		result.End.Format("2006-01-02"))
	fmt.Printf("Series: %d candles, %d open interest snapshots, %d funding rates\n\n",
		len(result.Candles), len(result.OpenInterest), len(result.FundingRates))

	for _, ex := range result.Exchanges {
		fmt.Printf("%s (%s)\n", ex.Exchange, ex.MarketType)
		fmt.Printf("  %-6s %12s %12s %10s %14s %12s %12s\n",
			"TF", "Start", "End", "Delta%", "Volume", "VWAP", "OI Delta")
		for _, d := range ex.Deltas {
			oiDelta := "-"
			if d.OIDelta != nil {
				oiDelta = d.OIDelta.StringFixed(2)
			}
			fmt.Printf("  %-6s %12s %12s %9s%% %14s %12s %12s\n",
				d.Timeframe,
				d.PriceStart.StringFixed(4),
				d.PriceEnd.StringFixed(4),
				d.PriceDeltaPct.StringFixed(2),
				d.VolumeTotal.StringFixed(2),
				d.VWAP.StringFixed(4),
				oiDelta)
		}
		if n := len(ex.RollingVWAP); n > 0 {
			latest := ex.RollingVWAP[n-1]
			fmt.Printf("  Rolling VWAP (%d-candle window): %s at %s\n",
				analysis.RollingVWAPWindow,
				latest.Value.StringFixed(4),
				latest.Time.Format(time.RFC3339))
		}
		fmt.Println()
	}

	for _, mt := range []models.MarketType{models.MarketTypeSpot, models.MarketTypePerp} {
		aggregated := analysis.Aggregate(result, mt)
		if len(aggregated) == 0 {
			continue
		}
		fmt.Printf("Aggregated (%s)\n", mt)
		fmt.Printf("  %-6s %10s %12s %14s %12s %10s\n",
			"TF", "Delta%", "VWAP", "Volume", "OI Delta", "Exchanges")
		for _, d := range aggregated {
			oiDelta := "-"
			if d.OIDelta != nil {
				oiDelta = d.OIDelta.StringFixed(2)
			}
			fmt.Printf("  %-6s %9s%% %12s %14s %12s %10d\n",
				d.Timeframe,
				d.PriceDeltaPct.StringFixed(2),
				d.VWAP.StringFixed(4),
				d.VolumeTotal.StringFixed(2),
				oiDelta,
				d.Exchanges)
		}
		fmt.Println()
	}
}

func printFundingSummary(summary *analysis.FundingSummary) {
	fmt.Printf("Funding summary for %s (%s to %s)\n",
		summary.Symbol,
		summary.Start.Format("2006-01-02"),
		summary.End.Format("2006-01-02"))
	fmt.Printf("Average rate: %s (annualized %s%%)\n\n",
		summary.AverageRate.StringFixed(6),
		summary.AnnualizedPct.StringFixed(2))

	if len(summary.LatestByExchange) > 0 {
		fmt.Println("Latest rate by exchange:")
		for exchangeName, rate := range summary.LatestByExchange {
			fmt.Printf("  %-10s %s at %s\n",
				exchangeName, rate.FundingRate, rate.FundingTime.Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}

	limit := len(summary.Series)
	if limit > 10 {
		limit = 10
	}
	if limit > 0 {
		fmt.Println("Most recent periods:")
		for _, p := range summary.Series[len(summary.Series)-limit:] {
			fmt.Printf("  %s  rate=%s rolling=%s annualized=%s%%\n",
				p.Time.Format("2006-01-02 15:04"),
				p.Rate.StringFixed(6),
				p.RollingRate.StringFixed(6),
				p.AnnualizedPct.StringFixed(2))
		}
	}
}

// Flag structures and parsing

type IngestFlags struct {
	Asset     string
	Symbol    string
	Interval  string
	Market    string
	Exchanges []string
	Start     string
	End       string
	Days      int
	Help      bool
}

type AnalyzeFlags struct {
	Symbol     string
	Interval   string
	Timeframes []string
	Start      string
	End        string
	Days       int
	Help       bool
}

type FundingFlags struct {
	Symbol string
	Window int
	Start  string
	End    string
	Days   int
	Help   bool
}

func parseIngestFlags(args []string) (*IngestFlags, error) {
	flags := &IngestFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--asset", "-a":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--asset requires a value")
			}
			flags.Asset = args[i+1]
			i++
		case "--symbol":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--interval", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--interval requires a value")
			}
			flags.Interval = args[i+1]
			i++
		case "--market", "-m":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--market requires a value")
			}
			market := args[i+1]
			if !models.MarketType(market).Valid() {
				return nil, fmt.Errorf("invalid market type, must be: spot or perp")
			}
			flags.Market = market
			i++
		case "--exchanges", "-x":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--exchanges requires a value")
			}
			flags.Exchanges = strings.Split(args[i+1], ",")
			i++
		case "--start", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end", "-e":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--days", "-d":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--days requires a value")
			}
			days, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid days value: %w", err)
			}
			flags.Days = days
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func parseAnalyzeFlags(args []string) (*AnalyzeFlags, error) {
	flags := &AnalyzeFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbol":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--interval", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--interval requires a value")
			}
			flags.Interval = args[i+1]
			i++
		case "--timeframes", "-t":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--timeframes requires a value")
			}
			flags.Timeframes = strings.Split(args[i+1], ",")
			i++
		case "--start", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end", "-e":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--days", "-d":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--days requires a value")
			}
			days, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid days value: %w", err)
			}
			flags.Days = days
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func parseFundingFlags(args []string) (*FundingFlags, error) {
	flags := &FundingFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbol":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = args[i+1]
			i++
		case "--window", "-w":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--window requires a value")
			}
			window, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid window value: %w", err)
			}
			flags.Window = window
			i++
		case "--start", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--start requires a value")
			}
			flags.Start = args[i+1]
			i++
		case "--end", "-e":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--end requires a value")
			}
			flags.End = args[i+1]
			i++
		case "--days", "-d":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--days requires a value")
			}
			days, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid days value: %w", err)
			}
			flags.Days = days
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

// Help output

func printUsage() {
	fmt.Printf(`%s - Market Liquidity Mapper v%s

USAGE:
    %s <command> [options]

COMMANDS:
    ingest      Backfill candles, open interest, and funding rates
    analyze     Compute multi-timeframe price and volume deltas
    funding     Summarize cross-exchange funding rates

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Backfill 30 days of SOL data across all exchanges
    %s ingest --asset SOL --days 30

    # Analyze stored SOLUSDT data over the last 7 days
    %s analyze --symbol SOLUSDT --days 7

    # Funding summary for the last 14 days
    %s funding --symbol SOLUSDT --days 14

CONFIGURATION:
    Configuration is read from the file named by LIQUIDITY_CONFIG
    (JSON or YAML), with environment variable overrides such as
    STORAGE_TYPE, STORAGE_PATH, EXCHANGES, and LOG_LEVEL. A .env
    file in the working directory is loaded if present.

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "ingest":
		fmt.Printf(`%s ingest - Backfill market data

USAGE:
    %s ingest [options]

OPTIONS:
    --asset, -a <asset>       Base asset to backfill, e.g. SOL
                              (resolved to a USDT symbol per exchange)
    --symbol <symbol>         Explicit trading symbol, e.g. SOLUSDT
    --interval, -i <interval> Candle interval (default from config)
                              Supported: 1h, 4h, 1d
    --market, -m <type>       Restrict to one market type: spot or perp
    --exchanges, -x <list>    Comma-separated exchange names
                              (binance, bybit, bitget)
    --start, -s <date>        Start date (YYYY-MM-DD)
    --end, -e <date>          End date (YYYY-MM-DD)
    --days, -d <days>         Days to backfill from now
    --help, -h                Show this help message

EXAMPLES:
    %s ingest --asset SOL --days 30
    %s ingest --symbol SOLUSDT --interval 4h --exchanges binance,bybit
    %s ingest --asset SOL --start 2024-01-01 --end 2024-01-31 --market perp

NOTES:
    - Either use --days OR both --start and --end
    - Rerunning with overlapping bounds is safe: writes are upserts
    - Open interest and funding rates are perp-market metrics
`, AppName, AppName, AppName, AppName, AppName)

	case "analyze":
		fmt.Printf(`%s analyze - Multi-timeframe delta analysis

USAGE:
    %s analyze [options]

OPTIONS:
    --symbol <symbol>         Trading symbol to analyze (required)
    --interval, -i <interval> Candle granularity to analyze
                              (default from config)
    --timeframes, -t <list>   Comma-separated lookback labels
                              (default: 1h,4h,12h,24h)
    --start, -s <date>        Start date (YYYY-MM-DD)
    --end, -e <date>          End date (YYYY-MM-DD)
    --days, -d <days>         Days to look back from now
    --help, -h                Show this help message

EXAMPLES:
    %s analyze --symbol SOLUSDT --days 7
    %s analyze --symbol SOLUSDT --timeframes 4h,24h --days 3

NOTES:
    - Analysis reads the stored series only; run ingest first
    - Open interest deltas appear for perp groups only
`, AppName, AppName, AppName, AppName)

	case "funding":
		fmt.Printf(`%s funding - Cross-exchange funding summary

USAGE:
    %s funding [options]

OPTIONS:
    --symbol <symbol>         Trading symbol to summarize (required)
    --window, -w <periods>    Rolling window in funding periods
                              (default: 21, one week of 8h periods)
    --start, -s <date>        Start date (YYYY-MM-DD)
    --end, -e <date>          End date (YYYY-MM-DD)
    --days, -d <days>         Days to look back from now
    --help, -h                Show this help message

EXAMPLES:
    %s funding --symbol SOLUSDT --days 14
    %s funding --symbol SOLUSDT --window 9 --days 7
`, AppName, AppName, AppName, AppName)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
