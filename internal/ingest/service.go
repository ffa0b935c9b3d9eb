// Package ingest orchestrates the backfill and analysis operations: it
// drives the exchange connectors, persists their output through the market
// store, and exposes the analysis entry points built on the stored series.
//
// Execution is sequential per request: exchanges, market types, and metrics
// are processed one after another. A failed metric fetch is retried with
// exponential backoff and, if it still fails, recorded in the run report
// without aborting the rest of the run. This is safe because every store
// write is an idempotent upsert, so re-invoking an ingest with overlapping
// bounds converges instead of duplicating.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/johnayoung/go-liquidity-mapper/internal/analysis"
	"github.com/johnayoung/go-liquidity-mapper/internal/exchange"
	"github.com/johnayoung/go-liquidity-mapper/internal/models"
	"github.com/johnayoung/go-liquidity-mapper/internal/storage"
)

const (
	// DefaultBatchSize is the number of records per upsert call.
	DefaultBatchSize = 100

	initialBackoffInterval = 500 * time.Millisecond
	maxBackoffInterval     = 30 * time.Second
	defaultRetryBudget     = 2 * time.Minute
)

// Options configures a Service. Zero-valued fields fall back to defaults.
type Options struct {
	Store      storage.MarketStore
	Connectors []exchange.Connector
	Logger     *slog.Logger

	// BatchSize caps how many records one upsert call carries.
	BatchSize int

	// RetryBudget bounds the total time spent retrying one metric fetch.
	RetryBudget time.Duration
}

// Service drives ingestion and analysis against a set of connectors and a
// market store.
type Service struct {
	store       storage.MarketStore
	connectors  []exchange.Connector
	logger      *slog.Logger
	batchSize   int
	retryBudget time.Duration
	calc        *analysis.Calculator
}

// NewService creates a service from the given options.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if len(opts.Connectors) == 0 {
		return nil, fmt.Errorf("at least one connector is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = defaultRetryBudget
	}

	return &Service{
		store:       opts.Store,
		connectors:  opts.Connectors,
		logger:      opts.Logger,
		batchSize:   opts.BatchSize,
		retryBudget: opts.RetryBudget,
		calc:        analysis.NewCalculator(opts.Logger),
	}, nil
}

// IngestRequest describes one backfill run.
type IngestRequest struct {
	Symbol string

	// Exchanges restricts the run to the named connectors; empty means all.
	Exchanges []string

	// MarketTypes restricts the candle backfill; empty means spot and perp.
	MarketTypes []models.MarketType

	Interval string
	Start    time.Time
	End      time.Time
}

// MetricFailure records one metric fetch that exhausted its retries.
type MetricFailure struct {
	Metric string
	Err    string
}

// ExchangeReport summarizes one exchange's share of an ingest run.
type ExchangeReport struct {
	Exchange     string
	Candles      int
	OpenInterest int
	FundingRates int

	// StoredRange is the candle date range now present in the store for
	// this exchange and symbol, nil when nothing is stored.
	StoredRange *storage.DateRange

	// StoredOpenInterest and StoredFundingRates are the cumulative counts
	// now present in the store for this exchange and symbol.
	StoredOpenInterest int64
	StoredFundingRates int64

	Failures []MetricFailure
}

// IngestReport is the outcome of one ingest run.
type IngestReport struct {
	RunID       string
	Symbol      string
	StartedAt   time.Time
	CompletedAt time.Time
	Exchanges   []ExchangeReport
}

// Failed reports whether any metric fetch failed during the run.
func (r *IngestReport) Failed() bool {
	for _, ex := range r.Exchanges {
		if len(ex.Failures) > 0 {
			return true
		}
	}
	return false
}

// Ingest backfills candles for every requested (exchange, market type)
// pair, plus open interest and funding rates for perp markets. Metric
// failures are recorded in the report and never abort the run.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	marketTypes := req.MarketTypes
	if len(marketTypes) == 0 {
		marketTypes = []models.MarketType{models.MarketTypeSpot, models.MarketTypePerp}
	}
	interval := models.NormalizeInterval(req.Interval)

	report := &IngestReport{
		RunID:     uuid.New().String(),
		Symbol:    req.Symbol,
		StartedAt: time.Now().UTC(),
	}

	s.logger.Info("starting ingest run",
		"run_id", report.RunID,
		"symbol", req.Symbol,
		"interval", interval,
		"start", req.Start,
		"end", req.End)

	for _, conn := range s.connectors {
		if !exchangeRequested(conn.Name(), req.Exchanges) {
			continue
		}

		exReport := ExchangeReport{Exchange: conn.Name()}

		for _, marketType := range marketTypes {
			metric := fmt.Sprintf("%s/%s candles", conn.Name(), marketType)
			count, err := s.ingestCandles(ctx, conn, req.Symbol, interval, marketType, req.Start, req.End)
			// A mid-run upsert failure leaves earlier batches durable;
			// the report counts them either way.
			exReport.Candles += count
			if err != nil {
				s.recordFailure(&exReport, metric, err)
			}
		}

		if containsMarketType(marketTypes, models.MarketTypePerp) {
			metric := conn.Name() + " open interest"
			count, err := s.ingestOpenInterest(ctx, conn, req.Symbol, interval, req.Start, req.End)
			exReport.OpenInterest = count
			if err != nil {
				s.recordFailure(&exReport, metric, err)
			}

			metric = conn.Name() + " funding rates"
			count, err = s.ingestFundingRates(ctx, conn, req.Symbol, req.Start, req.End)
			exReport.FundingRates = count
			if err != nil {
				s.recordFailure(&exReport, metric, err)
			}
		}

		storedRange, err := s.store.CandleDateRange(ctx, storage.CandleQuery{
			Exchange: conn.Name(),
			Symbol:   req.Symbol,
		})
		if err != nil {
			s.recordFailure(&exReport, conn.Name()+" date range", err)
		} else {
			exReport.StoredRange = storedRange
		}

		seriesQ := storage.SeriesQuery{Exchange: conn.Name(), Symbol: req.Symbol}
		if n, err := s.store.CountOpenInterest(ctx, seriesQ); err == nil {
			exReport.StoredOpenInterest = n
		}
		if n, err := s.store.CountFundingRates(ctx, seriesQ); err == nil {
			exReport.StoredFundingRates = n
		}

		report.Exchanges = append(report.Exchanges, exReport)
	}

	report.CompletedAt = time.Now().UTC()

	s.logger.Info("ingest run complete",
		"run_id", report.RunID,
		"symbol", req.Symbol,
		"duration", report.CompletedAt.Sub(report.StartedAt),
		"failed", report.Failed())
	return report, nil
}

func (s *Service) ingestCandles(ctx context.Context, conn exchange.Connector, symbol, interval string, marketType models.MarketType, start, end time.Time) (int, error) {
	var candles []models.Candle

	err := s.fetchWithRetry(ctx, fmt.Sprintf("%s %s candles", conn.Name(), marketType), func() error {
		var fetchErr error
		candles, fetchErr = conn.FetchCandles(ctx, exchange.CandleRequest{
			Symbol:     symbol,
			Interval:   interval,
			MarketType: marketType,
			Start:      start,
			End:        end,
		})
		return fetchErr
	})
	if err != nil {
		return 0, err
	}

	if gaps := analysis.FindGaps(candles, interval); len(gaps) > 0 {
		missing := 0
		for _, g := range gaps {
			missing += g.Missing
		}
		s.logger.Warn("candle series has gaps",
			"exchange", conn.Name(),
			"market_type", marketType,
			"gaps", len(gaps),
			"missing", missing)
	}

	stored := 0
	for _, batch := range batchCandles(candles, s.batchSize) {
		n, err := s.store.UpsertCandles(ctx, batch)
		if err != nil {
			return stored, err
		}
		stored += n
	}

	s.logger.Debug("ingested candles",
		"exchange", conn.Name(),
		"market_type", marketType,
		"count", stored)
	return stored, nil
}

func (s *Service) ingestOpenInterest(ctx context.Context, conn exchange.Connector, symbol, interval string, start, end time.Time) (int, error) {
	var snapshots []models.OpenInterestSnapshot

	err := s.fetchWithRetry(ctx, conn.Name()+" open interest", func() error {
		var fetchErr error
		snapshots, fetchErr = conn.FetchOpenInterest(ctx, exchange.OpenInterestRequest{
			Symbol:   symbol,
			Interval: interval,
			Start:    start,
			End:      end,
		})
		return fetchErr
	})
	if err != nil {
		return 0, err
	}

	// A short or empty sequence is a provider capability gap, not an
	// error.
	stored := 0
	for _, batch := range batchSnapshots(snapshots, s.batchSize) {
		n, err := s.store.UpsertOpenInterest(ctx, batch)
		if err != nil {
			return stored, err
		}
		stored += n
	}
	return stored, nil
}

func (s *Service) ingestFundingRates(ctx context.Context, conn exchange.Connector, symbol string, start, end time.Time) (int, error) {
	var rates []models.FundingRate

	err := s.fetchWithRetry(ctx, conn.Name()+" funding rates", func() error {
		var fetchErr error
		rates, fetchErr = conn.FetchFundingRates(ctx, exchange.FundingRequest{
			Symbol: symbol,
			Start:  start,
			End:    end,
		})
		return fetchErr
	})
	if err != nil {
		return 0, err
	}

	stored := 0
	for _, batch := range batchFundingRates(rates, s.batchSize) {
		n, err := s.store.UpsertFundingRates(ctx, batch)
		if err != nil {
			return stored, err
		}
		stored += n
	}
	return stored, nil
}

// fetchWithRetry re-invokes the whole metric fetch with exponential
// backoff. Connectors carry no retry logic of their own; idempotent
// upserts make whole-metric re-invocation safe.
func (s *Service) fetchWithRetry(ctx context.Context, metric string, fn func() error) error {
	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = initialBackoffInterval
	backoffConfig.MaxInterval = maxBackoffInterval
	backoffConfig.MaxElapsedTime = s.retryBudget
	backoffConfig.Multiplier = 2.0
	backoffConfig.RandomizationFactor = 0.5

	return backoff.RetryNotify(
		fn,
		backoff.WithContext(backoffConfig, ctx),
		func(err error, delay time.Duration) {
			s.logger.Warn("metric fetch failed, retrying",
				"metric", metric,
				"error", err,
				"retry_delay", delay)
		},
	)
}

func (s *Service) recordFailure(report *ExchangeReport, metric string, err error) {
	s.logger.Error("metric ingestion failed",
		"metric", metric,
		"error", err)
	report.Failures = append(report.Failures, MetricFailure{Metric: metric, Err: err.Error()})
}

// AnalyzeRequest describes one analysis call over stored data.
type AnalyzeRequest struct {
	Symbol string
	Start  time.Time
	End    time.Time

	// Interval selects which candle granularity to analyze. A store can
	// hold the same symbol at several granularities; mixing them in one
	// analysis would double-count volume. Empty means the default.
	Interval string

	// Timeframes are lookback labels; empty means the defaults.
	Timeframes []string
}

// Analyze reads the stored series for the window and computes per-exchange
// timeframe deltas.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*analysis.Result, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	candles, err := s.store.QueryCandles(ctx, storage.CandleQuery{
		Symbol:   req.Symbol,
		Interval: models.NormalizeInterval(req.Interval),
		Start:    req.Start,
		End:      req.End,
	})
	if err != nil {
		return nil, fmt.Errorf("reading candles: %w", err)
	}

	openInterest, err := s.store.QueryOpenInterest(ctx, storage.SeriesQuery{
		Symbol: req.Symbol,
		Start:  req.Start,
		End:    req.End,
	})
	if err != nil {
		return nil, fmt.Errorf("reading open interest: %w", err)
	}

	fundingRates, err := s.store.QueryFundingRates(ctx, storage.SeriesQuery{
		Symbol: req.Symbol,
		Start:  req.Start,
		End:    req.End,
	})
	if err != nil {
		return nil, fmt.Errorf("reading funding rates: %w", err)
	}

	return s.calc.Calculate(req.Symbol, candles, openInterest, fundingRates, req.Start, req.End, req.Timeframes)
}

// FundingStats reads stored funding rates for the window and computes the
// cross-exchange rolling and annualized summary.
func (s *Service) FundingStats(ctx context.Context, symbol string, start, end time.Time, windowPeriods int) (*analysis.FundingSummary, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}

	rates, err := s.store.QueryFundingRates(ctx, storage.SeriesQuery{
		Symbol: symbol,
		Start:  start,
		End:    end,
	})
	if err != nil {
		return nil, fmt.Errorf("reading funding rates: %w", err)
	}

	return analysis.ComputeFundingStats(symbol, rates, start, end, windowPeriods)
}

// ResolveSymbol asks each connector for the tradable symbol of a base
// asset, returning the first hit.
func (s *Service) ResolveSymbol(ctx context.Context, baseAsset string) (string, error) {
	for _, conn := range s.connectors {
		symbol, err := conn.ResolveSymbol(ctx, baseAsset)
		if err != nil {
			s.logger.Warn("symbol resolution failed",
				"exchange", conn.Name(),
				"base_asset", baseAsset,
				"error", err)
			continue
		}
		if symbol != "" {
			return symbol, nil
		}
	}
	return "", fmt.Errorf("asset %q is not tradable on any configured exchange", baseAsset)
}

func exchangeRequested(name string, requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	for _, r := range requested {
		if r == name {
			return true
		}
	}
	return false
}

func containsMarketType(types []models.MarketType, want models.MarketType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}

func batchCandles(candles []models.Candle, size int) [][]models.Candle {
	var batches [][]models.Candle
	for len(candles) > size {
		batches = append(batches, candles[:size])
		candles = candles[size:]
	}
	if len(candles) > 0 {
		batches = append(batches, candles)
	}
	return batches
}

func batchSnapshots(snapshots []models.OpenInterestSnapshot, size int) [][]models.OpenInterestSnapshot {
	var batches [][]models.OpenInterestSnapshot
	for len(snapshots) > size {
		batches = append(batches, snapshots[:size])
		snapshots = snapshots[size:]
	}
	if len(snapshots) > 0 {
		batches = append(batches, snapshots)
	}
	return batches
}

func batchFundingRates(rates []models.FundingRate, size int) [][]models.FundingRate {
	var batches [][]models.FundingRate
	for len(rates) > size {
		batches = append(batches, rates[:size])
		rates = rates[size:]
	}
	if len(rates) > 0 {
		batches = append(batches, rates)
	}
	return batches
}
