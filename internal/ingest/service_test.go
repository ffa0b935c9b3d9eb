package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-liquidity-mapper/internal/exchange"
	"github.com/johnayoung/go-liquidity-mapper/internal/models"
	"github.com/johnayoung/go-liquidity-mapper/internal/storage"
)

var ingestStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeConnector is a scriptable Connector for service tests.
type fakeConnector struct {
	name string

	candles      []models.Candle
	openInterest []models.OpenInterestSnapshot
	fundingRates []models.FundingRate

	candleErr   error
	candleFails int
	candleCalls int

	resolved string
}

func (f *fakeConnector) Name() string { return f.name }
func (f *fakeConnector) Close() error { return nil }

func (f *fakeConnector) FetchCandles(ctx context.Context, req exchange.CandleRequest) ([]models.Candle, error) {
	f.candleCalls++
	if f.candleErr != nil && (f.candleFails == 0 || f.candleCalls <= f.candleFails) {
		return nil, f.candleErr
	}

	var out []models.Candle
	for _, c := range f.candles {
		if c.MarketType == req.MarketType {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeConnector) FetchOpenInterest(ctx context.Context, req exchange.OpenInterestRequest) ([]models.OpenInterestSnapshot, error) {
	return f.openInterest, nil
}

func (f *fakeConnector) FetchFundingRates(ctx context.Context, req exchange.FundingRequest) ([]models.FundingRate, error) {
	return f.fundingRates, nil
}

func (f *fakeConnector) ResolveSymbol(ctx context.Context, baseAsset string) (string, error) {
	return f.resolved, nil
}

var _ exchange.Connector = (*fakeConnector)(nil)

// upsertLimitStore accepts a fixed number of candle upsert calls and fails
// the rest, simulating a store that degrades mid-run.
type upsertLimitStore struct {
	*storage.MemoryStore

	limit int
	calls int
}

func (s *upsertLimitStore) UpsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	s.calls++
	if s.calls > s.limit {
		return 0, storage.NewInsertError("candles", fmt.Errorf("no space left on device"))
	}
	return s.MemoryStore.UpsertCandles(ctx, candles)
}

func fakeCandle(exchangeName string, marketType models.MarketType, idx int) models.Candle {
	return models.Candle{
		Exchange:    exchangeName,
		MarketType:  marketType,
		Symbol:      "SOLUSDT",
		Interval:    "1h",
		OpenTime:    ingestStart.Add(time.Duration(idx) * time.Hour),
		Open:        "100.0",
		High:        "101.0",
		Low:         "99.0",
		Close:       "100.5",
		Volume:      "10.0",
		QuoteVolume: "1000.0",
	}
}

func fakeCandles(exchangeName string, marketType models.MarketType, n int) []models.Candle {
	candles := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		candles = append(candles, fakeCandle(exchangeName, marketType, i))
	}
	return candles
}

func newTestService(t *testing.T, connectors ...exchange.Connector) (*Service, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Initialize(context.Background()))

	svc, err := NewService(Options{
		Store:       store,
		Connectors:  connectors,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BatchSize:   3,
		RetryBudget: time.Millisecond,
	})
	require.NoError(t, err)
	return svc, store
}

func TestNewService(t *testing.T) {
	t.Run("requires a store", func(t *testing.T) {
		_, err := NewService(Options{Connectors: []exchange.Connector{&fakeConnector{name: "binance"}}})
		assert.Error(t, err)
	})

	t.Run("requires connectors", func(t *testing.T) {
		_, err := NewService(Options{Store: storage.NewMemoryStore()})
		assert.Error(t, err)
	})
}

func TestServiceIngest(t *testing.T) {
	ctx := context.Background()

	t.Run("backfills all metrics and reports counts", func(t *testing.T) {
		conn := &fakeConnector{
			name: "binance",
			candles: append(
				fakeCandles("binance", models.MarketTypeSpot, 7),
				fakeCandles("binance", models.MarketTypePerp, 4)...,
			),
			openInterest: []models.OpenInterestSnapshot{{
				Exchange: "binance", Symbol: "SOLUSDT", Timestamp: ingestStart,
				OpenInterest: "5000", OpenInterestValue: "500000",
			}},
			fundingRates: []models.FundingRate{{
				Exchange: "binance", Symbol: "SOLUSDT", FundingTime: ingestStart,
				FundingRate: "0.0001",
			}},
		}
		svc, store := newTestService(t, conn)

		report, err := svc.Ingest(ctx, IngestRequest{
			Symbol:   "SOLUSDT",
			Interval: "1h",
			Start:    ingestStart,
			End:      ingestStart.Add(24 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, report.Exchanges, 1)
		assert.NotEmpty(t, report.RunID)
		assert.False(t, report.Failed())

		ex := report.Exchanges[0]
		assert.Equal(t, "binance", ex.Exchange)
		assert.Equal(t, 11, ex.Candles)
		assert.Equal(t, 1, ex.OpenInterest)
		assert.Equal(t, 1, ex.FundingRates)
		require.NotNil(t, ex.StoredRange)
		assert.Equal(t, ingestStart, ex.StoredRange.Earliest)
		assert.Equal(t, int64(1), ex.StoredOpenInterest)
		assert.Equal(t, int64(1), ex.StoredFundingRates)

		count, err := store.CountCandles(ctx, storage.CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		assert.Equal(t, int64(11), count)
	})

	t.Run("is idempotent across runs", func(t *testing.T) {
		conn := &fakeConnector{
			name:    "binance",
			candles: fakeCandles("binance", models.MarketTypeSpot, 5),
		}
		svc, store := newTestService(t, conn)

		req := IngestRequest{
			Symbol:      "SOLUSDT",
			Interval:    "1h",
			MarketTypes: []models.MarketType{models.MarketTypeSpot},
			Start:       ingestStart,
			End:         ingestStart.Add(24 * time.Hour),
		}

		_, err := svc.Ingest(ctx, req)
		require.NoError(t, err)
		_, err = svc.Ingest(ctx, req)
		require.NoError(t, err)

		count, err := store.CountCandles(ctx, storage.CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)
	})

	t.Run("records a metric failure without aborting the run", func(t *testing.T) {
		failing := &fakeConnector{
			name:      "binance",
			candleErr: &exchange.TransportError{Exchange: "binance", Endpoint: "/klines", Err: fmt.Errorf("connection reset")},
		}
		healthy := &fakeConnector{
			name:    "bybit",
			candles: fakeCandles("bybit", models.MarketTypeSpot, 3),
		}
		svc, store := newTestService(t, failing, healthy)

		report, err := svc.Ingest(ctx, IngestRequest{
			Symbol:      "SOLUSDT",
			Interval:    "1h",
			MarketTypes: []models.MarketType{models.MarketTypeSpot},
			Start:       ingestStart,
			End:         ingestStart.Add(24 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, report.Exchanges, 2)
		assert.True(t, report.Failed())

		assert.NotEmpty(t, report.Exchanges[0].Failures)
		assert.Equal(t, 0, report.Exchanges[0].Candles)
		assert.Empty(t, report.Exchanges[1].Failures)
		assert.Equal(t, 3, report.Exchanges[1].Candles)

		count, err := store.CountCandles(ctx, storage.CandleQuery{Exchange: "bybit"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("reports batches stored before an upsert failure", func(t *testing.T) {
		store := &upsertLimitStore{MemoryStore: storage.NewMemoryStore(), limit: 1}
		require.NoError(t, store.Initialize(ctx))

		conn := &fakeConnector{
			name:    "binance",
			candles: fakeCandles("binance", models.MarketTypeSpot, 5),
		}
		svc, err := NewService(Options{
			Store:       store,
			Connectors:  []exchange.Connector{conn},
			Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
			BatchSize:   3,
			RetryBudget: time.Millisecond,
		})
		require.NoError(t, err)

		report, err := svc.Ingest(ctx, IngestRequest{
			Symbol:      "SOLUSDT",
			Interval:    "1h",
			MarketTypes: []models.MarketType{models.MarketTypeSpot},
			Start:       ingestStart,
			End:         ingestStart.Add(24 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, report.Exchanges, 1)
		assert.True(t, report.Failed())
		assert.NotEmpty(t, report.Exchanges[0].Failures)

		// The first batch of three landed before the failure; the report
		// keeps that count.
		assert.Equal(t, 3, report.Exchanges[0].Candles)

		count, err := store.CountCandles(ctx, storage.CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), count)
	})

	t.Run("filters by requested exchanges", func(t *testing.T) {
		a := &fakeConnector{name: "binance", candles: fakeCandles("binance", models.MarketTypeSpot, 2)}
		b := &fakeConnector{name: "bybit", candles: fakeCandles("bybit", models.MarketTypeSpot, 2)}
		svc, _ := newTestService(t, a, b)

		report, err := svc.Ingest(ctx, IngestRequest{
			Symbol:      "SOLUSDT",
			Exchanges:   []string{"bybit"},
			Interval:    "1h",
			MarketTypes: []models.MarketType{models.MarketTypeSpot},
		})
		require.NoError(t, err)
		require.Len(t, report.Exchanges, 1)
		assert.Equal(t, "bybit", report.Exchanges[0].Exchange)
	})

	t.Run("skips open interest and funding for spot-only runs", func(t *testing.T) {
		conn := &fakeConnector{
			name:    "binance",
			candles: fakeCandles("binance", models.MarketTypeSpot, 2),
			fundingRates: []models.FundingRate{{
				Exchange: "binance", Symbol: "SOLUSDT", FundingTime: ingestStart, FundingRate: "0.0001",
			}},
		}
		svc, store := newTestService(t, conn)

		report, err := svc.Ingest(ctx, IngestRequest{
			Symbol:      "SOLUSDT",
			Interval:    "1h",
			MarketTypes: []models.MarketType{models.MarketTypeSpot},
		})
		require.NoError(t, err)
		assert.Equal(t, 0, report.Exchanges[0].FundingRates)

		rates, err := store.QueryFundingRates(ctx, storage.SeriesQuery{Symbol: "SOLUSDT"})
		require.NoError(t, err)
		assert.Empty(t, rates)
	})

	t.Run("rejects a missing symbol", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeConnector{name: "binance"})

		_, err := svc.Ingest(ctx, IngestRequest{Interval: "1h"})
		assert.Error(t, err)
	})
}

func TestServiceAnalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("computes deltas from stored data", func(t *testing.T) {
		conn := &fakeConnector{
			name:    "binance",
			candles: fakeCandles("binance", models.MarketTypeSpot, 24),
		}
		svc, _ := newTestService(t, conn)

		_, err := svc.Ingest(ctx, IngestRequest{
			Symbol:      "SOLUSDT",
			Interval:    "1h",
			MarketTypes: []models.MarketType{models.MarketTypeSpot},
		})
		require.NoError(t, err)

		result, err := svc.Analyze(ctx, AnalyzeRequest{
			Symbol: "SOLUSDT",
			Start:  ingestStart,
			End:    ingestStart.Add(24 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, result.Exchanges, 1)
		assert.Len(t, result.Exchanges[0].Deltas, 4)
		assert.Len(t, result.Candles, 24)
	})

	t.Run("reads only the requested candle granularity", func(t *testing.T) {
		svc, store := newTestService(t, &fakeConnector{name: "binance"})

		// Four hourly candles plus one 4h candle covering the same hours.
		// Blending them would count the window's volume twice.
		candles := fakeCandles("binance", models.MarketTypeSpot, 4)
		fourHour := fakeCandle("binance", models.MarketTypeSpot, 0)
		fourHour.Interval = "4h"
		fourHour.Volume = "40.0"
		fourHour.QuoteVolume = "4000.0"
		_, err := store.UpsertCandles(ctx, append(candles, fourHour))
		require.NoError(t, err)

		hourly, err := svc.Analyze(ctx, AnalyzeRequest{
			Symbol: "SOLUSDT",
			Start:  ingestStart,
			End:    ingestStart.Add(4 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, hourly.Candles, 4)
		require.Len(t, hourly.Exchanges, 1)
		require.NotEmpty(t, hourly.Exchanges[0].Deltas)
		deltas := hourly.Exchanges[0].Deltas
		assert.Equal(t, "40", deltas[len(deltas)-1].VolumeTotal.String())

		coarse, err := svc.Analyze(ctx, AnalyzeRequest{
			Symbol:   "SOLUSDT",
			Interval: "4h",
			Start:    ingestStart,
			End:      ingestStart.Add(4 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, coarse.Candles, 1)
		assert.Equal(t, "4h", coarse.Candles[0].Interval)
	})

	t.Run("empty store yields an empty result", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeConnector{name: "binance"})

		result, err := svc.Analyze(ctx, AnalyzeRequest{
			Symbol: "SOLUSDT",
			Start:  ingestStart,
			End:    ingestStart.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, result.Exchanges)
	})
}

func TestServiceFundingStats(t *testing.T) {
	ctx := context.Background()

	t.Run("summarizes stored funding rates", func(t *testing.T) {
		conn := &fakeConnector{
			name:    "binance",
			candles: fakeCandles("binance", models.MarketTypePerp, 1),
			fundingRates: []models.FundingRate{
				{Exchange: "binance", Symbol: "SOLUSDT", FundingTime: ingestStart, FundingRate: "0.0001"},
				{Exchange: "binance", Symbol: "SOLUSDT", FundingTime: ingestStart.Add(8 * time.Hour), FundingRate: "0.0003"},
			},
		}
		svc, _ := newTestService(t, conn)

		_, err := svc.Ingest(ctx, IngestRequest{
			Symbol:      "SOLUSDT",
			Interval:    "1h",
			MarketTypes: []models.MarketType{models.MarketTypePerp},
		})
		require.NoError(t, err)

		summary, err := svc.FundingStats(ctx, "SOLUSDT", ingestStart, ingestStart.Add(24*time.Hour), 2)
		require.NoError(t, err)
		require.Len(t, summary.Series, 2)
		assert.Equal(t, "0.0003", summary.LatestByExchange["binance"].FundingRate)
	})
}

func TestServiceResolveSymbol(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the first resolving connector's symbol", func(t *testing.T) {
		a := &fakeConnector{name: "binance"}
		b := &fakeConnector{name: "bybit", resolved: "SOLUSDT"}
		svc, _ := newTestService(t, a, b)

		symbol, err := svc.ResolveSymbol(ctx, "SOL")
		require.NoError(t, err)
		assert.Equal(t, "SOLUSDT", symbol)
	})

	t.Run("errors when nothing resolves", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeConnector{name: "binance"})

		_, err := svc.ResolveSymbol(ctx, "NOPE")
		assert.Error(t, err)
	})
}

func TestSession(t *testing.T) {
	var s Session
	assert.False(t, s.Ready())

	s.BaseAsset = "SOL"
	s.Symbol = "SOLUSDT"
	assert.True(t, s.Ready())
}
