package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

func newTestDuckDBStore(t *testing.T) *DuckDBStore {
	t.Helper()
	store, err := NewDuckDBStore(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

// assertDecimalEqual compares two decimal strings by value, ignoring their
// textual representation.
func assertDecimalEqual(t *testing.T, want, got string) {
	t.Helper()
	wantDec, err := decimal.NewFromString(want)
	require.NoError(t, err)
	gotDec, err := decimal.NewFromString(got)
	require.NoError(t, err)
	assert.True(t, wantDec.Equal(gotDec), "want %s, got %s", want, got)
}

func TestDuckDBStoreCandles(t *testing.T) {
	ctx := context.Background()

	t.Run("initialize is idempotent", func(t *testing.T) {
		store := newTestDuckDBStore(t)
		require.NoError(t, store.Initialize(ctx))
	})

	t.Run("upsert is idempotent", func(t *testing.T) {
		store := newTestDuckDBStore(t)
		batch := testCandles("binance", 5)

		n, err := store.UpsertCandles(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		n, err = store.UpsertCandles(ctx, batch)
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		count, err := store.CountCandles(ctx, CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		assert.Equal(t, int64(5), count)
	})

	t.Run("round-trips candle values", func(t *testing.T) {
		store := newTestDuckDBStore(t)

		_, err := store.UpsertCandles(ctx, testCandles("binance", 1))
		require.NoError(t, err)

		candles, err := store.QueryCandles(ctx, CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		require.Len(t, candles, 1)

		assert.Equal(t, "binance", candles[0].Exchange)
		assert.Equal(t, models.MarketTypeSpot, candles[0].MarketType)
		assert.Equal(t, "SOLUSDT", candles[0].Symbol)
		assert.Equal(t, storeWindowStart, candles[0].OpenTime)
		assertDecimalEqual(t, "100.5", candles[0].Open)
		assertDecimalEqual(t, "10.25", candles[0].Volume)
		assertDecimalEqual(t, "1025.5", candles[0].QuoteVolume)
	})

	t.Run("upsert overwrites the conflicting row", func(t *testing.T) {
		store := newTestDuckDBStore(t)

		_, err := store.UpsertCandles(ctx, testCandles("binance", 1))
		require.NoError(t, err)

		updated := testCandle("binance", 0)
		updated.Close = "123.45"
		updated.High = "124.0"
		_, err = store.UpsertCandles(ctx, []models.Candle{updated})
		require.NoError(t, err)

		candles, err := store.QueryCandles(ctx, CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		require.Len(t, candles, 1)
		assertDecimalEqual(t, "123.45", candles[0].Close)
	})

	t.Run("query filters by window and orders ascending", func(t *testing.T) {
		store := newTestDuckDBStore(t)

		_, err := store.UpsertCandles(ctx, testCandles("binance", 6))
		require.NoError(t, err)
		_, err = store.UpsertCandles(ctx, testCandles("bybit", 3))
		require.NoError(t, err)

		candles, err := store.QueryCandles(ctx, CandleQuery{
			Exchange: "binance",
			Start:    storeWindowStart.Add(time.Hour),
			End:      storeWindowStart.Add(4 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, candles, 4)
		for i := 1; i < len(candles); i++ {
			assert.True(t, candles[i].OpenTime.After(candles[i-1].OpenTime))
		}
	})

	t.Run("date range spans stored data", func(t *testing.T) {
		store := newTestDuckDBStore(t)

		_, err := store.UpsertCandles(ctx, testCandles("binance", 4))
		require.NoError(t, err)

		dr, err := store.CandleDateRange(ctx, CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		require.NotNil(t, dr)
		assert.Equal(t, storeWindowStart, dr.Earliest)
		assert.Equal(t, storeWindowStart.Add(3*time.Hour), dr.Latest)
	})

	t.Run("date range is nil for empty table", func(t *testing.T) {
		store := newTestDuckDBStore(t)

		dr, err := store.CandleDateRange(ctx, CandleQuery{Exchange: "binance"})
		require.NoError(t, err)
		assert.Nil(t, dr)
	})
}

func TestDuckDBStoreOpenInterest(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert is idempotent and reads ascending", func(t *testing.T) {
		store := newTestDuckDBStore(t)
		batch := testSnapshots("binance", 4)

		_, err := store.UpsertOpenInterest(ctx, batch)
		require.NoError(t, err)
		_, err = store.UpsertOpenInterest(ctx, batch)
		require.NoError(t, err)

		snapshots, err := store.QueryOpenInterest(ctx, SeriesQuery{Exchange: "binance"})
		require.NoError(t, err)
		require.Len(t, snapshots, 4)
		for i := 1; i < len(snapshots); i++ {
			assert.True(t, snapshots[i].Timestamp.After(snapshots[i-1].Timestamp))
		}
		assertDecimalEqual(t, "5000.5", snapshots[0].OpenInterest)

		count, err := store.CountOpenInterest(ctx, SeriesQuery{Exchange: "binance"})
		require.NoError(t, err)
		assert.Equal(t, int64(4), count)
	})
}

func TestDuckDBStoreFundingRates(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert is idempotent across exchanges", func(t *testing.T) {
		store := newTestDuckDBStore(t)

		for _, exchange := range []string{"binance", "bybit", "bitget"} {
			_, err := store.UpsertFundingRates(ctx, testFundingRates(exchange, 3))
			require.NoError(t, err)
			_, err = store.UpsertFundingRates(ctx, testFundingRates(exchange, 3))
			require.NoError(t, err)
		}

		all, err := store.QueryFundingRates(ctx, SeriesQuery{Symbol: "SOLUSDT"})
		require.NoError(t, err)
		assert.Len(t, all, 9)

		one, err := store.QueryFundingRates(ctx, SeriesQuery{Exchange: "bitget"})
		require.NoError(t, err)
		require.Len(t, one, 3)
		assertDecimalEqual(t, "0.0001", one[0].FundingRate)

		count, err := store.CountFundingRates(ctx, SeriesQuery{Symbol: "SOLUSDT"})
		require.NoError(t, err)
		assert.Equal(t, int64(9), count)
	})
}

func TestDuckDBStoreLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("health check succeeds on open store", func(t *testing.T) {
		store := newTestDuckDBStore(t)
		assert.NoError(t, store.HealthCheck(ctx))
	})

	t.Run("health check fails after close", func(t *testing.T) {
		store, err := NewDuckDBStore(":memory:", nil)
		require.NoError(t, err)
		require.NoError(t, store.Initialize(ctx))
		require.NoError(t, store.Close())
		assert.Error(t, store.HealthCheck(ctx))
	})
}
