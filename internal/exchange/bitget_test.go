package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// bitgetOK wraps a data payload in a successful v2 envelope.
func bitgetOK(t *testing.T, w http.ResponseWriter, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(bitgetEnvelope{Code: bitgetOKCode, Msg: "success", Data: raw}))
}

// serveBitgetCandles answers candle requests from a fixed hourly series in
// ascending order, returning the newest rows at or below the endTime cursor.
func serveBitgetCandles(t *testing.T, total int, pageLimit int) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		require.NoError(t, err)
		assert.Equal(t, pageLimit, limit)

		endMs := int64(0)
		if v := r.URL.Query().Get("endTime"); v != "" {
			endMs, err = strconv.ParseInt(v, 10, 64)
			require.NoError(t, err)
		}

		var rows [][]interface{}
		for idx := total - 1; idx >= 0 && len(rows) < limit; idx-- {
			openMs := unixMilli(testWindowStart) + int64(idx)*hourMs
			if endMs != 0 && openMs > endMs {
				continue
			}
			row := []interface{}{
				strconv.FormatInt(openMs, 10),
				fmt.Sprintf("%d.0", 100+idx),
				fmt.Sprintf("%d.0", 101+idx),
				fmt.Sprintf("%d.0", 99+idx),
				fmt.Sprintf("%d.0", 100+idx),
				"10.0",
				"1000.0",
			}
			rows = append([][]interface{}{row}, rows...)
		}
		bitgetOK(t, w, rows)
	}
}

func TestBitgetFetchCandles(t *testing.T) {
	t.Run("paginates backward over ascending pages", func(t *testing.T) {
		const total, pageLimit = 10, 4
		pages := 0

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, bitgetSpotCandlesEndpoint, r.URL.Path)
			assert.Equal(t, "1h", r.URL.Query().Get("granularity"))
			assert.Empty(t, r.URL.Query().Get("productType"))
			pages++
			serveBitgetCandles(t, total, pageLimit)(w, r)
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:        server.URL,
			SpotKlineLimit: pageLimit,
			RequestDelay:   time.Millisecond,
			Logger:         testLogger(),
		})

		candles, err := conn.FetchCandles(context.Background(), CandleRequest{
			Symbol:     testSymbol,
			Interval:   "1h",
			MarketType: models.MarketTypeSpot,
			Start:      testWindowStart,
			End:        testWindowStart.Add(time.Duration(total) * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, candles, total)
		assert.Equal(t, 3, pages)

		for i, candle := range candles {
			assert.Equal(t, testWindowStart.Add(time.Duration(i)*time.Hour), candle.OpenTime)
			assert.Equal(t, "bitget", candle.Exchange)
		}
		assert.Equal(t, "1000.0", candles[0].QuoteVolume)
	})

	t.Run("uses the futures history endpoint for perp markets", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, bitgetFuturesCandlesEndpoint, r.URL.Path)
			assert.Equal(t, "1H", r.URL.Query().Get("granularity"))
			assert.Equal(t, bitgetProductType, r.URL.Query().Get("productType"))
			serveBitgetCandles(t, 2, bitgetFuturesKlineLimit)(w, r)
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		candles, err := conn.FetchCandles(context.Background(), CandleRequest{
			Symbol:     testSymbol,
			Interval:   "1h",
			MarketType: models.MarketTypePerp,
		})
		require.NoError(t, err)
		require.Len(t, candles, 2)
		assert.Equal(t, models.MarketTypePerp, candles[0].MarketType)
	})

	t.Run("defaults missing quote volume to zero", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			openMs := unixMilli(testWindowStart)
			bitgetOK(t, w, [][]interface{}{{
				strconv.FormatInt(openMs, 10), "100.0", "101.0", "99.0", "100.5", "10.0",
			}})
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		candles, err := conn.FetchCandles(context.Background(), CandleRequest{
			Symbol:     testSymbol,
			Interval:   "1h",
			MarketType: models.MarketTypePerp,
		})
		require.NoError(t, err)
		require.Len(t, candles, 1)
		assert.Equal(t, "0", candles[0].QuoteVolume)
	})

	t.Run("converts a provider error code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewEncoder(w).Encode(bitgetEnvelope{
				Code: "40034",
				Msg:  "Parameter symbol does not exist",
			}))
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		_, err := conn.FetchCandles(context.Background(), CandleRequest{
			Symbol:     testSymbol,
			Interval:   "1h",
			MarketType: models.MarketTypeSpot,
		})
		require.Error(t, err)
		var providerErr *ProviderError
		require.ErrorAs(t, err, &providerErr)
		assert.Equal(t, "40034", providerErr.Code)
		assert.Equal(t, "bitget", providerErr.Exchange)
	})
}

func TestBitgetFetchOpenInterest(t *testing.T) {
	t.Run("returns a single current snapshot", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, bitgetOpenInterestEndpoint, r.URL.Path)
			assert.Equal(t, bitgetProductType, r.URL.Query().Get("productType"))
			bitgetOK(t, w, map[string]interface{}{
				"openInterestList": []map[string]string{{"size": "7500.75"}},
			})
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		before := time.Now().UTC()
		snapshots, err := conn.FetchOpenInterest(context.Background(), OpenInterestRequest{
			Symbol:   testSymbol,
			Interval: "1h",
		})
		require.NoError(t, err)
		require.Len(t, snapshots, 1)
		assert.Equal(t, "7500.75", snapshots[0].OpenInterest)
		assert.Equal(t, "0", snapshots[0].OpenInterestValue)
		assert.False(t, snapshots[0].Timestamp.Before(before))
	})

	t.Run("yields nothing when the window excludes the present", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bitgetOK(t, w, map[string]interface{}{
				"openInterestList": []map[string]string{{"size": "7500.75"}},
			})
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		snapshots, err := conn.FetchOpenInterest(context.Background(), OpenInterestRequest{
			Symbol:   testSymbol,
			Interval: "1h",
			Start:    testWindowStart,
			End:      testWindowStart.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, snapshots)
	})
}

func TestBitgetFetchFundingRates(t *testing.T) {
	t.Run("walks numbered pages until a partial page", func(t *testing.T) {
		const total, pageSize = 5, 2
		fundingInterval := 8 * time.Hour

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, bitgetFundingEndpoint, r.URL.Path)
			pageNo, err := strconv.Atoi(r.URL.Query().Get("pageNo"))
			require.NoError(t, err)

			// Pages run newest to oldest.
			var page []map[string]string
			first := total - 1 - (pageNo-1)*pageSize
			for idx := first; idx > first-pageSize && idx >= 0; idx-- {
				ts := unixMilli(testWindowStart.Add(time.Duration(idx) * fundingInterval))
				page = append(page, map[string]string{
					"fundingRate": fmt.Sprintf("0.000%d", idx+1),
					"fundingTime": strconv.FormatInt(ts, 10),
				})
			}
			bitgetOK(t, w, page)
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:         server.URL,
			FundingPageSize: pageSize,
			RequestDelay:    time.Millisecond,
			Logger:          testLogger(),
		})

		rates, err := conn.FetchFundingRates(context.Background(), FundingRequest{
			Symbol: testSymbol,
			Start:  testWindowStart,
			End:    testWindowStart.Add(time.Duration(total) * fundingInterval),
		})
		require.NoError(t, err)
		require.Len(t, rates, total)

		for i := 1; i < len(rates); i++ {
			assert.True(t, rates[i].FundingTime.After(rates[i-1].FundingTime))
		}
		assert.Equal(t, "0.0001", rates[0].FundingRate)
		assert.Equal(t, "bitget", rates[0].Exchange)
	})

	t.Run("stops once a page crosses the window start", func(t *testing.T) {
		const pageSize = 2
		fundingInterval := 8 * time.Hour
		pages := 0

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pages++
			pageNo, err := strconv.Atoi(r.URL.Query().Get("pageNo"))
			require.NoError(t, err)

			// An effectively unbounded history.
			var page []map[string]string
			for i := 0; i < pageSize; i++ {
				idx := (pageNo-1)*pageSize + i
				ts := unixMilli(testWindowStart.Add(-time.Duration(idx) * fundingInterval))
				page = append(page, map[string]string{
					"fundingRate": "0.0001",
					"fundingTime": strconv.FormatInt(ts, 10),
				})
			}
			bitgetOK(t, w, page)
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:         server.URL,
			FundingPageSize: pageSize,
			RequestDelay:    time.Millisecond,
			Logger:          testLogger(),
		})

		rates, err := conn.FetchFundingRates(context.Background(), FundingRequest{
			Symbol: testSymbol,
			Start:  testWindowStart.Add(-3 * fundingInterval),
			End:    testWindowStart,
		})
		require.NoError(t, err)
		require.Len(t, rates, 4)
		assert.Equal(t, 2, pages)
	})
}

func TestBitgetResolveSymbol(t *testing.T) {
	t.Run("resolves via the spot tickers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, bitgetSpotTickersEndpoint, r.URL.Path)
			bitgetOK(t, w, []map[string]string{{"symbol": "SOLUSDT"}})
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		symbol, err := conn.ResolveSymbol(context.Background(), "sol")
		require.NoError(t, err)
		assert.Equal(t, "SOLUSDT", symbol)
	})

	t.Run("falls back to the futures ticker", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case bitgetSpotTickersEndpoint:
				bitgetOK(t, w, []map[string]string{})
			case bitgetFuturesTickerEndpoint:
				assert.Equal(t, bitgetProductType, r.URL.Query().Get("productType"))
				bitgetOK(t, w, []map[string]string{{"symbol": "SOLUSDT"}})
			default:
				http.NotFound(w, r)
			}
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		symbol, err := conn.ResolveSymbol(context.Background(), "SOL")
		require.NoError(t, err)
		assert.Equal(t, "SOLUSDT", symbol)
	})

	t.Run("returns empty when nothing is listed", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bitgetOK(t, w, []map[string]string{})
		}))
		defer server.Close()

		conn := NewBitgetConnector(BitgetOptions{
			BaseURL:      server.URL,
			RequestDelay: time.Millisecond,
			Logger:       testLogger(),
		})

		symbol, err := conn.ResolveSymbol(context.Background(), "NOPE")
		require.NoError(t, err)
		assert.Empty(t, symbol)
	})
}
