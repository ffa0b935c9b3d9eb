package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

const (
	binanceName = "binance"

	binanceSpotBaseURL    = "https://api.binance.com"
	binanceFuturesBaseURL = "https://fapi.binance.com"

	binanceSpotKlinesEndpoint    = "/api/v3/klines"
	binanceFuturesKlinesEndpoint = "/fapi/v1/klines"
	binanceOpenInterestEndpoint  = "/futures/data/openInterestHist"
	binanceFundingEndpoint       = "/fapi/v1/fundingRate"
	binanceSpotTickerEndpoint    = "/api/v3/ticker/price"
	binanceFuturesTickerEndpoint = "/fapi/v1/ticker/price"

	binanceKlineLimit   = 1000
	binanceOILimit      = 500
	binanceFundingLimit = 1000
)

// BinanceOptions configures a Binance connector. Zero-valued fields fall back
// to the provider defaults; page limits are provider configuration, not
// invariants.
type BinanceOptions struct {
	SpotBaseURL    string
	FuturesBaseURL string
	KlineLimit     int
	OILimit        int
	FundingLimit   int
	RequestDelay   time.Duration
	Logger         *slog.Logger
}

// BinanceConnector implements the Connector interface for Binance.
type BinanceConnector struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	spotBaseURL    string
	futuresBaseURL string
	klineLimit     int
	oiLimit        int
	fundingLimit   int
	logger         *slog.Logger
}

// NewBinanceConnector creates a Binance connector with the given options.
func NewBinanceConnector(opts BinanceOptions) *BinanceConnector {
	if opts.SpotBaseURL == "" {
		opts.SpotBaseURL = binanceSpotBaseURL
	}
	if opts.FuturesBaseURL == "" {
		opts.FuturesBaseURL = binanceFuturesBaseURL
	}
	if opts.KlineLimit <= 0 {
		opts.KlineLimit = binanceKlineLimit
	}
	if opts.OILimit <= 0 {
		opts.OILimit = binanceOILimit
	}
	if opts.FundingLimit <= 0 {
		opts.FundingLimit = binanceFundingLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &BinanceConnector{
		httpClient:     newHTTPClient(),
		limiter:        newPageLimiter(opts.RequestDelay),
		spotBaseURL:    opts.SpotBaseURL,
		futuresBaseURL: opts.FuturesBaseURL,
		klineLimit:     opts.KlineLimit,
		oiLimit:        opts.OILimit,
		fundingLimit:   opts.FundingLimit,
		logger:         opts.Logger,
	}
}

// Name implements the Connector interface.
func (b *BinanceConnector) Name() string { return binanceName }

// Close implements the Connector interface.
func (b *BinanceConnector) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// ResolveSymbol implements the SymbolResolver interface. Binance lists
// USDT-quoted pairs on spot and futures under the same symbol; the spot
// market is probed first.
func (b *BinanceConnector) ResolveSymbol(ctx context.Context, baseAsset string) (string, error) {
	symbol := usdtSymbol(baseAsset)

	params := url.Values{}
	params.Set("symbol", symbol)
	if probe(ctx, b.httpClient, b.limiter, b.spotBaseURL, binanceSpotTickerEndpoint, params) {
		return symbol, nil
	}
	if probe(ctx, b.httpClient, b.limiter, b.futuresBaseURL, binanceFuturesTickerEndpoint, params) {
		return symbol, nil
	}
	return "", nil
}

// FetchCandles implements the CandleFetcher interface. Binance serves pages
// in ascending order within a page; the connector pages backward from the end
// of the range by moving the endTime cursor below each page's oldest row.
func (b *BinanceConnector) FetchCandles(ctx context.Context, req CandleRequest) ([]models.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	interval := models.NormalizeInterval(req.Interval)
	baseURL := b.spotBaseURL
	endpoint := binanceSpotKlinesEndpoint
	if req.MarketType == models.MarketTypePerp {
		baseURL = b.futuresBaseURL
		endpoint = binanceFuturesKlinesEndpoint
	}

	b.logger.Debug("fetching candles from Binance",
		"symbol", req.Symbol,
		"interval", interval,
		"market_type", req.MarketType,
		"start", req.Start,
		"end", req.End)

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(b.klineLimit))
	if !req.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(unixMilli(req.End), 10))
	}

	var candles []models.Candle
	prevCursor := int64(0)
	hasCursor := false

	for {
		body, err := getJSON(ctx, b.httpClient, b.limiter, binanceName, baseURL, endpoint, params)
		if err != nil {
			return nil, err
		}

		var rows [][]interface{}
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, &ProviderError{Exchange: binanceName, Endpoint: endpoint, Message: fmt.Sprintf("failed to parse klines response: %v", err)}
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			candle, err := b.parseKlineRow(row, req.Symbol, interval, req.MarketType)
			if err != nil {
				return nil, &ProviderError{Exchange: binanceName, Endpoint: endpoint, Message: err.Error()}
			}
			if !inRange(candle.OpenTime, req.Start, req.End) {
				continue
			}
			candles = append(candles, *candle)
		}

		// A partial page means the provider ran out of older data.
		if len(rows) < b.klineLimit {
			break
		}

		earliest, err := jsonNumber(rows[0][0])
		if err != nil {
			return nil, &ProviderError{Exchange: binanceName, Endpoint: endpoint, Message: fmt.Sprintf("invalid page open timestamp: %v", err)}
		}
		if !req.Start.IsZero() && earliest <= unixMilli(req.Start) {
			break
		}
		cursor := earliest - 1
		// The cursor must move strictly backward even if the provider
		// returns overlapping pages.
		if hasCursor && cursor >= prevCursor {
			break
		}
		prevCursor = cursor
		hasCursor = true
		params.Set("endTime", strconv.FormatInt(cursor, 10))
	}

	models.SortCandles(candles)
	candles = models.DedupeCandles(candles)

	b.logger.Debug("fetched candles from Binance", "symbol", req.Symbol, "count", len(candles))
	return candles, nil
}

// parseKlineRow converts one Binance kline array into a candle. Row layout:
// [openTime, open, high, low, close, volume, closeTime, quoteVolume, ...].
func (b *BinanceConnector) parseKlineRow(row []interface{}, symbol, interval string, marketType models.MarketType) (*models.Candle, error) {
	if len(row) < 8 {
		return nil, fmt.Errorf("kline row has %d fields, want at least 8", len(row))
	}
	openMs, err := jsonNumber(row[0])
	if err != nil {
		return nil, fmt.Errorf("invalid kline open time: %w", err)
	}
	return &models.Candle{
		Exchange:    binanceName,
		MarketType:  marketType,
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    fromMilli(openMs),
		Open:        jsonString(row[1]),
		High:        jsonString(row[2]),
		Low:         jsonString(row[3]),
		Close:       jsonString(row[4]),
		Volume:      jsonString(row[5]),
		QuoteVolume: jsonString(row[7]),
	}, nil
}

// binanceOpenInterestRow mirrors one entry of the openInterestHist response.
type binanceOpenInterestRow struct {
	Symbol               string `json:"symbol"`
	SumOpenInterest      string `json:"sumOpenInterest"`
	SumOpenInterestValue string `json:"sumOpenInterestValue"`
	Timestamp            int64  `json:"timestamp"`
}

// FetchOpenInterest implements the OpenInterestFetcher interface. The futures
// data endpoint returns ascending pages, so the connector pages forward by
// moving startTime past each page's newest row.
func (b *BinanceConnector) FetchOpenInterest(ctx context.Context, req OpenInterestRequest) ([]models.OpenInterestSnapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("period", binancePeriod(req.Interval))
	params.Set("limit", strconv.Itoa(b.oiLimit))
	if !req.Start.IsZero() {
		params.Set("startTime", strconv.FormatInt(unixMilli(req.Start), 10))
	}
	if !req.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(unixMilli(req.End), 10))
	}

	var snapshots []models.OpenInterestSnapshot
	prevCursor := int64(0)
	hasCursor := false

	for {
		body, err := getJSON(ctx, b.httpClient, b.limiter, binanceName, b.futuresBaseURL, binanceOpenInterestEndpoint, params)
		if err != nil {
			return nil, err
		}

		var rows []binanceOpenInterestRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, &ProviderError{Exchange: binanceName, Endpoint: binanceOpenInterestEndpoint, Message: fmt.Sprintf("failed to parse open interest response: %v", err)}
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			ts := fromMilli(row.Timestamp)
			if !inRange(ts, req.Start, req.End) {
				continue
			}
			snapshots = append(snapshots, models.OpenInterestSnapshot{
				Exchange:          binanceName,
				Symbol:            req.Symbol,
				Timestamp:         ts,
				OpenInterest:      row.SumOpenInterest,
				OpenInterestValue: row.SumOpenInterestValue,
			})
		}

		if len(rows) < b.oiLimit {
			break
		}

		cursor := rows[len(rows)-1].Timestamp + 1
		if !req.End.IsZero() && cursor > unixMilli(req.End) {
			break
		}
		if hasCursor && cursor <= prevCursor {
			break
		}
		prevCursor = cursor
		hasCursor = true
		params.Set("startTime", strconv.FormatInt(cursor, 10))
	}

	models.SortOpenInterest(snapshots)
	return models.DedupeOpenInterest(snapshots), nil
}

// binanceFundingRow mirrors one entry of the fundingRate response.
type binanceFundingRow struct {
	Symbol      string `json:"symbol"`
	FundingTime int64  `json:"fundingTime"`
	FundingRate string `json:"fundingRate"`
}

// FetchFundingRates implements the FundingFetcher interface, paging forward
// through the funding rate history.
func (b *BinanceConnector) FetchFundingRates(ctx context.Context, req FundingRequest) ([]models.FundingRate, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("limit", strconv.Itoa(b.fundingLimit))
	if !req.Start.IsZero() {
		params.Set("startTime", strconv.FormatInt(unixMilli(req.Start), 10))
	}
	if !req.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(unixMilli(req.End), 10))
	}

	var rates []models.FundingRate
	prevCursor := int64(0)
	hasCursor := false

	for {
		body, err := getJSON(ctx, b.httpClient, b.limiter, binanceName, b.futuresBaseURL, binanceFundingEndpoint, params)
		if err != nil {
			return nil, err
		}

		var rows []binanceFundingRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, &ProviderError{Exchange: binanceName, Endpoint: binanceFundingEndpoint, Message: fmt.Sprintf("failed to parse funding response: %v", err)}
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			ts := fromMilli(row.FundingTime)
			if !inRange(ts, req.Start, req.End) {
				continue
			}
			rates = append(rates, models.FundingRate{
				Exchange:    binanceName,
				Symbol:      req.Symbol,
				FundingTime: ts,
				FundingRate: row.FundingRate,
			})
		}

		if len(rows) < b.fundingLimit {
			break
		}

		cursor := rows[len(rows)-1].FundingTime + 1
		if !req.End.IsZero() && cursor > unixMilli(req.End) {
			break
		}
		if hasCursor && cursor <= prevCursor {
			break
		}
		prevCursor = cursor
		hasCursor = true
		params.Set("startTime", strconv.FormatInt(cursor, 10))
	}

	models.SortFundingRates(rates)
	return models.DedupeFundingRates(rates), nil
}

// binancePeriod translates a common interval label to the openInterestHist
// period code.
func binancePeriod(interval string) string {
	switch interval {
	case "1h", "4h", "1d":
		return interval
	default:
		return models.DefaultInterval
	}
}

// Compile-time interface compliance check
var _ Connector = (*BinanceConnector)(nil)
