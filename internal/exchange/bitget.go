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
	bitgetName = "bitget"

	bitgetBaseURL = "https://api.bitget.com"

	bitgetSpotCandlesEndpoint    = "/api/v2/spot/market/candles"
	bitgetFuturesCandlesEndpoint = "/api/v2/mix/market/history-candles"
	bitgetOpenInterestEndpoint   = "/api/v2/mix/market/open-interest"
	bitgetFundingEndpoint        = "/api/v2/mix/market/history-fund-rate"
	bitgetSpotTickersEndpoint    = "/api/v2/spot/market/tickers"
	bitgetFuturesTickerEndpoint  = "/api/v2/mix/market/ticker"

	bitgetProductType = "USDT-FUTURES"

	bitgetSpotKlineLimit    = 1000
	bitgetFuturesKlineLimit = 200
	bitgetFundingPageSize   = 100

	bitgetOKCode = "00000"
)

// BitgetOptions configures a Bitget connector. Zero-valued fields fall back
// to the provider defaults.
type BitgetOptions struct {
	BaseURL           string
	SpotKlineLimit    int
	FuturesKlineLimit int
	FundingPageSize   int
	RequestDelay      time.Duration
	Logger            *slog.Logger
}

// BitgetConnector implements the Connector interface for Bitget.
type BitgetConnector struct {
	httpClient        *http.Client
	limiter           *rate.Limiter
	baseURL           string
	spotKlineLimit    int
	futuresKlineLimit int
	fundingPageSize   int
	logger            *slog.Logger
}

// NewBitgetConnector creates a Bitget connector with the given options.
func NewBitgetConnector(opts BitgetOptions) *BitgetConnector {
	if opts.BaseURL == "" {
		opts.BaseURL = bitgetBaseURL
	}
	if opts.SpotKlineLimit <= 0 {
		opts.SpotKlineLimit = bitgetSpotKlineLimit
	}
	if opts.FuturesKlineLimit <= 0 {
		opts.FuturesKlineLimit = bitgetFuturesKlineLimit
	}
	if opts.FundingPageSize <= 0 {
		opts.FundingPageSize = bitgetFundingPageSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &BitgetConnector{
		httpClient:        newHTTPClient(),
		limiter:           newPageLimiter(opts.RequestDelay),
		baseURL:           opts.BaseURL,
		spotKlineLimit:    opts.SpotKlineLimit,
		futuresKlineLimit: opts.FuturesKlineLimit,
		fundingPageSize:   opts.FundingPageSize,
		logger:            opts.Logger,
	}
}

// Name implements the Connector interface.
func (b *BitgetConnector) Name() string { return bitgetName }

// Close implements the Connector interface.
func (b *BitgetConnector) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// bitgetEnvelope is the common response wrapper of every v2 endpoint.
type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// unwrap decodes the v2 envelope and converts provider-side error codes into
// a ProviderError.
func (b *BitgetConnector) unwrap(body []byte, endpoint string) (json.RawMessage, error) {
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ProviderError{Exchange: bitgetName, Endpoint: endpoint, Message: fmt.Sprintf("failed to parse response envelope: %v", err)}
	}
	if env.Code != bitgetOKCode {
		return nil, &ProviderError{Exchange: bitgetName, Endpoint: endpoint, Code: env.Code, Message: env.Msg}
	}
	return env.Data, nil
}

// ResolveSymbol implements the SymbolResolver interface, probing the spot
// tickers and the USDT-futures ticker in turn.
func (b *BitgetConnector) ResolveSymbol(ctx context.Context, baseAsset string) (string, error) {
	symbol := usdtSymbol(baseAsset)

	spotParams := url.Values{}
	spotParams.Set("symbol", symbol)
	if b.hasTicker(ctx, bitgetSpotTickersEndpoint, spotParams) {
		return symbol, nil
	}

	futuresParams := url.Values{}
	futuresParams.Set("symbol", symbol)
	futuresParams.Set("productType", bitgetProductType)
	if b.hasTicker(ctx, bitgetFuturesTickerEndpoint, futuresParams) {
		return symbol, nil
	}
	return "", nil
}

func (b *BitgetConnector) hasTicker(ctx context.Context, endpoint string, params url.Values) bool {
	body, err := getJSON(ctx, b.httpClient, b.limiter, bitgetName, b.baseURL, endpoint, params)
	if err != nil {
		return false
	}
	data, err := b.unwrap(body, endpoint)
	if err != nil {
		return false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return false
	}
	return len(list) > 0
}

// FetchCandles implements the CandleFetcher interface. Bitget serves pages in
// ascending order, so the backward cursor is the first row's open time.
func (b *BitgetConnector) FetchCandles(ctx context.Context, req CandleRequest) ([]models.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	interval := models.NormalizeInterval(req.Interval)

	endpoint := bitgetSpotCandlesEndpoint
	limit := b.spotKlineLimit
	if req.MarketType == models.MarketTypePerp {
		endpoint = bitgetFuturesCandlesEndpoint
		limit = b.futuresKlineLimit
	}

	b.logger.Debug("fetching candles from Bitget",
		"symbol", req.Symbol,
		"interval", interval,
		"market_type", req.MarketType,
		"start", req.Start,
		"end", req.End)

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("granularity", bitgetGranularity(interval, req.MarketType))
	params.Set("limit", strconv.Itoa(limit))
	if req.MarketType == models.MarketTypePerp {
		params.Set("productType", bitgetProductType)
	}
	if !req.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(unixMilli(req.End), 10))
	}

	var candles []models.Candle
	prevCursor := int64(0)
	hasCursor := false

	for {
		body, err := getJSON(ctx, b.httpClient, b.limiter, bitgetName, b.baseURL, endpoint, params)
		if err != nil {
			return nil, err
		}
		data, err := b.unwrap(body, endpoint)
		if err != nil {
			return nil, err
		}

		var rows [][]interface{}
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, &ProviderError{Exchange: bitgetName, Endpoint: endpoint, Message: fmt.Sprintf("failed to parse candle rows: %v", err)}
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			candle, err := b.parseCandleRow(row, req.Symbol, interval, req.MarketType)
			if err != nil {
				return nil, &ProviderError{Exchange: bitgetName, Endpoint: endpoint, Message: err.Error()}
			}
			if !inRange(candle.OpenTime, req.Start, req.End) {
				continue
			}
			candles = append(candles, *candle)
		}

		if len(rows) < limit {
			break
		}

		// Rows are ascending, so the first row holds the page's oldest open
		// time.
		earliest, err := jsonNumber(rows[0][0])
		if err != nil {
			return nil, &ProviderError{Exchange: bitgetName, Endpoint: endpoint, Message: fmt.Sprintf("invalid page open timestamp: %v", err)}
		}
		if !req.Start.IsZero() && earliest <= unixMilli(req.Start) {
			break
		}
		cursor := earliest - 1
		if hasCursor && cursor >= prevCursor {
			break
		}
		prevCursor = cursor
		hasCursor = true
		params.Set("endTime", strconv.FormatInt(cursor, 10))
	}

	models.SortCandles(candles)
	candles = models.DedupeCandles(candles)

	b.logger.Debug("fetched candles from Bitget", "symbol", req.Symbol, "count", len(candles))
	return candles, nil
}

// parseCandleRow converts one Bitget candle row into a candle. Row layout:
// [ts, open, high, low, close, baseVolume, quoteVolume, ...]; futures rows
// may omit the quote volume.
func (b *BitgetConnector) parseCandleRow(row []interface{}, symbol, interval string, marketType models.MarketType) (*models.Candle, error) {
	if len(row) < 6 {
		return nil, fmt.Errorf("candle row has %d fields, want at least 6", len(row))
	}
	openMs, err := jsonNumber(row[0])
	if err != nil {
		return nil, fmt.Errorf("invalid candle open time: %w", err)
	}
	quoteVolume := "0"
	if len(row) > 6 {
		quoteVolume = jsonString(row[6])
	}
	return &models.Candle{
		Exchange:    bitgetName,
		MarketType:  marketType,
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    fromMilli(openMs),
		Open:        jsonString(row[1]),
		High:        jsonString(row[2]),
		Low:         jsonString(row[3]),
		Close:       jsonString(row[4]),
		Volume:      jsonString(row[5]),
		QuoteVolume: quoteVolume,
	}, nil
}

// FetchOpenInterest implements the OpenInterestFetcher interface. Bitget only
// exposes the current open interest, so the result is at most one snapshot
// stamped with the fetch time. Callers treat the short sequence as a
// capability gap.
func (b *BitgetConnector) FetchOpenInterest(ctx context.Context, req OpenInterestRequest) ([]models.OpenInterestSnapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("productType", bitgetProductType)

	body, err := getJSON(ctx, b.httpClient, b.limiter, bitgetName, b.baseURL, bitgetOpenInterestEndpoint, params)
	if err != nil {
		return nil, err
	}
	data, err := b.unwrap(body, bitgetOpenInterestEndpoint)
	if err != nil {
		return nil, err
	}

	var payload struct {
		OpenInterestList []struct {
			Size string `json:"size"`
		} `json:"openInterestList"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &ProviderError{Exchange: bitgetName, Endpoint: bitgetOpenInterestEndpoint, Message: fmt.Sprintf("failed to parse open interest: %v", err)}
	}
	if len(payload.OpenInterestList) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	if !inRange(now, req.Start, req.End) {
		return nil, nil
	}
	return []models.OpenInterestSnapshot{{
		Exchange:     bitgetName,
		Symbol:       req.Symbol,
		Timestamp:    now,
		OpenInterest: payload.OpenInterestList[0].Size,
		// Bitget does not report the notional value.
		OpenInterestValue: "0",
	}}, nil
}

// FetchFundingRates implements the FundingFetcher interface, walking the
// page-numbered funding history until a partial page.
func (b *BitgetConnector) FetchFundingRates(ctx context.Context, req FundingRequest) ([]models.FundingRate, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	var rates []models.FundingRate

	for pageNo := 1; ; pageNo++ {
		params := url.Values{}
		params.Set("symbol", req.Symbol)
		params.Set("productType", bitgetProductType)
		params.Set("pageSize", strconv.Itoa(b.fundingPageSize))
		params.Set("pageNo", strconv.Itoa(pageNo))

		body, err := getJSON(ctx, b.httpClient, b.limiter, bitgetName, b.baseURL, bitgetFundingEndpoint, params)
		if err != nil {
			return nil, err
		}
		data, err := b.unwrap(body, bitgetFundingEndpoint)
		if err != nil {
			return nil, err
		}

		var page []struct {
			FundingRate string `json:"fundingRate"`
			FundingTime string `json:"fundingTime"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, &ProviderError{Exchange: bitgetName, Endpoint: bitgetFundingEndpoint, Message: fmt.Sprintf("failed to parse funding page: %v", err)}
		}
		if len(page) == 0 {
			break
		}

		earliest := int64(0)
		for _, item := range page {
			ms, err := strconv.ParseInt(item.FundingTime, 10, 64)
			if err != nil {
				return nil, &ProviderError{Exchange: bitgetName, Endpoint: bitgetFundingEndpoint, Message: fmt.Sprintf("invalid funding timestamp: %v", err)}
			}
			if earliest == 0 || ms < earliest {
				earliest = ms
			}
			ts := fromMilli(ms)
			if !inRange(ts, req.Start, req.End) {
				continue
			}
			rates = append(rates, models.FundingRate{
				Exchange:    bitgetName,
				Symbol:      req.Symbol,
				FundingTime: ts,
				FundingRate: item.FundingRate,
			})
		}

		if len(page) < b.fundingPageSize {
			break
		}
		// Pages run newest to oldest; stop once a page reaches below the
		// window start.
		if !req.Start.IsZero() && earliest <= unixMilli(req.Start) {
			break
		}
	}

	models.SortFundingRates(rates)
	return models.DedupeFundingRates(rates), nil
}

// bitgetGranularity translates a common interval label to the endpoint's
// granularity code. Spot and futures use different casing.
func bitgetGranularity(interval string, marketType models.MarketType) string {
	if marketType == models.MarketTypePerp {
		switch interval {
		case "1h":
			return "1H"
		case "4h":
			return "4H"
		case "1d":
			return "1D"
		default:
			return "1H"
		}
	}
	switch interval {
	case "1h":
		return "1h"
	case "4h":
		return "4h"
	case "1d":
		return "1day"
	default:
		return "1h"
	}
}

// Compile-time interface compliance check
var _ Connector = (*BitgetConnector)(nil)
