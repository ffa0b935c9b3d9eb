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
	bybitName = "bybit"

	bybitBaseURL = "https://api.bybit.com"

	bybitKlineEndpoint        = "/v5/market/kline"
	bybitOpenInterestEndpoint = "/v5/market/open-interest"
	bybitFundingEndpoint      = "/v5/market/funding/history"
	bybitTickersEndpoint      = "/v5/market/tickers"

	bybitKlineLimit   = 1000
	bybitOILimit      = 200
	bybitFundingLimit = 200
)

// BybitOptions configures a Bybit connector. Zero-valued fields fall back to
// the provider defaults.
type BybitOptions struct {
	BaseURL      string
	KlineLimit   int
	OILimit      int
	FundingLimit int
	RequestDelay time.Duration
	Logger       *slog.Logger
}

// BybitConnector implements the Connector interface for Bybit.
type BybitConnector struct {
	httpClient   *http.Client
	limiter      *rate.Limiter
	baseURL      string
	klineLimit   int
	oiLimit      int
	fundingLimit int
	logger       *slog.Logger
}

// NewBybitConnector creates a Bybit connector with the given options.
func NewBybitConnector(opts BybitOptions) *BybitConnector {
	if opts.BaseURL == "" {
		opts.BaseURL = bybitBaseURL
	}
	if opts.KlineLimit <= 0 {
		opts.KlineLimit = bybitKlineLimit
	}
	if opts.OILimit <= 0 {
		opts.OILimit = bybitOILimit
	}
	if opts.FundingLimit <= 0 {
		opts.FundingLimit = bybitFundingLimit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &BybitConnector{
		httpClient:   newHTTPClient(),
		limiter:      newPageLimiter(opts.RequestDelay),
		baseURL:      opts.BaseURL,
		klineLimit:   opts.KlineLimit,
		oiLimit:      opts.OILimit,
		fundingLimit: opts.FundingLimit,
		logger:       opts.Logger,
	}
}

// Name implements the Connector interface.
func (b *BybitConnector) Name() string { return bybitName }

// Close implements the Connector interface.
func (b *BybitConnector) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

// bybitEnvelope is the common response wrapper of every v5 endpoint.
type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// unwrap decodes the v5 envelope and converts provider-side error codes into
// a ProviderError.
func (b *BybitConnector) unwrap(body []byte, endpoint string) (json.RawMessage, error) {
	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ProviderError{Exchange: bybitName, Endpoint: endpoint, Message: fmt.Sprintf("failed to parse response envelope: %v", err)}
	}
	if env.RetCode != 0 {
		return nil, &ProviderError{Exchange: bybitName, Endpoint: endpoint, Code: strconv.Itoa(env.RetCode), Message: env.RetMsg}
	}
	return env.Result, nil
}

// ResolveSymbol implements the SymbolResolver interface, probing the spot and
// linear (perpetual) categories in turn.
func (b *BybitConnector) ResolveSymbol(ctx context.Context, baseAsset string) (string, error) {
	symbol := usdtSymbol(baseAsset)

	for _, category := range []string{"spot", "linear"} {
		params := url.Values{}
		params.Set("category", category)
		params.Set("symbol", symbol)

		body, err := getJSON(ctx, b.httpClient, b.limiter, bybitName, b.baseURL, bybitTickersEndpoint, params)
		if err != nil {
			continue
		}
		result, err := b.unwrap(body, bybitTickersEndpoint)
		if err != nil {
			continue
		}
		var tickers struct {
			List []json.RawMessage `json:"list"`
		}
		if err := json.Unmarshal(result, &tickers); err != nil {
			continue
		}
		if len(tickers.List) > 0 {
			return symbol, nil
		}
	}
	return "", nil
}

// FetchCandles implements the CandleFetcher interface. Bybit serves pages
// newest-first; the connector pages backward by moving the end cursor below
// each page's oldest row, then normalizes to ascending order.
func (b *BybitConnector) FetchCandles(ctx context.Context, req CandleRequest) ([]models.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	interval := models.NormalizeInterval(req.Interval)
	category := "spot"
	if req.MarketType == models.MarketTypePerp {
		category = "linear"
	}

	b.logger.Debug("fetching candles from Bybit",
		"symbol", req.Symbol,
		"interval", interval,
		"category", category,
		"start", req.Start,
		"end", req.End)

	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", req.Symbol)
	params.Set("interval", bybitInterval(interval))
	params.Set("limit", strconv.Itoa(b.klineLimit))
	if !req.End.IsZero() {
		params.Set("end", strconv.FormatInt(unixMilli(req.End), 10))
	}

	var candles []models.Candle
	prevCursor := int64(0)
	hasCursor := false

	for {
		body, err := getJSON(ctx, b.httpClient, b.limiter, bybitName, b.baseURL, bybitKlineEndpoint, params)
		if err != nil {
			return nil, err
		}
		result, err := b.unwrap(body, bybitKlineEndpoint)
		if err != nil {
			return nil, err
		}

		var payload struct {
			List [][]string `json:"list"`
		}
		if err := json.Unmarshal(result, &payload); err != nil {
			return nil, &ProviderError{Exchange: bybitName, Endpoint: bybitKlineEndpoint, Message: fmt.Sprintf("failed to parse kline list: %v", err)}
		}
		if len(payload.List) == 0 {
			break
		}

		for _, row := range payload.List {
			candle, err := b.parseKlineRow(row, req.Symbol, interval, req.MarketType)
			if err != nil {
				return nil, &ProviderError{Exchange: bybitName, Endpoint: bybitKlineEndpoint, Message: err.Error()}
			}
			if !inRange(candle.OpenTime, req.Start, req.End) {
				continue
			}
			candles = append(candles, *candle)
		}

		if len(payload.List) < b.klineLimit {
			break
		}

		// The list is newest-first, so its last row holds the page's oldest
		// open time.
		earliest, err := strconv.ParseInt(payload.List[len(payload.List)-1][0], 10, 64)
		if err != nil {
			return nil, &ProviderError{Exchange: bybitName, Endpoint: bybitKlineEndpoint, Message: fmt.Sprintf("invalid page open timestamp: %v", err)}
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
		params.Set("end", strconv.FormatInt(cursor, 10))
	}

	models.SortCandles(candles)
	candles = models.DedupeCandles(candles)

	b.logger.Debug("fetched candles from Bybit", "symbol", req.Symbol, "count", len(candles))
	return candles, nil
}

// parseKlineRow converts one Bybit kline row into a candle. Row layout:
// [startTime, open, high, low, close, volume, turnover].
func (b *BybitConnector) parseKlineRow(row []string, symbol, interval string, marketType models.MarketType) (*models.Candle, error) {
	if len(row) < 7 {
		return nil, fmt.Errorf("kline row has %d fields, want at least 7", len(row))
	}
	openMs, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid kline open time: %w", err)
	}
	return &models.Candle{
		Exchange:    bybitName,
		MarketType:  marketType,
		Symbol:      symbol,
		Interval:    interval,
		OpenTime:    fromMilli(openMs),
		Open:        row[1],
		High:        row[2],
		Low:         row[3],
		Close:       row[4],
		Volume:      row[5],
		QuoteVolume: row[6],
	}, nil
}

// FetchOpenInterest implements the OpenInterestFetcher interface. Bybit keeps
// no deep open interest history; a single request returns the recent snapshot
// window and a shorter-than-requested sequence is the expected outcome.
func (b *BybitConnector) FetchOpenInterest(ctx context.Context, req OpenInterestRequest) ([]models.OpenInterestSnapshot, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	params := url.Values{}
	params.Set("category", "linear")
	params.Set("symbol", req.Symbol)
	params.Set("intervalTime", bybitOIInterval(req.Interval))
	params.Set("limit", strconv.Itoa(b.oiLimit))

	body, err := getJSON(ctx, b.httpClient, b.limiter, bybitName, b.baseURL, bybitOpenInterestEndpoint, params)
	if err != nil {
		return nil, err
	}
	result, err := b.unwrap(body, bybitOpenInterestEndpoint)
	if err != nil {
		return nil, err
	}

	var payload struct {
		List []struct {
			OpenInterest string `json:"openInterest"`
			Timestamp    string `json:"timestamp"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, &ProviderError{Exchange: bybitName, Endpoint: bybitOpenInterestEndpoint, Message: fmt.Sprintf("failed to parse open interest list: %v", err)}
	}

	var snapshots []models.OpenInterestSnapshot
	for _, item := range payload.List {
		ms, err := strconv.ParseInt(item.Timestamp, 10, 64)
		if err != nil {
			return nil, &ProviderError{Exchange: bybitName, Endpoint: bybitOpenInterestEndpoint, Message: fmt.Sprintf("invalid open interest timestamp: %v", err)}
		}
		ts := fromMilli(ms)
		if !inRange(ts, req.Start, req.End) {
			continue
		}
		snapshots = append(snapshots, models.OpenInterestSnapshot{
			Exchange:     bybitName,
			Symbol:       req.Symbol,
			Timestamp:    ts,
			OpenInterest: item.OpenInterest,
			// Bybit does not report the notional value.
			OpenInterestValue: "0",
		})
	}

	models.SortOpenInterest(snapshots)
	return models.DedupeOpenInterest(snapshots), nil
}

// FetchFundingRates implements the FundingFetcher interface, paging backward
// through the newest-first funding history.
func (b *BybitConnector) FetchFundingRates(ctx context.Context, req FundingRequest) ([]models.FundingRate, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	params := url.Values{}
	params.Set("category", "linear")
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
		body, err := getJSON(ctx, b.httpClient, b.limiter, bybitName, b.baseURL, bybitFundingEndpoint, params)
		if err != nil {
			return nil, err
		}
		result, err := b.unwrap(body, bybitFundingEndpoint)
		if err != nil {
			return nil, err
		}

		var payload struct {
			List []struct {
				FundingRate          string `json:"fundingRate"`
				FundingRateTimestamp string `json:"fundingRateTimestamp"`
			} `json:"list"`
		}
		if err := json.Unmarshal(result, &payload); err != nil {
			return nil, &ProviderError{Exchange: bybitName, Endpoint: bybitFundingEndpoint, Message: fmt.Sprintf("failed to parse funding list: %v", err)}
		}
		if len(payload.List) == 0 {
			break
		}

		earliest := int64(0)
		for _, item := range payload.List {
			ms, err := strconv.ParseInt(item.FundingRateTimestamp, 10, 64)
			if err != nil {
				return nil, &ProviderError{Exchange: bybitName, Endpoint: bybitFundingEndpoint, Message: fmt.Sprintf("invalid funding timestamp: %v", err)}
			}
			if earliest == 0 || ms < earliest {
				earliest = ms
			}
			ts := fromMilli(ms)
			if !inRange(ts, req.Start, req.End) {
				continue
			}
			rates = append(rates, models.FundingRate{
				Exchange:    bybitName,
				Symbol:      req.Symbol,
				FundingTime: ts,
				FundingRate: item.FundingRate,
			})
		}

		if len(payload.List) < b.fundingLimit {
			break
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

	models.SortFundingRates(rates)
	return models.DedupeFundingRates(rates), nil
}

// bybitOIInterval translates a common interval label to the open-interest
// intervalTime code, which uses a different alphabet than the kline codes.
func bybitOIInterval(interval string) string {
	switch interval {
	case "1h", "4h", "1d":
		return interval
	default:
		return models.DefaultInterval
	}
}

// bybitInterval translates a common interval label to the v5 interval code.
func bybitInterval(interval string) string {
	switch interval {
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return "60"
	}
}

// Compile-time interface compliance check
var _ Connector = (*BybitConnector)(nil)
