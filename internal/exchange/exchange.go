// Package exchange defines the connector interface for exchanges that provide
// historical market data, and its Binance, Bybit, and Bitget implementations.
//
// Each connector reconciles its provider's pagination scheme (page-size
// limits, native response order, cursor direction) into one uniform contract:
// every fetch returns a bounds-filtered sequence in strictly ascending
// timestamp order. Connectors enforce a fixed minimum inter-request delay via
// a rate limiter but never retry; a failed page aborts the whole fetch and
// re-invocation is safe because downstream storage is idempotent.
package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// CandleFetcher retrieves OHLCV candle history from an exchange.
type CandleFetcher interface {
	// FetchCandles retrieves candles for a trading symbol and time range.
	//
	// A zero Start means backfill to the earliest data the provider retains;
	// a zero End defaults to now. The returned slice is filtered to
	// [Start, End], strictly ascending by open time, and free of duplicate
	// open times regardless of the provider's native page order.
	FetchCandles(ctx context.Context, req CandleRequest) ([]models.Candle, error)
}

// OpenInterestFetcher retrieves open interest history from an exchange.
//
// Providers differ in capability here: some serve real history, others only
// the current snapshot. A capability-limited provider yields a short or empty
// slice, never an error.
type OpenInterestFetcher interface {
	FetchOpenInterest(ctx context.Context, req OpenInterestRequest) ([]models.OpenInterestSnapshot, error)
}

// FundingFetcher retrieves funding rate history for perpetual contracts.
type FundingFetcher interface {
	FetchFundingRates(ctx context.Context, req FundingRequest) ([]models.FundingRate, error)
}

// SymbolResolver probes an exchange's markets for a tradable symbol.
type SymbolResolver interface {
	// ResolveSymbol returns the full trading symbol for a base asset (e.g.
	// "COAI" -> "COAIUSDT"), probing spot and derivatives markets in turn.
	// It returns "" with a nil error when the asset is not tradable anywhere
	// on the exchange; errors are reserved for transport failures.
	ResolveSymbol(ctx context.Context, baseAsset string) (string, error)
}

// Connector combines all capabilities an exchange implementation must
// provide. Implementations are stateless between calls: re-invoking a fetch
// with the same bounds reproduces the same logical record set.
type Connector interface {
	CandleFetcher
	OpenInterestFetcher
	FundingFetcher
	SymbolResolver

	// Name returns the lowercase exchange identifier used as the record key.
	Name() string

	// Close releases the connector's transport resources.
	Close() error
}

// CandleRequest specifies parameters for fetching candle history.
type CandleRequest struct {
	// Symbol is the full trading symbol (e.g., "COAIUSDT").
	Symbol string `json:"symbol"`

	// Interval is the common candle interval label ("1h", "4h", "1d").
	// Unrecognized labels fall back to the smallest supported granularity.
	Interval string `json:"interval"`

	// MarketType selects the spot or perpetual market.
	MarketType models.MarketType `json:"market_type"`

	// Start bounds the range from below (inclusive). Zero means the earliest
	// data the provider retains.
	Start time.Time `json:"start,omitempty"`

	// End bounds the range from above (inclusive). Zero means now.
	End time.Time `json:"end,omitempty"`
}

// Validate checks the request parameters.
func (r *CandleRequest) Validate() error {
	if r.Symbol == "" {
		return &models.ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !r.MarketType.Valid() {
		return &models.ValidationError{Field: "market_type", Message: fmt.Sprintf("unknown market type %q", r.MarketType)}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return &models.ValidationError{Field: "end", Message: "end time must not be before start time"}
	}
	return nil
}

// OpenInterestRequest specifies parameters for fetching open interest history.
type OpenInterestRequest struct {
	Symbol   string    `json:"symbol"`
	Interval string    `json:"interval"`
	Start    time.Time `json:"start,omitempty"`
	End      time.Time `json:"end,omitempty"`
}

// Validate checks the request parameters.
func (r *OpenInterestRequest) Validate() error {
	if r.Symbol == "" {
		return &models.ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return &models.ValidationError{Field: "end", Message: "end time must not be before start time"}
	}
	return nil
}

// FundingRequest specifies parameters for fetching funding rate history.
type FundingRequest struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start,omitempty"`
	End    time.Time `json:"end,omitempty"`
}

// Validate checks the request parameters.
func (r *FundingRequest) Validate() error {
	if r.Symbol == "" {
		return &models.ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return &models.ValidationError{Field: "end", Message: "end time must not be before start time"}
	}
	return nil
}

// TransportError represents a network or HTTP-level failure during a page
// fetch. It aborts the fetch entirely; the caller decides whether to retry
// the whole metric fetch.
type TransportError struct {
	// Exchange is the connector that issued the request.
	Exchange string

	// Endpoint is the provider endpoint path involved.
	Endpoint string

	// Err is the underlying error that caused the failure.
	Err error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s transport error on %s: %v", e.Exchange, e.Endpoint, e.Err)
}

// Unwrap returns the underlying error for error chain support.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProviderError represents a response with an explicit provider-side error
// code or an unexpected shape. Handled the same way as a TransportError.
type ProviderError struct {
	Exchange string
	Endpoint string
	Code     string
	Message  string
}

// Error implements the error interface for ProviderError.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s provider error on %s: code %s: %s", e.Exchange, e.Endpoint, e.Code, e.Message)
	}
	return fmt.Sprintf("%s provider error on %s: %s", e.Exchange, e.Endpoint, e.Message)
}

// usdtSymbol builds the USDT-quoted trading symbol for a base asset. All
// three supported exchanges list the pairs this system cares about under the
// same BASEUSDT naming.
func usdtSymbol(baseAsset string) string {
	return strings.ToUpper(baseAsset) + "USDT"
}

// inRange reports whether t falls inside [start, end]; zero bounds are open.
func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(start) {
		return false
	}
	if !end.IsZero() && t.After(end) {
		return false
	}
	return true
}
