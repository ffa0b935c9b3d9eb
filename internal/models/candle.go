// Package models provides data structures and validation for multi-exchange
// market data. This package contains core data models for candles, open
// interest snapshots, and funding rates, along with interval normalization
// shared by every exchange connector.
package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MarketType identifies which market segment a record was collected from.
type MarketType string

const (
	// MarketTypeSpot marks records from a spot market.
	MarketTypeSpot MarketType = "spot"
	// MarketTypePerp marks records from a USDT-margined perpetual futures market.
	MarketTypePerp MarketType = "perp"
)

// Valid reports whether the market type is one of the known values.
func (m MarketType) Valid() bool {
	return m == MarketTypeSpot || m == MarketTypePerp
}

// Candle represents OHLCV price and volume data for one trading pair, on one
// exchange and market, at a time interval. The unique identity of a candle is
// (Exchange, MarketType, Symbol, Interval, OpenTime); everything else is a
// value field that later upserts may refresh.
type Candle struct {
	Exchange    string     `json:"exchange" db:"exchange"`
	MarketType  MarketType `json:"market_type" db:"market_type"`
	Symbol      string     `json:"symbol" db:"symbol"`
	Interval    string     `json:"interval" db:"interval"`
	OpenTime    time.Time  `json:"open_time" db:"open_time"`
	Open        string     `json:"open" db:"open"`
	High        string     `json:"high" db:"high"`
	Low         string     `json:"low" db:"low"`
	Close       string     `json:"close" db:"close"`
	Volume      string     `json:"volume" db:"volume"`
	QuoteVolume string     `json:"quote_volume" db:"quote_volume"`
}

// ValidationError represents a model validation error with field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message describes the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate performs validation on the candle data. It checks that the key
// fields are present, the timestamp is set and UTC-normalizable, all price
// fields parse as positive decimals, and the volumes are non-negative.
func (c *Candle) Validate() error {
	if c.Exchange == "" {
		return &ValidationError{Field: "exchange", Message: "exchange cannot be empty"}
	}
	if !c.MarketType.Valid() {
		return &ValidationError{Field: "market_type", Message: fmt.Sprintf("unknown market type %q", c.MarketType)}
	}
	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if c.Interval == "" {
		return &ValidationError{Field: "interval", Message: "interval cannot be empty"}
	}
	if c.OpenTime.IsZero() {
		return &ValidationError{Field: "open_time", Message: "open time cannot be zero"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}
	closePrice, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}
	quoteVolume, err := decimal.NewFromString(c.QuoteVolume)
	if err != nil {
		return &ValidationError{Field: "quote_volume", Message: fmt.Sprintf("invalid quote volume format: %v", err)}
	}

	zero := decimal.Zero
	if open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if closePrice.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}
	if volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}
	if quoteVolume.LessThan(zero) {
		return &ValidationError{Field: "quote_volume", Message: "quote volume must be greater than or equal to 0"}
	}

	if high.LessThan(decimal.Max(open, closePrice)) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close)", high),
		}
	}
	if low.GreaterThan(decimal.Min(open, closePrice)) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close)", low),
		}
	}

	return nil
}

// GetOpenDecimal returns the open price as a decimal.Decimal.
func (c *Candle) GetOpenDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Open)
}

// GetHighDecimal returns the high price as a decimal.Decimal.
func (c *Candle) GetHighDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.High)
}

// GetLowDecimal returns the low price as a decimal.Decimal.
func (c *Candle) GetLowDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Low)
}

// GetCloseDecimal returns the close price as a decimal.Decimal.
func (c *Candle) GetCloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Close)
}

// GetVolumeDecimal returns the base volume as a decimal.Decimal.
func (c *Candle) GetVolumeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Volume)
}

// GetTypicalPrice calculates the typical price (High + Low + Close) / 3,
// the representative price used for VWAP.
func (c *Candle) GetTypicalPrice() (decimal.Decimal, error) {
	high, err := c.GetHighDecimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse high price: %w", err)
	}
	low, err := c.GetLowDecimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse low price: %w", err)
	}
	closePrice, err := c.GetCloseDecimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse close price: %w", err)
	}

	return high.Add(low).Add(closePrice).Div(decimal.NewFromInt(3)), nil
}

// String returns a human-readable representation of the candle.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{%s/%s %s %s @ %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Exchange, c.MarketType, c.Symbol, c.Interval,
		c.OpenTime.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// SortCandles orders candles ascending by open time in place.
func SortCandles(candles []Candle) {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime.Before(candles[j].OpenTime)
	})
}

// DedupeCandles removes candles whose open time repeats an earlier entry.
// The input must already be sorted ascending by open time; providers can
// return overlapping rows near page boundaries.
func DedupeCandles(candles []Candle) []Candle {
	if len(candles) < 2 {
		return candles
	}
	out := candles[:1]
	for _, c := range candles[1:] {
		if c.OpenTime.After(out[len(out)-1].OpenTime) {
			out = append(out, c)
		}
	}
	return out
}
