package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OpenInterestSnapshot represents the total outstanding derivative contracts
// for a symbol on one exchange at a point in time. The unique identity is
// (Exchange, Symbol, Timestamp). Some exchanges can only serve the current
// snapshot rather than history; that surfaces as a short sequence, not an
// error.
type OpenInterestSnapshot struct {
	Exchange          string    `json:"exchange" db:"exchange"`
	Symbol            string    `json:"symbol" db:"symbol"`
	Timestamp         time.Time `json:"timestamp" db:"timestamp"`
	OpenInterest      string    `json:"open_interest" db:"open_interest"`
	OpenInterestValue string    `json:"open_interest_value" db:"open_interest_value"`
}

// Validate checks the snapshot key fields and that the open interest values
// parse as non-negative decimals.
func (o *OpenInterestSnapshot) Validate() error {
	if o.Exchange == "" {
		return &ValidationError{Field: "exchange", Message: "exchange cannot be empty"}
	}
	if o.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if o.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}

	oi, err := decimal.NewFromString(o.OpenInterest)
	if err != nil {
		return &ValidationError{Field: "open_interest", Message: fmt.Sprintf("invalid open interest format: %v", err)}
	}
	if oi.IsNegative() {
		return &ValidationError{Field: "open_interest", Message: "open interest must be greater than or equal to 0"}
	}

	value, err := decimal.NewFromString(o.OpenInterestValue)
	if err != nil {
		return &ValidationError{Field: "open_interest_value", Message: fmt.Sprintf("invalid open interest value format: %v", err)}
	}
	if value.IsNegative() {
		return &ValidationError{Field: "open_interest_value", Message: "open interest value must be greater than or equal to 0"}
	}

	return nil
}

// GetOpenInterestDecimal returns the open interest as a decimal.Decimal.
func (o *OpenInterestSnapshot) GetOpenInterestDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(o.OpenInterest)
}

// String returns a human-readable representation of the snapshot.
func (o *OpenInterestSnapshot) String() string {
	return fmt.Sprintf("OpenInterest{%s %s @ %s, OI: %s, Value: %s}",
		o.Exchange, o.Symbol, o.Timestamp.Format(time.RFC3339), o.OpenInterest, o.OpenInterestValue)
}

// SortOpenInterest orders snapshots ascending by timestamp in place.
func SortOpenInterest(snapshots []OpenInterestSnapshot) {
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Timestamp.Before(snapshots[j].Timestamp)
	})
}

// DedupeOpenInterest removes snapshots whose timestamp repeats an earlier
// entry. The input must already be sorted ascending by timestamp.
func DedupeOpenInterest(snapshots []OpenInterestSnapshot) []OpenInterestSnapshot {
	if len(snapshots) < 2 {
		return snapshots
	}
	out := snapshots[:1]
	for _, s := range snapshots[1:] {
		if s.Timestamp.After(out[len(out)-1].Timestamp) {
			out = append(out, s)
		}
	}
	return out
}
