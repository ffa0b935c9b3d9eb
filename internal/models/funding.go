package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// FundingRate represents one periodic funding payment rate between long and
// short holders of a perpetual contract. The rate is a decimal fraction
// (0.0001 = 0.01%) and may legitimately be negative. The unique identity is
// (Exchange, Symbol, FundingTime).
type FundingRate struct {
	Exchange    string    `json:"exchange" db:"exchange"`
	Symbol      string    `json:"symbol" db:"symbol"`
	FundingTime time.Time `json:"funding_time" db:"funding_time"`
	FundingRate string    `json:"funding_rate" db:"funding_rate"`
}

// Validate checks the key fields and that the rate parses as a decimal.
// Negative rates are valid; shorts pay longs.
func (f *FundingRate) Validate() error {
	if f.Exchange == "" {
		return &ValidationError{Field: "exchange", Message: "exchange cannot be empty"}
	}
	if f.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if f.FundingTime.IsZero() {
		return &ValidationError{Field: "funding_time", Message: "funding time cannot be zero"}
	}
	if _, err := decimal.NewFromString(f.FundingRate); err != nil {
		return &ValidationError{Field: "funding_rate", Message: fmt.Sprintf("invalid funding rate format: %v", err)}
	}
	return nil
}

// GetRateDecimal returns the funding rate as a decimal.Decimal.
func (f *FundingRate) GetRateDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(f.FundingRate)
}

// String returns a human-readable representation of the funding rate.
func (f *FundingRate) String() string {
	return fmt.Sprintf("FundingRate{%s %s @ %s, Rate: %s}",
		f.Exchange, f.Symbol, f.FundingTime.Format(time.RFC3339), f.FundingRate)
}

// SortFundingRates orders funding rates ascending by funding time in place.
func SortFundingRates(rates []FundingRate) {
	sort.Slice(rates, func(i, j int) bool {
		return rates[i].FundingTime.Before(rates[j].FundingTime)
	})
}

// DedupeFundingRates removes rates whose funding time repeats an earlier
// entry. The input must already be sorted ascending by funding time.
func DedupeFundingRates(rates []FundingRate) []FundingRate {
	if len(rates) < 2 {
		return rates
	}
	out := rates[:1]
	for _, r := range rates[1:] {
		if r.FundingTime.After(out[len(out)-1].FundingTime) {
			out = append(out, r)
		}
	}
	return out
}
