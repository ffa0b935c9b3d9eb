package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// fundingPeriodsPerDay assumes the common 8-hour funding interval. Symbols
// with a different interval would be misannualized; verify per provider
// before changing this.
const fundingPeriodsPerDay = 3

// DefaultFundingWindowPeriods is the rolling window used when the caller
// passes zero. Measured in funding periods, not calendar time.
const DefaultFundingWindowPeriods = 21

// FundingPoint is one observation of the cross-exchange funding series.
type FundingPoint struct {
	Time time.Time

	// Rate is the mean raw funding rate across exchanges at this
	// timestamp.
	Rate decimal.Decimal

	// RollingRate is the mean of Rate over the trailing window of funding
	// periods.
	RollingRate decimal.Decimal

	// AnnualizedPct is RollingRate annualized as a percentage.
	AnnualizedPct decimal.Decimal
}

// FundingSummary aggregates funding rates over a date window.
type FundingSummary struct {
	Symbol string
	Start  time.Time
	End    time.Time

	// Series is the per-timestamp cross-exchange series, ascending.
	Series []FundingPoint

	// AverageRate is the mean raw rate over the whole window.
	AverageRate decimal.Decimal

	// AnnualizedPct is AverageRate annualized as a percentage.
	AnnualizedPct decimal.Decimal

	// LatestByExchange holds the most recent observation per exchange.
	LatestByExchange map[string]models.FundingRate
}

// AnnualizeFundingRate converts a raw per-period funding rate into an
// annualized percentage: rate x periods/day x 365 x 100.
func AnnualizeFundingRate(rate decimal.Decimal) decimal.Decimal {
	return rate.
		Mul(decimal.NewFromInt(fundingPeriodsPerDay)).
		Mul(decimal.NewFromInt(365)).
		Mul(decimal.NewFromInt(100))
}

// ComputeFundingStats builds a funding summary from rates inside
// [start, end]. Rates are averaged across exchanges per timestamp, then
// smoothed over a rolling window of windowPeriods funding periods. The
// input must be ascending by funding time.
func ComputeFundingStats(symbol string, rates []models.FundingRate, start, end time.Time, windowPeriods int) (*FundingSummary, error) {
	if windowPeriods <= 0 {
		windowPeriods = DefaultFundingWindowPeriods
	}

	summary := &FundingSummary{
		Symbol:           symbol,
		Start:            start,
		End:              end,
		LatestByExchange: make(map[string]models.FundingRate),
	}

	// Per-timestamp cross-exchange mean, preserving chronological order.
	type slot struct {
		ts  time.Time
		sum decimal.Decimal
		n   int64
	}
	var slots []*slot
	index := make(map[time.Time]*slot)

	for _, rate := range rates {
		t := rate.FundingTime
		if (!start.IsZero() && t.Before(start)) || (!end.IsZero() && t.After(end)) {
			continue
		}

		value, err := rate.GetRateDecimal()
		if err != nil {
			return nil, err
		}

		s, ok := index[t]
		if !ok {
			s = &slot{ts: t}
			index[t] = s
			slots = append(slots, s)
		}
		s.sum = s.sum.Add(value)
		s.n++

		latest, seen := summary.LatestByExchange[rate.Exchange]
		if !seen || rate.FundingTime.After(latest.FundingTime) {
			summary.LatestByExchange[rate.Exchange] = rate
		}
	}

	if len(slots) == 0 {
		return summary, nil
	}

	means := make([]decimal.Decimal, len(slots))
	total := decimal.Zero
	for i, s := range slots {
		means[i] = s.sum.Div(decimal.NewFromInt(s.n))
		total = total.Add(means[i])
	}

	rollingSum := decimal.Zero
	for i, s := range slots {
		rollingSum = rollingSum.Add(means[i])
		if i >= windowPeriods {
			rollingSum = rollingSum.Sub(means[i-windowPeriods])
		}
		count := int64(i + 1)
		if count > int64(windowPeriods) {
			count = int64(windowPeriods)
		}
		rolling := rollingSum.Div(decimal.NewFromInt(count))

		summary.Series = append(summary.Series, FundingPoint{
			Time:          s.ts,
			Rate:          means[i],
			RollingRate:   rolling,
			AnnualizedPct: AnnualizeFundingRate(rolling),
		})
	}

	summary.AverageRate = total.Div(decimal.NewFromInt(int64(len(means))))
	summary.AnnualizedPct = AnnualizeFundingRate(summary.AverageRate)
	return summary, nil
}
