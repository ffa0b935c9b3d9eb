// Package analysis turns stored market data series into comparable
// per-exchange and cross-exchange timeframe metrics: price deltas, VWAP,
// open interest changes, and funding statistics. All math runs on
// decimal.Decimal; results are derived values owned by the caller and never
// mutated after construction.
package analysis

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// DefaultTimeframes are the lookback labels used when the caller does not
// request specific ones.
var DefaultTimeframes = []string{"1h", "4h", "12h", "24h"}

var timeframeDurations = map[string]time.Duration{
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"12h": 12 * time.Hour,
	"24h": 24 * time.Hour,
}

// TimeframeDuration returns the lookback duration for a timeframe label.
// Unrecognized labels fall back to the smallest supported lookback.
func TimeframeDuration(label string) time.Duration {
	if d, ok := timeframeDurations[label]; ok {
		return d
	}
	return time.Hour
}

// TimeframeDelta holds the metrics of one lookback window for one
// (exchange, market type) group. The open interest fields are nil when no
// snapshot fell inside the window, which is distinct from a zero change.
type TimeframeDelta struct {
	Timeframe     string
	PriceStart    decimal.Decimal
	PriceEnd      decimal.Decimal
	PriceDelta    decimal.Decimal
	PriceDeltaPct decimal.Decimal
	VolumeTotal   decimal.Decimal
	VWAP          decimal.Decimal
	OIStart       *decimal.Decimal
	OIEnd         *decimal.Decimal
	OIDelta       *decimal.Decimal
}

// RollingVWAPWindow is the trailing candle count of the rolling VWAP series
// attached to each exchange group.
const RollingVWAPWindow = 24

// ExchangeAnalysis groups the timeframe deltas of one exchange and market
// type. RollingVWAP spans the group's full candle window at one point per
// candle.
type ExchangeAnalysis struct {
	Exchange    string
	MarketType  models.MarketType
	Deltas      []TimeframeDelta
	RollingVWAP []VWAPPoint
}

// Result is the outcome of one analysis call over a date window. It keeps
// the raw series alongside the derived deltas so callers can run further
// computations without re-reading the store.
type Result struct {
	Symbol    string
	Start     time.Time
	End       time.Time
	Exchanges []ExchangeAnalysis

	Candles      []models.Candle
	OpenInterest []models.OpenInterestSnapshot
	FundingRates []models.FundingRate
}

// Calculator computes timeframe deltas from pre-filtered series.
type Calculator struct {
	logger *slog.Logger
}

// NewCalculator creates a calculator. A nil logger falls back to the
// default.
func NewCalculator(logger *slog.Logger) *Calculator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Calculator{logger: logger}
}

// Calculate produces per-(exchange, market type) timeframe deltas for the
// window [start, end]. The candle set must already be filtered to the
// window; open interest attaches to perp groups only. A group with no
// candles in a lookback window silently omits that timeframe.
func (c *Calculator) Calculate(symbol string, candles []models.Candle, openInterest []models.OpenInterestSnapshot, fundingRates []models.FundingRate, start, end time.Time, timeframes []string) (*Result, error) {
	if len(timeframes) == 0 {
		timeframes = DefaultTimeframes
	}

	result := &Result{
		Symbol:       symbol,
		Start:        start,
		End:          end,
		Candles:      candles,
		OpenInterest: openInterest,
		FundingRates: fundingRates,
	}

	groups := groupCandles(candles)
	oiByExchange := groupOpenInterest(openInterest)

	for _, group := range groups {
		ea := ExchangeAnalysis{Exchange: group.exchange, MarketType: group.marketType}

		for _, label := range timeframes {
			windowStart := end.Add(-TimeframeDuration(label))
			if windowStart.Before(start) {
				windowStart = start
			}

			windowCandles := candlesInWindow(group.candles, windowStart, end)
			if len(windowCandles) == 0 {
				continue
			}

			delta, err := computeDelta(label, windowCandles)
			if err != nil {
				return nil, fmt.Errorf("computing %s delta for %s %s: %w", label, group.exchange, group.marketType, err)
			}

			if group.marketType == models.MarketTypePerp {
				if err := attachOpenInterest(delta, oiByExchange[group.exchange], windowStart, end); err != nil {
					return nil, fmt.Errorf("attaching open interest for %s: %w", group.exchange, err)
				}
			}

			ea.Deltas = append(ea.Deltas, *delta)
		}

		if len(ea.Deltas) > 0 {
			rolling, err := RollingVWAP(group.candles, RollingVWAPWindow)
			if err != nil {
				return nil, fmt.Errorf("computing rolling VWAP for %s %s: %w", group.exchange, group.marketType, err)
			}
			ea.RollingVWAP = rolling
			result.Exchanges = append(result.Exchanges, ea)
		}
	}

	c.logger.Debug("analysis complete",
		"symbol", symbol,
		"groups", len(result.Exchanges),
		"candles", len(candles))
	return result, nil
}

// candleGroup is one (exchange, market type) slice of the candle set,
// preserving the input's ascending order.
type candleGroup struct {
	exchange   string
	marketType models.MarketType
	candles    []models.Candle
}

func groupCandles(candles []models.Candle) []candleGroup {
	var groups []candleGroup
	index := make(map[string]int)

	for _, candle := range candles {
		key := candle.Exchange + "|" + string(candle.MarketType)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, candleGroup{exchange: candle.Exchange, marketType: candle.MarketType})
		}
		groups[i].candles = append(groups[i].candles, candle)
	}
	return groups
}

func groupOpenInterest(snapshots []models.OpenInterestSnapshot) map[string][]models.OpenInterestSnapshot {
	byExchange := make(map[string][]models.OpenInterestSnapshot)
	for _, snap := range snapshots {
		byExchange[snap.Exchange] = append(byExchange[snap.Exchange], snap)
	}
	return byExchange
}

func candlesInWindow(candles []models.Candle, start, end time.Time) []models.Candle {
	var out []models.Candle
	for _, candle := range candles {
		if candle.OpenTime.Before(start) || candle.OpenTime.After(end) {
			continue
		}
		out = append(out, candle)
	}
	return out
}

// computeDelta derives the price/volume/VWAP metrics from a non-empty,
// ascending candle window.
func computeDelta(label string, candles []models.Candle) (*TimeframeDelta, error) {
	priceStart, err := candles[0].GetOpenDecimal()
	if err != nil {
		return nil, err
	}
	priceEnd, err := candles[len(candles)-1].GetCloseDecimal()
	if err != nil {
		return nil, err
	}

	priceDelta := priceEnd.Sub(priceStart)
	priceDeltaPct := decimal.Zero
	if !priceStart.IsZero() {
		priceDeltaPct = priceDelta.Div(priceStart).Mul(decimal.NewFromInt(100))
	}

	volumeTotal := decimal.Zero
	for _, candle := range candles {
		volume, err := candle.GetVolumeDecimal()
		if err != nil {
			return nil, err
		}
		volumeTotal = volumeTotal.Add(volume)
	}

	vwap, err := VWAP(candles)
	if err != nil {
		return nil, err
	}

	return &TimeframeDelta{
		Timeframe:     label,
		PriceStart:    priceStart,
		PriceEnd:      priceEnd,
		PriceDelta:    priceDelta,
		PriceDeltaPct: priceDeltaPct,
		VolumeTotal:   volumeTotal,
		VWAP:          vwap,
	}, nil
}

// attachOpenInterest fills the OI fields from the snapshots inside the
// window. No snapshot in the window leaves all three fields nil.
func attachOpenInterest(delta *TimeframeDelta, snapshots []models.OpenInterestSnapshot, start, end time.Time) error {
	var first, last *models.OpenInterestSnapshot
	for i := range snapshots {
		t := snapshots[i].Timestamp
		if t.Before(start) || t.After(end) {
			continue
		}
		if first == nil {
			first = &snapshots[i]
		}
		last = &snapshots[i]
	}
	if first == nil {
		return nil
	}

	oiStart, err := first.GetOpenInterestDecimal()
	if err != nil {
		return err
	}
	oiEnd, err := last.GetOpenInterestDecimal()
	if err != nil {
		return err
	}
	oiDelta := oiEnd.Sub(oiStart)

	delta.OIStart = &oiStart
	delta.OIEnd = &oiEnd
	delta.OIDelta = &oiDelta
	return nil
}

// AggregatedDelta is a volume-weighted cross-exchange combination of one
// timeframe across all groups of a market type.
type AggregatedDelta struct {
	Timeframe     string
	PriceDeltaPct decimal.Decimal
	VWAP          decimal.Decimal
	VolumeTotal   decimal.Decimal
	OIDelta       *decimal.Decimal
	Exchanges     int
}

// Aggregate combines the per-exchange deltas of the given market type into
// one delta per timeframe, weighting percentage and VWAP by each group's
// volume. A zero combined volume falls back to an unweighted mean; OI
// deltas sum across groups and stay absent only when every group's is
// absent.
func Aggregate(result *Result, marketType models.MarketType) []AggregatedDelta {
	type bucket struct {
		label       string
		weightedPct decimal.Decimal
		weightedVW  decimal.Decimal
		pctSum      decimal.Decimal
		vwapSum     decimal.Decimal
		volume      decimal.Decimal
		oiDelta     *decimal.Decimal
		groups      int
	}

	var order []string
	buckets := make(map[string]*bucket)

	for _, ea := range result.Exchanges {
		if ea.MarketType != marketType {
			continue
		}
		for _, delta := range ea.Deltas {
			b, ok := buckets[delta.Timeframe]
			if !ok {
				b = &bucket{label: delta.Timeframe}
				buckets[delta.Timeframe] = b
				order = append(order, delta.Timeframe)
			}

			b.weightedPct = b.weightedPct.Add(delta.PriceDeltaPct.Mul(delta.VolumeTotal))
			b.weightedVW = b.weightedVW.Add(delta.VWAP.Mul(delta.VolumeTotal))
			b.pctSum = b.pctSum.Add(delta.PriceDeltaPct)
			b.vwapSum = b.vwapSum.Add(delta.VWAP)
			b.volume = b.volume.Add(delta.VolumeTotal)
			b.groups++

			if delta.OIDelta != nil {
				if b.oiDelta == nil {
					zero := decimal.Zero
					b.oiDelta = &zero
				}
				sum := b.oiDelta.Add(*delta.OIDelta)
				b.oiDelta = &sum
			}
		}
	}

	aggregated := make([]AggregatedDelta, 0, len(order))
	for _, label := range order {
		b := buckets[label]
		agg := AggregatedDelta{
			Timeframe:   label,
			VolumeTotal: b.volume,
			OIDelta:     b.oiDelta,
			Exchanges:   b.groups,
		}
		if b.volume.IsZero() {
			n := decimal.NewFromInt(int64(b.groups))
			agg.PriceDeltaPct = b.pctSum.Div(n)
			agg.VWAP = b.vwapSum.Div(n)
		} else {
			agg.PriceDeltaPct = b.weightedPct.Div(b.volume)
			agg.VWAP = b.weightedVW.Div(b.volume)
		}
		aggregated = append(aggregated, agg)
	}
	return aggregated
}
