package analysis

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// VWAP computes the volume-weighted average price of a candle set using the
// typical price (high+low+close)/3 of each candle. A set with zero total
// volume yields zero.
func VWAP(candles []models.Candle) (decimal.Decimal, error) {
	weighted := decimal.Zero
	volumeTotal := decimal.Zero

	for _, candle := range candles {
		typical, err := candle.GetTypicalPrice()
		if err != nil {
			return decimal.Zero, err
		}
		volume, err := candle.GetVolumeDecimal()
		if err != nil {
			return decimal.Zero, err
		}
		weighted = weighted.Add(typical.Mul(volume))
		volumeTotal = volumeTotal.Add(volume)
	}

	if volumeTotal.IsZero() {
		return decimal.Zero, nil
	}
	return weighted.Div(volumeTotal), nil
}

// VWAPPoint is one observation of a rolling VWAP series.
type VWAPPoint struct {
	Time  time.Time
	Value decimal.Decimal
}

// RollingVWAP computes a VWAP series over a trailing candle-count window.
// Each point covers the last `window` candles up to and including its own,
// or all candles so far while the series is shorter than the window. The
// input must be ascending by open time.
func RollingVWAP(candles []models.Candle, window int) ([]VWAPPoint, error) {
	if window <= 0 || len(candles) == 0 {
		return nil, nil
	}

	points := make([]VWAPPoint, 0, len(candles))
	for i := range candles {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		value, err := VWAP(candles[lo : i+1])
		if err != nil {
			return nil, err
		}
		points = append(points, VWAPPoint{Time: candles[i].OpenTime, Value: value})
	}
	return points, nil
}
