package analysis

import (
	"time"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

// Gap marks a run of missing candles in an otherwise regular series.
type Gap struct {
	// Start is the open time of the first missing candle.
	Start time.Time

	// End is the open time of the last missing candle.
	End time.Time

	// Missing counts the candles absent between Start and End inclusive.
	Missing int
}

var candleIntervalDurations = map[string]time.Duration{
	"1h": time.Hour,
	"4h": 4 * time.Hour,
	"1d": 24 * time.Hour,
}

func candleIntervalDuration(interval string) time.Duration {
	if d, ok := candleIntervalDurations[interval]; ok {
		return d
	}
	return time.Hour
}

// FindGaps scans an ascending candle series for missing open times given
// the interval spacing. The candles must belong to a single exchange,
// market type, symbol, and interval; mixed series produce spurious gaps.
func FindGaps(candles []models.Candle, interval string) []Gap {
	if len(candles) < 2 {
		return nil
	}
	step := candleIntervalDuration(interval)

	var gaps []Gap
	for i := 1; i < len(candles); i++ {
		diff := candles[i].OpenTime.Sub(candles[i-1].OpenTime)
		if diff <= step {
			continue
		}
		missing := int(diff/step) - 1
		gaps = append(gaps, Gap{
			Start:   candles[i-1].OpenTime.Add(step),
			End:     candles[i].OpenTime.Add(-step),
			Missing: missing,
		})
	}
	return gaps
}
