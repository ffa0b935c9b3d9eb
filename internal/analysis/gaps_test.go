package analysis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

func gapCandle(idx int) models.Candle {
	return models.Candle{
		Exchange:    "binance",
		MarketType:  models.MarketTypeSpot,
		Symbol:      "SOLUSDT",
		Interval:    "1h",
		OpenTime:    analysisStart.Add(time.Duration(idx) * time.Hour),
		Open:        "100",
		High:        "101",
		Low:         "99",
		Close:       "100",
		Volume:      "10",
		QuoteVolume: "1000",
	}
}

func TestFindGapsContinuousSeries(t *testing.T) {
	candles := []models.Candle{gapCandle(0), gapCandle(1), gapCandle(2), gapCandle(3)}
	assert.Empty(t, FindGaps(candles, "1h"))
}

func TestFindGapsSingleGap(t *testing.T) {
	// Candles at hours 0, 1, 4: hours 2 and 3 are missing.
	candles := []models.Candle{gapCandle(0), gapCandle(1), gapCandle(4)}

	gaps := FindGaps(candles, "1h")
	require.Len(t, gaps, 1)
	assert.Equal(t, analysisStart.Add(2*time.Hour), gaps[0].Start)
	assert.Equal(t, analysisStart.Add(3*time.Hour), gaps[0].End)
	assert.Equal(t, 2, gaps[0].Missing)
}

func TestFindGapsMultipleGaps(t *testing.T) {
	candles := []models.Candle{gapCandle(0), gapCandle(2), gapCandle(3), gapCandle(6)}

	gaps := FindGaps(candles, "1h")
	require.Len(t, gaps, 2)
	assert.Equal(t, 1, gaps[0].Missing)
	assert.Equal(t, 2, gaps[1].Missing)
}

func TestFindGapsDailyInterval(t *testing.T) {
	day := 24 * time.Hour
	candles := []models.Candle{gapCandle(0), gapCandle(24), gapCandle(72)}

	gaps := FindGaps(candles, "1d")
	require.Len(t, gaps, 1)
	assert.Equal(t, analysisStart.Add(2*day), gaps[0].Start)
	assert.Equal(t, 1, gaps[0].Missing)
}

func TestFindGapsShortSeries(t *testing.T) {
	assert.Nil(t, FindGaps(nil, "1h"))
	assert.Nil(t, FindGaps([]models.Candle{gapCandle(0)}, "1h"))
}
