package analysis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-liquidity-mapper/internal/models"
)

func TestVWAP(t *testing.T) {
	t.Run("weights typical price by volume", func(t *testing.T) {
		// Typical prices 9 and 11 with volumes 100 and 50:
		// ((9*100)+(11*50))/150 = 9.667
		candles := []models.Candle{
			hourlyCandle("binance", models.MarketTypeSpot, 0, "9", "10", "8", "9", "100"),
			hourlyCandle("binance", models.MarketTypeSpot, 1, "11", "12", "10", "11", "50"),
		}

		vwap, err := VWAP(candles)
		require.NoError(t, err)
		expected := decimal.RequireFromString("9.667")
		assert.True(t, vwap.Sub(expected).Abs().LessThan(decimal.RequireFromString("0.001")),
			"want ~9.667, got %s", vwap)
	})

	t.Run("zero total volume yields zero", func(t *testing.T) {
		candles := []models.Candle{
			hourlyCandle("binance", models.MarketTypeSpot, 0, "9", "10", "8", "9", "0"),
		}

		vwap, err := VWAP(candles)
		require.NoError(t, err)
		assert.True(t, vwap.IsZero())
	})

	t.Run("empty set yields zero", func(t *testing.T) {
		vwap, err := VWAP(nil)
		require.NoError(t, err)
		assert.True(t, vwap.IsZero())
	})
}

func TestRollingVWAP(t *testing.T) {
	t.Run("covers a trailing candle-count window", func(t *testing.T) {
		candles := []models.Candle{
			hourlyCandle("binance", models.MarketTypeSpot, 0, "10", "10", "10", "10", "1"),
			hourlyCandle("binance", models.MarketTypeSpot, 1, "20", "20", "20", "20", "1"),
			hourlyCandle("binance", models.MarketTypeSpot, 2, "30", "30", "30", "30", "1"),
		}

		points, err := RollingVWAP(candles, 2)
		require.NoError(t, err)
		require.Len(t, points, 3)

		// First point covers only itself, the rest the trailing pair.
		assertDecimal(t, "10", points[0].Value)
		assertDecimal(t, "15", points[1].Value)
		assertDecimal(t, "25", points[2].Value)
		assert.Equal(t, candles[2].OpenTime, points[2].Time)
	})

	t.Run("non-positive window yields nothing", func(t *testing.T) {
		candles := flatCandles("binance", models.MarketTypeSpot, 3, "10", "1")

		points, err := RollingVWAP(candles, 0)
		require.NoError(t, err)
		assert.Nil(t, points)
	})
}
