package scorer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"stock4n/internal/market"
)

func TestFundamentalScore(t *testing.T) {
	t.Run("strong fundamentals", func(t *testing.T) {
		score, reasons := fundamentalScore(market.FeatureSnapshot{
			market.FeatureROE:             25,
			market.FeatureProfitGrowthYoY: 25,
		})
		assert.Equal(t, 8.0, score)
		assert.Contains(t, reasons, "ROE > 20%")
		assert.Contains(t, reasons, "Profit growth > 20%")
	})

	t.Run("decline cancels roe points", func(t *testing.T) {
		score, _ := fundamentalScore(market.FeatureSnapshot{
			market.FeatureROE:             12,
			market.FeatureProfitGrowthYoY: -25,
		})
		assert.Equal(t, 0.0, score)
	})

	t.Run("partial data", func(t *testing.T) {
		score, reasons := fundamentalScore(market.FeatureSnapshot{
			market.FeatureROE:             math.NaN(),
			market.FeatureProfitGrowthYoY: 5,
		})
		assert.Equal(t, 1.0, score)
		assert.Equal(t, []string{"Positive profit growth"}, reasons)
	})

	t.Run("no data", func(t *testing.T) {
		score, reasons := fundamentalScore(market.FeatureSnapshot{})
		assert.Equal(t, 0.0, score)
		assert.Equal(t, []string{"No fundamental data"}, reasons)
	})
}

func TestTechnicalScore(t *testing.T) {
	t.Run("all bullish clipped to ten", func(t *testing.T) {
		score, reasons := technicalScore(market.FeatureSnapshot{
			market.FeatureHistoryBars:   250,
			market.FeatureClose:         110,
			market.FeatureMAShort:       100,
			market.FeatureMALong:        105,
			market.FeatureRSI:           50,
			market.FeatureVolume:        150,
			market.FeatureVolumeAvg:     100,
			market.FeaturePatternSignal: 1,
		})
		assert.Equal(t, 10.0, score) // 3+2+3+2+1 = 11，截断
		assert.Contains(t, reasons, "Price above MA50")
		assert.Contains(t, reasons, "Bullish pattern signal")
	})

	t.Run("overbought and bearish pattern", func(t *testing.T) {
		score, reasons := technicalScore(market.FeatureSnapshot{
			market.FeatureHistoryBars:   120,
			market.FeatureClose:         90,
			market.FeatureMAShort:       100,
			market.FeatureRSI:           75,
			market.FeatureVolume:        100,
			market.FeatureVolumeAvg:     100,
			market.FeaturePatternSignal: -1,
		})
		assert.Equal(t, 0.0, score) // -1-1 截断到 0
		assert.Contains(t, reasons, "RSI overbought")
		assert.Contains(t, reasons, "Bearish pattern signal")
	})

	t.Run("insufficient history", func(t *testing.T) {
		score, reasons := technicalScore(market.FeatureSnapshot{
			market.FeatureHistoryBars: 30,
			market.FeatureClose:       100,
		})
		assert.Equal(t, 0.0, score)
		assert.Equal(t, []string{"Insufficient technical history"}, reasons)
	})

	t.Run("rsi tiers", func(t *testing.T) {
		base := func(rsi float64) market.FeatureSnapshot {
			return market.FeatureSnapshot{
				market.FeatureHistoryBars: 100,
				market.FeatureClose:       90,
				market.FeatureMAShort:     100,
				market.FeatureRSI:         rsi,
			}
		}
		for rsi, want := range map[float64]float64{50: 3, 35: 2, 25: 1, 65: 0} {
			score, _ := technicalScore(base(rsi))
			assert.Equal(t, want, score, "rsi=%v", rsi)
		}
	})
}

func TestScoreAndRecommend(t *testing.T) {
	s := New(DefaultThresholds())

	t.Run("weighted total rounded", func(t *testing.T) {
		card := s.Score("AAA", 123, market.FeatureSnapshot{
			market.FeatureROE:             25, // +4
			market.FeatureProfitGrowthYoY: 15, // +3 → fund 7
			market.FeatureHistoryBars:     100,
			market.FeatureClose:           110,
			market.FeatureMAShort:         100, // +3
			market.FeatureRSI:             50,  // +3 → tech 6
		}, Weights{Fund: 0.6, Tech: 0.4})
		assert.Equal(t, "AAA", card.Symbol)
		assert.Equal(t, int64(123), card.AsOf)
		assert.Equal(t, 7.0, card.FundScore)
		assert.Equal(t, 6.0, card.TechScore)
		assert.Equal(t, 6.6, card.TotalScore)
		assert.Equal(t, Watch, card.Recommendation)
	})

	t.Run("threshold boundaries", func(t *testing.T) {
		assert.Equal(t, StrongBuy, s.Recommend(8.5))
		assert.Equal(t, BuyWatch, s.Recommend(8.49))
		assert.Equal(t, BuyWatch, s.Recommend(7.0))
		assert.Equal(t, Watch, s.Recommend(5.0))
		assert.Equal(t, SellRebalance, s.Recommend(4.99))
	})
}
