package pattern

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock4n/internal/market"
)

func day(t *testing.T, s string) int64 {
	t.Helper()
	d, err := market.ParseDay(s)
	require.NoError(t, err)
	return d
}

// rampBars 生成从 start 起连续自然日的日线，close 依次取 closes。
func rampBars(t *testing.T, start string, closes []float64) []market.Bar {
	t.Helper()
	d := day(t, start)
	bars := make([]market.Bar, 0, len(closes))
	for i, c := range closes {
		bars = append(bars, market.Bar{
			Symbol: "TST",
			Day:    market.AddDays(d, i),
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1000,
		})
	}
	return bars
}

func TestDetectMomentum(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bars := rampBars(t, "2025-01-01", closes)

	t.Run("periods", func(t *testing.T) {
		mom := detectMomentum(bars, []int{5, 10, 20, 60})
		require.NotNil(t, mom)
		// current=159, past(20)=bars[40]=140
		assert.InDelta(t, 13.57, mom[20], 1e-9)
		assert.InDelta(t, (159.0-100.0)/100.0*100, mom[60], 1e-9)
		assert.Equal(t, 1, momentumSignal(mom))
	})

	t.Run("insufficient history", func(t *testing.T) {
		mom := detectMomentum(bars[:59], []int{5, 10, 20, 60})
		assert.Nil(t, mom)
		assert.Equal(t, 0, momentumSignal(mom))
	})

	t.Run("negative momentum", func(t *testing.T) {
		down := make([]float64, 60)
		for i := range down {
			down[i] = 200 - float64(i)
		}
		mom := detectMomentum(rampBars(t, "2025-01-01", down), []int{5, 10, 20, 60})
		require.NotNil(t, mom)
		assert.Equal(t, -1, momentumSignal(mom))
	})
}

func TestDetectSeasonality(t *testing.T) {
	// 月度日收益固定：1月 +2%，7月 -3%，8月 0%，其余 -0.2%。
	monthRet := func(m int) float64 {
		switch m {
		case 1:
			return 0.02
		case 7:
			return -0.03
		case 8:
			return 0
		default:
			return -0.002
		}
	}
	start := day(t, "2025-01-01")
	asOf := day(t, "2025-08-20")
	var bars []market.Bar
	price := 100.0
	for d := start; d <= asOf; d = market.AddDays(d, 1) {
		price *= 1 + monthRet(market.MonthOf(d))
		bars = append(bars, market.Bar{Symbol: "TST", Day: d, Open: price, High: price, Low: price, Close: price, Volume: 1})
	}

	s := detectSeasonality(bars, asOf, 730)
	require.NotNil(t, s)
	assert.Equal(t, []int{1, 8, 2}, s.BestMonths)
	assert.Equal(t, []int{5, 6, 7}, s.WorstMonths)
	assert.Equal(t, 1, s.BestQuarter)
	assert.Equal(t, 3, s.WorstQuarter)
	assert.InDelta(t, 2.0, s.MonthlyReturns[1], 0.01)

	// asOf 在 8 月（BestMonths 内）→ 看多。
	assert.Equal(t, 1, seasonalitySignal(s, 8))
	assert.Equal(t, -1, seasonalitySignal(s, 7))
	assert.Equal(t, 0, seasonalitySignal(s, 4))
	assert.Equal(t, 0, seasonalitySignal(nil, 8))
}

func TestClusterLevels(t *testing.T) {
	got := clusterLevels([]float64{110, 100, 101, 101.5}, 0.02)
	require.Len(t, got, 2)
	assert.InDelta(t, 100.8333, got[0], 0.001)
	assert.InDelta(t, 110, got[1], 1e-9)

	assert.Nil(t, clusterLevels(nil, 0.02))
}

func TestDetectLevels(t *testing.T) {
	mk := func(lows, highs []float64, lastClose float64) []market.Bar {
		d := day(t, "2025-06-02")
		bars := make([]market.Bar, len(lows))
		for i := range lows {
			c := (lows[i] + highs[i]) / 2
			if i == len(lows)-1 {
				c = lastClose
			}
			bars[i] = market.Bar{Symbol: "TST", Day: market.AddDays(d, i), Open: c, High: highs[i], Low: lows[i], Close: c, Volume: 1}
		}
		return bars
	}

	lows := []float64{10, 8, 10, 9, 10}
	highs := []float64{20, 22, 20, 21, 20}

	t.Run("nearest levels", func(t *testing.T) {
		bars := mk(lows, highs, 15)
		l := detectLevels(bars, bars[len(bars)-1].Day, 180, 0.02)
		require.NotNil(t, l)
		assert.Equal(t, []float64{8, 9}, l.Supports)
		assert.Equal(t, []float64{21, 22}, l.Resistances)
		assert.InDelta(t, 9, l.NearestSupport, 1e-9)
		assert.InDelta(t, 21, l.NearestResistance, 1e-9)
		assert.Equal(t, 0, levelSignal(l, 0.02))
	})

	t.Run("near support is bullish", func(t *testing.T) {
		bars := mk(lows, highs, 9.1)
		l := detectLevels(bars, bars[len(bars)-1].Day, 180, 0.02)
		require.NotNil(t, l)
		assert.Equal(t, 1, levelSignal(l, 0.02))
	})

	t.Run("near resistance is bearish", func(t *testing.T) {
		bars := mk(lows, highs, 20.8)
		l := detectLevels(bars, bars[len(bars)-1].Day, 180, 0.02)
		require.NotNil(t, l)
		assert.Equal(t, -1, levelSignal(l, 0.02))
	})

	t.Run("one side missing keeps neutral", func(t *testing.T) {
		// 所有支撑都在现价上方 → nearest_support 缺失。
		bars := mk(lows, highs, 7)
		l := detectLevels(bars, bars[len(bars)-1].Day, 180, 0.02)
		require.NotNil(t, l)
		assert.True(t, math.IsNaN(l.NearestSupport))
		assert.Equal(t, 0, levelSignal(l, 0.02))
	})

	t.Run("too few bars", func(t *testing.T) {
		bars := mk(lows[:2], highs[:2], 15)
		assert.Nil(t, detectLevels(bars, bars[len(bars)-1].Day, 180, 0.02))
	})
}

func TestConfidence(t *testing.T) {
	cases := []struct {
		name string
		s    Signals
		want float64
	}{
		{"two agree", Signals{Seasonality: 1, Momentum: 1, SupportResistance: 0, Combined: 1}, 0.67},
		{"all agree", Signals{Seasonality: -1, Momentum: -1, SupportResistance: -1, Combined: -1}, 1},
		{"mixed neutral", Signals{Seasonality: 1, Momentum: -1, SupportResistance: 0, Combined: 0}, 0.33},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, confidence(tc.s), 1e-9)
		})
	}
}

func TestAnalyzeRespectsAsOf(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 50 + float64(i)
	}
	bars := rampBars(t, "2025-01-01", closes)
	asOf := bars[79].Day

	res := Analyze("TST", bars, asOf, Settings{})
	assert.Equal(t, asOf, res.AsOf)
	require.NotNil(t, res.Levels)
	// 截断后最后一根是 asOf 当天的 bar，后面的涨幅不可见。
	assert.InDelta(t, closes[79], res.Levels.CurrentPrice, 1e-9)

	res2 := Analyze("TST", bars, bars[len(bars)-1].Day, Settings{})
	require.NotNil(t, res2.Levels)
	assert.InDelta(t, closes[len(closes)-1], res2.Levels.CurrentPrice, 1e-9)
	assert.NotEqual(t, res.Momentum[60], res2.Momentum[60])
}

func TestAnalyzeEmpty(t *testing.T) {
	res := Analyze("TST", nil, day(t, "2025-05-01"), Settings{})
	assert.Nil(t, res.Seasonality)
	assert.Nil(t, res.Momentum)
	assert.Nil(t, res.Levels)
	assert.Equal(t, 0, res.Signals.Combined)
	assert.InDelta(t, 1, res.Signals.Confidence, 1e-9)
}
