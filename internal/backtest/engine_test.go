package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock4n/internal/analysis/scorer"
	"stock4n/internal/market"
	"stock4n/internal/portfolio"
)

type stubBars struct {
	bySym map[string][]market.Bar
}

func (s stubBars) RangeBars(_ context.Context, sym string, start, end int64) ([]market.Bar, error) {
	var out []market.Bar
	for _, b := range s.bySym[sym] {
		if b.Day >= start && b.Day <= end {
			out = append(out, b)
		}
	}
	return out, nil
}

type stubFeats struct {
	fn func(sym string, day int64) market.FeatureSnapshot
}

func (s stubFeats) Snapshot(_ context.Context, sym string, day int64) (market.FeatureSnapshot, error) {
	return s.fn(sym, day), nil
}

// strongFeats 组出 8.8 分（fund 8 / tech 10，权重 0.6/0.4）→ STRONG_BUY。
func strongFeats(close float64) market.FeatureSnapshot {
	return market.FeatureSnapshot{
		market.FeatureROE:             25,
		market.FeatureProfitGrowthYoY: 25,
		market.FeatureHistoryBars:     250,
		market.FeatureClose:           close,
		market.FeatureMAShort:         close * 0.9,
		market.FeatureMALong:          close * 0.8,
		market.FeatureRSI:             50,
		market.FeatureVolume:          200,
		market.FeatureVolumeAvg:       100,
	}
}

func testEngine(t *testing.T, bars stubBars, feats stubFeats) *Engine {
	t.Helper()
	sizer := portfolio.NewSizer(portfolio.Config{
		MaxOpenPositions: 10,
		LotSize:          100,
		PerTradePct:      0.5,
		MaxPositionPct:   0.5,
		CashReservePct:   0.2,
	})
	eng, err := NewEngine(bars, feats, scorer.New(scorer.DefaultThresholds()), sizer)
	require.NoError(t, err)
	return eng
}

func testParams(t *testing.T, symbols []string, start, end string) Params {
	t.Helper()
	s, err := market.ParseDay(start)
	require.NoError(t, err)
	e, err := market.ParseDay(end)
	require.NoError(t, err)
	return Params{
		Symbols:        symbols,
		StartDay:       s,
		EndDay:         e,
		InitialCapital: 100_000_000,
		Weights:        scorer.Weights{Fund: 0.6, Tech: 0.4},
		Risk:           portfolio.Risk{StopLossPct: 0.07, TargetProfitPct: 0.15},
	}
}

func dayBar(t *testing.T, sym, day string, open, close float64) market.Bar {
	t.Helper()
	d, err := market.ParseDay(day)
	require.NoError(t, err)
	return market.Bar{Symbol: sym, Day: d, Open: open, High: math.Max(open, close), Low: math.Min(open, close), Close: close, Volume: 10_000}
}

func TestEngineStopLossExact(t *testing.T) {
	bars := stubBars{bySym: map[string][]market.Bar{
		"AAA": {
			dayBar(t, "AAA", "2025-03-03", 100_000, 101_000),
			dayBar(t, "AAA", "2025-03-04", 99_000, 93_001), // 高于止损价一个最小刻度，不得触发
			dayBar(t, "AAA", "2025-03-05", 93_000, 93_000), // 恰好踩线
			dayBar(t, "AAA", "2025-03-06", 94_000, 95_000),
		},
	}}
	entryDay, _ := market.ParseDay("2025-03-03")
	feats := stubFeats{fn: func(_ string, day int64) market.FeatureSnapshot {
		if day == entryDay {
			return strongFeats(100_000)
		}
		return market.FeatureSnapshot{}
	}}

	res, err := testEngine(t, bars, feats).Run(context.Background(), testParams(t, []string{"AAA"}, "2025-03-03", "2025-03-06"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, ExitStopLoss, trade.ExitReason)
	assert.InDelta(t, 100_000, trade.EntryPrice, 1e-9, "以当日开盘价建仓")
	assert.InDelta(t, 93_000, trade.ExitPrice, 1e-9)
	assert.Equal(t, int64(400), trade.Shares)
	assert.InDelta(t, -2_800_000, trade.PnL, 1e-6)
	exitDay, _ := market.ParseDay("2025-03-05")
	assert.Equal(t, exitDay, trade.ExitDay, "93001 那天不得提前止损")

	// 资金守恒：期初 + 已实现盈亏 = 期末。
	assert.InDelta(t, 97_200_000, res.FinalEquity, 1e-6)
	require.Len(t, res.Curve, 4)
	assert.InDelta(t, 100_400_000, res.Curve[0].Equity, 1e-6)
	assert.InDelta(t, 97_200_000, res.Curve[3].Equity, 1e-6)
	assert.InDelta(t, -2.8, res.Metrics.TotalReturnPct, 1e-9)
	assert.Equal(t, 1, res.Metrics.Losses)
}

func TestEngineTakeProfit(t *testing.T) {
	bars := stubBars{bySym: map[string][]market.Bar{
		"AAA": {
			dayBar(t, "AAA", "2025-03-03", 10_000, 10_100),
			dayBar(t, "AAA", "2025-03-04", 10_200, 11_500), // 10000 × 1.15
			dayBar(t, "AAA", "2025-03-05", 11_400, 11_300),
		},
	}}
	entryDay, _ := market.ParseDay("2025-03-03")
	feats := stubFeats{fn: func(_ string, day int64) market.FeatureSnapshot {
		if day == entryDay {
			return strongFeats(10_000)
		}
		return market.FeatureSnapshot{}
	}}

	res, err := testEngine(t, bars, feats).Run(context.Background(), testParams(t, []string{"AAA"}, "2025-03-03", "2025-03-05"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, ExitTakeProfit, res.Trades[0].ExitReason)
	assert.InDelta(t, 11_500, res.Trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, 15, res.Trades[0].ReturnPct, 1e-9)
	assert.Equal(t, 1, res.Metrics.Wins)
	assert.True(t, math.IsInf(float64(res.Metrics.ProfitFactor), 1))
}

func TestEngineEndOfPeriodForceClose(t *testing.T) {
	bars := stubBars{bySym: map[string][]market.Bar{
		"AAA": {
			dayBar(t, "AAA", "2025-03-03", 10_000, 10_100),
			dayBar(t, "AAA", "2025-03-04", 10_150, 10_200),
			dayBar(t, "AAA", "2025-03-05", 10_250, 10_400),
		},
	}}
	entryDay, _ := market.ParseDay("2025-03-03")
	feats := stubFeats{fn: func(_ string, day int64) market.FeatureSnapshot {
		if day == entryDay {
			return strongFeats(10_000)
		}
		return market.FeatureSnapshot{}
	}}

	res, err := testEngine(t, bars, feats).Run(context.Background(), testParams(t, []string{"AAA"}, "2025-03-03", "2025-03-05"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	trade := res.Trades[0]
	assert.Equal(t, ExitEndOfPeriod, trade.ExitReason)
	finalDay, _ := market.ParseDay("2025-03-05")
	assert.Equal(t, finalDay, trade.ExitDay)
	assert.InDelta(t, 10_400, trade.ExitPrice, 1e-9)
	// 强平后全部是现金，期末权益与最后一个曲线点一致。
	assert.InDelta(t, res.Curve[len(res.Curve)-1].Equity, res.FinalEquity, 1e-6)
}

func TestEngineNoEligibleSymbols(t *testing.T) {
	var days []market.Bar
	for _, d := range []string{"2025-03-03", "2025-03-04", "2025-03-05", "2025-03-06", "2025-03-07"} {
		days = append(days, dayBar(t, "AAA", d, 50_000, 50_000))
	}
	bars := stubBars{bySym: map[string][]market.Bar{"AAA": days}}
	feats := stubFeats{fn: func(string, int64) market.FeatureSnapshot {
		return market.FeatureSnapshot{}
	}}

	res, err := testEngine(t, bars, feats).Run(context.Background(), testParams(t, []string{"AAA"}, "2025-03-03", "2025-03-07"))
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.Curve, 5)
	for _, pt := range res.Curve {
		assert.InDelta(t, 100_000_000, pt.Equity, 1e-6, "空仓时权益恒等于期初")
	}
	assert.True(t, math.IsNaN(float64(res.Metrics.SharpeRatio)), "零方差 → null")
	assert.InDelta(t, 0, float64(res.Metrics.ProfitFactor), 1e-9)
	assert.InDelta(t, 0, res.Metrics.MaxDrawdownPct, 1e-9)
}

func TestEngineNoDataAtAll(t *testing.T) {
	bars := stubBars{bySym: map[string][]market.Bar{}}
	feats := stubFeats{fn: func(string, int64) market.FeatureSnapshot { return nil }}

	res, err := testEngine(t, bars, feats).Run(context.Background(), testParams(t, []string{"AAA"}, "2025-03-03", "2025-03-07"))
	require.NoError(t, err, "无数据是合法结果而不是错误")
	assert.Empty(t, res.Trades)
	assert.Empty(t, res.Curve)
	assert.InDelta(t, 100_000_000, res.FinalEquity, 1e-6)
	assert.Equal(t, 0, res.Metrics.TradeCount)
}

func TestEngineDeterminism(t *testing.T) {
	bars := stubBars{bySym: map[string][]market.Bar{
		"AAA": {
			dayBar(t, "AAA", "2025-03-03", 100_000, 101_000),
			dayBar(t, "AAA", "2025-03-04", 99_000, 93_001),
			dayBar(t, "AAA", "2025-03-05", 93_000, 93_000),
			dayBar(t, "AAA", "2025-03-06", 94_000, 95_000),
		},
	}}
	entryDay, _ := market.ParseDay("2025-03-03")
	feats := stubFeats{fn: func(_ string, day int64) market.FeatureSnapshot {
		if day == entryDay {
			return strongFeats(100_000)
		}
		return market.FeatureSnapshot{}
	}}
	eng := testEngine(t, bars, feats)
	params := testParams(t, []string{"AAA"}, "2025-03-03", "2025-03-06")

	first, err := eng.Run(context.Background(), params)
	require.NoError(t, err)
	second, err := eng.Run(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, first, second, "同输入必须产出逐字节一致的结果")
}

func TestEngineParamValidation(t *testing.T) {
	eng := testEngine(t, stubBars{}, stubFeats{fn: func(string, int64) market.FeatureSnapshot { return nil }})

	base := testParams(t, []string{"AAA"}, "2025-03-03", "2025-03-07")
	cases := []struct {
		name   string
		mutate func(*Params)
	}{
		{"no symbols", func(p *Params) { p.Symbols = nil }},
		{"inverted window", func(p *Params) { p.StartDay, p.EndDay = p.EndDay, p.StartDay }},
		{"zero capital", func(p *Params) { p.InitialCapital = 0 }},
		{"bad stop loss", func(p *Params) { p.Risk.StopLossPct = 1.5 }},
		{"bad target", func(p *Params) { p.Risk.TargetProfitPct = 0 }},
		{"zero weights", func(p *Params) { p.Weights = scorer.Weights{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			_, err := eng.Run(context.Background(), p)
			assert.Error(t, err)
		})
	}
}
