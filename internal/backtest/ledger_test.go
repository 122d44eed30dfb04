package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerOpenClose(t *testing.T) {
	l := NewLedger(100_000_000)

	require.NoError(t, l.Open("AAA", 1, 100_000, 400, 0.07, 0.15, 8.8))
	assert.InDelta(t, 60_000_000, l.Cash(), 1e-6)
	assert.InDelta(t, 100_000_000, l.Equity(), 1e-6, "建仓瞬间权益不变")

	pos, ok := l.Position("AAA")
	require.True(t, ok)
	// 100000 × 0.93 必须恰好等于 93000，float 直接乘会差在第十位小数上。
	assert.True(t, pos.StopPrice.Equal(decimal.NewFromInt(93_000)), "got %s", pos.StopPrice)
	assert.True(t, pos.TargetPrice.Equal(decimal.NewFromInt(115_000)), "got %s", pos.TargetPrice)

	trade, err := l.Close("AAA", 5, 93_000, ExitStopLoss)
	require.NoError(t, err)
	assert.Equal(t, ExitStopLoss, trade.ExitReason)
	assert.InDelta(t, -2_800_000, trade.PnL, 1e-6)
	assert.InDelta(t, -7, trade.ReturnPct, 1e-6)
	assert.InDelta(t, 97_200_000, l.Cash(), 1e-6)
	assert.Equal(t, 0, l.OpenCount())
}

func TestLedgerExitPriority(t *testing.T) {
	t.Run("stop boundary inclusive", func(t *testing.T) {
		p := Position{
			StopPrice:   decimal.NewFromInt(93_000),
			TargetPrice: decimal.NewFromInt(115_000),
		}
		reason, hit := p.ExitCheck(decimal.NewFromInt(93_000))
		require.True(t, hit)
		assert.Equal(t, ExitStopLoss, reason)

		_, hit = p.ExitCheck(decimal.NewFromInt(93_001))
		assert.False(t, hit, "高于止损价不得提前触发")

		reason, hit = p.ExitCheck(decimal.NewFromInt(115_000))
		require.True(t, hit)
		assert.Equal(t, ExitTakeProfit, reason)
	})

	t.Run("double trigger prefers stop loss", func(t *testing.T) {
		// 构造两个条件同时成立的持仓：止损优先保护本金。
		p := Position{
			StopPrice:   decimal.NewFromInt(95),
			TargetPrice: decimal.NewFromInt(90),
		}
		reason, hit := p.ExitCheck(decimal.NewFromInt(92))
		require.True(t, hit)
		assert.Equal(t, ExitStopLoss, reason)
	})
}

func TestLedgerGuards(t *testing.T) {
	l := NewLedger(1_000_000)

	require.NoError(t, l.Open("AAA", 1, 100, 100, 0.07, 0.15, 5))
	assert.Error(t, l.Open("AAA", 1, 100, 100, 0.07, 0.15, 5), "重复建仓")
	assert.Error(t, l.Open("BBB", 1, 100_000, 100, 0.07, 0.15, 5), "现金不足")
	assert.Error(t, l.Open("CCC", 1, 100, 0, 0.07, 0.15, 5), "零股数")

	_, err := l.Close("ZZZ", 2, 100, ExitStopLoss)
	assert.Error(t, err)
}

func TestLedgerMarkAndEquity(t *testing.T) {
	l := NewLedger(1_000_000)
	require.NoError(t, l.Open("AAA", 1, 100, 1000, 0.07, 0.15, 5))

	l.Mark("AAA", 110)
	assert.InDelta(t, 1_010_000, l.Equity(), 1e-6) // 900000 现金 + 110000 市值

	pt := l.RecordEquity(2)
	assert.Equal(t, int64(2), pt.Day)
	assert.InDelta(t, 1_010_000, pt.Equity, 1e-6)
	require.Len(t, l.Curve(), 1)

	l.Mark("ZZZ", 1) // 不存在的 symbol 不报错
	assert.Equal(t, []string{"AAA"}, l.OpenSymbols())
	assert.True(t, l.Held()["AAA"])
}
