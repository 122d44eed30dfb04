package backtest

import (
	"math"
)

const annualTradingDays = 252

// Metrics 是一次回测的指标汇总。SharpeRatio 与 ProfitFactor 用 JSONFloat：
// 等值曲线方差为零、没有亏损交易等退化情形以 NaN/+Inf 哨兵表达，
// 序列化后是 null，而不是抛错。
type Metrics struct {
	TotalPnL       float64   `json:"total_pnl"`
	TotalReturnPct float64   `json:"total_return_pct"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   JSONFloat `json:"profit_factor"`
	SharpeRatio    JSONFloat `json:"sharpe_ratio"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	TradeCount     int       `json:"trade_count"`
	Wins           int       `json:"wins"`
	Losses         int       `json:"losses"`
	AvgHoldingDays float64   `json:"avg_holding_days"`
	EquityPeak     float64   `json:"equity_peak"`
	EquityValley   float64   `json:"equity_valley"`
	FinalEquity    float64   `json:"final_equity"`
}

// ComputeMetrics 从交易明细与资金曲线一次性算出全部指标。
func ComputeMetrics(trades []Trade, curve []EquityPoint, initialCapital float64) Metrics {
	m := Metrics{
		TradeCount:   len(trades),
		ProfitFactor: JSONFloat(0),
		SharpeRatio:  JSONFloat(math.NaN()),
		EquityPeak:   initialCapital,
		EquityValley: initialCapital,
		FinalEquity:  initialCapital,
	}

	totalPnL := 0.0
	grossWin := 0.0
	grossLoss := 0.0
	holdingDays := 0.0
	for _, t := range trades {
		totalPnL += t.PnL
		holdingDays += float64(t.ExitDay-t.EntryDay) / 86_400_000
		switch {
		case t.PnL > 0:
			m.Wins++
			grossWin += t.PnL
		case t.PnL < 0:
			m.Losses++
			grossLoss += -t.PnL
		}
	}
	m.TotalPnL = round2(totalPnL)
	if initialCapital > 0 {
		m.TotalReturnPct = round2(totalPnL / initialCapital * 100)
	}
	if len(trades) > 0 {
		m.WinRate = round4(float64(m.Wins) / float64(len(trades)))
		m.AvgHoldingDays = round2(holdingDays / float64(len(trades)))
	}
	// 无亏损交易时 Profit Factor 取 +Inf 哨兵；完全没有盈利交易时取 0。
	switch {
	case grossLoss > 0:
		m.ProfitFactor = JSONFloat(round4(grossWin / grossLoss))
	case grossWin > 0:
		m.ProfitFactor = JSONFloat(math.Inf(1))
	}

	if len(curve) > 0 {
		m.FinalEquity = curve[len(curve)-1].Equity
		m.EquityPeak = curve[0].Equity
		m.EquityValley = curve[0].Equity
		for _, pt := range curve {
			if pt.Equity > m.EquityPeak {
				m.EquityPeak = pt.Equity
			}
			if pt.Equity < m.EquityValley {
				m.EquityValley = pt.Equity
			}
		}
	}
	m.MaxDrawdownPct = round2(maxDrawdownPct(curve))
	m.SharpeRatio = JSONFloat(sharpeRatio(curve))
	return m
}

// maxDrawdownPct 跟踪运行峰值，返回峰谷间最大回撤百分比。
func maxDrawdownPct(curve []EquityPoint) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := curve[0].Equity
	maxDD := 0.0
	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			dd := (peak - pt.Equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// sharpeRatio 用日收益率均值/样本标准差×√252。少于两个收益点或零方差
// 时返回 NaN（序列化为 null）。
func sharpeRatio(curve []EquityPoint) float64 {
	var rets []float64
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			continue
		}
		rets = append(rets, curve[i].Equity/prev-1)
	}
	if len(rets) < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, r := range rets {
		mean += r
	}
	mean /= float64(len(rets))
	variance := 0.0
	for _, r := range rets {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(rets) - 1)
	if variance == 0 {
		return math.NaN()
	}
	return round4(mean / math.Sqrt(variance) * math.Sqrt(annualTradingDays))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*10000) / 10000
}
