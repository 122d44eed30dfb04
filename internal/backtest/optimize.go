package backtest

// OptimizeRequest 描述一次权重网格寻优。窗口字段语义与 RunRequest 相同。
// Apply 为真时，最优权重会被写入参数仓库并立即生效。
type OptimizeRequest struct {
	Symbols        []string `json:"symbols"`
	StartDay       string   `json:"start_day"`
	EndDay         string   `json:"end_day"`
	LookbackDays   int      `json:"lookback_days"`
	InitialCapital float64  `json:"initial_capital"`
	Metric         string   `json:"metric"`
	Apply          bool     `json:"apply"`
}

// OptimizeCombo 是单个权重组合的回测摘要。Rank 从 1 开始。
type OptimizeCombo struct {
	FundWeight     float64   `json:"fund_weight"`
	TechWeight     float64   `json:"tech_weight"`
	MetricValue    JSONFloat `json:"metric_value"`
	TotalReturnPct float64   `json:"total_return_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	WinRate        float64   `json:"win_rate"`
	SharpeRatio    JSONFloat `json:"sharpe_ratio"`
	ProfitFactor   JSONFloat `json:"profit_factor"`
	TradeCount     int       `json:"trade_count"`
	Rank           int       `json:"rank"`
}

// OptimizeOutcome 是一次寻优任务的完整产出，整体序列化进任务的 result 列。
type OptimizeOutcome struct {
	Metric   string          `json:"metric"`
	Symbols  []string        `json:"symbols"`
	StartDay int64           `json:"start_day"`
	EndDay   int64           `json:"end_day"`
	Best     OptimizeCombo   `json:"best"`
	Combos   []OptimizeCombo `json:"combos"`
	Applied  bool            `json:"applied"`
}
