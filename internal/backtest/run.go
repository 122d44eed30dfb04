package backtest

import (
	"encoding/json"
	"math"
	"time"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// ExitReason 是平仓原因的封闭枚举。
type ExitReason string

const (
	ExitStopLoss    ExitReason = "STOP_LOSS"
	ExitTakeProfit  ExitReason = "TAKE_PROFIT"
	ExitEndOfPeriod ExitReason = "END_OF_PERIOD"
)

// Trade 记录一笔已完结交易。创建后不可变，是回测的输出单元。
type Trade struct {
	Symbol     string     `json:"symbol"`
	EntryDay   int64      `json:"entry_day"`
	ExitDay    int64      `json:"exit_day"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"`
	Shares     int64      `json:"shares"`
	PnL        float64    `json:"pnl"`
	ReturnPct  float64    `json:"return_pct"`
	ExitReason ExitReason `json:"exit_reason"`
}

// EquityPoint 是资金曲线上的一个点。
type EquityPoint struct {
	Day    int64   `json:"day"`
	Equity float64 `json:"equity"`
}

// JSONFloat 序列化时把 NaN/Inf 写成 null，反序列化时 null 读回 NaN。
// Sharpe、Profit Factor 这类指标的"未定义"哨兵值靠它过 JSON 边界。
type JSONFloat float64

func (f JSONFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *JSONFloat) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = JSONFloat(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = JSONFloat(v)
	return nil
}

// Result 是一次回测的全部输出：交易明细、资金曲线、指标汇总。
type Result struct {
	Trades      []Trade       `json:"trades"`
	Curve       []EquityPoint `json:"equity_curve"`
	Metrics     Metrics       `json:"metrics"`
	FinalEquity float64       `json:"final_equity"`
}

// RunConfig 记录本次回测的参数快照，便于重放。
type RunConfig struct {
	Symbols          []string `json:"symbols"`
	StartDay         int64    `json:"start_day"`
	EndDay           int64    `json:"end_day"`
	InitialCapital   float64  `json:"initial_capital"`
	FundWeight       float64  `json:"fund_weight"`
	TechWeight       float64  `json:"tech_weight"`
	StopLossPct      float64  `json:"stop_loss_pct"`
	TargetProfitPct  float64  `json:"target_profit_pct"`
	MaxOpenPositions int      `json:"max_open_positions"`
	LotSize          int64    `json:"lot_size"`
	PerTradePct      float64  `json:"per_trade_pct"`
	MaxPositionPct   float64  `json:"max_position_pct"`
	CashReservePct   float64  `json:"cash_reserve_pct"`
	Notes            string   `json:"notes,omitempty"`
}

// Run 表示一次回测任务。
type Run struct {
	ID             string    `json:"id"`
	Status         string    `json:"status"`
	StartDay       int64     `json:"start_day"`
	EndDay         int64     `json:"end_day"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	Profit         float64   `json:"profit"`
	ReturnPct      float64   `json:"return_pct"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	TradeCount     int       `json:"trade_count"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Metrics        Metrics   `json:"metrics"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// RunRequest 为 HTTP 提交使用。日期用 YYYY-MM-DD；留空则按回看窗口推导。
type RunRequest struct {
	Symbols        []string `json:"symbols"`
	StartDay       string   `json:"start_day"`
	EndDay         string   `json:"end_day"`
	LookbackDays   int      `json:"lookback_days"`
	InitialCapital float64  `json:"initial_capital"`
	FundWeight     float64  `json:"fund_weight"`
	TechWeight     float64  `json:"tech_weight"`
	Notes          string   `json:"notes"`
}
