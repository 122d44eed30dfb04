package backtest

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Position 是账本中的一笔持仓。价格字段用 decimal 保存，止损/止盈阈值
// 可以被精确命中（100000 × 0.93 必须恰好等于 93000）。
type Position struct {
	Symbol      string
	EntryDay    int64
	EntryPrice  decimal.Decimal
	Shares      int64
	StopPrice   decimal.Decimal
	TargetPrice decimal.Decimal
	LastPrice   decimal.Decimal
	Score       float64
}

// ExitCheck 按优先级判定退出：先止损后止盈，两者同日命中时以止损为准。
func (p *Position) ExitCheck(price decimal.Decimal) (ExitReason, bool) {
	if price.Cmp(p.StopPrice) <= 0 {
		return ExitStopLoss, true
	}
	if price.Cmp(p.TargetPrice) >= 0 {
		return ExitTakeProfit, true
	}
	return "", false
}

// Ledger 是单次回测的账本：现金、持仓、已完结交易与资金曲线。
// 每个 symbol 至多持有一笔，生命周期只属于一次回测。
type Ledger struct {
	cash      decimal.Decimal
	initial   decimal.Decimal
	positions map[string]*Position
	trades    []Trade
	curve     []EquityPoint
}

func NewLedger(initialCapital float64) *Ledger {
	init := decimal.NewFromFloat(initialCapital)
	return &Ledger{
		cash:      init,
		initial:   init,
		positions: make(map[string]*Position),
	}
}

func (l *Ledger) Cash() float64 { return l.cash.InexactFloat64() }

// Equity 返回现金加持仓市值（按各持仓最近已知价格）。
func (l *Ledger) Equity() float64 {
	total := l.cash
	for _, p := range l.positions {
		total = total.Add(p.LastPrice.Mul(decimal.NewFromInt(p.Shares)))
	}
	return total.InexactFloat64()
}

// Open 建仓并扣减现金。买入金额超过现金属于上游分配逻辑的缺陷，直接报错。
func (l *Ledger) Open(symbol string, day int64, price float64, shares int64, stopPct, targetPct float64, score float64) error {
	if shares <= 0 {
		return fmt.Errorf("open %s: shares 需 > 0", symbol)
	}
	if _, exists := l.positions[symbol]; exists {
		return fmt.Errorf("open %s: 已有持仓", symbol)
	}
	entry := decimal.NewFromFloat(price)
	cost := entry.Mul(decimal.NewFromInt(shares))
	if cost.Cmp(l.cash) > 0 {
		return fmt.Errorf("open %s: 现金不足 (需要 %s, 仅有 %s)", symbol, cost, l.cash)
	}
	one := decimal.NewFromInt(1)
	l.cash = l.cash.Sub(cost)
	l.positions[symbol] = &Position{
		Symbol:      symbol,
		EntryDay:    day,
		EntryPrice:  entry,
		Shares:      shares,
		StopPrice:   entry.Mul(one.Sub(decimal.NewFromFloat(stopPct))),
		TargetPrice: entry.Mul(one.Add(decimal.NewFromFloat(targetPct))),
		LastPrice:   entry,
		Score:       score,
	}
	return nil
}

// Close 平仓：回笼资金、生成交易记录、移除持仓。
func (l *Ledger) Close(symbol string, day int64, price float64, reason ExitReason) (Trade, error) {
	p, ok := l.positions[symbol]
	if !ok {
		return Trade{}, fmt.Errorf("close %s: 无持仓", symbol)
	}
	exit := decimal.NewFromFloat(price)
	shares := decimal.NewFromInt(p.Shares)
	l.cash = l.cash.Add(exit.Mul(shares))

	pnl := exit.Sub(p.EntryPrice).Mul(shares)
	var retPct decimal.Decimal
	if !p.EntryPrice.IsZero() {
		retPct = exit.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	}
	trade := Trade{
		Symbol:     symbol,
		EntryDay:   p.EntryDay,
		ExitDay:    day,
		EntryPrice: p.EntryPrice.InexactFloat64(),
		ExitPrice:  price,
		Shares:     p.Shares,
		PnL:        pnl.Round(2).InexactFloat64(),
		ReturnPct:  retPct.Round(2).InexactFloat64(),
		ExitReason: reason,
	}
	l.trades = append(l.trades, trade)
	delete(l.positions, symbol)
	return trade, nil
}

// Mark 更新持仓的最近价格。当天无行情的 symbol 保持上一个已知价。
func (l *Ledger) Mark(symbol string, price float64) {
	if p, ok := l.positions[symbol]; ok {
		p.LastPrice = decimal.NewFromFloat(price)
	}
}

// RecordEquity 把当前权益追加到资金曲线。
func (l *Ledger) RecordEquity(day int64) EquityPoint {
	pt := EquityPoint{Day: day, Equity: l.Equity()}
	l.curve = append(l.curve, pt)
	return pt
}

// Position 返回指定 symbol 的持仓。
func (l *Ledger) Position(symbol string) (*Position, bool) {
	p, ok := l.positions[symbol]
	return p, ok
}

// OpenSymbols 返回按字典序排序的持仓 symbol，保证遍历顺序可复现。
func (l *Ledger) OpenSymbols() []string {
	syms := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// Held 返回持仓集合视图，供仓位分配去重。
func (l *Ledger) Held() map[string]bool {
	held := make(map[string]bool, len(l.positions))
	for sym := range l.positions {
		held[sym] = true
	}
	return held
}

func (l *Ledger) OpenCount() int { return len(l.positions) }

func (l *Ledger) Trades() []Trade { return l.trades }

func (l *Ledger) Curve() []EquityPoint { return l.curve }

func (l *Ledger) InitialCapital() float64 { return l.initial.InexactFloat64() }
