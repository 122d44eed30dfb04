package backtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"stock4n/internal/analysis/scorer"
	"stock4n/internal/logger"
	"stock4n/internal/market"
	"stock4n/internal/portfolio"
)

// BarSource 提供回测窗口内的日线。
type BarSource interface {
	RangeBars(ctx context.Context, symbol string, startDay, endDay int64) ([]market.Bar, error)
}

// FeatureSource 提供按 as-of 语义构建的特征快照。
type FeatureSource interface {
	Snapshot(ctx context.Context, symbol string, day int64) (market.FeatureSnapshot, error)
}

// Params 是一次回测的输入参数。
type Params struct {
	Symbols        []string
	StartDay       int64
	EndDay         int64
	InitialCapital float64
	Weights        scorer.Weights
	Risk           portfolio.Risk
}

func (p Params) validate() error {
	if len(p.Symbols) == 0 {
		return fmt.Errorf("symbols 不能为空")
	}
	if p.StartDay <= 0 || p.EndDay <= 0 || p.EndDay < p.StartDay {
		return fmt.Errorf("start/end 非法: %d..%d", p.StartDay, p.EndDay)
	}
	if p.InitialCapital <= 0 {
		return fmt.Errorf("initial capital 需 > 0")
	}
	if p.Risk.StopLossPct <= 0 || p.Risk.StopLossPct >= 1 {
		return fmt.Errorf("stop loss pct 需在 (0,1) 内")
	}
	if p.Risk.TargetProfitPct <= 0 {
		return fmt.Errorf("target profit pct 需 > 0")
	}
	if p.Weights.Fund < 0 || p.Weights.Tech < 0 || p.Weights.Fund+p.Weights.Tech == 0 {
		return fmt.Errorf("weights 非法: fund=%v tech=%v", p.Weights.Fund, p.Weights.Tech)
	}
	return nil
}

// Engine 按日重放历史行情：先查退出，再评分，再分配建仓，最后记录权益。
// 单次回测内部严格串行（当日账本依赖前一日），不同参数组合之间可并行。
type Engine struct {
	bars  BarSource
	feats FeatureSource
	score *scorer.Scorer
	sizer *portfolio.Sizer
}

func NewEngine(bars BarSource, feats FeatureSource, score *scorer.Scorer, sizer *portfolio.Sizer) (*Engine, error) {
	if bars == nil {
		return nil, fmt.Errorf("bar source 不能为空")
	}
	if feats == nil {
		return nil, fmt.Errorf("feature source 不能为空")
	}
	if score == nil {
		return nil, fmt.Errorf("scorer 不能为空")
	}
	if sizer == nil {
		return nil, fmt.Errorf("sizer 不能为空")
	}
	return &Engine{bars: bars, feats: feats, score: score, sizer: sizer}, nil
}

// Run 执行一次完整回测。窗口内完全没有行情时返回零交易结果而非错误。
func (e *Engine) Run(ctx context.Context, p Params) (Result, error) {
	if err := p.validate(); err != nil {
		return Result{}, err
	}
	symbols := normalizeSymbols(p.Symbols)
	byDay, calendar, err := e.loadWindow(ctx, symbols, p.StartDay, p.EndDay)
	if err != nil {
		return Result{}, err
	}
	if len(calendar) == 0 {
		logger.Warnf("[backtest] %s..%s 窗口内无任何行情，返回零交易结果",
			market.FormatDay(p.StartDay), market.FormatDay(p.EndDay))
		return Result{
			Metrics:     ComputeMetrics(nil, nil, p.InitialCapital),
			FinalEquity: p.InitialCapital,
		}, nil
	}

	ledger := NewLedger(p.InitialCapital)
	for _, day := range calendar {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		dayBars := byDay[day]
		e.processExits(ledger, day, dayBars)
		cards := e.scoreDay(ctx, symbols, day, dayBars, p.Weights)
		if err := e.processEntries(ledger, day, dayBars, cards, p.Risk); err != nil {
			return Result{}, err
		}
		e.markToClose(ledger, dayBars)
		ledger.RecordEquity(day)
	}

	finalDay := calendar[len(calendar)-1]
	if err := e.forceClose(ledger, finalDay, byDay[finalDay]); err != nil {
		return Result{}, err
	}

	trades := ledger.Trades()
	curve := ledger.Curve()
	res := Result{
		Trades:      trades,
		Curve:       curve,
		Metrics:     ComputeMetrics(trades, curve, p.InitialCapital),
		FinalEquity: ledger.Equity(),
	}
	logger.Infof("[backtest] %s..%s 完成: %d 笔交易, 收益 %.2f%%, 最大回撤 %.2f%%",
		market.FormatDay(p.StartDay), market.FormatDay(p.EndDay),
		len(trades), res.Metrics.TotalReturnPct, res.Metrics.MaxDrawdownPct)
	return res, nil
}

// loadWindow 一次性载入窗口内全部日线，构建 day→symbol→bar 索引与交易日历。
func (e *Engine) loadWindow(ctx context.Context, symbols []string, start, end int64) (map[int64]map[string]market.Bar, []int64, error) {
	byDay := make(map[int64]map[string]market.Bar)
	for _, sym := range symbols {
		bars, err := e.bars.RangeBars(ctx, sym, start, end)
		if err != nil {
			return nil, nil, fmt.Errorf("load bars %s: %w", sym, err)
		}
		for _, b := range bars {
			m, ok := byDay[b.Day]
			if !ok {
				m = make(map[string]market.Bar)
				byDay[b.Day] = m
			}
			m[sym] = b
		}
	}
	calendar := make([]int64, 0, len(byDay))
	for day := range byDay {
		calendar = append(calendar, day)
	}
	sort.Slice(calendar, func(i, j int) bool { return calendar[i] < calendar[j] })
	return byDay, calendar, nil
}

// processExits 用当日收盘价查退出条件。止损优先于止盈；当天无行情的持仓跳过。
func (e *Engine) processExits(ledger *Ledger, day int64, dayBars map[string]market.Bar) {
	for _, sym := range ledger.OpenSymbols() {
		bar, ok := dayBars[sym]
		if !ok {
			continue
		}
		ledger.Mark(sym, bar.Close)
		pos, ok := ledger.Position(sym)
		if !ok {
			continue
		}
		if reason, hit := pos.ExitCheck(decimal.NewFromFloat(bar.Close)); hit {
			if _, err := ledger.Close(sym, day, bar.Close, reason); err != nil {
				logger.Warnf("[backtest] 平仓 %s 失败: %v", sym, err)
			}
		}
	}
}

// scoreDay 对当日有行情的 symbol 逐个打分。特征缺失按跳过处理，不中断回测。
func (e *Engine) scoreDay(ctx context.Context, symbols []string, day int64, dayBars map[string]market.Bar, w scorer.Weights) []scorer.Scorecard {
	cards := make([]scorer.Scorecard, 0, len(dayBars))
	for _, sym := range symbols {
		if _, ok := dayBars[sym]; !ok {
			continue
		}
		feats, err := e.feats.Snapshot(ctx, sym, day)
		if err != nil {
			logger.Warnf("[backtest] %s 特征快照失败，当日跳过: %v", sym, err)
			continue
		}
		cards = append(cards, e.score.Score(sym, day, feats, w))
	}
	return cards
}

// processEntries 以当日首个可用价格（开盘价）建仓。
func (e *Engine) processEntries(ledger *Ledger, day int64, dayBars map[string]market.Bar, cards []scorer.Scorecard, risk portfolio.Risk) error {
	entryPrices := make(map[string]float64, len(dayBars))
	for sym, bar := range dayBars {
		entryPrices[sym] = bar.EntryPrice()
	}
	acct := portfolio.Account{Cash: ledger.Cash(), Equity: ledger.Equity(), Held: ledger.Held()}
	for _, order := range e.sizer.Allocate(cards, acct, entryPrices) {
		if err := ledger.Open(order.Symbol, day, order.Price, order.Shares, risk.StopLossPct, risk.TargetProfitPct, order.Score); err != nil {
			return fmt.Errorf("建仓 %s: %w", order.Symbol, err)
		}
	}
	return nil
}

// markToClose 把所有持仓按当日收盘价重新标记，供权益记录使用。
func (e *Engine) markToClose(ledger *Ledger, dayBars map[string]market.Bar) {
	for _, sym := range ledger.OpenSymbols() {
		if bar, ok := dayBars[sym]; ok {
			ledger.Mark(sym, bar.Close)
		}
	}
}

// forceClose 在窗口最后一个交易日强平所有持仓，保证指标建立在已实现
// 交易之上。当天无行情的持仓按最近已知价格出场。
func (e *Engine) forceClose(ledger *Ledger, day int64, dayBars map[string]market.Bar) error {
	for _, sym := range ledger.OpenSymbols() {
		pos, ok := ledger.Position(sym)
		if !ok {
			continue
		}
		price := pos.LastPrice.InexactFloat64()
		if bar, ok := dayBars[sym]; ok {
			price = bar.Close
		}
		if _, err := ledger.Close(sym, day, price, ExitEndOfPeriod); err != nil {
			return err
		}
	}
	return nil
}

// normalizeSymbols 去重并排序，保证打分与分配顺序稳定。
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
