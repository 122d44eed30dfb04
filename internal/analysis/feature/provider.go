// Package feature 组装截至某交易日的特征快照：指标、基本面、形态信号合并成
// 一张 FeatureSnapshot，供打分与回测按 as-of 语义消费，杜绝未来数据泄漏。
package feature

import (
	"context"
	"fmt"
	"math"
	"sync"

	"stock4n/internal/analysis/indicator"
	"stock4n/internal/analysis/pattern"
	"stock4n/internal/market"
)

// BarSource 提供升序日线查询。
type BarSource interface {
	RangeBars(ctx context.Context, symbol string, startDay, endDay int64) ([]market.Bar, error)
}

// FundamentalsSource 提供静态基本面。缺失时返回 NaN 填充的快照。
type FundamentalsSource interface {
	Read(symbol string) market.Fundamentals
}

// Provider 按 (symbol, asOf) 计算并缓存特征快照。快照与权重无关，
// 优化器跑多组权重时同一份缓存可以共享。
type Provider struct {
	bars  BarSource
	funds FundamentalsSource
	ind   indicator.Settings
	pat   pattern.Settings

	mu    sync.RWMutex
	cache map[string]entry
}

type entry struct {
	feats   market.FeatureSnapshot
	pattern pattern.Result
}

func New(bars BarSource, funds FundamentalsSource, ind indicator.Settings, pat pattern.Settings) *Provider {
	return &Provider{
		bars:  bars,
		funds: funds,
		ind:   ind,
		pat:   pat,
		cache: make(map[string]entry),
	}
}

// Snapshot 返回 symbol 截至 asOf 的特征快照。只读取 asOf 及之前的日线。
func (p *Provider) Snapshot(ctx context.Context, symbol string, asOf int64) (market.FeatureSnapshot, error) {
	e, err := p.load(ctx, symbol, asOf)
	if err != nil {
		return nil, err
	}
	return e.feats.Clone(), nil
}

// Pattern 返回 symbol 截至 asOf 的完整形态分析结果。
func (p *Provider) Pattern(ctx context.Context, symbol string, asOf int64) (pattern.Result, error) {
	e, err := p.load(ctx, symbol, asOf)
	if err != nil {
		return pattern.Result{}, err
	}
	return e.pattern, nil
}

// Invalidate 清空缓存。重新导入行情后调用。
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.cache = make(map[string]entry)
	p.mu.Unlock()
}

func (p *Provider) load(ctx context.Context, symbol string, asOf int64) (entry, error) {
	key := fmt.Sprintf("%s|%d", symbol, asOf)
	p.mu.RLock()
	e, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := p.build(ctx, symbol, asOf)
	if err != nil {
		return entry{}, err
	}
	p.mu.Lock()
	p.cache[key] = e
	p.mu.Unlock()
	return e, nil
}

func (p *Provider) build(ctx context.Context, symbol string, asOf int64) (entry, error) {
	start := market.AddDays(asOf, -p.lookbackDays())
	bars, err := p.bars.RangeBars(ctx, symbol, start, asOf)
	if err != nil {
		return entry{}, fmt.Errorf("load bars for %s: %w", symbol, err)
	}

	feats := indicator.Snapshot(bars, p.ind)
	pat := pattern.Analyze(symbol, bars, asOf, p.pat)
	feats[market.FeaturePatternSignal] = float64(pat.Signals.Combined)
	feats[market.FeaturePatternConfidence] = pat.Signals.Confidence

	fund := p.funds.Read(symbol)
	feats[market.FeatureROE] = fund.ROE
	feats[market.FeatureProfitGrowthYoY] = fund.ProfitGrowthYoY

	return entry{feats: feats, pattern: pat}, nil
}

// lookbackDays 取季节性窗口加余量，保证最长的指标窗口也拿得到足够历史。
func (p *Provider) lookbackDays() int {
	days := p.pat.SeasonalityLookbackDays
	if days <= 0 {
		days = 730
	}
	return days + 30
}

// HasPriceHistory 判断快照是否含有效收盘价。
func HasPriceHistory(feats market.FeatureSnapshot) bool {
	return feats.Get(market.FeatureHistoryBars) > 0 && !math.IsNaN(feats.Get(market.FeatureClose))
}
