package backtest

import (
	"context"
	"fmt"
	"sort"

	"stock4n/internal/analysis/scorer"
	"stock4n/internal/logger"
	"stock4n/internal/market"
	"stock4n/internal/portfolio"
)

// Advisor 在回测之外回答"截至某日怎么看"：对股票池打分，
// 并给出一份带止损/止盈价的建仓建议。
type Advisor struct {
	feats    FeatureSource
	score    *scorer.Scorer
	sizer    *portfolio.Sizer
	coverage CoverageSource
	weights  WeightSource
	universe []string
	defaults RunDefaults
}

type AdvisorConfig struct {
	Features FeatureSource
	Scorer   *scorer.Scorer
	Sizer    *portfolio.Sizer
	Coverage CoverageSource
	Weights  WeightSource
	Universe []string
	Defaults RunDefaults
}

func NewAdvisor(cfg AdvisorConfig) (*Advisor, error) {
	if cfg.Features == nil {
		return nil, fmt.Errorf("feature source 不能为空")
	}
	if cfg.Scorer == nil {
		return nil, fmt.Errorf("scorer 不能为空")
	}
	if cfg.Sizer == nil {
		return nil, fmt.Errorf("sizer 不能为空")
	}
	if cfg.Coverage == nil {
		return nil, fmt.Errorf("coverage source 不能为空")
	}
	if len(cfg.Universe) == 0 {
		return nil, fmt.Errorf("universe 不能为空")
	}
	return &Advisor{
		feats:    cfg.Features,
		score:    cfg.Scorer,
		sizer:    cfg.Sizer,
		coverage: cfg.Coverage,
		weights:  cfg.Weights,
		universe: cfg.Universe,
		defaults: cfg.Defaults,
	}, nil
}

// ResolveDay 解析 as-of 日期。留空时取行情覆盖的最新交易日。
func (a *Advisor) ResolveDay(ctx context.Context, raw string) (int64, error) {
	if raw == "" {
		return latestCoveredDay(ctx, a.coverage)
	}
	day, err := market.ParseDay(raw)
	if err != nil {
		return 0, fmt.Errorf("day 非法: %w", err)
	}
	return day, nil
}

// Scores 对指定 symbol（缺省为全池）按 as-of 日打分，总分降序返回。
// 个别 symbol 特征缺失只跳过，不影响其余评分。
func (a *Advisor) Scores(ctx context.Context, day int64, symbols []string) ([]scorer.Scorecard, error) {
	cards, _, err := a.scoreUniverse(ctx, day, symbols)
	return cards, err
}

// Plan 用最新评分生成建仓建议：按分值比例分配权重，整手取整，
// 附每仓止损/止盈价。capital ≤ 0 时采用默认本金。
func (a *Advisor) Plan(ctx context.Context, day int64, capital float64) ([]portfolio.PlanEntry, error) {
	if capital <= 0 {
		capital = a.defaults.InitialCapital
	}
	if capital <= 0 {
		return nil, fmt.Errorf("capital 需 > 0")
	}
	cards, prices, err := a.scoreUniverse(ctx, day, nil)
	if err != nil {
		return nil, err
	}
	return a.sizer.Plan(cards, capital, prices, a.defaults.Risk), nil
}

func (a *Advisor) scoreUniverse(ctx context.Context, day int64, symbols []string) ([]scorer.Scorecard, map[string]float64, error) {
	if day <= 0 {
		return nil, nil, fmt.Errorf("day 需 > 0")
	}
	if len(symbols) == 0 {
		symbols = a.universe
	}
	w := a.currentWeights()
	cards := make([]scorer.Scorecard, 0, len(symbols))
	prices := make(map[string]float64, len(symbols))
	for _, sym := range normalizeSymbols(symbols) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		feats, err := a.feats.Snapshot(ctx, sym, day)
		if err != nil {
			logger.Warnf("[advisor] %s 特征快照失败，跳过: %v", sym, err)
			continue
		}
		cards = append(cards, a.score.Score(sym, day, feats, w))
		prices[sym] = feats.Get(market.FeatureClose)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].TotalScore != cards[j].TotalScore {
			return cards[i].TotalScore > cards[j].TotalScore
		}
		return cards[i].Symbol < cards[j].Symbol
	})
	return cards, prices, nil
}

func (a *Advisor) currentWeights() scorer.Weights {
	if a.weights != nil {
		if w := a.weights.Current(); w.Fund > 0 || w.Tech > 0 {
			return w
		}
	}
	return a.defaults.Weights
}
