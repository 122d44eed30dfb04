// Package scorer 把基本面与技术面特征合成为 0~10 的评分，并映射成固定的
// 四档建议。打分规则是纯函数，同一份特征快照永远得到同一结果。
package scorer

import (
	"math"

	"stock4n/internal/market"
)

// Recommendation 是封闭的建议枚举，消费方可以安全地 switch 全部分支。
type Recommendation string

const (
	StrongBuy     Recommendation = "STRONG_BUY"
	BuyWatch      Recommendation = "BUY_WATCH"
	Watch         Recommendation = "WATCH"
	SellRebalance Recommendation = "SELL_REBALANCE"
)

// Weights 是基本面/技术面得分的合成权重。
type Weights struct {
	Fund float64 `json:"fund_weight"`
	Tech float64 `json:"tech_weight"`
}

// Thresholds 是总分到建议档位的映射边界，要求严格递减。
type Thresholds struct {
	StrongBuy float64 `json:"strong_buy"`
	BuyWatch  float64 `json:"buy_watch"`
	Watch     float64 `json:"watch"`
}

// DefaultThresholds 返回默认档位边界。
func DefaultThresholds() Thresholds {
	return Thresholds{StrongBuy: 8.5, BuyWatch: 7.0, Watch: 5.0}
}

// Scorecard 是单个 symbol 的一次完整打分结果。
type Scorecard struct {
	Symbol         string         `json:"symbol"`
	AsOf           int64          `json:"as_of"`
	FundScore      float64        `json:"fund_score"`
	TechScore      float64        `json:"tech_score"`
	TotalScore     float64        `json:"total_score"`
	Recommendation Recommendation `json:"recommendation"`
	Weights        Weights        `json:"weights"`
	FundReasons    []string       `json:"fund_reasons"`
	TechReasons    []string       `json:"tech_reasons"`
}

// Scorer 持有档位边界。权重按次传入，便于优化器逐组合复用同一实例。
type Scorer struct {
	th Thresholds
}

func New(th Thresholds) *Scorer {
	return &Scorer{th: th}
}

// Score 对一份特征快照打分。快照里缺失的特征按"该项不贡献分数"处理。
func (s *Scorer) Score(symbol string, asOf int64, feats market.FeatureSnapshot, w Weights) Scorecard {
	fund, fundReasons := fundamentalScore(feats)
	tech, techReasons := technicalScore(feats)
	total := round2(fund*w.Fund + tech*w.Tech)
	return Scorecard{
		Symbol:         symbol,
		AsOf:           asOf,
		FundScore:      fund,
		TechScore:      tech,
		TotalScore:     total,
		Recommendation: s.Recommend(total),
		Weights:        w,
		FundReasons:    fundReasons,
		TechReasons:    techReasons,
	}
}

// Recommend 按档位边界把总分映射为建议。
func (s *Scorer) Recommend(total float64) Recommendation {
	switch {
	case total >= s.th.StrongBuy:
		return StrongBuy
	case total >= s.th.BuyWatch:
		return BuyWatch
	case total >= s.th.Watch:
		return Watch
	default:
		return SellRebalance
	}
}

// fundamentalScore 按 ROE 与利润增速计分后截断到 [0,10]。
func fundamentalScore(feats market.FeatureSnapshot) (float64, []string) {
	roe := feats.Get(market.FeatureROE)
	growth := feats.Get(market.FeatureProfitGrowthYoY)
	if math.IsNaN(roe) && math.IsNaN(growth) {
		return 0, []string{"No fundamental data"}
	}

	score := 0.0
	var reasons []string
	switch {
	case roe > 20:
		score += 4
		reasons = append(reasons, "ROE > 20%")
	case roe > 15:
		score += 3
		reasons = append(reasons, "ROE > 15%")
	case roe > 10:
		score += 2
		reasons = append(reasons, "ROE > 10%")
	}
	switch {
	case growth > 20:
		score += 4
		reasons = append(reasons, "Profit growth > 20%")
	case growth > 10:
		score += 3
		reasons = append(reasons, "Profit growth > 10%")
	case growth > 0:
		score += 1
		reasons = append(reasons, "Positive profit growth")
	case growth < -20:
		score -= 2
		reasons = append(reasons, "Profit declining > 20%")
	}
	return clip10(score), reasons
}

// technicalScore 按均线/RSI/量能/形态信号计分后截断到 [0,10]。
// 历史不足均线短窗口时直接判零分，避免用残缺指标误导建议。
func technicalScore(feats market.FeatureSnapshot) (float64, []string) {
	history := feats.Get(market.FeatureHistoryBars)
	if math.IsNaN(history) || history < 50 {
		return 0, []string{"Insufficient technical history"}
	}
	price := feats.Get(market.FeatureClose)

	score := 0.0
	var reasons []string
	if maShort := feats.Get(market.FeatureMAShort); !math.IsNaN(maShort) && price > maShort {
		score += 3
		reasons = append(reasons, "Price above MA50")
	}
	if maLong := feats.Get(market.FeatureMALong); !math.IsNaN(maLong) && price > maLong {
		score += 2
		reasons = append(reasons, "Price above MA200")
	}
	if rsi := feats.Get(market.FeatureRSI); !math.IsNaN(rsi) {
		switch {
		case rsi >= 40 && rsi <= 60:
			score += 3
			reasons = append(reasons, "RSI in neutral zone")
		case rsi >= 30 && rsi < 40:
			score += 2
			reasons = append(reasons, "RSI recovering from oversold")
		case rsi < 30:
			score += 1
			reasons = append(reasons, "RSI oversold")
		case rsi > 70:
			score -= 1
			reasons = append(reasons, "RSI overbought")
		}
	}
	volume := feats.Get(market.FeatureVolume)
	if volAvg := feats.Get(market.FeatureVolumeAvg); volAvg > 0 && volume > volAvg*1.2 {
		score += 2
		reasons = append(reasons, "Volume surge above 20d average")
	}
	switch feats.Get(market.FeaturePatternSignal) {
	case 1:
		score += 1
		reasons = append(reasons, "Bullish pattern signal")
	case -1:
		score -= 1
		reasons = append(reasons, "Bearish pattern signal")
	}
	return clip10(score), reasons
}

func clip10(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
