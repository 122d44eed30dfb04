package portfolio

import (
	"math"

	"stock4n/internal/analysis/scorer"
)

// Risk 是建仓时的止损/止盈参数。
type Risk struct {
	StopLossPct     float64 `json:"stop_loss_pct"`
	TargetProfitPct float64 `json:"target_profit_pct"`
}

// PlanEntry 是持仓建议里的一行。
type PlanEntry struct {
	Symbol         string                `json:"symbol"`
	Score          float64               `json:"score"`
	Recommendation scorer.Recommendation `json:"recommendation"`
	TargetWeight   float64               `json:"target_weight"`
	EntryPrice     float64               `json:"entry_price"`
	Shares         int64                 `json:"shares"`
	Cost           float64               `json:"cost"`
	StopPrice      float64               `json:"stop_price"`
	TargetPrice    float64               `json:"target_price"`
}

// Plan 生成一份独立于回测的持仓建议：可投资比例按总分摊给买入档的
// symbol，单仓重量夹在 [min,max] 之间，低于下限的直接剔除而不回摊。
// 这使得权重和可能小于可投资比例，差额视为现金。
func (s *Sizer) Plan(cards []scorer.Scorecard, capital float64, prices map[string]float64, risk Risk) []PlanEntry {
	if capital <= 0 {
		return nil
	}
	ranked := rankCards(cards)
	var selected []scorer.Scorecard
	for _, card := range ranked {
		if len(selected) >= s.cfg.MaxOpenPositions {
			break
		}
		price, ok := prices[card.Symbol]
		if !Eligible(card.Recommendation) || !ok || price <= 0 || math.IsNaN(price) {
			continue
		}
		selected = append(selected, card)
	}
	totalScore := 0.0
	for _, card := range selected {
		totalScore += card.TotalScore
	}
	if totalScore <= 0 {
		return nil
	}

	investable := 1 - s.cfg.CashReservePct
	var entries []PlanEntry
	for _, card := range selected {
		weight := card.TotalScore / totalScore * investable
		if weight > s.cfg.MaxPositionPct {
			weight = s.cfg.MaxPositionPct
		}
		if weight < s.cfg.MinPositionPct {
			continue
		}
		price := prices[card.Symbol]
		shares := s.roundLot(capital * weight / price)
		if shares <= 0 {
			continue
		}
		entries = append(entries, PlanEntry{
			Symbol:         card.Symbol,
			Score:          card.TotalScore,
			Recommendation: card.Recommendation,
			TargetWeight:   round4(weight),
			EntryPrice:     price,
			Shares:         shares,
			Cost:           float64(shares) * price,
			StopPrice:      price * (1 - risk.StopLossPct),
			TargetPrice:    price * (1 + risk.TargetProfitPct),
		})
	}
	return entries
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
