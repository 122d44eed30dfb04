// Package portfolio 把排名后的评分转成具体买入指令：仓位上限、现金保留、
// 整手取整都在这里收口。回测引擎与实时建仓共用同一套规则。
package portfolio

import (
	"math"
	"sort"

	"stock4n/internal/analysis/scorer"
)

// Config 是仓位控制参数。零值字段用默认补齐。
type Config struct {
	MaxOpenPositions int     `json:"max_open_positions"`
	LotSize          int64   `json:"lot_size"`
	PerTradePct      float64 `json:"per_trade_pct"`
	MaxPositionPct   float64 `json:"max_position_pct"`
	MinPositionPct   float64 `json:"min_position_pct"`
	CashReservePct   float64 `json:"cash_reserve_pct"`
}

func (c Config) normalized() Config {
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 10
	}
	if c.LotSize <= 0 {
		c.LotSize = 100
	}
	if c.PerTradePct <= 0 {
		c.PerTradePct = 0.10
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = 0.40
	}
	if c.MinPositionPct <= 0 {
		c.MinPositionPct = 0.05
	}
	if c.CashReservePct < 0 {
		c.CashReservePct = 0.20
	}
	return c
}

// Account 是分配时刻的账户视图。Held 里的 symbol 不会重复建仓。
type Account struct {
	Cash   float64
	Equity float64
	Held   map[string]bool
}

// Order 是一笔待执行的买入指令。
type Order struct {
	Symbol string  `json:"symbol"`
	Shares int64   `json:"shares"`
	Price  float64 `json:"price"`
	Cost   float64 `json:"cost"`
	Score  float64 `json:"score"`
}

// Sizer 按配置把评分转成订单。无内部状态，可并发复用。
type Sizer struct {
	cfg Config
}

func NewSizer(cfg Config) *Sizer {
	return &Sizer{cfg: cfg.normalized()}
}

// Allocate 对一天的评分做顺序分配：高分优先，现金逐笔扣减，持仓数与现金
// 保留线双重约束。没有任何候选能成交时返回空——持币观望是合法结果。
func (s *Sizer) Allocate(cards []scorer.Scorecard, acct Account, prices map[string]float64) []Order {
	slots := s.cfg.MaxOpenPositions - len(acct.Held)
	if slots <= 0 {
		return nil
	}
	spendable := acct.Cash - acct.Equity*s.cfg.CashReservePct
	if spendable <= 0 {
		return nil
	}

	ranked := rankCards(cards)
	var orders []Order
	for _, card := range ranked {
		if len(orders) >= slots {
			break
		}
		if !Eligible(card.Recommendation) || acct.Held[card.Symbol] {
			continue
		}
		price, ok := prices[card.Symbol]
		if !ok || price <= 0 || math.IsNaN(price) {
			continue
		}
		budget := math.Min(spendable*s.cfg.PerTradePct, acct.Equity*s.cfg.MaxPositionPct)
		shares := s.roundLot(budget / price)
		if shares <= 0 {
			continue
		}
		cost := float64(shares) * price
		orders = append(orders, Order{Symbol: card.Symbol, Shares: shares, Price: price, Cost: cost, Score: card.TotalScore})
		spendable -= cost
		if spendable <= 0 {
			break
		}
	}
	return orders
}

// Eligible 判断建议档位是否允许建仓。
func Eligible(rec scorer.Recommendation) bool {
	return rec == scorer.StrongBuy || rec == scorer.BuyWatch
}

func (s *Sizer) roundLot(shares float64) int64 {
	if shares <= 0 || math.IsNaN(shares) || math.IsInf(shares, 0) {
		return 0
	}
	lot := s.cfg.LotSize
	return int64(shares) / lot * lot
}

// rankCards 按总分降序、同分按 symbol 升序，保证分配顺序可复现。
func rankCards(cards []scorer.Scorecard) []scorer.Scorecard {
	ranked := append([]scorer.Scorecard(nil), cards...)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].TotalScore == ranked[j].TotalScore {
			return ranked[i].Symbol < ranked[j].Symbol
		}
		return ranked[i].TotalScore > ranked[j].TotalScore
	})
	return ranked
}
