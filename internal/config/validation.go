package config

import (
	"fmt"
	"strings"
)

// optimizeMetrics 是网格搜索允许的排序指标。
var optimizeMetrics = map[string]bool{
	"sharpe_ratio":  true,
	"total_return":  true,
	"win_rate":      true,
	"profit_factor": true,
}

// validate 对配置进行基础校验。不合法的约束组合立即报错，不做降级。
func validate(c *Config) error {
	if err := c.Scoring.validate(); err != nil {
		return err
	}
	if err := c.Portfolio.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Backtest.validate(); err != nil {
		return err
	}
	if err := c.Optimize.validate(); err != nil {
		return err
	}
	return nil
}

func (s *ScoringConfig) validate() error {
	if s.FundWeight < 0 || s.FundWeight > 1 {
		return fmt.Errorf("scoring.fund_weight must be in [0,1], got %v", s.FundWeight)
	}
	if s.TechWeight < 0 || s.TechWeight > 1 {
		return fmt.Errorf("scoring.tech_weight must be in [0,1], got %v", s.TechWeight)
	}
	if s.FundWeight == 0 && s.TechWeight == 0 {
		return fmt.Errorf("scoring weights cannot both be zero")
	}
	if !(s.StrongBuyThreshold > s.BuyWatchThreshold && s.BuyWatchThreshold > s.WatchThreshold) {
		return fmt.Errorf("scoring thresholds must be strictly descending: strong_buy(%v) > buy_watch(%v) > watch(%v)",
			s.StrongBuyThreshold, s.BuyWatchThreshold, s.WatchThreshold)
	}
	return nil
}

func (p *PortfolioConfig) validate() error {
	if p.MaxOpenPositions < 1 {
		return fmt.Errorf("portfolio.max_open_positions must be >= 1")
	}
	if p.LotSize < 1 {
		return fmt.Errorf("portfolio.lot_size must be >= 1")
	}
	if p.PerTradePct <= 0 || p.PerTradePct > 1 {
		return fmt.Errorf("portfolio.per_trade_pct must be in (0,1], got %v", p.PerTradePct)
	}
	if p.MaxPositionPct <= 0 || p.MaxPositionPct > 1 {
		return fmt.Errorf("portfolio.max_position_pct must be in (0,1], got %v", p.MaxPositionPct)
	}
	if p.MinPositionPct < 0 || p.MinPositionPct > p.MaxPositionPct {
		return fmt.Errorf("portfolio.min_position_pct must be in [0, max_position_pct], got %v", p.MinPositionPct)
	}
	if p.CashReservePct < 0 || p.CashReservePct >= 1 {
		return fmt.Errorf("portfolio.cash_reserve_pct must be in [0,1), got %v", p.CashReservePct)
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.StopLossPct <= 0 || r.StopLossPct >= 1 {
		return fmt.Errorf("risk.stop_loss_pct must be in (0,1), got %v", r.StopLossPct)
	}
	if r.TargetProfitPct <= 0 {
		return fmt.Errorf("risk.target_profit_pct must be > 0, got %v", r.TargetProfitPct)
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be > 0, got %v", b.InitialCapital)
	}
	if b.LookbackDays < 1 {
		return fmt.Errorf("backtest.lookback_days must be >= 1")
	}
	if b.MaxConcurrentRuns < 1 {
		return fmt.Errorf("backtest.max_concurrent_runs must be >= 1")
	}
	return nil
}

func (o *OptimizeConfig) validate() error {
	if o.WeightMin >= o.WeightMax {
		return fmt.Errorf("optimize.weight_min(%v) must be < optimize.weight_max(%v)", o.WeightMin, o.WeightMax)
	}
	if o.WeightMin < 0 || o.WeightMax > 1 {
		return fmt.Errorf("optimize weight range must stay within [0,1]")
	}
	if o.Step <= 0 {
		return fmt.Errorf("optimize.step must be > 0, got %v", o.Step)
	}
	metric := strings.ToLower(strings.TrimSpace(o.Metric))
	if !optimizeMetrics[metric] {
		return fmt.Errorf("optimize.metric %q is not supported", o.Metric)
	}
	o.Metric = metric
	if o.Workers < 1 {
		return fmt.Errorf("optimize.workers must be >= 1")
	}
	return nil
}
