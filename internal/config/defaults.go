package config

import "strings"

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9966"
	defaultAppLogPath  = "data/logs/stock4n.log"

	defaultDataDir      = "data"
	defaultUniversePath = "configs/universe.yaml"

	defaultFundWeight         = 0.6
	defaultTechWeight         = 0.4
	defaultStrongBuyThreshold = 8.5
	defaultBuyWatchThreshold  = 7.0
	defaultWatchThreshold     = 5.0

	defaultMaxOpenPositions = 10
	defaultLotSize          = 100
	defaultPerTradePct      = 0.10
	defaultMaxPositionPct   = 0.40
	defaultMinPositionPct   = 0.05
	defaultCashReservePct   = 0.20

	defaultStopLossPct     = 0.07
	defaultTargetProfitPct = 0.15

	defaultInitialCapital    = 100_000_000
	defaultLookbackDays      = 365
	defaultMaxConcurrentRuns = 2

	defaultWeightMin       = 0.3
	defaultWeightMax       = 0.7
	defaultWeightStep      = 0.1
	defaultOptimizeMetric  = "sharpe_ratio"
	defaultOptimizeWorkers = 4
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Universe.applyDefaults(keys)
	c.Scoring.applyDefaults(keys)
	c.Portfolio.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Optimize.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.dir", &d.Dir, defaultDataDir),
	)
	// 子路径默认挂在 dir 之下。
	applyFieldDefaults(keys,
		stringFieldDefault("data.bar_db_path", &d.BarDBPath, d.Dir+"/db/bars.db"),
		stringFieldDefault("data.result_db_path", &d.ResultDBPath, d.Dir+"/db/results.db"),
		stringFieldDefault("data.csv_dir", &d.CSVDir, d.Dir+"/raw"),
		stringFieldDefault("data.fundamentals_dir", &d.FundamentalsDir, d.Dir+"/fundamentals"),
		stringFieldDefault("data.params_dir", &d.ParamsDir, d.Dir+"/params"),
	)
}

func (u *UniverseConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("universe.path", &u.Path, defaultUniversePath),
	)
}

func (s *ScoringConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("scoring.fund_weight", &s.FundWeight, defaultFundWeight),
		floatFieldDefault("scoring.tech_weight", &s.TechWeight, defaultTechWeight),
		floatFieldDefault("scoring.strong_buy_threshold", &s.StrongBuyThreshold, defaultStrongBuyThreshold),
		floatFieldDefault("scoring.buy_watch_threshold", &s.BuyWatchThreshold, defaultBuyWatchThreshold),
		floatFieldDefault("scoring.watch_threshold", &s.WatchThreshold, defaultWatchThreshold),
	)
}

func (p *PortfolioConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("portfolio.max_open_positions", &p.MaxOpenPositions, defaultMaxOpenPositions),
		intFieldDefault("portfolio.lot_size", &p.LotSize, defaultLotSize),
		floatFieldDefault("portfolio.per_trade_pct", &p.PerTradePct, defaultPerTradePct),
		floatFieldDefault("portfolio.max_position_pct", &p.MaxPositionPct, defaultMaxPositionPct),
		floatFieldDefault("portfolio.min_position_pct", &p.MinPositionPct, defaultMinPositionPct),
		floatFieldDefault("portfolio.cash_reserve_pct", &p.CashReservePct, defaultCashReservePct),
	)
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.stop_loss_pct", &r.StopLossPct, defaultStopLossPct),
		floatFieldDefault("risk.target_profit_pct", &r.TargetProfitPct, defaultTargetProfitPct),
	)
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		intFieldDefault("backtest.lookback_days", &b.LookbackDays, defaultLookbackDays),
		intFieldDefault("backtest.max_concurrent_runs", &b.MaxConcurrentRuns, defaultMaxConcurrentRuns),
	)
}

func (o *OptimizeConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("optimize.weight_min", &o.WeightMin, defaultWeightMin),
		floatFieldDefault("optimize.weight_max", &o.WeightMax, defaultWeightMax),
		floatFieldDefault("optimize.step", &o.Step, defaultWeightStep),
		stringFieldDefault("optimize.metric", &o.Metric, defaultOptimizeMetric),
		intFieldDefault("optimize.workers", &o.Workers, defaultOptimizeWorkers),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target == 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
