package config

import "strings"

// Config 是 stock4n 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Universe  UniverseConfig  `toml:"universe"`
	Scoring   ScoringConfig   `toml:"scoring"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Risk      RiskConfig      `toml:"risk"`
	Backtest  BacktestConfig  `toml:"backtest"`
	Optimize  OptimizeConfig  `toml:"optimize"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// DataConfig 描述所有本地数据文件的位置。留空的路径按 dir 推导。
type DataConfig struct {
	Dir             string `toml:"dir"`
	BarDBPath       string `toml:"bar_db_path"`
	ResultDBPath    string `toml:"result_db_path"`
	CSVDir          string `toml:"csv_dir"`
	FundamentalsDir string `toml:"fundamentals_dir"`
	ParamsDir       string `toml:"params_dir"`
}

type UniverseConfig struct {
	Path    string   `toml:"path"`
	Symbols []string `toml:"symbols"` // 非空时覆盖 universe 文件
}

// ScoringConfig 控制基本面/技术面双因子打分。
type ScoringConfig struct {
	FundWeight float64 `toml:"fund_weight"`
	TechWeight float64 `toml:"tech_weight"`
	// 推荐档位阈值，按总分从高到低匹配。
	StrongBuyThreshold float64 `toml:"strong_buy_threshold"`
	BuyWatchThreshold  float64 `toml:"buy_watch_threshold"`
	WatchThreshold     float64 `toml:"watch_threshold"`
}

type PortfolioConfig struct {
	MaxOpenPositions int     `toml:"max_open_positions"`
	LotSize          int     `toml:"lot_size"`
	PerTradePct      float64 `toml:"per_trade_pct"`
	MaxPositionPct   float64 `toml:"max_position_pct"`
	MinPositionPct   float64 `toml:"min_position_pct"`
	CashReservePct   float64 `toml:"cash_reserve_pct"`
}

type RiskConfig struct {
	StopLossPct     float64 `toml:"stop_loss_pct"`
	TargetProfitPct float64 `toml:"target_profit_pct"`
}

type BacktestConfig struct {
	InitialCapital    float64 `toml:"initial_capital"`
	LookbackDays      int     `toml:"lookback_days"`
	MaxConcurrentRuns int     `toml:"max_concurrent_runs"`
}

// OptimizeConfig 描述权重网格搜索空间。
type OptimizeConfig struct {
	WeightMin float64 `toml:"weight_min"`
	WeightMax float64 `toml:"weight_max"`
	Step      float64 `toml:"step"`
	Metric    string  `toml:"metric"`
	Workers   int     `toml:"workers"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
