package app

import (
	"context"
	"fmt"

	"stock4n/internal/analysis/feature"
	"stock4n/internal/analysis/indicator"
	"stock4n/internal/analysis/pattern"
	"stock4n/internal/analysis/scorer"
	"stock4n/internal/backtest"
	"stock4n/internal/config"
	"stock4n/internal/learning"
	"stock4n/internal/logger"
	"stock4n/internal/market"
	"stock4n/internal/portfolio"
)

const importWorkers = 4

// AppBuilder 按依赖顺序组装全部组件：行情仓库 → 特征/打分 → 回测引擎 →
// 学习层 → HTTP 服务。任何一步失败都会关闭已打开的存储再返回。
type AppBuilder struct {
	cfg *config.Config
}

func NewAppBuilder(cfg *config.Config) *AppBuilder {
	return &AppBuilder{cfg: cfg}
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	universe, err := config.LoadUniverse(cfg)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 股票池共 %d 个 symbol", len(universe))

	barStore, err := market.NewBarStore(cfg.Data.BarDBPath)
	if err != nil {
		return nil, fmt.Errorf("打开行情库失败: %w", err)
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultDBPath)
	if err != nil {
		barStore.Close()
		return nil, fmt.Errorf("打开结果库失败: %w", err)
	}
	closeStores := func() {
		results.Close()
		barStore.Close()
	}

	funds, err := market.NewFundamentalsReader(cfg.Data.FundamentalsDir)
	if err != nil {
		closeStores()
		return nil, err
	}
	importer, err := market.NewImporter(barStore, cfg.Data.CSVDir, importWorkers)
	if err != nil {
		closeStores()
		return nil, err
	}

	feats := feature.New(barStore, funds, indicator.Settings{}, pattern.Settings{})
	sc := scorer.New(scorer.Thresholds{
		StrongBuy: cfg.Scoring.StrongBuyThreshold,
		BuyWatch:  cfg.Scoring.BuyWatchThreshold,
		Watch:     cfg.Scoring.WatchThreshold,
	})
	sizerCfg := portfolio.Config{
		MaxOpenPositions: cfg.Portfolio.MaxOpenPositions,
		LotSize:          int64(cfg.Portfolio.LotSize),
		PerTradePct:      cfg.Portfolio.PerTradePct,
		MaxPositionPct:   cfg.Portfolio.MaxPositionPct,
		MinPositionPct:   cfg.Portfolio.MinPositionPct,
		CashReservePct:   cfg.Portfolio.CashReservePct,
	}
	sizer := portfolio.NewSizer(sizerCfg)

	engine, err := backtest.NewEngine(barStore, feats, sc, sizer)
	if err != nil {
		closeStores()
		return nil, err
	}

	params, err := learning.NewParameterStore(cfg.Data.ParamsDir)
	if err != nil {
		closeStores()
		return nil, err
	}
	registry, err := learning.NewRegistry(params.LatestPath(), scorer.Weights{
		Fund: cfg.Scoring.FundWeight,
		Tech: cfg.Scoring.TechWeight,
	})
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("初始化权重 registry 失败: %w", err)
	}

	defaults := backtest.RunDefaults{
		InitialCapital: cfg.Backtest.InitialCapital,
		LookbackDays:   cfg.Backtest.LookbackDays,
		Weights:        scorer.Weights{Fund: cfg.Scoring.FundWeight, Tech: cfg.Scoring.TechWeight},
		Risk: portfolio.Risk{
			StopLossPct:     cfg.Risk.StopLossPct,
			TargetProfitPct: cfg.Risk.TargetProfitPct,
		},
		Portfolio: sizerCfg,
	}

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Engine:        engine,
		Results:       results,
		Coverage:      barStore,
		Weights:       registry,
		Universe:      universe,
		Defaults:      defaults,
		MaxConcurrent: cfg.Backtest.MaxConcurrentRuns,
	})
	if err != nil {
		closeStores()
		return nil, err
	}

	opt, err := learning.NewOptimizer(learning.OptimizerConfig{
		Runner:   engine,
		Resolver: sim,
		Results:  results,
		Params:   params,
		Search: learning.SearchSpace{
			WeightMin: cfg.Optimize.WeightMin,
			WeightMax: cfg.Optimize.WeightMax,
			Step:      cfg.Optimize.Step,
			Metric:    cfg.Optimize.Metric,
			Workers:   cfg.Optimize.Workers,
		},
	})
	if err != nil {
		closeStores()
		return nil, err
	}

	advisor, err := backtest.NewAdvisor(backtest.AdvisorConfig{
		Features: feats,
		Scorer:   sc,
		Sizer:    sizer,
		Coverage: barStore,
		Weights:  registry,
		Universe: universe,
		Defaults: defaults,
	})
	if err != nil {
		closeStores()
		return nil, err
	}

	httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Simulator: sim,
		Results:   results,
		Advisor:   advisor,
		Optimizer: opt,
		Importer:  importer,
		Coverage:  barStore,
		Reports:   backtest.NewReportRenderer(),
		Universe:  universe,
	})
	if err != nil {
		closeStores()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		barStore: barStore,
		results:  results,
		registry: registry,
		sim:      sim,
		opt:      opt,
		http:     httpSrv,
	}, nil
}
