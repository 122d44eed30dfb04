package backtest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"stock4n/internal/analysis/scorer"
	"stock4n/internal/logger"
	"stock4n/internal/market"
	"stock4n/internal/portfolio"
)

// CoverageSource 提供行情覆盖信息，用于推导默认回测窗口。
type CoverageSource interface {
	Coverage(ctx context.Context) ([]market.Manifest, error)
}

// WeightSource 提供当前生效的打分权重（学习产物或配置默认）。
type WeightSource interface {
	Current() scorer.Weights
}

// RunDefaults 是请求字段缺省时采用的参数。
type RunDefaults struct {
	InitialCapital float64
	LookbackDays   int
	Weights        scorer.Weights
	Risk           portfolio.Risk
	Portfolio      portfolio.Config
}

type SimulatorConfig struct {
	Engine        *Engine
	Results       *ResultStore
	Coverage      CoverageSource
	Weights       WeightSource
	Universe      []string
	Defaults      RunDefaults
	MaxConcurrent int
}

// Simulator 接收回测请求，补全缺省参数后在后台运行引擎并落库。
type Simulator struct {
	engine   *Engine
	results  *ResultStore
	coverage CoverageSource
	weights  WeightSource
	universe []string
	defaults RunDefaults

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Coverage == nil {
		return nil, fmt.Errorf("coverage source 不能为空")
	}
	if len(cfg.Universe) == 0 {
		return nil, fmt.Errorf("universe 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		engine:   cfg.Engine,
		results:  cfg.Results,
		coverage: cfg.Coverage,
		weights:  cfg.Weights,
		universe: cfg.Universe,
		defaults: cfg.Defaults,
		sem:      make(chan struct{}, maxConcurrent),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 指定后台任务的根 ctx，随应用退出统一取消。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回测任务并立即返回，回放过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	params, cfg, err := s.resolve(req)
	if err != nil {
		return Run{}, err
	}
	run := Run{
		ID:             uuid.NewString(),
		Status:         RunStatusPending,
		StartDay:       cfg.StartDay,
		EndDay:         cfg.EndDay,
		InitialCapital: cfg.InitialCapital,
		FinalEquity:    cfg.InitialCapital,
		Config:         cfg,
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, params)
	return run, nil
}

// RunParams 把一份请求补全成引擎参数，供寻优等同步调用方复用。
func (s *Simulator) RunParams(req RunRequest) (Params, error) {
	params, _, err := s.resolve(req)
	return params, err
}

func (s *Simulator) resolve(req RunRequest) (Params, RunConfig, error) {
	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = s.universe
	}
	upper := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			upper = append(upper, sym)
		}
	}
	if len(upper) == 0 {
		return Params{}, RunConfig{}, fmt.Errorf("symbols 不能为空")
	}

	start, end, err := s.resolveWindow(req)
	if err != nil {
		return Params{}, RunConfig{}, err
	}
	capital := req.InitialCapital
	if capital <= 0 {
		capital = s.defaults.InitialCapital
	}
	weights := s.resolveWeights(req)

	params := Params{
		Symbols:        upper,
		StartDay:       start,
		EndDay:         end,
		InitialCapital: capital,
		Weights:        weights,
		Risk:           s.defaults.Risk,
	}
	cfg := RunConfig{
		Symbols:          upper,
		StartDay:         start,
		EndDay:           end,
		InitialCapital:   capital,
		FundWeight:       weights.Fund,
		TechWeight:       weights.Tech,
		StopLossPct:      s.defaults.Risk.StopLossPct,
		TargetProfitPct:  s.defaults.Risk.TargetProfitPct,
		MaxOpenPositions: s.defaults.Portfolio.MaxOpenPositions,
		LotSize:          s.defaults.Portfolio.LotSize,
		PerTradePct:      s.defaults.Portfolio.PerTradePct,
		MaxPositionPct:   s.defaults.Portfolio.MaxPositionPct,
		CashReservePct:   s.defaults.Portfolio.CashReservePct,
		Notes:            req.Notes,
	}
	return params, cfg, nil
}

// resolveWindow 解析回测窗口。日期缺省时以行情覆盖的最新交易日为终点、
// 回看窗口天数为跨度。
func (s *Simulator) resolveWindow(req RunRequest) (int64, int64, error) {
	var start, end int64
	var err error
	if req.StartDay != "" {
		if start, err = market.ParseDay(req.StartDay); err != nil {
			return 0, 0, fmt.Errorf("start_day 非法: %w", err)
		}
	}
	if req.EndDay != "" {
		if end, err = market.ParseDay(req.EndDay); err != nil {
			return 0, 0, fmt.Errorf("end_day 非法: %w", err)
		}
	}
	if end == 0 {
		if end, err = latestCoveredDay(s.ctx(), s.coverage); err != nil {
			return 0, 0, err
		}
	}
	if start == 0 {
		lookback := req.LookbackDays
		if lookback <= 0 {
			lookback = s.defaults.LookbackDays
		}
		if lookback <= 0 {
			lookback = 365
		}
		start = market.AddDays(end, -lookback)
	}
	if end < start {
		return 0, 0, fmt.Errorf("end_day 早于 start_day")
	}
	return start, end, nil
}

// latestCoveredDay 取覆盖清单里最晚的交易日，作为缺省 as-of 日。
func latestCoveredDay(ctx context.Context, cov CoverageSource) (int64, error) {
	manifests, err := cov.Coverage(ctx)
	if err != nil {
		return 0, err
	}
	var latest int64
	for _, m := range manifests {
		if m.MaxDay > latest {
			latest = m.MaxDay
		}
	}
	if latest == 0 {
		return 0, fmt.Errorf("尚未导入任何行情，无法推导回测窗口")
	}
	return latest, nil
}

// resolveWeights 权重取值链：请求显式指定 → 学习到的权重 → 配置默认。
func (s *Simulator) resolveWeights(req RunRequest) scorer.Weights {
	if req.FundWeight > 0 || req.TechWeight > 0 {
		return scorer.Weights{Fund: req.FundWeight, Tech: req.TechWeight}
	}
	if s.weights != nil {
		if w := s.weights.Current(); w.Fund > 0 || w.Tech > 0 {
			return w
		}
	}
	return s.defaults.Weights
}

func (s *Simulator) runLoop(runID string, params Params) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	if err := s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "回放行情中…"); err != nil {
		logger.Warnf("[backtest] run %s 更新状态失败: %v", runID, err)
	}
	result, err := s.engine.Run(ctx, params)
	if err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
		return
	}
	if err := s.results.CompleteRun(ctx, runID, result); err != nil {
		logger.Warnf("[backtest] run %s 落库失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
	}
}
