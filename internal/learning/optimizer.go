package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stock4n/internal/analysis/scorer"
	"stock4n/internal/backtest"
	"stock4n/internal/logger"
	"stock4n/internal/market"
)

// 网格寻优支持的排序指标。
const (
	MetricSharpe       = "sharpe_ratio"
	MetricTotalReturn  = "total_return"
	MetricWinRate      = "win_rate"
	MetricProfitFactor = "profit_factor"
)

// ValidMetric 判断指标名是否受支持（大小写不敏感）。
func ValidMetric(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case MetricSharpe, MetricTotalReturn, MetricWinRate, MetricProfitFactor:
		return true
	default:
		return false
	}
}

// BacktestRunner 由回测引擎实现：一次完整的、自包含的回放。
type BacktestRunner interface {
	Run(ctx context.Context, p backtest.Params) (backtest.Result, error)
}

// ParamsResolver 由 Simulator 实现：把请求补全成引擎参数（窗口、股票池、本金）。
type ParamsResolver interface {
	RunParams(req backtest.RunRequest) (backtest.Params, error)
}

// SearchSpace 是权重网格的搜索空间。fund 在 [Min,Max] 上按 Step 取值，
// tech = 1 − fund，tech 出界的组合被跳过。
type SearchSpace struct {
	WeightMin float64
	WeightMax float64
	Step      float64
	Metric    string
	Workers   int
}

func (s SearchSpace) validate() error {
	if s.WeightMin >= s.WeightMax {
		return fmt.Errorf("weight_min(%v) 需 < weight_max(%v)", s.WeightMin, s.WeightMax)
	}
	if s.WeightMin < 0 || s.WeightMax > 1 {
		return fmt.Errorf("权重范围需落在 [0,1] 内: [%v,%v]", s.WeightMin, s.WeightMax)
	}
	if s.Step <= 0 {
		return fmt.Errorf("step 需 > 0: %v", s.Step)
	}
	if !ValidMetric(s.Metric) {
		return fmt.Errorf("不支持的寻优指标 %q", s.Metric)
	}
	if s.Workers < 1 {
		return fmt.Errorf("workers 需 >= 1: %d", s.Workers)
	}
	return nil
}

type OptimizerConfig struct {
	Runner   BacktestRunner
	Resolver ParamsResolver
	Results  *backtest.ResultStore
	Params   *ParameterStore
	Search   SearchSpace
}

// Optimizer 执行权重网格搜索：每个组合跑一次完整回测，按指标排名，
// 最优组合可选地写入 ParameterStore 作为学习产物。组合间无共享可变状态，
// 以 errgroup 并行。
type Optimizer struct {
	runner   BacktestRunner
	resolver ParamsResolver
	results  *backtest.ResultStore
	params   *ParameterStore
	search   SearchSpace

	baseCtx context.Context
}

func NewOptimizer(cfg OptimizerConfig) (*Optimizer, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner 不能为空")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("params resolver 不能为空")
	}
	if cfg.Results == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Params == nil {
		return nil, fmt.Errorf("parameter store 不能为空")
	}
	cfg.Search.Metric = strings.ToLower(strings.TrimSpace(cfg.Search.Metric))
	if err := cfg.Search.validate(); err != nil {
		return nil, err
	}
	return &Optimizer{
		runner:   cfg.Runner,
		resolver: cfg.Resolver,
		results:  cfg.Results,
		params:   cfg.Params,
		search:   cfg.Search,
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 指定后台任务的根 ctx，随应用退出统一取消。
func (o *Optimizer) SetContext(ctx context.Context) {
	if ctx != nil {
		o.baseCtx = ctx
	}
}

func (o *Optimizer) ctx() context.Context {
	if o.baseCtx != nil {
		return o.baseCtx
	}
	return context.Background()
}

// StartOptimize 创建寻优任务并立即返回，网格搜索在后台进行。
// 实现 backtest.OptimizeStarter。
func (o *Optimizer) StartOptimize(req backtest.OptimizeRequest) (backtest.OptimizationJob, error) {
	metric, err := o.resolveMetric(req.Metric)
	if err != nil {
		return backtest.OptimizationJob{}, err
	}
	base, err := o.resolver.RunParams(runRequestOf(req))
	if err != nil {
		return backtest.OptimizationJob{}, err
	}
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return backtest.OptimizationJob{}, err
	}
	job := backtest.OptimizationJob{
		ID:      uuid.NewString(),
		Status:  backtest.RunStatusPending,
		Metric:  metric,
		Request: reqJSON,
	}
	if err := o.results.InsertJob(o.ctx(), job); err != nil {
		return backtest.OptimizationJob{}, err
	}
	go o.runJob(job.ID, base, metric, req.Apply)
	return job, nil
}

// Optimize 同步执行一次网格搜索，供测试与内部调用复用。
func (o *Optimizer) Optimize(ctx context.Context, req backtest.OptimizeRequest) (backtest.OptimizeOutcome, error) {
	metric, err := o.resolveMetric(req.Metric)
	if err != nil {
		return backtest.OptimizeOutcome{}, err
	}
	base, err := o.resolver.RunParams(runRequestOf(req))
	if err != nil {
		return backtest.OptimizeOutcome{}, err
	}
	outcome, err := o.searchGrid(ctx, base, metric)
	if err != nil {
		return backtest.OptimizeOutcome{}, err
	}
	if req.Apply {
		outcome.Applied = o.applyBest(outcome)
	}
	return outcome, nil
}

func (o *Optimizer) runJob(jobID string, base backtest.Params, metric string, apply bool) {
	ctx := o.ctx()
	if err := o.results.UpdateJobStatus(ctx, jobID, backtest.RunStatusRunning, "网格搜索中…", nil); err != nil {
		logger.Warnf("[optimize] job %s 更新状态失败: %v", jobID, err)
	}
	outcome, err := o.searchGrid(ctx, base, metric)
	if err != nil {
		logger.Warnf("[optimize] job %s 失败: %v", jobID, err)
		_ = o.results.UpdateJobStatus(ctx, jobID, backtest.RunStatusFailed, err.Error(), nil)
		return
	}
	if apply {
		outcome.Applied = o.applyBest(outcome)
	}
	raw, err := json.Marshal(outcome)
	if err != nil {
		_ = o.results.UpdateJobStatus(ctx, jobID, backtest.RunStatusFailed, err.Error(), nil)
		return
	}
	if err := o.results.UpdateJobStatus(ctx, jobID, backtest.RunStatusDone, "", raw); err != nil {
		logger.Warnf("[optimize] job %s 落库失败: %v", jobID, err)
	}
}

// searchGrid 对每个权重组合跑一次自包含回测并排名。
// 每个 goroutine 拿到 base 的值拷贝，只改自己的权重字段。
func (o *Optimizer) searchGrid(ctx context.Context, base backtest.Params, metric string) (backtest.OptimizeOutcome, error) {
	grid := weightGrid(o.search.WeightMin, o.search.WeightMax, o.search.Step)
	if len(grid) == 0 {
		return backtest.OptimizeOutcome{}, fmt.Errorf("搜索空间 [%v,%v]/%v 不含任何合法组合",
			o.search.WeightMin, o.search.WeightMax, o.search.Step)
	}
	logger.Infof("[optimize] %s..%s 网格 %d 组合，指标 %s",
		market.FormatDay(base.StartDay), market.FormatDay(base.EndDay), len(grid), metric)

	combos := make([]backtest.OptimizeCombo, len(grid))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.search.Workers)
	for i, w := range grid {
		i, w := i, w
		g.Go(func() error {
			p := base
			p.Weights = w
			res, err := o.runner.Run(gctx, p)
			if err != nil {
				return fmt.Errorf("组合 fund=%.2f tech=%.2f: %w", w.Fund, w.Tech, err)
			}
			m := res.Metrics
			combos[i] = backtest.OptimizeCombo{
				FundWeight:     w.Fund,
				TechWeight:     w.Tech,
				MetricValue:    backtest.JSONFloat(metricValue(m, metric)),
				TotalReturnPct: m.TotalReturnPct,
				MaxDrawdownPct: m.MaxDrawdownPct,
				WinRate:        m.WinRate,
				SharpeRatio:    m.SharpeRatio,
				ProfitFactor:   m.ProfitFactor,
				TradeCount:     m.TradeCount,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return backtest.OptimizeOutcome{}, err
	}

	rankCombos(combos)
	outcome := backtest.OptimizeOutcome{
		Metric:   metric,
		Symbols:  base.Symbols,
		StartDay: base.StartDay,
		EndDay:   base.EndDay,
		Best:     combos[0],
		Combos:   combos,
	}
	logger.Infof("[optimize] 最优组合 fund=%.2f tech=%.2f (%s=%v, 收益 %.2f%%)",
		outcome.Best.FundWeight, outcome.Best.TechWeight, metric,
		float64(outcome.Best.MetricValue), outcome.Best.TotalReturnPct)
	return outcome, nil
}

// applyBest 把最优权重写入 ParameterStore。窗口内一笔交易都没有时放弃落盘，
// 这样空数据不会覆盖掉先前学到的权重。
func (o *Optimizer) applyBest(outcome backtest.OptimizeOutcome) bool {
	if outcome.Best.TradeCount == 0 {
		logger.Warnf("[optimize] 窗口内无任何成交，最优权重不落盘")
		return false
	}
	best := outcome.Best
	doc := WeightsDocument{
		Metric: outcome.Metric,
		Weights: LearnedWeights{
			FundWeight: best.FundWeight,
			TechWeight: best.TechWeight,
		},
		Performance: &best,
		Window: &WeightsDocumentWindow{
			StartDay: outcome.StartDay,
			EndDay:   outcome.EndDay,
			Symbols:  outcome.Symbols,
		},
	}
	if _, err := o.params.SaveWeights(doc); err != nil {
		logger.Errorf("[optimize] 保存最优权重失败: %v", err)
		return false
	}
	return true
}

func (o *Optimizer) resolveMetric(raw string) (string, error) {
	metric := strings.ToLower(strings.TrimSpace(raw))
	if metric == "" {
		return o.search.Metric, nil
	}
	if !ValidMetric(metric) {
		return "", fmt.Errorf("不支持的寻优指标 %q", raw)
	}
	return metric, nil
}

func runRequestOf(req backtest.OptimizeRequest) backtest.RunRequest {
	return backtest.RunRequest{
		Symbols:        req.Symbols,
		StartDay:       req.StartDay,
		EndDay:         req.EndDay,
		LookbackDays:   req.LookbackDays,
		InitialCapital: req.InitialCapital,
	}
}

// weightGrid 生成 fund 权重网格（两位小数），tech = 1 − fund，
// 任一侧出界的组合被跳过。默认 [0.3,0.7]/0.1 恰好得到 5 个组合。
func weightGrid(min, max, step float64) []scorer.Weights {
	const eps = 1e-9
	var grid []scorer.Weights
	for raw := min; raw <= max+eps; raw += step {
		fund := math.Round(raw*100) / 100
		if fund < min-eps || fund > max+eps {
			continue
		}
		tech := math.Round((1-fund)*100) / 100
		if tech < min-eps || tech > max+eps {
			continue
		}
		grid = append(grid, scorer.Weights{Fund: fund, Tech: tech})
	}
	return grid
}

// rankCombos 原地排序并填充 Rank：指标降序（NaN 排最后），并列时依次比
// 更高收益、更小回撤、更小 fund 权重——全序保证重复寻优输出稳定。
func rankCombos(combos []backtest.OptimizeCombo) {
	sort.SliceStable(combos, func(i, j int) bool {
		return comboBefore(combos[i], combos[j])
	})
	for i := range combos {
		combos[i].Rank = i + 1
	}
}

func comboBefore(a, b backtest.OptimizeCombo) bool {
	av, bv := float64(a.MetricValue), float64(b.MetricValue)
	aNaN, bNaN := math.IsNaN(av), math.IsNaN(bv)
	switch {
	case aNaN && !bNaN:
		return false
	case !aNaN && bNaN:
		return true
	case !aNaN && av != bv:
		return av > bv
	}
	if a.TotalReturnPct != b.TotalReturnPct {
		return a.TotalReturnPct > b.TotalReturnPct
	}
	if a.MaxDrawdownPct != b.MaxDrawdownPct {
		return a.MaxDrawdownPct < b.MaxDrawdownPct
	}
	return a.FundWeight < b.FundWeight
}

func metricValue(m backtest.Metrics, metric string) float64 {
	switch metric {
	case MetricSharpe:
		return float64(m.SharpeRatio)
	case MetricTotalReturn:
		return m.TotalReturnPct
	case MetricWinRate:
		return m.WinRate
	case MetricProfitFactor:
		return float64(m.ProfitFactor)
	default:
		return math.NaN()
	}
}
