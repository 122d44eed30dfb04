package pattern

import (
	"math"
	"sort"

	"stock4n/internal/market"
)

// Settings 控制各类 pattern 检测的窗口参数。零值用默认补齐。
type Settings struct {
	SeasonalityLookbackDays int     `json:"seasonality_lookback_days,omitempty"`
	SRLookbackDays          int     `json:"sr_lookback_days,omitempty"`
	ClusterThreshold        float64 `json:"cluster_threshold,omitempty"`
	MomentumPeriods         []int   `json:"momentum_periods,omitempty"`
}

func (s Settings) normalized() Settings {
	if s.SeasonalityLookbackDays <= 0 {
		s.SeasonalityLookbackDays = 730
	}
	if s.SRLookbackDays <= 0 {
		s.SRLookbackDays = 180
	}
	if s.ClusterThreshold <= 0 {
		s.ClusterThreshold = 0.02
	}
	if len(s.MomentumPeriods) == 0 {
		s.MomentumPeriods = []int{5, 10, 20, 60}
	}
	return s
}

// Seasonality 描述按月/季聚合的历史日收益率。
type Seasonality struct {
	MonthlyReturns   map[int]float64 `json:"monthly_returns"`
	QuarterlyReturns map[int]float64 `json:"quarterly_returns"`
	BestMonths       []int           `json:"best_months"`
	WorstMonths      []int           `json:"worst_months"`
	BestQuarter      int             `json:"best_quarter"`
	WorstQuarter     int             `json:"worst_quarter"`
}

// Levels 描述聚类后的支撑/阻力位。Nearest* 为 NaN 表示该侧不存在。
type Levels struct {
	Supports          []float64 `json:"supports"`
	Resistances       []float64 `json:"resistances"`
	CurrentPrice      float64   `json:"current_price"`
	NearestSupport    float64   `json:"nearest_support"`
	NearestResistance float64   `json:"nearest_resistance"`
}

// Signals 是三路信号与合成结果，每路取值 {-1,0,1}。
type Signals struct {
	Seasonality       int     `json:"seasonality_signal"`
	Momentum          int     `json:"momentum_signal"`
	SupportResistance int     `json:"support_resistance_signal"`
	Combined          int     `json:"combined_signal"`
	Confidence        float64 `json:"confidence"`
}

// Result 汇总单个 symbol 截至 asOf 的全部 pattern 输出。
type Result struct {
	Symbol      string          `json:"symbol"`
	AsOf        int64           `json:"as_of"`
	Seasonality *Seasonality    `json:"seasonality,omitempty"`
	Momentum    map[int]float64 `json:"momentum,omitempty"`
	Levels      *Levels         `json:"levels,omitempty"`
	Signals     Signals         `json:"signals"`
}

// Analyze 对升序日线做截至 asOf 的 pattern 分析。任何一路数据不足都退化为
// 中性信号，不报错。asOf 决定"当前月份"，保证回测重放时结果可复现。
func Analyze(symbol string, bars []market.Bar, asOf int64, cfg Settings) Result {
	cfg = cfg.normalized()
	bars = trimAfter(bars, asOf)
	res := Result{Symbol: symbol, AsOf: asOf}
	if len(bars) == 0 {
		res.Signals.Confidence = confidence(res.Signals)
		return res
	}

	res.Seasonality = detectSeasonality(bars, asOf, cfg.SeasonalityLookbackDays)
	res.Momentum = detectMomentum(bars, cfg.MomentumPeriods)
	res.Levels = detectLevels(bars, asOf, cfg.SRLookbackDays, cfg.ClusterThreshold)

	res.Signals.Seasonality = seasonalitySignal(res.Seasonality, market.MonthOf(asOf))
	res.Signals.Momentum = momentumSignal(res.Momentum)
	res.Signals.SupportResistance = levelSignal(res.Levels, cfg.ClusterThreshold)
	res.Signals.Combined = sign(res.Signals.Seasonality + res.Signals.Momentum + res.Signals.SupportResistance)
	res.Signals.Confidence = confidence(res.Signals)
	return res
}

// detectSeasonality 按月/季聚合窗口内的日收益率均值（百分比）。
func detectSeasonality(bars []market.Bar, asOf int64, lookbackDays int) *Seasonality {
	cutoff := market.AddDays(asOf, -lookbackDays)
	window := trimBefore(bars, cutoff)
	if len(window) < 2 {
		return nil
	}
	monthSum := make(map[int]float64)
	monthCnt := make(map[int]int)
	quarterSum := make(map[int]float64)
	quarterCnt := make(map[int]int)
	for i := 1; i < len(window); i++ {
		prev := window[i-1].Close
		if prev <= 0 {
			continue
		}
		ret := (window[i].Close - prev) / prev * 100
		m := market.MonthOf(window[i].Day)
		q := market.QuarterOf(window[i].Day)
		monthSum[m] += ret
		monthCnt[m]++
		quarterSum[q] += ret
		quarterCnt[q]++
	}
	if len(monthCnt) == 0 {
		return nil
	}
	out := &Seasonality{
		MonthlyReturns:   make(map[int]float64, len(monthCnt)),
		QuarterlyReturns: make(map[int]float64, len(quarterCnt)),
	}
	for m, cnt := range monthCnt {
		out.MonthlyReturns[m] = monthSum[m] / float64(cnt)
	}
	for q, cnt := range quarterCnt {
		out.QuarterlyReturns[q] = quarterSum[q] / float64(cnt)
	}
	months := rankKeysDesc(out.MonthlyReturns)
	top := 3
	if top > len(months) {
		top = len(months)
	}
	out.BestMonths = append([]int(nil), months[:top]...)
	out.WorstMonths = append([]int(nil), months[len(months)-top:]...)
	quarters := rankKeysDesc(out.QuarterlyReturns)
	out.BestQuarter = quarters[0]
	out.WorstQuarter = quarters[len(quarters)-1]
	return out
}

// detectMomentum 计算各周期涨跌幅（百分比，保留两位）。历史不足最大周期时放弃。
func detectMomentum(bars []market.Bar, periods []int) map[int]float64 {
	maxPeriod := 0
	for _, p := range periods {
		if p > maxPeriod {
			maxPeriod = p
		}
	}
	if len(bars) < maxPeriod {
		return nil
	}
	current := bars[len(bars)-1].Close
	out := make(map[int]float64, len(periods))
	for _, p := range periods {
		if p <= 0 || len(bars) < p {
			continue
		}
		past := bars[len(bars)-p].Close
		if past <= 0 {
			continue
		}
		out[p] = round2((current - past) / past * 100)
	}
	return out
}

// detectLevels 从局部极值提取支撑/阻力并按阈值聚类。
func detectLevels(bars []market.Bar, asOf int64, lookbackDays int, threshold float64) *Levels {
	cutoff := market.AddDays(asOf, -lookbackDays)
	window := trimBefore(bars, cutoff)
	if len(window) < 3 {
		return nil
	}
	var supports, resistances []float64
	for i := 1; i < len(window)-1; i++ {
		if window[i].Low < window[i-1].Low && window[i].Low < window[i+1].Low {
			supports = append(supports, window[i].Low)
		}
		if window[i].High > window[i-1].High && window[i].High > window[i+1].High {
			resistances = append(resistances, window[i].High)
		}
	}
	current := window[len(window)-1].Close
	out := &Levels{
		Supports:          clusterLevels(supports, threshold),
		Resistances:       clusterLevels(resistances, threshold),
		CurrentPrice:      current,
		NearestSupport:    math.NaN(),
		NearestResistance: math.NaN(),
	}
	for _, s := range out.Supports {
		if s < current && (math.IsNaN(out.NearestSupport) || s > out.NearestSupport) {
			out.NearestSupport = s
		}
	}
	for _, r := range out.Resistances {
		if r > current && (math.IsNaN(out.NearestResistance) || r < out.NearestResistance) {
			out.NearestResistance = r
		}
	}
	return out
}

// clusterLevels 将相邻价位按与簇均值的相对距离合并，返回各簇均值（升序）。
func clusterLevels(levels []float64, threshold float64) []float64 {
	if len(levels) == 0 {
		return nil
	}
	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)
	var clusters []float64
	cluster := []float64{sorted[0]}
	for _, level := range sorted[1:] {
		avg := mean(cluster)
		if avg > 0 && math.Abs(level-avg)/avg <= threshold {
			cluster = append(cluster, level)
			continue
		}
		clusters = append(clusters, mean(cluster))
		cluster = []float64{level}
	}
	clusters = append(clusters, mean(cluster))
	return clusters
}

func seasonalitySignal(s *Seasonality, month int) int {
	if s == nil {
		return 0
	}
	for _, m := range s.BestMonths {
		if m == month {
			return 1
		}
	}
	for _, m := range s.WorstMonths {
		if m == month {
			return -1
		}
	}
	return 0
}

func momentumSignal(momentum map[int]float64) int {
	if momentum == nil {
		return 0
	}
	mom20 := momentum[20]
	switch {
	case mom20 > 5:
		return 1
	case mom20 < -5:
		return -1
	default:
		return 0
	}
}

func levelSignal(l *Levels, threshold float64) int {
	if l == nil || math.IsNaN(l.NearestSupport) || math.IsNaN(l.NearestResistance) {
		return 0
	}
	distToSupport := (l.CurrentPrice - l.NearestSupport) / l.NearestSupport
	distToResistance := (l.NearestResistance - l.CurrentPrice) / l.CurrentPrice
	switch {
	case distToSupport < threshold:
		return 1
	case distToResistance < threshold:
		return -1
	default:
		return 0
	}
}

// confidence 是与合成信号一致的分量占比（三路固定分母）。
func confidence(s Signals) float64 {
	agree := 0
	for _, v := range []int{s.Seasonality, s.Momentum, s.SupportResistance} {
		if v == s.Combined {
			agree++
		}
	}
	return round2(float64(agree) / 3)
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// rankKeysDesc 按值降序排列键；值相同时按键升序，保证输出稳定。
func rankKeysDesc(m map[int]float64) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] == m[keys[j]] {
			return keys[i] < keys[j]
		}
		return m[keys[i]] > m[keys[j]]
	})
	return keys
}

func trimAfter(bars []market.Bar, asOf int64) []market.Bar {
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Day > asOf })
	return bars[:idx]
}

func trimBefore(bars []market.Bar, cutoff int64) []market.Bar {
	idx := sort.Search(len(bars), func(i int) bool { return bars[i].Day >= cutoff })
	return bars[idx:]
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
