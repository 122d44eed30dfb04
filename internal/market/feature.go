package market

import "math"

// 特征快照里使用的标准键名。打分器按键名取值，缺失按 NaN 处理。
const (
	FeatureClose             = "close"
	FeatureMAShort           = "ma_short"
	FeatureMALong            = "ma_long"
	FeatureRSI               = "rsi"
	FeatureVolume            = "volume"
	FeatureVolumeAvg         = "volume_avg"
	FeatureHistoryBars       = "history_bars"
	FeatureROE               = "roe"
	FeatureProfitGrowthYoY   = "profit_growth_yoy"
	FeaturePatternSignal     = "pattern_signal"
	FeaturePatternConfidence = "pattern_confidence"
)

// FeatureSnapshot 是某 symbol 在某交易日的命名特征集合。
type FeatureSnapshot map[string]float64

// Get 返回特征值，缺失时返回 NaN。
func (f FeatureSnapshot) Get(name string) float64 {
	if f == nil {
		return math.NaN()
	}
	v, ok := f[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// Has 判断特征存在且为有限数值。
func (f FeatureSnapshot) Has(name string) bool {
	v := f.Get(name)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clone 返回独立副本，供并发回测安全共享。
func (f FeatureSnapshot) Clone() FeatureSnapshot {
	if f == nil {
		return nil
	}
	out := make(FeatureSnapshot, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}
