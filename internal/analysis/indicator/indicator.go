package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"stock4n/internal/market"
)

// Settings 描述技术特征的指标参数。零值字段用默认参数补齐。
type Settings struct {
	MAShort      int `json:"ma_short,omitempty"`
	MALong       int `json:"ma_long,omitempty"`
	RSIPeriod    int `json:"rsi_period,omitempty"`
	VolumeWindow int `json:"volume_window,omitempty"`
}

func (s Settings) normalized() Settings {
	if s.MAShort <= 0 {
		s.MAShort = 50
	}
	if s.MALong <= 0 {
		s.MALong = 200
	}
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.VolumeWindow <= 0 {
		s.VolumeWindow = 20
	}
	return s
}

// Snapshot 计算截至序列末尾那一天的打分特征。
// 序列必须按日期升序；历史不足 MAShort 根时只给出基础字段，
// 均线/RSI 等留空（NaN），由打分端按"无数据"降级。
func Snapshot(bars []market.Bar, cfg Settings) market.FeatureSnapshot {
	cfg = cfg.normalized()
	snap := make(market.FeatureSnapshot, 8)
	snap[market.FeatureHistoryBars] = float64(len(bars))
	if len(bars) == 0 {
		return snap
	}
	last := bars[len(bars)-1]
	snap[market.FeatureClose] = last.Close
	snap[market.FeatureVolume] = last.Volume

	if len(bars) < cfg.MAShort {
		return snap
	}
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	snap[market.FeatureMAShort] = round4(lastValid(talib.Sma(closes, cfg.MAShort)))
	if len(closes) > cfg.MALong {
		snap[market.FeatureMALong] = round4(lastValid(talib.Sma(closes, cfg.MALong)))
	}
	if len(closes) > cfg.RSIPeriod {
		snap[market.FeatureRSI] = round4(lastValid(talib.Rsi(closes, cfg.RSIPeriod)))
	}

	window := cfg.VolumeWindow
	if window > len(volumes) {
		window = len(volumes)
	}
	sum := 0.0
	for _, v := range volumes[len(volumes)-window:] {
		sum += v
	}
	snap[market.FeatureVolumeAvg] = round4(sum / float64(window))
	return snap
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return math.NaN()
}

func round4(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return math.Round(v*10000) / 10000
}
