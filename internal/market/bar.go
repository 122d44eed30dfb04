package market

import (
	"fmt"
	"strings"
	"time"
)

// DayFormat 是日线日期的标准字符串形式。
const DayFormat = "2006-01-02"

// DayMillis 是一个自然日的毫秒数（日线时间轴全部使用 UTC 午夜，无夏令时问题）。
const DayMillis int64 = 24 * 60 * 60 * 1000

// Bar 表示单个交易日的日线行情。
type Bar struct {
	Symbol string  `json:"symbol"`
	Day    int64   `json:"day"` // UTC 午夜毫秒时间戳
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// EntryPrice 返回开仓参考价：优先当日开盘价，缺失时回退到收盘价。
func (b Bar) EntryPrice() float64 {
	if b.Open > 0 {
		return b.Open
	}
	return b.Close
}

// ParseDay 将 "2006-01-02" 解析为 UTC 午夜毫秒时间戳。
func ParseDay(s string) (int64, error) {
	t, err := time.ParseInLocation(DayFormat, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return 0, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}

// FormatDay 将毫秒时间戳渲染为 "2006-01-02"。
func FormatDay(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DayFormat)
}

// TruncateDay 将任意时间戳对齐到所属 UTC 自然日的午夜。
func TruncateDay(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return ms - ms%DayMillis
}

// AddDays 在日线时间轴上前后移动 n 天。
func AddDays(day int64, n int) int64 {
	return day + int64(n)*DayMillis
}

// MonthOf 返回时间戳所属的自然月（1~12）。
func MonthOf(day int64) int {
	return int(time.UnixMilli(day).UTC().Month())
}

// QuarterOf 返回时间戳所属的季度（1~4）。
func QuarterOf(day int64) int {
	return (MonthOf(day)-1)/3 + 1
}
