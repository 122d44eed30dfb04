package market

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"stock4n/internal/logger"

	"github.com/tidwall/gjson"
)

// Fundamentals 是单个 symbol 的基本面指标快照。缺失字段为 NaN。
type Fundamentals struct {
	Symbol           string  `json:"symbol"`
	ROE              float64 `json:"roe"`
	ProfitGrowthYoY  float64 `json:"profit_growth_yoy"`
	RevenueGrowthYoY float64 `json:"revenue_growth_yoy"`
	UpdatedAt        string  `json:"updated_at,omitempty"`
}

// FundamentalsReader 从目录中读取 {SYMBOL}.json 基本面文档。
// 文档来自上游的财报处理管线，字段允许缺失或为 null，读取端全部容忍。
type FundamentalsReader struct {
	dir string
}

func NewFundamentalsReader(dir string) (*FundamentalsReader, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("fundamentals 目录不能为空")
	}
	return &FundamentalsReader{dir: dir}, nil
}

// Read 返回 symbol 的基本面。文件缺失不是错误：返回全 NaN 的快照。
func (r *FundamentalsReader) Read(symbol string) Fundamentals {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	out := Fundamentals{
		Symbol:           symbol,
		ROE:              math.NaN(),
		ProfitGrowthYoY:  math.NaN(),
		RevenueGrowthYoY: math.NaN(),
	}
	path := filepath.Join(r.dir, symbol+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("读取基本面失败 %s: %v", symbol, err)
		}
		return out
	}
	if !gjson.ValidBytes(raw) {
		logger.Warnf("基本面文件不是合法 JSON：%s", path)
		return out
	}
	parsed := gjson.ParseBytes(raw)
	out.ROE = numOrNaN(parsed.Get("roe"))
	out.ProfitGrowthYoY = numOrNaN(parsed.Get("profit_growth_yoy"))
	out.RevenueGrowthYoY = numOrNaN(parsed.Get("revenue_growth_yoy"))
	out.UpdatedAt = parsed.Get("updated_at").String()
	return out
}

func numOrNaN(res gjson.Result) float64 {
	if !res.Exists() || res.Type == gjson.Null {
		return math.NaN()
	}
	return res.Float()
}
