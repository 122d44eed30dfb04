package backtest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"stock4n/internal/market"
)

const (
	reportBackground  = "#060c1b"
	reportTextPrimary = "#eceff4"
	reportTextMuted   = "#9ca3af"
	reportGain        = "#34d399"
	reportLoss        = "#f87171"
	reportEquityLine  = "#3b82f6"
	reportPeakLine    = "#fbbf24"
	reportDrawdown    = "#a78bfa"

	reportWidthPx       = 1280
	reportMainHeightPx  = 460
	reportPanelHeightPx = 280
)

// ReportRenderer 用 echarts 生成自包含 HTML 报告，并在 headless Chrome
// 可用时截图成 PNG。Chrome 探测只做一次，探测结果对进程生命周期生效。
type ReportRenderer struct {
	probeOnce sync.Once
	probeErr  error
}

func NewReportRenderer() *ReportRenderer {
	return &ReportRenderer{}
}

// RunReport 生成单次回测的报告页：资金曲线（含历史峰值）、回撤、单笔盈亏。
func (r *ReportRenderer) RunReport(run Run, trades []Trade, equity []EquitySnapshot) ([]byte, error) {
	if len(equity) == 0 && len(trades) == 0 {
		return nil, fmt.Errorf("run %s 无可绘制数据", run.ID)
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	subtitle := fmt.Sprintf("%s ~ %s | 收益 %.2f%% | 最大回撤 %.2f%% | 交易 %d 笔",
		market.FormatDay(run.StartDay), market.FormatDay(run.EndDay),
		run.ReturnPct, run.MaxDrawdownPct, run.TradeCount)

	if len(equity) > 0 {
		page.AddCharts(buildEquityChart(run.ID, subtitle, equity), buildDrawdownChart(equity))
	}
	if len(trades) > 0 {
		page.AddCharts(buildTradeChart(trades))
	}

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("渲染报告失败: %w", err)
	}
	return buf.Bytes(), nil
}

// OptimizeReport 生成网格寻优的对比页：各权重组合的指标与收益。
// 任务尚未产出结果时返回错误。
func (r *ReportRenderer) OptimizeReport(job OptimizationJob) ([]byte, error) {
	if len(job.Result) == 0 {
		return nil, fmt.Errorf("寻优任务 %s 尚无结果（状态 %s）", job.ID, job.Status)
	}
	var outcome OptimizeOutcome
	if err := json.Unmarshal(job.Result, &outcome); err != nil {
		return nil, fmt.Errorf("解析寻优结果失败: %w", err)
	}
	if len(outcome.Combos) == 0 {
		return nil, fmt.Errorf("寻优任务 %s 结果为空", job.ID)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(buildComboChart(outcome))

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("渲染报告失败: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPNG 把报告 HTML 交给 headless Chrome 截图。环境里没有可用的
// Chrome 时始终返回探测阶段的错误。
func (r *ReportRenderer) RenderPNG(ctx context.Context, html []byte) ([]byte, error) {
	if err := r.ensureHeadless(ctx); err != nil {
		return nil, fmt.Errorf("headless chrome 不可用: %w", err)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()
	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(reportWidthPx), int64(reportMainHeightPx+2*reportPanelHeightPx)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}

func (r *ReportRenderer) ensureHeadless(ctx context.Context) error {
	r.probeOnce.Do(func() {
		target := ctx
		if target == nil {
			target = context.Background()
		}
		probe, cancel := chromedp.NewContext(target)
		defer cancel()
		r.probeErr = chromedp.Run(probe)
	})
	return r.probeErr
}

func buildEquityChart(runID, subtitle string, equity []EquitySnapshot) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", reportMainHeightPx),
			BackgroundColor: reportBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:         "资金曲线 " + runID,
			Subtitle:      subtitle,
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: reportTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{Color: reportTextMuted},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: reportTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportTextMuted, Opacity: opts.Float(0.2)}},
		}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: reportTextMuted}}),
	)

	days := make([]string, len(equity))
	curve := make([]opts.LineData, len(equity))
	peaks := make([]opts.LineData, len(equity))
	peak := math.Inf(-1)
	for i, pt := range equity {
		days[i] = market.FormatDay(pt.Day)
		curve[i] = opts.LineData{Value: pt.Equity}
		if pt.Equity > peak {
			peak = pt.Equity
		}
		peaks[i] = opts.LineData{Value: peak}
	}
	line.SetXAxis(days)
	line.AddSeries("权益", curve,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportEquityLine, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	line.AddSeries("历史峰值", peaks,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportPeakLine, Width: 1, Type: "dashed"}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildDrawdownChart(equity []EquitySnapshot) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", reportPanelHeightPx),
			BackgroundColor: reportBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "回撤 %", Left: "left", TitleStyle: &opts.TextStyle{Color: reportTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportTextMuted, Opacity: opts.Float(0.15)}},
		}),
	)

	days := make([]string, len(equity))
	data := make([]opts.LineData, len(equity))
	for i, pt := range equity {
		days[i] = market.FormatDay(pt.Day)
		data[i] = opts.LineData{Value: -pt.Drawdown}
	}
	line.SetXAxis(days)
	line.AddSeries("回撤", data,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportDrawdown, Width: 1}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: reportDrawdown, Opacity: opts.Float(0.35)}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	return line
}

func buildTradeChart(trades []Trade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", reportPanelHeightPx),
			BackgroundColor: reportBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "单笔盈亏", Left: "left", TitleStyle: &opts.TextStyle{Color: reportTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Show: opts.Bool(false)}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportTextMuted, Opacity: opts.Float(0.15)}},
		}),
	)

	labels := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, t := range trades {
		labels[i] = fmt.Sprintf("%s %s", market.FormatDay(t.ExitDay), t.Symbol)
		color := reportLoss
		if t.PnL >= 0 {
			color = reportGain
		}
		data[i] = opts.BarData{
			Value:     t.PnL,
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(labels)
	bar.AddSeries("盈亏", data)
	return bar
}

func buildComboChart(outcome OptimizeOutcome) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", reportWidthPx),
			Height:          fmt.Sprintf("%dpx", reportMainHeightPx),
			BackgroundColor: reportBackground,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("权重寻优 · %s", outcome.Metric),
			Subtitle: fmt.Sprintf("%s ~ %s | 最优 fund=%.2f tech=%.2f",
				market.FormatDay(outcome.StartDay), market.FormatDay(outcome.EndDay),
				outcome.Best.FundWeight, outcome.Best.TechWeight),
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: reportTextPrimary, FontSize: 16},
			SubtitleStyle: &opts.TextStyle{Color: reportTextMuted},
		}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: reportTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: reportTextMuted}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: reportTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: reportTextMuted, Opacity: opts.Float(0.2)}},
		}),
	)

	labels := make([]string, len(outcome.Combos))
	metric := make([]opts.BarData, len(outcome.Combos))
	returns := make([]opts.LineData, len(outcome.Combos))
	for i, combo := range outcome.Combos {
		labels[i] = fmt.Sprintf("%.2f/%.2f", combo.FundWeight, combo.TechWeight)
		v := float64(combo.MetricValue)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			metric[i] = opts.BarData{Value: nil}
		} else {
			color := reportEquityLine
			if combo.Rank == 1 {
				color = reportGain
			}
			metric[i] = opts.BarData{Value: v, ItemStyle: &opts.ItemStyle{Color: color}}
		}
		returns[i] = opts.LineData{Value: combo.TotalReturnPct}
	}
	bar.SetXAxis(labels)
	bar.AddSeries(outcome.Metric, metric)

	line := charts.NewLine()
	line.SetXAxis(labels)
	line.AddSeries("收益 %", returns,
		charts.WithLineStyleOpts(opts.LineStyle{Color: reportPeakLine, Width: 2}),
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
	)
	bar.Overlap(line)
	return bar
}
