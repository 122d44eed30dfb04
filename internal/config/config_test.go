package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "app:\n  env: prod\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9966", cfg.App.HTTPAddr)

	assert.InDelta(t, 0.6, cfg.Scoring.FundWeight, 1e-9)
	assert.InDelta(t, 0.4, cfg.Scoring.TechWeight, 1e-9)
	assert.InDelta(t, 8.5, cfg.Scoring.StrongBuyThreshold, 1e-9)

	assert.InDelta(t, 0.07, cfg.Risk.StopLossPct, 1e-9)
	assert.InDelta(t, 0.15, cfg.Risk.TargetProfitPct, 1e-9)

	assert.InDelta(t, 100_000_000, cfg.Backtest.InitialCapital, 1e-9)
	assert.Equal(t, 365, cfg.Backtest.LookbackDays)

	assert.Equal(t, "sharpe_ratio", cfg.Optimize.Metric)
	assert.InDelta(t, 0.3, cfg.Optimize.WeightMin, 1e-9)
	assert.InDelta(t, 0.7, cfg.Optimize.WeightMax, 1e-9)

	// 数据子路径默认挂在 data.dir 之下。
	assert.Equal(t, "data", cfg.Data.Dir)
	assert.Equal(t, "data/db/bars.db", cfg.Data.BarDBPath)
	assert.Equal(t, "data/db/results.db", cfg.Data.ResultDBPath)
	assert.Equal(t, "data/params", cfg.Data.ParamsDir)
}

func TestLoadDerivesPathsFromCustomDir(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "data:\n  dir: /var/lib/stock4n\n  csv_dir: /mnt/import\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/stock4n/db/bars.db", cfg.Data.BarDBPath)
	assert.Equal(t, "/var/lib/stock4n/fundamentals", cfg.Data.FundamentalsDir)
	assert.Equal(t, "/mnt/import", cfg.Data.CSVDir, "显式路径不被 dir 推导覆盖")
}

func TestLoadKeepsExplicitZero(t *testing.T) {
	// cash_reserve_pct 显式设为 0 是合法配置，不得被默认值 0.20 顶掉。
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "portfolio:\n  cash_reserve_pct: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, cfg.Portfolio.CashReservePct)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
scoring:
  fund_weight: 0.55
  tech_weight: 0.45
risk:
  stop_loss_pct: 0.10
`)
	main := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
risk:
  stop_loss_pct: 0.05
`)

	cfg, err := Load(main)
	require.NoError(t, err)

	assert.InDelta(t, 0.55, cfg.Scoring.FundWeight, 1e-9, "被包含文件的键正常生效")
	assert.InDelta(t, 0.05, cfg.Risk.StopLossPct, 1e-9, "主文件覆盖被包含文件")
	assert.InDelta(t, 0.15, cfg.Risk.TargetProfitPct, 1e-9, "其余字段走默认")
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeConfig(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"fund weight above one", "scoring:\n  fund_weight: 1.5\n"},
		{"thresholds not descending", "scoring:\n  watch_threshold: 9\n"},
		{"stop loss above one", "risk:\n  stop_loss_pct: 1.5\n"},
		{"per trade above one", "portfolio:\n  per_trade_pct: 1.5\n"},
		{"cash reserve at one", "portfolio:\n  cash_reserve_pct: 1\n"},
		{"unsupported metric", "optimize:\n  metric: alpha\n"},
		{"inverted weight range", "optimize:\n  weight_min: 0.8\n"},
		{"negative capital", "backtest:\n  initial_capital: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "config.yaml", tc.yaml)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadUniverseInlineOverridesFile(t *testing.T) {
	cfg := &Config{Universe: UniverseConfig{
		Path:    "does-not-exist.yaml",
		Symbols: []string{" fpt ", "vnm", "FPT", ""},
	}}

	syms, err := LoadUniverse(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"FPT", "VNM"}, syms, "内联符号去重、转大写、排序，且不读文件")
}

func TestLoadUniverseMergesSectors(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "universe.yaml", `
symbols:
  - vnm
  - VCB
sectors:
  banking:
    - vcb
    - BID
  steel:
    - HPG
`)
	cfg := &Config{Universe: UniverseConfig{Path: path}}

	syms, err := LoadUniverse(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"BID", "HPG", "VCB", "VNM"}, syms)
}

func TestLoadUniverseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "universe.yaml", "symbols:\n  - VNM\nwatchlist:\n  - FPT\n")
	cfg := &Config{Universe: UniverseConfig{Path: path}}

	_, err := LoadUniverse(cfg)
	assert.Error(t, err)
}

func TestLoadUniverseEmpty(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "universe.yaml", "symbols: []\n")
	cfg := &Config{Universe: UniverseConfig{Path: path}}

	_, err := LoadUniverse(cfg)
	assert.Error(t, err)

	_, err = LoadUniverse(&Config{})
	assert.Error(t, err, "既无内联符号也无文件路径")
}
