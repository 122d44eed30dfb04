package learning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock4n/internal/analysis/scorer"
)

func testDoc(fund, tech float64) WeightsDocument {
	return WeightsDocument{
		Metric:  MetricSharpe,
		Weights: LearnedWeights{FundWeight: fund, TechWeight: tech},
	}
}

func TestParameterStoreRoundTrip(t *testing.T) {
	store, err := NewParameterStore(filepath.Join(t.TempDir(), "params"))
	require.NoError(t, err)

	path, err := store.SaveWeights(testDoc(0.7, 0.3))
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.FileExists(t, store.LatestPath())

	doc, err := store.LoadLatest()
	require.NoError(t, err)
	assert.InDelta(t, 0.7, doc.Weights.FundWeight, 1e-9)
	assert.InDelta(t, 0.3, doc.Weights.TechWeight, 1e-9)
	assert.Greater(t, doc.Version, int64(0))
	assert.NotEmpty(t, doc.SavedAt)

	byVersion, err := store.LoadVersion(doc.Version)
	require.NoError(t, err)
	assert.Equal(t, doc.Weights, byVersion.Weights)
}

func TestParameterStoreVersionsMonotonic(t *testing.T) {
	store, err := NewParameterStore(filepath.Join(t.TempDir(), "params"))
	require.NoError(t, err)

	// 同一秒内连续保存也必须得到互不冲突、严格递增的版本号。
	var versions []int64
	for i := 0; i < 3; i++ {
		_, err := store.SaveWeights(testDoc(0.6, 0.4))
		require.NoError(t, err)
		doc, err := store.LoadLatest()
		require.NoError(t, err)
		versions = append(versions, doc.Version)
	}
	assert.Less(t, versions[0], versions[1])
	assert.Less(t, versions[1], versions[2])

	listed, err := store.ListVersions()
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, versions[2], listed[0], "列表按版本号降序")
	assert.Equal(t, versions[0], listed[2])
}

func TestParameterStoreRejectsInvalidWeights(t *testing.T) {
	store, err := NewParameterStore(filepath.Join(t.TempDir(), "params"))
	require.NoError(t, err)

	cases := []struct {
		name string
		doc  WeightsDocument
	}{
		{"zero fund weight", testDoc(0, 0.4)},
		{"fund weight above one", testDoc(1.2, 0.4)},
		{"negative tech weight", testDoc(0.6, -0.1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.SaveWeights(tc.doc)
			assert.Error(t, err)
		})
	}

	_, err = store.LoadLatest()
	assert.Error(t, err, "非法文档不得生成 latest 副本")
}

func TestLoadVersionMissing(t *testing.T) {
	store, err := NewParameterStore(filepath.Join(t.TempDir(), "params"))
	require.NoError(t, err)

	_, err = store.LoadVersion(0)
	assert.Error(t, err)
	_, err = store.LoadVersion(12345)
	assert.Error(t, err)
}

func TestRegistryFallbackWhenNoLearnedWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params", "weights_latest.json")
	fallback := scorer.Weights{Fund: 0.6, Tech: 0.4}

	reg, err := NewRegistry(path, fallback)
	require.NoError(t, err)

	assert.Equal(t, fallback, reg.Current())
	assert.Equal(t, "default", reg.Snapshot().Source)
}

func TestRegistryLoadsLearnedAtStartup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "params")
	store, err := NewParameterStore(dir)
	require.NoError(t, err)
	_, err = store.SaveWeights(testDoc(0.7, 0.3))
	require.NoError(t, err)

	reg, err := NewRegistry(store.LatestPath(), scorer.Weights{Fund: 0.6, Tech: 0.4})
	require.NoError(t, err)

	assert.Equal(t, scorer.Weights{Fund: 0.7, Tech: 0.3}, reg.Current())
	snap := reg.Snapshot()
	assert.Equal(t, "learned", snap.Source)
	assert.Greater(t, snap.Version, int64(0))
}

func TestRegistryRejectsInvalidFileAtStartup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weights_latest.json")
	fallback := scorer.Weights{Fund: 0.6, Tech: 0.4}

	cases := []struct {
		name    string
		content string
	}{
		{"not json", "{{{"},
		{"missing version", `{"weights":{"fund_weight":0.6,"tech_weight":0.4}}`},
		{"schema violation", `{"version":1,"weights":{"fund_weight":0,"tech_weight":0.4}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o644))
			_, err := NewRegistry(path, fallback)
			assert.Error(t, err, "启动时的坏文件是致命错误")
		})
	}
}

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry("", scorer.Weights{Fund: 0.6, Tech: 0.4})
	assert.Error(t, err)
	_, err = NewRegistry(filepath.Join(t.TempDir(), "weights_latest.json"), scorer.Weights{})
	assert.Error(t, err)
}
