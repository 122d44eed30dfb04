// Package learning 管理策略的"学习产物"：权重网格寻优、版本化落盘与热加载。
// 寻优器写出的最优权重经 ParameterStore 持久化，Registry 监听最新文件并在
// 校验通过后对全局生效。
package learning

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"stock4n/internal/backtest"
	"stock4n/internal/logger"
)

const (
	latestWeightsFile    = "weights_latest.json"
	weightsFilePrefix    = "weights_v"
	weightsFileExtension = ".json"
)

// LearnedWeights 是寻优得到的打分权重对。
type LearnedWeights struct {
	FundWeight float64 `json:"fund_weight"`
	TechWeight float64 `json:"tech_weight"`
}

// WeightsDocument 是落盘的完整权重文档：版本号、产出时间、权重与寻优时的
// 指标表现。Performance 直接复用寻优的组合摘要，便于事后追溯。
type WeightsDocument struct {
	Version     int64                   `json:"version"`
	SavedAt     string                  `json:"saved_at"`
	Metric      string                  `json:"metric,omitempty"`
	Weights     LearnedWeights          `json:"weights"`
	Performance *backtest.OptimizeCombo `json:"performance,omitempty"`
	Window      *WeightsDocumentWindow  `json:"window,omitempty"`
}

// WeightsDocumentWindow 记录寻优窗口，仅作溯源信息。
type WeightsDocumentWindow struct {
	StartDay int64    `json:"start_day"`
	EndDay   int64    `json:"end_day"`
	Symbols  []string `json:"symbols,omitempty"`
}

func (d WeightsDocument) validate() error {
	if d.Version <= 0 {
		return fmt.Errorf("weights version 需 > 0")
	}
	if d.Weights.FundWeight <= 0 || d.Weights.FundWeight > 1 {
		return fmt.Errorf("fund_weight 需在 (0,1] 内: %v", d.Weights.FundWeight)
	}
	if d.Weights.TechWeight <= 0 || d.Weights.TechWeight > 1 {
		return fmt.Errorf("tech_weight 需在 (0,1] 内: %v", d.Weights.TechWeight)
	}
	return nil
}

// ParameterStore 把学习到的权重以版本化 JSON 文件存进 params 目录：
// weights_v{unix}.json 为历史版本，weights_latest.json 为当前生效副本。
type ParameterStore struct {
	dir string

	mu          sync.Mutex
	lastVersion int64
}

func NewParameterStore(dir string) (*ParameterStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("params 目录不能为空")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建 params 目录失败: %w", err)
	}
	return &ParameterStore{dir: dir}, nil
}

// LatestPath 返回 weights_latest.json 的完整路径，供 Registry 监听。
func (s *ParameterStore) LatestPath() string {
	return filepath.Join(s.dir, latestWeightsFile)
}

// SaveWeights 写出一个新版本并刷新 latest 副本。版本号取当前 Unix 秒，
// 同一秒内的连续保存单调递增，保证文件名不冲突。
func (s *ParameterStore) SaveWeights(doc WeightsDocument) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.Version <= 0 {
		doc.Version = time.Now().Unix()
	}
	if doc.Version <= s.lastVersion {
		doc.Version = s.lastVersion + 1
	}
	if doc.SavedAt == "" {
		doc.SavedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if err := doc.validate(); err != nil {
		return "", err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	versioned := filepath.Join(s.dir, fmt.Sprintf("%s%d%s", weightsFilePrefix, doc.Version, weightsFileExtension))
	if err := os.WriteFile(versioned, raw, 0o644); err != nil {
		return "", fmt.Errorf("写入 %s 失败: %w", versioned, err)
	}
	if err := os.WriteFile(s.LatestPath(), raw, 0o644); err != nil {
		return "", fmt.Errorf("刷新 latest 副本失败: %w", err)
	}
	s.lastVersion = doc.Version
	logger.Infof("[learning] 权重已保存: v%d fund=%.2f tech=%.2f", doc.Version, doc.Weights.FundWeight, doc.Weights.TechWeight)
	return versioned, nil
}

// LoadLatest 读取当前生效的权重文档。文件不存在返回 os.ErrNotExist 包装。
func (s *ParameterStore) LoadLatest() (WeightsDocument, error) {
	return readWeightsFile(s.LatestPath())
}

// LoadVersion 按版本号读取历史权重文档。
func (s *ParameterStore) LoadVersion(version int64) (WeightsDocument, error) {
	if version <= 0 {
		return WeightsDocument{}, fmt.Errorf("version 需 > 0")
	}
	path := filepath.Join(s.dir, fmt.Sprintf("%s%d%s", weightsFilePrefix, version, weightsFileExtension))
	return readWeightsFile(path)
}

// ListVersions 返回全部历史版本号，新的在前。
func (s *ParameterStore) ListVersions() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var versions []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, weightsFilePrefix) || !strings.HasSuffix(name, weightsFileExtension) {
			continue
		}
		raw := strings.TrimSuffix(strings.TrimPrefix(name, weightsFilePrefix), weightsFileExtension)
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			continue
		}
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })
	return versions, nil
}

func readWeightsFile(path string) (WeightsDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return WeightsDocument{}, fmt.Errorf("读取权重文件失败: %w", err)
	}
	var doc WeightsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return WeightsDocument{}, fmt.Errorf("解析权重文件失败 (%s): %w", path, err)
	}
	if err := doc.validate(); err != nil {
		return WeightsDocument{}, fmt.Errorf("权重文件非法 (%s): %w", path, err)
	}
	return doc, nil
}
