package learning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"stock4n/internal/analysis/scorer"
	"stock4n/internal/logger"
)

//go:embed weights_schema.json
var weightsSchemaJSON string

// Snapshot 是 Registry 当前生效的权重视图。Source 标明权重来源。
type Snapshot struct {
	Version  int64           `json:"version"`
	LoadedAt time.Time       `json:"loaded_at"`
	Source   string          `json:"source"` // "learned" | "default"
	Document WeightsDocument `json:"document"`
}

// ChangeListener 在新权重生效时回调。
type ChangeListener func(Snapshot)

// Registry 监听 weights_latest.json：文件更新后先过 JSON Schema 校验再生效，
// 非法内容只告警并保留上一份有效快照。文件不存在时回落到配置默认权重——
// 从未寻优过的新部署必须照常启动。
type Registry struct {
	path     string
	fallback scorer.Weights
	schema   *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 构建 Registry 并开始监听。fallback 为配置里的默认权重，
// 在学习产物缺失或尚未生成时使用。
func NewRegistry(path string, fallback scorer.Weights) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("weights registry 需要文件路径")
	}
	if fallback.Fund <= 0 && fallback.Tech <= 0 {
		return nil, fmt.Errorf("weights registry 需要默认权重")
	}
	schema, err := compileWeightsSchema()
	if err != nil {
		return nil, fmt.Errorf("编译 weights schema 失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	r := &Registry{
		path:     path,
		fallback: fallback,
		schema:   schema,
		snapshot: Snapshot{Source: "default", LoadedAt: time.Now()},
	}
	if _, err := os.Stat(path); err == nil {
		// 启动时已有学习产物：照常校验加载，坏文件在这里是致命错误。
		if err := r.reload(); err != nil {
			return nil, err
		}
	} else {
		logger.Infof("[learning] 尚无学习权重 (%s)，使用默认 fund=%.2f tech=%.2f",
			filepath.Base(path), fallback.Fund, fallback.Tech)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("[learning] 权重热加载失败，保留上一份快照: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Current 返回当前生效的打分权重。实现 backtest.WeightSource。
func (r *Registry) Current() scorer.Weights {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snapshot.Source == "learned" {
		return scorer.Weights{
			Fund: r.snapshot.Document.Weights.FundWeight,
			Tech: r.snapshot.Document.Weights.TechWeight,
		}
	}
	return r.fallback
}

// Snapshot 返回当前快照副本。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Subscribe 注册权重变更监听器。
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// reload 重读 latest 文件：schema 校验 → 结构解析 → 业务校验，三关全过才换快照。
func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("读取权重文件失败: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("权重文件不是合法 JSON: %w", err)
	}
	if err := r.schema.Validate(generic); err != nil {
		return fmt.Errorf("权重文件未通过 schema 校验: %w", err)
	}
	var doc WeightsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("解析权重文件失败: %w", err)
	}
	if err := doc.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  doc.Version,
		LoadedAt: time.Now(),
		Source:   "learned",
		Document: doc,
	}
	r.mu.Unlock()
	logger.Infof("[learning] 权重已生效: v%d fund=%.2f tech=%.2f (%s)",
		doc.Version, doc.Weights.FundWeight, doc.Weights.TechWeight, filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("[learning] 权重监听器 panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func compileWeightsSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("weights_schema.json", strings.NewReader(weightsSchemaJSON)); err != nil {
		return nil, err
	}
	return compiler.Compile("weights_schema.json")
}
