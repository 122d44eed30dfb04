package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type runModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Status          string         `gorm:"column:status;index"`
	StartDay        int64          `gorm:"column:start_day"`
	EndDay          int64          `gorm:"column:end_day"`
	InitialCapital  float64        `gorm:"column:initial_capital"`
	FinalEquity     float64        `gorm:"column:final_equity"`
	Profit          float64        `gorm:"column:profit"`
	ReturnPct       float64        `gorm:"column:return_pct"`
	WinRate         float64        `gorm:"column:win_rate"`
	MaxDrawdownPct  float64        `gorm:"column:max_drawdown_pct"`
	TradeCount      int            `gorm:"column:trade_count"`
	Message         string         `gorm:"column:message"`
	ConfigJSON      datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	MetricsJSON     datatypes.JSON `gorm:"column:metrics_json;type:TEXT"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
	CompletedAtUnix *int64         `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

type tradeModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID      string  `gorm:"column:run_id;index"`
	Symbol     string  `gorm:"column:symbol"`
	EntryDay   int64   `gorm:"column:entry_day"`
	ExitDay    int64   `gorm:"column:exit_day"`
	EntryPrice float64 `gorm:"column:entry_price"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	Shares     int64   `gorm:"column:shares"`
	PnL        float64 `gorm:"column:pnl"`
	ReturnPct  float64 `gorm:"column:return_pct"`
	ExitReason string  `gorm:"column:exit_reason"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

type equityModel struct {
	ID       int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string  `gorm:"column:run_id;index"`
	Day      int64   `gorm:"column:day"`
	Equity   float64 `gorm:"column:equity"`
	Drawdown float64 `gorm:"column:drawdown"`
}

func (equityModel) TableName() string { return "backtest_equity" }

type jobModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Status          string         `gorm:"column:status;index"`
	Metric          string         `gorm:"column:metric"`
	Message         string         `gorm:"column:message"`
	RequestJSON     datatypes.JSON `gorm:"column:request_json;type:TEXT"`
	ResultJSON      datatypes.JSON `gorm:"column:result_json;type:TEXT"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
	CompletedAtUnix *int64         `gorm:"column:completed_at"`
}

func (jobModel) TableName() string { return "optimization_jobs" }

// EquitySnapshot 是持久化后的资金曲线点（带回撤）。
type EquitySnapshot struct {
	Day      int64   `json:"day"`
	Equity   float64 `json:"equity"`
	Drawdown float64 `json:"drawdown"`
}

// OptimizationJob 是一次权重寻优任务的落库视图。
type OptimizationJob struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Metric      string          `json:"metric"`
	Message     string          `json:"message"`
	Request     json.RawMessage `json:"request,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ResultStore 用 Gorm + SQLite 管理回测与寻优结果。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store path 不能为空")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeModel{}, &equityModel{}, &jobModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：保留少量并行度给 HTTP 读查询，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条待执行的 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	m := runModel{
		ID:             run.ID,
		Status:         run.Status,
		StartDay:       run.StartDay,
		EndDay:         run.EndDay,
		InitialCapital: run.InitialCapital,
		FinalEquity:    run.FinalEquity,
		Message:        run.Message,
		ConfigJSON:     datatypes.JSON(cfgJSON),
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":     status,
		"message":    message,
		"updated_at": now,
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = now
	}
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error
}

// CompleteRun 在一个事务里写入指标汇总、交易明细与资金曲线。
func (s *ResultStore) CompleteRun(ctx context.Context, id string, result Result) error {
	metricsJSON, err := json.Marshal(result.Metrics)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"status":           RunStatusDone,
			"final_equity":     result.FinalEquity,
			"profit":           result.Metrics.TotalPnL,
			"return_pct":       result.Metrics.TotalReturnPct,
			"win_rate":         result.Metrics.WinRate,
			"max_drawdown_pct": result.Metrics.MaxDrawdownPct,
			"trade_count":      result.Metrics.TradeCount,
			"metrics_json":     datatypes.JSON(metricsJSON),
			"message":          "",
			"updated_at":       now,
			"completed_at":     now,
		}
		if err := tx.Model(&runModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if len(result.Trades) > 0 {
			trades := make([]tradeModel, 0, len(result.Trades))
			for _, t := range result.Trades {
				trades = append(trades, tradeModel{
					RunID:      id,
					Symbol:     t.Symbol,
					EntryDay:   t.EntryDay,
					ExitDay:    t.ExitDay,
					EntryPrice: t.EntryPrice,
					ExitPrice:  t.ExitPrice,
					Shares:     t.Shares,
					PnL:        t.PnL,
					ReturnPct:  t.ReturnPct,
					ExitReason: string(t.ExitReason),
				})
			}
			if err := tx.Create(&trades).Error; err != nil {
				return err
			}
		}
		if len(result.Curve) > 0 {
			peak := result.Curve[0].Equity
			points := make([]equityModel, 0, len(result.Curve))
			for _, pt := range result.Curve {
				if pt.Equity > peak {
					peak = pt.Equity
				}
				dd := 0.0
				if peak > 0 {
					dd = round2((peak - pt.Equity) / peak * 100)
				}
				points = append(points, equityModel{RunID: id, Day: pt.Day, Equity: pt.Equity, Drawdown: dd})
			}
			if err := tx.Create(&points).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// GetRun 读取单条 run（含配置与指标）。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m runModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Run{}, fmt.Errorf("run %s 不存在", id)
		}
		return Run{}, err
	}
	return runFromModel(m)
}

// ListRuns 按创建时间倒序列出 run。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := runFromModel(m)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListTrades 返回某次 run 的交易明细，按出场日升序。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]Trade, error) {
	if limit <= 0 || limit > 5000 {
		limit = 1000
	}
	var models []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("exit_day ASC, id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	trades := make([]Trade, 0, len(models))
	for _, m := range models {
		trades = append(trades, Trade{
			Symbol:     m.Symbol,
			EntryDay:   m.EntryDay,
			ExitDay:    m.ExitDay,
			EntryPrice: m.EntryPrice,
			ExitPrice:  m.ExitPrice,
			Shares:     m.Shares,
			PnL:        m.PnL,
			ReturnPct:  m.ReturnPct,
			ExitReason: ExitReason(m.ExitReason),
		})
	}
	return trades, nil
}

// ListEquity 返回某次 run 的资金曲线，按日升序。
func (s *ResultStore) ListEquity(ctx context.Context, runID string, limit int) ([]EquitySnapshot, error) {
	if limit <= 0 || limit > 10000 {
		limit = 2000
	}
	var models []equityModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("day ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	points := make([]EquitySnapshot, 0, len(models))
	for _, m := range models {
		points = append(points, EquitySnapshot{Day: m.Day, Equity: m.Equity, Drawdown: m.Drawdown})
	}
	return points, nil
}

// InsertJob 写入一条寻优任务。
func (s *ResultStore) InsertJob(ctx context.Context, job OptimizationJob) error {
	now := time.Now().UnixMilli()
	m := jobModel{
		ID:            job.ID,
		Status:        job.Status,
		Metric:        job.Metric,
		Message:       job.Message,
		RequestJSON:   datatypes.JSON(job.Request),
		CreatedAtUnix: now,
		UpdatedAtUnix: now,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// UpdateJobStatus 更新任务状态；完成态补时间戳与结果。
func (s *ResultStore) UpdateJobStatus(ctx context.Context, id, status, message string, result json.RawMessage) error {
	now := time.Now().UnixMilli()
	updates := map[string]interface{}{
		"status":     status,
		"message":    message,
		"updated_at": now,
	}
	if len(result) > 0 {
		updates["result_json"] = datatypes.JSON(result)
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = now
	}
	return s.db.WithContext(ctx).Model(&jobModel{}).Where("id = ?", id).Updates(updates).Error
}

// GetJob 读取单条寻优任务。
func (s *ResultStore) GetJob(ctx context.Context, id string) (OptimizationJob, error) {
	var m jobModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OptimizationJob{}, fmt.Errorf("job %s 不存在", id)
		}
		return OptimizationJob{}, err
	}
	return jobFromModel(m), nil
}

// ListJobs 按创建时间倒序列出寻优任务。
func (s *ResultStore) ListJobs(ctx context.Context, limit int) ([]OptimizationJob, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var models []jobModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	jobs := make([]OptimizationJob, 0, len(models))
	for _, m := range models {
		jobs = append(jobs, jobFromModel(m))
	}
	return jobs, nil
}

func runFromModel(m runModel) (Run, error) {
	run := Run{
		ID:             m.ID,
		Status:         m.Status,
		StartDay:       m.StartDay,
		EndDay:         m.EndDay,
		InitialCapital: m.InitialCapital,
		FinalEquity:    m.FinalEquity,
		Profit:         m.Profit,
		ReturnPct:      m.ReturnPct,
		WinRate:        m.WinRate,
		MaxDrawdownPct: m.MaxDrawdownPct,
		TradeCount:     m.TradeCount,
		Message:        m.Message,
		CreatedAt:      time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt:      time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.CompletedAtUnix != nil {
		run.CompletedAt = time.UnixMilli(*m.CompletedAtUnix)
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return Run{}, fmt.Errorf("解析 run %s config 失败: %w", m.ID, err)
		}
	}
	if len(m.MetricsJSON) > 0 {
		if err := json.Unmarshal(m.MetricsJSON, &run.Metrics); err != nil {
			return Run{}, fmt.Errorf("解析 run %s metrics 失败: %w", m.ID, err)
		}
	}
	return run, nil
}

func jobFromModel(m jobModel) OptimizationJob {
	job := OptimizationJob{
		ID:        m.ID,
		Status:    m.Status,
		Metric:    m.Metric,
		Message:   m.Message,
		Request:   json.RawMessage(m.RequestJSON),
		Result:    json.RawMessage(m.ResultJSON),
		CreatedAt: time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt: time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.CompletedAtUnix != nil {
		job.CompletedAt = time.UnixMilli(*m.CompletedAtUnix)
	}
	return job
}
