package market

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Manifest 记录单个 symbol 的日线覆盖情况。
type Manifest struct {
	Symbol     string `json:"symbol"`
	MinDay     int64  `json:"min_day"`
	MaxDay     int64  `json:"max_day"`
	Rows       int64  `json:"rows"`
	ImportedAt int64  `json:"imported_at"`
}

// BarStore 将全部日线落在单个 sqlite 文件中，按 (symbol, day) 主键去重。
type BarStore struct {
	path string

	mu sync.Mutex
	db *sql.DB
}

func NewBarStore(path string) (*BarStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bar store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureBarSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BarStore{path: path, db: db}, nil
}

func (s *BarStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureBarSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT NOT NULL,
			day    INTEGER NOT NULL,
			open   REAL NOT NULL,
			high   REAL NOT NULL,
			low    REAL NOT NULL,
			close  REAL NOT NULL,
			volume REAL NOT NULL,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000),
			PRIMARY KEY (symbol, day)
		);`,
		`CREATE TABLE IF NOT EXISTS bar_manifest (
			symbol TEXT PRIMARY KEY,
			min_day INTEGER,
			max_day INTEGER,
			rows INTEGER DEFAULT 0,
			imported_at INTEGER
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// InsertBars 批量写入日线（重复 (symbol, day) 将被覆盖），随后刷新覆盖表。
func (s *BarStore) InsertBars(ctx context.Context, symbol string, bars []Bar) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol 不能为空")
	}
	if len(bars) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, day, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, day) DO UPDATE SET
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, b := range bars {
		if b.Day <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, symbol, b.Day, b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, symbol); err != nil {
		return count, err
	}
	return count, nil
}

func (s *BarStore) refreshManifest(ctx context.Context, symbol string) error {
	now := time.Now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bar_manifest (symbol, min_day, max_day, rows, imported_at)
		SELECT ?, COALESCE(MIN(day),0), COALESCE(MAX(day),0), COUNT(1), ?
		FROM bars WHERE symbol = ?
		ON CONFLICT(symbol) DO UPDATE SET
		    min_day=excluded.min_day,
		    max_day=excluded.max_day,
		    rows=excluded.rows,
		    imported_at=excluded.imported_at`, symbol, now, symbol)
	return err
}

// RangeBars 返回闭区间 [start, end] 内的日线，按日期升序。
func (s *BarStore) RangeBars(ctx context.Context, symbol string, start, end int64) ([]Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	if start <= 0 || end <= 0 {
		return nil, fmt.Errorf("start/end 需 > 0")
	}
	if end < start {
		start, end = end, start
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, day, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND day BETWEEN ? AND ?
		ORDER BY day ASC`, symbol, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBars(rows)
}

// AllBars 返回某个 symbol 的全部日线（升序）。
func (s *BarStore) AllBars(ctx context.Context, symbol string) ([]Bar, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol 不能为空")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, day, open, high, low, close, volume
		FROM bars WHERE symbol = ? ORDER BY day ASC`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBars(rows)
}

// LatestDay 返回 symbol 最近一个有数据的交易日，无数据时返回 0。
func (s *BarStore) LatestDay(ctx context.Context, symbol string) (int64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var day sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(day) FROM bars WHERE symbol = ?`, symbol).Scan(&day)
	if err != nil {
		return 0, err
	}
	if !day.Valid {
		return 0, nil
	}
	return day.Int64, nil
}

// Coverage 返回全部 symbol 的覆盖信息，按 symbol 升序。
func (s *BarStore) Coverage(ctx context.Context) ([]Manifest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT symbol, COALESCE(min_day,0), COALESCE(max_day,0), COALESCE(rows,0), COALESCE(imported_at,0)
		FROM bar_manifest ORDER BY symbol ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Manifest
	for rows.Next() {
		var m Manifest
		if err := rows.Scan(&m.Symbol, &m.MinDay, &m.MaxDay, &m.Rows, &m.ImportedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanBars(rows *sql.Rows) ([]Bar, error) {
	var list []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.Symbol, &b.Day, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}
