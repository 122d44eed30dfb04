package market

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"stock4n/internal/logger"

	"golang.org/x/sync/errgroup"
)

// ImportReport 是单个 symbol 的导入结果。
type ImportReport struct {
	Symbol string `json:"symbol"`
	Rows   int    `json:"rows"`
	Error  string `json:"error,omitempty"`
}

// Importer 将本地 CSV 缓存目录装载进 BarStore。
type Importer struct {
	store   *BarStore
	csvDir  string
	workers int
}

func NewImporter(store *BarStore, csvDir string, workers int) (*Importer, error) {
	if store == nil {
		return nil, fmt.Errorf("importer 需要 bar store")
	}
	if csvDir == "" {
		return nil, fmt.Errorf("importer 需要 csv 目录")
	}
	if workers < 1 {
		workers = 1
	}
	return &Importer{store: store, csvDir: csvDir, workers: workers}, nil
}

// ImportAll 并发导入全部 symbol。单个文件缺失或解析失败只记录在报告里，
// 不影响其余 symbol；整体错误仅来自上下文取消。
func (im *Importer) ImportAll(ctx context.Context, symbols []string) ([]ImportReport, error) {
	reports := make([]ImportReport, len(symbols))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(im.workers)
	for i, symbol := range symbols {
		i, symbol := i, symbol
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			rows, err := im.ImportSymbol(ctx, symbol)
			reports[i] = ImportReport{Symbol: symbol, Rows: rows}
			if err != nil {
				reports[i].Error = err.Error()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	total, failed := 0, 0
	for _, r := range reports {
		total += r.Rows
		if r.Error != "" {
			failed++
		}
	}
	logger.Infof("导入完成：%d symbol，共 %d 行，失败 %d", len(symbols), total, failed)
	return reports, nil
}

// ImportSymbol 导入单个 symbol 的 {SYMBOL}_price.csv。
func (im *Importer) ImportSymbol(ctx context.Context, symbol string) (int, error) {
	path := filepath.Join(im.csvDir, fmt.Sprintf("%s_price.csv", symbol))
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("price csv not found: %w", err)
	}
	bars, err := ReadBarCSV(path, symbol)
	if err != nil {
		return 0, err
	}
	n, err := im.store.InsertBars(ctx, symbol, bars)
	if err != nil {
		return n, err
	}
	logger.Debugf("%s 导入 %d 行日线", symbol, n)
	return n, nil
}
