package app

import (
	"context"
	"fmt"

	"stock4n/internal/backtest"
	"stock4n/internal/config"
	"stock4n/internal/learning"
	"stock4n/internal/logger"
	"stock4n/internal/market"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务。
type App struct {
	cfg      *config.Config
	barStore *market.BarStore
	results  *backtest.ResultStore
	registry *learning.Registry
	sim      *backtest.Simulator
	opt      *learning.Optimizer
	http     *backtest.HTTPServer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务并阻塞到 ctx 取消。后台回测/寻优任务挂在同一个 ctx 下，
// 退出时统一取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	a.sim.SetContext(ctx)
	a.opt.SetContext(ctx)
	a.registry.Subscribe(func(snap learning.Snapshot) {
		logger.Infof("✓ 学习权重已更新: v%d fund=%.2f tech=%.2f",
			snap.Version, snap.Document.Weights.FundWeight, snap.Document.Weights.TechWeight)
	})

	logger.Infof("✓ stock4n 启动（环境=%s，HTTP=%s）", a.cfg.App.Env, a.cfg.App.HTTPAddr)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 释放底层存储。可重复调用。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.results != nil {
		_ = a.results.Close()
	}
	if a.barStore != nil {
		_ = a.barStore.Close()
	}
}
