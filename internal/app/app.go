package app

import (
	"context"
	"fmt"

	"vecbt/internal/backtest"
	vcfg "vecbt/internal/config"
	cfgloader "vecbt/internal/config/loader"
	"vecbt/internal/logger"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动数据服务与回测接口。
type App struct {
	cfg      *vcfg.Config
	svc      *backtest.Service
	sim      *backtest.Simulator
	httpSrv  *backtest.HTTPServer
	profiles *cfgloader.ProfileLoader
	Summary  *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *vcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildApp(context.Background(), cfg)
}

// Run 启动 HTTP 接口并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}
	if a.httpSrv == nil {
		return fmt.Errorf("http server not initialized")
	}

	group, ctx := errgroup.WithContext(ctx)
	a.svc.SetContext(ctx)
	a.sim.SetContext(ctx)

	if a.profiles != nil {
		a.profiles.Subscribe(func(snap cfgloader.ProfileSnapshot) {
			logger.InfoBlock(formatProfileSummary(snap))
		})
	}

	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	return group.Wait()
}

// Simulator 暴露底层模拟器（供回放与测试使用）。
func (a *App) Simulator() *backtest.Simulator {
	if a == nil {
		return nil
	}
	return a.sim
}
