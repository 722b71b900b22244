package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"vecbt/internal/backtest"
	vcfg "vecbt/internal/config"
	cfgloader "vecbt/internal/config/loader"
	"vecbt/internal/logger"
	"vecbt/internal/strategy"
)

// AppBuilder 按配置组装数据层、模拟器与 HTTP 接口。
// *Fn 字段允许测试替换单个构件。
type AppBuilder struct {
	cfg *vcfg.Config

	candleStoreFn func(string) (*backtest.Store, error)
	resultStoreFn func(string) (*backtest.ResultStore, error)
	sourcesFn     func(*vcfg.Config) (map[string]backtest.CandleSource, error)
	profileFn     func(string) (*cfgloader.ProfileLoader, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *vcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		candleStoreFn: backtest.NewStore,
		resultStoreFn: backtest.NewResultStore,
		sourcesFn:     buildCandleSources,
		profileFn:     loadProfileLoader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildApp(ctx context.Context, cfg *vcfg.Config) (*App, error) {
	return NewAppBuilder(cfg).Build(ctx)
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	candleStore, err := b.candleStoreFn(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	resultStore, err := b.resultStoreFn(cfg.Data.Dir)
	if err != nil {
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}

	sources, err := b.sourcesFn(cfg)
	if err != nil {
		return nil, err
	}

	svc, err := backtest.NewService(backtest.ServiceConfig{
		Store:           candleStore,
		Sources:         sources,
		DefaultExchange: cfg.Data.DefaultExchange,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
		MaxConcurrent:   cfg.Data.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化数据服务失败: %w", err)
	}

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		CandleStore:    candleStore,
		ResultStore:    resultStore,
		Fetcher:        svc,
		Defaults:       engineParamsFromConfig(cfg.Engine),
		Workers:        cfg.Simulator.Workers,
		MaxConcurrent:  cfg.Simulator.MaxConcurrent,
		InitialBalance: cfg.Simulator.InitialBalance,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化模拟器失败: %w", err)
	}

	profiles, err := b.loadProfiles(cfg)
	if err != nil {
		return nil, err
	}

	httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Svc:       svc,
		Simulator: sim,
		Results:   resultStore,
		Profiles:  profiles,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:      cfg,
		svc:      svc,
		sim:      sim,
		httpSrv:  httpSrv,
		profiles: profiles,
		Summary:  buildStartupSummary(cfg, profiles),
	}, nil
}

// loadProfiles 加载策略 profile；文件不存在时仅告警，profile 接口保持禁用。
func (b *AppBuilder) loadProfiles(cfg *vcfg.Config) (*cfgloader.ProfileLoader, error) {
	path := strings.TrimSpace(cfg.Strategy.ProfilesPath)
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("策略 profile 文件不存在，跳过: %s", path)
		return nil, nil
	}
	loader, err := b.profileFn(path)
	if err != nil {
		return nil, fmt.Errorf("加载策略 profile 失败: %w", err)
	}
	snap := loader.Snapshot()
	logger.Infof("✓ 已加载 %d 个策略 profile（%s）", len(snap.Profiles), path)
	return loader, nil
}

func loadProfileLoader(path string) (*cfgloader.ProfileLoader, error) {
	return cfgloader.NewProfileLoader(path)
}

func buildCandleSources(cfg *vcfg.Config) (map[string]backtest.CandleSource, error) {
	sources := make(map[string]backtest.CandleSource)
	for _, src := range cfg.Market.Sources {
		if !src.Enabled {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		switch name {
		case "binance":
			sources[name] = backtest.NewBinanceSource(src.RESTBaseURL)
		default:
			return nil, fmt.Errorf("不支持的数据源: %s", src.Name)
		}
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("没有启用的数据源")
	}
	return sources, nil
}

func engineParamsFromConfig(e vcfg.EngineConfig) backtest.EngineParams {
	return backtest.EngineParams{
		FillRatio:      e.FillRatio,
		Slippage:       e.Slippage,
		StopLoss:       e.StopLoss,
		TakeProfit:     e.TakeProfit,
		LongOnly:       e.LongOnly,
		ShortOnly:      e.ShortOnly,
		FirstTradeOnly: e.FirstTradeOnly,
		NaNSignal:      e.NaNSignal,
		IgnoreSizing:   e.IgnoreSizing,
		Closing:        e.Closing,
	}
}

func buildStartupSummary(cfg *vcfg.Config, profiles *cfgloader.ProfileLoader) *StartupSummary {
	s := &StartupSummary{
		Data: DataSummary{
			Dir:             cfg.Data.Dir,
			DefaultExchange: cfg.Data.DefaultExchange,
			RateLimitPerMin: cfg.Data.RateLimitPerMin,
			MaxBatch:        cfg.Data.MaxBatch,
		},
		Engine: EngineSummary{
			FillRatio:  cfg.Engine.FillRatio,
			Slippage:   cfg.Engine.Slippage,
			StopLoss:   cfg.Engine.StopLoss,
			TakeProfit: cfg.Engine.TakeProfit,
			Closing:    cfg.Engine.Closing,
		},
		Simulator: SimSummary{
			Workers:        cfg.Simulator.Workers,
			MaxConcurrent:  cfg.Simulator.MaxConcurrent,
			InitialBalance: cfg.Simulator.InitialBalance,
		},
		Strategies: strategy.Names(),
		HTTPAddr:   cfg.App.HTTPAddr,
	}
	if profiles != nil {
		s.Profiles = profiles.Snapshot().Profiles
	}
	return s
}

func WithCandleStore(fn func(string) (*backtest.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.candleStoreFn = fn
		}
	}
}

func WithResultStore(fn func(string) (*backtest.ResultStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.resultStoreFn = fn
		}
	}
}

func WithCandleSources(fn func(*vcfg.Config) (map[string]backtest.CandleSource, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourcesFn = fn
		}
	}
}

func WithProfileLoader(fn func(string) (*cfgloader.ProfileLoader, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.profileFn = fn
		}
	}
}
