package config

import "strings"

// Config 是 vecbt 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Data      DataConfig      `toml:"data"`
	Engine    EngineConfig    `toml:"engine"`
	Simulator SimulatorConfig `toml:"simulator"`
	Strategy  StrategyConfig  `toml:"strategy"`
	Market    MarketConfig    `toml:"market"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	HTTPAddr  string `toml:"http_addr"`
	LogPath   string `toml:"log_path"`
}

// DataConfig 控制行情数据目录与抓取行为。
type DataConfig struct {
	Dir             string `toml:"dir"`
	DefaultExchange string `toml:"default_exchange"`
	RateLimitPerMin int    `toml:"rate_limit_per_min"`
	MaxBatch        int    `toml:"max_batch"`
	MaxConcurrent   int    `toml:"max_concurrent"`
}

// EngineConfig 是回测引擎的默认参数，可被单次请求覆盖。
type EngineConfig struct {
	FillRatio      float64 `toml:"fill_ratio"`
	Slippage       float64 `toml:"slippage"`
	StopLoss       float64 `toml:"stop_loss"`
	TakeProfit     float64 `toml:"take_profit"`
	LongOnly       bool    `toml:"long_only"`
	ShortOnly      bool    `toml:"short_only"`
	FirstTradeOnly bool    `toml:"first_trade_only"`
	NaNSignal      bool    `toml:"nan_signal"`
	IgnoreSizing   bool    `toml:"ignore_sizing"`
	Closing        string  `toml:"closing"`
}

// SimulatorConfig 控制回测运行的并发与资金默认值。
type SimulatorConfig struct {
	Workers        int     `toml:"workers"`
	MaxConcurrent  int     `toml:"max_concurrent"`
	InitialBalance float64 `toml:"initial_balance"`
}

// StrategyConfig 指向策略 profile 文件。
type StrategyConfig struct {
	ProfilesPath string `toml:"profiles_path"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name        string `toml:"name"`
	Enabled     bool   `toml:"enabled"`
	RESTBaseURL string `toml:"rest_base_url"`
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        "binance",
			Enabled:     true,
			RESTBaseURL: "https://fapi.binance.com",
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
