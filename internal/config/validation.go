package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Data.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Simulator.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level only supports debug/info/warn/error, got %s", a.LogLevel)
	}
	switch strings.ToLower(strings.TrimSpace(a.LogFormat)) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format only supports text/json, got %s", a.LogFormat)
	}
	return nil
}

func (d *DataConfig) validate() error {
	if strings.TrimSpace(d.Dir) == "" {
		return fmt.Errorf("data.dir cannot be empty")
	}
	if d.RateLimitPerMin <= 0 {
		return fmt.Errorf("data.rate_limit_per_min must be > 0")
	}
	if d.MaxBatch < 1 || d.MaxBatch > 1500 {
		return fmt.Errorf("data.max_batch must be in [1,1500]")
	}
	if d.MaxConcurrent <= 0 {
		return fmt.Errorf("data.max_concurrent must be > 0")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.FillRatio <= 0 || e.FillRatio > 1 {
		return fmt.Errorf("engine.fill_ratio must be in (0, 1]")
	}
	if e.Slippage < 0 {
		return fmt.Errorf("engine.slippage must be >= 0")
	}
	if e.StopLoss < 0 {
		return fmt.Errorf("engine.stop_loss must be >= 0")
	}
	if e.TakeProfit < 0 {
		return fmt.Errorf("engine.take_profit must be >= 0")
	}
	if e.LongOnly && e.ShortOnly {
		return fmt.Errorf("engine.long_only and engine.short_only are mutually exclusive")
	}
	switch strings.ToLower(strings.TrimSpace(e.Closing)) {
	case "", "vectorized":
	default:
		return fmt.Errorf("engine.closing only supports 'vectorized', got %s", e.Closing)
	}
	return nil
}

func (s *SimulatorConfig) validate() error {
	if s.Workers <= 0 {
		return fmt.Errorf("simulator.workers must be > 0")
	}
	if s.MaxConcurrent <= 0 {
		return fmt.Errorf("simulator.max_concurrent must be > 0")
	}
	if s.InitialBalance <= 0 {
		return fmt.Errorf("simulator.initial_balance must be > 0")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
