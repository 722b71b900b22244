package loader

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vecbt/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProfileDefinition 描述单个回测策略 profile：策略名、参数与默认标的。
type ProfileDefinition struct {
	Name     string             `mapstructure:"-" yaml:"-"`
	Strategy string             `mapstructure:"strategy" yaml:"strategy"`
	Params   map[string]float64 `mapstructure:"params" yaml:"params"`
	Symbols  []string           `mapstructure:"symbols" yaml:"symbols"`
	// Intervals 是该 profile 允许的 K 线周期，第一项为默认值。
	Intervals      []string `mapstructure:"intervals" yaml:"intervals"`
	InitialBalance float64  `mapstructure:"initial_balance" yaml:"initial_balance"`
	Default        bool     `mapstructure:"default" yaml:"default"`

	// 归一化后的字段（避免运行期重复处理）
	symbolsUpper   []string
	intervalsLower []string
}

// FileConfig 是完整的 profile 配置文件结构。
type FileConfig struct {
	Profiles map[string]ProfileDefinition `mapstructure:"profiles" yaml:"profiles"`
}

// ProfileSnapshot 对外暴露的只读快照。
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Default 返回标记为 default 的 profile；若没有则返回第一个命中的。
func (s ProfileSnapshot) Default() (ProfileDefinition, bool) {
	var first ProfileDefinition
	found := false
	for _, def := range s.Profiles {
		if def.Default {
			return def, true
		}
		if !found {
			first = def
			found = true
		}
	}
	return first, found
}

// ChangeListener 在配置变更时被调用。
type ChangeListener func(ProfileSnapshot)

// ProfileLoader 负责从 YAML 文件中加载策略 profile，并监听热更新。
type ProfileLoader struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader 读取配置文件并开始监听 FS 事件。
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, v: v}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("strategy profile reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot 返回当前配置快照（深拷贝）。
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Profile 按名称返回 profile。
func (l *ProfileLoader) Profile(name string) (ProfileDefinition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	def, ok := l.snapshot.Profiles[strings.TrimSpace(name)]
	return def, ok
}

// Subscribe 注册监听器，并立即收到一次完整快照。
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("strategy profile listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("strategy profile listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *ProfileLoader) reload() error {
	fileCfg, err := readProfileFile(l.path)
	if err != nil {
		return err
	}
	normalized := make(map[string]ProfileDefinition)
	for name, def := range fileCfg.Profiles {
		norm, err := normalizeProfileDefinition(name, def)
		if err != nil {
			return err
		}
		normalized[name] = norm
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Profile loader reloaded %d strategy profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy profile config failed: %w", err)
	}
	return cfg, nil
}

func normalizeProfileDefinition(name string, def ProfileDefinition) (ProfileDefinition, error) {
	def.Name = name
	def.Strategy = strings.ToLower(strings.TrimSpace(def.Strategy))
	if def.Strategy == "" {
		return def, fmt.Errorf("profile %s missing strategy", name)
	}
	if def.InitialBalance < 0 {
		def.InitialBalance = 0
	}
	def.symbolsUpper = normalizeSymbols(def.Symbols)
	def.intervalsLower = normalizeIntervals(def.Intervals)
	return def, nil
}

func normalizeSymbols(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func normalizeIntervals(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, iv := range in {
		s := strings.TrimSpace(iv)
		if s == "" {
			continue
		}
		out = append(out, strings.ToLower(s))
	}
	return out
}

// SymbolsUpper 返回标准化后的交易对列表。
func (p ProfileDefinition) SymbolsUpper() []string {
	out := make([]string, len(p.symbolsUpper))
	copy(out, p.symbolsUpper)
	return out
}

// IntervalsLower 返回标准化后的周期列表。
func (p ProfileDefinition) IntervalsLower() []string {
	out := make([]string, len(p.intervalsLower))
	copy(out, p.intervalsLower)
	return out
}

// DefaultSymbol 返回 profile 的首个标的。
func (p ProfileDefinition) DefaultSymbol() string {
	if len(p.symbolsUpper) == 0 {
		return ""
	}
	return p.symbolsUpper[0]
}

// DefaultInterval 返回 profile 的首个周期。
func (p ProfileDefinition) DefaultInterval() string {
	if len(p.intervalsLower) == 0 {
		return ""
	}
	return p.intervalsLower[0]
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		dst.Profiles[name] = def
	}
	return dst
}
