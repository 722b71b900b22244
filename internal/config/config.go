package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取 path 指向的 YAML 配置，按 include 声明的顺序先合并子文件，
// 再让父文件覆盖，最后回填默认值并校验。
func Load(path string) (*Config, error) {
	files, err := loadConfigTree(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, f := range files {
		if err := v.MergeConfigMap(f.settings); err != nil {
			return nil, fmt.Errorf("merging config failed (%s): %w", f.path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	setKeys := make(keySet)
	collectSettingsKeys(v.AllSettings(), setKeys)
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// configFile 保存单个文件解析后的完整键值树，避免二次读盘。
type configFile struct {
	path     string
	settings map[string]any
}

func loadConfigTree(path string) ([]configFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeResolver{
		seen:  make(map[string]bool),
		stack: make(map[string]bool),
	}
	return r.walk(abs)
}

// includeResolver 深度优先展开 include 链。stack 捕获环，seen 去重，
// 同一文件被多处引用时只保留首次出现的位置。
type includeResolver struct {
	seen  map[string]bool
	stack map[string]bool
}

func (r *includeResolver) walk(path string) ([]configFile, error) {
	path = filepath.Clean(path)
	if r.stack[path] {
		return nil, fmt.Errorf("include cycle detected: %s", path)
	}
	if r.seen[path] {
		return nil, nil
	}
	r.stack[path] = true

	settings, includes, err := readConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	dir := filepath.Dir(path)
	var ordered []configFile
	for _, inc := range includes {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		sub, err := r.walk(inc)
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, sub...)
	}

	delete(r.stack, path)
	r.seen[path] = true
	return append(ordered, configFile{path: path, settings: settings}), nil
}

func readConfigFile(path string) (map[string]any, []string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, err
	}
	includes, err := includeList(v.Get("include"))
	if err != nil {
		return nil, nil, err
	}
	return v.AllSettings(), includes, nil
}

func includeList(raw any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if strs, ok := raw.([]string); ok {
			return strs, nil
		}
		return nil, fmt.Errorf("include must be a string array")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		out = append(out, str)
	}
	return out, nil
}

// collectSettingsKeys 把配置树摊平为 "a.b.c" 形式的键集合，
// applyDefaults 据此区分显式写入的键与要回填默认值的键。
func collectSettingsKeys(settings map[string]any, dest keySet) {
	if dest == nil {
		return
	}
	flattenConfigKeys("", settings, dest)
}

func flattenConfigKeys(prefix string, node any, dest keySet) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			if next, ok := childConfigKey(prefix, k); ok {
				flattenConfigKeys(next, child, dest)
			}
		}
	case map[any]any:
		for k, child := range val {
			keyStr, ok := k.(string)
			if !ok {
				continue
			}
			if next, ok := childConfigKey(prefix, keyStr); ok {
				flattenConfigKeys(next, child, dest)
			}
		}
	case []any:
		dest.mark(prefix)
		for _, item := range val {
			flattenConfigKeys(prefix, item, dest)
		}
	default:
		dest.mark(prefix)
	}
}

func childConfigKey(prefix, key string) (string, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return "", false
	}
	if prefix != "" {
		key = prefix + "." + key
	}
	return key, true
}
