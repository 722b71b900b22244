package strategy

import (
	"fmt"
	"math"
	"sort"
)

// Strategy 在每根 K 线收盘后给出方向信号：1 做多、-1 做空、NaN 观望。
// 批量与逐笔两条路径必须产生完全一致的信号序列。
type Strategy interface {
	Name() string
	// MinBars 返回预热所需的最少 K 线数，此前的信号一律为 NaN。
	MinBars() int
	// Signals 对整段收盘价一次性出信号，长度与输入一致。
	Signals(closes []float64) []float64
	// OnBar 接收一根新收盘价并返回当根信号；内部自行累积历史。
	OnBar(close float64) float64
	// Reset 清空逐笔状态，便于复用同一实例重放。
	Reset()
}

// Factory 按参数构造策略实例。
type Factory func(params map[string]float64) (Strategy, error)

var registry = map[string]Factory{}

// Register 注册策略工厂，重复注册会 panic（启动期错误）。
func Register(name string, factory Factory) {
	if name == "" || factory == nil {
		panic("strategy: 注册参数不完整")
	}
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("strategy: %q 已注册", name))
	}
	registry[name] = factory
}

// New 按名称创建策略。
func New(name string, params map[string]float64) (Strategy, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("未知策略 %q，可用: %v", name, Names())
	}
	return factory(params)
}

// Names 返回已注册策略名（字典序）。
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func paramOr(params map[string]float64, key string, def float64) float64 {
	if params == nil {
		return def
	}
	if v, ok := params[key]; ok {
		return v
	}
	return def
}

func intParam(params map[string]float64, key string, def int) (int, error) {
	v := paramOr(params, key, float64(def))
	if math.IsNaN(v) || v != math.Trunc(v) || v < 1 {
		return 0, fmt.Errorf("参数 %s 需要正整数，当前 %v", key, v)
	}
	return int(v), nil
}
