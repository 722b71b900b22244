package backtest

import (
	"math"

	"vecbt/internal/engine"
	"vecbt/internal/strategy"
)

// StrategyRunner 把注册表中的策略适配成引擎输入，批量与逐笔共用
// 同一个实例，保证两条路径看到的信号序列一致。
type StrategyRunner struct {
	strat strategy.Strategy
}

func NewStrategyRunner(name string, params map[string]float64) (*StrategyRunner, error) {
	strat, err := strategy.New(name, params)
	if err != nil {
		return nil, err
	}
	return &StrategyRunner{strat: strat}, nil
}

func (r *StrategyRunner) Name() string { return r.strat.Name() }

// MinBars 预热门槛，此前信号为 NaN，引擎不会下单。
func (r *StrategyRunner) MinBars() int { return r.strat.MinBars() }

// BatchInput 对整段收盘价出信号，供批量驱动使用。
func (r *StrategyRunner) BatchInput(closes []float64) engine.SignalInput {
	return engine.SignalInput{Signal: r.strat.Signals(closes)}
}

// BarInput 逐笔路径：喂入一根收盘价，返回当根引擎输入。
// 下单价与数量取 NaN，由引擎按收盘价/单位数量兜底。
func (r *StrategyRunner) BarInput(close float64) engine.BarInput {
	return engine.BarInput{
		Signal:     r.strat.OnBar(close),
		OrderPrice: math.NaN(),
		OrderQty:   math.NaN(),
	}
}

// Reset 清空逐笔状态，逐笔重放前必须调用。
func (r *StrategyRunner) Reset() { r.strat.Reset() }
