package engine

import (
	"math"

	"vecbt/internal/frame"
)

// 信号序列：+1 买入意图，-1 卖出意图，NaN 无新意图。
// 连段（streak）号单调不减，信号取值每变化一次递增一次。

// SignalInput 提供信号来源：要么给出现成的 ±1/NaN 序列，
// 要么给出互斥的买卖条件列。
type SignalInput struct {
	Buy    []bool
	Sell   []bool
	Signal []float64
	// FirstOnly 只保留每个连段的第一个信号值，其余置 NaN。
	FirstOnly bool
}

// CreateSignal 在单一 (product, resolution) 分组上生成 signal 与
// signal_streak 两列。首个有效信号之前的行，两列均为 NaN。
func CreateSignal(f *frame.Frame, cfg Config, in SignalInput) error {
	n := f.Len()
	sig := make([]float64, n)

	switch {
	case in.Signal != nil:
		if len(in.Signal) != n {
			return configErrf("signal", "长度 %d 与行数 %d 不一致", len(in.Signal), n)
		}
		for i, v := range in.Signal {
			if !math.IsNaN(v) && v != 1 && v != -1 {
				return configErrf("signal", "第 %d 行取值 %v，只允许 1/-1/NaN", i, v)
			}
			sig[i] = v
		}
	case in.Buy == nil && in.Sell == nil:
		return ErrNoSignalInput
	default:
		if in.Buy != nil && len(in.Buy) != n {
			return configErrf("buy_condition", "长度 %d 与行数 %d 不一致", len(in.Buy), n)
		}
		if in.Sell != nil && len(in.Sell) != n {
			return configErrf("sell_condition", "长度 %d 与行数 %d 不一致", len(in.Sell), n)
		}
		for i := 0; i < n; i++ {
			buy := in.Buy != nil && in.Buy[i]
			sell := in.Sell != nil && in.Sell[i]
			if buy && sell {
				return configErrf("buy_condition/sell_condition", "第 %d 行买卖条件同时成立，意图不明", i)
			}
			switch {
			case buy:
				sig[i] = 1
			case sell:
				sig[i] = -1
			default:
				sig[i] = math.NaN()
			}
		}
	}

	// 变化点检测：缺失算独立信号时先补 0，否则前向填充后再比较。
	var ref []float64
	if cfg.NaNSignal {
		ref = frame.FillNA(sig, 0)
	} else {
		ref = frame.FFill(sig)
	}
	change := frame.ChangedNeZero(ref)

	first := frame.FirstValid(sig)
	for i := 0; i < n; i++ {
		if first < 0 || i < first {
			change[i] = false
		}
	}

	streak := frame.NaNs(n)
	if first >= 0 {
		count := 0.0
		for i := first; i < n; i++ {
			if change[i] {
				count++
			}
			streak[i] = count
		}
	}

	if in.FirstOnly {
		for i := 0; i < n; i++ {
			if !change[i] {
				sig[i] = math.NaN()
			}
		}
	}

	if err := f.SetCol(ColSignal, sig); err != nil {
		return err
	}
	return f.SetCol(ColSignalStreak, streak)
}
