package engine

import (
	"math"

	"vecbt/internal/frame"
)

// EvaluateStops 在成交序列之上叠加止盈止损，并计算连段内的加权均价。
//
// 均价 = 连段内 Σ(trade_price×trade_size) / Σ(trade_size)，只增仓不减仓
// 时该公式成立，翻转行会重置聚合。每根 K 线先用上一行的均价与仓位
// 武装触发价：
//
//	sl_price = avg × (1 - sign(position)×stop_loss)
//	tp_price = avg × (1 + sign(position)×take_profit)
//
// 触发价落在当根 [low, high] 区间内即触发，止损优先于止盈。触发时
// 用一笔完全对冲仓位的合成成交替换该行原有成交，成交价取触发价，
// 并把同一平仓连段内后续的订单与成交全部作废：向量化模式下止损平仓
// 后不允许同段重进，直到原始成交方向翻转才重新开仓。
//
// 未配置止盈止损时本阶段只计算 avg_price，成交与持仓保持不变。
func EvaluateStops(f *frame.Frame, cfg Config) error {
	n := f.Len()
	raw := f.Col(colRawTradeSize)
	tradePrice := f.Col(ColTradePrice)
	if raw == nil || tradePrice == nil {
		return structuralErrf("缺少 %s/%s 列，请先调用 ClosePosition", colRawTradeSize, ColTradePrice)
	}
	tradeSize := f.Col(ColTradeSize)
	tradeSide := f.Col(ColTradeSide)
	orderPrice := f.Col(ColOrderPrice)
	orderSize := f.Col(ColOrderSize)
	position := f.Col(ColPosition)

	avgPrice := frame.NaNs(n)
	slPrice := frame.NaNs(n)
	tpPrice := frame.NaNs(n)
	useSL := cfg.StopLoss > 0
	useTP := cfg.TakeProfit > 0

	// 单次前向扫描重建仓位与聚合均价。没有触发时产出与 ClosePosition
	// 完全一致，因此可以整列改写而不破坏已有结果。
	var (
		pos      float64
		aggCost  float64
		aggQty   float64
		lastSide = math.NaN()
		stopped  bool
	)
	for i := 0; i < n; i++ {
		// 先检查上一行遗留仓位是否被本根 K 线打掉。
		if pos != 0 && (useSL || useTP) {
			avg := aggCost / aggQty
			dir := frame.Sign(pos)
			triggered := false
			var fill float64
			if useSL {
				p := avg * (1 - dir*cfg.StopLoss)
				if f.Low[i] <= p && p <= f.High[i] {
					slPrice[i] = p
					fill = p
					triggered = true
				}
			}
			if !triggered && useTP {
				p := avg * (1 + dir*cfg.TakeProfit)
				if f.Low[i] <= p && p <= f.High[i] {
					tpPrice[i] = p
					fill = p
					triggered = true
				}
			}
			if triggered {
				tradePrice[i] = fill
				tradeSize[i] = -pos
				tradeSide[i] = -dir
				pos = 0
				aggCost, aggQty = 0, 0
				stopped = true
				// 被替换的原始成交作废。
				position[i] = 0
				continue
			}
		}

		size := raw[i]
		switch {
		case math.IsNaN(size):
			// 无成交，仓位顺延。
		case stopped && frame.Sign(size) == lastSide:
			// 同段禁止重进，成交与挂单一并作废。
			tradePrice[i] = math.NaN()
			tradeSize[i] = math.NaN()
			tradeSide[i] = math.NaN()
			orderPrice[i] = math.NaN()
			orderSize[i] = math.NaN()
		default:
			side := frame.Sign(size)
			if !math.IsNaN(lastSide) && side != lastSide && pos != 0 {
				// 翻转：先对冲旧仓，剩余为新仓。
				tradeSize[i] = -pos + size
				pos = size
				aggCost = tradePrice[i] * size
				aggQty = size
			} else {
				tradeSize[i] = size
				pos += size
				aggCost += tradePrice[i] * size
				aggQty += size
			}
			tradeSide[i] = side
			lastSide = side
			stopped = false
		}

		position[i] = pos
		if pos != 0 {
			avgPrice[i] = aggCost / aggQty
		}
	}

	if err := f.SetCol(ColAvgPrice, avgPrice); err != nil {
		return err
	}
	if err := f.SetCol(ColSLPrice, slPrice); err != nil {
		return err
	}
	return f.SetCol(ColTPPrice, tpPrice)
}
