package engine

import (
	"math"

	"vecbt/internal/frame"
)

// ClosePosition 根据成交方向的翻转推导平仓点，并累计出逐行持仓。
//
// 成交方向相对上一笔有效成交发生变化即视为一次翻转，翻转开启新的
// 平仓连段。持仓是连段内成交量的累计值，连段之间不延续：新段的首笔
// 成交就是新仓位。翻转行的成交量改写为"对冲旧仓 + 新开仓"的合计
// （-旧仓 + 原始量），持仓列保持按原始量累计，因此翻转后 |position|
// 恒等于单笔开仓量。
//
// cfg.Closing 为 looped 时返回 ErrLoopedClosingUnsupported。
func ClosePosition(f *frame.Frame, cfg Config) error {
	if cfg.Closing == ClosingLooped {
		return ErrLoopedClosingUnsupported
	}
	n := f.Len()
	tradeSize := f.Col(ColTradeSize)
	tradeSide := f.Col(ColTradeSide)
	if tradeSize == nil || tradeSide == nil {
		return structuralErrf("缺少 %s/%s 列，请先调用 OpenPosition", ColTradeSize, ColTradeSide)
	}

	// 止盈止损评估需要未经翻转改写的原始成交量。
	raw := make([]float64, n)
	copy(raw, tradeSize)
	if err := f.SetCol(colRawTradeSize, raw); err != nil {
		return err
	}

	sideFF := frame.FFill(tradeSide)
	changed := frame.ChangedNeZero(sideFF)
	flip := make([]bool, n)
	for i := 0; i < n; i++ {
		flip[i] = changed[i] && !math.IsNaN(tradeSide[i])
	}

	// 平仓连段编号：每次翻转递增，首笔成交之前为第 0 段。
	closeStreak := make([]float64, n)
	streakID := 0.0
	for i := 0; i < n; i++ {
		if flip[i] {
			streakID++
		}
		closeStreak[i] = streakID
	}
	if err := f.SetCol(ColCloseStreak, closeStreak); err != nil {
		return err
	}

	// 段内累计、段内前向填充、段内补零，段间互不影响。
	position := frame.GroupTransform(closeStreak, tradeSize, func(x []float64) []float64 {
		return frame.FillNA(frame.FFill(frame.CumSum(x)), 0)
	})
	if err := f.SetCol(ColPosition, position); err != nil {
		return err
	}

	// 翻转行的实际成交要先对冲掉上一行的仓位。
	posShift := frame.Shift1(position)
	for i := 0; i < n; i++ {
		if !flip[i] {
			continue
		}
		prev := posShift[i]
		if math.IsNaN(prev) || prev == 0 {
			continue
		}
		tradeSize[i] = -prev + tradeSize[i]
	}

	// 段内已出现成交之后，方向与仓位不符的挂单是平仓单，
	// 数量重定为对冲整个仓位再叠加原始量。
	sig := f.Col(ColSignal)
	orderSize := f.Col(ColOrderSize)
	if sig != nil && orderSize != nil {
		afterClose := frame.GroupTransformBool(closeStreak, tradeSize, func(x []float64) []bool {
			ff := frame.FFill(x)
			out := make([]bool, len(ff))
			for i, v := range ff {
				out[i] = !math.IsNaN(v)
			}
			return out
		})
		for i := 0; i < n; i++ {
			if !afterClose[i] || math.IsNaN(sig[i]) {
				continue
			}
			if sig[i] != frame.Sign(position[i]) {
				orderSize[i] = -position[i] + orderSize[i]
			}
		}
	}
	return nil
}
