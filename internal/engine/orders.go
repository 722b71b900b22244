package engine

import (
	"math"

	"vecbt/internal/frame"
)

// OpenInput 允许调用方覆盖订单价格与数量；留空时价格取收盘价
// （市价单语义，成交时计滑点），数量取 1。
type OpenInput struct {
	OrderPrice []float64
	OrderQty   []float64
}

// OpenPosition 把信号连段转换为订单并模拟下一根 K 线内的成交。
//
// 订单在第 N 根 K 线收盘时定价，第 N+1 根开始时挂出，只在第 N+1 根内
// 有机会成交，未成交视为收盘时撤单。成交判定顺序：
//  1. 市价成交：上一收盘价已经越过限价（买单 close<=limit，卖单
//     close>=limit），成交价 = 上一收盘价按方向加滑点；
//  2. 限价成交：K 线高低区间包含限价，成交价 = 限价本身；
//  3. 否则作废。
//
// 成交量受 volume*fill_ratio 封顶（IgnoreSizing 时除外），超出部分
// 直接放弃，不展期。
func OpenPosition(f *frame.Frame, cfg Config, in OpenInput) error {
	n := f.Len()
	sig := f.Col(ColSignal)
	streak := f.Col(ColSignalStreak)
	if sig == nil || streak == nil {
		return structuralErrf("缺少 %s/%s 列，请先调用 CreateSignal", ColSignal, ColSignalStreak)
	}

	price := in.OrderPrice
	if price == nil {
		price = f.Close
	} else {
		if len(price) != n {
			return configErrf("order_price", "长度 %d 与行数 %d 不一致", len(price), n)
		}
		for i, v := range price {
			if !math.IsNaN(v) && v <= 0 {
				return configErrf("order_price", "第 %d 行取值 %v，必须为正或 NaN", i, v)
			}
		}
	}
	qty := in.OrderQty
	if qty != nil && !cfg.IgnoreSizing {
		if len(qty) != n {
			return configErrf("order_quantity", "长度 %d 与行数 %d 不一致", len(qty), n)
		}
		for i, v := range qty {
			if !math.IsNaN(v) && v <= 0 {
				return configErrf("order_quantity", "第 %d 行取值 %v，必须为正或 NaN", i, v)
			}
		}
	}
	qtyAt := func(i int) float64 {
		if qty == nil || cfg.IgnoreSizing {
			return 1
		}
		return qty[i]
	}

	orderPrice := make([]float64, n)
	orderSize := make([]float64, n)
	for i := 0; i < n; i++ {
		orderPrice[i] = math.Abs(sig[i]) * price[i]
		orderSize[i] = sig[i] * qtyAt(i)
	}
	if cfg.LongOnly || cfg.ShortOnly {
		// 反向信号的订单量归零：该方向只平不开，数量交由 ClosePosition 决定。
		opposite := -1.0
		if cfg.ShortOnly {
			opposite = 1.0
		}
		for i := 0; i < n; i++ {
			if sig[i] == opposite {
				orderSize[i] = 0
			}
		}
	}

	openedPrice := frame.Shift1(orderPrice)
	openedSize := frame.Shift1(orderSize)
	openedSide := frame.Shift1(sig)
	prevClose := frame.Shift1(f.Close)

	tradePrice := frame.NaNs(n)
	tradeSize := frame.NaNs(n)
	tradeSide := frame.NaNs(n)
	for i := 0; i < n; i++ {
		side := openedSide[i]
		limit := openedPrice[i]
		if math.IsNaN(side) || math.IsNaN(limit) {
			continue
		}
		market := (side == 1 && prevClose[i] <= limit) ||
			(side == -1 && prevClose[i] >= limit)
		limitFill := (side == 1 && limit >= f.Low[i]) ||
			(side == -1 && limit <= f.High[i])
		switch {
		case market:
			tradePrice[i] = prevClose[i] * (1 + cfg.Slippage*side)
		case limitFill:
			tradePrice[i] = limit
		default:
			continue
		}
		size := openedSize[i]
		if !cfg.IgnoreSizing {
			maxLiquidity := f.Volume[i] * cfg.FillRatio
			if math.Abs(size) > maxLiquidity {
				size = maxLiquidity * side
			}
		}
		tradeSize[i] = size
		tradeSide[i] = frame.Sign(size)
	}

	tradeStreak := frame.Shift1(streak)

	if cfg.FirstTradeOnly || cfg.LongOnly || cfg.ShortOnly {
		// 每个成交连段只保留第一笔成交。
		changed := frame.GroupTransformBool(tradeStreak, tradeSide, func(x []float64) []bool {
			return frame.ChangedNeZero(frame.FFill(x))
		})
		for i := 0; i < n; i++ {
			firstTrade := changed[i] && !math.IsNaN(tradeSide[i])
			if !firstTrade {
				tradePrice[i] = math.NaN()
				tradeSize[i] = math.NaN()
			}
		}
		// 同一信号连段内一旦出现成交，后续订单作废。
		filled := frame.GroupTransformBool(streak, tradeSize, func(x []float64) []bool {
			ff := frame.FFill(x)
			out := make([]bool, len(ff))
			for i, v := range ff {
				out[i] = !math.IsNaN(v)
			}
			return out
		})
		for i := 0; i < n; i++ {
			if filled[i] {
				orderPrice[i] = math.NaN()
				orderSize[i] = math.NaN()
			}
		}
		for i := 0; i < n; i++ {
			tradeSide[i] = frame.Sign(tradeSize[i])
		}
	}

	for _, c := range []struct {
		name string
		col  []float64
	}{
		{ColOrderPrice, orderPrice},
		{ColOrderSize, orderSize},
		{ColTradePrice, tradePrice},
		{ColTradeSize, tradeSize},
		{ColTradeSide, tradeSide},
		{ColTradeStreak, tradeStreak},
	} {
		if err := f.SetCol(c.name, c.col); err != nil {
			return err
		}
	}
	return nil
}
