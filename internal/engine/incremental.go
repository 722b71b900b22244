package engine

import (
	"math"

	"vecbt/internal/frame"
)

// 增量驱动：逐根 K 线重放批量引擎的全部决策，任何一根 K 线只依赖
// 它自身与更早的信息。批量路径是对同一状态机的整列展开，两边的
// 产出必须在浮点容差内一致，一致性由 AssertConsistentSignals 把关。

// Bar 是增量驱动的单根行情输入。
type Bar struct {
	TS     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// BarInput 是当根 K 线收盘后策略给出的意图与下单参数。
// OrderPrice/OrderQty 为 NaN 时取默认值（收盘价 / 单位数量）。
type BarInput struct {
	Signal        float64
	Buy           bool
	Sell          bool
	UseConditions bool
	OrderPrice    float64
	OrderQty      float64
}

// BarResult 是单根 K 线的模拟结果，列含义与批量产出一一对应。
type BarResult struct {
	TS           int64
	Signal       float64
	SignalStreak float64
	OrderPrice   float64
	OrderSize    float64
	TradePrice   float64
	TradeSize    float64
	Position     float64
	AvgPrice     float64
	SLPrice      float64
	TPPrice      float64
}

// Incremental 携带跨 K 线的全部状态：信号连段、上一根挂出的订单、
// 连段首笔成交标记、按原始成交累计的"名义"仓位（决定平仓单的改写
// 数量），以及叠加止盈止损后的实际仓位与聚合均价。
type Incremental struct {
	cfg        Config
	sigFirst   bool
	tradeFirst bool

	row     int
	prevKey float64
	seenSig bool
	streak  float64

	hasPending bool
	pendPrice  float64
	pendSize   float64
	pendSide   float64
	pendStreak float64
	prevClose  float64

	filledStreak    float64
	filledRowStreak float64

	naivePos  float64
	naiveSide float64

	pos      float64
	aggCost  float64
	aggQty   float64
	lastSide float64
	stopped  bool

	results []BarResult
}

// NewIncremental 构造增量驱动；firstOnly 与批量侧 SignalInput.FirstOnly
// 含义相同。
func NewIncremental(cfg Config, firstOnly bool) (*Incremental, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Incremental{
		cfg:          cfg,
		sigFirst:     firstOnly,
		tradeFirst:   cfg.FirstTradeOnly || cfg.LongOnly || cfg.ShortOnly,
		prevKey:      math.NaN(),
		pendStreak:   math.NaN(),
		prevClose:       math.NaN(),
		filledStreak:    math.NaN(),
		filledRowStreak: math.NaN(),
		naiveSide:    math.NaN(),
		lastSide:     math.NaN(),
	}, nil
}

// Step 处理一根 K 线：先结算上一根挂出的订单（或被止盈止损打掉的
// 仓位），再根据当根信号定价下一笔订单。
func (inc *Incremental) Step(bar Bar, in BarInput) (BarResult, error) {
	res := BarResult{
		TS:         bar.TS,
		Signal:     math.NaN(),
		OrderPrice: math.NaN(), OrderSize: math.NaN(),
		TradePrice: math.NaN(), TradeSize: math.NaN(),
		SignalStreak: math.NaN(), AvgPrice: math.NaN(),
		SLPrice: math.NaN(), TPPrice: math.NaN(),
	}

	// 止盈止损优先于订单结算，触发时本根原始成交作废。
	triggered := false
	if inc.pos != 0 && (inc.cfg.StopLoss > 0 || inc.cfg.TakeProfit > 0) {
		avg := inc.aggCost / inc.aggQty
		dir := frame.Sign(inc.pos)
		if inc.cfg.StopLoss > 0 {
			p := avg * (1 - dir*inc.cfg.StopLoss)
			if bar.Low <= p && p <= bar.High {
				res.SLPrice = p
				res.TradePrice = p
				triggered = true
			}
		}
		if !triggered && inc.cfg.TakeProfit > 0 {
			p := avg * (1 + dir*inc.cfg.TakeProfit)
			if bar.Low <= p && p <= bar.High {
				res.TPPrice = p
				res.TradePrice = p
				triggered = true
			}
		}
		if triggered {
			res.TradeSize = -inc.pos
			inc.pos = 0
			inc.aggCost, inc.aggQty = 0, 0
			inc.stopped = true
		}
	}

	// 结算上一根定价的订单。
	fillPrice, fillSize := math.NaN(), math.NaN()
	if inc.hasPending && !math.IsNaN(inc.pendSide) && !math.IsNaN(inc.pendPrice) {
		side := inc.pendSide
		limit := inc.pendPrice
		market := (side == 1 && inc.prevClose <= limit) ||
			(side == -1 && inc.prevClose >= limit)
		limitFill := (side == 1 && limit >= bar.Low) ||
			(side == -1 && limit <= bar.High)
		switch {
		case market:
			fillPrice = inc.prevClose * (1 + inc.cfg.Slippage*side)
		case limitFill:
			fillPrice = limit
		}
		if !math.IsNaN(fillPrice) {
			fillSize = inc.pendSize
			if !inc.cfg.IgnoreSizing {
				maxLiquidity := bar.Volume * inc.cfg.FillRatio
				if math.Abs(fillSize) > maxLiquidity {
					fillSize = maxLiquidity * side
				}
			}
		}
	}
	// 连段首笔成交之后的同段成交作废。
	if !math.IsNaN(fillSize) && inc.tradeFirst && inc.pendStreak == inc.filledStreak {
		fillPrice, fillSize = math.NaN(), math.NaN()
	}
	suppressOrder := false
	fillHappened := !math.IsNaN(fillSize)
	if fillHappened {
		if inc.tradeFirst {
			inc.filledStreak = inc.pendStreak
		}
		sz := fillSize
		sd := frame.Sign(sz)
		// 名义仓位不理会止盈止损，决定后续平仓单的改写数量。
		if !math.IsNaN(inc.naiveSide) && sd != inc.naiveSide {
			inc.naivePos = sz
		} else {
			inc.naivePos += sz
		}
		inc.naiveSide = sd

		switch {
		case triggered:
			// 原始成交已被止盈止损的合成成交取代。
		case inc.stopped && sd == inc.lastSide:
			// 止损平仓后同段禁止重进。
			suppressOrder = true
		default:
			if !math.IsNaN(inc.lastSide) && sd != inc.lastSide && inc.pos != 0 {
				res.TradeSize = -inc.pos + sz
				inc.pos = sz
				inc.aggCost = fillPrice * sz
				inc.aggQty = sz
			} else {
				res.TradeSize = sz
				inc.pos += sz
				inc.aggCost += fillPrice * sz
				inc.aggQty += sz
			}
			res.TradePrice = fillPrice
			inc.lastSide = sd
			inc.stopped = false
		}
	}
	inc.hasPending = false

	// 当根信号与连段。
	sig, err := inc.signalFor(in)
	if err != nil {
		return res, err
	}
	key := sig
	if inc.cfg.NaNSignal {
		if math.IsNaN(key) {
			key = 0
		}
	} else if math.IsNaN(key) {
		key = inc.prevKey
	}
	change := math.IsNaN(inc.prevKey) || key != inc.prevKey
	if !inc.seenSig && math.IsNaN(sig) {
		change = false
	}
	if !math.IsNaN(sig) {
		inc.seenSig = true
	}
	inc.prevKey = key
	if inc.seenSig {
		if change {
			inc.streak++
		}
		res.SignalStreak = inc.streak
	}
	if inc.sigFirst && !change {
		sig = math.NaN()
	}
	res.Signal = sig
	// 作废后续订单的依据是成交发生行所在的信号连段。
	if fillHappened && inc.tradeFirst {
		inc.filledRowStreak = res.SignalStreak
	}

	// 为下一根定价订单。
	price := in.OrderPrice
	if math.IsNaN(price) {
		price = bar.Close
	} else if price <= 0 {
		return res, configErrf("order_price", "第 %d 行取值 %v，必须为正或 NaN", inc.row, price)
	}
	qty := in.OrderQty
	if math.IsNaN(qty) || inc.cfg.IgnoreSizing {
		qty = 1
	} else if qty <= 0 {
		return res, configErrf("order_quantity", "第 %d 行取值 %v，必须为正或 NaN", inc.row, qty)
	}
	orderPrice := math.Abs(sig) * price
	orderSize := sig * qty
	if inc.cfg.LongOnly && sig == -1 {
		orderSize = 0
	}
	if inc.cfg.ShortOnly && sig == 1 {
		orderSize = 0
	}
	inc.pendPrice = orderPrice
	inc.pendSize = orderSize
	inc.pendSide = sig
	inc.pendStreak = res.SignalStreak
	inc.hasPending = true

	// 展示列：平仓单改写为对冲名义仓位，作废规则与批量侧一致。
	dispPrice, dispSize := orderPrice, orderSize
	if !math.IsNaN(inc.naiveSide) && !math.IsNaN(sig) &&
		sig != frame.Sign(inc.naivePos) {
		dispSize = -inc.naivePos + dispSize
	}
	if inc.tradeFirst && inc.seenSig && res.SignalStreak == inc.filledRowStreak {
		dispPrice, dispSize = math.NaN(), math.NaN()
	}
	if suppressOrder {
		dispPrice, dispSize = math.NaN(), math.NaN()
	}
	res.OrderPrice = dispPrice
	res.OrderSize = dispSize

	res.Position = inc.pos
	if inc.pos != 0 {
		res.AvgPrice = inc.aggCost / inc.aggQty
	}
	if math.IsNaN(res.OrderPrice) || math.IsNaN(res.OrderSize) {
		res.OrderPrice, res.OrderSize = math.NaN(), math.NaN()
	}
	if math.IsNaN(res.TradePrice) || math.IsNaN(res.TradeSize) {
		res.TradePrice, res.TradeSize = math.NaN(), math.NaN()
	}

	inc.prevClose = bar.Close
	inc.row++
	inc.results = append(inc.results, res)
	return res, nil
}

func (inc *Incremental) signalFor(in BarInput) (float64, error) {
	if !in.UseConditions {
		v := in.Signal
		if !math.IsNaN(v) && v != 1 && v != -1 {
			return math.NaN(), configErrf("signal", "第 %d 行取值 %v，只允许 1/-1/NaN", inc.row, v)
		}
		return v, nil
	}
	if in.Buy && in.Sell {
		return math.NaN(), configErrf("buy_condition/sell_condition", "第 %d 行买卖条件同时成立，意图不明", inc.row)
	}
	switch {
	case in.Buy:
		return 1, nil
	case in.Sell:
		return -1, nil
	default:
		return math.NaN(), nil
	}
}

// Results 返回已结算 K 线的逐行产出：最后一根的订单尚未有机会成交，
// 它的行不在其列，因此比批量产出恰好短一行。
func (inc *Incremental) Results() []BarResult {
	if len(inc.results) == 0 {
		return nil
	}
	return inc.results[:len(inc.results)-1]
}

// Column 按列名抽出 Results 对应的数值序列，供一致性校验使用。
func (inc *Incremental) Column(name string) []float64 {
	rows := inc.Results()
	out := make([]float64, len(rows))
	for i, r := range rows {
		switch name {
		case ColSignal:
			out[i] = r.Signal
		case ColSignalStreak:
			out[i] = r.SignalStreak
		case ColOrderPrice:
			out[i] = r.OrderPrice
		case ColOrderSize:
			out[i] = r.OrderSize
		case ColTradePrice:
			out[i] = r.TradePrice
		case ColTradeSize:
			out[i] = r.TradeSize
		case ColPosition:
			out[i] = r.Position
		case ColAvgPrice:
			out[i] = r.AvgPrice
		default:
			out[i] = math.NaN()
		}
	}
	return out
}
