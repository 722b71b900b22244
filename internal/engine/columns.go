package engine

// 引擎产出的列名。下划线开头的是阶段间的中间列，Pipeline 收尾时丢弃。
const (
	ColSignal       = "signal"
	ColSignalStreak = "signal_streak"
	ColOrderPrice   = "order_price"
	ColOrderSize    = "order_size"
	ColTradePrice   = "trade_price"
	ColTradeSize    = "trade_size"
	ColTradeSide    = "trade_side"
	ColTradeStreak  = "trade_streak"
	ColPosition     = "position"
	ColCloseStreak  = "close_streak"
	ColAvgPrice     = "avg_price"
	ColSLPrice      = "sl_price"
	ColTPPrice      = "tp_price"

	colRawTradeSize = "_trade_size_raw"
)

// ResultColumns 是一致性校验与下游消费关心的最终列。
var ResultColumns = []string{
	ColSignal,
	ColSignalStreak,
	ColOrderPrice,
	ColOrderSize,
	ColTradePrice,
	ColTradeSize,
	ColPosition,
	ColAvgPrice,
}
