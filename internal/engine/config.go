package engine

// ClosingMode 标记平仓实现方式。looped 是为逐笔重入预留的状态机变体，
// 当前未实现，选择它会在校验阶段直接失败。
type ClosingMode string

const (
	ClosingVectorized ClosingMode = "vectorized"
	ClosingLooped     ClosingMode = "looped"
)

// Config 是模拟核心的全部可调参数，显式传入 Pipeline/Incremental，
// 不允许任何全局状态。
type Config struct {
	// FillRatio 单根 K 线最多可成交的成交量比例，(0, 1]。
	FillRatio float64
	// Slippage 市价成交的带符号滑点比例，买单抬价、卖单压价。
	Slippage float64
	// StopLoss 按均价的止损比例，0 表示不启用，启用时须在 (0, 1) 内。
	StopLoss float64
	// TakeProfit 按均价的止盈比例，0 表示不启用，启用时须为正。
	TakeProfit float64
	// LongOnly / ShortOnly 只做单边；反向信号的订单数量归零，
	// 平仓量交由 ClosePosition 决定。
	LongOnly  bool
	ShortOnly bool
	// FirstTradeOnly 每个信号连段只保留第一笔成交。
	FirstTradeOnly bool
	// NaNSignal 缺失信号是否算作独立连段。
	NaNSignal bool
	// IgnoreSizing 忽略数量与流动性上限，订单数量固定为 1。
	IgnoreSizing bool
	// Closing 平仓模式，默认 vectorized。
	Closing ClosingMode
}

// DefaultConfig 返回与实盘引擎一致的缺省参数。
func DefaultConfig() Config {
	return Config{
		FillRatio: 1,
		Closing:   ClosingVectorized,
	}
}

// Validate 在模拟开始前快速失败，消息点名出错的参数。
func (c Config) Validate() error {
	if c.FillRatio <= 0 || c.FillRatio > 1 {
		return configErrf("fill_ratio", "必须在 (0, 1] 内，当前 %v", c.FillRatio)
	}
	if c.StopLoss != 0 && (c.StopLoss <= 0 || c.StopLoss >= 1) {
		return configErrf("stop_loss", "必须在 (0, 1) 内，当前 %v", c.StopLoss)
	}
	if c.TakeProfit != 0 && c.TakeProfit <= 0 {
		return configErrf("take_profit", "必须为正，当前 %v", c.TakeProfit)
	}
	if c.LongOnly && c.ShortOnly {
		return configErrf("long_only/short_only", "不能同时开启")
	}
	switch c.Closing {
	case "", ClosingVectorized:
	case ClosingLooped:
		return ErrLoopedClosingUnsupported
	default:
		return configErrf("closing", "未知平仓模式 %q", c.Closing)
	}
	return nil
}
