package backtest

import (
	"context"

	"vecbt/internal/market"
)

// FetchRequest 是向数据源拉取历史 K 线的参数。时间戳为 Unix 毫秒，
// End 为 0 时表示拉到数据源允许的最新位置。
type FetchRequest struct {
	Symbol   string
	Interval string
	Start    int64
	End      int64
	Limit    int
}

// CandleSource 抽象一个历史行情来源，补数流程按 Name 选择具体实现。
type CandleSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]market.Candle, error)
	Name() string
}
