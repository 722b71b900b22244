package backtest

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecbt/internal/engine"
	"vecbt/internal/frame"
	"vecbt/internal/market"
)

// settleFixture 构造一段带成交列的结果帧：
// bar1 开多 1@100，bar3 反手 -2@110，bar4 平空 1@105。
func settleFixture(t *testing.T, startTS int64) *frame.Frame {
	t.Helper()
	step := int64(60_000)
	closes := []float64{100, 100, 105, 110, 105}
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		candles[i] = candleAt(startTS+int64(i)*step, c)
	}
	f := frame.FromCandles("BTCUSDT", "1m", candles)

	orderSize := f.EnsureCol(engine.ColOrderSize)
	tradePrice := f.EnsureCol(engine.ColTradePrice)
	tradeSize := f.EnsureCol(engine.ColTradeSize)
	position := f.EnsureCol(engine.ColPosition)
	avgPrice := f.EnsureCol(engine.ColAvgPrice)

	set := func(i int, order, price, size, pos, avg float64) {
		orderSize[i] = order
		tradePrice[i] = price
		tradeSize[i] = size
		position[i] = pos
		avgPrice[i] = avg
	}
	position[0] = 0
	set(1, 1, 100, 1, 1, 100)
	position[2] = 1
	set(3, 2, 110, -2, -1, 110)
	set(4, 1, 105, 1, 0, math.NaN())
	return f
}

func TestSettle(t *testing.T) {
	startTS := int64(1_700_000_040_000)
	f := settleFixture(t, startTS)
	runner := newSimRunner(nil, nil, nil, RunConfig{
		Symbol:         "BTCUSDT",
		Timeframe:      "1m",
		StartTS:        startTS,
		InitialBalance: 10000,
	}, 1)

	trades, equity, stats := runner.settle(f)

	t.Run("Trades Carry Reasons", func(t *testing.T) {
		require.Len(t, trades, 3)
		assert.Equal(t, "signal", trades[0].Reason)
		assert.Equal(t, 1, trades[0].Side)
		assert.Equal(t, "flip", trades[1].Reason)
		assert.Equal(t, -1, trades[1].Side)
		assert.Equal(t, "close", trades[2].Reason)
		assert.Equal(t, 0.0, trades[2].AvgPrice)
	})

	t.Run("Cash Accounting", func(t *testing.T) {
		// 10000 - 100 + 220 - 105 = 10015，末根无持仓。
		require.Len(t, equity, 5)
		assert.InDelta(t, 10000, equity[0].Equity, 1e-9)
		assert.InDelta(t, 10000, equity[1].Equity, 1e-9)
		assert.InDelta(t, 10005, equity[2].Equity, 1e-9)
		assert.InDelta(t, 10010, equity[3].Equity, 1e-9)
		assert.InDelta(t, 10015, equity[4].Equity, 1e-9)
	})

	t.Run("Stats", func(t *testing.T) {
		assert.Equal(t, 5, stats.Bars)
		assert.Equal(t, 3, stats.Orders)
		assert.Equal(t, 3, stats.Trades)
		assert.Equal(t, 1, stats.Flips)
		assert.Equal(t, 0, stats.StopExits)
		// 两次离场均盈利：多头 +10，空头 +5。
		assert.Equal(t, 2, stats.Wins)
		assert.Equal(t, 0, stats.Losses)
		assert.InDelta(t, 100, stats.WinRatePct, 1e-9)
		assert.InDelta(t, 10015, stats.FinalBalance, 1e-9)
		assert.InDelta(t, 15, stats.Profit, 1e-9)
		assert.InDelta(t, 0.15, stats.ReturnPct, 1e-9)
		assert.InDelta(t, 0, stats.MaxDrawdownPct, 1e-9)
	})

	t.Run("Warmup Rows Excluded From Equity", func(t *testing.T) {
		late := newSimRunner(nil, nil, nil, RunConfig{
			StartTS:        startTS + 2*60_000,
			InitialBalance: 10000,
		}, 1)
		_, eq, _ := late.settle(settleFixture(t, startTS))
		require.Len(t, eq, 3)
		assert.Equal(t, startTS+2*60_000, eq[0].TS)
	})
}

func TestTradeReason(t *testing.T) {
	f := settleFixture(t, 1_700_000_040_000)
	sl := f.EnsureCol(engine.ColSLPrice)
	tp := f.EnsureCol(engine.ColTPPrice)
	runner := newSimRunner(nil, nil, nil, RunConfig{InitialBalance: 10000}, 1)

	t.Run("Stop Loss Wins Over Close", func(t *testing.T) {
		sl[4] = 105
		reason := runner.tradeReason(4, 1, 0, -1, sl, tp, 105)
		assert.Equal(t, "stop_loss", reason)
		sl[4] = math.NaN()
	})

	t.Run("Take Profit Requires Flat Position", func(t *testing.T) {
		tp[3] = 110
		reason := runner.tradeReason(3, -2, -1, 1, sl, tp, 110)
		// 反手后仍有仓位，不能算止盈离场。
		assert.Equal(t, "flip", reason)
		tp[3] = math.NaN()
	})

	t.Run("Same Direction Is Signal", func(t *testing.T) {
		reason := runner.tradeReason(1, 1, 2, 1, sl, tp, 100)
		assert.Equal(t, "signal", reason)
	})
}
