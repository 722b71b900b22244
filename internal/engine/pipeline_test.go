package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecbt/internal/frame"
)

func newVolumeFrame(closes []float64, volume float64) *frame.Frame {
	f := frame.New(len(closes))
	for i, c := range closes {
		f.AppendBar(int64(i+1)*60000, "BTCUSDT", "1m", c, c+1, c-1, c, volume)
	}
	return f
}

func runPipeline(t *testing.T, f *frame.Frame, cfg Config, sig SignalInput, open OpenInput) *frame.Frame {
	t.Helper()
	p, err := NewPipeline(f, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Run(sig, open))
	return p.Frame()
}

// 单连段做多后反手做空，订单挂出一根 K 线后成交。
func TestPipeline_LongThenFlipShort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FirstTradeOnly = true
	f := runPipeline(t, newTestFrame([]float64{10, 10, 11, 12, 11, 10}), cfg,
		SignalInput{Signal: []float64{nan(), 1, 1, 1, -1, -1}}, OpenInput{})

	assertSeries(t, []float64{nan(), 10, nan(), nan(), 11, nan()}, f.Col(ColOrderPrice), ColOrderPrice)
	assertSeries(t, []float64{nan(), 1, nan(), nan(), -2, nan()}, f.Col(ColOrderSize), ColOrderSize)
	assertSeries(t, []float64{nan(), nan(), 10, nan(), nan(), 11}, f.Col(ColTradePrice), ColTradePrice)
	assertSeries(t, []float64{nan(), nan(), 1, nan(), nan(), -2}, f.Col(ColTradeSize), ColTradeSize)
	assertSeries(t, []float64{0, 0, 1, 1, 1, -1}, f.Col(ColPosition), ColPosition)
	assertSeries(t, []float64{nan(), nan(), 10, 10, 10, 11}, f.Col(ColAvgPrice), ColAvgPrice)
}

// 成交量不足时按 volume*fill_ratio 截断，超出部分不顺延。
func TestPipeline_FillCappedByLiquidity(t *testing.T) {
	f := runPipeline(t, newVolumeFrame([]float64{10, 10}, 4), DefaultConfig(),
		SignalInput{Signal: []float64{1, nan()}},
		OpenInput{OrderQty: []float64{5, nan()}})

	assertSeries(t, []float64{nan(), 4}, f.Col(ColTradeSize), ColTradeSize)
	assertSeries(t, []float64{0, 4}, f.Col(ColPosition), ColPosition)
}

// 止损价 avg*(1-0.05) 落入 K 线区间时合成一笔全额对冲的成交。
func TestPipeline_StopLossClosesPosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StopLoss = 0.05
	f := runPipeline(t, newTestFrame([]float64{100, 100, 100, 95, 95}), cfg,
		SignalInput{Signal: []float64{1, nan(), nan(), nan(), nan()}}, OpenInput{})

	assertSeries(t, []float64{nan(), nan(), nan(), 95, nan()}, f.Col(ColSLPrice), ColSLPrice)
	assertSeries(t, []float64{nan(), 100, nan(), 95, nan()}, f.Col(ColTradePrice), ColTradePrice)
	assertSeries(t, []float64{nan(), 1, nan(), -1, nan()}, f.Col(ColTradeSize), ColTradeSize)
	assertSeries(t, []float64{0, 1, 1, 0, 0}, f.Col(ColPosition), ColPosition)
	assertSeries(t, []float64{nan(), 100, 100, nan(), nan()}, f.Col(ColAvgPrice), ColAvgPrice)
}

func TestPipeline_ConfigErrors(t *testing.T) {
	t.Run("LongOnly And ShortOnly", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.LongOnly = true
		cfg.ShortOnly = true
		_, err := NewPipeline(newTestFrame([]float64{10}), cfg)
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
	})
	t.Run("StopLoss Out Of Range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.StopLoss = 1.5
		_, err := NewPipeline(newTestFrame([]float64{10}), cfg)
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
		assert.Contains(t, err.Error(), "stop_loss")
	})
	t.Run("Looped Closing Unsupported", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Closing = ClosingLooped
		_, err := NewPipeline(newTestFrame([]float64{10}), cfg)
		require.ErrorIs(t, err, ErrLoopedClosingUnsupported)
	})
	t.Run("Negative Order Price", func(t *testing.T) {
		p, err := NewPipeline(newTestFrame([]float64{10, 11}), DefaultConfig())
		require.NoError(t, err)
		err = p.Run(SignalInput{Signal: []float64{1, 1}},
			OpenInput{OrderPrice: []float64{-1, 10}})
		require.Error(t, err)
		assert.True(t, IsConfigError(err))
	})
}

// 限价成交价必在当根 [low, high] 内，市价成交价等于滑点修正后的上一收盘。
func TestPipeline_FillPriceBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Slippage = 0.001
	closes := []float64{10, 12, 9, 14, 11, 8, 13, 10, 12, 9}
	sig := []float64{1, -1, 1, 1, -1, 1, -1, -1, 1, nan()}
	f := runPipeline(t, newTestFrame(closes), cfg, SignalInput{Signal: sig}, OpenInput{})

	tradePrice := f.Col(ColTradePrice)
	for i, p := range tradePrice {
		if math.IsNaN(p) {
			continue
		}
		prevClose := closes[i-1]
		marketBuy := prevClose * (1 + cfg.Slippage)
		marketSell := prevClose * (1 - cfg.Slippage)
		inBar := f.Low[i] <= p && p <= f.High[i]
		isMarket := p == marketBuy || p == marketSell
		assert.True(t, inBar || isMarket, "trade_price[%d]=%v outside bar and not a market fill", i, p)
	}
}

// 平仓连段内成交量的累计恒等于该行持仓。
func TestPipeline_PositionConservation(t *testing.T) {
	closes := []float64{10, 12, 9, 14, 11, 8, 13, 10, 12, 9, 11, 13}
	sig := []float64{nan(), 1, 1, -1, -1, 1, nan(), -1, -1, 1, 1, nan()}
	f := runPipeline(t, newTestFrame(closes), DefaultConfig(), SignalInput{Signal: sig}, OpenInput{})

	tradeSize := f.Col(ColTradeSize)
	position := f.Col(ColPosition)
	sum := 0.0
	for i := range tradeSize {
		if !math.IsNaN(tradeSize[i]) {
			sum += tradeSize[i]
		}
		assert.InDelta(t, sum, position[i], 1e-9, "position[%d]", i)
	}
}

// 翻转行的持仓方向与新方向一致（或恰好归零）。
func TestPipeline_FlipSign(t *testing.T) {
	closes := []float64{10, 12, 9, 14, 11, 8, 13, 10}
	sig := []float64{1, 1, -1, -1, 1, -1, 1, nan()}
	f := runPipeline(t, newTestFrame(closes), DefaultConfig(), SignalInput{Signal: sig}, OpenInput{})

	tradeSize := f.Col(ColTradeSize)
	position := f.Col(ColPosition)
	prevSide := math.NaN()
	for i := range tradeSize {
		if math.IsNaN(tradeSize[i]) {
			continue
		}
		side := frame.Sign(tradeSize[i])
		if !math.IsNaN(prevSide) && side != prevSide {
			posSide := frame.Sign(position[i])
			assert.True(t, posSide == side || posSide == 0,
				"flip at row %d: position=%v side=%v", i, position[i], side)
		}
		prevSide = side
	}
}

// 同一输入重复运行，产出逐字节一致。
func TestPipeline_Deterministic(t *testing.T) {
	closes := []float64{10, 12, 9, 14, 11, 8, 13, 10, 12, 9}
	sig := []float64{nan(), 1, 1, -1, nan(), 1, -1, -1, 1, 1}
	cfg := DefaultConfig()
	cfg.Slippage = 0.0005
	cfg.StopLoss = 0.1

	a := runPipeline(t, newTestFrame(closes), cfg, SignalInput{Signal: sig}, OpenInput{})
	b := runPipeline(t, newTestFrame(closes), cfg, SignalInput{Signal: sig}, OpenInput{})

	require.Equal(t, a.Columns(), b.Columns())
	for _, name := range a.Columns() {
		ca, cb := a.Col(name), b.Col(name)
		require.Len(t, cb, len(ca))
		for i := range ca {
			bitsA := math.Float64bits(ca[i])
			bitsB := math.Float64bits(cb[i])
			assert.Equal(t, bitsA, bitsB, "column %s row %d", name, i)
		}
	}
}

// 多个 (product, resolution) 分组互不串扰，连段在分组边界重新计数。
func TestPipeline_GroupIsolation(t *testing.T) {
	f := frame.New(8)
	for i, c := range []float64{10, 10, 11, 12} {
		f.AppendBar(int64(i+1)*60000, "ETHUSDT", "1m", c, c+1, c-1, c, 100)
	}
	for i, c := range []float64{20, 20, 21, 22} {
		f.AppendBar(int64(i+1)*60000, "BTCUSDT", "1m", c, c+1, c-1, c, 100)
	}
	f.SortByIndex()
	// 排序后 BTCUSDT 在前。
	sig := []float64{nan(), 1, 1, 1, nan(), 1, 1, 1}

	p, err := NewPipeline(f, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, p.Run(SignalInput{Signal: sig}, OpenInput{}))

	assertSeries(t, []float64{nan(), 1, 1, 1, nan(), 1, 1, 1}, f.Col(ColSignalStreak), ColSignalStreak)
	assertSeries(t, []float64{0, 0, 1, 2, 0, 0, 1, 2}, f.Col(ColPosition), ColPosition)
}

// 并行分块执行与串行执行产出逐字节一致。
func TestRunVectorized_ParallelMatchesSerial(t *testing.T) {
	build := func() *frame.Frame {
		f := frame.New(12)
		for g, product := range []string{"ADAUSDT", "BTCUSDT", "ETHUSDT"} {
			base := float64(10 * (g + 1))
			for i, d := range []float64{0, 0, 1, 2} {
				c := base + d
				f.AppendBar(int64(i+1)*60000, product, "1m", c, c+1, c-1, c, 100)
			}
		}
		f.SortByIndex()
		return f
	}
	sig := make([]float64, 12)
	for i := range sig {
		if i%4 == 0 {
			sig[i] = nan()
		} else {
			sig[i] = 1
		}
	}

	serial, err := RunVectorized(context.Background(), build(), DefaultConfig(), SignalInput{Signal: sig}, OpenInput{}, 1)
	require.NoError(t, err)
	parallel, err := RunVectorized(context.Background(), build(), DefaultConfig(), SignalInput{Signal: sig}, OpenInput{}, 3)
	require.NoError(t, err)

	require.Equal(t, serial.Len(), parallel.Len())
	assert.Equal(t, serial.Product, parallel.Product)
	for _, name := range ResultColumns {
		assertSeries(t, serial.Col(name), parallel.Col(name), name)
	}
}

// 长仓模式下反向信号只平仓不反手。
func TestPipeline_LongOnlyClosesWithoutFlip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LongOnly = true
	f := runPipeline(t, newTestFrame([]float64{10, 10, 11, 12, 11, 10}), cfg,
		SignalInput{Signal: []float64{nan(), 1, 1, 1, -1, -1}}, OpenInput{})

	position := f.Col(ColPosition)
	for i, v := range position {
		assert.GreaterOrEqual(t, v, 0.0, "position[%d]", i)
	}
	assert.Equal(t, 0.0, position[len(position)-1])
}
