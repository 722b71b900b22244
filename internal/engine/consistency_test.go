package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecbt/internal/frame"
)

// 同一信号序列分别喂给批量与增量两条管线，再用 oracle 对齐。
func runBothModes(t *testing.T, closes, sig []float64, cfg Config, firstOnly bool) (*frame.Frame, *Incremental) {
	t.Helper()
	f := newTestFrame(closes)
	p, err := NewPipeline(f, cfg)
	require.NoError(t, err)
	require.NoError(t, p.Run(SignalInput{Signal: sig, FirstOnly: firstOnly}, OpenInput{}))

	inc, err := NewIncremental(cfg, firstOnly)
	require.NoError(t, err)
	for i, c := range closes {
		_, err := inc.Step(Bar{
			TS:     int64(i+1) * 60000,
			Open:   c, High: c + 1, Low: c - 1, Close: c,
			Volume: 100,
		}, BarInput{Signal: sig[i], OrderPrice: nan(), OrderQty: nan()})
		require.NoError(t, err)
	}
	return f, inc
}

func TestConsistency_BatchVsIncremental(t *testing.T) {
	closes := []float64{10, 12, 9, 14, 11, 8, 13, 10, 12, 9, 11, 13, 7, 15, 10}
	sig := []float64{nan(), 1, 1, -1, nan(), 1, -1, -1, 1, 1, nan(), -1, 1, nan(), -1}

	cases := []struct {
		name      string
		mutate    func(*Config)
		firstOnly bool
	}{
		{name: "Default"},
		{name: "First Only Signals", firstOnly: true},
		{name: "First Trade Only", mutate: func(c *Config) { c.FirstTradeOnly = true }},
		{name: "Long Only", mutate: func(c *Config) { c.LongOnly = true }},
		{name: "Short Only", mutate: func(c *Config) { c.ShortOnly = true }},
		{name: "NaN As Streak", mutate: func(c *Config) { c.NaNSignal = true }},
		{name: "Slippage", mutate: func(c *Config) { c.Slippage = 0.001 }},
		{name: "Stop Loss", mutate: func(c *Config) { c.StopLoss = 0.1 }},
		{name: "Take Profit", mutate: func(c *Config) { c.TakeProfit = 0.2 }},
		{name: "Stop Loss And Take Profit", mutate: func(c *Config) {
			c.StopLoss = 0.08
			c.TakeProfit = 0.15
		}},
		{name: "Partial Fill Ratio", mutate: func(c *Config) { c.FillRatio = 0.5 }},
		{name: "Ignore Sizing", mutate: func(c *Config) { c.IgnoreSizing = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tc.mutate != nil {
				tc.mutate(&cfg)
			}
			batch, inc := runBothModes(t, closes, sig, cfg, tc.firstOnly)
			assert.NoError(t, AssertConsistentSignals("sma_cross", batch, inc))
		})
	}
}

// 篡改批量产出的一列，oracle 必须点名分叉的策略、列与行号。
func TestConsistency_DetectsDivergence(t *testing.T) {
	closes := []float64{10, 10, 11, 12, 11, 10}
	sig := []float64{nan(), 1, 1, 1, -1, -1}
	batch, inc := runBothModes(t, closes, sig, DefaultConfig(), false)

	position := batch.Col(ColPosition)
	position[2] += 1

	err := AssertConsistentSignals("sma_cross", batch, inc)
	require.Error(t, err)
	assert.True(t, IsConsistencyError(err))
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "sma_cross", ce.Strategy)
	assert.Equal(t, ColPosition, ce.Column)
	assert.Equal(t, 2, ce.Row)
}

// 行数没有恰好相差一行时直接判为结构错误。
func TestConsistency_RowCountMismatch(t *testing.T) {
	closes := []float64{10, 10, 11, 12}
	sig := []float64{nan(), 1, 1, -1}
	batch, _ := runBothModes(t, closes, sig, DefaultConfig(), false)

	inc, err := NewIncremental(DefaultConfig(), false)
	require.NoError(t, err)
	_, err = inc.Step(Bar{TS: 1, Open: 10, High: 11, Low: 9, Close: 10, Volume: 100},
		BarInput{Signal: 1, OrderPrice: nan(), OrderQty: nan()})
	require.NoError(t, err)

	err = AssertConsistentSignals("sma_cross", batch, inc)
	require.Error(t, err)
	assert.True(t, IsStructuralError(err))
}

// NaN 只与 NaN 相等，数值按相对容差比较。
func TestCloseEnough(t *testing.T) {
	assert.True(t, closeEnough(math.NaN(), math.NaN()))
	assert.False(t, closeEnough(math.NaN(), 0))
	assert.True(t, closeEnough(1.0, 1.0+1e-9))
	assert.False(t, closeEnough(1.0, 1.001))
	assert.True(t, closeEnough(0, 0))
}

func TestIncremental_OverlappingConditions(t *testing.T) {
	inc, err := NewIncremental(DefaultConfig(), false)
	require.NoError(t, err)
	_, err = inc.Step(Bar{TS: 1, Open: 10, High: 11, Low: 9, Close: 10, Volume: 100},
		BarInput{UseConditions: true, Buy: true, Sell: true, OrderPrice: nan(), OrderQty: nan()})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
