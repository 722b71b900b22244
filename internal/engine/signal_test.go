package engine

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecbt/internal/frame"
)

func nan() float64 { return math.NaN() }

func newTestFrame(closes []float64) *frame.Frame {
	f := frame.New(len(closes))
	for i, c := range closes {
		f.AppendBar(int64(i+1)*60000, "BTCUSDT", "1m", c, c+1, c-1, c, 100)
	}
	return f
}

func assertSeries(t *testing.T, want, got []float64, name string) {
	t.Helper()
	require.Len(t, got, len(want), name)
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "%s[%d]: want NaN, got %v", name, i, got[i])
			continue
		}
		assert.InDelta(t, want[i], got[i], 1e-9, "%s[%d]", name, i)
	}
}

func TestCreateSignal_Streaks(t *testing.T) {
	f := newTestFrame([]float64{10, 10, 11, 12, 11, 10})
	cfg := DefaultConfig()
	sig := []float64{nan(), 1, 1, 1, -1, -1}
	require.NoError(t, CreateSignal(f, cfg, SignalInput{Signal: sig}))

	assertSeries(t, []float64{nan(), 1, 1, 1, -1, -1}, f.Col(ColSignal), ColSignal)
	assertSeries(t, []float64{nan(), 1, 1, 1, 2, 2}, f.Col(ColSignalStreak), ColSignalStreak)
}

func TestCreateSignal_StreakMonotone(t *testing.T) {
	f := newTestFrame([]float64{10, 11, 12, 11, 10, 11, 12, 11})
	sig := []float64{nan(), 1, nan(), -1, -1, 1, nan(), nan()}
	require.NoError(t, CreateSignal(f, DefaultConfig(), SignalInput{Signal: sig}))

	streak := f.Col(ColSignalStreak)
	prev := math.Inf(-1)
	for i, v := range streak {
		if math.IsNaN(v) {
			continue
		}
		assert.GreaterOrEqual(t, v, prev, "streak must be non-decreasing at row %d", i)
		prev = v
	}
	// 前向填充后取值变化的行恰好是连段边界。
	assertSeries(t, []float64{nan(), 1, 1, 2, 2, 3, 3, 3}, streak, ColSignalStreak)
}

func TestCreateSignal_Conditions(t *testing.T) {
	f := newTestFrame([]float64{10, 11, 12, 13})
	buy := []bool{false, true, false, false}
	sell := []bool{false, false, false, true}
	require.NoError(t, CreateSignal(f, DefaultConfig(), SignalInput{Buy: buy, Sell: sell}))

	assertSeries(t, []float64{nan(), 1, nan(), -1}, f.Col(ColSignal), ColSignal)
	assertSeries(t, []float64{nan(), 1, 1, 2}, f.Col(ColSignalStreak), ColSignalStreak)
}

func TestCreateSignal_OverlappingConditions(t *testing.T) {
	f := newTestFrame([]float64{10, 11})
	err := CreateSignal(f, DefaultConfig(), SignalInput{
		Buy:  []bool{false, true},
		Sell: []bool{false, true},
	})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Contains(t, err.Error(), "buy_condition")
}

func TestCreateSignal_NoInput(t *testing.T) {
	f := newTestFrame([]float64{10, 11})
	err := CreateSignal(f, DefaultConfig(), SignalInput{})
	require.ErrorIs(t, err, ErrNoSignalInput)
	assert.True(t, IsStructuralError(err))
}

func TestCreateSignal_InvalidValue(t *testing.T) {
	f := newTestFrame([]float64{10, 11})
	err := CreateSignal(f, DefaultConfig(), SignalInput{Signal: []float64{1, 2}})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestCreateSignal_FirstOnly(t *testing.T) {
	f := newTestFrame([]float64{10, 10, 11, 12, 11, 10})
	sig := []float64{nan(), 1, 1, 1, -1, -1}
	require.NoError(t, CreateSignal(f, DefaultConfig(), SignalInput{Signal: sig, FirstOnly: true}))

	// 每个连段只保留第一个信号值。
	assertSeries(t, []float64{nan(), 1, nan(), nan(), -1, nan()}, f.Col(ColSignal), ColSignal)
	assertSeries(t, []float64{nan(), 1, 1, 1, 2, 2}, f.Col(ColSignalStreak), ColSignalStreak)
}

func TestCreateSignal_NaNAsDistinctStreak(t *testing.T) {
	f := newTestFrame([]float64{10, 11, 12, 13, 14})
	cfg := DefaultConfig()
	cfg.NaNSignal = true
	sig := []float64{1, nan(), 1, 1, -1}
	require.NoError(t, CreateSignal(f, cfg, SignalInput{Signal: sig}))

	// 缺失信号算独立连段：1 → 缺失 → 1 是三个连段。
	assertSeries(t, []float64{1, 2, 3, 3, 4}, f.Col(ColSignalStreak), ColSignalStreak)
}
