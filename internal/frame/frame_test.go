package frame

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecbt/internal/market"
)

func sample() *Frame {
	f := New(6)
	for i, c := range []float64{20, 21, 22} {
		f.AppendBar(int64(i+1)*60000, "ETHUSDT", "1m", c, c+1, c-1, c, 50)
	}
	for i, c := range []float64{10, 11, 12} {
		f.AppendBar(int64(i+1)*60000, "BTCUSDT", "1m", c, c+1, c-1, c, 100)
	}
	return f
}

func TestFromCandles(t *testing.T) {
	candles := []market.Candle{
		{OpenTime: 1, Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 3},
		{OpenTime: 2, Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 4},
	}
	f := FromCandles("BTCUSDT", "1h", candles)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, "BTCUSDT", f.Product[0])
	assert.Equal(t, "1h", f.Resolution[1])
	assert.Equal(t, 11.0, f.Close[1])
}

func TestSortByIndexAndGroups(t *testing.T) {
	f := sample()
	require.NoError(t, f.SetCol("x", []float64{1, 2, 3, 4, 5, 6}))
	f.SortByIndex()

	// BTCUSDT 排在 ETHUSDT 之前，组内按时间升序。
	assert.Equal(t, "BTCUSDT", f.Product[0])
	assert.Equal(t, "ETHUSDT", f.Product[3])
	assert.Equal(t, []float64{4, 5, 6, 1, 2, 3}, f.Col("x"))

	groups := f.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, Group{Product: "BTCUSDT", Resolution: "1m", Start: 0, End: 3}, groups[0])
	assert.Equal(t, Group{Product: "ETHUSDT", Resolution: "1m", Start: 3, End: 6}, groups[1])
}

func TestAppendBarBackfillsColumns(t *testing.T) {
	f := sample()
	require.NoError(t, f.SetCol("x", []float64{1, 2, 3, 4, 5, 6}))
	f.AppendBar(7*60000, "BTCUSDT", "1m", 13, 14, 12, 13, 100)

	x := f.Col("x")
	require.Len(t, x, 7)
	assert.True(t, math.IsNaN(x[6]))
}

func TestSetColLengthMismatch(t *testing.T) {
	f := sample()
	assert.Error(t, f.SetCol("x", []float64{1}))
}

func TestDropCol(t *testing.T) {
	f := sample()
	require.NoError(t, f.SetCol("x", NaNs(6)))
	require.NoError(t, f.SetCol("y", NaNs(6)))
	f.DropCol("x")
	assert.False(t, f.HasCol("x"))
	assert.Equal(t, []string{"y"}, f.Columns())
}

func TestSliceSharesBacking(t *testing.T) {
	f := sample()
	f.SortByIndex()
	require.NoError(t, f.SetCol("x", []float64{1, 2, 3, 4, 5, 6}))

	v := f.Slice(0, 3)
	v.Col("x")[1] = 99
	assert.Equal(t, 99.0, f.Col("x")[1])
}

func TestConcatUnionsColumns(t *testing.T) {
	a := sample().Slice(0, 2)
	require.NoError(t, a.SetCol("only_a", []float64{1, 2}))
	b := sample().Slice(2, 5)
	require.NoError(t, b.SetCol("only_b", []float64{7, 8, 9}))

	out := Concat(a, b)
	require.Equal(t, 5, out.Len())
	assert.True(t, out.HasCol("only_a"))
	assert.True(t, out.HasCol("only_b"))
	assert.Equal(t, 1.0, out.Col("only_a")[0])
	assert.True(t, math.IsNaN(out.Col("only_a")[2]))
	assert.True(t, math.IsNaN(out.Col("only_b")[0]))
	assert.Equal(t, 7.0, out.Col("only_b")[2])
}

func TestChunksAlignToGroups(t *testing.T) {
	f := sample()
	f.SortByIndex()
	chunks := f.Chunks(4)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		for i := 1; i < c.Len(); i++ {
			assert.Equal(t, c.Product[0], c.Product[i], "chunk must hold one group per product run")
		}
	}
	total := 0
	for _, c := range chunks {
		total += c.Len()
	}
	assert.Equal(t, f.Len(), total)
}
