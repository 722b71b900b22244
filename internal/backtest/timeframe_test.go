package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	t.Run("Known Keys", func(t *testing.T) {
		tf, err := ParseTimeframe("1h")
		require.NoError(t, err)
		assert.Equal(t, "1h", tf.Key)
		assert.Equal(t, time.Hour, tf.Duration)
		assert.Equal(t, "1h", tf.SourceInterval)
	})

	t.Run("Normalizes Case And Whitespace", func(t *testing.T) {
		tf, err := ParseTimeframe("  4H ")
		require.NoError(t, err)
		assert.Equal(t, "4h", tf.Key)
	})

	t.Run("Weekly Maps To Source Interval", func(t *testing.T) {
		tf, err := ParseTimeframe("7d")
		require.NoError(t, err)
		assert.Equal(t, "1w", tf.SourceInterval)
	})

	t.Run("Unknown Key", func(t *testing.T) {
		_, err := ParseTimeframe("2h")
		assert.Error(t, err)
	})
}

func TestAlignRange(t *testing.T) {
	tf, err := ParseTimeframe("1m")
	require.NoError(t, err)
	step := int64(60_000)

	t.Run("Aligns Down To Grid", func(t *testing.T) {
		start, end := tf.AlignRange(step+1, 3*step+59_999)
		assert.Equal(t, step, start)
		assert.Equal(t, 3*step, end)
	})

	t.Run("Swaps Reversed Range", func(t *testing.T) {
		start, end := tf.AlignRange(5*step, 2*step)
		assert.Equal(t, 2*step, start)
		assert.Equal(t, 5*step, end)
	})

	t.Run("Already Aligned", func(t *testing.T) {
		start, end := tf.AlignRange(10*step, 10*step)
		assert.Equal(t, start, end)
	})
}

func TestExpectedCandles(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)
	step := int64(300_000)

	assert.Equal(t, int64(1), tf.ExpectedCandles(0, 0))
	assert.Equal(t, int64(4), tf.ExpectedCandles(0, 3*step))
	assert.Equal(t, int64(0), tf.ExpectedCandles(step, 0))
}

func TestSupportedTimeframes(t *testing.T) {
	keys := SupportedTimeframes()
	require.NotEmpty(t, keys)
	assert.Contains(t, keys, "1m")
	assert.Contains(t, keys, "1d")
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}
