package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vecbt/internal/market"
)

func candleAt(ts int64, close float64) market.Candle {
	return market.Candle{
		OpenTime:  ts,
		CloseTime: ts + 59_999,
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    10,
		Trades:    5,
	}
}

func TestStoreInsertAndQuery(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	step := int64(60_000)
	base := (int64(1_700_000_000_000) / step) * step

	candles := []market.Candle{
		candleAt(base, 100),
		candleAt(base+step, 101),
		candleAt(base+3*step, 103),
	}
	n, err := store.InsertCandles(ctx, "btcusdt", "1m", candles)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	t.Run("Manifest Reflects Rows", func(t *testing.T) {
		m, err := store.Manifest(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		assert.Equal(t, "BTCUSDT", m.Symbol)
		assert.Equal(t, int64(3), m.Rows)
		assert.Equal(t, base, m.MinTime)
		assert.Equal(t, base+3*step, m.MaxTime)
	})

	t.Run("Upsert Overwrites Same OpenTime", func(t *testing.T) {
		_, err := store.InsertCandles(ctx, "BTCUSDT", "1m", []market.Candle{candleAt(base, 200)})
		require.NoError(t, err)
		got, err := store.RangeCandles(ctx, "BTCUSDT", "1m", base, base)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 200.0, got[0].Close)

		m, err := store.Manifest(ctx, "BTCUSDT", "1m")
		require.NoError(t, err)
		assert.Equal(t, int64(3), m.Rows)
	})

	t.Run("Range Is Inclusive And Ordered", func(t *testing.T) {
		got, err := store.RangeCandles(ctx, "BTCUSDT", "1m", base, base+3*step)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, base, got[0].OpenTime)
		assert.Equal(t, base+3*step, got[2].OpenTime)
	})

	t.Run("Query Without Range Returns Latest Ascending", func(t *testing.T) {
		got, err := store.QueryCandles(ctx, "BTCUSDT", "1m", 0, 0, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, base+step, got[0].OpenTime)
		assert.Equal(t, base+3*step, got[1].OpenTime)
	})
}

func TestStoreCheckIntegrity(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	tf, err := ParseTimeframe("1m")
	require.NoError(t, err)
	step := tf.durationMillis()
	base := (int64(1_700_000_000_000) / step) * step

	_, err = store.InsertCandles(ctx, "ETHUSDT", "1m", []market.Candle{
		candleAt(base, 100),
		candleAt(base+step, 101),
		candleAt(base+3*step, 103),
	})
	require.NoError(t, err)

	t.Run("Reports Gaps", func(t *testing.T) {
		report, err := store.CheckIntegrity(ctx, "ETHUSDT", "1m", tf, base, base+4*step)
		require.NoError(t, err)
		assert.Equal(t, int64(5), report.Expected)
		assert.Equal(t, int64(3), report.Present)
		require.Len(t, report.Gaps, 2)
		assert.Equal(t, Gap{From: base + 2*step, To: base + 2*step}, report.Gaps[0])
		assert.Equal(t, Gap{From: base + 4*step, To: base + 4*step}, report.Gaps[1])
		assert.False(t, report.Complete())
	})

	t.Run("Complete Range", func(t *testing.T) {
		report, err := store.CheckIntegrity(ctx, "ETHUSDT", "1m", tf, base, base+step)
		require.NoError(t, err)
		assert.True(t, report.Complete())
		assert.Empty(t, report.Gaps)
	})
}
