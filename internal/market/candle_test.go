package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandleValid(t *testing.T) {
	base := Candle{
		OpenTime:  1_700_000_000_000,
		CloseTime: 1_700_000_059_999,
		Open:      100,
		High:      105,
		Low:       98,
		Close:     102,
		Volume:    12.5,
		Trades:    42,
	}
	assert.True(t, base.Valid())

	t.Run("bad time range", func(t *testing.T) {
		c := base
		c.CloseTime = c.OpenTime - 1
		assert.False(t, c.Valid())

		c = base
		c.OpenTime = 0
		assert.False(t, c.Valid())
	})

	t.Run("price out of range", func(t *testing.T) {
		c := base
		c.High = 97
		assert.False(t, c.Valid())

		c = base
		c.Close = 200
		assert.False(t, c.Valid())

		c = base
		c.Low = 0
		assert.False(t, c.Valid())
	})

	t.Run("negative volume", func(t *testing.T) {
		c := base
		c.Volume = -1
		assert.False(t, c.Valid())
	})
}
