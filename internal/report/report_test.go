package report

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Run("Empty Input Fails", func(t *testing.T) {
		var buf bytes.Buffer
		require.Error(t, Render(&buf, Input{Title: "empty"}))
	})

	t.Run("Produces HTML With All Sections", func(t *testing.T) {
		in := Input{
			Title:    "BTCUSDT 1h",
			Subtitle: "sma_cross",
			Points: []Point{
				{TS: 60000, Equity: 10000, Drawdown: 0, Position: 0},
				{TS: 120000, Equity: 10100, Drawdown: 0, Position: 1},
				{TS: 180000, Equity: 10050, Drawdown: 0.5, Position: 1},
			},
			Trades: []Marker{
				{TS: 120000, Price: 100, Size: 1, Reason: "signal"},
				{TS: 180000, Price: 99, Size: -1, Reason: "close"},
			},
		}
		var buf bytes.Buffer
		require.NoError(t, Render(&buf, in))
		html := buf.String()
		assert.Contains(t, html, "BTCUSDT 1h")
		assert.Contains(t, html, "Drawdown")
		assert.Contains(t, html, "Position")
	})
}

func TestNearestIndex(t *testing.T) {
	points := []Point{{TS: 10}, {TS: 20}, {TS: 30}}
	assert.Equal(t, 0, nearestIndex(points, 5))
	assert.Equal(t, 1, nearestIndex(points, 20))
	assert.Equal(t, 2, nearestIndex(points, 25))
	assert.Equal(t, 2, nearestIndex(points, 99))
	assert.Equal(t, -1, nearestIndex(nil, 1))
}
