package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfiles = `
profiles:
  trend_btc:
    strategy: SMA_Cross
    params:
      fast: 10
      slow: 30
    symbols: [btcusdt, ethusdt]
    intervals: [1H, 4h]
    initial_balance: 5000
    default: true
  revert_eth:
    strategy: rsi_revert
    symbols: [ETHUSDT]
    intervals: [15m]
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestProfileLoader(t *testing.T) {
	loader, err := NewProfileLoader(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	snap := loader.Snapshot()
	require.Len(t, snap.Profiles, 2)
	assert.Equal(t, int64(1), snap.Version)

	t.Run("Normalizes Strategy Symbols And Intervals", func(t *testing.T) {
		def, ok := loader.Profile("trend_btc")
		require.True(t, ok)
		assert.Equal(t, "sma_cross", def.Strategy)
		assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, def.SymbolsUpper())
		assert.Equal(t, []string{"1h", "4h"}, def.IntervalsLower())
		assert.Equal(t, "BTCUSDT", def.DefaultSymbol())
		assert.Equal(t, "1h", def.DefaultInterval())
		assert.Equal(t, 5000.0, def.InitialBalance)
	})

	t.Run("Default Profile", func(t *testing.T) {
		def, ok := snap.Default()
		require.True(t, ok)
		assert.Equal(t, "trend_btc", def.Name)
	})

	t.Run("Unknown Profile", func(t *testing.T) {
		_, ok := loader.Profile("missing")
		assert.False(t, ok)
	})
}

func TestProfileLoaderRejectsBadInput(t *testing.T) {
	t.Run("Missing Strategy", func(t *testing.T) {
		_, err := NewProfileLoader(writeProfiles(t, "profiles:\n  broken:\n    symbols: [BTCUSDT]\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing strategy")
	})

	t.Run("Unknown Field", func(t *testing.T) {
		_, err := NewProfileLoader(writeProfiles(t, "profiles:\n  broken:\n    strategy: sma_cross\n    bogus: 1\n"))
		require.Error(t, err)
	})

	t.Run("Empty Path", func(t *testing.T) {
		_, err := NewProfileLoader("  ")
		require.Error(t, err)
	})
}
