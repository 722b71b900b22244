package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", `
app:
  env: prod
data:
  dir: /tmp/candles
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9992", cfg.App.HTTPAddr)
	assert.Equal(t, "/tmp/candles", cfg.Data.Dir)
	assert.Equal(t, "binance", cfg.Data.DefaultExchange)
	assert.Equal(t, 1.0, cfg.Engine.FillRatio)
	assert.Equal(t, "vectorized", cfg.Engine.Closing)
	assert.Equal(t, 10000.0, cfg.Simulator.InitialBalance)
	require.Len(t, cfg.Market.Sources, 1)
	assert.Equal(t, "binance", cfg.Market.ResolveActiveSource().Name)
}

func TestLoadMergesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "base.yaml", `
engine:
  slippage: 0.001
  stop_loss: 0.02
`)
	path := writeConfig(t, dir, "config.yaml", `
include:
  - base.yaml
engine:
  stop_loss: 0.05
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	// 包含文件先合并，主文件覆盖。
	assert.Equal(t, 0.001, cfg.Engine.Slippage)
	assert.Equal(t, 0.05, cfg.Engine.StopLoss)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()

	t.Run("Bad Fill Ratio", func(t *testing.T) {
		path := writeConfig(t, dir, "fill.yaml", "engine:\n  fill_ratio: 1.5\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "engine.fill_ratio")
	})

	t.Run("Long And Short Only", func(t *testing.T) {
		path := writeConfig(t, dir, "sides.yaml", "engine:\n  long_only: true\n  short_only: true\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mutually exclusive")
	})

	t.Run("Bad Log Level", func(t *testing.T) {
		path := writeConfig(t, dir, "log.yaml", "app:\n  log_level: verbose\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "app.log_level")
	})

	t.Run("Include Cycle", func(t *testing.T) {
		sub := t.TempDir()
		writeConfig(t, sub, "a.yaml", "include:\n  - b.yaml\n")
		writeConfig(t, sub, "b.yaml", "include:\n  - a.yaml\n")
		_, err := Load(filepath.Join(sub, "a.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "include cycle")
	})
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("15m"))
	assert.True(t, IsValidInterval("4h"))
	assert.False(t, IsValidInterval("h"))
	assert.False(t, IsValidInterval("15x"))
	assert.False(t, IsValidInterval(""))
}
