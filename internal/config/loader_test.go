package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/dynamo.yaml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/dynamo.yaml", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		cfg, err := NewLoader(filepath.Join(t.TempDir(), "nonexistent.json")).Load()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("defaults without path", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("json file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "dynamo.json")
		content := `{
			"simulation": {"steps": 7, "tick": "250ms", "drain_policy": "span"},
			"executor": {"workers": 3}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Simulation.Steps)
		assert.Equal(t, 250*time.Millisecond, cfg.Simulation.Tick)
		assert.Equal(t, "span", cfg.Simulation.DrainPolicy)
		assert.Equal(t, 3, cfg.Executor.Workers)
		assert.Equal(t, "info", cfg.Logging.Level, "unset keys keep defaults")
	})

	t.Run("yaml file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "dynamo.yaml")
		content := "simulation:\n  barrier_timeout: 2s\n  seed: 42\nmetrics:\n  enabled: true\n  addr: \":9000\"\n"
		require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, cfg.Simulation.BarrierTimeout)
		assert.Equal(t, uint64(42), cfg.Simulation.Seed)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, ":9000", cfg.Metrics.Addr)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("DYNAMO_SIMULATION_STEPS", "12")
		t.Setenv("DYNAMO_LOGGING_LEVEL", "debug")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, 12, cfg.Simulation.Steps)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("invalid file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "dynamo.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}
