package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/fsracer/internal/util"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, DefaultRounds, cfg.Rounds)
	assert.Equal(t, DefaultOpsPerRound, cfg.OpsPerRound)
	assert.Equal(t, DefaultBackend, cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.ReconcileWindow())
	assert.Equal(t, 5*time.Millisecond, cfg.ChaosMaxDelay())
	assert.Positive(t, cfg.Workers)
}

func TestConfig_Merge(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Merge(&ConfigOverride{
		Workers: util.Pointer(7),
		Seed:    util.Pointer(int64(42)),
		Backend: util.Pointer("osfs"),
		// zero values must still override when explicitly set
		ChaosErrorRate: util.Pointer(0.0),
	})

	assert.Equal(t, 7, cfg.Workers)
	assert.EqualValues(t, 42, cfg.Seed)
	assert.Equal(t, "osfs", cfg.Backend)
	assert.Zero(t, cfg.ChaosErrorRate)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultRounds, cfg.Rounds)
}

func TestNewConfigFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
workers: 3
rounds: 2
seed: 99
backend: osfs
backend_path: /tmp/fsracer
chaos_enabled: true
chaos_interrupt_rate: 0.1
`), 0o644))

	cfg, err := NewConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 2, cfg.Rounds)
	assert.EqualValues(t, 99, cfg.Seed)
	assert.Equal(t, "osfs", cfg.Backend)
	assert.Equal(t, "/tmp/fsracer", cfg.BackendPath)
	assert.True(t, cfg.ChaosEnabled)
	assert.InDelta(t, 0.1, cfg.ChaosInterruptRate, 1e-9)
	assert.Equal(t, DefaultOpsPerRound, cfg.OpsPerRound)
}

func TestNewConfigFromFile_JSONWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  // tuned for the overnight soak
  "workers": 12,
  "ops_per_round": 5000,
  "chaos_enabled": true,
}`), 0o644))

	cfg, err := NewConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Workers)
	assert.Equal(t, 5000, cfg.OpsPerRound)
	assert.True(t, cfg.ChaosEnabled)
}

func TestNewConfigFromFile_Errors(t *testing.T) {
	_, err := NewConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = 3"), 0o644))
	_, err = NewConfigFromFile(path)
	assert.ErrorContains(t, err, "unknown config file extension")
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("FSRACER_WORKERS", "5")
	t.Setenv("FSRACER_SEED", "1234")
	t.Setenv("FSRACER_CHAOS", "true")
	t.Setenv("FSRACER_BACKEND", "memory")
	t.Setenv("FSRACER_ROUNDS", "not-a-number")

	cfg := NewDefaultConfig()
	cfg.Merge(EnvOverride())
	assert.Equal(t, 5, cfg.Workers)
	assert.EqualValues(t, 1234, cfg.Seed)
	assert.True(t, cfg.ChaosEnabled)
	assert.Equal(t, "memory", cfg.Backend)
	// unparseable values are skipped, not fatal
	assert.Equal(t, DefaultRounds, cfg.Rounds)
}
