package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/brettbedarf/fsracer/internal/util"
)

// Default configuration constants. See [Config] for field descriptions.
const (
	// DefaultRounds is the number of stress rounds, each followed by a
	// quiescence barrier and a verification pass
	DefaultRounds = 4

	// DefaultOpsPerRound is the number of operations each worker issues per round
	DefaultOpsPerRound = 1000

	// DefaultInitialDepth is the depth of the seeded directory tree
	DefaultInitialDepth = 5

	// DefaultInitialFanout is the number of sibling directories per seeded level
	DefaultInitialFanout = 3

	// DefaultReconcileWindowMs bounds how long a committed executor outcome
	// may lag its model update before the verifier treats it as a real orphan
	DefaultReconcileWindowMs = 2000

	// DefaultBackend is the executor backend name registered in package adapters
	DefaultBackend = "memory"

	// DefaultChaosDelayRate is the probability a chaos-wrapped executor call
	// is delayed
	DefaultChaosDelayRate = 0.2

	// DefaultChaosMaxDelayMs is the upper bound of one injected delay
	DefaultChaosMaxDelayMs = 5

	// DefaultChaosErrorRate is the probability of an injected errno failure
	DefaultChaosErrorRate = 0.02

	// DefaultChaosInterruptRate is the probability an operation's outcome is
	// discarded after it executed (the divergence class the recovery pass
	// must close)
	DefaultChaosInterruptRate = 0.0
)

// Config contains runtime configuration for a stress run.
type Config struct {
	Workers     int   // Number of concurrent workers (Default: one per CPU)
	Rounds      int   // Stress rounds per run (Default 4)
	OpsPerRound int   // Operations per worker per round (Default 1000)
	Seed        int64 // Base RNG seed; 0 derives one from the clock

	InitialDepth  int // Depth of the seeded directory tree (Default 5)
	InitialFanout int // Sibling directories per seeded level (Default 3)

	ReconcileWindowMs int // Reconciliation window in milliseconds (Default 2000)

	Backend     string // Executor backend: memory, osfs, fuse (Default memory)
	BackendPath string // Root directory for the osfs backend / mountpoint for fuse
	FuseBacking string // Backing directory behind the fuse loopback mount

	ChaosEnabled       bool    // Wrap the executor in the chaos disruptor
	ChaosDelayRate     float64 // Probability of an injected delay per call (Default 0.2)
	ChaosMaxDelayMs    int     // Maximum injected delay in milliseconds (Default 5)
	ChaosErrorRate     float64 // Probability of an injected errno failure (Default 0.02)
	ChaosInterruptRate float64 // Probability of a lost-outcome injection (Default 0)

	ReportPath string // Optional path for the aggregated report artifact

	LogLvl util.LogLevel // Logging verbosity (Default InfoLevel)
}

// ReconcileWindow returns the reconciliation window as a duration.
func (c *Config) ReconcileWindow() time.Duration {
	return time.Duration(c.ReconcileWindowMs) * time.Millisecond
}

// ChaosMaxDelay returns the maximum injected delay as a duration.
func (c *Config) ChaosMaxDelay() time.Duration {
	return time.Duration(c.ChaosMaxDelayMs) * time.Millisecond
}

// ConfigOverride uses pointer fields to distinguish between unset and zero
// values when loading partial configuration. See [Config] for field
// descriptions.
type ConfigOverride struct {
	Workers     *int   `yaml:"workers,omitempty" json:"workers,omitempty"`
	Rounds      *int   `yaml:"rounds,omitempty" json:"rounds,omitempty"`
	OpsPerRound *int   `yaml:"ops_per_round,omitempty" json:"ops_per_round,omitempty"`
	Seed        *int64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	InitialDepth  *int `yaml:"initial_depth,omitempty" json:"initial_depth,omitempty"`
	InitialFanout *int `yaml:"initial_fanout,omitempty" json:"initial_fanout,omitempty"`

	ReconcileWindowMs *int `yaml:"reconcile_window_ms,omitempty" json:"reconcile_window_ms,omitempty"`

	Backend     *string `yaml:"backend,omitempty" json:"backend,omitempty"`
	BackendPath *string `yaml:"backend_path,omitempty" json:"backend_path,omitempty"`
	FuseBacking *string `yaml:"fuse_backing,omitempty" json:"fuse_backing,omitempty"`

	ChaosEnabled       *bool    `yaml:"chaos_enabled,omitempty" json:"chaos_enabled,omitempty"`
	ChaosDelayRate     *float64 `yaml:"chaos_delay_rate,omitempty" json:"chaos_delay_rate,omitempty"`
	ChaosMaxDelayMs    *int     `yaml:"chaos_max_delay_ms,omitempty" json:"chaos_max_delay_ms,omitempty"`
	ChaosErrorRate     *float64 `yaml:"chaos_error_rate,omitempty" json:"chaos_error_rate,omitempty"`
	ChaosInterruptRate *float64 `yaml:"chaos_interrupt_rate,omitempty" json:"chaos_interrupt_rate,omitempty"`

	ReportPath *string `yaml:"report_path,omitempty" json:"report_path,omitempty"`

	LogLvl *util.LogLevel `yaml:"log_level,omitempty" json:"log_level,omitempty"`
}

// NewDefaultConfig creates a new Config with all default values.
func NewDefaultConfig() *Config {
	return &Config{
		Workers:            runtime.NumCPU(),
		Rounds:             DefaultRounds,
		OpsPerRound:        DefaultOpsPerRound,
		InitialDepth:       DefaultInitialDepth,
		InitialFanout:      DefaultInitialFanout,
		ReconcileWindowMs:  DefaultReconcileWindowMs,
		Backend:            DefaultBackend,
		ChaosDelayRate:     DefaultChaosDelayRate,
		ChaosMaxDelayMs:    DefaultChaosMaxDelayMs,
		ChaosErrorRate:     DefaultChaosErrorRate,
		ChaosInterruptRate: DefaultChaosInterruptRate,
		LogLvl:             util.InfoLevel,
	}
}

// NewConfig creates a Config from defaults with an optional override applied.
func NewConfig(override *ConfigOverride) *Config {
	cfg := NewDefaultConfig()
	if override != nil {
		cfg.Merge(override)
	}
	return cfg
}

// Merge applies non-nil values from override onto this Config.
// This allows partial configuration updates while preserving existing values.
func (c *Config) Merge(override *ConfigOverride) {
	if override.Workers != nil {
		c.Workers = *override.Workers
	}
	if override.Rounds != nil {
		c.Rounds = *override.Rounds
	}
	if override.OpsPerRound != nil {
		c.OpsPerRound = *override.OpsPerRound
	}
	if override.Seed != nil {
		c.Seed = *override.Seed
	}
	if override.InitialDepth != nil {
		c.InitialDepth = *override.InitialDepth
	}
	if override.InitialFanout != nil {
		c.InitialFanout = *override.InitialFanout
	}
	if override.ReconcileWindowMs != nil {
		c.ReconcileWindowMs = *override.ReconcileWindowMs
	}
	if override.Backend != nil {
		c.Backend = *override.Backend
	}
	if override.BackendPath != nil {
		c.BackendPath = *override.BackendPath
	}
	if override.FuseBacking != nil {
		c.FuseBacking = *override.FuseBacking
	}
	if override.ChaosEnabled != nil {
		c.ChaosEnabled = *override.ChaosEnabled
	}
	if override.ChaosDelayRate != nil {
		c.ChaosDelayRate = *override.ChaosDelayRate
	}
	if override.ChaosMaxDelayMs != nil {
		c.ChaosMaxDelayMs = *override.ChaosMaxDelayMs
	}
	if override.ChaosErrorRate != nil {
		c.ChaosErrorRate = *override.ChaosErrorRate
	}
	if override.ChaosInterruptRate != nil {
		c.ChaosInterruptRate = *override.ChaosInterruptRate
	}
	if override.ReportPath != nil {
		c.ReportPath = *override.ReportPath
	}
	if override.LogLvl != nil {
		c.LogLvl = *override.LogLvl
	}
}

// LoadConfigOverrideFile loads configuration overrides from a file without
// merging. Supports YAML (.yaml, .yml) and JSON (.json); JSON may carry
// comments and trailing commas, which are standardized away before decoding.
func LoadConfigOverrideFile(path string) (*ConfigOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var override ConfigOverride

	// Determine format by file extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	case ".json":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("failed to standardize config file: %w", err)
		}
		if err := json.Unmarshal(std, &override); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown config file extension: %s", path)
	}

	return &override, nil
}

// NewConfigFromFile creates a new Config by merging file overrides with defaults.
func NewConfigFromFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	override, err := LoadConfigOverrideFile(path)
	if err != nil {
		return nil, err
	}
	cfg.Merge(override)
	return cfg, nil
}

// EnvOverride builds an override from FSRACER_* environment variables.
// Unparseable values are skipped rather than fatal.
func EnvOverride() *ConfigOverride {
	var o ConfigOverride
	if v, ok := envInt("FSRACER_WORKERS"); ok {
		o.Workers = &v
	}
	if v, ok := envInt("FSRACER_ROUNDS"); ok {
		o.Rounds = &v
	}
	if v, ok := envInt("FSRACER_OPS_PER_ROUND"); ok {
		o.OpsPerRound = &v
	}
	if v, ok := envInt64("FSRACER_SEED"); ok {
		o.Seed = &v
	}
	if v, ok := envInt("FSRACER_RECONCILE_WINDOW_MS"); ok {
		o.ReconcileWindowMs = &v
	}
	if v, ok := os.LookupEnv("FSRACER_BACKEND"); ok && v != "" {
		o.Backend = &v
	}
	if v, ok := os.LookupEnv("FSRACER_BACKEND_PATH"); ok && v != "" {
		o.BackendPath = &v
	}
	if v, ok := envBool("FSRACER_CHAOS"); ok {
		o.ChaosEnabled = &v
	}
	if v, ok := os.LookupEnv("FSRACER_REPORT"); ok && v != "" {
		o.ReportPath = &v
	}
	return &o
}

func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envInt64(key string) (int64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
