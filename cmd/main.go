package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/brettbedarf/fsracer/adapters"
	"github.com/brettbedarf/fsracer/config"
	"github.com/brettbedarf/fsracer/harness"
	"github.com/brettbedarf/fsracer/internal/util"
)

func main() {
	// Parse command line arguments
	var (
		configPath string
		verbose    int
		workers    int
		rounds     int
		ops        int
		seed       int64
		backend    string
		path       string
		fuseDir    string
		reportPath string
		chaos      bool
		interrupts float64
	)
	flag.StringVarP(&configPath, "config", "c", "", "Path to config file (.yaml/.yml/.json)")
	flag.IntVarP(&workers, "workers", "w", 0, "Number of concurrent workers (default: one per CPU)")
	flag.IntVarP(&rounds, "rounds", "r", 0, "Stress rounds per run")
	flag.IntVarP(&ops, "ops", "n", 0, "Operations per worker per round")
	flag.Int64Var(&seed, "seed", 0, "Base RNG seed; 0 derives one from the clock")
	flag.StringVarP(&backend, "backend", "b", "", "Executor backend: memory, osfs, fuse")
	flag.StringVar(&path, "path", "", "Root directory for osfs / mountpoint for fuse")
	flag.StringVar(&fuseDir, "fuse-backing", "", "Backing directory behind the fuse loopback mount")
	flag.StringVarP(&reportPath, "report", "o", "", "Write the aggregated report artifact to this path")
	flag.BoolVar(&chaos, "chaos", false, "Enable the chaos disruptor (delays, faults, lost outcomes)")
	flag.Float64Var(&interrupts, "chaos-interrupts", -1, "Lost-outcome injection rate, 0.0-1.0")
	flag.IntVarP(&verbose, "verbose", "v", 3, "Log verbosity level between 1 (error) and 5 (trace). Default is 3 (info).")
	flag.Parse()

	// Initialize logger
	if verbose < 1 {
		verbose = 1
	}
	if verbose > 5 {
		verbose = 5
	}
	logLvls := [5]util.LogLevel{util.ErrorLevel, util.WarnLevel, util.InfoLevel, util.DebugLevel, util.TraceLevel}
	logLvl := logLvls[verbose-1]
	util.InitializeLogger(logLvl)
	logger := util.GetLogger("main")

	// .env first, then file config, then FSRACER_* env, then flags
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := config.NewDefaultConfig()
	if configPath != "" {
		override, err := config.LoadConfigOverrideFile(configPath)
		if err != nil {
			logger.Fatal().Err(err).Str("config", configPath).Msg("Failed to load config file")
		}
		cfg.Merge(override)
	}
	cfg.Merge(config.EnvOverride())
	cfg.LogLvl = logLvl
	if workers > 0 {
		cfg.Workers = workers
	}
	if rounds > 0 {
		cfg.Rounds = rounds
	}
	if ops > 0 {
		cfg.OpsPerRound = ops
	}
	if seed != 0 {
		cfg.Seed = seed
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if path != "" {
		cfg.BackendPath = path
	}
	if fuseDir != "" {
		cfg.FuseBacking = fuseDir
	}
	if reportPath != "" {
		cfg.ReportPath = reportPath
	}
	if chaos {
		cfg.ChaosEnabled = true
	}
	if interrupts >= 0 {
		cfg.ChaosInterruptRate = interrupts
		cfg.ChaosEnabled = true
	}

	// Register all built-in backends
	adapters.RegisterBuiltins()

	// Cancel the run on SIGINT/SIGTERM so mounts unwind cleanly
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := harness.New(cfg)
	summary, err := runner.Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Stress run aborted")
	}
	if summary.Failed() {
		logger.Error().Int("orphans", summary.Orphans).Int("violations", summary.Violations).
			Msg("Namespace consistency check FAILED")
	}
	os.Exit(summary.ExitCode())
}
