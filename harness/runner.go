// Package harness assembles a complete stress run: backend, chaos wrapper,
// model, dispatcher, verifier and reporter.
package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/adapters"
	"github.com/brettbedarf/fsracer/config"
	"github.com/brettbedarf/fsracer/dispatch"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
	"github.com/brettbedarf/fsracer/report"
	"github.com/brettbedarf/fsracer/verify"
	"github.com/brettbedarf/fsracer/workload"
)

// Runner drives a full stress run from configuration.
type Runner struct {
	cfg *config.Config
	// Out receives the fixed-format diagnostic stream. Defaults to stdout.
	Out    io.Writer
	logger util.Logger
}

// New creates a Runner. Backends must already be registered (see
// adapters.RegisterBuiltins).
func New(cfg *config.Config) *Runner {
	return &Runner{
		cfg:    cfg,
		Out:    os.Stdout,
		logger: util.GetLogger("harness"),
	}
}

// Run executes the configured number of rounds and returns the aggregated
// summary. The run fails (summary-wise) on orphans or invariant violations;
// an error return means the run itself could not proceed.
func (r *Runner) Run(ctx context.Context) (*report.Summary, error) {
	cfg := *r.cfg
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	runID := uuid.NewString()
	logger := r.logger.With().Str("run", runID).Logger()
	logger.Info().Int("workers", cfg.Workers).Int("rounds", cfg.Rounds).
		Int("ops", cfg.OpsPerRound).Int64("seed", cfg.Seed).
		Str("backend", cfg.Backend).Bool("chaos", cfg.ChaosEnabled).
		Msg("starting stress run")

	exec, closer, err := adapters.New(cfg.Backend, &cfg)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Backend, err)
	}
	if closer != nil {
		defer func() {
			if err := closer(); err != nil {
				logger.Error().Err(err).Msg("backend teardown failed")
			}
		}()
	}

	var chaos *adapters.Chaos
	if cfg.ChaosEnabled {
		chaos = adapters.NewChaos(exec, adapters.ChaosConfig{
			Seed:          cfg.Seed,
			DelayRate:     cfg.ChaosDelayRate,
			MaxDelay:      cfg.ChaosMaxDelay(),
			ErrorRate:     cfg.ChaosErrorRate,
			InterruptRate: cfg.ChaosInterruptRate,
		})
		exec = chaos
	}

	profile := workload.DefaultProfile()
	if cfg.Backend != "memory" && runtime.GOOS != "linux" {
		// renameat2 variants are linux-only on real filesystems
		profile.Disable(workload.OpExchange)
		profile.Disable(workload.OpWhiteout)
	}

	tree := namespace.NewTree()
	rep := report.New(r.Out, runID)
	d := dispatch.New(&cfg, exec, tree, profile)
	if err := d.Seed(ctx); err != nil {
		return nil, fmt.Errorf("seeding initial tree: %w", err)
	}
	verifier := verify.New(tree, cfg.ReconcileWindow(), fsracer.WorkerTag("verifier"))

	var disruptor fsracer.Disruptor
	if chaos != nil {
		disruptor = chaos
		disruptor.Enable()
		defer disruptor.Disable()
	}

	for round := 1; round <= cfg.Rounds; round++ {
		stats, err := d.Round(ctx, round)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", round, err)
		}
		rep.AddOps(stats.Ops)
		rep.AddUnresolved(stats.Unresolved)

		res := verifier.Run(round)
		rep.Record(round, res.Orphans, res.Violations)
		rep.AddTimeouts(res.Timeouts)
	}

	if chaos != nil {
		s := chaos.Stats()
		logger.Info().Uint64("delays", s.Delays).Uint64("faults", s.Faults).
			Uint64("interrupts", s.Interrupts).Msg("chaos totals")
	}

	summary := rep.Finish()
	if cfg.ReportPath != "" {
		if err := rep.WriteArtifact(cfg.ReportPath, summary); err != nil {
			logger.Error().Err(err).Str("path", cfg.ReportPath).Msg("failed to write report artifact")
		}
	}
	return summary, nil
}
