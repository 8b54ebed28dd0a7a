// Package dispatch runs the concurrent stress workers and owns the
// reconciliation between the executor backend and the namespace model.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/config"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
	"github.com/brettbedarf/fsracer/workload"
)

// RoundStats summarizes one stress round.
type RoundStats struct {
	Round      int
	Ops        uint64
	Failed     uint64 // rejected operations; expected under contention
	Parked     int    // operations deferred to the recovery pass
	Recovered  int
	Unresolved int // parked operations whose truth could not be re-derived
}

// Dispatcher fans the workload out over N workers and provides the
// quiescence barrier the verifier depends on: Round only returns once every
// worker is idle and the recovery pass has drained the parked operations, so
// no step-1/step-2 pair is outstanding.
type Dispatcher struct {
	cfg     *config.Config
	exec    fsracer.Executor
	tree    *namespace.Tree
	bind    *binding
	profile workload.Profile
	workers []*worker
	seeded  map[namespace.EntryID]bool // shared initial dirs, not valid victims
	logger  util.Logger
}

// New creates a dispatcher with cfg.Workers workers. Worker rngs derive from
// cfg.Seed so a fixed seed replays the same operation streams.
func New(cfg *config.Config, exec fsracer.Executor, tree *namespace.Tree, profile workload.Profile) *Dispatcher {
	d := &Dispatcher{
		cfg:     cfg,
		exec:    exec,
		tree:    tree,
		bind:    newBinding(),
		profile: profile,
		seeded:  make(map[namespace.EntryID]bool),
		logger:  util.GetLogger("dispatch"),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workers = append(d.workers, newWorker(d, i, cfg.Seed+int64(i)*7919))
	}
	return d
}

func (d *Dispatcher) isSeeded(id namespace.EntryID) bool {
	return d.seeded[id]
}

// Seed builds the initial directory tree through the executor and the model
// together, so both sides agree before round one. Each level hangs
// InitialFanout sibling directories off a spine that descends to
// InitialDepth; every worker shares all of them, which is what makes sibling
// slots contended from the first operation.
func (d *Dispatcher) Seed(ctx context.Context) error {
	spine := namespace.RootID
	for depth := 0; depth < d.cfg.InitialDepth; depth++ {
		var nextSpine namespace.EntryID
		for i := 0; i < d.cfg.InitialFanout; i++ {
			name := fmt.Sprintf("d%d_%d", depth, i)
			backendParent, ok := d.bind.backend(spine)
			if !ok {
				return fmt.Errorf("seed: no binding for spine id=%d", spine)
			}
			bid, err := d.exec.Create(ctx, "seeder", backendParent, name, namespace.Directory)
			if err != nil {
				return fmt.Errorf("seed create %s: %w", name, err)
			}
			mid, err := d.tree.Insert(spine, name, namespace.Directory)
			if err != nil {
				return fmt.Errorf("seed insert %s: %w", name, err)
			}
			d.bind.bind(mid, bid)
			d.seeded[mid] = true
			if i == 0 {
				nextSpine = mid
			}
			for _, w := range d.workers {
				w.dirs = append(w.dirs, mid)
			}
		}
		spine = nextSpine
	}
	d.logger.Info().Int("dirs", len(d.seeded)).
		Int("depth", d.cfg.InitialDepth).Int("fanout", d.cfg.InitialFanout).
		Msg("initial tree seeded")
	return nil
}

// Round runs one stress round to quiescence and then drains the parked
// operations. When Round returns, the model is as reconciled as it can get
// and the verifier may snapshot it.
func (d *Dispatcher) Round(ctx context.Context, round int) (*RoundStats, error) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			w.runRound(ctx, d.cfg.OpsPerRound)
		}(w)
	}
	// quiescence barrier: all workers idle, no step pair in flight
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stats := &RoundStats{Round: round}
	var parked []pendingOp
	for _, w := range d.workers {
		stats.Ops += w.ops
		stats.Failed += w.failed
		w.ops, w.failed = 0, 0
		parked = append(parked, w.pending...)
		w.pending = nil
	}
	stats.Parked = len(parked)

	recovered, unresolved := d.recoverAll(ctx, parked)
	stats.Recovered = recovered
	stats.Unresolved = unresolved

	d.logger.Info().Int("round", round).Uint64("ops", stats.Ops).
		Uint64("failed", stats.Failed).Int("parked", stats.Parked).
		Int("recovered", stats.Recovered).Int("unresolved", stats.Unresolved).
		Msg("round complete")
	return stats, nil
}

// recoverAll drains parked operations: known outcomes are re-applied to the
// model, lost outcomes are re-derived through the Prober when the backend
// offers one. Two sweeps, because one parked remove can unblock another
// parked rmdir. Whatever survives both sweeps is flagged unresolved.
func (d *Dispatcher) recoverAll(ctx context.Context, parked []pendingOp) (recovered, unresolved int) {
	rest := d.sweep(ctx, parked)
	if len(rest) > 0 {
		rest = d.sweep(ctx, rest)
	}
	for _, p := range rest {
		d.logger.Warn().Str("worker", string(p.worker)).Str("op", p.kind.String()).
			Uint64("id", uint64(p.id)).Bool("lost", p.lost).
			Msg("parked operation unresolved")
	}
	return len(parked) - len(rest), len(rest)
}

func (d *Dispatcher) sweep(ctx context.Context, parked []pendingOp) []pendingOp {
	var rest []pendingOp
	for _, p := range parked {
		var err error
		if p.lost || p.unmatched {
			err = d.probe(ctx, p)
		} else {
			err = d.apply(p)
		}
		if err != nil {
			rest = append(rest, p)
		}
	}
	return rest
}

// apply replays a retained backend outcome against the model.
func (d *Dispatcher) apply(p pendingOp) error {
	switch p.kind {
	case workload.OpCreate, workload.OpMkdir, workload.OpSymlink:
		mid, err := d.tree.Insert(p.parent, p.name, p.typ)
		if err != nil {
			return err
		}
		d.bind.bind(mid, p.backendID)
		return nil
	case workload.OpRemove:
		err := d.tree.Remove(p.id)
		if err == nil || errors.Is(err, namespace.ErrNotFound) {
			d.bind.drop(p.id)
			return nil
		}
		return err
	case workload.OpRename:
		return d.tree.Rename(p.id, p.parent, p.name)
	case workload.OpWhiteout:
		wid, err := d.tree.RenameWhiteout(p.id, p.parent, p.name)
		if err != nil {
			return err
		}
		d.bind.bind(wid, p.backendWhiteout)
		return nil
	case workload.OpExchange:
		return d.tree.Exchange(p.id, p.otherID)
	case workload.OpLink:
		mid, err := d.tree.Link(p.id, p.parent, p.name)
		if err != nil {
			return err
		}
		d.bind.bind(mid, p.backendID)
		return nil
	default:
		return fmt.Errorf("apply: unknown op %s", p.kind)
	}
}

// probe re-derives the truth for an operation whose outcome was lost.
func (d *Dispatcher) probe(ctx context.Context, p pendingOp) error {
	switch p.kind {
	case workload.OpCreate, workload.OpMkdir, workload.OpSymlink, workload.OpLink:
		prober, ok := d.exec.(fsracer.Prober)
		if !ok {
			return fmt.Errorf("backend cannot probe: %w", fsracer.ErrUnsupported)
		}
		bid, _, err := prober.Lookup(ctx, p.backendParent, p.name)
		if err != nil {
			if isGone(err) {
				// never landed, or landed and was since removed: either way
				// model and backend agree the slot is empty
				return nil
			}
			return err
		}
		if _, bound := d.bind.model(bid); bound {
			// someone else already accounts for the backend entry
			return nil
		}
		var mid namespace.EntryID
		if p.kind == workload.OpLink {
			mid, err = d.tree.Link(p.id, p.parent, p.name)
		} else if p.typ == namespace.Symlink {
			mid, err = d.tree.InsertSymlink(p.parent, p.name, "dangling")
		} else {
			mid, err = d.tree.Insert(p.parent, p.name, p.typ)
		}
		if err != nil {
			return err
		}
		d.bind.bind(mid, bid)
		return nil

	case workload.OpRemove:
		// the interrupt wrapper only fires on success, so the removal is real
		err := d.tree.Remove(p.id)
		if err == nil || errors.Is(err, namespace.ErrNotFound) {
			d.bind.drop(p.id)
			return nil
		}
		return err

	case workload.OpRename:
		return d.tree.Rename(p.id, p.parent, p.name)

	case workload.OpWhiteout:
		// interrupt fires only on success, so the move and its whiteout are
		// real; the whiteout's backend id is gone with the lost result, so
		// the model placeholder stays unbound (workers never target it)
		_, err := d.tree.RenameWhiteout(p.id, p.parent, p.name)
		return err

	case workload.OpExchange:
		prober, ok := d.exec.(fsracer.Prober)
		if !ok {
			return fmt.Errorf("backend cannot probe: %w", fsracer.ErrUnsupported)
		}
		bidDest, _, err := prober.Lookup(ctx, p.backendParent, p.name)
		if err != nil {
			return err
		}
		bidA, ok := d.bind.backend(p.id)
		if !ok {
			return fmt.Errorf("exchange probe: no binding for id=%d", p.id)
		}
		if bidDest != bidA {
			// destination does not hold our entry: the swap never happened
			return nil
		}
		other, ok := d.bind.model(p.backendOther)
		if !ok {
			other = p.otherID
		}
		return d.tree.Exchange(p.id, other)

	default:
		return fmt.Errorf("probe: unknown op %s", p.kind)
	}
}
