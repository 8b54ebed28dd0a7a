package adapters

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
)

// ChaosConfig controls fault injection. Rates are probabilities from 0.0
// (never) to 1.0 (every call).
type ChaosConfig struct {
	Seed          int64
	DelayRate     float64       // Delay the call, then let it through
	MaxDelay      time.Duration // Upper bound of one injected delay
	ErrorRate     float64       // Fail the call with an op-appropriate errno, inner never runs
	InterruptRate float64       // Run the call, discard its outcome, return ErrInterrupted
}

// ChaosStats are cumulative injection counters.
type ChaosStats struct {
	Delays     uint64
	Faults     uint64
	Interrupts uint64
}

// InjectedError marks an error as injected by the chaos layer so tests can
// tell deliberate faults from real backend failures with errors.As.
type InjectedError struct {
	Op  string
	Err error
}

func (e *InjectedError) Error() string {
	return fmt.Sprintf("chaos injected %s failure: %v", e.Op, e.Err)
}

func (e *InjectedError) Unwrap() error { return e.Err }

// Chaos wraps an Executor and perturbs it: random delays, errno failures and
// lost outcomes. It implements fsracer.Disruptor; while disabled it is a
// transparent passthrough. Injected errnos never touch the inner backend, so
// a chaos failure leaves model and backend agreeing that nothing happened.
// Interrupts are the opposite: the inner call runs and only its result is
// thrown away, manufacturing exactly the step-1-succeeded/step-2-missing
// divergence the recovery pass exists for.
type Chaos struct {
	inner   fsracer.Executor
	cfg     ChaosConfig
	enabled atomic.Bool

	mu  sync.Mutex
	rng *rand.Rand

	delays     atomic.Uint64
	faults     atomic.Uint64
	interrupts atomic.Uint64

	logger util.Logger
}

// NewChaos wraps inner with the given injection config, initially disabled.
func NewChaos(inner fsracer.Executor, cfg ChaosConfig) *Chaos {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Chaos{
		inner:  inner,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		logger: util.GetLogger("adapters.chaos"),
	}
}

func (c *Chaos) Enable()  { c.enabled.Store(true) }
func (c *Chaos) Disable() { c.enabled.Store(false) }

// Stats returns the cumulative injection counters.
func (c *Chaos) Stats() ChaosStats {
	return ChaosStats{
		Delays:     c.delays.Load(),
		Faults:     c.faults.Load(),
		Interrupts: c.interrupts.Load(),
	}
}

// roll draws one uniform float under the rng lock.
func (c *Chaos) roll() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Float64()
}

func (c *Chaos) pick(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng.Intn(n)
}

// perturb applies delay/fault dice for one call. It returns a non-nil error
// when the call must fail without reaching the inner backend, and interrupt
// when the inner result must be discarded.
func (c *Chaos) perturb(op string, errnos []syscall.Errno) (err error, interrupt bool) {
	if !c.enabled.Load() {
		return nil, false
	}
	if c.cfg.DelayRate > 0 && c.roll() < c.cfg.DelayRate {
		c.delays.Add(1)
		d := time.Duration(1)
		if c.cfg.MaxDelay > 0 {
			d = time.Duration(c.pick(int(c.cfg.MaxDelay)))
		}
		time.Sleep(d)
	}
	if c.cfg.ErrorRate > 0 && c.roll() < c.cfg.ErrorRate {
		c.faults.Add(1)
		errno := errnos[c.pick(len(errnos))]
		return &InjectedError{Op: op, Err: errno}, false
	}
	if c.cfg.InterruptRate > 0 && c.roll() < c.cfg.InterruptRate {
		c.interrupts.Add(1)
		return nil, true
	}
	return nil, false
}

func (c *Chaos) Create(ctx context.Context, w fsracer.WorkerTag, parent namespace.EntryID, name string, typ namespace.EntryType) (namespace.EntryID, error) {
	injected, interrupt := c.perturb("create", []syscall.Errno{syscall.EIO, syscall.ENOSPC})
	if injected != nil {
		return namespace.NoID, injected
	}
	id, err := c.inner.Create(ctx, w, parent, name, typ)
	if interrupt && err == nil {
		c.logger.Debug().Str("worker", string(w)).Str("name", name).Msg("discarding create outcome")
		return namespace.NoID, &InjectedError{Op: "create", Err: fsracer.ErrInterrupted}
	}
	return id, err
}

func (c *Chaos) Rename(ctx context.Context, w fsracer.WorkerTag, id, newParent namespace.EntryID, newName string, flags fsracer.RenameFlags) (fsracer.RenameResult, error) {
	injected, interrupt := c.perturb("rename", []syscall.Errno{syscall.EIO, syscall.EBUSY})
	if injected != nil {
		return fsracer.RenameResult{}, injected
	}
	res, err := c.inner.Rename(ctx, w, id, newParent, newName, flags)
	if interrupt && err == nil {
		c.logger.Debug().Str("worker", string(w)).Uint64("id", uint64(id)).Msg("discarding rename outcome")
		return fsracer.RenameResult{}, &InjectedError{Op: "rename", Err: fsracer.ErrInterrupted}
	}
	return res, err
}

func (c *Chaos) Remove(ctx context.Context, w fsracer.WorkerTag, id namespace.EntryID) error {
	injected, interrupt := c.perturb("remove", []syscall.Errno{syscall.EIO, syscall.EBUSY})
	if injected != nil {
		return injected
	}
	err := c.inner.Remove(ctx, w, id)
	if interrupt && err == nil {
		c.logger.Debug().Str("worker", string(w)).Uint64("id", uint64(id)).Msg("discarding remove outcome")
		return &InjectedError{Op: "remove", Err: fsracer.ErrInterrupted}
	}
	return err
}

func (c *Chaos) Link(ctx context.Context, w fsracer.WorkerTag, id, parent namespace.EntryID, name string) (namespace.EntryID, error) {
	injected, interrupt := c.perturb("link", []syscall.Errno{syscall.EIO, syscall.EMLINK})
	if injected != nil {
		return namespace.NoID, injected
	}
	lid, err := c.inner.Link(ctx, w, id, parent, name)
	if interrupt && err == nil {
		c.logger.Debug().Str("worker", string(w)).Uint64("id", uint64(id)).Msg("discarding link outcome")
		return namespace.NoID, &InjectedError{Op: "link", Err: fsracer.ErrInterrupted}
	}
	return lid, err
}

// Lookup passes through untouched: the recovery pass must always see the
// backend's truth.
func (c *Chaos) Lookup(ctx context.Context, parent namespace.EntryID, name string) (namespace.EntryID, namespace.EntryType, error) {
	if p, ok := c.inner.(fsracer.Prober); ok {
		return p.Lookup(ctx, parent, name)
	}
	return namespace.NoID, namespace.Other, fsracer.ErrUnsupported
}
