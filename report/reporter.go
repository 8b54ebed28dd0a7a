// Package report owns the diagnostic stream of a stress run. Orphan findings
// are emitted in a fixed machine-parseable format consumed by existing
// tooling; everything human-oriented goes through zerolog on stderr instead.
package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/natefinch/atomic"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
)

// Orphan is one verifier finding: a live entry whose recorded parent did not
// resolve at a quiescent barrier.
type Orphan struct {
	Worker fsracer.WorkerTag
	ID     namespace.EntryID
	Parent namespace.EntryID
	Pass   int
}

// Violation is a structural invariant break in the tracker's own tree. It
// indicts the tool, not the system under test, and fails the run.
type Violation struct {
	Pass   int
	Check  string
	Detail string
}

// Summary aggregates a whole run.
type Summary struct {
	RunID      string
	Passes     int
	Ops        uint64
	Orphans    int // total orphan findings across all passes
	Persistent int // distinct (id, parent) pairs repeating in consecutive passes
	Transient  int // distinct pairs seen in isolated passes only
	Violations int
	Timeouts   int // findings suppressed by the reconciliation-window re-check
	Unresolved int // operations whose outcome was never re-derived
}

// Failed reports whether the run must exit non-zero. Timeouts and unresolved
// operations are warnings, not failures.
func (s *Summary) Failed() bool {
	return s.Orphans > 0 || s.Violations > 0
}

func (s *Summary) ExitCode() int {
	if s.Failed() {
		return 1
	}
	return 0
}

// Reporter serializes the diagnostic stream and keeps the aggregate.
// Safe for concurrent use.
type Reporter struct {
	mu         sync.Mutex
	out        io.Writer
	buf        bytes.Buffer // mirror of the stream for the artifact
	runID      string
	orphans    []Orphan
	violations []Violation
	timeouts   int
	unresolved int
	passes     int
	ops        uint64
	logger     util.Logger
}

// New creates a Reporter writing the fixed-format stream to out.
func New(out io.Writer, runID string) *Reporter {
	return &Reporter{
		out:    out,
		runID:  runID,
		logger: util.GetLogger("report"),
	}
}

func (r *Reporter) line(format string, args ...any) {
	s := fmt.Sprintf(format, args...)
	fmt.Fprint(r.out, s)
	r.buf.WriteString(s)
}

// Record emits the fixed-format lines for one verification pass and folds
// the findings into the aggregate. Findings are never deduplicated across
// passes: the same (id, parent) pair repeating is itself a signal.
func (r *Reporter) Record(pass int, orphans []Orphan, violations []Violation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pass > r.passes {
		r.passes = pass
	}
	for _, o := range orphans {
		o.Pass = pass
		r.orphans = append(r.orphans, o)
		r.line("%s: fent-id = %d: can't find parent id: %d\n", o.Worker, o.ID, o.Parent)
		r.line("%s: failed to get path for entry: id=%d,parent=%d\n", o.Worker, o.ID, o.Parent)
	}
	for _, v := range violations {
		v.Pass = pass
		r.violations = append(r.violations, v)
		r.line("verifier: invariant %s violated: %s\n", v.Check, v.Detail)
	}
}

// AddTimeouts counts findings that vanished after the reconciliation window.
func (r *Reporter) AddTimeouts(n int) {
	r.mu.Lock()
	r.timeouts += n
	r.mu.Unlock()
}

// AddUnresolved counts operations whose outcome could not be re-derived.
func (r *Reporter) AddUnresolved(n int) {
	r.mu.Lock()
	r.unresolved += n
	r.mu.Unlock()
}

// AddOps counts completed executor operations.
func (r *Reporter) AddOps(n uint64) {
	r.mu.Lock()
	r.ops += n
	r.mu.Unlock()
}

type pair struct {
	id, parent namespace.EntryID
}

// Finish closes the stream with the success line when the run was clean and
// returns the aggregated summary.
func (r *Reporter) Finish() *Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	persistent, transient := classify(r.orphans)
	s := &Summary{
		RunID:      r.runID,
		Passes:     r.passes,
		Ops:        r.ops,
		Orphans:    len(r.orphans),
		Persistent: persistent,
		Transient:  transient,
		Violations: len(r.violations),
		Timeouts:   r.timeouts,
		Unresolved: r.unresolved,
	}

	if !s.Failed() {
		r.line("Silence is golden.\n")
	}

	ev := r.logger.Info()
	if s.Failed() {
		ev = r.logger.Error()
	}
	ev.Str("run", r.runID).
		Int("passes", s.Passes).
		Str("ops", humanize.Comma(int64(s.Ops))).
		Int("orphans", s.Orphans).
		Int("persistent", s.Persistent).
		Int("transient", s.Transient).
		Int("violations", s.Violations).
		Int("timeouts", s.Timeouts).
		Int("unresolved", s.Unresolved).
		Msg("run complete")
	return s
}

// classify splits distinct orphan pairs into persistent (reported in at
// least two consecutive passes) and transient.
func classify(orphans []Orphan) (persistent, transient int) {
	passesByPair := make(map[pair][]int)
	for _, o := range orphans {
		k := pair{o.ID, o.Parent}
		passesByPair[k] = append(passesByPair[k], o.Pass)
	}
	for _, passes := range passesByPair {
		sort.Ints(passes)
		isPersistent := false
		for i := 1; i < len(passes); i++ {
			if passes[i] == passes[i-1]+1 {
				isPersistent = true
				break
			}
		}
		if isPersistent {
			persistent++
		} else {
			transient++
		}
	}
	return persistent, transient
}

// WriteArtifact writes the full stream plus a summary trailer atomically.
func (r *Reporter) WriteArtifact(path string, s *Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b bytes.Buffer
	fmt.Fprintf(&b, "# fsracer run %s\n", s.RunID)
	b.Write(r.buf.Bytes())
	fmt.Fprintf(&b, "# passes=%d ops=%d orphans=%d persistent=%d transient=%d violations=%d timeouts=%d unresolved=%d\n",
		s.Passes, s.Ops, s.Orphans, s.Persistent, s.Transient, s.Violations, s.Timeouts, s.Unresolved)
	return atomic.WriteFile(path, bytes.NewReader(b.Bytes()))
}
