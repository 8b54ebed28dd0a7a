// Package verify checks namespace model snapshots for orphaned entries and
// structural invariant breaks.
package verify

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
	"github.com/brettbedarf/fsracer/report"
)

// Source yields snapshots of the model under verification. *namespace.Tree
// satisfies it; tests may substitute staged snapshots.
type Source interface {
	Snapshot() *namespace.Snapshot
}

// Result is the outcome of one verification pass.
type Result struct {
	Pass       int
	Entries    int
	Orphans    []report.Orphan
	Violations []report.Violation
	Timeouts   int // candidate orphans that vanished after the window
}

// Verifier resolves every live entry of a snapshot back to root. It must
// only be run at a quiescence barrier: snapshots are built from per-entry
// atomic loads and are only globally consistent when no transaction is in
// flight.
type Verifier struct {
	src    Source
	window time.Duration
	tag    fsracer.WorkerTag
	logger util.Logger
}

// New creates a verifier over src. window is the reconciliation window: when
// a first scan finds candidate orphans, the verifier waits it out and
// re-checks against a fresh snapshot so a lagging model update is not
// reported as a real orphan. A zero window disables the wait, not the
// re-check.
func New(src Source, window time.Duration, tag fsracer.WorkerTag) *Verifier {
	return &Verifier{
		src:    src,
		window: window,
		tag:    tag,
		logger: util.GetLogger("verify"),
	}
}

// Run performs one verification pass.
func (v *Verifier) Run(pass int) *Result {
	snap := v.src.Snapshot()
	candidates, cycles := v.resolveAll(snap)

	res := &Result{Pass: pass, Entries: snap.Len()}

	if len(candidates) > 0 {
		// candidates may be reconciliation-window artifacts: give late
		// model updates time to land, then re-judge on fresh state
		if v.window > 0 {
			time.Sleep(v.window)
		}
		resnap := v.src.Snapshot()
		for _, c := range candidates {
			if stillOrphaned(resnap, c) {
				res.Orphans = append(res.Orphans, c)
			} else {
				res.Timeouts++
			}
		}
		snap = resnap
		_, cycles = v.resolveAll(snap)
	}

	res.Violations = append(res.Violations, cycles...)
	res.Violations = append(res.Violations, checkInvariants(snap)...)

	ev := v.logger.Debug()
	if len(res.Orphans) > 0 || len(res.Violations) > 0 {
		ev = v.logger.Error()
	}
	ev.Int("pass", pass).Int("entries", res.Entries).
		Int("orphans", len(res.Orphans)).Int("violations", len(res.Violations)).
		Int("timeouts", res.Timeouts).Msg("verification pass")
	return res
}

// resolveAll walks every live entry. An orphaned subtree breaks at the same
// parent link for every descendant, so findings are deduplicated per broken
// link within the pass; across passes repeats are preserved deliberately.
func (v *Verifier) resolveAll(snap *namespace.Snapshot) ([]report.Orphan, []report.Violation) {
	var orphans []report.Orphan
	var violations []report.Violation
	seen := make(map[[2]namespace.EntryID]bool)

	for _, id := range snap.IDs() {
		_, err := snap.ResolvePath(id)
		if err == nil {
			continue
		}
		var oe *namespace.OrphanError
		switch {
		case errors.As(err, &oe):
			key := [2]namespace.EntryID{oe.ID, oe.Parent}
			if !seen[key] {
				seen[key] = true
				orphans = append(orphans, report.Orphan{Worker: v.tag, ID: oe.ID, Parent: oe.Parent})
			}
		case errors.Is(err, namespace.ErrCycleDetected):
			violations = append(violations, report.Violation{
				Check:  "acyclic",
				Detail: fmt.Sprintf("parent walk from id=%d does not terminate", id),
			})
		default:
			violations = append(violations, report.Violation{
				Check:  "resolvable",
				Detail: fmt.Sprintf("id=%d: %v", id, err),
			})
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })
	return orphans, violations
}

func stillOrphaned(snap *namespace.Snapshot, c report.Orphan) bool {
	if _, live := snap.Get(c.ID); !live {
		// the lagging transaction turned out to be a remove
		return false
	}
	_, err := snap.ResolvePath(c.ID)
	var oe *namespace.OrphanError
	return errors.As(err, &oe)
}

// checkInvariants runs the structural checks that indict the tracker itself:
// single root, parents are live directories, sibling-name uniqueness, and
// child-table symmetry. Resolution failures are the orphan scan's business
// and deliberately not re-reported here.
func checkInvariants(snap *namespace.Snapshot) []report.Violation {
	var out []report.Violation
	add := func(check, format string, args ...any) {
		out = append(out, report.Violation{Check: check, Detail: fmt.Sprintf(format, args...)})
	}

	root, ok := snap.Get(namespace.RootID)
	switch {
	case !ok:
		add("single-root", "root entry missing")
	case root.Parent != namespace.NoID:
		add("single-root", "root has parent id=%d", root.Parent)
	case root.Type != namespace.Directory:
		add("single-root", "root is %s", root.Type)
	}

	type slot struct {
		parent namespace.EntryID
		name   string
	}
	claimed := make(map[slot]namespace.EntryID)

	for _, id := range snap.IDs() {
		v, _ := snap.Get(id)
		if id == namespace.RootID {
			continue
		}
		if v.Parent == namespace.NoID {
			add("single-root", "id=%d has no parent but is not root", id)
			continue
		}
		p, ok := snap.Get(v.Parent)
		if !ok {
			// orphan, already reported by the resolution scan
			continue
		}
		if p.Type != namespace.Directory {
			add("parent-directory", "id=%d parent id=%d is %s", id, v.Parent, p.Type)
			continue
		}
		s := slot{v.Parent, v.Name}
		if prev, dup := claimed[s]; dup {
			add("sibling-uniqueness", "ids %d and %d both named %q under id=%d", prev, id, v.Name, v.Parent)
		}
		claimed[s] = id
		if cid, ok := p.Children[v.Name]; !ok || cid != id {
			add("child-table", "id=%d at %q not indexed by parent id=%d", id, v.Name, v.Parent)
		}
	}

	// forward direction: every child-table slot points at a live entry that
	// agrees on its own position
	for _, id := range snap.IDs() {
		v, _ := snap.Get(id)
		if v.Type != namespace.Directory {
			continue
		}
		for name, cid := range v.Children {
			c, ok := snap.Get(cid)
			if !ok {
				add("child-table", "id=%d slot %q references dead id=%d", id, name, cid)
				continue
			}
			if c.Parent != id || c.Name != name {
				add("child-table", "id=%d slot %q disagrees with entry id=%d (parent=%d name=%q)",
					id, name, cid, c.Parent, c.Name)
			}
		}
	}
	return out
}
