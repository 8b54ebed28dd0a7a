package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"syscall"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
	"github.com/brettbedarf/fsracer/workload"
)

// pendingOp is an operation stuck in the reconciliation window: step 1
// committed (or may have committed) on the backend, but step 2 never reached
// the model. The recovery pass either completes it from the retained outcome
// or re-derives the truth by probing; it is never silently dropped.
type pendingOp struct {
	worker fsracer.WorkerTag
	kind   workload.OpKind

	// model-side coordinates of the intended transaction
	id        namespace.EntryID
	parent    namespace.EntryID // destination parent for create/rename/link
	name      string
	typ       namespace.EntryType
	otherID   namespace.EntryID // exchange peer
	unmatched bool              // exchange peer had no model binding

	// retained backend outcome; meaningless when lost
	backendID       namespace.EntryID
	backendWhiteout namespace.EntryID
	backendOther    namespace.EntryID

	// probe coordinates on the backend side
	backendParent namespace.EntryID

	lost bool // outcome discarded mid-flight; truth must be re-derived
}

// worker drives one stream of random operations. Each operation is the
// two-step protocol: (1) call the executor holding no model locks, then
// (2) mirror a successful outcome into the model. The gap between the steps
// is the reconciliation window.
type worker struct {
	d   *Dispatcher
	idx int
	tag fsracer.WorkerTag
	rng *rand.Rand

	dirs  []namespace.EntryID // directory candidates: seeded dirs (shared) + own mkdirs
	files []namespace.EntryID // own non-directory entries
	seq   int

	pending []pendingOp
	ops     uint64
	failed  uint64

	logger util.Logger
}

func newWorker(d *Dispatcher, idx int, seed int64) *worker {
	tag := fsracer.WorkerTag(fmt.Sprintf("worker%d", idx))
	return &worker{
		d:      d,
		idx:    idx,
		tag:    tag,
		rng:    rand.New(rand.NewSource(seed)),
		logger: util.GetLogger(string(tag)),
	}
}

func interrupted(err error) bool {
	return errors.Is(err, fsracer.ErrInterrupted)
}

func isGone(err error) bool {
	return errors.Is(err, syscall.ENOENT)
}

// runRound issues n operations, then returns with no step pair in flight.
func (w *worker) runRound(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		w.step(ctx)
	}
}

func (w *worker) step(ctx context.Context) {
	w.ops++
	kind := w.d.profile.Pick(w.rng)
	var ok bool
	switch kind {
	case workload.OpCreate:
		ok = w.doCreate(ctx, namespace.Regular)
	case workload.OpMkdir:
		ok = w.doCreate(ctx, namespace.Directory)
	case workload.OpSymlink:
		ok = w.doCreate(ctx, namespace.Symlink)
	case workload.OpRemove:
		ok = w.doRemove(ctx)
	case workload.OpRename:
		ok = w.doRename(ctx, false)
	case workload.OpWhiteout:
		ok = w.doRename(ctx, true)
	case workload.OpExchange:
		ok = w.doExchange(ctx)
	case workload.OpLink:
		ok = w.doLink(ctx)
	}
	if !ok {
		w.failed++
	}
}

// newName yields mostly worker-unique names with an occasional draw from a
// small shared set so sibling slots actually get contended.
func (w *worker) newName() string {
	if w.rng.Intn(5) == 0 {
		return fmt.Sprintf("shared_%d", w.rng.Intn(8))
	}
	w.seq++
	return fmt.Sprintf("w%d_%04x", w.idx, w.seq)
}

func (w *worker) pickDir() namespace.EntryID {
	if len(w.dirs) == 0 {
		return namespace.RootID
	}
	return w.dirs[w.rng.Intn(len(w.dirs))]
}

func (w *worker) pickFile() namespace.EntryID {
	if len(w.files) == 0 {
		return namespace.NoID
	}
	return w.files[w.rng.Intn(len(w.files))]
}

// pickVictim prefers files; roughly one victim in eight is one of the
// worker's own directories.
func (w *worker) pickVictim() namespace.EntryID {
	if len(w.dirs) > 0 && w.rng.Intn(8) == 0 {
		// never target the seeded dirs other workers share
		if id := w.dirs[w.rng.Intn(len(w.dirs))]; !w.d.isSeeded(id) {
			return id
		}
	}
	return w.pickFile()
}

func (w *worker) remember(id namespace.EntryID, typ namespace.EntryType) {
	if typ == namespace.Directory {
		w.dirs = append(w.dirs, id)
	} else {
		w.files = append(w.files, id)
	}
}

func (w *worker) forget(id namespace.EntryID) {
	for i, v := range w.dirs {
		if v == id {
			w.dirs = append(w.dirs[:i], w.dirs[i+1:]...)
			return
		}
	}
	for i, v := range w.files {
		if v == id {
			w.files = append(w.files[:i], w.files[i+1:]...)
			return
		}
	}
}

func (w *worker) park(p pendingOp) {
	p.worker = w.tag
	w.pending = append(w.pending, p)
	w.logger.Debug().Str("op", p.kind.String()).Uint64("id", uint64(p.id)).
		Bool("lost", p.lost).Msg("operation deferred to recovery")
}

func (w *worker) doCreate(ctx context.Context, typ namespace.EntryType) bool {
	parent := w.pickDir()
	name := w.newName()
	backendParent, ok := w.d.bind.backend(parent)
	if !ok {
		w.forget(parent)
		return false
	}

	bid, err := w.d.exec.Create(ctx, w.tag, backendParent, name, typ)
	if err != nil {
		if interrupted(err) {
			w.park(pendingOp{kind: kindFor(typ), parent: parent, name: name, typ: typ,
				backendParent: backendParent, lost: true})
		} else if isGone(err) {
			w.forget(parent)
		}
		return false
	}

	var mid namespace.EntryID
	if typ == namespace.Symlink {
		mid, err = w.d.tree.InsertSymlink(parent, name, "dangling")
	} else {
		mid, err = w.d.tree.Insert(parent, name, typ)
	}
	if err != nil {
		// the backend committed; the model must eventually agree
		w.park(pendingOp{kind: kindFor(typ), parent: parent, name: name, typ: typ,
			backendID: bid, backendParent: backendParent})
		return false
	}
	w.d.bind.bind(mid, bid)
	w.remember(mid, typ)
	return true
}

func kindFor(typ namespace.EntryType) workload.OpKind {
	switch typ {
	case namespace.Directory:
		return workload.OpMkdir
	case namespace.Symlink:
		return workload.OpSymlink
	default:
		return workload.OpCreate
	}
}

func (w *worker) doRemove(ctx context.Context) bool {
	id := w.pickVictim()
	if id == namespace.NoID {
		return false
	}
	bid, ok := w.d.bind.backend(id)
	if !ok {
		w.forget(id)
		return false
	}

	if err := w.d.exec.Remove(ctx, w.tag, bid); err != nil {
		if interrupted(err) {
			w.park(pendingOp{kind: workload.OpRemove, id: id, backendID: bid, lost: true})
			w.forget(id)
		} else if isGone(err) {
			w.forget(id)
		}
		return false
	}

	if err := w.d.tree.Remove(id); err != nil {
		w.park(pendingOp{kind: workload.OpRemove, id: id, backendID: bid})
		w.forget(id)
		return false
	}
	w.d.bind.drop(id)
	w.forget(id)
	return true
}

func (w *worker) doRename(ctx context.Context, whiteout bool) bool {
	id := w.pickVictim()
	if id == namespace.NoID {
		return false
	}
	newParent := w.pickDir()
	newName := w.newName()
	bid, ok := w.d.bind.backend(id)
	if !ok {
		w.forget(id)
		return false
	}
	backendParent, ok := w.d.bind.backend(newParent)
	if !ok {
		w.forget(newParent)
		return false
	}

	kind := workload.OpRename
	flags := fsracer.RenameNoReplace
	if whiteout {
		kind = workload.OpWhiteout
		flags = fsracer.RenameWhiteout
	}

	res, err := w.d.exec.Rename(ctx, w.tag, bid, backendParent, newName, flags)
	if err != nil {
		if interrupted(err) {
			w.park(pendingOp{kind: kind, id: id, parent: newParent, name: newName,
				backendParent: backendParent, lost: true})
		} else if isGone(err) {
			w.forget(id)
		}
		return false
	}

	if whiteout {
		wid, err := w.d.tree.RenameWhiteout(id, newParent, newName)
		if err != nil {
			w.park(pendingOp{kind: kind, id: id, parent: newParent, name: newName,
				backendWhiteout: res.WhiteoutID})
			return false
		}
		w.d.bind.bind(wid, res.WhiteoutID)
		return true
	}
	if err := w.d.tree.Rename(id, newParent, newName); err != nil {
		w.park(pendingOp{kind: kind, id: id, parent: newParent, name: newName})
		return false
	}
	return true
}

func (w *worker) doExchange(ctx context.Context) bool {
	a := w.pickVictim()
	b := w.pickVictim()
	if a == namespace.NoID || b == namespace.NoID || a == b {
		return false
	}
	peer, ok := w.d.tree.Get(b)
	if !ok {
		w.forget(b)
		return false
	}
	peerName, peerParent := peer.Name(), peer.Parent()
	bidA, ok := w.d.bind.backend(a)
	if !ok {
		w.forget(a)
		return false
	}
	backendParent, ok := w.d.bind.backend(peerParent)
	if !ok {
		return false
	}

	res, err := w.d.exec.Rename(ctx, w.tag, bidA, backendParent, peerName, fsracer.RenameExchange)
	if err != nil {
		if interrupted(err) {
			w.park(pendingOp{kind: workload.OpExchange, id: a, otherID: b, name: peerName,
				backendParent: backendParent, lost: true})
		} else if isGone(err) {
			w.forget(a)
		}
		return false
	}

	// mirror the swap the backend actually performed, which may differ from
	// the intended peer if it moved mid-flight
	other, ok := w.d.bind.model(res.ExchangedID)
	if !ok {
		w.park(pendingOp{kind: workload.OpExchange, id: a, otherID: b, name: peerName,
			unmatched: true, backendParent: backendParent, backendOther: res.ExchangedID})
		return false
	}
	if err := w.d.tree.Exchange(a, other); err != nil {
		w.park(pendingOp{kind: workload.OpExchange, id: a, otherID: other,
			backendOther: res.ExchangedID})
		return false
	}
	return true
}

func (w *worker) doLink(ctx context.Context) bool {
	src := w.pickFile()
	if src == namespace.NoID {
		return false
	}
	parent := w.pickDir()
	name := w.newName()
	bsrc, ok := w.d.bind.backend(src)
	if !ok {
		w.forget(src)
		return false
	}
	backendParent, ok := w.d.bind.backend(parent)
	if !ok {
		w.forget(parent)
		return false
	}

	bid, err := w.d.exec.Link(ctx, w.tag, bsrc, backendParent, name)
	if err != nil {
		if interrupted(err) {
			w.park(pendingOp{kind: workload.OpLink, id: src, parent: parent, name: name,
				backendParent: backendParent, lost: true})
		} else if isGone(err) {
			w.forget(src)
		}
		return false
	}

	mid, err := w.d.tree.Link(src, parent, name)
	if err != nil {
		w.park(pendingOp{kind: workload.OpLink, id: src, parent: parent, name: name,
			backendID: bid, backendParent: backendParent})
		return false
	}
	w.d.bind.bind(mid, bid)
	w.remember(mid, namespace.Regular)
	return true
}
