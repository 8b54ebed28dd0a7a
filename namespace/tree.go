package namespace

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/brettbedarf/fsracer/internal/util"
)

// Tree is the authoritative in-memory model of the namespace under test.
// Every structural operation is one atomic transaction relative to the rest
// of the tree: multi-entry operations take the per-entry mutexes of all
// touched entries in ascending-id order, and each touched entry's visible
// state flips with a single atomic pointer store.
type Tree struct {
	registry *xsync.Map[EntryID, *Entry] // live entries by id
	lastID   atomic.Uint64
	// renameMu serializes cross-directory renames so the ancestry walk for
	// cycle detection sees a stable parent chain. Same-parent renames and
	// all other operations never take it.
	renameMu sync.Mutex
	logger   util.Logger
}

// NewTree creates a tree holding only the root directory (id 1).
func NewTree() *Tree {
	t := &Tree{
		registry: xsync.NewMap[EntryID, *Entry](),
		logger:   util.GetLogger("namespace"),
	}
	root := newEntry(RootID, Directory, NoID, "")
	t.registry.Store(RootID, root)
	t.lastID.Store(uint64(RootID))
	return t
}

// Get returns the live entry for id. Exported accessors on Entry are
// read-only, so handing the pointer out does not bypass the locking
// discipline.
func (t *Tree) Get(id EntryID) (*Entry, bool) {
	return t.registry.Load(id)
}

func (t *Tree) get(id EntryID) (*Entry, bool) {
	return t.registry.Load(id)
}

// Live reports whether id currently names a live entry.
func (t *Tree) Live(id EntryID) bool {
	e, ok := t.get(id)
	return ok && !e.Dead()
}

// Len returns the number of live entries, root included.
func (t *Tree) Len() int {
	return t.registry.Size()
}

// LastID returns the highest id allocated so far. IDs are never reused.
func (t *Tree) LastID() EntryID {
	return EntryID(t.lastID.Load())
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".."
}

// lockOrdered acquires the mutexes of all distinct entries in ascending-id
// order and returns the matching unlock. Ascending id is the global lock
// rank: any two transactions with overlapping entry sets acquire them in the
// same order, so multi-entry operations cannot deadlock.
func lockOrdered(entries ...*Entry) func() {
	set := entries[:0:0]
	for _, e := range entries {
		dup := false
		for _, s := range set {
			if s == e {
				dup = true
				break
			}
		}
		if !dup {
			set = append(set, e)
		}
	}
	sort.Slice(set, func(i, j int) bool { return set[i].id < set[j].id })
	for _, e := range set {
		e.mu.Lock()
	}
	return func() {
		for i := len(set) - 1; i >= 0; i-- {
			set[i].mu.Unlock()
		}
	}
}

// Insert creates a new entry under parent and returns its id.
func (t *Tree) Insert(parent EntryID, name string, typ EntryType) (EntryID, error) {
	return t.insert(parent, name, typ, "")
}

// InsertSymlink creates a symlink entry carrying target.
func (t *Tree) InsertSymlink(parent EntryID, name, target string) (EntryID, error) {
	return t.insert(parent, name, Symlink, target)
}

func (t *Tree) insert(parent EntryID, name string, typ EntryType, target string) (EntryID, error) {
	if !validName(name) {
		return NoID, ErrInvalidArgument
	}
	p, ok := t.get(parent)
	if !ok {
		return NoID, ErrParentNotFound
	}
	if p.typ != Directory {
		return NoID, ErrNotDirectory
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.state.Load()
	if st.dead {
		return NoID, ErrParentNotFound
	}
	if _, exists := st.children[name]; exists {
		return NoID, ErrDuplicateName
	}

	id := EntryID(t.lastID.Add(1))
	child := newEntry(id, typ, parent, name)
	if target != "" {
		child.state.Load().target = target // not yet published, no clone needed
	}
	t.registry.Store(id, child)

	next := st.clone()
	next.children[name] = id
	p.publish(next)

	t.logger.Trace().Uint64("id", uint64(id)).Uint64("parent", uint64(parent)).
		Str("name", name).Str("type", typ.String()).Msg("insert")
	return id, nil
}

// Remove deletes a live entry. Directories must have no live children.
func (t *Tree) Remove(id EntryID) error {
	if id == RootID {
		return ErrInvalidArgument
	}
	e, ok := t.get(id)
	if !ok {
		return ErrNotFound
	}

	for {
		st := e.state.Load()
		if st.dead {
			return ErrNotFound
		}
		p, ok := t.get(st.parent)
		if !ok {
			return &InvariantError{Check: "parent-live", Detail: "live entry with no live parent: " + e.typ.String()}
		}

		unlock := lockOrdered(e, p)
		cur := e.state.Load()
		if cur.dead {
			unlock()
			return ErrNotFound
		}
		if cur.parent != p.id {
			// reparented between lookup and lock; retry against the new parent
			unlock()
			continue
		}
		if e.typ == Directory && len(cur.children) > 0 {
			unlock()
			return ErrNotEmpty
		}

		ps := p.state.Load().clone()
		delete(ps.children, cur.name)
		p.publish(ps)

		ne := cur.clone()
		ne.dead = true
		e.publish(ne)
		t.registry.Delete(id)
		unlock()

		t.logger.Trace().Uint64("id", uint64(id)).Msg("remove")
		return nil
	}
}

// Rename atomically moves id under newParent as newName. An occupied
// destination is rejected with ErrDuplicateName; no concurrent reader can
// observe the entry referencing neither the old nor the new parent.
func (t *Tree) Rename(id, newParent EntryID, newName string) error {
	_, err := t.move(id, newParent, newName, false)
	return err
}

// RenameWhiteout moves id like Rename and atomically leaves a fresh Whiteout
// entry at the vacated source location, returning the whiteout's id.
func (t *Tree) RenameWhiteout(id, newParent EntryID, newName string) (EntryID, error) {
	return t.move(id, newParent, newName, true)
}

func (t *Tree) move(id, newParent EntryID, newName string, whiteout bool) (EntryID, error) {
	if id == RootID || !validName(newName) {
		return NoID, ErrInvalidArgument
	}
	e, ok := t.get(id)
	if !ok {
		return NoID, ErrNotFound
	}
	np, ok := t.get(newParent)
	if !ok {
		return NoID, ErrParentNotFound
	}
	if np.typ != Directory {
		return NoID, ErrNotDirectory
	}

	for {
		st := e.state.Load()
		if st.dead {
			return NoID, ErrNotFound
		}
		op, ok := t.get(st.parent)
		if !ok {
			return NoID, &InvariantError{Check: "parent-live", Detail: "live entry with no live parent"}
		}
		crossDir := op.id != np.id
		if crossDir {
			t.renameMu.Lock()
		}
		unlock := lockOrdered(e, op, np)
		release := func() {
			unlock()
			if crossDir {
				t.renameMu.Unlock()
			}
		}

		cur := e.state.Load()
		if cur.dead {
			release()
			return NoID, ErrNotFound
		}
		if cur.parent != op.id {
			release()
			continue
		}
		if np.id == cur.parent && newName == cur.name {
			// renaming an entry onto its own slot is a no-op, and never
			// leaves a whiteout (matching vfs_rename's same-dentry early out)
			release()
			return NoID, nil
		}
		nps := np.state.Load()
		if nps.dead {
			release()
			return NoID, ErrParentNotFound
		}
		if existing, occupied := nps.children[newName]; occupied && existing != id {
			release()
			return NoID, ErrDuplicateName
		}
		if e.typ == Directory && crossDir && t.isAncestor(id, np) {
			release()
			return NoID, ErrCycleDetected
		}

		var wid EntryID
		var white *Entry
		if whiteout {
			wid = EntryID(t.lastID.Add(1))
			white = newEntry(wid, Whiteout, op.id, cur.name)
		}

		if crossDir {
			ops := op.state.Load().clone()
			if whiteout {
				ops.children[cur.name] = wid
			} else {
				delete(ops.children, cur.name)
			}
			op.publish(ops)

			ns := nps.clone()
			ns.children[newName] = id
			np.publish(ns)
		} else {
			ns := nps.clone()
			delete(ns.children, cur.name)
			if whiteout {
				ns.children[cur.name] = wid
			}
			ns.children[newName] = id
			np.publish(ns)
		}
		if white != nil {
			t.registry.Store(wid, white)
		}

		// single linearization point for the entry's (parent, name)
		ne := cur.clone()
		ne.parent = np.id
		ne.name = newName
		e.publish(ne)
		release()

		t.logger.Trace().Uint64("id", uint64(id)).Uint64("newParent", uint64(newParent)).
			Str("newName", newName).Bool("whiteout", whiteout).Msg("rename")
		return wid, nil
	}
}

// Exchange atomically swaps the (parent, name) of two live entries, the
// RENAME_EXCHANGE analogue. Both ends must exist.
func (t *Tree) Exchange(a, b EntryID) error {
	if a == RootID || b == RootID {
		return ErrInvalidArgument
	}
	if a == b {
		return nil
	}
	ea, ok := t.get(a)
	if !ok {
		return ErrNotFound
	}
	eb, ok := t.get(b)
	if !ok {
		return ErrNotFound
	}

	for {
		sa := ea.state.Load()
		sb := eb.state.Load()
		if sa.dead || sb.dead {
			return ErrNotFound
		}
		pa, okA := t.get(sa.parent)
		pb, okB := t.get(sb.parent)
		if !okA || !okB {
			return &InvariantError{Check: "parent-live", Detail: "live entry with no live parent"}
		}

		// exchange can reshape ancestry in both directions, so always
		// serialize against other cross-directory moves
		t.renameMu.Lock()
		unlock := lockOrdered(ea, eb, pa, pb)
		release := func() {
			unlock()
			t.renameMu.Unlock()
		}

		ca := ea.state.Load()
		cb := eb.state.Load()
		if ca.dead || cb.dead {
			release()
			return ErrNotFound
		}
		if ca.parent != pa.id || cb.parent != pb.id {
			release()
			continue
		}
		if ea.typ == Directory && t.isAncestor(a, pb) {
			release()
			return ErrCycleDetected
		}
		if eb.typ == Directory && t.isAncestor(b, pa) {
			release()
			return ErrCycleDetected
		}

		if pa == pb {
			ps := pa.state.Load().clone()
			ps.children[ca.name] = b
			ps.children[cb.name] = a
			pa.publish(ps)
		} else {
			pas := pa.state.Load().clone()
			pas.children[ca.name] = b
			pa.publish(pas)
			pbs := pb.state.Load().clone()
			pbs.children[cb.name] = a
			pb.publish(pbs)
		}

		na := ca.clone()
		na.parent = cb.parent
		na.name = cb.name
		nb := cb.clone()
		nb.parent = ca.parent
		nb.name = ca.name
		ea.publish(na)
		eb.publish(nb)
		release()

		t.logger.Trace().Uint64("a", uint64(a)).Uint64("b", uint64(b)).Msg("exchange")
		return nil
	}
}

// Link creates a new live entry under parent sharing src's type and symlink
// target. Directories cannot be linked.
func (t *Tree) Link(src, parent EntryID, name string) (EntryID, error) {
	if !validName(name) {
		return NoID, ErrInvalidArgument
	}
	s, ok := t.get(src)
	if !ok {
		return NoID, ErrNotFound
	}
	if s.typ == Directory {
		return NoID, ErrIsDirectory
	}
	p, ok := t.get(parent)
	if !ok {
		return NoID, ErrParentNotFound
	}
	if p.typ != Directory {
		return NoID, ErrNotDirectory
	}

	unlock := lockOrdered(s, p)
	defer unlock()
	ss := s.state.Load()
	if ss.dead {
		return NoID, ErrNotFound
	}
	ps := p.state.Load()
	if ps.dead {
		return NoID, ErrParentNotFound
	}
	if _, exists := ps.children[name]; exists {
		return NoID, ErrDuplicateName
	}

	id := EntryID(t.lastID.Add(1))
	e := newEntry(id, s.typ, parent, name)
	if ss.target != "" {
		e.state.Load().target = ss.target
	}
	t.registry.Store(id, e)

	next := ps.clone()
	next.children[name] = id
	p.publish(next)

	t.logger.Trace().Uint64("id", uint64(id)).Uint64("src", uint64(src)).Msg("link")
	return id, nil
}

// ResolvePath walks the parent chain of id up to the root and returns the
// component names from root to entry. It fails with OrphanError as soon as a
// referenced parent cannot be found live.
func (t *Tree) ResolvePath(id EntryID) ([]string, error) {
	e, ok := t.get(id)
	if !ok {
		return nil, ErrNotFound
	}
	limit := int(t.lastID.Load()) + 1
	names := make([]string, 0, 8)
	cur := e
	for steps := 0; ; steps++ {
		if steps > limit {
			return nil, ErrCycleDetected
		}
		if cur.id == RootID {
			break
		}
		st := cur.state.Load()
		if st.dead {
			if cur == e {
				return nil, ErrNotFound
			}
			return nil, &OrphanError{ID: cur.id, Parent: st.parent}
		}
		names = append(names, st.name)
		p, ok := t.get(st.parent)
		if !ok {
			return nil, &OrphanError{ID: cur.id, Parent: st.parent}
		}
		cur = p
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names, nil
}

// isAncestor reports whether anc is start or one of start's ancestors.
// Caller must hold renameMu so cross-directory ancestry cannot change
// mid-walk.
func (t *Tree) isAncestor(anc EntryID, start *Entry) bool {
	limit := int(t.lastID.Load()) + 1
	cur := start
	for steps := 0; steps <= limit; steps++ {
		if cur.id == anc {
			return true
		}
		if cur.id == RootID {
			return false
		}
		p, ok := t.get(cur.state.Load().parent)
		if !ok {
			return false
		}
		cur = p
	}
	// walk exceeded the registry size: already cyclic, refuse to extend it
	return true
}
