package adapters

import (
	"context"
	iofs "io/fs"
	"sync"
	"syscall"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
)

// Memory is an authoritative in-process system under test. It keeps its own
// entry table, deliberately independent of the tracker's namespace.Tree, so
// that verifying the model against it is a meaningful check rather than a
// tautology. A single mutex is fine here: the system under test is allowed
// to serialize, the tracker is not.
type Memory struct {
	mu      sync.Mutex
	entries map[namespace.EntryID]*memEntry
	lastID  namespace.EntryID
	logger  util.Logger
}

type memEntry struct {
	id       namespace.EntryID
	typ      namespace.EntryType
	parent   namespace.EntryID
	name     string
	children map[string]namespace.EntryID
}

// NewMemory returns a memory backend holding only the root directory.
func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[namespace.EntryID]*memEntry),
		lastID:  namespace.RootID,
		logger:  util.GetLogger("adapters.memory"),
	}
	m.entries[namespace.RootID] = &memEntry{
		id:       namespace.RootID,
		typ:      namespace.Directory,
		children: make(map[string]namespace.EntryID),
	}
	return m
}

func errnoErr(op, path string, errno syscall.Errno) error {
	return &iofs.PathError{Op: op, Path: path, Err: errno}
}

// path rebuilds an entry's path for diagnostics. Caller must hold m.mu.
func (m *Memory) path(e *memEntry) string {
	if e.id == namespace.RootID {
		return "/"
	}
	p := e.name
	for cur := e; cur.parent != namespace.NoID; {
		next, ok := m.entries[cur.parent]
		if !ok || next.id == namespace.RootID {
			break
		}
		p = next.name + "/" + p
		cur = next
	}
	return "/" + p
}

func (m *Memory) Create(ctx context.Context, w fsracer.WorkerTag, parent namespace.EntryID, name string, typ namespace.EntryType) (namespace.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return namespace.NoID, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.entries[parent]
	if !ok {
		return namespace.NoID, errnoErr("create", name, syscall.ENOENT)
	}
	if p.typ != namespace.Directory {
		return namespace.NoID, errnoErr("create", m.path(p), syscall.ENOTDIR)
	}
	if _, exists := p.children[name]; exists {
		return namespace.NoID, errnoErr("create", m.path(p)+"/"+name, syscall.EEXIST)
	}

	m.lastID++
	e := &memEntry{id: m.lastID, typ: typ, parent: parent, name: name}
	if typ == namespace.Directory {
		e.children = make(map[string]namespace.EntryID)
	}
	m.entries[e.id] = e
	p.children[name] = e.id
	return e.id, nil
}

func (m *Memory) Remove(ctx context.Context, w fsracer.WorkerTag, id namespace.EntryID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || id == namespace.RootID {
		return errnoErr("remove", "", syscall.ENOENT)
	}
	if e.typ == namespace.Directory && len(e.children) > 0 {
		return errnoErr("remove", m.path(e), syscall.ENOTEMPTY)
	}
	if p, ok := m.entries[e.parent]; ok {
		delete(p.children, e.name)
	}
	delete(m.entries, id)
	return nil
}

func (m *Memory) Rename(ctx context.Context, w fsracer.WorkerTag, id, newParent namespace.EntryID, newName string, flags fsracer.RenameFlags) (fsracer.RenameResult, error) {
	var res fsracer.RenameResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	// flag combinations renameat2 rejects
	if flags&fsracer.RenameExchange != 0 && flags&(fsracer.RenameNoReplace|fsracer.RenameWhiteout) != 0 {
		return res, errnoErr("rename", newName, syscall.EINVAL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok || id == namespace.RootID {
		return res, errnoErr("rename", "", syscall.ENOENT)
	}
	np, ok := m.entries[newParent]
	if !ok {
		return res, errnoErr("rename", newName, syscall.ENOENT)
	}
	if np.typ != namespace.Directory {
		return res, errnoErr("rename", m.path(np), syscall.ENOTDIR)
	}

	if flags&fsracer.RenameExchange != 0 {
		otherID, occupied := np.children[newName]
		if !occupied {
			return res, errnoErr("rename", m.path(np)+"/"+newName, syscall.ENOENT)
		}
		if otherID == id {
			return res, nil
		}
		other := m.entries[otherID]
		if (e.typ == namespace.Directory && m.isAncestor(id, other.parent)) ||
			(other.typ == namespace.Directory && m.isAncestor(otherID, e.parent)) {
			return res, errnoErr("rename", m.path(e), syscall.EINVAL)
		}
		m.entries[e.parent].children[e.name] = otherID
		np.children[newName] = id
		e.parent, other.parent = other.parent, e.parent
		e.name, other.name = other.name, e.name
		res.ExchangedID = otherID
		return res, nil
	}

	if e.parent == newParent && e.name == newName {
		// same-dentry rename: succeed without touching the tree, and never
		// fabricate a whiteout for the slot the entry still occupies
		return res, nil
	}

	if e.typ == namespace.Directory && m.isAncestor(id, newParent) {
		return res, errnoErr("rename", m.path(e), syscall.EINVAL)
	}

	if destID, occupied := np.children[newName]; occupied && destID != id {
		if flags&fsracer.RenameNoReplace != 0 {
			return res, errnoErr("rename", m.path(np)+"/"+newName, syscall.EEXIST)
		}
		dest := m.entries[destID]
		switch {
		case dest.typ == namespace.Directory && e.typ != namespace.Directory:
			return res, errnoErr("rename", m.path(dest), syscall.EISDIR)
		case dest.typ != namespace.Directory && e.typ == namespace.Directory:
			return res, errnoErr("rename", m.path(dest), syscall.ENOTDIR)
		case dest.typ == namespace.Directory && len(dest.children) > 0:
			return res, errnoErr("rename", m.path(dest), syscall.ENOTEMPTY)
		}
		delete(m.entries, destID)
	}

	op := m.entries[e.parent]
	if flags&fsracer.RenameWhiteout != 0 {
		m.lastID++
		wh := &memEntry{id: m.lastID, typ: namespace.Whiteout, parent: e.parent, name: e.name}
		m.entries[wh.id] = wh
		op.children[e.name] = wh.id
		res.WhiteoutID = wh.id
	} else {
		delete(op.children, e.name)
	}
	np.children[newName] = id
	e.parent = newParent
	e.name = newName
	return res, nil
}

func (m *Memory) Link(ctx context.Context, w fsracer.WorkerTag, id, parent namespace.EntryID, name string) (namespace.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return namespace.NoID, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return namespace.NoID, errnoErr("link", "", syscall.ENOENT)
	}
	if e.typ == namespace.Directory {
		return namespace.NoID, errnoErr("link", m.path(e), syscall.EPERM)
	}
	p, ok := m.entries[parent]
	if !ok {
		return namespace.NoID, errnoErr("link", name, syscall.ENOENT)
	}
	if p.typ != namespace.Directory {
		return namespace.NoID, errnoErr("link", m.path(p), syscall.ENOTDIR)
	}
	if _, exists := p.children[name]; exists {
		return namespace.NoID, errnoErr("link", m.path(p)+"/"+name, syscall.EEXIST)
	}

	m.lastID++
	ln := &memEntry{id: m.lastID, typ: e.typ, parent: parent, name: name}
	m.entries[ln.id] = ln
	p.children[name] = ln.id
	return ln.id, nil
}

// Lookup implements fsracer.Prober.
func (m *Memory) Lookup(ctx context.Context, parent namespace.EntryID, name string) (namespace.EntryID, namespace.EntryType, error) {
	if err := ctx.Err(); err != nil {
		return namespace.NoID, namespace.Other, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.entries[parent]
	if !ok || p.typ != namespace.Directory {
		return namespace.NoID, namespace.Other, errnoErr("lookup", name, syscall.ENOENT)
	}
	id, ok := p.children[name]
	if !ok {
		return namespace.NoID, namespace.Other, errnoErr("lookup", m.path(p)+"/"+name, syscall.ENOENT)
	}
	return id, m.entries[id].typ, nil
}

// Len returns the number of live entries, root included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// isAncestor reports whether anc is start or an ancestor of start.
// Caller must hold m.mu.
func (m *Memory) isAncestor(anc, start namespace.EntryID) bool {
	for cur := start; ; {
		if cur == anc {
			return true
		}
		e, ok := m.entries[cur]
		if !ok || cur == namespace.RootID {
			return false
		}
		cur = e.parent
	}
}
