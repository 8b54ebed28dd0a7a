package namespace

import (
	"sync"
	"sync/atomic"
)

// EntryID identifies one namespace entry. IDs are allocated from an atomic
// counter and never reused for the lifetime of a Tree, so ascending id is a
// stable total order usable for lock ranking.
type EntryID uint64

const (
	// NoID is the null identifier; the root's parent field carries it.
	NoID EntryID = 0
	// RootID is the fixed identifier of the root directory.
	RootID EntryID = 1
)

// EntryType is the namespace-visible kind of an entry.
type EntryType uint8

const (
	Regular EntryType = iota
	Directory
	Symlink
	// Whiteout is the placeholder type a whiteout-rename leaves at the
	// source location.
	Whiteout
	Other
)

func (t EntryType) String() string {
	switch t {
	case Regular:
		return "regular"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	case Whiteout:
		return "whiteout"
	default:
		return "other"
	}
}

// entryState is the mutable half of an Entry. Mutators clone the current
// state, edit the clone while holding the entry mutex, and publish it with a
// single atomic store. Readers load whichever state is current and can never
// observe a half-applied rename.
type entryState struct {
	name     string
	parent   EntryID
	dead     bool
	children map[string]EntryID // live children by name; nil unless directory
	target   string             // symlink target, informational only
}

func (s *entryState) clone() *entryState {
	next := &entryState{
		name:   s.name,
		parent: s.parent,
		dead:   s.dead,
		target: s.target,
	}
	if s.children != nil {
		next.children = make(map[string]EntryID, len(s.children))
		for name, id := range s.children {
			next.children[name] = id
		}
	}
	return next
}

// Entry is one node of the namespace tree. id and typ are immutable;
// everything mutable lives in the state pointer.
type Entry struct {
	id      EntryID
	typ     EntryType
	mu      sync.Mutex // serializes mutators; readers never take it
	state   atomic.Pointer[entryState]
	version atomic.Uint64
}

func newEntry(id EntryID, typ EntryType, parent EntryID, name string) *Entry {
	e := &Entry{id: id, typ: typ}
	st := &entryState{name: name, parent: parent}
	if typ == Directory {
		st.children = make(map[string]EntryID)
	}
	e.state.Store(st)
	return e
}

func (e *Entry) ID() EntryID     { return e.id }
func (e *Entry) Type() EntryType { return e.typ }

// Name returns the entry's current name (thread-safe).
func (e *Entry) Name() string { return e.state.Load().name }

// Parent returns the current parent id; NoID for the root and for removed
// entries.
func (e *Entry) Parent() EntryID { return e.state.Load().parent }

// Version returns the per-entry mutation counter.
func (e *Entry) Version() uint64 { return e.version.Load() }

// Dead reports whether the entry has been removed from the tree.
func (e *Entry) Dead() bool { return e.state.Load().dead }

// publish installs next as the entry's current state and bumps the version
// counter. Caller must hold e.mu.
func (e *Entry) publish(next *entryState) {
	e.state.Store(next)
	e.version.Add(1)
}
