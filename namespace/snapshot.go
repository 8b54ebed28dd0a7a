package namespace

import "sort"

// EntryView is one entry's state frozen at snapshot time.
type EntryView struct {
	ID       EntryID
	Parent   EntryID
	Name     string
	Type     EntryType
	Version  uint64
	Target   string
	Children map[string]EntryID // nil unless directory
}

// Snapshot is an immutable view of the live tree. Snapshots are built from
// per-entry atomic state loads, so they are only guaranteed globally
// consistent when taken at a quiescence barrier; the verifier is responsible
// for that.
type Snapshot struct {
	entries map[EntryID]EntryView
}

// NewSnapshot builds a snapshot directly from views. The verifier's tests
// use this to stage trees the locking discipline would never produce.
func NewSnapshot(views []EntryView) *Snapshot {
	s := &Snapshot{entries: make(map[EntryID]EntryView, len(views))}
	for _, v := range views {
		s.entries[v.ID] = v
	}
	return s
}

// Snapshot freezes the current live tree.
func (t *Tree) Snapshot() *Snapshot {
	s := &Snapshot{entries: make(map[EntryID]EntryView, t.registry.Size())}
	t.registry.Range(func(id EntryID, e *Entry) bool {
		st := e.state.Load()
		if st.dead {
			return true
		}
		v := EntryView{
			ID:      id,
			Parent:  st.parent,
			Name:    st.name,
			Type:    e.typ,
			Version: e.version.Load(),
			Target:  st.target,
		}
		if st.children != nil {
			v.Children = make(map[string]EntryID, len(st.children))
			for name, cid := range st.children {
				v.Children[name] = cid
			}
		}
		s.entries[id] = v
		return true
	})
	return s
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// Get returns the view for id.
func (s *Snapshot) Get(id EntryID) (EntryView, bool) {
	v, ok := s.entries[id]
	return v, ok
}

// IDs returns all entry ids in ascending order.
func (s *Snapshot) IDs() []EntryID {
	ids := make([]EntryID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ResolvePath walks the parent chain of id inside the snapshot. Deterministic
// and idempotent: two walks over one snapshot always agree.
func (s *Snapshot) ResolvePath(id EntryID) ([]string, error) {
	if _, ok := s.entries[id]; !ok {
		return nil, ErrNotFound
	}
	limit := len(s.entries) + 1
	names := make([]string, 0, 8)
	cur := id
	for steps := 0; ; steps++ {
		if steps > limit {
			return nil, ErrCycleDetected
		}
		if cur == RootID {
			break
		}
		v, ok := s.entries[cur]
		if !ok {
			// only reachable for ancestors; the id itself was checked above
			return nil, ErrNotFound
		}
		names = append(names, v.Name)
		if _, ok := s.entries[v.Parent]; !ok {
			return nil, &OrphanError{ID: cur, Parent: v.Parent}
		}
		cur = v.Parent
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names, nil
}
