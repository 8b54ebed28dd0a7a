package namespace

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper building root/dir/file in one call
func buildSmallTree(t *testing.T) (tree *Tree, dir, file EntryID) {
	t.Helper()
	tree = NewTree()
	var err error
	dir, err = tree.Insert(RootID, "dir", Directory)
	require.NoError(t, err)
	file, err = tree.Insert(dir, "file.txt", Regular)
	require.NoError(t, err)
	return tree, dir, file
}

func TestTree_Insert(t *testing.T) {
	tree := NewTree()

	dir, err := tree.Insert(RootID, "a", Directory)
	require.NoError(t, err)
	assert.Greater(t, uint64(dir), uint64(RootID))

	file, err := tree.Insert(dir, "f", Regular)
	require.NoError(t, err)

	// ids are strictly monotonic
	assert.Greater(t, uint64(file), uint64(dir))

	names, err := tree.ResolvePath(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "f"}, names)
}

func TestTree_Insert_Errors(t *testing.T) {
	tree, dir, file := buildSmallTree(t)

	_, err := tree.Insert(EntryID(9999), "x", Regular)
	assert.ErrorIs(t, err, ErrParentNotFound)

	_, err = tree.Insert(file, "x", Regular)
	assert.ErrorIs(t, err, ErrNotDirectory)

	_, err = tree.Insert(dir, "file.txt", Regular)
	assert.ErrorIs(t, err, ErrDuplicateName)

	_, err = tree.Insert(dir, "", Regular)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = tree.Insert(dir, "..", Regular)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTree_InsertSymlink(t *testing.T) {
	tree := NewTree()
	id, err := tree.InsertSymlink(RootID, "ln", "../elsewhere")
	require.NoError(t, err)

	snap := tree.Snapshot()
	v, ok := snap.Get(id)
	require.True(t, ok)
	assert.Equal(t, Symlink, v.Type)
	assert.Equal(t, "../elsewhere", v.Target)
}

func TestTree_Remove(t *testing.T) {
	tree, dir, file := buildSmallTree(t)

	// directory with a live child refuses removal
	err := tree.Remove(dir)
	assert.ErrorIs(t, err, ErrNotEmpty)

	require.NoError(t, tree.Remove(file))
	assert.False(t, tree.Live(file))
	assert.ErrorIs(t, tree.Remove(file), ErrNotFound)

	// now empty
	require.NoError(t, tree.Remove(dir))

	// removed ids never come back
	next, err := tree.Insert(RootID, "other", Regular)
	require.NoError(t, err)
	assert.NotEqual(t, file, next)
	assert.NotEqual(t, dir, next)

	assert.ErrorIs(t, tree.Remove(RootID), ErrInvalidArgument)
}

func TestTree_Rename_SameParent(t *testing.T) {
	tree, dir, file := buildSmallTree(t)

	require.NoError(t, tree.Rename(file, dir, "renamed.txt"))

	names, err := tree.ResolvePath(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir", "renamed.txt"}, names)

	// old slot is free again
	_, err = tree.Insert(dir, "file.txt", Regular)
	assert.NoError(t, err)
}

func TestTree_Rename_CrossDirectory(t *testing.T) {
	tree, dir, file := buildSmallTree(t)
	other, err := tree.Insert(RootID, "other", Directory)
	require.NoError(t, err)

	require.NoError(t, tree.Rename(file, other, "moved"))

	names, err := tree.ResolvePath(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "moved"}, names)

	// source directory no longer lists it
	snap := tree.Snapshot()
	dv, _ := snap.Get(dir)
	assert.NotContains(t, dv.Children, "file.txt")
}

func TestTree_Rename_Errors(t *testing.T) {
	tree, dir, file := buildSmallTree(t)
	other, err := tree.Insert(dir, "other.txt", Regular)
	require.NoError(t, err)

	assert.ErrorIs(t, tree.Rename(file, dir, "other.txt"), ErrDuplicateName)
	assert.ErrorIs(t, tree.Rename(EntryID(9999), dir, "x"), ErrNotFound)
	assert.ErrorIs(t, tree.Rename(file, EntryID(9999), "x"), ErrParentNotFound)
	assert.ErrorIs(t, tree.Rename(file, other, "x"), ErrNotDirectory)
	assert.ErrorIs(t, tree.Rename(RootID, dir, "x"), ErrInvalidArgument)
}

func TestTree_Rename_CycleDetected(t *testing.T) {
	tree := NewTree()
	a, err := tree.Insert(RootID, "a", Directory)
	require.NoError(t, err)
	b, err := tree.Insert(a, "b", Directory)
	require.NoError(t, err)
	c, err := tree.Insert(b, "c", Directory)
	require.NoError(t, err)

	// moving a under its own grandchild must fail
	assert.ErrorIs(t, tree.Rename(a, c, "looped"), ErrCycleDetected)
	// and under itself
	assert.ErrorIs(t, tree.Rename(a, a, "self"), ErrCycleDetected)

	// everything still resolves
	for _, id := range []EntryID{a, b, c} {
		_, err := tree.ResolvePath(id)
		assert.NoError(t, err)
	}
}

func TestTree_RenameWhiteout(t *testing.T) {
	tree, dir, file := buildSmallTree(t)
	other, err := tree.Insert(RootID, "other", Directory)
	require.NoError(t, err)

	wid, err := tree.RenameWhiteout(file, other, "moved")
	require.NoError(t, err)
	require.NotEqual(t, NoID, wid)

	// the placeholder sits at the vacated source slot
	names, err := tree.ResolvePath(wid)
	require.NoError(t, err)
	assert.Equal(t, []string{"dir", "file.txt"}, names)

	snap := tree.Snapshot()
	wv, ok := snap.Get(wid)
	require.True(t, ok)
	assert.Equal(t, Whiteout, wv.Type)
	assert.Equal(t, dir, wv.Parent)

	names, err = tree.ResolvePath(file)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "moved"}, names)
}

func TestTree_RenameWhiteout_SameSlot(t *testing.T) {
	tree, dir, file := buildSmallTree(t)
	before := tree.Len()

	// renaming onto the entry's own slot is a no-op and must not plant a
	// whiteout the child table would immediately orphan
	wid, err := tree.RenameWhiteout(file, dir, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, NoID, wid)
	assert.Equal(t, before, tree.Len())

	require.NoError(t, tree.Rename(file, dir, "file.txt"))

	snap := tree.Snapshot()
	dv, ok := snap.Get(dir)
	require.True(t, ok)
	assert.Equal(t, file, dv.Children["file.txt"])
	// every live entry is indexed by its parent under its own name
	for _, id := range snap.IDs() {
		v, _ := snap.Get(id)
		if id == RootID {
			continue
		}
		p, ok := snap.Get(v.Parent)
		require.True(t, ok)
		assert.Equal(t, id, p.Children[v.Name], "id %d not indexed by parent", id)
	}
}

func TestTree_Exchange(t *testing.T) {
	tree := NewTree()
	a, err := tree.Insert(RootID, "a", Directory)
	require.NoError(t, err)
	b, err := tree.Insert(RootID, "b", Directory)
	require.NoError(t, err)
	fa, err := tree.Insert(a, "fa", Regular)
	require.NoError(t, err)
	fb, err := tree.Insert(b, "fb", Regular)
	require.NoError(t, err)

	require.NoError(t, tree.Exchange(fa, fb))

	names, err := tree.ResolvePath(fa)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "fb"}, names)
	names, err = tree.ResolvePath(fb)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "fa"}, names)

	// exchanging a directory with its own descendant's slot must refuse
	sub, err := tree.Insert(a, "sub", Directory)
	require.NoError(t, err)
	assert.ErrorIs(t, tree.Exchange(a, sub), ErrCycleDetected)

	assert.NoError(t, tree.Exchange(fa, fa))
	assert.ErrorIs(t, tree.Exchange(fa, EntryID(9999)), ErrNotFound)
}

func TestTree_Link(t *testing.T) {
	tree, dir, file := buildSmallTree(t)

	ln, err := tree.Link(file, RootID, "hard")
	require.NoError(t, err)

	names, err := tree.ResolvePath(ln)
	require.NoError(t, err)
	assert.Equal(t, []string{"hard"}, names)

	// links refuse directories and occupied slots
	_, err = tree.Link(dir, RootID, "dirlink")
	assert.ErrorIs(t, err, ErrIsDirectory)
	_, err = tree.Link(file, dir, "file.txt")
	assert.ErrorIs(t, err, ErrDuplicateName)

	// removing the original leaves the link resolvable
	require.NoError(t, tree.Remove(file))
	_, err = tree.ResolvePath(ln)
	assert.NoError(t, err)
}

func TestTree_ResolvePath_Orphan(t *testing.T) {
	tree, _, file := buildSmallTree(t)

	_, err := tree.ResolvePath(EntryID(9999))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, tree.Remove(file))
	_, err = tree.ResolvePath(file)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot_Idempotent(t *testing.T) {
	tree, dir, file := buildSmallTree(t)
	_, err := tree.Insert(dir, "second", Regular)
	require.NoError(t, err)
	require.NoError(t, tree.Rename(file, RootID, "hoisted"))

	snap := tree.Snapshot()
	resolveAll := func() map[EntryID]string {
		out := make(map[EntryID]string)
		for _, id := range snap.IDs() {
			names, err := snap.ResolvePath(id)
			require.NoError(t, err)
			out[id] = fmt.Sprint(names)
		}
		return out
	}
	first := resolveAll()
	second := resolveAll()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("snapshot resolution not idempotent (-first +second):\n%s", diff)
	}

	// later mutations don't leak into an existing snapshot
	require.NoError(t, tree.Remove(file))
	_, ok := snap.Get(file)
	assert.True(t, ok)
}

func TestSnapshot_OrphanStaging(t *testing.T) {
	snap := NewSnapshot([]EntryView{
		{ID: RootID, Type: Directory, Children: map[string]EntryID{"a": 2}},
		{ID: 2, Parent: RootID, Name: "a", Type: Directory, Children: map[string]EntryID{"f": 126}},
		{ID: 126, Parent: 125, Name: "f", Type: Regular}, // parent 125 is gone
	})
	_, err := snap.ResolvePath(126)
	var oe *OrphanError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, EntryID(126), oe.ID)
	assert.Equal(t, EntryID(125), oe.Parent)
	assert.Equal(t, "fent-id = 126: can't find parent id: 125", oe.Error())
}

// The motivating defect: entry created under a parent while one worker
// removes that parent and another renames into it. Under no interleaving may
// a live child end up with a dead parent.
func TestTree_RemoveVersusInsertRace(t *testing.T) {
	tree := NewTree()

	for i := 0; i < 200; i++ {
		parent, err := tree.Insert(RootID, fmt.Sprintf("p%d", i), Directory)
		require.NoError(t, err)
		stray, err := tree.Insert(RootID, fmt.Sprintf("s%d", i), Regular)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, err := tree.Insert(parent, "child", Regular)
			assert.True(t, err == nil || errors.Is(err, ErrParentNotFound), "insert: %v", err)
		}()
		go func() {
			defer wg.Done()
			err := tree.Remove(parent)
			assert.True(t, err == nil || errors.Is(err, ErrNotEmpty), "remove: %v", err)
		}()
		go func() {
			defer wg.Done()
			err := tree.Rename(stray, parent, "moved")
			assert.True(t, err == nil || errors.Is(err, ErrParentNotFound), "rename: %v", err)
		}()
		wg.Wait()

		// every survivor must still resolve to root
		snap := tree.Snapshot()
		for _, id := range snap.IDs() {
			_, err := snap.ResolvePath(id)
			assert.NoError(t, err, "iteration %d id %d", i, id)
		}

		// reset for the next round
		for _, id := range snap.IDs() {
			v, _ := snap.Get(id)
			if id != RootID && v.Type != Directory {
				_ = tree.Remove(id)
			}
		}
		_ = tree.Remove(parent)
	}
}

func TestTree_RenameAtomicity(t *testing.T) {
	tree := NewTree()
	a, err := tree.Insert(RootID, "a", Directory)
	require.NoError(t, err)
	b, err := tree.Insert(RootID, "b", Directory)
	require.NoError(t, err)
	f, err := tree.Insert(a, "f", Regular)
	require.NoError(t, err)

	e, ok := tree.Get(f)
	require.True(t, ok)

	done := make(chan struct{})
	var torn atomic.Int64
	var wg sync.WaitGroup

	// readers: at every instant the entry's parent is a or b, never else
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				if p := e.Parent(); p != a && p != b {
					torn.Add(1)
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		cur := a
		for i := 0; i < 2000; i++ {
			next := b
			if cur == b {
				next = a
			}
			if !assert.NoError(t, tree.Rename(f, next, "f")) {
				return
			}
			cur = next
		}
	}()

	wg.Wait()
	assert.Zero(t, torn.Load(), "reader observed a parent that was neither pre- nor post-rename")
}

func TestTree_ConcurrentStress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}
	tree := NewTree()

	// shared base dirs all workers fight over
	var base []EntryID
	for i := 0; i < 4; i++ {
		id, err := tree.Insert(RootID, fmt.Sprintf("base%d", i), Directory)
		require.NoError(t, err)
		base = append(base, id)
	}

	const workers = 8
	const opsEach = 2000
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(w) + 42))
			var mine []EntryID
			for i := 0; i < opsEach; i++ {
				parent := base[rng.Intn(len(base))]
				switch rng.Intn(4) {
				case 0, 1:
					if id, err := tree.Insert(parent, fmt.Sprintf("w%d_%d", w, i), Regular); err == nil {
						mine = append(mine, id)
					}
				case 2:
					if len(mine) > 0 {
						idx := rng.Intn(len(mine))
						if err := tree.Remove(mine[idx]); err == nil {
							mine = append(mine[:idx], mine[idx+1:]...)
						}
					}
				case 3:
					if len(mine) > 0 {
						id := mine[rng.Intn(len(mine))]
						_ = tree.Rename(id, parent, fmt.Sprintf("r%d_%d", w, i))
					}
				}
			}
		}(w)
	}
	wg.Wait()

	// quiescent resolvability: every live entry reaches root
	snap := tree.Snapshot()
	for _, id := range snap.IDs() {
		names, err := snap.ResolvePath(id)
		require.NoError(t, err, "id %d", id)
		assert.LessOrEqual(t, len(names), snap.Len())
	}
}
