package adapters

import (
	"context"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/internal/util"
	"github.com/brettbedarf/fsracer/namespace"
)

// OSFS drives a real directory tree as the system under test. The id-based
// executor contract is translated into paths through an id table the backend
// maintains itself; errors come back from the OS as *fs.PathError wrapping
// syscall.Errno, untouched.
type OSFS struct {
	root   string
	mu     sync.Mutex
	nodes  map[namespace.EntryID]*osNode
	lastID namespace.EntryID
	logger util.Logger
}

type osNode struct {
	parent namespace.EntryID
	name   string
	typ    namespace.EntryType
}

// NewOSFS returns a backend rooted at dir, which must exist.
func NewOSFS(dir string) (*OSFS, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("osfs root %s: %w", dir, syscall.ENOTDIR)
	}
	o := &OSFS{
		root:   dir,
		nodes:  map[namespace.EntryID]*osNode{namespace.RootID: {typ: namespace.Directory}},
		lastID: namespace.RootID,
		logger: util.GetLogger("adapters.osfs"),
	}
	return o, nil
}

// path resolves an id to an absolute path. Caller must hold o.mu.
func (o *OSFS) path(id namespace.EntryID) (string, error) {
	if id == namespace.RootID {
		return o.root, nil
	}
	var parts []string
	for cur := id; cur != namespace.RootID; {
		n, ok := o.nodes[cur]
		if !ok {
			return "", &iofs.PathError{Op: "resolve", Path: fmt.Sprint(cur), Err: syscall.ENOENT}
		}
		parts = append(parts, n.name)
		cur = n.parent
	}
	p := o.root
	for i := len(parts) - 1; i >= 0; i-- {
		p = filepath.Join(p, parts[i])
	}
	return p, nil
}

// findChild scans the table for a (parent, name) binding.
// Caller must hold o.mu.
func (o *OSFS) findChild(parent namespace.EntryID, name string) (namespace.EntryID, bool) {
	for id, n := range o.nodes {
		if n.parent == parent && n.name == name && id != namespace.RootID {
			return id, true
		}
	}
	return namespace.NoID, false
}

func (o *OSFS) Create(ctx context.Context, w fsracer.WorkerTag, parent namespace.EntryID, name string, typ namespace.EntryType) (namespace.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return namespace.NoID, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	dir, err := o.path(parent)
	if err != nil {
		return namespace.NoID, err
	}
	full := filepath.Join(dir, name)

	switch typ {
	case namespace.Directory:
		err = os.Mkdir(full, 0o755)
	case namespace.Regular:
		var f *os.File
		f, err = os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			err = f.Close()
		}
	case namespace.Symlink:
		err = os.Symlink("dangling", full)
	default:
		err = makeSpecial(full, typ)
	}
	if err != nil {
		return namespace.NoID, err
	}

	o.lastID++
	o.nodes[o.lastID] = &osNode{parent: parent, name: name, typ: typ}
	return o.lastID, nil
}

func (o *OSFS) Remove(ctx context.Context, w fsracer.WorkerTag, id namespace.EntryID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if id == namespace.RootID {
		return &iofs.PathError{Op: "remove", Path: o.root, Err: syscall.EBUSY}
	}
	full, err := o.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return err
	}
	delete(o.nodes, id)
	return nil
}

func (o *OSFS) Rename(ctx context.Context, w fsracer.WorkerTag, id, newParent namespace.EntryID, newName string, flags fsracer.RenameFlags) (fsracer.RenameResult, error) {
	var res fsracer.RenameResult
	if err := ctx.Err(); err != nil {
		return res, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	n, ok := o.nodes[id]
	if !ok || id == namespace.RootID {
		return res, &iofs.PathError{Op: "rename", Path: fmt.Sprint(id), Err: syscall.ENOENT}
	}
	oldPath, err := o.path(id)
	if err != nil {
		return res, err
	}
	dir, err := o.path(newParent)
	if err != nil {
		return res, err
	}
	newPath := filepath.Join(dir, newName)

	if n.parent == newParent && n.name == newName && flags&fsracer.RenameExchange == 0 {
		// same-dentry rename is a no-op; skipping the syscall also keeps the
		// table from registering a whiteout the slot would never reference
		return res, nil
	}

	if err := renameat2(oldPath, newPath, flags); err != nil {
		return res, err
	}

	if flags&fsracer.RenameExchange != 0 {
		if otherID, ok := o.findChild(newParent, newName); ok {
			other := o.nodes[otherID]
			n.parent, other.parent = other.parent, n.parent
			n.name, other.name = other.name, n.name
			res.ExchangedID = otherID
		}
		return res, nil
	}
	if destID, ok := o.findChild(newParent, newName); ok && destID != id {
		// replaced by the rename
		delete(o.nodes, destID)
	}
	if flags&fsracer.RenameWhiteout != 0 {
		o.lastID++
		o.nodes[o.lastID] = &osNode{parent: n.parent, name: n.name, typ: namespace.Whiteout}
		res.WhiteoutID = o.lastID
	}
	n.parent = newParent
	n.name = newName
	return res, nil
}

func (o *OSFS) Link(ctx context.Context, w fsracer.WorkerTag, id, parent namespace.EntryID, name string) (namespace.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return namespace.NoID, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	n, ok := o.nodes[id]
	if !ok {
		return namespace.NoID, &iofs.PathError{Op: "link", Path: fmt.Sprint(id), Err: syscall.ENOENT}
	}
	src, err := o.path(id)
	if err != nil {
		return namespace.NoID, err
	}
	dir, err := o.path(parent)
	if err != nil {
		return namespace.NoID, err
	}
	full := filepath.Join(dir, name)
	if err := os.Link(src, full); err != nil {
		return namespace.NoID, err
	}

	o.lastID++
	o.nodes[o.lastID] = &osNode{parent: parent, name: name, typ: n.typ}
	return o.lastID, nil
}

// Lookup implements fsracer.Prober against the real directory. Entries
// present on disk but missing from the table (a create whose outcome was
// lost) are adopted under a fresh id so recovery can converge.
func (o *OSFS) Lookup(ctx context.Context, parent namespace.EntryID, name string) (namespace.EntryID, namespace.EntryType, error) {
	if err := ctx.Err(); err != nil {
		return namespace.NoID, namespace.Other, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	dir, err := o.path(parent)
	if err != nil {
		return namespace.NoID, namespace.Other, err
	}
	fi, err := os.Lstat(filepath.Join(dir, name))
	if err != nil {
		return namespace.NoID, namespace.Other, err
	}
	typ := detectType(fi)

	if id, ok := o.findChild(parent, name); ok {
		return id, o.nodes[id].typ, nil
	}
	o.lastID++
	o.nodes[o.lastID] = &osNode{parent: parent, name: name, typ: typ}
	return o.lastID, typ, nil
}
