package namespace

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Tree operations. Callers classify with
// errors.Is; none of these carry state beyond identity.
var (
	ErrNotFound        = errors.New("entry not found")
	ErrParentNotFound  = errors.New("parent entry not found")
	ErrNotDirectory    = errors.New("parent is not a directory")
	ErrIsDirectory     = errors.New("entry is a directory")
	ErrDuplicateName   = errors.New("name already exists under parent")
	ErrNotEmpty        = errors.New("directory has live children")
	ErrCycleDetected   = errors.New("cycle in parent chain")
	ErrInvalidArgument = errors.New("invalid argument")
)

// OrphanError reports a live entry whose recorded parent does not resolve to
// a live entry. ID is the entry at which the parent walk broke, Parent the
// identifier it could not resolve.
type OrphanError struct {
	ID     EntryID
	Parent EntryID
}

func (e *OrphanError) Error() string {
	return fmt.Sprintf("fent-id = %d: can't find parent id: %d", e.ID, e.Parent)
}

// InvariantError signals that the tree's own bookkeeping is broken (duplicate
// sibling name, asymmetric child table, multiple roots). Unlike OrphanError
// it indicts the tracker, not the system under test.
type InvariantError struct {
	Check  string
	Detail string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Check, e.Detail)
}
