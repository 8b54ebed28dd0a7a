// Package fsracer is a concurrent namespace consistency tracker: an
// in-memory model of a filesystem tree plus a verification engine used to
// stress a storage layer under heavy concurrent create/rename/link/unlink
// traffic.
//
// Workers issue operations against an Executor (the system under test),
// mirror each successful outcome into the namespace.Tree model, and at
// quiescence barriers a verifier resolves every live entry's parent chain
// back to root. An entry whose parent cannot be resolved is reported as an
// orphan in a fixed machine-parseable format on stdout.
//
// The root package holds only the contracts shared between the model, the
// executor backends and the dispatch layer; composition lives in
// package harness.
package fsracer

import (
	"context"
	"errors"

	"github.com/brettbedarf/fsracer/namespace"
)

// WorkerTag labels the worker issuing an operation. It is threaded through
// every call explicitly (never derived from goroutine identity) and is
// reused verbatim in diagnostics.
type WorkerTag string

// RenameFlags selects the rename variant, mirroring renameat2 semantics.
type RenameFlags uint

const (
	// RenameNoReplace rejects an occupied destination.
	RenameNoReplace RenameFlags = 1 << iota
	// RenameExchange atomically swaps source and destination; both must exist.
	RenameExchange
	// RenameWhiteout moves the source and leaves a whiteout placeholder at
	// the vacated location.
	RenameWhiteout
)

// RenameResult carries backend-side outcomes of a rename beyond plain
// success. WhiteoutID is set when a RenameWhiteout created a placeholder;
// ExchangedID identifies the entry that occupied the destination in a
// RenameExchange, so the caller can mirror the swap it actually got rather
// than the one it intended.
type RenameResult struct {
	WhiteoutID  namespace.EntryID
	ExchangedID namespace.EntryID
}

// ErrInterrupted means the executor lost the outcome of an operation
// mid-flight: the operation may or may not have taken effect. The dispatcher
// must resolve such operations through a recovery pass rather than drop them.
var ErrInterrupted = errors.New("operation outcome lost")

// ErrUnsupported is returned by backends for rename variants the underlying
// platform cannot express.
var ErrUnsupported = errors.New("operation not supported by backend")

// Executor performs the real mutating call against the system under test and
// returns its authoritative outcome. Identifiers are the executor's own; the
// dispatch layer keeps the binding between model ids and executor ids.
//
// Calls may block arbitrarily long when a Disruptor is active; callers must
// never hold model locks across them.
type Executor interface {
	Create(ctx context.Context, w WorkerTag, parent namespace.EntryID, name string, typ namespace.EntryType) (namespace.EntryID, error)
	Rename(ctx context.Context, w WorkerTag, id, newParent namespace.EntryID, newName string, flags RenameFlags) (RenameResult, error)
	Remove(ctx context.Context, w WorkerTag, id namespace.EntryID) error
	Link(ctx context.Context, w WorkerTag, id, parent namespace.EntryID, name string) (namespace.EntryID, error)
}

// Prober is implemented by executors that can answer point lookups. The
// recovery pass uses it to re-derive the truth for operations whose outcome
// was lost.
type Prober interface {
	Lookup(ctx context.Context, parent namespace.EntryID, name string) (namespace.EntryID, namespace.EntryType, error)
}

// Disruptor is the perturbation contract: while enabled, any Executor call
// may be delayed arbitrarily, fail, or lose its outcome, but must eventually
// return.
type Disruptor interface {
	Enable()
	Disable()
}
