package dispatch

import (
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/brettbedarf/fsracer/namespace"
)

// binding is the bidirectional mapping between model entry ids and the
// executor backend's own identifiers. Workers read and write it without
// holding model locks, so both directions are concurrent maps.
type binding struct {
	toBackend *xsync.Map[namespace.EntryID, namespace.EntryID]
	toModel   *xsync.Map[namespace.EntryID, namespace.EntryID]
}

func newBinding() *binding {
	b := &binding{
		toBackend: xsync.NewMap[namespace.EntryID, namespace.EntryID](),
		toModel:   xsync.NewMap[namespace.EntryID, namespace.EntryID](),
	}
	// the two roots are born bound
	b.bind(namespace.RootID, namespace.RootID)
	return b
}

func (b *binding) bind(model, backend namespace.EntryID) {
	b.toBackend.Store(model, backend)
	b.toModel.Store(backend, model)
}

func (b *binding) backend(model namespace.EntryID) (namespace.EntryID, bool) {
	return b.toBackend.Load(model)
}

func (b *binding) model(backend namespace.EntryID) (namespace.EntryID, bool) {
	return b.toModel.Load(backend)
}

func (b *binding) drop(model namespace.EntryID) {
	if backend, ok := b.toBackend.LoadAndDelete(model); ok {
		b.toModel.Delete(backend)
	}
}
