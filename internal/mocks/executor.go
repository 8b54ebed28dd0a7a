package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/namespace"
)

// MockExecutor implements fsracer.Executor for testing across packages
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Create(ctx context.Context, w fsracer.WorkerTag, parent namespace.EntryID, name string, typ namespace.EntryType) (namespace.EntryID, error) {
	args := m.Called(ctx, w, parent, name, typ)

	// Handle function return types (for interleaving tests)
	if fn, ok := args.Get(0).(func() namespace.EntryID); ok {
		return fn(), args.Error(1)
	}
	if args.Get(0) == nil {
		return namespace.NoID, args.Error(1)
	}
	return args.Get(0).(namespace.EntryID), args.Error(1)
}

func (m *MockExecutor) Rename(ctx context.Context, w fsracer.WorkerTag, id, newParent namespace.EntryID, newName string, flags fsracer.RenameFlags) (fsracer.RenameResult, error) {
	args := m.Called(ctx, w, id, newParent, newName, flags)

	if fn, ok := args.Get(0).(func() fsracer.RenameResult); ok {
		return fn(), args.Error(1)
	}
	if args.Get(0) == nil {
		return fsracer.RenameResult{}, args.Error(1)
	}
	return args.Get(0).(fsracer.RenameResult), args.Error(1)
}

func (m *MockExecutor) Remove(ctx context.Context, w fsracer.WorkerTag, id namespace.EntryID) error {
	args := m.Called(ctx, w, id)

	if fn, ok := args.Get(0).(func() error); ok {
		return fn()
	}
	return args.Error(0)
}

func (m *MockExecutor) Link(ctx context.Context, w fsracer.WorkerTag, id, parent namespace.EntryID, name string) (namespace.EntryID, error) {
	args := m.Called(ctx, w, id, parent, name)

	if args.Get(0) == nil {
		return namespace.NoID, args.Error(1)
	}
	return args.Get(0).(namespace.EntryID), args.Error(1)
}
