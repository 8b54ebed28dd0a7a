// Package adapters provides the executor backends a stress run can target:
// an in-process memory fake, a real directory tree, and a FUSE loopback
// mount, plus the chaos disruptor that wraps any of them.
package adapters

import (
	"fmt"
	"sync"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/config"
)

// CloseFunc tears down a backend's external resources (unmounts, temp dirs).
type CloseFunc func() error

// Factory builds an executor backend from run configuration.
type Factory func(cfg *config.Config) (fsracer.Executor, CloseFunc, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register ties a factory to a backend name and should be called for each
// backend type during app init
func Register(name string, f Factory) {
	mu.Lock()
	factories[name] = f
	mu.Unlock()
}

// New builds the named backend. All expected backend types should be
// registered with [Register] before calling this function.
func New(name string, cfg *config.Config) (fsracer.Executor, CloseFunc, error) {
	mu.RLock()
	f, ok := factories[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("no backend factory for %q", name)
	}
	return f(cfg)
}
