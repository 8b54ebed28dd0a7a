package adapters

import (
	"os"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/config"
)

// RegisterBuiltins registers all built-in backend factories. Call once
// during app init before adapters.New.
func RegisterBuiltins() {
	Register("memory", func(_ *config.Config) (fsracer.Executor, CloseFunc, error) {
		return NewMemory(), nil, nil
	})
	Register("osfs", func(cfg *config.Config) (fsracer.Executor, CloseFunc, error) {
		root := cfg.BackendPath
		var cleanup CloseFunc
		if root == "" {
			dir, err := os.MkdirTemp("", "fsracer-osfs")
			if err != nil {
				return nil, nil, err
			}
			root = dir
			cleanup = func() error { return os.RemoveAll(dir) }
		}
		exec, err := NewOSFS(root)
		if err != nil {
			return nil, nil, err
		}
		return exec, cleanup, nil
	})
	registerFuse()
}
