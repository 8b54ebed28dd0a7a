//go:build !linux

package adapters

import (
	"fmt"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/config"
)

func registerFuse() {
	Register("fuse", func(_ *config.Config) (fsracer.Executor, CloseFunc, error) {
		return nil, nil, fmt.Errorf("fuse backend requires linux: %w", fsracer.ErrUnsupported)
	})
}
