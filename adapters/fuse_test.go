//go:build linux

package adapters

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettbedarf/fsracer/config"
	"github.com/brettbedarf/fsracer/namespace"
)

func TestFuse_LoopbackSmoke(t *testing.T) {
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not usable")
	}
	RegisterBuiltins()
	cfg := config.NewDefaultConfig()
	cfg.Backend = "fuse"

	exec, closer, err := New("fuse", cfg)
	if err != nil {
		// mounting needs fusermount or privileges this environment may lack
		t.Skipf("loopback mount unavailable: %v", err)
	}
	defer func() { require.NoError(t, closer()) }()
	ctx := context.Background()

	dir, err := exec.Create(ctx, tag, namespace.RootID, "dir", namespace.Directory)
	require.NoError(t, err)
	file, err := exec.Create(ctx, tag, dir, "f", namespace.Regular)
	require.NoError(t, err)

	_, err = exec.Rename(ctx, tag, file, namespace.RootID, "g", 0)
	require.NoError(t, err)

	require.NoError(t, exec.Remove(ctx, tag, dir))
	assert.NoError(t, exec.Remove(ctx, tag, file))
}
