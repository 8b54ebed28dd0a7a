//go:build linux

package adapters

import (
	"os"
	"time"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/config"
	"github.com/brettbedarf/fsracer/internal/util"
)

// registerFuse wires the fuse backend: a loopback mount over a backing
// directory, stressed through the mountpoint with the osfs executor. The
// motivating defect class lives in FUSE filesystems, so racing through a
// real mount is the closest reproduction this tool offers.
func registerFuse() {
	Register("fuse", func(cfg *config.Config) (fsracer.Executor, CloseFunc, error) {
		logger := util.GetLogger("adapters.fuse")

		backing := cfg.FuseBacking
		var tmpDirs []string
		if backing == "" {
			dir, err := os.MkdirTemp("", "fsracer-backing")
			if err != nil {
				return nil, nil, err
			}
			backing = dir
			tmpDirs = append(tmpDirs, dir)
		}
		mnt := cfg.BackendPath
		if mnt == "" {
			dir, err := os.MkdirTemp("", "fsracer-mnt")
			if err != nil {
				return nil, nil, err
			}
			mnt = dir
			tmpDirs = append(tmpDirs, dir)
		}

		root, err := gofs.NewLoopbackRoot(backing)
		if err != nil {
			return nil, nil, err
		}

		// zero dentry/attr caching: stale kernel caches would mask exactly
		// the lookup races this tool is hunting
		zero := time.Duration(0)
		server, err := gofs.Mount(mnt, root, &gofs.Options{
			EntryTimeout: &zero,
			AttrTimeout:  &zero,
			MountOptions: fuse.MountOptions{
				FsName: "fsracer",
				Name:   "fsracer",
				Logger: util.NewLogLogger("fuse", util.DebugLevel),
			},
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Str("mnt", mnt).Str("backing", backing).Msg("loopback mount up")

		exec, err := NewOSFS(mnt)
		if err != nil {
			_ = server.Unmount()
			return nil, nil, err
		}
		closer := func() error {
			err := server.Unmount()
			for _, d := range tmpDirs {
				_ = os.RemoveAll(d)
			}
			return err
		}
		return exec, closer, nil
	})
}
