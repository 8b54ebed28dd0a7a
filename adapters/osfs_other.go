//go:build !linux

package adapters

import (
	"fmt"
	iofs "io/fs"
	"os"
	"syscall"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/namespace"
)

func makeSpecial(path string, typ namespace.EntryType) error {
	return fmt.Errorf("create %s %s: %w", typ, path, fsracer.ErrUnsupported)
}

// renameat2 emulates RENAME_NOREPLACE on platforms without the syscall; the
// exchange and whiteout variants are refused outright.
func renameat2(oldPath, newPath string, flags fsracer.RenameFlags) error {
	if flags&(fsracer.RenameExchange|fsracer.RenameWhiteout) != 0 {
		return fmt.Errorf("rename %s: %w", newPath, fsracer.ErrUnsupported)
	}
	if flags&fsracer.RenameNoReplace != 0 {
		// racy stat-then-rename, acceptable for the fallback platform
		if _, err := os.Lstat(newPath); err == nil {
			return &iofs.PathError{Op: "rename", Path: newPath, Err: syscall.EEXIST}
		}
	}
	return os.Rename(oldPath, newPath)
}

func detectType(fi os.FileInfo) namespace.EntryType {
	mode := fi.Mode()
	switch {
	case mode.IsDir():
		return namespace.Directory
	case mode&os.ModeSymlink != 0:
		return namespace.Symlink
	case mode.IsRegular():
		return namespace.Regular
	default:
		return namespace.Other
	}
}
