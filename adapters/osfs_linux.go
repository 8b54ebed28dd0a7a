//go:build linux

package adapters

import (
	iofs "io/fs"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/brettbedarf/fsracer"
	"github.com/brettbedarf/fsracer/namespace"
)

// makeSpecial creates the on-disk form of the non-plain entry types. A
// whiteout is a 0:0 character device, the marker overlay filesystems leave
// behind at a whiteout-rename source.
func makeSpecial(path string, typ namespace.EntryType) error {
	switch typ {
	case namespace.Whiteout:
		if err := unix.Mknod(path, unix.S_IFCHR|0o600, int(unix.Mkdev(0, 0))); err != nil {
			return &iofs.PathError{Op: "mknod", Path: path, Err: err}
		}
		return nil
	default:
		if err := unix.Mkfifo(path, 0o644); err != nil {
			return &iofs.PathError{Op: "mkfifo", Path: path, Err: err}
		}
		return nil
	}
}

func renameat2(oldPath, newPath string, flags fsracer.RenameFlags) error {
	var bits uint
	if flags&fsracer.RenameNoReplace != 0 {
		bits |= unix.RENAME_NOREPLACE
	}
	if flags&fsracer.RenameExchange != 0 {
		bits |= unix.RENAME_EXCHANGE
	}
	if flags&fsracer.RenameWhiteout != 0 {
		bits |= unix.RENAME_WHITEOUT
	}
	if err := unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, bits); err != nil {
		return &os.LinkError{Op: "renameat2", Old: oldPath, New: newPath, Err: err}
	}
	return nil
}

func detectType(fi os.FileInfo) namespace.EntryType {
	mode := fi.Mode()
	switch {
	case mode.IsDir():
		return namespace.Directory
	case mode&os.ModeSymlink != 0:
		return namespace.Symlink
	case mode&os.ModeCharDevice != 0:
		if st, ok := fi.Sys().(*syscall.Stat_t); ok && st.Rdev == 0 {
			return namespace.Whiteout
		}
		return namespace.Other
	case mode.IsRegular():
		return namespace.Regular
	default:
		return namespace.Other
	}
}
