package fileattr

import (
	"io/fs"
	"os"
	"syscall"
)

// OSProvider is the concrete Provider backed by the local filesystem. It is
// one implementation of the abstract metadata provider spec.md §1 places out
// of scope as a collaborator interface; the CORE depends only on Provider.
type OSProvider struct{}

func (OSProvider) Lstat(path string) (Attr, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Attr{}, err
	}
	return fromFileInfo(path, fi)
}

func fromFileInfo(path string, fi fs.FileInfo) (Attr, error) {
	a := Attr{
		Mode:    uint32(fi.Mode().Perm()),
		ModTime: fi.ModTime(),
		Length:  fi.Size(),
	}
	switch {
	case fi.Mode().IsDir():
		a.Type = Directory
		a.Length = 0
	case fi.Mode()&os.ModeSymlink != 0:
		a.Type = Symlink
		target, err := os.Readlink(path)
		if err != nil {
			return Attr{}, err
		}
		a.SymlinkTarget = target
	case fi.Mode()&os.ModeDevice != 0:
		if fi.Mode()&os.ModeCharDevice != 0 {
			a.Type = CharDevice
		} else {
			a.Type = BlockDevice
		}
	case fi.Mode()&os.ModeNamedPipe != 0:
		a.Type = FIFO
	case fi.Mode()&os.ModeSocket != 0:
		a.Type = Socket
	default:
		a.Type = Regular
	}

	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		a.UID = int32(st.Uid)
		a.GID = int32(st.Gid)
		a.Device = Device{
			Major: uint32(st.Rdev >> 8 & 0xff),
			Minor: uint32(st.Rdev & 0xff),
		}
	}
	return a, nil
}

// Apply writes permissions (except on symlinks) and the modification time
// back onto path; it does not change ownership.
// Symlink targets and directories are created by the receiver's own
// reconstruction code (internal/receiver); Apply only sets metadata on an
// already-placed filesystem entry.
func (OSProvider) Apply(path string, a Attr) error {
	if a.Type != Symlink {
		if err := os.Chmod(path, os.FileMode(a.Mode)); err != nil {
			return err
		}
	}
	if !a.ModTime.IsZero() {
		if err := os.Chtimes(path, a.ModTime, a.ModTime); err != nil {
			return err
		}
	}
	return nil
}

// HardLinkKey identifies an inode for the hard-link arena (spec.md §9:
// "Map<(device, inode), path>" / §3 "Hard-link group").
type HardLinkKey struct {
	Device uint64
	Inode  uint64
}

// HardLinkKeyOf extracts the (device, inode) pair from an OS stat result,
// returning ok=false for filesystems/platforms without inode semantics.
func HardLinkKeyOf(fi fs.FileInfo) (HardLinkKey, bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return HardLinkKey{}, false
	}
	return HardLinkKey{Device: uint64(st.Dev), Inode: st.Ino}, true
}
