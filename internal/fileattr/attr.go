// Package fileattr is the abstract file-attribute model (spec.md §3
// "FileEntry", C4). It is deliberately platform-neutral: anything that
// requires OS-specific probing (owning the "metadata provider" collaborator
// spec.md §1 places out of scope) lives behind the Provider interface so
// this package stays portable.
package fileattr

import "time"

// Type enumerates the FileEntry kinds from spec.md §3.
type Type int

const (
	Regular Type = iota
	Directory
	Symlink
	HardLinkRef
	BlockDevice
	CharDevice
	FIFO
	Socket
)

// Device holds the major/minor numbers for device-special files.
type Device struct {
	Major, Minor uint32
}

// Attr is the abstract metadata record for one FileEntry (spec.md §3).
// Invariants enforced by callers, not this type: a directory's Length is 0;
// a symlink's Target is non-empty; a HardLinkRef's GroupID must reference a
// group already seen earlier in FileList order.
type Attr struct {
	Type Type
	Mode uint32 // 12 permission/setuid/setgid/sticky bits

	ModTime time.Time
	ATime   *time.Time // optional
	BTime   *time.Time // optional crtime

	UID       int32
	UserName  string
	GID       int32
	GroupName string

	Length int64 // regular files only

	SymlinkTarget string
	Device        Device

	Xattrs map[string][]byte
	ACL    *ACL

	// HardLinkGroup is set for the second-and-later occurrence of an
	// inode seen by the walker (spec.md §3 "Hard-link group").
	HardLinkGroup int64
	HardLinkFirst bool
}

// ACL models POSIX access and default ACLs, carried opaquely as upstream's
// own acl_t-serialization would be; this package does not interpret entries,
// only transports them.
type ACL struct {
	Access  []byte
	Default []byte
}

// Provider is the abstract metadata probe the CORE consumes instead of
// calling os.Lstat/syscall directly everywhere, so cross-platform probing
// (explicitly out of scope, spec.md §1) stays swappable.
type Provider interface {
	Lstat(path string) (Attr, error)
	Apply(path string, a Attr) error
}
