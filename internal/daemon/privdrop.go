//go:build linux

package daemon

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/oferchen/oc-rsync/internal/log"
)

// nobodyUID/GID is the conventional "nobody" identity upstream rsync's
// daemon drops to after chrooting, per spec.md §6 "Daemon":
// "chroot + privilege drop (setuid/setgid to nobody/65534, one-shot)".
const (
	nobodyUID = 65534
	nobodyGID = 65534
)

// dropPrivileges performs a one-shot, irreversible privilege drop. Grounded
// on the teacher's internal/maincmd/privdrop.go, rewired onto
// golang.org/x/sys/unix instead of the standard syscall package per the
// domain-stack wiring in SPEC_FULL.md, and parameterized on the module's
// configured uid/gid instead of always targeting 65534.
func dropPrivileges(logger *log.Logger, uid, gid int) error {
	if unix.Getuid() != 0 {
		return nil
	}
	if uid == 0 {
		uid = nobodyUID
	}
	if gid == 0 {
		gid = nobodyGID
	}

	logger.Printf("running as root (uid 0), dropping privileges to uid=%d gid=%d", uid, gid)
	if err := unix.Setgid(gid); err != nil {
		return fmt.Errorf("setgid(%d): %w", gid, err)
	}
	if err := unix.Setuid(uid); err != nil {
		return fmt.Errorf("setuid(%d): %w", uid, err)
	}

	// Defense in depth: the drop must be irreversible.
	if err := unix.Setgid(0); err == nil {
		return fmt.Errorf("unexpectedly able to re-gain gid 0 permission")
	}
	if err := unix.Setuid(0); err == nil {
		return fmt.Errorf("unexpectedly able to re-gain uid 0 permission")
	}
	return nil
}
