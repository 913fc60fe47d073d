//go:build linux

package daemon

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/oferchen/oc-rsync/internal/log"
)

// chrootModule confines the process to path before the transfer handler
// touches any module data (spec.md §6 "Daemon": "chroot + privilege drop
// (setuid/setgid to nobody/65534, one-shot)"). It must run while the
// process still holds CAP_SYS_CHROOT, i.e. before dropPrivileges.
func chrootModule(logger *log.Logger, path string) error {
	logger.Printf("chrooting to module root %s", path)
	if err := unix.Chroot(path); err != nil {
		return fmt.Errorf("chroot(%s): %w", path, err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir(/) after chroot: %w", err)
	}
	return nil
}
