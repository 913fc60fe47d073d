//go:build !linux

package daemon

import (
	"fmt"

	"github.com/oferchen/oc-rsync/internal/log"
)

// chrootModule is unavailable outside Linux in this build: chroot(2)
// semantics and the capability checks around it differ enough across
// platforms that a module configured with use_chroot should be served from
// a Linux host instead of silently running unconfined.
func chrootModule(logger *log.Logger, path string) error {
	return fmt.Errorf("daemon: chroot is not supported on this platform; serve module without use_chroot or run on Linux")
}
