//go:build !linux

package daemon

import (
	"github.com/oferchen/oc-rsync/internal/log"
)

// dropPrivileges is a no-op outside Linux: setuid/setgid semantics differ
// enough across platforms (notably Windows) that this build is intended
// for operator-supervised, non-root daemon processes there instead.
func dropPrivileges(logger *log.Logger, uid, gid int) error {
	logger.Printf("privilege drop not implemented on this platform; run as a non-root user instead")
	return nil
}
