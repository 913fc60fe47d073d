package daemon

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
)

// checkHostACL evaluates a module's ACL list against the connecting
// address, first-match-wins (spec.md §6 "Daemon": "host ACL (CIDR/glob)").
// Grounded on the teacher's rsyncd.checkACL (rsyncd/rsyncd.go), extended to
// accept a hostname glob in addition to a bare CIDR.
func checkHostACL(acls []string, remoteAddr net.Addr) error {
	if len(acls) == 0 {
		return nil
	}
	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		host = remoteAddr.String()
	}
	remoteIP := net.ParseIP(host)

	for _, acl := range acls {
		i := strings.IndexByte(acl, ' ')
		if i < 0 {
			return fmt.Errorf("invalid acl: %q (no space found)", acl)
		}
		action, who := acl[:i], strings.TrimSpace(acl[i+1:])
		if action != "allow" && action != "deny" {
			return fmt.Errorf("invalid acl: %q (syntax: allow|deny <all|cidr|glob>)", acl)
		}

		matched := who == "all"
		if !matched && remoteIP != nil {
			if _, ipnet, err := net.ParseCIDR(who); err == nil {
				matched = ipnet.Contains(remoteIP)
			}
		}
		if !matched {
			if ok, _ := filepath.Match(who, host); ok {
				matched = true
			}
		}
		if !matched {
			continue
		}
		if action == "allow" {
			return nil
		}
		return fmt.Errorf("access denied by acl %q", acl)
	}
	return nil
}
