// Package sessionconfig defines the pre-parsed session record the client
// and server APIs take instead of a raw argv (spec.md §1 Non-goals: "full
// CLI flag surface parsing is out of scope"; spec.md §6 "CLI contract").
// A thin flag-parsing layer belongs in cmd/oc-rsync, one level above this
// package, and maps user flags onto a Config.
package sessionconfig

import "github.com/oferchen/oc-rsync/internal/checksum"

// Config is everything a transfer needs to know once flags, daemon
// defaults, and module settings have already been resolved into concrete
// values.
type Config struct {
	// Sender reports whether the local side acts as the file sender
	// (true) or receiver (false) for this session.
	Sender bool

	Archive        bool
	Recursive      bool
	PreservePerms  bool
	PreserveTimes  bool
	PreserveUID    bool
	PreserveGID    bool
	PreserveLinks  bool
	PreserveDevices bool
	PreserveHardLinks bool
	PreserveXattrs bool
	PreserveACLs   bool

	DeleteMode   bool
	DeleteDelay  bool
	DryRun       bool
	Verbose      bool

	CompressionLevel int
	StrongHashPref   []checksum.Kind

	// BandwidthLimit, in bytes/sec; 0 means unlimited (spec.md §6
	// "Transport": "token-bucket rate limiter").
	BandwidthLimit int

	Source []string
	Dest   string
}

// Archived returns a Config with the common -a bundle applied, mirroring
// upstream's --archive shorthand (spec.md GLOSSARY "archive mode").
func Archived() Config {
	return Config{
		Archive:         true,
		Recursive:       true,
		PreservePerms:   true,
		PreserveTimes:   true,
		PreserveLinks:   true,
		PreserveDevices: true,
		PreserveUID:     true,
		PreserveGID:     true,
	}
}
