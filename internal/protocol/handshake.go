// Package protocol drives the session-level state machine: version
// handshake, capability exchange, and phase sequencing (spec.md §4.6, C7).
// File-list wire encoding itself lives in internal/flist; this package owns
// what precedes and follows it.
package protocol

import (
	"fmt"
	"math/rand"

	"github.com/oferchen/oc-rsync/internal/checksum"
	"github.com/oferchen/oc-rsync/internal/rsynccodec"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
	ocrsync "github.com/oferchen/oc-rsync"
)

// Negotiated bundles everything decided during the handshake and
// capability exchange (spec.md §3 "Session state").
type Negotiated struct {
	Version             int
	ChecksumSeed        int32
	StrongHash          checksum.Kind
	Codec               rsynccodec.ID
	CodecLevel          int
	IncrementalRecursion bool
	Xattrs              bool
	ACLs                bool
	Has64BitLengths      bool
}

// Handshake performs the version exchange (spec.md §4.6 phase 1 "Greet" for
// the in-band variant; the daemon's `@RSYNCD:` line variant lives in
// internal/daemon). isServer controls who sends first: by convention the
// side that already knows the peer's version (the server) replies with the
// negotiated minimum.
func Handshake(c *rsyncwire.Conn, isServer bool) (version int, err error) {
	if isServer {
		peer, err := c.ReadInt32()
		if err != nil {
			return 0, err
		}
		negotiated := minInt(int(peer), ocrsync.ProtocolVersion)
		if negotiated < ocrsync.MinProtocolVersion {
			return 0, fmt.Errorf("protocol: peer version %d below minimum supported %d", peer, ocrsync.MinProtocolVersion)
		}
		if err := c.WriteInt32(int32(negotiated)); err != nil {
			return 0, err
		}
		return negotiated, nil
	}

	if err := c.WriteInt32(ocrsync.ProtocolVersion); err != nil {
		return 0, err
	}
	peer, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	negotiated := minInt(int(peer), ocrsync.ProtocolVersion)
	if negotiated < ocrsync.MinProtocolVersion {
		return 0, fmt.Errorf("protocol: peer version %d below minimum supported %d", peer, ocrsync.MinProtocolVersion)
	}
	return negotiated, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SendSeed is called by the sender side to transmit the 4-byte
// checksum_seed (spec.md §4.6 phase 3 "Capabilities": "Sender sends a 4-byte
// checksum_seed").
func SendSeed(c *rsyncwire.Conn) (int32, error) {
	seed := rand.Int31()
	if err := c.WriteInt32(seed); err != nil {
		return 0, err
	}
	return seed, nil
}

// RecvSeed is the receiver-side counterpart of SendSeed.
func RecvSeed(c *rsyncwire.Conn) (int32, error) {
	return c.ReadInt32()
}

// NegotiateCapabilities derives the Negotiated record for a given protocol
// version and the locally-requested feature set (spec.md §4.6 phase 3):
// "Unknown flags are ignored when version < advertising version".
func NegotiateCapabilities(version int, seed int32, wantXattrs, wantACLs, wantIncRecurse bool, strongHashPref []checksum.Kind, peerStrongHash []checksum.Kind, codecPref []rsynccodec.ID, peerCodec []rsynccodec.ID, codecLevel int) Negotiated {
	n := Negotiated{
		Version:      version,
		ChecksumSeed: seed,
		Has64BitLengths: version >= ocrsync.VersionWith64BitLengths,
		CodecLevel:   codecLevel,
	}
	if version < ocrsync.VersionWith64BitLengths {
		// Below protocol 32, xattrs/ACLs/incremental-recursion/atimes are
		// neither sent nor expected (spec.md §6 "Daemon TCP" / §4.1).
		n.Xattrs = false
		n.ACLs = false
		n.IncrementalRecursion = false
	} else {
		n.Xattrs = wantXattrs
		n.ACLs = wantACLs
		n.IncrementalRecursion = wantIncRecurse
	}
	n.StrongHash = checksum.Negotiate(strongHashPref, peerStrongHash)
	n.Codec = rsynccodec.Negotiate(peerCodec, codecPref)
	return n
}
