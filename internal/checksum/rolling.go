// Package checksum implements the two checksum kernels the delta engine
// relies on: the O(1)-per-byte rolling weak checksum used to locate
// candidate block matches, and the negotiated strong hash used to confirm
// them (spec.md §4.1).
package checksum

// Rolling is rsync's 32-bit rolling checksum (spec.md §4.1). It must be
// byte-identical to upstream for every window, and must advance in O(1).
//
//	s1 = Σ(b_i + charOffset) mod 2^16
//	s2 = Σ(n-i)·(b_i + charOffset) mod 2^16
//	digest = (s2 << 16) | s1
type Rolling struct {
	s1, s2     uint32
	n          uint32
	charOffset uint32
}

// NewRolling computes the initial digest over window p from scratch.
// charOffset is 0 for protocol 30+ (spec.md §4.7 "Numeric details"); it
// exists only for legacy peers that require a non-zero offset.
func NewRolling(p []byte, charOffset uint32) *Rolling {
	r := &Rolling{charOffset: charOffset, n: uint32(len(p))}
	var s1, s2 uint32
	for i, b := range p {
		v := uint32(b) + charOffset
		s1 += v
		s2 += (uint32(len(p)-i))* v
	}
	r.s1 = s1 & 0xFFFF
	r.s2 = s2 & 0xFFFF
	return r
}

// Digest returns the current 32-bit rolling checksum value.
func (r *Rolling) Digest() uint32 {
	return (r.s2 << 16) | (r.s1 & 0xFFFF)
}

// Roll advances the window by one byte: outgoing leaves, incoming enters.
// This is the O(1) update at the heart of the sender's search (spec.md
// §4.7 "Sender search").
func (r *Rolling) Roll(out, in byte) {
	o := uint32(out) + r.charOffset
	i := uint32(in) + r.charOffset
	r.s1 = (r.s1 + i - o) & 0xFFFF
	r.s2 = (r.s2 + r.s1 - r.n*o) & 0xFFFF
}

// Reset reinitializes the kernel over a new window, e.g. when the sender's
// literal buffer flush forces a resync off block boundaries.
func (r *Rolling) Reset(p []byte) {
	*r = *NewRolling(p, r.charOffset)
}

// RollingChecksum is a free-function convenience wrapper for one-shot digest
// computation, used by tests and by the generator when validating a single
// block without needing to roll across it.
func RollingChecksum(p []byte, charOffset uint32) uint32 {
	return NewRolling(p, charOffset).Digest()
}
