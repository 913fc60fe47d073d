package checksum

import (
	"crypto/md5"
	"hash"
)

// newMD5 returns the default protocol-30..32 strong hash. MD5 is not wired
// to a third-party package: no repo in the corpus vendors an alternate MD5
// implementation, and the standard library's crypto/md5 is upstream rsync's
// own choice of primitive for this exact negotiated slot, so replacing it
// with a third-party package would add a dependency with no behavioral
// benefit. See DESIGN.md.
func newMD5() hash.Hash {
	return md5.New()
}
