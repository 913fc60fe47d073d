package generator

import (
	"fmt"
	"io"
	"os"

	"github.com/oferchen/oc-rsync/internal/checksum"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
	ocrsync "github.com/oferchen/oc-rsync"
)

// BlockSig is one entry of a file's block signature: the rolling checksum
// plus truncated strong hash of one block (spec.md §3 "Block signature").
type BlockSig struct {
	Index  int32
	Weak   uint32
	Strong []byte
}

// Signature is the full per-file signature the generator sends to the
// sender (spec.md §4.7 "Generator (receiver side)").
type Signature struct {
	Head   ocrsync.SumHead
	Blocks []BlockSig
}

// ForFile opens the destination file at path (if it exists) and computes its
// block signature. A missing file, or a zero-length file, yields a
// zero-block signature with B=0 so the sender transfers the whole source as
// literal data (spec.md §4.7: "For missing or empty destinations, emit
// B=0").
func ForFile(path string, strongKind checksum.Kind, seed int32, forcedBlockLen int32, expandedMax bool) (Signature, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Signature{Head: SumHeadFor(0, 0, int32(strongKind.Len()))}, nil
		}
		return Signature{}, fmt.Errorf("generator: open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Signature{}, fmt.Errorf("generator: stat %s: %w", path, err)
	}
	if fi.Size() == 0 {
		return Signature{Head: SumHeadFor(0, 0, int32(strongKind.Len()))}, nil
	}

	blockLen := BlockLength(fi.Size(), forcedBlockLen, expandedMax)
	head := SumHeadFor(fi.Size(), blockLen, int32(strongKind.Len()))

	sig := Signature{Head: head, Blocks: make([]BlockSig, 0, head.ChecksumCount)}
	buf := make([]byte, blockLen)
	for i := int32(0); ; i++ {
		n, err := io.ReadFull(f, buf)
		if n == 0 {
			break
		}
		chunk := buf[:n]
		strong, herr := checksum.New(strongKind, seed)
		if herr != nil {
			return Signature{}, herr
		}
		strong.Write(chunk)
		sig.Blocks = append(sig.Blocks, BlockSig{
			Index:  i,
			Weak:   checksum.RollingChecksum(chunk, 0),
			Strong: strong.Sum(nil),
		})
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			break
		}
		if err != nil {
			return Signature{}, fmt.Errorf("generator: reading %s: %w", path, err)
		}
	}
	return sig, nil
}

// WriteSignature sends a Signature over the wire in SumHead-then-blocks
// order (spec.md §4.6 phase 5 "Delta" precursor).
func WriteSignature(c *rsyncwire.Conn, sig Signature) error {
	if err := c.WriteInt32(sig.Head.ChecksumCount); err != nil {
		return err
	}
	if err := c.WriteInt32(sig.Head.BlockLength); err != nil {
		return err
	}
	if err := c.WriteInt32(sig.Head.ChecksumLength); err != nil {
		return err
	}
	if err := c.WriteInt32(sig.Head.RemainderLength); err != nil {
		return err
	}
	for _, b := range sig.Blocks {
		if err := c.WriteInt32(int32(b.Weak)); err != nil {
			return err
		}
		if _, err := c.Write(b.Strong[:sig.Head.ChecksumLength]); err != nil {
			return err
		}
	}
	return nil
}

// ReadSignature is the sender-side counterpart of WriteSignature.
func ReadSignature(c *rsyncwire.Conn) (Signature, error) {
	var head ocrsync.SumHead
	var err error
	if head.ChecksumCount, err = c.ReadInt32(); err != nil {
		return Signature{}, err
	}
	if head.BlockLength, err = c.ReadInt32(); err != nil {
		return Signature{}, err
	}
	if head.ChecksumLength, err = c.ReadInt32(); err != nil {
		return Signature{}, err
	}
	if head.RemainderLength, err = c.ReadInt32(); err != nil {
		return Signature{}, err
	}
	sig := Signature{Head: head, Blocks: make([]BlockSig, 0, head.ChecksumCount)}
	for i := int32(0); i < head.ChecksumCount; i++ {
		weak, err := c.ReadInt32()
		if err != nil {
			return Signature{}, err
		}
		strong, err := c.ReadN(int(head.ChecksumLength))
		if err != nil {
			return Signature{}, err
		}
		sig.Blocks = append(sig.Blocks, BlockSig{Index: i, Weak: uint32(weak), Strong: strong})
	}
	return sig, nil
}
