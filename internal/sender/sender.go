package sender

import (
	"fmt"
	"io"

	"github.com/oferchen/oc-rsync/internal/checksum"
	"github.com/oferchen/oc-rsync/internal/generator"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
)

// defaultFlushMultiple bounds how large a pending literal run is allowed to
// grow before it is emitted as its own token, independent of whether a match
// is found (spec.md §4.7 "Sender search": "Literal runs are flushed once
// they exceed a configurable threshold, defaulting to the block length").
const defaultFlushMultiple = 1

// Search scans src against sig using the classic rolling-checksum two-level
// match (weak hash bucket lookup, then strong hash verification) and emits
// tokens to emit. The window is rolled one byte at a time in O(1) via
// checksum.Rolling; a match advances a full block length at once.
func Search(src io.Reader, sig generator.Signature, strongKind checksum.Kind, seed int32, emit func(Token) error) error {
	blockLen := int(sig.Head.BlockLength)
	if blockLen <= 0 {
		return literalWholeFile(src, emit)
	}

	byWeak := make(map[uint32][]generator.BlockSig, len(sig.Blocks))
	for _, b := range sig.Blocks {
		byWeak[b.Weak] = append(byWeak[b.Weak], b)
	}

	br := &byteReader{r: src}
	window := make([]byte, 0, blockLen)
	for len(window) < blockLen {
		b, ok, err := br.next()
		if err != nil {
			return fmt.Errorf("sender: reading source: %w", err)
		}
		if !ok {
			break
		}
		window = append(window, b)
	}
	if len(window) == 0 {
		return emit(Token{Kind: TokenEnd})
	}

	var literal []byte
	flushThreshold := blockLen * defaultFlushMultiple

	flushLiteral := func() error {
		if len(literal) == 0 {
			return nil
		}
		if err := emit(Token{Kind: TokenLiteral, Literal: literal}); err != nil {
			return err
		}
		literal = nil
		return nil
	}

	var roll *checksum.Rolling
	if len(window) == blockLen {
		roll = checksum.NewRolling(window, 0)
	}

	for {
		if len(window) == blockLen {
			if candidates, ok := byWeak[roll.Digest()]; ok {
				if blk, matched := verifyStrong(window, candidates, strongKind, seed); matched {
					if err := flushLiteral(); err != nil {
						return err
					}
					if err := emit(Token{Kind: TokenMatch, Block: blk.Index}); err != nil {
						return err
					}
					window = window[:0]
					for len(window) < blockLen {
						b, ok, err := br.next()
						if err != nil {
							return fmt.Errorf("sender: reading source: %w", err)
						}
						if !ok {
							break
						}
						window = append(window, b)
					}
					if len(window) == 0 {
						return emit(Token{Kind: TokenEnd})
					}
					if len(window) == blockLen {
						roll = checksum.NewRolling(window, 0)
					}
					continue
				}
			}
		}

		next, ok, err := br.next()
		if err != nil {
			return fmt.Errorf("sender: reading source: %w", err)
		}
		if !ok {
			// A window shorter than a block at end of input can still match
			// the file's short final block.
			if len(window) < blockLen {
				if candidates, found := byWeak[checksum.RollingChecksum(window, 0)]; found {
					if blk, matched := verifyStrong(window, candidates, strongKind, seed); matched {
						if err := flushLiteral(); err != nil {
							return err
						}
						if err := emit(Token{Kind: TokenMatch, Block: blk.Index}); err != nil {
							return err
						}
						return emit(Token{Kind: TokenEnd})
					}
				}
			}
			literal = append(literal, window...)
			if err := flushLiteral(); err != nil {
				return err
			}
			return emit(Token{Kind: TokenEnd})
		}

		literal = append(literal, window[0])
		if len(literal) >= flushThreshold {
			if err := flushLiteral(); err != nil {
				return err
			}
		}
		roll.Roll(window[0], next)
		window = append(window[1:], next)
	}
}

// byteReader adapts an io.Reader into single-byte pulls without re-reading
// the underlying stream one syscall at a time.
type byteReader struct {
	r   io.Reader
	buf [4096]byte
	n   int
	pos int
}

func (br *byteReader) next() (byte, bool, error) {
	if br.pos >= br.n {
		n, err := br.r.Read(br.buf[:])
		if n == 0 {
			if err == io.EOF {
				return 0, false, nil
			}
			if err != nil {
				return 0, false, err
			}
			return 0, false, nil
		}
		br.n = n
		br.pos = 0
	}
	b := br.buf[br.pos]
	br.pos++
	return b, true, nil
}

func verifyStrong(window []byte, candidates []generator.BlockSig, kind checksum.Kind, seed int32) (generator.BlockSig, bool) {
	h, err := checksum.New(kind, seed)
	if err != nil {
		return generator.BlockSig{}, false
	}
	h.Write(window)
	sum := h.Sum(nil)
	for _, c := range candidates {
		if bytesEqual(sum[:len(c.Strong)], c.Strong) {
			return c, true
		}
	}
	return generator.BlockSig{}, false
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func literalWholeFile(src io.Reader, emit func(Token) error) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if emitErr := emit(Token{Kind: TokenLiteral, Literal: chunk}); emitErr != nil {
				return emitErr
			}
		}
		if err == io.EOF {
			return emit(Token{Kind: TokenEnd})
		}
		if err != nil {
			return fmt.Errorf("sender: reading source: %w", err)
		}
	}
}

// WriteTokens serializes a token stream to the wire (spec.md §3 "Token
// stream"): literal tokens as a positive length-prefixed run, match tokens
// as a negative block index, terminated by a zero marker.
func WriteTokens(c *rsyncwire.Conn, tokens []Token) error {
	for _, t := range tokens {
		switch t.Kind {
		case TokenLiteral:
			if len(t.Literal) == 0 {
				continue
			}
			if err := c.WriteInt32(int32(len(t.Literal))); err != nil {
				return err
			}
			if _, err := c.Write(t.Literal); err != nil {
				return err
			}
		case TokenMatch:
			if err := c.WriteInt32(-(t.Block + 1)); err != nil {
				return err
			}
		case TokenEnd:
			if err := c.WriteInt32(0); err != nil {
				return err
			}
		}
	}
	return nil
}
