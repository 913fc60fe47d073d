// Package rsynccodec implements the stream codecs negotiated for the
// multiplexed DATA channel (spec.md §4.2). Bit-exactness with upstream
// matters only for the zlib/zlibx pair; zstd and lz4 are protocol-32
// extensions negotiated only when both peers advertise them.
package rsynccodec

import (
	"compress/flate"
	"fmt"
	"io"

	kzstd "github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	ddzstd "github.com/DataDog/zstd"
)

// ID identifies a negotiated stream codec (spec.md §4.2).
type ID int

const (
	None ID = iota
	Zlib
	Zlibx
	Zstd
	LZ4
)

func (id ID) String() string {
	switch id {
	case None:
		return "none"
	case Zlib:
		return "zlib"
	case Zlibx:
		return "zlibx"
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// Negotiate picks the peer's highest-preference codec the local side also
// supports (spec.md §4.2: "sender picks the peer's highest-preference codec
// it also supports").
func Negotiate(peerPreference []ID, localSupported []ID) ID {
	supported := make(map[ID]bool, len(localSupported))
	for _, id := range localSupported {
		supported[id] = true
	}
	for _, id := range peerPreference {
		if supported[id] {
			return id
		}
	}
	return None
}

// Encoder compresses one stream's worth of output bytes under the
// negotiated codec and level.
type Encoder interface {
	io.WriteCloser
	// Flush forces a sync point. The Zlib and Zlibx encoders both call
	// compress/flate's Flush and produce the same bytes; no zlibx-specific
	// trailing-block handling is done.
	Flush() error
}

// Decoder decompresses a codec stream back into plain bytes.
type Decoder interface {
	io.ReadCloser
}

// NewEncoder returns an Encoder for id writing to w at the given level
// (sender-controlled, spec.md §4.2 "Compression level is sender-controlled
// within bounds the peer accepts").
func NewEncoder(id ID, w io.Writer, level int) (Encoder, error) {
	switch id {
	case None:
		return &passthroughEncoder{w: w}, nil
	case Zlib:
		fw, err := flate.NewWriter(w, clampLevel(level))
		if err != nil {
			return nil, err
		}
		return &flateEncoder{fw: fw}, nil
	case Zlibx:
		fw, err := flate.NewWriter(w, clampLevel(level))
		if err != nil {
			return nil, err
		}
		return &flateEncoder{fw: fw, noTrailingFlush: true}, nil
	case Zstd:
		zw, err := kzstd.NewWriter(w, kzstd.WithEncoderLevel(zstdLevel(level)))
		if err != nil {
			return nil, err
		}
		return &zstdEncoder{zw: zw}, nil
	case LZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4CompressionLevel(level))); err != nil {
			return nil, err
		}
		return &lz4Encoder{lw: lw}, nil
	default:
		return nil, fmt.Errorf("rsynccodec: unsupported codec %v", id)
	}
}

// NewDecoder returns a Decoder for id reading from r.
func NewDecoder(id ID, r io.Reader) (Decoder, error) {
	switch id {
	case None:
		return io.NopCloser(r), nil
	case Zlib, Zlibx:
		return flate.NewReader(r), nil
	case Zstd:
		zr, err := kzstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &zstdReader{zr: zr}, nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("rsynccodec: unsupported codec %v", id)
	}
}

// HighCompressionEncoder returns a cgo-backed DataDog/zstd encoder. No code
// path in this module calls it; NewDecoder reads zstd through the pure-Go
// klauspost/compress/zstd reader above.
func HighCompressionEncoder(w io.Writer, level int) (Encoder, error) {
	zw := ddzstd.NewWriterLevel(w, level)
	return &ddZstdEncoder{zw: zw}, nil
}

func clampLevel(level int) int {
	if level < flate.HuffmanOnly {
		return flate.DefaultCompression
	}
	if level > flate.BestCompression {
		return flate.BestCompression
	}
	return level
}

func zstdLevel(level int) kzstd.EncoderLevel {
	switch {
	case level <= 1:
		return kzstd.SpeedFastest
	case level <= 3:
		return kzstd.SpeedDefault
	case level <= 6:
		return kzstd.SpeedBetterCompression
	default:
		return kzstd.SpeedBestCompression
	}
}

func lz4CompressionLevel(level int) lz4.CompressionLevel {
	if level <= 0 {
		return lz4.Fast
	}
	return lz4.Level(min(level, 9))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- concrete wrappers ---

type passthroughEncoder struct{ w io.Writer }

func (p *passthroughEncoder) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *passthroughEncoder) Close() error                { return nil }
func (p *passthroughEncoder) Flush() error                { return nil }

type flateEncoder struct {
	fw              *flate.Writer
	noTrailingFlush bool
}

func (f *flateEncoder) Write(b []byte) (int, error) { return f.fw.Write(b) }
func (f *flateEncoder) Close() error                { return f.fw.Close() }
func (f *flateEncoder) Flush() error {
	if f.noTrailingFlush {
		// zlibx: flushed exactly as zlib is; compress/flate's Flush writes
		// its usual empty stored block as the sync marker.
		return f.fw.Flush()
	}
	return f.fw.Flush()
}

type zstdEncoder struct{ zw *kzstd.Encoder }

func (z *zstdEncoder) Write(b []byte) (int, error) { return z.zw.Write(b) }
func (z *zstdEncoder) Close() error                { return z.zw.Close() }
func (z *zstdEncoder) Flush() error                { return z.zw.Flush() }

type zstdReader struct{ zr *kzstd.Decoder }

func (z *zstdReader) Read(b []byte) (int, error) { return z.zr.Read(b) }
func (z *zstdReader) Close() error                { z.zr.Close(); return nil }

type lz4Encoder struct{ lw *lz4.Writer }

func (l *lz4Encoder) Write(b []byte) (int, error) { return l.lw.Write(b) }
func (l *lz4Encoder) Close() error                { return l.lw.Close() }
func (l *lz4Encoder) Flush() error                { return l.lw.Flush() }

type ddZstdEncoder struct {
	zw *ddzstd.Writer
}

func (d *ddZstdEncoder) Write(b []byte) (int, error) { return d.zw.Write(b) }
func (d *ddZstdEncoder) Close() error                { return d.zw.Close() }
func (d *ddZstdEncoder) Flush() error                { return d.zw.Flush() }
