// Package rsyncwire implements the low-level binary framing the protocol
// state machine runs on top of: little-endian scalar encode/decode
// (spec.md §6 "Wire protocol") and the post-handshake multiplex channel
// (spec.md §4.5 "Frame multiplexer").
package rsyncwire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ProtocolError marks a fatal, non-recoverable framing or protocol
// violation (spec.md §7: "A frame-level protocol violation is fatal").
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

func protoErrf(format string, args ...interface{}) error {
	return &ProtocolError{Err: fmt.Errorf(format, args...)}
}

// CountingReader wraps an io.Reader, counting bytes read so the final STATS
// frame (spec.md §4.6 phase "Finish") can report accurate totals.
type CountingReader struct {
	R       io.Reader
	Counted int64
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.R.Read(p)
	c.Counted += int64(n)
	return n, err
}

// CountingWriter is the write-side counterpart of CountingReader.
type CountingWriter struct {
	W       io.Writer
	Counted int64
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.Counted += int64(n)
	return n, err
}

// Conn is a bidirectional scalar-encoding wrapper around the transport
// stream. Nothing in this module swaps Writer for a *MultiplexWriter or
// Reader for a *MultiplexReader: sessions run on the plain, unframed stream
// after the capability exchange too.
type Conn struct {
	Reader io.Reader
	Writer io.Writer
}

func (c *Conn) WriteByte(b byte) error {
	_, err := c.Writer.Write([]byte{b})
	return err
}

func (c *Conn) ReadByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (c *Conn) WriteInt32(v int32) error {
	return binary.Write(c.Writer, binary.LittleEndian, v)
}

func (c *Conn) ReadInt32() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(buf[:])), nil
}

// WriteInt64 uses rsync's variable-length convention: values that fit in 31
// unsigned bits go out as a plain int32; larger values are preceded by a
// sentinel -1 int32 and then sent as a full int64 (spec.md §6, §3 "length").
func (c *Conn) WriteInt64(v int64) error {
	if v >= 0 && v <= 0x7FFFFFFF {
		return c.WriteInt32(int32(v))
	}
	if err := c.WriteInt32(-1); err != nil {
		return err
	}
	return binary.Write(c.Writer, binary.LittleEndian, v)
}

func (c *Conn) ReadInt64() (int64, error) {
	v, err := c.ReadInt32()
	if err != nil {
		return 0, err
	}
	if v != -1 {
		return int64(v), nil
	}
	var buf [8]byte
	if _, err := io.ReadFull(c.Reader, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}

func (c *Conn) WriteString(s string) error {
	_, err := io.WriteString(c.Writer, s)
	return err
}

// ReadN reads exactly n bytes.
func (c *Conn) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.Reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Conn) Write(p []byte) (int, error) { return c.Writer.Write(p) }
func (c *Conn) Read(p []byte) (int, error)  { return c.Reader.Read(p) }

// CounterPair wraps one connection's read and write halves in
// CountingReader/CountingWriter so callers can report accurate
// bytes-transferred stats without threading counters through every layer.
func CounterPair(rw io.ReadWriter) (*CountingReader, *CountingWriter) {
	return &CountingReader{R: rw}, &CountingWriter{W: rw}
}
