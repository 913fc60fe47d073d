package rsyncwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/oferchen/oc-rsync/internal/log"
)

// SidebandHandler receives non-DATA frames as they arrive (spec.md §4.5
// "Demux contract": "Non-DATA frames are surfaced to a sideband consumer").
type SidebandHandler func(tag byte, payload []byte)

// MultiplexWriter frames every Write call as one or more DATA-tagged frames,
// splitting at maxFrame so no single frame exceeds rsync's own chunk size.
type MultiplexWriter struct {
	Underlying io.Writer
}

const maxFrame = 32 * 1024 // rsync.h MAX_MAP_SIZE-derived chunking, matches C8 Numeric details

func (w *MultiplexWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxFrame {
			chunk = chunk[:maxFrame]
		}
		if err := w.writeFrame(byte(7), chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

// WriteTagged emits an out-of-band frame (ERROR/INFO/LOG/STATS/...).
func (w *MultiplexWriter) WriteTagged(tag byte, payload []byte) error {
	return w.writeFrame(tag, payload)
}

func (w *MultiplexWriter) writeFrame(tag byte, payload []byte) error {
	if len(payload) > 0xFFFFFF {
		return fmt.Errorf("rsyncwire: frame payload too large: %d bytes", len(payload))
	}
	header := uint32(tag)<<24 | uint32(len(payload))
	if err := binary.Write(w.Underlying, binary.LittleEndian, header); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Underlying.Write(payload)
	return err
}

// MultiplexReader presents the DATA channel as a continuous io.Reader,
// diverting non-DATA frames to Sideband (or logging them, if nil).
type MultiplexReader struct {
	Reader   io.Reader
	Sideband SidebandHandler

	pending []byte
}

func (r *MultiplexReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		tag, payload, err := r.readFrame()
		if err != nil {
			return 0, err
		}
		if tag == 7 { // DATA
			r.pending = payload
			continue
		}
		if r.Sideband != nil {
			r.Sideband(tag, payload)
		} else {
			log.Printf("rsyncwire: sideband frame tag=%d: %q", tag, payload)
		}
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *MultiplexReader) readFrame() (tag byte, payload []byte, err error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r.Reader, hdr[:]); err != nil {
		return 0, nil, err
	}
	v := binary.LittleEndian.Uint32(hdr[:])
	tag = byte(v >> 24)
	length := v & 0x00FFFFFF
	if length == 0 {
		return tag, nil, nil
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(r.Reader, payload); err != nil {
		return 0, nil, err
	}
	return tag, payload, nil
}
