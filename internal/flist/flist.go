// Package flist implements the file-list phase of the protocol state
// machine (spec.md §4.6 phase 4 "Flist"): encoding and decoding FileEntry
// records with the "same as previous" bitmap compression upstream uses.
package flist

import (
	"fmt"

	"github.com/oferchen/oc-rsync/internal/fileattr"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
	"github.com/oferchen/oc-rsync/internal/walk"
)

// Same-as-previous bitmap bits (spec.md §4.6 phase 4).
const (
	flagTopLevel      = 0x01
	flagSameMode      = 0x02
	flagSameUID       = 0x08
	flagSameGID       = 0x10
	flagInheritName   = 0x20
	flagLongName      = 0x40
	flagSameTime      = 0x80
)

// File is the in-memory, protocol-ready representation of one FileList
// entry (spec.md §3 "FileEntry"). Name is '/'-separated, relative to the
// transfer root.
type File struct {
	Name  string
	Attr  fileattr.Attr
	IsDir bool

	// TopLevel marks the entry whose matching local directory is the
	// deletion root (spec.md §4.6 phase 4, bit 0x01).
	TopLevel bool
}

// FromWalk converts walker output into the wire-ready File slice, in the
// canonical order the walker already produced (spec.md §3 "FileList").
func FromWalk(entries []walk.Entry) []*File {
	files := make([]*File, 0, len(entries))
	for i, e := range entries {
		files = append(files, &File{
			Name:     e.RelPath,
			Attr:     e.Attr,
			IsDir:    e.IsDir,
			TopLevel: i == 0,
		})
	}
	return files
}

// Encoder writes a FileList to the wire, emitting only fields that differ
// from the previous entry (spec.md §4.6 phase 4).
type Encoder struct {
	conn *rsyncwire.Conn
	prev *File

	Has64BitLengths bool
	PreserveUID     bool
	PreserveGID     bool
}

func NewEncoder(conn *rsyncwire.Conn) *Encoder {
	return &Encoder{conn: conn}
}

// WriteAll encodes the full file list and its zero-byte terminator (spec.md
// §4.6 phase 4: "Terminator: zero byte").
func (enc *Encoder) WriteAll(files []*File) error {
	for _, f := range files {
		if err := enc.writeOne(f); err != nil {
			return fmt.Errorf("flist: encoding %q: %w", f.Name, err)
		}
		enc.prev = f
	}
	return enc.conn.WriteByte(0)
}

// maxInheritedNameLen bounds the shared-prefix byte flist.flagInheritName
// declares (spec.md §4.6 phase 4): the count is sent as a single byte, so a
// name sharing more than 255 leading bytes with its predecessor still only
// inherits the first 255 of them.
const maxInheritedNameLen = 255

func (enc *Encoder) writeOne(f *File) error {
	flags := byte(0)
	if f.TopLevel {
		flags |= flagTopLevel
	}
	flags |= flagLongName

	sameMode := enc.prev != nil && modeToWire(enc.prev) == modeToWire(f)
	if sameMode {
		flags |= flagSameMode
	}
	sameTime := enc.prev != nil && enc.prev.Attr.ModTime.Equal(f.Attr.ModTime)
	if sameTime {
		flags |= flagSameTime
	}
	sameUID := enc.PreserveUID && enc.prev != nil && enc.prev.Attr.UID == f.Attr.UID
	if sameUID {
		flags |= flagSameUID
	}
	sameGID := enc.PreserveGID && enc.prev != nil && enc.prev.Attr.GID == f.Attr.GID
	if sameGID {
		flags |= flagSameGID
	}

	inherited := sharedPrefixLen(enc.prev, f)
	if inherited > 0 {
		flags |= flagInheritName
	}

	if flags == 0 {
		// A zero status byte means end-of-list; never let a real entry
		// collide with the terminator (spec.md §4.6 phase 4).
		flags = flagLongName
	}

	if err := enc.conn.WriteByte(flags); err != nil {
		return err
	}
	if flags&flagInheritName != 0 {
		if err := enc.conn.WriteByte(byte(inherited)); err != nil {
			return err
		}
	}
	suffix := f.Name[inherited:]
	if err := enc.conn.WriteInt32(int32(len(suffix))); err != nil {
		return err
	}
	if err := enc.conn.WriteString(suffix); err != nil {
		return err
	}

	if enc.Has64BitLengths {
		if err := enc.conn.WriteInt64(f.Attr.Length); err != nil {
			return err
		}
	} else {
		if err := enc.conn.WriteInt32(int32(f.Attr.Length)); err != nil {
			return err
		}
	}

	if flags&flagSameTime == 0 {
		if err := enc.conn.WriteInt32(int32(f.Attr.ModTime.Unix())); err != nil {
			return err
		}
	}
	if flags&flagSameMode == 0 {
		if err := enc.conn.WriteInt32(int32(modeToWire(f))); err != nil {
			return err
		}
	}
	if enc.PreserveUID && flags&flagSameUID == 0 {
		if err := enc.conn.WriteInt32(f.Attr.UID); err != nil {
			return err
		}
	}
	if enc.PreserveGID && flags&flagSameGID == 0 {
		if err := enc.conn.WriteInt32(f.Attr.GID); err != nil {
			return err
		}
	}
	if f.Attr.Type == fileattr.Symlink {
		if err := enc.conn.WriteInt32(int32(len(f.Attr.SymlinkTarget))); err != nil {
			return err
		}
		if err := enc.conn.WriteString(f.Attr.SymlinkTarget); err != nil {
			return err
		}
	}
	return nil
}

// sharedPrefixLen returns how many leading bytes of f.Name match prev.Name,
// capped at maxInheritedNameLen. Returns 0 when there is no previous entry.
func sharedPrefixLen(prev *File, f *File) int {
	if prev == nil {
		return 0
	}
	max := len(prev.Name)
	if len(f.Name) < max {
		max = len(f.Name)
	}
	if max > maxInheritedNameLen {
		max = maxInheritedNameLen
	}
	n := 0
	for n < max && prev.Name[n] == f.Name[n] {
		n++
	}
	return n
}

func modeToWire(f *File) uint32 {
	mode := f.Attr.Mode
	switch f.Attr.Type {
	case fileattr.Directory:
		mode |= 0o0040000
	case fileattr.Symlink:
		mode |= 0o0120000
	case fileattr.BlockDevice:
		mode |= 0o0060000
	case fileattr.CharDevice:
		mode |= 0o0020000
	case fileattr.FIFO:
		mode |= 0o0010000
	case fileattr.Socket:
		mode |= 0o0140000
	default:
		mode |= 0o0100000
	}
	return mode
}

// Decoder reads a FileList off the wire, inverting Encoder (spec.md §4.6
// phase 4).
type Decoder struct {
	conn *rsyncwire.Conn
	prev *File

	Has64BitLengths bool
	PreserveUID     bool
	PreserveGID     bool
}

func NewDecoder(conn *rsyncwire.Conn) *Decoder {
	return &Decoder{conn: conn}
}

// ReadAll reads entries until the zero-byte terminator.
func (dec *Decoder) ReadAll() ([]*File, error) {
	var files []*File
	for {
		flags, err := dec.conn.ReadByte()
		if err != nil {
			return nil, err
		}
		if flags == 0 {
			return files, nil
		}
		f, err := dec.readOne(flags)
		if err != nil {
			return nil, fmt.Errorf("flist: decoding entry: %w", err)
		}
		files = append(files, f)
		dec.prev = f
	}
}

func (dec *Decoder) readOne(flags byte) (*File, error) {
	var inherited int
	if flags&flagInheritName != 0 {
		if dec.prev == nil {
			return nil, fmt.Errorf("flist: inherit-name flag set with no previous entry")
		}
		b, err := dec.conn.ReadByte()
		if err != nil {
			return nil, err
		}
		inherited = int(b)
		if inherited > len(dec.prev.Name) {
			return nil, fmt.Errorf("flist: inherited name length %d exceeds previous name %q", inherited, dec.prev.Name)
		}
	}

	suffixLen, err := dec.conn.ReadInt32()
	if err != nil {
		return nil, err
	}
	suffixBytes, err := dec.conn.ReadN(int(suffixLen))
	if err != nil {
		return nil, err
	}

	name := string(suffixBytes)
	if inherited > 0 {
		name = dec.prev.Name[:inherited] + name
	}
	f := &File{Name: name, TopLevel: flags&flagTopLevel != 0}

	if dec.Has64BitLengths {
		f.Attr.Length, err = dec.conn.ReadInt64()
	} else {
		var l int32
		l, err = dec.conn.ReadInt32()
		f.Attr.Length = int64(l)
	}
	if err != nil {
		return nil, err
	}

	if flags&flagSameTime != 0 && dec.prev != nil {
		f.Attr.ModTime = dec.prev.Attr.ModTime
	} else {
		secs, err := dec.conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		f.Attr.ModTime = unixTime(secs)
	}

	var mode uint32
	if flags&flagSameMode != 0 && dec.prev != nil {
		mode = rawModeOf(dec.prev)
	} else {
		m, err := dec.conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		mode = uint32(m)
	}
	decodeType(f, mode)

	if dec.PreserveUID {
		if flags&flagSameUID != 0 && dec.prev != nil {
			f.Attr.UID = dec.prev.Attr.UID
		} else {
			v, err := dec.conn.ReadInt32()
			if err != nil {
				return nil, err
			}
			f.Attr.UID = v
		}
	}
	if dec.PreserveGID {
		if flags&flagSameGID != 0 && dec.prev != nil {
			f.Attr.GID = dec.prev.Attr.GID
		} else {
			v, err := dec.conn.ReadInt32()
			if err != nil {
				return nil, err
			}
			f.Attr.GID = v
		}
	}
	if f.Attr.Type == fileattr.Symlink {
		l, err := dec.conn.ReadInt32()
		if err != nil {
			return nil, err
		}
		target, err := dec.conn.ReadN(int(l))
		if err != nil {
			return nil, err
		}
		f.Attr.SymlinkTarget = string(target)
	}
	return f, nil
}

func rawModeOf(f *File) uint32 { return modeToWire(f) }

func decodeType(f *File, mode uint32) {
	f.Attr.Mode = mode & 0o7777
	switch mode &^ 0o7777 {
	case 0o0040000:
		f.Attr.Type = fileattr.Directory
		f.IsDir = true
	case 0o0120000:
		f.Attr.Type = fileattr.Symlink
	case 0o0060000:
		f.Attr.Type = fileattr.BlockDevice
	case 0o0020000:
		f.Attr.Type = fileattr.CharDevice
	case 0o0010000:
		f.Attr.Type = fileattr.FIFO
	case 0o0140000:
		f.Attr.Type = fileattr.Socket
	default:
		f.Attr.Type = fileattr.Regular
	}
}
