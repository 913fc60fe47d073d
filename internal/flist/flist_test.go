package flist_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/oferchen/oc-rsync/internal/fileattr"
	"github.com/oferchen/oc-rsync/internal/flist"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	files := []*flist.File{
		{Name: ".", IsDir: true, TopLevel: true, Attr: fileattr.Attr{Type: fileattr.Directory, Mode: 0o755, ModTime: now}},
		{Name: "a.txt", Attr: fileattr.Attr{Type: fileattr.Regular, Mode: 0o644, ModTime: now, Length: 11}},
		{Name: "link", Attr: fileattr.Attr{Type: fileattr.Symlink, Mode: 0o777, ModTime: now, SymlinkTarget: "a.txt"}},
	}

	var buf bytes.Buffer
	conn := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
	enc := flist.NewEncoder(conn)
	enc.PreserveUID = true
	enc.PreserveGID = true
	if err := enc.WriteAll(files); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	dec := flist.NewDecoder(conn)
	dec.PreserveUID = true
	dec.PreserveGID = true
	got, err := dec.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if len(got) != len(files) {
		t.Fatalf("got %d entries, want %d", len(got), len(files))
	}
	for i := range files {
		if got[i].Name != files[i].Name {
			t.Errorf("entry %d: name = %q, want %q", i, got[i].Name, files[i].Name)
		}
		if got[i].Attr.Type != files[i].Attr.Type {
			t.Errorf("entry %d (%s): type = %v, want %v", i, files[i].Name, got[i].Attr.Type, files[i].Attr.Type)
		}
		if got[i].Attr.SymlinkTarget != files[i].Attr.SymlinkTarget {
			t.Errorf("entry %d: symlink target mismatch: %s", i, cmp.Diff(files[i].Attr.SymlinkTarget, got[i].Attr.SymlinkTarget))
		}
	}
}

// TestEncodeSharesNamePrefixWithPrevious checks that an entry sharing a
// leading run of bytes with its predecessor is sent as only the differing
// suffix, inheriting the rest (spec.md §4.6 phase 4). It compares the
// encoded size against an otherwise-identical list whose names happen to
// share nothing, isolating the compression's effect from the fixed
// per-entry attribute overhead.
func TestEncodeSharesNamePrefixWithPrevious(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	sharing := []*flist.File{
		{Name: "dir/alpha.txt", TopLevel: true, Attr: fileattr.Attr{Type: fileattr.Regular, ModTime: now}},
		{Name: "dir/alphabet.txt", Attr: fileattr.Attr{Type: fileattr.Regular, ModTime: now}},
		{Name: "dir/beta.txt", Attr: fileattr.Attr{Type: fileattr.Regular, ModTime: now}},
	}
	disjoint := []*flist.File{
		{Name: "dir/alpha.txt", TopLevel: true, Attr: fileattr.Attr{Type: fileattr.Regular, ModTime: now}},
		{Name: "xyz9_zzzzzz.txt!", Attr: fileattr.Attr{Type: fileattr.Regular, ModTime: now}},
		{Name: "qqrstuvw.txt", Attr: fileattr.Attr{Type: fileattr.Regular, ModTime: now}},
	}

	encode := func(files []*flist.File) []byte {
		var buf bytes.Buffer
		conn := &rsyncwire.Conn{Reader: &buf, Writer: &buf}
		if err := flist.NewEncoder(conn).WriteAll(files); err != nil {
			t.Fatalf("WriteAll: %v", err)
		}
		return buf.Bytes()
	}

	sharingWire := encode(sharing)
	disjointWire := encode(disjoint)
	if len(sharingWire) >= len(disjointWire) {
		t.Errorf("encoded %d bytes for shared-prefix names, %d for disjoint names of the same lengths; expected shared-prefix encoding to be smaller", len(sharingWire), len(disjointWire))
	}

	dec := flist.NewDecoder(&rsyncwire.Conn{Reader: bytes.NewReader(sharingWire)})
	got, err := dec.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(sharing) {
		t.Fatalf("got %d entries, want %d", len(got), len(sharing))
	}
	for i := range sharing {
		if got[i].Name != sharing[i].Name {
			t.Errorf("entry %d: name = %q, want %q", i, got[i].Name, sharing[i].Name)
		}
	}
}
