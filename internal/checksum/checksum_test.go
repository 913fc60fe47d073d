package checksum_test

import (
	"testing"

	"github.com/oferchen/oc-rsync/internal/checksum"
)

func TestRollingMatchesRecomputeAfterRoll(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	const win = 8

	r := checksum.NewRolling(data[:win], 0)
	for i := 1; i+win <= len(data); i++ {
		r.Roll(data[i-1], data[i+win-1])
		want := checksum.RollingChecksum(data[i:i+win], 0)
		if got := r.Digest(); got != want {
			t.Fatalf("window %d: rolled digest %d != recomputed %d", i, got, want)
		}
	}
}

func TestRollingResetMatchesNewRolling(t *testing.T) {
	a := []byte("abcdefgh")
	b := []byte("12345678")

	r := checksum.NewRolling(a, 0)
	r.Reset(b)

	want := checksum.NewRolling(b, 0).Digest()
	if got := r.Digest(); got != want {
		t.Fatalf("Reset: got %d, want %d", got, want)
	}
}

func TestRollingChecksumDiffersOnDifferentWindows(t *testing.T) {
	a := checksum.RollingChecksum([]byte("aaaaaaaa"), 0)
	b := checksum.RollingChecksum([]byte("bbbbbbbb"), 0)
	if a == b {
		t.Fatal("expected different windows to produce different digests")
	}
}

func TestKindLenAndString(t *testing.T) {
	cases := []struct {
		kind checksum.Kind
		name string
		len  int
	}{
		{checksum.MD4, "md4", 16},
		{checksum.MD5, "md5", 16},
		{checksum.XXH64, "xxh64", 8},
		{checksum.Blake3, "blake3", 16},
	}
	for _, c := range cases {
		if got := c.kind.String(); got != c.name {
			t.Errorf("%v.String() = %q, want %q", c.kind, got, c.name)
		}
		if got := c.kind.Len(); got != c.len {
			t.Errorf("%v.Len() = %d, want %d", c.kind, got, c.len)
		}
	}
}

func TestNewProducesExpectedDigestLengthForEveryKind(t *testing.T) {
	for _, kind := range []checksum.Kind{checksum.MD4, checksum.MD5, checksum.XXH64, checksum.Blake3} {
		h, err := checksum.New(kind, 12345)
		if err != nil {
			t.Fatalf("New(%v): %v", kind, err)
		}
		h.Write([]byte("payload"))
		sum := h.Sum(nil)
		if len(sum) < kind.Len() {
			t.Errorf("New(%v): digest length %d shorter than Len() %d", kind, len(sum), kind.Len())
		}
	}
}

func TestNewRejectsUnknownKind(t *testing.T) {
	if _, err := checksum.New(checksum.Kind(99), 0); err == nil {
		t.Fatal("expected an error for an unknown checksum kind")
	}
}

func TestNewIsSeedSensitive(t *testing.T) {
	a, err := checksum.New(checksum.MD5, 1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := checksum.New(checksum.MD5, 2)
	if err != nil {
		t.Fatal(err)
	}
	a.Write([]byte("same content"))
	b.Write([]byte("same content"))
	if string(a.Sum(nil)) == string(b.Sum(nil)) {
		t.Fatal("expected different seeds to produce different digests for identical content")
	}
}

func TestNegotiatePrefersLocalOrder(t *testing.T) {
	local := []checksum.Kind{checksum.Blake3, checksum.XXH64, checksum.MD5}
	peer := []checksum.Kind{checksum.MD5, checksum.XXH64}

	got := checksum.Negotiate(local, peer)
	if got != checksum.XXH64 {
		t.Fatalf("Negotiate: got %v, want %v (first local preference the peer also supports)", got, checksum.XXH64)
	}
}

func TestNegotiateFallsBackToMD5(t *testing.T) {
	local := []checksum.Kind{checksum.Blake3}
	peer := []checksum.Kind{checksum.MD4}

	if got := checksum.Negotiate(local, peer); got != checksum.MD5 {
		t.Fatalf("Negotiate: got %v, want MD5 fallback when nothing overlaps", got)
	}
}

func TestNewLegacyMD4IsSeeded(t *testing.T) {
	a := checksum.NewLegacyMD4(1)
	b := checksum.NewLegacyMD4(2)
	a.Write([]byte("x"))
	b.Write([]byte("x"))
	if string(a.Sum(nil)) == string(b.Sum(nil)) {
		t.Fatal("expected different seeds to produce different legacy MD4 digests")
	}
}
