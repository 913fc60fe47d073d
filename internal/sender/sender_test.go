package sender_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oferchen/oc-rsync/internal/checksum"
	"github.com/oferchen/oc-rsync/internal/generator"
	"github.com/oferchen/oc-rsync/internal/sender"
)

// reconstruct replays a token stream against old, the same data copyTokens
// in internal/receiver would pull match tokens from.
func reconstruct(t *testing.T, tokens []sender.Token, old []byte, blockLen int32) []byte {
	t.Helper()
	var out bytes.Buffer
	for _, tok := range tokens {
		switch tok.Kind {
		case sender.TokenLiteral:
			out.Write(tok.Literal)
		case sender.TokenMatch:
			start := int64(tok.Block) * int64(blockLen)
			end := start + int64(blockLen)
			if end > int64(len(old)) {
				end = int64(len(old))
			}
			if start > int64(len(old)) {
				t.Fatalf("match block %d starts past end of old data (len %d)", tok.Block, len(old))
			}
			out.Write(old[start:end])
		case sender.TokenEnd:
			return out.Bytes()
		}
	}
	return out.Bytes()
}

func signatureOf(t *testing.T, content []byte) (generator.Signature, int32) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "old")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}
	sig, err := generator.ForFile(path, checksum.MD5, 0, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	return sig, sig.Head.BlockLength
}

func search(t *testing.T, newContent []byte, sig generator.Signature) []sender.Token {
	t.Helper()
	var tokens []sender.Token
	err := sender.Search(bytes.NewReader(newContent), sig, checksum.MD5, 0, func(tok sender.Token) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return tokens
}

func TestSearchIdenticalContentIsAllMatches(t *testing.T) {
	content := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 200))
	sig, blockLen := signatureOf(t, content)

	tokens := search(t, content, sig)
	got := reconstruct(t, tokens, content, blockLen)
	if !bytes.Equal(got, content) {
		t.Fatalf("reconstructed content mismatch: got %d bytes, want %d bytes", len(got), len(content))
	}

	for _, tok := range tokens {
		if tok.Kind == sender.TokenLiteral {
			t.Errorf("unexpected literal token of length %d for identical content", len(tok.Literal))
		}
	}
}

func TestSearchAppendedDataReusesOldBlocks(t *testing.T) {
	base := []byte(strings.Repeat("0123456789abcdef", 500))
	sig, blockLen := signatureOf(t, base)

	appended := append(append([]byte{}, base...), []byte("trailing new bytes not present before")...)
	tokens := search(t, appended, sig)
	got := reconstruct(t, tokens, base, blockLen)
	if !bytes.Equal(got, appended) {
		t.Fatalf("reconstructed content mismatch:\ngot  %q\nwant %q", got, appended)
	}

	var sawMatch, sawLiteral bool
	for _, tok := range tokens {
		switch tok.Kind {
		case sender.TokenMatch:
			sawMatch = true
		case sender.TokenLiteral:
			sawLiteral = true
		}
	}
	if !sawMatch {
		t.Error("expected at least one match token for the unchanged prefix")
	}
	if !sawLiteral {
		t.Error("expected at least one literal token for the appended suffix")
	}
}

func TestSearchEmptyDestinationIsWholeFileLiteral(t *testing.T) {
	sig, _ := signatureOf(t, nil)
	if sig.Head.BlockLength != 0 {
		t.Fatalf("expected B=0 for an empty destination, got %d", sig.Head.BlockLength)
	}

	content := []byte("brand new content, no destination to diff against")
	tokens := search(t, content, sig)

	var literal bytes.Buffer
	for _, tok := range tokens {
		if tok.Kind == sender.TokenMatch {
			t.Fatalf("unexpected match token against an empty destination")
		}
		if tok.Kind == sender.TokenLiteral {
			literal.Write(tok.Literal)
		}
	}
	if !bytes.Equal(literal.Bytes(), content) {
		t.Fatalf("literal stream mismatch: got %q, want %q", literal.Bytes(), content)
	}
}
