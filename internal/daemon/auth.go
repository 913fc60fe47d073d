package daemon

import (
	"bufio"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"hash"
	"math/rand"
	"os"
	"strings"

	"golang.org/x/crypto/md4"
)

// challengeBytes is the number of random bytes in a daemon auth challenge,
// matching the size upstream rsync uses for its AUTHREQD line.
const challengeBytes = 16

// generateChallenge produces the random nonce sent to the client before the
// secrets-file exchange (spec.md §6 "Daemon": "secrets-file auth").
func generateChallenge() string {
	b := make([]byte, challengeBytes)
	rand.Read(b)
	return base64.StdEncoding.EncodeToString(b)
}

// secretHash picks the digest the auth exchange uses: MD4 for protocol <
// 30-era peers (kept for compatibility), MD5 otherwise.
func secretHash(useMD4 bool) hash.Hash {
	if useMD4 {
		return md4.New()
	}
	return md5.New()
}

// computeResponse computes base64(hash(challenge || secret)), the digest a
// client must present to authenticate against a module (spec.md §6).
func computeResponse(secret, challenge string, useMD4 bool) string {
	h := secretHash(useMD4)
	h.Write([]byte(challenge))
	h.Write([]byte(secret))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// secrets maps username to shared secret, loaded from a module's secrets
// file (spec.md §6: one `user:secret` line per entry).
type secrets map[string]string

// loadSecrets reads a secrets file, refusing to proceed if its permissions
// are group- or world-readable (matching upstream rsync's own refusal,
// since a leaked secrets file defeats the entire auth scheme).
func loadSecrets(path string) (secrets, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("daemon: stat secrets file: %w", err)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		return nil, fmt.Errorf("daemon: secrets file %s must not be group- or world-accessible (mode %o)", path, fi.Mode().Perm())
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("daemon: open secrets file: %w", err)
	}
	defer f.Close()

	s := make(secrets)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, secret, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		s[user] = secret
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("daemon: reading secrets file: %w", err)
	}
	return s, nil
}

// authenticate verifies a client's "user response" line against the
// expected challenge response (spec.md §6 "Daemon": challenge/response
// secrets-file auth).
func (s secrets) authenticate(user, response, challenge string) bool {
	secret, ok := s[user]
	if !ok {
		return false
	}
	want := computeResponse(secret, challenge, false)
	return want == response
}
