package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSecrets(t *testing.T, body string, mode os.FileMode) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "secrets")
	if err := os.WriteFile(path, []byte(body), mode); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadSecretsParsesUserSecretPairs(t *testing.T) {
	path := writeSecrets(t, "# comment\nalice:hunter2\nbob:correcthorse\n\n", 0o600)
	s, err := loadSecrets(path)
	if err != nil {
		t.Fatalf("loadSecrets: %v", err)
	}
	if s["alice"] != "hunter2" || s["bob"] != "correcthorse" {
		t.Fatalf("unexpected secrets map: %v", s)
	}
}

func TestLoadSecretsRejectsWorldReadable(t *testing.T) {
	path := writeSecrets(t, "alice:hunter2\n", 0o644)
	if _, err := loadSecrets(path); err == nil {
		t.Fatal("expected an error for a world-readable secrets file")
	}
}

func TestSecretsAuthenticate(t *testing.T) {
	s := secrets{"alice": "hunter2"}
	challenge := generateChallenge()
	good := computeResponse("hunter2", challenge, false)

	if !s.authenticate("alice", good, challenge) {
		t.Fatal("expected authentication to succeed with the correct response")
	}
	if s.authenticate("alice", "bogus", challenge) {
		t.Fatal("expected authentication to fail with a wrong response")
	}
	if s.authenticate("carol", good, challenge) {
		t.Fatal("expected authentication to fail for an unknown user")
	}
}

func TestGenerateChallengeIsUnique(t *testing.T) {
	a := generateChallenge()
	b := generateChallenge()
	if a == b {
		t.Fatal("expected two generated challenges to differ")
	}
}
