package daemonconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/oferchen/oc-rsync/internal/daemonconfig"
)

func writeConf(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rsyncd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileParsesModules(t *testing.T) {
	path := writeConf(t, `
address = "0.0.0.0"
port = 8730

[[module]]
name = "archive"
path = "/srv/archive"
comment = "archived builds"
acl = ["allow 10.0.0.0/8", "deny all"]
read_only = true

[[module]]
name = "incoming"
path = "/srv/incoming"
writable = true
secrets_file = "/etc/oc-rsyncd.secrets"
auth_users = ["alice", "bob"]
`)

	cfg, err := daemonconfig.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Address != "0.0.0.0" || cfg.Port != 8730 {
		t.Fatalf("unexpected listen config: %+v", cfg)
	}
	if len(cfg.Modules) != 2 {
		t.Fatalf("got %d modules, want 2", len(cfg.Modules))
	}

	archive, ok := cfg.Lookup("archive")
	if !ok {
		t.Fatal("missing module \"archive\"")
	}
	if archive.Path != "/srv/archive" || !archive.ReadOnly {
		t.Fatalf("unexpected archive module: %+v", archive)
	}
	if len(archive.ACL) != 2 || archive.ACL[0] != "allow 10.0.0.0/8" {
		t.Fatalf("unexpected ACL: %v", archive.ACL)
	}
	if archive.RequiresAuth() {
		t.Error("archive module should not require auth")
	}

	incoming, ok := cfg.Lookup("incoming")
	if !ok {
		t.Fatal("missing module \"incoming\"")
	}
	if !incoming.Writable {
		t.Error("incoming module should be writable")
	}
	if !incoming.RequiresAuth() {
		t.Error("incoming module should require auth (secrets_file set)")
	}
	if len(incoming.AuthUsers) != 2 {
		t.Fatalf("unexpected auth_users: %v", incoming.AuthUsers)
	}

	if _, ok := cfg.Lookup("nonexistent"); ok {
		t.Error("Lookup should report false for a module that is not configured")
	}
}

func TestLoadFileRejectsModuleWithoutName(t *testing.T) {
	path := writeConf(t, `
[[module]]
path = "/srv/nameless"
`)
	if _, err := daemonconfig.LoadFile(path); err == nil {
		t.Fatal("expected an error for a module with no name")
	}
}

func TestLoadFileRejectsModuleWithoutPath(t *testing.T) {
	path := writeConf(t, `
[[module]]
name = "pathless"
`)
	if _, err := daemonconfig.LoadFile(path); err == nil {
		t.Fatal("expected an error for a module with no path")
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	if _, err := daemonconfig.LoadFile(filepath.Join(t.TempDir(), "does-not-exist.toml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestResolveUIDGIDAcceptsNumericStrings(t *testing.T) {
	m := daemonconfig.Module{UID: "1000", GID: "2000"}
	uid, err := m.ResolveUID()
	if err != nil {
		t.Fatalf("ResolveUID: %v", err)
	}
	if uid != 1000 {
		t.Errorf("ResolveUID: got %d, want 1000", uid)
	}
	gid, err := m.ResolveGID()
	if err != nil {
		t.Fatalf("ResolveGID: %v", err)
	}
	if gid != 2000 {
		t.Errorf("ResolveGID: got %d, want 2000", gid)
	}
}

func TestResolveUIDGIDEmptyResolvesToZero(t *testing.T) {
	var m daemonconfig.Module
	uid, err := m.ResolveUID()
	if err != nil || uid != 0 {
		t.Fatalf("ResolveUID on unset module: got (%d, %v), want (0, nil)", uid, err)
	}
	gid, err := m.ResolveGID()
	if err != nil || gid != 0 {
		t.Fatalf("ResolveGID on unset module: got (%d, %v), want (0, nil)", gid, err)
	}
}

func TestResolveUIDGIDRejectsUnknownName(t *testing.T) {
	m := daemonconfig.Module{UID: "no-such-user-oc-rsync-test", GID: "no-such-group-oc-rsync-test"}
	if _, err := m.ResolveUID(); err == nil {
		t.Fatal("expected an error resolving a nonexistent username")
	}
	if _, err := m.ResolveGID(); err == nil {
		t.Fatal("expected an error resolving a nonexistent group name")
	}
}
