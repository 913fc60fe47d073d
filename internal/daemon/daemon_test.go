package daemon_test

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/oferchen/oc-rsync/internal/daemon"
	"github.com/oferchen/oc-rsync/internal/daemonconfig"
	"github.com/oferchen/oc-rsync/internal/log"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
	ocrsync "github.com/oferchen/oc-rsync"
)

func startServer(t *testing.T, cfg daemonconfig.Config, handler daemon.Handler) string {
	t.Helper()
	srv := daemon.NewServer(cfg, log.New(io.Discard), handler)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return ln.Addr().String()
}

func greet(t *testing.T, conn net.Conn) *bufio.Reader {
	t.Helper()
	rd := bufio.NewReader(conn)
	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "@RSYNCD: ") {
		t.Fatalf("unexpected greeting: %q", line)
	}
	fmt.Fprintf(conn, "@RSYNCD: %d\n", ocrsync.ProtocolVersion)
	return rd
}

func TestServeListsModulesOnEmptyRequest(t *testing.T) {
	cfg := daemonconfig.Config{Modules: []daemonconfig.Module{
		{Name: "one", Path: "/tmp/one", Comment: "first module"},
		{Name: "two", Path: "/tmp/two", Comment: "second module"},
	}}
	addr := startServer(t, cfg, nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	rd := greet(t, conn)
	fmt.Fprintf(conn, "\n")

	var lines []string
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatal(err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "@RSYNCD: EXIT" {
			break
		}
		lines = append(lines, line)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d module listing lines, want 2: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "one") || !strings.Contains(lines[1], "two") {
		t.Fatalf("unexpected module listing: %v", lines)
	}
}

func TestServeRejectsUnknownModule(t *testing.T) {
	cfg := daemonconfig.Config{Modules: []daemonconfig.Module{{Name: "known", Path: "/tmp/known"}}}
	addr := startServer(t, cfg, nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	rd := greet(t, conn)
	fmt.Fprintf(conn, "nosuchmodule\n")

	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "@ERROR") {
		t.Fatalf("expected @ERROR for an unknown module, got %q", line)
	}
}

func TestServeDeniesHostByACL(t *testing.T) {
	cfg := daemonconfig.Config{Modules: []daemonconfig.Module{
		{Name: "restricted", Path: "/tmp/restricted", ACL: []string{"deny all"}},
	}}
	addr := startServer(t, cfg, nil)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	rd := greet(t, conn)
	fmt.Fprintf(conn, "restricted\n")

	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "@ERROR") {
		t.Fatalf("expected @ERROR from a denying ACL, got %q", line)
	}
}

func TestServeInvokesHandlerAfterOK(t *testing.T) {
	cfg := daemonconfig.Config{Modules: []daemonconfig.Module{{Name: "open", Path: "/tmp/open"}}}

	invoked := make(chan bool, 1)
	handler := func(ctx context.Context, c *rsyncwire.Conn, module daemonconfig.Module, paths []string, isSender bool) error {
		invoked <- isSender
		return nil
	}
	addr := startServer(t, cfg, handler)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	rd := greet(t, conn)
	fmt.Fprintf(conn, "open\n")

	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "@RSYNCD: OK") {
		t.Fatalf("expected @RSYNCD: OK, got %q", line)
	}
	fmt.Fprintf(conn, "--sender\n.\n\n")

	select {
	case isSender := <-invoked:
		if !isSender {
			t.Error("expected the handler to see isSender=true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the transfer handler to run")
	}
}

// TestServeRequiresPrivilegeForChroot checks that use_chroot is actually
// wired to the chroot syscall rather than merely logged: run unprivileged
// (as any CI worker is), chroot(2) fails with EPERM, and that failure must
// end the session instead of silently falling through to the handler (the
// client sees the connection close, not an @ERROR line).
func TestServeRequiresPrivilegeForChroot(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root: chroot would succeed, defeating this test")
	}

	cfg := daemonconfig.Config{Modules: []daemonconfig.Module{
		{Name: "jailed", Path: t.TempDir(), UseChroot: true},
	}}

	invoked := make(chan bool, 1)
	handler := func(ctx context.Context, c *rsyncwire.Conn, module daemonconfig.Module, paths []string, isSender bool) error {
		invoked <- true
		return nil
	}
	addr := startServer(t, cfg, handler)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	rd := greet(t, conn)
	fmt.Fprintf(conn, "jailed\n")

	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "@RSYNCD: OK") {
		t.Fatalf("expected @RSYNCD: OK, got %q", line)
	}
	fmt.Fprintf(conn, "--sender\n.\n\n")

	select {
	case <-invoked:
		t.Fatal("handler ran despite an unprivileged chroot attempt; use_chroot is not enforced")
	case <-time.After(500 * time.Millisecond):
	}
}
