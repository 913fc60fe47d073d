package rsyncclient_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/oferchen/oc-rsync/internal/log"
	"github.com/oferchen/oc-rsync/internal/sessionconfig"
	"github.com/oferchen/oc-rsync/rsyncclient"
	"github.com/oferchen/oc-rsync/rsyncd"
)

// dialModule performs the textual @RSYNCD: greeting against a running
// rsyncd.Server and returns the connection ready for rsyncclient.Client.Run,
// mirroring cmd/oc-rsync's daemonGreeting.
func dialModule(t *testing.T, addr, module string, wantSender bool) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	rd := bufio.NewReader(conn)
	fmt.Fprintf(conn, "@RSYNCD: 32\n")
	if _, err := rd.ReadString('\n'); err != nil {
		t.Fatalf("reading greeting: %v", err)
	}
	fmt.Fprintf(conn, "%s\n", module)
	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("reading module response: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "@ERROR") {
			t.Fatalf("daemon: %s", line)
		}
		if strings.HasPrefix(line, "@RSYNCD: OK") {
			break
		}
	}
	if wantSender {
		fmt.Fprintf(conn, "--sender\n")
	}
	fmt.Fprintf(conn, "\n")
	return conn
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startDaemon(t *testing.T, modules []rsyncd.Module) string {
	t.Helper()
	srv, err := rsyncd.NewServer(modules, rsyncd.WithStderr(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	go func() {
		if err := srv.Serve(ctx, ln); err != nil {
			// Serve returns once ln is closed at test teardown.
			_ = err
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln.Addr().String()
}

func TestClientPullsFromModule(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	const hello = "world"
	writeFile(t, filepath.Join(src, "hello"), hello)

	addr := startDaemon(t, []rsyncd.Module{{Name: "tmp", Path: src}})

	conn := dialModule(t, addr, "tmp", true)
	defer conn.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := sessionconfig.Config{Sender: false, PreservePerms: true, Dest: dest}
	client, err := rsyncclient.New(cfg, rsyncclient.WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Run(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte(hello)) {
		t.Errorf("hello: unexpected contents: diff (-want +got):\n%s", cmp.Diff([]byte(hello), string(got)))
	}
}

func TestClientPushesToModule(t *testing.T) {
	t.Parallel()

	tmp := t.TempDir()
	src := filepath.Join(tmp, "src")
	dest := filepath.Join(tmp, "dest")
	const hello = "world"
	writeFile(t, filepath.Join(src, "hello"), hello)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		t.Fatal(err)
	}

	addr := startDaemon(t, []rsyncd.Module{{Name: "tmp", Path: dest, Writable: true}})

	conn := dialModule(t, addr, "tmp", false)
	defer conn.Close()

	cfg := sessionconfig.Config{Sender: true, PreservePerms: true, Source: []string{src}}
	client, err := rsyncclient.New(cfg, rsyncclient.WithLogger(log.New(io.Discard)))
	if err != nil {
		t.Fatal(err)
	}
	if err := client.Run(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "hello"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte(hello)) {
		t.Errorf("hello: unexpected contents: diff (-want +got):\n%s", cmp.Diff([]byte(hello), string(got)))
	}
}
