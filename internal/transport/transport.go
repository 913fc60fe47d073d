// Package transport provides the two ways a client reaches a remote rsync
// endpoint (spec.md §6 "Transport"): a child process connected over stdio
// (the ssh-piped path) and a direct TCP connection to a daemon. Both
// produce a plain io.ReadWriteCloser that internal/protocol then drives.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"

	"github.com/google/shlex"
	"golang.org/x/time/rate"
)

// ReadWriteCloser is the minimal surface internal/protocol needs from any
// transport.
type ReadWriteCloser interface {
	io.Reader
	io.Writer
	io.Closer
}

// ChildProcess spawns a remote-shell command (e.g. `ssh host rsync
// --server ...`) and exposes its stdio as a ReadWriteCloser (spec.md §6
// "Transport": "child-process stdio (ssh-piped)").
type ChildProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// NewChildProcess parses commandLine with shell-word semantics (quoting,
// escaping) and starts it, wiring its stdin/stdout to the returned
// ChildProcess. stderr receives the child's standard error, so remote-shell
// diagnostics (e.g. ssh authentication failures) stay visible to the user;
// pass nil to discard it.
func NewChildProcess(ctx context.Context, commandLine string, stderr io.Writer) (*ChildProcess, error) {
	args, err := shlex.Split(commandLine)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing command %q: %w", commandLine, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("transport: empty command")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("transport: starting %q: %w", commandLine, err)
	}
	return &ChildProcess{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (c *ChildProcess) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *ChildProcess) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *ChildProcess) Close() error {
	stdinErr := c.stdin.Close()
	waitErr := c.cmd.Wait()
	if stdinErr != nil {
		return stdinErr
	}
	return waitErr
}

// DefaultDaemonPort is the conventional rsync daemon TCP port (spec.md §6
// "Transport": "direct TCP (daemon, port 873)").
const DefaultDaemonPort = 873

// DialDaemon opens a direct TCP connection to an rsync daemon.
func DialDaemon(ctx context.Context, host string, port int) (net.Conn, error) {
	if port == 0 {
		port = DefaultDaemonPort
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
}

// RateLimited wraps a ReadWriteCloser with a token-bucket limiter on the
// write path (spec.md §6 "Transport": "token-bucket rate limiter"),
// throttling outbound bytes to bytesPerSecond.
type RateLimited struct {
	ReadWriteCloser
	limiter *rate.Limiter
}

// NewRateLimited wraps rw with a limiter allowing bytesPerSecond sustained
// throughput and a burst of one rsync multiplex frame's worth of data.
func NewRateLimited(rw ReadWriteCloser, bytesPerSecond int) *RateLimited {
	burst := 32 * 1024
	if bytesPerSecond < burst {
		burst = bytesPerSecond
		if burst <= 0 {
			burst = 1
		}
	}
	return &RateLimited{
		ReadWriteCloser: rw,
		limiter:         rate.NewLimiter(rate.Limit(bytesPerSecond), burst),
	}
}

func (r *RateLimited) Write(p []byte) (int, error) {
	burst := r.limiter.Burst()
	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if chunk > burst {
			chunk = burst
		}
		if err := r.limiter.WaitN(context.Background(), chunk); err != nil {
			return written, err
		}
		n, err := r.ReadWriteCloser.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
