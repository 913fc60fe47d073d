// Package rsyncd implements an rsync daemon: accepting direct TCP
// connections (or connections handed to it by another listener), running
// host-ACL and secrets-file auth, and then driving the generator/sender/
// receiver delta engine against a configured module (spec.md §6 "Daemon",
// C9). Grounded on the teacher's rsyncd package, whose public Server/
// Option/Module shape this keeps; session setup (greeting, module
// resolution, auth, privilege drop) is delegated to internal/daemon, and
// the per-module sandbox to internal/restrict exactly as the teacher does.
package rsyncd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/oferchen/oc-rsync/internal/checksum"
	"github.com/oferchen/oc-rsync/internal/daemon"
	"github.com/oferchen/oc-rsync/internal/daemonconfig"
	"github.com/oferchen/oc-rsync/internal/fileattr"
	"github.com/oferchen/oc-rsync/internal/filter"
	"github.com/oferchen/oc-rsync/internal/flist"
	"github.com/oferchen/oc-rsync/internal/generator"
	"github.com/oferchen/oc-rsync/internal/log"
	"github.com/oferchen/oc-rsync/internal/protocol"
	"github.com/oferchen/oc-rsync/internal/receiver"
	"github.com/oferchen/oc-rsync/internal/restrict"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
	"github.com/oferchen/oc-rsync/internal/sender"
	"github.com/oferchen/oc-rsync/internal/walk"
)

// Module is re-exported for callers constructing a Server without pulling
// in internal/daemonconfig directly.
type Module = daemonconfig.Module

// Option specifies server options.
type Option interface{ applyServer(*Server) }

type serverOptionFunc func(*Server)

func (f serverOptionFunc) applyServer(s *Server) { f(s) }

// WithLogger specifies the logger to use for the server.
func WithLogger(logger *log.Logger) Option {
	return serverOptionFunc(func(s *Server) { s.logger = logger })
}

// WithStderr directs default logging output to w.
func WithStderr(stderr io.Writer) Option {
	return serverOptionFunc(func(s *Server) { s.stderr = stderr })
}

// WithSandbox enables the landlock-based filesystem sandbox restricting the
// process to the configured modules' paths (spec.md §6 "Daemon";
// internal/restrict).
func WithSandbox(enabled bool) Option {
	return serverOptionFunc(func(s *Server) { s.sandbox = enabled })
}

// Server is an rsync daemon bound to a fixed module map.
type Server struct {
	stderr  io.Writer
	logger  *log.Logger
	sandbox bool

	modules []Module
}

// NewServer constructs a Server serving modules.
func NewServer(modules []Module, opts ...Option) (*Server, error) {
	for _, mod := range modules {
		if err := validateModule(mod); err != nil {
			return nil, err
		}
	}
	s := &Server{modules: modules}
	for _, opt := range opts {
		opt.applyServer(s)
	}
	if s.stderr == nil {
		s.stderr = os.Stderr
	}
	if s.logger == nil {
		s.logger = log.New(s.stderr)
	}
	return s, nil
}

func validateModule(mod Module) error {
	if mod.Name == "" {
		return fmt.Errorf("module has no name")
	}
	if mod.Path == "" {
		return fmt.Errorf("module %q has empty path", mod.Name)
	}
	return nil
}

// Serve accepts connections on ln until ctx is cancelled, matching the
// teacher's top-level accept loop.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.sandbox {
		if err := restrictToModules(s.modules); err != nil {
			return fmt.Errorf("rsyncd: sandboxing to modules: %w", err)
		}
	}

	cfg := daemonconfig.Config{Modules: s.modules}
	d := daemon.NewServer(cfg, s.logger, s.handleTransfer)
	return d.Serve(ctx, ln)
}

// handleTransfer is the internal/daemon.Handler that, once a connection has
// been greeted/resolved/authenticated, runs the protocol handshake and the
// generator/sender/receiver trio against the module's directory tree
// (spec.md §4.6, C7/C8).
func (s *Server) handleTransfer(ctx context.Context, c *rsyncwire.Conn, module daemonconfig.Module, paths []string, isSender bool) error {
	version, err := protocol.Handshake(c, true)
	if err != nil {
		return fmt.Errorf("rsyncd: handshake: %w", err)
	}

	// The sending side generates the checksum seed; the receiving side reads it.
	var seed int32
	if isSender {
		seed, err = protocol.SendSeed(c)
	} else {
		seed, err = protocol.RecvSeed(c)
	}
	if err != nil {
		return fmt.Errorf("rsyncd: checksum seed: %w", err)
	}

	neg := protocol.NegotiateCapabilities(version, seed,
		false, false, true,
		[]checksum.Kind{checksum.MD5}, []checksum.Kind{checksum.MD5},
		nil, nil, 0)

	// isSender mirrors the client's --sender flag: a client pulling from
	// the daemon sends --sender, meaning the daemon itself must act as the
	// sender of module.Path's contents (spec.md §4.6).
	if isSender {
		return s.serveSender(c, module, neg)
	}
	return s.serveReceiver(ctx, c, module, paths, neg)
}

func (s *Server) serveReceiver(ctx context.Context, c *rsyncwire.Conn, module daemonconfig.Module, paths []string, neg protocol.Negotiated) error {
	if !module.Writable {
		return fmt.Errorf("rsyncd: module %q is read-only", module.Name)
	}

	dec := flist.NewDecoder(c)
	dec.Has64BitLengths = neg.Has64BitLengths
	dec.PreserveUID = true
	dec.PreserveGID = true
	files, err := dec.ReadAll()
	if err != nil {
		return fmt.Errorf("rsyncd: receiving file list: %w", err)
	}

	rt := &receiver.Transfer{
		Conn:   c,
		Logger: s.logger,
		Opts: receiver.Options{
			DestDir:       module.Path,
			PreservePerms: true,
			PreserveUID:   true,
			PreserveGID:   true,
		},
		StrongHash: neg.StrongHash,
		Seed:       neg.ChecksumSeed,
		Provider:   fileattr.OSProvider{},
	}
	stats, err := rt.Do(ctx, files)
	if err != nil {
		return fmt.Errorf("rsyncd: receiving files: %w", err)
	}
	s.logger.Printf("module %q: transfer complete: %+v", module.Name, stats)
	_ = paths // paths trims the module-relative args; full sub-path restriction is a future refinement
	return nil
}

// serveSender is the mirror of serveReceiver, run when the client asked the
// daemon to send (spec.md §4.6: sender role run by the daemon); no module
// setting gates it. It walks module.Path, exchanges the file list, and then answers
// generator signatures with token streams exactly as rsyncclient's sender
// path does.
func (s *Server) serveSender(c *rsyncwire.Conn, module daemonconfig.Module, neg protocol.Negotiated) error {
	eng := filter.New(nil)
	w := walk.New(module.Path, walk.Options{}, eng, fileattr.OSProvider{})
	entries, err := w.Walk()
	if err != nil {
		return fmt.Errorf("rsyncd: walking module %q: %w", module.Name, err)
	}
	rootAttr, err := fileattr.OSProvider{}.Lstat(module.Path)
	if err != nil {
		return fmt.Errorf("rsyncd: stat module root: %w", err)
	}
	entries = append([]walk.Entry{{RelPath: ".", Attr: rootAttr, IsDir: true}}, entries...)
	files := flist.FromWalk(entries)

	enc := flist.NewEncoder(c)
	enc.Has64BitLengths = neg.Has64BitLengths
	enc.PreserveUID = true
	enc.PreserveGID = true
	if err := enc.WriteAll(files); err != nil {
		return fmt.Errorf("rsyncd: sending file list: %w", err)
	}

	// Mirrors rsyncclient.sendFiles: a round ends with -1, and a second
	// consecutive -1 is the only way Do (the receiver peer) signals that no
	// redo round follows (spec.md §4.6 "Failure semantics"). Anything else
	// read right after a round's terminator is the first index of the next
	// round and is processed inline rather than triggering a fresh read.
	idx, err := c.ReadInt32()
	if err != nil {
		return err
	}
	for {
		if idx == -1 {
			if err := c.WriteInt32(-1); err != nil {
				return err
			}
			next, err := c.ReadInt32()
			if err != nil {
				return err
			}
			if next == -1 {
				return nil
			}
			idx = next
			continue
		}
		if int(idx) < 0 || int(idx) >= len(files) {
			return fmt.Errorf("rsyncd: index %d out of range", idx)
		}
		f := files[idx]
		sig, err := generator.ReadSignature(c)
		if err != nil {
			return fmt.Errorf("rsyncd: reading signature for %s: %w", f.Name, err)
		}
		if err := c.WriteInt32(idx); err != nil {
			return err
		}
		if err := sendOneFile(c, filepath.Join(module.Path, f.Name), sig, neg); err != nil {
			return fmt.Errorf("rsyncd: sending %s: %w", f.Name, err)
		}
		idx, err = c.ReadInt32()
		if err != nil {
			return err
		}
	}
}

func sendOneFile(c *rsyncwire.Conn, path string, sig generator.Signature, neg protocol.Negotiated) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	strong, err := checksum.New(neg.StrongHash, neg.ChecksumSeed)
	if err != nil {
		return err
	}
	tee := io.TeeReader(f, strong)

	var tokens []sender.Token
	err = sender.Search(tee, sig, neg.StrongHash, neg.ChecksumSeed, func(t sender.Token) error {
		tokens = append(tokens, t)
		return nil
	})
	if err != nil {
		return err
	}
	if err := sender.WriteTokens(c, tokens); err != nil {
		return err
	}
	_, err = c.Write(strong.Sum(nil))
	return err
}

func restrictToModules(modules []Module) error {
	var roDirs, rwDirs []string
	for _, mod := range modules {
		if mod.Writable {
			if err := os.MkdirAll(mod.Path, 0o755); err != nil {
				return fmt.Errorf("MkdirAll(mod=%s): %w", mod.Name, err)
			}
			rwDirs = append(rwDirs, mod.Path)
		} else {
			roDirs = append(roDirs, mod.Path)
		}
	}
	return restrict.MaybeFileSystem(roDirs, rwDirs)
}
