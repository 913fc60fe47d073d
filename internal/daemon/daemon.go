// Package daemon implements the rsync daemon front-end: module resolution,
// host ACLs, secrets-file authentication, and the chroot/privilege-drop
// session setup that precedes handing a connection to the generator/
// sender/receiver trio (spec.md §6 "Daemon", C9).
//
// A session moves through a strict sequence of states:
//
//	Listening -> AcceptedConnection -> Greeted -> ModuleResolved ->
//	Authenticated -> Serving -> Closed
//
// Grounded on the teacher's rsyncd/rsyncd.go (gokrazy/rsync), which
// implements the same `@RSYNCD:` greeting/module/flag exchange; this
// package generalizes it with the secrets-file auth step and the chroot +
// privilege-drop setup spec.md's expanded daemon scope requires.
package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"github.com/oferchen/oc-rsync/internal/daemonconfig"
	"github.com/oferchen/oc-rsync/internal/log"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
	ocrsync "github.com/oferchen/oc-rsync"
)

// State names one point in a session's lifecycle (spec.md §6 "Daemon").
type State int

const (
	StateListening State = iota
	StateAcceptedConnection
	StateGreeted
	StateModuleResolved
	StateAuthenticated
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "Listening"
	case StateAcceptedConnection:
		return "AcceptedConnection"
	case StateGreeted:
		return "Greeted"
	case StateModuleResolved:
		return "ModuleResolved"
	case StateAuthenticated:
		return "Authenticated"
	case StateServing:
		return "Serving"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Handler is invoked once a connection has been authenticated and is ready
// to run the transfer itself (spec.md C8 wiring point). The caller supplies
// this so internal/daemon stays independent of the generator/sender/
// receiver packages' concrete APIs.
type Handler func(ctx context.Context, conn *rsyncwire.Conn, module daemonconfig.Module, paths []string, isSender bool) error

// Server is an rsync daemon bound to a module map.
type Server struct {
	Config  daemonconfig.Config
	Logger  *log.Logger
	Handler Handler

	sessions int64
}

// NewServer constructs a Server from a loaded config.
func NewServer(cfg daemonconfig.Config, logger *log.Logger, handler Handler) *Server {
	return &Server{Config: cfg, Logger: logger, Handler: handler}
}

// Serve accepts connections on ln until ctx is cancelled (spec.md §6
// "Daemon": direct TCP on the conventional port 873, one goroutine per
// connection).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		n := atomic.AddInt64(&s.sessions, 1)
		remote := conn.RemoteAddr()
		s.Logger.Printf("[session %d] accepted connection from %s", n, remote)
		go func() {
			defer conn.Close()
			if err := s.handleConn(ctx, conn, remote); err != nil {
				s.Logger.Printf("[session %d] %s: %v", n, remote, err)
			}
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn io.ReadWriter, remote net.Addr) error {
	state := StateAcceptedConnection
	transition := func(next State) {
		state = next
		s.Logger.Printf("%s: -> %s", remote, state)
	}

	crd, cwr := rsyncwire.CounterPair(conn)
	rd := bufio.NewReader(crd)

	fmt.Fprintf(cwr, "@RSYNCD: %d\n", ocrsync.ProtocolVersion)
	clientGreeting, err := rd.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading client greeting: %w", err)
	}
	if !strings.HasPrefix(clientGreeting, "@RSYNCD: ") {
		return fmt.Errorf("invalid client greeting: %q", clientGreeting)
	}
	transition(StateGreeted)

	requestedModule, err := rd.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading requested module: %w", err)
	}
	requestedModule = strings.TrimSpace(requestedModule)
	if requestedModule == "" || requestedModule == "#list" {
		s.Logger.Printf("%s requested module listing", remote)
		io.WriteString(cwr, s.formatModuleList())
		io.WriteString(cwr, "@RSYNCD: EXIT\n")
		return nil
	}

	module, ok := s.Config.Lookup(requestedModule)
	if !ok {
		fmt.Fprintf(cwr, "@ERROR: Unknown module %q\n", requestedModule)
		return fmt.Errorf("unknown module %q", requestedModule)
	}
	if err := checkHostACL(module.ACL, remote); err != nil {
		fmt.Fprintf(cwr, "@ERROR: %v\n", err)
		return err
	}
	transition(StateModuleResolved)

	if module.RequiresAuth() {
		if err := s.authenticateModule(module, rd, cwr); err != nil {
			fmt.Fprintf(cwr, "@ERROR: %v\n", err)
			return err
		}
	}
	transition(StateAuthenticated)

	io.WriteString(cwr, "@RSYNCD: OK\n")

	var flags []string
	for {
		flag, err := rd.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading flags: %w", err)
		}
		flag = strings.TrimSpace(flag)
		if flag == "" {
			break
		}
		flags = append(flags, flag)
	}
	paths := modulePaths(requestedModule, flags)
	isSender := hasFlag(flags, "--sender")

	if module.UseChroot {
		if err := chrootModule(s.Logger, module.Path); err != nil {
			return fmt.Errorf("daemon: chroot for module %q: %w", module.Name, err)
		}
		// The process's filesystem view now starts at what used to be
		// module.Path, so every path the handler builds from module.Path
		// must be relative to the new root, not the old one.
		module.Path = "/"
	}

	uid, err := module.ResolveUID()
	if err != nil {
		return fmt.Errorf("daemon: module %q: %w", module.Name, err)
	}
	gid, err := module.ResolveGID()
	if err != nil {
		return fmt.Errorf("daemon: module %q: %w", module.Name, err)
	}
	if err := dropPrivileges(s.Logger, uid, gid); err != nil {
		return fmt.Errorf("daemon: dropping privileges for module %q: %w", module.Name, err)
	}

	transition(StateServing)
	c := &rsyncwire.Conn{Reader: rd, Writer: cwr}
	if s.Handler == nil {
		return fmt.Errorf("daemon: no transfer handler configured")
	}
	err = s.Handler(ctx, c, module, paths, isSender)
	transition(StateClosed)
	return err
}

func hasFlag(flags []string, name string) bool {
	for _, f := range flags {
		if f == name {
			return true
		}
	}
	return false
}

func (s *Server) authenticateModule(module daemonconfig.Module, rd *bufio.Reader, w io.Writer) error {
	secretsMap, err := loadSecrets(module.SecretsFile)
	if err != nil {
		return err
	}
	challenge := generateChallenge()
	fmt.Fprintf(w, "@RSYNCD: AUTHREQD %s\n", challenge)

	line, err := rd.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading auth response: %w", err)
	}
	line = strings.TrimSpace(line)
	user, response, ok := strings.Cut(line, " ")
	if !ok {
		return fmt.Errorf("malformed auth response")
	}
	if !secretsMap.authenticate(user, response, challenge) {
		return fmt.Errorf("authentication failed for user %q", user)
	}
	return nil
}

func (s *Server) formatModuleList() string {
	var b strings.Builder
	for _, m := range s.Config.Modules {
		fmt.Fprintf(&b, "%s\t%s\n", m.Name, m.Comment)
	}
	return b.String()
}

// modulePaths strips the leading "module_name/" prefix rsync's wire
// protocol leaves on every server-side path argument (spec.md §6; see
// rsync/io.c:read_args, glob_expand_module upstream).
func modulePaths(moduleName string, flags []string) []string {
	var paths []string
	for _, f := range flags {
		if strings.HasPrefix(f, "-") {
			continue
		}
		trimmed := strings.TrimPrefix(f, moduleName+"/")
		if trimmed == "" || trimmed == moduleName {
			trimmed = "."
		}
		paths = append(paths, trimmed)
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}
	return paths
}
