// Command oc-rsync is the CLI front end: it parses a small, deliberately
// un-rsync-complete flag surface (spec.md §1 Non-goals: "full CLI flag
// surface parsing is out of scope"), resolves source/destination hostspecs,
// and wires the result into a sessionconfig.Config driving rsyncclient, or
// starts an rsyncd.Server in --daemon mode.
package main

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/oferchen/oc-rsync/internal/checksum"
	"github.com/oferchen/oc-rsync/internal/daemonconfig"
	"github.com/oferchen/oc-rsync/internal/log"
	"github.com/oferchen/oc-rsync/internal/rsyncos"
	"github.com/oferchen/oc-rsync/internal/sessionconfig"
	"github.com/oferchen/oc-rsync/internal/transport"
	"github.com/oferchen/oc-rsync/rsyncclient"
	"github.com/oferchen/oc-rsync/rsyncd"

	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "oc-rsync:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("oc-rsync", flag.ContinueOnError)
	var (
		archive          = fs.BoolP("archive", "a", false, "archive mode (-rlptgoD)")
		recursive        = fs.BoolP("recursive", "r", false, "recurse into directories")
		verbose          = fs.BoolP("verbose", "v", false, "increase verbosity")
		dryRun           = fs.BoolP("dry-run", "n", false, "perform a trial run with no changes made")
		del              = fs.Bool("delete", false, "delete extraneous files from destination dirs")
		times            = fs.BoolP("times", "t", false, "preserve modification times")
		perms            = fs.BoolP("perms", "p", false, "preserve permissions")
		owner            = fs.BoolP("owner", "o", false, "preserve owner")
		group            = fs.BoolP("group", "g", false, "preserve group")
		links            = fs.BoolP("links", "l", false, "copy symlinks as symlinks")
		hardLinks        = fs.BoolP("hard-links", "H", false, "preserve hard links")
		bwlimit          = fs.Int("bwlimit", 0, "bandwidth limit in bytes/sec; recorded in the session config but not applied to any transfer")
		rsh              = fs.StringP("rsh", "e", "", "remote shell command to use (default: ssh, or $RSYNC_RSH)")
		checksumChoice   = fs.String("checksum-choice", "md5", "strong checksum: md4, md5, xxh64, blake3")
		daemonMode       = fs.Bool("daemon", false, "run as an rsync daemon")
		daemonConfigPath = fs.String("config", "/etc/oc-rsyncd.toml", "daemon module map (--daemon mode only)")
		sandbox          = fs.Bool("sandbox", true, "restrict the daemon to its configured modules' paths")
		port             = fs.Int("port", transport.DefaultDaemonPort, "daemon TCP port")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := log.New(os.Stderr)

	if *daemonMode {
		return runDaemon(logger, *daemonConfigPath, *port, *sandbox)
	}

	rest := fs.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: oc-rsync [options] SRC DEST")
	}
	dest := rest[len(rest)-1]
	sources := rest[:len(rest)-1]
	if len(sources) != 1 {
		return fmt.Errorf("oc-rsync: exactly one source argument is supported")
	}

	kind, err := parseChecksumKind(*checksumChoice)
	if err != nil {
		return err
	}

	cfg := sessionconfig.Config{
		Archive:           *archive,
		Recursive:         *recursive || *archive,
		PreservePerms:     *perms || *archive,
		PreserveTimes:     *times || *archive,
		PreserveUID:       *owner || *archive,
		PreserveGID:       *group || *archive,
		PreserveLinks:     *links || *archive,
		PreserveDevices:   *archive,
		PreserveHardLinks: *hardLinks,
		DeleteMode:        *del,
		DryRun:            *dryRun,
		Verbose:           *verbose,
		StrongHashPref:    []checksum.Kind{kind},
		BandwidthLimit:    *bwlimit,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	env := rsyncos.Std(os.Stdin, os.Stdout, os.Stderr)

	src, dst := parseHostSpec(sources[0]), parseHostSpec(dest)
	switch {
	case !src.remote && !dst.remote:
		cfg.Source = []string{src.path}
		cfg.Dest = dst.path
		return runLocal(ctx, logger, cfg)
	case src.remote && dst.remote:
		return fmt.Errorf("oc-rsync: source and destination cannot both be remote")
	case dst.remote:
		cfg.Sender = true
		cfg.Source = []string{src.path}
		return runRemote(ctx, logger, env, cfg, dst, *rsh)
	default:
		cfg.Sender = false
		cfg.Dest = dst.path
		return runRemote(ctx, logger, env, cfg, src, *rsh)
	}
}

// runLocal copies within the local filesystem by pairing a sender Client
// and a receiver Client over an in-memory duplex pipe, the same protocol
// path a networked transfer takes (spec.md §6: "Mode: local_copy").
func runLocal(ctx context.Context, logger *log.Logger, cfg sessionconfig.Config) error {
	senderCfg := cfg
	senderCfg.Sender = true
	receiverCfg := cfg
	receiverCfg.Sender = false

	senderConn, receiverConn := net.Pipe()
	defer senderConn.Close()
	defer receiverConn.Close()

	senderClient, err := rsyncclient.New(senderCfg, rsyncclient.WithLogger(logger))
	if err != nil {
		return err
	}
	receiverClient, err := rsyncclient.New(receiverCfg, rsyncclient.WithLogger(logger))
	if err != nil {
		return err
	}

	errc := make(chan error, 2)
	go func() { errc <- senderClient.Run(ctx, senderConn) }()
	go func() { errc <- receiverClient.Run(ctx, receiverConn) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runRemote dials spec (either over a remote shell or directly to a
// daemon) and runs cfg's half of the transfer over the resulting stream
// (spec.md §6 "Transport"). env supplies the streams a spawned remote
// shell's diagnostics should surface through.
func runRemote(ctx context.Context, logger *log.Logger, env *rsyncos.Env, cfg sessionconfig.Config, spec hostSpec, rsh string) error {
	client, err := rsyncclient.New(cfg, rsyncclient.WithLogger(logger))
	if err != nil {
		return err
	}

	if spec.daemon {
		conn, err := transport.DialDaemon(ctx, spec.host, spec.port)
		if err != nil {
			return fmt.Errorf("oc-rsync: dialing daemon %s: %w", spec.host, err)
		}
		defer conn.Close()
		if err := daemonGreeting(conn, spec, cfg.Sender); err != nil {
			return err
		}
		return client.Run(ctx, conn)
	}

	if rsh == "" {
		rsh = os.Getenv("RSYNC_RSH")
		if rsh == "" {
			rsh = "ssh"
		}
	}
	cmdLine := fmt.Sprintf("%s %s rsync --server %s. %s",
		rsh, spec.host, senderFlag(!cfg.Sender), shellQuote(spec.path))
	child, err := transport.NewChildProcess(ctx, cmdLine, env.Stderr)
	if err != nil {
		return fmt.Errorf("oc-rsync: starting remote shell: %w", err)
	}
	defer child.Close()
	return client.Run(ctx, child)
}

func senderFlag(sender bool) string {
	if sender {
		return "--sender "
	}
	return ""
}

func shellQuote(s string) string {
	if s == "" {
		return "."
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// daemonGreeting performs the textual `@RSYNCD:` exchange (spec.md §6
// "Daemon TCP") that must precede handing the connection to
// rsyncclient.Client.Run, which speaks only the binary protocol that
// follows it.
func daemonGreeting(conn net.Conn, spec hostSpec, sender bool) error {
	rd := bufio.NewReader(conn)

	fmt.Fprintf(conn, "@RSYNCD: 32\n")
	greeting, err := rd.ReadString('\n')
	if err != nil {
		return fmt.Errorf("oc-rsync: reading daemon greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "@RSYNCD: ") {
		return fmt.Errorf("oc-rsync: unexpected daemon greeting %q", greeting)
	}

	module := spec.path
	if idx := strings.IndexByte(module, '/'); idx >= 0 {
		module = module[:idx]
	}
	fmt.Fprintf(conn, "%s\n", module)

	for {
		line, err := rd.ReadString('\n')
		if err != nil {
			return fmt.Errorf("oc-rsync: reading daemon response: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case strings.HasPrefix(line, "@ERROR"):
			return fmt.Errorf("oc-rsync: daemon: %s", strings.TrimPrefix(line, "@ERROR: "))
		case strings.HasPrefix(line, "@RSYNCD: AUTHREQD "):
			challenge := strings.TrimPrefix(line, "@RSYNCD: AUTHREQD ")
			user := spec.user
			if user == "" {
				user = "nobody"
			}
			secret := os.Getenv("RSYNC_PASSWORD")
			sum := md5.Sum([]byte(challenge + secret))
			response := base64.StdEncoding.EncodeToString(sum[:])
			fmt.Fprintf(conn, "%s %s\n", user, response)
		case strings.HasPrefix(line, "@RSYNCD: OK"):
			// --sender asks the daemon to send, i.e. the local side receives.
			fmt.Fprintf(conn, "%s\n", remainderArgs(!sender))
			return nil
		default:
			// MOTD or module-listing lines precede @RSYNCD: OK; ignore them.
		}
	}
}

func remainderArgs(sender bool) string {
	if sender {
		return "--sender\n"
	}
	return ""
}

func runDaemon(logger *log.Logger, configPath string, port int, sandbox bool) error {
	cfg, err := daemonconfig.LoadFile(configPath)
	if err != nil {
		return err
	}
	if cfg.Port == 0 {
		cfg.Port = port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)

	srv, err := rsyncd.NewServer(cfg.Modules, rsyncd.WithLogger(logger), rsyncd.WithSandbox(sandbox))
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("oc-rsync: listening on %s: %w", addr, err)
	}
	logger.Printf("oc-rsync daemon listening on %s (%d modules)", ln.Addr(), len(cfg.Modules))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return srv.Serve(ctx, ln)
}

func parseChecksumKind(name string) (checksum.Kind, error) {
	switch strings.ToLower(name) {
	case "md4":
		return checksum.MD4, nil
	case "md5", "":
		return checksum.MD5, nil
	case "xxh64":
		return checksum.XXH64, nil
	case "blake3":
		return checksum.Blake3, nil
	default:
		return 0, fmt.Errorf("oc-rsync: unknown --checksum-choice %q", name)
	}
}

// hostSpec is a parsed SRC or DEST argument: either a local path, a
// `[user@]host:path` remote-shell target, or a `[user@]host::module[/path]`
// / `rsync://host[:port]/module[/path]` daemon target (spec.md §6 "Sources,
// destination, remote-shell command, daemon URL").
type hostSpec struct {
	remote bool
	daemon bool
	user   string
	host   string
	port   int
	path   string
}

func parseHostSpec(s string) hostSpec {
	if rest, ok := strings.CutPrefix(s, "rsync://"); ok {
		hostPort, path, _ := strings.Cut(rest, "/")
		host, portStr, hasPort := strings.Cut(hostPort, ":")
		port := transport.DefaultDaemonPort
		if hasPort {
			if p, err := strconv.Atoi(portStr); err == nil {
				port = p
			}
		}
		user, host := cutUser(host)
		return hostSpec{remote: true, daemon: true, user: user, host: host, port: port, path: path}
	}
	if idx := strings.Index(s, "::"); idx >= 0 {
		user, host := cutUser(s[:idx])
		return hostSpec{remote: true, daemon: true, user: user, host: host, port: transport.DefaultDaemonPort, path: s[idx+2:]}
	}
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		user, host := cutUser(s[:idx])
		return hostSpec{remote: true, user: user, host: host, path: s[idx+1:]}
	}
	return hostSpec{path: s}
}

func cutUser(host string) (user, rest string) {
	if idx := strings.IndexByte(host, '@'); idx >= 0 {
		return host[:idx], host[idx+1:]
	}
	return "", host
}

