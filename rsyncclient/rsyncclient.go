// Package rsyncclient exposes the client half of a transfer: given an
// already-established connection (however transport dialed it) and a
// resolved session configuration, it drives the handshake, file-list
// exchange, and delta engine (spec.md §6 "CLI contract", C7/C8). Grounded
// on the teacher's rsyncclient package, whose Client/Run shape this keeps;
// argv parsing (teacher's rsyncopts.ParseArguments call) is replaced by a
// pre-built sessionconfig.Config per spec.md's Non-goals.
package rsyncclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/oferchen/oc-rsync/internal/checksum"
	"github.com/oferchen/oc-rsync/internal/fileattr"
	"github.com/oferchen/oc-rsync/internal/filter"
	"github.com/oferchen/oc-rsync/internal/flist"
	"github.com/oferchen/oc-rsync/internal/generator"
	"github.com/oferchen/oc-rsync/internal/log"
	"github.com/oferchen/oc-rsync/internal/protocol"
	"github.com/oferchen/oc-rsync/internal/receiver"
	"github.com/oferchen/oc-rsync/internal/rsynccodec"
	"github.com/oferchen/oc-rsync/internal/rsyncstats"
	"github.com/oferchen/oc-rsync/internal/rsyncwire"
	"github.com/oferchen/oc-rsync/internal/sender"
	"github.com/oferchen/oc-rsync/internal/sessionconfig"
	"github.com/oferchen/oc-rsync/internal/walk"
)

// Option configures a Client at construction time.
type Option interface{ apply(*Client) }

type optionFunc func(*Client)

func (f optionFunc) apply(c *Client) { f(c) }

// WithLogger overrides the default stderr logger.
func WithLogger(logger *log.Logger) Option {
	return optionFunc(func(c *Client) { c.logger = logger })
}

// WithStderr directs default logging output to w.
func WithStderr(w io.Writer) Option {
	return optionFunc(func(c *Client) { c.logger = log.New(w) })
}

// Client runs one transfer against an already-connected peer.
type Client struct {
	cfg    sessionconfig.Config
	logger *log.Logger
}

// New builds a Client from a resolved session configuration.
func New(cfg sessionconfig.Config, opts ...Option) (*Client, error) {
	c := &Client{cfg: cfg}
	for _, o := range opts {
		o.apply(c)
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr)
	}
	return c, nil
}

// Run drives the full client-side protocol over rw: handshake, file-list
// exchange, then either the sender or receiver half of the delta engine
// depending on cfg.Sender (spec.md §4.6).
func (c *Client) Run(ctx context.Context, rw io.ReadWriter) error {
	crd, cwr := rsyncwire.CounterPair(rw)
	conn := &rsyncwire.Conn{Reader: crd, Writer: cwr}

	version, err := protocol.Handshake(conn, false)
	if err != nil {
		return fmt.Errorf("rsyncclient: handshake: %w", err)
	}
	c.logger.Printf("negotiated protocol %d", version)

	strongPref := c.cfg.StrongHashPref
	if len(strongPref) == 0 {
		strongPref = []checksum.Kind{checksum.MD5}
	}

	var seed int32
	if c.cfg.Sender {
		seed, err = protocol.SendSeed(conn)
	} else {
		seed, err = protocol.RecvSeed(conn)
	}
	if err != nil {
		return fmt.Errorf("rsyncclient: checksum seed exchange: %w", err)
	}

	negotiated := protocol.NegotiateCapabilities(version, seed,
		c.cfg.PreserveXattrs, c.cfg.PreserveACLs, true,
		strongPref, strongPref,
		[]rsynccodec.ID{rsynccodec.None}, []rsynccodec.ID{rsynccodec.None},
		c.cfg.CompressionLevel)

	if c.cfg.Sender {
		return c.runSender(conn, negotiated)
	}
	return c.runReceiver(ctx, conn, negotiated)
}

func (c *Client) runSender(conn *rsyncwire.Conn, neg protocol.Negotiated) error {
	if len(c.cfg.Source) != 1 {
		return fmt.Errorf("rsyncclient: exactly one source root supported, got %d", len(c.cfg.Source))
	}
	root := c.cfg.Source[0]

	eng := filter.New(nil)
	w := walk.New(root, walk.Options{}, eng, fileattr.OSProvider{})
	entries, err := w.Walk()
	if err != nil {
		return fmt.Errorf("rsyncclient: walking %s: %w", root, err)
	}
	rootAttr, err := fileattr.OSProvider{}.Lstat(root)
	if err != nil {
		return fmt.Errorf("rsyncclient: stat root %s: %w", root, err)
	}
	entries = append([]walk.Entry{{RelPath: ".", Attr: rootAttr, IsDir: true}}, entries...)
	files := flist.FromWalk(entries)

	enc := flist.NewEncoder(conn)
	enc.Has64BitLengths = neg.Has64BitLengths
	enc.PreserveUID = c.cfg.PreserveUID
	enc.PreserveGID = c.cfg.PreserveGID
	if err := enc.WriteAll(files); err != nil {
		return fmt.Errorf("rsyncclient: sending file list: %w", err)
	}

	return c.sendFiles(conn, root, files, neg)
}

// sendFiles answers the receiver's generator rounds until it sees two
// consecutive -1 indices: the first ends a round (every round, including a
// redo pass, is itself -1-terminated), the second means Do has no further
// round queued (spec.md §4.6 "Failure semantics" redo pass). A non -1 index
// read just after a round's terminator is the first entry of the next
// round, not a new transfer, so it falls straight into the normal
// processing path below rather than looping back for a fresh read.
func (c *Client) sendFiles(conn *rsyncwire.Conn, root string, files []*flist.File, neg protocol.Negotiated) error {
	idx, err := conn.ReadInt32()
	if err != nil {
		return err
	}
	for {
		if idx == -1 {
			if err := conn.WriteInt32(-1); err != nil {
				return err
			}
			next, err := conn.ReadInt32()
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
			return fmt.Errorf("rsyncclient: index %d out of range", idx)
		}
		f := files[idx]
		sig, err := generator.ReadSignature(conn)
		if err != nil {
			return fmt.Errorf("rsyncclient: reading signature for %s: %w", f.Name, err)
		}
		if err := conn.WriteInt32(idx); err != nil {
			return err
		}
		if err := c.sendOne(conn, filepath.Join(root, f.Name), sig, neg); err != nil {
			return fmt.Errorf("rsyncclient: sending %s: %w", f.Name, err)
		}
		idx, err = conn.ReadInt32()
		if err != nil {
			return err
		}
	}
}

func (c *Client) sendOne(conn *rsyncwire.Conn, path string, sig generator.Signature, neg protocol.Negotiated) error {
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
	if err := sender.WriteTokens(conn, tokens); err != nil {
		return err
	}
	_, err = conn.Write(strong.Sum(nil))
	return err
}

func (c *Client) runReceiver(ctx context.Context, conn *rsyncwire.Conn, neg protocol.Negotiated) error {
	dec := flist.NewDecoder(conn)
	dec.Has64BitLengths = neg.Has64BitLengths
	dec.PreserveUID = c.cfg.PreserveUID
	dec.PreserveGID = c.cfg.PreserveGID
	files, err := dec.ReadAll()
	if err != nil {
		return fmt.Errorf("rsyncclient: receiving file list: %w", err)
	}

	rt := &receiver.Transfer{
		Conn:   conn,
		Logger: c.logger,
		Opts: receiver.Options{
			DestDir:       c.cfg.Dest,
			DryRun:        c.cfg.DryRun,
			PreservePerms: c.cfg.PreservePerms,
			PreserveUID:   c.cfg.PreserveUID,
			PreserveGID:   c.cfg.PreserveGID,
			DeleteMode:    c.cfg.DeleteMode,
			Verbose:       c.cfg.Verbose,
		},
		StrongHash: neg.StrongHash,
		Seed:       neg.ChecksumSeed,
		Provider:   fileattr.OSProvider{},
	}
	stats, err := rt.Do(ctx, files)
	if err != nil {
		return fmt.Errorf("rsyncclient: receiving files: %w", err)
	}
	c.logger.Printf("transfer complete: %+v", statsOrEmpty(stats))
	return nil
}

func statsOrEmpty(s *rsyncstats.TransferStats) rsyncstats.TransferStats {
	if s == nil {
		return rsyncstats.TransferStats{}
	}
	return *s
}
