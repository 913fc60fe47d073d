// Package daemonconfig describes the module map a daemon serves (spec.md
// §6 "Daemon"): one TOML-shaped record per exported tree, with host ACLs
// and optional secrets-file authentication.
package daemonconfig

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Module is one exported directory tree, named the way rsyncd.conf names a
// `[module]` stanza.
type Module struct {
	Name    string   `toml:"name"`
	Path    string   `toml:"path"`
	Comment string   `toml:"comment"`
	ACL     []string `toml:"acl"` // "allow <all|cidr|glob>" / "deny <all|cidr|glob>", first match wins

	Writable     bool   `toml:"writable"`
	ReadOnly     bool   `toml:"read_only"`
	SecretsFile  string `toml:"secrets_file"`
	AuthUsers    []string `toml:"auth_users"`
	UID          string `toml:"uid"`
	GID          string `toml:"gid"`
	UseChroot    bool   `toml:"use_chroot"`
}

// Config is the full daemon configuration: listen address plus modules.
type Config struct {
	Address string   `toml:"address"`
	Port    int      `toml:"port"`
	Modules []Module `toml:"module"`
}

// Lookup returns the module named name, or ok=false.
func (c Config) Lookup(name string) (Module, bool) {
	for _, m := range c.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

// RequiresAuth reports whether clients must authenticate against m before
// being served (spec.md §6: "secrets-file auth").
func (m Module) RequiresAuth() bool {
	return m.SecretsFile != ""
}

// ResolveUID resolves the module's configured uid, which rsyncd.conf-style
// config accepts as either a numeric string or a username, to a numeric id
// (grounded on the teacher's os/user + strconv use for identity lookups in
// internal/receiver/generatoruid.go). An unset UID resolves to 0, leaving
// the caller free to apply its own default.
func (m Module) ResolveUID() (int, error) {
	return resolveID(m.UID, false)
}

// ResolveGID is ResolveUID's group-id counterpart.
func (m Module) ResolveGID() (int, error) {
	return resolveID(m.GID, true)
}

func resolveID(s string, group bool) (int, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	if group {
		g, err := user.LookupGroup(s)
		if err != nil {
			return 0, fmt.Errorf("daemonconfig: resolving group %q: %w", s, err)
		}
		return strconv.Atoi(g.Gid)
	}
	u, err := user.Lookup(s)
	if err != nil {
		return 0, fmt.Errorf("daemonconfig: resolving user %q: %w", s, err)
	}
	return strconv.Atoi(u.Uid)
}

// LoadFile parses a TOML module map from path, the on-disk counterpart of
// an rsyncd.conf (spec.md §6 "Daemon").
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("daemonconfig: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("daemonconfig: parsing %s: %w", path, err)
	}
	for i, m := range cfg.Modules {
		if m.Name == "" {
			return Config{}, fmt.Errorf("daemonconfig: module %d in %s has no name", i, path)
		}
		if m.Path == "" {
			return Config{}, fmt.Errorf("daemonconfig: module %q in %s has no path", m.Name, path)
		}
	}
	return cfg, nil
}
