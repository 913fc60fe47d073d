package receiver

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/oferchen/oc-rsync/internal/fileattr"
	"github.com/oferchen/oc-rsync/internal/flist"
)

// createNonRegular materializes directories and symlinks directly from the
// file list, outside the generator/sender token protocol: only regular
// files carry delta data (spec.md §4.7, "B=0" case aside). Device, FIFO
// and socket entries are not created.
func (rt *Transfer) createNonRegular(files []*flist.File) error {
	for _, f := range files {
		local := filepath.Join(rt.Opts.DestDir, f.Name)
		switch f.Attr.Type {
		case fileattr.Directory:
			if rt.Opts.DryRun {
				continue
			}
			if err := os.MkdirAll(local, 0o755); err != nil {
				return fmt.Errorf("receiver: mkdir %s: %w", f.Name, err)
			}
		case fileattr.Symlink:
			if rt.Opts.DryRun {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
				return fmt.Errorf("receiver: mkdir for symlink %s: %w", f.Name, err)
			}
			if err := createSymlink(f.Attr.SymlinkTarget, local); err != nil {
				return fmt.Errorf("receiver: symlink %s: %w", f.Name, err)
			}
		}
	}
	return nil
}

func createSymlink(oldname, newname string) error {
	if _, err := os.Lstat(newname); err == nil {
		if rerr := os.Remove(newname); rerr != nil {
			return rerr
		}
	}
	return renameio.Symlink(oldname, newname)
}
