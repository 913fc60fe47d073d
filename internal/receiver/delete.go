package receiver

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/oferchen/oc-rsync/internal/flist"
)

func isTopDir(f *flist.File) bool { return f.Name == "." }

func findInFileList(files []*flist.File, name string) bool {
	for _, f := range files {
		if f.Name == name {
			return true
		}
	}
	return false
}

// deleteExtraneous removes destination entries absent from the incoming
// file list (spec.md §4.7 "Receiver": "--delete removes destination files
// the sender's file list no longer names"). Deletion is skipped entirely if
// any earlier I/O error occurred, matching upstream's fail-safe behavior.
func (rt *Transfer) deleteExtraneous(files []*flist.File) error {
	if rt.ioErrors > 0 {
		rt.Logger.Printf("IO error encountered earlier, skipping deletion")
		return nil
	}

	for _, f := range files {
		if !isTopDir(f) {
			continue
		}
		root := filepath.Clean(rt.Opts.DestDir)
		strip := root + string(filepath.Separator)

		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			name := strings.TrimPrefix(path, strip)
			if name == root {
				name = "."
			}
			if findInFileList(files, name) {
				return nil
			}
			if rt.Opts.Verbose {
				rt.Logger.Printf("deleting %s", name)
			}
			if rt.Opts.DryRun {
				return nil
			}
			return os.Remove(path)
		})
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
	}
	return nil
}
