// Package walk implements the depth-first traversal that produces an
// ordered file list honoring the filter engine and transfer options
// (spec.md §4.4, C5).
package walk

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/oferchen/oc-rsync/internal/fileattr"
	"github.com/oferchen/oc-rsync/internal/filter"
)

// Options controls traversal behavior (spec.md §4.4, §6 "Preservation
// flags"/"Transfer flags" insofar as they affect which paths are visited).
type Options struct {
	CopyLinks     bool // follow symlinks instead of recording them
	OneFileSystem bool // refuse to cross filesystem boundaries
}

// Entry is one walked path paired with its attributes (hard-link detection
// is recorded in Attr).
type Entry struct {
	RelPath string // '/'-separated, relative to the transfer root
	Attr    fileattr.Attr
	IsDir   bool
}

// Walker performs the pre-order traversal described in spec.md §4.4.
type Walker struct {
	Root     string
	Options  Options
	Filter   *filter.Engine
	Provider fileattr.Provider

	seenInode map[fileattr.HardLinkKey]string
	rootDev   uint64
	haveDev   bool
}

// New constructs a Walker rooted at root.
func New(root string, opts Options, eng *filter.Engine, provider fileattr.Provider) *Walker {
	if provider == nil {
		provider = fileattr.OSProvider{}
	}
	return &Walker{
		Root:      root,
		Options:   opts,
		Filter:    eng,
		Provider:  provider,
		seenInode: make(map[fileattr.HardLinkKey]string),
	}
}

// Walk produces the ordered entry sequence (spec.md §3 "FileList":
// "strict ASCII sort of components, with the parent directory entry
// preceding its children"). It is not lazy in this implementation — the
// non-incremental mode spec.md §4.4 describes; there is no incremental
// variant.
func (w *Walker) Walk() ([]Entry, error) {
	var entries []Entry
	err := w.walkDir("", 0, &entries)
	return entries, err
}

func (w *Walker) walkDir(rel string, depth int, out *[]Entry) error {
	abs := filepath.Join(w.Root, rel)

	if w.Filter != nil {
		if err := w.Filter.Enter(w.Root, rel, depth); err != nil {
			return err
		}
		defer w.Filter.Leave(depth)
	}

	dirEntries, err := os.ReadDir(abs)
	if err != nil {
		return err
	}
	sort.Slice(dirEntries, func(i, j int) bool {
		return dirEntries[i].Name() < dirEntries[j].Name()
	})

	for _, de := range dirEntries {
		childRel := de.Name()
		if rel != "" {
			childRel = rel + "/" + de.Name()
		}
		childAbs := filepath.Join(w.Root, childRel)

		lstat, err := os.Lstat(childAbs)
		if err != nil {
			continue // vanished source file; skipped without being counted
		}

		isDir := lstat.IsDir()
		if w.Filter != nil {
			// Hidden directories are still scanned if a descendant rule
			// could include something (spec.md §4.4): this walker never
			// skips a directory outright; it always enters an excluded
			// directory and filters its contents instead.
			decision := w.Filter.Matches(childRel, isDir)
			if decision == filter.Excluded && !isDir {
				continue
			}
			if decision == filter.Excluded && isDir {
				// Still descend (spec.md §4.4), but the directory entry
				// itself is not emitted.
				if err := w.walkDir(childRel, depth+1, out); err != nil {
					return err
				}
				continue
			}
		}

		if w.Options.OneFileSystem && w.haveDev {
			if key, ok := fileattr.HardLinkKeyOf(lstat); ok && key.Device != w.rootDev {
				continue
			}
		}

		attr, err := w.Provider.Lstat(childAbs)
		if err != nil {
			continue
		}

		if key, ok := fileattr.HardLinkKeyOf(lstat); ok && attr.Type != fileattr.Directory {
			if !w.haveDev {
				w.rootDev, w.haveDev = key.Device, true
			}
			if first, seen := w.seenInode[key]; seen {
				attr.HardLinkGroup = int64(key.Inode)
				attr.Type = fileattr.HardLinkRef
				_ = first
			} else {
				w.seenInode[key] = childRel
				attr.HardLinkFirst = true
			}
		}

		*out = append(*out, Entry{RelPath: childRel, Attr: attr, IsDir: isDir})

		if isDir {
			if err := w.walkDir(childRel, depth+1, out); err != nil {
				return err
			}
		}
	}
	return nil
}
