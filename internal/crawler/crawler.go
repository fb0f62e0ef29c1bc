package crawler

import (
	"fmt"
	"os"
	"path/filepath"

	trackerfs "trackerd/internal/fs"
)

// Entry is one surviving filesystem entry handed to the scheduler's file or
// directory queue.
type Entry struct {
	Path string // absolute
	Info os.FileInfo
}

// Lister performs the single-directory read step of the crawl
// (spec.md §4.5). The scheduler drives the recursion one directory at a
// time ("iterate the head directory once" per §4.5's drain order) rather
// than the Lister walking a whole subtree itself, so that each directory
// read is an independently cancellable, independently suspendable unit of
// work (spec.md §5: "Suspension points ... between a directory's children").
type Lister struct {
	fsys    trackerfs.FS
	filters Filters
}

// New returns a Lister applying filters to every directory it reads.
func New(fsys trackerfs.FS, filters Filters) *Lister {
	return &Lister{fsys: fsys, filters: filters}
}

// List reads one directory and returns the files and subdirectories that
// survive the hidden-entry check and the three filter layers. A directory
// entirely rejected by a content marker yields two empty slices, nil error:
// the caller simply has nothing to queue from it.
func (l *Lister) List(dirPath string) (files []Entry, dirs []Entry, err error) {
	entries, err := l.fsys.ReadDir(dirPath)
	if err != nil {
		return nil, nil, fmt.Errorf("crawler: read dir %s: %w", dirPath, err)
	}

	bases := make([]string, 0, len(entries))
	for _, e := range entries {
		bases = append(bases, e.Name())
	}

	if l.filters.hasContentMarker(bases) {
		return nil, nil, nil
	}

	for _, e := range entries {
		base := e.Name()

		if isHidden(base) {
			continue
		}

		abs := filepath.Join(dirPath, base)

		if isHiddenAttr(abs) {
			continue
		}

		if l.filters.excluded(abs, base) {
			continue
		}

		info, infoErr := e.Info()
		if infoErr != nil {
			// Entry vanished between ReadDir and Info (spec.md §7 "io":
			// dropped from the current pass, not fatal to the directory read).
			continue
		}

		entry := Entry{Path: abs, Info: info}

		if e.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}

	return files, dirs, nil
}

// RootConfig names one configured indexing root and whether it recurses.
type RootConfig struct {
	Path      string
	Recursive bool
}
