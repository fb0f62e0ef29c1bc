// Package crawler implements the depth-first directory walk of spec.md §4.5:
// hidden-entry filtering, the three ignore-rule layers (exact path, basename
// glob, content marker), and queuing of surviving files/directories.
package crawler

import (
	"path/filepath"
	"strings"
)

// Filters are the three ignore-rule layers of spec.md §4.5, already resolved
// from configuration (aliases expanded, `$HOME` dropped) by internal/config.
type Filters struct {
	// ExactPaths excludes entries whose absolute path matches exactly
	// (config keys with a leading "/").
	ExactPaths map[string]bool

	// BasenameGlobs excludes entries whose basename matches one of these
	// shell globs (config keys without a leading "/").
	BasenameGlobs []string

	// ContentMarkers reject a directory outright if it contains a file
	// whose basename is one of these (e.g. "backup.metadata").
	ContentMarkers []string
}

func (f Filters) excluded(absPath, base string) bool {
	if f.ExactPaths[absPath] {
		return true
	}

	for _, pattern := range f.BasenameGlobs {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}

	return false
}

func (f Filters) hasContentMarker(bases []string) bool {
	if len(f.ContentMarkers) == 0 {
		return false
	}

	markers := make(map[string]bool, len(f.ContentMarkers))
	for _, m := range f.ContentMarkers {
		markers[m] = true
	}

	for _, b := range bases {
		if markers[b] {
			return true
		}
	}

	return false
}

// isHidden reports whether base names a dotfile. Combined with the
// platform-specific isHiddenAttr at call sites per spec.md §4.5 ("OS-level
// and dotfiles; on one platform also the FAT hidden attribute via an ioctl;
// unavailable -> treat as visible").
func isHidden(base string) bool {
	return strings.HasPrefix(base, ".")
}
