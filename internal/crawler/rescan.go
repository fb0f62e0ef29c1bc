package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/calvinalkan/fileproc"
)

// ErrSkipped marks a path the scan callback chose to skip (hidden by name,
// or excluded by exact path or basename glob); fileproc collects it as an error unless the
// Options.OnError hook tells it otherwise, mirroring the teacher's
// errSkipInternalPath pattern in internal/store/reindex.go.
var ErrSkipped = errors.New("crawler: path skipped by filter")

// Scan walks root recursively in one pass and returns every surviving
// file. It skips dot-named entries and paths excluded by filters' exact
// paths or basename globs; unlike a Lister it does not apply content
// markers or the platform hidden attribute.
//
// Grounded on the teacher's scanTicketFiles (internal/store/reindex.go):
// fileproc.ProcessStat walks the tree, the callback returns ErrSkip-wrapped
// sentinels for excluded paths, and Options.OnError filters those out of
// the collected error set.
func Scan(ctx context.Context, root string, filters Filters) ([]Entry, error) {
	opts := fileproc.Options{
		Recursive: true,
		OnError: func(err error, _, _ int) bool {
			return !errors.Is(err, ErrSkipped)
		},
	}

	results, errs := fileproc.ProcessStat(ctx, root,
		func(path []byte, st fileproc.Stat, _ fileproc.LazyFile) (*Entry, error) {
			rel := string(path)
			base := rel

			for i := len(rel) - 1; i >= 0; i-- {
				if rel[i] == '/' {
					base = rel[i+1:]
					break
				}
			}

			if isHidden(base) || filters.excluded(root+"/"+rel, base) {
				return nil, ErrSkipped
			}

			return &Entry{Path: root + "/" + rel}, nil
		}, opts)

	if len(errs) > 0 {
		var ioErr *fileproc.IOError
		for _, err := range errs {
			if errors.As(err, &ioErr) {
				return nil, fmt.Errorf("crawler: scan %s: %w", root, err)
			}
		}
	}

	out := make([]Entry, 0, len(results))
	for _, r := range results {
		if r.Value != nil {
			out = append(out, *r.Value)
		}
	}

	return out, nil
}
