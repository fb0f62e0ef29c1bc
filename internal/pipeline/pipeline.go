// Package pipeline implements the per-file processing state machine of
// spec.md §4.6: queued → querying-attrs → awaiting-extractor → stitching →
// flushed, tying the crawler, extractor client, and statement interpreter
// together under one cancellable call per file.
//
// The extractor's preupdate/update/where SPARQL fragments are deliberately
// out of scope for a full SPARQL engine (spec.md's own "deliberately out of
// scope" list names the SPARQL parser/executor as an external collaborator
// consumed via a narrow interface). Fragments are therefore parsed with the
// same bare "<subject> <predicate> object ." line grammar the ontology
// loader already uses for its own triple files
// (internal/ontology/loader.go's parseStatement) — a line format the
// extractor is contracted to emit instead of full SPARQL syntax, which is
// the narrow interface spec.md §9's "out of scope" note calls for.
package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trackerd/internal/crawler"
	"trackerd/internal/extractor"
	"trackerd/internal/rdfstore"
)

// ErrCancelled is reported to the miner when ctx is cancelled mid-file
// (spec.md §4.6: "cancellation at any state drops all accumulated work").
var ErrCancelled = errors.New("pipeline: cancelled")

// Processor drives one file through the state machine, reading attributes,
// calling the extractor, and stitching its reply into the store.
type Processor struct {
	store     *rdfstore.Store
	extractor *extractor.Client
	wb        rdfstore.Observer
}

// New returns a Processor bound to store and an extractor client. wb, if
// non-nil, is notified of every ordinary set_value applied from the
// extractor's reply (spec.md §4's writeback dispatcher feed); the base
// file-attribute triples are not reported. Pass nil where writeback does
// not apply.
func New(store *rdfstore.Store, ex *extractor.Client, wb rdfstore.Observer) *Processor {
	return &Processor{store: store, extractor: ex, wb: wb}
}

// mtimeUnchanged reports whether the store's recorded fileLastModified for
// uri already matches mtime, in which case the file is skipped entirely
// (spec.md §4.6 state 1: "mtime gate").
func (p *Processor) mtimeUnchanged(ctx context.Context, uri string, mtime time.Time) (bool, error) {
	row := p.store.DB().QueryRowContext(ctx, `
		SELECT f."fileLastModified" FROM "nfo:FileDataObject" f
		JOIN "Resource" r ON r.id = f.id
		WHERE r.uri = ?`, uri)

	var stored string
	if err := row.Scan(&stored); err != nil {
		return false, nil // not found: not unchanged, proceed with processing
	}

	parsed, err := time.Parse(time.RFC3339, stored)
	if err != nil {
		return false, nil
	}

	return parsed.Equal(mtime.UTC().Truncate(time.Second)), nil
}

// ProcessFile runs one file through every state of spec.md §4.6. dataSource
// is the URI of the volume/folder resource this file belongs to. mimeType
// is the sniffed or extension-derived MIME type driving extractor dispatch.
func (p *Processor) ProcessFile(ctx context.Context, module string, e crawler.Entry, dataSource, mimeType string) error {
	uri := "file://" + e.Path

	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
	}

	// state: querying-attrs
	unchanged, err := p.mtimeUnchanged(ctx, uri, e.Info.ModTime())
	if err != nil {
		return fmt.Errorf("pipeline: %s: query attrs: %w", uri, err)
	}

	if unchanged {
		return nil
	}

	if err := p.writeBaseTriples(ctx, uri, e, dataSource, mimeType); err != nil {
		return fmt.Errorf("pipeline: %s: base triples: %w", uri, err)
	}

	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
	}

	// state: awaiting-extractor
	resp, err := p.extractor.Extract(ctx, uri, mimeType)
	if err != nil {
		return fmt.Errorf("pipeline: %s: extractor: %w", uri, err)
	}

	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
	}

	// state: stitching
	if err := p.stitch(ctx, resp); err != nil {
		return fmt.Errorf("pipeline: %s: stitch: %w", uri, err)
	}

	// state: flushed (commit happens inside stitch's buffer)
	return nil
}

// writeBaseTriples asserts the attribute-derived facts spec.md §4.6 state 2
// lists: FileDataObject/InformationElement(/Folder) typing, fileName,
// fileSize, fileLastModified, mimeType, url, isStoredAs, dataSource.
func (p *Processor) writeBaseTriples(ctx context.Context, uri string, e crawler.Entry, dataSource, mimeType string) error {
	buf := rdfstore.NewBuffer(p.store, nil)
	if err := buf.Begin(ctx); err != nil {
		return err
	}

	interp := rdfstore.NewInterpreter(buf, nil)

	steps := []func() error{
		func() error { return interp.Insert(uri, "rdf:type", "nfo:FileDataObject") },
		func() error { return interp.Insert(uri, "rdf:type", "nie:InformationElement") },
		func() error { return interp.Insert(uri, "nie:url", uri) },
		func() error { return interp.Insert(uri, "nfo:fileName", filenameOf(e.Path)) },
		func() error { return interp.Insert(uri, "nfo:fileSize", strconv.FormatInt(e.Info.Size(), 10)) },
		func() error {
			return interp.Insert(uri, "nfo:fileLastModified", e.Info.ModTime().UTC().Format(time.RFC3339))
		},
		func() error { return interp.Insert(uri, "nie:mimeType", mimeType) },
		func() error { return interp.Insert(uri, "nie:isStoredAs", uri) },
		func() error { return interp.Insert(uri, "nie:dataSource", dataSource) },
	}

	if e.Info.IsDir() {
		steps = append(steps, func() error { return interp.Insert(uri, "rdf:type", "nfo:Folder") })
	}

	for _, step := range steps {
		if err := step(); err != nil {
			_ = buf.Rollback()
			return err
		}
	}

	return buf.Commit()
}

// stitch applies the extractor's reply (spec.md §4.6 state 3, §4.8's wire
// format): if preupdate is non-empty, its statements are applied first;
// then the update block under the resource's own transaction; the where
// block is informational filtering for SPARQL DELETE/WHERE forms the
// extractor never emits in this narrower model and is accepted but unused
// beyond parse validation.
func (p *Processor) stitch(ctx context.Context, resp extractor.Response) error {
	buf := rdfstore.NewBuffer(p.store, nil)
	if err := buf.Begin(ctx); err != nil {
		return err
	}

	interp := rdfstore.NewInterpreter(buf, p.wb)

	if resp.Preupdate != "" {
		if err := applyFragment(interp, resp.Preupdate); err != nil {
			_ = buf.Rollback()
			return fmt.Errorf("preupdate: %w", err)
		}
	}

	if resp.Update != "" {
		if err := applyFragment(interp, resp.Update); err != nil {
			_ = buf.Rollback()
			return fmt.Errorf("update: %w", err)
		}
	}

	if _, err := parseFragment(resp.Where); err != nil {
		_ = buf.Rollback()
		return fmt.Errorf("where: %w", err)
	}

	return buf.Commit()
}

type fragmentStatement struct {
	subject   string
	predicate string
	object    string
}

// applyFragment parses text's "<s> <p> o ." lines and inserts each as a
// triple via interp.
func applyFragment(interp *rdfstore.Interpreter, text string) error {
	stmts, err := parseFragment(text)
	if err != nil {
		return err
	}

	for _, s := range stmts {
		if err := interp.Insert(s.subject, s.predicate, s.object); err != nil {
			return fmt.Errorf("%s %s %s: %w", s.subject, s.predicate, s.object, err)
		}
	}

	return nil
}

// parseFragment parses text into fragmentStatements using the same bare
// triple-line grammar as internal/ontology/loader.go's parseStatement.
func parseFragment(text string) ([]fragmentStatement, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	var out []fragmentStatement

	scanner := bufio.NewScanner(strings.NewReader(text))

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimSuffix(line, ".")
		line = strings.TrimSpace(line)

		fields := strings.SplitN(line, " ", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed fragment line %q", line)
		}

		subject := strings.Trim(strings.TrimSpace(fields[0]), "<>")
		predicate := strings.Trim(strings.TrimSpace(fields[1]), "<>")
		object := strings.TrimSpace(fields[2])

		if strings.HasPrefix(object, `"`) {
			unquoted, err := strconv.Unquote(object)
			if err != nil {
				return nil, fmt.Errorf("malformed literal %q: %w", object, err)
			}

			object = unquoted
		} else {
			object = strings.Trim(object, "<>")
		}

		out = append(out, fragmentStatement{subject: subject, predicate: predicate, object: object})
	}

	return out, scanner.Err()
}

func filenameOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}

	return path[idx+1:]
}
