// Package rdfstore implements the RDF update buffer, the resource-id
// allocator, and the statement interpreter that together form Tracker's
// store-facing write path (spec.md §4.1-§4.4).
package rdfstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver, grounded on the teacher's index_sqlite.go

	"trackerd/internal/ontology"
	"trackerd/internal/schema"
)

// currentSchemaVersion is bumped whenever the physical layout in package
// schema changes incompatibly. Stored in PRAGMA user_version.
const currentSchemaVersion = 1

// Store owns the SQLite handle, the resolved ontology, and the allocator's
// running id/modseq counters. One Store serves one process for its lifetime
// (spec.md §3: "Lifetime/ownership").
type Store struct {
	db  *sql.DB
	reg *ontology.Registry

	nextID      int64
	nextModSeq  int64
}

// applyPragmas matches the durability/speed tradeoffs the teacher uses for
// its own WAL-guarded index (internal/store/index_sqlite.go), generalised:
// trackerd has no separate file WAL, so SQLite's own WAL journal mode is the
// durability mechanism for the update buffer's flush (see buffer.go).
func applyPragmas(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -20000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rdfstore: apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

// Open opens (and, if absent, bootstraps) the SQLite-backed store at path.
//
// On first open (schema.NeedsBootstrap), the ontology is materialised per
// spec.md §4.1. On subsequent opens the schema version is checked and
// transient-property tables are truncated (spec.md §4.1, §3).
func Open(ctx context.Context, path string, reg *ontology.Registry) (*Store, error) {
	if reg == nil {
		return nil, errors.New("rdfstore: open: registry is nil")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("rdfstore: open: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rdfstore: ping: %w", err)
	}

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db, reg: reg}

	needsBootstrap, err := schema.NeedsBootstrap(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if needsBootstrap {
		if err := store.bootstrap(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		if err := store.verifyAndTruncateTransient(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	if err := store.loadCounters(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) bootstrap(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rdfstore: bootstrap: begin: %w", err)
	}

	if err := schema.Materialize(ctx, tx, s.reg); err != nil {
		_ = tx.Rollback()
		return err
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("rdfstore: bootstrap: set user_version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rdfstore: bootstrap: commit: %w", err)
	}

	return nil
}

func (s *Store) verifyAndTruncateTransient(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, "PRAGMA user_version")

	var version int
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("rdfstore: read user_version: %w", err)
	}

	if version != currentSchemaVersion {
		return fmt.Errorf("%w: stored version %d, expected %d", ErrSchemaCorrupt, version, currentSchemaVersion)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("rdfstore: truncate transient: begin: %w", err)
	}

	if err := schema.TruncateTransient(ctx, tx, s.reg); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("rdfstore: truncate transient: commit: %w", err)
	}

	return nil
}

func (s *Store) loadCounters(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(MAX(id), 0), COALESCE(MAX(modified), 0) FROM %s`, quoteIdent(schema.RootTable)))

	var maxID, maxMod int64
	if err := row.Scan(&maxID, &maxMod); err != nil {
		return fmt.Errorf("rdfstore: load counters: %w", err)
	}

	s.nextID = maxID + 1
	s.nextModSeq = maxMod + 1

	return nil
}

// Close releases the SQLite handle. Safe to call on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Registry returns the store's resolved ontology.
func (s *Store) Registry() *ontology.Registry {
	return s.reg
}

// DB exposes the underlying handle for read-only queries (e.g. the volume
// manager's reconciliation reads, or the pipeline's mtime-gate lookups).
// Mutations must go through Begin/Buffer to respect the update-buffer
// invariants.
func (s *Store) DB() *sql.DB {
	return s.db
}

func quoteIdent(ident string) string {
	return `"` + ident + `"`
}
