// Package schema derives the per-class SQL tables, multi-value side tables
// and fulltext virtual table from an ontology.Registry, and detects whether
// a store needs bootstrapping at all.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"trackerd/internal/ontology"
)

// RootTable is the fixed physical name of the root resource table
// (spec.md §6: "Resource(id, uri, modified, available) — the entry point").
const RootTable = "Resource"

// rootTypeSideTable is the root's class-membership side table, always
// present regardless of which classes the loaded ontology declares.
const rootTypeSideTable = "Resource_type"

// NeedsBootstrap reports whether the root table is absent, which spec.md
// §4.1 defines as the sole signal that the store has never been opened.
func NeedsBootstrap(ctx context.Context, db *sql.DB) (bool, error) {
	row := db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, RootTable)

	var n int

	err := row.Scan(&n)
	if err != nil {
		return false, fmt.Errorf("schema: check root table: %w", err)
	}

	return n == 0, nil
}

// Materialize creates the root table, one table per non-XSD class, one side
// table per multi-valued property, per-class indexes for single-valued
// indexed properties, and the fulltext virtual table. It also inserts every
// class's URI into the root table (spec.md §4.1: "reserving its id").
//
// Materialize must run exactly once, inside the transaction that also
// records the schema version (see Store.Open in package rdfstore).
func Materialize(ctx context.Context, tx *sql.Tx, reg *ontology.Registry) error {
	root := reg.Root()

	if err := createRootTable(ctx, tx); err != nil {
		return err
	}

	classes := sortedClasses(reg)

	for _, c := range classes {
		if c == root || !c.IsRootDerived(root) {
			continue
		}

		if err := createClassTable(ctx, tx, reg, c); err != nil {
			return err
		}
	}

	if err := createFulltextTable(ctx, tx, reg); err != nil {
		return err
	}

	for _, c := range classes {
		if err := reserveClassID(ctx, tx, c); err != nil {
			return err
		}
	}

	return nil
}

func sortedClasses(reg *ontology.Registry) []*ontology.Class {
	classes := reg.Classes()

	sort.Slice(classes, func(i, j int) bool { return classes[i].URI < classes[j].URI })

	return classes
}

func createRootTable(ctx context.Context, tx *sql.Tx) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			id INTEGER PRIMARY KEY,
			uri TEXT NOT NULL UNIQUE,
			modified INTEGER NOT NULL,
			available INTEGER NOT NULL DEFAULT 1
		)`, quoteIdent(RootTable)),
		fmt.Sprintf(`CREATE TABLE %s (
			id INTEGER NOT NULL REFERENCES %s(id),
			type TEXT NOT NULL,
			UNIQUE(type, id)
		)`, quoteIdent(rootTypeSideTable), quoteIdent(RootTable)),
	}

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: create root table: %w", err)
		}
	}

	return nil
}

func createClassTable(ctx context.Context, tx *sql.Tx, reg *ontology.Registry, c *ontology.Class) error {
	columns := []string{fmt.Sprintf("id INTEGER PRIMARY KEY REFERENCES %s(id)", quoteIdent(RootTable))}

	var indexStmts []string

	props := sortedProperties(reg)

	for _, p := range props {
		if p.Domain != c {
			continue
		}

		if p.SingleValued {
			columns = append(columns, fmt.Sprintf("%s %s", quoteIdent(localName(p.URI)), sqlTypeFor(p.DataKind)))

			if p.Indexed {
				idxName := fmt.Sprintf("idx_%s_%s", sanitize(c.Table), sanitize(localName(p.URI)))
				indexStmts = append(indexStmts, fmt.Sprintf(
					"CREATE INDEX %s ON %s(%s)", quoteIdent(idxName), quoteIdent(c.Table), quoteIdent(localName(p.URI))))
			}

			continue
		}

		sideTable := p.SideTable(c)

		uniqueCols := "id, value"
		if p.Indexed {
			uniqueCols = "value, id"
		}

		stmt := fmt.Sprintf(`CREATE TABLE %s (
			id INTEGER NOT NULL REFERENCES %s(id),
			value %s NOT NULL,
			UNIQUE(%s)
		)`, quoteIdent(sideTable), quoteIdent(RootTable), sqlTypeFor(p.DataKind), uniqueCols)

		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: create side table %s: %w", sideTable, err)
		}
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdent(c.Table), strings.Join(columns, ",\n\t"))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("schema: create class table %s: %w", c.Table, err)
	}

	for _, idx := range indexStmts {
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("schema: create index on %s: %w", c.Table, err)
		}
	}

	return nil
}

func sortedProperties(reg *ontology.Registry) []*ontology.Property {
	props := reg.Properties()

	sort.Slice(props, func(i, j int) bool { return props[i].URI < props[j].URI })

	return props
}

func createFulltextTable(ctx context.Context, tx *sql.Tx, reg *ontology.Registry) error {
	var cols []string

	for _, p := range sortedProperties(reg) {
		if p.FulltextIndexed && p.DataKind == ontology.KindString {
			cols = append(cols, quoteIdent(localName(p.URI)))
		}
	}

	if len(cols) == 0 {
		cols = []string{quoteIdent("content")}
	}

	stmt := fmt.Sprintf("CREATE VIRTUAL TABLE fts USING fts5(%s, content='', tokenize='unicode61')",
		strings.Join(cols, ", "))

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("schema: create fts table: %w", err)
	}

	return nil
}

// reserveClassID inserts the class's own URI into the root table, reserving
// its resource id (spec.md §4.1).
func reserveClassID(ctx context.Context, tx *sql.Tx, c *ontology.Class) error {
	_, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(uri, modified, available) VALUES (?, 1, 1)
			ON CONFLICT(uri) DO NOTHING`, quoteIdent(RootTable)),
		c.URI)
	if err != nil {
		return fmt.Errorf("schema: reserve class id for %s: %w", c.URI, err)
	}

	return nil
}

// TruncateTransient clears side tables (and single-valued columns) for
// transient properties on every open (spec.md §4.1: "transient-property
// tables are truncated"; spec.md §3: "Side tables for transient properties
// are truncated at startup").
func TruncateTransient(ctx context.Context, tx *sql.Tx, reg *ontology.Registry) error {
	root := reg.Root()

	for _, p := range sortedProperties(reg) {
		if !p.Transient || p.Domain == nil {
			continue
		}

		if p.SingleValued {
			stmt := fmt.Sprintf("UPDATE %s SET %s = NULL", quoteIdent(p.Domain.Table), quoteIdent(localName(p.URI)))
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema: truncate transient column %s: %w", p.URI, err)
			}

			continue
		}

		if p.Domain == root {
			continue
		}

		stmt := fmt.Sprintf("DELETE FROM %s", quoteIdent(p.SideTable(p.Domain)))
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: truncate transient side table %s: %w", p.URI, err)
		}
	}

	return nil
}

func sqlTypeFor(k ontology.Kind) string {
	switch k {
	case ontology.KindString, ontology.KindDateTime:
		return "TEXT"
	case ontology.KindInt64, ontology.KindBool, ontology.KindDate, ontology.KindResource:
		return "INTEGER"
	case ontology.KindDouble:
		return "REAL"
	default:
		return "TEXT"
	}
}

func localName(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '#' || uri[i] == '/' || uri[i] == ':' {
			return uri[i+1:]
		}
	}

	return uri
}

func sanitize(s string) string {
	return strings.NewReplacer(":", "_", "/", "_", "#", "_", ".", "_", "-", "_").Replace(s)
}

// quoteIdent double-quotes a SQL identifier so class-table names containing
// ':' (e.g. "nfo:FileDataObject") are valid SQLite identifiers, per
// spec.md §6 ("so string-quoted in SQL").
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
