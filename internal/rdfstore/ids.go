package rdfstore

import (
	"database/sql"
	"errors"
	"fmt"

	"trackerd/internal/schema"
)

// ensureID implements spec.md §4.2's ensure_id(uri) -> id: returns an
// existing id, else allocates the next id, inserts the Resource row and a
// matching fts row, and caches the mapping for the batch.
func (b *Buffer) ensureID(uri string) (int64, error) {
	if id, ok := b.idCache[uri]; ok {
		return id, nil
	}

	id, found, err := b.queryIDLocked(uri)
	if err != nil {
		return 0, err
	}

	if found {
		b.idCache[uri] = id
		return id, nil
	}

	id = b.store.nextID
	b.store.nextID++

	modSeq := b.store.nextModSeq
	b.store.nextModSeq++

	_, err = b.sqlTx.ExecContext(b.ctx,
		fmt.Sprintf(`INSERT INTO %s(id, uri, modified, available) VALUES (?, ?, ?, 1)`, quoteIdent(schema.RootTable)),
		id, uri, modSeq)
	if err != nil {
		return 0, fmt.Errorf("rdfstore: ensure_id: insert resource: %w", err)
	}

	if _, err := b.sqlTx.ExecContext(b.ctx, `INSERT INTO fts(rowid) VALUES (?)`, id); err != nil {
		return 0, fmt.Errorf("rdfstore: ensure_id: insert fts row: %w", err)
	}

	b.idCache[uri] = id

	return id, nil
}

// queryID implements the non-allocating variant: query_id(uri) -> id|0.
func (b *Buffer) queryID(uri string) (int64, error) {
	if id, ok := b.idCache[uri]; ok {
		return id, nil
	}

	id, found, err := b.queryIDLocked(uri)
	if err != nil {
		return 0, err
	}

	if !found {
		return 0, nil
	}

	b.idCache[uri] = id

	return id, nil
}

func (b *Buffer) queryIDLocked(uri string) (int64, bool, error) {
	row := b.sqlTx.QueryRowContext(b.ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE uri = ?`, quoteIdent(schema.RootTable)), uri)

	var id int64

	err := row.Scan(&id)
	if err == nil {
		return id, true, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	return 0, false, fmt.Errorf("rdfstore: query_id: %w", err)
}
