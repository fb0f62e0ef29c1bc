package rdfstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"trackerd/internal/ontology"
	"trackerd/internal/rdfstore"
)

func openStore(t *testing.T) *rdfstore.Store {
	t.Helper()

	reg, err := ontology.LoadDefault()
	require.NoError(t, err)

	store, err := rdfstore.Open(context.Background(), ":memory:", reg)
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close() })

	return store
}

// Scenario 1 (spec §8): fresh insert creates a Resource row, a class main
// table row, and a root type side-table row, and the asserted property
// reads back.
func TestBuffer_FreshInsert(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))

	interp := rdfstore.NewInterpreter(buf, nil)
	require.NoError(t, interp.Insert("file:///a", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///a", "nfo:fileName", "a.txt"))
	require.NoError(t, buf.Commit())

	var (
		id        int64
		modified  int64
		available int64
	)

	row := store.DB().QueryRowContext(ctx, `SELECT id, modified, available FROM "Resource" WHERE uri = ?`, "file:///a")
	require.NoError(t, row.Scan(&id, &modified, &available))
	require.Equal(t, int64(1), available)
	require.Greater(t, modified, int64(0))

	var n int

	err := store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM "nfo:FileDataObject" WHERE id = ?`, id).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	err = store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM "Resource_type" WHERE id = ? AND type = ?`, id, "nfo:FileDataObject").Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var name string

	row = store.DB().QueryRowContext(ctx, `SELECT "fileName" FROM "nfo:FileDataObject" WHERE id = ?`, id)
	require.NoError(t, row.Scan(&name))
	require.Equal(t, "a.txt", name)
}

// Scenario 2: asserting the same multi-valued (s,p,o) twice collapses to one
// row (set semantics).
func TestBuffer_DedupMultiValue(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))

	interp := rdfstore.NewInterpreter(buf, nil)
	require.NoError(t, interp.Insert("file:///a", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///a", "nie:keyword", "x"))
	require.NoError(t, interp.Insert("file:///a", "nie:keyword", "x"))
	require.NoError(t, buf.Commit())

	var n int

	err := store.DB().QueryRowContext(ctx,
		`SELECT count(*) FROM "nie:InformationElement_keyword" WHERE value = ?`, "x").Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

// Scenario 3: a single-valued property asserted twice with different values
// in the same batch rejects the second; the first value is retained.
func TestBuffer_CardinalityViolation(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))

	interp := rdfstore.NewInterpreter(buf, nil)
	require.NoError(t, interp.Insert("file:///a", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///a", "nfo:fileLastModified", "2020-01-01T00:00:00Z"))

	err := interp.Insert("file:///a", "nfo:fileLastModified", "2021-01-01T00:00:00Z")
	require.Error(t, err)
	require.True(t, errors.Is(err, rdfstore.ErrConstraintCard))

	require.NoError(t, buf.Commit())

	var got string

	row := store.DB().QueryRowContext(ctx, `SELECT "fileLastModified" FROM "nfo:FileDataObject"
		WHERE id = (SELECT id FROM "Resource" WHERE uri = ?)`, "file:///a")
	require.NoError(t, row.Scan(&got))
	require.Equal(t, "2020-01-01T00:00:00Z", got)
}

// Round-trip (spec §8): assert then delete the same (s,p,o) leaves the
// store in the pre-assertion observable state for that property.
func TestBuffer_RoundTripAssertThenDelete(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))

	interp := rdfstore.NewInterpreter(buf, nil)
	require.NoError(t, interp.Insert("file:///a", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///a", "nie:keyword", "x"))
	require.NoError(t, interp.Delete("file:///a", "nie:keyword", "x"))
	require.NoError(t, buf.Commit())

	var n int

	err := store.DB().QueryRowContext(ctx, `SELECT count(*) FROM "nie:InformationElement_keyword"`).Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

// Blank-node coalescing (spec §8): the same (predicate,object) multiset
// asserted under two different blank subjects in the same order yields the
// same resulting resource URI.
func TestInterpreter_BlankNodeCoalescing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))

	interp := rdfstore.NewInterpreter(buf, nil)

	require.NoError(t, interp.Insert(":b1", "rdf:type", "tracker:Volume"))
	require.NoError(t, interp.Insert(":b1", "tracker:isRemovable", "true"))
	require.NoError(t, interp.Insert("file:///a", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///a", "nie:dataSource", ":b1"))

	require.NoError(t, interp.Insert(":b2", "rdf:type", "tracker:Volume"))
	require.NoError(t, interp.Insert(":b2", "tracker:isRemovable", "true"))
	require.NoError(t, interp.Insert("file:///b", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, interp.Insert("file:///b", "nie:dataSource", ":b2"))

	require.NoError(t, buf.Commit())

	var (
		idA, idB int64
	)

	row := store.DB().QueryRowContext(ctx,
		`SELECT "dataSource" FROM "nie:DataObject" WHERE id = (SELECT id FROM "Resource" WHERE uri = ?)`, "file:///a")
	require.NoError(t, row.Scan(&idA))

	row = store.DB().QueryRowContext(ctx,
		`SELECT "dataSource" FROM "nie:DataObject" WHERE id = (SELECT id FROM "Resource" WHERE uri = ?)`, "file:///b")
	require.NoError(t, row.Scan(&idB))

	require.Equal(t, idA, idB)
}

// Move law (spec §8): update-uri renames atomically with no new id.
func TestInterpreter_UpdateURI(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	buf := rdfstore.NewBuffer(store, nil)
	require.NoError(t, buf.Begin(ctx))

	interp := rdfstore.NewInterpreter(buf, nil)
	require.NoError(t, interp.Insert("file:///A/x", "rdf:type", "nfo:FileDataObject"))
	require.NoError(t, buf.Commit())

	require.NoError(t, buf.Begin(ctx))
	require.NoError(t, interp.UpdateURI("file:///A/x", "file:///B/x"))
	require.NoError(t, buf.Commit())

	var n int

	err := store.DB().QueryRowContext(ctx, `SELECT count(*) FROM "Resource" WHERE uri = ?`, "file:///A/x").Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	err = store.DB().QueryRowContext(ctx, `SELECT count(*) FROM "Resource" WHERE uri = ?`, "file:///B/x").Scan(&n)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
