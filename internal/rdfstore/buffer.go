package rdfstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"trackerd/internal/ontology"
	"trackerd/internal/schema"
)

// flushThreshold is the in-memory pending-item bound from spec.md §4.3 /
// §5 ("Transactions"): "pending items >= 4000" forces an immediate flush.
const flushThreshold = 4000

// flushMinDelay and flushMaxDelay clamp the proportional flush timer to
// spec.md §4.3's [1s, 60s] bound.
const (
	flushMinDelay = 1 * time.Second
	flushMaxDelay = 60 * time.Second
)

// predicateState is the Predicates entity of spec.md §3: the set of values
// asserted (or loaded from storage) for one property of the active subject
// this batch.
type predicateState struct {
	property *ontology.Property
	values   map[string]Value
	loaded   bool
}

// mainTableOp accumulates pending writes for one class's main table row.
type mainTableOp struct {
	insertNeeded bool
	columns      map[string]Value // column name -> value to write; columns to clear are in nullColumns
	nullColumns  map[string]bool
	deleteRow    bool
}

// sideTableOp accumulates pending multi-value writes for one side table.
type sideTableOp struct {
	inserts []Value
	deletes []Value
}

// subjectState is the Subject entity of spec.md §3: the active subject, its
// id, whether it was freshly created this batch, and its asserted types.
type subjectState struct {
	uri     string
	id      int64
	created bool

	types map[string]bool // class URI -> asserted this batch (includes closure)

	predicates map[string]*predicateState // property URI -> state

	mainTables map[string]*mainTableOp  // class table name -> pending op
	sideTables map[string]*sideTableOp  // side table name -> pending op
	typeAdds   map[string]bool          // class URI -> pending Resource_type insert
	typeDels   map[string]bool          // class URI -> pending Resource_type delete

	typesLoaded bool // existing Resource_type rows loaded once this batch

	ftsLoaded bool // all fulltext-indexed properties loaded once this batch
	ftsDirty  bool // a fulltext-indexed property changed this batch

	touchModified bool
	deleteRoot    bool // whole resource is being deleted (root class membership dropped)

	renamePending bool
	renameTo      string
}

func newSubjectState(uri string, id int64, created bool) *subjectState {
	return &subjectState{
		uri:        uri,
		id:         id,
		created:    created,
		types:      make(map[string]bool),
		predicates: make(map[string]*predicateState),
		mainTables: make(map[string]*mainTableOp),
		sideTables: make(map[string]*sideTableOp),
		typeAdds:   make(map[string]bool),
		typeDels:   make(map[string]bool),
	}
}

func (s *subjectState) mainTable(name string) *mainTableOp {
	t, ok := s.mainTables[name]
	if !ok {
		t = &mainTableOp{columns: make(map[string]Value), nullColumns: make(map[string]bool)}
		s.mainTables[name] = t
	}

	return t
}

func (s *subjectState) sideTable(name string) *sideTableOp {
	t, ok := s.sideTables[name]
	if !ok {
		t = &sideTableOp{}
		s.sideTables[name] = t
	}

	return t
}

// Buffer is the per-subject, per-transaction accumulator of spec.md §4.3:
// it batches insert/update/delete operations grouped by table, holds
// property-value sets for dedup and cardinality checks, and flushes as
// batched SQL. Grounded on the teacher's internal/store/tx.go buffered-then-
// atomically-committed Tx shape.
type Buffer struct {
	store *Store
	ctx   context.Context //nolint:containedctx // batch lifetime is bound to one request chain, matching the teacher's Tx

	sqlTx *sql.Tx
	depth int

	idCache map[string]int64

	subject *subjectState

	blanks map[string][]blankStmt // BlankBuffer: blank subject ref -> pending (predicate,object) pairs

	pendingOps int

	flushTimer *time.Timer
	queueLen   func() int // supplied by the scheduler; used by ScheduleFlush's proportional delay
}

type blankStmt struct {
	predicate string
	object    string
	isURI     bool
}

// NewBuffer returns a Buffer bound to store. queueLen, if non-nil, is
// consulted by ScheduleFlush to size the proportional flush timer
// (spec.md §4.3: "a timer that fires when the queue length * a fixed
// factor reaches a bound clamped to [1s, 60s]").
func NewBuffer(store *Store, queueLen func() int) *Buffer {
	return &Buffer{store: store, queueLen: queueLen}
}

// Begin initialises the per-batch state. Re-entrant: nested Begins increment
// a depth counter; only the outermost Commit flushes and closes the
// underlying store transaction (spec.md §4.3).
func (b *Buffer) Begin(ctx context.Context) error {
	if b.depth == 0 {
		tx, err := b.store.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("rdfstore: begin: %w", err)
		}

		b.ctx = ctx
		b.sqlTx = tx
		b.idCache = make(map[string]int64)
		b.blanks = make(map[string][]blankStmt)
		b.subject = nil
		b.pendingOps = 0
	}

	b.depth++

	return nil
}

// Commit flushes the active subject (if any) and, at depth 0, commits the
// underlying SQL transaction.
func (b *Buffer) Commit() error {
	if b.depth == 0 {
		return errors.New("rdfstore: commit: no active batch")
	}

	b.depth--

	if b.depth > 0 {
		return nil
	}

	if err := b.flushSubject(); err != nil {
		_ = b.sqlTx.Rollback()
		b.clear()

		return err
	}

	if err := b.sqlTx.Commit(); err != nil {
		b.clear()
		return fmt.Errorf("rdfstore: commit: %w", err)
	}

	b.clear()

	return nil
}

// Rollback discards all buffered state for the current batch, regardless of
// nesting depth.
func (b *Buffer) Rollback() error {
	if b.sqlTx == nil {
		return nil
	}

	err := b.sqlTx.Rollback()
	b.clear()

	if err != nil {
		return fmt.Errorf("rdfstore: rollback: %w", err)
	}

	return nil
}

func (b *Buffer) clear() {
	b.sqlTx = nil
	b.depth = 0
	b.subject = nil
	b.idCache = nil
	b.blanks = nil
	b.pendingOps = 0
}

// Registry exposes the bound store's ontology, for callers (the statement
// interpreter) that need to resolve classes/properties.
func (b *Buffer) Registry() *ontology.Registry {
	return b.store.reg
}

// SetSubject switches the active subject, flushing the previous one first
// if different (spec.md §4.3). Sets create? based on whether the id
// existed, and records a pending bump to the subject's modified column.
func (b *Buffer) SetSubject(uri string) error {
	if b.subject != nil && b.subject.uri == uri {
		return nil
	}

	if b.subject != nil {
		if err := b.flushSubject(); err != nil {
			return err
		}
	}

	existed, err := b.queryID(uri)
	if err != nil {
		return err
	}

	var id int64

	created := existed == 0

	if created {
		id, err = b.ensureID(uri)
		if err != nil {
			return err
		}
	} else {
		id = existed
	}

	b.subject = newSubjectState(uri, id, created)
	b.subject.touchModified = true

	return nil
}

// bufferBlank piles up one (predicate, object) pair asserted against a
// blank subject ref, deferred until resolveBlank coalesces every pair piled
// up for ref into a canonical resource (spec.md §4.4's blank-node protocol).
func (b *Buffer) bufferBlank(ref, predicate, object string, isURI bool) {
	b.blanks[ref] = append(b.blanks[ref], blankStmt{predicate: predicate, object: object, isURI: isURI})
}

// SubjectID returns the active subject's id, or 0 if none is active.
func (b *Buffer) SubjectID() int64 {
	if b.subject == nil {
		return 0
	}

	return b.subject.id
}

// AddType asserts class membership for the active subject. For each class
// in its super-class chain: idempotent per batch, inserts the class URI id
// into the root's type side table, increments the class's count, and
// ensures a row in the class's main table (spec.md §4.3).
func (b *Buffer) AddType(classURI string) error {
	if b.subject == nil {
		return ErrNoActiveSubject
	}

	class, ok := b.store.reg.Class(classURI)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClass, classURI)
	}

	if err := b.loadTypesIfNeeded(); err != nil {
		return err
	}

	root := b.store.reg.Root()

	for _, c := range class.SuperClasses() {
		if b.subject.types[c.URI] {
			continue
		}

		b.subject.types[c.URI] = true
		b.subject.typeAdds[c.URI] = true
		delete(b.subject.typeDels, c.URI)

		c.Count++
		b.pendingOps++

		if c == root || !c.IsRootDerived(root) {
			continue
		}

		b.subject.mainTable(c.Table).insertNeeded = true
	}

	return nil
}

// SetValue coerces value to the property's storage type and records it,
// recursively applying to every super-property (spec.md §4.3).
func (b *Buffer) SetValue(propertyURI string, raw any) error {
	if b.subject == nil {
		return ErrNoActiveSubject
	}

	property, ok := b.store.reg.Property(propertyURI)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, propertyURI)
	}

	for _, p := range property.SuperProperties() {
		if err := b.setSingleValue(p, raw); err != nil {
			return err
		}
	}

	return nil
}

func (b *Buffer) setSingleValue(p *ontology.Property, raw any) error {
	if p.Domain != nil {
		if err := b.loadTypesIfNeeded(); err != nil {
			return err
		}

		if !b.subject.types[p.Domain.URI] {
			return fmt.Errorf("%w: property %s requires domain %s", ErrConstraintDomain, p.URI, p.Domain.URI)
		}
	}

	if err := b.loadPredicateIfNeeded(p); err != nil {
		return err
	}

	value, err := coerceValue(p, raw, b.ensureID)
	if err != nil {
		return err
	}

	state := b.subject.predicates[p.URI]
	key := value.key()

	if _, exists := state.values[key]; exists {
		return nil // no-op: already present (spec.md §4.3 step 5)
	}

	if p.SingleValued && len(state.values) >= 1 {
		return fmt.Errorf("%w: property %s", ErrConstraintCard, p.URI)
	}

	state.values[key] = value
	b.pendingOps++

	b.recordWrite(p, value, true)

	if p.FulltextIndexed {
		b.subject.ftsDirty = true
	}

	return nil
}

// DeleteValue is the symmetric path to SetValue: for single-valued
// properties it writes the main-table column to null, for multi-valued it
// deletes the matching side-table row. Also applied to super-properties
// (spec.md §4.3).
func (b *Buffer) DeleteValue(propertyURI string, raw any) error {
	if b.subject == nil {
		return ErrNoActiveSubject
	}

	property, ok := b.store.reg.Property(propertyURI)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, propertyURI)
	}

	for _, p := range property.SuperProperties() {
		if err := b.deleteSingleValue(p, raw); err != nil {
			return err
		}
	}

	return nil
}

func (b *Buffer) deleteSingleValue(p *ontology.Property, raw any) error {
	if err := b.loadPredicateIfNeeded(p); err != nil {
		return err
	}

	// queryID, not ensureID: deleting a resource-valued property must never
	// allocate an id for a URI that was never asserted (spec.md §4.3).
	value, err := coerceValue(p, raw, b.queryID)
	if err != nil {
		return err
	}

	state := b.subject.predicates[p.URI]
	key := value.key()

	if _, exists := state.values[key]; !exists {
		return nil // nothing to delete
	}

	delete(state.values, key)
	b.pendingOps++

	b.recordWrite(p, value, false)

	if p.FulltextIndexed {
		b.subject.ftsDirty = true
	}

	return nil
}

// domainTable returns the physical table a single-valued property column
// lives on. The root class has no per-class main table of its own (its
// columns live on the fixed Resource table created by package schema), so
// root-domain properties (e.g. tracker:available) map onto that table name
// instead of the class's nominal (unmaterialised) table.
func (b *Buffer) domainTable(c *ontology.Class) string {
	if c == b.store.reg.Root() {
		return schema.RootTable
	}

	return c.Table
}

// recordWrite stages the SQL-level effect of adding (add=true) or removing
// (add=false) value for property p of the active subject.
func (b *Buffer) recordWrite(p *ontology.Property, value Value, add bool) {
	if p.Domain == nil {
		return
	}

	if p.SingleValued {
		t := b.subject.mainTable(b.domainTable(p.Domain))
		col := ontologyLocalName(p.URI)

		if add {
			t.columns[col] = value
			delete(t.nullColumns, col)
		} else {
			t.nullColumns[col] = true
			delete(t.columns, col)
		}

		return
	}

	side := p.SideTable(p.Domain)
	t := b.subject.sideTable(side)

	if add {
		t.inserts = append(t.inserts, value)
	} else {
		// A value added earlier in this batch is dropped from the pending
		// inserts, since flushSideTables applies deletes before inserts.
		kept := t.inserts[:0]
		for _, v := range t.inserts {
			if v.key() != value.key() {
				kept = append(kept, v)
			}
		}

		t.inserts = kept
		t.deletes = append(t.deletes, value)
	}
}

// loadPredicateIfNeeded loads existing values for property p into the
// predicates map on first touch, unless the subject is fresh (spec.md §4.3
// step 3). On fulltext-indexed writes it also proactively loads all
// fulltext-indexed properties and schedules a "delete old text" re-index
// (spec.md §4.9), guarded so the re-read happens exactly once per batch.
func (b *Buffer) loadPredicateIfNeeded(p *ontology.Property) error {
	if _, ok := b.subject.predicates[p.URI]; !ok {
		state := &predicateState{property: p, values: make(map[string]Value)}
		b.subject.predicates[p.URI] = state

		if !b.subject.created {
			if err := b.loadExistingValues(p, state); err != nil {
				return err
			}
		}

		state.loaded = true
	}

	if p.FulltextIndexed && !b.subject.ftsLoaded {
		b.subject.ftsLoaded = true

		if err := b.loadAllFulltextProperties(); err != nil {
			return err
		}
	}

	return nil
}

// loadTypesIfNeeded loads the subject's current Resource_type rows once per
// batch, so add_type can tell whether a class membership already existed
// (and avoid double-counting Count) and delete_subject can see memberships
// asserted in prior commits, not just this batch.
func (b *Buffer) loadTypesIfNeeded() error {
	if b.subject.typesLoaded {
		return nil
	}

	b.subject.typesLoaded = true

	if b.subject.created {
		return nil
	}

	rows, err := b.sqlTx.QueryContext(b.ctx, `SELECT type FROM "Resource_type" WHERE id = ?`, b.subject.id)
	if err != nil {
		return fmt.Errorf("rdfstore: load types: %w", err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var classURI string
		if err := rows.Scan(&classURI); err != nil {
			return fmt.Errorf("rdfstore: scan type row: %w", err)
		}

		b.subject.types[classURI] = true
	}

	return rows.Err()
}

// Types returns the active subject's currently-asserted class URIs
// (including memberships from prior commits, once loaded). Used by the
// statement interpreter's cascading delete(s, type, o).
func (b *Buffer) Types() ([]string, error) {
	if b.subject == nil {
		return nil, ErrNoActiveSubject
	}

	if err := b.loadTypesIfNeeded(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(b.subject.types))
	for t := range b.subject.types {
		out = append(out, t)
	}

	return out, nil
}

func (b *Buffer) loadExistingValues(p *ontology.Property, state *predicateState) error {
	if p.Domain == nil {
		return nil
	}

	if p.SingleValued {
		col := ontologyLocalName(p.URI)

		row := b.sqlTx.QueryRowContext(b.ctx,
			fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, quoteIdent(col), quoteIdent(b.domainTable(p.Domain))), b.subject.id)

		var raw any

		if err := row.Scan(&raw); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}

			return fmt.Errorf("rdfstore: load existing value for %s: %w", p.URI, err)
		}

		if raw == nil {
			return nil
		}

		v := valueFromSQL(p, raw)
		state.values[v.key()] = v

		return nil
	}

	side := p.SideTable(p.Domain)

	rows, err := b.sqlTx.QueryContext(b.ctx,
		fmt.Sprintf(`SELECT value FROM %s WHERE id = ?`, quoteIdent(side)), b.subject.id)
	if err != nil {
		return fmt.Errorf("rdfstore: load existing values for %s: %w", p.URI, err)
	}

	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("rdfstore: scan existing value for %s: %w", p.URI, err)
		}

		v := valueFromSQL(p, raw)
		state.values[v.key()] = v
	}

	return rows.Err()
}

// loadAllFulltextProperties loads every fulltext-indexed property's current
// values for the subject, so the commit-time fulltext re-index (§4.9) can
// assemble the full "old text" to be superseded.
func (b *Buffer) loadAllFulltextProperties() error {
	for _, p := range b.store.reg.Properties() {
		if !p.FulltextIndexed {
			continue
		}

		if _, ok := b.subject.predicates[p.URI]; ok {
			continue
		}

		state := &predicateState{property: p, values: make(map[string]Value)}
		b.subject.predicates[p.URI] = state

		if !b.subject.created {
			if err := b.loadExistingValues(p, state); err != nil {
				return err
			}
		}

		state.loaded = true
	}

	return nil
}

func valueFromSQL(p *ontology.Property, raw any) Value {
	switch p.DataKind {
	case ontology.KindString:
		return Value{Kind: ontology.KindString, Str: toString(raw)}
	case ontology.KindDateTime:
		return Value{Kind: ontology.KindDateTime, Str: toString(raw)}
	case ontology.KindInt64, ontology.KindDate:
		return Value{Kind: p.DataKind, Int: toInt64(raw)}
	case ontology.KindBool:
		return Value{Kind: ontology.KindBool, Bool: toInt64(raw) != 0}
	case ontology.KindDouble:
		return Value{Kind: ontology.KindDouble, Float: toFloat64(raw)}
	case ontology.KindResource:
		return Value{Kind: ontology.KindResource, ResourceID: toInt64(raw)}
	default:
		return Value{}
	}
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func toInt64(raw any) int64 {
	switch v := raw.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func toFloat64(raw any) float64 {
	switch v := raw.(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// ScheduleRename implements the "internal uri predicate" branch of the
// statement interpreter's insert-uri/insert-string (spec.md §4.4): a write
// to the subject's own tracker:uri property renames the row at flush rather
// than being treated as an ordinary property value.
func (b *Buffer) ScheduleRename(newURI string) error {
	if b.subject == nil {
		return ErrNoActiveSubject
	}

	b.subject.renamePending = true
	b.subject.renameTo = newURI
	b.subject.touchModified = true

	return nil
}

func (b *Buffer) applyRename(s *subjectState) error {
	existing, err := b.queryID(s.renameTo)
	if err != nil {
		return err
	}

	if existing != 0 && existing != s.id {
		return fmt.Errorf("%w: %s", ErrURITaken, s.renameTo)
	}

	if _, err := b.sqlTx.ExecContext(b.ctx,
		fmt.Sprintf(`UPDATE %s SET uri = ? WHERE id = ?`, quoteIdent(schema.RootTable)), s.renameTo, s.id); err != nil {
		return fmt.Errorf("rdfstore: flush: rename: %w", err)
	}

	delete(b.idCache, s.uri)
	b.idCache[s.renameTo] = s.id
	s.uri = s.renameTo

	return nil
}

// UpdateURI implements the statement interpreter's standalone update-uri(old,
// new) entry point (spec.md §4.4): an atomic rename outside the normal
// subject/predicate flow, used by callers (e.g. the move/rename path) that
// already know the resource's old and new canonical URIs. Fails if old is
// absent or new is already taken by a different resource.
func (b *Buffer) UpdateURI(oldURI, newURI string) error {
	id, err := b.queryID(oldURI)
	if err != nil {
		return err
	}

	if id == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownResource, oldURI)
	}

	existing, err := b.queryID(newURI)
	if err != nil {
		return err
	}

	if existing != 0 {
		return fmt.Errorf("%w: %s", ErrURITaken, newURI)
	}

	if _, err := b.sqlTx.ExecContext(b.ctx,
		fmt.Sprintf(`UPDATE %s SET uri = ? WHERE id = ?`, quoteIdent(schema.RootTable)), newURI, id); err != nil {
		return fmt.Errorf("rdfstore: update_uri: %w", err)
	}

	delete(b.idCache, oldURI)
	b.idCache[newURI] = id

	if b.subject != nil && b.subject.id == id {
		b.subject.uri = newURI
	}

	return nil
}

// DeleteSubject clears the subject's type side-table rows for class c,
// deletes the main-table row, and recursively for the root class also
// drops the fulltext row (spec.md §4.3).
func (b *Buffer) DeleteSubject(c *ontology.Class) error {
	if b.subject == nil {
		return ErrNoActiveSubject
	}

	if err := b.loadTypesIfNeeded(); err != nil {
		return err
	}

	if !b.subject.types[c.URI] {
		return nil
	}

	delete(b.subject.types, c.URI)
	b.subject.typeDels[c.URI] = true
	delete(b.subject.typeAdds, c.URI)

	if c.Count > 0 {
		c.Count--
	}

	b.pendingOps++

	root := b.store.reg.Root()

	if c == root {
		b.subject.deleteRoot = true
		return nil
	}

	if c.IsRootDerived(root) {
		b.subject.mainTable(c.Table).deleteRow = true
	}

	return nil
}

// flushSubject writes the active subject's pending state as batched SQL
// (spec.md §4.3 commit()) and clears it. Ordering: type table adjustments,
// main-table inserts/updates/deletes, side-table inserts/deletes, the
// modified-column bump, and finally the fulltext re-index.
func (b *Buffer) flushSubject() error {
	if b.subject == nil {
		return nil
	}

	s := b.subject

	if s.renamePending {
		if err := b.applyRename(s); err != nil {
			return err
		}
	}

	if err := b.flushTypeTable(s); err != nil {
		return err
	}

	if err := b.flushMainTables(s); err != nil {
		return err
	}

	if err := b.flushSideTables(s); err != nil {
		return err
	}

	if s.deleteRoot {
		if _, err := b.sqlTx.ExecContext(b.ctx, `DELETE FROM fts WHERE rowid = ?`, s.id); err != nil {
			return fmt.Errorf("rdfstore: flush: delete fts row: %w", err)
		}

		if _, err := b.sqlTx.ExecContext(b.ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, quoteIdent(schema.RootTable)), s.id); err != nil {
			return fmt.Errorf("rdfstore: flush: delete resource row: %w", err)
		}

		b.subject = nil

		return nil
	}

	if s.touchModified {
		modSeq := b.store.nextModSeq
		b.store.nextModSeq++

		_, err := b.sqlTx.ExecContext(b.ctx,
			fmt.Sprintf(`UPDATE %s SET modified = ? WHERE id = ?`, quoteIdent(schema.RootTable)), modSeq, s.id)
		if err != nil {
			return fmt.Errorf("rdfstore: flush: bump modified: %w", err)
		}
	}

	if err := b.flushFulltext(s); err != nil {
		return err
	}

	b.subject = nil

	return nil
}

func (b *Buffer) flushTypeTable(s *subjectState) error {
	adds := sortedKeys(s.typeAdds)
	for _, classURI := range adds {
		_, err := b.sqlTx.ExecContext(b.ctx,
			`INSERT INTO "Resource_type"(id, type) VALUES (?, ?) ON CONFLICT(type, id) DO NOTHING`, s.id, classURI)
		if err != nil {
			return fmt.Errorf("rdfstore: flush: insert type row: %w", err)
		}
	}

	dels := sortedKeys(s.typeDels)
	for _, classURI := range dels {
		_, err := b.sqlTx.ExecContext(b.ctx,
			`DELETE FROM "Resource_type" WHERE id = ? AND type = ?`, s.id, classURI)
		if err != nil {
			return fmt.Errorf("rdfstore: flush: delete type row: %w", err)
		}
	}

	return nil
}

func (b *Buffer) flushMainTables(s *subjectState) error {
	names := make([]string, 0, len(s.mainTables))
	for name := range s.mainTables {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		op := s.mainTables[name]

		if op.deleteRow {
			_, err := b.sqlTx.ExecContext(b.ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, quoteIdent(name)), s.id)
			if err != nil {
				return fmt.Errorf("rdfstore: flush: delete row from %s: %w", name, err)
			}

			continue
		}

		if op.insertNeeded {
			_, err := b.sqlTx.ExecContext(b.ctx,
				fmt.Sprintf(`INSERT INTO %s(id) VALUES (?) ON CONFLICT(id) DO NOTHING`, quoteIdent(name)), s.id)
			if err != nil {
				return fmt.Errorf("rdfstore: flush: insert row into %s: %w", name, err)
			}
		}

		if err := b.flushMainTableColumns(name, op, s.id); err != nil {
			return err
		}
	}

	return nil
}

func (b *Buffer) flushMainTableColumns(table string, op *mainTableOp, id int64) error {
	if len(op.columns) == 0 && len(op.nullColumns) == 0 {
		return nil
	}

	var (
		sets []string
		args []any
	)

	cols := make([]string, 0, len(op.columns))
	for c := range op.columns {
		cols = append(cols, c)
	}

	sort.Strings(cols)

	for _, c := range cols {
		sets = append(sets, fmt.Sprintf("%s = ?", quoteIdent(c)))
		args = append(args, op.columns[c].sqlValue())
	}

	nullCols := make([]string, 0, len(op.nullColumns))
	for c := range op.nullColumns {
		nullCols = append(nullCols, c)
	}

	sort.Strings(nullCols)

	for _, c := range nullCols {
		sets = append(sets, fmt.Sprintf("%s = NULL", quoteIdent(c)))
	}

	args = append(args, id)

	stmt := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, quoteIdent(table), strings.Join(sets, ", "))
	if _, err := b.sqlTx.ExecContext(b.ctx, stmt, args...); err != nil {
		return fmt.Errorf("rdfstore: flush: update %s: %w", table, err)
	}

	return nil
}

func (b *Buffer) flushSideTables(s *subjectState) error {
	names := make([]string, 0, len(s.sideTables))
	for name := range s.sideTables {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		op := s.sideTables[name]

		for _, v := range op.deletes {
			_, err := b.sqlTx.ExecContext(b.ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND value = ?`, quoteIdent(name)), s.id, v.sqlValue())
			if err != nil {
				return fmt.Errorf("rdfstore: flush: delete from %s: %w", name, err)
			}
		}

		for _, v := range op.inserts {
			_, err := b.sqlTx.ExecContext(b.ctx,
				fmt.Sprintf(`INSERT INTO %s(id, value) VALUES (?, ?) ON CONFLICT DO NOTHING`, quoteIdent(name)),
				s.id, v.sqlValue())
			if err != nil {
				return fmt.Errorf("rdfstore: flush: insert into %s: %w", name, err)
			}
		}
	}

	return nil
}

// flushFulltext re-reads the subject's current fulltext-indexed string
// values (after all edits) and replaces the fts row, guarded by ftsDirty so
// unrelated commits never touch the index (spec.md §4.9).
func (b *Buffer) flushFulltext(s *subjectState) error {
	if !s.ftsDirty {
		return nil
	}

	// ensureID always pre-inserts a (contentless, empty) fts row for every
	// resource id, so there is always an old row to retire first; fts5
	// contentless tables have no UPDATE, only delete-then-reinsert
	// (spec.md §4.9).
	if _, err := b.sqlTx.ExecContext(b.ctx, `DELETE FROM fts WHERE rowid = ?`, s.id); err != nil {
		return fmt.Errorf("rdfstore: flush: delete old fts text: %w", err)
	}

	cols, values := b.assembleFulltextRow(s)

	placeholders := make([]string, len(cols)+1)
	placeholders[0] = "?"

	args := make([]any, 0, len(cols)+1)
	args = append(args, s.id)

	for i, v := range values {
		placeholders[i+1] = "?"
		args = append(args, v)
	}

	colList := append([]string{"rowid"}, cols...)
	for i := range colList {
		colList[i] = quoteIdent(colList[i])
	}

	stmt := fmt.Sprintf(`INSERT INTO fts(%s) VALUES (%s)`, strings.Join(colList, ", "), strings.Join(placeholders, ", "))
	if _, err := b.sqlTx.ExecContext(b.ctx, stmt, args...); err != nil {
		return fmt.Errorf("rdfstore: flush: insert fts row: %w", err)
	}

	return nil
}

// assembleFulltextRow concatenates (space-separated) the current values of
// every fulltext-indexed string property, one column per property, in the
// same column order the schema package created the fts table with.
func (b *Buffer) assembleFulltextRow(s *subjectState) ([]string, []string) {
	var cols, vals []string

	for _, p := range sortedFulltextProperties(b.store.reg) {
		cols = append(cols, ontologyLocalName(p.URI))

		state, ok := s.predicates[p.URI]
		if !ok {
			vals = append(vals, "")
			continue
		}

		parts := make([]string, 0, len(state.values))
		for _, v := range state.values {
			parts = append(parts, v.Str)
		}

		sort.Strings(parts)
		vals = append(vals, strings.Join(parts, " "))
	}

	return cols, vals
}

func sortedFulltextProperties(reg *ontology.Registry) []*ontology.Property {
	var out []*ontology.Property

	for _, p := range reg.Properties() {
		if p.FulltextIndexed && p.DataKind == ontology.KindString {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })

	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func ontologyLocalName(uri string) string {
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '#' || uri[i] == '/' || uri[i] == ':' {
			return uri[i+1:]
		}
	}

	return uri
}

// ScheduleFlush implements spec.md §4.3's schedule_flush(now?): if now, it
// commits immediately; else it arms a timer proportional to the scheduler's
// queue length, clamped to [1s, 60s], and also fires immediately once
// pendingOps crosses flushThreshold.
func (b *Buffer) ScheduleFlush(now bool, onFlush func()) {
	if now || b.pendingOps >= flushThreshold {
		if b.flushTimer != nil {
			b.flushTimer.Stop()
			b.flushTimer = nil
		}

		onFlush()

		return
	}

	if b.flushTimer != nil {
		return
	}

	qlen := 1
	if b.queueLen != nil {
		qlen = b.queueLen()
	}

	delay := time.Duration(qlen) * 15 * time.Millisecond
	if delay < flushMinDelay {
		delay = flushMinDelay
	}

	if delay > flushMaxDelay {
		delay = flushMaxDelay
	}

	b.flushTimer = time.AfterFunc(delay, func() {
		b.flushTimer = nil
		onFlush()
	})
}
