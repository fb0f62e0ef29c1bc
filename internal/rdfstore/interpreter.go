package rdfstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"trackerd/internal/ontology"
)

// blankNamespace seeds the SHA-1 UUID derivation for blank-node coalescing
// (spec.md §4.4). Any fixed, process-independent namespace works since only
// determinism across equal inputs matters, not secrecy.
var blankNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Observer receives one successfully set (subject, predicate, object) value
// triple. internal/writeback.Dispatcher implements this without rdfstore
// needing to import it back.
type Observer interface {
	Observe(ctx context.Context, subject, predicate, object string)
}

// Interpreter is the statement interpreter of spec.md §4.4: it turns
// (subject, predicate, object) triples into Buffer operations, handling the
// type/uri special predicates and blank-node coalescing that the Buffer
// itself does not know about.
type Interpreter struct {
	buf      *Buffer
	observer Observer
}

// NewInterpreter returns an Interpreter driving buf. buf must have an open
// batch (Begin already called) before any Insert/Delete/UpdateURI call.
// observer, if non-nil, is notified of every ordinary set_value this
// Interpreter applies (spec.md §4: the writeback dispatcher's feed); pass
// nil where writeback does not apply.
func NewInterpreter(buf *Buffer, observer Observer) *Interpreter {
	return &Interpreter{buf: buf, observer: observer}
}

func isBlank(ref string) bool {
	return strings.HasPrefix(ref, ":")
}

// Insert implements insert(s, p, o): resolves p, then dispatches to
// insert-uri or insert-string by whether p's range is a resource.
func (i *Interpreter) Insert(subject, predicate, object string) error {
	p, ok := i.buf.Registry().Property(predicate)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, predicate)
	}

	if p.DataKind == ontology.KindResource {
		return i.insertURI(subject, p, object)
	}

	return i.insertString(subject, p, object)
}

// insertURI implements insert-uri(s, p, o).
func (i *Interpreter) insertURI(subject string, p *ontology.Property, object string) error {
	if isBlank(object) {
		resolved, err := i.resolveBlank(object)
		if err != nil {
			return err
		}

		object = resolved
	}

	if isBlank(subject) {
		i.buf.bufferBlank(subject, p.URI, object, true)
		return nil
	}

	return i.applyPredicate(subject, p, object)
}

// insertString implements insert-string(s, p, o).
func (i *Interpreter) insertString(subject string, p *ontology.Property, object string) error {
	if isBlank(subject) {
		i.buf.bufferBlank(subject, p.URI, object, false)
		return nil
	}

	return i.applyPredicate(subject, p, object)
}

// applyPredicate is the three-way branch shared by insert-uri and
// insert-string once the subject is known not to be blank: the type
// predicate dispatches to add_type, the internal uri predicate schedules a
// rename, everything else is an ordinary set_value.
func (i *Interpreter) applyPredicate(subject string, p *ontology.Property, object string) error {
	if err := i.buf.SetSubject(subject); err != nil {
		return err
	}

	switch p.URI {
	case ontology.TypePredicateURI:
		class, ok := i.buf.Registry().Class(object)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownClass, object)
		}

		return i.buf.AddType(class.URI)
	case ontology.URIPredicateURI:
		return i.buf.ScheduleRename(object)
	default:
		if err := i.buf.SetValue(p.URI, object); err != nil {
			return err
		}

		i.notify(subject, p.URI, object)

		return nil
	}
}

// notify forwards one ordinary set_value to the configured Observer, if
// any (spec.md §4's writeback dispatcher feed).
func (i *Interpreter) notify(subject, predicate, object string) {
	if i.observer == nil {
		return
	}

	i.observer.Observe(i.buf.ctx, subject, predicate, object)
}

// resolveBlank materialises a blank subject's piled-up statements: the
// SHA-1 of the serialised (predicate,object) pairs, taken in the order they
// were received, derives a canonical urn:uuid IRI; the resource with that
// IRI is created if absent, and the statements are replayed against it in
// either case (values it already holds are no-ops)
// (spec.md §4.4: "Blank-node protocol").
func (i *Interpreter) resolveBlank(ref string) (string, error) {
	stmts := i.buf.blanks[ref]
	delete(i.buf.blanks, ref)

	var sb strings.Builder

	for _, st := range stmts {
		sb.WriteString(st.predicate)
		sb.WriteByte(0)

		if st.isURI {
			sb.WriteByte('u')
		} else {
			sb.WriteByte('s')
		}

		sb.WriteByte(0)
		sb.WriteString(st.object)
		sb.WriteByte('\n')
	}

	canonicalURI := "urn:uuid:" + uuid.NewSHA1(blankNamespace, []byte(sb.String())).String()

	if _, err := i.buf.ensureID(canonicalURI); err != nil {
		return "", err
	}

	for _, st := range stmts {
		p, ok := i.buf.Registry().Property(st.predicate)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownProperty, st.predicate)
		}

		// Replay against the assertion's original kind (st.isURI) rather
		// than re-deriving it from p.DataKind, so a blank-node pile-up
		// replays exactly as it was asserted.
		var err error
		if st.isURI {
			err = i.insertURI(canonicalURI, p, st.object)
		} else {
			err = i.insertString(canonicalURI, p, st.object)
		}

		if err != nil {
			return "", err
		}
	}

	return canonicalURI, nil
}

// Delete implements delete(s, p, o) (spec.md §4.4).
func (i *Interpreter) Delete(subject, predicate, object string) error {
	p, ok := i.buf.Registry().Property(predicate)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, predicate)
	}

	id, err := i.buf.queryID(subject)
	if err != nil {
		return err
	}

	if id == 0 {
		return nil // unknown subject: no-op
	}

	if p.URI == ontology.TypePredicateURI {
		class, ok := i.buf.Registry().Class(object)
		if ok {
			return i.deleteType(subject, class)
		}
		// Unknown class named as the type to remove: falls through to the
		// generic delete_value path below, which is a no-op for a
		// resource-valued property whose object was never a real value.
	}

	if err := i.buf.SetSubject(subject); err != nil {
		return err
	}

	return i.buf.DeleteValue(p.URI, object)
}

// deleteType removes class membership, cascading to every subclass the
// subject currently belongs to first (spec.md §4.4: "recursively delete
// every sub-class membership first"), then drops every property value whose
// domain is that class, deletes the main row, and decrements Count. For the
// root class this also drops the fulltext row.
func (i *Interpreter) deleteType(subject string, class *ontology.Class) error {
	if err := i.buf.SetSubject(subject); err != nil {
		return err
	}

	types, err := i.buf.Types()
	if err != nil {
		return err
	}

	for _, t := range types {
		if t == class.URI {
			continue
		}

		sub, ok := i.buf.Registry().Class(t)
		if !ok {
			continue
		}

		if classHasSuper(sub, class) {
			if err := i.deleteType(subject, sub); err != nil {
				return err
			}
		}
	}

	if err := i.clearClassProperties(class); err != nil {
		return err
	}

	// DeleteSubject handles the root class specially (dropping the fulltext
	// row and the Resource row itself) as well as ordinary classes (dropping
	// the main table row), per spec.md §4.4.
	return i.buf.DeleteSubject(class)
}

// classHasSuper reports whether sub's super-class closure includes super
// (i.e. sub is super or a descendant of it).
func classHasSuper(sub, super *ontology.Class) bool {
	for _, c := range sub.SuperClasses() {
		if c == super {
			return true
		}
	}

	return false
}

// clearClassProperties deletes every value of every property whose domain
// is class, for the active subject: multi-valued via side-table truncation,
// single-valued via nulling with the usual fulltext re-indexing read
// (spec.md §4.4).
func (i *Interpreter) clearClassProperties(class *ontology.Class) error {
	for _, p := range i.buf.Registry().Properties() {
		if p.Domain != class {
			continue
		}

		if err := i.buf.loadPredicateIfNeeded(p); err != nil {
			return err
		}

		state := i.buf.subject.predicates[p.URI]

		for _, v := range valuesOf(state) {
			i.buf.recordWrite(p, v, false)
			i.buf.pendingOps++
		}

		state.values = make(map[string]Value)

		if p.FulltextIndexed {
			i.buf.subject.ftsDirty = true
		}
	}

	return nil
}

func valuesOf(state *predicateState) []Value {
	out := make([]Value, 0, len(state.values))
	for _, v := range state.values {
		out = append(out, v)
	}

	return out
}

// UpdateURI implements the standalone update-uri(old, new) entry point by
// delegating to the Buffer, which performs the atomic rename (spec.md
// §4.4).
func (i *Interpreter) UpdateURI(oldURI, newURI string) error {
	return i.buf.UpdateURI(oldURI, newURI)
}
