package ontology

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

// statement is one parsed (subject, predicate, object) triple from a "terse"
// ontology file, plus whether the object was a quoted literal.
type statement struct {
	subject   string
	predicate string
	object    string
	literal   bool
}

// LoadDir parses every *.ttl file under dir, in lexicographic filename order
// (spec.md §6: "Loaded in lexicographic filename order"), and returns a
// resolved Registry.
func LoadDir(dirFS fs.FS, dir string) (*Registry, error) {
	entries, err := fs.ReadDir(dirFS, dir)
	if err != nil {
		return nil, fmt.Errorf("ontology: read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ttl") {
			continue
		}

		names = append(names, e.Name())
	}

	sort.Strings(names)

	reg := NewRegistry()

	for _, name := range names {
		f, err := dirFS.Open(dir + "/" + name)
		if err != nil {
			return nil, fmt.Errorf("ontology: open %s: %w", name, err)
		}

		err = reg.loadFile(name, f)

		closeErr := f.Close()

		if err != nil {
			return nil, err
		}

		if closeErr != nil {
			return nil, fmt.Errorf("ontology: close %s: %w", name, closeErr)
		}
	}

	if err := reg.Resolve(); err != nil {
		return nil, err
	}

	return reg, nil
}

// declared tracks which registry-entry kind a subject was first declared as,
// to catch the "second declaration is rejected" rule of spec.md §4.1.
type entryKind uint8

const (
	entryUnknown entryKind = iota
	entryClass
	entryProperty
	entryNamespace
)

func (r *Registry) loadFile(filename string, in io.Reader) error {
	declaredAs := make(map[string]entryKind)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		stmt, err := parseStatement(line)
		if err != nil {
			r.Diagnostics = append(r.Diagnostics, Diagnostic{
				File:    filename,
				Message: fmt.Sprintf("line %d: %v", lineNo, err),
			})

			continue
		}

		r.applyStatement(filename, stmt, declaredAs)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ontology: scan %s: %w", filename, err)
	}

	return nil
}

// parseStatement parses one "<subject> <predicate> <object> ." line. Subjects
// and predicates are bare tokens (IRIs or prefixed names); objects are either
// a bare token (resource reference) or a double-quoted literal.
func parseStatement(line string) (statement, error) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ".")
	line = strings.TrimSpace(line)

	fields := strings.SplitN(line, " ", 3)
	if len(fields) != 3 {
		return statement{}, fmt.Errorf("malformed statement %q", line)
	}

	subject := strings.Trim(strings.TrimSpace(fields[0]), "<>")
	predicate := strings.Trim(strings.TrimSpace(fields[1]), "<>")
	rawObject := strings.TrimSpace(fields[2])

	if strings.HasPrefix(rawObject, `"`) {
		unquoted, err := strconv.Unquote(rawObject)
		if err != nil {
			return statement{}, fmt.Errorf("malformed literal %q: %w", rawObject, err)
		}

		return statement{subject: subject, predicate: predicate, object: unquoted, literal: true}, nil
	}

	return statement{subject: subject, predicate: predicate, object: strings.Trim(rawObject, "<>")}, nil
}

func (r *Registry) applyStatement(filename string, stmt statement, declaredAs map[string]entryKind) {
	switch stmt.predicate {
	case "type":
		r.applyType(filename, stmt, declaredAs)
	case "sub-class-of":
		r.applySubClassOf(filename, stmt, declaredAs)
	case "sub-property-of":
		r.applySubPropertyOf(filename, stmt, declaredAs)
	case "domain":
		r.applyDomain(filename, stmt, declaredAs)
	case "range":
		r.applyRange(filename, stmt, declaredAs)
	case "max-cardinality":
		r.applyMaxCardinality(filename, stmt, declaredAs)
	case "indexed":
		r.applyFlag(filename, stmt, declaredAs, func(p *Property, v bool) { p.Indexed = v })
	case "fulltext-indexed":
		r.applyFlag(filename, stmt, declaredAs, func(p *Property, v bool) { p.FulltextIndexed = v })
	case "transient":
		r.applyFlag(filename, stmt, declaredAs, func(p *Property, v bool) { p.Transient = v })
	case "nrl:weight":
		r.applyWeight(filename, stmt, declaredAs)
	case "prefix":
		r.applyPrefix(filename, stmt, declaredAs)
	default:
		r.Diagnostics = append(r.Diagnostics, Diagnostic{
			File: filename, Subject: stmt.subject,
			Message: fmt.Sprintf("unrecognised predicate %q, skipped", stmt.predicate),
		})
	}
}

func (r *Registry) applyType(filename string, stmt statement, declaredAs map[string]entryKind) {
	switch stmt.object {
	case "Class":
		if declaredAs[stmt.subject] != entryUnknown {
			r.duplicate(filename, stmt.subject)
			return
		}

		declaredAs[stmt.subject] = entryClass

		r.ensureClass(stmt.subject)
	case "Property":
		if declaredAs[stmt.subject] != entryUnknown {
			r.duplicate(filename, stmt.subject)
			return
		}

		declaredAs[stmt.subject] = entryProperty

		r.ensureProperty(stmt.subject)
	case "Namespace":
		if declaredAs[stmt.subject] != entryUnknown {
			r.duplicate(filename, stmt.subject)
			return
		}

		declaredAs[stmt.subject] = entryNamespace

		r.namespaces[stmt.subject] = &Namespace{URI: stmt.subject}
	default:
		// rdf:type assertions about instances (not schema) are not part of
		// the bootstrap vocabulary; ignore quietly.
	}
}

func (r *Registry) duplicate(filename, subject string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		File: filename, Subject: subject, Message: ErrDuplicateEntry.Error(),
	})
}

func (r *Registry) applySubClassOf(filename string, stmt statement, declaredAs map[string]entryKind) {
	if declaredAs[stmt.subject] != entryClass {
		r.unknownRef(filename, stmt.subject, "sub-class-of")
		return
	}

	c := r.classes[stmt.subject]
	c.superClasses = append(c.superClasses, stmt.object)
}

func (r *Registry) applySubPropertyOf(filename string, stmt statement, declaredAs map[string]entryKind) {
	if declaredAs[stmt.subject] != entryProperty {
		r.unknownRef(filename, stmt.subject, "sub-property-of")
		return
	}

	p := r.properties[stmt.subject]
	p.superProperties = append(p.superProperties, stmt.object)
}

func (r *Registry) applyDomain(filename string, stmt statement, declaredAs map[string]entryKind) {
	if declaredAs[stmt.subject] != entryProperty {
		r.unknownRef(filename, stmt.subject, "domain")
		return
	}

	r.properties[stmt.subject].Domain = r.ensureClass(stmt.object)
}

func (r *Registry) applyRange(filename string, stmt statement, declaredAs map[string]entryKind) {
	if declaredAs[stmt.subject] != entryProperty {
		r.unknownRef(filename, stmt.subject, "range")
		return
	}

	p := r.properties[stmt.subject]
	p.Range = r.ensureClass(stmt.object)
	p.DataKind = kindForRange(stmt.object)
}

func kindForRange(rangeURI string) Kind {
	switch rangeURI {
	case "xsd:string", "xsd:anyURI":
		return KindString
	case "xsd:integer", "xsd:int64":
		return KindInt64
	case "xsd:boolean":
		return KindBool
	case "xsd:double", "xsd:float":
		return KindDouble
	case "xsd:date":
		return KindDate
	case "xsd:dateTime":
		return KindDateTime
	default:
		return KindResource
	}
}

func (r *Registry) applyMaxCardinality(filename string, stmt statement, declaredAs map[string]entryKind) {
	if declaredAs[stmt.subject] != entryProperty {
		r.unknownRef(filename, stmt.subject, "max-cardinality")
		return
	}

	r.properties[stmt.subject].SingleValued = stmt.object == "1"
}

func (r *Registry) applyFlag(
	filename string, stmt statement, declaredAs map[string]entryKind, set func(*Property, bool),
) {
	if declaredAs[stmt.subject] != entryProperty {
		r.unknownRef(filename, stmt.subject, "boolean flag")
		return
	}

	set(r.properties[stmt.subject], stmt.object == "true")
}

func (r *Registry) applyWeight(filename string, stmt statement, declaredAs map[string]entryKind) {
	if declaredAs[stmt.subject] != entryProperty {
		r.unknownRef(filename, stmt.subject, "nrl:weight")
		return
	}

	n, err := strconv.Atoi(stmt.object)
	if err != nil {
		r.Diagnostics = append(r.Diagnostics, Diagnostic{
			File: filename, Subject: stmt.subject, Message: "nrl:weight: not an integer",
		})

		return
	}

	r.properties[stmt.subject].Weight = n
}

func (r *Registry) applyPrefix(filename string, stmt statement, declaredAs map[string]entryKind) {
	if declaredAs[stmt.subject] != entryNamespace {
		r.unknownRef(filename, stmt.subject, "prefix")
		return
	}

	r.namespaces[stmt.subject].Prefix = stmt.object
}

func (r *Registry) unknownRef(filename, subject, predicate string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		File: filename, Subject: subject,
		Message: fmt.Sprintf("%s: unknown/undeclared subject, skipped", predicate),
	})
}
