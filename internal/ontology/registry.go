package ontology

import (
	"errors"
	"fmt"
)

// RootClassURI is the root of the resource class hierarchy. Every
// materialised class descends from it; XSD primitives do not.
const RootClassURI = "rdfs:Resource"

// TypePredicateURI and URIPredicateURI are the two predicates the statement
// interpreter treats specially (spec.md §4.4).
const (
	TypePredicateURI = "rdf:type"
	URIPredicateURI  = "tracker:uri"
)

var (
	// ErrDuplicateEntry's text is the Diagnostic message recorded when an
	// ontology file redeclares the type of an existing subject.
	ErrDuplicateEntry = errors.New("ontology: duplicate class/property declaration")

	// ErrCycle is returned when super-class/super-property resolution finds
	// a cycle. Per spec.md §4.1, cyclic ontologies are rejected outright.
	ErrCycle = errors.New("ontology: cyclic super-class/super-property graph")
)

// Diagnostic is a non-fatal ontology-load issue (spec.md §4.1: "Any
// ontology-load diagnostic is surfaced but does not abort load").
type Diagnostic struct {
	File    string
	Subject string
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.File, d.Subject, d.Message)
}

// Registry is the process-wide, read-only-after-startup arena of classes,
// properties and namespaces. Per DESIGN NOTES §9 ("Cyclic ownership"), nodes
// are keyed by URI in a flat map and super-references are resolved to
// pointers (not re-parsed) once every file has been loaded, so cycles can be
// detected in one pass over the whole arena instead of per-file.
type Registry struct {
	classes    map[string]*Class
	properties map[string]*Property
	namespaces map[string]*Namespace

	root        *Class
	Diagnostics []Diagnostic
}

// NewRegistry returns an empty registry. LoadDir populates it from ontology
// files, then calls Resolve to compute closures before it is shared.
func NewRegistry() *Registry {
	return &Registry{
		classes:    make(map[string]*Class),
		properties: make(map[string]*Property),
		namespaces: make(map[string]*Namespace),
	}
}

// Class looks up a class by URI.
func (r *Registry) Class(uri string) (*Class, bool) {
	c, ok := r.classes[uri]
	return c, ok
}

// Property looks up a property by URI.
func (r *Registry) Property(uri string) (*Property, bool) {
	p, ok := r.properties[uri]
	return p, ok
}

// Namespace looks up a namespace by URI.
func (r *Registry) Namespace(uri string) (*Namespace, bool) {
	ns, ok := r.namespaces[uri]
	return ns, ok
}

// Root returns the rdfs:Resource class entry, created implicitly if no
// ontology file declares it explicitly.
func (r *Registry) Root() *Class {
	return r.root
}

// Classes returns every class in declaration order is not guaranteed;
// callers that need deterministic materialisation order should sort by URI.
func (r *Registry) Classes() []*Class {
	out := make([]*Class, 0, len(r.classes))
	for _, c := range r.classes {
		out = append(out, c)
	}

	return out
}

// Properties returns every property in the registry.
func (r *Registry) Properties() []*Property {
	out := make([]*Property, 0, len(r.properties))
	for _, p := range r.properties {
		out = append(out, p)
	}

	return out
}

func (r *Registry) ensureClass(uri string) *Class {
	c, ok := r.classes[uri]
	if !ok {
		c = &Class{URI: uri, Table: uri}
		r.classes[uri] = c
	}

	return c
}

func (r *Registry) ensureProperty(uri string) *Property {
	p, ok := r.properties[uri]
	if !ok {
		p = &Property{URI: uri, Weight: 1}
		r.properties[uri] = p
	}

	return p
}

// Resolve pins direct super-references to pointers, detects cycles, and
// precomputes closures. Call once after all ontology files are loaded and
// before the registry is shared across goroutines.
func (r *Registry) Resolve() error {
	root, ok := r.classes[RootClassURI]
	if !ok {
		root = r.ensureClass(RootClassURI)
	}

	r.root = root

	for _, c := range r.classes {
		for _, superURI := range c.superClasses {
			super, ok := r.classes[superURI]
			if !ok {
				r.Diagnostics = append(r.Diagnostics, Diagnostic{
					Subject: c.URI,
					Message: fmt.Sprintf("unknown super-class %q, skipped", superURI),
				})

				continue
			}

			c.super = append(c.super, super)
		}
	}

	for _, p := range r.properties {
		for _, superURI := range p.superProperties {
			super, ok := r.properties[superURI]
			if !ok {
				r.Diagnostics = append(r.Diagnostics, Diagnostic{
					Subject: p.URI,
					Message: fmt.Sprintf("unknown super-property %q, skipped", superURI),
				})

				continue
			}

			p.super = append(p.super, super)
		}
	}

	for _, c := range r.classes {
		closure, err := classClosure(c, make(map[*Class]int))
		if err != nil {
			return err
		}

		c.closure = closure
	}

	for _, p := range r.properties {
		closure, err := propertyClosure(p, make(map[*Property]int))
		if err != nil {
			return err
		}

		p.closure = closure
	}

	return nil
}

// coloring states for cycle detection during DFS: 0=unvisited, 1=on stack, 2=done.
func classClosure(c *Class, color map[*Class]int) ([]*Class, error) {
	if color[c] == 1 {
		return nil, fmt.Errorf("%w: at class %s", ErrCycle, c.URI)
	}

	if color[c] == 2 {
		return c.closure, nil
	}

	color[c] = 1

	seen := map[*Class]bool{c: true}

	out := []*Class{c}

	for _, super := range c.super {
		superClosure, err := classClosure(super, color)
		if err != nil {
			return nil, err
		}

		for _, a := range superClosure {
			if !seen[a] {
				seen[a] = true

				out = append(out, a)
			}
		}
	}

	color[c] = 2

	return out, nil
}

func propertyClosure(p *Property, color map[*Property]int) ([]*Property, error) {
	if color[p] == 1 {
		return nil, fmt.Errorf("%w: at property %s", ErrCycle, p.URI)
	}

	if color[p] == 2 {
		return p.closure, nil
	}

	color[p] = 1

	seen := map[*Property]bool{p: true}

	out := []*Property{p}

	for _, super := range p.super {
		superClosure, err := propertyClosure(super, color)
		if err != nil {
			return nil, err
		}

		for _, a := range superClosure {
			if !seen[a] {
				seen[a] = true

				out = append(out, a)
			}
		}
	}

	color[p] = 2

	return out, nil
}
