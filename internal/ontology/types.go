// Package ontology holds the process-wide, read-only-after-startup model of
// classes, properties and namespaces trackerd stores triples against.
package ontology

import "fmt"

// Kind tags the storage representation a Property's range resolves to.
//
// Modeled on the teacher's frontmatter.ScalarKind tagged-union
// (pkg/mddb/frontmatter/frontmatter.go): a small closed enum plus a value
// struct that only populates the field matching Kind.
type Kind uint8

const (
	KindString Kind = iota
	KindInt64
	KindBool
	KindDouble
	KindDate
	KindDateTime
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt64:
		return "int64"
	case KindBool:
		return "bool"
	case KindDouble:
		return "double"
	case KindDate:
		return "date"
	case KindDateTime:
		return "datetime"
	case KindResource:
		return "resource"
	default:
		return "unknown"
	}
}

// Namespace records a prefix -> URI mapping declared in an ontology file.
type Namespace struct {
	URI    string
	Prefix string
}

// Class describes one rdfs:Class-derived entry in the registry.
type Class struct {
	URI   string
	Table string // the class URI; XSD primitives are never materialised (see IsRootDerived)

	superClasses []string // direct super-class URIs, as declared
	super        []*Class // resolved direct super-classes
	closure      []*Class // full super-class closure, including self, computed once

	Count int // live membership count, maintained by add_type/delete_subject
}

// IsRootDerived reports whether c descends from the root resource class
// (i.e. is not an XSD primitive or otherwise table-less entry).
func (c *Class) IsRootDerived(root *Class) bool {
	if c == root {
		return true
	}

	for _, a := range c.closure {
		if a == root {
			return true
		}
	}

	return false
}

// SuperClasses returns the full super-class closure: c itself first, then
// each direct super-class's closure in declaration order, without
// duplicates. Computed once at load time (Registry.Resolve); safe to share
// freely.
func (c *Class) SuperClasses() []*Class {
	return c.closure
}

// Property describes one rdf:Property entry in the registry.
type Property struct {
	URI    string
	Domain *Class
	Range  *Class // for non-resource ranges, a pseudo-class naming the XSD type

	DataKind Kind

	SingleValued    bool
	Indexed         bool
	FulltextIndexed bool
	Transient       bool

	// Weight is nrl:weight: the fulltext-index weighting for this predicate.
	// Default 1. Consumed by the external tokenizer, not interpreted here.
	Weight int

	superProperties []string
	super           []*Property
	closure         []*Property // full super-property closure, including self
}

// SuperProperties returns the full super-property closure: p itself first,
// then each direct super-property's closure in declaration order.
func (p *Property) SuperProperties() []*Property {
	return p.closure
}

// SideTable returns the name of P's multi-valued side table for class c:
// "C_P", matching spec.md §3's physical layout.
func (p *Property) SideTable(c *Class) string {
	return fmt.Sprintf("%s_%s", c.Table, tableSafeSuffix(p.URI))
}

func tableSafeSuffix(uri string) string {
	// Side-table names are derived from the property URI; only the
	// fragment/local-name portion is used to keep table names short and
	// stable even if the ontology namespace prefix changes.
	local := uri
	for i := len(uri) - 1; i >= 0; i-- {
		if uri[i] == '#' || uri[i] == '/' || uri[i] == ':' {
			local = uri[i+1:]
			break
		}
	}

	return local
}
