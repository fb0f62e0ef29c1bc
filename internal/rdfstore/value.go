package rdfstore

import (
	"fmt"
	"strconv"
	"time"

	"trackerd/internal/ontology"
)

// Value is the tagged variant DESIGN NOTES §9 ("Dynamic dispatch on
// property type") calls for, modeled on the teacher's
// frontmatter.Scalar/ScalarKind pattern: only the field matching Kind is
// populated.
type Value struct {
	Kind ontology.Kind

	Str        string
	Int        int64
	Bool       bool
	Float      float64
	ResourceID int64
}

// key returns a canonical string used for set-membership/dedup comparisons
// (spec.md §8: "duplicates collapse").
func (v Value) key() string {
	switch v.Kind {
	case ontology.KindString, ontology.KindDateTime:
		return "s:" + v.Str
	case ontology.KindInt64, ontology.KindDate:
		return "i:" + strconv.FormatInt(v.Int, 10)
	case ontology.KindBool:
		if v.Bool {
			return "b:1"
		}

		return "b:0"
	case ontology.KindDouble:
		return "d:" + strconv.FormatFloat(v.Float, 'g', -1, 64)
	case ontology.KindResource:
		return "r:" + strconv.FormatInt(v.ResourceID, 10)
	default:
		return ""
	}
}

// sqlValue returns the value in the representation the column/side-table
// expects, per spec.md §3 ("booleans are stored as 0/1 integers; dates as
// unix-time integers; datetimes stringified on read via a fixed ISO-8601
// format").
func (v Value) sqlValue() any {
	switch v.Kind {
	case ontology.KindString:
		return v.Str
	case ontology.KindDateTime:
		return v.Str // already normalised to ISO-8601 by coerceValue
	case ontology.KindInt64, ontology.KindDate:
		return v.Int
	case ontology.KindBool:
		if v.Bool {
			return int64(1)
		}

		return int64(0)
	case ontology.KindDouble:
		return v.Float
	case ontology.KindResource:
		return v.ResourceID
	default:
		return nil
	}
}

// ensureIDFunc resolves a resource URI to an id, allocating one if absent.
// Buffer.ensureID satisfies this.
type ensureIDFunc func(uri string) (int64, error)

// coerceValue converts a raw literal or resource URI to the property's
// storage type (spec.md §4.3 step 4).
func coerceValue(p *ontology.Property, raw any, ensureID ensureIDFunc) (Value, error) {
	if p.DataKind == ontology.KindResource {
		uri, ok := raw.(string)
		if !ok {
			return Value{}, fmt.Errorf("%w: property %s expects a resource URI", ErrTypeMismatch, p.URI)
		}

		id, err := ensureID(uri)
		if err != nil {
			return Value{}, err
		}

		return Value{Kind: ontology.KindResource, ResourceID: id}, nil
	}

	lit, ok := raw.(string)
	if !ok {
		return Value{}, fmt.Errorf("%w: property %s expects a literal", ErrTypeMismatch, p.URI)
	}

	switch p.DataKind {
	case ontology.KindString:
		return Value{Kind: ontology.KindString, Str: lit}, nil
	case ontology.KindInt64:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: property %s: %v", ErrTypeMismatch, p.URI, err)
		}

		return Value{Kind: ontology.KindInt64, Int: n}, nil
	case ontology.KindBool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return Value{}, fmt.Errorf("%w: property %s: %v", ErrTypeMismatch, p.URI, err)
		}

		return Value{Kind: ontology.KindBool, Bool: b}, nil
	case ontology.KindDouble:
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: property %s: %v", ErrTypeMismatch, p.URI, err)
		}

		return Value{Kind: ontology.KindDouble, Float: f}, nil
	case ontology.KindDate:
		t, err := time.Parse("2006-01-02", lit)
		if err != nil {
			t, err = time.Parse(time.RFC3339, lit)
			if err != nil {
				return Value{}, fmt.Errorf("%w: property %s: %v", ErrTypeMismatch, p.URI, err)
			}
		}

		return Value{Kind: ontology.KindDate, Int: t.Unix()}, nil
	case ontology.KindDateTime:
		t, err := time.Parse(time.RFC3339, lit)
		if err != nil {
			return Value{}, fmt.Errorf("%w: property %s: %v", ErrTypeMismatch, p.URI, err)
		}
		// Normalised ISO-8601, matching spec.md §3 "datetimes stringified
		// on read via a fixed ISO-8601 format".
		return Value{Kind: ontology.KindDateTime, Str: t.UTC().Format(time.RFC3339)}, nil
	default:
		return Value{}, fmt.Errorf("%w: property %s has unknown data kind", ErrTypeMismatch, p.URI)
	}
}
