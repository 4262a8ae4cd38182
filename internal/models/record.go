package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Record node
type Kind uint8

const (
	KindScalar Kind = iota
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "invalid"
	}
}

// Lookup errors
var (
	ErrPathNotFound     = errors.New("path not found")
	ErrPathTypeMismatch = errors.New("path type mismatch")
	ErrNotNumeric       = errors.New("value is not numeric")
)

// Record is one node of a query result tree. A top-level Record is usually a
// mapping of name, tags and values; nested nodes are scalars, sequences or
// mappings. Records are never mutated after construction.
type Record struct {
	kind   Kind
	scalar Scalar
	items  []Record
	fields map[string]Record
}

// NewRecord builds a mapping Record from decoded JSON-like data
func NewRecord(fields map[string]any) Record {
	return FromValue(fields)
}

// FromValue converts maps, slices and scalar values into a Record tree
func FromValue(v any) Record {
	switch t := v.(type) {
	case Record:
		return t
	case map[string]any:
		fields := make(map[string]Record, len(t))
		for k, item := range t {
			fields[k] = FromValue(item)
		}
		return Record{kind: KindMapping, fields: fields}
	case map[string]string:
		fields := make(map[string]Record, len(t))
		for k, item := range t {
			fields[k] = Record{kind: KindScalar, scalar: NewScalar(item)}
		}
		return Record{kind: KindMapping, fields: fields}
	case []any:
		items := make([]Record, len(t))
		for i, item := range t {
			items[i] = FromValue(item)
		}
		return Record{kind: KindSequence, items: items}
	case []map[string]any:
		items := make([]Record, len(t))
		for i, item := range t {
			items[i] = FromValue(item)
		}
		return Record{kind: KindSequence, items: items}
	case []string:
		items := make([]Record, len(t))
		for i, item := range t {
			items[i] = Record{kind: KindScalar, scalar: NewScalar(item)}
		}
		return Record{kind: KindSequence, items: items}
	default:
		return Record{kind: KindScalar, scalar: NewScalar(t)}
	}
}

// Kind returns the node variant
func (r Record) Kind() Kind {
	return r.kind
}

// Scalar returns the scalar held by a scalar node
func (r Record) Scalar() (Scalar, bool) {
	if r.kind != KindScalar {
		return Scalar{}, false
	}
	return r.scalar, true
}

// Field returns the named field of a mapping
func (r Record) Field(key string) (Record, bool) {
	if r.kind != KindMapping {
		return Record{}, false
	}
	f, ok := r.fields[key]
	return f, ok
}

// Lookup walks the tree one segment at a time. Mappings are indexed by key;
// sequences only by canonical non-negative integers ("0", "12", not "01").
func (r Record) Lookup(segments []string) (Record, error) {
	node := r
	for i, seg := range segments {
		walked := strings.Join(segments[:i+1], ".")
		switch node.kind {
		case KindMapping:
			next, ok := node.fields[seg]
			if !ok {
				return Record{}, fmt.Errorf("%w: %s", ErrPathNotFound, walked)
			}
			node = next
		case KindSequence:
			idx, ok := sequenceIndex(seg)
			if !ok {
				return Record{}, fmt.Errorf("%w: %s: %q is not an index", ErrPathTypeMismatch, walked, seg)
			}
			if idx >= len(node.items) {
				return Record{}, fmt.Errorf("%w: %s", ErrPathNotFound, walked)
			}
			node = node.items[idx]
		default:
			return Record{}, fmt.Errorf("%w: %s: cannot descend into a scalar", ErrPathTypeMismatch, walked)
		}
	}
	return node, nil
}

// Interface converts the tree back into plain maps, slices and values
func (r Record) Interface() any {
	switch r.kind {
	case KindMapping:
		out := make(map[string]any, len(r.fields))
		for k, f := range r.fields {
			out[k] = f.Interface()
		}
		return out
	case KindSequence:
		out := make([]any, len(r.items))
		for i, item := range r.items {
			out[i] = item.Interface()
		}
		return out
	default:
		return r.scalar.Value()
	}
}

func sequenceIndex(seg string) (int, bool) {
	idx, err := strconv.Atoi(seg)
	if err != nil || idx < 0 || strconv.Itoa(idx) != seg {
		return 0, false
	}
	return idx, true
}

// Scalar is a leaf value: string, number, bool or null
type Scalar struct {
	v any
}

// NewScalar normalizes integer and float widths
func NewScalar(v any) Scalar {
	switch t := v.(type) {
	case int:
		return Scalar{v: int64(t)}
	case int32:
		return Scalar{v: int64(t)}
	case uint32:
		return Scalar{v: int64(t)}
	case float32:
		return Scalar{v: float64(t)}
	default:
		return Scalar{v: v}
	}
}

// Value returns the underlying value
func (s Scalar) Value() any {
	return s.v
}

// Float converts numbers and numeric strings to float64
func (s Scalar) Float() (float64, error) {
	switch t := s.v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, t.String())
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrNotNumeric, t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrNotNumeric, s.v)
	}
}

// String renders the scalar the way it appears in check output
func (s Scalar) String() string {
	switch t := s.v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
