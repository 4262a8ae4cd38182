// Package interpolate resolves %{path.to.field} placeholders against a
// query result record.
package interpolate

import (
	"errors"
	"fmt"
	"strings"

	"influxq/internal/models"
)

// Template syntax errors
var (
	ErrUnterminated = errors.New("unterminated placeholder")
	ErrEmptyPath    = errors.New("empty placeholder path")
	ErrEmptySegment = errors.New("empty path segment")
)

// ErrUnresolved is wrapped by every per-record lookup failure
var ErrUnresolved = errors.New("unresolved placeholder")

type part struct {
	literal  string
	path     []string
	raw      string
	isLookup bool
}

// Template is a compiled interpolation template
type Template struct {
	src   string
	parts []part
}

// Compile parses src. Syntax problems are reported here, once, rather than
// per record.
func Compile(src string) (*Template, error) {
	t := &Template{src: src}

	rest := src
	for {
		start := strings.Index(rest, "%{")
		if start < 0 {
			if rest != "" {
				t.parts = append(t.parts, part{literal: rest})
			}
			break
		}
		if start > 0 {
			t.parts = append(t.parts, part{literal: rest[:start]})
		}

		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w at offset %d in %q", ErrUnterminated, len(src)-len(rest)+start, src)
		}
		raw := rest[start : start+end+1]
		path := raw[2 : len(raw)-1]
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("%w in %q", ErrEmptyPath, src)
		}

		segments := strings.Split(path, ".")
		for _, seg := range segments {
			if seg == "" {
				return nil, fmt.Errorf("%w in placeholder %s", ErrEmptySegment, raw)
			}
		}

		t.parts = append(t.parts, part{path: segments, raw: raw, isLookup: true})
		rest = rest[start+end+1:]
	}

	return t, nil
}

// MustCompile is like Compile but panics on a syntax error
func MustCompile(src string) *Template {
	t, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the template source
func (t *Template) String() string {
	return t.src
}

// Paths returns the placeholder paths in order of appearance
func (t *Template) Paths() []string {
	var paths []string
	for _, p := range t.parts {
		if p.isLookup {
			paths = append(paths, strings.Join(p.path, "."))
		}
	}
	return paths
}

// Interpolate substitutes every placeholder with the scalar found in rec.
// If any placeholder cannot be resolved the error lists all of them and the
// returned string keeps those placeholders verbatim.
func (t *Template) Interpolate(rec models.Record) (string, error) {
	var b strings.Builder
	var errs []error

	for _, p := range t.parts {
		if !p.isLookup {
			b.WriteString(p.literal)
			continue
		}

		value, err := resolve(rec, p.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w %s: %w", ErrUnresolved, p.raw, err))
			b.WriteString(p.raw)
			continue
		}
		b.WriteString(value)
	}

	return b.String(), errors.Join(errs...)
}

func resolve(rec models.Record, path []string) (string, error) {
	node, err := rec.Lookup(path)
	if err != nil {
		return "", err
	}
	s, ok := node.Scalar()
	if !ok {
		return "", fmt.Errorf("%w: %s is a %s", models.ErrPathTypeMismatch, strings.Join(path, "."), node.Kind())
	}
	return s.String(), nil
}
