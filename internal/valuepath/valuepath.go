// Package valuepath selects the checked value out of a query result record
// with a JSONPath expression (http://goessner.net/articles/JsonPath).
package valuepath

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/PaesslerAG/gval"
	"github.com/PaesslerAG/jsonpath"

	"influxq/internal/models"
)

// ErrEmptyPath is returned when no path is configured
var ErrEmptyPath = errors.New("json path cannot be empty")

// Path is a compiled value path
type Path struct {
	src  string
	eval gval.Evaluable
}

// Compile parses a JSONPath. A path without the leading "$" is rooted at
// the record, so "values[0].value" and "$.values[0].value" are equivalent.
func Compile(src string) (*Path, error) {
	expr := strings.TrimSpace(src)
	if expr == "" {
		return nil, ErrEmptyPath
	}

	switch {
	case strings.HasPrefix(expr, "$"):
	case strings.HasPrefix(expr, "["):
		expr = "$" + expr
	default:
		expr = "$." + expr
	}

	eval, err := jsonpath.New(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid json path %q: %w", src, err)
	}

	return &Path{src: src, eval: eval}, nil
}

// String returns the path as configured
func (p *Path) String() string {
	return p.src
}

// Extract returns the first scalar the path selects. Missing fields, empty
// selections, nulls and non-scalar selections all report absence.
func (p *Path) Extract(rec models.Record) (models.Scalar, bool) {
	out, err := p.eval(context.Background(), rec.Interface())
	if err != nil {
		return models.Scalar{}, false
	}
	return firstScalar(out)
}

func firstScalar(v any) (models.Scalar, bool) {
	switch t := v.(type) {
	case nil:
		return models.Scalar{}, false
	case []any:
		for _, item := range t {
			if s, ok := firstScalar(item); ok {
				return s, true
			}
		}
		return models.Scalar{}, false
	case map[string]any:
		return models.Scalar{}, false
	default:
		return models.NewScalar(t), true
	}
}
