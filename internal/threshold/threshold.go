// Package threshold compiles and evaluates warning/critical conditions such
// as "value >= 10" or "value > 5 && value < 100".
package threshold

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"influxq/internal/models"
)

// Variable is the only name an expression may reference
const Variable = "value"

// ExpressionError reports an expression that does not compile
type ExpressionError struct {
	Expr string
	Err  error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("invalid threshold expression %q: %v", e.Expr, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// EvaluationError reports a value the expression cannot be applied to
type EvaluationError struct {
	Expr  string
	Value models.Scalar
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("cannot evaluate %q for value %q: %v", e.Expr, e.Value.String(), e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// Expression is a compiled boolean condition over value
type Expression struct {
	src     string
	program *vm.Program
}

// Compile type-checks src against an environment holding a single float64
// named value. Syntax errors, unknown names and non-boolean results fail here.
func Compile(src string) (*Expression, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, &ExpressionError{Expr: src, Err: fmt.Errorf("empty expression")}
	}

	program, err := expr.Compile(src,
		expr.Env(map[string]any{Variable: float64(0)}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, &ExpressionError{Expr: src, Err: err}
	}

	return &Expression{src: src, program: program}, nil
}

// String returns the expression source
func (e *Expression) String() string {
	return e.src
}

// Evaluate binds value and runs the expression
func (e *Expression) Evaluate(value models.Scalar) (bool, error) {
	f, err := value.Float()
	if err != nil {
		return false, &EvaluationError{Expr: e.src, Value: value, Err: err}
	}

	out, err := expr.Run(e.program, map[string]any{Variable: f})
	if err != nil {
		return false, &EvaluationError{Expr: e.src, Value: value, Err: err}
	}

	result, ok := out.(bool)
	if !ok {
		return false, &EvaluationError{Expr: e.src, Value: value, Err: fmt.Errorf("result is %T, not bool", out)}
	}
	return result, nil
}
