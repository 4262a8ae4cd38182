package alerts

import (
	"errors"
	"fmt"
	"strings"

	"influxq/internal/models"
	"influxq/internal/threshold"
)

// Rule pairs the optional critical and warning conditions of a check.
// A rule with neither condition classifies every present value as OK.
type Rule struct {
	Critical *threshold.Expression
	Warning  *threshold.Expression
}

// ConditionError reports a condition that failed to compile
type ConditionError struct {
	Condition string // "critical" or "warning"
	Err       error
}

func (e *ConditionError) Error() string {
	return e.Condition + ": " + e.Err.Error()
}

func (e *ConditionError) Unwrap() error { return e.Err }

// NewRule compiles the configured conditions; an empty string leaves the
// condition unset.
func NewRule(critical, warning string) (Rule, error) {
	var rule Rule
	var err error

	if critical != "" {
		if rule.Critical, err = threshold.Compile(critical); err != nil {
			return Rule{}, &ConditionError{Condition: "critical", Err: err}
		}
	}
	if warning != "" {
		if rule.Warning, err = threshold.Compile(warning); err != nil {
			return Rule{}, &ConditionError{Condition: "warning", Err: err}
		}
	}
	return rule, nil
}

// HasCritical reports whether a critical condition is configured
func (r Rule) HasCritical() bool {
	return r.Critical != nil
}

// Classify applies the rule to an extracted value
func (r Rule) Classify(value models.Scalar, present bool) Verdict {
	return Classify(value, present, r.Critical, r.Warning)
}

// Verdict is the classification of one record
type Verdict struct {
	Severity models.Severity
	Value    models.Scalar
	Present  bool

	// Condition that fired, nil for OK and UNKNOWN
	Matched *threshold.Expression

	// Evaluation or interpolation failure behind an UNKNOWN
	Err error
}

// Classify is the per-record decision table. Critical is evaluated first and
// wins over warning; an evaluation error stops at UNKNOWN.
func Classify(value models.Scalar, present bool, critical, warning *threshold.Expression) Verdict {
	v := Verdict{Value: value, Present: present}

	if !present {
		v.Severity = models.SeverityUnknown
		return v
	}

	for _, c := range []struct {
		expr     *threshold.Expression
		severity models.Severity
	}{
		{critical, models.SeverityCritical},
		{warning, models.SeverityWarning},
	} {
		if c.expr == nil {
			continue
		}
		hit, err := c.expr.Evaluate(value)
		if err != nil {
			v.Severity = models.SeverityUnknown
			v.Err = err
			return v
		}
		if hit {
			v.Severity = c.severity
			v.Matched = c.expr
			return v
		}
	}

	v.Severity = models.SeverityOK
	return v
}

// Unknown demotes the verdict to UNKNOWN because of err
func (v Verdict) Unknown(err error) Verdict {
	v.Severity = models.SeverityUnknown
	v.Matched = nil
	v.Err = errors.Join(v.Err, err)
	return v
}

// Detail renders the value part of the check output
func (v Verdict) Detail() string {
	value := "N/A"
	if v.Present {
		value = v.Value.String()
	}

	switch {
	case v.Err != nil:
		// joined errors are newline separated; event output is one line
		return fmt.Sprintf("Value: %s (%s)", value, strings.ReplaceAll(v.Err.Error(), "\n", "; "))
	case v.Matched != nil:
		return fmt.Sprintf("Value: %s (%s)", value, v.Matched)
	default:
		return "Value: " + value
	}
}
