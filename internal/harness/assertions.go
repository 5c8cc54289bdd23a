package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cast"
)

// Assertion types.
const (
	AssertError   = "error"
	AssertSQL     = "sql"
	AssertArgs    = "args"
	AssertRows    = "rows"
	AssertMatched = "matched"
)

// AssertionError is returned when an expectation is not met.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Step     string // Step name
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Diff     string // cmp diff for structured values, if any
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "step %s: %s assertion failed\n", e.Step, e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	if e.Diff != "" {
		fmt.Fprintf(&buf, "\n  Diff (-expected +actual):\n%s", e.Diff)
	}
	return buf.String()
}

// EvaluateExpect checks a step result against the step's expectations and
// returns every failure.
func EvaluateExpect(step *Step, sr *StepResult) []error {
	exp := step.Expect
	if exp == nil {
		exp = &Expect{}
	}

	if err := assertError(step.Name, exp, sr); err != nil {
		return []error{err}
	}
	if sr.Error != "" {
		return nil
	}

	var errs []error
	if err := assertSQL(step.Name, exp.SQL, sr.SQL); err != nil {
		errs = append(errs, err)
	}
	if exp.Args != nil {
		if err := assertValues(step.Name, AssertArgs, exp.Args, sr.Args); err != nil {
			errs = append(errs, err)
		}
	}
	if exp.Rows != nil {
		if err := assertValues(step.Name, AssertRows, exp.Rows, sr.Rows); err != nil {
			errs = append(errs, err)
		}
	}
	if exp.Matched != nil {
		if err := assertValues(step.Name, AssertMatched, exp.Matched, sr.Matched); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// assertError checks that the step failed exactly when it was expected to.
func assertError(step string, exp *Expect, sr *StepResult) error {
	switch {
	case exp.Error == "" && sr.Error == "":
		return nil
	case exp.Error == "":
		return &AssertionError{Step: step, Type: AssertError, Expected: "no error", Actual: sr.Error}
	case sr.Error == "":
		return &AssertionError{Step: step, Type: AssertError, Expected: exp.Error, Actual: "no error"}
	case exp.Error != sr.Error:
		return &AssertionError{Step: step, Type: AssertError, Expected: exp.Error, Actual: sr.Error}
	}
	return nil
}

// assertSQL compares statement text for every dialect the step expects.
func assertSQL(step string, want, got map[string]string) error {
	dialects := make([]string, 0, len(want))
	for d := range want {
		dialects = append(dialects, d)
	}
	sort.Strings(dialects)

	for _, d := range dialects {
		sql, ok := got[d]
		if !ok {
			return &AssertionError{
				Step:     step,
				Type:     AssertSQL,
				Expected: fmt.Sprintf("%s: %s", d, want[d]),
				Actual:   fmt.Sprintf("dialect %s not compiled (add it to dialects)", d),
			}
		}
		if sql != want[d] {
			return &AssertionError{Step: step, Type: AssertSQL, Expected: fmt.Sprintf("%s: %s", d, want[d]), Actual: sql}
		}
	}
	return nil
}

// assertValues compares structured values with numbers normalized.
func assertValues(step, typ string, want, got any) error {
	w, g := normalize(want), normalize(got)
	if diff := cmp.Diff(w, g); diff != "" {
		return &AssertionError{
			Step:     step,
			Type:     typ,
			Expected: fmt.Sprint(w),
			Actual:   fmt.Sprint(g),
			Diff:     diff,
		}
	}
	return nil
}

// normalize converts every number to float64 and every list to []any, so
// YAML ints, SQLite int64 and REAL values compare by value.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, string, bool:
		return x
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(x)
		if err != nil {
			return x
		}
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case [][]any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	default:
		return x
	}
}
