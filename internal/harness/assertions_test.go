package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	got := normalize([][]any{{"Ann", int64(41), 5200.5, nil}, {true, 3}})
	assert.Equal(t, []any{
		[]any{"Ann", 41.0, 5200.5, nil},
		[]any{true, 3.0},
	}, got)

	assert.Equal(t, map[string]any{"n": 2.0}, normalize(map[string]any{"n": uint8(2)}))
}

func TestEvaluateExpect_NumbersCompareByValue(t *testing.T) {
	step := &Step{Name: "s", Expect: &Expect{
		Args: []any{30, "Eng"},
		Rows: [][]any{{"Ann", 41}},
	}}
	sr := &StepResult{
		Name: "s",
		Args: []any{int64(30), "Eng"},
		Rows: [][]any{{"Ann", int64(41)}},
	}
	assert.Empty(t, EvaluateExpect(step, sr))
}

func TestEvaluateExpect_NoExpectations(t *testing.T) {
	assert.Empty(t, EvaluateExpect(&Step{Name: "s"}, &StepResult{Name: "s", SQL: map[string]string{"sqlite": "SELECT 1"}}))

	errs := EvaluateExpect(&Step{Name: "s"}, &StepResult{Name: "s", Error: "Q105"})
	require.Len(t, errs, 1)
	var ae *AssertionError
	require.ErrorAs(t, errs[0], &ae)
	assert.Equal(t, AssertError, ae.Type)
	assert.Equal(t, "no error", ae.Expected)
	assert.Equal(t, "Q105", ae.Actual)
}

func TestEvaluateExpect_ErrorMismatch(t *testing.T) {
	step := &Step{Name: "s", Expect: &Expect{Error: "Q102"}}

	errs := EvaluateExpect(step, &StepResult{Name: "s", Error: "Q108"})
	require.Len(t, errs, 1)
	assert.Equal(t, "step s: error assertion failed\n  Expected: Q102\n  Actual: Q108", errs[0].Error())

	assert.Empty(t, EvaluateExpect(step, &StepResult{Name: "s", Error: "Q102"}))
}

func TestEvaluateExpect_CollectsEveryFailure(t *testing.T) {
	step := &Step{Name: "s", Expect: &Expect{
		SQL:     map[string]string{"sqlite": "SELECT t0.id FROM person t0"},
		Args:    []any{1},
		Rows:    [][]any{{"Ann"}},
		Matched: []any{1},
	}}
	sr := &StepResult{
		Name:    "s",
		SQL:     map[string]string{"sqlite": "SELECT t0.name FROM person t0"},
		Args:    []any{int64(2)},
		Rows:    [][]any{{"Bob"}},
		Matched: []any{},
	}

	errs := EvaluateExpect(step, sr)
	require.Len(t, errs, 4)

	types := make([]string, len(errs))
	for i, err := range errs {
		var ae *AssertionError
		require.ErrorAs(t, err, &ae)
		types[i] = ae.Type
	}
	assert.Equal(t, []string{AssertSQL, AssertArgs, AssertRows, AssertMatched}, types)
	assert.Contains(t, errs[2].Error(), "Diff (-expected +actual)")
}

func TestAssertSQL_ChecksDialectsInOrder(t *testing.T) {
	err := assertSQL("s",
		map[string]string{"sqlite": "A", "postgres": "B"},
		map[string]string{"sqlite": "X", "postgres": "Y"},
	)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "postgres: B", ae.Expected)
	assert.Equal(t, "Y", ae.Actual)
}
