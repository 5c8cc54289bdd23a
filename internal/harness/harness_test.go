package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/testutil"
)

func sampleOptions(t *testing.T) []Option {
	return []Option{
		WithRepository(testutil.SampleRepository(t)),
		WithLogger(testutil.DiscardLogger()),
	}
}

func TestRun_People(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/people.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s, sampleOptions(t)...)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)
	require.Len(t, result.Steps, 3)

	older := result.Steps[0]
	assert.Equal(t, "SELECT p.name FROM Person p WHERE p.age > :min ORDER BY p.name ASC", older.Query)
	assert.Len(t, older.SQL, 2)
	assert.Equal(t, []any{1, 3}, older.Matched)

	assert.Equal(t, "Q102", result.Steps[2].Error)
	assert.Empty(t, result.Steps[2].SQL)
}

func TestRun_MappingFromScenario(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/projects.yaml")
	require.NoError(t, err)

	result, err := Run(context.Background(), s, WithLogger(testutil.DiscardLogger()))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []any{"Eng", int64(2)}, result.Steps[0].Rows[0])
}

func TestRun_NoMapping(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: orphan
description: no mapping anywhere
steps:
  - name: all
    query: {candidate: Person, alias: p}
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s, WithLogger(testutil.DiscardLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "names no mapping")
}

func TestRun_MissingMappingFile(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: lost
description: mapping file is absent
mapping: /nonexistent/mapping.yaml
steps:
  - name: all
    query: {candidate: Person, alias: p}
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s, WithLogger(testutil.DiscardLogger()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load mapping")
}

func TestRun_BadFixtures(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad-fixtures
description: fixture table is not mapped
fixtures:
  - table: spaceship
    rows: [{id: 1}]
steps:
  - name: all
    query: {candidate: Person, alias: p}
`))
	require.NoError(t, err)

	_, err = Run(context.Background(), s, sampleOptions(t)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load fixtures")
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: wrong
description: every expectation is off
fixtures:
  - table: person
    rows:
      - {id: 1, name: Ann, age: 41}
steps:
  - name: wrong-sql
    query: {candidate: Person, alias: p, select: [p.name]}
    expect:
      sql: {sqlite: SELECT name FROM person}
  - name: wrong-rows
    query: {candidate: Person, alias: p, select: [p.name]}
    expect:
      rows: [[Bob]]
  - name: missing-error
    query: {candidate: Person, alias: p, select: [p.name]}
    expect:
      error: Q102
  - name: unexpected-error
    query: {candidate: Person, alias: p, select: [p.height]}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, sampleOptions(t)...)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "step wrong-sql: sql assertion failed")
	assert.Contains(t, result.Errors[1], "step wrong-rows: rows assertion failed")
	assert.Contains(t, result.Errors[2], "step missing-error: error assertion failed")
	assert.Contains(t, result.Errors[3], "Actual: Q102")
}

func TestRun_UncompiledDialect(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: dialects
description: expected SQL for a dialect that is not compiled
steps:
  - name: all
    query: {candidate: Person, alias: p, select: [p.name]}
    expect:
      sql: {postgres: SELECT t0.name FROM person t0}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, sampleOptions(t)...)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "dialect postgres not compiled")
}

func TestRun_CapabilityErrorCode(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: legacy
description: legacy has no subselects
dialects: [legacy]
steps:
  - name: exists
    query:
      candidate: Person
      alias: p
      filter:
        exists: {from: p.projects, alias: pr, filter: {">": [pr.cost, 100]}}
    expect:
      error: Q201
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), s, sampleOptions(t)...)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestBindParams_StepOverridesDocument(t *testing.T) {
	step := &Step{Params: map[string]any{"min": 40}}
	step.Query.Params = map[string]any{"min": 30, "dept": "Eng"}

	assert.Equal(t, map[string]any{"min": 40, "dept": "Eng"}, bindParams(step))
}
