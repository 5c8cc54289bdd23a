package harness

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_People(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/people.yaml")
	require.NoError(t, err)

	assert.Equal(t, "people", s.Name)
	assert.Equal(t, []string{"sqlite", "postgres"}, s.dialects())
	assert.Empty(t, s.Mapping)
	require.Len(t, s.Fixtures, 2)
	assert.Equal(t, "person", s.Fixtures[1].Table)
	assert.Len(t, s.Objects, 3)
	require.Len(t, s.Steps, 3)
	assert.Equal(t, "older-than", s.Steps[0].Name)
	assert.Equal(t, map[string]any{"min": 30}, s.Steps[0].Params)
	assert.Equal(t, "Q102", s.Steps[2].Expect.Error)
}

func TestLoadScenario_ResolvesMappingRelativeToFile(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/projects.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "mapping.yaml"), s.Mapping)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestParseScenario_DefaultsToDefaultDialect(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: minimal
description: one step
steps:
  - name: all
    query: {candidate: Person, alias: p}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"sqlite"}, s.dialects())
	assert.Nil(t, s.Steps[0].Expect)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown field",
			src:  "name: x\ndescription: d\nstep: []\n",
			want: "field step not found",
		},
		{
			name: "missing name",
			src:  "description: d\nsteps: [{name: a, query: {candidate: Person, alias: p}}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			src:  "name: x\nsteps: [{name: a, query: {candidate: Person, alias: p}}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			src:  "name: x\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown dialect",
			src:  "name: x\ndescription: d\ndialects: [oracle]\nsteps: [{name: a, query: {candidate: Person, alias: p}}]\n",
			want: "dialects:",
		},
		{
			name: "fixture without table",
			src:  "name: x\ndescription: d\nfixtures: [{rows: []}]\nsteps: [{name: a, query: {candidate: Person, alias: p}}]\n",
			want: "fixtures[0]: table is required",
		},
		{
			name: "unnamed step",
			src:  "name: x\ndescription: d\nsteps: [{query: {candidate: Person, alias: p}}]\n",
			want: "steps[0]: name is required",
		},
		{
			name: "duplicate step",
			src: "name: x\ndescription: d\nsteps:\n" +
				"  - {name: a, query: {candidate: Person, alias: p}}\n" +
				"  - {name: a, query: {candidate: Person, alias: p}}\n",
			want: `steps[1]: duplicate step name "a"`,
		},
		{
			name: "query without alias",
			src:  "name: x\ndescription: d\nsteps: [{name: a, query: {candidate: Person}}]\n",
			want: "steps[0].query:",
		},
		{
			name: "error with rows",
			src: "name: x\ndescription: d\nfixtures: [{table: person, rows: []}]\n" +
				"steps: [{name: a, query: {candidate: Person, alias: p}, expect: {error: Q102, rows: [[1]]}}]\n",
			want: "error excludes sql, rows and matched",
		},
		{
			name: "rows without fixtures",
			src:  "name: x\ndescription: d\nsteps: [{name: a, query: {candidate: Person, alias: p}, expect: {rows: [[1]]}}]\n",
			want: "rows need fixtures",
		},
		{
			name: "matched without objects",
			src:  "name: x\ndescription: d\nsteps: [{name: a, query: {candidate: Person, alias: p}, expect: {matched: []}}]\n",
			want: "matched needs objects",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
