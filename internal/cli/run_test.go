package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/store"
)

const testFixtures = `
- table: department
  rows:
    - {id: 10, name: Eng, budget: 1000.0}
    - {id: 20, name: Ops, budget: 500.0}
- table: person
  rows:
    - {id: 1, name: Ann, age: 41, dept_id: 10}
    - {id: 2, name: Bob, age: 17, dept_id: 20}
    - {id: 3, name: Cid, age: 35, dept_id: 10}
`

const orderedQueries = `
name: adults
candidate: Person
alias: p
filter: {">": [p.age, 18]}
select: [p.name, p.age]
order: [{by: p.name}]
---
name: by-dept
candidate: Person
alias: p
filter: {"=": [p.dept.name, $dept]}
select: [p.name]
order: [{by: p.name, desc: true}]
params: {dept: Eng}
`

func TestRun_Text(t *testing.T) {
	m, q := sampleFiles(t, orderedQueries)
	fx := writeFile(t, filepath.Dir(q), "fixtures.yaml", testFixtures)

	out, err := execute(t, "-m", m, "run", "--fixtures", fx, q)
	require.NoError(t, err)
	assert.Equal(t, "-- adults (2 row(s))\n"+
		"name  age\n"+
		"Ann   41\n"+
		"Cid   35\n"+
		"-- by-dept (2 row(s))\n"+
		"name\n"+
		"Cid\n"+
		"Ann\n", out)
}

func TestRun_JSON(t *testing.T) {
	m, q := sampleFiles(t, orderedQueries)
	fx := writeFile(t, filepath.Dir(q), "fixtures.yaml", testFixtures)

	out, err := execute(t, "-m", m, "--format", "json", "run", "--fixtures", fx, "-p", "dept=Ops", q)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []QueryRows `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, []string{"name", "age"}, resp.Data[0].Columns)
	assert.Equal(t, [][]any{{"Ann", float64(41)}, {"Cid", float64(35)}}, resp.Data[0].Rows)
	assert.Equal(t, [][]any{{"Bob"}}, resp.Data[1].Rows)
	assert.Contains(t, resp.Data[1].SQL, "WHERE t1.name = ?")
}

func TestRun_EmptyResult(t *testing.T) {
	m, q := sampleFiles(t, orderedQueries)

	out, err := execute(t, "-m", m, "--format", "json", "run", q)
	require.NoError(t, err)
	assert.Contains(t, out, `"rows":[]`)
}

func TestRun_PersistentDatabase(t *testing.T) {
	m, q := sampleFiles(t, orderedQueries)
	dir := filepath.Dir(q)
	fx := writeFile(t, dir, "fixtures.yaml", testFixtures)
	db := filepath.Join(dir, "people.db")

	_, err := execute(t, "-m", m, "run", "--db", db, "--fixtures", fx, q)
	require.NoError(t, err)

	// The second run reuses the tables and rows of the first.
	out, err := execute(t, "-m", m, "run", "--db", db, q)
	require.NoError(t, err)
	assert.Contains(t, out, "-- adults (2 row(s))")
}

func TestRun_Errors(t *testing.T) {
	m, q := sampleFiles(t, orderedQueries)
	dir := filepath.Dir(q)

	broken := filepath.Join(dir, "broken.db")
	st, err := store.Open(broken)
	require.NoError(t, err)
	_, err = st.DB().Exec("CREATE TABLE person (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantOut  string
	}{
		{
			name:     "dialect other than sqlite",
			args:     []string{"-m", m, "-d", "postgres", "run", q},
			wantExit: ExitCommandError,
			wantOut:  "cannot be run",
		},
		{
			name:     "fixtures not found",
			args:     []string{"-m", m, "run", "--fixtures", filepath.Join(dir, "nope.yaml"), q},
			wantExit: ExitCommandError,
			wantOut:  "Error [E005]",
		},
		{
			name:     "fixtures for an unknown table",
			args:     []string{"-m", m, "run", "--fixtures", writeFile(t, dir, "bad.yaml", "- table: nope\n  rows: [{id: 1}]\n"), q},
			wantExit: ExitFailure,
			wantOut:  "Error [E004]",
		},
		{
			name:     "statement rejected",
			args:     []string{"-m", m, "run", "--db", broken, q},
			wantExit: ExitFailure,
			wantOut:  "Error [E008]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.Contains(t, out, tt.wantOut)
		})
	}
}
