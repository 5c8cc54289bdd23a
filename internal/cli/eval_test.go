package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testObjects = `
- {id: 1, name: Ann, age: 41, dept: {id: 10, name: Eng}}
- {id: 2, name: Bob, age: 17, dept: {id: 20, name: Ops}}
- {id: 3, name: Cid, age: 35}
`

func TestEval_Text(t *testing.T) {
	m, q := sampleFiles(t, testQueries)
	objs := writeFile(t, filepath.Dir(q), "objects.yaml", testObjects)

	out, err := execute(t, "-m", m, "eval", "--objects", objs, q)
	require.NoError(t, err)
	assert.Equal(t, "-- adults (2 of 3 matched)\n"+
		`{"age":41,"dept":{"id":10,"name":"Eng"},"id":1,"name":"Ann"}`+"\n"+
		`{"age":35,"id":3,"name":"Cid"}`+"\n"+
		"-- by-dept (1 of 3 matched)\n"+
		`{"age":41,"dept":{"id":10,"name":"Eng"},"id":1,"name":"Ann"}`+"\n", out)
}

func TestEval_JSON(t *testing.T) {
	m, q := sampleFiles(t, testQueries)
	objs := writeFile(t, filepath.Dir(q), "objects.yaml", testObjects)

	out, err := execute(t, "-m", m, "--format", "json", "eval", "--objects", objs, "-p", "dept=Ops", q)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   []Evaluated `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, `sqlTrue(sqlCmp("=", obj?.dept?.name, params["dept"]))`, resp.Data[1].Source)
	require.Len(t, resp.Data[1].Matched, 1)
	assert.Equal(t, "Bob", resp.Data[1].Matched[0]["name"])
}

func TestEval_Errors(t *testing.T) {
	m, q := sampleFiles(t, testQueries)
	dir := filepath.Dir(q)
	objs := writeFile(t, dir, "objects.yaml", testObjects)

	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantOut  string
	}{
		{
			name:     "objects not found",
			args:     []string{"-m", m, "eval", "--objects", filepath.Join(dir, "nope.yaml"), q},
			wantExit: ExitCommandError,
			wantOut:  "Error [E005]",
		},
		{
			name:     "objects not a list",
			args:     []string{"-m", m, "eval", "--objects", writeFile(t, dir, "map.yaml", "name: Ann\n"), q},
			wantExit: ExitFailure,
			wantOut:  "Error [E004]",
		},
		{
			name: "subquery",
			args: []string{"-m", m, "eval", "--objects", objs, writeFile(t, dir, "sub.yaml", `
candidate: Person
alias: p
filter:
  exists:
    from: p.projects
    alias: pr
`)},
			wantExit: ExitFailure,
			wantOut:  "Error [Q201]",
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

func TestEval_ObjectsRequired(t *testing.T) {
	m, q := sampleFiles(t, testQueries)

	_, err := execute(t, "-m", m, "eval", q)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "objects")
}
