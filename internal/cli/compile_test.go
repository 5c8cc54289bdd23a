package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/testutil"
)

const testQueries = `
name: adults
candidate: Person
alias: p
filter: {">": [p.age, 18]}
select: [p.name]
---
name: by-dept
candidate: Person
alias: p
filter: {"=": [p.dept.name, $dept]}
select: [p.name]
params: {dept: Eng}
`

// sampleFiles writes the sample mapping and src as a query file to a
// temporary directory.
func sampleFiles(t *testing.T, src string) (mappingPath, queriesPath string) {
	t.Helper()
	dir := t.TempDir()
	return writeFile(t, dir, "mapping.yaml", testutil.SampleMapping), writeFile(t, dir, "queries.yaml", src)
}

func TestCompile_Text(t *testing.T) {
	m, q := sampleFiles(t, testQueries)

	out, err := execute(t, "-m", m, "compile", q)
	require.NoError(t, err)
	assert.Equal(t, "-- adults\n"+
		"SELECT t0.name FROM person t0 WHERE t0.age > ?\n"+
		"-- args: [18]\n"+
		"-- by-dept\n"+
		"SELECT t0.name FROM person t0 INNER JOIN department t1 ON t0.dept_id = t1.id WHERE t1.name = ?\n"+
		"-- args: [\"Eng\"]\n", out)
}

func TestCompile_ParamFlagOverridesDocument(t *testing.T) {
	m, q := sampleFiles(t, testQueries)

	out, err := execute(t, "-m", m, "compile", "--param", "dept=Ops", q)
	require.NoError(t, err)
	assert.Contains(t, out, `-- args: ["Ops"]`)
}

func TestCompile_Inline(t *testing.T) {
	m, q := sampleFiles(t, testQueries)

	out, err := execute(t, "-m", m, "compile", "--inline", q)
	require.NoError(t, err)
	assert.Contains(t, out, "SELECT t0.name FROM person t0 WHERE t0.age > 18\n")
	assert.Contains(t, out, "WHERE t1.name = 'Eng'\n")
	assert.NotContains(t, out, "-- args")
}

func TestCompile_JSON(t *testing.T) {
	m, q := sampleFiles(t, testQueries)

	out, err := execute(t, "-m", m, "-d", "postgres", "--format", "json", "compile", q)
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   []CompiledQuery `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)

	adults := resp.Data[0]
	assert.Equal(t, "adults", adults.Name)
	assert.Equal(t, "SELECT p.name FROM Person p WHERE p.age > 18", adults.Query)
	assert.Equal(t, "SELECT t0.name FROM person t0 WHERE t0.age > $1", adults.SQL)
	assert.Equal(t, []any{float64(18)}, adults.Args)
	assert.Equal(t, "full", adults.Cache)
	assert.NotEmpty(t, adults.Shape)
	assert.Empty(t, adults.Inline)
}

func TestCompile_CacheLevel(t *testing.T) {
	m, q := sampleFiles(t, testQueries)

	out, err := execute(t, "-m", m, "--cache", "none", "--format", "json", "compile", q)
	require.NoError(t, err)
	assert.Contains(t, out, `"cache":"none"`)
}

func TestCompile_Errors(t *testing.T) {
	m, q := sampleFiles(t, testQueries)
	dir := filepath.Dir(q)

	tests := []struct {
		name     string
		args     []string
		wantExit int
		wantOut  string
	}{
		{
			name:     "no mapping",
			args:     []string{"compile", q},
			wantExit: ExitCommandError,
			wantOut:  "a mapping file is required",
		},
		{
			name:     "mapping not found",
			args:     []string{"-m", filepath.Join(dir, "nope.yaml"), "compile", q},
			wantExit: ExitCommandError,
			wantOut:  "Error [E005]",
		},
		{
			name:     "query file not found",
			args:     []string{"-m", m, "compile", filepath.Join(dir, "nope.yaml")},
			wantExit: ExitCommandError,
			wantOut:  "Error [E005]",
		},
		{
			name:     "unknown field",
			args:     []string{"-m", m, "compile", writeFile(t, dir, "bad.yaml", "candidate: Person\nalias: p\nselect: [p.shoeSize]\n")},
			wantExit: ExitFailure,
			wantOut:  "Error [Q102]",
		},
		{
			name:     "unknown dialect",
			args:     []string{"-m", m, "-d", "cobol", "compile", q},
			wantExit: ExitFailure,
			wantOut:  "Error [Q110]",
		},
		{
			name: "dialect without subselects",
			args: []string{"-m", m, "-d", "legacy", "compile", writeFile(t, dir, "sub.yaml", `
candidate: Person
alias: p
filter:
  exists:
    from: p.projects
    alias: pr
select: [p.name]
`)},
			wantExit: ExitFailure,
			wantOut:  "Error [Q201]",
		},
		{
			name:     "bad param flag",
			args:     []string{"-m", m, "compile", "--param", "nameless", q},
			wantExit: ExitCommandError,
			wantOut:  "want name=value",
		},
		{
			name:     "unbound parameter",
			args:     []string{"-m", m, "compile", writeFile(t, dir, "unbound.yaml", "candidate: Person\nalias: p\nfilter: {\">\": [p.age, $min]}\n")},
			wantExit: ExitFailure,
			wantOut:  "Error [Q105]",
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

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"min=30", "ids=[1, 2]", "name=Ann", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"min":   30,
		"ids":   []any{1, 2},
		"name":  "Ann",
		"empty": nil,
	}, params)

	_, err = parseParams([]string{"=3"})
	assert.Error(t, err)
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, `[1, "a", true, <nil>]`, formatArgs([]any{int64(1), "a", true, nil}))
	assert.Equal(t, "[]", formatArgs(nil))
}
