package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_MappingOnly(t *testing.T) {
	m, _ := sampleFiles(t, testQueries)

	out, err := execute(t, "validate", m)
	require.NoError(t, err)
	assert.Equal(t, "✓ Mapping valid: 12 entities, 1 embeddables\n", out)
}

func TestValidate_Queries(t *testing.T) {
	m, q := sampleFiles(t, testQueries)

	out, err := execute(t, "-m", m, "validate", q)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 2 query document(s) valid")
}

func TestValidate_ReportsEveryBadDocument(t *testing.T) {
	m, q := sampleFiles(t, `
name: good
candidate: Person
alias: p
---
name: unknown-field
candidate: Person
alias: p
select: [p.shoeSize]
---
candidate: Nobody
alias: n
`)

	out, err := execute(t, "validate", m, q)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed with 2 error(s)")
	assert.Contains(t, out, "[Q102] "+q+" (unknown-field)")
	assert.Contains(t, out, "[Q108] "+q+" (#3)")
}

func TestValidate_JSON(t *testing.T) {
	m, q := sampleFiles(t, "candidate: Person\nalias: p\nselect: [p.shoeSize]\n")

	out, err := execute(t, "--format", "json", "validate", m, q)
	require.Error(t, err)

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string           `json:"code"`
			Details ValidationResult `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Error.Details.Valid)
	assert.Equal(t, 1, resp.Error.Details.Queries)
	require.Len(t, resp.Error.Details.Errors, 1)
	assert.Equal(t, "Q102", resp.Error.Details.Errors[0].Code)
}

func TestValidate_CUEPosition(t *testing.T) {
	dir := t.TempDir()
	m := writeFile(t, dir, "mapping.cue", "entities: {\n  A: table: \n}\n")

	out, err := execute(t, "validate", m)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, m+":")
}

func TestValidate_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("no mapping", func(t *testing.T) {
		out, err := execute(t, "validate")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "a mapping file is required")
	})

	t.Run("mapping not found", func(t *testing.T) {
		out, err := execute(t, "validate", filepath.Join(dir, "nope.cue"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, "Error [E005]")
	})

	t.Run("query file not found", func(t *testing.T) {
		m, _ := sampleFiles(t, testQueries)
		out, err := execute(t, "validate", m, filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, out, "[E005]")
	})
}
