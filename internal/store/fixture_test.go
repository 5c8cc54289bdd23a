package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/testutil"
)

func TestParseFixtures(t *testing.T) {
	fx, err := LoadFixtureFile("testdata/people.yaml")
	require.NoError(t, err)
	require.Len(t, fx, 5)
	assert.Equal(t, "department", fx[0].Table)
	assert.Len(t, fx[1].Rows, 3)

	_, err = ParseFixtures([]byte("- table: t\n  colums: []\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = ParseFixtures([]byte("- rows: [{a: 1}]\n"))
	assert.ErrorContains(t, err, "table is required")
}

func TestInsertRow(t *testing.T) {
	query, args, err := insertRow("person", map[string]any{"name": "Ann", "id": 1, "age": nil})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "person" ("age", "id", "name") VALUES (?, ?, ?)`, query)
	assert.Equal(t, []any{nil, 1, "Ann"}, args)

	_, _, err = insertRow("person", map[string]any{"tags": []any{"a"}})
	assert.ErrorContains(t, err, "unsupported value")

	_, _, err = insertRow("person", map[string]any{})
	assert.Error(t, err)
}

func TestInsert(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateSchema(ctx, testutil.SampleRepository(t)))

	fx, err := LoadFixtureFile("testdata/people.yaml")
	require.NoError(t, err)
	require.NoError(t, s.Insert(ctx, fx))

	res, err := s.Query(ctx, "SELECT name, salary FROM person WHERE dept_id = ? ORDER BY id", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "salary"}, res.Columns)
	assert.Equal(t, [][]any{{"Ann", 5200.5}, {"Cid", 4000.0}}, res.Rows)
}

func TestInsert_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(db, WithLogger(testutil.DiscardLogger()))
	defer s.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "department"`).WithArgs(10, "Eng").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO "department"`).WithArgs(10, "Ops").
		WillReturnError(errors.New("UNIQUE constraint failed: department.id"))
	mock.ExpectRollback()

	err = s.Insert(context.Background(), Fixtures{{
		Table: "department",
		Rows:  []map[string]any{{"id": 10, "name": "Eng"}, {"id": 10, "name": "Ops"}},
	}})
	assert.ErrorContains(t, err, "department row 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}
