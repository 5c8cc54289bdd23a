package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixtures are rows to insert, table by table in the order given.
//
//	- table: department
//	  rows:
//	    - {id: 10, name: Eng}
//	- table: person
//	  rows:
//	    - {id: 1, name: Ann, dept_id: 10}
type Fixtures []TableRows

// TableRows are the rows of one table, keyed by column name.
type TableRows struct {
	Table string           `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// ParseFixtures decodes a fixture document. Unknown keys are rejected.
func ParseFixtures(data []byte) (Fixtures, error) {
	var fx Fixtures
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	for i, t := range fx {
		if t.Table == "" {
			return nil, fmt.Errorf("fixture %d: table is required", i+1)
		}
	}
	return fx, nil
}

// LoadFixtureFile reads fixtures from path.
func LoadFixtureFile(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	fx, err := ParseFixtures(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fx, nil
}

// Insert writes every fixture row in one transaction.
func (s *Store) Insert(ctx context.Context, fx Fixtures) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fixture transaction: %w", err)
	}
	defer tx.Rollback()

	rows := 0
	for _, t := range fx {
		for i, row := range t.Rows {
			query, args, err := insertRow(t.Table, row)
			if err != nil {
				return fmt.Errorf("%s row %d: %w", t.Table, i+1, err)
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("%s row %d: %w", t.Table, i+1, err)
			}
			rows++
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fixtures: %w", err)
	}
	s.logger.Info("fixtures loaded", "tables", len(fx), "rows", rows)
	return nil
}

// insertRow builds the INSERT of one row, columns in name order.
func insertRow(table string, row map[string]any) (string, []any, error) {
	if len(row) == 0 {
		return "", nil, fmt.Errorf("empty row")
	}
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		switch v := row[c].(type) {
		case nil, string, bool, int, int64, float64, time.Time, []byte:
			args[i] = v
		default:
			return "", nil, fmt.Errorf("column %s: unsupported value %T", c, v)
		}
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return query, args, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
