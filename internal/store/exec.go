package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/qexp/internal/kernel"
)

// Result holds the rows a statement returned, in order.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Maps returns each row keyed by column name.
func (r *Result) Maps() []map[string]any {
	out := make([]map[string]any, len(r.Rows))
	for i, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for j, c := range r.Columns {
			m[c] = row[j]
		}
		out[i] = m
	}
	return out
}

// Execute runs a compiled statement.
func (s *Store) Execute(ctx context.Context, st *kernel.Statement) (*Result, error) {
	return s.Query(ctx, st.SQL, st.Args...)
}

// Query runs a query and reads every row. TEXT values come back as
// strings.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("statement id: %w", err)
	}
	start := time.Now()
	s.logger.Debug("executing statement", "id", id, "sql", query, "args", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("statement %s: %w", id, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("statement %s: columns: %w", id, err)
	}
	res := &Result{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("statement %s: scan: %w", id, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statement %s: %w", id, err)
	}

	s.logger.Debug("statement done", "id", id, "rows", len(res.Rows), "elapsed", time.Since(start))
	return res, nil
}
