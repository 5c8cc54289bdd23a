package kernel

import (
	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/sqlbuf"
)

// Statement is a compiled query ready to execute.
type Statement struct {
	// SQL uses the dialect's placeholder markers.
	SQL  string
	Args []any

	// Level is the cache level the compilation was allowed to use.
	Level CacheLevel

	buf    *sqlbuf.Buffer
	dict   *dialect.Dictionary
	params map[string]any
}

// Dialect returns the name of the dialect the statement is written in.
func (s *Statement) Dialect() string { return s.dict.Name }

// Inline returns the statement with every argument written as a literal.
// The result is for display; execute SQL with Args.
func (s *Statement) Inline() (string, error) {
	return s.buf.Inline(s.params, s.dict.Literal)
}
