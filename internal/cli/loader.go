package cli

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/kernel"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/querydoc"
)

// fileError is a query, fixture or object file that could not be loaded.
type fileError struct {
	Path string
	Err  error
}

func (e *fileError) Error() string { return e.Err.Error() }
func (e *fileError) Unwrap() error { return e.Err }

// execError is a statement the database rejected.
type execError struct {
	sql string
	err error
}

func (e *execError) Error() string { return e.err.Error() }
func (e *execError) Unwrap() error { return e.err }

// session is what the query commands share: the mapping, the dialect and
// a compiler over both.
type session struct {
	repo     *mapping.Repository
	dict     *dialect.Dictionary
	compiler *kernel.Compiler
	logger   *slog.Logger
}

func openSession(opts *RootOptions, logger *slog.Logger) (*session, error) {
	if opts.Mapping == "" {
		return nil, NewExitError(ExitCommandError, "a mapping file is required (--mapping or config)")
	}
	repo, err := mapping.LoadFile(opts.Mapping)
	if err != nil {
		return nil, err
	}
	dict, err := dialect.Lookup(opts.Dialect)
	if err != nil {
		return nil, err
	}
	level, err := kernel.ParseCacheLevel(opts.Cache)
	if err != nil {
		return nil, err
	}
	c, err := kernel.NewCompiler(repo, dict, kernel.WithLogger(logger), kernel.WithCacheLevel(level))
	if err != nil {
		return nil, err
	}
	return &session{repo: repo, dict: dict, compiler: c, logger: logger}, nil
}

// compile translates doc and compiles it with params bound.
func (s *session) compile(doc *querydoc.Document, params map[string]any) (*kernel.QueryExpressions, *kernel.Statement, error) {
	q, err := querydoc.NewTranslator(s.repo).Query(doc)
	if err != nil {
		return nil, nil, err
	}
	st, err := s.compiler.Compile(q, params)
	if err != nil {
		return nil, nil, fmt.Errorf("query %s: %w", docName(doc, 0), err)
	}
	return q, st, nil
}

func loadQueries(path string) ([]*querydoc.Document, error) {
	docs, err := querydoc.LoadFile(path)
	if err != nil {
		return nil, &fileError{Path: path, Err: err}
	}
	return docs, nil
}

// docName names a document in output: its name, or its position.
func docName(doc *querydoc.Document, i int) string {
	if doc.Name != "" {
		return doc.Name
	}
	return fmt.Sprintf("#%d", i+1)
}

// parseParams decodes --param name=value flags. Values are YAML, so
// 30 is a number, [1, 2] a list and anything else a string.
func parseParams(flags []string) (map[string]any, error) {
	out := make(map[string]any, len(flags))
	for _, f := range flags {
		name, raw, ok := strings.Cut(f, "=")
		if !ok || name == "" {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("invalid --param %q: want name=value", f))
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("invalid --param %s", name), err)
		}
		out[name] = v
	}
	return out, nil
}

// bindParams layers flag values over the document's defaults.
func bindParams(doc *querydoc.Document, flags map[string]any) map[string]any {
	out := make(map[string]any, len(doc.Params)+len(flags))
	for k, v := range doc.Params {
		out[k] = v
	}
	for k, v := range flags {
		out[k] = v
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
