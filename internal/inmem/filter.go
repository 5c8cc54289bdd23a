// Package inmem evaluates query filters against objects held in memory.
//
// A filter tree is written out as an expr-lang program in which paths are
// optional-chained member accesses on the candidate object and every
// operator is a helper with SQL null semantics. Objects are the decoded
// form of YAML or JSON documents: maps keyed by field name, with related
// entities nested as maps and collections as slices.
//
// Constructs that need a database have no in-memory meaning and fail with
// a capability error when the filter is built: subqueries, bound
// variables, aggregates, TYPE and casts to subclasses.
package inmem

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
)

// Filter is a compiled in-memory filter. It is safe for concurrent use.
type Filter struct {
	alias   string
	source  string
	params  []string
	program *vm.Program
	logger  *slog.Logger
}

// Option configures a Filter.
type Option func(*Filter)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) {
		f.logger = l
	}
}

// New compiles e, a filter over candidate objects of class candidate
// named alias. A nil e matches every object.
func New(candidate *mapping.Class, alias string, e exps.Exp, opts ...Option) (*Filter, error) {
	f := &Filter{alias: alias, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	if candidate == nil {
		return nil, qerr.User(qerr.CodeInvalidQuery, alias, "filter has no candidate class")
	}

	w := &writer{alias: alias, candidate: candidate, params: map[string]bool{}}
	if err := w.exp(e); err != nil {
		return nil, err
	}
	f.source = "sqlTrue(" + w.sb.String() + ")"
	f.params = w.paramNames()

	options := append(functions(), expr.AllowUndefinedVariables())
	program, err := expr.Compile(f.source, options...)
	if err != nil {
		return nil, qerr.Wrap(qerr.KindInternal, qerr.CodeBadState, f.source, err, "compile in-memory filter")
	}
	f.program = program
	f.logger.Debug("in-memory filter compiled", "alias", alias, "source", f.source)
	return f, nil
}

// Source returns the program text.
func (f *Filter) Source() string { return f.source }

// Params returns the names of the parameters the filter reads, sorted.
func (f *Filter) Params() []string { return f.params }

// Match reports whether obj satisfies the filter. Unknown counts as no
// match, as in a WHERE clause.
func (f *Filter) Match(obj map[string]any, params map[string]any) (bool, error) {
	for _, name := range f.params {
		if _, ok := params[name]; !ok {
			return false, qerr.User(qerr.CodeUnboundParameter, ":"+name, "no value bound for parameter %q", name)
		}
	}
	if params == nil {
		params = map[string]any{}
	}
	env := map[string]any{objectVar: obj, paramsVar: params}
	out, err := expr.Run(f.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %s: %w", f.source, err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, qerr.Internal(qerr.CodeBadState, f.source, "filter returned %T", out)
	}
	return ok, nil
}

// Select returns the objects that satisfy the filter, in order.
func (f *Filter) Select(objs []map[string]any, params map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(objs))
	for i, obj := range objs {
		ok, err := f.Match(obj, params)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", i, err)
		}
		if ok {
			out = append(out, obj)
		}
	}
	f.logger.Debug("in-memory filter applied", "alias", f.alias, "candidates", len(objs), "matched", len(out))
	return out, nil
}
