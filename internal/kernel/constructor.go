package kernel

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

// CacheLevel is how much of a compilation a SelectConstructor keeps for
// the next one.
type CacheLevel int

const (
	// CacheNone compiles everything every time.
	CacheNone CacheLevel = iota

	// CacheJoins keeps the select after its joins are resolved; the WHERE,
	// HAVING and select list are rendered again.
	CacheJoins

	// CacheFull keeps the rendered statement and only rebinds parameters.
	CacheFull
)

func (l CacheLevel) String() string {
	switch l {
	case CacheNone:
		return "none"
	case CacheJoins:
		return "joins"
	case CacheFull:
		return "full"
	}
	return fmt.Sprintf("CacheLevel(%d)", int(l))
}

// ParseCacheLevel parses "none", "joins" or "full".
func ParseCacheLevel(s string) (CacheLevel, error) {
	switch strings.ToLower(s) {
	case "none", "":
		return CacheNone, nil
	case "joins":
		return CacheJoins, nil
	case "full":
		return CacheFull, nil
	}
	return CacheNone, fmt.Errorf("unknown cache level %q (want none, joins or full)", s)
}

// SelectConstructor compiles one query into statements, caching up to the
// requested level between calls:
//
//   - an extent query is compiled once and reused forever;
//   - changing the level drops whatever was cached;
//   - a query that renders a subquery is never cached;
//   - a query whose SQL depends on parameter values caches at most its
//     joins, and drops them when a later compilation needs other joins.
//
// A SelectConstructor is not safe for concurrent use.
type SelectConstructor struct {
	q      *QueryExpressions
	dict   *dialect.Dictionary
	repo   *mapping.Repository
	logger *slog.Logger

	extent *sqlbuf.Buffer

	level    CacheLevel
	template *sqlbuild.Select
	required *sqlbuild.Joins
	full     *sqlbuf.Buffer
}

// NewSelectConstructor returns a constructor for q. A nil logger logs to
// slog.Default.
func NewSelectConstructor(q *QueryExpressions, dict *dialect.Dictionary, repo *mapping.Repository, logger *slog.Logger) *SelectConstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &SelectConstructor{q: q, dict: dict, repo: repo, logger: logger}
}

// Query returns the query the constructor compiles.
func (c *SelectConstructor) Query() *QueryExpressions { return c.q }

// Evaluate compiles the query with params bound.
func (c *SelectConstructor) Evaluate(params map[string]any, level CacheLevel) (*Statement, error) {
	if c.extent != nil {
		return c.statement(c.extent, params, CacheFull)
	}
	if c.q.IsExtent() {
		buf, _, err := c.compile(params, nil)
		if err != nil {
			return nil, err
		}
		c.extent = buf
		c.logger.Info("extent query", "candidate", c.q.Candidate.Name, "dialect", c.dict.Name)
		return c.statement(buf, params, CacheFull)
	}

	if level != c.level {
		if c.template != nil || c.full != nil {
			c.logger.Debug("cache level changed, dropping cached select",
				"from", c.level.String(), "to", level.String())
		}
		c.template, c.required, c.full = nil, nil, nil
		c.level = level
	}
	if c.full != nil {
		return c.statement(c.full, params, CacheFull)
	}

	buf, ctx, err := c.compile(params, c.template)
	if err != nil {
		return nil, err
	}

	used := level
	switch {
	case ctx.HasSubquery():
		used = CacheNone
	case ctx.ValueDependent() && used > CacheJoins:
		used = CacheJoins
	}
	if used == CacheFull {
		c.full = buf
	}
	if used < CacheJoins {
		c.template, c.required = nil, nil
	}
	return c.statement(buf, params, used)
}

// compile builds the statement, starting from template when it is set
// and still needs the same joins.
func (c *SelectConstructor) compile(params map[string]any, template *sqlbuild.Select) (*sqlbuf.Buffer, *exps.Context, error) {
	if template != nil {
		ctx := exps.NewContext(c.repo, params, c.logger)
		b, err := newBuilder(c.q, ctx)
		if err != nil {
			return nil, nil, err
		}
		sel := template.Clone()
		if err := b.initialize(sel); err != nil {
			return nil, nil, err
		}
		if sameJoins(b.joins, c.required) {
			c.logger.Debug("reusing cached joins", "candidate", c.q.Candidate.Name)
			return c.finish(b, sel, ctx)
		}
		c.logger.Debug("cached joins no longer apply", "candidate", c.q.Candidate.Name)
		c.template, c.required = nil, nil
	}

	ctx := exps.NewContext(c.repo, params, c.logger)
	b, err := newBuilder(c.q, ctx)
	if err != nil {
		return nil, nil, err
	}
	sel, err := b.newSelect(c.dict, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := b.initialize(sel); err != nil {
		return nil, nil, err
	}
	if c.level >= CacheJoins && !ctx.HasSubquery() && !c.q.IsExtent() {
		c.template, c.required = sel.Clone(), b.joins
	}
	return c.finish(b, sel, ctx)
}

func (c *SelectConstructor) finish(b *builder, sel *sqlbuild.Select, ctx *exps.Context) (*sqlbuf.Buffer, *exps.Context, error) {
	top, err := b.render(sel)
	if err != nil {
		return nil, nil, err
	}
	buf, err := top.Statement()
	if err != nil {
		return nil, nil, err
	}
	return buf, ctx, nil
}

func (c *SelectConstructor) statement(buf *sqlbuf.Buffer, params map[string]any, level CacheLevel) (*Statement, error) {
	args, err := buf.Bind(params)
	if err != nil {
		return nil, err
	}
	return &Statement{
		SQL:    c.dict.Text(buf),
		Args:   args,
		Level:  level,
		buf:    buf,
		dict:   c.dict,
		params: params,
	}, nil
}

// sameJoins reports whether a and b hold the same joins with the same
// types.
func sameJoins(a, b *sqlbuild.Joins) bool {
	if a.Len() != b.Len() {
		return false
	}
	for _, j := range a.List() {
		o, ok := b.Get(j.Key())
		if !ok || o.Type != j.Type || o.Conditional != j.Conditional {
			return false
		}
	}
	return true
}
