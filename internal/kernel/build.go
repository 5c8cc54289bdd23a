package kernel

import (
	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

// builder compiles one QueryExpressions against one select. It holds the
// states of every tree for a single compilation.
type builder struct {
	q   *QueryExpressions
	ctx *exps.Context

	candidate *exps.Path
	restrict  exps.Exp
	projs     []Projection

	restrictSt exps.State
	filterSt   exps.State
	projSt     []exps.State
	groupSt    []exps.State
	havingSt   exps.State
	orderSt    []exps.State
	offsetSt   exps.State
	limitSt    exps.State

	// joins is everything the trees required, before merging into the
	// select.
	joins *sqlbuild.Joins
}

func newBuilder(q *QueryExpressions, ctx *exps.Context) (*builder, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	f := exps.NewFactory(ctx.Repo)
	cand, err := f.Root(q.Alias, q.Candidate.Name)
	if err != nil {
		return nil, err
	}
	b := &builder{q: q, ctx: ctx, candidate: cand, projs: q.Projections}
	if len(b.projs) == 0 {
		b.projs = []Projection{{Val: cand}}
	}
	if q.From == nil {
		if b.restrict, err = candidateRestriction(f, cand, q.Subclasses); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// candidateRestriction limits a candidate to the classes the query reads
// when the candidate's table also holds other classes: a single-table
// subclass, or any class whose subclasses are excluded.
func candidateRestriction(f *exps.Factory, cand *exps.Path, subclasses bool) (exps.Exp, error) {
	cls := cand.Class()
	root := cls.Root()
	if root.Discriminator == nil {
		return nil, nil
	}
	sharesTable := cls != root && cls.Table == root.Table
	hasSubclasses := len(cls.Descendants()) > 1
	if !sharesTable && (subclasses || !hasSubclasses) {
		return nil, nil
	}
	classes := []string{cls.Name}
	if subclasses {
		classes = classes[:0]
		for _, c := range cls.Descendants() {
			classes = append(classes, c.Name)
		}
	}
	typ, err := f.Type(cand)
	if err != nil {
		return nil, err
	}
	if len(classes) == 1 {
		return f.Equal(typ, f.Lit(classes[0]))
	}
	vals := make([]exps.Val, len(classes))
	for i, c := range classes {
		vals[i] = f.Lit(c)
	}
	return f.In(typ, vals...)
}

// newSelect creates the select the query reads from: a root select, a
// child of parent over the candidate, or a child ranging over a path of
// the enclosing query.
func (b *builder) newSelect(dict *dialect.Dictionary, parent *sqlbuild.Select) (*sqlbuild.Select, error) {
	q := b.q
	switch {
	case q.From != nil && parent == nil:
		return nil, qerr.User(qerr.CodeInvalidQuery, q.From.String(), "only a subquery can range over a path")
	case q.From != nil:
		sel := parent.NewChild(nil, "")
		joins, err := q.From.BindScope(sel, b.ctx, q.Alias)
		if err != nil {
			return nil, err
		}
		sel.AddJoins(joins)
		return sel, nil
	case parent != nil:
		return parent.NewChild(q.Candidate, q.Alias), nil
	default:
		return sqlbuild.New(dict, q.Candidate, q.Alias), nil
	}
}

// initialize initializes every tree against sel and adds the joins they
// need to it.
func (b *builder) initialize(sel *sqlbuild.Select) error {
	q, ctx := b.q, b.ctx
	mark := ctx.RestrictionMark()
	add := func(st exps.State) {
		b.joins = sqlbuild.And(b.joins, st.Joins())
		sel.AddJoins(st.Joins())
	}
	initExp := func(e exps.Exp) (exps.State, error) {
		if e == nil {
			return nil, nil
		}
		st, err := e.Initialize(sel, ctx, exps.NewContains())
		if err != nil {
			return nil, err
		}
		add(st)
		return st, nil
	}
	initVal := func(v exps.Val, flags exps.Flags) (exps.State, error) {
		if v == nil {
			return nil, nil
		}
		st, err := v.Initialize(sel, ctx, flags)
		if err != nil {
			return nil, err
		}
		add(st)
		return st, nil
	}

	var err error
	if b.restrictSt, err = initExp(b.restrict); err != nil {
		return err
	}
	if b.filterSt, err = initExp(q.Filter); err != nil {
		return err
	}
	b.projSt = make([]exps.State, len(b.projs))
	for i, p := range b.projs {
		if b.projSt[i], err = initVal(p.Val, exps.JoinRel); err != nil {
			return err
		}
	}
	b.groupSt = make([]exps.State, len(q.Grouping))
	for i, g := range q.Grouping {
		if b.groupSt[i], err = initVal(g, 0); err != nil {
			return err
		}
	}
	if b.havingSt, err = initExp(q.Having); err != nil {
		return err
	}
	b.orderSt = make([]exps.State, len(q.Ordering))
	for i, o := range q.Ordering {
		if b.orderSt[i], err = initVal(o.Val, 0); err != nil {
			return err
		}
	}
	if b.offsetSt, err = initVal(q.Offset, 0); err != nil {
		return err
	}
	if b.limitSt, err = initVal(q.Limit, 0); err != nil {
		return err
	}
	// restrictions no condition claimed apply to the whole select
	for _, r := range ctx.TakeRestrictions(mark) {
		sel.Restrict(r)
	}
	return nil
}

// aggregates reports whether a projection or the having clause
// aggregates.
func (b *builder) aggregates() bool {
	for _, p := range b.projs {
		if exps.HasAggregate(p.Val) {
			return true
		}
	}
	return b.q.Having != nil && exps.HasAggregate(b.q.Having)
}

// render writes every clause into sel and returns the select whose
// statement is the query: sel, or a wrapper over it.
func (b *builder) render(sel *sqlbuild.Select) (*sqlbuild.Select, error) {
	q, ctx := b.q, b.ctx
	for _, w := range []struct {
		e  exps.Exp
		st exps.State
	}{{b.restrict, b.restrictSt}, {q.Filter, b.filterSt}} {
		if w.e == nil {
			continue
		}
		buf := sqlbuf.New()
		if err := w.e.AppendTo(sel, ctx, w.st, buf); err != nil {
			return nil, err
		}
		sel.Where(buf)
	}

	top := sel
	switch {
	case q.Distinct && b.aggregates() && sel.HasToManyJoins():
		// aggregate over the distinct rows, not over the joined ones
		top = sel.Wrap()
	case q.Distinct:
		sel.SetDistinct(true)
	case len(q.Projections) == 0 && sel.Parent() == nil && sel.HasToManyJoins():
		sel.SetDistinct(true)
	}

	for i, p := range b.projs {
		err := b.columns(top, p.Val, b.projSt[i], func(buf *sqlbuf.Buffer, n int) {
			if p.Alias != "" && n == 1 {
				buf.Append(" AS ").Append(p.Alias)
			}
			top.AddProjection(buf)
		})
		if err != nil {
			return nil, err
		}
	}
	for i, g := range q.Grouping {
		if err := b.columns(top, g, b.groupSt[i], func(buf *sqlbuf.Buffer, _ int) { top.AddGroup(buf) }); err != nil {
			return nil, err
		}
	}
	if q.Having != nil {
		buf := sqlbuf.New()
		if err := q.Having.AppendTo(top, ctx, b.havingSt, buf); err != nil {
			return nil, err
		}
		top.SetHaving(buf)
	}
	for i, o := range q.Ordering {
		asc := o.Asc
		if err := b.columns(top, o.Val, b.orderSt[i], func(buf *sqlbuf.Buffer, _ int) { top.AddOrder(buf, asc) }); err != nil {
			return nil, err
		}
	}

	offset, err := b.rangeValue(top, q.Offset, b.offsetSt)
	if err != nil {
		return nil, err
	}
	limit, err := b.rangeValue(top, q.Limit, b.limitSt)
	if err != nil {
		return nil, err
	}
	top.SetRange(offset, limit)
	return top, nil
}

// columns calculates v and hands each of its columns to emit along with
// the column count.
func (b *builder) columns(sel *sqlbuild.Select, v exps.Val, st exps.State, emit func(*sqlbuf.Buffer, int)) error {
	if err := v.Calculate(sel, b.ctx, st, nil, nil); err != nil {
		return err
	}
	n := v.Length(st)
	for i := 0; i < n; i++ {
		buf := sqlbuf.New()
		if err := v.AppendTo(sel, b.ctx, st, buf, i); err != nil {
			return err
		}
		emit(buf, n)
	}
	return nil
}

func (b *builder) rangeValue(sel *sqlbuild.Select, v exps.Val, st exps.State) (dialect.FilterValue, error) {
	if v == nil {
		return nil, nil
	}
	if err := v.Calculate(sel, b.ctx, st, nil, nil); err != nil {
		return nil, err
	}
	return exps.Operand(sel, b.ctx, v, st)
}

// RenderSubquery compiles q as a subselect of parent. Subqueries are
// compiled afresh on every render.
func (q *QueryExpressions) RenderSubquery(parent *sqlbuild.Select, ctx *exps.Context) (*sqlbuf.Buffer, error) {
	b, err := newBuilder(q, ctx)
	if err != nil {
		return nil, err
	}
	sel, err := b.newSelect(parent.Dict(), parent)
	if err != nil {
		return nil, err
	}
	if err := b.initialize(sel); err != nil {
		return nil, err
	}
	top, err := b.render(sel)
	if err != nil {
		return nil, err
	}
	return top.Statement()
}

var _ exps.Query = (*QueryExpressions)(nil)
