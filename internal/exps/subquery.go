package exps

import (
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

// Query is a compiled-on-demand subquery. kernel.QueryExpressions implements it;
// RenderSubquery builds a child select of parent and returns its statement.
type Query interface {
	ResultType() mapping.Type
	RenderSubquery(parent *sqlbuild.Select, ctx *Context) (*sqlbuf.Buffer, error)
	String() string
}

// SubQuery is a nested query used as a value.
type SubQuery struct {
	Query Query
}

type subState struct {
	baseState
	stmt *sqlbuf.Buffer
}

func (s *SubQuery) Type() mapping.Type { return s.Query.ResultType() }

func (s *SubQuery) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	if err := sel.Dict().AssertSupport(sel.Dict().SupportsSubselect, "subselect"); err != nil {
		return nil, err
	}
	ctx.markSubquery()
	return &subState{}, nil
}

// Calculate renders the subquery. It runs once per state; the child select
// allocates aliases from the statement's generator.
func (s *SubQuery) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	ss, err := stateOf[*subState](st, "subquery")
	if err != nil {
		return err
	}
	if ss.stmt != nil {
		return nil
	}
	stmt, err := s.Query.RenderSubquery(sel, ctx)
	if err != nil {
		return err
	}
	ss.stmt = stmt
	ss.calculated = true
	return nil
}

func (s *SubQuery) Length(State) int { return 1 }

func (s *SubQuery) AppendTo(_ *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ss, err := calculatedState[*subState](st, "subquery")
	if err != nil {
		return err
	}
	buf.Append("(").AppendBuffer(ss.stmt).Append(")")
	return nil
}

// Quantified is ANY, SOME or ALL applied to a subquery, the right side of
// a comparison.
type Quantified struct {
	Op  string
	Sub *SubQuery
}

func (q *Quantified) Type() mapping.Type { return q.Sub.Type() }

func (q *Quantified) Initialize(sel *sqlbuild.Select, ctx *Context, flags Flags) (State, error) {
	return q.Sub.Initialize(sel, ctx, flags)
}

func (q *Quantified) Calculate(sel *sqlbuild.Select, ctx *Context, st State, other Val, otherState State) error {
	return q.Sub.Calculate(sel, ctx, st, other, otherState)
}

func (q *Quantified) Length(State) int { return 1 }

func (q *Quantified) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, index int) error {
	buf.Append(q.Op).Append(" ")
	return q.Sub.AppendTo(sel, ctx, st, buf, index)
}

// Size is the number of elements of a collection path, counted by a
// correlated subselect.
type Size struct {
	Path *Path
}

type sizeState struct {
	baseState
	stmt *sqlbuf.Buffer
}

func (s *Size) Type() mapping.Type { return mapping.Of(mapping.TypeLong) }

func (s *Size) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	if !s.Path.IsCollection() {
		return nil, qerr.User(qerr.CodeInvalidPath, "SIZE("+s.Path.String()+")", "SIZE requires a collection path")
	}
	d := sel.Dict()
	if err := d.AssertSupport(d.SupportsSubselect && d.SupportsCorrelatedSubselect, "SIZE"); err != nil {
		return nil, err
	}
	ctx.markSubquery()
	return &sizeState{}, nil
}

func (s *Size) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	ss, err := stateOf[*sizeState](st, "SIZE")
	if err != nil {
		return err
	}
	if ss.stmt != nil {
		return nil
	}
	child := sel.NewChild(nil, "")
	ps, err := s.Path.resolve(child, ctx, 0, "", nil)
	if err != nil {
		return err
	}
	child.AddJoins(ps.joins)
	child.AddProjection(sqlbuf.New("COUNT(*)"))
	stmt, err := child.Statement()
	if err != nil {
		return err
	}
	ss.stmt = stmt
	ss.calculated = true
	return nil
}

func (s *Size) Length(State) int { return 1 }

func (s *Size) AppendTo(_ *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ss, err := calculatedState[*sizeState](st, "SIZE")
	if err != nil {
		return err
	}
	buf.Append("(").AppendBuffer(ss.stmt).Append(")")
	return nil
}
