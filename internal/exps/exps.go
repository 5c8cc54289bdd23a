// Package exps is the expression tree a query is compiled from.
//
// Values (Val) and boolean expressions (Exp) are immutable once the factory
// has built them. Compiling a tree against a select happens in three steps
// that every node implements:
//
//  1. Initialize resolves paths to table aliases and returns a State
//     holding the joins the node requires. States are created fresh for
//     every compilation and never stored on the node, so one tree can be
//     compiled any number of times.
//  2. Calculate fixes runtime values. Each operand of a binary node is
//     calculated against the other operand (its comparison partner), which
//     lets literals and parameters convert to the partner's stored form.
//  3. AppendTo renders SQL into a buffer. Rendering a value whose state was
//     never calculated is an internal error.
//
// Exp nodes calculate their own operands inside AppendTo.
package exps

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

// Node is any tree node. The interface is sealed to this package.
type Node interface {
	describe(w *writer)
}

// Val is a value node.
type Val interface {
	Node

	// Type returns the static type; it needs no compilation context.
	Type() mapping.Type

	Initialize(sel *sqlbuild.Select, ctx *Context, flags Flags) (State, error)

	// Calculate fixes the value against its comparison partner. other and
	// otherState are nil when the value stands alone.
	Calculate(sel *sqlbuild.Select, ctx *Context, st State, other Val, otherState State) error

	// Length returns the number of scalar SQL columns the value expands to.
	Length(st State) int

	// AppendTo renders the index-th column.
	AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, index int) error
}

// Exp is a boolean expression node.
type Exp interface {
	Node

	Initialize(sel *sqlbuild.Select, ctx *Context, contains *Contains) (State, error)
	AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error
}

// Flags tune how a value initializes.
type Flags int

const (
	// JoinRel makes paths join into related tables and expand entities to
	// every column. Projections are initialized with it.
	JoinRel Flags = 1 << iota

	// NullTest marks a value compared with NULL. A path ending in an owning
	// relation then tests its foreign key columns instead of joining.
	NullTest

	// joinEntity makes a path join into the entity it ends at without
	// expanding it to every column.
	joinEntity
)

// State is the per-compilation scratch of one node.
type State interface {
	Joins() *sqlbuild.Joins
	base() *baseState
}

type baseState struct {
	joins      *sqlbuild.Joins
	calculated bool
}

func (s *baseState) Joins() *sqlbuild.Joins { return s.joins }
func (s *baseState) base() *baseState       { return s }

// stateOf asserts st to the state type node created.
func stateOf[T State](st State, construct string) (T, error) {
	var zero T
	if st == nil {
		return zero, qerr.Internal(qerr.CodeBadState, construct, "missing state")
	}
	s, ok := st.(T)
	if !ok {
		return zero, qerr.Internal(qerr.CodeBadState, construct, "unexpected state %T", st)
	}
	return s, nil
}

// calculatedState is stateOf that also requires Calculate to have run.
func calculatedState[T State](st State, construct string) (T, error) {
	s, err := stateOf[T](st, construct)
	if err != nil {
		return s, err
	}
	if !s.base().calculated {
		return s, qerr.Internal(qerr.CodeNotCalculated, construct, "value rendered before it was calculated")
	}
	return s, nil
}

// Context carries what a compilation reads and records besides the select:
// mapping metadata, parameter values, and facts the select constructor
// uses to decide what it may cache.
type Context struct {
	Repo   *mapping.Repository
	Params map[string]any
	Logger *slog.Logger

	varSelects     map[*Variable]*sqlbuild.Select
	valueDependent bool
	subqueries     bool

	// restricts holds the discriminator restrictions of TREAT steps not
	// yet claimed by an enclosing condition.
	restricts []*sqlbuf.Buffer
}

// NewContext returns a context for one compilation. A nil logger logs to
// slog.Default.
func NewContext(repo *mapping.Repository, params map[string]any, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	if params == nil {
		params = map[string]any{}
	}
	return &Context{
		Repo:       repo,
		Params:     params,
		Logger:     logger,
		varSelects: make(map[*Variable]*sqlbuild.Select),
	}
}

// Param returns the bound value of a parameter.
func (c *Context) Param(name string) (any, bool) {
	v, ok := c.Params[name]
	return v, ok
}

// MarkValueDependent records that the SQL text depends on parameter
// values, not only on their names.
func (c *Context) MarkValueDependent() { c.valueDependent = true }

// ValueDependent reports whether MarkValueDependent was called.
func (c *Context) ValueDependent() bool { return c.valueDependent }

// HasSubquery reports whether a subselect was rendered.
func (c *Context) HasSubquery() bool { return c.subqueries }

func (c *Context) markSubquery() { c.subqueries = true }

// bindVariable records the select a variable's binding joins live in.
func (c *Context) bindVariable(v *Variable, sel *sqlbuild.Select) {
	if _, ok := c.varSelects[v]; !ok {
		c.varSelects[v] = sel
	}
}

func (c *Context) variableSelect(v *Variable) *sqlbuild.Select {
	return c.varSelects[v]
}

// restrict records a condition the nearest enclosing condition must AND
// in. Repeats of a pending condition are dropped.
func (c *Context) restrict(buf *sqlbuf.Buffer) {
	key := conditionKey(buf)
	for _, r := range c.restricts {
		if conditionKey(r) == key {
			return
		}
	}
	c.restricts = append(c.restricts, buf)
}

// RestrictionMark returns a mark for TakeRestrictions.
func (c *Context) RestrictionMark() int { return len(c.restricts) }

// TakeRestrictions removes and returns the restrictions recorded since
// mark.
func (c *Context) TakeRestrictions(mark int) []*sqlbuf.Buffer {
	if mark >= len(c.restricts) {
		return nil
	}
	out := append([]*sqlbuf.Buffer(nil), c.restricts[mark:]...)
	c.restricts = c.restricts[:mark]
	return out
}

func conditionKey(buf *sqlbuf.Buffer) string {
	var sb strings.Builder
	sb.WriteString(buf.SQL())
	for _, slot := range buf.Slots() {
		fmt.Fprintf(&sb, "|%v", slot.Value)
	}
	return sb.String()
}

// restrictedState is the state of a condition whose paths raised
// restrictions; they render ANDed before it.
type restrictedState struct {
	State
	conds []*sqlbuf.Buffer
}

// InitializeCondition initializes e and claims the restrictions its
// paths raised, so they render with e wherever e sits in the tree.
func InitializeCondition(e Exp, sel *sqlbuild.Select, ctx *Context, contains *Contains) (State, error) {
	mark := ctx.RestrictionMark()
	st, err := e.Initialize(sel, ctx, contains)
	if err != nil {
		return nil, err
	}
	conds := ctx.TakeRestrictions(mark)
	if len(conds) == 0 {
		return st, nil
	}
	return &restrictedState{State: st, conds: conds}, nil
}

// AppendCondition renders a condition initialized by InitializeCondition.
// The result needs no parentheses where an AND operand would need none.
func AppendCondition(e Exp, sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	rs, ok := st.(*restrictedState)
	if !ok {
		return e.AppendTo(sel, ctx, st, buf)
	}
	for _, c := range rs.conds {
		buf.AppendBuffer(c).Append(" AND ")
	}
	return e.AppendTo(sel, ctx, rs.State, buf)
}

// Contains hands out contains-ids: one per occurrence of a collection path
// inside a contains test of the same conjunction, so each occurrence joins
// its own alias.
type Contains struct {
	counts map[string]int
}

// NewContains returns an empty contains-id map.
func NewContains() *Contains {
	return &Contains{counts: make(map[string]int)}
}

// next returns the alias key suffix for the next occurrence of path.
func (c *Contains) next(path string) string {
	n := c.counts[path]
	c.counts[path] = n + 1
	return "#" + strconv.Itoa(n)
}

func (c *Contains) clone() *Contains {
	out := NewContains()
	for k, v := range c.counts {
		out.counts[k] = v
	}
	return out
}

// merge raises every count to the largest seen in the branches.
func (c *Contains) merge(branches ...*Contains) {
	for _, b := range branches {
		for k, v := range b.counts {
			if v > c.counts[k] {
				c.counts[k] = v
			}
		}
	}
}

// Operand adapts a calculated value to the view dialect hooks consume.
func Operand(sel *sqlbuild.Select, ctx *Context, v Val, st State) (dialect.FilterValue, error) {
	if st == nil || !st.base().calculated {
		return nil, qerr.Internal(qerr.CodeNotCalculated, Describe(v), "operand used before it was calculated")
	}
	return operand{sel: sel, ctx: ctx, val: v, st: st}, nil
}

type operand struct {
	sel *sqlbuild.Select
	ctx *Context
	val Val
	st  State
}

func (o operand) AppendTo(buf *sqlbuf.Buffer, index int) error {
	return o.val.AppendTo(o.sel, o.ctx, o.st, buf, index)
}

func (o operand) Length() int { return o.val.Length(o.st) }

func (o operand) IsConstant() bool {
	switch o.val.(type) {
	case *Lit, *Param, *Null, *CollectionParam:
		return true
	}
	return false
}

func (o operand) IsNull() bool {
	switch v := o.val.(type) {
	case *Null:
		return true
	case *Lit:
		return v.Value == nil
	case *Param:
		if ps, ok := o.st.(*paramState); ok {
			return ps.null
		}
	}
	return false
}

func (o operand) Type() mapping.Type { return o.val.Type() }

// operands calculates a and b against each other and adapts both.
func operands(sel *sqlbuild.Select, ctx *Context, a Val, as State, b Val, bs State) (dialect.FilterValue, dialect.FilterValue, error) {
	if err := a.Calculate(sel, ctx, as, b, bs); err != nil {
		return nil, nil, err
	}
	if err := b.Calculate(sel, ctx, bs, a, as); err != nil {
		return nil, nil, err
	}
	fa, err := Operand(sel, ctx, a, as)
	if err != nil {
		return nil, nil, err
	}
	fb, err := Operand(sel, ctx, b, bs)
	if err != nil {
		return nil, nil, err
	}
	return fa, fb, nil
}

// single calculates v on its own and adapts it. A nil v yields nil.
func single(sel *sqlbuild.Select, ctx *Context, v Val, st State) (dialect.FilterValue, error) {
	if v == nil {
		return nil, nil
	}
	if err := v.Calculate(sel, ctx, st, nil, nil); err != nil {
		return nil, err
	}
	return Operand(sel, ctx, v, st)
}

// initVals initializes vs in order, skipping nil entries, and returns their
// states and merged joins.
func initVals(sel *sqlbuild.Select, ctx *Context, flags Flags, vs ...Val) ([]State, *sqlbuild.Joins, error) {
	states := make([]State, len(vs))
	var joins *sqlbuild.Joins
	for i, v := range vs {
		if v == nil {
			continue
		}
		st, err := v.Initialize(sel, ctx, flags)
		if err != nil {
			return nil, nil, err
		}
		states[i] = st
		joins = sqlbuild.And(joins, st.Joins())
	}
	return states, joins, nil
}
