package exps

import (
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

// pairState is the state of an expression over two values.
type pairState struct {
	baseState
	l, r State
}

// nullOperand reports whether v is known to be NULL when the tree is
// initialized: the NULL literal, a nil literal or a parameter bound to nil.
func nullOperand(ctx *Context, v Val) bool {
	switch x := v.(type) {
	case *Null:
		return true
	case *Lit:
		return x.Value == nil
	case *Param:
		pv, ok := ctx.Param(x.Name)
		return ok && pv == nil
	}
	return false
}

// Compare is a binary comparison: = <> < <= > >=.
type Compare struct {
	Op          string
	Left, Right Val
}

func (c *Compare) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	var lf, rf Flags
	if nullOperand(ctx, c.Right) {
		lf |= NullTest
	}
	if nullOperand(ctx, c.Left) {
		rf |= NullTest
	}
	if c.Op == "=" || c.Op == "<>" {
		// a parameter bound to nil turns the comparison into IS [NOT] NULL
		_, lp := c.Left.(*Param)
		_, rp := c.Right.(*Param)
		if lp || rp {
			ctx.MarkValueDependent()
		}
	}
	ls, err := c.Left.Initialize(sel, ctx, lf)
	if err != nil {
		return nil, err
	}
	rs, err := c.Right.Initialize(sel, ctx, rf)
	if err != nil {
		return nil, err
	}
	return &pairState{baseState: baseState{joins: sqlbuild.And(ls.Joins(), rs.Joins())}, l: ls, r: rs}, nil
}

func (c *Compare) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ps, err := stateOf[*pairState](st, c.Op)
	if err != nil {
		return err
	}
	l, r, err := operands(sel, ctx, c.Left, ps.l, c.Right, ps.r)
	if err != nil {
		return err
	}
	return sel.Dict().Comparison(buf, c.Op, l, r)
}

// And is a conjunction. Contains tests on both sides share contains-ids.
type And struct {
	Left, Right Exp
}

func (a *And) Initialize(sel *sqlbuild.Select, ctx *Context, contains *Contains) (State, error) {
	ls, err := a.Left.Initialize(sel, ctx, contains)
	if err != nil {
		return nil, err
	}
	rs, err := a.Right.Initialize(sel, ctx, contains)
	if err != nil {
		return nil, err
	}
	return &pairState{baseState: baseState{joins: sqlbuild.And(ls.Joins(), rs.Joins())}, l: ls, r: rs}, nil
}

func (a *And) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ps, err := stateOf[*pairState](st, "AND")
	if err != nil {
		return err
	}
	if err := a.Left.AppendTo(sel, ctx, ps.l, buf); err != nil {
		return err
	}
	buf.Append(" AND ")
	return a.Right.AppendTo(sel, ctx, ps.r, buf)
}

// Or is a disjunction. Each branch draws contains-ids independently, and
// joins only one branch needs become conditional outer joins.
type Or struct {
	Left, Right Exp
}

func (o *Or) Initialize(sel *sqlbuild.Select, ctx *Context, contains *Contains) (State, error) {
	lc, rc := contains.clone(), contains.clone()
	ls, err := InitializeCondition(o.Left, sel, ctx, lc)
	if err != nil {
		return nil, err
	}
	rs, err := InitializeCondition(o.Right, sel, ctx, rc)
	if err != nil {
		return nil, err
	}
	contains.merge(lc, rc)
	return &pairState{baseState: baseState{joins: sqlbuild.Or(ls.Joins(), rs.Joins())}, l: ls, r: rs}, nil
}

func (o *Or) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ps, err := stateOf[*pairState](st, "OR")
	if err != nil {
		return err
	}
	buf.Append("(")
	if err := AppendCondition(o.Left, sel, ctx, ps.l, buf); err != nil {
		return err
	}
	sel.AppendConditionalJoins(buf, ps.l.Joins())
	buf.Append(" OR ")
	if err := AppendCondition(o.Right, sel, ctx, ps.r, buf); err != nil {
		return err
	}
	sel.AppendConditionalJoins(buf, ps.r.Joins())
	buf.Append(")")
	return nil
}

// Not negates an expression. Its joins become conditional outer joins.
type Not struct {
	Exp Exp
}

type notState struct {
	baseState
	inner State
}

func (n *Not) Initialize(sel *sqlbuild.Select, ctx *Context, contains *Contains) (State, error) {
	st, err := InitializeCondition(n.Exp, sel, ctx, contains.clone())
	if err != nil {
		return nil, err
	}
	return &notState{baseState: baseState{joins: sqlbuild.Outer(st.Joins())}, inner: st}, nil
}

func (n *Not) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ns, err := stateOf[*notState](st, "NOT")
	if err != nil {
		return err
	}
	buf.Append("NOT (")
	if err := AppendCondition(n.Exp, sel, ctx, ns.inner, buf); err != nil {
		return err
	}
	sel.AppendConditionalJoins(buf, ns.inner.Joins())
	buf.Append(")")
	return nil
}

// Matches is a LIKE test. Pattern uses % and _ wildcards; Escape, when set,
// is the character that makes the next wildcard literal.
type Matches struct {
	Val     Val
	Pattern Val
	Escape  string
	Not     bool
}

func (m *Matches) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	states, joins, err := initVals(sel, ctx, 0, m.Val, m.Pattern)
	if err != nil {
		return nil, err
	}
	return &pairState{baseState: baseState{joins: joins}, l: states[0], r: states[1]}, nil
}

func (m *Matches) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ps, err := stateOf[*pairState](st, "LIKE")
	if err != nil {
		return err
	}
	v, p, err := operands(sel, ctx, m.Val, ps.l, m.Pattern, ps.r)
	if err != nil {
		return err
	}
	if v.Length() != 1 {
		return qerr.User(qerr.CodeIncompatibleTypes, "LIKE", "LIKE requires a single-column value")
	}
	if err := v.AppendTo(buf, 0); err != nil {
		return err
	}
	if m.Not {
		buf.Append(" NOT")
	}
	buf.Append(" LIKE ")
	if err := p.AppendTo(buf, 0); err != nil {
		return err
	}
	if m.Escape != "" {
		buf.Append(" ESCAPE ").AppendValue(m.Escape)
	}
	return nil
}

// BoolValue uses a boolean value as a condition.
type BoolValue struct {
	Val Val
}

type valState struct {
	baseState
	val State
}

func (b *BoolValue) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	st, err := b.Val.Initialize(sel, ctx, 0)
	if err != nil {
		return nil, err
	}
	return &valState{baseState: baseState{joins: st.Joins()}, val: st}, nil
}

func (b *BoolValue) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	vs, err := stateOf[*valState](st, "boolean")
	if err != nil {
		return err
	}
	v, err := single(sel, ctx, b.Val, vs.val)
	if err != nil {
		return err
	}
	if err := v.AppendTo(buf, 0); err != nil {
		return err
	}
	buf.Append(" = ").Append(sel.Dict().BooleanTrue)
	return nil
}

// ConstExp is an always-true or always-false condition.
type ConstExp struct {
	Value bool
}

func (c *ConstExp) Initialize(*sqlbuild.Select, *Context, *Contains) (State, error) {
	return &baseState{}, nil
}

func (c *ConstExp) AppendTo(_ *sqlbuild.Select, _ *Context, _ State, buf *sqlbuf.Buffer) error {
	if c.Value {
		buf.Append("1 = 1")
	} else {
		buf.Append("1 <> 1")
	}
	return nil
}

// MemberOf tests that Elem is an element of the collection path Coll.
// Each occurrence of the same collection within a conjunction joins its own
// alias, so two membership tests on one collection can match different
// elements.
type MemberOf struct {
	Coll *Path
	Elem Val
}

func (c *MemberOf) Initialize(sel *sqlbuild.Select, ctx *Context, contains *Contains) (State, error) {
	id := contains.next(c.Coll.String())
	cs, err := c.Coll.resolve(sel, ctx, 0, id, nil)
	if err != nil {
		return nil, err
	}
	es, err := c.Elem.Initialize(sel, ctx, 0)
	if err != nil {
		return nil, err
	}
	return &pairState{baseState: baseState{joins: sqlbuild.And(cs.Joins(), es.Joins())}, l: cs, r: es}, nil
}

func (c *MemberOf) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ps, err := stateOf[*pairState](st, "MEMBER OF")
	if err != nil {
		return err
	}
	l, r, err := operands(sel, ctx, c.Coll, ps.l, c.Elem, ps.r)
	if err != nil {
		return err
	}
	return sel.Dict().Comparison(buf, "=", l, r)
}

// BindVariable binds Var to the elements of the collection path Coll. It
// contributes the collection joins and renders as a true condition.
type BindVariable struct {
	Var  *Variable
	Coll *Path
}

func (b *BindVariable) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	if b.Coll == nil {
		return &baseState{}, nil
	}
	ps, err := b.Coll.resolve(sel, ctx, 0, "", b.Var)
	if err != nil {
		return nil, err
	}
	ctx.bindVariable(b.Var, sel)
	return &baseState{joins: ps.joins}, nil
}

func (b *BindVariable) AppendTo(_ *sqlbuild.Select, _ *Context, _ State, buf *sqlbuf.Buffer) error {
	buf.Append("1 = 1")
	return nil
}

// BindVariableAnd is a conjunction whose left side binds a variable the
// right side uses. Only the right side renders.
type BindVariableAnd struct {
	Bind *BindVariable
	Exp  Exp
}

func (b *BindVariableAnd) Initialize(sel *sqlbuild.Select, ctx *Context, contains *Contains) (State, error) {
	bs, err := b.Bind.Initialize(sel, ctx, contains)
	if err != nil {
		return nil, err
	}
	es, err := b.Exp.Initialize(sel, ctx, contains)
	if err != nil {
		return nil, err
	}
	return &pairState{baseState: baseState{joins: sqlbuild.And(bs.Joins(), es.Joins())}, l: bs, r: es}, nil
}

func (b *BindVariableAnd) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ps, err := stateOf[*pairState](st, "AND")
	if err != nil {
		return err
	}
	return b.Exp.AppendTo(sel, ctx, ps.r, buf)
}

// NoneMatch is the negation of a membership test or of a conjunction
// binding a variable: no element of the collection satisfies Exp. It
// renders as a correlated count compared with zero, since negating the
// joined test would only exclude the matching rows.
type NoneMatch struct {
	Exp Exp
}

type childState struct {
	baseState
	child *sqlbuild.Select
	inner State
}

func (n *NoneMatch) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	if err := sel.Dict().AssertSupport(sel.Dict().SupportsCorrelatedSubselect, "correlated subselect"); err != nil {
		return nil, err
	}
	ctx.markSubquery()
	child := sel.NewChild(nil, "")
	st, err := InitializeCondition(n.Exp, child, ctx, NewContains())
	if err != nil {
		return nil, err
	}
	child.AddJoins(st.Joins())
	child.AddProjection(sqlbuf.New("COUNT(*)"))
	return &childState{child: child, inner: st}, nil
}

// AppendTo renders into a copy of the child select, so a state renders
// the same way every time.
func (n *NoneMatch) AppendTo(_ *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	cs, err := stateOf[*childState](st, "NOT MEMBER OF")
	if err != nil {
		return err
	}
	child := cs.child.Clone()
	cond := sqlbuf.New()
	if err := AppendCondition(n.Exp, child, ctx, cs.inner, cond); err != nil {
		return err
	}
	child.Where(cond)
	stmt, err := child.Statement()
	if err != nil {
		return err
	}
	buf.Append("0 = (").AppendBuffer(stmt).Append(")")
	return nil
}

// In tests Val against a list: Values, or the elements bound to the
// collection parameter Param. An empty list is never matched.
type In struct {
	Val    Val
	Values []Val
	Param  *CollectionParam
	Not    bool
}

type inState struct {
	baseState
	val    State
	values []State
}

func (x *In) list() []Val {
	if x.Param != nil {
		return []Val{x.Param}
	}
	return x.Values
}

func (x *In) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	vs, err := x.Val.Initialize(sel, ctx, 0)
	if err != nil {
		return nil, err
	}
	states, joins, err := initVals(sel, ctx, 0, x.list()...)
	if err != nil {
		return nil, err
	}
	return &inState{baseState: baseState{joins: sqlbuild.And(vs.Joins(), joins)}, val: vs, values: states}, nil
}

func (x *In) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	is, err := stateOf[*inState](st, "IN")
	if err != nil {
		return err
	}
	if err := x.Val.Calculate(sel, ctx, is.val, nil, nil); err != nil {
		return err
	}
	list := x.list()
	for i, v := range list {
		if err := v.Calculate(sel, ctx, is.values[i], x.Val, is.val); err != nil {
			return err
		}
	}
	val, err := Operand(sel, ctx, x.Val, is.val)
	if err != nil {
		return err
	}

	count := len(list)
	if x.Param != nil {
		count = x.Param.Length(is.values[0])
	}
	if count == 0 {
		if x.Not {
			buf.Append("1 = 1")
		} else {
			buf.Append("1 = 0")
		}
		return nil
	}

	if val.Length() > 1 {
		if x.Param != nil {
			return qerr.User(qerr.CodeInvalidQuery, "IN", "a collection parameter cannot match a %d-column value", val.Length())
		}
		if x.Not {
			buf.Append("NOT ")
		}
		buf.Append("(")
		for i, v := range list {
			if i > 0 {
				buf.Append(" OR ")
			}
			op, err := Operand(sel, ctx, v, is.values[i])
			if err != nil {
				return err
			}
			if err := sel.Dict().Comparison(buf, "=", val, op); err != nil {
				return err
			}
		}
		buf.Append(")")
		return nil
	}

	if err := val.AppendTo(buf, 0); err != nil {
		return err
	}
	if x.Not {
		buf.Append(" NOT")
	}
	buf.Append(" IN (")
	for i := 0; i < count; i++ {
		if i > 0 {
			buf.Append(", ")
		}
		if x.Param != nil {
			err = x.Param.AppendTo(sel, ctx, is.values[0], buf, i)
		} else {
			err = list[i].AppendTo(sel, ctx, is.values[i], buf, 0)
		}
		if err != nil {
			return err
		}
	}
	buf.Append(")")
	return nil
}

// InSubQ tests Val against the rows of a subquery.
type InSubQ struct {
	Val Val
	Sub *SubQuery
	Not bool
}

func (x *InSubQ) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	states, joins, err := initVals(sel, ctx, 0, x.Val, x.Sub)
	if err != nil {
		return nil, err
	}
	return &pairState{baseState: baseState{joins: joins}, l: states[0], r: states[1]}, nil
}

func (x *InSubQ) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	ps, err := stateOf[*pairState](st, "IN")
	if err != nil {
		return err
	}
	v, sub, err := operands(sel, ctx, x.Val, ps.l, x.Sub, ps.r)
	if err != nil {
		return err
	}
	if v.Length() != 1 {
		return qerr.User(qerr.CodeInvalidQuery, "IN", "IN (subquery) requires a single-column value")
	}
	if err := v.AppendTo(buf, 0); err != nil {
		return err
	}
	if x.Not {
		buf.Append(" NOT")
	}
	buf.Append(" IN ")
	return sub.AppendTo(buf, 0)
}

// IsEmpty tests whether a collection path has no elements.
type IsEmpty struct {
	Coll *Path
	Not  bool
}

func (e *IsEmpty) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	if !e.Coll.IsCollection() {
		return nil, qerr.User(qerr.CodeInvalidPath, e.Coll.String()+" IS EMPTY", "IS EMPTY requires a collection path")
	}
	if err := sel.Dict().AssertSupport(sel.Dict().SupportsCorrelatedSubselect, "IS EMPTY"); err != nil {
		return nil, err
	}
	ctx.markSubquery()
	child := sel.NewChild(nil, "")
	ps, err := e.Coll.resolve(child, ctx, 0, "", nil)
	if err != nil {
		return nil, err
	}
	child.AddJoins(ps.joins)
	child.AddProjection(sqlbuf.New("1"))
	return &childState{child: child, inner: ps}, nil
}

func (e *IsEmpty) AppendTo(_ *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer) error {
	cs, err := stateOf[*childState](st, "IS EMPTY")
	if err != nil {
		return err
	}
	stmt, err := cs.child.Statement()
	if err != nil {
		return err
	}
	if !e.Not {
		buf.Append("NOT ")
	}
	buf.Append("EXISTS (").AppendBuffer(stmt).Append(")")
	return nil
}

// Exists tests whether a subquery returns any row.
type Exists struct {
	Sub *SubQuery
	Not bool
}

func (e *Exists) Initialize(sel *sqlbuild.Select, ctx *Context, _ *Contains) (State, error) {
	st, err := e.Sub.Initialize(sel, ctx, 0)
	if err != nil {
		return nil, err
	}
	return &valState{val: st}, nil
}

func (e *Exists) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer) error {
	vs, err := stateOf[*valState](st, "EXISTS")
	if err != nil {
		return err
	}
	sub, err := single(sel, ctx, e.Sub, vs.val)
	if err != nil {
		return err
	}
	if e.Not {
		buf.Append("NOT ")
	}
	buf.Append("EXISTS ")
	return sub.AppendTo(buf, 0)
}
