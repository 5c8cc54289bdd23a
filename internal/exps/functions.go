package exps

import (
	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

// argsState is the state of a node over a fixed list of operands. Entries
// for absent optional operands are nil.
type argsState struct {
	baseState
	args []State
}

func initArgs(sel *sqlbuild.Select, ctx *Context, vs ...Val) (*argsState, error) {
	states, joins, err := initVals(sel, ctx, 0, vs...)
	if err != nil {
		return nil, err
	}
	return &argsState{baseState: baseState{joins: joins}, args: states}, nil
}

// calculateEach calculates every operand on its own.
func calculateEach(sel *sqlbuild.Select, ctx *Context, st State, construct string, vs ...Val) error {
	as, err := stateOf[*argsState](st, construct)
	if err != nil {
		return err
	}
	for i, v := range vs {
		if v == nil {
			continue
		}
		if err := v.Calculate(sel, ctx, as.args[i], nil, nil); err != nil {
			return err
		}
	}
	as.calculated = true
	return nil
}

// calculatePair calculates a and b against each other.
func calculatePair(sel *sqlbuild.Select, ctx *Context, st State, construct string, a, b Val) error {
	as, err := stateOf[*argsState](st, construct)
	if err != nil {
		return err
	}
	if err := a.Calculate(sel, ctx, as.args[0], b, as.args[1]); err != nil {
		return err
	}
	if err := b.Calculate(sel, ctx, as.args[1], a, as.args[0]); err != nil {
		return err
	}
	as.calculated = true
	return nil
}

// argOperands adapts the calculated operands of a node; absent operands
// stay nil.
func argOperands(sel *sqlbuild.Select, ctx *Context, st State, construct string, vs ...Val) ([]dialect.FilterValue, error) {
	as, err := calculatedState[*argsState](st, construct)
	if err != nil {
		return nil, err
	}
	out := make([]dialect.FilterValue, len(vs))
	for i, v := range vs {
		if v == nil {
			continue
		}
		fv, err := Operand(sel, ctx, v, as.args[i])
		if err != nil {
			return nil, err
		}
		out[i] = fv
	}
	return out, nil
}

// Math is an arithmetic operation: + - * / or MOD.
type Math struct {
	Op          string
	Left, Right Val
}

func (m *Math) Type() mapping.Type {
	code := mapping.Promote(m.Left.Type().Code, m.Right.Type().Code)
	if m.Op == "/" && code != mapping.TypeUnknown && !code.IsNumeric() {
		code = mapping.TypeDouble
	}
	return mapping.Of(code)
}

func (m *Math) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, m.Left, m.Right)
}

func (m *Math) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculatePair(sel, ctx, st, m.Op, m.Left, m.Right)
}

func (m *Math) Length(State) int { return 1 }

func (m *Math) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, m.Op, m.Left, m.Right)
	if err != nil {
		return err
	}
	return sel.Dict().MathFunction(buf, m.Op, ops[0], ops[1])
}

// Func is a one-argument function: abs, sqrt, lower, upper or length.
type Func struct {
	Name string
	Arg  Val
}

func (f *Func) Type() mapping.Type {
	switch f.Name {
	case "sqrt":
		return mapping.Of(mapping.TypeDouble)
	case "lower", "upper":
		return mapping.Of(mapping.TypeString)
	case "length":
		return mapping.Of(mapping.TypeInt)
	}
	return f.Arg.Type()
}

func (f *Func) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, f.Arg)
}

func (f *Func) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculateEach(sel, ctx, st, f.Name, f.Arg)
}

func (f *Func) Length(State) int { return 1 }

func (f *Func) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, f.Name, f.Arg)
	if err != nil {
		return err
	}
	return sel.Dict().Function(buf, f.Name, ops[0])
}

// Concat joins two strings.
type Concat struct {
	Left, Right Val
}

func (c *Concat) Type() mapping.Type { return mapping.Of(mapping.TypeString) }

func (c *Concat) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, c.Left, c.Right)
}

func (c *Concat) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculateEach(sel, ctx, st, "CONCAT", c.Left, c.Right)
}

func (c *Concat) Length(State) int { return 1 }

func (c *Concat) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "CONCAT", c.Left, c.Right)
	if err != nil {
		return err
	}
	return sel.Dict().Concat(buf, ops[0], ops[1])
}

// Substring is SUBSTRING(Str, Start[, Length]) with a 1-based start.
type Substring struct {
	Str, Start, Len Val
}

func (s *Substring) Type() mapping.Type { return mapping.Of(mapping.TypeString) }

func (s *Substring) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, s.Str, s.Start, s.Len)
}

func (s *Substring) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculateEach(sel, ctx, st, "SUBSTRING", s.Str, s.Start, s.Len)
}

func (s *Substring) Length(State) int { return 1 }

func (s *Substring) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "SUBSTRING", s.Str, s.Start, s.Len)
	if err != nil {
		return err
	}
	return sel.Dict().Substring(buf, ops[0], ops[1], ops[2])
}

// IndexOf is the 1-based position of Find in Str, searching from Start
// when it is set; 0 when absent.
type IndexOf struct {
	Str, Find, Start Val
}

func (x *IndexOf) Type() mapping.Type { return mapping.Of(mapping.TypeInt) }

func (x *IndexOf) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, x.Str, x.Find, x.Start)
}

func (x *IndexOf) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculateEach(sel, ctx, st, "LOCATE", x.Str, x.Find, x.Start)
}

func (x *IndexOf) Length(State) int { return 1 }

func (x *IndexOf) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "LOCATE", x.Str, x.Find, x.Start)
	if err != nil {
		return err
	}
	return sel.Dict().IndexOf(buf, ops[0], ops[1], ops[2])
}

// Trim removes Char, or blanks when Char is nil, from one or both ends.
type Trim struct {
	Spec dialect.TrimSpec
	Str  Val
	Char Val
}

func (t *Trim) Type() mapping.Type { return mapping.Of(mapping.TypeString) }

func (t *Trim) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, t.Str, t.Char)
}

func (t *Trim) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculateEach(sel, ctx, st, "TRIM", t.Str, t.Char)
}

func (t *Trim) Length(State) int { return 1 }

func (t *Trim) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "TRIM", t.Str, t.Char)
	if err != nil {
		return err
	}
	return sel.Dict().Trim(buf, t.Spec, ops[0], ops[1])
}

// Cast converts a value to another scalar type.
type Cast struct {
	Val Val
	To  mapping.TypeCode
}

func (c *Cast) Type() mapping.Type { return mapping.Of(c.To) }

func (c *Cast) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, c.Val)
}

func (c *Cast) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculateEach(sel, ctx, st, "CAST", c.Val)
}

func (c *Cast) Length(State) int { return 1 }

func (c *Cast) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "CAST", c.Val)
	if err != nil {
		return err
	}
	return sel.Dict().Cast(buf, ops[0], c.To)
}

// CurrentTemporal is CURRENT_DATE, CURRENT_TIME or CURRENT_TIMESTAMP.
type CurrentTemporal struct {
	Code mapping.TypeCode
}

func (c *CurrentTemporal) Type() mapping.Type { return mapping.Of(c.Code) }

func (c *CurrentTemporal) Initialize(*sqlbuild.Select, *Context, Flags) (State, error) {
	return &baseState{}, nil
}

func (c *CurrentTemporal) Calculate(_ *sqlbuild.Select, _ *Context, st State, _ Val, _ State) error {
	bs, err := stateOf[*baseState](st, c.Code.String())
	if err != nil {
		return err
	}
	bs.calculated = true
	return nil
}

func (c *CurrentTemporal) Length(State) int { return 1 }

func (c *CurrentTemporal) AppendTo(sel *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	if _, err := calculatedState[*baseState](st, c.Code.String()); err != nil {
		return err
	}
	return sel.Dict().CurrentTemporal(buf, c.Code)
}

// Aggregate is COUNT, SUM, AVG, MIN or MAX, optionally over distinct
// values. A nil Arg counts rows.
type Aggregate struct {
	Op       string
	Arg      Val
	Distinct bool
}

func (a *Aggregate) Type() mapping.Type {
	switch a.Op {
	case "COUNT":
		return mapping.Of(mapping.TypeLong)
	case "AVG":
		return mapping.Of(mapping.TypeDouble)
	case "SUM":
		code := a.Arg.Type().Code
		if code == mapping.TypeInt {
			code = mapping.TypeLong
		}
		return mapping.Of(code)
	}
	return a.Arg.Type()
}

func (a *Aggregate) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, a.Arg)
}

func (a *Aggregate) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculateEach(sel, ctx, st, a.Op, a.Arg)
}

func (a *Aggregate) Length(State) int { return 1 }

func (a *Aggregate) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, a.Op, a.Arg)
	if err != nil {
		return err
	}
	buf.Append(a.Op).Append("(")
	if a.Distinct {
		buf.Append("DISTINCT ")
	}
	switch {
	case a.Arg == nil:
		buf.Append("*")
	case ops[0].Length() > 1 && (a.Op != "COUNT" || a.Distinct):
		return qerr.User(qerr.CodeInvalidQuery, a.Op, "%s cannot aggregate a %d-column value", a.Op, ops[0].Length())
	default:
		if err := ops[0].AppendTo(buf, 0); err != nil {
			return err
		}
	}
	buf.Append(")")
	return nil
}

// When is one WHEN ... THEN arm of a general CASE.
type When struct {
	Cond   Exp
	Result Val
}

// Case is CASE WHEN c THEN r ... [ELSE e] END.
type Case struct {
	Whens []When
	Else  Val
}

type caseState struct {
	baseState
	conds   []State
	results []State
	els     State
}

func (c *Case) Type() mapping.Type {
	for _, w := range c.Whens {
		if t := w.Result.Type(); !t.IsUnknown() && t.Code != mapping.TypeNull {
			return t
		}
	}
	if c.Else != nil {
		return c.Else.Type()
	}
	return mapping.Of(mapping.TypeUnknown)
}

func (c *Case) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	cs := &caseState{}
	for _, w := range c.Whens {
		st, err := InitializeCondition(w.Cond, sel, ctx, NewContains())
		if err != nil {
			return nil, err
		}
		cs.conds = append(cs.conds, st)
		cs.joins = sqlbuild.And(cs.joins, st.Joins())
	}
	results := make([]Val, 0, len(c.Whens)+1)
	for _, w := range c.Whens {
		results = append(results, w.Result)
	}
	results = append(results, c.Else)
	states, joins, err := initVals(sel, ctx, 0, results...)
	if err != nil {
		return nil, err
	}
	cs.results = states[:len(c.Whens)]
	cs.els = states[len(c.Whens)]
	cs.joins = sqlbuild.And(cs.joins, joins)
	return cs, nil
}

func (c *Case) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	cs, err := stateOf[*caseState](st, "CASE")
	if err != nil {
		return err
	}
	for i, w := range c.Whens {
		if err := w.Result.Calculate(sel, ctx, cs.results[i], nil, nil); err != nil {
			return err
		}
	}
	if c.Else != nil {
		if err := c.Else.Calculate(sel, ctx, cs.els, nil, nil); err != nil {
			return err
		}
	}
	cs.calculated = true
	return nil
}

func (c *Case) Length(State) int { return 1 }

func (c *Case) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	cs, err := calculatedState[*caseState](st, "CASE")
	if err != nil {
		return err
	}
	buf.Append("CASE")
	for i, w := range c.Whens {
		buf.Append(" WHEN ")
		if err := AppendCondition(w.Cond, sel, ctx, cs.conds[i], buf); err != nil {
			return err
		}
		buf.Append(" THEN ")
		if err := w.Result.AppendTo(sel, ctx, cs.results[i], buf, 0); err != nil {
			return err
		}
	}
	if c.Else != nil {
		buf.Append(" ELSE ")
		if err := c.Else.AppendTo(sel, ctx, cs.els, buf, 0); err != nil {
			return err
		}
	}
	buf.Append(" END")
	return nil
}

// SimpleWhen is one WHEN value THEN result arm of a simple CASE.
type SimpleWhen struct {
	Value  Val
	Result Val
}

// SimpleCase is CASE operand WHEN v THEN r ... [ELSE e] END.
type SimpleCase struct {
	Operand Val
	Whens   []SimpleWhen
	Else    Val
}

func (c *SimpleCase) vals() []Val {
	vs := []Val{c.Operand}
	for _, w := range c.Whens {
		vs = append(vs, w.Value, w.Result)
	}
	return append(vs, c.Else)
}

func (c *SimpleCase) Type() mapping.Type {
	for _, w := range c.Whens {
		if t := w.Result.Type(); !t.IsUnknown() && t.Code != mapping.TypeNull {
			return t
		}
	}
	if c.Else != nil {
		return c.Else.Type()
	}
	return mapping.Of(mapping.TypeUnknown)
}

func (c *SimpleCase) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, c.vals()...)
}

func (c *SimpleCase) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	as, err := stateOf[*argsState](st, "CASE")
	if err != nil {
		return err
	}
	if err := c.Operand.Calculate(sel, ctx, as.args[0], nil, nil); err != nil {
		return err
	}
	for i, w := range c.Whens {
		if err := w.Value.Calculate(sel, ctx, as.args[1+2*i], c.Operand, as.args[0]); err != nil {
			return err
		}
		if err := w.Result.Calculate(sel, ctx, as.args[2+2*i], nil, nil); err != nil {
			return err
		}
	}
	if c.Else != nil {
		if err := c.Else.Calculate(sel, ctx, as.args[len(as.args)-1], nil, nil); err != nil {
			return err
		}
	}
	as.calculated = true
	return nil
}

func (c *SimpleCase) Length(State) int { return 1 }

func (c *SimpleCase) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "CASE", c.vals()...)
	if err != nil {
		return err
	}
	buf.Append("CASE ")
	if err := ops[0].AppendTo(buf, 0); err != nil {
		return err
	}
	for i := range c.Whens {
		buf.Append(" WHEN ")
		if err := ops[1+2*i].AppendTo(buf, 0); err != nil {
			return err
		}
		buf.Append(" THEN ")
		if err := ops[2+2*i].AppendTo(buf, 0); err != nil {
			return err
		}
	}
	if e := ops[len(ops)-1]; e != nil {
		buf.Append(" ELSE ")
		if err := e.AppendTo(buf, 0); err != nil {
			return err
		}
	}
	buf.Append(" END")
	return nil
}

// Coalesce is the first non-null of Vals.
type Coalesce struct {
	Vals []Val
}

func (c *Coalesce) Type() mapping.Type {
	for _, v := range c.Vals {
		if t := v.Type(); !t.IsUnknown() && t.Code != mapping.TypeNull {
			return t
		}
	}
	return mapping.Of(mapping.TypeUnknown)
}

func (c *Coalesce) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, c.Vals...)
}

func (c *Coalesce) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	as, err := stateOf[*argsState](st, "COALESCE")
	if err != nil {
		return err
	}
	// constants convert against the first operand
	for i, v := range c.Vals {
		var partner Val
		var partnerState State
		if i > 0 {
			partner, partnerState = c.Vals[0], as.args[0]
		}
		if err := v.Calculate(sel, ctx, as.args[i], partner, partnerState); err != nil {
			return err
		}
	}
	as.calculated = true
	return nil
}

func (c *Coalesce) Length(State) int { return 1 }

func (c *Coalesce) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "COALESCE", c.Vals...)
	if err != nil {
		return err
	}
	buf.Append("COALESCE(")
	for i, op := range ops {
		if i > 0 {
			buf.Append(", ")
		}
		if err := op.AppendTo(buf, 0); err != nil {
			return err
		}
	}
	buf.Append(")")
	return nil
}

// NullIf is NULLIF(Left, Right).
type NullIf struct {
	Left, Right Val
}

func (n *NullIf) Type() mapping.Type { return n.Left.Type() }

func (n *NullIf) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	return initArgs(sel, ctx, n.Left, n.Right)
}

func (n *NullIf) Calculate(sel *sqlbuild.Select, ctx *Context, st State, _ Val, _ State) error {
	return calculatePair(sel, ctx, st, "NULLIF", n.Left, n.Right)
}

func (n *NullIf) Length(State) int { return 1 }

func (n *NullIf) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ops, err := argOperands(sel, ctx, st, "NULLIF", n.Left, n.Right)
	if err != nil {
		return err
	}
	buf.Append("NULLIF(")
	if err := ops[0].AppendTo(buf, 0); err != nil {
		return err
	}
	buf.Append(", ")
	if err := ops[1].AppendTo(buf, 0); err != nil {
		return err
	}
	buf.Append(")")
	return nil
}
