package exps

import (
	"fmt"
	"strings"
	"time"
)

// writer accumulates the source form of a tree.
type writer struct {
	sb strings.Builder
}

func (w *writer) str(parts ...string) *writer {
	for _, p := range parts {
		w.sb.WriteString(p)
	}
	return w
}

func (w *writer) node(n Node) *writer {
	if n == nil {
		return w.str("NULL")
	}
	n.describe(w)
	return w
}

func (w *writer) call(name string, args ...Node) *writer {
	w.str(name, "(")
	first := true
	for _, a := range args {
		if a == nil {
			continue
		}
		if !first {
			w.str(", ")
		}
		first = false
		w.node(a)
	}
	return w.str(")")
}

// Describe returns the source form of a node: JPQL-like text that names
// every path, parameter and literal. Two trees with the same description
// compile to the same SQL.
func Describe(n Node) string {
	var w writer
	w.node(n)
	return w.sb.String()
}

func (l *Lit) describe(w *writer) {
	switch v := l.Value.(type) {
	case nil:
		w.str("NULL")
	case string:
		w.str("'", strings.ReplaceAll(v, "'", "''"), "'")
	case bool:
		if v {
			w.str("TRUE")
		} else {
			w.str("FALSE")
		}
	case time.Time:
		w.str("{ts '", v.UTC().Format(time.RFC3339Nano), "'}")
	default:
		w.str(fmt.Sprintf("%v", v))
	}
}

func (p *Param) describe(w *writer)           { w.str(":", p.Name) }
func (*Null) describe(w *writer)              { w.str("NULL") }
func (p *CollectionParam) describe(w *writer) { w.str(":", p.Name, "[]") }
func (p *Path) describe(w *writer)            { w.str(p.String()) }
func (v *Variable) describe(w *writer)        { w.str(v.Name) }
func (t *TypeVal) describe(w *writer)         { w.call("TYPE", t.Path) }
func (o *ObjectID) describe(w *writer)        { w.call("ID", o.Path) }

func (m *Math) describe(w *writer) {
	if m.Op == "MOD" {
		w.call("MOD", m.Left, m.Right)
		return
	}
	w.str("(").node(m.Left).str(" ", m.Op, " ").node(m.Right).str(")")
}

func (f *Func) describe(w *writer)   { w.call(strings.ToUpper(f.Name), f.Arg) }
func (c *Concat) describe(w *writer) { w.call("CONCAT", c.Left, c.Right) }

func (s *Substring) describe(w *writer) {
	if s.Len == nil {
		w.call("SUBSTRING", s.Str, s.Start)
		return
	}
	w.call("SUBSTRING", s.Str, s.Start, s.Len)
}

func (x *IndexOf) describe(w *writer) {
	if x.Start == nil {
		w.call("LOCATE", x.Find, x.Str)
		return
	}
	w.call("LOCATE", x.Find, x.Str, x.Start)
}

func (t *Trim) describe(w *writer) {
	w.str("TRIM(", strings.ToUpper(t.Spec.String()), " ")
	if t.Char != nil {
		w.node(t.Char).str(" ")
	}
	w.str("FROM ").node(t.Str).str(")")
}

func (c *Cast) describe(w *writer) {
	w.str("CAST(").node(c.Val).str(" AS ", c.To.String(), ")")
}

func (c *CurrentTemporal) describe(w *writer) {
	w.str("CURRENT_", strings.ToUpper(c.Code.String()))
}

func (a *Aggregate) describe(w *writer) {
	w.str(a.Op, "(")
	if a.Distinct {
		w.str("DISTINCT ")
	}
	if a.Arg == nil {
		w.str("*")
	} else {
		w.node(a.Arg)
	}
	w.str(")")
}

func (c *Case) describe(w *writer) {
	w.str("CASE")
	for _, wh := range c.Whens {
		w.str(" WHEN ").node(wh.Cond).str(" THEN ").node(wh.Result)
	}
	if c.Else != nil {
		w.str(" ELSE ").node(c.Else)
	}
	w.str(" END")
}

func (c *SimpleCase) describe(w *writer) {
	w.str("CASE ").node(c.Operand)
	for _, wh := range c.Whens {
		w.str(" WHEN ").node(wh.Value).str(" THEN ").node(wh.Result)
	}
	if c.Else != nil {
		w.str(" ELSE ").node(c.Else)
	}
	w.str(" END")
}

func (c *Coalesce) describe(w *writer) {
	args := make([]Node, len(c.Vals))
	for i, v := range c.Vals {
		args[i] = v
	}
	w.call("COALESCE", args...)
}

func (n *NullIf) describe(w *writer)     { w.call("NULLIF", n.Left, n.Right) }
func (s *SubQuery) describe(w *writer)   { w.str("(", s.Query.String(), ")") }
func (q *Quantified) describe(w *writer) { w.str(q.Op, " ").node(q.Sub) }
func (s *Size) describe(w *writer)       { w.call("SIZE", s.Path) }

func (c *Compare) describe(w *writer) {
	w.node(c.Left).str(" ", c.Op, " ").node(c.Right)
}

func (a *And) describe(w *writer) { w.node(a.Left).str(" AND ").node(a.Right) }
func (o *Or) describe(w *writer)  { w.str("(").node(o.Left).str(" OR ").node(o.Right).str(")") }
func (n *Not) describe(w *writer) { w.str("NOT (").node(n.Exp).str(")") }

func (m *Matches) describe(w *writer) {
	w.node(m.Val)
	if m.Not {
		w.str(" NOT")
	}
	w.str(" LIKE ").node(m.Pattern)
	if m.Escape != "" {
		w.str(" ESCAPE '", m.Escape, "'")
	}
}

func (b *BoolValue) describe(w *writer) { w.node(b.Val) }

func (c *ConstExp) describe(w *writer) {
	if c.Value {
		w.str("TRUE")
	} else {
		w.str("FALSE")
	}
}

func (m *MemberOf) describe(w *writer) {
	w.node(m.Elem).str(" MEMBER OF ").node(m.Coll)
}

func (b *BindVariable) describe(w *writer) {
	if b.Coll == nil {
		w.str("IN(").node(b.Var.Values).str(") ", b.Var.Name)
		return
	}
	w.str("IN(").node(b.Coll).str(") ", b.Var.Name)
}

func (b *BindVariableAnd) describe(w *writer) {
	w.node(b.Bind).str(" AND ").node(b.Exp)
}

func (n *NoneMatch) describe(w *writer) { w.str("NOT (").node(n.Exp).str(")") }

func (x *In) describe(w *writer) {
	w.node(x.Val)
	if x.Not {
		w.str(" NOT")
	}
	if x.Param != nil {
		w.str(" IN ").node(x.Param)
		return
	}
	w.str(" IN (")
	for i, v := range x.Values {
		if i > 0 {
			w.str(", ")
		}
		w.node(v)
	}
	w.str(")")
}

func (x *InSubQ) describe(w *writer) {
	w.node(x.Val)
	if x.Not {
		w.str(" NOT")
	}
	w.str(" IN ").node(x.Sub)
}

func (e *IsEmpty) describe(w *writer) {
	w.node(e.Coll)
	if e.Not {
		w.str(" IS NOT EMPTY")
	} else {
		w.str(" IS EMPTY")
	}
}

func (e *Exists) describe(w *writer) {
	if e.Not {
		w.str("NOT ")
	}
	w.str("EXISTS ").node(e.Sub)
}

// Children returns the direct operands of n. Subqueries are leaves; their
// trees belong to their own query.
func Children(n Node) []Node {
	var out []Node
	add := func(ns ...Node) {
		for _, c := range ns {
			if c != nil {
				out = append(out, c)
			}
		}
	}
	switch x := n.(type) {
	case *TypeVal:
		add(x.Path)
	case *ObjectID:
		add(x.Path)
	case *Size:
		add(x.Path)
	case *Math:
		add(x.Left, x.Right)
	case *Func:
		add(x.Arg)
	case *Concat:
		add(x.Left, x.Right)
	case *Substring:
		add(x.Str, x.Start)
		if x.Len != nil {
			add(x.Len)
		}
	case *IndexOf:
		add(x.Str, x.Find)
		if x.Start != nil {
			add(x.Start)
		}
	case *Trim:
		add(x.Str)
		if x.Char != nil {
			add(x.Char)
		}
	case *Cast:
		add(x.Val)
	case *Aggregate:
		if x.Arg != nil {
			add(x.Arg)
		}
	case *Case:
		for _, wh := range x.Whens {
			add(wh.Cond, wh.Result)
		}
		if x.Else != nil {
			add(x.Else)
		}
	case *SimpleCase:
		add(x.Operand)
		for _, wh := range x.Whens {
			add(wh.Value, wh.Result)
		}
		if x.Else != nil {
			add(x.Else)
		}
	case *Coalesce:
		for _, v := range x.Vals {
			add(v)
		}
	case *NullIf:
		add(x.Left, x.Right)
	case *Quantified:
		add(x.Sub)
	case *Compare:
		add(x.Left, x.Right)
	case *And:
		add(x.Left, x.Right)
	case *Or:
		add(x.Left, x.Right)
	case *Not:
		add(x.Exp)
	case *Matches:
		add(x.Val, x.Pattern)
	case *BoolValue:
		add(x.Val)
	case *MemberOf:
		add(x.Coll, x.Elem)
	case *BindVariable:
		if x.Coll != nil {
			add(x.Coll)
		}
	case *BindVariableAnd:
		add(x.Bind, x.Exp)
	case *NoneMatch:
		add(x.Exp)
	case *In:
		add(x.Val)
		for _, v := range x.Values {
			add(v)
		}
		if x.Param != nil {
			add(x.Param)
		}
	case *InSubQ:
		add(x.Val, x.Sub)
	case *IsEmpty:
		add(x.Coll)
	case *Exists:
		add(x.Sub)
	}
	return out
}

// Walk calls fn for n and, while fn returns true, for its operands depth
// first.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range Children(n) {
		Walk(c, fn)
	}
}

// HasAggregate reports whether n contains an aggregate outside of any
// subquery.
func HasAggregate(n Node) bool {
	found := false
	Walk(n, func(c Node) bool {
		if _, ok := c.(*Aggregate); ok {
			found = true
		}
		return !found
	})
	return found
}
