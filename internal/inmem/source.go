package inmem

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
)

// engine names the evaluator in capability errors.
const engine = "in-memory"

// Environment names the program reads.
const (
	objectVar = "obj"
	paramsVar = "params"
)

// reserved words that cannot follow ?. in a member access.
var reserved = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "matches": true,
	"contains": true, "startsWith": true, "endsWith": true, "let": true,
	"nil": true, "true": true, "false": true,
}

// writer turns an expression tree into expr-lang source.
type writer struct {
	sb        strings.Builder
	alias     string
	candidate *mapping.Class
	params    map[string]bool
}

func (w *writer) str(parts ...string) {
	for _, p := range parts {
		w.sb.WriteString(p)
	}
}

func (w *writer) paramNames() []string {
	names := make([]string, 0, len(w.params))
	for n := range w.params {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (w *writer) call(name string, args ...func() error) error {
	w.str(name, "(")
	for i, a := range args {
		if i > 0 {
			w.str(", ")
		}
		if err := a(); err != nil {
			return err
		}
	}
	w.str(")")
	return nil
}

func (w *writer) v(v exps.Val) func() error { return func() error { return w.val(v) } }
func (w *writer) e(e exps.Exp) func() error { return func() error { return w.exp(e) } }
func (w *writer) q(s string) func() error {
	return func() error {
		w.str(strconv.Quote(s))
		return nil
	}
}

func unsupported(construct string) error {
	return qerr.Unsupported(engine, construct)
}

func (w *writer) exp(e exps.Exp) error {
	switch x := e.(type) {
	case nil:
		w.str("true")
		return nil
	case *exps.ConstExp:
		w.str(strconv.FormatBool(x.Value))
		return nil
	case *exps.Compare:
		return w.call("sqlCmp", w.q(x.Op), w.v(x.Left), w.v(x.Right))
	case *exps.And:
		return w.call("sqlAnd", w.e(x.Left), w.e(x.Right))
	case *exps.Or:
		return w.call("sqlOr", w.e(x.Left), w.e(x.Right))
	case *exps.Not:
		return w.call("sqlNot", w.e(x.Exp))
	case *exps.Matches:
		return w.negated(x.Not, func() error {
			return w.call("sqlLike", w.v(x.Val), w.v(x.Pattern), w.q(x.Escape))
		})
	case *exps.BoolValue:
		return w.val(x.Val)
	case *exps.In:
		return w.negated(x.Not, func() error {
			return w.call("sqlIn", w.v(x.Val), func() error {
				if x.Param != nil {
					return w.val(x.Param)
				}
				w.str("[")
				for i, v := range x.Values {
					if i > 0 {
						w.str(", ")
					}
					if err := w.val(v); err != nil {
						return err
					}
				}
				w.str("]")
				return nil
			})
		})
	case *exps.IsEmpty:
		return w.negated(x.Not, func() error {
			return w.call("sqlEmpty", func() error { return w.path(x.Coll, false) })
		})
	case *exps.MemberOf:
		pk := ""
		if cls := x.Coll.Class(); cls != nil && len(cls.PKFields) == 1 {
			pk = cls.PKFields[0]
		}
		return w.call("sqlMember", func() error { return w.path(x.Coll, false) }, w.q(pk), w.v(x.Elem))
	case *exps.InSubQ, *exps.Exists:
		return unsupported("subqueries")
	case *exps.BindVariable, *exps.BindVariableAnd, *exps.NoneMatch:
		return unsupported("bound variables")
	}
	return unsupported(fmt.Sprintf("%T", e))
}

func (w *writer) negated(not bool, inner func() error) error {
	if !not {
		return inner()
	}
	return w.call("sqlNot", inner)
}

func (w *writer) val(v exps.Val) error {
	switch x := v.(type) {
	case nil, *exps.Null:
		w.str("nil")
		return nil
	case *exps.Lit:
		return w.literal(x.Value)
	case *exps.Param:
		w.params[x.Name] = true
		w.str(paramsVar, "[", strconv.Quote(x.Name), "]")
		return nil
	case *exps.CollectionParam:
		w.params[x.Name] = true
		w.str(paramsVar, "[", strconv.Quote(x.Name), "]")
		return nil
	case *exps.Path:
		return w.path(x, true)
	case *exps.ObjectID:
		return w.path(x.Path, true)
	case *exps.Math:
		return w.call("sqlMath", w.q(x.Op), w.v(x.Left), w.v(x.Right))
	case *exps.Func:
		return w.call("sqlFunc", w.q(x.Name), w.v(x.Arg))
	case *exps.Concat:
		return w.call("sqlConcat", w.v(x.Left), w.v(x.Right))
	case *exps.Substring:
		args := []func() error{w.v(x.Str), w.v(x.Start)}
		if x.Len != nil {
			args = append(args, w.v(x.Len))
		}
		return w.call("sqlSubstring", args...)
	case *exps.IndexOf:
		args := []func() error{w.v(x.Find), w.v(x.Str)}
		if x.Start != nil {
			args = append(args, w.v(x.Start))
		}
		return w.call("sqlLocate", args...)
	case *exps.Trim:
		args := []func() error{w.q(x.Spec.String()), w.v(x.Str)}
		if x.Char != nil {
			args = append(args, w.v(x.Char))
		}
		return w.call("sqlTrim", args...)
	case *exps.Cast:
		return w.call("sqlCast", w.v(x.Val), w.q(x.To.String()))
	case *exps.Coalesce:
		args := make([]func() error, len(x.Vals))
		for i, c := range x.Vals {
			args[i] = w.v(c)
		}
		return w.call("sqlCoalesce", args...)
	case *exps.NullIf:
		return w.call("sqlNullIf", w.v(x.Left), w.v(x.Right))
	case *exps.Case:
		return w.cases(len(x.Whens), func(i int) error { return w.exp(x.Whens[i].Cond) },
			func(i int) error { return w.val(x.Whens[i].Result) }, x.Else)
	case *exps.SimpleCase:
		return w.cases(len(x.Whens), func(i int) error {
			return w.call("sqlCmp", w.q("="), w.v(x.Operand), w.v(x.Whens[i].Value))
		}, func(i int) error { return w.val(x.Whens[i].Result) }, x.Else)
	case *exps.Size:
		return w.call("sqlSize", func() error { return w.path(x.Path, false) })
	case *exps.SubQuery, *exps.Quantified:
		return unsupported("subqueries")
	case *exps.Aggregate:
		return unsupported("aggregates")
	case *exps.Variable:
		return unsupported("bound variables")
	case *exps.TypeVal:
		return unsupported("TYPE")
	case *exps.CurrentTemporal:
		return unsupported("CURRENT_" + strings.ToUpper(x.Code.String()))
	}
	return unsupported(fmt.Sprintf("%T", v))
}

// cases writes nested conditionals: the first condition that is true
// picks its result, otherwise els.
func (w *writer) cases(n int, cond, result func(int) error, els exps.Val) error {
	for i := 0; i < n; i++ {
		w.str("(sqlTrue(")
		if err := cond(i); err != nil {
			return err
		}
		w.str(") ? ")
		if err := result(i); err != nil {
			return err
		}
		w.str(" : ")
	}
	if err := w.val(els); err != nil {
		return err
	}
	w.str(strings.Repeat(")", n))
	return nil
}

func (w *writer) literal(v any) error {
	switch x := v.(type) {
	case nil:
		w.str("nil")
	case string:
		w.str(strconv.Quote(x))
	case bool:
		w.str(strconv.FormatBool(x))
	case int:
		w.str(strconv.Itoa(x))
	case int32:
		w.str(strconv.FormatInt(int64(x), 10))
	case int64:
		w.str(strconv.FormatInt(x, 10))
	case float32:
		return w.literal(float64(x))
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return qerr.User(qerr.CodeBadParameter, fmt.Sprint(x), "literal %v has no in-memory form", x)
		}
		s := strconv.FormatFloat(x, 'f', -1, 64)
		if !strings.Contains(s, ".") {
			s += ".0"
		}
		w.str(s)
	default:
		return unsupported(fmt.Sprintf("%T literals", v))
	}
	return nil
}

// path writes optional-chained member access from obj. An entity path
// with a single identity field reads that field so it compares with ids,
// unless whole is false.
func (w *writer) path(p *exps.Path, whole bool) error {
	if p.Variable() != nil {
		return unsupported("bound variables")
	}
	if p.Scope() != w.alias {
		return qerr.User(qerr.CodeInvalidQuery, p.String(), "path is not rooted at %s", w.alias)
	}
	w.str(objectVar)
	cls := w.candidate
	steps := p.Steps()
	for i, name := range steps {
		if strings.HasPrefix(name, "(") || name == "KEY()" {
			return unsupported("casts and map keys")
		}
		if cls == nil {
			return qerr.Internal(qerr.CodeBadState, p.String(), "no class at %s", name)
		}
		f, err := cls.Field(name)
		if err != nil {
			return err
		}
		if f.IsToMany() && i < len(steps)-1 {
			return unsupported("navigation through collections")
		}
		if err := w.member(name); err != nil {
			return err
		}
		switch {
		case f.Embedded != nil:
			cls = f.Embedded
		default:
			cls = f.Target
		}
	}
	if whole && !p.IsCollection() && cls != nil && !cls.Embeddable {
		if len(cls.PKFields) != 1 {
			return unsupported("compound identities")
		}
		return w.member(cls.PKFields[0])
	}
	return nil
}

func (w *writer) member(name string) error {
	if reserved[name] {
		return unsupported("field name " + name)
	}
	w.str("?.", name)
	return nil
}
