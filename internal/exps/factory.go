package exps

import (
	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
)

// Factory builds expression trees. Front ends call one method per query
// operator; the factory checks operand types and picks the node that
// compiles the operator best for the shape of its operands.
type Factory struct {
	repo *mapping.Repository
}

// NewFactory returns a factory resolving class names in repo.
func NewFactory(repo *mapping.Repository) *Factory {
	return &Factory{repo: repo}
}

// Repository returns the mapping metadata the factory resolves against.
func (f *Factory) Repository() *mapping.Repository { return f.repo }

// Lit returns a literal.
func (f *Factory) Lit(v any) *Lit {
	return &Lit{Value: v, typ: typeOfValue(v)}
}

// Param returns a named parameter of type typ; TypeUnknown when the front
// end cannot tell.
func (f *Factory) Param(name string, typ mapping.Type) *Param {
	return &Param{Name: name, typ: typ}
}

// CollectionParam returns a parameter bound to a list of values.
func (f *Factory) CollectionParam(name string, elem mapping.Type) *CollectionParam {
	return &CollectionParam{Name: name, Elem: elem}
}

// Null returns the NULL literal.
func (f *Factory) Null() *Null { return &Null{} }

// Root returns the path of the candidate named scope, an instance of class.
func (f *Factory) Root(scope, class string) (*Path, error) {
	cls, err := f.repo.Class(class)
	if err != nil {
		return nil, err
	}
	if cls.Embeddable {
		return nil, qerr.User(qerr.CodeNotEntity, scope, "%s is embeddable and cannot be a query root", class)
	}
	return newRootPath(scope, cls), nil
}

// Variable returns an unbound variable whose elements have type typ.
func (f *Factory) Variable(name string, typ mapping.Type) (*Variable, error) {
	v := &Variable{Name: name, typ: typ}
	if typ.IsEntity() {
		cls, err := f.repo.Class(typ.Class)
		if err != nil {
			return nil, err
		}
		v.class = cls
	}
	return v, nil
}

// VarPath returns the path rooted at variable v. The variable may be bound
// after the path is built.
func (f *Factory) VarPath(v *Variable) *Path {
	return &Path{variable: v, class: v.class, typ: v.typ}
}

func checkNumeric(construct string, vs ...Val) error {
	for _, v := range vs {
		t := v.Type()
		if !t.IsUnknown() && t.Code != mapping.TypeNull && !t.Code.IsNumeric() {
			return qerr.User(qerr.CodeIncompatibleTypes, construct, "%s requires a number, got %s", construct, t)
		}
	}
	return nil
}

func checkString(construct string, vs ...Val) error {
	for _, v := range vs {
		t := v.Type()
		if !t.IsUnknown() && t.Code != mapping.TypeNull && !t.Code.IsStringLike() && t.Code != mapping.TypeEnum {
			return qerr.User(qerr.CodeIncompatibleTypes, construct, "%s requires a string, got %s", construct, t)
		}
	}
	return nil
}

func (f *Factory) math(op string, a, b Val) (Val, error) {
	if err := checkNumeric(op, a, b); err != nil {
		return nil, err
	}
	return &Math{Op: op, Left: a, Right: b}, nil
}

func (f *Factory) Add(a, b Val) (Val, error)      { return f.math("+", a, b) }
func (f *Factory) Subtract(a, b Val) (Val, error) { return f.math("-", a, b) }
func (f *Factory) Multiply(a, b Val) (Val, error) { return f.math("*", a, b) }
func (f *Factory) Divide(a, b Val) (Val, error)   { return f.math("/", a, b) }
func (f *Factory) Mod(a, b Val) (Val, error)      { return f.math("MOD", a, b) }

func (f *Factory) Abs(v Val) (Val, error) {
	if err := checkNumeric("ABS", v); err != nil {
		return nil, err
	}
	return &Func{Name: "abs", Arg: v}, nil
}

func (f *Factory) Sqrt(v Val) (Val, error) {
	if err := checkNumeric("SQRT", v); err != nil {
		return nil, err
	}
	return &Func{Name: "sqrt", Arg: v}, nil
}

func (f *Factory) Lower(v Val) (Val, error) {
	if err := checkString("LOWER", v); err != nil {
		return nil, err
	}
	return &Func{Name: "lower", Arg: v}, nil
}

func (f *Factory) Upper(v Val) (Val, error) {
	if err := checkString("UPPER", v); err != nil {
		return nil, err
	}
	return &Func{Name: "upper", Arg: v}, nil
}

// StringLength is LENGTH(v).
func (f *Factory) StringLength(v Val) (Val, error) {
	if err := checkString("LENGTH", v); err != nil {
		return nil, err
	}
	return &Func{Name: "length", Arg: v}, nil
}

func (f *Factory) Concat(a, b Val) (Val, error) {
	if err := checkString("CONCAT", a, b); err != nil {
		return nil, err
	}
	return &Concat{Left: a, Right: b}, nil
}

// Substring is SUBSTRING(str, start[, length]); length may be nil.
func (f *Factory) Substring(str, start, length Val) (Val, error) {
	if err := checkString("SUBSTRING", str); err != nil {
		return nil, err
	}
	if err := checkNumeric("SUBSTRING", start); err != nil {
		return nil, err
	}
	if length != nil {
		if err := checkNumeric("SUBSTRING", length); err != nil {
			return nil, err
		}
	}
	return &Substring{Str: str, Start: start, Len: length}, nil
}

// IndexOf is LOCATE(find, str[, start]); start may be nil.
func (f *Factory) IndexOf(str, find, start Val) (Val, error) {
	if err := checkString("LOCATE", str, find); err != nil {
		return nil, err
	}
	if start != nil {
		if err := checkNumeric("LOCATE", start); err != nil {
			return nil, err
		}
	}
	return &IndexOf{Str: str, Find: find, Start: start}, nil
}

// Trim trims char, or blanks when char is nil, from the given side of str.
func (f *Factory) Trim(str, char Val, spec dialect.TrimSpec) (Val, error) {
	if err := checkString("TRIM", str); err != nil {
		return nil, err
	}
	return &Trim{Spec: spec, Str: str, Char: char}, nil
}

func (f *Factory) Cast(v Val, to mapping.TypeCode) Val {
	return &Cast{Val: v, To: to}
}

func (f *Factory) CurrentDate() Val      { return &CurrentTemporal{Code: mapping.TypeDate} }
func (f *Factory) CurrentTime() Val      { return &CurrentTemporal{Code: mapping.TypeTime} }
func (f *Factory) CurrentTimestamp() Val { return &CurrentTemporal{Code: mapping.TypeTimestamp} }

// Count counts the non-null values of v; a nil v counts rows.
func (f *Factory) Count(v Val, distinct bool) Val {
	return &Aggregate{Op: "COUNT", Arg: v, Distinct: distinct}
}

func (f *Factory) Sum(v Val, distinct bool) (Val, error) {
	if err := checkNumeric("SUM", v); err != nil {
		return nil, err
	}
	return &Aggregate{Op: "SUM", Arg: v, Distinct: distinct}, nil
}

func (f *Factory) Avg(v Val, distinct bool) (Val, error) {
	if err := checkNumeric("AVG", v); err != nil {
		return nil, err
	}
	return &Aggregate{Op: "AVG", Arg: v, Distinct: distinct}, nil
}

func (f *Factory) Min(v Val) Val { return &Aggregate{Op: "MIN", Arg: v} }
func (f *Factory) Max(v Val) Val { return &Aggregate{Op: "MAX", Arg: v} }

// Size is the element count of a collection path.
func (f *Factory) Size(p *Path) (Val, error) {
	if !p.IsCollection() {
		return nil, qerr.User(qerr.CodeInvalidPath, "SIZE("+p.String()+")", "SIZE requires a collection path")
	}
	return &Size{Path: p}, nil
}

// Type is the discriminator of the entity p ends at.
func (f *Factory) Type(p *Path) (Val, error) {
	if p.Class() == nil || p.Class().Embeddable {
		return nil, qerr.User(qerr.CodeNotEntity, "TYPE("+p.String()+")", "TYPE requires an entity path")
	}
	return &TypeVal{Path: p}, nil
}

// ObjectID is the key of the entity p ends at.
func (f *Factory) ObjectID(p *Path) (Val, error) {
	if p.Class() == nil || p.Class().Embeddable {
		return nil, qerr.User(qerr.CodeNotEntity, "ID("+p.String()+")", "an object id requires an entity path")
	}
	return &ObjectID{Path: p}, nil
}

func (f *Factory) Case(whens []When, els Val) Val {
	return &Case{Whens: whens, Else: els}
}

func (f *Factory) SimpleCase(operand Val, whens []SimpleWhen, els Val) (Val, error) {
	for _, w := range whens {
		if !mapping.Comparable(operand.Type(), w.Value.Type()) {
			return nil, qerr.User(qerr.CodeIncompatibleTypes, "CASE", "cannot compare %s with %s", operand.Type(), w.Value.Type())
		}
	}
	return &SimpleCase{Operand: operand, Whens: whens, Else: els}, nil
}

func (f *Factory) Coalesce(vs ...Val) Val { return &Coalesce{Vals: vs} }

func (f *Factory) NullIf(a, b Val) (Val, error) {
	if !mapping.Comparable(a.Type(), b.Type()) {
		return nil, qerr.User(qerr.CodeIncompatibleTypes, "NULLIF", "cannot compare %s with %s", a.Type(), b.Type())
	}
	return &NullIf{Left: a, Right: b}, nil
}

// SubQuery wraps a nested query as a value.
func (f *Factory) SubQuery(q Query) *SubQuery { return &SubQuery{Query: q} }

func (f *Factory) Any(sub *SubQuery) Val { return &Quantified{Op: "ANY", Sub: sub} }
func (f *Factory) All(sub *SubQuery) Val { return &Quantified{Op: "ALL", Sub: sub} }

func (f *Factory) compare(op string, a, b Val) (Exp, error) {
	if !mapping.Comparable(a.Type(), b.Type()) {
		return nil, qerr.User(qerr.CodeIncompatibleTypes, op, "cannot compare %s with %s", a.Type(), b.Type())
	}
	if op == "=" {
		if in := constantIn(a, b); in != nil {
			return in, nil
		}
	}
	return &Compare{Op: op, Left: a, Right: b}, nil
}

func (f *Factory) Equal(a, b Val) (Exp, error)        { return f.compare("=", a, b) }
func (f *Factory) NotEqual(a, b Val) (Exp, error)     { return f.compare("<>", a, b) }
func (f *Factory) LessThan(a, b Val) (Exp, error)     { return f.compare("<", a, b) }
func (f *Factory) LessEqual(a, b Val) (Exp, error)    { return f.compare("<=", a, b) }
func (f *Factory) GreaterThan(a, b Val) (Exp, error)  { return f.compare(">", a, b) }
func (f *Factory) GreaterEqual(a, b Val) (Exp, error) { return f.compare(">=", a, b) }

// Between is lo <= v AND v <= hi.
func (f *Factory) Between(v, lo, hi Val) (Exp, error) {
	ge, err := f.GreaterEqual(v, lo)
	if err != nil {
		return nil, err
	}
	le, err := f.LessEqual(v, hi)
	if err != nil {
		return nil, err
	}
	return f.And(ge, le), nil
}

// constantIn rewrites v = x, where v ranges over a constant collection,
// to x IN (collection). It returns nil when neither side is such a
// variable.
func constantIn(a, b Val) Exp {
	v, other := constantVariable(a), b
	if v == nil {
		v, other = constantVariable(b), a
	}
	if v == nil {
		return nil
	}
	switch c := v.Values.(type) {
	case *CollectionParam:
		return &In{Val: other, Param: c}
	case *Lit:
		return &In{Val: other, Values: litElements(c)}
	}
	return nil
}

func constantVariable(v Val) *Variable {
	if x, ok := v.(*Variable); ok && x.Values != nil {
		return x
	}
	return nil
}

func litElements(l *Lit) []Val {
	elems, err := toSlice(l.Value)
	if err != nil {
		elems = []any{l.Value}
	}
	out := make([]Val, len(elems))
	for i, e := range elems {
		out[i] = &Lit{Value: e, typ: typeOfValue(e)}
	}
	return out
}

// And combines two conditions. A variable binding on either side is
// hoisted so it initializes first; a binding over constants disappears
// into the IN test it enables.
func (f *Factory) And(a, b Exp) Exp {
	if bv, ok := a.(*BindVariable); ok && bv.Coll == nil {
		return rewriteConstant(b)
	}
	if bv, ok := b.(*BindVariable); ok && bv.Coll == nil {
		return rewriteConstant(a)
	}
	if bv, ok := a.(*BindVariable); ok {
		return &BindVariableAnd{Bind: bv, Exp: b}
	}
	if bv, ok := b.(*BindVariable); ok {
		return &BindVariableAnd{Bind: bv, Exp: a}
	}
	return &And{Left: a, Right: b}
}

// rewriteConstant turns an equality built before its variable was bound
// to constants into the IN test it stands for.
func rewriteConstant(e Exp) Exp {
	if c, ok := e.(*Compare); ok && c.Op == "=" {
		if in := constantIn(c.Left, c.Right); in != nil {
			return in
		}
	}
	return e
}

func (f *Factory) Or(a, b Exp) Exp {
	return &Or{Left: a, Right: b}
}

// Not negates e. Tests with a negated form flip. A condition holding a
// membership test anywhere outside a subquery becomes a correlated count.
func (f *Factory) Not(e Exp) Exp {
	switch x := e.(type) {
	case *Not:
		return x.Exp
	case *NoneMatch:
		return x.Exp
	}
	if hasMembership(e) {
		return &NoneMatch{Exp: e}
	}
	switch x := e.(type) {
	case *In:
		out := *x
		out.Not = !x.Not
		return &out
	case *InSubQ:
		out := *x
		out.Not = !x.Not
		return &out
	case *Exists:
		out := *x
		out.Not = !x.Not
		return &out
	case *IsEmpty:
		out := *x
		out.Not = !x.Not
		return &out
	case *Matches:
		out := *x
		out.Not = !x.Not
		return &out
	case *ConstExp:
		return &ConstExp{Value: !x.Value}
	}
	return &Not{Exp: e}
}

// hasMembership reports whether e tests collection membership or binds a
// variable, outside subqueries and already negated memberships.
func hasMembership(e Exp) bool {
	found := false
	Walk(e, func(n Node) bool {
		switch n.(type) {
		case *MemberOf, *BindVariableAnd:
			found = true
		case *NoneMatch:
			return false
		}
		return !found
	})
	return found
}

// Matches is v LIKE pattern; escape may be empty.
func (f *Factory) Matches(v, pattern Val, escape string) (Exp, error) {
	if err := checkString("LIKE", v, pattern); err != nil {
		return nil, err
	}
	if len([]rune(escape)) > 1 {
		return nil, qerr.User(qerr.CodeInvalidQuery, "LIKE", "escape must be a single character, got %q", escape)
	}
	return &Matches{Val: v, Pattern: pattern, Escape: escape}, nil
}

func (f *Factory) True() Exp  { return &ConstExp{Value: true} }
func (f *Factory) False() Exp { return &ConstExp{Value: false} }

// BoolValue uses a boolean value as a condition.
func (f *Factory) BoolValue(v Val) (Exp, error) {
	if t := v.Type(); !t.IsUnknown() && t.Code != mapping.TypeBool {
		return nil, qerr.User(qerr.CodeIncompatibleTypes, Describe(v), "condition must be boolean, got %s", t)
	}
	return &BoolValue{Val: v}, nil
}

// Contains tests that elem is an element of coll. The node depends on the
// operands: constant collections become IN lists, subqueries IN
// subselects, and an unbound variable is bound to the collection instead
// of tested against it.
func (f *Factory) Contains(coll, elem Val) (Exp, error) {
	v, unbound := elem.(*Variable)
	unbound = unbound && !v.IsBound()

	switch c := coll.(type) {
	case *CollectionParam:
		if unbound {
			v.Values = c
			return &BindVariable{Var: v}, nil
		}
		return &In{Val: elem, Param: c}, nil
	case *Lit:
		if unbound {
			v.Values = c
			return &BindVariable{Var: v}, nil
		}
		return &In{Val: elem, Values: litElements(c)}, nil
	case *SubQuery:
		return &InSubQ{Val: elem, Sub: c}, nil
	case *Path:
		if !c.IsCollection() {
			return nil, qerr.User(qerr.CodeInvalidPath, c.String(), "%s is not a collection", c.String())
		}
		if unbound {
			return f.BindVariable(v, c)
		}
		return &MemberOf{Coll: c, Elem: elem}, nil
	}
	return nil, qerr.User(qerr.CodeInvalidQuery, Describe(coll), "cannot test membership in %s", coll.Type())
}

// BindVariable binds v to the elements of the collection path coll.
func (f *Factory) BindVariable(v *Variable, coll *Path) (Exp, error) {
	if v.IsBound() {
		return nil, qerr.User(qerr.CodeInvalidQuery, v.Name, "variable %s is already bound", v.Name)
	}
	if !coll.IsCollection() {
		return nil, qerr.User(qerr.CodeInvalidPath, coll.String(), "variable %s must be bound to a collection", v.Name)
	}
	v.Bound = coll
	return &BindVariable{Var: v, Coll: coll}, nil
}

// In tests v against a list of values.
func (f *Factory) In(v Val, values ...Val) (Exp, error) {
	for _, x := range values {
		if !mapping.Comparable(v.Type(), x.Type()) {
			return nil, qerr.User(qerr.CodeIncompatibleTypes, "IN", "cannot compare %s with %s", v.Type(), x.Type())
		}
	}
	return &In{Val: v, Values: values}, nil
}

// InParam tests v against the elements bound to p.
func (f *Factory) InParam(v Val, p *CollectionParam) Exp {
	return &In{Val: v, Param: p}
}

// InSub tests v against the rows of sub.
func (f *Factory) InSub(v Val, sub *SubQuery) Exp {
	return &InSubQ{Val: v, Sub: sub}
}

// IsEmpty tests whether a collection path has no elements.
func (f *Factory) IsEmpty(coll *Path) (Exp, error) {
	if !coll.IsCollection() {
		return nil, qerr.User(qerr.CodeInvalidPath, coll.String(), "IS EMPTY requires a collection path")
	}
	return &IsEmpty{Coll: coll}, nil
}

// Exists tests whether sub returns a row.
func (f *Factory) Exists(sub *SubQuery) Exp {
	return &Exists{Sub: sub}
}
