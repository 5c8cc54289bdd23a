package querydoc

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/kernel"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
)

// Translator turns documents into query trees over one mapping.
type Translator struct {
	repo *mapping.Repository
	f    *exps.Factory
}

// NewTranslator returns a translator resolving classes and fields in repo.
func NewTranslator(repo *mapping.Repository) *Translator {
	return &Translator{repo: repo, f: exps.NewFactory(repo)}
}

// scope is one query level: its candidate root and declared variables.
type scope struct {
	parent *scope
	alias  string
	root   *exps.Path
	vars   map[string]*exps.Variable
}

func (s *scope) lookup(name string) (*exps.Path, *exps.Variable, bool) {
	for c := s; c != nil; c = c.parent {
		if name == c.alias {
			return c.root, nil, true
		}
		if v, ok := c.vars[name]; ok {
			return nil, v, true
		}
	}
	return nil, nil, false
}

// Query translates a top-level document.
func (t *Translator) Query(doc *Document) (*kernel.QueryExpressions, error) {
	q, err := t.query(doc, nil)
	if err != nil {
		if doc.Name != "" {
			return nil, fmt.Errorf("query %s: %w", doc.Name, err)
		}
		return nil, err
	}
	return q, nil
}

func (t *Translator) query(doc *Document, parent *scope) (*kernel.QueryExpressions, error) {
	q := &kernel.QueryExpressions{Alias: doc.Alias, Subclasses: doc.IncludeSubclasses(), Distinct: doc.Distinct}

	if doc.From != "" {
		if parent == nil {
			return nil, qerr.User(qerr.CodeInvalidQuery, doc.From, "only a subquery can range over a path")
		}
		from, err := t.pathString(doc.From, parent, 0)
		if err != nil {
			return nil, err
		}
		q.From = from
		q.Candidate = from.Class()
		if q.Candidate == nil {
			return nil, qerr.User(qerr.CodeInvalidPath, doc.From, "%s does not reach an entity", doc.From)
		}
	}
	if doc.Candidate != "" {
		cls, err := t.repo.Class(doc.Candidate)
		if err != nil {
			return nil, err
		}
		q.Candidate = cls
	}

	root, err := t.f.Root(doc.Alias, q.Candidate.Name)
	if err != nil {
		return nil, err
	}
	sc := &scope{parent: parent, alias: doc.Alias, root: root, vars: map[string]*exps.Variable{}}
	names := make([]string, 0, len(doc.Variables))
	for name := range doc.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		typ, err := t.typeOf(doc.Variables[name])
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		if sc.vars[name], err = t.f.Variable(name, typ); err != nil {
			return nil, err
		}
	}

	if q.Filter, err = t.optExp(&doc.Filter, sc); err != nil {
		return nil, fmt.Errorf("filter: %w", err)
	}
	for i := range doc.Select {
		p, err := t.projection(&doc.Select[i], sc)
		if err != nil {
			return nil, fmt.Errorf("select[%d]: %w", i, err)
		}
		q.Projections = append(q.Projections, p)
	}
	for i := range doc.Group {
		v, err := t.value(&doc.Group[i], sc)
		if err != nil {
			return nil, fmt.Errorf("group[%d]: %w", i, err)
		}
		q.Grouping = append(q.Grouping, v)
	}
	if q.Having, err = t.optExp(&doc.Having, sc); err != nil {
		return nil, fmt.Errorf("having: %w", err)
	}
	for i := range doc.Order {
		o, err := t.order(&doc.Order[i], sc)
		if err != nil {
			return nil, fmt.Errorf("order[%d]: %w", i, err)
		}
		q.Ordering = append(q.Ordering, o)
	}
	if q.Offset, err = t.optValue(&doc.Offset, sc); err != nil {
		return nil, fmt.Errorf("offset: %w", err)
	}
	if q.Limit, err = t.optValue(&doc.Limit, sc); err != nil {
		return nil, fmt.Errorf("limit: %w", err)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (t *Translator) typeOf(name string) (mapping.Type, error) {
	if code, err := mapping.ParseTypeCode(name); err == nil {
		return mapping.Of(code), nil
	}
	cls, err := t.repo.Class(name)
	if err != nil {
		return mapping.Type{}, err
	}
	return cls.Type(), nil
}

func present(n *yaml.Node) bool { return n != nil && n.Kind != 0 }

func (t *Translator) optExp(n *yaml.Node, sc *scope) (exps.Exp, error) {
	if !present(n) {
		return nil, nil
	}
	return t.exp(n, sc)
}

func (t *Translator) optValue(n *yaml.Node, sc *scope) (exps.Val, error) {
	if !present(n) {
		return nil, nil
	}
	return t.value(n, sc)
}

func (t *Translator) projection(n *yaml.Node, sc *scope) (kernel.Projection, error) {
	op, err := operation(n)
	if err != nil {
		return kernel.Projection{}, err
	}
	alias := ""
	if op != nil {
		alias = op.mod("as").Value
	}
	v, err := t.value(n, sc)
	if err != nil {
		return kernel.Projection{}, err
	}
	return kernel.Projection{Val: v, Alias: alias}, nil
}

func (t *Translator) order(n *yaml.Node, sc *scope) (kernel.Order, error) {
	if n.Kind == yaml.MappingNode {
		if by := lookup(n, "by"); by != nil {
			desc := lookup(n, "desc")
			v, err := t.value(by, sc)
			if err != nil {
				return kernel.Order{}, err
			}
			return kernel.Order{Val: v, Asc: desc == nil || desc.Value != "true"}, nil
		}
	}
	v, err := t.value(n, sc)
	if err != nil {
		return kernel.Order{}, err
	}
	return kernel.Order{Val: v, Asc: true}, nil
}

// lookup returns the value node of key in a mapping node.
func lookup(n *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

func failf(n *yaml.Node, construct, format string, args ...any) error {
	return qerr.User(qerr.CodeInvalidQuery, construct, "line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

// op is a mapping node split into its operator and modifiers.
type op struct {
	node *yaml.Node
	name string
	arg  *yaml.Node
	mods map[string]*yaml.Node
}

var empty = &yaml.Node{}

func (o *op) mod(name string) *yaml.Node {
	if m, ok := o.mods[name]; ok {
		return m
	}
	return empty
}

// args returns the operator's argument list: the sequence, or the single
// argument.
func (o *op) args(min, max int) ([]*yaml.Node, error) {
	list := []*yaml.Node{o.arg}
	if o.arg.Kind == yaml.SequenceNode {
		list = o.arg.Content
	}
	if len(list) < min || (max >= 0 && len(list) > max) {
		if min == max {
			return nil, failf(o.node, o.name, "%s takes %d operands, got %d", o.name, min, len(list))
		}
		return nil, failf(o.node, o.name, "%s takes %d to %d operands, got %d", o.name, min, max, len(list))
	}
	return list, nil
}

// modifiers are the keys that qualify an operator rather than name one.
var modifiers = map[string]bool{
	"as": true, "type": true, "distinct": true, "escape": true, "spec": true,
	"char": true, "to": true, "else": true, "of": true,
}

// operation splits a mapping node; it returns nil for other nodes.
func operation(n *yaml.Node) (*op, error) {
	if n.Kind == yaml.AliasNode {
		return operation(n.Alias)
	}
	if n.Kind != yaml.MappingNode {
		return nil, nil
	}
	o := &op{node: n, mods: map[string]*yaml.Node{}}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i].Value, n.Content[i+1]
		if modifiers[key] {
			o.mods[key] = val
			continue
		}
		if o.name != "" {
			return nil, failf(n, key, "both %s and %s given", o.name, key)
		}
		o.name, o.arg = key, val
	}
	if o.name == "" {
		// TYPE(path) shares its key with the parameter type modifier.
		if typ, ok := o.mods["type"]; ok {
			delete(o.mods, "type")
			o.name, o.arg = "type", typ
			return o, nil
		}
		return nil, failf(n, "", "no operator")
	}
	return o, nil
}

var compareOps = map[string]func(*exps.Factory, exps.Val, exps.Val) (exps.Exp, error){
	"=":  (*exps.Factory).Equal,
	"<>": (*exps.Factory).NotEqual,
	"!=": (*exps.Factory).NotEqual,
	"<":  (*exps.Factory).LessThan,
	"<=": (*exps.Factory).LessEqual,
	">":  (*exps.Factory).GreaterThan,
	">=": (*exps.Factory).GreaterEqual,
}

func (t *Translator) exp(n *yaml.Node, sc *scope) (exps.Exp, error) {
	if n.Kind == yaml.ScalarNode && n.Tag == "!!bool" {
		if n.Value == "true" {
			return t.f.True(), nil
		}
		return t.f.False(), nil
	}
	o, err := operation(n)
	if err != nil {
		return nil, err
	}
	if o == nil {
		v, err := t.value(n, sc)
		if err != nil {
			return nil, err
		}
		return t.f.BoolValue(v)
	}

	if cmp, ok := compareOps[o.name]; ok {
		vs, err := t.values(o, sc, 2, 2)
		if err != nil {
			return nil, err
		}
		return cmp(t.f, vs[0], vs[1])
	}

	switch o.name {
	case "and", "or":
		args, err := o.args(1, -1)
		if err != nil {
			return nil, err
		}
		var out exps.Exp
		for _, a := range args {
			e, err := t.exp(a, sc)
			if err != nil {
				return nil, err
			}
			switch {
			case out == nil:
				out = e
			case o.name == "and":
				out = t.f.And(out, e)
			default:
				out = t.f.Or(out, e)
			}
		}
		return out, nil
	case "not":
		e, err := t.exp(o.arg, sc)
		if err != nil {
			return nil, err
		}
		return t.f.Not(e), nil
	case "between":
		vs, err := t.values(o, sc, 3, 3)
		if err != nil {
			return nil, err
		}
		return t.f.Between(vs[0], vs[1], vs[2])
	case "like":
		vs, err := t.values(o, sc, 2, 2)
		if err != nil {
			return nil, err
		}
		return t.f.Matches(vs[0], vs[1], o.mod("escape").Value)
	case "in":
		return t.in(o, sc)
	case "member":
		vs, err := t.values(o, sc, 2, 2)
		if err != nil {
			return nil, err
		}
		return t.f.Contains(vs[1], vs[0])
	case "empty":
		p, err := t.path(o.arg, sc)
		if err != nil {
			return nil, err
		}
		return t.f.IsEmpty(p)
	case "exists":
		sub, err := t.subquery(o.arg, sc)
		if err != nil {
			return nil, err
		}
		return t.f.Exists(sub), nil
	case "bool":
		v, err := t.value(o.arg, sc)
		if err != nil {
			return nil, err
		}
		return t.f.BoolValue(v)
	}

	v, err := t.operationValue(o, sc)
	if err != nil {
		return nil, err
	}
	return t.f.BoolValue(v)
}

// in is value IN (list), IN :collection or IN (subquery).
func (t *Translator) in(o *op, sc *scope) (exps.Exp, error) {
	args, err := o.args(2, 2)
	if err != nil {
		return nil, err
	}
	v, err := t.value(args[0], sc)
	if err != nil {
		return nil, err
	}
	set := args[1]
	if set.Kind == yaml.SequenceNode {
		vals := make([]exps.Val, len(set.Content))
		for i, c := range set.Content {
			if vals[i], err = t.value(c, sc); err != nil {
				return nil, err
			}
		}
		return t.f.In(v, vals...)
	}
	coll, err := t.value(set, sc)
	if err != nil {
		return nil, err
	}
	if p, ok := coll.(*exps.Param); ok {
		coll = t.f.CollectionParam(p.Name, p.Type())
	}
	return t.f.Contains(coll, v)
}

func (t *Translator) values(o *op, sc *scope, min, max int) ([]exps.Val, error) {
	args, err := o.args(min, max)
	if err != nil {
		return nil, err
	}
	out := make([]exps.Val, len(args))
	for i, a := range args {
		if out[i], err = t.value(a, sc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t *Translator) value(n *yaml.Node, sc *scope) (exps.Val, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return t.value(n.Alias, sc)
	case yaml.ScalarNode:
		return t.scalar(n, sc)
	case yaml.SequenceNode:
		var list []any
		if err := n.Decode(&list); err != nil {
			return nil, failf(n, "", "%v", err)
		}
		return t.f.Lit(list), nil
	case yaml.MappingNode:
		o, err := operation(n)
		if err != nil {
			return nil, err
		}
		return t.operationValue(o, sc)
	}
	return nil, failf(n, "", "unexpected node")
}

func (t *Translator) scalar(n *yaml.Node, sc *scope) (exps.Val, error) {
	switch n.Tag {
	case "!!null":
		return t.f.Null(), nil
	case "!!str":
	default:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, failf(n, n.Value, "%v", err)
		}
		return t.f.Lit(v), nil
	}
	if n.Style&(yaml.SingleQuotedStyle|yaml.DoubleQuotedStyle) != 0 {
		return t.f.Lit(n.Value), nil
	}
	if len(n.Value) > 1 && (n.Value[0] == '$' || n.Value[0] == ':') {
		return t.f.Param(n.Value[1:], mapping.Type{}), nil
	}
	head, _, _ := strings.Cut(n.Value, ".")
	if _, _, ok := sc.lookup(strings.TrimSuffix(head, "?")); ok {
		return t.pathString(n.Value, sc, n.Line)
	}
	return t.f.Lit(n.Value), nil
}

func (t *Translator) path(n *yaml.Node, sc *scope) (*exps.Path, error) {
	if o, err := operation(n); err != nil {
		return nil, err
	} else if o != nil {
		v, err := t.operationValue(o, sc)
		if err != nil {
			return nil, err
		}
		p, ok := v.(*exps.Path)
		if !ok {
			return nil, failf(n, o.name, "%s is not a path", o.name)
		}
		return p, nil
	}
	return t.pathString(n.Value, sc, n.Line)
}

// pathString resolves a dotted path against the scopes in reach.
func (t *Translator) pathString(s string, sc *scope, line int) (*exps.Path, error) {
	segs := strings.Split(s, ".")
	root, v, ok := sc.lookup(segs[0])
	if !ok {
		return nil, qerr.User(qerr.CodeInvalidPath, s, "line %d: %s is not an alias or variable in scope", line, segs[0])
	}
	p := root
	if v != nil {
		p = t.f.VarPath(v)
	}
	for _, seg := range segs[1:] {
		var err error
		if name, outer := strings.CutSuffix(seg, "?"); outer {
			p, err = p.GetOuter(name)
		} else {
			p, err = p.Get(seg)
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (t *Translator) subquery(n *yaml.Node, sc *scope) (*exps.SubQuery, error) {
	var doc Document
	if err := n.Decode(&doc); err != nil {
		return nil, failf(n, "subquery", "%v", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, failf(n, "subquery", "%v", err)
	}
	q, err := t.query(&doc, sc)
	if err != nil {
		return nil, err
	}
	return t.f.SubQuery(q), nil
}

var unaryOps = map[string]func(*exps.Factory, exps.Val) (exps.Val, error){
	"abs":    (*exps.Factory).Abs,
	"sqrt":   (*exps.Factory).Sqrt,
	"lower":  (*exps.Factory).Lower,
	"upper":  (*exps.Factory).Upper,
	"length": (*exps.Factory).StringLength,
}

var mathOps = map[string]func(*exps.Factory, exps.Val, exps.Val) (exps.Val, error){
	"+":   (*exps.Factory).Add,
	"-":   (*exps.Factory).Subtract,
	"*":   (*exps.Factory).Multiply,
	"/":   (*exps.Factory).Divide,
	"mod": (*exps.Factory).Mod,
}

var pathOps = map[string]func(*exps.Factory, *exps.Path) (exps.Val, error){
	"size": (*exps.Factory).Size,
	"type": (*exps.Factory).Type,
	"id":   (*exps.Factory).ObjectID,
}

var trimSpecs = map[string]dialect.TrimSpec{
	"":         dialect.TrimBoth,
	"both":     dialect.TrimBoth,
	"leading":  dialect.TrimLeading,
	"trailing": dialect.TrimTrailing,
}

func (t *Translator) operationValue(o *op, sc *scope) (exps.Val, error) {
	if fn, ok := unaryOps[o.name]; ok {
		v, err := t.value(o.arg, sc)
		if err != nil {
			return nil, err
		}
		return fn(t.f, v)
	}
	if fn, ok := mathOps[o.name]; ok {
		vs, err := t.values(o, sc, 2, 2)
		if err != nil {
			return nil, err
		}
		return fn(t.f, vs[0], vs[1])
	}
	if fn, ok := pathOps[o.name]; ok {
		p, err := t.path(o.arg, sc)
		if err != nil {
			return nil, err
		}
		return fn(t.f, p)
	}

	switch o.name {
	case "value":
		return t.value(o.arg, sc)
	case "lit":
		var v any
		if err := o.arg.Decode(&v); err != nil {
			return nil, failf(o.node, "lit", "%v", err)
		}
		return t.f.Lit(v), nil
	case "path":
		return t.pathString(o.arg.Value, sc, o.arg.Line)
	case "param", "params":
		typ := mapping.Type{}
		if name := o.mod("type").Value; name != "" {
			var err error
			if typ, err = t.typeOf(name); err != nil {
				return nil, err
			}
		}
		if o.name == "params" {
			return t.f.CollectionParam(o.arg.Value, typ), nil
		}
		return t.f.Param(o.arg.Value, typ), nil
	case "concat":
		vs, err := t.values(o, sc, 2, -1)
		if err != nil {
			return nil, err
		}
		out := vs[0]
		for _, v := range vs[1:] {
			if out, err = t.f.Concat(out, v); err != nil {
				return nil, err
			}
		}
		return out, nil
	case "substring":
		vs, err := t.values(o, sc, 2, 3)
		if err != nil {
			return nil, err
		}
		var length exps.Val
		if len(vs) == 3 {
			length = vs[2]
		}
		return t.f.Substring(vs[0], vs[1], length)
	case "locate":
		vs, err := t.values(o, sc, 2, 3)
		if err != nil {
			return nil, err
		}
		var start exps.Val
		if len(vs) == 3 {
			start = vs[2]
		}
		return t.f.IndexOf(vs[1], vs[0], start)
	case "trim":
		str, err := t.value(o.arg, sc)
		if err != nil {
			return nil, err
		}
		spec, ok := trimSpecs[o.mod("spec").Value]
		if !ok {
			return nil, failf(o.node, "trim", "unknown trim spec %q", o.mod("spec").Value)
		}
		var char exps.Val
		if c := o.mod("char"); present(c) {
			if char, err = t.value(c, sc); err != nil {
				return nil, err
			}
		}
		return t.f.Trim(str, char, spec)
	case "cast":
		v, err := t.value(o.arg, sc)
		if err != nil {
			return nil, err
		}
		code, err := mapping.ParseTypeCode(o.mod("to").Value)
		if err != nil {
			return nil, failf(o.node, "cast", "%v", err)
		}
		return t.f.Cast(v, code), nil
	case "count", "sum", "avg", "min", "max":
		return t.aggregate(o, sc)
	case "coalesce":
		vs, err := t.values(o, sc, 1, -1)
		if err != nil {
			return nil, err
		}
		return t.f.Coalesce(vs...), nil
	case "nullif":
		vs, err := t.values(o, sc, 2, 2)
		if err != nil {
			return nil, err
		}
		return t.f.NullIf(vs[0], vs[1])
	case "case":
		return t.caseValue(o, sc)
	case "key":
		p, err := t.path(o.arg, sc)
		if err != nil {
			return nil, err
		}
		return p.Key()
	case "treat":
		p, err := t.path(o.arg, sc)
		if err != nil {
			return nil, err
		}
		cls, err := t.repo.Class(o.mod("to").Value)
		if err != nil {
			return nil, err
		}
		return p.Treat(cls)
	case "subquery", "any", "all":
		sub, err := t.subquery(o.arg, sc)
		if err != nil {
			return nil, err
		}
		switch o.name {
		case "any":
			return t.f.Any(sub), nil
		case "all":
			return t.f.All(sub), nil
		}
		return sub, nil
	case "current_date":
		return t.f.CurrentDate(), nil
	case "current_time":
		return t.f.CurrentTime(), nil
	case "current_timestamp":
		return t.f.CurrentTimestamp(), nil
	}
	return nil, failf(o.node, o.name, "unknown operator %q", o.name)
}

func (t *Translator) aggregate(o *op, sc *scope) (exps.Val, error) {
	var arg exps.Val
	if !(o.arg.Kind == yaml.ScalarNode && o.arg.Value == "*") {
		var err error
		if arg, err = t.value(o.arg, sc); err != nil {
			return nil, err
		}
	}
	distinct := o.mod("distinct").Value == "true"
	switch o.name {
	case "count":
		return t.f.Count(arg, distinct), nil
	case "sum":
		return t.f.Sum(arg, distinct)
	case "avg":
		return t.f.Avg(arg, distinct)
	case "min":
		return t.f.Min(arg), nil
	}
	return t.f.Max(arg), nil
}

// caseValue is a general CASE, or a simple one when "of" names the
// operand.
func (t *Translator) caseValue(o *op, sc *scope) (exps.Val, error) {
	if o.arg.Kind != yaml.SequenceNode {
		return nil, failf(o.node, "case", "case takes a list of when/then pairs")
	}
	var els exps.Val
	if e := o.mod("else"); present(e) {
		var err error
		if els, err = t.value(e, sc); err != nil {
			return nil, err
		}
	}

	operand := o.mod("of")
	var whens []exps.When
	var simple []exps.SimpleWhen
	for _, w := range o.arg.Content {
		when, then := lookup(w, "when"), lookup(w, "then")
		if w.Kind != yaml.MappingNode || when == nil || then == nil {
			return nil, failf(w, "case", "each case needs when and then")
		}
		result, err := t.value(then, sc)
		if err != nil {
			return nil, err
		}
		if present(operand) {
			v, err := t.value(when, sc)
			if err != nil {
				return nil, err
			}
			simple = append(simple, exps.SimpleWhen{Value: v, Result: result})
			continue
		}
		cond, err := t.exp(when, sc)
		if err != nil {
			return nil, err
		}
		whens = append(whens, exps.When{Cond: cond, Result: result})
	}

	if present(operand) {
		v, err := t.value(operand, sc)
		if err != nil {
			return nil, err
		}
		return t.f.SimpleCase(v, simple, els)
	}
	return t.f.Case(whens, els), nil
}
