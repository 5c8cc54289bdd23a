package exps

import (
	"strings"

	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
	"github.com/roach88/qexp/internal/sqlbuild"
)

type stepKind int

const (
	stepGet stepKind = iota
	stepGetOuter
	stepKey
	stepCast
)

type step struct {
	kind  stepKind
	field *mapping.Field
	cast  *mapping.Class
}

// Path navigates fields from a root: a named scope (the candidate of a
// query or of an enclosing query) or a variable. Paths are built with Get,
// GetOuter, Key and Treat; each returns a new path and leaves the receiver
// untouched.
//
// A path defers joining into a related table as long as it can: a path
// ending in an owning relation renders the foreign key columns, and one
// ending in a join-table collection renders the inverse columns.
type Path struct {
	scope    string
	variable *Variable
	root     *mapping.Class
	steps    []step

	// position after the last step
	class *mapping.Class
	field *mapping.Field
	typ   mapping.Type
}

func newRootPath(scope string, class *mapping.Class) *Path {
	return &Path{scope: scope, root: class, class: class, typ: class.Type()}
}

func (p *Path) with(s step) *Path {
	out := *p
	out.steps = append(append([]step(nil), p.steps...), s)
	return &out
}

// Scope returns the scope name the path is rooted at, empty for variables.
func (p *Path) Scope() string { return p.scope }

// Variable returns the root variable, nil for scope-rooted paths.
func (p *Path) Variable() *Variable { return p.variable }

// Field returns the last navigated field, nil for a bare root.
func (p *Path) Field() *mapping.Field { return p.field }

// Class returns the entity or embeddable class the path ends at, nil when
// it ends at a scalar.
func (p *Path) Class() *mapping.Class { return p.class }

// Type returns the static type of the value the path ends at.
func (p *Path) Type() mapping.Type { return p.typ }

// Steps returns the navigated field names in order; casts render as
// "(Class)" and map keys as "KEY()".
func (p *Path) Steps() []string {
	out := make([]string, 0, len(p.steps))
	for _, s := range p.steps {
		switch s.kind {
		case stepCast:
			out = append(out, "("+s.cast.Name+")")
		case stepKey:
			out = append(out, "KEY()")
		default:
			out = append(out, s.field.Name)
		}
	}
	return out
}

// IsCollection reports whether the path ends at a collection or map.
func (p *Path) IsCollection() bool {
	return p.field != nil && p.field.IsToMany() && (len(p.steps) == 0 || p.steps[len(p.steps)-1].kind != stepKey)
}

// Get navigates to field name.
func (p *Path) Get(name string) (*Path, error) {
	return p.get(name, stepGet)
}

// GetOuter navigates to field name with outer joins; every join from here
// on is an outer join.
func (p *Path) GetOuter(name string) (*Path, error) {
	return p.get(name, stepGetOuter)
}

func (p *Path) get(name string, kind stepKind) (*Path, error) {
	if p.class == nil {
		return nil, qerr.User(qerr.CodeInvalidPath, p.String()+"."+name, "cannot navigate through %s value %s", p.typ, p.String())
	}
	f, err := p.class.Field(name)
	if err != nil {
		return nil, err
	}
	out := p.with(step{kind: kind, field: f})
	out.field = f
	out.typ = f.Type
	switch f.Kind {
	case mapping.FieldBasic:
		out.class = nil
	case mapping.FieldEmbedded:
		out.class = f.Embedded
	default:
		out.class = f.Target
	}
	return out, nil
}

// Key navigates to the key of a map.
func (p *Path) Key() (*Path, error) {
	if p.field == nil || p.field.Kind != mapping.FieldMap || !p.IsCollection() {
		return nil, qerr.User(qerr.CodeInvalidPath, "KEY("+p.String()+")", "KEY requires a map path")
	}
	out := p.with(step{kind: stepKey})
	out.class = nil
	out.typ = mapping.Of(p.field.KeyColumn.Type)
	return out, nil
}

// Treat narrows the path to subclass sub.
func (p *Path) Treat(sub *mapping.Class) (*Path, error) {
	construct := "TREAT(" + p.String() + " AS " + sub.Name + ")"
	if p.class == nil || p.class.Embeddable {
		return nil, qerr.User(qerr.CodeInvalidPath, construct, "TREAT requires an entity path")
	}
	if !sub.IsA(p.class) {
		return nil, qerr.User(qerr.CodeInvalidPath, construct, "%s is not a subclass of %s", sub.Name, p.class.Name)
	}
	out := p.with(step{kind: stepCast, cast: sub})
	out.class = sub
	out.typ = sub.Type()
	if p.IsCollection() {
		out.typ = p.typ
	}
	return out, nil
}

func (p *Path) String() string {
	var sb strings.Builder
	if p.variable != nil {
		sb.WriteString(p.variable.Name)
	} else {
		sb.WriteString(p.scope)
	}
	for _, s := range p.steps {
		switch s.kind {
		case stepCast:
			sb.WriteString("(" + s.cast.Name + ")")
		case stepKey:
			return "KEY(" + sb.String() + ")"
		case stepGetOuter:
			sb.WriteString(".")
			sb.WriteString(s.field.Name)
			sb.WriteString("?")
		default:
			sb.WriteString(".")
			sb.WriteString(s.field.Name)
		}
	}
	return sb.String()
}

// colRef is one rendered column.
type colRef struct {
	alias string
	name  string
	typ   mapping.TypeCode
}

type pathState struct {
	baseState
	cols  []colRef
	names []string

	// class is the entity or embeddable the path ends at, nil for scalars.
	class *mapping.Class
	field *mapping.Field

	// alias and key locate the table of class.
	alias string
	key   string

	// disc is the discriminator column, set when the path joined into an
	// entity of a hierarchy that has one.
	disc *colRef
}

func (ps *pathState) conversion() conversion {
	n := len(ps.cols)
	if n == 0 {
		return conversion{n: 1}
	}
	if ps.class == nil && ps.field != nil && ps.field.Enum != nil {
		return conversion{n: 1, conv: enumConv(ps.field.Enum)}
	}
	types := make([]mapping.TypeCode, n)
	for i, c := range ps.cols {
		types[i] = c.typ
	}
	names := ps.names
	if len(names) != n {
		names = make([]string, n)
		for i, c := range ps.cols {
			names[i] = c.name
		}
	}
	return conversion{n: n, conv: componentConv(names, types)}
}

// flattened is a path with any variable roots expanded into their binding
// paths.
type flattened struct {
	scope string
	steps []step

	// own is the index of the first step of the path itself.
	own int

	// marks maps a step index to the variable bound at that collection.
	marks map[int]*Variable
}

func (p *Path) flatten() (*flattened, error) {
	if p.variable == nil {
		return &flattened{scope: p.scope, steps: p.steps, marks: map[int]*Variable{}}, nil
	}
	v := p.variable
	if v.Bound == nil {
		return nil, qerr.User(qerr.CodeUnboundVariable, v.Name, "variable %s is used but never bound to a collection", v.Name)
	}
	fl, err := v.Bound.flatten()
	if err != nil {
		return nil, err
	}
	out := &flattened{scope: fl.scope, marks: fl.marks}
	out.steps = append(append([]step(nil), fl.steps...), p.steps...)
	out.marks[len(fl.steps)-1] = v
	out.own = len(fl.steps)
	return out, nil
}

// resolution walks a flattened path against a select.
type resolution struct {
	ctx   *Context
	sel   *sqlbuild.Select
	psel  *sqlbuild.Select
	flags Flags
	jtype sqlbuild.JoinType
	joins []sqlbuild.Join

	cls   *mapping.Class
	alias string
	key   string

	// known holds the aliases of the hierarchy tables of cls joined so far.
	known map[*mapping.Class]string
}

func (r *resolution) join(j sqlbuild.Join) {
	if r.psel == r.sel {
		r.joins = append(r.joins, j)
	}
}

func (r *resolution) moveTo(cls *mapping.Class, alias, key string) {
	r.cls, r.alias, r.key = cls, alias, key
	r.known = map[*mapping.Class]string{cls: alias}
}

// aliasOf returns the alias of the table holding ancestor's columns,
// joining superclass tables of a joined hierarchy as needed.
func (r *resolution) aliasOf(ancestor *mapping.Class) string {
	if a, ok := r.known[ancestor]; ok {
		return a
	}
	chain := r.cls.SuperChain(ancestor)
	if chain == nil {
		return r.alias
	}
	alias := r.alias
	for i := 0; i+1 < len(chain); i++ {
		cur, next := chain[i], chain[i+1]
		if a, ok := r.known[next]; ok {
			alias = a
			continue
		}
		if next.Table == cur.Table {
			r.known[next] = alias
			continue
		}
		a := r.psel.Alias(r.key+"^"+next.Name, next.Table)
		r.join(sqlbuild.Join{
			Type: sqlbuild.JoinInner, Table: next.Table, Alias: a, FromAlias: alias,
			FromCols: cur.PKColumnNames(), ToCols: next.PKColumnNames(),
		})
		r.known[next] = a
		alias = a
	}
	return alias
}

func pkCols(alias string, cls *mapping.Class, names []string) []colRef {
	out := make([]colRef, len(names))
	for i, n := range names {
		typ := mapping.TypeUnknown
		if i < len(cls.PK) {
			typ = cls.PK[i].Type
		}
		out[i] = colRef{alias: alias, name: n, typ: typ}
	}
	return out
}

// resolve initializes the path. suffix, when set, is the contains-id
// applied to collection aliases of the path's own steps. bind, when set, is
// a variable bound to the collection the path ends at.
func (p *Path) resolve(sel *sqlbuild.Select, ctx *Context, flags Flags, suffix string, bind *Variable) (*pathState, error) {
	fl, err := p.flatten()
	if err != nil {
		return nil, err
	}
	if bind != nil {
		if !p.IsCollection() {
			return nil, qerr.User(qerr.CodeInvalidPath, p.String(), "variable %s must be bound to a collection", bind.Name)
		}
		fl.marks[len(fl.steps)-1] = bind
	}

	sc, _, ok := sel.FindScope(fl.scope)
	if !ok {
		return nil, qerr.User(qerr.CodeInvalidPath, p.String(), "unknown identification variable %q", fl.scope)
	}

	r := &resolution{ctx: ctx, sel: sel, psel: sel, flags: flags}
	// A prefix bound by a variable of an enclosing select resolves there;
	// its joins already belong to that select.
	switchAt := -1
	for i, v := range fl.marks {
		if vs := ctx.variableSelect(v); vs != nil && vs != sel && i > switchAt {
			switchAt = i
		}
	}
	if switchAt >= 0 {
		r.psel = ctx.variableSelect(fl.marks[switchAt])
	}
	if switchAt >= 0 {
		if vsc, _, ok := r.psel.FindScope(fl.scope); ok {
			sc = vsc
		}
	}
	r.moveTo(sc.Class, sc.Alias, sc.Key)

	st := &pathState{}
	done := false
	for i := 0; i < len(fl.steps) && !done; i++ {
		if i == switchAt+1 {
			r.psel = sel
		}
		s := fl.steps[i]
		last := i == len(fl.steps)-1
		switch s.kind {
		case stepCast:
			if err := r.treat(s.cast); err != nil {
				return nil, err
			}
			continue
		case stepKey:
			// consumed by the map step
			continue
		case stepGetOuter:
			r.jtype = sqlbuild.JoinOuter
		}

		f := s.field
		alias := r.alias
		if r.cls != nil && !r.cls.Embeddable && f.Owner != r.cls {
			alias = r.aliasOf(f.Owner)
		}
		switch f.Kind {
		case mapping.FieldBasic:
			st.cols = []colRef{{alias: alias, name: f.Column.Name, typ: f.Column.Type}}
			st.field = f
			r.cls = nil
			done = true

		case mapping.FieldEmbedded:
			r.cls = f.Embedded
			r.alias = alias
			r.key += "." + f.Name
			r.known = map[*mapping.Class]string{f.Embedded: alias}
			st.field = f

		case mapping.FieldRelation:
			st.field = f
			if d := r.relation(f, alias, last, st); d {
				done = true
			}

		case mapping.FieldCollection, mapping.FieldMap:
			st.field = f
			ckey := r.key + "." + f.Name
			if i >= fl.own && suffix != "" {
				ckey += suffix
			}
			if v, ok := fl.marks[i]; ok {
				ckey = "$" + v.Name
			}
			keyNext := i+1 < len(fl.steps) && fl.steps[i+1].kind == stepKey
			if d := r.collection(f, alias, ckey, last, keyNext, st); d {
				done = true
			}
		}
	}

	if !done {
		st.class = r.cls
		st.alias = r.alias
		st.key = r.key
		switch {
		case r.cls == nil:
			return nil, qerr.Internal(qerr.CodeBadState, p.String(), "path resolved to no columns")
		case r.cls.Embeddable:
			for _, f := range r.cls.DeclaredFields() {
				if f.Kind == mapping.FieldBasic {
					st.cols = append(st.cols, colRef{alias: r.alias, name: f.Column.Name, typ: f.Column.Type})
					st.names = append(st.names, f.Name)
				}
			}
		case flags&JoinRel != 0:
			st.cols, st.names = r.entityColumns()
		default:
			st.cols = pkCols(r.alias, r.cls, r.cls.PKColumnNames())
			st.names = r.cls.PKFields
		}
		if root := r.cls.Root(); !r.cls.Embeddable && root.Discriminator != nil && flags&(JoinRel|joinEntity) != 0 {
			st.disc = &colRef{alias: r.aliasOf(root), name: root.Discriminator.Name, typ: root.Discriminator.Type}
		}
	}
	st.joins = sqlbuild.NewJoins(r.joins...)
	return st, nil
}

// relation resolves an entity-valued field. It reports whether the path
// ends without joining the target.
func (r *resolution) relation(f *mapping.Field, alias string, last bool, st *pathState) bool {
	tgt := f.Target
	fkey := r.key + "." + f.Name
	if len(f.FKColumns) > 0 {
		if last && r.flags&(JoinRel|joinEntity) == 0 {
			st.cols = pkCols(alias, tgt, f.FKColumns)
			st.names = tgt.PKFields
			st.class = tgt
			st.alias = alias
			st.key = fkey
			return true
		}
		ta := r.psel.Alias(fkey, tgt.Table)
		r.join(sqlbuild.Join{
			Type: r.jtype, Table: tgt.Table, Alias: ta, FromAlias: alias,
			FromCols: f.FKColumns, ToCols: tgt.PKColumnNames(),
		})
		r.moveTo(tgt, ta, fkey)
		return false
	}

	inv, _ := tgt.Field(f.MappedBy)
	jt := r.jtype
	if last && r.flags&NullTest != 0 {
		jt = sqlbuild.JoinOuter
	}
	ta := r.psel.Alias(fkey, tgt.Table)
	r.join(sqlbuild.Join{
		Type: jt, Table: tgt.Table, Alias: ta, FromAlias: alias,
		FromCols: f.Owner.PKColumnNames(), ToCols: inv.FKColumns,
	})
	r.moveTo(tgt, ta, fkey)
	return false
}

// collection resolves a collection or map field under alias key ckey. It
// reports whether the path ends at the collection table.
func (r *resolution) collection(f *mapping.Field, alias, ckey string, last, keyNext bool, st *pathState) bool {
	tgt := f.Target
	if f.Table != "" {
		ta := r.psel.Alias(ckey+"*", f.Table)
		r.join(sqlbuild.Join{
			Type: r.jtype, Table: f.Table, Alias: ta, FromAlias: alias,
			FromCols: f.Owner.PKColumnNames(), ToCols: f.OwnerColumns, ToMany: true,
		})
		switch {
		case keyNext:
			st.cols = []colRef{{alias: ta, name: f.KeyColumn.Name, typ: f.KeyColumn.Type}}
			return true
		case tgt == nil:
			st.cols = []colRef{{alias: ta, name: f.ElementColumn.Name, typ: f.ElementColumn.Type}}
			return true
		case last && r.flags&(JoinRel|joinEntity) == 0:
			st.cols = pkCols(ta, tgt, f.InverseColumns)
			st.names = tgt.PKFields
			st.class = tgt
			st.alias = ta
			st.key = ckey
			return true
		}
		ea := r.psel.Alias(ckey, tgt.Table)
		r.join(sqlbuild.Join{
			Type: r.jtype, Table: tgt.Table, Alias: ea, FromAlias: ta,
			FromCols: f.InverseColumns, ToCols: tgt.PKColumnNames(), ToMany: true,
		})
		r.moveTo(tgt, ea, ckey)
		return false
	}

	inv, _ := tgt.Field(f.MappedBy)
	ea := r.psel.Alias(ckey, tgt.Table)
	r.join(sqlbuild.Join{
		Type: r.jtype, Table: tgt.Table, Alias: ea, FromAlias: alias,
		FromCols: f.Owner.PKColumnNames(), ToCols: inv.FKColumns, ToMany: true,
	})
	r.moveTo(tgt, ea, ckey)
	return false
}

// treat narrows the current entity to sub: a discriminator restriction in
// a single-table hierarchy, inner joins down to sub's table otherwise. The
// restriction is left on the context for the enclosing condition to claim.
func (r *resolution) treat(sub *mapping.Class) error {
	cur := r.cls
	chain := sub.SuperChain(cur)
	if chain == nil {
		return qerr.User(qerr.CodeInvalidPath, "TREAT AS "+sub.Name, "%s is not a subclass of %s", sub.Name, cur.Name)
	}
	key := r.key + "(" + sub.Name + ")"
	alias := r.alias
	for i := len(chain) - 2; i >= 0; i-- {
		c, parent := chain[i], chain[i+1]
		if c.Table == parent.Table {
			r.known[c] = alias
			continue
		}
		a := r.psel.Alias(r.key+"("+c.Name+")", c.Table)
		r.join(sqlbuild.Join{
			Type: r.jtype, Table: c.Table, Alias: a, FromAlias: alias,
			FromCols: parent.PKColumnNames(), ToCols: c.PKColumnNames(),
		})
		r.known[c] = a
		alias = a
	}
	if sub.Table == cur.Table && sub.Discriminator != nil {
		r.ctx.restrict(discriminatorIn(r.psel, alias, sub.Discriminator.Name, sub.DiscriminatorValues(true)))
	}
	r.cls, r.alias, r.key = sub, alias, key
	return nil
}

// discriminatorIn renders alias.column IN (values).
func discriminatorIn(sel *sqlbuild.Select, alias, column string, values []string) *sqlbuf.Buffer {
	buf := sqlbuf.New(sel.Column(alias, column))
	if len(values) == 1 {
		return buf.Append(" = ").AppendValue(values[0])
	}
	buf.Append(" IN (")
	for i, v := range values {
		if i > 0 {
			buf.Append(", ")
		}
		buf.AppendValue(v)
	}
	return buf.Append(")")
}

// entityColumns lists every column of the current entity: the key, then
// the basic, embedded and foreign key columns of each class from the root
// of the hierarchy down, then the discriminator.
func (r *resolution) entityColumns() ([]colRef, []string) {
	cls := r.cls
	cols := pkCols(r.alias, cls, cls.PKColumnNames())
	names := append([]string(nil), cls.PKFields...)
	seen := make(map[string]bool)
	for _, c := range cols {
		seen[c.alias+"."+c.name] = true
	}
	add := func(alias string, col mapping.Column, name string) {
		k := alias + "." + col.Name
		if seen[k] {
			return
		}
		seen[k] = true
		cols = append(cols, colRef{alias: alias, name: col.Name, typ: col.Type})
		names = append(names, name)
	}

	chain := cls.SuperChain(cls.Root())
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i]
		alias := r.aliasOf(c)
		for _, f := range c.DeclaredFields() {
			switch f.Kind {
			case mapping.FieldBasic:
				add(alias, f.Column, f.Name)
			case mapping.FieldEmbedded:
				for _, ef := range f.Embedded.DeclaredFields() {
					if ef.Kind == mapping.FieldBasic {
						add(alias, ef.Column, f.Name+"."+ef.Name)
					}
				}
			case mapping.FieldRelation:
				for j, fk := range f.FKColumns {
					typ := mapping.TypeUnknown
					if j < len(f.Target.PK) {
						typ = f.Target.PK[j].Type
					}
					add(alias, mapping.Column{Name: fk, Type: typ}, f.Name)
				}
			}
		}
	}
	if d := cls.Root().Discriminator; d != nil {
		add(r.aliasOf(cls.Root()), *d, "TYPE")
	}
	return cols, names
}

// Initialize resolves the path to its columns.
func (p *Path) Initialize(sel *sqlbuild.Select, ctx *Context, flags Flags) (State, error) {
	return p.resolve(sel, ctx, flags, "", nil)
}

func (p *Path) Calculate(_ *sqlbuild.Select, _ *Context, st State, _ Val, _ State) error {
	ps, err := stateOf[*pathState](st, p.String())
	if err != nil {
		return err
	}
	ps.calculated = true
	return nil
}

func (p *Path) Length(st State) int {
	if ps, ok := st.(*pathState); ok {
		return len(ps.cols)
	}
	return 1
}

func (p *Path) AppendTo(sel *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, index int) error {
	ps, err := calculatedState[*pathState](st, p.String())
	if err != nil {
		return err
	}
	if index < 0 || index >= len(ps.cols) {
		return qerr.Internal(qerr.CodeBadState, p.String(), "column %d of %d", index, len(ps.cols))
	}
	c := ps.cols[index]
	buf.Append(sel.Column(c.alias, c.name))
	return nil
}

// BindScope resolves the path into the entity it ends at and makes name
// resolve to that entity's table in sel. Subqueries over a collection of
// an enclosing query use it for their candidate.
func (p *Path) BindScope(sel *sqlbuild.Select, ctx *Context, name string) (*sqlbuild.Joins, error) {
	if p.class == nil || p.class.Embeddable {
		return nil, qerr.User(qerr.CodeNotEntity, p.String(), "subquery candidate must be an entity path")
	}
	st, err := p.resolve(sel, ctx, joinEntity, "", nil)
	if err != nil {
		return nil, err
	}
	sel.BindScope(name, sqlbuild.Scope{Alias: st.alias, Class: st.class, Key: name})
	return st.joins, nil
}

// Variable stands for an element of a collection. It is bound by a
// contains test against a collection path; paths rooted at the variable
// then navigate from that element.
type Variable struct {
	Name  string
	typ   mapping.Type
	class *mapping.Class

	// Bound is the collection path or constant collection the variable
	// ranges over. It is set while the tree is built.
	Bound  *Path
	Values Val
}

func (v *Variable) Type() mapping.Type { return v.typ }

// IsBound reports whether a contains test bound the variable.
func (v *Variable) IsBound() bool { return v.Bound != nil || v.Values != nil }

func (v *Variable) path() (*Path, error) {
	if v.Values != nil {
		return nil, qerr.User(qerr.CodeInvalidQuery, v.Name, "variable %s ranges over constants and can only be compared for equality", v.Name)
	}
	if v.Bound == nil {
		return nil, qerr.User(qerr.CodeUnboundVariable, v.Name, "variable %s is used but never bound to a collection", v.Name)
	}
	return &Path{variable: v, class: v.class, typ: v.typ}, nil
}

func (v *Variable) Initialize(sel *sqlbuild.Select, ctx *Context, flags Flags) (State, error) {
	p, err := v.path()
	if err != nil {
		return nil, err
	}
	return p.resolve(sel, ctx, flags, "", nil)
}

func (v *Variable) Calculate(_ *sqlbuild.Select, _ *Context, st State, _ Val, _ State) error {
	ps, err := stateOf[*pathState](st, v.Name)
	if err != nil {
		return err
	}
	ps.calculated = true
	return nil
}

func (v *Variable) Length(st State) int {
	if ps, ok := st.(*pathState); ok {
		return len(ps.cols)
	}
	return 1
}

func (v *Variable) AppendTo(sel *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, index int) error {
	ps, err := calculatedState[*pathState](st, v.Name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(ps.cols) {
		return qerr.Internal(qerr.CodeBadState, v.Name, "column %d of %d", index, len(ps.cols))
	}
	c := ps.cols[index]
	buf.Append(sel.Column(c.alias, c.name))
	return nil
}

// TypeVal is TYPE(path): the discriminator of the entity a path ends at.
type TypeVal struct {
	Path *Path
}

type typeState struct {
	baseState
	col colRef
}

func (t *TypeVal) Type() mapping.Type { return mapping.Of(mapping.TypeString) }

func (t *TypeVal) Initialize(sel *sqlbuild.Select, ctx *Context, _ Flags) (State, error) {
	ps, err := t.Path.resolve(sel, ctx, joinEntity, "", nil)
	if err != nil {
		return nil, err
	}
	if ps.disc == nil {
		return nil, qerr.User(qerr.CodeInvalidQuery, "TYPE("+t.Path.String()+")", "%s has no discriminator column", t.Path.Class().Name)
	}
	return &typeState{baseState: baseState{joins: ps.joins}, col: *ps.disc}, nil
}

func (t *TypeVal) Calculate(_ *sqlbuild.Select, _ *Context, st State, _ Val, _ State) error {
	ts, err := stateOf[*typeState](st, "TYPE")
	if err != nil {
		return err
	}
	ts.calculated = true
	return nil
}

func (t *TypeVal) Length(State) int { return 1 }

func (t *TypeVal) AppendTo(sel *sqlbuild.Select, _ *Context, st State, buf *sqlbuf.Buffer, _ int) error {
	ts, err := calculatedState[*typeState](st, "TYPE")
	if err != nil {
		return err
	}
	buf.Append(sel.Column(ts.col.alias, ts.col.name))
	return nil
}

// ObjectID is the identity of an entity path: its key columns.
type ObjectID struct {
	Path *Path
}

func (o *ObjectID) Type() mapping.Type {
	cls := o.Path.Class()
	if len(cls.PK) == 1 {
		return mapping.Of(cls.PK[0].Type)
	}
	return mapping.Of(mapping.TypeObject)
}

func (o *ObjectID) Initialize(sel *sqlbuild.Select, ctx *Context, flags Flags) (State, error) {
	return o.Path.resolve(sel, ctx, flags&^JoinRel, "", nil)
}

func (o *ObjectID) Calculate(sel *sqlbuild.Select, ctx *Context, st State, other Val, otherState State) error {
	return o.Path.Calculate(sel, ctx, st, other, otherState)
}

func (o *ObjectID) Length(st State) int { return o.Path.Length(st) }

func (o *ObjectID) AppendTo(sel *sqlbuild.Select, ctx *Context, st State, buf *sqlbuf.Buffer, index int) error {
	return o.Path.AppendTo(sel, ctx, st, buf, index)
}
