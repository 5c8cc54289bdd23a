package sqlbuild

import (
	"fmt"
	"strings"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/sqlbuf"
)

// Scope is a name paths can be rooted at: the candidate of a select, or a
// name bound to a table alias inside it (subquery candidate paths).
type Scope struct {
	Name  string
	Alias string
	Class *mapping.Class

	// Key prefixes alias keys of paths rooted at the scope.
	Key string
}

type aliasGen struct {
	tables  int
	derived int
}

type order struct {
	buf *sqlbuf.Buffer
	asc bool
}

// Select is a SELECT under construction. It owns the aliases of the tables
// it reads, the merged joins of every expression appended to it, and the
// clause buffers. Child selects (subqueries) share the alias generator of
// their root so aliases stay unique across the statement.
//
// A Select is not safe for concurrent use.
type Select struct {
	dict   *dialect.Dictionary
	parent *Select
	gen    *aliasGen

	class *mapping.Class
	alias string

	scopes  map[string]Scope
	aliases map[string]string // alias key -> alias
	tables  map[string]string // alias -> table

	joins    *Joins
	conds    []*sqlbuf.Buffer
	condKeys map[string]bool

	projections []*sqlbuf.Buffer
	groups      []*sqlbuf.Buffer
	having      *sqlbuf.Buffer
	orders      []order
	distinct    bool
	offset      dialect.FilterValue
	limit       dialect.FilterValue

	// inner is set on a wrapper: a select reading FROM (inner) s0.
	inner      *Select
	innerAlias string
	innerCols  map[string]string
	innerOrder []string
}

// New returns a root select over class, whose candidate is named scope.
func New(dict *dialect.Dictionary, class *mapping.Class, scope string) *Select {
	s := newSelect(dict, nil, &aliasGen{})
	s.setCandidate(class, scope)
	return s
}

func newSelect(dict *dialect.Dictionary, parent *Select, gen *aliasGen) *Select {
	return &Select{
		dict:     dict,
		parent:   parent,
		gen:      gen,
		scopes:   make(map[string]Scope),
		aliases:  make(map[string]string),
		tables:   make(map[string]string),
		condKeys: make(map[string]bool),
	}
}

func (s *Select) setCandidate(class *mapping.Class, scope string) {
	if class == nil {
		return
	}
	s.class = class
	s.alias = s.nextAlias(class.Table)
	s.scopes[scope] = Scope{Name: scope, Alias: s.alias, Class: class, Key: scope}
}

// NewChild returns a subselect correlated to s. class may be nil for a
// subselect whose FROM is derived from a path of an enclosing query.
func (s *Select) NewChild(class *mapping.Class, scope string) *Select {
	base := s.base()
	c := newSelect(base.dict, base, base.gen)
	c.setCandidate(class, scope)
	return c
}

// base is the select aliases and joins belong to: s itself, or the inner
// select of a wrapper.
func (s *Select) base() *Select {
	if s.inner != nil {
		return s.inner
	}
	return s
}

func (s *Select) nextAlias(table string) string {
	a := fmt.Sprintf("t%d", s.gen.tables)
	s.gen.tables++
	s.tables[a] = table
	return a
}

// Dict returns the dialect the select renders for.
func (s *Select) Dict() *dialect.Dictionary {
	return s.dict
}

// Parent returns the enclosing select, or nil.
func (s *Select) Parent() *Select {
	return s.base().parent
}

// Class returns the candidate class, nil for derived subselects.
func (s *Select) Class() *mapping.Class {
	return s.base().class
}

// CandidateAlias returns the alias of the candidate table.
func (s *Select) CandidateAlias() string {
	return s.base().alias
}

// BindScope makes name resolve to sc within s and its children.
func (s *Select) BindScope(name string, sc Scope) {
	sc.Name = name
	s.base().scopes[name] = sc
}

// FindScope resolves a scope name against s and then its ancestors. The
// empty name resolves to the nearest select with a candidate.
func (s *Select) FindScope(name string) (Scope, *Select, bool) {
	for cur := s.base(); cur != nil; cur = cur.parent {
		if name == "" {
			if cur.class != nil {
				for _, sc := range cur.scopes {
					if sc.Alias == cur.alias {
						return sc, cur, true
					}
				}
			}
			continue
		}
		if sc, ok := cur.scopes[name]; ok {
			return sc, cur, true
		}
	}
	return Scope{}, nil, false
}

// Alias returns the alias registered for key, allocating a new alias for
// table the first time key is seen. Re-initializing an expression against
// the same select therefore yields the same aliases.
func (s *Select) Alias(key, table string) string {
	b := s.base()
	if a, ok := b.aliases[key]; ok {
		return a
	}
	a := b.nextAlias(table)
	b.aliases[key] = a
	return a
}

// Owns reports whether alias is a table of s itself.
func (s *Select) Owns(alias string) bool {
	_, ok := s.base().tables[alias]
	return ok
}

func (s *Select) ownedByAncestor(alias string) bool {
	for cur := s.base().parent; cur != nil; cur = cur.parent {
		if cur.Owns(alias) {
			return true
		}
	}
	return false
}

// AddJoins merges joins into the select's FROM requirements.
func (s *Select) AddJoins(j *Joins) {
	b := s.base()
	b.joins = And(b.joins, j)
}

// Joins returns the merged joins.
func (s *Select) Joins() *Joins {
	return s.base().joins
}

// HasToManyJoins reports whether an inner join can multiply candidate rows.
func (s *Select) HasToManyJoins() bool {
	for _, j := range s.Joins().List() {
		if j.ToMany {
			return true
		}
	}
	return false
}

// Where adds a condition ANDed into the WHERE clause.
func (s *Select) Where(buf *sqlbuf.Buffer) {
	if buf.IsEmpty() {
		return
	}
	b := s.base()
	b.conds = append(b.conds, buf)
}

// Restrict adds a condition once; repeated identical conditions are dropped.
func (s *Select) Restrict(buf *sqlbuf.Buffer) {
	b := s.base()
	key := restrictionKey(buf)
	if b.condKeys[key] {
		return
	}
	b.condKeys[key] = true
	b.Where(buf)
}

func restrictionKey(buf *sqlbuf.Buffer) string {
	var sb strings.Builder
	sb.WriteString(buf.SQL())
	for _, slot := range buf.Slots() {
		fmt.Fprintf(&sb, "|%v", slot.Value)
	}
	return sb.String()
}

// AddProjection appends a SELECT list item.
func (s *Select) AddProjection(buf *sqlbuf.Buffer) {
	s.projections = append(s.projections, buf)
}

// ProjectionCount returns the number of SELECT list items.
func (s *Select) ProjectionCount() int {
	return len(s.projections)
}

// AddGroup appends a GROUP BY item.
func (s *Select) AddGroup(buf *sqlbuf.Buffer) {
	s.groups = append(s.groups, buf)
}

// SetHaving sets the HAVING condition.
func (s *Select) SetHaving(buf *sqlbuf.Buffer) {
	s.having = buf
}

// AddOrder appends an ORDER BY item.
func (s *Select) AddOrder(buf *sqlbuf.Buffer, asc bool) {
	s.orders = append(s.orders, order{buf: buf, asc: asc})
}

// SetDistinct marks the select DISTINCT.
func (s *Select) SetDistinct(distinct bool) {
	s.distinct = distinct
}

// IsDistinct reports whether the select is DISTINCT.
func (s *Select) IsDistinct() bool {
	return s.distinct
}

// SetRange sets the result range. Either value may be nil.
func (s *Select) SetRange(offset, limit dialect.FilterValue) {
	s.offset, s.limit = offset, limit
}

// Column returns the SQL text addressing column of alias. On a wrapper the
// column is added to the inner select list and addressed through it.
func (s *Select) Column(alias, column string) string {
	if s.inner == nil {
		return alias + "." + column
	}
	qualified := alias + "." + column
	if c, ok := s.innerCols[qualified]; ok {
		return s.innerAlias + "." + c
	}
	c := fmt.Sprintf("c%d", len(s.innerOrder))
	s.innerCols[qualified] = c
	s.innerOrder = append(s.innerOrder, qualified)
	return s.innerAlias + "." + c
}

// IsWrapper reports whether s reads from an inner select.
func (s *Select) IsWrapper() bool {
	return s.inner != nil
}

// Wrap returns a select over FROM (s) s0. The inner select becomes
// DISTINCT over the candidate key plus every column the wrapper addresses,
// and loses its projections, grouping, ordering and range; those belong
// on the wrapper. Aliases, scopes and joins still resolve into s.
func (s *Select) Wrap() *Select {
	w := newSelect(s.dict, s.parent, s.gen)
	w.inner = s
	w.innerAlias = fmt.Sprintf("s%d", s.gen.derived)
	s.gen.derived++
	w.innerCols = make(map[string]string)
	w.distinct = false
	s.distinct = true
	s.projections, s.groups, s.having, s.orders = nil, nil, nil, nil
	s.offset, s.limit = nil, nil
	if s.class != nil {
		for _, col := range s.class.PKColumnNames() {
			w.Column(s.alias, col)
		}
	}
	return w
}

// AppendConditionalJoins writes " AND cond" for each join of branch that
// the select holds as a conditional join. It only writes anything under
// traditional join syntax, where such joins have no ON clause of their own.
func (s *Select) AppendConditionalJoins(buf *sqlbuf.Buffer, branch *Joins) {
	if s.dict.JoinSyntax != dialect.SyntaxTraditional {
		return
	}
	merged := s.Joins()
	for _, j := range branch.List() {
		if m, ok := merged.Get(j.Key()); ok && m.Conditional {
			buf.Append(" AND ").Append(j.Condition())
		}
	}
}

// Clone returns an independent copy sharing no mutable state with s.
func (s *Select) Clone() *Select {
	gen := *s.gen
	return s.cloneWith(s.parent, &gen)
}

func (s *Select) cloneWith(parent *Select, gen *aliasGen) *Select {
	c := &Select{
		dict:       s.dict,
		parent:     parent,
		gen:        gen,
		class:      s.class,
		alias:      s.alias,
		scopes:     make(map[string]Scope, len(s.scopes)),
		aliases:    make(map[string]string, len(s.aliases)),
		tables:     make(map[string]string, len(s.tables)),
		joins:      s.joins,
		condKeys:   make(map[string]bool, len(s.condKeys)),
		distinct:   s.distinct,
		offset:     s.offset,
		limit:      s.limit,
		having:     s.having.Clone(),
		innerAlias: s.innerAlias,
		innerOrder: append([]string(nil), s.innerOrder...),
	}
	for k, v := range s.scopes {
		c.scopes[k] = v
	}
	for k, v := range s.aliases {
		c.aliases[k] = v
	}
	for k, v := range s.tables {
		c.tables[k] = v
	}
	for k, v := range s.condKeys {
		c.condKeys[k] = v
	}
	c.conds = cloneBuffers(s.conds)
	c.projections = cloneBuffers(s.projections)
	c.groups = cloneBuffers(s.groups)
	for _, o := range s.orders {
		c.orders = append(c.orders, order{buf: o.buf.Clone(), asc: o.asc})
	}
	if s.inner != nil {
		c.inner = s.inner.cloneWith(parent, gen)
		c.innerCols = make(map[string]string, len(s.innerCols))
		for k, v := range s.innerCols {
			c.innerCols[k] = v
		}
	}
	return c
}

func cloneBuffers(in []*sqlbuf.Buffer) []*sqlbuf.Buffer {
	if in == nil {
		return nil
	}
	out := make([]*sqlbuf.Buffer, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}

// Statement renders the complete SELECT.
func (s *Select) Statement() (*sqlbuf.Buffer, error) {
	buf := sqlbuf.New("SELECT ")
	if s.distinct {
		buf.Append("DISTINCT ")
	}

	if s.inner != nil {
		if err := s.appendProjections(buf); err != nil {
			return nil, err
		}
		inner, err := s.innerStatement()
		if err != nil {
			return nil, err
		}
		buf.Append(" FROM (").AppendBuffer(inner).Append(") ").Append(s.innerAlias)
		return s.appendTail(buf, nil)
	}

	if err := s.appendProjections(buf); err != nil {
		return nil, err
	}
	var conds []*sqlbuf.Buffer
	buf.Append(" FROM ")
	if err := s.appendFrom(buf, &conds); err != nil {
		return nil, err
	}
	return s.appendTail(buf, append(conds, s.conds...))
}

func (s *Select) innerStatement() (*sqlbuf.Buffer, error) {
	in := s.inner
	saved := in.projections
	in.projections = nil
	for i, qualified := range s.innerOrder {
		in.projections = append(in.projections, sqlbuf.New(qualified, " AS ", fmt.Sprintf("c%d", i)))
	}
	defer func() { in.projections = saved }()
	return in.Statement()
}

func (s *Select) appendProjections(buf *sqlbuf.Buffer) error {
	if len(s.projections) == 0 {
		return qerr.Internal(qerr.CodeBadState, "SELECT", "select has no projections")
	}
	for i, p := range s.projections {
		if i > 0 {
			buf.Append(", ")
		}
		buf.AppendBuffer(p)
	}
	return nil
}

func (s *Select) appendTail(buf *sqlbuf.Buffer, conds []*sqlbuf.Buffer) (*sqlbuf.Buffer, error) {
	if len(conds) > 0 {
		buf.Append(" WHERE ")
		for i, c := range conds {
			if i > 0 {
				buf.Append(" AND ")
			}
			buf.AppendBuffer(c)
		}
	}
	if len(s.groups) > 0 {
		buf.Append(" GROUP BY ")
		for i, g := range s.groups {
			if i > 0 {
				buf.Append(", ")
			}
			buf.AppendBuffer(g)
		}
	}
	if !s.having.IsEmpty() {
		buf.Append(" HAVING ").AppendBuffer(s.having)
	}
	if len(s.orders) > 0 {
		buf.Append(" ORDER BY ")
		for i, o := range s.orders {
			if i > 0 {
				buf.Append(", ")
			}
			buf.AppendBuffer(o.buf)
			if o.asc {
				buf.Append(" ASC")
			} else {
				buf.Append(" DESC")
			}
		}
	}
	if err := s.dict.AppendRange(buf, s.offset, s.limit); err != nil {
		return nil, err
	}
	return buf, nil
}

// fromTree is one comma-separated FROM item: a root table and the joins
// chained from it.
type fromTree struct {
	table string
	alias string
	joins []Join
}

// appendFrom writes the FROM clause. Join and correlation conditions that
// belong in WHERE are added to conds.
func (s *Select) appendFrom(buf *sqlbuf.Buffer, conds *[]*sqlbuf.Buffer) error {
	var trees []*fromTree
	owner := make(map[string]int)
	if s.class != nil {
		trees = append(trees, &fromTree{table: s.class.Table, alias: s.alias})
		owner[s.alias] = 0
	}

	pending := s.joins.List()
	for len(pending) > 0 {
		var rest []Join
		progressed := false
		for _, j := range pending {
			if ti, ok := owner[j.FromAlias]; ok {
				trees[ti].joins = append(trees[ti].joins, j)
				owner[j.Alias] = ti
				progressed = true
				continue
			}
			rest = append(rest, j)
		}
		pending = rest
		if progressed || len(pending) == 0 {
			continue
		}
		// a join from an enclosing query's alias starts a new FROM item
		idx := -1
		for i, j := range pending {
			if s.ownedByAncestor(j.FromAlias) {
				idx = i
				break
			}
		}
		if idx < 0 {
			return qerr.Internal(qerr.CodeBadState, pending[0].Alias, "join source alias %s is not in scope", pending[0].FromAlias)
		}
		j := pending[idx]
		pending = append(pending[:idx:idx], pending[idx+1:]...)
		trees = append(trees, &fromTree{table: j.Table, alias: j.Alias})
		owner[j.Alias] = len(trees) - 1
		*conds = append(*conds, sqlbuf.New(j.Condition()))
	}
	if len(trees) == 0 {
		return qerr.Internal(qerr.CodeBadState, "FROM", "select reads no tables")
	}

	if s.dict.JoinSyntax == dialect.SyntaxTraditional {
		return s.appendTraditionalFrom(buf, trees, conds)
	}
	for i, t := range trees {
		if i > 0 {
			buf.Append(", ")
		}
		buf.Append(t.table).Append(" ").Append(t.alias)
		for _, j := range t.joins {
			buf.Append(" ").Append(j.Type.String()).Append(" ").
				Append(j.Table).Append(" ").Append(j.Alias).
				Append(" ON ").Append(j.Condition())
		}
	}
	return nil
}

func (s *Select) appendTraditionalFrom(buf *sqlbuf.Buffer, trees []*fromTree, conds *[]*sqlbuf.Buffer) error {
	var joinConds []*sqlbuf.Buffer
	first := true
	item := func(table, alias string) {
		if !first {
			buf.Append(", ")
		}
		first = false
		buf.Append(table).Append(" ").Append(alias)
	}
	for _, t := range trees {
		item(t.table, t.alias)
		for _, j := range t.joins {
			switch {
			case j.Type == JoinInner:
				joinConds = append(joinConds, sqlbuf.New(j.Condition()))
			case j.Conditional:
				// written by the owning OR / NOT branch
			default:
				return s.dict.AssertSupport(false, "outer join")
			}
			item(j.Table, j.Alias)
		}
	}
	*conds = append(joinConds, *conds...)
	return nil
}

// Aliases returns a copy of the alias keys registered on the select.
func (s *Select) Aliases() map[string]string {
	b := s.base()
	out := make(map[string]string, len(b.aliases))
	for k, v := range b.aliases {
		out[k] = v
	}
	return out
}
