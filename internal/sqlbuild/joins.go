// Package sqlbuild assembles SELECT statements: the join descriptor
// algebra expressions merge their join requirements with, and the Select
// that owns table aliases and renders the final statement text.
package sqlbuild

import (
	"strings"
)

// JoinType is the kind of a relational join.
type JoinType int

const (
	JoinInner JoinType = iota
	JoinOuter
)

func (t JoinType) String() string {
	if t == JoinOuter {
		return "LEFT OUTER JOIN"
	}
	return "INNER JOIN"
}

// Join is one relational join from FromAlias to Table aliased Alias,
// on FromCols[i] = ToCols[i].
type Join struct {
	Type      JoinType
	Table     string
	Alias     string
	FromAlias string
	FromCols  []string
	ToCols    []string

	// ToMany marks joins that can multiply rows of the source table.
	ToMany bool

	// Conditional marks joins an OR or NOT made optional. With traditional
	// join syntax their conditions are written inside the owning branch.
	Conditional bool
}

// Key identifies structurally identical joins.
func (j Join) Key() string {
	var sb strings.Builder
	sb.WriteString(j.Table)
	sb.WriteByte('|')
	sb.WriteString(j.Alias)
	sb.WriteByte('|')
	sb.WriteString(j.FromAlias)
	sb.WriteByte('|')
	sb.WriteString(strings.Join(j.FromCols, ","))
	sb.WriteByte('=')
	sb.WriteString(strings.Join(j.ToCols, ","))
	return sb.String()
}

// Condition returns the ON condition text.
func (j Join) Condition() string {
	var sb strings.Builder
	for i := range j.FromCols {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(j.FromAlias)
		sb.WriteByte('.')
		sb.WriteString(j.FromCols[i])
		sb.WriteString(" = ")
		sb.WriteString(j.Alias)
		sb.WriteByte('.')
		sb.WriteString(j.ToCols[i])
	}
	return sb.String()
}

// Joins is an ordered set of joins keyed by Join.Key. A nil *Joins is the
// empty set. Joins values are never modified once built; And and Or
// return new sets.
type Joins struct {
	list  []Join
	index map[string]int
}

// NewJoins returns a set holding js, collapsing duplicates.
func NewJoins(js ...Join) *Joins {
	if len(js) == 0 {
		return nil
	}
	out := &Joins{index: make(map[string]int, len(js))}
	for _, j := range js {
		out.merge(j, true)
	}
	return out
}

// Len returns the number of joins.
func (j *Joins) Len() int {
	if j == nil {
		return 0
	}
	return len(j.list)
}

// IsEmpty reports whether the set has no joins.
func (j *Joins) IsEmpty() bool {
	return j.Len() == 0
}

// List returns the joins in insertion order.
func (j *Joins) List() []Join {
	if j == nil {
		return nil
	}
	return append([]Join(nil), j.list...)
}

// Get returns the join with the given key.
func (j *Joins) Get(key string) (Join, bool) {
	if j == nil {
		return Join{}, false
	}
	i, ok := j.index[key]
	if !ok {
		return Join{}, false
	}
	return j.list[i], true
}

// Has reports whether a join with the given key is present.
func (j *Joins) Has(key string) bool {
	_, ok := j.Get(key)
	return ok
}

// Aliases returns the aliases the joins introduce.
func (j *Joins) Aliases() []string {
	out := make([]string, 0, j.Len())
	for _, join := range j.List() {
		out = append(out, join.Alias)
	}
	return out
}

// merge adds join, keeping the stronger requirement on key collision.
func (j *Joins) merge(join Join, inner bool) {
	if i, ok := j.index[join.Key()]; ok {
		cur := j.list[i]
		if inner && join.Type == JoinInner {
			cur.Type = JoinInner
			cur.Conditional = false
		}
		cur.ToMany = cur.ToMany || join.ToMany
		j.list[i] = cur
		return
	}
	j.index[join.Key()] = len(j.list)
	j.list = append(j.list, join)
}

func (j *Joins) clone() *Joins {
	out := &Joins{index: make(map[string]int, j.Len())}
	for _, join := range j.List() {
		out.index[join.Key()] = len(out.list)
		out.list = append(out.list, join)
	}
	return out
}

// And returns the joins both a and b require. Identical joins collapse to
// one; an inner requirement on either side wins over an outer one.
func And(a, b *Joins) *Joins {
	switch {
	case a.IsEmpty() && b.IsEmpty():
		return nil
	case b.IsEmpty():
		return a
	case a.IsEmpty():
		return b
	}
	out := a.clone()
	for _, join := range b.list {
		out.merge(join, true)
	}
	return out
}

// Or returns joins valid whichever of a and b holds. A join both branches
// require as inner stays inner; every other join becomes an outer,
// conditional join, so it no longer filters rows when hoisted to FROM.
func Or(a, b *Joins) *Joins {
	if a.IsEmpty() && b.IsEmpty() {
		return nil
	}
	out := &Joins{index: make(map[string]int, a.Len()+b.Len())}
	add := func(join Join, other *Joins) {
		if o, ok := other.Get(join.Key()); !ok || o.Type != JoinInner || join.Type != JoinInner {
			if join.Type == JoinInner {
				join.Conditional = true
			}
			join.Type = JoinOuter
		}
		out.merge(join, false)
	}
	for _, join := range a.List() {
		add(join, b)
	}
	for _, join := range b.List() {
		add(join, a)
	}
	return out
}

// Outer converts every inner join of j to a conditional outer join.
// It is Or(j, nil).
func Outer(j *Joins) *Joins {
	return Or(j, nil)
}

// Minus returns the joins of a whose key is absent from b.
func Minus(a, b *Joins) []Join {
	var out []Join
	for _, join := range a.List() {
		if !b.Has(join.Key()) {
			out = append(out, join)
		}
	}
	return out
}
