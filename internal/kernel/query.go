// Package kernel turns query expressions into SQL statements.
//
// QueryExpressions is the parsed form of one query. A SelectConstructor
// compiles one QueryExpressions repeatedly, caching as much of the work as
// the query allows; a Compiler keeps constructors for many queries, keyed
// by query shape.
package kernel

import (
	"strings"

	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/shape"
)

// Projection is one item of the select list.
type Projection struct {
	Val   exps.Val
	Alias string
}

// Order is one ORDER BY item.
type Order struct {
	Val exps.Val
	Asc bool
}

// QueryExpressions holds the trees of one query. A nil Filter selects
// every candidate; no Projections selects the candidate entity.
type QueryExpressions struct {
	Candidate *mapping.Class
	Alias     string

	// Subclasses includes instances of subclasses of Candidate.
	Subclasses bool

	// From makes the query range over a collection path of an enclosing
	// query instead of the candidate extent. Subqueries only.
	From *exps.Path

	Filter      exps.Exp
	Projections []Projection
	Grouping    []exps.Val
	Having      exps.Exp
	Ordering    []Order
	Distinct    bool
	Offset      exps.Val
	Limit       exps.Val
}

// Validate checks the parts that do not depend on a select.
func (q *QueryExpressions) Validate() error {
	if q.Candidate == nil {
		return qerr.User(qerr.CodeInvalidQuery, "FROM", "query has no candidate class")
	}
	if q.Candidate.Embeddable {
		return qerr.User(qerr.CodeNotEntity, q.Candidate.Name, "candidate must be an entity")
	}
	if q.Alias == "" {
		return qerr.User(qerr.CodeInvalidQuery, q.Candidate.Name, "candidate has no alias")
	}
	for i, p := range q.Projections {
		if p.Val == nil {
			return qerr.User(qerr.CodeInvalidQuery, "SELECT", "projection %d is empty", i)
		}
	}
	for i, o := range q.Ordering {
		if o.Val == nil {
			return qerr.User(qerr.CodeInvalidQuery, "ORDER BY", "ordering %d is empty", i)
		}
	}
	return nil
}

// IsExtent reports whether the query reads every candidate unchanged: no
// filter, projection, grouping, ordering or range.
func (q *QueryExpressions) IsExtent() bool {
	return q.Filter == nil && len(q.Projections) == 0 && len(q.Grouping) == 0 &&
		q.Having == nil && len(q.Ordering) == 0 && q.Offset == nil && q.Limit == nil &&
		!q.Distinct && q.From == nil
}

// ResultType is the type of the single projection, or the candidate type
// when the query projects the candidate.
func (q *QueryExpressions) ResultType() mapping.Type {
	switch len(q.Projections) {
	case 0:
		if q.Candidate == nil {
			return mapping.Type{}
		}
		return q.Candidate.Type()
	case 1:
		return q.Projections[0].Val.Type()
	}
	return mapping.Type{}
}

func (q *QueryExpressions) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if q.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if len(q.Projections) == 0 {
		sb.WriteString(q.Alias)
	}
	for i, p := range q.Projections {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(exps.Describe(p.Val))
		if p.Alias != "" {
			sb.WriteString(" AS " + p.Alias)
		}
	}
	sb.WriteString(" FROM ")
	if q.From != nil {
		sb.WriteString(q.From.String())
	} else if q.Candidate != nil {
		sb.WriteString(q.Candidate.Name)
	}
	sb.WriteString(" " + q.Alias)
	if q.Filter != nil {
		sb.WriteString(" WHERE " + exps.Describe(q.Filter))
	}
	if len(q.Grouping) > 0 {
		sb.WriteString(" GROUP BY ")
		for i, g := range q.Grouping {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(exps.Describe(g))
		}
	}
	if q.Having != nil {
		sb.WriteString(" HAVING " + exps.Describe(q.Having))
	}
	if len(q.Ordering) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(q.orderings(), ", "))
	}
	if q.Offset != nil {
		sb.WriteString(" OFFSET " + exps.Describe(q.Offset))
	}
	if q.Limit != nil {
		sb.WriteString(" LIMIT " + exps.Describe(q.Limit))
	}
	return sb.String()
}

func (q *QueryExpressions) orderings() []string {
	out := make([]string, len(q.Ordering))
	for i, o := range q.Ordering {
		dir := " DESC"
		if o.Asc {
			dir = " ASC"
		}
		out[i] = exps.Describe(o.Val) + dir
	}
	return out
}

// Shape returns the canonical form of everything that decides the SQL
// text: two queries with equal shapes compile to the same statement.
// Parameter values are not part of the shape; literal values are.
func (q *QueryExpressions) Shape() map[string]any {
	describe := func(n exps.Node) string {
		if n == nil {
			return ""
		}
		return exps.Describe(n)
	}
	vals := func(vs []exps.Val) []string {
		out := make([]string, len(vs))
		for i, v := range vs {
			out[i] = exps.Describe(v)
		}
		return out
	}
	projections := make([]string, len(q.Projections))
	for i, p := range q.Projections {
		projections[i] = exps.Describe(p.Val) + " AS " + p.Alias
	}
	candidate := ""
	if q.Candidate != nil {
		candidate = q.Candidate.Name
	}
	from := ""
	if q.From != nil {
		from = q.From.String()
	}

	m := map[string]any{
		"candidate":   candidate,
		"alias":       q.Alias,
		"subclasses":  q.Subclasses,
		"from":        from,
		"projections": projections,
		"grouping":    vals(q.Grouping),
		"ordering":    q.orderings(),
		"distinct":    q.Distinct,
		"filter":      "",
		"having":      "",
		"offset":      "",
		"limit":       "",
	}
	if q.Filter != nil {
		m["filter"] = describe(q.Filter)
	}
	if q.Having != nil {
		m["having"] = describe(q.Having)
	}
	if q.Offset != nil {
		m["offset"] = describe(q.Offset)
	}
	if q.Limit != nil {
		m["limit"] = describe(q.Limit)
	}
	return m
}

// Fingerprint hashes Shape.
func (q *QueryExpressions) Fingerprint() (string, error) {
	return shape.Fingerprint(q.Shape())
}
