package querydoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/kernel"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/testutil"
)

func translate(t *testing.T, src string) *kernel.QueryExpressions {
	t.Helper()
	docs, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	q, err := NewTranslator(testutil.SampleRepository(t)).Query(docs[0])
	require.NoError(t, err)
	return q
}

func translateErr(t *testing.T, src string) error {
	t.Helper()
	docs, err := Parse([]byte(src))
	require.NoError(t, err)
	_, err = NewTranslator(testutil.SampleRepository(t)).Query(docs[0])
	require.Error(t, err)
	return err
}

func compile(t *testing.T, q *kernel.QueryExpressions, params map[string]any) *kernel.Statement {
	t.Helper()
	sc := kernel.NewSelectConstructor(q, dialect.MustLookup("sqlite"), testutil.SampleRepository(t), testutil.DiscardLogger())
	st, err := sc.Evaluate(params, kernel.CacheNone)
	require.NoError(t, err)
	return st
}

func TestTranslate_RelationFilter(t *testing.T) {
	q := translate(t, `
name: engineers
candidate: Person
alias: p
filter:
  and:
    - {"=": [p.dept.name, Eng]}
    - {">": [p.age, 30]}
select: [p.name]
`)
	assert.Equal(t, "SELECT p.name FROM Person p WHERE p.dept.name = 'Eng' AND p.age > 30", q.String())

	st := compile(t, q, nil)
	assert.Equal(t, "SELECT t0.name FROM person t0 INNER JOIN department t1 ON t0.dept_id = t1.id"+
		" WHERE t1.name = ? AND t0.age > ?", st.SQL)
	assert.Equal(t, []any{"Eng", int64(30)}, st.Args)
}

func TestTranslate_GroupHavingOrder(t *testing.T) {
	q := translate(t, `
candidate: Person
alias: p
select: [p.dept.name, {count: p.id, as: headcount}]
group: [p.dept.name]
having: {">": [{count: p.id}, 1]}
order: [{by: p.dept.name}]
`)
	st := compile(t, q, nil)
	assert.Equal(t, "SELECT t1.name, COUNT(t0.id) AS headcount FROM person t0"+
		" INNER JOIN department t1 ON t0.dept_id = t1.id GROUP BY t1.name"+
		" HAVING COUNT(t0.id) > ? ORDER BY t1.name ASC", st.SQL)
	assert.Equal(t, []any{int64(1)}, st.Args)
}

func TestTranslate_CorrelatedSubqueryOverPath(t *testing.T) {
	q := translate(t, `
candidate: Person
alias: p
filter:
  exists:
    from: p.projects
    alias: pr
    filter: {">": [pr.cost, 100]}
select: [p.name]
`)
	st := compile(t, q, nil)
	assert.Equal(t, "SELECT t0.name FROM person t0 WHERE EXISTS (SELECT t2.id, t2.cost, t2.title"+
		" FROM person_project t1 INNER JOIN project t2 ON t1.project_id = t2.id"+
		" WHERE t0.id = t1.person_id AND t2.cost > ?)", st.SQL)
	assert.Equal(t, []any{float64(100)}, st.Args)
}

func TestTranslate_Parameters(t *testing.T) {
	q := translate(t, `
candidate: Person
alias: p
filter:
  and:
    - {">": [p.age, {param: min, type: int}]}
    - {in: [p.id, $ids]}
select: [p.name]
params: {min: 18}
`)
	st := compile(t, q, map[string]any{"min": 18, "ids": []any{1, 2}})
	assert.Equal(t, "SELECT t0.name FROM person t0 WHERE t0.age > ? AND t0.id IN (?, ?)", st.SQL)
	assert.Equal(t, []any{int64(18), int64(1), int64(2)}, st.Args)
}

func TestTranslate_QuotedStringsAreLiterals(t *testing.T) {
	q := translate(t, `
candidate: Person
alias: p
filter: {"=": [p.name, "p.name"]}
`)
	assert.Equal(t, "p.name = 'p.name'", exps.Describe(q.Filter))
}

func TestTranslate_VariableBinding(t *testing.T) {
	q := translate(t, `
candidate: Person
alias: p
variables: {pr: Project}
filter:
  and:
    - {member: [pr, p.projects]}
    - {"=": [pr.title, Apollo]}
select: [p.name]
`)
	st := compile(t, q, nil)
	assert.Contains(t, st.SQL, "person_project")
	assert.Equal(t, []any{"Apollo"}, st.Args)
}

func TestTranslate_Values(t *testing.T) {
	tests := []struct {
		item string
		want string
	}{
		{`p.dept?.name`, "p.dept?.name"},
		{`{lower: p.name}`, "LOWER(p.name)"},
		{`{concat: [p.name, "-", p.dept.name]}`, "CONCAT(CONCAT(p.name, '-'), p.dept.name)"},
		{`{substring: [p.name, 1, 2]}`, "SUBSTRING(p.name, 1, 2)"},
		{`{locate: [a, p.name]}`, "LOCATE('a', p.name)"},
		{`{trim: p.name, spec: leading, char: x}`, "TRIM(LEADING 'x' FROM p.name)"},
		{`{cast: p.age, to: string}`, "CAST(p.age AS string)"},
		{`{"+": [p.age, 1]}`, "(p.age + 1)"},
		{`{mod: [p.age, 7]}`, "MOD(p.age, 7)"},
		{`{count: "*"}`, "COUNT(*)"},
		{`{avg: p.salary, distinct: true}`, "AVG(DISTINCT p.salary)"},
		{`{size: p.projects}`, "SIZE(p.projects)"},
		{`{type: p}`, "TYPE(p)"},
		{`{id: p}`, "ID(p)"},
		{`{key: p.phones}`, "KEY(p.phones)"},
		{`{coalesce: [p.dept.name, none]}`, "COALESCE(p.dept.name, 'none')"},
		{`{nullif: [p.name, x]}`, "NULLIF(p.name, 'x')"},
		{`{case: [{when: {"<": [p.age, 30]}, then: junior}], else: senior}`, "CASE WHEN p.age < 30 THEN 'junior' ELSE 'senior' END"},
		{`{case: [{when: 1, then: one}], of: p.age, else: other}`, "CASE p.age WHEN 1 THEN 'one' ELSE 'other' END"},
		{`{value: p.name, as: n}`, "p.name"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			q := translate(t, "candidate: Person\nalias: p\nselect:\n  - "+tt.item+"\n")
			require.Len(t, q.Projections, 1)
			assert.Equal(t, tt.want, exps.Describe(q.Projections[0].Val))
		})
	}
}

func TestTranslate_ProjectionAlias(t *testing.T) {
	q := translate(t, "candidate: Person\nalias: p\nselect: [{value: p.name, as: n}]\n")
	assert.Equal(t, "n", q.Projections[0].Alias)
}

func TestTranslate_Conditions(t *testing.T) {
	tests := []struct {
		filter string
		want   string
	}{
		{`{between: [p.age, 20, 30]}`, "p.age >= 20 AND p.age <= 30"},
		{`{like: [p.name, "A!_%"], escape: "!"}`, "p.name LIKE 'A!_%' ESCAPE '!'"},
		{`{not: {like: [p.name, "A%"]}}`, "p.name NOT LIKE 'A%'"},
		{`{or: [{"=": [p.age, 1]}, {"=": [p.age, 2]}]}`, "(p.age = 1 OR p.age = 2)"},
		{`{in: [p.name, [a, b]]}`, "p.name IN ('a', 'b')"},
		{`{empty: p.nicknames}`, "p.nicknames IS EMPTY"},
		{`{not: {empty: p.nicknames}}`, "p.nicknames IS NOT EMPTY"},
		{`{member: [$pr, p.projects]}`, ":pr MEMBER OF p.projects"},
		{`true`, "TRUE"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			q := translate(t, "candidate: Person\nalias: p\nfilter: "+tt.filter+"\n")
			assert.Equal(t, tt.want, exps.Describe(q.Filter))
		})
	}
}

func TestTranslate_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		code qerr.Code
	}{
		{"unknown operator", "candidate: Person\nalias: p\nfilter: {frobnicate: p.age}\n", qerr.CodeInvalidQuery},
		{"two operators", "candidate: Person\nalias: p\nfilter: {lower: p.name, upper: p.name}\n", qerr.CodeInvalidQuery},
		{"arity", "candidate: Person\nalias: p\nfilter: {\"=\": [p.age]}\n", qerr.CodeInvalidQuery},
		{"unknown field", "candidate: Person\nalias: p\nselect: [p.shoeSize]\n", qerr.CodeUnknownField},
		{"unknown class", "candidate: Nobody\nalias: n\n", qerr.CodeUnknownClass},
		{"top-level range", "from: p.projects\nalias: pr\n", qerr.CodeInvalidQuery},
		{"incompatible", "candidate: Person\nalias: p\nfilter: {\">\": [p.name, 3]}\n", qerr.CodeIncompatibleTypes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := translateErr(t, tt.src)
			assert.Equal(t, tt.code, qerr.CodeOf(err), "got %v", err)
		})
	}
}

func TestParse(t *testing.T) {
	docs, err := Parse([]byte(`
name: one
candidate: Person
alias: p
---
name: two
candidate: Project
alias: pr
subclasses: false
`))
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "two", docs[1].Name)
	assert.True(t, docs[0].IncludeSubclasses())
	assert.False(t, docs[1].IncludeSubclasses())

	_, err = Parse([]byte("candidate: Person\nalias: p\nfiltre: true\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = Parse([]byte("candidate: Person\n"))
	assert.ErrorContains(t, err, "alias is required")

	_, err = Parse([]byte("candidate: Person\nalias: p\nvariables: {p: Project}\n"))
	assert.ErrorContains(t, err, "shadows")

	_, err = Parse(nil)
	assert.Error(t, err)
}
