package kernel

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/dialect"
	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/shape"
	"github.com/roach88/qexp/internal/testutil"
)

type fixture struct {
	t    *testing.T
	repo *mapping.Repository
	f    *exps.Factory
}

func newFixture(t *testing.T) *fixture {
	repo := testutil.SampleRepository(t)
	return &fixture{t: t, repo: repo, f: exps.NewFactory(repo)}
}

func (fx *fixture) root(scope, class string) *exps.Path {
	fx.t.Helper()
	p, err := fx.f.Root(scope, class)
	require.NoError(fx.t, err)
	return p
}

func (fx *fixture) path(p *exps.Path, names ...string) *exps.Path {
	fx.t.Helper()
	for _, n := range names {
		next, err := p.Get(n)
		require.NoError(fx.t, err)
		p = next
	}
	return p
}

func (fx *fixture) exp(e exps.Exp, err error) exps.Exp {
	fx.t.Helper()
	require.NoError(fx.t, err)
	return e
}

func (fx *fixture) val(v exps.Val, err error) exps.Val {
	fx.t.Helper()
	require.NoError(fx.t, err)
	return v
}

func (fx *fixture) query(class, alias string) *QueryExpressions {
	return &QueryExpressions{Candidate: fx.repo.MustClass(class), Alias: alias, Subclasses: true}
}

func (fx *fixture) constructor(dict string, q *QueryExpressions) *SelectConstructor {
	return NewSelectConstructor(q, dialect.MustLookup(dict), fx.repo, testutil.DiscardLogger())
}

// compile evaluates q once without caching.
func (fx *fixture) compile(dict string, q *QueryExpressions, params map[string]any) *Statement {
	fx.t.Helper()
	st, err := fx.constructor(dict, q).Evaluate(params, CacheNone)
	require.NoError(fx.t, err)
	return st
}

// assertGolden compares the statement text and typed arguments with
// testdata/golden/<name>.golden.
func assertGolden(t *testing.T, name string, st *Statement) {
	t.Helper()
	args := make([]string, len(st.Args))
	for i, a := range st.Args {
		args[i] = fmt.Sprintf("%T %v", a, a)
	}
	data, err := shape.Marshal(map[string]any{"sql": st.SQL, "args": args})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// personByDept is p.dept.name = 'Eng' AND p.age > 30 projecting p.name.
func (fx *fixture) personByDept() *QueryExpressions {
	p := fx.root("p", "Person")
	dept := fx.exp(fx.f.Equal(fx.path(p, "dept", "name"), fx.f.Lit("Eng")))
	age := fx.exp(fx.f.GreaterThan(fx.path(p, "age"), fx.f.Lit(30)))
	q := fx.query("Person", "p")
	q.Filter = fx.f.And(dept, age)
	q.Projections = []Projection{{Val: fx.path(p, "name")}}
	return q
}

func TestGolden_RelationFilter(t *testing.T) {
	fx := newFixture(t)
	assertGolden(t, "relation_filter", fx.compile("sqlite", fx.personByDept(), nil))
}

func TestGolden_RepeatedPathJoinsOnce(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	name := func() exps.Val { return fx.path(p, "dept", "name") }
	q := fx.query("Person", "p")
	q.Filter = fx.f.And(
		fx.exp(fx.f.Equal(name(), fx.f.Lit("Eng"))),
		fx.exp(fx.f.NotEqual(name(), fx.f.Lit("Ops"))),
	)
	q.Projections = []Projection{{Val: fx.path(p, "name")}}

	st := fx.compile("sqlite", q, nil)
	assert.Equal(t, 1, strings.Count(st.SQL, "JOIN department"))
	assertGolden(t, "repeated_path", st)
}

func TestGolden_Extent(t *testing.T) {
	fx := newFixture(t)
	assertGolden(t, "extent_department", fx.compile("sqlite", fx.query("Department", "d"), nil))
}

func TestGolden_SingleTableSubclassCandidate(t *testing.T) {
	fx := newFixture(t)
	assertGolden(t, "extent_dog", fx.compile("sqlite", fx.query("Dog", "d"), nil))
}

func TestGolden_DistinctAggregateWraps(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	q := fx.query("Person", "p")
	q.Filter = fx.exp(fx.f.Contains(fx.path(p, "projects"), fx.f.Param("pr", mapping.EntityOf("Project"))))
	q.Projections = []Projection{{Val: fx.f.Count(fx.path(p, "name"), false)}}
	q.Distinct = true

	st := fx.compile("sqlite", q, map[string]any{"pr": 5})
	assertGolden(t, "distinct_aggregate", st)
}

func TestDistinctAggregateWithoutToManyJoinStaysFlat(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	q := fx.query("Person", "p")
	q.Filter = fx.exp(fx.f.Equal(fx.path(p, "dept", "name"), fx.f.Lit("Eng")))
	q.Projections = []Projection{{Val: fx.f.Count(fx.path(p, "name"), false)}}
	q.Distinct = true

	st := fx.compile("sqlite", q, nil)
	assert.Equal(t, "SELECT DISTINCT COUNT(t0.name) FROM person t0"+
		" INNER JOIN department t1 ON t0.dept_id = t1.id WHERE t1.name = ?", st.SQL)
	assert.NotContains(t, st.SQL, " s0")
	assert.Equal(t, []any{"Eng"}, st.Args)
}

func TestNegatedConjunctionWithMembership(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	in := fx.exp(fx.f.Contains(fx.path(p, "projects"), fx.f.Param("pr", mapping.EntityOf("Project"))))
	older := fx.exp(fx.f.GreaterThan(fx.path(p, "age"), fx.f.Lit(30)))
	q := fx.query("Person", "p")
	q.Filter = fx.f.Not(fx.f.And(in, older))
	q.Projections = []Projection{{Val: fx.path(p, "name")}}

	st := fx.compile("sqlite", q, map[string]any{"pr": 7})
	assert.Equal(t, "SELECT t0.name FROM person t0 WHERE 0 = (SELECT COUNT(*) FROM person_project t1"+
		" WHERE t0.id = t1.person_id AND t1.project_id = ? AND t0.age > ?)", st.SQL)
	assert.Equal(t, []any{int64(7), int64(30)}, st.Args)
}

func TestTreatInsideDisjunction(t *testing.T) {
	fx := newFixture(t)
	a := fx.root("a", "Animal")
	dog, err := a.Treat(fx.repo.MustClass("Dog"))
	require.NoError(t, err)
	q := fx.query("Animal", "a")
	q.Filter = fx.f.Or(
		fx.exp(fx.f.Equal(fx.path(dog, "bark"), fx.f.Lit("woof"))),
		fx.exp(fx.f.Equal(fx.path(a, "name"), fx.f.Lit("Tom"))),
	)
	q.Projections = []Projection{{Val: fx.path(a, "name")}}

	st := fx.compile("sqlite", q, nil)
	assert.Equal(t, "SELECT t0.name FROM animal t0 WHERE (t0.kind = ? AND t0.bark = ? OR t0.name = ?)", st.SQL)
	assert.Equal(t, []any{"DOG", "woof", "Tom"}, st.Args)
}

func TestTreatInProjectionRestrictsSelect(t *testing.T) {
	fx := newFixture(t)
	a := fx.root("a", "Animal")
	dog, err := a.Treat(fx.repo.MustClass("Dog"))
	require.NoError(t, err)
	q := fx.query("Animal", "a")
	q.Projections = []Projection{{Val: fx.path(dog, "bark")}}

	st := fx.compile("sqlite", q, nil)
	assert.Equal(t, "SELECT t0.bark FROM animal t0 WHERE t0.kind = ?", st.SQL)
	assert.Equal(t, []any{"DOG"}, st.Args)
}

func TestGolden_AutoDistinctOverToManyJoin(t *testing.T) {
	fx := newFixture(t)
	d := fx.root("d", "Department")
	q := fx.query("Department", "d")
	q.Filter = fx.exp(fx.f.Contains(fx.path(d, "employees"), fx.f.Param("e", mapping.EntityOf("Person"))))

	st := fx.compile("sqlite", q, map[string]any{"e": 7})
	assertGolden(t, "auto_distinct", st)
}

func TestGolden_GroupHavingOrder(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	deptName := func() exps.Val { return fx.path(p, "dept", "name") }
	count := func() exps.Val { return fx.f.Count(fx.path(p, "id"), false) }
	q := fx.query("Person", "p")
	q.Projections = []Projection{{Val: deptName()}, {Val: count(), Alias: "headcount"}}
	q.Grouping = []exps.Val{deptName()}
	q.Having = fx.exp(fx.f.GreaterThan(count(), fx.f.Lit(1)))
	q.Ordering = []Order{{Val: deptName(), Asc: true}}

	assertGolden(t, "group_having_order", fx.compile("sqlite", q, nil))
}

func TestGolden_Range(t *testing.T) {
	fx := newFixture(t)
	pr := fx.root("pr", "Project")
	q := fx.query("Project", "pr")
	q.Ordering = []Order{{Val: fx.path(pr, "title"), Asc: true}}
	q.Offset = fx.f.Lit(10)
	q.Limit = fx.f.Param("n", mapping.Of(mapping.TypeInt))

	assertGolden(t, "range_sqlite", fx.compile("sqlite", q, map[string]any{"n": 5}))
	assertGolden(t, "range_postgres", fx.compile("postgres", q, map[string]any{"n": 5}))
}

func TestGolden_ScalarSubquery(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	x := fx.root("x", "Person")
	sub := fx.query("Person", "x")
	sub.Projections = []Projection{{Val: fx.val(fx.f.Avg(fx.path(x, "salary"), false))}}

	q := fx.query("Person", "p")
	q.Filter = fx.exp(fx.f.GreaterThan(fx.path(p, "salary"), fx.f.SubQuery(sub)))
	q.Projections = []Projection{{Val: fx.path(p, "name")}}

	st := fx.compile("sqlite", q, nil)
	assert.Equal(t, CacheNone, st.Level)
	assertGolden(t, "scalar_subquery", st)
}

func TestGolden_CorrelatedSubqueryOverPath(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	projects := fx.path(p, "projects")
	pr := fx.root("pr", "Project")

	sub := fx.query("Project", "pr")
	sub.From = projects
	sub.Filter = fx.exp(fx.f.GreaterThan(fx.path(pr, "cost"), fx.f.Lit(100)))

	q := fx.query("Person", "p")
	q.Filter = fx.f.Exists(fx.f.SubQuery(sub))
	q.Projections = []Projection{{Val: fx.path(p, "name")}}

	assertGolden(t, "correlated_exists", fx.compile("sqlite", q, nil))
}

func TestEvaluate_PostgresNumbersPlaceholders(t *testing.T) {
	fx := newFixture(t)
	st := fx.compile("postgres", fx.personByDept(), nil)

	assert.Equal(t, "SELECT t0.name FROM person t0 INNER JOIN department t1 ON t0.dept_id = t1.id"+
		" WHERE t1.name = $1 AND t0.age > $2", st.SQL)
	assert.Equal(t, "postgres", st.Dialect())
}

func TestEvaluate_Inline(t *testing.T) {
	fx := newFixture(t)
	st := fx.compile("sqlite", fx.personByDept(), nil)

	text, err := st.Inline()
	require.NoError(t, err)
	assert.Equal(t, "SELECT t0.name FROM person t0 INNER JOIN department t1 ON t0.dept_id = t1.id"+
		" WHERE t1.name = 'Eng' AND t0.age > 30", text)
}

func TestEvaluate_LegacyRejectsRange(t *testing.T) {
	fx := newFixture(t)
	q := fx.query("Project", "pr")
	q.Limit = fx.f.Lit(3)

	_, err := fx.constructor("legacy", q).Evaluate(nil, CacheNone)
	require.Error(t, err)
	assert.True(t, qerr.IsCapability(err))
}

func TestEvaluate_PathRangeNeedsEnclosingQuery(t *testing.T) {
	fx := newFixture(t)
	q := fx.query("Project", "pr")
	q.From = fx.path(fx.root("p", "Person"), "projects")

	_, err := fx.constructor("sqlite", q).Evaluate(nil, CacheNone)
	assert.Equal(t, qerr.CodeInvalidQuery, qerr.CodeOf(err))
}

func TestValidate(t *testing.T) {
	fx := newFixture(t)
	tests := []struct {
		name string
		q    *QueryExpressions
		code qerr.Code
	}{
		{"no candidate", &QueryExpressions{Alias: "x"}, qerr.CodeInvalidQuery},
		{"no alias", &QueryExpressions{Candidate: fx.repo.MustClass("Person")}, qerr.CodeInvalidQuery},
		{"embeddable", &QueryExpressions{Candidate: fx.repo.MustClass("Address"), Alias: "a"}, qerr.CodeNotEntity},
		{"empty projection", &QueryExpressions{Candidate: fx.repo.MustClass("Person"), Alias: "p", Projections: []Projection{{}}}, qerr.CodeInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			require.Error(t, err)
			assert.True(t, qerr.IsUser(err))
			assert.Equal(t, tt.code, qerr.CodeOf(err))
		})
	}
}

func TestQueryExpressions_String(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, "SELECT p.name FROM Person p WHERE p.dept.name = 'Eng' AND p.age > 30", fx.personByDept().String())

	q := fx.query("Project", "pr")
	q.Distinct = true
	q.Ordering = []Order{{Val: fx.path(fx.root("pr", "Project"), "title")}}
	q.Limit = fx.f.Param("n", mapping.Of(mapping.TypeInt))
	assert.Equal(t, "SELECT DISTINCT pr FROM Project pr ORDER BY pr.title DESC LIMIT :n", q.String())
}

func TestQueryExpressions_Fingerprint(t *testing.T) {
	fx := newFixture(t)
	a, err := fx.personByDept().Fingerprint()
	require.NoError(t, err)
	b, err := fx.personByDept().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b, "separately built trees of one query share a shape")
	assert.Len(t, a, 64)

	other := fx.personByDept()
	other.Distinct = true
	c, err := other.Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestResultType(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, mapping.EntityOf("Person"), fx.query("Person", "p").ResultType())
	assert.Equal(t, mapping.Of(mapping.TypeString), fx.personByDept().ResultType())
}
