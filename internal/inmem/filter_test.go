package inmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/exps"
	"github.com/roach88/qexp/internal/kernel"
	"github.com/roach88/qexp/internal/mapping"
	"github.com/roach88/qexp/internal/qerr"
	"github.com/roach88/qexp/internal/testutil"
)

type fixture struct {
	t    *testing.T
	repo *mapping.Repository
	f    *exps.Factory
	p    *exps.Path
}

func newFixture(t *testing.T) *fixture {
	repo := testutil.SampleRepository(t)
	f := exps.NewFactory(repo)
	p, err := f.Root("p", "Person")
	require.NoError(t, err)
	return &fixture{t: t, repo: repo, f: f, p: p}
}

func (fx *fixture) path(names ...string) *exps.Path {
	fx.t.Helper()
	p := fx.p
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

func (fx *fixture) filter(e exps.Exp) *Filter {
	fx.t.Helper()
	f, err := New(fx.repo.MustClass("Person"), "p", e, WithLogger(testutil.DiscardLogger()))
	require.NoError(fx.t, err)
	return f
}

// names runs e over the people and returns who matched.
func (fx *fixture) names(e exps.Exp, params map[string]any) []string {
	fx.t.Helper()
	matched, err := fx.filter(e).Select(people(), params)
	require.NoError(fx.t, err)
	out := []string{}
	for _, m := range matched {
		out = append(out, m["name"].(string))
	}
	return out
}

func people() []map[string]any {
	return []map[string]any{
		{
			"id": 1, "name": "Ann", "age": 41, "salary": 5200.5,
			"dept":      map[string]any{"id": 10, "name": "Eng"},
			"projects":  []any{map[string]any{"id": 100, "title": "Apollo"}},
			"nicknames": []any{"annie"},
		},
		{
			"id": 2, "name": "Bob", "age": 25, "salary": 3100.0,
			"dept":      map[string]any{"id": 20, "name": "Ops"},
			"projects":  []any{},
			"nicknames": []any{},
		},
		{"id": 3, "name": "A_x", "age": 35},
	}
}

func TestFilter_PathsAndParams(t *testing.T) {
	fx := newFixture(t)
	e := fx.f.And(
		fx.exp(fx.f.GreaterThan(fx.path("age"), fx.f.Param("min", mapping.Of(mapping.TypeInt)))),
		fx.exp(fx.f.Equal(fx.path("dept", "name"), fx.f.Lit("Eng"))),
	)
	f := fx.filter(e)
	assert.Equal(t, `sqlTrue(sqlAnd(sqlCmp(">", obj?.age, params["min"]), sqlCmp("=", obj?.dept?.name, "Eng")))`, f.Source())
	assert.Equal(t, []string{"min"}, f.Params())
	assert.Equal(t, []string{"Ann"}, fx.names(e, map[string]any{"min": 30}))
	assert.Empty(t, fx.names(e, map[string]any{"min": 50}))
}

func TestFilter_UnknownIsNoMatch(t *testing.T) {
	fx := newFixture(t)
	eng := fx.exp(fx.f.Equal(fx.path("dept", "name"), fx.f.Lit("Eng")))

	// A_x has no department: neither the test nor its negation holds.
	assert.Equal(t, []string{"Ann"}, fx.names(eng, nil))
	assert.Equal(t, []string{"Bob"}, fx.names(fx.f.Not(eng), nil))
	assert.Equal(t, []string{"Ann", "Bob", "A_x"},
		fx.names(fx.f.Or(eng, fx.exp(fx.f.GreaterThan(fx.path("age"), fx.f.Lit(0)))), nil))
}

func TestFilter_EntityComparesByID(t *testing.T) {
	fx := newFixture(t)
	e := fx.exp(fx.f.Equal(fx.path("dept"), fx.f.Param("d", mapping.EntityOf("Department"))))
	assert.Contains(t, fx.filter(e).Source(), "obj?.dept?.id")
	assert.Equal(t, []string{"Bob"}, fx.names(e, map[string]any{"d": 20}))
}

func TestFilter_Like(t *testing.T) {
	fx := newFixture(t)
	tests := []struct {
		pattern string
		escape  string
		want    []string
	}{
		{"A%", "", []string{"Ann", "A_x"}},
		{"A_%", "", []string{"Ann", "A_x"}},
		{`A\_%`, `\`, []string{"A_x"}},
		{"_o_", "", []string{"Bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			e := fx.exp(fx.f.Matches(fx.path("name"), fx.f.Lit(tt.pattern), tt.escape))
			assert.Equal(t, tt.want, fx.names(e, nil))
		})
	}

	e := fx.exp(fx.f.Matches(fx.path("name"), fx.f.Lit("A%"), ""))
	assert.Equal(t, []string{"Bob"}, fx.names(fx.f.Not(e), nil))
}

func TestFilter_Membership(t *testing.T) {
	fx := newFixture(t)

	in := fx.exp(fx.f.In(fx.path("name"), fx.f.Lit("Ann"), fx.f.Lit("Bob")))
	assert.Equal(t, []string{"Ann", "Bob"}, fx.names(in, nil))

	ages := fx.f.InParam(fx.path("age"), fx.f.CollectionParam("ages", mapping.Of(mapping.TypeInt)))
	assert.Equal(t, []string{"Bob", "A_x"}, fx.names(ages, map[string]any{"ages": []int{25, 35}}))

	member := fx.exp(fx.f.Contains(fx.path("projects"), fx.f.Param("pr", mapping.EntityOf("Project"))))
	assert.Equal(t, []string{"Ann"}, fx.names(member, map[string]any{"pr": 100}))

	empty := fx.exp(fx.f.IsEmpty(fx.path("nicknames")))
	assert.Equal(t, []string{"Bob", "A_x"}, fx.names(empty, nil))
	assert.Equal(t, []string{"Ann"}, fx.names(fx.f.Not(empty), nil))

	size := fx.exp(fx.f.Equal(fx.val(fx.f.Size(fx.path("projects"))), fx.f.Lit(1)))
	assert.Equal(t, []string{"Ann"}, fx.names(size, nil))
}

func TestFilter_Functions(t *testing.T) {
	fx := newFixture(t)
	name := fx.path("name")
	tests := []struct {
		name string
		exp  exps.Exp
		want []string
	}{
		{"lower", fx.exp(fx.f.Equal(fx.val(fx.f.Lower(name)), fx.f.Lit("ann"))), []string{"Ann"}},
		{"length", fx.exp(fx.f.Equal(fx.val(fx.f.StringLength(name)), fx.f.Lit(3))), []string{"Ann", "Bob", "A_x"}},
		{"concat", fx.exp(fx.f.Equal(fx.val(fx.f.Concat(name, fx.f.Lit("!"))), fx.f.Lit("Bob!"))), []string{"Bob"}},
		{"substring", fx.exp(fx.f.Equal(fx.val(fx.f.Substring(name, fx.f.Lit(2), fx.f.Lit(1))), fx.f.Lit("_"))), []string{"A_x"}},
		{"math", fx.exp(fx.f.GreaterThan(fx.val(fx.f.Add(fx.path("age"), fx.f.Lit(1))), fx.f.Lit(41))), []string{"Ann"}},
		{"coalesce", fx.exp(fx.f.Equal(fx.f.Coalesce(fx.path("dept", "name"), fx.f.Lit("none")), fx.f.Lit("none"))), []string{"A_x"}},
		{"case", fx.exp(fx.f.Equal(fx.f.Case([]exps.When{
			{Cond: fx.exp(fx.f.LessThan(fx.path("age"), fx.f.Lit(30))), Result: fx.f.Lit("junior")},
		}, fx.f.Lit("senior")), fx.f.Lit("junior"))), []string{"Bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fx.names(tt.exp, nil))
		})
	}
}

func TestFilter_NilMatchesAll(t *testing.T) {
	fx := newFixture(t)
	assert.Equal(t, "sqlTrue(true)", fx.filter(nil).Source())
	assert.Len(t, fx.names(nil, nil), 3)
}

func TestFilter_UnboundParameter(t *testing.T) {
	fx := newFixture(t)
	e := fx.exp(fx.f.GreaterThan(fx.path("age"), fx.f.Param("min", mapping.Of(mapping.TypeInt))))
	_, err := fx.filter(e).Match(people()[0], nil)
	assert.Equal(t, qerr.CodeUnboundParameter, qerr.CodeOf(err))
}

func TestFilter_IncomparableValues(t *testing.T) {
	fx := newFixture(t)
	e := fx.exp(fx.f.GreaterThan(fx.path("age"), fx.f.Param("min", mapping.Of(mapping.TypeInt))))
	_, err := fx.filter(e).Match(people()[0], map[string]any{"min": "forty"})
	assert.Error(t, err)
}

func TestFilter_Unsupported(t *testing.T) {
	fx := newFixture(t)
	sub := &kernel.QueryExpressions{Candidate: fx.repo.MustClass("Project"), Alias: "x"}
	v, err := fx.f.Variable("pr", mapping.EntityOf("Project"))
	require.NoError(t, err)

	tests := []struct {
		name string
		exp  exps.Exp
	}{
		{"exists", fx.f.Exists(fx.f.SubQuery(sub))},
		{"aggregate", fx.exp(fx.f.GreaterThan(fx.f.Count(fx.path("id"), false), fx.f.Lit(1)))},
		{"variable", fx.exp(fx.f.Contains(fx.path("projects"), v))},
		{"type", &exps.Compare{Op: "=", Left: &exps.TypeVal{Path: fx.p}, Right: fx.f.Lit("Person")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(fx.repo.MustClass("Person"), "p", tt.exp, WithLogger(testutil.DiscardLogger()))
			assert.True(t, qerr.IsCapability(err), "got %v", err)
		})
	}
}

func TestFilter_ForeignScope(t *testing.T) {
	fx := newFixture(t)
	q, err := fx.f.Root("q", "Person")
	require.NoError(t, err)
	name, err := q.Get("name")
	require.NoError(t, err)

	_, err = New(fx.repo.MustClass("Person"), "p", fx.exp(fx.f.Equal(name, fx.f.Lit("x"))))
	assert.Equal(t, qerr.CodeInvalidQuery, qerr.CodeOf(err))
}

func TestLikePattern(t *testing.T) {
	re, err := likePattern(`50!%%`, "!")
	require.NoError(t, err)
	assert.True(t, re.MatchString("50% off"))
	assert.False(t, re.MatchString("500 off"))

	_, err = likePattern(`abc!`, "!")
	assert.Equal(t, qerr.CodeInvalidQuery, qerr.CodeOf(err))
}
