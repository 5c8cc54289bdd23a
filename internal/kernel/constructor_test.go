package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/qexp/internal/mapping"
)

// olderThan is p.age > :min projecting p.name: no value-dependent SQL.
func (fx *fixture) olderThan() *QueryExpressions {
	p := fx.root("p", "Person")
	q := fx.query("Person", "p")
	q.Filter = fx.exp(fx.f.GreaterThan(fx.path(p, "age"), fx.f.Param("min", mapping.Of(mapping.TypeInt))))
	q.Projections = []Projection{{Val: fx.path(p, "name")}}
	return q
}

// profileIs is p.profile = :x: the join depends on whether x is nil.
func (fx *fixture) profileIs() *QueryExpressions {
	p := fx.root("p", "Person")
	q := fx.query("Person", "p")
	q.Filter = fx.exp(fx.f.Equal(fx.path(p, "profile"), fx.f.Param("x", mapping.EntityOf("Profile"))))
	q.Projections = []Projection{{Val: fx.path(p, "name")}}
	return q
}

func TestSelectConstructor_FullCacheRebinds(t *testing.T) {
	fx := newFixture(t)
	sc := fx.constructor("sqlite", fx.olderThan())

	first, err := sc.Evaluate(map[string]any{"min": 30}, CacheFull)
	require.NoError(t, err)
	assert.Equal(t, CacheFull, first.Level)
	require.NotNil(t, sc.full)
	cached := sc.full

	second, err := sc.Evaluate(map[string]any{"min": 40}, CacheFull)
	require.NoError(t, err)
	assert.Same(t, cached, sc.full)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, "SELECT t0.name FROM person t0 WHERE t0.age > ?", second.SQL)
	if diff := cmp.Diff([]any{int64(40)}, second.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestSelectConstructor_FullCacheIsStable(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	q := fx.query("Person", "p")
	q.Filter = fx.exp(fx.f.Contains(fx.path(p, "projects"), fx.f.Param("pr", mapping.EntityOf("Project"))))
	q.Projections = []Projection{{Val: fx.f.Count(fx.path(p, "name"), false)}}
	q.Distinct = true
	sc := fx.constructor("sqlite", q)

	a, err := sc.Evaluate(map[string]any{"pr": 1}, CacheFull)
	require.NoError(t, err)
	b, err := sc.Evaluate(map[string]any{"pr": 2}, CacheFull)
	require.NoError(t, err)
	assert.Equal(t, a.SQL, b.SQL)
	assert.Contains(t, a.SQL, ") s0")
	assert.Equal(t, []any{int64(2)}, b.Args)
}

func TestSelectConstructor_ValueDependentCapsAtJoins(t *testing.T) {
	fx := newFixture(t)
	sc := fx.constructor("sqlite", fx.profileIs())

	st, err := sc.Evaluate(map[string]any{"x": 5}, CacheFull)
	require.NoError(t, err)
	assert.Equal(t, CacheJoins, st.Level)
	assert.Nil(t, sc.full)
	assert.NotNil(t, sc.template)
}

func TestSelectConstructor_JoinTemplateFollowsNullness(t *testing.T) {
	fx := newFixture(t)
	sc := fx.constructor("sqlite", fx.profileIs())
	const (
		inner = "SELECT t0.name FROM person t0 INNER JOIN profile t1 ON t0.id = t1.person_id WHERE t1.id = ?"
		outer = "SELECT t0.name FROM person t0 LEFT OUTER JOIN profile t1 ON t0.id = t1.person_id WHERE t1.id IS NULL"
	)

	for i, tc := range []struct {
		x    any
		want string
	}{
		{5, inner},
		{nil, outer},
		{nil, outer},
		{6, inner},
	} {
		st, err := sc.Evaluate(map[string]any{"x": tc.x}, CacheJoins)
		require.NoError(t, err, "run %d", i)
		assert.Equal(t, tc.want, st.SQL, "run %d", i)
	}
}

func TestSelectConstructor_JoinTemplateReused(t *testing.T) {
	fx := newFixture(t)
	sc := fx.constructor("sqlite", fx.personByDept())

	_, err := sc.Evaluate(nil, CacheJoins)
	require.NoError(t, err)
	tmpl := sc.template
	require.NotNil(t, tmpl)

	st, err := sc.Evaluate(nil, CacheJoins)
	require.NoError(t, err)
	assert.Same(t, tmpl, sc.template)
	assert.Equal(t, CacheJoins, st.Level)
	assert.Equal(t, "SELECT t0.name FROM person t0 INNER JOIN department t1 ON t0.dept_id = t1.id"+
		" WHERE t1.name = ? AND t0.age > ?", st.SQL)
}

func TestSelectConstructor_LevelChangeInvalidates(t *testing.T) {
	fx := newFixture(t)
	sc := fx.constructor("sqlite", fx.olderThan())

	_, err := sc.Evaluate(map[string]any{"min": 1}, CacheFull)
	require.NoError(t, err)
	require.NotNil(t, sc.full)

	st, err := sc.Evaluate(map[string]any{"min": 1}, CacheNone)
	require.NoError(t, err)
	assert.Equal(t, CacheNone, st.Level)
	assert.Nil(t, sc.full)
	assert.Nil(t, sc.template)
}

func TestSelectConstructor_SubqueryDisablesCaching(t *testing.T) {
	fx := newFixture(t)
	p := fx.root("p", "Person")
	x := fx.root("x", "Person")
	sub := fx.query("Person", "x")
	sub.Projections = []Projection{{Val: fx.f.Max(fx.path(x, "age"))}}
	q := fx.query("Person", "p")
	q.Filter = fx.exp(fx.f.Equal(fx.path(p, "age"), fx.f.SubQuery(sub)))
	q.Projections = []Projection{{Val: fx.path(p, "name")}}
	sc := fx.constructor("sqlite", q)

	st, err := sc.Evaluate(nil, CacheFull)
	require.NoError(t, err)
	assert.Equal(t, CacheNone, st.Level)
	assert.Nil(t, sc.full)
	assert.Nil(t, sc.template)
	assert.Equal(t, "SELECT t0.name FROM person t0 WHERE t0.age = (SELECT MAX(t1.age) FROM person t1)", st.SQL)
}

func TestSelectConstructor_ExtentIsRemembered(t *testing.T) {
	fx := newFixture(t)
	sc := fx.constructor("sqlite", fx.query("Project", "pr"))

	first, err := sc.Evaluate(nil, CacheNone)
	require.NoError(t, err)
	require.NotNil(t, sc.extent)
	extent := sc.extent

	second, err := sc.Evaluate(nil, CacheJoins)
	require.NoError(t, err)
	assert.Same(t, extent, sc.extent)
	assert.Equal(t, CacheFull, second.Level)
	assert.Equal(t, first.SQL, second.SQL)
	assert.Equal(t, "SELECT t0.id, t0.cost, t0.title FROM project t0", second.SQL)
}

func TestSelectConstructor_CandidateRestriction(t *testing.T) {
	fx := newFixture(t)
	tests := []struct {
		name       string
		class      string
		subclasses bool
		sql        string
		args       []any
	}{
		{"root with subclasses", "Animal", true,
			"SELECT t0.id, t0.name, t0.kind FROM animal t0", []any{}},
		{"root alone", "Animal", false,
			"SELECT t0.id, t0.name, t0.kind FROM animal t0 WHERE t0.kind = ?", []any{"ANIMAL"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := fx.query(tt.class, "x")
			q.Subclasses = tt.subclasses
			st := fx.compile("sqlite", q, nil)
			assert.Equal(t, tt.sql, st.SQL)
			assert.Equal(t, tt.args, st.Args)
		})
	}
}

func TestParseCacheLevel(t *testing.T) {
	for _, l := range []CacheLevel{CacheNone, CacheJoins, CacheFull} {
		got, err := ParseCacheLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}
	_, err := ParseCacheLevel("sometimes")
	assert.Error(t, err)
}
