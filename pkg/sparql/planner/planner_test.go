package planner

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/trigofusion/internal/encoding"
	"github.com/aleksaelezovic/trigofusion/internal/storage"
	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

func ex(local string) *rdf.NamedNode { return rdf.NewNamedNode("http://example.org/" + local) }

var (
	a, b, c, d, k = ex("a"), ex("b"), ex("c"), ex("d"), ex("k")
	p, q, r       = ex("p"), ex("q"), ex("r")
	g1, g2        = ex("g1"), ex("g2")
)

func newStore(t *testing.T, quads ...*rdf.Quad) *store.TripleStore {
	t.Helper()
	kv, err := storage.NewMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	ts := store.NewTripleStore(kv, encoding.NewTermEncoder(), encoding.NewTermDecoder())
	require.NoError(t, ts.Insert(context.Background(), quads...))
	return ts
}

func triple(s, p, o algebra.TermPattern) algebra.TriplePattern {
	return algebra.TriplePattern{Subject: s, Predicate: p, Object: o}
}

func run(t *testing.T, n relational.Node) []map[string]string {
	t.Helper()
	recs, err := relational.CollectNode(context.Background(), relational.NewTaskContext(), n)
	require.NoError(t, err)
	var out []map[string]string
	for _, rec := range recs {
		for row := 0; row < int(rec.NumRows()); row++ {
			m := make(map[string]string)
			for i := 0; i < int(rec.NumCols()); i++ {
				if term := columnar.MustWrap(rec.Column(i)).Term(row); term != nil {
					m[rec.ColumnName(i)] = term.String()
				}
			}
			out = append(out, m)
		}
	}
	return out
}

func column(rows []map[string]string, name string) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r[name])
	}
	sort.Strings(out)
	return out
}

func translate(t *testing.T, ts store.QuadStorage, gp algebra.GraphPattern, dataset *algebra.Dataset) relational.Node {
	t.Helper()
	n, err := New(ts, nil, nil).Plan(context.Background(), gp, dataset)
	require.NoError(t, err)
	return n
}

func TestBGPJoinOrder(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, p, c, nil),
		rdf.NewQuad(c, p, d, nil),
		rdf.NewQuad(d, r, a, nil),
		rdf.NewQuad(b, q, k, nil))

	bgp := &algebra.BGP{Patterns: []algebra.TriplePattern{
		triple(algebra.VarOf("x"), algebra.TermOf(p), algebra.VarOf("y")),
		triple(algebra.VarOf("u"), algebra.TermOf(r), algebra.VarOf("v")),
		triple(algebra.VarOf("y"), algebra.TermOf(q), algebra.TermOf(k)),
	}}
	n := translate(t, ts, bgp, nil)

	var order []string
	relational.Walk(n, func(n relational.Node) bool {
		if s, ok := n.(*plan.QuadScan); ok {
			order = append(order, s.Pattern.Predicate.Term.String())
		}
		return true
	})
	// the two single-match patterns tie and keep their order, the scan
	// on p joins last
	assert.Equal(t, []string{r.String(), q.String(), p.String()}, order)

	rows := run(t, n)
	require.Len(t, rows, 1)
	assert.Equal(t, a.String(), rows[0]["x"])
	assert.Equal(t, d.String(), rows[0]["u"])
}

func TestConnectedPatternsJoinBeforeCrossProducts(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, q, c, nil),
		rdf.NewQuad(b, q, d, nil),
		rdf.NewQuad(c, r, d, nil))

	bgp := &algebra.BGP{Patterns: []algebra.TriplePattern{
		triple(algebra.VarOf("x"), algebra.TermOf(p), algebra.VarOf("y")),
		triple(algebra.VarOf("u"), algebra.TermOf(r), algebra.VarOf("w")),
		triple(algebra.VarOf("y"), algebra.TermOf(q), algebra.VarOf("z")),
	}}
	n := translate(t, ts, bgp, nil)
	var order []string
	relational.Walk(n, func(n relational.Node) bool {
		if s, ok := n.(*plan.QuadScan); ok {
			order = append(order, s.Pattern.Predicate.Term.String())
		}
		return true
	})
	assert.Equal(t, []string{p.String(), q.String(), r.String()}, order)
	assert.Len(t, run(t, n), 2)
}

func TestEmptyBGPIsSingleton(t *testing.T) {
	ts := newStore(t)
	rows := run(t, translate(t, ts, &algebra.BGP{}, nil))
	assert.Len(t, rows, 1)
}

func datasetStore(t *testing.T) *store.TripleStore {
	return newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(a, p, b, g1),
		rdf.NewQuad(a, p, b, g2),
		rdf.NewQuad(c, p, d, g2))
}

var spo = &algebra.BGP{Patterns: []algebra.TriplePattern{
	triple(algebra.VarOf("s"), algebra.TermOf(p), algebra.VarOf("o")),
}}

func TestDefaultGraphIsMergeOfFromGraphs(t *testing.T) {
	ts := datasetStore(t)

	rows := run(t, translate(t, ts, spo, nil))
	assert.Equal(t, []string{a.String()}, column(rows, "s"))

	rows = run(t, translate(t, ts, spo, &algebra.Dataset{Default: []*rdf.NamedNode{g1, g2}}))
	assert.Equal(t, []string{a.String(), c.String()}, column(rows, "s"), "duplicates across graphs are merged")
}

func TestGraphVariable(t *testing.T) {
	ts := datasetStore(t)
	gp := &algebra.Graph{Name: algebra.VarOf("g"), Inner: spo}

	rows := run(t, translate(t, ts, gp, nil))
	assert.Equal(t, []string{g1.String(), g2.String(), g2.String()}, column(rows, "g"))

	rows = run(t, translate(t, ts, gp, &algebra.Dataset{Named: []*rdf.NamedNode{g1}}))
	assert.Equal(t, []string{g1.String()}, column(rows, "g"))

	rows = run(t, translate(t, ts, gp, &algebra.Dataset{Named: []*rdf.NamedNode{}}))
	assert.Empty(t, rows)
}

func TestGraphConstant(t *testing.T) {
	ts := datasetStore(t)
	gp := &algebra.Graph{Name: algebra.TermOf(g2), Inner: spo}

	rows := run(t, translate(t, ts, gp, nil))
	assert.Equal(t, []string{a.String(), c.String()}, column(rows, "s"))

	rows = run(t, translate(t, ts, gp, &algebra.Dataset{Named: []*rdf.NamedNode{g1}}))
	assert.Empty(t, rows)
}

func TestEmptyGraphPatternListsGraphs(t *testing.T) {
	ts := datasetStore(t)
	n := translate(t, ts, &algebra.Graph{Name: algebra.VarOf("g"), Inner: &algebra.BGP{}}, nil)
	assert.IsType(t, &plan.GraphList{}, n)
	assert.Equal(t, []string{g1.String(), g2.String()}, column(run(t, n), "g"))
}

func TestGraphVariableWithoutScansIsJoinedWithGraphs(t *testing.T) {
	ts := datasetStore(t)
	gp := &algebra.Graph{
		Name: algebra.VarOf("g"),
		Inner: &algebra.Extend{
			Inner:    &algebra.BGP{},
			Variable: algebra.NewVariable("x"),
			Expr:     algebra.Const(rdf.NewIntegerLiteral(1)),
		},
	}
	rows := run(t, translate(t, ts, gp, nil))
	assert.Equal(t, []string{g1.String(), g2.String()}, column(rows, "g"))
}

func TestFilterExistsBecomesSemiJoin(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(c, p, d, nil),
		rdf.NewQuad(a, q, k, nil))
	exists := &algebra.BGP{Patterns: []algebra.TriplePattern{
		triple(algebra.VarOf("s"), algebra.TermOf(q), algebra.VarOf("z")),
	}}

	n := translate(t, ts, &algebra.Filter{Inner: spo, Expr: &algebra.ExistsExpression{Pattern: exists}}, nil)
	assert.Contains(t, relational.Explain(n), "SemiJoin")
	assert.Equal(t, []string{a.String()}, column(run(t, n), "s"))

	notExists := algebra.And(
		&algebra.ExistsExpression{Pattern: exists, Not: true},
		algebra.Binary(algebra.OpNotEqual, algebra.Var("o"), algebra.Const(b)),
	)
	n = translate(t, ts, &algebra.Filter{Inner: spo, Expr: notExists}, nil)
	explain := relational.Explain(n)
	assert.Contains(t, explain, "AntiJoin")
	assert.Contains(t, explain, "Filter")
	assert.Equal(t, []string{c.String()}, column(run(t, n), "s"))
}

func TestNestedExistsBecomesMarkJoin(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(c, p, d, nil),
		rdf.NewQuad(a, q, k, nil))
	hasQ := &algebra.ExistsExpression{Pattern: &algebra.BGP{Patterns: []algebra.TriplePattern{
		triple(algebra.VarOf("s"), algebra.TermOf(q), algebra.VarOf("z")),
	}}}

	expr := algebra.Binary(algebra.OpOr,
		algebra.Binary(algebra.OpEqual, algebra.Var("s"), algebra.Const(c)),
		hasQ)
	n := translate(t, ts, &algebra.Filter{Inner: spo, Expr: expr}, nil)
	assert.Contains(t, relational.Explain(n), "MarkJoin")
	spoNames := translate(t, ts, spo, nil).Schema().Names()
	assert.Equal(t, spoNames, n.Schema().Names(), "mark columns are dropped")
	rows := run(t, n)
	assert.Equal(t, []string{a.String(), c.String()}, column(rows, "s"))

	negated := &algebra.UnaryExpression{Op: algebra.OpNot, Operand: hasQ}
	bind := &algebra.Extend{Inner: spo, Variable: algebra.NewVariable("lonely"), Expr: negated}
	n = translate(t, ts, bind, nil)
	assert.Equal(t, append(spoNames, "lonely"), n.Schema().Names())
	got := make(map[string]string)
	for _, row := range run(t, n) {
		got[row["s"]+" "+row["o"]] = row["lonely"]
	}
	yes, no := rdf.NewBooleanLiteral(true).String(), rdf.NewBooleanLiteral(false).String()
	assert.Equal(t, map[string]string{
		a.String() + " " + b.String(): no,
		c.String() + " " + d.String(): yes,
	}, got)

	ifExists := algebra.Call("IF", &algebra.ExistsExpression{Pattern: hasQ.Pattern, Not: true}, algebra.Const(a), algebra.Const(b))
	bind = &algebra.Extend{Inner: spo, Variable: algebra.NewVariable("pick"), Expr: ifExists}
	assert.Equal(t, []string{a.String(), b.String()}, column(run(t, translate(t, ts, bind, nil)), "pick"))
}

func TestBindToBoundVariable(t *testing.T) {
	ts := newStore(t)
	gp := &algebra.Extend{Inner: spo, Variable: algebra.NewVariable("s"), Expr: algebra.Const(a)}
	_, err := New(ts, nil, nil).Plan(context.Background(), gp, nil)
	assert.ErrorIs(t, err, ErrVariableAlreadyUsed)
}

func TestPathUnderGraphVariable(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, g1),
		rdf.NewQuad(b, p, c, g2))
	gp := &algebra.Graph{
		Name: algebra.VarOf("g"),
		Inner: &algebra.Path{
			Subject: algebra.TermOf(a),
			Path:    &algebra.PathOneOrMore{Path: &algebra.PathIRI{IRI: p}},
			Object:  algebra.VarOf("x"),
		},
	}
	rows := run(t, translate(t, ts, gp, nil))
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"x": b.String(), "g": g1.String()}, rows[0])
}

func TestSolutionModifiers(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, rdf.NewIntegerLiteral(3), nil),
		rdf.NewQuad(b, p, rdf.NewIntegerLiteral(1), nil),
		rdf.NewQuad(c, p, rdf.NewIntegerLiteral(2), nil))
	gp := &algebra.Slice{
		Offset: 1,
		Limit:  1,
		Inner: &algebra.Project{
			Variables: []*algebra.Variable{algebra.NewVariable("s")},
			Inner: &algebra.OrderBy{
				Inner:      spo,
				Conditions: []algebra.OrderCondition{{Expr: algebra.Var("o"), Ascending: true}},
			},
		},
	}
	n := translate(t, ts, gp, nil)
	assert.Equal(t, []string{"s"}, n.Schema().Names())
	rows := run(t, n)
	require.Len(t, rows, 1)
	assert.Equal(t, c.String(), rows[0]["s"])
}
