package paths

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
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

func ex(local string) *rdf.NamedNode { return rdf.NewNamedNode("http://example.org/" + local) }

var (
	a, b, c, d = ex("a"), ex("b"), ex("c"), ex("d")
	p, q       = ex("p"), ex("q")
	g1, g2     = ex("g1"), ex("g2")
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

func defaultScan(ts store.QuadStorage) ScanFunc {
	return func(s, p, o store.Position) (relational.Node, error) {
		return plan.NewQuadScan(ts, store.QuadPattern{Subject: s, Predicate: p, Object: o}), nil
	}
}

func graphScan(ts store.QuadStorage, g string) ScanFunc {
	return func(s, p, o store.Position) (relational.Node, error) {
		return plan.NewQuadScan(ts, store.QuadPattern{Subject: s, Predicate: p, Object: o, Graph: store.Var(g)}), nil
	}
}

// run executes a node and returns its rows as variable to term maps with
// terms rendered in N-Triples syntax.
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

func translate(t *testing.T, tr *Translator, s algebra.TermPattern, path algebra.PropertyPath, o algebra.TermPattern) relational.Node {
	t.Helper()
	n, err := tr.Translate(s, path, o)
	require.NoError(t, err)
	return n
}

func TestTransitiveClosureOfCycle(t *testing.T) {
	closure, rounds := TransitiveClosure([][2]string{{"a", "b"}, {"b", "a"}})
	sort.Slice(closure, func(i, j int) bool {
		return closure[i][0]+closure[i][1] < closure[j][0]+closure[j][1]
	})
	assert.Equal(t, [][2]string{{"a", "a"}, {"a", "b"}, {"b", "a"}, {"b", "b"}}, closure)
	assert.Equal(t, 2, rounds, "the second round adds nothing and stops the loop")

	closure, _ = TransitiveClosure([][2]string{{"a", "b"}, {"a", "b"}})
	assert.Len(t, closure, 1)
}

func TestOneOrMoreFromConstant(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, p, c, nil),
		rdf.NewQuad(c, q, d, nil))
	tr := NewTranslator(defaultScan(ts), evaluator.NewCompiler(nil, nil))

	rows := run(t, translate(t, tr, algebra.TermOf(a), &algebra.PathOneOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("x")))
	assert.Equal(t, []string{b.String(), c.String()}, column(rows, "x"))

	rows = run(t, translate(t, tr, algebra.TermOf(a), &algebra.PathZeroOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("x")))
	assert.Equal(t, []string{a.String(), b.String(), c.String()}, column(rows, "x"))

	rows = run(t, translate(t, tr, algebra.VarOf("x"), &algebra.PathOneOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.TermOf(c)))
	assert.Equal(t, []string{a.String(), b.String()}, column(rows, "x"))
}

func TestClosureOnCycleTerminates(t *testing.T) {
	ts := newStore(t, rdf.NewQuad(a, p, b, nil), rdf.NewQuad(b, p, a, nil))
	tr := NewTranslator(defaultScan(ts), evaluator.NewCompiler(nil, nil))

	rows := run(t, translate(t, tr, algebra.VarOf("s"), &algebra.PathOneOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("o")))
	var pairs []string
	for _, r := range rows {
		pairs = append(pairs, r["s"]+" "+r["o"])
	}
	sort.Strings(pairs)
	assert.Equal(t, []string{
		a.String() + " " + a.String(),
		a.String() + " " + b.String(),
		b.String() + " " + a.String(),
		b.String() + " " + b.String(),
	}, pairs)

	// same variable at both ends keeps the cycles only
	rows = run(t, translate(t, tr, algebra.VarOf("x"), &algebra.PathOneOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("x")))
	assert.Equal(t, []string{a.String(), b.String()}, column(rows, "x"))
}

func TestZeroLengthPaths(t *testing.T) {
	ts := newStore(t, rdf.NewQuad(a, p, b, nil), rdf.NewQuad(c, q, d, nil))
	tr := NewTranslator(defaultScan(ts), evaluator.NewCompiler(nil, nil))

	// every subject and object of the graph is related to itself
	rows := run(t, translate(t, tr, algebra.VarOf("s"), &algebra.PathZeroOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("o")))
	assert.Len(t, rows, 5)

	// a constant endpoint matches itself even when absent from the data
	rows = run(t, translate(t, tr, algebra.TermOf(ex("zzz")), &algebra.PathZeroOrOne{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("o")))
	assert.Equal(t, []string{ex("zzz").String()}, column(rows, "o"))

	rows = run(t, translate(t, tr, algebra.TermOf(a), &algebra.PathZeroOrOne{Path: &algebra.PathIRI{IRI: p}}, algebra.TermOf(b)))
	assert.Len(t, rows, 1)
	rows = run(t, translate(t, tr, algebra.TermOf(a), &algebra.PathZeroOrOne{Path: &algebra.PathIRI{IRI: p}}, algebra.TermOf(c)))
	assert.Empty(t, rows)
}

func TestSequenceAlternativeInverse(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, q, c, nil),
		rdf.NewQuad(a, q, d, nil))
	tr := NewTranslator(defaultScan(ts), evaluator.NewCompiler(nil, nil))

	seq := &algebra.PathSequence{Left: &algebra.PathIRI{IRI: p}, Right: &algebra.PathIRI{IRI: q}}
	n := translate(t, tr, algebra.VarOf("s"), seq, algebra.VarOf("o"))
	assert.Equal(t, []string{"s", "o"}, n.Schema().Names())
	rows := run(t, n)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"s": a.String(), "o": c.String()}, rows[0])

	alt := &algebra.PathAlternative{Left: &algebra.PathIRI{IRI: p}, Right: &algebra.PathIRI{IRI: q}}
	rows = run(t, translate(t, tr, algebra.TermOf(a), alt, algebra.VarOf("o")))
	assert.Equal(t, []string{b.String(), d.String()}, column(rows, "o"))

	inv := &algebra.PathInverse{Path: &algebra.PathIRI{IRI: q}}
	rows = run(t, translate(t, tr, algebra.TermOf(c), inv, algebra.VarOf("s")))
	assert.Equal(t, []string{b.String()}, column(rows, "s"))
}

func TestNegatedPropertySet(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(a, q, c, nil),
		rdf.NewQuad(d, q, a, nil))
	tr := NewTranslator(defaultScan(ts), evaluator.NewCompiler(nil, nil))

	rows := run(t, translate(t, tr, algebra.TermOf(a), &algebra.PathNegatedSet{Forward: []*rdf.NamedNode{p}}, algebra.VarOf("o")))
	assert.Equal(t, []string{c.String()}, column(rows, "o"))

	both := &algebra.PathNegatedSet{Forward: []*rdf.NamedNode{p}, Inverse: []*rdf.NamedNode{p}}
	rows = run(t, translate(t, tr, algebra.TermOf(a), both, algebra.VarOf("o")))
	assert.Equal(t, []string{c.String(), d.String()}, column(rows, "o"))
}

func TestClosurePerGraph(t *testing.T) {
	ts := newStore(t,
		rdf.NewQuad(a, p, b, g1),
		rdf.NewQuad(b, p, c, g2))
	tr := NewTranslator(defaultScan(ts), evaluator.NewCompiler(nil, nil))

	// each graph is closed separately: a reaches c only across graphs
	perGraph := tr.WithGraph(graphScan(ts, "g"), "g")
	rows := run(t, translate(t, perGraph, algebra.TermOf(a), &algebra.PathOneOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("x")))
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"x": b.String(), "g": g1.String()}, rows[0])

	rows = run(t, translate(t, perGraph, algebra.TermOf(a), &algebra.PathZeroOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("x")))
	var got []string
	for _, r := range rows {
		got = append(got, r["g"]+" "+r["x"])
	}
	sort.Strings(got)
	assert.Equal(t, []string{
		g1.String() + " " + a.String(),
		g1.String() + " " + b.String(),
		g2.String() + " " + a.String(),
	}, got)
}

func TestExplainShowsClosure(t *testing.T) {
	ts := newStore(t, rdf.NewQuad(a, p, b, nil))
	tr := NewTranslator(defaultScan(ts), evaluator.NewCompiler(nil, nil))
	n := translate(t, tr, algebra.TermOf(a), &algebra.PathOneOrMore{Path: &algebra.PathIRI{IRI: p}}, algebra.VarOf("x"))
	assert.Contains(t, relational.Explain(n), "Closure: <http://example.org/a> (?#path1->?#path2)+ ?x")
}
