package optimizer

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
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

func num(i int64) *rdf.Literal { return rdf.NewIntegerLiteral(i) }

var (
	a, b, c = ex("a"), ex("b"), ex("c")
	p, q    = ex("p"), ex("q")

	compiler = evaluator.NewCompiler(nil, nil)
)

func newStore(t *testing.T) *store.TripleStore {
	t.Helper()
	kv, err := storage.NewMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	ts := store.NewTripleStore(kv, encoding.NewTermEncoder(), encoding.NewTermDecoder())
	require.NoError(t, ts.Insert(context.Background(),
		rdf.NewQuad(a, p, num(1), nil),
		rdf.NewQuad(b, p, num(6), nil),
		rdf.NewQuad(c, p, num(3), nil),
		rdf.NewQuad(a, q, b, nil),
		rdf.NewQuad(b, q, c, nil)))
	return ts
}

// noPushdown hides the filter support of a storage.
type noPushdown struct{ store.QuadStorage }

func (noPushdown) SupportsFilterPushdown() bool { return false }

func scan(ts store.QuadStorage, s, pred, o store.Position) *plan.QuadScan {
	return plan.NewQuadScan(ts, store.QuadPattern{Subject: s, Predicate: pred, Object: o})
}

func filter(t *testing.T, input relational.Node, expr algebra.Expression) *plan.Filter {
	t.Helper()
	f, err := plan.NewFilter(input, expr, compiler)
	require.NoError(t, err)
	return f
}

func rows(t *testing.T, n relational.Node) []string {
	t.Helper()
	recs, err := relational.CollectNode(context.Background(), relational.NewTaskContext(), n)
	require.NoError(t, err)
	var out []string
	for _, rec := range recs {
		for row := 0; row < int(rec.NumRows()); row++ {
			var parts []string
			for i := 0; i < int(rec.NumCols()); i++ {
				if term := columnar.MustWrap(rec.Column(i)).Term(row); term != nil {
					parts = append(parts, rec.ColumnName(i)+"="+term.String())
				}
			}
			out = append(out, strings.Join(parts, " "))
		}
	}
	sort.Strings(out)
	return out
}

// rewrite applies pass and checks that the rewritten plan returns the same
// rows as the original.
func rewrite(t *testing.T, pass Pass, n relational.Node) relational.Node {
	t.Helper()
	out, err := pass.Rewrite(context.Background(), n)
	require.NoError(t, err)
	if diff := cmp.Diff(rows(t, n), rows(t, out)); diff != "" {
		t.Fatalf("%s changed the solutions (-before +after):\n%s", pass.Name(), diff)
	}
	return out
}

func countOf[N relational.Node](n relational.Node) int {
	count := 0
	relational.Walk(n, func(n relational.Node) bool {
		if _, ok := n.(N); ok {
			count++
		}
		return true
	})
	return count
}

var sp = scan(nil, store.Var("s"), store.Bound(p), store.Var("o"))

func TestFoldArithmetic(t *testing.T) {
	ts := newStore(t)
	in := scan(ts, store.Var("s"), store.Bound(p), store.Var("o"))
	expr := algebra.Binary(algebra.OpEqual, algebra.Var("o"),
		algebra.Binary(algebra.OpAdd, algebra.Const(rdf.NewLiteralWithDatatype("5", rdf.XSDInteger)), algebra.Const(num(1))))

	out := rewrite(t, FoldConstants{}, filter(t, in, expr))
	f, ok := out.(*plan.Filter)
	require.True(t, ok)
	assert.Equal(t, `(?o = "6"^^<http://www.w3.org/2001/XMLSchema#integer>)`, algebra.FormatExpression(f.Expr))
	assert.Equal(t, []string{`s=<http://example.org/b> o="6"^^<http://www.w3.org/2001/XMLSchema#integer>`}, rows(t, out))
}

func TestFoldConstantFilters(t *testing.T) {
	ts := newStore(t)
	in := scan(ts, store.Var("s"), store.Bound(p), store.Var("o"))
	gt := algebra.Binary(algebra.OpGreater, algebra.Var("o"), algebra.Const(num(2)))

	out := rewrite(t, FoldConstants{}, filter(t, in, algebra.And(algebra.Const(rdf.NewBooleanLiteral(true)), gt)))
	f, ok := out.(*plan.Filter)
	require.True(t, ok)
	assert.Equal(t, gt, f.Expr)

	out = rewrite(t, FoldConstants{}, filter(t, in, algebra.Const(rdf.NewBooleanLiteral(true))))
	assert.Same(t, in, out)

	for _, expr := range []algebra.Expression{
		algebra.Binary(algebra.OpEqual, algebra.Const(num(1)), algebra.Const(num(2))),
		algebra.Binary(algebra.OpDivide, algebra.Const(num(1)), algebra.Const(num(0))),
	} {
		out = rewrite(t, FoldConstants{}, filter(t, in, algebra.And(gt, expr)))
		assert.Equal(t, "Empty", out.Name(), algebra.FormatExpression(expr))
		assert.Equal(t, []string{"s", "o"}, out.Schema().Names())
	}
}

func TestFoldKeepsErrorsAndVolatileCalls(t *testing.T) {
	div := algebra.Binary(algebra.OpDivide, algebra.Const(num(1)), algebra.Const(num(0)))
	expr := algebra.Binary(algebra.OpAdd, div, algebra.Var("x"))
	out, changed := FoldExpression(expr, compiler)
	assert.False(t, changed)
	assert.Same(t, expr, out)

	rand := algebra.Binary(algebra.OpAdd, algebra.Call("RAND"), algebra.Const(num(1)))
	_, changed = FoldExpression(rand, compiler)
	assert.False(t, changed)

	out, changed = FoldExpression(algebra.Call("STRLEN", algebra.Const(rdf.NewLiteral("abc"))), compiler)
	assert.True(t, changed)
	require.IsType(t, &algebra.TermExpression{}, out)
	assert.Equal(t, num(3).String(), out.(*algebra.TermExpression).Term.String())
}

func TestPushDownIntoScans(t *testing.T) {
	ts := newStore(t)
	join := plan.NewJoin(
		scan(ts, store.Var("x"), store.Bound(q), store.Var("y")),
		scan(ts, store.Var("y"), store.Bound(p), store.Var("n")))
	expr := algebra.And(
		algebra.Binary(algebra.OpEqual, algebra.Var("x"), algebra.Const(a)),
		algebra.Binary(algebra.OpGreater, algebra.Var("n"), algebra.Const(num(2))))

	out := rewrite(t, PushDownFilters{}, filter(t, join, expr))
	require.IsType(t, &plan.HashJoin{}, out)
	j := out.(*plan.HashJoin)
	left, right := j.Left.(*plan.QuadScan), j.Right.(*plan.QuadScan)
	assert.Equal(t, map[string]rdf.Term{"x": a}, left.Constraints)
	assert.Nil(t, left.Filter)
	assert.Equal(t, "(?n > \"2\"^^<http://www.w3.org/2001/XMLSchema#integer>)", algebra.FormatExpression(right.Filter))
	assert.Len(t, rows(t, out), 1)
}

func TestPushDownSkipsOptionalSide(t *testing.T) {
	ts := newStore(t)
	lj, err := plan.NewLeftJoin(
		scan(ts, store.Var("x"), store.Bound(q), store.Var("y")),
		scan(ts, store.Var("y"), store.Bound(p), store.Var("n")),
		nil, compiler)
	require.NoError(t, err)
	expr := algebra.Call("BOUND", algebra.Var("n"))

	out := rewrite(t, PushDownFilters{}, filter(t, lj, expr))
	assert.IsType(t, &plan.Filter{}, out)
	assert.Equal(t, 0, countScanFilters(out))

	// the left side always binds ?x, so the filter may move there
	out = rewrite(t, PushDownFilters{}, filter(t, lj, algebra.Binary(algebra.OpEqual, algebra.Var("x"), algebra.Const(b))))
	assert.IsType(t, &plan.HashJoin{}, out)
}

func countScanFilters(n relational.Node) int {
	count := 0
	relational.Walk(n, func(n relational.Node) bool {
		if s, ok := n.(*plan.QuadScan); ok && (s.Filter != nil || len(s.Constraints) > 0) {
			count++
		}
		return true
	})
	return count
}

func TestPushDownNeedsStorageSupport(t *testing.T) {
	ts := noPushdown{newStore(t)}
	in := scan(ts, store.Var("s"), store.Bound(p), store.Var("o"))
	expr := algebra.And(
		algebra.Binary(algebra.OpGreater, algebra.Var("o"), algebra.Const(num(2))),
		algebra.Call("SAMETERM", algebra.Var("s"), algebra.Const(b)))

	out := rewrite(t, PushDownFilters{}, filter(t, in, expr))
	f, ok := out.(*plan.Filter)
	require.True(t, ok)
	assert.Equal(t, "(?o > \"2\"^^<http://www.w3.org/2001/XMLSchema#integer>)", algebra.FormatExpression(f.Expr))
	assert.Equal(t, map[string]rdf.Term{"s": b}, f.Input.(*plan.QuadScan).Constraints)
}

func TestPushDownLiteralEqualityIsNotAConstraint(t *testing.T) {
	ts := newStore(t)
	in := scan(ts, store.Var("s"), store.Bound(p), store.Var("o"))
	// "6.0"^^xsd:decimal equals 6 but is a different term
	expr := algebra.Binary(algebra.OpEqual, algebra.Var("o"), algebra.Const(rdf.NewLiteralWithDatatype("6.0", rdf.XSDDecimal)))
	out := rewrite(t, PushDownFilters{}, filter(t, in, expr))
	s := out.(*plan.QuadScan)
	assert.Empty(t, s.Constraints)
	assert.NotNil(t, s.Filter)
	assert.Len(t, rows(t, out), 1)
}

func TestSelectEncodingsCastsNumericInputs(t *testing.T) {
	ts := newStore(t)
	in := scan(ts, store.Var("s"), store.Bound(p), store.Var("o"))
	f := filter(t, in, algebra.Binary(algebra.OpGreater, algebra.Var("o"), algebra.Const(num(2))))

	out := rewrite(t, SelectEncodings{}, f)
	assert.Equal(t,
		"Cast: ?o->plain [s, o]\n"+
			"  Filter: (?o > \"2\"^^<http://www.w3.org/2001/XMLSchema#integer>) [s, o]\n"+
			"    Cast: ?o->typed [s, o]\n"+
			"      QuadScan: ?s <http://example.org/p> ?o [s, o]\n",
		relational.Explain(out))
	for _, field := range out.Schema() {
		assert.Equal(t, columnar.EncodingPlain, plan.EncodingOf(field))
	}
}

func TestSelectEncodingsReconcilesUnion(t *testing.T) {
	left, err := plan.NewValues([]string{"x"}, [][]rdf.Term{{num(2)}})
	require.NoError(t, err)
	doubled, err := plan.NewExtend(left, "y",
		algebra.Binary(algebra.OpMultiply, algebra.Var("x"), algebra.Const(num(2))), compiler, columnar.EncodingPlain)
	require.NoError(t, err)
	right, err := plan.NewValues([]string{"y"}, [][]rdf.Term{{num(7)}})
	require.NoError(t, err)

	out := rewrite(t, SelectEncodings{}, plan.NewUnion(doubled, right))
	u, ok := out.(*plan.Union)
	require.True(t, ok)
	for _, child := range u.Inputs {
		y := child.Schema()[child.Schema().Index("y")]
		assert.Equal(t, columnar.EncodingPlain, plan.EncodingOf(y), relational.Explain(child))
	}
	// ?x typed for the multiplication, ?y back to plain for the union and
	// ?x back to plain at the root
	assert.Equal(t, 3, countOf[*plan.Cast](out))
}

func TestCastPairsCollapse(t *testing.T) {
	typed := castTo(sp, map[string]columnar.Encoding{"o": columnar.EncodingTyped})
	require.IsType(t, &plan.Cast{}, typed)
	assert.Same(t, sp, castTo(typed, map[string]columnar.Encoding{"o": columnar.EncodingPlain}))
	assert.Same(t, sp, castTo(sp, map[string]columnar.Encoding{"o": columnar.EncodingPlain}))

	out, err := SelectEncodings{}.Rewrite(context.Background(), plan.NewCast(typed, map[string]columnar.Encoding{"o": columnar.EncodingPlain}))
	require.NoError(t, err)
	assert.Same(t, sp, out)
}

func TestDefaultPassesPreserveSolutions(t *testing.T) {
	ts := newStore(t)
	join := plan.NewJoin(
		scan(ts, store.Var("x"), store.Bound(q), store.Var("y")),
		scan(ts, store.Var("y"), store.Bound(p), store.Var("n")))
	f := filter(t, join, algebra.And(
		algebra.Binary(algebra.OpGreater, algebra.Var("n"),
			algebra.Binary(algebra.OpAdd, algebra.Const(num(1)), algebra.Const(num(1)))),
		algebra.Call("ISIRI", algebra.Var("x"))))
	sorted, err := plan.NewSort(f, []algebra.OrderCondition{{Expr: algebra.Var("n"), Ascending: false}}, compiler)
	require.NoError(t, err)

	opt := New(nil, DefaultPasses()...)
	out, err := opt.Optimize(context.Background(), sorted)
	require.NoError(t, err)
	assert.Equal(t, rows(t, sorted), rows(t, out))
	assert.Equal(t, 0, countOf[*plan.Filter](out), relational.Explain(out))

	assert.Len(t, Passes(true, false, true), 2)
}
