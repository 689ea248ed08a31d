package plan

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
)

func iri(local string) *rdf.NamedNode { return rdf.NewNamedNode("http://example.org/" + local) }

func num(i int64) *rdf.Literal { return rdf.NewIntegerLiteral(i) }

func values(t *testing.T, vars []string, rows ...[]rdf.Term) *Values {
	t.Helper()
	v, err := NewValues(vars, rows)
	require.NoError(t, err)
	return v
}

// solutions renders the output of a node as one line per row, variables
// in schema order, unbound cells left out.
func solutions(t *testing.T, n relational.Node, tc *relational.TaskContext) []string {
	t.Helper()
	recs, err := relational.CollectNode(context.Background(), tc, n)
	require.NoError(t, err)
	return render(t, n.Schema(), recs)
}

func render(t *testing.T, schema relational.Schema, recs []arrow.Record) []string {
	t.Helper()
	var out []string
	for _, rec := range recs {
		cols, err := columnsOf(rec, schema)
		require.NoError(t, err)
		for row := 0; row < int(rec.NumRows()); row++ {
			var parts []string
			for i, f := range schema {
				if term := cols[i].Term(row); term != nil {
					parts = append(parts, f.Name+"="+term.String())
				}
			}
			out = append(out, strings.Join(parts, " "))
		}
	}
	return out
}

func sorted(rows []string) []string {
	out := append([]string(nil), rows...)
	sort.Strings(out)
	return out
}

func TestHashJoinCompatibility(t *testing.T) {
	left := values(t, []string{"x", "y"},
		[]rdf.Term{iri("a"), iri("b")},
		[]rdf.Term{iri("c"), nil},
		[]rdf.Term{iri("d"), iri("e")})
	right := values(t, []string{"y", "z"},
		[]rdf.Term{iri("b"), num(1)},
		[]rdf.Term{nil, num(2)})

	got := solutions(t, NewJoin(left, right), relational.NewTaskContext())
	want := []string{
		"x=<http://example.org/a> y=<http://example.org/b> z=\"1\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"x=<http://example.org/a> y=<http://example.org/b> z=\"2\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"x=<http://example.org/c> y=<http://example.org/b> z=\"1\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"x=<http://example.org/c> z=\"2\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"x=<http://example.org/d> y=<http://example.org/e> z=\"2\"^^<http://www.w3.org/2001/XMLSchema#integer>",
	}
	if diff := cmp.Diff(sorted(want), sorted(got)); diff != "" {
		t.Errorf("join mismatch (-want +got):\n%s", diff)
	}
}

func TestJoinWithoutSharedVariablesIsCrossProduct(t *testing.T) {
	left := values(t, []string{"x"}, []rdf.Term{iri("a")}, []rdf.Term{iri("b")})
	right := values(t, []string{"y"}, []rdf.Term{num(1)}, []rdf.Term{num(2)}, []rdf.Term{num(3)})
	got := solutions(t, NewJoin(left, right), relational.NewTaskContext())
	assert.Len(t, got, 6)

	id := solutions(t, NewJoin(Singleton(), left), relational.NewTaskContext())
	assert.Len(t, id, 2)
}

func TestLeftJoinKeepsEveryLeftRow(t *testing.T) {
	left := values(t, []string{"x"}, []rdf.Term{iri("a")}, []rdf.Term{iri("b")}, []rdf.Term{iri("c")})
	right := values(t, []string{"x", "n"},
		[]rdf.Term{iri("a"), num(1)},
		[]rdf.Term{iri("a"), num(5)},
		[]rdf.Term{iri("b"), num(2)})
	compiler := evaluator.NewCompiler(nil, nil)
	// OPTIONAL { ... FILTER(?n > 1) }
	join, err := NewLeftJoin(left, right, algebra.Binary(algebra.OpGreater, algebra.Var("n"), algebra.Const(num(1))), compiler)
	require.NoError(t, err)

	got := sorted(solutions(t, join, relational.NewTaskContext()))
	assert.Equal(t, []string{
		"x=<http://example.org/a> n=\"5\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"x=<http://example.org/b> n=\"2\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"x=<http://example.org/c>",
	}, got)

	// a filter that rejects every match downgrades all rows to unmatched
	never, err := NewLeftJoin(left, right, algebra.Const(rdf.NewBooleanLiteral(false)), compiler)
	require.NoError(t, err)
	got = sorted(solutions(t, never, relational.NewTaskContext()))
	assert.Equal(t, []string{"x=<http://example.org/a>", "x=<http://example.org/b>", "x=<http://example.org/c>"}, got)
}

func TestMinus(t *testing.T) {
	left := values(t, []string{"x", "y"},
		[]rdf.Term{iri("a"), iri("b")},
		[]rdf.Term{iri("c"), nil},
		[]rdf.Term{iri("d"), iri("e")})

	right := values(t, []string{"y"}, []rdf.Term{iri("b")}, []rdf.Term{nil})
	got := solutions(t, NewMinus(left, right), relational.NewTaskContext())
	assert.Equal(t, []string{"x=<http://example.org/c>", "x=<http://example.org/d> y=<http://example.org/e>"}, got)

	disjoint := values(t, []string{"z"}, []rdf.Term{iri("a")})
	got = solutions(t, NewMinus(left, disjoint), relational.NewTaskContext())
	assert.Len(t, got, 3, "no shared variable removes nothing")
}

func TestExistsJoin(t *testing.T) {
	left := values(t, []string{"x"}, []rdf.Term{iri("a")}, []rdf.Term{iri("b")})
	right := values(t, []string{"x", "p"}, []rdf.Term{iri("a"), iri("p")})

	got := solutions(t, NewExistsJoin(left, right, false), relational.NewTaskContext())
	assert.Equal(t, []string{"x=<http://example.org/a>"}, got)
	got = solutions(t, NewExistsJoin(left, right, true), relational.NewTaskContext())
	assert.Equal(t, []string{"x=<http://example.org/b>"}, got)
}

func TestUnionPadsMissingColumns(t *testing.T) {
	left := values(t, []string{"x"}, []rdf.Term{iri("a")})
	right := values(t, []string{"y", "x"}, []rdf.Term{iri("b"), iri("c")})
	u := NewUnion(left, right)
	assert.Equal(t, []string{"x", "y"}, u.Schema().Names())

	want := []string{"x=<http://example.org/a>", "x=<http://example.org/c> y=<http://example.org/b>"}
	assert.Equal(t, want, solutions(t, u, relational.NewTaskContext()))

	tc := relational.NewTaskContext()
	tc.Concurrency = 4
	assert.Equal(t, want, sorted(solutions(t, u, tc)))
}

func TestExtend(t *testing.T) {
	input := values(t, []string{"n"}, []rdf.Term{num(2)}, []rdf.Term{num(3)})
	compiler := evaluator.NewCompiler(nil, nil)

	_, err := NewExtend(input, "n", algebra.Const(num(1)), compiler, columnar.EncodingPlain)
	require.ErrorIs(t, err, ErrVariableAlreadyUsed)

	double, err := NewExtend(input, "d", algebra.Binary(algebra.OpMultiply, algebra.Var("n"), algebra.Const(num(2))), compiler, columnar.EncodingTyped)
	require.NoError(t, err)
	assert.Equal(t, columnar.EncodingTyped, EncodingOf(double.Schema()[1]))
	got := solutions(t, double, relational.NewTaskContext())
	assert.Equal(t, []string{
		"n=\"2\"^^<http://www.w3.org/2001/XMLSchema#integer> d=\"4\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"n=\"3\"^^<http://www.w3.org/2001/XMLSchema#integer> d=\"6\"^^<http://www.w3.org/2001/XMLSchema#integer>",
	}, got)

	// an evaluation error leaves the variable unbound
	failing, err := NewExtend(input, "e", algebra.Binary(algebra.OpDivide, algebra.Var("n"), algebra.Const(num(0))), compiler, columnar.EncodingTyped)
	require.NoError(t, err)
	got = solutions(t, failing, relational.NewTaskContext())
	assert.Equal(t, []string{
		"n=\"2\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"n=\"3\"^^<http://www.w3.org/2001/XMLSchema#integer>",
	}, got)
}

func TestFilterDropsErrors(t *testing.T) {
	input := values(t, []string{"n"}, []rdf.Term{num(1)}, []rdf.Term{rdf.NewLiteral("x")}, []rdf.Term{num(7)})
	f, err := NewFilter(input, algebra.Binary(algebra.OpGreater, algebra.Var("n"), algebra.Const(num(2))), evaluator.NewCompiler(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"n=\"7\"^^<http://www.w3.org/2001/XMLSchema#integer>"}, solutions(t, f, relational.NewTaskContext()))
}

func TestAggregate(t *testing.T) {
	input := values(t, []string{"g", "n"},
		[]rdf.Term{iri("a"), num(1)},
		[]rdf.Term{iri("b"), num(10)},
		[]rdf.Term{iri("a"), num(2)},
		[]rdf.Term{iri("a"), rdf.NewLiteral("x")})
	compiler := evaluator.NewCompiler(nil, nil)
	aggs := []AggregateSpec{
		{Variable: "c", Aggregate: &algebra.AggregateExpression{Function: algebra.AggCount}},
		{Variable: "s", Aggregate: &algebra.AggregateExpression{Function: algebra.AggSum, Expr: algebra.Var("n")}},
	}
	agg, err := NewAggregate(input, []string{"g"}, aggs, compiler, columnar.EncodingTyped)
	require.NoError(t, err)
	got := solutions(t, agg, relational.NewTaskContext())
	assert.Equal(t, []string{
		"g=<http://example.org/a> c=\"3\"^^<http://www.w3.org/2001/XMLSchema#integer>",
		"g=<http://example.org/b> c=\"1\"^^<http://www.w3.org/2001/XMLSchema#integer> s=\"10\"^^<http://www.w3.org/2001/XMLSchema#integer>",
	}, got, "the non-numeric term makes the sum of group a an error")

	empty := Empty("g", "n")
	noKeys, err := NewAggregate(empty, nil, aggs[:1], compiler, columnar.EncodingTyped)
	require.NoError(t, err)
	assert.Equal(t, []string{"c=\"0\"^^<http://www.w3.org/2001/XMLSchema#integer>"}, solutions(t, noKeys, relational.NewTaskContext()))

	keyed, err := NewAggregate(empty, []string{"g"}, aggs[:1], compiler, columnar.EncodingTyped)
	require.NoError(t, err)
	assert.Empty(t, solutions(t, keyed, relational.NewTaskContext()))
}

func TestDistinctAggregates(t *testing.T) {
	input := values(t, []string{"g", "n"},
		[]rdf.Term{iri("a"), num(1)},
		[]rdf.Term{iri("a"), num(1)},
		[]rdf.Term{iri("a"), num(2)},
		[]rdf.Term{iri("a"), nil},
		[]rdf.Term{iri("a"), nil},
		[]rdf.Term{iri("b"), num(3)})
	compiler := evaluator.NewCompiler(nil, nil)
	aggs := []AggregateSpec{
		{Variable: "all", Aggregate: &algebra.AggregateExpression{Function: algebra.AggCount}},
		{Variable: "rows", Aggregate: &algebra.AggregateExpression{Function: algebra.AggCount, Distinct: true}},
		{Variable: "c", Aggregate: &algebra.AggregateExpression{Function: algebra.AggCount, Distinct: true, Expr: algebra.Var("n")}},
		{Variable: "s", Aggregate: &algebra.AggregateExpression{Function: algebra.AggSum, Distinct: true, Expr: algebra.Var("n")}},
		{Variable: "j", Aggregate: &algebra.AggregateExpression{Function: algebra.AggGroupConcat, Distinct: true, Separator: ",", Expr: algebra.Var("n")}},
	}
	agg, err := NewAggregate(input, []string{"g"}, aggs, compiler, columnar.EncodingTyped)
	require.NoError(t, err)

	const xsdInteger = "^^<http://www.w3.org/2001/XMLSchema#integer>"
	want := []string{
		`g=<http://example.org/a> all="5"` + xsdInteger + ` rows="3"` + xsdInteger +
			` c="2"` + xsdInteger + ` s="3"` + xsdInteger + ` j="1,2"`,
		`g=<http://example.org/b> all="1"` + xsdInteger + ` rows="1"` + xsdInteger +
			` c="1"` + xsdInteger + ` s="3"` + xsdInteger + ` j="3"`,
	}
	for _, batchSize := range []int{1, 1024} {
		tc := relational.NewTaskContext()
		tc.BatchSize = batchSize
		assert.Equal(t, want, solutions(t, agg, tc), "batch size %d", batchSize)
	}

	noKeys, err := NewAggregate(input, nil, aggs[1:2], compiler, columnar.EncodingTyped)
	require.NoError(t, err)
	assert.Equal(t, []string{`rows="4"` + xsdInteger}, solutions(t, noKeys, relational.NewTaskContext()))
}

func TestSortIsStable(t *testing.T) {
	input := values(t, []string{"k", "id"},
		[]rdf.Term{num(2), iri("first")},
		[]rdf.Term{num(1), iri("second")},
		[]rdf.Term{num(2), iri("third")},
		[]rdf.Term{nil, iri("fourth")})
	s, err := NewSort(input, []algebra.OrderCondition{{Expr: algebra.Var("k"), Ascending: false}}, evaluator.NewCompiler(nil, nil))
	require.NoError(t, err)

	tc := relational.NewTaskContext()
	tc.BatchSize = 3
	var ids []string
	for _, row := range solutions(t, s, tc) {
		ids = append(ids, row[strings.LastIndex(row, "/")+1:len(row)-1])
	}
	assert.Equal(t, []string{"first", "third", "second", "fourth"}, ids)
}

// countingNode counts the batches pulled from it and whether it was closed.
type countingNode struct {
	*Values
	pulled int
	closed bool
}

func (c *countingNode) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	inner, err := c.Values.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	return relational.NewFuncStream(func(ctx context.Context) (arrow.Record, error) {
		if !inner.Next(ctx) {
			return nil, inner.Err()
		}
		c.pulled++
		return inner.Record(), nil
	}, func() error {
		c.closed = true
		return inner.Close()
	}), nil
}

func TestSliceStopsPullingAtLimit(t *testing.T) {
	var rows [][]rdf.Term
	for i := 0; i < 100; i++ {
		rows = append(rows, []rdf.Term{num(int64(i))})
	}
	input := &countingNode{Values: values(t, []string{"n"}, rows...)}
	tc := relational.NewTaskContext()
	tc.BatchSize = 10

	stream, err := NewSlice(input, 15, 10).Execute(context.Background(), tc)
	require.NoError(t, err)
	recs, err := relational.Collect(context.Background(), stream)
	require.NoError(t, err)

	got := render(t, input.Schema(), recs)
	require.Len(t, got, 10)
	assert.Contains(t, got[0], "\"15\"")
	assert.Contains(t, got[9], "\"24\"")
	assert.Equal(t, 3, input.pulled)
	assert.True(t, input.closed)
}

func TestDistinctAndReduced(t *testing.T) {
	input := values(t, []string{"x", "y"},
		[]rdf.Term{iri("a"), nil},
		[]rdf.Term{iri("a"), nil},
		[]rdf.Term{iri("a"), iri("b")},
		[]rdf.Term{iri("a"), nil})
	assert.Len(t, solutions(t, NewDistinct(input), relational.NewTaskContext()), 2)

	tc := relational.NewTaskContext()
	tc.BatchSize = 2
	reduced := solutions(t, NewReduced(input), tc)
	assert.LessOrEqual(t, len(reduced), 4)
	distinct := make(map[string]bool)
	for _, r := range reduced {
		distinct[r] = true
	}
	assert.Len(t, distinct, 2)
}

func TestCastRoundTrip(t *testing.T) {
	input := values(t, []string{"v"},
		[]rdf.Term{num(42)},
		[]rdf.Term{rdf.NewLiteralWithDatatype("042", rdf.XSDInteger)},
		[]rdf.Term{rdf.NewLiteralWithLanguage("chat", "fr")},
		[]rdf.Term{nil})
	typed := NewCast(input, map[string]columnar.Encoding{"v": columnar.EncodingTyped})
	assert.Equal(t, columnar.EncodingTyped, EncodingOf(typed.Schema()[0]))
	back := NewCast(typed, map[string]columnar.Encoding{"v": columnar.EncodingPlain})

	tc := relational.NewTaskContext()
	assert.Equal(t, solutions(t, input, tc), solutions(t, back, tc))
}

func TestJoinRejectsMixedEncodings(t *testing.T) {
	left := values(t, []string{"x"}, []rdf.Term{num(1)})
	right := NewCast(values(t, []string{"x"}, []rdf.Term{num(1)}), map[string]columnar.Encoding{"x": columnar.EncodingTyped})
	_, err := NewJoin(left, right).Execute(context.Background(), relational.NewTaskContext())
	require.ErrorIs(t, err, ErrEncodingMismatch)
}

func TestExplain(t *testing.T) {
	input := values(t, []string{"x"}, []rdf.Term{iri("a")}, []rdf.Term{iri("b")})
	out := relational.Explain(NewSlice(NewDistinct(input), 0, 5))
	assert.Equal(t, "Slice: offset=0 limit=5 [x]\n  Distinct [x]\n    Values: 2 rows [x]\n", out)
}
