package executor

import (
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/trigofusion/internal/encoding"
	"github.com/aleksaelezovic/trigofusion/internal/storage"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/parser"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

const prologue = "PREFIX ex: <http://example.org/>\nPREFIX xsd: <http://www.w3.org/2001/XMLSchema#>\n"

func ex(local string) *rdf.NamedNode { return rdf.NewNamedNode("http://example.org/" + local) }

var (
	a, b, c, d = ex("a"), ex("b"), ex("c"), ex("d")
	p, q       = ex("p"), ex("q")
	g1, g2     = ex("g1"), ex("g2")
)

func newExecutor(t *testing.T, quads ...*rdf.Quad) *Executor {
	t.Helper()
	kv, err := storage.NewMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	ts := store.NewTripleStore(kv, encoding.NewTermEncoder(), encoding.NewTermDecoder())
	require.NoError(t, ts.Insert(context.Background(), quads...))
	return NewExecutor(ts, Options{})
}

func selectRows(t *testing.T, e *Executor, query string) []map[string]string {
	t.Helper()
	ctx := context.Background()
	result, err := e.Query(ctx, prologue+query)
	require.NoError(t, err)
	sols, ok := result.(*Solutions)
	require.True(t, ok, "expected solutions, got %T", result)
	all, err := sols.Collect(ctx)
	require.NoError(t, err)
	rows := make([]map[string]string, 0, len(all))
	for _, s := range all {
		row := make(map[string]string, len(s))
		for name, term := range s {
			row[name] = term.String()
		}
		rows = append(rows, row)
	}
	return rows
}

func column(rows []map[string]string, name string) []string {
	var out []string
	for _, r := range rows {
		out = append(out, r[name])
	}
	sort.Strings(out)
	return out
}

func graphOf(t *testing.T, e *Executor, query string) []string {
	t.Helper()
	result, err := e.Query(context.Background(), prologue+query)
	require.NoError(t, err)
	graph, ok := result.(*GraphResult)
	require.True(t, ok, "expected graph, got %T", result)
	var out []string
	for _, tr := range graph.Triples {
		out = append(out, tr.String())
	}
	sort.Strings(out)
	return out
}

func TestSelectPath(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, p, c, nil),
		rdf.NewQuad(d, p, a, nil),
	)
	rows := selectRows(t, e, "SELECT ?x WHERE { ex:a ex:p+ ?x }")
	assert.Equal(t, []string{b.String(), c.String()}, column(rows, "x"))

	rows = selectRows(t, e, "SELECT ?x WHERE { ex:a ex:p* ?x }")
	assert.Equal(t, []string{a.String(), b.String(), c.String()}, column(rows, "x"))
}

func TestSelectJoin(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, p, c, nil),
		rdf.NewQuad(c, q, d, nil),
	)
	rows := selectRows(t, e, "SELECT * WHERE { ?x ex:p ?y . ?y ex:p ?z }")
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{"x": a.String(), "y": b.String(), "z": c.String()}, rows[0])
}

func TestSelectFilterArithmetic(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, rdf.NewIntegerLiteral(5), nil),
		rdf.NewQuad(b, p, rdf.NewIntegerLiteral(6), nil),
		rdf.NewQuad(c, p, rdf.NewLiteral("6"), nil),
	)
	rows := selectRows(t, e, `SELECT ?s WHERE { ?s ex:p ?n FILTER(?n = "5"^^xsd:integer + 1) }`)
	assert.Equal(t, []string{b.String()}, column(rows, "s"))

	// Division by zero is an error, and an error rejects the row
	rows = selectRows(t, e, `SELECT ?s WHERE { ?s ex:p ?n FILTER(?n / 0 > 1) }`)
	assert.Empty(t, rows)
}

func TestSelectHidesGeneratedVariables(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(a, p, c, nil),
	)
	result, err := e.Query(context.Background(), prologue+"SELECT ?s (COUNT(?o) AS ?n) WHERE { ?s ex:p [] ; ex:p ?o } GROUP BY ?s")
	require.NoError(t, err)
	sols := result.(*Solutions)
	assert.Equal(t, []string{"s", "n"}, sols.Variables())
	all, err := sols.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, rdf.NewIntegerLiteral(4).String(), all[0]["n"].String())
}

func TestSelectCountDistinct(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, q, b, nil),
		rdf.NewQuad(a, q, c, nil),
		rdf.NewQuad(b, q, c, nil),
		rdf.NewQuad(c, q, c, nil),
		rdf.NewQuad(c, q, c, g1),
	)
	rows := selectRows(t, e, `SELECT (COUNT(*) AS ?all) (COUNT(DISTINCT *) AS ?rows)
		(COUNT(DISTINCT ?s) AS ?subjects) (COUNT(DISTINCT ?o) AS ?objects)
		WHERE { { ?s ex:q ?o } UNION { GRAPH ?g { ?s ex:q ?o } } }`)
	require.Len(t, rows, 1)
	assert.Equal(t, map[string]string{
		"all":      rdf.NewIntegerLiteral(5).String(),
		"rows":     rdf.NewIntegerLiteral(5).String(),
		"subjects": rdf.NewIntegerLiteral(3).String(),
		"objects":  rdf.NewIntegerLiteral(2).String(),
	}, rows[0])

	rows = selectRows(t, e, `SELECT (COUNT(*) AS ?all) (COUNT(DISTINCT *) AS ?rows)
		WHERE { { ?s ex:q ?o } UNION { ?s ex:q ?o } }`)
	require.Len(t, rows, 1)
	assert.Equal(t, rdf.NewIntegerLiteral(8).String(), rows[0]["all"])
	assert.Equal(t, rdf.NewIntegerLiteral(4).String(), rows[0]["rows"])

	rows = selectRows(t, e, `SELECT ?s (COUNT(DISTINCT *) AS ?n) WHERE { ?s ex:q [] } GROUP BY ?s ORDER BY ?s`)
	require.Len(t, rows, 3)
	assert.Equal(t, rdf.NewIntegerLiteral(1).String(), rows[0]["n"], "generated variables are not part of the solution")
}

func TestSelectModifiers(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, rdf.NewIntegerLiteral(3), nil),
		rdf.NewQuad(b, p, rdf.NewIntegerLiteral(1), nil),
		rdf.NewQuad(c, p, rdf.NewIntegerLiteral(2), nil),
	)
	rows := selectRows(t, e, "SELECT ?s WHERE { ?s ex:p ?n } ORDER BY DESC(?n) LIMIT 2")
	require.Len(t, rows, 2)
	assert.Equal(t, a.String(), rows[0]["s"])
	assert.Equal(t, c.String(), rows[1]["s"])
}

func TestAsk(t *testing.T) {
	e := newExecutor(t, rdf.NewQuad(a, p, b, nil))
	ctx := context.Background()

	result, err := e.Query(ctx, prologue+"ASK { ex:a ex:p ?o }")
	require.NoError(t, err)
	assert.Equal(t, &BooleanResult{Value: true}, result)

	result, err = e.Query(ctx, prologue+"ASK { ex:b ex:p ?o }")
	require.NoError(t, err)
	assert.Equal(t, &BooleanResult{Value: false}, result)
}

func TestConstruct(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(a, p, c, nil),
		rdf.NewQuad(b, q, c, nil),
	)

	triples := graphOf(t, e, "CONSTRUCT { ?o ex:q ex:a . ex:a ex:q ex:d } WHERE { ex:a ex:p ?o }")
	// The constant triple appears once although two solutions produce it
	assert.Equal(t, []string{
		rdf.NewTriple(a, q, d).String(),
		rdf.NewTriple(b, q, a).String(),
		rdf.NewTriple(c, q, a).String(),
	}, triples)

	triples = graphOf(t, e, "CONSTRUCT { _:n ex:q ?o } WHERE { ex:a ex:p ?o }")
	require.Len(t, triples, 2)
	subjects := make(map[string]bool)
	for _, tr := range triples {
		subjects[strings.Fields(tr)[0]] = true
	}
	assert.Len(t, subjects, 2, "each solution gets its own blank node")

	// Unbound template positions skip the triple
	triples = graphOf(t, e, "CONSTRUCT { ?s ex:q ?missing . ?s ex:q ex:d } WHERE { ?s ex:q ?o }")
	assert.Equal(t, []string{rdf.NewTriple(b, q, d).String()}, triples)

	triples = graphOf(t, e, "CONSTRUCT WHERE { ?s ex:q ?o }")
	assert.Equal(t, []string{rdf.NewTriple(b, q, c).String()}, triples)
}

func TestDescribe(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, q, c, nil),
		rdf.NewQuad(c, q, d, nil),
	)

	triples := graphOf(t, e, "DESCRIBE ex:a")
	assert.Equal(t, []string{rdf.NewTriple(a, p, b).String()}, triples)

	triples = graphOf(t, e, "DESCRIBE ?x WHERE { ex:a ex:p ?x }")
	assert.Equal(t, []string{rdf.NewTriple(b, q, c).String()}, triples)

	plan, err := e.Prepare(context.Background(), mustParse(t, "DESCRIBE ex:a"), nil)
	require.NoError(t, err)
	assert.Nil(t, plan.Root())
	assert.Contains(t, plan.Explain(), "Describe:")
}

func TestPrepareDatasetOverridesQuery(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, g1),
		rdf.NewQuad(a, p, c, g2),
	)
	ctx := context.Background()
	query := mustParse(t, "SELECT ?o FROM ex:g1 WHERE { ex:a ex:p ?o }")

	plan, err := e.Prepare(ctx, query, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{b.String()}, collectColumn(t, plan, "o"))

	plan, err = e.Prepare(ctx, query, &algebra.Dataset{Default: []*rdf.NamedNode{g2}, Named: []*rdf.NamedNode{}})
	require.NoError(t, err)
	assert.Equal(t, []string{c.String()}, collectColumn(t, plan, "o"))

	// A plan can run more than once
	assert.Equal(t, []string{c.String()}, collectColumn(t, plan, "o"))
}

func TestExplain(t *testing.T) {
	e := newExecutor(t, rdf.NewQuad(a, p, b, nil))
	plan, err := e.Prepare(context.Background(), mustParse(t, "SELECT ?o WHERE { ?s ex:p ?o FILTER(?s = ex:a) }"), nil)
	require.NoError(t, err)
	out := plan.Explain()
	assert.Contains(t, out, "QuadScan")
	assert.True(t, strings.HasSuffix(out, "\n"))
	assert.NotContains(t, out, "Filter", "an IRI equality is pushed into the scan")
}

func TestExistsInExpressions(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(b, p, c, nil),
		rdf.NewQuad(c, p, d, nil),
		rdf.NewQuad(b, q, d, nil),
	)
	rows := selectRows(t, e, `SELECT ?s WHERE { ?s ex:p ?o FILTER(?s = ex:a || EXISTS { ?s ex:q ?z }) }`)
	assert.Equal(t, []string{a.String(), b.String()}, column(rows, "s"))

	rows = selectRows(t, e, `SELECT * WHERE { ?s ex:p ?o BIND(NOT EXISTS { ?o ex:p ?next } AS ?last) }`)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Len(t, row, 3, "only s, o and last are visible")
		want := rdf.NewBooleanLiteral(row["o"] == d.String()).String()
		assert.Equal(t, want, row["last"], row["s"])
	}

	rows = selectRows(t, e, `SELECT ?s (IF(EXISTS { ?s ex:q [] }, "q", "none") AS ?kind)
		WHERE { ?s ex:p ?o } ORDER BY DESC(EXISTS { ?s ex:q [] }) ?s`)
	require.Len(t, rows, 3)
	assert.Equal(t, b.String(), rows[0]["s"])
	assert.Equal(t, `"q"`, rows[0]["kind"])
	assert.Equal(t, []string{`"none"`, `"none"`}, []string{rows[1]["kind"], rows[2]["kind"]})

	rows = selectRows(t, e, `SELECT ?s WHERE { ?s ex:p ?o FILTER(!(EXISTS { ?s ex:q ?z } && EXISTS { ?o ex:p ?n })) }`)
	assert.Equal(t, []string{a.String(), c.String()}, column(rows, "s"))
}

func TestUnsupportedFunction(t *testing.T) {
	e := newExecutor(t, rdf.NewQuad(a, p, b, nil))
	_, err := e.Query(context.Background(), prologue+"SELECT ?o WHERE { ?s ex:p ?o FILTER(ex:nope(?o)) }")
	require.Error(t, err)
	assert.True(t, errors.Is(err, evaluator.ErrUnsupported))
}

func TestSyntaxError(t *testing.T) {
	e := newExecutor(t)
	_, err := e.Query(context.Background(), "SELECT WHERE {")
	require.Error(t, err)
	assert.True(t, errors.Is(err, parser.ErrSyntax))
}

func TestSolutionsClose(t *testing.T) {
	e := newExecutor(t,
		rdf.NewQuad(a, p, b, nil),
		rdf.NewQuad(a, p, c, nil),
	)
	ctx := context.Background()
	result, err := e.Query(ctx, prologue+"SELECT ?o WHERE { ex:a ex:p ?o }")
	require.NoError(t, err)
	sols := result.(*Solutions)
	require.True(t, sols.Next(ctx))
	require.NoError(t, sols.Close())
	assert.False(t, sols.Next(ctx))
	assert.NoError(t, sols.Close())
}

func mustParse(t *testing.T, query string) *algebra.Query {
	t.Helper()
	q, err := parser.Parse(prologue + query)
	require.NoError(t, err)
	return q
}

func collectColumn(t *testing.T, plan *Plan, name string) []string {
	t.Helper()
	ctx := context.Background()
	result, err := plan.Execute(ctx)
	require.NoError(t, err)
	all, err := result.(*Solutions).Collect(ctx)
	require.NoError(t, err)
	var out []string
	for _, s := range all {
		if term := s[name]; term != nil {
			out = append(out, term.String())
		}
	}
	sort.Strings(out)
	return out
}
