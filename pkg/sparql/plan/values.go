package plan

import (
	"context"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

// Values emits fixed rows. A nil term is an unbound cell.
type Values struct {
	Variables []string
	Rows      [][]rdf.Term
}

func NewValues(variables []string, rows [][]rdf.Term) (*Values, error) {
	for i, row := range rows {
		if len(row) != len(variables) {
			return nil, errors.Newf("VALUES row %d has %d terms for %d variables", i, len(row), len(variables))
		}
	}
	return &Values{Variables: variables, Rows: rows}, nil
}

// Empty returns a node producing no rows over the given variables.
func Empty(variables ...string) *Values {
	return &Values{Variables: variables}
}

// Singleton returns a node producing one row without columns, the identity
// of joins.
func Singleton() *Values {
	return &Values{Rows: [][]rdf.Term{{}}}
}

func (v *Values) Name() string {
	switch {
	case len(v.Rows) == 0:
		return "Empty"
	case len(v.Variables) == 0 && len(v.Rows) == 1:
		return "Singleton"
	}
	return "Values"
}

func (v *Values) Schema() relational.Schema { return PlainSchema(v.Variables...) }

func (v *Values) Children() []relational.Node { return nil }

func (v *Values) WithChildren([]relational.Node) (relational.Node, error) { return v, nil }

func (v *Values) Describe() string {
	if len(v.Rows) <= 1 {
		return ""
	}
	return strconv.Itoa(len(v.Rows)) + " rows"
}

func (v *Values) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	return termRows(v.Schema(), v.Rows, tc), nil
}

// termRows streams rows of terms as batches of plain columns.
func termRows(schema relational.Schema, rows [][]rdf.Term, tc *relational.TaskContext) relational.Stream {
	pos := 0
	return relational.NewFuncStream(func(ctx context.Context) (arrow.Record, error) {
		if pos >= len(rows) {
			return nil, nil
		}
		rb := newRecordBuilder(schema, tc.Allocator)
		defer rb.release()
		for ; pos < len(rows) && rb.rows < tc.BatchSize; pos++ {
			for i, t := range rows[pos] {
				rb.builders[i].AppendTerm(t)
			}
			rb.finishRow()
		}
		return rb.build(), nil
	}, nil)
}

// GraphList binds a variable to every named graph. Graphs lists them
// explicitly; when it is nil they are read from storage.
type GraphList struct {
	Storage  store.QuadStorage
	Variable string
	Graphs   []rdf.Term
}

func NewGraphList(storage store.QuadStorage, variable string, graphs []rdf.Term) *GraphList {
	return &GraphList{Storage: storage, Variable: variable, Graphs: graphs}
}

func (g *GraphList) Name() string { return "GraphList" }

func (g *GraphList) Schema() relational.Schema { return PlainSchema(g.Variable) }

func (g *GraphList) Children() []relational.Node { return nil }

func (g *GraphList) WithChildren([]relational.Node) (relational.Node, error) { return g, nil }

func (g *GraphList) Describe() string {
	if g.Graphs == nil {
		return "?" + g.Variable + " in storage"
	}
	return "?" + g.Variable + " in " + strconv.Itoa(len(g.Graphs)) + " graphs"
}

func (g *GraphList) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	graphs := g.Graphs
	if graphs == nil {
		var err error
		if graphs, err = g.Storage.NamedGraphs(ctx); err != nil {
			return nil, errors.Wrap(err, "list named graphs")
		}
	}
	rows := make([][]rdf.Term, len(graphs))
	for i, t := range graphs {
		rows[i] = []rdf.Term{t}
	}
	return termRows(g.Schema(), rows, tc), nil
}

// compile-time checks
var (
	_ relational.Node = (*QuadScan)(nil)
	_ relational.Node = (*HashJoin)(nil)
	_ relational.Node = (*ExistsJoin)(nil)
	_ relational.Node = (*Minus)(nil)
	_ relational.Node = (*Union)(nil)
	_ relational.Node = (*Filter)(nil)
	_ relational.Node = (*Extend)(nil)
	_ relational.Node = (*Project)(nil)
	_ relational.Node = (*Cast)(nil)
	_ relational.Node = (*Aggregate)(nil)
	_ relational.Node = (*Sort)(nil)
	_ relational.Node = (*Slice)(nil)
	_ relational.Node = (*Distinct)(nil)
	_ relational.Node = (*Reduced)(nil)
	_ relational.Node = (*Values)(nil)
	_ relational.Node = (*GraphList)(nil)
)
