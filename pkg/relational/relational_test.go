package relational

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Record(t *testing.T, name string, values ...int64) arrow.Record {
	t.Helper()
	b := array.NewInt64Builder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues(values, nil)
	return NewRecord([]string{name}, []arrow.Array{b.NewArray()}, len(values))
}

// leaf is a node replaying fixed batches.
type leaf struct {
	schema  Schema
	records []arrow.Record
}

func (l *leaf) Name() string     { return "Leaf" }
func (l *leaf) Schema() Schema   { return l.schema }
func (l *leaf) Children() []Node { return nil }
func (l *leaf) WithChildren(children []Node) (Node, error) {
	return l, nil
}
func (l *leaf) Execute(ctx context.Context, tc *TaskContext) (Stream, error) {
	return NewMemoryStream(l.records...), nil
}

type wrapper struct {
	child Node
}

func (w *wrapper) Name() string     { return "Wrapper" }
func (w *wrapper) Schema() Schema   { return w.child.Schema() }
func (w *wrapper) Children() []Node { return []Node{w.child} }
func (w *wrapper) Describe() string { return "detail" }
func (w *wrapper) WithChildren(children []Node) (Node, error) {
	return &wrapper{child: children[0]}, nil
}
func (w *wrapper) Execute(ctx context.Context, tc *TaskContext) (Stream, error) {
	return w.child.Execute(ctx, tc)
}

func TestSchemaHelpers(t *testing.T) {
	s := Schema{{Name: "x", Type: arrow.PrimitiveTypes.Int64}, {Name: "y", Type: arrow.PrimitiveTypes.Int64}}
	other := Schema{{Name: "y", Type: arrow.PrimitiveTypes.Int64}, {Name: "z", Type: arrow.PrimitiveTypes.Int64}}
	assert.Equal(t, 1, s.Index("y"))
	assert.Equal(t, -1, s.Index("z"))
	assert.Equal(t, []string{"y"}, s.Shared(other))
	assert.Equal(t, "[x, y]", s.String())
}

func TestMergeDrainsAllInputs(t *testing.T) {
	ctx := context.Background()
	a := NewMemoryStream(int64Record(t, "x", 1, 2), int64Record(t, "x", 3))
	b := NewMemoryStream(int64Record(t, "x", 4))
	recs, err := Collect(ctx, Merge(ctx, []Stream{a, b}))
	require.NoError(t, err)
	assert.Equal(t, 4, CountRows(recs))
}

func TestMergeCloseStopsProducers(t *testing.T) {
	ctx := context.Background()
	var records []arrow.Record
	for i := 0; i < 100; i++ {
		records = append(records, int64Record(t, "x", int64(i)))
	}
	m := Merge(ctx, []Stream{NewMemoryStream(records...), NewMemoryStream(records...)})
	require.True(t, m.Next(ctx))
	require.NoError(t, m.Close())
}

func TestExplainAndTransform(t *testing.T) {
	base := &leaf{schema: Schema{{Name: "x", Type: arrow.PrimitiveTypes.Int64}}}
	plan := &wrapper{child: &wrapper{child: base}}
	assert.Equal(t, "Wrapper: detail [x]\n  Wrapper: detail [x]\n    Leaf [x]\n", Explain(plan))

	replacement := &leaf{schema: Schema{{Name: "y", Type: arrow.PrimitiveTypes.Int64}}}
	out, err := Transform(plan, func(n Node) (Node, error) {
		if n == base {
			return replacement, nil
		}
		return n, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "[y]", out.Schema().String())
	assert.NotSame(t, plan, out)

	count := 0
	Walk(out, func(Node) bool { count++; return true })
	assert.Equal(t, 3, count)
}
