package plan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
)

// Union concatenates its inputs. Each input batch is padded with unbound
// columns for the variables it lacks and reordered to the union schema.
// With a task concurrency above one the inputs are drained concurrently
// and batch order across inputs is unspecified.
type Union struct {
	Inputs []relational.Node
	schema relational.Schema
}

func NewUnion(inputs ...relational.Node) *Union {
	var schema relational.Schema
	for _, in := range inputs {
		schema = mergeSchemas(schema, in.Schema())
	}
	return &Union{Inputs: inputs, schema: schema}
}

func (u *Union) Name() string { return "Union" }

func (u *Union) Schema() relational.Schema { return u.schema }

func (u *Union) Children() []relational.Node { return u.Inputs }

func (u *Union) WithChildren(children []relational.Node) (relational.Node, error) {
	if len(children) == 0 {
		return nil, errors.New("union needs at least one input")
	}
	return NewUnion(children...), nil
}

func (u *Union) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	for i, a := range u.Inputs {
		for _, b := range u.Inputs[i+1:] {
			if err := checkShared(a.Schema(), b.Schema()); err != nil {
				return nil, err
			}
		}
	}
	streams, err := relational.ExecuteChildren(ctx, tc, u)
	if err != nil {
		return nil, err
	}
	for i, s := range streams {
		streams[i] = u.pad(s, tc)
	}
	if len(streams) == 1 {
		return streams[0], nil
	}
	if tc.Concurrency > 1 {
		return relational.Merge(ctx, streams), nil
	}
	return concat(streams), nil
}

func (u *Union) pad(s relational.Stream, tc *relational.TaskContext) relational.Stream {
	schema := u.schema
	return mapStream(s, func(_ context.Context, rec arrow.Record) (arrow.Record, error) {
		rows := int(rec.NumRows())
		cols := make([]arrow.Array, len(schema))
		for i, f := range schema {
			if arr, ok := relational.Column(rec, f.Name); ok {
				cols[i] = arr
				continue
			}
			cols[i] = columnar.Nulls(EncodingOf(f), tc.Allocator, rows).Arrow()
		}
		return relational.NewRecord(schema.Names(), cols, rows), nil
	})
}

// concat drains streams one after the other.
func concat(streams []relational.Stream) relational.Stream {
	pos := 0
	return relational.NewFuncStream(func(ctx context.Context) (arrow.Record, error) {
		for pos < len(streams) {
			if streams[pos].Next(ctx) {
				return streams[pos].Record(), nil
			}
			if err := streams[pos].Err(); err != nil {
				return nil, err
			}
			pos++
		}
		return nil, nil
	}, func() error { return closeAll(streams...) })
}
