package plan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/zeebo/xxh3"

	"github.com/aleksaelezovic/trigofusion/pkg/relational"
)

// Distinct removes duplicate rows. Rows are equal when every column holds
// the same term or both cells are unbound.
type Distinct struct {
	Input relational.Node
}

func NewDistinct(input relational.Node) *Distinct {
	return &Distinct{Input: input}
}

func (d *Distinct) Name() string { return "Distinct" }

func (d *Distinct) Schema() relational.Schema { return d.Input.Schema() }

func (d *Distinct) Children() []relational.Node { return []relational.Node{d.Input} }

func (d *Distinct) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	return &Distinct{Input: input}, nil
}

func (d *Distinct) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	return dedup(ctx, tc, d.Input, false)
}

// Reduced removes duplicate rows within each batch. Its output is a subset
// of its input and has the same distinct rows.
type Reduced struct {
	Input relational.Node
}

func NewReduced(input relational.Node) *Reduced {
	return &Reduced{Input: input}
}

func (r *Reduced) Name() string { return "Reduced" }

func (r *Reduced) Schema() relational.Schema { return r.Input.Schema() }

func (r *Reduced) Children() []relational.Node { return []relational.Node{r.Input} }

func (r *Reduced) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	return &Reduced{Input: input}, nil
}

func (r *Reduced) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	return dedup(ctx, tc, r.Input, true)
}

// rowSet is a set of full-row keys hashed to 128 bits.
type rowSet map[xxh3.Uint128]struct{}

// add reports whether key was not in the set.
func (s rowSet) add(key []byte) bool {
	h := xxh3.Hash128(key)
	if _, ok := s[h]; ok {
		return false
	}
	s[h] = struct{}{}
	return true
}

func dedup(ctx context.Context, tc *relational.TaskContext, input relational.Node, perBatch bool) (relational.Stream, error) {
	tc = tc.WithDefaults()
	in, err := input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	schema := input.Schema()
	seen := make(rowSet)
	var key []byte
	return mapStream(in, func(_ context.Context, rec arrow.Record) (arrow.Record, error) {
		if perBatch {
			seen = make(rowSet)
		}
		cols, err := columnsOf(rec, schema)
		if err != nil {
			return nil, err
		}
		rows := int(rec.NumRows())
		keep := make([]int, 0, rows)
		for row := 0; row < rows; row++ {
			key = appendRowKey(key[:0], cols, row)
			if seen.add(key) {
				keep = append(keep, row)
			}
		}
		if len(keep) == rows {
			return rec, nil
		}
		return takeRecord(cols, schema, keep, tc.Allocator), nil
	}), nil
}
