package plan

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
)

// Sort orders its input by a list of conditions. Rows with equal sort keys
// keep their input order.
type Sort struct {
	Input      relational.Node
	Conditions []algebra.OrderCondition

	keys     []evaluator.Expr
	compiler *evaluator.Compiler
}

func NewSort(input relational.Node, conditions []algebra.OrderCondition, compiler *evaluator.Compiler) (*Sort, error) {
	s := &Sort{Input: input, Conditions: conditions, compiler: compiler}
	for _, c := range conditions {
		key, err := compiler.Compile(c.Expr)
		if err != nil {
			return nil, errors.Wrap(err, "order condition")
		}
		s.keys = append(s.keys, key)
	}
	return s, nil
}

func (s *Sort) Compiler() *evaluator.Compiler { return s.compiler }

func (s *Sort) Name() string { return "Sort" }

func (s *Sort) Schema() relational.Schema { return s.Input.Schema() }

func (s *Sort) Children() []relational.Node { return []relational.Node{s.Input} }

func (s *Sort) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	out := *s
	out.Input = input
	return &out, nil
}

func (s *Sort) Describe() string {
	parts := make([]string, len(s.Conditions))
	for i, c := range s.Conditions {
		dir := "ASC"
		if !c.Ascending {
			dir = "DESC"
		}
		parts[i] = dir + "(" + algebra.FormatExpression(c.Expr) + ")"
	}
	return strings.Join(parts, " ")
}

func (s *Sort) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	input, err := s.Input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	schema := s.Input.Schema()

	type sortRow struct {
		ref  rowRef
		keys []columnar.Value
	}
	var rows []sortRow
	var t table
	t.schema = schema
	sorted := false
	pos := 0

	next := func(ctx context.Context) (arrow.Record, error) {
		if !sorted {
			for input.Next(ctx) {
				rec := input.Record()
				cols, err := columnsOf(rec, schema)
				if err != nil {
					return nil, err
				}
				batch, err := evaluator.NewBatch(rec)
				if err != nil {
					return nil, err
				}
				vectors := make([]evaluator.Vector, len(s.keys))
				for i, key := range s.keys {
					if vectors[i], err = key.Eval(batch); err != nil {
						return nil, err
					}
				}
				b := int32(len(t.batches))
				t.batches = append(t.batches, cols)
				for r := 0; r < int(rec.NumRows()); r++ {
					keys := make([]columnar.Value, len(vectors))
					for i, v := range vectors {
						keys[i] = v.At(r)
					}
					rows = append(rows, sortRow{ref: rowRef{batch: b, row: int32(r)}, keys: keys})
				}
			}
			if err := input.Err(); err != nil {
				return nil, err
			}
			sort.SliceStable(rows, func(i, j int) bool {
				for k, c := range s.Conditions {
					cmp := evaluator.OrderCompare(rows[i].keys[k], rows[j].keys[k])
					if !c.Ascending {
						cmp = -cmp
					}
					if cmp != 0 {
						return cmp < 0
					}
				}
				return false
			})
			sorted = true
		}
		if pos >= len(rows) {
			return nil, nil
		}
		rb := newRecordBuilder(schema, tc.Allocator)
		defer rb.release()
		for ; pos < len(rows) && rb.rows < tc.BatchSize; pos++ {
			ref := rows[pos].ref
			for i := range schema {
				rb.builders[i].AppendFrom(t.column(ref, i), int(ref.row))
			}
			rb.finishRow()
		}
		return rb.build(), nil
	}
	return relational.NewFuncStream(next, input.Close), nil
}

// Slice skips Offset rows and emits at most Limit rows. A negative Limit
// means no limit. Once the limit is reached the input is closed.
type Slice struct {
	Input  relational.Node
	Offset int
	Limit  int
}

func NewSlice(input relational.Node, offset, limit int) *Slice {
	return &Slice{Input: input, Offset: offset, Limit: limit}
}

func (s *Slice) Name() string { return "Slice" }

func (s *Slice) Schema() relational.Schema { return s.Input.Schema() }

func (s *Slice) Children() []relational.Node { return []relational.Node{s.Input} }

func (s *Slice) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	return &Slice{Input: input, Offset: s.Offset, Limit: s.Limit}, nil
}

func (s *Slice) Describe() string {
	desc := "offset=" + strconv.Itoa(s.Offset)
	if s.Limit >= 0 {
		desc += " limit=" + strconv.Itoa(s.Limit)
	}
	return desc
}

func (s *Slice) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	if s.Limit == 0 {
		return relational.NewMemoryStream(), nil
	}
	input, err := s.Input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	schema := s.Input.Schema()
	skip, remaining := s.Offset, s.Limit
	closed := false

	next := func(ctx context.Context) (arrow.Record, error) {
		for !closed && input.Next(ctx) {
			rec := input.Record()
			rows := int(rec.NumRows())
			start := 0
			if skip > 0 {
				if skip >= rows {
					skip -= rows
					continue
				}
				start, skip = skip, 0
			}
			end := rows
			if remaining >= 0 && end-start > remaining {
				end = start + remaining
			}
			if remaining >= 0 {
				remaining -= end - start
			}
			if remaining == 0 {
				closed = true
				if err := input.Close(); err != nil {
					return nil, err
				}
			}
			if start == 0 && end == rows {
				return rec, nil
			}
			cols, err := columnsOf(rec, schema)
			if err != nil {
				return nil, err
			}
			indices := make([]int, 0, end-start)
			for i := start; i < end; i++ {
				indices = append(indices, i)
			}
			return takeRecord(cols, schema, indices, tc.Allocator), nil
		}
		if closed {
			return nil, nil
		}
		return nil, input.Err()
	}
	return relational.NewFuncStream(next, func() error {
		if closed {
			return nil
		}
		closed = true
		return input.Close()
	}), nil
}
