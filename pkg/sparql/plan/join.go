package plan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
)

// hashIndex holds the build side of a join, keyed on the shared variables.
// Rows with an unbound key variable are kept apart: they are compatible
// with any value and are checked row by row.
type hashIndex struct {
	table    *table
	keys     []string
	buildIdx []int // key column positions in the build table
	buckets  map[string][]rowRef
	partial  []rowRef
}

func newHashIndex(t *table, keys []string) *hashIndex {
	h := &hashIndex{table: t, keys: keys, buckets: make(map[string][]rowRef)}
	for _, k := range keys {
		h.buildIdx = append(h.buildIdx, t.schema.Index(k))
	}
	var key []byte
	for _, ref := range t.rows {
		var ok bool
		key, ok = appendKey(key[:0], t.batches[ref.batch], h.buildIdx, int(ref.row))
		if !ok {
			h.partial = append(h.partial, ref)
			continue
		}
		h.buckets[string(key)] = append(h.buckets[string(key)], ref)
	}
	return h
}

// compatible checks the key variables of a probe row against a build row.
// It also returns how many key variables are bound on both sides.
func (h *hashIndex) compatible(probe []columnar.Column, probeIdx []int, row int, ref rowRef) (bool, int) {
	shared := 0
	cols := h.table.batches[ref.batch]
	var ka, kb []byte
	for i, pi := range probeIdx {
		pc, bc := probe[pi], cols[h.buildIdx[i]]
		if pc.IsUnbound(row) || bc.IsUnbound(int(ref.row)) {
			continue
		}
		ka = pc.AppendKey(ka[:0], row)
		kb = bc.AppendKey(kb[:0], int(ref.row))
		if string(ka) != string(kb) {
			return false, 0
		}
		shared++
	}
	return true, shared
}

// each calls fn for every build row compatible with the probe row, passing
// the number of key variables bound on both sides. fn returns false to stop.
func (h *hashIndex) each(probe []columnar.Column, probeIdx []int, row int, scratch []byte, fn func(ref rowRef, shared int) bool) {
	if key, ok := appendKey(scratch[:0], probe, probeIdx, row); ok {
		for _, ref := range h.buckets[string(key)] {
			if !fn(ref, len(h.keys)) {
				return
			}
		}
		for _, ref := range h.partial {
			if ok, shared := h.compatible(probe, probeIdx, row, ref); ok && !fn(ref, shared) {
				return
			}
		}
		return
	}
	for _, ref := range h.table.rows {
		if ok, shared := h.compatible(probe, probeIdx, row, ref); ok && !fn(ref, shared) {
			return
		}
	}
}

// HashJoin joins two inputs on their shared variables. The right input is
// the build side. With Optional set it is a left outer join whose Expr is
// evaluated on matched rows only.
type HashJoin struct {
	Left, Right relational.Node
	Optional    bool
	Expr        algebra.Expression

	filter   evaluator.Expr
	compiler *evaluator.Compiler
	schema   relational.Schema
}

// NewJoin returns an inner join.
func NewJoin(left, right relational.Node) *HashJoin {
	return &HashJoin{Left: left, Right: right, schema: mergeSchemas(left.Schema(), right.Schema())}
}

// NewLeftJoin returns a left outer join. expr may be nil.
func NewLeftJoin(left, right relational.Node, expr algebra.Expression, compiler *evaluator.Compiler) (*HashJoin, error) {
	j := &HashJoin{Left: left, Right: right, Optional: true, Expr: expr, compiler: compiler,
		schema: mergeSchemas(left.Schema(), right.Schema())}
	if expr != nil {
		compiled, err := compiler.Compile(expr)
		if err != nil {
			return nil, errors.Wrap(err, "optional filter")
		}
		j.filter = compiled
	}
	return j, nil
}

// Compiler returns the compiler of the optional filter, if any.
func (j *HashJoin) Compiler() *evaluator.Compiler { return j.compiler }

func (j *HashJoin) Name() string {
	if j.Optional {
		return "LeftJoin"
	}
	return "HashJoin"
}

func (j *HashJoin) Schema() relational.Schema { return j.schema }

func (j *HashJoin) Children() []relational.Node { return []relational.Node{j.Left, j.Right} }

func (j *HashJoin) WithChildren(children []relational.Node) (relational.Node, error) {
	left, right, err := twoChildren(children)
	if err != nil {
		return nil, err
	}
	out := *j
	out.Left, out.Right = left, right
	out.schema = mergeSchemas(left.Schema(), right.Schema())
	return &out, nil
}

func (j *HashJoin) Describe() string {
	desc := "on " + formatVariables(j.Left.Schema().Shared(j.Right.Schema()))
	if j.Expr != nil {
		desc += " filter=" + algebra.FormatExpression(j.Expr)
	}
	return desc
}

func (j *HashJoin) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	if err := checkShared(j.Left.Schema(), j.Right.Schema()); err != nil {
		return nil, err
	}
	streams, err := relational.ExecuteChildren(ctx, tc, j)
	if err != nil {
		return nil, err
	}
	left, right := streams[0], streams[1]
	keys := j.Left.Schema().Shared(j.Right.Schema())
	leftSchema, rightSchema := j.Left.Schema(), j.Right.Schema()

	probeIdx := make([]int, len(keys))
	for i, k := range keys {
		probeIdx[i] = leftSchema.Index(k)
	}
	// sources maps each output column to its left and right positions.
	type source struct{ left, right int }
	sources := make([]source, len(j.schema))
	for i, f := range j.schema {
		sources[i] = source{left: leftSchema.Index(f.Name), right: rightSchema.Index(f.Name)}
	}

	var index *hashIndex
	var pending []arrow.Record
	next := func(ctx context.Context) (arrow.Record, error) {
		if index == nil {
			t, err := drain(ctx, right, rightSchema)
			if err != nil {
				return nil, err
			}
			index = newHashIndex(t, keys)
		}
		for len(pending) == 0 {
			if !left.Next(ctx) {
				return nil, left.Err()
			}
			cols, err := columnsOf(left.Record(), leftSchema)
			if err != nil {
				return nil, err
			}
			pending, err = j.probe(cols, int(left.Record().NumRows()), index, probeIdx, func(rb *recordBuilder, li int, ref *rowRef) {
				for i, src := range sources {
					switch {
					case src.left >= 0 && !cols[src.left].IsUnbound(li):
						rb.builders[i].AppendFrom(cols[src.left], li)
					case src.right >= 0 && ref != nil:
						rb.builders[i].AppendFrom(index.table.column(*ref, src.right), int(ref.row))
					default:
						rb.builders[i].AppendNull()
					}
				}
				rb.finishRow()
			}, tc)
			if err != nil {
				return nil, err
			}
		}
		rec := pending[0]
		pending = pending[1:]
		return rec, nil
	}
	return relational.NewFuncStream(next, func() error { return closeAll(left, right) }), nil
}

// probe joins one left batch against the index. emit appends one output
// row; a nil ref pads the right side with unbound cells.
func (j *HashJoin) probe(cols []columnar.Column, rows int, index *hashIndex, probeIdx []int,
	emit func(rb *recordBuilder, li int, ref *rowRef), tc *relational.TaskContext) ([]arrow.Record, error) {
	rb := newRecordBuilder(j.schema, tc.Allocator)
	defer rb.release()

	var out []arrow.Record
	var scratch []byte
	if j.filter == nil {
		for li := 0; li < rows; li++ {
			matched := false
			index.each(cols, probeIdx, li, scratch, func(ref rowRef, _ int) bool {
				emit(rb, li, &ref)
				matched = true
				return true
			})
			if !matched && j.Optional {
				emit(rb, li, nil)
			}
			if rb.rows >= tc.BatchSize {
				out = append(out, rb.build())
			}
		}
		if rb.rows > 0 {
			out = append(out, rb.build())
		}
		return out, nil
	}

	// With a filter the candidate pairs are materialized, filtered as a
	// batch, and the left rows left without a surviving pair are padded.
	var owners []int
	matched := make([]bool, rows)
	flush := func() error {
		if rb.rows == 0 {
			return nil
		}
		candidates := rb.build()
		batch, err := evaluator.NewBatch(candidates)
		if err != nil {
			return err
		}
		mask, err := evaluator.FilterMask(j.filter, batch)
		if err != nil {
			return err
		}
		var keep []int
		for i, ok := range mask {
			if ok {
				keep = append(keep, i)
				matched[owners[i]] = true
			}
		}
		owners = owners[:0]
		if len(keep) > 0 {
			candCols, err := columnsOf(candidates, j.schema)
			if err != nil {
				return err
			}
			out = append(out, takeRecord(candCols, j.schema, keep, tc.Allocator))
		}
		return nil
	}
	for li := 0; li < rows; li++ {
		index.each(cols, probeIdx, li, scratch, func(ref rowRef, _ int) bool {
			emit(rb, li, &ref)
			owners = append(owners, li)
			return true
		})
		if rb.rows >= tc.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	for li := 0; li < rows; li++ {
		if !matched[li] {
			emit(rb, li, nil)
		}
	}
	if rb.rows > 0 {
		out = append(out, rb.build())
	}
	return out, nil
}

// ExistsJoin keeps the left rows that have (or, negated, lack) a compatible
// right row. It implements EXISTS and NOT EXISTS filters.
type ExistsJoin struct {
	Left, Right relational.Node
	Negated     bool
}

func NewExistsJoin(left, right relational.Node, negated bool) *ExistsJoin {
	return &ExistsJoin{Left: left, Right: right, Negated: negated}
}

func (j *ExistsJoin) Name() string {
	if j.Negated {
		return "AntiJoin"
	}
	return "SemiJoin"
}

func (j *ExistsJoin) Schema() relational.Schema { return j.Left.Schema() }

func (j *ExistsJoin) Children() []relational.Node { return []relational.Node{j.Left, j.Right} }

func (j *ExistsJoin) WithChildren(children []relational.Node) (relational.Node, error) {
	left, right, err := twoChildren(children)
	if err != nil {
		return nil, err
	}
	return &ExistsJoin{Left: left, Right: right, Negated: j.Negated}, nil
}

func (j *ExistsJoin) Describe() string {
	return "on " + formatVariables(j.Left.Schema().Shared(j.Right.Schema()))
}

func (j *ExistsJoin) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	return semiJoin(ctx, tc, j, j.Left.Schema(), j.Right.Schema(), func(shared int) bool { return true }, j.Negated)
}

// Minus removes the left rows that are compatible with a right row sharing
// at least one bound variable with it.
type Minus struct {
	Left, Right relational.Node
}

func NewMinus(left, right relational.Node) *Minus {
	return &Minus{Left: left, Right: right}
}

func (m *Minus) Name() string { return "Minus" }

func (m *Minus) Schema() relational.Schema { return m.Left.Schema() }

func (m *Minus) Children() []relational.Node { return []relational.Node{m.Left, m.Right} }

func (m *Minus) WithChildren(children []relational.Node) (relational.Node, error) {
	left, right, err := twoChildren(children)
	if err != nil {
		return nil, err
	}
	return &Minus{Left: left, Right: right}, nil
}

func (m *Minus) Describe() string {
	return "on " + formatVariables(m.Left.Schema().Shared(m.Right.Schema()))
}

func (m *Minus) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	if len(m.Left.Schema().Shared(m.Right.Schema())) == 0 {
		return m.Left.Execute(ctx, tc)
	}
	return semiJoin(ctx, tc, m, m.Left.Schema(), m.Right.Schema(), func(shared int) bool { return shared > 0 }, true)
}

// semiJoin streams the left child of n, keeping rows according to whether a
// compatible right row accepted by match exists.
func semiJoin(ctx context.Context, tc *relational.TaskContext, n relational.Node, leftSchema, rightSchema relational.Schema,
	match func(shared int) bool, negated bool) (relational.Stream, error) {
	tc = tc.WithDefaults()
	return streamExists(ctx, tc, n, leftSchema, rightSchema, match,
		func(rec arrow.Record, cols []columnar.Column, found []bool) (arrow.Record, error) {
			var keep []int
			for row, f := range found {
				if f != negated {
					keep = append(keep, row)
				}
			}
			if len(keep) == len(found) {
				return rec, nil
			}
			return takeRecord(cols, leftSchema, keep, tc.Allocator), nil
		})
}

// streamExists streams the left child of n. For every left batch it reports
// to emit which rows have a compatible right row accepted by match.
func streamExists(ctx context.Context, tc *relational.TaskContext, n relational.Node, leftSchema, rightSchema relational.Schema,
	match func(shared int) bool, emit func(rec arrow.Record, cols []columnar.Column, found []bool) (arrow.Record, error)) (relational.Stream, error) {
	if err := checkShared(leftSchema, rightSchema); err != nil {
		return nil, err
	}
	streams, err := relational.ExecuteChildren(ctx, tc, n)
	if err != nil {
		return nil, err
	}
	left, right := streams[0], streams[1]
	keys := leftSchema.Shared(rightSchema)
	probeIdx := make([]int, len(keys))
	for i, k := range keys {
		probeIdx[i] = leftSchema.Index(k)
	}

	var index *hashIndex
	var scratch []byte
	out := mapStream(left, func(ctx context.Context, rec arrow.Record) (arrow.Record, error) {
		if index == nil {
			t, err := drain(ctx, right, rightSchema)
			if err != nil {
				return nil, err
			}
			index = newHashIndex(t, keys)
		}
		cols, err := columnsOf(rec, leftSchema)
		if err != nil {
			return nil, err
		}
		found := make([]bool, rec.NumRows())
		for row := range found {
			index.each(cols, probeIdx, row, scratch, func(_ rowRef, shared int) bool {
				found[row] = match(shared)
				return !found[row]
			})
		}
		return emit(rec, cols, found)
	})
	return relational.NewFuncStream(func(ctx context.Context) (arrow.Record, error) {
		if out.Next(ctx) {
			return out.Record(), nil
		}
		return nil, out.Err()
	}, func() error { return closeAll(out, right) }), nil
}

// MarkJoin passes every left row through and appends a boolean column
// telling whether a compatible right row exists, inverted when Negated. It
// implements EXISTS nested in expressions.
type MarkJoin struct {
	Left, Right relational.Node
	Mark        string
	Negated     bool
}

func NewMarkJoin(left, right relational.Node, mark string, negated bool) (*MarkJoin, error) {
	if left.Schema().Contains(mark) {
		return nil, errors.Wrapf(ErrVariableAlreadyUsed, "mark ?%s", mark)
	}
	return &MarkJoin{Left: left, Right: right, Mark: mark, Negated: negated}, nil
}

func (j *MarkJoin) Name() string { return "MarkJoin" }

func (j *MarkJoin) Schema() relational.Schema {
	left := j.Left.Schema()
	schema := make(relational.Schema, 0, len(left)+1)
	schema = append(schema, left...)
	return append(schema, Field(j.Mark, columnar.EncodingPlain))
}

func (j *MarkJoin) Children() []relational.Node { return []relational.Node{j.Left, j.Right} }

func (j *MarkJoin) WithChildren(children []relational.Node) (relational.Node, error) {
	left, right, err := twoChildren(children)
	if err != nil {
		return nil, err
	}
	return &MarkJoin{Left: left, Right: right, Mark: j.Mark, Negated: j.Negated}, nil
}

func (j *MarkJoin) Describe() string {
	desc := "?" + j.Mark + " := "
	if j.Negated {
		desc += "NOT "
	}
	return desc + "EXISTS on " + formatVariables(j.Left.Schema().Shared(j.Right.Schema()))
}

func (j *MarkJoin) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	leftSchema := j.Left.Schema()
	names := j.Schema().Names()
	yes, no := rdf.NewBooleanLiteral(!j.Negated), rdf.NewBooleanLiteral(j.Negated)
	return streamExists(ctx, tc, j, leftSchema, j.Right.Schema(), func(int) bool { return true },
		func(rec arrow.Record, cols []columnar.Column, found []bool) (arrow.Record, error) {
			marks := make([]rdf.Term, len(found))
			for row, f := range found {
				if f {
					marks[row] = yes
				} else {
					marks[row] = no
				}
			}
			arrays := make([]arrow.Array, 0, len(cols)+1)
			for _, c := range cols {
				arrays = append(arrays, c.Arrow())
			}
			arrays = append(arrays, columnar.FromTerms(columnar.EncodingPlain, tc.Allocator, marks...).Arrow())
			return relational.NewRecord(names, arrays, len(found)), nil
		})
}
