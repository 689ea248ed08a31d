package plan

import (
	"context"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
)

// AggregateSpec binds an aggregate to an output variable.
type AggregateSpec struct {
	Variable  string
	Aggregate *algebra.AggregateExpression
}

// Aggregate groups its input by key variables and computes aggregates per
// group. Groups are emitted in order of first appearance. Without keys an
// empty input still yields one group.
type Aggregate struct {
	Input      relational.Node
	Keys       []string
	Aggregates []AggregateSpec
	Encoding   columnar.Encoding

	args     []evaluator.Expr // nil for COUNT(*)
	compiler *evaluator.Compiler
}

func NewAggregate(input relational.Node, keys []string, aggs []AggregateSpec, compiler *evaluator.Compiler, enc columnar.Encoding) (*Aggregate, error) {
	a := &Aggregate{Input: input, Keys: keys, Aggregates: aggs, Encoding: enc, compiler: compiler}
	seen := make(map[string]bool)
	for _, k := range keys {
		seen[k] = true
	}
	for _, spec := range aggs {
		if seen[spec.Variable] {
			return nil, errors.Wrapf(ErrVariableAlreadyUsed, "aggregate ?%s", spec.Variable)
		}
		seen[spec.Variable] = true
		var arg evaluator.Expr
		if spec.Aggregate.Expr != nil {
			var err error
			if arg, err = compiler.Compile(spec.Aggregate.Expr); err != nil {
				return nil, errors.Wrapf(err, "aggregate ?%s", spec.Variable)
			}
		}
		a.args = append(a.args, arg)
	}
	return a, nil
}

func (a *Aggregate) Compiler() *evaluator.Compiler { return a.compiler }

func (a *Aggregate) Name() string { return "Aggregate" }

func (a *Aggregate) Schema() relational.Schema {
	in := a.Input.Schema()
	schema := make(relational.Schema, 0, len(a.Keys)+len(a.Aggregates))
	for _, k := range a.Keys {
		if idx := in.Index(k); idx >= 0 {
			schema = append(schema, in[idx])
		} else {
			schema = append(schema, Field(k, columnar.EncodingPlain))
		}
	}
	for _, spec := range a.Aggregates {
		schema = append(schema, Field(spec.Variable, a.Encoding))
	}
	return schema
}

func (a *Aggregate) Children() []relational.Node { return []relational.Node{a.Input} }

func (a *Aggregate) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	out := *a
	out.Input = input
	return &out, nil
}

// WithEncoding returns a copy producing the aggregate columns in enc.
func (a *Aggregate) WithEncoding(enc columnar.Encoding) *Aggregate {
	out := *a
	out.Encoding = enc
	return &out
}

func (a *Aggregate) Describe() string {
	parts := make([]string, 0, len(a.Aggregates))
	for _, spec := range a.Aggregates {
		parts = append(parts, "?"+spec.Variable+" := "+algebra.FormatExpression(spec.Aggregate))
	}
	desc := "by " + formatVariables(a.Keys)
	if len(parts) > 0 {
		desc += " " + strings.Join(parts, ", ")
	}
	return desc
}

type group struct {
	key  rowRef // first row of the group
	accs []evaluator.Accumulator
}

func (a *Aggregate) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	input, err := a.Input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	inSchema := a.Input.Schema()
	keyIdx := make([]int, len(a.Keys))
	for i, k := range a.Keys {
		keyIdx[i] = inSchema.Index(k)
	}
	// Solutions compared by COUNT(DISTINCT *) cover the visible variables.
	var visible []int
	for i, f := range inSchema {
		if !algebra.IsHidden(f.Name) {
			visible = append(visible, i)
		}
	}

	var (
		groups  []*group
		batches [][]columnar.Column
		done    bool
	)
	index := make(map[string]*group)
	newGroup := func(ref rowRef) *group {
		g := &group{key: ref}
		for _, spec := range a.Aggregates {
			g.accs = append(g.accs, evaluator.NewAccumulator(spec.Aggregate))
		}
		groups = append(groups, g)
		return g
	}

	consume := func(ctx context.Context) error {
		var key, rowKey []byte
		for input.Next(ctx) {
			rec := input.Record()
			cols, err := columnsOf(rec, inSchema)
			if err != nil {
				return err
			}
			batch, err := evaluator.NewBatch(rec)
			if err != nil {
				return err
			}
			values := make([]evaluator.Vector, len(a.args))
			for i, arg := range a.args {
				if arg == nil {
					continue
				}
				if values[i], err = arg.Eval(batch); err != nil {
					return err
				}
			}
			b := int32(len(batches))
			batches = append(batches, cols)
			rows := int(rec.NumRows())
			for row := 0; row < rows; row++ {
				key = key[:0]
				for _, idx := range keyIdx {
					if idx < 0 || cols[idx].IsUnbound(row) {
						key = append(key, 0)
					} else {
						key = append(key, 1)
						key = cols[idx].AppendKey(key, row)
					}
					key = append(key, 0xff)
				}
				g, ok := index[string(key)]
				if !ok {
					g = newGroup(rowRef{batch: b, row: int32(row)})
					index[string(key)] = g
				}
				rowKey = rowKey[:0]
				for i, acc := range g.accs {
					if ra, ok := acc.(evaluator.RowAccumulator); ok {
						if len(rowKey) == 0 {
							rowKey = appendSolutionKey(rowKey, cols, visible, row)
						}
						ra.AddRow(rowKey)
						continue
					}
					if values[i] == nil {
						acc.Add(columnar.Unbound())
					} else {
						acc.Add(values[i].At(row))
					}
				}
			}
		}
		return input.Err()
	}

	schema := a.Schema()
	pos := 0
	next := func(ctx context.Context) (arrow.Record, error) {
		if !done {
			if err := consume(ctx); err != nil {
				return nil, err
			}
			done = true
			if len(a.Keys) == 0 && len(groups) == 0 {
				newGroup(rowRef{batch: -1})
			}
		}
		if pos >= len(groups) {
			return nil, nil
		}
		rb := newRecordBuilder(schema, tc.Allocator)
		defer rb.release()
		for ; pos < len(groups) && rb.rows < tc.BatchSize; pos++ {
			g := groups[pos]
			for i, idx := range keyIdx {
				if idx < 0 || g.key.batch < 0 {
					rb.builders[i].AppendNull()
					continue
				}
				rb.builders[i].AppendFrom(batches[g.key.batch][idx], int(g.key.row))
			}
			for i, acc := range g.accs {
				v := acc.Result()
				b := rb.builders[len(keyIdx)+i]
				if !v.IsValid() {
					b.AppendNull()
					continue
				}
				b.AppendValue(v)
			}
			rb.finishRow()
		}
		return rb.build(), nil
	}
	return relational.NewFuncStream(next, input.Close), nil
}

// appendSolutionKey appends a key over the selected columns of one row,
// unbound cells included. The result is never empty.
func appendSolutionKey(dst []byte, cols []columnar.Column, idx []int, row int) []byte {
	dst = append(dst, 1)
	for _, i := range idx {
		if cols[i].IsUnbound(row) {
			dst = append(dst, 0)
		} else {
			dst = append(dst, 1)
			dst = cols[i].AppendKey(dst, row)
		}
	}
	return dst
}
