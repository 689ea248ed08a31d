package plan

import (
	"context"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
)

// Filter keeps the rows whose expression has an effective boolean value of
// true. Errors and unbound results drop the row.
type Filter struct {
	Input relational.Node
	Expr  algebra.Expression

	filter   evaluator.Expr
	compiler *evaluator.Compiler
}

func NewFilter(input relational.Node, expr algebra.Expression, compiler *evaluator.Compiler) (*Filter, error) {
	compiled, err := compiler.Compile(expr)
	if err != nil {
		return nil, errors.Wrap(err, "filter")
	}
	return &Filter{Input: input, Expr: expr, filter: compiled, compiler: compiler}, nil
}

func (f *Filter) Compiler() *evaluator.Compiler { return f.compiler }

func (f *Filter) Name() string { return "Filter" }

func (f *Filter) Schema() relational.Schema { return f.Input.Schema() }

func (f *Filter) Children() []relational.Node { return []relational.Node{f.Input} }

func (f *Filter) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	out := *f
	out.Input = input
	return &out, nil
}

func (f *Filter) Describe() string { return algebra.FormatExpression(f.Expr) }

func (f *Filter) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	input, err := f.Input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	schema := f.Input.Schema()
	return mapStream(input, func(_ context.Context, rec arrow.Record) (arrow.Record, error) {
		batch, err := evaluator.NewBatch(rec)
		if err != nil {
			return nil, err
		}
		mask, err := evaluator.FilterMask(f.filter, batch)
		if err != nil {
			return nil, err
		}
		keep := make([]int, 0, len(mask))
		for i, ok := range mask {
			if ok {
				keep = append(keep, i)
			}
		}
		if len(keep) == len(mask) {
			return rec, nil
		}
		cols, err := columnsOf(rec, schema)
		if err != nil {
			return nil, err
		}
		return takeRecord(cols, schema, keep, tc.Allocator), nil
	}), nil
}

// Extend appends a column holding the value of an expression, in the
// given encoding.
type Extend struct {
	Input    relational.Node
	Variable string
	Expr     algebra.Expression
	Encoding columnar.Encoding

	expr     evaluator.Expr
	compiler *evaluator.Compiler
}

// NewExtend fails with ErrVariableAlreadyUsed when the variable is already
// part of the input.
func NewExtend(input relational.Node, variable string, expr algebra.Expression, compiler *evaluator.Compiler, enc columnar.Encoding) (*Extend, error) {
	if input.Schema().Contains(variable) {
		return nil, errors.Wrapf(ErrVariableAlreadyUsed, "BIND ?%s", variable)
	}
	compiled, err := compiler.Compile(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "BIND ?%s", variable)
	}
	return &Extend{Input: input, Variable: variable, Expr: expr, Encoding: enc, expr: compiled, compiler: compiler}, nil
}

func (e *Extend) Compiler() *evaluator.Compiler { return e.compiler }

func (e *Extend) Name() string { return "Extend" }

func (e *Extend) Schema() relational.Schema {
	return append(append(relational.Schema{}, e.Input.Schema()...), Field(e.Variable, e.Encoding))
}

func (e *Extend) Children() []relational.Node { return []relational.Node{e.Input} }

func (e *Extend) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	out := *e
	out.Input = input
	return &out, nil
}

// WithEncoding returns a copy producing the new column in enc.
func (e *Extend) WithEncoding(enc columnar.Encoding) *Extend {
	out := *e
	out.Encoding = enc
	return &out
}

func (e *Extend) Describe() string {
	return "?" + e.Variable + " := " + algebra.FormatExpression(e.Expr)
}

func (e *Extend) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	input, err := e.Input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	names := e.Schema().Names()
	return mapStream(input, func(_ context.Context, rec arrow.Record) (arrow.Record, error) {
		batch, err := evaluator.NewBatch(rec)
		if err != nil {
			return nil, err
		}
		v, err := e.expr.Eval(batch)
		if err != nil {
			return nil, err
		}
		b := columnar.NewBuilder(e.Encoding, tc.Allocator)
		defer b.Release()
		if _, ok := v.(evaluator.ColumnVector); !ok {
			v = unboundErrors{v}
		}
		col := evaluator.Materialize(v, b)
		cols := append(append([]arrow.Array{}, rec.Columns()...), col.Arrow())
		return relational.NewRecord(names, cols, int(rec.NumRows())), nil
	}), nil
}

// unboundErrors turns error cells into unbound cells; an assignment that
// fails to evaluate leaves its variable unbound.
type unboundErrors struct {
	evaluator.Vector
}

func (u unboundErrors) At(i int) columnar.Value {
	if v := u.Vector.At(i); !v.IsError() {
		return v
	}
	return columnar.Unbound()
}

// Project restricts the input to a list of variables. Variables the input
// does not bind become unbound plain columns.
type Project struct {
	Input     relational.Node
	Variables []string
}

func NewProject(input relational.Node, variables []string) *Project {
	return &Project{Input: input, Variables: variables}
}

func (p *Project) Name() string { return "Project" }

func (p *Project) Schema() relational.Schema {
	in := p.Input.Schema()
	schema := make(relational.Schema, len(p.Variables))
	for i, v := range p.Variables {
		if idx := in.Index(v); idx >= 0 {
			schema[i] = in[idx]
		} else {
			schema[i] = Field(v, columnar.EncodingPlain)
		}
	}
	return schema
}

func (p *Project) Children() []relational.Node { return []relational.Node{p.Input} }

func (p *Project) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	return &Project{Input: input, Variables: p.Variables}, nil
}

func (p *Project) Describe() string { return formatVariables(p.Variables) }

func (p *Project) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	input, err := p.Input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	schema := p.Schema()
	return mapStream(input, func(_ context.Context, rec arrow.Record) (arrow.Record, error) {
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
	}), nil
}

// Cast changes the encoding of selected columns. It is the only node that
// changes the encoding of an existing column.
type Cast struct {
	Input   relational.Node
	Targets map[string]columnar.Encoding
}

func NewCast(input relational.Node, targets map[string]columnar.Encoding) *Cast {
	return &Cast{Input: input, Targets: targets}
}

func (c *Cast) Name() string { return "Cast" }

func (c *Cast) Schema() relational.Schema {
	in := c.Input.Schema()
	schema := make(relational.Schema, len(in))
	for i, f := range in {
		if enc, ok := c.Targets[f.Name]; ok {
			schema[i] = Field(f.Name, enc)
		} else {
			schema[i] = f
		}
	}
	return schema
}

func (c *Cast) Children() []relational.Node { return []relational.Node{c.Input} }

func (c *Cast) WithChildren(children []relational.Node) (relational.Node, error) {
	input, err := oneChild(children)
	if err != nil {
		return nil, err
	}
	return &Cast{Input: input, Targets: c.Targets}, nil
}

func (c *Cast) Describe() string {
	names := make([]string, 0, len(c.Targets))
	for name := range c.Targets {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = "?" + name + "->" + c.Targets[name].String()
	}
	return strings.Join(parts, " ")
}

func (c *Cast) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	input, err := c.Input.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	schema := c.Schema()
	return mapStream(input, func(_ context.Context, rec arrow.Record) (arrow.Record, error) {
		cols := make([]arrow.Array, len(schema))
		for i, f := range schema {
			arr, ok := relational.Column(rec, f.Name)
			if !ok {
				return nil, errors.Newf("batch is missing column ?%s", f.Name)
			}
			enc, cast := c.Targets[f.Name]
			if !cast {
				cols[i] = arr
				continue
			}
			col, err := columnar.Wrap(arr)
			if err != nil {
				return nil, err
			}
			cols[i] = columnar.Cast(col, enc, tc.Allocator).Arrow()
		}
		return relational.NewRecord(schema.Names(), cols, int(rec.NumRows())), nil
	}), nil
}
