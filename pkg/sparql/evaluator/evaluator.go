// Package evaluator compiles SPARQL expressions and evaluates them over
// record batches, one batch at a time. Type errors never surface as Go
// errors: they are error cells in the result vector.
package evaluator

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
)

// ErrUnsupported is returned when an expression cannot be compiled.
var ErrUnsupported = errors.New("unsupported expression")

// Batch is a record batch whose columns are addressed by variable name.
type Batch struct {
	rows    int
	columns map[string]columnar.Column
}

// NewBatch wraps every column of rec as a term column.
func NewBatch(rec arrow.Record) (*Batch, error) {
	b := &Batch{rows: int(rec.NumRows()), columns: make(map[string]columnar.Column, rec.NumCols())}
	for i := 0; i < int(rec.NumCols()); i++ {
		col, err := columnar.Wrap(rec.Column(i))
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", rec.ColumnName(i))
		}
		b.columns[rec.ColumnName(i)] = col
	}
	return b, nil
}

// NewBatchFromColumns builds a batch from named columns of equal length.
func NewBatchFromColumns(rows int, columns map[string]columnar.Column) *Batch {
	return &Batch{rows: rows, columns: columns}
}

func (b *Batch) Rows() int { return b.rows }

func (b *Batch) Column(name string) (columnar.Column, bool) {
	c, ok := b.columns[name]
	return c, ok
}

// Vector is the result of evaluating an expression over a batch.
type Vector interface {
	Len() int
	At(i int) columnar.Value
}

// Constant is a vector repeating one value.
type Constant struct {
	Value columnar.Value
	N     int
}

func (c Constant) Len() int              { return c.N }
func (c Constant) At(int) columnar.Value { return c.Value }

// Values is a materialized vector.
type Values []columnar.Value

func (v Values) Len() int                { return len(v) }
func (v Values) At(i int) columnar.Value { return v[i] }

// ColumnVector exposes a batch column as a vector.
type ColumnVector struct {
	Column columnar.Column
}

func (c ColumnVector) Len() int                { return c.Column.Len() }
func (c ColumnVector) At(i int) columnar.Value { return c.Column.Value(i) }

// Materialize writes a vector into a column of the builder's encoding.
func Materialize(v Vector, b columnar.Builder) columnar.Column {
	if cv, ok := v.(ColumnVector); ok {
		if cv.Column.Encoding() == b.Encoding() {
			return cv.Column
		}
		for i := 0; i < cv.Len(); i++ {
			b.AppendFrom(cv.Column, i)
		}
		return b.NewColumn()
	}
	for i := 0; i < v.Len(); i++ {
		b.AppendValue(v.At(i))
	}
	return b.NewColumn()
}

// Env holds per-query evaluation state shared by all expressions of a plan.
type Env struct {
	Now     time.Time
	BaseIRI string
	bnodes  *bnodeSource
}

// NewEnv returns an evaluation environment fixed at the current time.
func NewEnv() *Env {
	return &Env{Now: time.Now(), bnodes: newBnodeSource()}
}

// NewBlankNode mints a blank node unique to the query.
func (e *Env) NewBlankNode() *rdf.BlankNode {
	return e.bnodes.mint()
}

// Expr is a compiled expression.
type Expr interface {
	Eval(b *Batch) (Vector, error)
	// Variables lists the variables the expression reads.
	Variables() []string
	// Deterministic reports whether the expression has no volatile calls.
	Deterministic() bool
}

// Compiler turns algebra expressions into executable expressions, resolving
// function names against a registry.
type Compiler struct {
	Registry *Registry
	Env      *Env
}

// NewCompiler returns a compiler using the built-in registry.
func NewCompiler(reg *Registry, env *Env) *Compiler {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if env == nil {
		env = NewEnv()
	}
	return &Compiler{Registry: reg, Env: env}
}

// Compile compiles e. Aggregates and EXISTS are rejected; the planner
// rewrites them before expressions reach the compiler.
func (c *Compiler) Compile(e algebra.Expression) (Expr, error) {
	switch ex := e.(type) {
	case *algebra.VariableExpression:
		return &variableExpr{name: ex.Variable.Name}, nil
	case *algebra.TermExpression:
		return &constantExpr{value: columnar.FromTerm(ex.Term)}, nil
	case *algebra.UnaryExpression:
		operand, err := c.Compile(ex.Operand)
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: ex.Op, operand: operand}, nil
	case *algebra.BinaryExpression:
		left, err := c.Compile(ex.Left)
		if err != nil {
			return nil, err
		}
		right, err := c.Compile(ex.Right)
		if err != nil {
			return nil, err
		}
		switch ex.Op {
		case algebra.OpAnd, algebra.OpOr:
			return &logicalExpr{op: ex.Op, left: left, right: right}, nil
		case algebra.OpEqual, algebra.OpNotEqual, algebra.OpLess, algebra.OpLessEqual,
			algebra.OpGreater, algebra.OpGreaterEqual:
			return &compareExpr{op: ex.Op, left: left, right: right}, nil
		case algebra.OpAdd, algebra.OpSubtract, algebra.OpMultiply, algebra.OpDivide:
			return &arithmeticExpr{op: ex.Op, left: left, right: right}, nil
		}
		return nil, errors.Wrapf(ErrUnsupported, "binary operator %s", ex.Op)
	case *algebra.InExpression:
		needle, err := c.Compile(ex.Expr)
		if err != nil {
			return nil, err
		}
		list := make([]Expr, len(ex.List))
		for i, item := range ex.List {
			if list[i], err = c.Compile(item); err != nil {
				return nil, err
			}
		}
		return &inExpr{needle: needle, list: list, not: ex.Not}, nil
	case *algebra.FunctionCall:
		return c.compileCall(ex)
	case *algebra.ExistsExpression:
		return nil, errors.Wrap(ErrUnsupported, "EXISTS must be lowered to a join before compilation")
	case *algebra.AggregateExpression:
		return nil, errors.Wrap(ErrUnsupported, "aggregate outside of a grouped query")
	case nil:
		return nil, errors.Wrap(ErrUnsupported, "nil expression")
	default:
		return nil, errors.Wrapf(ErrUnsupported, "expression %T", e)
	}
}

func (c *Compiler) compileCall(call *algebra.FunctionCall) (Expr, error) {
	args := make([]Expr, len(call.Args))
	for i, a := range call.Args {
		var err error
		if args[i], err = c.Compile(a); err != nil {
			return nil, err
		}
	}
	switch call.Name {
	case "BOUND":
		if len(args) != 1 {
			return nil, errors.Newf("BOUND expects 1 argument, got %d", len(args))
		}
		if _, ok := args[0].(*variableExpr); !ok {
			return nil, errors.New("BOUND expects a variable")
		}
		return &boundExpr{arg: args[0]}, nil
	case "IF":
		if len(args) != 3 {
			return nil, errors.Newf("IF expects 3 arguments, got %d", len(args))
		}
		return &ifExpr{cond: args[0], then: args[1], otherwise: args[2]}, nil
	case "COALESCE":
		return &coalesceExpr{args: args}, nil
	}

	key := call.Name
	if call.IRI != "" {
		key = call.IRI
	}
	fn, ok := c.Registry.Lookup(key)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupported, "unknown function %s", key)
	}
	sig := fn.Signature()
	if len(args) < sig.MinArgs || (sig.MaxArgs >= 0 && len(args) > sig.MaxArgs) {
		return nil, errors.Newf("%s called with %d arguments", key, len(args))
	}
	return &callExpr{fn: fn, args: args, env: c.Env}, nil
}

// Evaluate is a convenience that evaluates an expression on a batch and
// returns the per-row values.
func Evaluate(e Expr, b *Batch) (Values, error) {
	v, err := e.Eval(b)
	if err != nil {
		return nil, err
	}
	out := make(Values, b.Rows())
	for i := range out {
		out[i] = v.At(i)
	}
	return out, nil
}

// FilterMask evaluates a filter expression and reports which rows have an
// effective boolean value of true. Errors and unbound results are false.
func FilterMask(e Expr, b *Batch) ([]bool, error) {
	v, err := e.Eval(b)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, b.Rows())
	for i := range mask {
		ebv, ok := EffectiveBooleanValue(v.At(i))
		mask[i] = ok && ebv
	}
	return mask, nil
}

// EvalConstant evaluates an expression without variables. ok is false when
// the expression reads variables or is volatile.
func EvalConstant(e Expr) (columnar.Value, bool) {
	if len(e.Variables()) > 0 || !e.Deterministic() {
		return columnar.Value{}, false
	}
	v, err := e.Eval(&Batch{rows: 1})
	if err != nil {
		return columnar.Value{}, false
	}
	return v.At(0), true
}

type variableExpr struct {
	name string
}

func (e *variableExpr) Eval(b *Batch) (Vector, error) {
	col, ok := b.Column(e.name)
	if !ok {
		return Constant{N: b.rows}, nil
	}
	return ColumnVector{Column: col}, nil
}

func (e *variableExpr) Variables() []string { return []string{e.name} }

func (e *variableExpr) Deterministic() bool { return true }

type constantExpr struct {
	value columnar.Value
}

func (e *constantExpr) Eval(b *Batch) (Vector, error) {
	return Constant{Value: e.value, N: b.rows}, nil
}

func (e *constantExpr) Variables() []string { return nil }

func (e *constantExpr) Deterministic() bool { return true }

func collectVariables(exprs ...Expr) []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range exprs {
		for _, v := range e.Variables() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func allDeterministic(exprs ...Expr) bool {
	for _, e := range exprs {
		if !e.Deterministic() {
			return false
		}
	}
	return true
}

// evalArgs evaluates a list of expressions over the same batch.
func evalArgs(b *Batch, exprs []Expr) ([]Vector, error) {
	out := make([]Vector, len(exprs))
	for i, e := range exprs {
		v, err := e.Eval(b)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// allConstant reports whether every vector repeats a single value, in which
// case kernels only need to run once.
func allConstant(vs []Vector) bool {
	for _, v := range vs {
		if _, ok := v.(Constant); !ok {
			return false
		}
	}
	return true
}
