package optimizer

import (
	"context"
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
)

// SelectEncodings switches columns to the typed encoding where numeric
// operators consume them. Filters, sorts and aggregates get Cast inputs
// for the variables they compare or compute with; BIND and aggregate
// results of numeric expressions are produced typed. Nodes combining
// several inputs get casts back to plain wherever their inputs disagree,
// and the plan root always produces plain columns.
type SelectEncodings struct{}

func (SelectEncodings) Name() string { return "encoding" }

func (SelectEncodings) Rewrite(_ context.Context, n relational.Node) (relational.Node, error) {
	out, err := relational.Transform(n, func(n relational.Node) (relational.Node, error) {
		switch node := n.(type) {
		case *plan.Filter:
			return withTypedInput(node, node.Input, numericVariables(node.Expr))
		case *plan.Sort:
			var vars []string
			for _, c := range node.Conditions {
				if v, ok := c.Expr.(*algebra.VariableExpression); ok {
					vars = append(vars, v.Variable.Name)
				} else {
					vars = append(vars, numericVariables(c.Expr)...)
				}
			}
			return withTypedInput(node, node.Input, vars)
		case *plan.Extend:
			in, err := withTypedInput(node, node.Input, numericVariables(node.Expr))
			if err != nil {
				return nil, err
			}
			if numericResult(node.Expr) {
				return in.(*plan.Extend).WithEncoding(columnar.EncodingTyped), nil
			}
			return in, nil
		case *plan.Aggregate:
			var vars []string
			numeric := len(node.Aggregates) > 0
			for _, spec := range node.Aggregates {
				switch spec.Aggregate.Function {
				case algebra.AggSum, algebra.AggAvg, algebra.AggMin, algebra.AggMax:
					vars = append(vars, aggregateArgument(spec.Aggregate)...)
				}
				switch spec.Aggregate.Function {
				case algebra.AggCount, algebra.AggSum, algebra.AggAvg:
				default:
					numeric = false
				}
			}
			in, err := withTypedInput(node, node.Input, vars)
			if err != nil {
				return nil, err
			}
			if numeric {
				return in.(*plan.Aggregate).WithEncoding(columnar.EncodingTyped), nil
			}
			return in, nil
		case *plan.HashJoin, *plan.Union, *plan.Minus, *plan.ExistsJoin, *plan.MarkJoin:
			return reconcile(n)
		case *plan.Cast:
			return castTo(node.Input, node.Targets), nil
		}
		return n, nil
	})
	if err != nil {
		return nil, err
	}
	return toPlain(out, nil), nil
}

// withTypedInput replaces the input of n with a cast of the plain columns
// among vars to the typed encoding.
func withTypedInput(n, input relational.Node, vars []string) (relational.Node, error) {
	schema := input.Schema()
	targets := make(map[string]columnar.Encoding)
	for _, v := range vars {
		if idx := schema.Index(v); idx >= 0 && plan.EncodingOf(schema[idx]) == columnar.EncodingPlain {
			targets[v] = columnar.EncodingTyped
		}
	}
	if len(targets) == 0 {
		return n, nil
	}
	return n.WithChildren([]relational.Node{castTo(input, targets)})
}

// reconcile casts every variable that the inputs of n hold in different
// encodings back to plain.
func reconcile(n relational.Node) (relational.Node, error) {
	children := n.Children()
	encodings := make(map[string]columnar.Encoding)
	mixed := make(map[string]bool)
	for _, child := range children {
		for _, f := range child.Schema() {
			enc := plan.EncodingOf(f)
			if prev, ok := encodings[f.Name]; ok && prev != enc {
				mixed[f.Name] = true
			}
			encodings[f.Name] = enc
		}
	}
	if len(mixed) == 0 {
		return n, nil
	}
	rewritten := make([]relational.Node, len(children))
	for i, child := range children {
		rewritten[i] = toPlain(child, mixed)
	}
	return n.WithChildren(rewritten)
}

// toPlain casts the typed columns of n to plain, restricted to only when
// only is not nil.
func toPlain(n relational.Node, only map[string]bool) relational.Node {
	targets := make(map[string]columnar.Encoding)
	for _, f := range n.Schema() {
		if plan.EncodingOf(f) != columnar.EncodingPlain && (only == nil || only[f.Name]) {
			targets[f.Name] = columnar.EncodingPlain
		}
	}
	if len(targets) == 0 {
		return n
	}
	return castTo(n, targets)
}

// castTo returns n with the targeted columns in the given encodings. A
// cast directly over another cast is merged with it, and targets a column
// already has are dropped, so opposite casts cancel out.
func castTo(n relational.Node, targets map[string]columnar.Encoding) relational.Node {
	base := n
	merged := make(map[string]columnar.Encoding, len(targets))
	if c, ok := n.(*plan.Cast); ok {
		base = c.Input
		for v, enc := range c.Targets {
			merged[v] = enc
		}
	}
	for v, enc := range targets {
		merged[v] = enc
	}
	schema := base.Schema()
	for v, enc := range merged {
		idx := schema.Index(v)
		if idx < 0 || plan.EncodingOf(schema[idx]) == enc {
			delete(merged, v)
		}
	}
	if len(merged) == 0 {
		return base
	}
	return plan.NewCast(base, merged)
}

// numericVariables returns the variables used directly as operands of
// comparisons, arithmetic and numeric functions.
func numericVariables(e algebra.Expression) []string {
	var out []string
	add := func(operands ...algebra.Expression) {
		for _, o := range operands {
			if v, ok := o.(*algebra.VariableExpression); ok && !contains(out, v.Variable.Name) {
				out = append(out, v.Variable.Name)
			}
		}
	}
	var walk func(algebra.Expression)
	walk = func(e algebra.Expression) {
		switch ex := e.(type) {
		case *algebra.BinaryExpression:
			if ex.Op != algebra.OpAnd && ex.Op != algebra.OpOr {
				add(ex.Left, ex.Right)
			}
			walk(ex.Left)
			walk(ex.Right)
		case *algebra.UnaryExpression:
			if ex.Op != algebra.OpNot {
				add(ex.Operand)
			}
			walk(ex.Operand)
		case *algebra.FunctionCall:
			if numericFunction(ex) {
				add(ex.Args...)
			}
			for _, a := range ex.Args {
				walk(a)
			}
		case *algebra.InExpression:
			walk(ex.Expr)
			for _, a := range ex.List {
				walk(a)
			}
		}
	}
	walk(e)
	return out
}

// numericResult reports whether e computes a number.
func numericResult(e algebra.Expression) bool {
	switch ex := e.(type) {
	case *algebra.BinaryExpression:
		switch ex.Op {
		case algebra.OpAdd, algebra.OpSubtract, algebra.OpMultiply, algebra.OpDivide:
			return true
		}
	case *algebra.UnaryExpression:
		return ex.Op == algebra.OpNegate || ex.Op == algebra.OpPlus
	case *algebra.FunctionCall:
		return numericFunction(ex)
	}
	return false
}

func numericFunction(call *algebra.FunctionCall) bool {
	if call.IRI != "" {
		return false
	}
	switch strings.ToUpper(call.Name) {
	case "ABS", "CEIL", "FLOOR", "ROUND":
		return true
	}
	return false
}

func aggregateArgument(agg *algebra.AggregateExpression) []string {
	if v, ok := agg.Expr.(*algebra.VariableExpression); ok {
		return []string{v.Variable.Name}
	}
	if agg.Expr == nil {
		return nil
	}
	return numericVariables(agg.Expr)
}
