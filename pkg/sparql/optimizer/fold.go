package optimizer

import (
	"context"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
)

// FoldConstants evaluates variable-free deterministic subexpressions once
// at planning time. A filter conjunct that folds to true is dropped; one
// that folds to false or to an error empties the filter's input.
type FoldConstants struct{}

func (FoldConstants) Name() string { return "fold" }

func (FoldConstants) Rewrite(_ context.Context, n relational.Node) (relational.Node, error) {
	return relational.Transform(n, func(n relational.Node) (relational.Node, error) {
		switch node := n.(type) {
		case *plan.Filter:
			return foldFilter(node)
		case *plan.Extend:
			expr, changed := FoldExpression(node.Expr, node.Compiler())
			if !changed {
				return node, nil
			}
			out, err := plan.NewExtend(node.Input, node.Variable, expr, node.Compiler(), node.Encoding)
			if err != nil {
				return nil, err
			}
			return out, nil
		case *plan.HashJoin:
			if node.Expr == nil {
				return node, nil
			}
			expr, changed := FoldExpression(node.Expr, node.Compiler())
			if !changed {
				return node, nil
			}
			if v, ok := constantValue(expr, node.Compiler()); ok {
				if ebv, ok := evaluator.EffectiveBooleanValue(v); ok && ebv {
					expr = nil
				}
			}
			out, err := plan.NewLeftJoin(node.Left, node.Right, expr, node.Compiler())
			if err != nil {
				return nil, err
			}
			return out, nil
		}
		return n, nil
	})
}

func foldFilter(f *plan.Filter) (relational.Node, error) {
	compiler := f.Compiler()
	var kept []algebra.Expression
	changed := false
	for _, conjunct := range algebra.Conjuncts(f.Expr) {
		folded, c := FoldExpression(conjunct, compiler)
		changed = changed || c
		v, ok := constantValue(folded, compiler)
		if !ok {
			kept = append(kept, folded)
			continue
		}
		changed = true
		if ebv, ok := evaluator.EffectiveBooleanValue(v); !ok || !ebv {
			return plan.Empty(f.Schema().Names()...), nil
		}
	}
	if !changed {
		return f, nil
	}
	if len(kept) == 0 {
		return f.Input, nil
	}
	out, err := plan.NewFilter(f.Input, algebra.And(kept...), compiler)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// constantValue evaluates e when it reads no variables. Error results are
// returned as error values.
func constantValue(e algebra.Expression, compiler *evaluator.Compiler) (v columnar.Value, ok bool) {
	if !foldable(e) {
		return v, false
	}
	compiled, err := compiler.Compile(e)
	if err != nil {
		return v, false
	}
	return evaluator.EvalConstant(compiled)
}

// FoldExpression replaces variable-free deterministic subexpressions of e by
// their value. Subexpressions evaluating to an error are kept so that the
// error is raised per row. changed reports whether anything was replaced.
func FoldExpression(e algebra.Expression, compiler *evaluator.Compiler) (out algebra.Expression, changed bool) {
	switch ex := e.(type) {
	case *algebra.BinaryExpression:
		l, cl := FoldExpression(ex.Left, compiler)
		r, cr := FoldExpression(ex.Right, compiler)
		out, changed = e, cl || cr
		if changed {
			out = &algebra.BinaryExpression{Op: ex.Op, Left: l, Right: r}
		}
	case *algebra.UnaryExpression:
		operand, c := FoldExpression(ex.Operand, compiler)
		out, changed = e, c
		if changed {
			out = &algebra.UnaryExpression{Op: ex.Op, Operand: operand}
		}
	case *algebra.FunctionCall:
		args, c := foldList(ex.Args, compiler)
		out, changed = e, c
		if changed {
			out = &algebra.FunctionCall{Name: ex.Name, IRI: ex.IRI, Args: args}
		}
	case *algebra.InExpression:
		needle, cn := FoldExpression(ex.Expr, compiler)
		list, cl := foldList(ex.List, compiler)
		out, changed = e, cn || cl
		if changed {
			out = &algebra.InExpression{Expr: needle, List: list, Not: ex.Not}
		}
	default:
		return e, false
	}
	if v, ok := constantValue(out, compiler); ok && v.IsValid() {
		return algebra.Const(v.AsTerm()), true
	}
	return out, changed
}

func foldList(list []algebra.Expression, compiler *evaluator.Compiler) ([]algebra.Expression, bool) {
	out := make([]algebra.Expression, len(list))
	changed := false
	for i, e := range list {
		var c bool
		out[i], c = FoldExpression(e, compiler)
		changed = changed || c
	}
	return out, changed
}

// foldable reports whether e reads no variables and holds no EXISTS or
// aggregate.
func foldable(e algebra.Expression) bool {
	switch ex := e.(type) {
	case *algebra.TermExpression:
		return true
	case *algebra.BinaryExpression:
		return foldable(ex.Left) && foldable(ex.Right)
	case *algebra.UnaryExpression:
		return foldable(ex.Operand)
	case *algebra.FunctionCall:
		return allFoldable(ex.Args)
	case *algebra.InExpression:
		return foldable(ex.Expr) && allFoldable(ex.List)
	default:
		return false
	}
}

func allFoldable(list []algebra.Expression) bool {
	for _, e := range list {
		if !foldable(e) {
			return false
		}
	}
	return true
}
