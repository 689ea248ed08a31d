package optimizer

import (
	"context"
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/paths"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
)

// PushDownFilters moves filter conjuncts into the pattern scans that bind
// all of their variables. Equality with an IRI and sameTerm become scan
// constraints; other conjuncts become scan filters when the storage
// evaluates them. Conjuncts that cannot reach a scan stay where they are.
type PushDownFilters struct{}

func (PushDownFilters) Name() string { return "pushdown" }

func (PushDownFilters) Rewrite(_ context.Context, n relational.Node) (relational.Node, error) {
	return relational.Transform(n, func(n relational.Node) (relational.Node, error) {
		f, ok := n.(*plan.Filter)
		if !ok {
			return n, nil
		}
		input := f.Input
		var kept []algebra.Expression
		for _, conjunct := range algebra.Conjuncts(f.Expr) {
			placed, ok, err := place(input, conjunct, algebra.ExpressionVariables(conjunct), f.Compiler())
			if err != nil {
				return nil, err
			}
			if !ok {
				kept = append(kept, conjunct)
				continue
			}
			input = placed
		}
		if len(kept) == 0 {
			return input, nil
		}
		if input == f.Input && len(kept) == len(algebra.Conjuncts(f.Expr)) {
			return f, nil
		}
		out, err := plan.NewFilter(input, algebra.And(kept...), f.Compiler())
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// place pushes conjunct into n. ok is false when no scan below n can take
// it, in which case n is returned unchanged.
func place(n relational.Node, conjunct algebra.Expression, vars []string, compiler *evaluator.Compiler) (relational.Node, bool, error) {
	if len(vars) == 0 {
		return n, false, nil
	}
	if scan, ok := n.(*plan.QuadScan); ok {
		return placeInScan(scan, conjunct, vars, compiler)
	}

	children := n.Children()
	var targets []int
	switch node := n.(type) {
	case *plan.HashJoin:
		switch {
		case covers(certain(node.Left), vars):
			targets = []int{0}
		case !node.Optional && covers(certain(node.Right), vars):
			targets = []int{1}
		}
	case *plan.Filter, *plan.Sort, *plan.Distinct, *plan.Reduced, *plan.ExistsJoin, *plan.MarkJoin, *plan.Minus:
		if covers(certain(children[0]), vars) {
			targets = []int{0}
		}
	case *plan.Extend:
		if !contains(vars, node.Variable) && covers(certain(node.Input), vars) {
			targets = []int{0}
		}
	case *plan.Project:
		if covers(certain(node), vars) {
			targets = []int{0}
		}
	case *plan.Union:
		for i, child := range children {
			if !covers(certain(child), vars) {
				return n, false, nil
			}
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		return n, false, nil
	}

	rewritten := append([]relational.Node(nil), children...)
	for _, i := range targets {
		child, ok, err := place(children[i], conjunct, vars, compiler)
		if err != nil || !ok {
			return n, false, err
		}
		rewritten[i] = child
	}
	out, err := n.WithChildren(rewritten)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func placeInScan(scan *plan.QuadScan, conjunct algebra.Expression, vars []string, compiler *evaluator.Compiler) (relational.Node, bool, error) {
	schema := scan.Schema()
	for _, v := range vars {
		if !schema.Contains(v) {
			return scan, false, nil
		}
	}
	if v, term, ok := termEquality(conjunct); ok {
		if _, constrained := scan.Constraints[v]; !constrained {
			return scan.WithConstraint(v, term), true, nil
		}
	}
	if !scan.Storage.SupportsFilterPushdown() {
		return scan, false, nil
	}
	out, err := scan.WithFilter(conjunct, compiler)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// termEquality matches ?v = <iri>, <iri> = ?v and sameTerm with a variable
// and a constant. For these, value equality is term identity.
func termEquality(e algebra.Expression) (string, rdf.Term, bool) {
	var left, right algebra.Expression
	switch ex := e.(type) {
	case *algebra.BinaryExpression:
		if ex.Op != algebra.OpEqual {
			return "", nil, false
		}
		left, right = ex.Left, ex.Right
	case *algebra.FunctionCall:
		if !strings.EqualFold(ex.Name, "SAMETERM") || len(ex.Args) != 2 {
			return "", nil, false
		}
		left, right = ex.Args[0], ex.Args[1]
	default:
		return "", nil, false
	}
	v, ok := left.(*algebra.VariableExpression)
	c, cok := right.(*algebra.TermExpression)
	if !ok || !cok {
		v, ok = right.(*algebra.VariableExpression)
		c, cok = left.(*algebra.TermExpression)
	}
	if !ok || !cok {
		return "", nil, false
	}
	if _, isBinary := e.(*algebra.BinaryExpression); isBinary {
		if _, iri := c.Term.(*rdf.NamedNode); !iri {
			return "", nil, false
		}
	}
	return v.Variable.Name, c.Term, true
}

// certain returns the variables bound in every row n produces.
func certain(n relational.Node) map[string]bool {
	out := make(map[string]bool)
	switch node := n.(type) {
	case *plan.QuadScan, *paths.Closure, *plan.GraphList:
		for _, name := range n.Schema().Names() {
			out[name] = true
		}
	case *plan.HashJoin:
		for v := range certain(node.Left) {
			out[v] = true
		}
		if !node.Optional {
			for v := range certain(node.Right) {
				out[v] = true
			}
		}
	case *plan.Filter, *plan.Sort, *plan.Slice, *plan.Distinct, *plan.Reduced,
		*plan.Cast, *plan.ExistsJoin, *plan.Minus, *plan.Extend:
		return certain(n.Children()[0])
	case *plan.MarkJoin:
		out = certain(node.Left)
		out[node.Mark] = true
	case *plan.Project:
		in := certain(node.Input)
		for _, v := range node.Variables {
			if in[v] {
				out[v] = true
			}
		}
	case *plan.Aggregate:
		in := certain(node.Input)
		for _, k := range node.Keys {
			if in[k] {
				out[k] = true
			}
		}
	case *plan.Union:
		for i, child := range node.Inputs {
			c := certain(child)
			if i == 0 {
				out = c
				continue
			}
			for v := range out {
				if !c[v] {
					delete(out, v)
				}
			}
		}
	case *plan.Values:
	outer:
		for i, v := range node.Variables {
			for _, row := range node.Rows {
				if row[i] == nil {
					continue outer
				}
			}
			out[v] = true
		}
	}
	return out
}

func covers(set map[string]bool, vars []string) bool {
	for _, v := range vars {
		if !set[v] {
			return false
		}
	}
	return true
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
