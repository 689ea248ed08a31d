// Package paths translates property paths into plan trees. Fixed-length
// paths become scans combined by joins, unions and column swaps; quantified
// paths become Closure nodes evaluated by a fixed-point loop.
package paths

import (
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

// ScanFunc returns the plan matching one triple pattern in the active
// graph context. Under a graph variable the plan also binds that variable.
type ScanFunc func(subject, predicate, object store.Position) (relational.Node, error)

// Translator turns paths into plans. One translator is used per query so
// that the hidden variables it introduces never collide.
type Translator struct {
	Scan     ScanFunc
	Compiler *evaluator.Compiler
	// Graph is the graph variable of an enclosing GRAPH clause, or empty.
	// Closures then run per graph instead of across the active dataset.
	Graph string

	fresh *int
}

// NewTranslator returns a translator scanning through scan.
func NewTranslator(scan ScanFunc, compiler *evaluator.Compiler) *Translator {
	return &Translator{Scan: scan, Compiler: compiler, fresh: new(int)}
}

// WithGraph returns a translator sharing t's variable counter whose scans
// and closures run under the graph variable g.
func (t *Translator) WithGraph(scan ScanFunc, g string) *Translator {
	return &Translator{Scan: scan, Compiler: t.Compiler, Graph: g, fresh: t.fresh}
}

func (t *Translator) hidden() string {
	if t.fresh == nil {
		t.fresh = new(int)
	}
	*t.fresh++
	return "#path" + strconv.Itoa(*t.fresh)
}

// Translate returns a plan binding the variables among subject and object,
// and the graph variable if any, to every pair connected by path.
func (t *Translator) Translate(subject algebra.TermPattern, path algebra.PropertyPath, object algebra.TermPattern) (relational.Node, error) {
	return t.translate(position(subject), path, position(object))
}

func position(p algebra.TermPattern) store.Position {
	if p.Variable != nil {
		return store.Var(p.Variable.Name)
	}
	return store.Bound(p.Term)
}

func (t *Translator) translate(s store.Position, path algebra.PropertyPath, o store.Position) (relational.Node, error) {
	switch p := path.(type) {
	case *algebra.PathIRI:
		return t.Scan(s, store.Bound(p.IRI), o)
	case *algebra.PathInverse:
		return t.translate(o, p.Path, s)
	case *algebra.PathSequence:
		mid := store.Var(t.hidden())
		left, err := t.translate(s, p.Left, mid)
		if err != nil {
			return nil, err
		}
		right, err := t.translate(mid, p.Right, o)
		if err != nil {
			return nil, err
		}
		return plan.NewProject(plan.NewJoin(left, right), t.endpoints(s, o)), nil
	case *algebra.PathAlternative:
		left, err := t.translate(s, p.Left, o)
		if err != nil {
			return nil, err
		}
		right, err := t.translate(s, p.Right, o)
		if err != nil {
			return nil, err
		}
		return plan.NewUnion(left, right), nil
	case *algebra.PathNegatedSet:
		return t.negated(s, p, o)
	case *algebra.PathZeroOrOne:
		return t.closure(s, p.Path, o, ZeroOrOne)
	case *algebra.PathZeroOrMore:
		return t.closure(s, p.Path, o, ZeroOrMore)
	case *algebra.PathOneOrMore:
		return t.closure(s, p.Path, o, OneOrMore)
	case nil:
		return nil, errors.New("nil property path")
	default:
		return nil, errors.Newf("unsupported property path %T", path)
	}
}

// endpoints lists the variables a path plan exposes.
func (t *Translator) endpoints(s, o store.Position) []string {
	var out []string
	for _, name := range []string{s.Variable, o.Variable, t.Graph} {
		if name == "" {
			continue
		}
		seen := false
		for _, v := range out {
			seen = seen || v == name
		}
		if !seen {
			out = append(out, name)
		}
	}
	return out
}

// negated scans every predicate and drops the excluded ones. Forward and
// inverse exclusions are separate scans joined by a union.
func (t *Translator) negated(s store.Position, p *algebra.PathNegatedSet, o store.Position) (relational.Node, error) {
	var branches []relational.Node
	add := func(from, to store.Position, excluded []*rdf.NamedNode) error {
		pred := t.hidden()
		scan, err := t.Scan(from, store.Var(pred), to)
		if err != nil {
			return err
		}
		list := make([]algebra.Expression, len(excluded))
		for i, iri := range excluded {
			list[i] = algebra.Const(iri)
		}
		var node relational.Node = scan
		if len(list) > 0 {
			node, err = plan.NewFilter(scan, &algebra.InExpression{Expr: algebra.Var(pred), List: list, Not: true}, t.Compiler)
			if err != nil {
				return err
			}
		}
		branches = append(branches, plan.NewProject(node, t.endpoints(s, o)))
		return nil
	}
	if len(p.Forward) > 0 || len(p.Inverse) == 0 {
		if err := add(s, o, p.Forward); err != nil {
			return nil, err
		}
	}
	if len(p.Inverse) > 0 {
		if err := add(o, s, p.Inverse); err != nil {
			return nil, err
		}
	}
	if len(branches) == 1 {
		return branches[0], nil
	}
	return plan.NewUnion(branches...), nil
}

func (t *Translator) closure(s store.Position, inner algebra.PropertyPath, o store.Position, rep Repetition) (relational.Node, error) {
	from, to := t.hidden(), t.hidden()
	step, err := t.translate(store.Var(from), inner, store.Var(to))
	if err != nil {
		return nil, err
	}
	c := &Closure{
		Step:       step,
		From:       from,
		To:         to,
		Graph:      t.Graph,
		Subject:    s,
		Object:     o,
		Repetition: rep,
	}
	// Zero-length matches need the terms of the graph unless both ends are
	// bound; under a graph variable they also enumerate the graphs.
	if rep.reflexive() && ((s.IsVariable() && o.IsVariable()) || t.Graph != "") {
		c.Node = t.hidden()
		if c.Nodes, err = t.graphNodes(c.Node); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// graphNodes returns a plan listing the distinct subjects and objects of
// the active graph in column node.
func (t *Translator) graphNodes(node string) (relational.Node, error) {
	cols := []string{node}
	if t.Graph != "" {
		cols = append(cols, t.Graph)
	}
	subjects, err := t.Scan(store.Var(node), store.Var(t.hidden()), store.Var(t.hidden()))
	if err != nil {
		return nil, err
	}
	objects, err := t.Scan(store.Var(t.hidden()), store.Var(t.hidden()), store.Var(node))
	if err != nil {
		return nil, err
	}
	return plan.NewDistinct(plan.NewUnion(plan.NewProject(subjects, cols), plan.NewProject(objects, cols))), nil
}
