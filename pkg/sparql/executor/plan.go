package executor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/planner"
)

// Plan is a prepared query. Each Execute runs it again from the start.
type Plan struct {
	query    *algebra.Query
	dataset  *algebra.Dataset
	root     relational.Node
	env      *evaluator.Env
	planner  *planner.Planner
	executor *Executor
}

// Query returns the prepared query.
func (p *Plan) Query() *algebra.Query { return p.query }

// Root returns the rewritten plan, or nil for a DESCRIBE without WHERE.
func (p *Plan) Root() relational.Node { return p.root }

// Explain renders the rewritten plan.
func (p *Plan) Explain() string {
	if p.root == nil {
		return "Describe: " + describeTargets(p.query.Describe) + "\n"
	}
	return relational.Explain(p.root)
}

// build translates and rewrites a pattern against the plan's dataset.
func (p *Plan) build(ctx context.Context, pattern algebra.GraphPattern) (relational.Node, error) {
	root, err := p.planner.Plan(ctx, pattern, p.dataset)
	if err != nil {
		return nil, errors.Wrap(err, "translate query")
	}
	root, err = p.executor.optimizer.Optimize(ctx, root)
	if err != nil {
		return nil, errors.Wrap(err, "rewrite plan")
	}
	return root, nil
}

// Execute runs the plan. SELECT queries return *Solutions, which the caller
// must close; ASK returns *BooleanResult; CONSTRUCT and DESCRIBE return
// *GraphResult.
func (p *Plan) Execute(ctx context.Context) (QueryResult, error) {
	switch p.query.Form {
	case algebra.QuerySelect:
		return p.solutions(ctx, true)
	case algebra.QueryAsk:
		return p.ask(ctx)
	case algebra.QueryConstruct:
		return p.construct(ctx)
	case algebra.QueryDescribe:
		return p.describe(ctx)
	default:
		return nil, errors.Newf("unsupported query form %s", p.query.Form)
	}
}

// solutions starts the plan. With visibleOnly, generated variables are
// left out of the solutions.
func (p *Plan) solutions(ctx context.Context, visibleOnly bool) (*Solutions, error) {
	return p.run(ctx, p.root, visibleOnly)
}

func (p *Plan) run(ctx context.Context, root relational.Node, visibleOnly bool) (*Solutions, error) {
	stream, err := root.Execute(ctx, p.executor.taskContext())
	if err != nil {
		return nil, errors.Wrap(err, "execute plan")
	}
	var vars []string
	for _, name := range root.Schema().Names() {
		if !visibleOnly || !algebra.IsHidden(name) {
			vars = append(vars, name)
		}
	}
	return newSolutions(stream, vars), nil
}

func (p *Plan) ask(ctx context.Context) (*BooleanResult, error) {
	sols, err := p.solutions(ctx, false)
	if err != nil {
		return nil, err
	}
	defer sols.Close()
	found := sols.Next(ctx)
	if err := sols.Err(); err != nil {
		return nil, err
	}
	return &BooleanResult{Value: found}, nil
}

// construct instantiates the template once per solution. Template blank
// nodes get fresh labels for every solution; triples with unbound or
// ill-placed terms are skipped and duplicates are dropped.
func (p *Plan) construct(ctx context.Context) (*GraphResult, error) {
	sols, err := p.solutions(ctx, false)
	if err != nil {
		return nil, err
	}
	defer sols.Close()

	graph := newGraphBuilder()
	for sols.Next(ctx) {
		solution := sols.Solution()
		fresh := make(map[string]*rdf.BlankNode)
		resolve := func(tp algebra.TermPattern) rdf.Term {
			if tp.Variable == nil {
				return tp.Term
			}
			if strings.HasPrefix(tp.Variable.Name, "_:") {
				b, ok := fresh[tp.Variable.Name]
				if !ok {
					b = p.env.NewBlankNode()
					fresh[tp.Variable.Name] = b
				}
				return b
			}
			return solution[tp.Variable.Name]
		}
		for _, tp := range p.query.Template {
			graph.add(resolve(tp.Subject), resolve(tp.Predicate), resolve(tp.Object))
		}
	}
	if err := sols.Err(); err != nil {
		return nil, err
	}
	p.executor.logger.DebugContext(ctx, "constructed graph", slog.Int("triples", len(graph.triples)))
	return &GraphResult{Triples: graph.triples}, nil
}

// describe returns the triples having a described resource as subject.
// Resources are the constant targets plus every IRI or blank node bound
// to a target variable.
func (p *Plan) describe(ctx context.Context) (*GraphResult, error) {
	var resources []rdf.Term
	seen := make(map[string]bool)
	add := func(t rdf.Term) {
		switch t.(type) {
		case *rdf.NamedNode, *rdf.BlankNode:
		default:
			return
		}
		key := string(columnar.TermKey(t))
		if !seen[key] {
			seen[key] = true
			resources = append(resources, t)
		}
	}

	var vars []string
	for _, target := range p.query.Describe {
		if target.Variable == nil {
			add(target.Term)
		} else {
			vars = append(vars, target.Variable.Name)
		}
	}
	if p.root != nil && len(vars) > 0 {
		sols, err := p.solutions(ctx, false)
		if err != nil {
			return nil, err
		}
		for sols.Next(ctx) {
			solution := sols.Solution()
			for _, v := range vars {
				if t := solution[v]; t != nil {
					add(t)
				}
			}
		}
		err = sols.Err()
		sols.Close()
		if err != nil {
			return nil, err
		}
	}

	graph := newGraphBuilder()
	for _, resource := range resources {
		pattern := &algebra.BGP{Patterns: []algebra.TriplePattern{{
			Subject:   algebra.TermOf(resource),
			Predicate: algebra.VarOf("p"),
			Object:    algebra.VarOf("o"),
		}}}
		root, err := p.build(ctx, pattern)
		if err != nil {
			return nil, err
		}
		sols, err := p.run(ctx, root, false)
		if err != nil {
			return nil, err
		}
		for sols.Next(ctx) {
			solution := sols.Solution()
			graph.add(resource, solution["p"], solution["o"])
		}
		err = sols.Err()
		sols.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "describe %s", resource)
		}
	}
	return &GraphResult{Triples: graph.triples}, nil
}

// graphBuilder collects distinct well-formed triples in insertion order.
type graphBuilder struct {
	triples []*rdf.Triple
	seen    map[string]bool
}

func newGraphBuilder() *graphBuilder {
	return &graphBuilder{seen: make(map[string]bool)}
}

func (g *graphBuilder) add(s, p, o rdf.Term) {
	if s == nil || p == nil || o == nil {
		return
	}
	if _, ok := s.(*rdf.Literal); ok {
		return
	}
	if _, ok := p.(*rdf.NamedNode); !ok {
		return
	}
	key := append(columnar.TermKey(s), columnar.TermKey(p)...)
	key = append(key, columnar.TermKey(o)...)
	if g.seen[string(key)] {
		return
	}
	g.seen[string(key)] = true
	g.triples = append(g.triples, rdf.NewTriple(s, p, o))
}

func describeTargets(targets []algebra.TermPattern) string {
	parts := make([]string, len(targets))
	for i, t := range targets {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}
