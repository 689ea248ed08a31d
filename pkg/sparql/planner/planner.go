// Package planner translates SPARQL algebra into plan trees over a quad
// storage.
package planner

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/paths"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

var (
	// ErrVariableAlreadyUsed is returned when BIND targets a variable that
	// is already in scope.
	ErrVariableAlreadyUsed = plan.ErrVariableAlreadyUsed
	// ErrUnsupported is returned for algebra the planner cannot translate.
	ErrUnsupported = errors.New("unsupported algebra")
)

// Planner translates graph patterns. It is safe for concurrent use; every
// call to Plan keeps its own translation state.
type Planner struct {
	storage  store.QuadStorage
	compiler *evaluator.Compiler
	logger   *slog.Logger
}

// New returns a planner. A nil compiler uses the built-in functions and a
// nil logger uses slog.Default.
func New(storage store.QuadStorage, compiler *evaluator.Compiler, logger *slog.Logger) *Planner {
	if compiler == nil {
		compiler = evaluator.NewCompiler(nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{storage: storage, compiler: compiler, logger: logger}
}

// Compiler returns the expression compiler used for plan nodes.
func (p *Planner) Compiler() *evaluator.Compiler { return p.compiler }

// Plan translates pattern against dataset. A nil dataset queries the
// default graph of the store and all of its named graphs.
func (p *Planner) Plan(ctx context.Context, pattern algebra.GraphPattern, dataset *algebra.Dataset) (relational.Node, error) {
	t := &translation{planner: p, ctx: ctx, dataset: dataset}
	t.paths = paths.NewTranslator(t.scanFunc(), p.compiler)
	node, err := t.pattern(pattern)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "translated query", slog.Int("nodes", countNodes(node)), slog.String("schema", node.Schema().String()))
	return node, nil
}

func countNodes(n relational.Node) int {
	count := 0
	relational.Walk(n, func(relational.Node) bool {
		count++
		return true
	})
	return count
}

// graphContext is the graph a pattern is matched against.
type graphContext struct {
	// name is set under GRAPH <iri>.
	name rdf.Term
	// variable is set under GRAPH ?g.
	variable string
}

type translation struct {
	planner *Planner
	ctx     context.Context
	dataset *algebra.Dataset
	graph   graphContext
	paths   *paths.Translator
	marks   int
}

func (t *translation) compiler() *evaluator.Compiler { return t.planner.compiler }

func (t *translation) pattern(gp algebra.GraphPattern) (relational.Node, error) {
	switch p := gp.(type) {
	case *algebra.BGP:
		return t.bgp(p.Patterns)
	case *algebra.Path:
		return t.paths.Translate(p.Subject, p.Path, p.Object)
	case *algebra.Join:
		left, right, err := t.pair(p.Left, p.Right)
		if err != nil {
			return nil, err
		}
		return plan.NewJoin(left, right), nil
	case *algebra.LeftJoin:
		left, right, err := t.pair(p.Left, p.Right)
		if err != nil {
			return nil, err
		}
		return t.wrap(plan.NewLeftJoin(left, right, p.Expr, t.compiler()))
	case *algebra.Filter:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		return t.filter(inner, p.Expr)
	case *algebra.Union:
		left, right, err := t.pair(p.Left, p.Right)
		if err != nil {
			return nil, err
		}
		return plan.NewUnion(left, right), nil
	case *algebra.Minus:
		left, right, err := t.pair(p.Left, p.Right)
		if err != nil {
			return nil, err
		}
		return plan.NewMinus(left, right), nil
	case *algebra.Extend:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		marks := t.marks
		node, expr, err := t.lowerExists(inner, p.Expr)
		if err != nil {
			return nil, err
		}
		ext, err := t.wrap(plan.NewExtend(node, p.Variable.Name, expr, t.compiler(), columnar.EncodingPlain))
		if err != nil || t.marks == marks {
			return ext, err
		}
		return plan.NewProject(ext, append(inner.Schema().Names(), p.Variable.Name)), nil
	case *algebra.Graph:
		return t.graphPattern(p)
	case *algebra.Values:
		vars := make([]string, len(p.Variables))
		for i, v := range p.Variables {
			vars[i] = v.Name
		}
		return t.wrap(plan.NewValues(vars, p.Rows))
	case *algebra.Group:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		keys := make([]string, len(p.Keys))
		for i, k := range p.Keys {
			keys[i] = k.Name
		}
		specs := make([]plan.AggregateSpec, len(p.Aggregates))
		for i, a := range p.Aggregates {
			specs[i] = plan.AggregateSpec{Variable: a.Variable.Name, Aggregate: a.Aggregate}
		}
		return t.wrap(plan.NewAggregate(inner, keys, specs, t.compiler(), columnar.EncodingPlain))
	case *algebra.OrderBy:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		node, marks := inner, t.marks
		conditions := make([]algebra.OrderCondition, len(p.Conditions))
		for i, c := range p.Conditions {
			var err error
			if node, c.Expr, err = t.lowerExists(node, c.Expr); err != nil {
				return nil, err
			}
			conditions[i] = c
		}
		sorted, err := t.wrap(plan.NewSort(node, conditions, t.compiler()))
		if err != nil || t.marks == marks {
			return sorted, err
		}
		return plan.NewProject(sorted, inner.Schema().Names()), nil
	case *algebra.Project:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		vars := make([]string, len(p.Variables))
		for i, v := range p.Variables {
			vars[i] = v.Name
		}
		return plan.NewProject(inner, vars), nil
	case *algebra.Distinct:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		return plan.NewDistinct(inner), nil
	case *algebra.Reduced:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		return plan.NewReduced(inner), nil
	case *algebra.Slice:
		inner, err := t.pattern(p.Inner)
		if err != nil {
			return nil, err
		}
		return plan.NewSlice(inner, p.Offset, p.Limit), nil
	case nil:
		return plan.Singleton(), nil
	default:
		return nil, errors.Wrapf(ErrUnsupported, "graph pattern %T", gp)
	}
}

func (t *translation) pair(l, r algebra.GraphPattern) (relational.Node, relational.Node, error) {
	left, err := t.pattern(l)
	if err != nil {
		return nil, nil, err
	}
	right, err := t.pattern(r)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// wrap passes through a constructor result and classifies compile errors.
func (t *translation) wrap(n relational.Node, err error) (relational.Node, error) {
	if err != nil {
		if errors.Is(err, evaluator.ErrUnsupported) {
			return nil, errors.Mark(err, ErrUnsupported)
		}
		return nil, err
	}
	return n, nil
}

// filter applies a filter expression. Top-level EXISTS conjuncts become
// semi-joins and NOT EXISTS conjuncts anti-joins; the rest is evaluated
// row by row, with nested EXISTS lowered to mark joins.
func (t *translation) filter(inner relational.Node, expr algebra.Expression) (relational.Node, error) {
	var rest []algebra.Expression
	node := inner
	for _, conjunct := range algebra.Conjuncts(expr) {
		if ex, ok := conjunct.(*algebra.ExistsExpression); ok {
			sub, err := t.pattern(ex.Pattern)
			if err != nil {
				return nil, err
			}
			node = plan.NewExistsJoin(node, sub, ex.Not)
			continue
		}
		var err error
		if node, conjunct, err = t.lowerExists(node, conjunct); err != nil {
			return nil, err
		}
		rest = append(rest, conjunct)
	}
	if len(rest) == 0 {
		return node, nil
	}
	filtered, err := t.wrap(plan.NewFilter(node, algebra.And(rest...), t.compiler()))
	if err != nil {
		return nil, err
	}
	if len(filtered.Schema()) == len(inner.Schema()) {
		return filtered, nil
	}
	return plan.NewProject(filtered, inner.Schema().Names()), nil
}

// lowerExists replaces every EXISTS in e by a fresh hidden variable that a
// mark join over node binds to the outcome. It returns node unchanged when
// e holds no EXISTS.
func (t *translation) lowerExists(node relational.Node, e algebra.Expression) (relational.Node, algebra.Expression, error) {
	if !containsExists(e) {
		return node, e, nil
	}
	var err error
	switch ex := e.(type) {
	case *algebra.ExistsExpression:
		sub, err := t.pattern(ex.Pattern)
		if err != nil {
			return nil, nil, err
		}
		t.marks++
		mark := "#exists" + strconv.Itoa(t.marks)
		joined, err := plan.NewMarkJoin(node, sub, mark, ex.Not)
		if err != nil {
			return nil, nil, err
		}
		return joined, algebra.Var(mark), nil
	case *algebra.BinaryExpression:
		out := *ex
		if node, out.Left, err = t.lowerExists(node, ex.Left); err != nil {
			return nil, nil, err
		}
		if node, out.Right, err = t.lowerExists(node, ex.Right); err != nil {
			return nil, nil, err
		}
		return node, &out, nil
	case *algebra.UnaryExpression:
		out := *ex
		if node, out.Operand, err = t.lowerExists(node, ex.Operand); err != nil {
			return nil, nil, err
		}
		return node, &out, nil
	case *algebra.FunctionCall:
		out := *ex
		if node, out.Args, err = t.lowerList(node, ex.Args); err != nil {
			return nil, nil, err
		}
		return node, &out, nil
	case *algebra.InExpression:
		out := *ex
		if node, out.Expr, err = t.lowerExists(node, ex.Expr); err != nil {
			return nil, nil, err
		}
		if node, out.List, err = t.lowerList(node, ex.List); err != nil {
			return nil, nil, err
		}
		return node, &out, nil
	}
	return node, e, nil
}

func (t *translation) lowerList(node relational.Node, list []algebra.Expression) (relational.Node, []algebra.Expression, error) {
	out := make([]algebra.Expression, len(list))
	for i, e := range list {
		var err error
		if node, out[i], err = t.lowerExists(node, e); err != nil {
			return nil, nil, err
		}
	}
	return node, out, nil
}

func containsExists(e algebra.Expression) bool {
	switch ex := e.(type) {
	case *algebra.ExistsExpression:
		return true
	case *algebra.BinaryExpression:
		return containsExists(ex.Left) || containsExists(ex.Right)
	case *algebra.UnaryExpression:
		return containsExists(ex.Operand)
	case *algebra.FunctionCall:
		for _, a := range ex.Args {
			if containsExists(a) {
				return true
			}
		}
	case *algebra.InExpression:
		if containsExists(ex.Expr) {
			return true
		}
		for _, a := range ex.List {
			if containsExists(a) {
				return true
			}
		}
	}
	return false
}

func (t *translation) graphPattern(g *algebra.Graph) (relational.Node, error) {
	saved, savedPaths := t.graph, t.paths
	defer func() { t.graph, t.paths = saved, savedPaths }()

	if !g.Name.IsVariable() {
		t.graph = graphContext{name: g.Name.Term}
		t.paths = savedPaths.WithGraph(t.scanFunc(), "")
		if bgp, ok := g.Inner.(*algebra.BGP); ok && len(bgp.Patterns) == 0 {
			return plan.Singleton(), nil
		}
		return t.pattern(g.Inner)
	}

	name := g.Name.Variable.Name
	t.graph = graphContext{variable: name}
	t.paths = savedPaths.WithGraph(t.scanFunc(), name)
	graphs := plan.NewGraphList(t.planner.storage, name, t.namedGraphs())
	if bgp, ok := g.Inner.(*algebra.BGP); ok && len(bgp.Patterns) == 0 {
		return graphs, nil
	}
	inner, err := t.pattern(g.Inner)
	if err != nil {
		return nil, err
	}
	if !inner.Schema().Contains(name) {
		// nothing inside binds the graph variable
		return plan.NewJoin(graphs, inner), nil
	}
	return inner, nil
}

// namedGraphs returns the named graphs of the dataset, or nil when the
// store's named graphs apply.
func (t *translation) namedGraphs() []rdf.Term {
	if t.dataset == nil || t.dataset.Named == nil {
		return nil
	}
	out := make([]rdf.Term, len(t.dataset.Named))
	for i, g := range t.dataset.Named {
		out[i] = g
	}
	return out
}

func (t *translation) scanFunc() paths.ScanFunc {
	return func(s, p, o store.Position) (relational.Node, error) {
		return t.scan(store.QuadPattern{Subject: s, Predicate: p, Object: o}), nil
	}
}

func position(p algebra.TermPattern) store.Position {
	if p.Variable != nil {
		return store.Var(p.Variable.Name)
	}
	return store.Bound(p.Term)
}

// scans returns the storage scans a triple pattern expands to in the
// active graph context, and whether their union needs deduplication.
func (t *translation) scans(pattern store.QuadPattern) ([]*plan.QuadScan, bool) {
	storage := t.planner.storage
	switch {
	case t.graph.variable != "":
		pattern.Graph = store.Var(t.graph.variable)
		named := t.namedGraphs()
		if named == nil {
			return []*plan.QuadScan{plan.NewQuadScan(storage, pattern)}, false
		}
		base := plan.NewQuadScan(storage, pattern)
		out := make([]*plan.QuadScan, len(named))
		for i, g := range named {
			out[i] = base.WithConstraint(t.graph.variable, g)
		}
		return out, false
	case t.graph.name != nil:
		if t.dataset != nil && t.dataset.Named != nil && !containsGraph(t.dataset.Named, t.graph.name) {
			return nil, false
		}
		pattern.Graph = store.Bound(t.graph.name)
		return []*plan.QuadScan{plan.NewQuadScan(storage, pattern)}, false
	case t.dataset != nil && t.dataset.Default != nil:
		out := make([]*plan.QuadScan, len(t.dataset.Default))
		for i, g := range t.dataset.Default {
			pattern.Graph = store.Bound(g)
			out[i] = plan.NewQuadScan(storage, pattern)
		}
		return out, len(out) > 1
	default:
		return []*plan.QuadScan{plan.NewQuadScan(storage, pattern)}, false
	}
}

func containsGraph(graphs []*rdf.NamedNode, g rdf.Term) bool {
	for _, n := range graphs {
		if n.Equals(g) {
			return true
		}
	}
	return false
}

// scan returns the plan for one quad pattern in the active graph context.
func (t *translation) scan(pattern store.QuadPattern) relational.Node {
	scans, dedup := t.scans(pattern)
	switch len(scans) {
	case 0:
		vars := pattern.Variables()
		if t.graph.variable != "" {
			vars = append(vars, t.graph.variable)
		}
		return plan.Empty(vars...)
	case 1:
		return scans[0]
	}
	inputs := make([]relational.Node, len(scans))
	for i, s := range scans {
		inputs[i] = s
	}
	var n relational.Node = plan.NewUnion(inputs...)
	if dedup {
		n = plan.NewDistinct(n)
	}
	return n
}

// estimate returns the selectivity hint of a pattern, MaxInt64 when the
// storage gives none.
func (t *translation) estimate(pattern store.QuadPattern) int64 {
	scans, _ := t.scans(pattern)
	var total int64
	for _, s := range scans {
		p := s.Pattern
		if g, ok := s.Constraints[t.graph.variable]; ok && t.graph.variable != "" {
			p.Graph = store.Bound(g)
		}
		n, ok := t.planner.storage.Estimate(t.ctx, p)
		if !ok {
			return math.MaxInt64
		}
		total += n
	}
	return total
}
