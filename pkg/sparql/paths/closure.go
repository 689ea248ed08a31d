package paths

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

// Repetition is the quantifier of a closure.
type Repetition int

const (
	ZeroOrOne Repetition = iota
	ZeroOrMore
	OneOrMore
)

func (r Repetition) String() string {
	switch r {
	case ZeroOrOne:
		return "?"
	case ZeroOrMore:
		return "*"
	default:
		return "+"
	}
}

func (r Repetition) reflexive() bool { return r != OneOrMore }

// TransitiveClosure returns every pair connected by one or more steps of
// the relation. It iterates semi-naively: each round joins only the pairs
// found by the previous round with the step relation and keeps the ones
// not seen before, stopping at the first round that adds nothing. rounds
// counts the executed rounds, the final empty one included.
func TransitiveClosure[K comparable](step [][2]K) (closure [][2]K, rounds int) {
	succ := make(map[K][]K)
	seen := make(map[[2]K]struct{}, len(step))
	var delta [][2]K
	for _, p := range step {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		succ[p[0]] = append(succ[p[0]], p[1])
		delta = append(delta, p)
	}
	closure = append(closure, delta...)
	for len(delta) > 0 {
		rounds++
		var next [][2]K
		for _, p := range delta {
			for _, z := range succ[p[1]] {
				q := [2]K{p[0], z}
				if _, ok := seen[q]; ok {
					continue
				}
				seen[q] = struct{}{}
				next = append(next, q)
			}
		}
		closure = append(closure, next...)
		delta = next
	}
	return closure, rounds
}

// reachable returns the nodes reached from start in one or more steps,
// at most maxDepth steps when maxDepth is positive.
func reachable(adj map[int32][]int32, start int32, maxDepth int) []int32 {
	seen := make(map[int32]bool)
	var out []int32
	frontier := []int32{start}
	for depth := 1; len(frontier) > 0 && (maxDepth <= 0 || depth <= maxDepth); depth++ {
		var next []int32
		for _, n := range frontier {
			for _, m := range adj[n] {
				if seen[m] {
					continue
				}
				seen[m] = true
				out = append(out, m)
				next = append(next, m)
			}
		}
		frontier = next
	}
	return out
}

// Closure evaluates a quantified path over a one-step relation. Step binds
// the From and To columns, and the Graph column in per-graph mode. Nodes,
// when set, lists the terms of each graph in its Node column; zero-length
// matches are drawn from it.
type Closure struct {
	Step       relational.Node
	Nodes      relational.Node
	From, To   string
	Node       string
	Graph      string
	Subject    store.Position
	Object     store.Position
	Repetition Repetition
}

func (c *Closure) Name() string { return "Closure" }

// outputs returns the distinct variables of the endpoints and the graph.
func (c *Closure) outputs() []string {
	var out []string
	for _, name := range []string{c.Subject.Variable, c.Object.Variable, c.Graph} {
		if name == "" {
			continue
		}
		dup := false
		for _, o := range out {
			dup = dup || o == name
		}
		if !dup {
			out = append(out, name)
		}
	}
	return out
}

func (c *Closure) Schema() relational.Schema { return plan.PlainSchema(c.outputs()...) }

func (c *Closure) Children() []relational.Node {
	if c.Nodes == nil {
		return []relational.Node{c.Step}
	}
	return []relational.Node{c.Step, c.Nodes}
}

func (c *Closure) WithChildren(children []relational.Node) (relational.Node, error) {
	out := *c
	switch {
	case len(children) == 1 && c.Nodes == nil:
		out.Step = children[0]
	case len(children) == 2 && c.Nodes != nil:
		out.Step, out.Nodes = children[0], children[1]
	default:
		return nil, errors.Newf("closure expects %d children, got %d", len(c.Children()), len(children))
	}
	return &out, nil
}

func (c *Closure) Describe() string {
	desc := c.Subject.String() + " (?" + c.From + "->?" + c.To + ")" + c.Repetition.String() + " " + c.Object.String()
	if c.Graph != "" {
		desc += " per graph ?" + c.Graph
	}
	return desc
}

// graphRelation is the step relation of one graph over interned terms.
type graphRelation struct {
	graph int32
	pairs [][2]int32
	adj   map[int32][]int32
	radj  map[int32][]int32
	nodes []int32
}

// interner maps terms to dense ids.
type interner struct {
	ids   map[string]int32
	terms []rdf.Term
}

func (in *interner) id(t rdf.Term) int32 {
	key := string(columnar.TermKey(t))
	if id, ok := in.ids[key]; ok {
		return id
	}
	id := int32(len(in.terms))
	in.ids[key] = id
	in.terms = append(in.terms, t)
	return id
}

func (c *Closure) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	terms := &interner{ids: make(map[string]int32)}
	var order []*graphRelation
	byGraph := make(map[int32]*graphRelation)
	relation := func(g int32) *graphRelation {
		rel, ok := byGraph[g]
		if !ok {
			rel = &graphRelation{graph: g, adj: make(map[int32][]int32), radj: make(map[int32][]int32)}
			byGraph[g] = rel
			order = append(order, rel)
		}
		return rel
	}
	if c.Graph == "" {
		relation(-1)
	}

	graphOf := func(cols map[string]columnar.Column, row int) int32 {
		if c.Graph == "" {
			return -1
		}
		return terms.id(cols[c.Graph].Term(row))
	}

	err := drainColumns(ctx, tc, c.Step, func(cols map[string]columnar.Column, rows int) {
		for row := 0; row < rows; row++ {
			from, to := cols[c.From].Term(row), cols[c.To].Term(row)
			if from == nil || to == nil {
				continue
			}
			rel := relation(graphOf(cols, row))
			f, t := terms.id(from), terms.id(to)
			rel.pairs = append(rel.pairs, [2]int32{f, t})
			rel.adj[f] = append(rel.adj[f], t)
			rel.radj[t] = append(rel.radj[t], f)
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "path step")
	}
	if c.Nodes != nil && c.Repetition.reflexive() {
		err = drainColumns(ctx, tc, c.Nodes, func(cols map[string]columnar.Column, rows int) {
			for row := 0; row < rows; row++ {
				if n := cols[c.Node].Term(row); n != nil {
					rel := relation(graphOf(cols, row))
					rel.nodes = append(rel.nodes, terms.id(n))
				}
			}
		})
		if err != nil {
			return nil, errors.Wrap(err, "path nodes")
		}
	}

	outputs := c.outputs()
	var rows [][]rdf.Term
	emit := func(rel *graphRelation, s, o int32) {
		row := make([]rdf.Term, len(outputs))
		for i, name := range outputs {
			switch name {
			case c.Subject.Variable:
				row[i] = terms.terms[s]
			case c.Object.Variable:
				row[i] = terms.terms[o]
			default:
				row[i] = terms.terms[rel.graph]
			}
		}
		rows = append(rows, row)
	}
	maxDepth := 0
	if c.Repetition == ZeroOrOne {
		maxDepth = 1
	}

	for _, rel := range order {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case !c.Subject.IsVariable():
			s := terms.id(c.Subject.Term)
			ends := reachable(rel.adj, s, maxDepth)
			if c.Repetition.reflexive() {
				ends = appendMissing(ends, s)
			}
			for _, o := range ends {
				if c.Object.IsVariable() || o == terms.id(c.Object.Term) {
					emit(rel, s, o)
				}
			}
		case !c.Object.IsVariable():
			o := terms.id(c.Object.Term)
			starts := reachable(rel.radj, o, maxDepth)
			if c.Repetition.reflexive() {
				starts = appendMissing(starts, o)
			}
			for _, s := range starts {
				emit(rel, s, o)
			}
		default:
			var pairs [][2]int32
			if maxDepth == 1 {
				pairs = rel.pairs
			} else {
				pairs, _ = TransitiveClosure(rel.pairs)
			}
			if c.Repetition.reflexive() {
				for _, n := range rel.nodes {
					pairs = append(pairs, [2]int32{n, n})
				}
			}
			seen := make(map[[2]int32]bool, len(pairs))
			same := c.Subject.Variable == c.Object.Variable
			for _, p := range pairs {
				if seen[p] || (same && p[0] != p[1]) {
					continue
				}
				seen[p] = true
				emit(rel, p[0], p[1])
			}
		}
	}
	tc.Logger.DebugContext(ctx, "path closure", "repetition", c.Repetition.String(), "graphs", len(order), "rows", len(rows))

	values, err := plan.NewValues(outputs, rows)
	if err != nil {
		return nil, err
	}
	return values.Execute(ctx, tc)
}

func appendMissing(ids []int32, id int32) []int32 {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

// drainColumns executes n and hands each batch to fn as named columns.
func drainColumns(ctx context.Context, tc *relational.TaskContext, n relational.Node, fn func(cols map[string]columnar.Column, rows int)) error {
	stream, err := n.Execute(ctx, tc)
	if err != nil {
		return err
	}
	defer stream.Close()
	for stream.Next(ctx) {
		rec := stream.Record()
		cols, err := wrapColumns(rec)
		if err != nil {
			return err
		}
		fn(cols, int(rec.NumRows()))
	}
	return stream.Err()
}

func wrapColumns(rec arrow.Record) (map[string]columnar.Column, error) {
	cols := make(map[string]columnar.Column, rec.NumCols())
	for i := 0; i < int(rec.NumCols()); i++ {
		col, err := columnar.Wrap(rec.Column(i))
		if err != nil {
			return nil, errors.Wrapf(err, "column %d", i)
		}
		cols[rec.ColumnName(i)] = col
	}
	return cols, nil
}

var _ relational.Node = (*Closure)(nil)
