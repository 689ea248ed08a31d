package planner

import (
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/plan"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

type scanCandidate struct {
	node     relational.Node
	vars     []string
	estimate int64
}

// bgp joins the scans of a basic graph pattern. The smallest pattern goes
// first; after it, patterns sharing a variable with the joined ones are
// preferred, smallest estimate first, earlier pattern on ties.
func (t *translation) bgp(patterns []algebra.TriplePattern) (relational.Node, error) {
	if len(patterns) == 0 {
		return plan.Singleton(), nil
	}
	remaining := make([]scanCandidate, len(patterns))
	for i, tp := range patterns {
		qp := store.QuadPattern{
			Subject:   position(tp.Subject),
			Predicate: position(tp.Predicate),
			Object:    position(tp.Object),
		}
		remaining[i] = scanCandidate{node: t.scan(qp), vars: tp.Variables(), estimate: t.estimate(qp)}
	}

	bound := make(map[string]bool)
	var node relational.Node
	for len(remaining) > 0 {
		best, bestConnected := -1, false
		for i, c := range remaining {
			connected := node != nil && sharesVariable(c.vars, bound)
			switch {
			case best < 0:
			case connected && !bestConnected:
			case connected == bestConnected && c.estimate < remaining[best].estimate:
			default:
				continue
			}
			best, bestConnected = i, connected
		}
		c := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)
		for _, v := range c.vars {
			bound[v] = true
		}
		if node == nil {
			node = c.node
			continue
		}
		node = plan.NewJoin(node, c.node)
	}
	return node, nil
}

func sharesVariable(vars []string, bound map[string]bool) bool {
	for _, v := range vars {
		if bound[v] {
			return true
		}
	}
	return false
}
