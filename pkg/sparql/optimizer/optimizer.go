// Package optimizer rewrites translated plans. Every pass returns a plan
// producing the same solutions as its input; passes only move filters,
// fold constants and change column encodings.
package optimizer

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/relational"
)

// Pass is one rewrite of a plan.
type Pass interface {
	Name() string
	Rewrite(ctx context.Context, n relational.Node) (relational.Node, error)
}

// Optimizer applies passes in order.
type Optimizer struct {
	passes []Pass
	logger *slog.Logger
}

// New returns an optimizer running passes in the given order.
func New(logger *slog.Logger, passes ...Pass) *Optimizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer{passes: passes, logger: logger}
}

// DefaultPasses folds constants, pushes filters into scans and then picks
// column encodings.
func DefaultPasses() []Pass {
	return []Pass{FoldConstants{}, PushDownFilters{}, SelectEncodings{}}
}

// Passes returns the default passes that are enabled, in default order.
// The result is never nil.
func Passes(fold, pushdown, encoding bool) []Pass {
	out := []Pass{}
	if fold {
		out = append(out, FoldConstants{})
	}
	if pushdown {
		out = append(out, PushDownFilters{})
	}
	if encoding {
		out = append(out, SelectEncodings{})
	}
	return out
}

// Optimize runs every pass over n.
func (o *Optimizer) Optimize(ctx context.Context, n relational.Node) (relational.Node, error) {
	for _, pass := range o.passes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := pass.Rewrite(ctx, n)
		if err != nil {
			return nil, errors.Wrapf(err, "rewrite %s", pass.Name())
		}
		o.logger.DebugContext(ctx, "rewrite pass",
			slog.String("pass", pass.Name()),
			slog.Int("nodes_before", countNodes(n)),
			slog.Int("nodes_after", countNodes(out)))
		n = out
	}
	return n, nil
}

func countNodes(n relational.Node) int {
	count := 0
	relational.Walk(n, func(relational.Node) bool {
		count++
		return true
	})
	return count
}
