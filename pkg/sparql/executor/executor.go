// Package executor prepares and runs SPARQL queries: it translates the
// algebra into a plan, rewrites the plan and turns the produced batches
// into solutions, booleans or graphs depending on the query form.
package executor

import (
	"context"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/parser"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/planner"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

// Options configures an Executor. Zero values select defaults.
type Options struct {
	BatchSize   int
	Concurrency int
	// Passes are the rewrite passes, in order. Nil runs the default
	// passes; an empty non-nil slice disables rewriting.
	Passes    []optimizer.Pass
	Registry  *evaluator.Registry
	Allocator memory.Allocator
	Logger    *slog.Logger
}

// Executor executes SPARQL queries against a quad storage.
type Executor struct {
	storage   store.QuadStorage
	optimizer *optimizer.Optimizer
	options   Options
	logger    *slog.Logger
}

// NewExecutor creates a new query executor
func NewExecutor(storage store.QuadStorage, opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = evaluator.DefaultRegistry()
	}
	passes := opts.Passes
	if passes == nil {
		passes = optimizer.DefaultPasses()
	}
	return &Executor{
		storage:   storage,
		optimizer: optimizer.New(opts.Logger, passes...),
		options:   opts,
		logger:    opts.Logger,
	}
}

// Storage returns the storage queries run against.
func (e *Executor) Storage() store.QuadStorage { return e.storage }

// Prepare translates and rewrites a query. A non-nil dataset replaces the
// dataset of the query's FROM clauses.
func (e *Executor) Prepare(ctx context.Context, query *algebra.Query, dataset *algebra.Dataset) (*Plan, error) {
	if dataset == nil {
		dataset = query.Dataset
	}
	env := evaluator.NewEnv()
	env.BaseIRI = query.BaseIRI
	p := &Plan{
		query:    query,
		dataset:  dataset,
		env:      env,
		planner:  planner.New(e.storage, evaluator.NewCompiler(e.options.Registry, env), e.logger),
		executor: e,
	}

	pattern := query.Pattern
	if query.Form == algebra.QueryDescribe && pattern == nil {
		return p, nil
	}
	if query.Form == algebra.QueryAsk {
		// One solution decides the answer
		pattern = &algebra.Slice{Inner: pattern, Limit: 1}
	}
	root, err := p.build(ctx, pattern)
	if err != nil {
		return nil, err
	}
	p.root = root
	e.logger.DebugContext(ctx, "prepared query",
		slog.String("form", query.Form.String()),
		slog.String("schema", root.Schema().String()))
	return p, nil
}

// Query parses, prepares and executes a query.
func (e *Executor) Query(ctx context.Context, text string) (QueryResult, error) {
	query, err := parser.Parse(text)
	if err != nil {
		return nil, errors.Wrap(err, "parse query")
	}
	p, err := e.Prepare(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	return p.Execute(ctx)
}

func (e *Executor) taskContext() *relational.TaskContext {
	tc := &relational.TaskContext{
		Allocator:   e.options.Allocator,
		BatchSize:   e.options.BatchSize,
		Concurrency: e.options.Concurrency,
		Logger:      e.logger,
	}
	return tc.WithDefaults()
}
