package plan

import (
	"context"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/evaluator"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

// QuadScan reads the quads matching a pattern from storage.
type QuadScan struct {
	Storage     store.QuadStorage
	Pattern     store.QuadPattern
	Constraints map[string]rdf.Term
	// Filter is evaluated by the storage layer. It is nil unless a rewrite
	// pushed a filter into the scan.
	Filter algebra.Expression

	filter evaluator.Expr
}

func NewQuadScan(storage store.QuadStorage, pattern store.QuadPattern) *QuadScan {
	return &QuadScan{Storage: storage, Pattern: pattern}
}

// WithConstraint returns a copy of the scan with variable bound to term.
func (s *QuadScan) WithConstraint(variable string, term rdf.Term) *QuadScan {
	out := *s
	out.Constraints = make(map[string]rdf.Term, len(s.Constraints)+1)
	for k, v := range s.Constraints {
		out.Constraints[k] = v
	}
	out.Constraints[variable] = term
	return &out
}

// WithFilter returns a copy of the scan evaluating expr inside storage. An
// existing pushed filter is kept as a conjunct.
func (s *QuadScan) WithFilter(expr algebra.Expression, compiler *evaluator.Compiler) (*QuadScan, error) {
	if s.Filter != nil {
		expr = algebra.And(s.Filter, expr)
	}
	compiled, err := compiler.Compile(expr)
	if err != nil {
		return nil, err
	}
	out := *s
	out.Filter, out.filter = expr, compiled
	return &out, nil
}

func (s *QuadScan) Name() string { return "QuadScan" }

func (s *QuadScan) Schema() relational.Schema { return s.Pattern.Schema() }

func (s *QuadScan) Children() []relational.Node { return nil }

func (s *QuadScan) WithChildren(children []relational.Node) (relational.Node, error) {
	return s, nil
}

func (s *QuadScan) Describe() string {
	var sb strings.Builder
	sb.WriteString(s.Pattern.String())
	if len(s.Constraints) > 0 {
		names := make([]string, 0, len(s.Constraints))
		for name := range s.Constraints {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sb.WriteString(" ?" + name + "=" + s.Constraints[name].String())
		}
	}
	if s.Filter != nil {
		sb.WriteString(" filter=" + algebra.FormatExpression(s.Filter))
	}
	return sb.String()
}

func (s *QuadScan) Execute(ctx context.Context, tc *relational.TaskContext) (relational.Stream, error) {
	tc = tc.WithDefaults()
	req := store.ScanRequest{
		Pattern:     s.Pattern,
		Constraints: s.Constraints,
		BatchSize:   tc.BatchSize,
		Allocator:   tc.Allocator,
	}
	if s.filter != nil {
		req.Filter = &exprFilter{expr: s.filter, text: algebra.FormatExpression(s.Filter)}
	}
	return s.Storage.Scan(ctx, req)
}

// exprFilter adapts a compiled expression to store.BatchFilter.
type exprFilter struct {
	expr evaluator.Expr
	text string
}

func (f *exprFilter) Filter(_ context.Context, rec arrow.Record) ([]bool, error) {
	batch, err := evaluator.NewBatch(rec)
	if err != nil {
		return nil, err
	}
	return evaluator.FilterMask(f.expr, batch)
}

func (f *exprFilter) String() string { return f.text }
