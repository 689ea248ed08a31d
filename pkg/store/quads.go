package store

import (
	"context"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
)

// Position is one slot of a quad pattern: either a bound term or a variable.
type Position struct {
	Term     rdf.Term
	Variable string
}

// Bound returns a position fixed to t.
func Bound(t rdf.Term) Position { return Position{Term: t} }

// Var returns a position that binds the named variable.
func Var(name string) Position { return Position{Variable: name} }

func (p Position) IsVariable() bool { return p.Variable != "" }

func (p Position) String() string {
	switch {
	case p.IsVariable():
		return "?" + p.Variable
	case p.Term == nil:
		return "DEFAULT"
	}
	return p.Term.String()
}

// QuadPattern matches quads. A graph position holding no term and no
// variable, or the default graph term, matches the default graph only. A
// graph variable ranges over the named graphs only.
type QuadPattern struct {
	Graph     Position
	Subject   Position
	Predicate Position
	Object    Position
}

// positions returns the slots in S, P, O, G order.
func (p QuadPattern) positions() [4]Position {
	return [4]Position{p.Subject, p.Predicate, p.Object, p.Graph}
}

// Variables returns the distinct variables of the pattern in S, P, O, G
// order. This is also the column order of a scan.
func (p QuadPattern) Variables() []string {
	var vars []string
	seen := make(map[string]bool, 4)
	for _, pos := range p.positions() {
		if pos.IsVariable() && !seen[pos.Variable] {
			seen[pos.Variable] = true
			vars = append(vars, pos.Variable)
		}
	}
	return vars
}

// Schema is the output schema of a scan: one plain term column per variable.
func (p QuadPattern) Schema() relational.Schema {
	vars := p.Variables()
	schema := make(relational.Schema, len(vars))
	for i, v := range vars {
		schema[i] = relational.Field{Name: v, Type: columnar.PlainType}
	}
	return schema
}

func (p QuadPattern) String() string {
	parts := []string{p.Subject.String(), p.Predicate.String(), p.Object.String()}
	if p.Graph.IsVariable() || (p.Graph.Term != nil && p.Graph.Term.Type() != rdf.TermTypeDefaultGraph) {
		parts = append(parts, p.Graph.String())
	}
	return strings.Join(parts, " ")
}

// BatchFilter is a predicate evaluated inside a scan before rows leave the
// storage layer.
type BatchFilter interface {
	// Filter reports, for each row of rec, whether the row is kept.
	Filter(ctx context.Context, rec arrow.Record) ([]bool, error)
	String() string
}

// ScanRequest describes a single pattern scan.
type ScanRequest struct {
	Pattern QuadPattern
	// Constraints binds variables to terms. A constrained variable narrows
	// the index range but its column is still emitted.
	Constraints map[string]rdf.Term
	// Filter is optional. Only rows it keeps are returned.
	Filter    BatchFilter
	BatchSize int
	Allocator memory.Allocator
}

// QuadStorage is the quad source consumed by query plans. Scans produce
// batches of plain-encoded term columns.
type QuadStorage interface {
	Scan(ctx context.Context, req ScanRequest) (relational.Stream, error)
	// Estimate returns an approximate match count for a pattern. The second
	// result is false when no estimate is available.
	Estimate(ctx context.Context, pattern QuadPattern) (int64, bool)
	SupportsFilterPushdown() bool
	Insert(ctx context.Context, quads ...*rdf.Quad) error
	Delete(ctx context.Context, quads ...*rdf.Quad) error
	Count(ctx context.Context) (int64, error)
	NamedGraphs(ctx context.Context) ([]rdf.Term, error)
}
