package executor

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
)

// QueryResult represents the result of a query
type QueryResult interface {
	resultType()
}

// Solution maps variable names to terms. Unbound variables are absent.
type Solution map[string]rdf.Term

// Solutions iterates the solutions of a SELECT query one row at a time.
type Solutions struct {
	stream    relational.Stream
	variables []string
	columns   []columnar.Column
	rows      int
	row       int
	current   Solution
	err       error
	closed    bool
}

func newSolutions(stream relational.Stream, variables []string) *Solutions {
	return &Solutions{stream: stream, variables: variables, row: -1}
}

func (*Solutions) resultType() {}

// Variables returns the projected variables in order.
func (s *Solutions) Variables() []string { return s.variables }

// Next advances to the next solution.
func (s *Solutions) Next(ctx context.Context) bool {
	if s.closed || s.err != nil {
		return false
	}
	s.row++
	for s.row >= s.rows {
		if !s.stream.Next(ctx) {
			s.err = s.stream.Err()
			s.current = nil
			return false
		}
		if err := s.load(s.stream.Record()); err != nil {
			s.err = err
			return false
		}
	}

	solution := make(Solution, len(s.variables))
	for i, c := range s.columns {
		if c == nil {
			continue
		}
		if t := c.Term(s.row); t != nil {
			solution[s.variables[i]] = t
		}
	}
	s.current = solution
	return true
}

func (s *Solutions) load(rec arrow.Record) error {
	s.columns = s.columns[:0]
	for _, name := range s.variables {
		arr, ok := relational.Column(rec, name)
		if !ok {
			s.columns = append(s.columns, nil)
			continue
		}
		c, err := columnar.Wrap(arr)
		if err != nil {
			return errors.Wrapf(err, "column %s", name)
		}
		s.columns = append(s.columns, c)
	}
	s.rows = int(rec.NumRows())
	s.row = 0
	return nil
}

// Solution returns the current solution.
func (s *Solutions) Solution() Solution { return s.current }

func (s *Solutions) Err() error { return s.err }

// Close stops the underlying plan. It is safe to call more than once.
func (s *Solutions) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.columns = nil
	return s.stream.Close()
}

// Collect drains the remaining solutions and closes the iterator.
func (s *Solutions) Collect(ctx context.Context) ([]Solution, error) {
	defer s.Close()
	var out []Solution
	for s.Next(ctx) {
		out = append(out, s.Solution())
	}
	return out, s.Err()
}

// BooleanResult represents the result of an ASK query
type BooleanResult struct {
	Value bool
}

func (*BooleanResult) resultType() {}

// GraphResult holds the triples of a CONSTRUCT or DESCRIBE query.
type GraphResult struct {
	Triples []*rdf.Triple
}

func (*GraphResult) resultType() {}
