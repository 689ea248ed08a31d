package rdf

import (
	"fmt"
)

// NQuadsParser is an N-Quads parser that extends N-Triples with an optional 4th position for graphs
// N-Quads format: <subject> <predicate> <object> [<graph>] .
// Compatible with N-Triples (3 positions) - defaults to default graph
type NQuadsParser struct {
	sc termScanner
}

// NewNQuadsParser creates a new N-Quads parser
func NewNQuadsParser(input string) *NQuadsParser {
	return &NQuadsParser{sc: termScanner{input: input}}
}

// Parse parses the N-Quads document and returns quads
func (p *NQuadsParser) Parse() ([]*Quad, error) {
	var quads []*Quad
	for {
		p.sc.skipSpace()
		if p.sc.pos >= len(p.sc.input) {
			return quads, nil
		}
		quad, err := p.parseQuad()
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", len(quads)+1, err)
		}
		quads = append(quads, quad)
	}
}

func (p *NQuadsParser) parseQuad() (*Quad, error) {
	subject, err := p.sc.term()
	if err != nil {
		return nil, err
	}
	if subject.Type() == TermTypeLiteral {
		return nil, fmt.Errorf("literal in subject position")
	}
	predicate, err := p.sc.term()
	if err != nil {
		return nil, err
	}
	if predicate.Type() != TermTypeNamedNode {
		return nil, fmt.Errorf("predicate must be an IRI")
	}
	object, err := p.sc.term()
	if err != nil {
		return nil, err
	}

	var graph Term = NewDefaultGraph()
	p.sc.skipSpace()
	if p.sc.peek() != '.' {
		graph, err = p.sc.term()
		if err != nil {
			return nil, err
		}
		if graph.Type() == TermTypeLiteral {
			return nil, fmt.Errorf("literal in graph position")
		}
		p.sc.skipSpace()
	}
	if p.sc.peek() != '.' {
		return nil, fmt.Errorf("expected '.' at offset %d", p.sc.pos)
	}
	p.sc.pos++
	return NewQuad(subject, predicate, object, graph), nil
}

// ParseNQuads is a shorthand for NewNQuadsParser(input).Parse().
func ParseNQuads(input string) ([]*Quad, error) {
	return NewNQuadsParser(input).Parse()
}
