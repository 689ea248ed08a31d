package algebra

import (
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// PropertyPath is a path expression.
type PropertyPath interface {
	propertyPath()
	String() string
}

// PathIRI is a single predicate step.
type PathIRI struct {
	IRI *rdf.NamedNode
}

// PathInverse is ^path.
type PathInverse struct {
	Path PropertyPath
}

// PathSequence is left/right.
type PathSequence struct {
	Left, Right PropertyPath
}

// PathAlternative is left|right.
type PathAlternative struct {
	Left, Right PropertyPath
}

// PathZeroOrMore is path*.
type PathZeroOrMore struct {
	Path PropertyPath
}

// PathOneOrMore is path+.
type PathOneOrMore struct {
	Path PropertyPath
}

// PathZeroOrOne is path?.
type PathZeroOrOne struct {
	Path PropertyPath
}

// PathNegatedSet is !(iri|^iri...). Forward and Inverse hold the excluded
// predicates of each direction.
type PathNegatedSet struct {
	Forward []*rdf.NamedNode
	Inverse []*rdf.NamedNode
}

func (*PathIRI) propertyPath()         {}
func (*PathInverse) propertyPath()     {}
func (*PathSequence) propertyPath()    {}
func (*PathAlternative) propertyPath() {}
func (*PathZeroOrMore) propertyPath()  {}
func (*PathOneOrMore) propertyPath()   {}
func (*PathZeroOrOne) propertyPath()   {}
func (*PathNegatedSet) propertyPath()  {}

func (p *PathIRI) String() string         { return p.IRI.String() }
func (p *PathInverse) String() string     { return "^" + p.Path.String() }
func (p *PathSequence) String() string    { return "(" + p.Left.String() + "/" + p.Right.String() + ")" }
func (p *PathAlternative) String() string { return "(" + p.Left.String() + "|" + p.Right.String() + ")" }
func (p *PathZeroOrMore) String() string  { return p.Path.String() + "*" }
func (p *PathOneOrMore) String() string   { return p.Path.String() + "+" }
func (p *PathZeroOrOne) String() string   { return p.Path.String() + "?" }

func (p *PathNegatedSet) String() string {
	parts := make([]string, 0, len(p.Forward)+len(p.Inverse))
	for _, iri := range p.Forward {
		parts = append(parts, iri.String())
	}
	for _, iri := range p.Inverse {
		parts = append(parts, "^"+iri.String())
	}
	return "!(" + strings.Join(parts, "|") + ")"
}
