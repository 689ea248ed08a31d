package rdf

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// TermType represents the type of an RDF term
type TermType byte

const (
	TermTypeNamedNode TermType = iota + 1
	TermTypeBlankNode
	TermTypeLiteral
	TermTypeDefaultGraph
)

func (t TermType) String() string {
	switch t {
	case TermTypeNamedNode:
		return "iri"
	case TermTypeBlankNode:
		return "bnode"
	case TermTypeLiteral:
		return "literal"
	case TermTypeDefaultGraph:
		return "default"
	default:
		return "unknown"
	}
}

// Term represents an RDF term (IRI, blank node, or literal).
// Terms are immutable; Equals is term-syntactic equality.
type Term interface {
	Type() TermType
	String() string
	Equals(other Term) bool
}

// NamedNode represents an IRI
type NamedNode struct {
	IRI string
}

func NewNamedNode(iri string) *NamedNode {
	return &NamedNode{IRI: iri}
}

func (n *NamedNode) Type() TermType {
	return TermTypeNamedNode
}

func (n *NamedNode) String() string {
	return "<" + escapeIRI(n.IRI) + ">"
}

func (n *NamedNode) Equals(other Term) bool {
	if on, ok := other.(*NamedNode); ok {
		return n.IRI == on.IRI
	}
	return false
}

// BlankNode represents a blank node
type BlankNode struct {
	ID string
}

func NewBlankNode(id string) *BlankNode {
	return &BlankNode{ID: id}
}

func (b *BlankNode) Type() TermType {
	return TermTypeBlankNode
}

func (b *BlankNode) String() string {
	return "_:" + b.ID
}

func (b *BlankNode) Equals(other Term) bool {
	if ob, ok := other.(*BlankNode); ok {
		return b.ID == ob.ID
	}
	return false
}

// Literal represents an RDF literal. A nil Datatype means xsd:string, or
// rdf:langString when Language is set.
type Literal struct {
	Value    string
	Language string
	Datatype *NamedNode
}

func NewLiteral(value string) *Literal {
	return &Literal{Value: value}
}

// NewLiteralWithLanguage creates a language-tagged string. Tags are
// case-insensitive and stored lower-cased.
func NewLiteralWithLanguage(value, language string) *Literal {
	return &Literal{Value: value, Language: strings.ToLower(language)}
}

// NewLiteralWithDatatype creates a typed literal. xsd:string collapses to
// a simple literal.
func NewLiteralWithDatatype(value string, datatype *NamedNode) *Literal {
	if datatype == nil || datatype.IRI == XSDString.IRI {
		return &Literal{Value: value}
	}
	return &Literal{Value: value, Datatype: datatype}
}

func (l *Literal) Type() TermType {
	return TermTypeLiteral
}

// DatatypeIRI returns the datatype IRI, resolving the implicit datatypes of
// simple and language-tagged literals.
func (l *Literal) DatatypeIRI() string {
	switch {
	case l.Language != "":
		return RDFLangString.IRI
	case l.Datatype == nil:
		return XSDString.IRI
	default:
		return l.Datatype.IRI
	}
}

// IsSimple reports whether the literal is a plain xsd:string.
func (l *Literal) IsSimple() bool {
	return l.Language == "" && l.DatatypeIRI() == XSDString.IRI
}

func (l *Literal) String() string {
	var sb strings.Builder
	sb.WriteByte('"')
	sb.WriteString(EscapeLiteral(l.Value))
	sb.WriteByte('"')
	switch {
	case l.Language != "":
		sb.WriteByte('@')
		sb.WriteString(l.Language)
	case l.Datatype != nil && l.Datatype.IRI != XSDString.IRI:
		sb.WriteString("^^")
		sb.WriteString(l.Datatype.String())
	}
	return sb.String()
}

func (l *Literal) Equals(other Term) bool {
	ol, ok := other.(*Literal)
	if !ok {
		return false
	}
	return l.Value == ol.Value &&
		l.Language == ol.Language &&
		l.DatatypeIRI() == ol.DatatypeIRI()
}

// DefaultGraph represents the default graph
type DefaultGraph struct{}

func NewDefaultGraph() *DefaultGraph {
	return &DefaultGraph{}
}

func (d *DefaultGraph) Type() TermType {
	return TermTypeDefaultGraph
}

func (d *DefaultGraph) String() string {
	return "DEFAULT"
}

func (d *DefaultGraph) Equals(other Term) bool {
	_, ok := other.(*DefaultGraph)
	return ok
}

// Triple represents an RDF triple (subject, predicate, object)
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
}

func NewTriple(subject, predicate, object Term) *Triple {
	return &Triple{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
	}
}

func (t *Triple) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String() + " ."
}

// Quad represents an RDF quad (subject, predicate, object, graph)
type Quad struct {
	Subject   Term
	Predicate Term
	Object    Term
	Graph     Term
}

func NewQuad(subject, predicate, object, graph Term) *Quad {
	if graph == nil {
		graph = NewDefaultGraph()
	}
	return &Quad{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Graph:     graph,
	}
}

// InDefaultGraph reports whether the quad belongs to the default graph.
func (q *Quad) InDefaultGraph() bool {
	return q.Graph == nil || q.Graph.Type() == TermTypeDefaultGraph
}

func (q *Quad) String() string {
	if q.InDefaultGraph() {
		return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String() + " ."
	}
	return q.Subject.String() + " " + q.Predicate.String() + " " + q.Object.String() + " " + q.Graph.String() + " ."
}

func NewIntegerLiteral(value int64) *Literal {
	return NewLiteralWithDatatype(strconv.FormatInt(value, 10), XSDInteger)
}

func NewDoubleLiteral(value float64) *Literal {
	return NewLiteralWithDatatype(FormatDouble(value), XSDDouble)
}

func NewBooleanLiteral(value bool) *Literal {
	return NewLiteralWithDatatype(strconv.FormatBool(value), XSDBoolean)
}

func NewDateTimeLiteral(value time.Time) *Literal {
	return NewLiteralWithDatatype(value.Format("2006-01-02T15:04:05.999999Z07:00"), XSDDateTime)
}

// FormatDouble renders a float64 in the canonical xsd:double lexical form,
// e.g. 1.0E0, -2.5E-3, INF, NaN.
func FormatDouble(value float64) string {
	return formatFloat(value, 64)
}

// FormatFloat renders a float32 value in the canonical xsd:float form.
func FormatFloat(value float32) string {
	return formatFloat(float64(value), 32)
}

func formatFloat(value float64, bits int) string {
	switch {
	case math.IsNaN(value):
		return "NaN"
	case math.IsInf(value, 1):
		return "INF"
	case math.IsInf(value, -1):
		return "-INF"
	case value == 0:
		if math.Signbit(value) {
			return "-0.0E0"
		}
		return "0.0E0"
	}
	s := strconv.FormatFloat(value, 'E', -1, bits)
	mantissa, exponent, _ := strings.Cut(s, "E")
	if !strings.Contains(mantissa, ".") {
		mantissa += ".0"
	}
	exp, _ := strconv.Atoi(exponent)
	return mantissa + "E" + strconv.Itoa(exp)
}
