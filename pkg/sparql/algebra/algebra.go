// Package algebra defines the SPARQL algebra tree: graph patterns,
// expressions, property paths and queries.
package algebra

import (
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// Variable is a SPARQL variable, named without the leading '?'.
type Variable struct {
	Name string
}

func NewVariable(name string) *Variable {
	return &Variable{Name: name}
}

func (v *Variable) String() string {
	return "?" + v.Name
}

// blankPrefix marks variables introduced for blank nodes in patterns.
// ':' cannot occur in a SPARQL variable name.
const blankPrefix = "_:"

// BlankVariable returns the hidden variable standing for a pattern blank node.
func BlankVariable(label string) *Variable {
	return &Variable{Name: blankPrefix + label}
}

// IsHidden reports whether a variable name was generated rather than
// written by the user. Hidden variables are never projected by SELECT *.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, blankPrefix) || strings.HasPrefix(name, "#")
}

// TermPattern is a pattern position: exactly one of Term or Variable is set.
type TermPattern struct {
	Term     rdf.Term
	Variable *Variable
}

func TermOf(t rdf.Term) TermPattern { return TermPattern{Term: t} }

func VarOf(name string) TermPattern { return TermPattern{Variable: NewVariable(name)} }

func (p TermPattern) IsVariable() bool { return p.Variable != nil }

func (p TermPattern) String() string {
	if p.Variable != nil {
		return p.Variable.String()
	}
	if p.Term == nil {
		return "DEFAULT"
	}
	return p.Term.String()
}

// TriplePattern is a triple with variables.
type TriplePattern struct {
	Subject   TermPattern
	Predicate TermPattern
	Object    TermPattern
}

func (t TriplePattern) String() string {
	return t.Subject.String() + " " + t.Predicate.String() + " " + t.Object.String()
}

// Variables returns the distinct variables of the pattern in S, P, O order.
func (t TriplePattern) Variables() []string {
	var out []string
	for _, p := range []TermPattern{t.Subject, t.Predicate, t.Object} {
		if p.Variable != nil && !contains(out, p.Variable.Name) {
			out = append(out, p.Variable.Name)
		}
	}
	return out
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// GraphPattern is a node of the algebra tree.
type GraphPattern interface {
	graphPattern()
}

// BGP is a basic graph pattern.
type BGP struct {
	Patterns []TriplePattern
}

// Path matches a property path between two positions.
type Path struct {
	Subject TermPattern
	Path    PropertyPath
	Object  TermPattern
}

type Join struct {
	Left, Right GraphPattern
}

// LeftJoin is OPTIONAL. Expr is the filter of the optional group, or nil.
type LeftJoin struct {
	Left, Right GraphPattern
	Expr        Expression
}

type Filter struct {
	Expr  Expression
	Inner GraphPattern
}

type Union struct {
	Left, Right GraphPattern
}

type Minus struct {
	Left, Right GraphPattern
}

// Extend is BIND(Expr AS ?Variable).
type Extend struct {
	Inner    GraphPattern
	Variable *Variable
	Expr     Expression
}

// Graph evaluates Inner against the graph named by Name.
type Graph struct {
	Name  TermPattern
	Inner GraphPattern
}

// Values is inline data. A nil term in a row is UNDEF.
type Values struct {
	Variables []*Variable
	Rows      [][]rdf.Term
}

// AggregateBinding binds the result of an aggregate to a variable.
type AggregateBinding struct {
	Variable  *Variable
	Aggregate *AggregateExpression
}

// Group partitions Inner by the key variables and computes aggregates.
type Group struct {
	Inner      GraphPattern
	Keys       []*Variable
	Aggregates []AggregateBinding
}

type OrderCondition struct {
	Expr      Expression
	Ascending bool
}

type OrderBy struct {
	Inner      GraphPattern
	Conditions []OrderCondition
}

type Project struct {
	Inner     GraphPattern
	Variables []*Variable
}

type Distinct struct {
	Inner GraphPattern
}

type Reduced struct {
	Inner GraphPattern
}

// Slice is OFFSET/LIMIT. A negative Limit means no limit.
type Slice struct {
	Inner  GraphPattern
	Offset int
	Limit  int
}

func (*BGP) graphPattern()      {}
func (*Path) graphPattern()     {}
func (*Join) graphPattern()     {}
func (*LeftJoin) graphPattern() {}
func (*Filter) graphPattern()   {}
func (*Union) graphPattern()    {}
func (*Minus) graphPattern()    {}
func (*Extend) graphPattern()   {}
func (*Graph) graphPattern()    {}
func (*Values) graphPattern()   {}
func (*Group) graphPattern()    {}
func (*OrderBy) graphPattern()  {}
func (*Project) graphPattern()  {}
func (*Distinct) graphPattern() {}
func (*Reduced) graphPattern()  {}
func (*Slice) graphPattern()    {}

// QueryForm is the kind of query.
type QueryForm int

const (
	QuerySelect QueryForm = iota
	QueryAsk
	QueryConstruct
	QueryDescribe
)

func (f QueryForm) String() string {
	switch f {
	case QuerySelect:
		return "SELECT"
	case QueryAsk:
		return "ASK"
	case QueryConstruct:
		return "CONSTRUCT"
	case QueryDescribe:
		return "DESCRIBE"
	default:
		return "UNKNOWN"
	}
}

// Dataset lists the graphs a query runs against. A nil Default means the
// store's default graph.
type Dataset struct {
	Default []*rdf.NamedNode
	Named   []*rdf.NamedNode
}

// Query is a parsed query. Pattern includes the solution modifiers.
type Query struct {
	Form     QueryForm
	Pattern  GraphPattern
	Template []TriplePattern
	Describe []TermPattern
	Dataset  *Dataset
	BaseIRI  string
}
