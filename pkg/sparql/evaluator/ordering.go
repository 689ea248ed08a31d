package evaluator

import (
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// orderRank groups values for ORDER BY: unbound and errors first, then
// blank nodes, IRIs and literals.
func orderRank(v columnar.Value) int {
	if !v.IsValid() {
		return 0
	}
	switch v.AsTerm().(type) {
	case *rdf.BlankNode:
		return 1
	case *rdf.NamedNode:
		return 2
	}
	return 3
}

// literalClass orders literals of different kinds.
func literalClass(v columnar.Value) int {
	switch {
	case v.DType.IsNumeric():
		return 0
	case v.DType == columnar.DTypeBoolean:
		return 1
	case v.DType == columnar.DTypeDateTime:
		return 4
	case v.DType == columnar.DTypeDate:
		return 5
	case v.DType == columnar.DTypeTime:
		return 6
	case v.DType.IsDuration():
		return 7
	}
	if _, ok := simpleString(v); ok {
		return 2
	}
	if _, _, ok := langString(v); ok {
		return 3
	}
	return 8
}

// OrderCompare is the total order used by ORDER BY and by MIN and MAX.
// It agrees with the < operator wherever that operator is defined and
// falls back to datatype and lexical form elsewhere.
func OrderCompare(a, b columnar.Value) int {
	ra, rb := orderRank(a), orderRank(b)
	if ra != rb {
		return sign(ra, rb)
	}
	switch ra {
	case 0:
		return 0
	case 1, 2:
		return strings.Compare(a.AsTerm().String(), b.AsTerm().String())
	}

	va, vb := a.Resolve(), b.Resolve()
	ca, cb := literalClass(va), literalClass(vb)
	if ca != cb {
		return sign(ca, cb)
	}
	if c, outcome := compareValues(va, vb); outcome == outcomeOrdered && c != 0 {
		return c
	}
	la, _ := va.Literal()
	lb, _ := vb.Literal()
	if c := strings.Compare(la.DatatypeIRI(), lb.DatatypeIRI()); c != 0 {
		return c
	}
	if c := strings.Compare(la.Value, lb.Value); c != 0 {
		return c
	}
	return strings.Compare(la.Language, lb.Language)
}
