package algebra

import (
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// Expression is a SPARQL expression.
type Expression interface {
	expression()
}

// Operator represents a unary or binary operator.
type Operator int

const (
	OpOr Operator = iota
	OpAnd
	OpEqual
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpNot
	OpNegate
	OpPlus
)

var operatorNames = map[Operator]string{
	OpOr:           "||",
	OpAnd:          "&&",
	OpEqual:        "=",
	OpNotEqual:     "!=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpAdd:          "+",
	OpSubtract:     "-",
	OpMultiply:     "*",
	OpDivide:       "/",
	OpNot:          "!",
	OpNegate:       "-",
	OpPlus:         "+",
}

func (o Operator) String() string {
	return operatorNames[o]
}

type VariableExpression struct {
	Variable *Variable
}

type TermExpression struct {
	Term rdf.Term
}

type BinaryExpression struct {
	Op          Operator
	Left, Right Expression
}

type UnaryExpression struct {
	Op      Operator
	Operand Expression
}

// FunctionCall is a built-in call (upper-cased name such as "STRLEN") or a
// call of a function identified by IRI.
type FunctionCall struct {
	Name string
	IRI  string
	Args []Expression
}

// InExpression is Expr IN (List) or Expr NOT IN (List).
type InExpression struct {
	Expr Expression
	List []Expression
	Not  bool
}

// ExistsExpression is EXISTS { Pattern } or NOT EXISTS { Pattern }.
type ExistsExpression struct {
	Pattern GraphPattern
	Not     bool
}

// AggregateFunction names a set function.
type AggregateFunction int

const (
	AggCount AggregateFunction = iota
	AggSum
	AggAvg
	AggMin
	AggMax
	AggGroupConcat
	AggSample
)

var aggregateNames = map[AggregateFunction]string{
	AggCount:       "COUNT",
	AggSum:         "SUM",
	AggAvg:         "AVG",
	AggMin:         "MIN",
	AggMax:         "MAX",
	AggGroupConcat: "GROUP_CONCAT",
	AggSample:      "SAMPLE",
}

func (f AggregateFunction) String() string {
	return aggregateNames[f]
}

// AggregateExpression appears in SELECT, HAVING and ORDER BY of grouped
// queries. Expr is nil for COUNT(*).
type AggregateExpression struct {
	Function  AggregateFunction
	Expr      Expression
	Distinct  bool
	Separator string
}

func (*VariableExpression) expression()  {}
func (*TermExpression) expression()      {}
func (*BinaryExpression) expression()    {}
func (*UnaryExpression) expression()     {}
func (*FunctionCall) expression()        {}
func (*InExpression) expression()        {}
func (*ExistsExpression) expression()    {}
func (*AggregateExpression) expression() {}

// Var is shorthand for a variable reference expression.
func Var(name string) *VariableExpression {
	return &VariableExpression{Variable: NewVariable(name)}
}

// Const is shorthand for a constant term expression.
func Const(t rdf.Term) *TermExpression {
	return &TermExpression{Term: t}
}

// Call is shorthand for a built-in function call.
func Call(name string, args ...Expression) *FunctionCall {
	return &FunctionCall{Name: strings.ToUpper(name), Args: args}
}

// Binary is shorthand for a binary expression.
func Binary(op Operator, left, right Expression) *BinaryExpression {
	return &BinaryExpression{Op: op, Left: left, Right: right}
}

// ExpressionVariables returns the distinct variables referenced by e,
// excluding variables only referenced inside EXISTS patterns.
func ExpressionVariables(e Expression) []string {
	var out []string
	var walk func(Expression)
	walk = func(e Expression) {
		switch ex := e.(type) {
		case *VariableExpression:
			if !contains(out, ex.Variable.Name) {
				out = append(out, ex.Variable.Name)
			}
		case *BinaryExpression:
			walk(ex.Left)
			walk(ex.Right)
		case *UnaryExpression:
			walk(ex.Operand)
		case *FunctionCall:
			for _, a := range ex.Args {
				walk(a)
			}
		case *InExpression:
			walk(ex.Expr)
			for _, a := range ex.List {
				walk(a)
			}
		case *AggregateExpression:
			if ex.Expr != nil {
				walk(ex.Expr)
			}
		}
	}
	walk(e)
	return out
}

// Conjuncts splits a conjunction into its operands.
func Conjuncts(e Expression) []Expression {
	if b, ok := e.(*BinaryExpression); ok && b.Op == OpAnd {
		return append(Conjuncts(b.Left), Conjuncts(b.Right)...)
	}
	return []Expression{e}
}

// And joins expressions with &&. It returns nil for an empty list.
func And(exprs ...Expression) Expression {
	var out Expression
	for _, e := range exprs {
		if out == nil {
			out = e
			continue
		}
		out = Binary(OpAnd, out, e)
	}
	return out
}

// FormatExpression renders an expression in SPARQL-like syntax for plan
// explanations.
func FormatExpression(e Expression) string {
	var sb strings.Builder
	formatExpression(&sb, e)
	return sb.String()
}

func formatExpression(sb *strings.Builder, e Expression) {
	switch ex := e.(type) {
	case nil:
		sb.WriteString("<nil>")
	case *VariableExpression:
		sb.WriteString(ex.Variable.String())
	case *TermExpression:
		sb.WriteString(ex.Term.String())
	case *BinaryExpression:
		sb.WriteByte('(')
		formatExpression(sb, ex.Left)
		sb.WriteString(" " + ex.Op.String() + " ")
		formatExpression(sb, ex.Right)
		sb.WriteByte(')')
	case *UnaryExpression:
		sb.WriteString(ex.Op.String())
		formatExpression(sb, ex.Operand)
	case *FunctionCall:
		if ex.IRI != "" {
			sb.WriteString("<" + ex.IRI + ">")
		} else {
			sb.WriteString(ex.Name)
		}
		sb.WriteByte('(')
		for i, a := range ex.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpression(sb, a)
		}
		sb.WriteByte(')')
	case *InExpression:
		formatExpression(sb, ex.Expr)
		if ex.Not {
			sb.WriteString(" NOT")
		}
		sb.WriteString(" IN (")
		for i, a := range ex.List {
			if i > 0 {
				sb.WriteString(", ")
			}
			formatExpression(sb, a)
		}
		sb.WriteByte(')')
	case *ExistsExpression:
		if ex.Not {
			sb.WriteString("NOT ")
		}
		sb.WriteString("EXISTS {...}")
	case *AggregateExpression:
		sb.WriteString(ex.Function.String())
		sb.WriteByte('(')
		if ex.Distinct {
			sb.WriteString("DISTINCT ")
		}
		if ex.Expr == nil {
			sb.WriteByte('*')
		} else {
			formatExpression(sb, ex.Expr)
		}
		sb.WriteByte(')')
	}
}
