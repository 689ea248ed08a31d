package parser

import (
	"strconv"
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
)

// Expression parsing with operator precedence
// Grammar:
// Expression → LogicalOrExpression
// LogicalOrExpression → LogicalAndExpression ( '||' LogicalAndExpression )*
// LogicalAndExpression → RelationalExpression ( '&&' RelationalExpression )*
// RelationalExpression → AdditiveExpression ( ('=' | '!=' | '<' | '<=' | '>' | '>=') AdditiveExpression | [NOT] IN ExpressionList )?
// AdditiveExpression → MultiplicativeExpression ( ('+' | '-') MultiplicativeExpression )*
// MultiplicativeExpression → UnaryExpression ( ('*' | '/') UnaryExpression )*
// UnaryExpression → ('!' | '-' | '+')? PrimaryExpression
// PrimaryExpression → Variable | Literal | FunctionCall | Aggregate | EXISTS | '(' Expression ')'

var aggregateFunctions = map[string]algebra.AggregateFunction{
	"COUNT":        algebra.AggCount,
	"SUM":          algebra.AggSum,
	"AVG":          algebra.AggAvg,
	"MIN":          algebra.AggMin,
	"MAX":          algebra.AggMax,
	"GROUP_CONCAT": algebra.AggGroupConcat,
	"SAMPLE":       algebra.AggSample,
}

// parseExpression parses a SPARQL expression (entry point)
func (p *Parser) parseExpression() (algebra.Expression, error) {
	return p.parseLogicalOrExpression()
}

func (p *Parser) parseLogicalOrExpression() (algebra.Expression, error) {
	left, err := p.parseLogicalAndExpression()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWhitespace()
		if !p.match("||") {
			return left, nil
		}
		right, err := p.parseLogicalAndExpression()
		if err != nil {
			return nil, err
		}
		left = algebra.Binary(algebra.OpOr, left, right)
	}
}

func (p *Parser) parseLogicalAndExpression() (algebra.Expression, error) {
	left, err := p.parseRelationalExpression()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWhitespace()
		if !p.match("&&") {
			return left, nil
		}
		right, err := p.parseRelationalExpression()
		if err != nil {
			return nil, err
		}
		left = algebra.Binary(algebra.OpAnd, left, right)
	}
}

func (p *Parser) parseRelationalExpression() (algebra.Expression, error) {
	left, err := p.parseAdditiveExpression()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()
	// Two-character operators first
	var op algebra.Operator
	switch {
	case p.match("!="):
		op = algebra.OpNotEqual
	case p.match("<="):
		op = algebra.OpLessEqual
	case p.match(">="):
		op = algebra.OpGreaterEqual
	case p.match("="):
		op = algebra.OpEqual
	case p.match("<"):
		op = algebra.OpLess
	case p.match(">"):
		op = algebra.OpGreater
	case p.matchKeyword("IN"):
		list, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		return &algebra.InExpression{Expr: left, List: list}, nil
	case p.peekKeyword("NOT"):
		mark := p.pos
		p.matchKeyword("NOT")
		if !p.matchKeyword("IN") {
			p.pos = mark
			return left, nil
		}
		list, err := p.parseExpressionList()
		if err != nil {
			return nil, err
		}
		return &algebra.InExpression{Expr: left, List: list, Not: true}, nil
	default:
		return left, nil
	}

	right, err := p.parseAdditiveExpression()
	if err != nil {
		return nil, err
	}
	return algebra.Binary(op, left, right), nil
}

func (p *Parser) parseAdditiveExpression() (algebra.Expression, error) {
	left, err := p.parseMultiplicativeExpression()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWhitespace()
		var op algebra.Operator
		switch p.peek() {
		case '+':
			op = algebra.OpAdd
		case '-':
			op = algebra.OpSubtract
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseMultiplicativeExpression()
		if err != nil {
			return nil, err
		}
		left = algebra.Binary(op, left, right)
	}
}

func (p *Parser) parseMultiplicativeExpression() (algebra.Expression, error) {
	left, err := p.parseUnaryExpression()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWhitespace()
		var op algebra.Operator
		switch p.peek() {
		case '*':
			op = algebra.OpMultiply
		case '/':
			op = algebra.OpDivide
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnaryExpression()
		if err != nil {
			return nil, err
		}
		left = algebra.Binary(op, left, right)
	}
}

func (p *Parser) parseUnaryExpression() (algebra.Expression, error) {
	p.skipWhitespace()
	var op algebra.Operator
	switch p.peek() {
	case '!':
		op = algebra.OpNot
	case '-':
		op = algebra.OpNegate
	case '+':
		op = algebra.OpPlus
	default:
		return p.parsePrimaryExpression()
	}
	p.advance()
	operand, err := p.parsePrimaryExpression()
	if err != nil {
		return nil, err
	}
	return &algebra.UnaryExpression{Op: op, Operand: operand}, nil
}

func (p *Parser) parsePrimaryExpression() (algebra.Expression, error) {
	p.skipWhitespace()
	c := p.peek()
	switch {
	case c == '(':
		return p.parseBrackettedExpression()
	case c == '?' || c == '$':
		v, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		return &algebra.VariableExpression{Variable: v}, nil
	case c == '"' || c == '\'':
		lit, err := p.parseRDFLiteral()
		if err != nil {
			return nil, err
		}
		return algebra.Const(lit), nil
	case isDigit(c) || c == '.' && isDigit(p.peekAt(1)):
		lit, err := p.parseNumericLiteral()
		if err != nil {
			return nil, err
		}
		return algebra.Const(lit), nil
	case c == '<' || p.atPrefixedName():
		return p.parseIRIOrFunction()
	}
	return p.parseBuiltInCall()
}

// parseIRIOrFunction parses an IRI constant or a call of a function named
// by IRI, such as xsd:integer(?x).
func (p *Parser) parseIRIOrFunction() (algebra.Expression, error) {
	iri, err := p.parseIRI()
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.peek() != '(' {
		return algebra.Const(iri), nil
	}
	args, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	return &algebra.FunctionCall{IRI: iri.IRI, Args: args}, nil
}

// parseBuiltInCall parses keyword-introduced expressions: boolean
// constants, EXISTS, aggregates and built-in functions.
func (p *Parser) parseBuiltInCall() (algebra.Expression, error) {
	name := p.readWhile(func(c byte) bool { return isAlpha(c) || isDigit(c) || c == '_' })
	if name == "" {
		return nil, p.errorf("expected expression, found %q", p.snippet())
	}
	upper := strings.ToUpper(name)

	switch upper {
	case "TRUE":
		return algebra.Const(rdf.NewBooleanLiteral(true)), nil
	case "FALSE":
		return algebra.Const(rdf.NewBooleanLiteral(false)), nil
	case "EXISTS":
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &algebra.ExistsExpression{Pattern: pattern}, nil
	case "NOT":
		if !p.matchKeyword("EXISTS") {
			return nil, p.errorf("expected EXISTS after NOT")
		}
		pattern, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		return &algebra.ExistsExpression{Pattern: pattern, Not: true}, nil
	}

	if fn, ok := aggregateFunctions[upper]; ok {
		return p.parseAggregate(fn)
	}

	p.skipWhitespace()
	if p.peek() != '(' {
		return nil, p.errorf("unknown keyword %q", name)
	}
	args, err := p.parseArgList()
	if err != nil {
		return nil, err
	}
	return &algebra.FunctionCall{Name: upper, Args: args}, nil
}

// parseAggregate parses the parenthesized part of an aggregate.
func (p *Parser) parseAggregate(fn algebra.AggregateFunction) (algebra.Expression, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	agg := &algebra.AggregateExpression{Function: fn}
	agg.Distinct = p.matchKeyword("DISTINCT")

	p.skipWhitespace()
	if fn == algebra.AggCount && p.peek() == '*' {
		p.advance() // COUNT(*)
	} else {
		expr, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		agg.Expr = expr
	}

	if fn == algebra.AggGroupConcat {
		p.skipWhitespace()
		if p.match(";") {
			if !p.matchKeyword("SEPARATOR") {
				return nil, p.errorf("expected SEPARATOR")
			}
			if err := p.expect("="); err != nil {
				return nil, err
			}
			p.skipWhitespace()
			sep, err := p.parseString()
			if err != nil {
				return nil, err
			}
			agg.Separator = sep
		}
	}

	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return agg, nil
}

// parseArgList parses '(' [expression (',' expression)*] ')'.
func (p *Parser) parseArgList() ([]algebra.Expression, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.match(")") {
		return nil, nil
	}
	var args []algebra.Expression
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		p.skipWhitespace()
		if p.match(")") {
			return args, nil
		}
		if !p.match(",") {
			return nil, p.errorf("expected ',' or ')' in argument list")
		}
	}
}

// parseExpressionList parses the list of IN and NOT IN.
func (p *Parser) parseExpressionList() ([]algebra.Expression, error) {
	return p.parseArgList()
}

func (p *Parser) parseBrackettedExpression() (algebra.Expression, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, err
	}
	return expr, nil
}

// parseConstraint parses the condition of FILTER and HAVING: a bracketted
// expression or a function call.
func (p *Parser) parseConstraint() (algebra.Expression, error) {
	p.skipWhitespace()
	if p.peek() == '(' {
		return p.parseBrackettedExpression()
	}
	if c := p.peek(); c == '?' || c == '$' || c == '"' || c == '\'' || isDigit(c) {
		return nil, p.errorf("expected '(' or function call")
	}
	return p.parsePrimaryExpression()
}

// aggregateCollector replaces aggregates in grouped query expressions by
// hidden variables bound by the grouping.
type aggregateCollector struct {
	bindings []algebra.AggregateBinding
}

func (c *aggregateCollector) replace(e algebra.Expression) algebra.Expression {
	switch ex := e.(type) {
	case *algebra.AggregateExpression:
		v := algebra.NewVariable("#agg" + strconv.Itoa(len(c.bindings)))
		c.bindings = append(c.bindings, algebra.AggregateBinding{Variable: v, Aggregate: ex})
		return &algebra.VariableExpression{Variable: v}
	case *algebra.BinaryExpression:
		return algebra.Binary(ex.Op, c.replace(ex.Left), c.replace(ex.Right))
	case *algebra.UnaryExpression:
		return &algebra.UnaryExpression{Op: ex.Op, Operand: c.replace(ex.Operand)}
	case *algebra.FunctionCall:
		return &algebra.FunctionCall{Name: ex.Name, IRI: ex.IRI, Args: c.replaceAll(ex.Args)}
	case *algebra.InExpression:
		return &algebra.InExpression{Expr: c.replace(ex.Expr), List: c.replaceAll(ex.List), Not: ex.Not}
	}
	return e
}

func (c *aggregateCollector) replaceAll(list []algebra.Expression) []algebra.Expression {
	out := make([]algebra.Expression, len(list))
	for i, e := range list {
		out[i] = c.replace(e)
	}
	return out
}
