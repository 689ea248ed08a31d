// Package parser reads SPARQL 1.1 query text into the algebra.
package parser

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
)

// ErrSyntax marks errors caused by malformed query text.
var ErrSyntax = errors.New("sparql syntax error")

// Parser parses SPARQL queries
type Parser struct {
	input    string
	pos      int
	length   int
	prefixes map[string]string // Maps prefix to IRI
	baseURI  string            // Base URI for resolving relative IRIs
	blanks   int               // Anonymous blank nodes allocated so far
}

// NewParser creates a new SPARQL parser
func NewParser(input string) *Parser {
	return &Parser{
		input:    input,
		length:   len(input),
		prefixes: make(map[string]string),
	}
}

// Parse parses a single query.
func Parse(input string) (*algebra.Query, error) {
	return NewParser(input).Parse()
}

// Parse parses a SPARQL query
func (p *Parser) Parse() (*algebra.Query, error) {
	if err := p.parsePrologue(); err != nil {
		return nil, err
	}

	query := &algebra.Query{}
	var err error
	switch {
	case p.matchKeyword("SELECT"):
		query.Form = algebra.QuerySelect
		err = p.parseSelectQuery(query)
	case p.matchKeyword("ASK"):
		query.Form = algebra.QueryAsk
		err = p.parseAskQuery(query)
	case p.matchKeyword("CONSTRUCT"):
		query.Form = algebra.QueryConstruct
		err = p.parseConstructQuery(query)
	case p.matchKeyword("DESCRIBE"):
		query.Form = algebra.QueryDescribe
		err = p.parseDescribeQuery(query)
	default:
		return nil, p.errorf("expected SELECT, ASK, CONSTRUCT or DESCRIBE")
	}
	if err != nil {
		return nil, err
	}
	query.BaseIRI = p.baseURI

	p.skipWhitespace()
	if p.pos < p.length {
		return nil, p.errorf("unexpected input %q", p.snippet())
	}
	return query, nil
}

// parsePrologue reads PREFIX and BASE declarations.
func (p *Parser) parsePrologue() error {
	for {
		switch {
		case p.matchKeyword("PREFIX"):
			if err := p.parsePrefixDecl(); err != nil {
				return err
			}
		case p.matchKeyword("BASE"):
			p.skipWhitespace()
			iri, err := p.parseIRIRef()
			if err != nil {
				return err
			}
			p.baseURI = iri
		default:
			return nil
		}
	}
}

// parsePrefixDecl parses and stores a PREFIX declaration (prefix: <iri>)
func (p *Parser) parsePrefixDecl() error {
	p.skipWhitespace()

	// Prefix name can be empty for the default prefix
	prefix := p.readWhile(isPrefixChar)
	if p.peek() != ':' {
		return p.errorf("expected ':' in PREFIX declaration")
	}
	p.advance() // skip ':'

	p.skipWhitespace()
	iri, err := p.parseIRIRef()
	if err != nil {
		return err
	}
	p.prefixes[prefix] = iri
	return nil
}

// selectClause is the projection part of a SELECT.
type selectClause struct {
	distinct bool
	reduced  bool
	star     bool
	items    []selectItem
}

// selectItem is a projected variable, bound to Expr when Expr is not nil.
type selectItem struct {
	variable *algebra.Variable
	expr     algebra.Expression
}

// groupCondition is a GROUP BY key. Variable is nil for an expression
// key without AS.
type groupCondition struct {
	variable *algebra.Variable
	expr     algebra.Expression
}

// modifiers holds the solution modifiers following WHERE.
type modifiers struct {
	groupBy []groupCondition
	having  []algebra.Expression
	orderBy []algebra.OrderCondition
	limit   int
	offset  int
}

func (p *Parser) parseSelectQuery(query *algebra.Query) error {
	clause, err := p.parseSelectClause()
	if err != nil {
		return err
	}
	if query.Dataset, err = p.parseDatasetClauses(); err != nil {
		return err
	}
	pattern, err := p.parseSelectBody(clause)
	if err != nil {
		return err
	}
	query.Pattern = pattern
	return nil
}

// parseSubSelect parses a nested SELECT after its keyword. Subqueries
// carry no dataset clauses.
func (p *Parser) parseSubSelect() (algebra.GraphPattern, error) {
	clause, err := p.parseSelectClause()
	if err != nil {
		return nil, err
	}
	return p.parseSelectBody(clause)
}

// parseSelectBody parses WHERE, solution modifiers and trailing VALUES and
// assembles the algebra of a SELECT.
func (p *Parser) parseSelectBody(clause *selectClause) (algebra.GraphPattern, error) {
	p.matchKeyword("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	mods, err := p.parseSolutionModifiers()
	if err != nil {
		return nil, err
	}
	values, err := p.parseTrailingValues()
	if err != nil {
		return nil, err
	}
	return p.buildSelect(where, clause, mods, values)
}

// parseSelectClause parses [DISTINCT|REDUCED] (* | items).
func (p *Parser) parseSelectClause() (*selectClause, error) {
	clause := &selectClause{}
	if p.matchKeyword("DISTINCT") {
		clause.distinct = true
	} else if p.matchKeyword("REDUCED") {
		clause.reduced = true
	}

	p.skipWhitespace()
	if p.peek() == '*' {
		p.advance()
		clause.star = true
		return clause, nil
	}

	for {
		p.skipWhitespace()
		switch p.peek() {
		case '?', '$':
			v, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			clause.items = append(clause.items, selectItem{variable: v})
		case '(':
			p.advance() // skip '('
			expr, err := p.parseExpression()
			if err != nil {
				return nil, err
			}
			if !p.matchKeyword("AS") {
				return nil, p.errorf("expected AS in SELECT expression")
			}
			p.skipWhitespace()
			v, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			clause.items = append(clause.items, selectItem{variable: v, expr: expr})
		default:
			if len(clause.items) == 0 {
				return nil, p.errorf("expected variables or * after SELECT")
			}
			return clause, nil
		}
	}
}

// buildSelect applies grouping, HAVING, VALUES, select expressions,
// ORDER BY, projection, DISTINCT and slicing in that order.
func (p *Parser) buildSelect(where algebra.GraphPattern, clause *selectClause, mods *modifiers, values *algebra.Values) (algebra.GraphPattern, error) {
	aggs := &aggregateCollector{}
	items := make([]selectItem, len(clause.items))
	for i, item := range clause.items {
		items[i] = item
		if item.expr != nil {
			items[i].expr = aggs.replace(item.expr)
		}
	}
	having := make([]algebra.Expression, len(mods.having))
	for i, h := range mods.having {
		having[i] = aggs.replace(h)
	}
	order := make([]algebra.OrderCondition, len(mods.orderBy))
	for i, c := range mods.orderBy {
		order[i] = algebra.OrderCondition{Expr: aggs.replace(c.Expr), Ascending: c.Ascending}
	}

	pattern := where
	grouped := len(mods.groupBy) > 0 || len(aggs.bindings) > 0 || len(having) > 0
	if grouped {
		if clause.star {
			return nil, p.errorf("SELECT * is not allowed in a grouped query")
		}
		var keys []*algebra.Variable
		for i, cond := range mods.groupBy {
			switch {
			case cond.expr == nil:
				keys = append(keys, cond.variable)
			default:
				v := cond.variable
				if v == nil {
					v = algebra.NewVariable("#group" + strconv.Itoa(i))
				}
				pattern = &algebra.Extend{Inner: pattern, Variable: v, Expr: cond.expr}
				keys = append(keys, v)
			}
		}
		for _, item := range items {
			if item.expr == nil && !hasVariable(keys, item.variable.Name) {
				return nil, p.errorf("variable %s is not grouped", item.variable)
			}
		}
		pattern = &algebra.Group{Inner: pattern, Keys: keys, Aggregates: aggs.bindings}
		if len(having) > 0 {
			pattern = &algebra.Filter{Expr: algebra.And(having...), Inner: pattern}
		}
	}

	if values != nil {
		pattern = join(pattern, values)
	}

	var projection []*algebra.Variable
	if clause.star {
		for _, name := range patternVariables(pattern) {
			projection = append(projection, algebra.NewVariable(name))
		}
	}
	for _, item := range items {
		if hasVariable(projection, item.variable.Name) {
			return nil, p.errorf("variable %s is projected twice", item.variable)
		}
		if item.expr != nil {
			pattern = &algebra.Extend{Inner: pattern, Variable: item.variable, Expr: item.expr}
		}
		projection = append(projection, item.variable)
	}

	if len(order) > 0 {
		pattern = &algebra.OrderBy{Inner: pattern, Conditions: order}
	}
	pattern = &algebra.Project{Inner: pattern, Variables: projection}
	if clause.distinct {
		pattern = &algebra.Distinct{Inner: pattern}
	} else if clause.reduced {
		pattern = &algebra.Reduced{Inner: pattern}
	}
	return slice(pattern, mods), nil
}

func (p *Parser) parseAskQuery(query *algebra.Query) error {
	var err error
	if query.Dataset, err = p.parseDatasetClauses(); err != nil {
		return err
	}
	p.matchKeyword("WHERE")
	where, err := p.parseGroupGraphPattern()
	if err != nil {
		return err
	}
	pattern, err := p.parseUngroupedModifiers(where)
	if err != nil {
		return err
	}
	query.Pattern = pattern
	return nil
}

func (p *Parser) parseConstructQuery(query *algebra.Query) error {
	p.skipWhitespace()
	var template []algebra.TriplePattern
	short := p.peek() != '{'
	if !short {
		var err error
		if template, err = p.parseConstructTemplate(); err != nil {
			return err
		}
	}

	var err error
	if query.Dataset, err = p.parseDatasetClauses(); err != nil {
		return err
	}
	if !p.matchKeyword("WHERE") && short {
		return p.errorf("expected WHERE in CONSTRUCT WHERE")
	}

	var where algebra.GraphPattern
	if short {
		// CONSTRUCT WHERE { triples }: the pattern doubles as template
		if template, err = p.parseConstructTemplate(); err != nil {
			return err
		}
		where = &algebra.BGP{Patterns: template}
	} else if where, err = p.parseGroupGraphPattern(); err != nil {
		return err
	}

	pattern, err := p.parseUngroupedModifiers(where)
	if err != nil {
		return err
	}
	query.Pattern = pattern
	query.Template = template
	return nil
}

// parseConstructTemplate parses '{' triples '}' without property paths.
func (p *Parser) parseConstructTemplate() ([]algebra.TriplePattern, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	var out []algebra.TriplePattern
	emit := func(s algebra.TermPattern, v verb, o algebra.TermPattern) error {
		out = append(out, algebra.TriplePattern{Subject: s, Predicate: v.term, Object: o})
		return nil
	}
	for {
		p.skipWhitespace()
		if p.match("}") {
			return out, nil
		}
		if p.pos >= p.length {
			return nil, p.errorf("unterminated CONSTRUCT template")
		}
		if err := p.parseTriplesSameSubject(emit, false); err != nil {
			return nil, err
		}
		p.skipWhitespace()
		p.match(".")
	}
}

func (p *Parser) parseDescribeQuery(query *algebra.Query) error {
	p.skipWhitespace()
	star := false
	if p.peek() == '*' {
		p.advance()
		star = true
	} else {
		for {
			p.skipWhitespace()
			c := p.peek()
			if c != '?' && c != '$' && c != '<' && !p.atPrefixedName() {
				break
			}
			target, err := p.parseVarOrIRI()
			if err != nil {
				return err
			}
			query.Describe = append(query.Describe, target)
		}
		if len(query.Describe) == 0 {
			return p.errorf("expected resources or * after DESCRIBE")
		}
	}

	var err error
	if query.Dataset, err = p.parseDatasetClauses(); err != nil {
		return err
	}
	p.skipWhitespace()
	if p.matchKeyword("WHERE") || p.peek() == '{' {
		where, err := p.parseGroupGraphPattern()
		if err != nil {
			return err
		}
		if star {
			for _, name := range patternVariables(where) {
				query.Describe = append(query.Describe, algebra.VarOf(name))
			}
		}
		if query.Pattern, err = p.parseUngroupedModifiers(where); err != nil {
			return err
		}
	} else if star {
		return p.errorf("DESCRIBE * needs a WHERE clause")
	}
	return nil
}

// parseUngroupedModifiers applies ORDER BY, OFFSET and LIMIT for query
// forms without a projection.
func (p *Parser) parseUngroupedModifiers(where algebra.GraphPattern) (algebra.GraphPattern, error) {
	mods, err := p.parseSolutionModifiers()
	if err != nil {
		return nil, err
	}
	if len(mods.groupBy) > 0 || len(mods.having) > 0 {
		return nil, p.errorf("GROUP BY is only allowed in SELECT")
	}
	values, err := p.parseTrailingValues()
	if err != nil {
		return nil, err
	}
	pattern := where
	if values != nil {
		pattern = join(pattern, values)
	}
	if len(mods.orderBy) > 0 {
		pattern = &algebra.OrderBy{Inner: pattern, Conditions: mods.orderBy}
	}
	return slice(pattern, mods), nil
}

// parseDatasetClauses reads FROM and FROM NAMED. Listing only one kind
// leaves the other kind empty rather than defaulting to the store.
func (p *Parser) parseDatasetClauses() (*algebra.Dataset, error) {
	var dataset *algebra.Dataset
	for p.matchKeyword("FROM") {
		if dataset == nil {
			dataset = &algebra.Dataset{Default: []*rdf.NamedNode{}, Named: []*rdf.NamedNode{}}
		}
		named := p.matchKeyword("NAMED")
		p.skipWhitespace()
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		if named {
			dataset.Named = append(dataset.Named, iri)
		} else {
			dataset.Default = append(dataset.Default, iri)
		}
	}
	return dataset, nil
}

func (p *Parser) parseSolutionModifiers() (*modifiers, error) {
	mods := &modifiers{limit: -1}
	if p.matchKeyword("GROUP") {
		if !p.matchKeyword("BY") {
			return nil, p.errorf("expected BY after GROUP")
		}
		if err := p.parseGroupBy(mods); err != nil {
			return nil, err
		}
	}
	if p.matchKeyword("HAVING") {
		for !p.atClauseEnd() {
			expr, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			mods.having = append(mods.having, expr)
		}
		if len(mods.having) == 0 {
			return nil, p.errorf("expected condition after HAVING")
		}
	}
	if p.matchKeyword("ORDER") {
		if !p.matchKeyword("BY") {
			return nil, p.errorf("expected BY after ORDER")
		}
		if err := p.parseOrderBy(mods); err != nil {
			return nil, err
		}
	}

	// LIMIT and OFFSET may come in either order
	for i := 0; i < 2; i++ {
		switch {
		case p.matchKeyword("LIMIT"):
			n, err := p.parseInteger()
			if err != nil {
				return nil, err
			}
			mods.limit = n
		case p.matchKeyword("OFFSET"):
			n, err := p.parseInteger()
			if err != nil {
				return nil, err
			}
			mods.offset = n
		}
	}
	return mods, nil
}

func (p *Parser) parseGroupBy(mods *modifiers) error {
	for !p.atClauseEnd() {
		p.skipWhitespace()
		switch p.peek() {
		case '?', '$':
			v, err := p.parseVariable()
			if err != nil {
				return err
			}
			mods.groupBy = append(mods.groupBy, groupCondition{variable: v})
		case '(':
			p.advance() // skip '('
			expr, err := p.parseExpression()
			if err != nil {
				return err
			}
			cond := groupCondition{expr: expr}
			if p.matchKeyword("AS") {
				p.skipWhitespace()
				if cond.variable, err = p.parseVariable(); err != nil {
					return err
				}
			}
			if err := p.expect(")"); err != nil {
				return err
			}
			if v, ok := expr.(*algebra.VariableExpression); ok && cond.variable == nil {
				cond = groupCondition{variable: v.Variable}
			}
			mods.groupBy = append(mods.groupBy, cond)
		default:
			expr, err := p.parseConstraint()
			if err != nil {
				return err
			}
			mods.groupBy = append(mods.groupBy, groupCondition{expr: expr})
		}
	}
	if len(mods.groupBy) == 0 {
		return p.errorf("expected condition after GROUP BY")
	}
	return nil
}

func (p *Parser) parseOrderBy(mods *modifiers) error {
	for !p.atClauseEnd() {
		p.skipWhitespace()
		cond := algebra.OrderCondition{Ascending: true}
		var err error
		switch {
		case p.matchKeyword("ASC"):
			cond.Expr, err = p.parseBrackettedExpression()
		case p.matchKeyword("DESC"):
			cond.Ascending = false
			cond.Expr, err = p.parseBrackettedExpression()
		case p.peek() == '?' || p.peek() == '$':
			var v *algebra.Variable
			v, err = p.parseVariable()
			if err == nil {
				cond.Expr = &algebra.VariableExpression{Variable: v}
			}
		default:
			cond.Expr, err = p.parseConstraint()
		}
		if err != nil {
			return err
		}
		mods.orderBy = append(mods.orderBy, cond)
	}
	if len(mods.orderBy) == 0 {
		return p.errorf("expected condition after ORDER BY")
	}
	return nil
}

// parseTrailingValues parses a VALUES block after the solution modifiers.
func (p *Parser) parseTrailingValues() (*algebra.Values, error) {
	if !p.matchKeyword("VALUES") {
		return nil, nil
	}
	return p.parseValuesData()
}

// atClauseEnd reports whether the next token ends a modifier list.
func (p *Parser) atClauseEnd() bool {
	p.skipWhitespace()
	if p.pos >= p.length || p.peek() == '}' {
		return true
	}
	for _, kw := range []string{"HAVING", "ORDER", "LIMIT", "OFFSET", "VALUES"} {
		if p.peekKeyword(kw) {
			return true
		}
	}
	return false
}

func (p *Parser) parseInteger() (int, error) {
	p.skipWhitespace()
	digits := p.readWhile(isDigit)
	if digits == "" {
		return 0, p.errorf("expected integer")
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, p.errorf("invalid integer %q", digits)
	}
	return n, nil
}

func slice(pattern algebra.GraphPattern, mods *modifiers) algebra.GraphPattern {
	if mods.offset == 0 && mods.limit < 0 {
		return pattern
	}
	return &algebra.Slice{Inner: pattern, Offset: mods.offset, Limit: mods.limit}
}

func hasVariable(vars []*algebra.Variable, name string) bool {
	for _, v := range vars {
		if v.Name == name {
			return true
		}
	}
	return false
}

func (p *Parser) peek() byte {
	if p.pos >= p.length {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) peekAt(offset int) byte {
	if p.pos+offset >= p.length {
		return 0
	}
	return p.input[p.pos+offset]
}

func (p *Parser) advance() {
	if p.pos < p.length {
		p.pos++
	}
}

func (p *Parser) skipWhitespace() {
	for p.pos < p.length {
		ch := p.input[p.pos]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			p.pos++
			continue
		}

		// Comments run from # to end of line
		if ch == '#' {
			for p.pos < p.length && p.input[p.pos] != '\n' && p.input[p.pos] != '\r' {
				p.pos++
			}
			continue
		}

		break
	}
}

func (p *Parser) readWhile(predicate func(byte) bool) string {
	start := p.pos
	for p.pos < p.length && predicate(p.input[p.pos]) {
		p.pos++
	}
	return p.input[start:p.pos]
}

// peekKeyword reports whether the keyword follows, case-insensitively
// and not as the start of a longer name.
func (p *Parser) peekKeyword(keyword string) bool {
	p.skipWhitespace()
	end := p.pos + len(keyword)
	if end > p.length || !strings.EqualFold(p.input[p.pos:end], keyword) {
		return false
	}
	return end == p.length || !isNameChar(p.input[end]) && p.input[end] != ':'
}

func (p *Parser) matchKeyword(keyword string) bool {
	if p.peekKeyword(keyword) {
		p.pos += len(keyword)
		return true
	}
	return false
}

// match consumes s when the input continues with it.
func (p *Parser) match(s string) bool {
	if strings.HasPrefix(p.input[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *Parser) expect(s string) error {
	p.skipWhitespace()
	if !p.match(s) {
		return p.errorf("expected '%s'", s)
	}
	return nil
}

// errorf returns a syntax error located at the current position.
func (p *Parser) errorf(format string, args ...interface{}) error {
	line, col := 1, 1
	for i := 0; i < p.pos && i < p.length; i++ {
		if p.input[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	err := errors.Wrapf(errors.Newf(format, args...), "line %d column %d", line, col)
	return errors.Mark(err, ErrSyntax)
}

func (p *Parser) snippet() string {
	end := p.pos + 20
	if end > p.length {
		end = p.length
	}
	return p.input[p.pos:end]
}
