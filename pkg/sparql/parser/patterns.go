package parser

import (
	"strconv"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
)

// groupBuilder accumulates the elements of one group graph pattern.
// Consecutive triples collect into one BGP; filters apply to the whole
// group once it is complete.
type groupBuilder struct {
	pattern algebra.GraphPattern
	bgp     *algebra.BGP
	filters []algebra.Expression
}

func (g *groupBuilder) triple(t algebra.TriplePattern) {
	if g.bgp == nil {
		g.bgp = &algebra.BGP{}
	}
	g.bgp.Patterns = append(g.bgp.Patterns, t)
}

func (g *groupBuilder) flush() {
	if g.bgp != nil {
		g.pattern = join(g.pattern, g.bgp)
		g.bgp = nil
	}
}

func (g *groupBuilder) current() algebra.GraphPattern {
	g.flush()
	if g.pattern == nil {
		return &algebra.BGP{}
	}
	return g.pattern
}

func (g *groupBuilder) add(pattern algebra.GraphPattern) {
	g.flush()
	g.pattern = join(g.pattern, pattern)
}

// optional left-joins the group so far with inner. A filter of the
// optional group becomes the condition of the left join.
func (g *groupBuilder) optional(inner algebra.GraphPattern) {
	left := g.current()
	if f, ok := inner.(*algebra.Filter); ok {
		g.pattern = &algebra.LeftJoin{Left: left, Right: f.Inner, Expr: f.Expr}
		return
	}
	g.pattern = &algebra.LeftJoin{Left: left, Right: inner}
}

func (g *groupBuilder) minus(inner algebra.GraphPattern) {
	g.pattern = &algebra.Minus{Left: g.current(), Right: inner}
}

func (g *groupBuilder) extend(v *algebra.Variable, expr algebra.Expression) {
	g.pattern = &algebra.Extend{Inner: g.current(), Variable: v, Expr: expr}
}

func (g *groupBuilder) build() algebra.GraphPattern {
	pattern := g.current()
	if len(g.filters) > 0 {
		return &algebra.Filter{Expr: algebra.And(g.filters...), Inner: pattern}
	}
	return pattern
}

// emit adds a triple or a path pattern, depending on the verb.
func (g *groupBuilder) emit(s algebra.TermPattern, v verb, o algebra.TermPattern) error {
	if v.path != nil {
		g.add(&algebra.Path{Subject: s, Path: v.path, Object: o})
		return nil
	}
	g.triple(algebra.TriplePattern{Subject: s, Predicate: v.term, Object: o})
	return nil
}

// join joins two patterns, treating an empty BGP as the identity.
func join(left, right algebra.GraphPattern) algebra.GraphPattern {
	if left == nil || isEmptyBGP(left) {
		return right
	}
	if isEmptyBGP(right) {
		return left
	}
	return &algebra.Join{Left: left, Right: right}
}

func isEmptyBGP(pattern algebra.GraphPattern) bool {
	bgp, ok := pattern.(*algebra.BGP)
	return ok && len(bgp.Patterns) == 0
}

// parseGroupGraphPattern parses '{' ... '}'.
func (p *Parser) parseGroupGraphPattern() (algebra.GraphPattern, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	if p.matchKeyword("SELECT") {
		sub, err := p.parseSubSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expect("}"); err != nil {
			return nil, err
		}
		return sub, nil
	}

	g := &groupBuilder{}
	for {
		p.skipWhitespace()
		if p.match("}") {
			return g.build(), nil
		}
		if p.pos >= p.length {
			return nil, p.errorf("unterminated group graph pattern")
		}

		switch {
		case p.matchKeyword("OPTIONAL"):
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.optional(inner)
		case p.matchKeyword("MINUS"):
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.minus(inner)
		case p.matchKeyword("GRAPH"):
			p.skipWhitespace()
			name, err := p.parseVarOrIRI()
			if err != nil {
				return nil, err
			}
			inner, err := p.parseGroupGraphPattern()
			if err != nil {
				return nil, err
			}
			g.add(&algebra.Graph{Name: name, Inner: inner})
		case p.matchKeyword("FILTER"):
			expr, err := p.parseConstraint()
			if err != nil {
				return nil, err
			}
			g.filters = append(g.filters, expr)
		case p.matchKeyword("BIND"):
			v, expr, err := p.parseBind()
			if err != nil {
				return nil, err
			}
			g.extend(v, expr)
		case p.matchKeyword("VALUES"):
			values, err := p.parseValuesData()
			if err != nil {
				return nil, err
			}
			g.add(values)
		case p.peekKeyword("SERVICE"):
			return nil, p.errorf("SERVICE is not supported")
		case p.peek() == '{':
			union, err := p.parseGroupOrUnion()
			if err != nil {
				return nil, err
			}
			g.add(union)
		default:
			if err := p.parseTriplesSameSubject(g.emit, true); err != nil {
				return nil, err
			}
		}

		p.skipWhitespace()
		p.match(".")
	}
}

// parseGroupOrUnion parses { ... } [UNION { ... }]*.
func (p *Parser) parseGroupOrUnion() (algebra.GraphPattern, error) {
	left, err := p.parseGroupGraphPattern()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("UNION") {
		right, err := p.parseGroupGraphPattern()
		if err != nil {
			return nil, err
		}
		left = &algebra.Union{Left: left, Right: right}
	}
	return left, nil
}

// parseBind parses (expression AS ?var).
func (p *Parser) parseBind() (*algebra.Variable, algebra.Expression, error) {
	if err := p.expect("("); err != nil {
		return nil, nil, err
	}
	expr, err := p.parseExpression()
	if err != nil {
		return nil, nil, err
	}
	if !p.matchKeyword("AS") {
		return nil, nil, p.errorf("expected AS in BIND")
	}
	p.skipWhitespace()
	v, err := p.parseVariable()
	if err != nil {
		return nil, nil, err
	}
	if err := p.expect(")"); err != nil {
		return nil, nil, err
	}
	return v, expr, nil
}

// parseValuesData parses the variables and rows of a VALUES block.
func (p *Parser) parseValuesData() (*algebra.Values, error) {
	p.skipWhitespace()
	values := &algebra.Values{}

	single := p.peek() != '('
	if single {
		v, err := p.parseVariable()
		if err != nil {
			return nil, err
		}
		values.Variables = []*algebra.Variable{v}
	} else {
		p.advance() // skip '('
		for {
			p.skipWhitespace()
			if p.match(")") {
				break
			}
			v, err := p.parseVariable()
			if err != nil {
				return nil, err
			}
			values.Variables = append(values.Variables, v)
		}
	}

	if err := p.expect("{"); err != nil {
		return nil, err
	}
	for {
		p.skipWhitespace()
		if p.match("}") {
			return values, nil
		}
		if single {
			value, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			values.Rows = append(values.Rows, []rdf.Term{value})
			continue
		}
		if err := p.expect("("); err != nil {
			return nil, err
		}
		row := make([]rdf.Term, 0, len(values.Variables))
		for {
			p.skipWhitespace()
			if p.match(")") {
				break
			}
			value, err := p.parseDataValue()
			if err != nil {
				return nil, err
			}
			row = append(row, value)
		}
		if len(row) != len(values.Variables) {
			return nil, p.errorf("VALUES row has %d values for %d variables", len(row), len(values.Variables))
		}
		values.Rows = append(values.Rows, row)
	}
}

// parseDataValue parses one VALUES cell. UNDEF is returned as nil.
func (p *Parser) parseDataValue() (rdf.Term, error) {
	if p.matchKeyword("UNDEF") {
		return nil, nil
	}
	term, err := p.parseVarOrTerm()
	if err != nil {
		return nil, err
	}
	if term.IsVariable() {
		return nil, p.errorf("variables are not allowed in VALUES data")
	}
	return term.Term, nil
}

// verb is a predicate position: either a plain term or a property path.
type verb struct {
	term algebra.TermPattern
	path algebra.PropertyPath
}

// tripleSink receives the triples of a triples block.
type tripleSink func(s algebra.TermPattern, v verb, o algebra.TermPattern) error

// parseTriplesSameSubject parses a subject followed by a property list.
// Paths other than a single IRI are accepted only when paths is set.
func (p *Parser) parseTriplesSameSubject(emit tripleSink, paths bool) error {
	p.skipWhitespace()
	if p.peek() == '[' {
		subject, err := p.parseBlankNodePropertyList(emit, paths)
		if err != nil {
			return err
		}
		// The property list is optional after [ ... ]
		p.skipWhitespace()
		if c := p.peek(); c == '.' || c == '}' || c == 0 {
			return nil
		}
		return p.parsePropertyList(subject, emit, paths)
	}
	if p.peek() == '(' {
		return p.errorf("RDF collections are not supported")
	}
	subject, err := p.parseVarOrTerm()
	if err != nil {
		return err
	}
	return p.parsePropertyList(subject, emit, paths)
}

// parsePropertyList parses verb objectList (';' verb objectList)*.
func (p *Parser) parsePropertyList(subject algebra.TermPattern, emit tripleSink, paths bool) error {
	for {
		p.skipWhitespace()
		v, err := p.parseVerb(paths)
		if err != nil {
			return err
		}

		for {
			object, err := p.parseObject(emit, paths)
			if err != nil {
				return err
			}
			if err := emit(subject, v, object); err != nil {
				return err
			}
			p.skipWhitespace()
			if !p.match(",") {
				break
			}
		}

		if !p.match(";") {
			return nil
		}
		for {
			p.skipWhitespace()
			if !p.match(";") {
				break
			}
		}
		// A trailing ';' ends the list
		if c := p.peek(); c == '.' || c == '}' || c == ']' {
			return nil
		}
	}
}

func (p *Parser) parseObject(emit tripleSink, paths bool) (algebra.TermPattern, error) {
	p.skipWhitespace()
	switch p.peek() {
	case '[':
		return p.parseBlankNodePropertyList(emit, paths)
	case '(':
		return algebra.TermPattern{}, p.errorf("RDF collections are not supported")
	}
	return p.parseVarOrTerm()
}

// parseBlankNodePropertyList parses [ propertyList ] and returns the
// variable standing for the anonymous node.
func (p *Parser) parseBlankNodePropertyList(emit tripleSink, paths bool) (algebra.TermPattern, error) {
	p.advance() // skip '['
	node := p.anonymous()
	p.skipWhitespace()
	if p.match("]") {
		return node, nil
	}
	if err := p.parsePropertyList(node, emit, paths); err != nil {
		return algebra.TermPattern{}, err
	}
	if err := p.expect("]"); err != nil {
		return algebra.TermPattern{}, err
	}
	return node, nil
}

// anonymous allocates a blank node variable. The labels start with a
// character no written blank node label can start with.
func (p *Parser) anonymous() algebra.TermPattern {
	p.blanks++
	return algebra.TermPattern{Variable: algebra.BlankVariable("-" + strconv.Itoa(p.blanks))}
}

func (p *Parser) parseVerb(paths bool) (verb, error) {
	p.skipWhitespace()
	switch {
	case p.peek() == '?' || p.peek() == '$':
		v, err := p.parseVariable()
		if err != nil {
			return verb{}, err
		}
		return verb{term: algebra.TermPattern{Variable: v}}, nil
	case !paths:
		if p.atTypeKeyword() {
			p.advance()
			return verb{term: algebra.TermOf(rdf.RDFType)}, nil
		}
		iri, err := p.parseIRI()
		if err != nil {
			return verb{}, err
		}
		return verb{term: algebra.TermOf(iri)}, nil
	}

	path, err := p.parsePath()
	if err != nil {
		return verb{}, err
	}
	if step, ok := path.(*algebra.PathIRI); ok {
		return verb{term: algebra.TermOf(step.IRI)}, nil
	}
	return verb{path: path}, nil
}

// atTypeKeyword reports whether the next token is the keyword 'a'.
func (p *Parser) atTypeKeyword() bool {
	if p.peek() != 'a' {
		return false
	}
	next := p.peekAt(1)
	return !isNameChar(next) && next != ':' && next != '-' && next != '.'
}

// Property path grammar:
// Path → Sequence ( '|' Sequence )*
// Sequence → EltOrInverse ( '/' EltOrInverse )*
// EltOrInverse → '^'? Elt
// Elt → Primary ( '?' | '*' | '+' )?
// Primary → IRI | 'a' | '!' NegatedSet | '(' Path ')'

func (p *Parser) parsePath() (algebra.PropertyPath, error) {
	left, err := p.parsePathSequence()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWhitespace()
		if p.peek() != '|' || p.peekAt(1) == '|' {
			return left, nil
		}
		p.advance() // skip '|'
		right, err := p.parsePathSequence()
		if err != nil {
			return nil, err
		}
		left = &algebra.PathAlternative{Left: left, Right: right}
	}
}

func (p *Parser) parsePathSequence() (algebra.PropertyPath, error) {
	left, err := p.parsePathEltOrInverse()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWhitespace()
		if !p.match("/") {
			return left, nil
		}
		right, err := p.parsePathEltOrInverse()
		if err != nil {
			return nil, err
		}
		left = &algebra.PathSequence{Left: left, Right: right}
	}
}

func (p *Parser) parsePathEltOrInverse() (algebra.PropertyPath, error) {
	p.skipWhitespace()
	if p.match("^") {
		elt, err := p.parsePathElt()
		if err != nil {
			return nil, err
		}
		return &algebra.PathInverse{Path: elt}, nil
	}
	return p.parsePathElt()
}

func (p *Parser) parsePathElt() (algebra.PropertyPath, error) {
	primary, err := p.parsePathPrimary()
	if err != nil {
		return nil, err
	}
	// Modifiers follow the primary directly; '?' followed by a name is
	// the object variable instead.
	switch p.peek() {
	case '*':
		p.advance()
		return &algebra.PathZeroOrMore{Path: primary}, nil
	case '+':
		p.advance()
		return &algebra.PathOneOrMore{Path: primary}, nil
	case '?':
		if isNameChar(p.peekAt(1)) {
			return primary, nil
		}
		p.advance()
		return &algebra.PathZeroOrOne{Path: primary}, nil
	}
	return primary, nil
}

func (p *Parser) parsePathPrimary() (algebra.PropertyPath, error) {
	p.skipWhitespace()
	switch {
	case p.match("("):
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return path, nil
	case p.match("!"):
		return p.parseNegatedPropertySet()
	case p.atTypeKeyword():
		p.advance()
		return &algebra.PathIRI{IRI: rdf.RDFType}, nil
	}
	iri, err := p.parseIRI()
	if err != nil {
		return nil, err
	}
	return &algebra.PathIRI{IRI: iri}, nil
}

// parseNegatedPropertySet parses the set after '!': a single, possibly
// inverted, IRI or a parenthesized '|' list of them.
func (p *Parser) parseNegatedPropertySet() (algebra.PropertyPath, error) {
	set := &algebra.PathNegatedSet{}
	one := func() error {
		p.skipWhitespace()
		inverse := p.match("^")
		var iri *rdf.NamedNode
		if p.atTypeKeyword() {
			p.advance()
			iri = rdf.RDFType
		} else {
			var err error
			if iri, err = p.parseIRI(); err != nil {
				return err
			}
		}
		if inverse {
			set.Inverse = append(set.Inverse, iri)
		} else {
			set.Forward = append(set.Forward, iri)
		}
		return nil
	}

	p.skipWhitespace()
	if !p.match("(") {
		if err := one(); err != nil {
			return nil, err
		}
		return set, nil
	}
	p.skipWhitespace()
	if p.match(")") {
		return set, nil
	}
	for {
		if err := one(); err != nil {
			return nil, err
		}
		p.skipWhitespace()
		if p.match(")") {
			return set, nil
		}
		if !p.match("|") {
			return nil, p.errorf("expected '|' or ')' in negated property set")
		}
	}
}

// patternVariables returns the visible variables in scope of a pattern,
// in order of first appearance.
func patternVariables(pattern algebra.GraphPattern) []string {
	var out []string
	add := func(names ...string) {
		for _, name := range names {
			if algebra.IsHidden(name) {
				continue
			}
			seen := false
			for _, o := range out {
				if o == name {
					seen = true
					break
				}
			}
			if !seen {
				out = append(out, name)
			}
		}
	}
	termVar := func(t algebra.TermPattern) {
		if t.Variable != nil {
			add(t.Variable.Name)
		}
	}

	var walk func(algebra.GraphPattern)
	walk = func(pattern algebra.GraphPattern) {
		switch pt := pattern.(type) {
		case *algebra.BGP:
			for _, t := range pt.Patterns {
				add(t.Variables()...)
			}
		case *algebra.Path:
			termVar(pt.Subject)
			termVar(pt.Object)
		case *algebra.Join:
			walk(pt.Left)
			walk(pt.Right)
		case *algebra.LeftJoin:
			walk(pt.Left)
			walk(pt.Right)
		case *algebra.Union:
			walk(pt.Left)
			walk(pt.Right)
		case *algebra.Minus:
			walk(pt.Left)
		case *algebra.Filter:
			walk(pt.Inner)
		case *algebra.Extend:
			walk(pt.Inner)
			add(pt.Variable.Name)
		case *algebra.Graph:
			termVar(pt.Name)
			walk(pt.Inner)
		case *algebra.Values:
			for _, v := range pt.Variables {
				add(v.Name)
			}
		case *algebra.Group:
			for _, k := range pt.Keys {
				add(k.Name)
			}
			for _, a := range pt.Aggregates {
				add(a.Variable.Name)
			}
		case *algebra.Project:
			for _, v := range pt.Variables {
				add(v.Name)
			}
		case *algebra.OrderBy:
			walk(pt.Inner)
		case *algebra.Distinct:
			walk(pt.Inner)
		case *algebra.Reduced:
			walk(pt.Inner)
		case *algebra.Slice:
			walk(pt.Inner)
		}
	}
	walk(pattern)
	return out
}
