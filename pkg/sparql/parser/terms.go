package parser

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
)

// parseVarOrTerm parses a variable, IRI, literal or blank node. Blank
// nodes become hidden variables.
func (p *Parser) parseVarOrTerm() (algebra.TermPattern, error) {
	p.skipWhitespace()
	c := p.peek()
	switch {
	case c == '?' || c == '$':
		v, err := p.parseVariable()
		if err != nil {
			return algebra.TermPattern{}, err
		}
		return algebra.TermPattern{Variable: v}, nil
	case c == '"' || c == '\'':
		lit, err := p.parseRDFLiteral()
		if err != nil {
			return algebra.TermPattern{}, err
		}
		return algebra.TermOf(lit), nil
	case c == '_' && p.peekAt(1) == ':':
		p.pos += 2
		label := p.readWhile(isLocalChar)
		for strings.HasSuffix(label, ".") {
			label = label[:len(label)-1]
			p.pos--
		}
		if label == "" {
			return algebra.TermPattern{}, p.errorf("expected blank node label")
		}
		return algebra.TermPattern{Variable: algebra.BlankVariable(label)}, nil
	case c == '[':
		p.advance() // skip '['
		if err := p.expect("]"); err != nil {
			return algebra.TermPattern{}, err
		}
		return p.anonymous(), nil
	case isDigit(c) || c == '+' || c == '-' || c == '.' && isDigit(p.peekAt(1)):
		lit, err := p.parseNumericLiteral()
		if err != nil {
			return algebra.TermPattern{}, err
		}
		return algebra.TermOf(lit), nil
	case p.matchKeyword("true"):
		return algebra.TermOf(rdf.NewBooleanLiteral(true)), nil
	case p.matchKeyword("false"):
		return algebra.TermOf(rdf.NewBooleanLiteral(false)), nil
	}
	iri, err := p.parseIRI()
	if err != nil {
		return algebra.TermPattern{}, err
	}
	return algebra.TermOf(iri), nil
}

// parseVarOrIRI parses a variable or an IRI, as in GRAPH and DESCRIBE.
func (p *Parser) parseVarOrIRI() (algebra.TermPattern, error) {
	p.skipWhitespace()
	if c := p.peek(); c == '?' || c == '$' {
		v, err := p.parseVariable()
		if err != nil {
			return algebra.TermPattern{}, err
		}
		return algebra.TermPattern{Variable: v}, nil
	}
	iri, err := p.parseIRI()
	if err != nil {
		return algebra.TermPattern{}, err
	}
	return algebra.TermOf(iri), nil
}

func (p *Parser) parseVariable() (*algebra.Variable, error) {
	if c := p.peek(); c != '?' && c != '$' {
		return nil, p.errorf("expected variable")
	}
	p.advance() // skip '?' or '$'
	name := p.readWhile(isNameChar)
	if name == "" {
		return nil, p.errorf("expected variable name")
	}
	return algebra.NewVariable(name), nil
}

// parseIRI parses <iri> or a prefixed name.
func (p *Parser) parseIRI() (*rdf.NamedNode, error) {
	if p.peek() == '<' {
		iri, err := p.parseIRIRef()
		if err != nil {
			return nil, err
		}
		return rdf.NewNamedNode(iri), nil
	}
	if !p.atPrefixedName() {
		return nil, p.errorf("expected IRI, found %q", p.snippet())
	}
	iri, err := p.parsePrefixedName()
	if err != nil {
		return nil, err
	}
	return rdf.NewNamedNode(iri), nil
}

// parseIRIRef parses <...> and resolves it against the base IRI.
func (p *Parser) parseIRIRef() (string, error) {
	if p.peek() != '<' {
		return "", p.errorf("expected '<' to start IRI")
	}
	p.advance() // skip '<'

	start := p.pos
	for p.pos < p.length && p.input[p.pos] != '>' {
		if c := p.input[p.pos]; c == ' ' || c == '\n' || c == '<' || c == '"' || c == '{' || c == '}' {
			return "", p.errorf("invalid character %q in IRI", c)
		}
		p.advance()
	}
	if p.pos >= p.length {
		return "", p.errorf("expected '>' to end IRI")
	}
	iri := p.input[start:p.pos]
	p.advance() // skip '>'

	return p.resolveIRI(iri), nil
}

// atPrefixedName reports whether a prefixed name such as ex:foo or :foo
// starts at the current position.
func (p *Parser) atPrefixedName() bool {
	i := p.pos
	for i < p.length && isPrefixChar(p.input[i]) {
		i++
	}
	return i < p.length && p.input[i] == ':'
}

// parsePrefixedName parses a prefixed name (like :foo or prefix:foo) and
// expands it to a full IRI
func (p *Parser) parsePrefixedName() (string, error) {
	prefix := p.readWhile(isPrefixChar)
	if p.peek() != ':' {
		return "", p.errorf("expected ':' in prefixed name")
	}
	p.advance() // skip ':'

	var local strings.Builder
	for p.pos < p.length {
		c := p.input[p.pos]
		if c == '\\' && p.pos+1 < p.length {
			local.WriteByte(p.input[p.pos+1])
			p.pos += 2
			continue
		}
		if !isLocalChar(c) && c != ':' && c != '%' {
			break
		}
		local.WriteByte(c)
		p.pos++
	}
	// The local part cannot end with '.'
	name := local.String()
	for strings.HasSuffix(name, ".") {
		name = name[:len(name)-1]
		p.pos--
	}

	namespace, ok := p.prefixes[prefix]
	if !ok {
		return "", p.errorf("undefined prefix: '%s'", prefix)
	}
	return namespace + name, nil
}

// parseRDFLiteral parses a string with an optional language tag or
// datatype.
func (p *Parser) parseRDFLiteral() (*rdf.Literal, error) {
	lex, err := p.parseString()
	if err != nil {
		return nil, err
	}
	if p.peek() == '@' {
		p.advance() // skip '@'
		lang := p.readWhile(func(c byte) bool { return isAlpha(c) || isDigit(c) || c == '-' })
		if lang == "" {
			return nil, p.errorf("expected language tag")
		}
		return rdf.NewLiteralWithLanguage(lex, strings.ToLower(lang)), nil
	}
	if p.match("^^") {
		datatype, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return rdf.NewLiteralWithDatatype(lex, datatype), nil
	}
	return rdf.NewLiteral(lex), nil
}

// parseString parses a quoted string in any of the four quote styles and
// decodes its escapes.
func (p *Parser) parseString() (string, error) {
	quote := p.peek()
	triple := strings.Repeat(string(quote), 3)
	long := strings.HasPrefix(p.input[p.pos:], triple)
	if long {
		p.pos += 3
	} else {
		p.advance()
	}

	var sb strings.Builder
	for {
		if p.pos >= p.length {
			return "", p.errorf("unterminated string literal")
		}
		c := p.input[p.pos]
		switch {
		case c == '\\':
			if err := p.parseEscape(&sb); err != nil {
				return "", err
			}
		case long && strings.HasPrefix(p.input[p.pos:], triple):
			p.pos += 3
			return sb.String(), nil
		case !long && c == quote:
			p.advance()
			return sb.String(), nil
		case !long && (c == '\n' || c == '\r'):
			return "", p.errorf("line break in string literal")
		default:
			sb.WriteByte(c)
			p.pos++
		}
	}
}

func (p *Parser) parseEscape(sb *strings.Builder) error {
	p.advance() // skip '\'
	c := p.peek()
	p.advance()
	switch c {
	case 't':
		sb.WriteByte('\t')
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case '"', '\'', '\\':
		sb.WriteByte(c)
	case 'u', 'U':
		width := 4
		if c == 'U' {
			width = 8
		}
		if p.pos+width > p.length {
			return p.errorf("truncated unicode escape")
		}
		code, err := strconv.ParseUint(p.input[p.pos:p.pos+width], 16, 32)
		if err != nil {
			return p.errorf("invalid unicode escape %q", p.input[p.pos:p.pos+width])
		}
		p.pos += width
		sb.WriteRune(rune(code))
	default:
		return p.errorf("invalid escape '\\%c'", c)
	}
	return nil
}

// parseNumericLiteral parses an optionally signed integer, decimal or
// double.
func (p *Parser) parseNumericLiteral() (*rdf.Literal, error) {
	start := p.pos
	if c := p.peek(); c == '+' || c == '-' {
		p.advance()
	}
	digits := p.readWhile(isDigit)

	datatype := rdf.XSDInteger
	// A '.' without following digits ends the triple instead
	if p.peek() == '.' && isDigit(p.peekAt(1)) {
		p.advance()
		p.readWhile(isDigit)
		datatype = rdf.XSDDecimal
	}
	if c := p.peek(); c == 'e' || c == 'E' {
		mark := p.pos
		p.advance()
		if c := p.peek(); c == '+' || c == '-' {
			p.advance()
		}
		if p.readWhile(isDigit) == "" {
			p.pos = mark
		} else {
			datatype = rdf.XSDDouble
		}
	}

	if digits == "" && datatype == rdf.XSDInteger {
		p.pos = start
		return nil, p.errorf("expected number")
	}
	return rdf.NewLiteralWithDatatype(p.input[start:p.pos], datatype), nil
}

// resolveIRI resolves a potentially relative IRI against the BASE URI
func (p *Parser) resolveIRI(iri string) string {
	if p.baseURI == "" || isAbsoluteIRI(iri) {
		return iri
	}
	base, err := url.Parse(p.baseURI)
	if err != nil {
		return p.baseURI + iri
	}
	ref, err := url.Parse(iri)
	if err != nil {
		return p.baseURI + iri
	}
	return base.ResolveReference(ref).String()
}

// isAbsoluteIRI checks if an IRI is absolute (has a scheme)
func isAbsoluteIRI(iri string) bool {
	colon := strings.IndexByte(iri, ':')
	if colon <= 0 {
		return false
	}
	for i := 0; i < colon; i++ {
		c := iri[i]
		if !isAlpha(c) && (i == 0 || !isDigit(c) && c != '+' && c != '-' && c != '.') {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// isNameChar matches variable name characters. Bytes of multi-byte UTF-8
// sequences are accepted as a whole.
func isNameChar(c byte) bool {
	return isAlpha(c) || isDigit(c) || c == '_' || c >= 0x80
}

func isPrefixChar(c byte) bool {
	return isNameChar(c) || c == '-' || c == '.'
}

func isLocalChar(c byte) bool {
	return isNameChar(c) || c == '-' || c == '.'
}
