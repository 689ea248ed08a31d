package rdf

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// TurtleParser reads Turtle documents, and TriG documents when created with
// NewTriGParser. Triples outside a graph block go to the default graph.
type TurtleParser struct {
	sc       termScanner
	trig     bool
	base     *url.URL
	prefixes map[string]string
	graph    Term
	quads    []*Quad

	// labels maps document blank node labels to stored labels; used holds
	// every stored label so generated ones never collide.
	labels map[string]string
	used   map[string]bool
	anon   int
}

func NewTurtleParser(input string) *TurtleParser {
	return &TurtleParser{
		sc:       termScanner{input: input},
		prefixes: make(map[string]string),
		graph:    NewDefaultGraph(),
		labels:   make(map[string]string),
		used:     make(map[string]bool),
	}
}

func NewTriGParser(input string) *TurtleParser {
	p := NewTurtleParser(input)
	p.trig = true
	return p
}

// SetBaseURI sets the IRI relative references resolve against until an
// @base directive replaces it.
func (p *TurtleParser) SetBaseURI(base string) error {
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid base IRI %q: %w", base, err)
	}
	p.base = u
	return nil
}

// Parse parses the whole document and returns its quads in document order.
func (p *TurtleParser) Parse() ([]*Quad, error) {
	for {
		p.sc.skipSpace()
		if p.sc.pos >= len(p.sc.input) {
			return p.quads, nil
		}
		if err := p.statement(); err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line(), err)
		}
	}
}

// ParseTurtle is a shorthand for NewTurtleParser(input).Parse().
func ParseTurtle(input string) ([]*Quad, error) {
	return NewTurtleParser(input).Parse()
}

// ParseTriG is a shorthand for NewTriGParser(input).Parse().
func ParseTriG(input string) ([]*Quad, error) {
	return NewTriGParser(input).Parse()
}

func (p *TurtleParser) line() int {
	return strings.Count(p.sc.input[:min(p.sc.pos, len(p.sc.input))], "\n") + 1
}

func (p *TurtleParser) statement() error {
	switch {
	case strings.HasPrefix(p.sc.input[p.sc.pos:], "@prefix"):
		p.sc.pos += len("@prefix")
		return p.prefixDirective(true)
	case strings.HasPrefix(p.sc.input[p.sc.pos:], "@base"):
		p.sc.pos += len("@base")
		return p.baseDirective(true)
	case p.keyword("PREFIX", true):
		return p.prefixDirective(false)
	case p.keyword("BASE", true):
		return p.baseDirective(false)
	}
	if !p.trig {
		if err := p.triples(); err != nil {
			return err
		}
		return p.expect('.')
	}

	switch {
	case p.sc.peek() == '{':
		return p.block(NewDefaultGraph())
	case p.keyword("GRAPH", true):
		label, err := p.graphLabel()
		if err != nil {
			return err
		}
		return p.block(label)
	}

	lead := p.sc.peek()
	subject, props, err := p.subject()
	if err != nil {
		return err
	}
	p.sc.skipSpace()
	if p.sc.peek() == '{' {
		if props || lead == '(' {
			return fmt.Errorf("invalid graph label at offset %d", p.sc.pos)
		}
		return p.block(subject)
	}
	if err := p.predicateObjects(subject, props); err != nil {
		return err
	}
	return p.expect('.')
}

func (p *TurtleParser) prefixDirective(atForm bool) error {
	p.sc.skipSpace()
	start := p.sc.pos
	for p.sc.pos < len(p.sc.input) && p.sc.input[p.sc.pos] != ':' {
		r, size := utf8.DecodeRuneInString(p.sc.input[p.sc.pos:])
		if !isPrefixRune(r) {
			break
		}
		p.sc.pos += size
	}
	if p.sc.peek() != ':' {
		return fmt.Errorf("expected prefix name at offset %d", start)
	}
	prefix := p.sc.input[start:p.sc.pos]
	p.sc.pos++
	iri, err := p.iriRef()
	if err != nil {
		return err
	}
	p.prefixes[prefix] = iri
	if atForm {
		return p.expect('.')
	}
	return nil
}

func (p *TurtleParser) baseDirective(atForm bool) error {
	iri, err := p.iriRef()
	if err != nil {
		return err
	}
	if err := p.SetBaseURI(iri); err != nil {
		return err
	}
	if atForm {
		return p.expect('.')
	}
	return nil
}

// block parses the triples of a TriG graph block into graph.
func (p *TurtleParser) block(graph Term) error {
	if err := p.expect('{'); err != nil {
		return err
	}
	outer := p.graph
	p.graph = graph
	defer func() { p.graph = outer }()
	for {
		p.sc.skipSpace()
		if p.sc.peek() == '}' {
			p.sc.pos++
			return nil
		}
		if err := p.triples(); err != nil {
			return err
		}
		p.sc.skipSpace()
		switch p.sc.peek() {
		case '.':
			p.sc.pos++
		case '}':
		default:
			return fmt.Errorf("expected '.' or '}' at offset %d", p.sc.pos)
		}
	}
}

func (p *TurtleParser) graphLabel() (Term, error) {
	p.sc.skipSpace()
	switch p.sc.peek() {
	case '[':
		p.sc.pos++
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return p.freshBlank(), nil
	case '_':
		return p.blank()
	default:
		iri, err := p.iri()
		if err != nil {
			return nil, err
		}
		return NewNamedNode(iri), nil
	}
}

func (p *TurtleParser) triples() error {
	subject, props, err := p.subject()
	if err != nil {
		return err
	}
	return p.predicateObjects(subject, props)
}

// subject parses a subject. props reports a non-empty blank node property
// list, after which the predicate list is optional.
func (p *TurtleParser) subject() (Term, bool, error) {
	p.sc.skipSpace()
	switch p.sc.peek() {
	case '[':
		t, props, err := p.propertyList()
		return t, props, err
	case '(':
		t, err := p.collection()
		return t, false, err
	case '_':
		t, err := p.blank()
		return t, false, err
	case '"', '\'':
		return nil, false, fmt.Errorf("literal in subject position")
	default:
		iri, err := p.iri()
		if err != nil {
			return nil, false, err
		}
		return NewNamedNode(iri), false, nil
	}
}

func (p *TurtleParser) predicateObjects(subject Term, optional bool) error {
	p.sc.skipSpace()
	if optional {
		switch p.sc.peek() {
		case '.', '}', 0:
			return nil
		}
	}
	for {
		verb, err := p.verb()
		if err != nil {
			return err
		}
		if err := p.objects(subject, verb); err != nil {
			return err
		}
		p.sc.skipSpace()
		if p.sc.peek() != ';' {
			return nil
		}
		for p.sc.peek() == ';' {
			p.sc.pos++
			p.sc.skipSpace()
		}
		switch p.sc.peek() {
		case '.', ']', '}', 0:
			return nil
		}
	}
}

func (p *TurtleParser) verb() (Term, error) {
	p.sc.skipSpace()
	if p.keyword("a", false) {
		return RDFType, nil
	}
	iri, err := p.iri()
	if err != nil {
		return nil, fmt.Errorf("predicate: %w", err)
	}
	return NewNamedNode(iri), nil
}

func (p *TurtleParser) objects(subject, predicate Term) error {
	for {
		object, err := p.object()
		if err != nil {
			return err
		}
		p.quads = append(p.quads, NewQuad(subject, predicate, object, p.graph))
		p.sc.skipSpace()
		if p.sc.peek() != ',' {
			return nil
		}
		p.sc.pos++
	}
}

func (p *TurtleParser) object() (Term, error) {
	p.sc.skipSpace()
	switch ch := p.sc.peek(); {
	case ch == '[':
		t, _, err := p.propertyList()
		return t, err
	case ch == '(':
		return p.collection()
	case ch == '_':
		return p.blank()
	case ch == '"' || ch == '\'':
		return p.literal()
	case ch == '+' || ch == '-' || ch == '.' || (ch >= '0' && ch <= '9'):
		return p.number()
	case p.keyword("true", false):
		return NewLiteralWithDatatype("true", XSDBoolean), nil
	case p.keyword("false", false):
		return NewLiteralWithDatatype("false", XSDBoolean), nil
	case ch == 0:
		return nil, fmt.Errorf("unexpected end of input")
	default:
		iri, err := p.iri()
		if err != nil {
			return nil, err
		}
		return NewNamedNode(iri), nil
	}
}

func (p *TurtleParser) propertyList() (Term, bool, error) {
	p.sc.pos++ // '['
	node := p.freshBlank()
	p.sc.skipSpace()
	if p.sc.peek() == ']' {
		p.sc.pos++
		return node, false, nil
	}
	if err := p.predicateObjects(node, false); err != nil {
		return nil, false, err
	}
	if err := p.expect(']'); err != nil {
		return nil, false, err
	}
	return node, true, nil
}

func (p *TurtleParser) collection() (Term, error) {
	p.sc.pos++ // '('
	var head, prev Term = RDFNil, nil
	for {
		p.sc.skipSpace()
		if p.sc.peek() == ')' {
			p.sc.pos++
			break
		}
		item, err := p.object()
		if err != nil {
			return nil, err
		}
		node := p.freshBlank()
		if prev == nil {
			head = node
		} else {
			p.quads = append(p.quads, NewQuad(prev, RDFRest, node, p.graph))
		}
		p.quads = append(p.quads, NewQuad(node, RDFFirst, item, p.graph))
		prev = node
	}
	if prev != nil {
		p.quads = append(p.quads, NewQuad(prev, RDFRest, RDFNil, p.graph))
	}
	return head, nil
}

func (p *TurtleParser) blank() (Term, error) {
	t, err := p.sc.blankNode()
	if err != nil {
		return nil, err
	}
	label := t.(*BlankNode).ID
	if stored, ok := p.labels[label]; ok {
		return NewBlankNode(stored), nil
	}
	stored := label
	if p.used[stored] {
		stored = p.freshBlank().ID
	} else {
		p.used[stored] = true
	}
	p.labels[label] = stored
	return NewBlankNode(stored), nil
}

func (p *TurtleParser) freshBlank() *BlankNode {
	for {
		p.anon++
		id := fmt.Sprintf("anon%d", p.anon)
		if !p.used[id] {
			p.used[id] = true
			return NewBlankNode(id)
		}
	}
}

// iri parses an IRI reference or a prefixed name and returns the absolute IRI.
func (p *TurtleParser) iri() (string, error) {
	p.sc.skipSpace()
	if p.sc.peek() == '<' {
		return p.iriRef()
	}
	return p.prefixedName()
}

func (p *TurtleParser) iriRef() (string, error) {
	p.sc.skipSpace()
	if p.sc.peek() != '<' {
		return "", fmt.Errorf("expected IRI at offset %d", p.sc.pos)
	}
	ref, err := p.sc.iri()
	if err != nil {
		return "", err
	}
	return p.resolve(ref)
}

func (p *TurtleParser) resolve(ref string) (string, error) {
	if p.base == nil || hasScheme(ref) {
		return ref, nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid IRI %q: %w", ref, err)
	}
	return p.base.ResolveReference(u).String(), nil
}

func hasScheme(iri string) bool {
	for i := 0; i < len(iri); i++ {
		ch := iri[i]
		switch {
		case ch == ':':
			return i > 0
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case i > 0 && (ch >= '0' && ch <= '9' || ch == '+' || ch == '-' || ch == '.'):
		default:
			return false
		}
	}
	return false
}

func (p *TurtleParser) prefixedName() (string, error) {
	start := p.sc.pos
	for p.sc.pos < len(p.sc.input) && p.sc.input[p.sc.pos] != ':' {
		r, size := utf8.DecodeRuneInString(p.sc.input[p.sc.pos:])
		if !isPrefixRune(r) {
			break
		}
		p.sc.pos += size
	}
	if p.sc.peek() != ':' {
		p.sc.pos = start
		return "", fmt.Errorf("unexpected character %q at offset %d", p.sc.peek(), start)
	}
	prefix := p.sc.input[start:p.sc.pos]
	p.sc.pos++
	ns, ok := p.prefixes[prefix]
	if !ok {
		return "", fmt.Errorf("undefined prefix %q", prefix)
	}

	var local strings.Builder
	for p.sc.pos < len(p.sc.input) {
		ch := p.sc.input[p.sc.pos]
		if ch == '\\' && p.sc.pos+1 < len(p.sc.input) && strings.IndexByte("_~.-!$&'()*+,;=/?#@%", p.sc.input[p.sc.pos+1]) >= 0 {
			local.WriteByte(p.sc.input[p.sc.pos+1])
			p.sc.pos += 2
			continue
		}
		if ch == '%' {
			if p.sc.pos+2 >= len(p.sc.input) || !isHex(p.sc.input[p.sc.pos+1]) || !isHex(p.sc.input[p.sc.pos+2]) {
				return "", fmt.Errorf("invalid percent escape at offset %d", p.sc.pos)
			}
			local.WriteString(p.sc.input[p.sc.pos : p.sc.pos+3])
			p.sc.pos += 3
			continue
		}
		r, size := utf8.DecodeRuneInString(p.sc.input[p.sc.pos:])
		if !isLabelRune(r) {
			break
		}
		local.WriteRune(r)
		p.sc.pos += size
	}
	// a local name cannot end with '.'
	name := local.String()
	for strings.HasSuffix(name, ".") && p.sc.input[p.sc.pos-1] == '.' && p.sc.input[p.sc.pos-2] != '\\' {
		name = name[:len(name)-1]
		p.sc.pos--
	}
	return ns + name, nil
}

func isPrefixRune(r rune) bool {
	return r != ':' && isLabelRune(r)
}

func isHex(ch byte) bool {
	return ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}

// keyword consumes word when it stands alone at the cursor.
func (p *TurtleParser) keyword(word string, fold bool) bool {
	rest := p.sc.input[p.sc.pos:]
	if len(rest) < len(word) {
		return false
	}
	head := rest[:len(word)]
	if head != word && !(fold && strings.EqualFold(head, word)) {
		return false
	}
	if len(rest) > len(word) {
		r, _ := utf8.DecodeRuneInString(rest[len(word):])
		if isLabelRune(r) {
			return false
		}
	}
	p.sc.pos += len(word)
	return true
}

func (p *TurtleParser) expect(ch byte) error {
	p.sc.skipSpace()
	if p.sc.peek() != ch {
		if p.sc.peek() == 0 {
			return fmt.Errorf("expected %q, found end of input", ch)
		}
		return fmt.Errorf("expected %q at offset %d, found %q", ch, p.sc.pos, p.sc.peek())
	}
	p.sc.pos++
	return nil
}

func (p *TurtleParser) number() (Term, error) {
	in := p.sc.input
	start := p.sc.pos
	pos := start
	digits := func() int {
		n := 0
		for pos < len(in) && in[pos] >= '0' && in[pos] <= '9' {
			pos++
			n++
		}
		return n
	}
	if pos < len(in) && (in[pos] == '+' || in[pos] == '-') {
		pos++
	}
	whole := digits()
	datatype := XSDInteger
	if pos+1 < len(in) && in[pos] == '.' && in[pos+1] >= '0' && in[pos+1] <= '9' {
		pos++
		digits()
		datatype = XSDDecimal
	} else if whole == 0 && !(pos < len(in) && (in[pos] == 'e' || in[pos] == 'E')) {
		return nil, fmt.Errorf("invalid number at offset %d", start)
	}
	if pos < len(in) && (in[pos] == 'e' || in[pos] == 'E') {
		pos++
		if pos < len(in) && (in[pos] == '+' || in[pos] == '-') {
			pos++
		}
		if digits() == 0 {
			return nil, fmt.Errorf("invalid exponent at offset %d", start)
		}
		datatype = XSDDouble
	}
	p.sc.pos = pos
	return NewLiteralWithDatatype(in[start:pos], datatype), nil
}

func (p *TurtleParser) literal() (Term, error) {
	value, err := p.quoted()
	if err != nil {
		return nil, err
	}
	switch {
	case p.sc.peek() == '@':
		p.sc.pos++
		start := p.sc.pos
		for p.sc.pos < len(p.sc.input) {
			ch := p.sc.input[p.sc.pos]
			if ch == '-' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
				p.sc.pos++
				continue
			}
			break
		}
		if p.sc.pos == start {
			return nil, fmt.Errorf("empty language tag")
		}
		return NewLiteralWithLanguage(value, p.sc.input[start:p.sc.pos]), nil
	case strings.HasPrefix(p.sc.input[p.sc.pos:], "^^"):
		p.sc.pos += 2
		dt, err := p.iri()
		if err != nil {
			return nil, fmt.Errorf("datatype: %w", err)
		}
		return NewLiteralWithDatatype(value, NewNamedNode(dt)), nil
	default:
		return NewLiteral(value), nil
	}
}

// quoted reads a short or long string in either quote style.
func (p *TurtleParser) quoted() (string, error) {
	in := p.sc.input
	q := in[p.sc.pos]
	long := strings.HasPrefix(in[p.sc.pos:], strings.Repeat(string(q), 3))
	if long {
		p.sc.pos += 3
	} else {
		p.sc.pos++
	}
	var sb strings.Builder
	for p.sc.pos < len(in) {
		ch := in[p.sc.pos]
		switch {
		case ch == q && !long:
			p.sc.pos++
			return sb.String(), nil
		case ch == q && strings.HasPrefix(in[p.sc.pos:], strings.Repeat(string(q), 3)):
			// up to two quotes may directly precede the closing delimiter
			p.sc.pos += 3
			for p.sc.pos < len(in) && in[p.sc.pos] == q {
				sb.WriteByte(q)
				p.sc.pos++
			}
			return sb.String(), nil
		case ch == '\\':
			if p.sc.pos+1 >= len(in) {
				return "", fmt.Errorf("unterminated escape")
			}
			switch esc := in[p.sc.pos+1]; esc {
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 'f':
				sb.WriteByte('\f')
			case '"', '\'', '\\':
				sb.WriteByte(esc)
			case 'u', 'U':
				r, err := p.sc.unicodeEscape()
				if err != nil {
					return "", err
				}
				sb.WriteRune(r)
				continue
			default:
				return "", fmt.Errorf("invalid escape \\%c", esc)
			}
			p.sc.pos += 2
		case !long && (ch == '\n' || ch == '\r'):
			return "", fmt.Errorf("line break in short string at offset %d", p.sc.pos)
		default:
			sb.WriteByte(ch)
			p.sc.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}
