package rdf

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseTerm parses a single term in N-Triples syntax: <iri>, _:label or a
// literal with optional @lang or ^^<datatype>.
func ParseTerm(s string) (Term, error) {
	sc := &termScanner{input: s}
	term, err := sc.term()
	if err != nil {
		return nil, err
	}
	sc.skipSpace()
	if sc.pos != len(sc.input) {
		return nil, fmt.Errorf("unexpected trailing input at offset %d in %q", sc.pos, s)
	}
	return term, nil
}

// EscapeLiteral escapes a lexical form for use inside double quotes.
func EscapeLiteral(s string) string {
	if !strings.ContainsAny(s, "\\\"\n\r\t") {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func escapeIRI(iri string) string {
	if !strings.ContainsAny(iri, "<>\"{}|^`\\ ") {
		return iri
	}
	var sb strings.Builder
	for _, r := range iri {
		if strings.ContainsRune("<>\"{}|^`\\ ", r) {
			fmt.Fprintf(&sb, "\\u%04X", r)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// termScanner is a cursor over N-Triples/N-Quads input.
type termScanner struct {
	input string
	pos   int
}

func (s *termScanner) skipSpace() {
	for s.pos < len(s.input) {
		switch s.input[s.pos] {
		case ' ', '\t', '\r', '\n':
			s.pos++
		case '#':
			for s.pos < len(s.input) && s.input[s.pos] != '\n' {
				s.pos++
			}
		default:
			return
		}
	}
}

func (s *termScanner) peek() byte {
	if s.pos >= len(s.input) {
		return 0
	}
	return s.input[s.pos]
}

func (s *termScanner) term() (Term, error) {
	s.skipSpace()
	switch s.peek() {
	case '<':
		iri, err := s.iri()
		if err != nil {
			return nil, err
		}
		return NewNamedNode(iri), nil
	case '_':
		return s.blankNode()
	case '"':
		return s.literal()
	case 0:
		return nil, fmt.Errorf("unexpected end of input")
	default:
		return nil, fmt.Errorf("unexpected character %q at offset %d", s.peek(), s.pos)
	}
}

func (s *termScanner) iri() (string, error) {
	s.pos++ // '<'
	var sb strings.Builder
	for s.pos < len(s.input) {
		ch := s.input[s.pos]
		switch ch {
		case '>':
			s.pos++
			return sb.String(), nil
		case '\\':
			r, err := s.unicodeEscape()
			if err != nil {
				return "", err
			}
			sb.WriteRune(r)
		case ' ', '\n', '\r', '\t', '<', '"':
			return "", fmt.Errorf("invalid character %q in IRI at offset %d", ch, s.pos)
		default:
			sb.WriteByte(ch)
			s.pos++
		}
	}
	return "", fmt.Errorf("unterminated IRI")
}

func (s *termScanner) blankNode() (Term, error) {
	if !strings.HasPrefix(s.input[s.pos:], "_:") {
		return nil, fmt.Errorf("invalid blank node at offset %d", s.pos)
	}
	s.pos += 2
	start := s.pos
	for s.pos < len(s.input) {
		r, size := utf8.DecodeRuneInString(s.input[s.pos:])
		if !isLabelRune(r) {
			break
		}
		s.pos += size
	}
	// a label cannot end with '.'
	for s.pos > start && s.input[s.pos-1] == '.' {
		s.pos--
	}
	if s.pos == start {
		return nil, fmt.Errorf("empty blank node label at offset %d", start)
	}
	return NewBlankNode(s.input[start:s.pos]), nil
}

func isLabelRune(r rune) bool {
	return r == '_' || r == '-' || r == '.' || r == ':' ||
		(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		r == 0xB7 || r > 0x7F && r != utf8.RuneError
}

func (s *termScanner) literal() (Term, error) {
	s.pos++ // opening quote
	var sb strings.Builder
	closed := false
	for s.pos < len(s.input) && !closed {
		ch := s.input[s.pos]
		switch ch {
		case '"':
			s.pos++
			closed = true
		case '\\':
			if s.pos+1 >= len(s.input) {
				return nil, fmt.Errorf("unterminated escape")
			}
			switch esc := s.input[s.pos+1]; esc {
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
				r, err := s.unicodeEscape()
				if err != nil {
					return nil, err
				}
				sb.WriteRune(r)
				continue
			default:
				return nil, fmt.Errorf("invalid escape \\%c", esc)
			}
			s.pos += 2
		default:
			sb.WriteByte(ch)
			s.pos++
		}
	}
	if !closed {
		return nil, fmt.Errorf("unterminated literal")
	}
	value := sb.String()
	switch {
	case s.peek() == '@':
		s.pos++
		start := s.pos
		for s.pos < len(s.input) {
			ch := s.input[s.pos]
			if ch == '-' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9') {
				s.pos++
				continue
			}
			break
		}
		if s.pos == start {
			return nil, fmt.Errorf("empty language tag")
		}
		return NewLiteralWithLanguage(value, s.input[start:s.pos]), nil
	case strings.HasPrefix(s.input[s.pos:], "^^"):
		s.pos += 2
		if s.peek() != '<' {
			return nil, fmt.Errorf("expected datatype IRI at offset %d", s.pos)
		}
		dt, err := s.iri()
		if err != nil {
			return nil, err
		}
		return NewLiteralWithDatatype(value, NewNamedNode(dt)), nil
	default:
		return NewLiteral(value), nil
	}
}

// unicodeEscape decodes \uXXXX or \UXXXXXXXX at the cursor.
func (s *termScanner) unicodeEscape() (rune, error) {
	if s.pos+1 >= len(s.input) {
		return 0, fmt.Errorf("unterminated escape")
	}
	width := 0
	switch s.input[s.pos+1] {
	case 'u':
		width = 4
	case 'U':
		width = 8
	default:
		return 0, fmt.Errorf("invalid escape \\%c", s.input[s.pos+1])
	}
	start := s.pos + 2
	if start+width > len(s.input) {
		return 0, fmt.Errorf("truncated unicode escape")
	}
	code, err := strconv.ParseUint(s.input[start:start+width], 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid unicode escape: %w", err)
	}
	s.pos = start + width
	return rune(code), nil
}
