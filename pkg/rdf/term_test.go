package rdf

import (
	"math"
	"testing"
)

// ===== NamedNode Tests =====

func TestNamedNode_String(t *testing.T) {
	node := NewNamedNode("http://example.org/resource")
	expected := "<http://example.org/resource>"
	if node.String() != expected {
		t.Errorf("Expected %s, got %s", expected, node.String())
	}
}

func TestNamedNode_Equals(t *testing.T) {
	node1 := NewNamedNode("http://example.org/resource")
	node2 := NewNamedNode("http://example.org/resource")
	node3 := NewNamedNode("http://example.org/different")

	if !node1.Equals(node2) {
		t.Error("Expected equal NamedNodes to be equal")
	}
	if node1.Equals(node3) {
		t.Error("Expected different NamedNodes to not be equal")
	}
	if node1.Equals(NewLiteral("http://example.org/resource")) {
		t.Error("NamedNode should not equal Literal")
	}
}

// ===== BlankNode Tests =====

func TestBlankNode_Equals(t *testing.T) {
	if !NewBlankNode("b1").Equals(NewBlankNode("b1")) {
		t.Error("Expected equal BlankNodes to be equal")
	}
	if NewBlankNode("b1").Equals(NewNamedNode("b1")) {
		t.Error("BlankNode should not equal NamedNode")
	}
}

// ===== Literal Tests =====

func TestLiteral_String(t *testing.T) {
	tests := []struct {
		name     string
		literal  *Literal
		expected string
	}{
		{"simple", NewLiteral("hello"), `"hello"`},
		{"language", NewLiteralWithLanguage("hello", "EN"), `"hello"@en`},
		{"typed", NewLiteralWithDatatype("42", XSDInteger), `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`},
		{"xsd string collapses", NewLiteralWithDatatype("x", XSDString), `"x"`},
		{"escapes", NewLiteral("a\"b\nc"), `"a\"b\nc"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.literal.String(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestLiteral_Equals(t *testing.T) {
	if !NewLiteral("a").Equals(&Literal{Value: "a", Datatype: XSDString}) {
		t.Error("simple literal should equal explicit xsd:string literal")
	}
	if NewLiteral("a").Equals(NewLiteralWithLanguage("a", "en")) {
		t.Error("simple literal should not equal language-tagged literal")
	}
	if NewLiteralWithDatatype("1", XSDInteger).Equals(NewLiteralWithDatatype("01", XSDInteger)) {
		t.Error("term equality is syntactic")
	}
	if NewLiteral("").DatatypeIRI() != XSDString.IRI {
		t.Error("empty literal should still be xsd:string")
	}
}

func TestQuad_String(t *testing.T) {
	s := NewNamedNode("http://example.org/s")
	p := NewNamedNode("http://example.org/p")
	o := NewLiteral("o")

	if got := NewQuad(s, p, o, nil).String(); got != `<http://example.org/s> <http://example.org/p> "o" .` {
		t.Errorf("unexpected default graph quad %s", got)
	}
	g := NewNamedNode("http://example.org/g")
	if got := NewQuad(s, p, o, g).String(); got != `<http://example.org/s> <http://example.org/p> "o" <http://example.org/g> .` {
		t.Errorf("unexpected named graph quad %s", got)
	}
}

func TestFormatDouble(t *testing.T) {
	tests := map[float64]string{
		1:            "1.0E0",
		2.5:          "2.5E0",
		100:          "1.0E2",
		-0.0025:      "-2.5E-3",
		0:            "0.0E0",
		math.Inf(1):  "INF",
		math.Inf(-1): "-INF",
	}
	for in, expected := range tests {
		if got := FormatDouble(in); got != expected {
			t.Errorf("FormatDouble(%v): expected %s, got %s", in, expected, got)
		}
	}
	if FormatDouble(math.NaN()) != "NaN" {
		t.Error("expected NaN")
	}
}

func TestParseTerm_RoundTrip(t *testing.T) {
	terms := []Term{
		NewNamedNode("http://example.org/a"),
		NewBlankNode("b0"),
		NewLiteral(""),
		NewLiteral("tab\tquote\"slash\\"),
		NewLiteralWithLanguage("chat", "fr-ca"),
		NewLiteralWithDatatype("42", XSDInteger),
		NewLiteralWithDatatype("x", NewNamedNode("http://example.org/dt")),
	}
	for _, term := range terms {
		parsed, err := ParseTerm(term.String())
		if err != nil {
			t.Fatalf("ParseTerm(%s): %v", term, err)
		}
		if !parsed.Equals(term) {
			t.Errorf("round trip mismatch: %s != %s", parsed, term)
		}
	}
}

func TestParseTerm_Errors(t *testing.T) {
	for _, input := range []string{"", "<unterminated", `"open`, "_:", `"x"^^foo`, "<a> trailing"} {
		if _, err := ParseTerm(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestParseNQuads(t *testing.T) {
	input := `# comment
<http://example.org/s> <http://example.org/p> "v"@en .
<http://example.org/s> <http://example.org/p> _:b1 <http://example.org/g> .
`
	quads, err := ParseNQuads(input)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(quads) != 2 {
		t.Fatalf("expected 2 quads, got %d", len(quads))
	}
	if !quads[0].InDefaultGraph() {
		t.Error("first quad should be in the default graph")
	}
	if !quads[1].Graph.Equals(NewNamedNode("http://example.org/g")) {
		t.Errorf("unexpected graph %s", quads[1].Graph)
	}

	if _, err := ParseNQuads(`"lit" <http://example.org/p> <http://example.org/o> .`); err == nil {
		t.Error("expected error for literal subject")
	}
}
