package rdf

import (
	"strings"
	"testing"
)

const ex = "http://example.org/"

func iri(local string) *NamedNode { return NewNamedNode(ex + local) }

func hasQuad(quads []*Quad, want *Quad) bool {
	for _, q := range quads {
		if q.Subject.Equals(want.Subject) && q.Predicate.Equals(want.Predicate) &&
			q.Object.Equals(want.Object) && q.Graph.Equals(want.Graph) {
			return true
		}
	}
	return false
}

func TestParseTurtle_Directives(t *testing.T) {
	input := `@prefix ex: <http://example.org/> .
PREFIX foaf: <http://xmlns.com/foaf/0.1/>
@base <http://example.org/people/> .

<alice> a foaf:Person ;
    foaf:knows <bob>, <../carol> ;
    ex:age 42 ;
    ex:height 1.75 ;
    ex:mass 6.2E1 ;
    ex:member true .
BASE <http://other.org/>
<x> ex:p ex:local.name .
`
	quads, err := ParseTurtle(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	alice := NewNamedNode("http://example.org/people/alice")
	foaf := "http://xmlns.com/foaf/0.1/"
	want := []*Quad{
		NewQuad(alice, RDFType, NewNamedNode(foaf+"Person"), nil),
		NewQuad(alice, NewNamedNode(foaf+"knows"), NewNamedNode("http://example.org/people/bob"), nil),
		NewQuad(alice, NewNamedNode(foaf+"knows"), NewNamedNode("http://example.org/carol"), nil),
		NewQuad(alice, iri("age"), NewLiteralWithDatatype("42", XSDInteger), nil),
		NewQuad(alice, iri("height"), NewLiteralWithDatatype("1.75", XSDDecimal), nil),
		NewQuad(alice, iri("mass"), NewLiteralWithDatatype("6.2E1", XSDDouble), nil),
		NewQuad(alice, iri("member"), NewLiteralWithDatatype("true", XSDBoolean), nil),
		NewQuad(NewNamedNode("http://other.org/x"), iri("p"), iri("local.name"), nil),
	}
	if len(quads) != len(want) {
		t.Fatalf("Expected %d quads, got %d: %v", len(want), len(quads), quads)
	}
	for _, w := range want {
		if !hasQuad(quads, w) {
			t.Errorf("missing %s", w)
		}
	}
	for _, q := range quads {
		if !q.InDefaultGraph() {
			t.Errorf("Turtle quad outside the default graph: %s", q)
		}
	}
}

func TestParseTurtle_Literals(t *testing.T) {
	input := `@prefix ex: <http://example.org/> .
@prefix xsd: <http://www.w3.org/2001/XMLSchema#> .
ex:s ex:p "plain", 'single', "chat"@fr, "5"^^xsd:int, "7"^^<http://example.org/dt> ,
    """long "quoted"
text""", '''it's''', "tab\thereé", -3, .5 .
`
	quads, err := ParseTurtle(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Term{
		NewLiteral("plain"),
		NewLiteral("single"),
		NewLiteralWithLanguage("chat", "fr"),
		NewLiteralWithDatatype("5", XSDInt),
		NewLiteralWithDatatype("7", iri("dt")),
		NewLiteral("long \"quoted\"\ntext"),
		NewLiteral("it's"),
		NewLiteral("tab\thereé"),
		NewLiteralWithDatatype("-3", XSDInteger),
		NewLiteralWithDatatype(".5", XSDDecimal),
	}
	if len(quads) != len(want) {
		t.Fatalf("Expected %d quads, got %d", len(want), len(quads))
	}
	for i, w := range want {
		if !quads[i].Object.Equals(w) {
			t.Errorf("object %d: expected %s, got %s", i, w, quads[i].Object)
		}
	}
}

func TestParseTurtle_BlankNodesAndCollections(t *testing.T) {
	input := `@prefix ex: <http://example.org/> .
[ ex:name "anon" ] ex:knows _:anon1 .
_:anon1 ex:list ( ex:a "b" ) ; ex:empty () .
[ ex:only 1 ] .
`
	quads, err := ParseTurtle(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// name, knows, list, empty and only, plus first and rest per item
	if len(quads) != 9 {
		t.Fatalf("Expected 9 quads, got %d: %v", len(quads), quads)
	}

	outer := quads[0].Subject
	if outer.Type() != TermTypeBlankNode {
		t.Fatalf("Expected blank subject, got %s", outer)
	}
	knows := quads[1]
	if !knows.Subject.Equals(outer) || knows.Object.Type() != TermTypeBlankNode {
		t.Fatalf("knows quad: %s", knows)
	}
	if knows.Object.Equals(outer) {
		t.Error("a document label must not reuse a generated label")
	}

	var head Term
	for _, q := range quads {
		if q.Predicate.Equals(iri("list")) {
			head = q.Object
		}
		if q.Predicate.Equals(iri("empty")) && !q.Object.Equals(RDFNil) {
			t.Errorf("empty collection should be rdf:nil, got %s", q.Object)
		}
	}
	if head == nil {
		t.Fatal("missing list quad")
	}
	var items []Term
	for node := head; !node.Equals(RDFNil); {
		var next Term
		for _, q := range quads {
			if !q.Subject.Equals(node) {
				continue
			}
			switch {
			case q.Predicate.Equals(RDFFirst):
				items = append(items, q.Object)
			case q.Predicate.Equals(RDFRest):
				next = q.Object
			}
		}
		if next == nil {
			t.Fatalf("list node %s has no rdf:rest", node)
		}
		node = next
	}
	if len(items) != 2 || !items[0].Equals(iri("a")) || !items[1].Equals(NewLiteral("b")) {
		t.Errorf("unexpected list items %v", items)
	}
}

func TestParseTriG_Graphs(t *testing.T) {
	input := `@prefix ex: <http://example.org/> .
ex:s ex:p ex:o .
{ ex:s ex:p ex:d }
ex:g1 { ex:s ex:p ex:o1 . ex:s ex:q ex:o2 . }
GRAPH ex:g2 { ex:s ex:p "x" }
_:g { ex:s ex:p ex:o3 }
`
	quads, err := ParseTriG(input)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []*Quad{
		NewQuad(iri("s"), iri("p"), iri("o"), nil),
		NewQuad(iri("s"), iri("p"), iri("d"), nil),
		NewQuad(iri("s"), iri("p"), iri("o1"), iri("g1")),
		NewQuad(iri("s"), iri("q"), iri("o2"), iri("g1")),
		NewQuad(iri("s"), iri("p"), NewLiteral("x"), iri("g2")),
		NewQuad(iri("s"), iri("p"), iri("o3"), NewBlankNode("g")),
	}
	if len(quads) != len(want) {
		t.Fatalf("Expected %d quads, got %d: %v", len(want), len(quads), quads)
	}
	for _, w := range want {
		if !hasQuad(quads, w) {
			t.Errorf("missing %s", w)
		}
	}
}

func TestParseTurtle_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"undefined prefix", `ex:s ex:p ex:o .`, "undefined prefix"},
		{"missing dot", `<http://a> <http://b> <http://c>`, "end of input"},
		{"literal subject", `"x" <http://b> <http://c> .`, "subject"},
		{"unterminated string", `<http://a> <http://b> "x .`, "unterminated string"},
		{"line break in short string", "<http://a> <http://b> \"x\ny\" .", "line break"},
		{"graph block in turtle", `<http://g> { <http://a> <http://b> <http://c> }`, "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTurtle(tt.input)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
