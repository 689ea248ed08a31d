package encoding

import (
	"testing"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

func TestRoundTrip(t *testing.T) {
	enc := NewTermEncoder()
	dec := NewTermDecoder()

	terms := []rdf.Term{
		rdf.NewNamedNode("http://example.org/s"),
		rdf.NewBlankNode("b0"),
		rdf.NewLiteral("short"),
		rdf.NewLiteral("a simple literal longer than sixteen bytes"),
		rdf.NewLiteral(""),
		rdf.NewLiteralWithLanguage("chat", "fr"),
		rdf.NewIntegerLiteral(42),
		rdf.NewLiteralWithDatatype("not a number", rdf.XSDInteger),
		rdf.NewLiteral("line\nbreak \"quoted\""),
		rdf.NewDefaultGraph(),
	}

	for _, term := range terms {
		encoded, str, err := enc.EncodeTerm(term)
		if err != nil {
			t.Fatalf("EncodeTerm(%s): %v", term, err)
		}
		if NeedsLookup(encoded) != (str != nil) {
			t.Errorf("%s: NeedsLookup=%v but string=%v", term, NeedsLookup(encoded), str)
		}
		decoded, err := dec.DecodeTerm(encoded, str)
		if err != nil {
			t.Fatalf("DecodeTerm(%s): %v", term, err)
		}
		if !decoded.Equals(term) {
			t.Errorf("round trip: got %s, want %s", decoded, term)
		}
		if GetTermType(encoded) != term.Type() {
			t.Errorf("%s: GetTermType=%v", term, GetTermType(encoded))
		}
	}
}

func TestInlineStrings(t *testing.T) {
	enc := NewTermEncoder()

	encoded, str, err := enc.EncodeTerm(rdf.NewLiteral("sixteen bytes!!!"))
	if err != nil {
		t.Fatal(err)
	}
	if Kind(encoded[0]) != KindInlineString || str != nil {
		t.Errorf("16-byte literal should be inline, kind=%d", encoded[0])
	}

	encoded, str, err = enc.EncodeTerm(rdf.NewLiteral("a\x00b"))
	if err != nil {
		t.Fatal(err)
	}
	if Kind(encoded[0]) != KindLiteral || str == nil {
		t.Errorf("literal with NUL must be hashed, kind=%d", encoded[0])
	}
}

func TestDistinctTermsDistinctKeys(t *testing.T) {
	enc := NewTermEncoder()
	a, _, _ := enc.EncodeTerm(rdf.NewLiteral("x"))
	b, _, _ := enc.EncodeTerm(rdf.NewLiteralWithLanguage("x", "en"))
	c, _, _ := enc.EncodeTerm(rdf.NewNamedNode("x"))
	if a == b || b == c || a == c {
		t.Errorf("expected distinct keys: %x %x %x", a, b, c)
	}
	d, _, _ := enc.EncodeTerm(rdf.NewNamedNode("x"))
	if c != d {
		t.Errorf("encoding is not deterministic")
	}
}

func TestDecodeRequiresString(t *testing.T) {
	enc := NewTermEncoder()
	encoded, _, _ := enc.EncodeTerm(rdf.NewNamedNode("http://example.org/"))
	if _, err := NewTermDecoder().DecodeTerm(encoded, nil); err == nil {
		t.Error("expected error without id2str entry")
	}
}
