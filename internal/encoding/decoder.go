package encoding

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// TermDecoder handles decoding of RDF terms
type TermDecoder struct{}

// NewTermDecoder creates a new term decoder
func NewTermDecoder() *TermDecoder {
	return &TermDecoder{}
}

// DecodeTerm decodes an encoded term back to an rdf.Term.
// For hashed terms, stringValue must hold the id2str entry.
func (d *TermDecoder) DecodeTerm(encoded EncodedTerm, stringValue *string) (rdf.Term, error) {
	switch Kind(encoded[0]) {
	case KindDefaultGraph:
		return rdf.NewDefaultGraph(), nil

	case KindInlineString:
		data := encoded[1:]
		if end := bytes.IndexByte(data, 0); end >= 0 {
			data = data[:end]
		}
		return rdf.NewLiteral(string(data)), nil

	case KindNamedNode, KindBlankNode, KindLiteral:
		if stringValue == nil {
			return nil, errors.Newf("string value required for %s", GetTermType(encoded))
		}
		term, err := rdf.ParseTerm(*stringValue)
		if err != nil {
			return nil, errors.Wrap(err, "decode id2str entry")
		}
		if term.Type() != GetTermType(encoded) {
			return nil, errors.Newf("id2str entry %q does not match kind %d", *stringValue, encoded[0])
		}
		return term, nil

	default:
		return nil, errors.Newf("unknown term kind: %d", encoded[0])
	}
}
