package store

import (
	"github.com/aleksaelezovic/trigofusion/internal/encoding"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// EncodedTerm represents a term encoded as a kind byte followed by 16 bytes of data
type EncodedTerm = encoding.EncodedTerm

// TermEncoder handles encoding of RDF terms into a compact binary format
type TermEncoder interface {
	// EncodeTerm encodes an RDF term into a fixed-size byte array
	// Returns the encoded term and optionally a string to store in id2str table
	EncodeTerm(term rdf.Term) (EncodedTerm, *string, error)

	// EncodeQuadKey encodes a quad key for one of the indexes
	// Returns a big-endian byte array for lexicographic sorting
	EncodeQuadKey(terms ...EncodedTerm) []byte
}

// TermDecoder handles decoding of RDF terms from binary format
type TermDecoder interface {
	// DecodeTerm decodes an encoded term back to an rdf.Term
	// For terms that require string lookup, stringValue should be provided
	DecodeTerm(encoded EncodedTerm, stringValue *string) (rdf.Term, error)
}
