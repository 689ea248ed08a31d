package encoding

import (
	"encoding/binary"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

const (
	// Maximum size for inline strings (16 bytes of UTF-8)
	MaxInlineStringSize = 16

	// Encoded term size (kind byte + 16 bytes for 128-bit hash or inline data)
	EncodedTermSize = 17
)

// Kind is the first byte of an encoded term.
type Kind byte

const (
	KindNamedNode Kind = iota + 1
	KindBlankNode
	KindLiteral
	KindDefaultGraph
	// KindInlineString is a simple literal stored in the key itself.
	KindInlineString
)

// EncodedTerm represents a term encoded as a kind byte followed by 16 bytes of data
type EncodedTerm [EncodedTermSize]byte

// TermEncoder maps RDF terms to fixed-size keys
type TermEncoder struct{}

func NewTermEncoder() *TermEncoder {
	return &TermEncoder{}
}

// Hash128 computes a 128-bit xxhash3 hash of the input string
func (e *TermEncoder) Hash128(s string) [16]byte {
	hash := xxh3.HashString128(s)
	var result [16]byte
	binary.BigEndian.PutUint64(result[0:8], hash.Hi)
	binary.BigEndian.PutUint64(result[8:16], hash.Lo)
	return result
}

// EncodeTerm encodes an RDF term into a fixed-size byte array.
// Hashed terms also return their N-Triples form, which must be stored in
// the id2str table so the term can be decoded later.
func (e *TermEncoder) EncodeTerm(term rdf.Term) (EncodedTerm, *string, error) {
	var encoded EncodedTerm

	switch t := term.(type) {
	case nil:
		return encoded, nil, errors.New("nil term")
	case *rdf.DefaultGraph:
		encoded[0] = byte(KindDefaultGraph)
		return encoded, nil, nil
	case *rdf.Literal:
		if t.IsSimple() && len(t.Value) <= MaxInlineStringSize && !strings.ContainsRune(t.Value, 0) {
			encoded[0] = byte(KindInlineString)
			copy(encoded[1:], t.Value)
			return encoded, nil, nil
		}
		encoded[0] = byte(KindLiteral)
	case *rdf.NamedNode:
		encoded[0] = byte(KindNamedNode)
	case *rdf.BlankNode:
		encoded[0] = byte(KindBlankNode)
	default:
		return encoded, nil, errors.Newf("unknown term type: %T", term)
	}

	s := term.String()
	hash := e.Hash128(s)
	copy(encoded[1:], hash[:])
	return encoded, &s, nil
}

// EncodeQuadKey encodes a quad key for one of the 11 indexes
// Returns a big-endian byte array for lexicographic sorting
func (e *TermEncoder) EncodeQuadKey(terms ...EncodedTerm) []byte {
	result := make([]byte, 0, len(terms)*EncodedTermSize)
	for _, term := range terms {
		result = append(result, term[:]...)
	}
	return result
}

// GetTermType extracts the RDF term type from an encoded term
func GetTermType(encoded EncodedTerm) rdf.TermType {
	switch Kind(encoded[0]) {
	case KindNamedNode:
		return rdf.TermTypeNamedNode
	case KindBlankNode:
		return rdf.TermTypeBlankNode
	case KindLiteral, KindInlineString:
		return rdf.TermTypeLiteral
	case KindDefaultGraph:
		return rdf.TermTypeDefaultGraph
	}
	return 0
}

// NeedsLookup reports whether decoding requires the id2str entry.
func NeedsLookup(encoded EncodedTerm) bool {
	switch Kind(encoded[0]) {
	case KindInlineString, KindDefaultGraph:
		return false
	}
	return true
}
