package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// Column is a read view over a term column of either encoding.
type Column interface {
	Encoding() Encoding
	Len() int
	Arrow() arrow.Array
	IsUnbound(i int) bool
	// Term decodes row i; nil means unbound.
	Term(i int) rdf.Term
	// Value returns row i as a value. Plain columns return opaque values.
	Value(i int) Value
	// AppendKey appends a key that is equal for two rows iff they hold the
	// same term, independently of the encoding.
	AppendKey(dst []byte, i int) []byte
}

// Builder accumulates a term column of a fixed encoding.
type Builder interface {
	Encoding() Encoding
	Len() int
	AppendNull()
	AppendTerm(t rdf.Term)
	AppendValue(v Value)
	AppendFrom(c Column, i int)
	NewColumn() Column
	Release()
}

// NewBuilder returns a builder for the given encoding.
func NewBuilder(enc Encoding, mem memory.Allocator) Builder {
	if enc == EncodingTyped {
		return NewTypedBuilder(mem)
	}
	return NewPlainBuilder(mem)
}

// Wrap returns the term column view of an Arrow array.
func Wrap(arr arrow.Array) (Column, error) {
	enc, err := EncodingOf(arr.DataType())
	if err != nil {
		return nil, err
	}
	st, ok := arr.(*array.Struct)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownEncoding, "array %T", arr)
	}
	if enc == EncodingTyped {
		return newTypedColumn(st)
	}
	return newPlainColumn(st)
}

// MustWrap is Wrap for arrays produced by this package.
func MustWrap(arr arrow.Array) Column {
	c, err := Wrap(arr)
	if err != nil {
		panic(err)
	}
	return c
}

// FromTerms builds a column from terms; nil entries are unbound.
func FromTerms(enc Encoding, mem memory.Allocator, terms ...rdf.Term) Column {
	b := NewBuilder(enc, mem)
	defer b.Release()
	for _, t := range terms {
		b.AppendTerm(t)
	}
	return b.NewColumn()
}

// FromValues builds a typed column from values.
func FromValues(mem memory.Allocator, values ...Value) Column {
	b := NewTypedBuilder(mem)
	defer b.Release()
	for _, v := range values {
		b.AppendValue(v)
	}
	return b.NewColumn()
}

// Nulls returns a column of n unbound cells.
func Nulls(enc Encoding, mem memory.Allocator, n int) Column {
	b := NewBuilder(enc, mem)
	defer b.Release()
	for i := 0; i < n; i++ {
		b.AppendNull()
	}
	return b.NewColumn()
}

// Take gathers rows of c into a new column of the same encoding. A negative
// index produces an unbound cell.
func Take(c Column, indices []int, mem memory.Allocator) Column {
	b := NewBuilder(c.Encoding(), mem)
	defer b.Release()
	for _, i := range indices {
		if i < 0 {
			b.AppendNull()
			continue
		}
		b.AppendFrom(c, i)
	}
	return b.NewColumn()
}

// Cast converts a column to the target encoding. The conversion is lossless:
// plain cells are decoded only when eligible and typed cells render their
// canonical lexical form. Converting to the same encoding returns c.
func Cast(c Column, target Encoding, mem memory.Allocator) Column {
	if c.Encoding() == target {
		return c
	}
	b := NewBuilder(target, mem)
	defer b.Release()
	for i := 0; i < c.Len(); i++ {
		b.AppendFrom(c, i)
	}
	return b.NewColumn()
}

// Terms decodes a whole column.
func Terms(c Column) []rdf.Term {
	out := make([]rdf.Term, c.Len())
	for i := range out {
		out[i] = c.Term(i)
	}
	return out
}

// TermKey returns the identity key of a term, consistent with Column.AppendKey.
func TermKey(t rdf.Term) []byte {
	return termKey(nil, t)
}
