package columnar

import (
	"encoding/binary"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// PlainBuilder builds plain-encoded term columns.
type PlainBuilder struct {
	termType *array.Uint8Builder
	value    *array.StringBuilder
	datatype *array.StringBuilder
	language *array.StringBuilder
}

func NewPlainBuilder(mem memory.Allocator) *PlainBuilder {
	return &PlainBuilder{
		termType: array.NewUint8Builder(mem),
		value:    array.NewStringBuilder(mem),
		datatype: array.NewStringBuilder(mem),
		language: array.NewStringBuilder(mem),
	}
}

func (b *PlainBuilder) Encoding() Encoding { return EncodingPlain }

func (b *PlainBuilder) Len() int { return b.termType.Len() }

// AppendNull appends an unbound cell.
func (b *PlainBuilder) AppendNull() {
	b.termType.AppendNull()
	b.value.AppendNull()
	b.datatype.AppendNull()
	b.language.AppendNull()
}

// AppendTerm appends a term; nil appends an unbound cell.
func (b *PlainBuilder) AppendTerm(t rdf.Term) {
	switch term := t.(type) {
	case *rdf.NamedNode:
		b.termType.Append(KindNamedNode)
		b.value.Append(term.IRI)
		b.datatype.AppendNull()
		b.language.AppendNull()
	case *rdf.BlankNode:
		b.termType.Append(KindBlankNode)
		b.value.Append(term.ID)
		b.datatype.AppendNull()
		b.language.AppendNull()
	case *rdf.Literal:
		b.termType.Append(KindLiteral)
		b.value.Append(term.Value)
		b.datatype.Append(term.DatatypeIRI())
		if term.Language != "" {
			b.language.Append(term.Language)
		} else {
			b.language.AppendNull()
		}
	default:
		b.AppendNull()
	}
}

// AppendValue appends the term of a value. Error cells become unbound.
func (b *PlainBuilder) AppendValue(v Value) {
	b.AppendTerm(v.AsTerm())
}

// AppendFrom copies row i of c.
func (b *PlainBuilder) AppendFrom(c Column, i int) {
	if p, ok := c.(*PlainColumn); ok {
		if p.termType.IsNull(i) {
			b.AppendNull()
			return
		}
		b.termType.Append(p.termType.Value(i))
		b.value.Append(p.value.Value(i))
		appendNullableString(b.datatype, p.datatype, i)
		appendNullableString(b.language, p.language, i)
		return
	}
	b.AppendTerm(c.Term(i))
}

func appendNullableString(dst *array.StringBuilder, src *array.String, i int) {
	if src.IsNull(i) {
		dst.AppendNull()
		return
	}
	dst.Append(src.Value(i))
}

// NewColumn finishes the column and resets the builder.
func (b *PlainBuilder) NewColumn() Column {
	return b.NewPlainColumn()
}

func (b *PlainBuilder) NewPlainColumn() *PlainColumn {
	cols := []arrow.Array{
		b.termType.NewArray(),
		b.value.NewArray(),
		b.datatype.NewArray(),
		b.language.NewArray(),
	}
	st, err := array.NewStructArray(cols, plainFieldNames)
	if err != nil {
		// children are appended in lock step
		panic(errors.Wrap(err, "building plain column"))
	}
	for _, c := range cols {
		c.Release()
	}
	pc, err := newPlainColumn(st)
	if err != nil {
		panic(err)
	}
	return pc
}

func (b *PlainBuilder) Release() {
	b.termType.Release()
	b.value.Release()
	b.datatype.Release()
	b.language.Release()
}

// PlainColumn is a read view over a plain-encoded Arrow struct array.
type PlainColumn struct {
	arr      *array.Struct
	termType *array.Uint8
	value    *array.String
	datatype *array.String
	language *array.String
}

func newPlainColumn(st *array.Struct) (*PlainColumn, error) {
	if st.NumField() != len(plainFieldNames) {
		return nil, errors.Newf("plain column has %d fields", st.NumField())
	}
	termType, ok1 := st.Field(0).(*array.Uint8)
	value, ok2 := st.Field(1).(*array.String)
	datatype, ok3 := st.Field(2).(*array.String)
	language, ok4 := st.Field(3).(*array.String)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return nil, errors.New("plain column has unexpected child types")
	}
	return &PlainColumn{arr: st, termType: termType, value: value, datatype: datatype, language: language}, nil
}

func (c *PlainColumn) Encoding() Encoding { return EncodingPlain }

func (c *PlainColumn) Len() int { return c.arr.Len() }

func (c *PlainColumn) Arrow() arrow.Array { return c.arr }

func (c *PlainColumn) IsUnbound(i int) bool { return c.termType.IsNull(i) }

// Term decodes row i. Unbound rows return nil.
func (c *PlainColumn) Term(i int) rdf.Term {
	if c.termType.IsNull(i) {
		return nil
	}
	switch c.termType.Value(i) {
	case KindNamedNode:
		return rdf.NewNamedNode(c.value.Value(i))
	case KindBlankNode:
		return rdf.NewBlankNode(c.value.Value(i))
	default:
		if !c.language.IsNull(i) {
			return rdf.NewLiteralWithLanguage(c.value.Value(i), c.language.Value(i))
		}
		dt := rdf.XSDString
		if !c.datatype.IsNull(i) {
			dt = rdf.NewNamedNode(c.datatype.Value(i))
		}
		return rdf.NewLiteralWithDatatype(c.value.Value(i), dt)
	}
}

// Value returns the opaque view of row i.
func (c *PlainColumn) Value(i int) Value {
	return Opaque(c.Term(i))
}

// AppendKey appends the encoding independent identity key of row i.
func (c *PlainColumn) AppendKey(dst []byte, i int) []byte {
	if c.termType.IsNull(i) {
		return append(dst, 0xff)
	}
	kind := c.termType.Value(i)
	dst = append(dst, kind)
	dst = appendKeyPart(dst, c.value.Value(i))
	if kind == KindLiteral {
		switch {
		case !c.language.IsNull(i):
			dst = append(dst, '@')
			dst = appendKeyPart(dst, c.language.Value(i))
		case !c.datatype.IsNull(i):
			dst = append(dst, '^')
			dst = appendKeyPart(dst, c.datatype.Value(i))
		default:
			dst = append(dst, '^')
			dst = appendKeyPart(dst, rdf.XSDString.IRI)
		}
	}
	return dst
}

// termKey appends the identity key of a term, matching PlainColumn.AppendKey.
func termKey(dst []byte, t rdf.Term) []byte {
	switch term := t.(type) {
	case *rdf.NamedNode:
		dst = append(dst, KindNamedNode)
		return appendKeyPart(dst, term.IRI)
	case *rdf.BlankNode:
		dst = append(dst, KindBlankNode)
		return appendKeyPart(dst, term.ID)
	case *rdf.Literal:
		dst = append(dst, KindLiteral)
		dst = appendKeyPart(dst, term.Value)
		if term.Language != "" {
			dst = append(dst, '@')
			return appendKeyPart(dst, term.Language)
		}
		dst = append(dst, '^')
		return appendKeyPart(dst, term.DatatypeIRI())
	default:
		return append(dst, 0xff)
	}
}

// appendKeyPart appends s behind its uvarint length, so parts may hold any
// byte.
func appendKeyPart(dst []byte, s string) []byte {
	dst = binary.AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}
