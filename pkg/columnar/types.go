// Package columnar maps RDF terms into Arrow columns. Two encodings
// coexist: the plain encoding stores every term as a tagged struct of
// strings, the typed encoding stores eligible literals as native Arrow
// values and keeps everything else as an embedded plain cell.
package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/cockroachdb/errors"
)

// Encoding identifies the columnar representation of a term column.
type Encoding uint8

const (
	EncodingPlain Encoding = iota + 1
	EncodingTyped
)

func (e Encoding) String() string {
	switch e {
	case EncodingPlain:
		return "plain"
	case EncodingTyped:
		return "typed"
	default:
		return "unknown"
	}
}

// Kind discriminants stored in the plain term_type child.
const (
	KindNamedNode uint8 = 0
	KindBlankNode uint8 = 1
	KindLiteral   uint8 = 2
)

const (
	fieldTermType = "term_type"
	fieldValue    = "value"
	fieldDatatype = "datatype"
	fieldLanguage = "language"

	fieldDType   = "dtype"
	fieldBoolean = "boolean"
	fieldInteger = "integer"
	fieldDouble  = "double"
	fieldDecimal = "decimal"
	fieldTicks   = "ticks"
	fieldOffset  = "offset"
	fieldMonths  = "months"
	fieldTerm    = "term"
)

// DecimalScale is the fixed scale of xsd:decimal values in the typed encoding.
const (
	DecimalPrecision = 38
	DecimalScale     = 18
)

var (
	plainFieldNames = []string{fieldTermType, fieldValue, fieldDatatype, fieldLanguage}
	typedFieldNames = []string{
		fieldDType, fieldBoolean, fieldInteger, fieldDouble, fieldDecimal,
		fieldTicks, fieldOffset, fieldMonths, fieldTerm,
	}

	decimalType = &arrow.Decimal128Type{Precision: DecimalPrecision, Scale: DecimalScale}

	// PlainType is the Arrow type of plain-encoded term columns.
	PlainType = arrow.StructOf(
		arrow.Field{Name: fieldTermType, Type: arrow.PrimitiveTypes.Uint8, Nullable: true},
		arrow.Field{Name: fieldValue, Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: fieldDatatype, Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: fieldLanguage, Type: arrow.BinaryTypes.String, Nullable: true},
	)

	// TypedType is the Arrow type of typed-encoded term columns.
	TypedType = arrow.StructOf(
		arrow.Field{Name: fieldDType, Type: arrow.PrimitiveTypes.Uint8, Nullable: true},
		arrow.Field{Name: fieldBoolean, Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		arrow.Field{Name: fieldInteger, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: fieldDouble, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		arrow.Field{Name: fieldDecimal, Type: decimalType, Nullable: true},
		arrow.Field{Name: fieldTicks, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: fieldOffset, Type: arrow.PrimitiveTypes.Int16, Nullable: true},
		arrow.Field{Name: fieldMonths, Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		arrow.Field{Name: fieldTerm, Type: PlainType, Nullable: true},
	)
)

// ErrUnknownEncoding is returned when an Arrow type is not a term column.
var ErrUnknownEncoding = errors.New("arrow type is not a term encoding")

// TypeOf returns the Arrow type of an encoding.
func TypeOf(enc Encoding) arrow.DataType {
	if enc == EncodingTyped {
		return TypedType
	}
	return PlainType
}

// EncodingOf inspects an Arrow type and reports which term encoding it holds.
func EncodingOf(dt arrow.DataType) (Encoding, error) {
	st, ok := dt.(*arrow.StructType)
	if !ok || st.NumFields() == 0 {
		return 0, errors.Wrapf(ErrUnknownEncoding, "type %s", dt)
	}
	switch st.Field(0).Name {
	case fieldTermType:
		return EncodingPlain, nil
	case fieldDType:
		return EncodingTyped, nil
	default:
		return 0, errors.Wrapf(ErrUnknownEncoding, "type %s", dt)
	}
}
