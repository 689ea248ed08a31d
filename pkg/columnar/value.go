package columnar

import (
	"github.com/apache/arrow-go/v18/arrow/decimal128"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// DType is the discriminant of a typed cell. The zero value is unbound.
type DType uint8

const (
	DTypeUnbound DType = iota
	DTypeError
	DTypeTerm
	DTypeBoolean
	DTypeInteger
	DTypeInt
	DTypeLong
	DTypeShort
	DTypeByte
	DTypeNonNegativeInteger
	DTypePositiveInteger
	DTypeNonPositiveInteger
	DTypeNegativeInteger
	DTypeUnsignedLong
	DTypeUnsignedInt
	DTypeUnsignedShort
	DTypeUnsignedByte
	DTypeDecimal
	DTypeFloat
	DTypeDouble
	DTypeDateTime
	DTypeDate
	DTypeTime
	DTypeDuration
	DTypeDayTimeDuration
	DTypeYearMonthDuration
	dtypeCount
)

var dtypeIRIs = map[DType]*rdf.NamedNode{
	DTypeBoolean:            rdf.XSDBoolean,
	DTypeInteger:            rdf.XSDInteger,
	DTypeInt:                rdf.XSDInt,
	DTypeLong:               rdf.XSDLong,
	DTypeShort:              rdf.XSDShort,
	DTypeByte:               rdf.XSDByte,
	DTypeNonNegativeInteger: rdf.XSDNonNegativeInteger,
	DTypePositiveInteger:    rdf.XSDPositiveInteger,
	DTypeNonPositiveInteger: rdf.XSDNonPositiveInteger,
	DTypeNegativeInteger:    rdf.XSDNegativeInteger,
	DTypeUnsignedLong:       rdf.XSDUnsignedLong,
	DTypeUnsignedInt:        rdf.XSDUnsignedInt,
	DTypeUnsignedShort:      rdf.XSDUnsignedShort,
	DTypeUnsignedByte:       rdf.XSDUnsignedByte,
	DTypeDecimal:            rdf.XSDDecimal,
	DTypeFloat:              rdf.XSDFloat,
	DTypeDouble:             rdf.XSDDouble,
	DTypeDateTime:           rdf.XSDDateTime,
	DTypeDate:               rdf.XSDDate,
	DTypeTime:               rdf.XSDTime,
	DTypeDuration:           rdf.XSDDuration,
	DTypeDayTimeDuration:    rdf.XSDDayTimeDuration,
	DTypeYearMonthDuration:  rdf.XSDYearMonthDuration,
}

var iriDTypes = func() map[string]DType {
	m := make(map[string]DType, len(dtypeIRIs))
	for dt, iri := range dtypeIRIs {
		m[iri.IRI] = dt
	}
	return m
}()

// DTypeForDatatype returns the native dtype of a datatype IRI.
func DTypeForDatatype(iri string) (DType, bool) {
	dt, ok := iriDTypes[iri]
	return dt, ok
}

// Datatype returns the datatype IRI of a native dtype, nil otherwise.
func (d DType) Datatype() *rdf.NamedNode {
	return dtypeIRIs[d]
}

func (d DType) IsInteger() bool {
	return d >= DTypeInteger && d <= DTypeUnsignedByte
}

func (d DType) IsNumeric() bool {
	return d >= DTypeInteger && d <= DTypeDouble
}

func (d DType) IsTemporal() bool {
	return d == DTypeDateTime || d == DTypeDate || d == DTypeTime
}

func (d DType) IsDuration() bool {
	return d >= DTypeDuration && d <= DTypeYearMonthDuration
}

// IsNative reports whether the dtype is stored as a native Arrow value.
func (d DType) IsNative() bool {
	return d >= DTypeBoolean && d < dtypeCount
}

// Value is a single decoded cell. Only the fields relevant to DType are
// meaningful. Temporal ticks are microseconds; Offset is minutes east of UTC.
type Value struct {
	DType   DType
	Bool    bool
	Int     int64
	Float   float64
	Decimal decimal128.Num
	Ticks   int64
	Offset  int16
	HasTZ   bool
	Months  int64
	Term    rdf.Term
}

// Unbound is the absent value.
func Unbound() Value { return Value{} }

// Error is the type error marker.
func Error() Value { return Value{DType: DTypeError} }

func Boolean(b bool) Value { return Value{DType: DTypeBoolean, Bool: b} }

func Integer(i int64) Value { return Value{DType: DTypeInteger, Int: i} }

func Double(f float64) Value { return Value{DType: DTypeDouble, Float: f} }

func Float(f float32) Value { return Value{DType: DTypeFloat, Float: float64(f)} }

func Decimal(n decimal128.Num) Value { return Value{DType: DTypeDecimal, Decimal: n} }

// FromTerm wraps a term, decoding it natively when the literal is eligible.
func FromTerm(t rdf.Term) Value {
	if t == nil {
		return Unbound()
	}
	if v, ok := TryDecodeNative(t); ok {
		return v
	}
	return Value{DType: DTypeTerm, Term: t}
}

// Opaque wraps a term without attempting native decoding.
func Opaque(t rdf.Term) Value {
	if t == nil {
		return Unbound()
	}
	return Value{DType: DTypeTerm, Term: t}
}

// String literal value helpers.
func String(s string) Value { return Opaque(rdf.NewLiteral(s)) }

func LangString(s, lang string) Value { return Opaque(rdf.NewLiteralWithLanguage(s, lang)) }

func (v Value) IsUnbound() bool { return v.DType == DTypeUnbound }

func (v Value) IsError() bool { return v.DType == DTypeError }

// IsValid reports whether the value is a concrete term.
func (v Value) IsValid() bool { return v.DType >= DTypeTerm }

// AsTerm converts the value back to a term. Native values render in their
// canonical lexical form. Unbound and error values return nil.
func (v Value) AsTerm() rdf.Term {
	switch {
	case v.DType == DTypeTerm:
		return v.Term
	case v.DType.IsNative():
		return rdf.NewLiteralWithDatatype(FormatLexical(v), v.DType.Datatype())
	default:
		return nil
	}
}

// Resolve decodes an opaque literal of a known datatype regardless of its
// lexical form, so "01"^^xsd:integer resolves to the integer 1. Values that
// cannot be resolved are returned unchanged.
func (v Value) Resolve() Value {
	if v.DType != DTypeTerm {
		return v
	}
	lit, ok := v.Term.(*rdf.Literal)
	if !ok {
		return v
	}
	if r, ok := ParseLexical(lit.Value, lit.DatatypeIRI()); ok {
		return r
	}
	return v
}

// Literal returns the underlying literal for opaque literal values.
func (v Value) Literal() (*rdf.Literal, bool) {
	if v.DType != DTypeTerm {
		if v.DType.IsNative() {
			lit, ok := v.AsTerm().(*rdf.Literal)
			return lit, ok
		}
		return nil, false
	}
	lit, ok := v.Term.(*rdf.Literal)
	return lit, ok
}
