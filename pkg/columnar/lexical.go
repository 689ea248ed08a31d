package columnar

import (
	"math"
	"strconv"
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// TryDecodeNative returns the native value of an eligible literal. A literal
// is eligible when its datatype has a native representation and its lexical
// form is the canonical form of its value, which keeps the conversion back
// to a term exact.
func TryDecodeNative(t rdf.Term) (Value, bool) {
	lit, ok := t.(*rdf.Literal)
	if !ok || lit.Language != "" {
		return Value{}, false
	}
	v, ok := ParseLexical(lit.Value, lit.DatatypeIRI())
	if !ok {
		return Value{}, false
	}
	if FormatLexical(v) != lit.Value {
		return Value{}, false
	}
	return v, true
}

// ParseLexical parses a lexical form of the given datatype into a native
// value. Non-canonical forms are accepted.
func ParseLexical(lex, datatype string) (Value, bool) {
	dt, ok := DTypeForDatatype(datatype)
	if !ok {
		return Value{}, false
	}
	switch {
	case dt == DTypeBoolean:
		switch lex {
		case "true", "1":
			return Boolean(true), true
		case "false", "0":
			return Boolean(false), true
		}
		return Value{}, false
	case dt.IsInteger():
		i, ok := parseInteger(lex)
		if !ok || !integerInRange(dt, i) {
			return Value{}, false
		}
		return Value{DType: dt, Int: i}, true
	case dt == DTypeDecimal:
		n, ok := parseDecimal(lex)
		if !ok {
			return Value{}, false
		}
		return Decimal(n), true
	case dt == DTypeDouble:
		f, ok := parseFloatLexical(lex, 64)
		if !ok {
			return Value{}, false
		}
		return Double(f), true
	case dt == DTypeFloat:
		f, ok := parseFloatLexical(lex, 32)
		if !ok {
			return Value{}, false
		}
		return Float(float32(f)), true
	case dt == DTypeDateTime:
		return parseDateTime(lex)
	case dt == DTypeDate:
		return parseDate(lex)
	case dt == DTypeTime:
		return parseTime(lex)
	case dt.IsDuration():
		return parseDuration(lex, dt)
	}
	return Value{}, false
}

// FormatLexical renders the canonical lexical form of a native value.
func FormatLexical(v Value) string {
	switch {
	case v.DType == DTypeBoolean:
		return strconv.FormatBool(v.Bool)
	case v.DType.IsInteger():
		return strconv.FormatInt(v.Int, 10)
	case v.DType == DTypeDecimal:
		return formatDecimal(v.Decimal)
	case v.DType == DTypeDouble:
		return rdf.FormatDouble(v.Float)
	case v.DType == DTypeFloat:
		return rdf.FormatFloat(float32(v.Float))
	case v.DType == DTypeDateTime:
		return formatDateTime(v)
	case v.DType == DTypeDate:
		return formatDate(v)
	case v.DType == DTypeTime:
		return formatTime(v)
	case v.DType.IsDuration():
		return formatDuration(v)
	case v.DType == DTypeTerm:
		if lit, ok := v.Term.(*rdf.Literal); ok {
			return lit.Value
		}
	}
	return ""
}

func parseInteger(lex string) (int64, bool) {
	s := lex
	if s == "" {
		return 0, false
	}
	if s[0] == '+' {
		s = s[1:]
		if s == "" || s[0] == '-' {
			return 0, false
		}
	}
	for i := 0; i < len(s); i++ {
		if (s[i] < '0' || s[i] > '9') && !(i == 0 && s[i] == '-') {
			return 0, false
		}
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

// integerInRange applies the value space restriction of integer subtypes.
func integerInRange(dt DType, i int64) bool {
	switch dt {
	case DTypeInt:
		return i >= math.MinInt32 && i <= math.MaxInt32
	case DTypeShort:
		return i >= math.MinInt16 && i <= math.MaxInt16
	case DTypeByte:
		return i >= math.MinInt8 && i <= math.MaxInt8
	case DTypeNonNegativeInteger, DTypeUnsignedLong:
		return i >= 0
	case DTypePositiveInteger:
		return i > 0
	case DTypeNonPositiveInteger:
		return i <= 0
	case DTypeNegativeInteger:
		return i < 0
	case DTypeUnsignedInt:
		return i >= 0 && i <= math.MaxUint32
	case DTypeUnsignedShort:
		return i >= 0 && i <= math.MaxUint16
	case DTypeUnsignedByte:
		return i >= 0 && i <= math.MaxUint8
	default:
		return true
	}
}

// parseFloatLexical validates the xsd:double/xsd:float grammar before
// handing the string to strconv, which accepts a wider syntax.
func parseFloatLexical(lex string, bits int) (float64, bool) {
	switch lex {
	case "INF", "+INF":
		return math.Inf(1), true
	case "-INF":
		return math.Inf(-1), true
	case "NaN":
		return math.NaN(), true
	}
	if !validDecimalPart(mantissaOf(lex), true) {
		return 0, false
	}
	f, err := strconv.ParseFloat(lex, bits)
	if err != nil {
		// out of range values round to infinity in XSD
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f, true
		}
		return 0, false
	}
	return f, true
}

// mantissaOf returns lex with a valid exponent suffix removed, or a string
// that fails validation if the exponent is malformed.
func mantissaOf(lex string) string {
	idx := strings.IndexAny(lex, "eE")
	if idx < 0 {
		return lex
	}
	exp := lex[idx+1:]
	if exp != "" && (exp[0] == '+' || exp[0] == '-') {
		exp = exp[1:]
	}
	if exp == "" || strings.Trim(exp, "0123456789") != "" {
		return "x"
	}
	return lex[:idx]
}

// validDecimalPart checks (+|-)?(digits(.digits*)?|.digits).
func validDecimalPart(s string, allowEmptyFraction bool) bool {
	if s != "" && (s[0] == '+' || s[0] == '-') {
		s = s[1:]
	}
	intPart, frac, hasDot := strings.Cut(s, ".")
	if strings.Trim(intPart, "0123456789") != "" || strings.Trim(frac, "0123456789") != "" {
		return false
	}
	if intPart == "" && frac == "" {
		return false
	}
	if hasDot && frac == "" && !allowEmptyFraction {
		return false
	}
	return true
}
