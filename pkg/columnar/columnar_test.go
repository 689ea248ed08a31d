package columnar

import (
	"bytes"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

func typed(lex string, dt *rdf.NamedNode) rdf.Term {
	return rdf.NewLiteralWithDatatype(lex, dt)
}

func sampleTerms() []rdf.Term {
	return []rdf.Term{
		rdf.NewNamedNode("http://example.org/a"),
		rdf.NewBlankNode("b0"),
		rdf.NewLiteral(""),
		rdf.NewLiteral("plain"),
		rdf.NewLiteralWithLanguage("chat", "fr"),
		typed("42", rdf.XSDInteger),
		typed("042", rdf.XSDInteger),
		typed("-7", rdf.XSDShort),
		typed("99999999999999999999", rdf.XSDInteger),
		typed("300", rdf.XSDByte),
		typed("abc", rdf.XSDInteger),
		typed("true", rdf.XSDBoolean),
		typed("1", rdf.XSDBoolean),
		typed("1.5", rdf.XSDDecimal),
		typed("1.50", rdf.XSDDecimal),
		typed("1.0E0", rdf.XSDDouble),
		typed("1e0", rdf.XSDDouble),
		typed("INF", rdf.XSDDouble),
		typed("2.5E0", rdf.XSDFloat),
		typed("2002-10-10T12:00:00Z", rdf.XSDDateTime),
		typed("2002-10-10T12:00:00.5-05:00", rdf.XSDDateTime),
		typed("2002-10-10T12:00:00", rdf.XSDDateTime),
		typed("2002-10-10T12:00:00+00:00", rdf.XSDDateTime),
		typed("2002-10-10", rdf.XSDDate),
		typed("23:59:59.25+01:30", rdf.XSDTime),
		typed("P1Y2M3DT4H5M6.5S", rdf.XSDDuration),
		typed("-P3D", rdf.XSDDayTimeDuration),
		typed("P0M", rdf.XSDYearMonthDuration),
		typed("x", rdf.NewNamedNode("http://example.org/custom")),
		nil,
	}
}

func TestPlainRoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()
	terms := sampleTerms()
	col := FromTerms(EncodingPlain, mem, terms...)
	require.Equal(t, len(terms), col.Len())
	for i, term := range terms {
		got := col.Term(i)
		if term == nil {
			assert.Nil(t, got)
			assert.True(t, col.IsUnbound(i))
			continue
		}
		require.NotNil(t, got, "row %d", i)
		assert.True(t, term.Equals(got), "row %d: %s != %s", i, got, term)
	}
}

func TestTypedRoundTripToOpaque(t *testing.T) {
	mem := memory.NewGoAllocator()
	terms := sampleTerms()
	plain := FromTerms(EncodingPlain, mem, terms...)
	typedCol := Cast(plain, EncodingTyped, mem)
	back := Cast(typedCol, EncodingPlain, mem)
	for i, term := range terms {
		if term == nil {
			assert.True(t, typedCol.IsUnbound(i))
			assert.True(t, back.IsUnbound(i))
			continue
		}
		assert.True(t, term.Equals(typedCol.Term(i)), "typed row %d: %s", i, typedCol.Term(i))
		assert.True(t, term.Equals(back.Term(i)), "plain row %d: %s", i, back.Term(i))
	}
}

func TestEligibility(t *testing.T) {
	tests := []struct {
		term   rdf.Term
		native bool
		dtype  DType
	}{
		{typed("42", rdf.XSDInteger), true, DTypeInteger},
		{typed("042", rdf.XSDInteger), false, 0},
		{typed("+1", rdf.XSDInteger), false, 0},
		{typed("99999999999999999999", rdf.XSDInteger), false, 0},
		{typed("128", rdf.XSDByte), false, 0},
		{typed("127", rdf.XSDByte), true, DTypeByte},
		{typed("true", rdf.XSDBoolean), true, DTypeBoolean},
		{typed("0", rdf.XSDBoolean), false, 0},
		{typed("1.5", rdf.XSDDecimal), true, DTypeDecimal},
		{typed("1", rdf.XSDDecimal), false, 0},
		{typed("0.0000000000000000001", rdf.XSDDecimal), false, 0},
		{typed("1.0E0", rdf.XSDDouble), true, DTypeDouble},
		{typed("1.0", rdf.XSDDouble), false, 0},
		{typed("2002-10-10T12:00:00Z", rdf.XSDDateTime), true, DTypeDateTime},
		{typed("2002-10-10T12:00:00.000Z", rdf.XSDDateTime), false, 0},
		{typed("PT0S", rdf.XSDDuration), true, DTypeDuration},
		{rdf.NewLiteral("5"), false, 0},
		{rdf.NewLiteralWithLanguage("5", "en"), false, 0},
		{rdf.NewNamedNode("http://example.org/5"), false, 0},
	}
	for _, tt := range tests {
		v, ok := TryDecodeNative(tt.term)
		assert.Equal(t, tt.native, ok, "term %s", tt.term)
		if ok {
			assert.Equal(t, tt.dtype, v.DType, "term %s", tt.term)
		}
	}
}

func TestResolveNonCanonical(t *testing.T) {
	v := FromTerm(typed("042", rdf.XSDInteger))
	require.Equal(t, DTypeTerm, v.DType)
	r := v.Resolve()
	require.Equal(t, DTypeInteger, r.DType)
	assert.Equal(t, int64(42), r.Int)

	bad := FromTerm(typed("abc", rdf.XSDInteger)).Resolve()
	assert.Equal(t, DTypeTerm, bad.DType)
}

func TestTemporalValues(t *testing.T) {
	utc, ok := ParseLexical("2002-10-10T17:00:00Z", rdf.XSDDateTime.IRI)
	require.True(t, ok)
	est, ok := ParseLexical("2002-10-10T12:00:00-05:00", rdf.XSDDateTime.IRI)
	require.True(t, ok)
	assert.Equal(t, utc.Ticks, est.Ticks, "same instant")
	assert.Equal(t, "2002-10-10T12:00:00-05:00", FormatLexical(est))

	dur, ok := ParseLexical("P1Y2M3DT4H5M6.5S", rdf.XSDDuration.IRI)
	require.True(t, ok)
	assert.Equal(t, int64(14), dur.Months)
	assert.Equal(t, int64(3*86400+4*3600+5*60+6)*1_000_000+500_000, dur.Ticks)

	_, ok = ParseLexical("P1Y", rdf.XSDDayTimeDuration.IRI)
	assert.False(t, ok)
	_, ok = ParseLexical("2002-02-30", rdf.XSDDate.IRI)
	assert.False(t, ok)
}

func TestDecimalFormatting(t *testing.T) {
	for lex, canonical := range map[string]string{
		"1.50":   "1.5",
		"-0.250": "-0.25",
		"100":    "100.0",
		"+.5":    "0.5",
		"-0":     "0.0",
	} {
		n, ok := parseDecimal(lex)
		require.True(t, ok, lex)
		assert.Equal(t, canonical, formatDecimal(n), lex)
	}
	_, ok := parseDecimal("1e3")
	assert.False(t, ok)
}

func TestKeysMatchAcrossEncodings(t *testing.T) {
	mem := memory.NewGoAllocator()
	terms := sampleTerms()
	plain := FromTerms(EncodingPlain, mem, terms...)
	typedCol := FromTerms(EncodingTyped, mem, terms...)
	for i := range terms {
		pk := plain.AppendKey(nil, i)
		tk := typedCol.AppendKey(nil, i)
		assert.True(t, bytes.Equal(pk, tk), "row %d", i)
	}
	a := TermKey(typed("1", rdf.XSDInteger))
	b := TermKey(typed("01", rdf.XSDInteger))
	assert.False(t, bytes.Equal(a, b), "keys are term identity, not value equality")
}

func TestKeysWithEmbeddedNul(t *testing.T) {
	mem := memory.NewGoAllocator()
	terms := []rdf.Term{
		typed("a\x00http://example.org/x", rdf.NewNamedNode("http://example.org/y")),
		typed("a", rdf.NewNamedNode("http://example.org/x\x00http://example.org/y")),
		rdf.NewLiteralWithLanguage("a\x00@en", "fr"),
		rdf.NewLiteralWithLanguage("a", "en\x00@fr"),
		rdf.NewNamedNode("http://example.org/a\x00"),
		rdf.NewNamedNode("http://example.org/a"),
	}
	seen := make(map[string]int)
	for i, term := range terms {
		key := string(TermKey(term))
		if j, dup := seen[key]; dup {
			t.Fatalf("terms %d and %d share a key", j, i)
		}
		seen[key] = i
	}

	plain := FromTerms(EncodingPlain, mem, terms...)
	for i, term := range terms {
		assert.Equal(t, TermKey(term), plain.AppendKey(nil, i), "row %d", i)
	}
}

func TestTakeAndNulls(t *testing.T) {
	mem := memory.NewGoAllocator()
	col := FromTerms(EncodingTyped, mem, typed("1", rdf.XSDInteger), rdf.NewLiteral("a"))
	taken := Take(col, []int{1, -1, 0}, mem)
	require.Equal(t, 3, taken.Len())
	assert.Equal(t, EncodingTyped, taken.Encoding())
	assert.True(t, rdf.NewLiteral("a").Equals(taken.Term(0)))
	assert.True(t, taken.IsUnbound(1))
	assert.Equal(t, int64(1), taken.Value(2).Int)

	nulls := Nulls(EncodingPlain, mem, 2)
	assert.True(t, nulls.IsUnbound(0))
	assert.True(t, nulls.IsUnbound(1))

	wrapped, err := Wrap(col.Arrow())
	require.NoError(t, err)
	assert.Equal(t, EncodingTyped, wrapped.Encoding())
}
