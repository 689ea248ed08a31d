package columnar

import (
	"math/big"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/cockroachdb/apd/v3"
)

// DecimalContext is the arithmetic context for xsd:decimal operations.
// Results are quantized to DecimalScale before they are stored.
var DecimalContext = apd.BaseContext.WithPrecision(2 * DecimalPrecision)

var decimalLimit = new(big.Int).Exp(big.NewInt(10), big.NewInt(DecimalPrecision), nil)

// parseDecimal parses an xsd:decimal lexical form into a scaled integer.
// Values with more than DecimalScale fractional digits or more than
// DecimalPrecision digits overall are rejected.
func parseDecimal(lex string) (decimal128.Num, bool) {
	if !validDecimalPart(lex, true) {
		return decimal128.Num{}, false
	}
	d, _, err := apd.NewFromString(lex)
	if err != nil {
		return decimal128.Num{}, false
	}
	if d.Exponent < -DecimalScale {
		// accept trailing zeros beyond the scale
		var reduced apd.Decimal
		reduced.Reduce(d)
		if reduced.Exponent < -DecimalScale {
			return decimal128.Num{}, false
		}
		d = &reduced
	}
	return DecimalFromApd(d)
}

// DecimalFromApd converts an apd decimal to the scaled representation,
// rounding half-even to DecimalScale digits. ok is false on overflow.
func DecimalFromApd(d *apd.Decimal) (decimal128.Num, bool) {
	if d.Form != apd.Finite {
		return decimal128.Num{}, false
	}
	var q apd.Decimal
	if _, err := DecimalContext.Quantize(&q, d, -DecimalScale); err != nil {
		return decimal128.Num{}, false
	}
	digits := strings.Replace(q.Text('f'), ".", "", 1)
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return decimal128.Num{}, false
	}
	if new(big.Int).Abs(n).Cmp(decimalLimit) >= 0 {
		return decimal128.Num{}, false
	}
	return decimal128.FromBigInt(n), true
}

// DecimalToApd converts a scaled decimal to an apd decimal.
func DecimalToApd(n decimal128.Num) *apd.Decimal {
	d, _, err := apd.NewFromString(n.BigInt().String() + "E-18")
	if err != nil {
		// a big.Int rendering always parses
		panic(err)
	}
	return d
}

// DecimalFromInt64 returns the scaled decimal of an integer.
func DecimalFromInt64(i int64) decimal128.Num {
	n, _ := DecimalFromApd(apd.New(i, 0))
	return n
}

// formatDecimal renders the canonical xsd:decimal form: no exponent, no
// trailing zeros, and at least one digit on each side of the point.
func formatDecimal(n decimal128.Num) string {
	d := DecimalToApd(n)
	var reduced apd.Decimal
	reduced.Reduce(d)
	s := reduced.Text('f')
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	if s == "-0.0" {
		s = "0.0"
	}
	return s
}

// DecimalFloat64 converts a scaled decimal to float64.
func DecimalFloat64(n decimal128.Num) float64 {
	f, _ := DecimalToApd(n).Float64()
	return f
}
