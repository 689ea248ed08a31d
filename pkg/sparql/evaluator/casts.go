package evaluator

import (
	"math"
	"math/big"
	"strings"

	"github.com/cockroachdb/apd/v3"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

var decimalScaleFactor = new(big.Int).Exp(big.NewInt(10), big.NewInt(columnar.DecimalScale), nil)

func registerCasts(r *Registry) {
	casts := map[*rdf.NamedNode]func(columnar.Value) columnar.Value{
		rdf.XSDString:            castString,
		rdf.XSDBoolean:           castBoolean,
		rdf.XSDInteger:           castInteger,
		rdf.XSDDecimal:           castDecimal,
		rdf.XSDFloat:             castFloat,
		rdf.XSDDouble:            castDouble,
		rdf.XSDDateTime:          castDateTime,
		rdf.XSDDate:              castDate,
		rdf.XSDTime:              castTime,
		rdf.XSDDuration:          castDuration(columnar.DTypeDuration),
		rdf.XSDDayTimeDuration:   castDuration(columnar.DTypeDayTimeDuration),
		rdf.XSDYearMonthDuration: castDuration(columnar.DTypeYearMonthDuration),
	}
	for dt, cast := range casts {
		r.scalar(dt.IRI, 1, 1, func(_ *Env, a []columnar.Value) columnar.Value {
			return cast(a[0])
		})
	}
}

// parseCastString parses a string literal as the target datatype.
func parseCastString(v columnar.Value, target *rdf.NamedNode) (columnar.Value, bool) {
	lex, ok := simpleString(v)
	if !ok {
		return columnar.Value{}, false
	}
	r, ok := columnar.ParseLexical(strings.TrimSpace(lex), target.IRI)
	return r, ok
}

func castString(v columnar.Value) columnar.Value {
	switch t := v.AsTerm().(type) {
	case *rdf.NamedNode:
		return columnar.String(t.IRI)
	case *rdf.Literal:
		return columnar.String(t.Value)
	}
	return columnar.Error()
}

func castBoolean(v columnar.Value) columnar.Value {
	if r, ok := parseCastString(v, rdf.XSDBoolean); ok {
		return r
	}
	r := v.Resolve()
	switch {
	case r.DType == columnar.DTypeBoolean:
		return r
	case r.DType.IsNumeric():
		ebv, _ := EffectiveBooleanValue(r)
		return columnar.Boolean(ebv)
	}
	return columnar.Error()
}

func castInteger(v columnar.Value) columnar.Value {
	if r, ok := parseCastString(v, rdf.XSDInteger); ok {
		return r
	}
	r := v.Resolve()
	switch {
	case r.DType == columnar.DTypeBoolean:
		return columnar.Integer(int64(boolInt(r.Bool)))
	case r.DType.IsInteger():
		return columnar.Integer(r.Int)
	case r.DType == columnar.DTypeDecimal:
		q := new(big.Int).Quo(r.Decimal.BigInt(), decimalScaleFactor)
		if !q.IsInt64() {
			return columnar.Error()
		}
		return columnar.Integer(q.Int64())
	case r.DType == columnar.DTypeFloat || r.DType == columnar.DTypeDouble:
		f := math.Trunc(r.Float)
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return columnar.Error()
		}
		return columnar.Integer(int64(f))
	}
	return columnar.Error()
}

func castDecimal(v columnar.Value) columnar.Value {
	if r, ok := parseCastString(v, rdf.XSDDecimal); ok {
		return r
	}
	r := v.Resolve()
	switch {
	case r.DType == columnar.DTypeBoolean:
		return columnar.Decimal(columnar.DecimalFromInt64(int64(boolInt(r.Bool))))
	case r.DType.IsInteger():
		return columnar.Decimal(columnar.DecimalFromInt64(r.Int))
	case r.DType == columnar.DTypeDecimal:
		return r
	case r.DType == columnar.DTypeFloat || r.DType == columnar.DTypeDouble:
		d, err := new(apd.Decimal).SetFloat64(r.Float)
		if err != nil {
			return columnar.Error()
		}
		n, ok := columnar.DecimalFromApd(d)
		if !ok {
			return columnar.Error()
		}
		return columnar.Decimal(n)
	}
	return columnar.Error()
}

func castDouble(v columnar.Value) columnar.Value {
	if r, ok := parseCastString(v, rdf.XSDDouble); ok {
		return r
	}
	r := v.Resolve()
	switch {
	case r.DType == columnar.DTypeBoolean:
		return columnar.Double(float64(boolInt(r.Bool)))
	case r.DType.IsNumeric():
		return columnar.Double(asFloat(r))
	}
	return columnar.Error()
}

func castFloat(v columnar.Value) columnar.Value {
	d := castDouble(v)
	if d.DType != columnar.DTypeDouble {
		return d
	}
	return columnar.Float(float32(d.Float))
}

func castDateTime(v columnar.Value) columnar.Value {
	if r, ok := parseCastString(v, rdf.XSDDateTime); ok {
		return r
	}
	r := v.Resolve()
	switch r.DType {
	case columnar.DTypeDateTime:
		return r
	case columnar.DTypeDate:
		r.DType = columnar.DTypeDateTime
		return r
	}
	return columnar.Error()
}

// castDate drops the time of day, keeping the timezone.
func castDate(v columnar.Value) columnar.Value {
	if r, ok := parseCastString(v, rdf.XSDDate); ok {
		return r
	}
	r := v.Resolve()
	switch r.DType {
	case columnar.DTypeDate:
		return r
	case columnar.DTypeDateTime:
		offset := int64(r.Offset) * microsPerMinute
		wall := r.Ticks + offset
		wall -= floorMod(wall, 24*60*microsPerMinute)
		r.DType = columnar.DTypeDate
		r.Ticks = wall - offset
		return r
	}
	return columnar.Error()
}

func castTime(v columnar.Value) columnar.Value {
	if r, ok := parseCastString(v, rdf.XSDTime); ok {
		return r
	}
	r := v.Resolve()
	switch r.DType {
	case columnar.DTypeTime:
		return r
	case columnar.DTypeDateTime:
		offset := int64(r.Offset) * microsPerMinute
		r.DType = columnar.DTypeTime
		r.Ticks = floorMod(r.Ticks+offset, 24*60*microsPerMinute) - offset
		return r
	}
	return columnar.Error()
}

func castDuration(target columnar.DType) func(columnar.Value) columnar.Value {
	return func(v columnar.Value) columnar.Value {
		if r, ok := parseCastString(v, target.Datatype()); ok {
			return r
		}
		r := v.Resolve()
		if !r.DType.IsDuration() {
			return columnar.Error()
		}
		switch target {
		case columnar.DTypeDayTimeDuration:
			r.Months = 0
		case columnar.DTypeYearMonthDuration:
			r.Ticks = 0
		}
		r.DType = target
		return r
	}
}

func floorMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
