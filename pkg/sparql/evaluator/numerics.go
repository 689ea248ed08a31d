package evaluator

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

const (
	microsPerSecond = 1000000
	microsPerMinute = 60 * microsPerSecond
)

func registerNumericFunctions(r *Registry) {
	r.scalar("ABS", 1, 1, numericUnary(Abs))
	r.scalar("CEIL", 1, 1, numericUnary(Ceil))
	r.scalar("FLOOR", 1, 1, numericUnary(Floor))
	r.scalar("ROUND", 1, 1, numericUnary(Round))
	r.Register("RAND", &ScalarFunc{
		Sig: Signature{Name: "RAND", Volatile: true},
		Fn: func(*Env, []columnar.Value) columnar.Value {
			return columnar.Double(rand.Float64())
		},
	})
	r.scalar("NOW", 0, 0, now)

	r.scalar("YEAR", 1, 1, datePart(columnar.DTypeDate, func(t time.Time) int64 { return int64(t.Year()) }))
	r.scalar("MONTH", 1, 1, datePart(columnar.DTypeDate, func(t time.Time) int64 { return int64(t.Month()) }))
	r.scalar("DAY", 1, 1, datePart(columnar.DTypeDate, func(t time.Time) int64 { return int64(t.Day()) }))
	r.scalar("HOURS", 1, 1, datePart(columnar.DTypeTime, func(t time.Time) int64 { return int64(t.Hour()) }))
	r.scalar("MINUTES", 1, 1, datePart(columnar.DTypeTime, func(t time.Time) int64 { return int64(t.Minute()) }))
	r.scalar("SECONDS", 1, 1, seconds)
	r.scalar("TIMEZONE", 1, 1, timezone)
	r.scalar("TZ", 1, 1, tz)

	r.scalar("MD5", 1, 1, digest(md5.New))
	r.scalar("SHA1", 1, 1, digest(sha1.New))
	r.scalar("SHA256", 1, 1, digest(sha256.New))
	r.scalar("SHA384", 1, 1, digest(sha512.New384))
	r.scalar("SHA512", 1, 1, digest(sha512.New))
}

func numericUnary(fn func(columnar.Value) columnar.Value) RowFunc {
	return func(_ *Env, a []columnar.Value) columnar.Value {
		n, ok := numericValue(a[0])
		if !ok {
			return columnar.Error()
		}
		return fn(n)
	}
}

// decimalUnary applies an apd operation to a decimal value.
func decimalUnary(v columnar.Value, fn func(d, x *apd.Decimal) (apd.Condition, error)) columnar.Value {
	var out apd.Decimal
	if _, err := fn(&out, columnar.DecimalToApd(v.Decimal)); err != nil {
		return columnar.Error()
	}
	n, ok := columnar.DecimalFromApd(&out)
	if !ok {
		return columnar.Error()
	}
	return columnar.Decimal(n)
}

func floatResult(v columnar.Value, f float64) columnar.Value {
	if v.DType == columnar.DTypeFloat {
		return columnar.Float(float32(f))
	}
	return columnar.Double(f)
}

// Abs returns the absolute value of a numeric value.
func Abs(v columnar.Value) columnar.Value {
	switch classOf(v.DType) {
	case classInteger:
		if v.Int == math.MinInt64 {
			return columnar.Error()
		}
		if v.Int < 0 {
			return columnar.Integer(-v.Int)
		}
		return columnar.Integer(v.Int)
	case classDecimal:
		return decimalUnary(v, columnar.DecimalContext.Abs)
	}
	return floatResult(v, math.Abs(v.Float))
}

func Ceil(v columnar.Value) columnar.Value {
	switch classOf(v.DType) {
	case classInteger:
		return columnar.Integer(v.Int)
	case classDecimal:
		return decimalUnary(v, columnar.DecimalContext.Ceil)
	}
	return floatResult(v, math.Ceil(v.Float))
}

func Floor(v columnar.Value) columnar.Value {
	switch classOf(v.DType) {
	case classInteger:
		return columnar.Integer(v.Int)
	case classDecimal:
		return decimalUnary(v, columnar.DecimalContext.Floor)
	}
	return floatResult(v, math.Floor(v.Float))
}

// Round rounds half towards positive infinity.
func Round(v columnar.Value) columnar.Value {
	switch classOf(v.DType) {
	case classInteger:
		return columnar.Integer(v.Int)
	case classDecimal:
		return decimalUnary(v, func(d, x *apd.Decimal) (apd.Condition, error) {
			var shifted apd.Decimal
			if _, err := columnar.DecimalContext.Add(&shifted, x, apd.New(5, -1)); err != nil {
				return 0, err
			}
			return columnar.DecimalContext.Floor(d, &shifted)
		})
	}
	if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
		return v
	}
	return floatResult(v, math.Floor(v.Float+0.5))
}

func now(env *Env, _ []columnar.Value) columnar.Value {
	lex := env.Now.UTC().Format("2006-01-02T15:04:05.999999Z07:00")
	v, ok := columnar.ParseLexical(lex, rdf.XSDDateTime.IRI)
	if !ok {
		return columnar.Error()
	}
	return v
}

// temporalArg resolves a dateTime, or a value of the alternative dtype.
func temporalArg(v columnar.Value, alt columnar.DType) (columnar.Value, bool) {
	r := v.Resolve()
	return r, r.DType == columnar.DTypeDateTime || r.DType == alt
}

// localTime returns the wall clock of a temporal value in its own timezone.
func localTime(v columnar.Value) time.Time {
	return time.UnixMicro(v.Ticks + int64(v.Offset)*microsPerMinute).UTC()
}

func datePart(alt columnar.DType, fn func(time.Time) int64) RowFunc {
	return func(_ *Env, a []columnar.Value) columnar.Value {
		v, ok := temporalArg(a[0], alt)
		if !ok {
			return columnar.Error()
		}
		return columnar.Integer(fn(localTime(v)))
	}
}

func seconds(_ *Env, a []columnar.Value) columnar.Value {
	v, ok := temporalArg(a[0], columnar.DTypeTime)
	if !ok {
		return columnar.Error()
	}
	t := localTime(v)
	micros := int64(t.Second())*microsPerSecond + int64(t.Nanosecond()/1000)
	n, ok := columnar.DecimalFromApd(apd.New(micros, -6))
	if !ok {
		return columnar.Error()
	}
	return columnar.Decimal(n)
}

func timezone(_ *Env, a []columnar.Value) columnar.Value {
	v := a[0].Resolve()
	if !v.DType.IsTemporal() || !v.HasTZ {
		return columnar.Error()
	}
	return columnar.Value{DType: columnar.DTypeDayTimeDuration, Ticks: int64(v.Offset) * microsPerMinute}
}

func tz(_ *Env, a []columnar.Value) columnar.Value {
	v := a[0].Resolve()
	if !v.DType.IsTemporal() {
		return columnar.Error()
	}
	if !v.HasTZ {
		return columnar.String("")
	}
	if v.Offset == 0 {
		return columnar.String("Z")
	}
	offset := int(v.Offset)
	var sb strings.Builder
	if offset < 0 {
		sb.WriteByte('-')
		offset = -offset
	} else {
		sb.WriteByte('+')
	}
	writeTwoDigits(&sb, offset/60)
	sb.WriteByte(':')
	writeTwoDigits(&sb, offset%60)
	return columnar.String(sb.String())
}

func writeTwoDigits(sb *strings.Builder, n int) {
	if n < 10 {
		sb.WriteByte('0')
	}
	sb.WriteString(strconv.Itoa(n))
}

func digest(newHash func() hash.Hash) RowFunc {
	return func(_ *Env, a []columnar.Value) columnar.Value {
		lex, ok := simpleString(a[0])
		if !ok {
			return columnar.Error()
		}
		h := newHash()
		h.Write([]byte(lex))
		return columnar.String(hex.EncodeToString(h.Sum(nil)))
	}
}
