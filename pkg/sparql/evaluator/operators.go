package evaluator

import (
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/decimal128"
	"github.com/cockroachdb/apd/v3"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
)

// maxTimezoneSpread is the widest timezone offset, used to order temporal
// values where only one side carries a timezone.
const maxTimezoneSpread = 14 * 60 * 60 * 1000000

// EffectiveBooleanValue computes the EBV of a value. ok is false when the
// EBV is a type error.
func EffectiveBooleanValue(v columnar.Value) (value bool, ok bool) {
	r := v.Resolve()
	switch {
	case r.DType == columnar.DTypeBoolean:
		return r.Bool, true
	case r.DType.IsInteger():
		return r.Int != 0, true
	case r.DType == columnar.DTypeDecimal:
		return r.Decimal != (decimal128.Num{}), true
	case r.DType == columnar.DTypeFloat || r.DType == columnar.DTypeDouble:
		return r.Float != 0 && !math.IsNaN(r.Float), true
	case r.DType == columnar.DTypeTerm:
		lit, isLit := r.Term.(*rdf.Literal)
		if !isLit {
			return false, false
		}
		if lit.IsSimple() {
			return lit.Value != "", true
		}
		if dt, known := columnar.DTypeForDatatype(lit.DatatypeIRI()); known && (dt == columnar.DTypeBoolean || dt.IsNumeric()) {
			// ill-typed boolean or numeric literal
			return false, true
		}
		return false, false
	}
	return false, false
}

// numericClass orders numeric types for promotion.
type numericClass int

const (
	classInteger numericClass = iota
	classDecimal
	classFloat
	classDouble
)

func classOf(d columnar.DType) numericClass {
	switch {
	case d.IsInteger():
		return classInteger
	case d == columnar.DTypeDecimal:
		return classDecimal
	case d == columnar.DTypeFloat:
		return classFloat
	}
	return classDouble
}

func asFloat(v columnar.Value) float64 {
	switch {
	case v.DType.IsInteger():
		return float64(v.Int)
	case v.DType == columnar.DTypeDecimal:
		return columnar.DecimalFloat64(v.Decimal)
	}
	return v.Float
}

func asApd(v columnar.Value) *apd.Decimal {
	if v.DType.IsInteger() {
		return apd.New(v.Int, 0)
	}
	return columnar.DecimalToApd(v.Decimal)
}

// numericValue resolves v and reports whether it is numeric.
func numericValue(v columnar.Value) (columnar.Value, bool) {
	r := v.Resolve()
	return r, r.DType.IsNumeric()
}

// simpleString returns the lexical form of a simple literal.
func simpleString(v columnar.Value) (string, bool) {
	if v.DType != columnar.DTypeTerm {
		return "", false
	}
	lit, ok := v.Term.(*rdf.Literal)
	if !ok || !lit.IsSimple() {
		return "", false
	}
	return lit.Value, true
}

// langString returns the lexical form and tag of a language-tagged literal.
func langString(v columnar.Value) (string, string, bool) {
	if v.DType != columnar.DTypeTerm {
		return "", "", false
	}
	lit, ok := v.Term.(*rdf.Literal)
	if !ok || lit.Language == "" {
		return "", "", false
	}
	return lit.Value, lit.Language, true
}

// SameTerm reports whether two values are the same RDF term.
func SameTerm(a, b columnar.Value) bool {
	if !a.IsValid() || !b.IsValid() {
		return false
	}
	ta, tb := a.AsTerm(), b.AsTerm()
	return ta.Equals(tb)
}

// compareOutcome is the result of ordering two values with an operator.
type compareOutcome int

const (
	outcomeOrdered compareOutcome = iota
	// outcomeUnordered means neither <, = nor > holds (NaN).
	outcomeUnordered
	outcomeError
)

func sign[T int64 | float64 | int](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareNumeric(a, b columnar.Value) (int, compareOutcome) {
	switch cls := max(classOf(a.DType), classOf(b.DType)); cls {
	case classInteger:
		return sign(a.Int, b.Int), outcomeOrdered
	case classDecimal:
		return asApd(a).Cmp(asApd(b)), outcomeOrdered
	default:
		fa, fb := asFloat(a), asFloat(b)
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return 0, outcomeUnordered
		}
		return sign(fa, fb), outcomeOrdered
	}
}

// compareTemporal orders two temporal values of the same type. Values where
// only one side has a timezone are ordered only when they are further apart
// than any timezone can account for.
func compareTemporal(a, b columnar.Value) (int, compareOutcome) {
	if a.HasTZ == b.HasTZ {
		return sign(a.Ticks, b.Ticks), outcomeOrdered
	}
	diff := a.Ticks - b.Ticks
	switch {
	case diff > maxTimezoneSpread:
		return 1, outcomeOrdered
	case diff < -maxTimezoneSpread:
		return -1, outcomeOrdered
	}
	return 0, outcomeError
}

func compareDuration(a, b columnar.Value) (int, compareOutcome) {
	switch {
	case a.Months == b.Months:
		return sign(a.Ticks, b.Ticks), outcomeOrdered
	case a.Ticks == b.Ticks:
		return sign(a.Months, b.Months), outcomeOrdered
	}
	return 0, outcomeError
}

// compareValues orders two resolved values for the relational operators.
func compareValues(a, b columnar.Value) (int, compareOutcome) {
	switch {
	case a.DType.IsNumeric() && b.DType.IsNumeric():
		return compareNumeric(a, b)
	case a.DType == columnar.DTypeBoolean && b.DType == columnar.DTypeBoolean:
		return sign(boolInt(a.Bool), boolInt(b.Bool)), outcomeOrdered
	case a.DType.IsTemporal() && a.DType == b.DType:
		return compareTemporal(a, b)
	case a.DType.IsDuration() && b.DType.IsDuration():
		return compareDuration(a, b)
	}
	if sa, ok := simpleString(a); ok {
		if sb, ok := simpleString(b); ok {
			return strings.Compare(sa, sb), outcomeOrdered
		}
	}
	return 0, outcomeError
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ValueEqual implements the = operator. ok is false on a type error.
func ValueEqual(a, b columnar.Value) (equal bool, ok bool) {
	if !a.IsValid() || !b.IsValid() {
		return false, false
	}
	ra, rb := a.Resolve(), b.Resolve()
	switch {
	case ra.DType.IsNumeric() && rb.DType.IsNumeric(),
		ra.DType == columnar.DTypeBoolean && rb.DType == columnar.DTypeBoolean,
		ra.DType.IsTemporal() && ra.DType == rb.DType,
		ra.DType.IsDuration() && rb.DType.IsDuration():
		c, outcome := compareValues(ra, rb)
		switch outcome {
		case outcomeOrdered:
			return c == 0, true
		case outcomeUnordered:
			return false, true
		}
		return false, false
	}
	if sa, ok := simpleString(ra); ok {
		if sb, ok := simpleString(rb); ok {
			return sa == sb, true
		}
	}
	if la, ta, ok := langString(ra); ok {
		if lb, tb, ok := langString(rb); ok {
			return la == lb && strings.EqualFold(ta, tb), true
		}
	}
	if SameTerm(a, b) {
		return true, true
	}
	_, litA := ra.AsTerm().(*rdf.Literal)
	_, litB := rb.AsTerm().(*rdf.Literal)
	if litA && litB {
		// distinct literals of incomparable datatypes
		return false, false
	}
	return false, true
}

// ValueCompare applies a relational operator to two values.
func ValueCompare(op algebra.Operator, a, b columnar.Value) columnar.Value {
	switch op {
	case algebra.OpEqual, algebra.OpNotEqual:
		eq, ok := ValueEqual(a, b)
		if !ok {
			return columnar.Error()
		}
		return columnar.Boolean(eq == (op == algebra.OpEqual))
	}
	if !a.IsValid() || !b.IsValid() {
		return columnar.Error()
	}
	c, outcome := compareValues(a.Resolve(), b.Resolve())
	switch outcome {
	case outcomeError:
		return columnar.Error()
	case outcomeUnordered:
		return columnar.Boolean(false)
	}
	switch op {
	case algebra.OpLess:
		return columnar.Boolean(c < 0)
	case algebra.OpLessEqual:
		return columnar.Boolean(c <= 0)
	case algebra.OpGreater:
		return columnar.Boolean(c > 0)
	case algebra.OpGreaterEqual:
		return columnar.Boolean(c >= 0)
	}
	return columnar.Error()
}

// Arithmetic applies a numeric binary operator with type promotion.
// Integer division yields a decimal; division by zero is an error for
// integers and decimals and follows IEEE 754 for float and double.
func Arithmetic(op algebra.Operator, a, b columnar.Value) columnar.Value {
	ra, okA := numericValue(a)
	rb, okB := numericValue(b)
	if !okA || !okB {
		return columnar.Error()
	}
	cls := max(classOf(ra.DType), classOf(rb.DType))
	if cls == classInteger && op == algebra.OpDivide {
		cls = classDecimal
	}
	switch cls {
	case classInteger:
		return integerArithmetic(op, ra.Int, rb.Int)
	case classDecimal:
		return decimalArithmetic(op, asApd(ra), asApd(rb))
	case classFloat:
		return columnar.Float(float32(floatArithmetic(op, asFloat(ra), asFloat(rb))))
	}
	return columnar.Double(floatArithmetic(op, asFloat(ra), asFloat(rb)))
}

func integerArithmetic(op algebra.Operator, a, b int64) columnar.Value {
	var r int64
	switch op {
	case algebra.OpAdd:
		r = a + b
		if (r > a) != (b > 0) {
			return columnar.Error()
		}
	case algebra.OpSubtract:
		r = a - b
		if (r < a) != (b > 0) {
			return columnar.Error()
		}
	case algebra.OpMultiply:
		if a == 0 || b == 0 {
			return columnar.Integer(0)
		}
		r = a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return columnar.Error()
		}
	default:
		return columnar.Error()
	}
	return columnar.Integer(r)
}

func decimalArithmetic(op algebra.Operator, a, b *apd.Decimal) columnar.Value {
	var r apd.Decimal
	var err error
	switch op {
	case algebra.OpAdd:
		_, err = columnar.DecimalContext.Add(&r, a, b)
	case algebra.OpSubtract:
		_, err = columnar.DecimalContext.Sub(&r, a, b)
	case algebra.OpMultiply:
		_, err = columnar.DecimalContext.Mul(&r, a, b)
	case algebra.OpDivide:
		if b.IsZero() {
			return columnar.Error()
		}
		_, err = columnar.DecimalContext.Quo(&r, a, b)
	}
	if err != nil {
		return columnar.Error()
	}
	n, ok := columnar.DecimalFromApd(&r)
	if !ok {
		return columnar.Error()
	}
	return columnar.Decimal(n)
}

func floatArithmetic(op algebra.Operator, a, b float64) float64 {
	switch op {
	case algebra.OpAdd:
		return a + b
	case algebra.OpSubtract:
		return a - b
	case algebra.OpMultiply:
		return a * b
	}
	return a / b
}

// Negate implements unary minus.
func Negate(v columnar.Value) columnar.Value {
	r, ok := numericValue(v)
	if !ok {
		return columnar.Error()
	}
	switch classOf(r.DType) {
	case classInteger:
		if r.Int == math.MinInt64 {
			return columnar.Error()
		}
		return columnar.Integer(-r.Int)
	case classDecimal:
		var d apd.Decimal
		d.Neg(asApd(r))
		n, ok := columnar.DecimalFromApd(&d)
		if !ok {
			return columnar.Error()
		}
		return columnar.Decimal(n)
	case classFloat:
		return columnar.Float(float32(-r.Float))
	}
	return columnar.Double(-r.Float)
}

type logicalExpr struct {
	op          algebra.Operator
	left, right Expr
}

// logical applies three-valued AND/OR. An error operand is absorbed when
// the other operand decides the result.
func logical(op algebra.Operator, a, b columnar.Value) columnar.Value {
	va, okA := EffectiveBooleanValue(a)
	vb, okB := EffectiveBooleanValue(b)
	if op == algebra.OpAnd {
		switch {
		case okA && !va, okB && !vb:
			return columnar.Boolean(false)
		case okA && okB:
			return columnar.Boolean(true)
		}
		return columnar.Error()
	}
	switch {
	case okA && va, okB && vb:
		return columnar.Boolean(true)
	case okA && okB:
		return columnar.Boolean(false)
	}
	return columnar.Error()
}

func (e *logicalExpr) Eval(b *Batch) (Vector, error) {
	left, err := e.left.Eval(b)
	if err != nil {
		return nil, err
	}
	right, err := e.right.Eval(b)
	if err != nil {
		return nil, err
	}
	return mapBinary(left, right, b.rows, func(x, y columnar.Value) columnar.Value {
		return logical(e.op, x, y)
	}), nil
}

func (e *logicalExpr) Variables() []string { return collectVariables(e.left, e.right) }

func (e *logicalExpr) Deterministic() bool { return allDeterministic(e.left, e.right) }

type compareExpr struct {
	op          algebra.Operator
	left, right Expr
}

func (e *compareExpr) Eval(b *Batch) (Vector, error) {
	left, err := e.left.Eval(b)
	if err != nil {
		return nil, err
	}
	right, err := e.right.Eval(b)
	if err != nil {
		return nil, err
	}
	if out, ok := compareInt64Fast(e.op, left, right, b.rows); ok {
		return out, nil
	}
	return mapBinary(left, right, b.rows, func(x, y columnar.Value) columnar.Value {
		return ValueCompare(e.op, x, y)
	}), nil
}

func (e *compareExpr) Variables() []string { return collectVariables(e.left, e.right) }

func (e *compareExpr) Deterministic() bool { return allDeterministic(e.left, e.right) }

type arithmeticExpr struct {
	op          algebra.Operator
	left, right Expr
}

func (e *arithmeticExpr) Eval(b *Batch) (Vector, error) {
	left, err := e.left.Eval(b)
	if err != nil {
		return nil, err
	}
	right, err := e.right.Eval(b)
	if err != nil {
		return nil, err
	}
	return mapBinary(left, right, b.rows, func(x, y columnar.Value) columnar.Value {
		return Arithmetic(e.op, x, y)
	}), nil
}

func (e *arithmeticExpr) Variables() []string { return collectVariables(e.left, e.right) }

func (e *arithmeticExpr) Deterministic() bool { return allDeterministic(e.left, e.right) }

type unaryExpr struct {
	op      algebra.Operator
	operand Expr
}

func (e *unaryExpr) Eval(b *Batch) (Vector, error) {
	v, err := e.operand.Eval(b)
	if err != nil {
		return nil, err
	}
	return mapUnary(v, b.rows, func(x columnar.Value) columnar.Value {
		switch e.op {
		case algebra.OpNot:
			ebv, ok := EffectiveBooleanValue(x)
			if !ok {
				return columnar.Error()
			}
			return columnar.Boolean(!ebv)
		case algebra.OpNegate:
			return Negate(x)
		}
		if _, ok := numericValue(x); !ok {
			return columnar.Error()
		}
		return x
	}), nil
}

func (e *unaryExpr) Variables() []string { return e.operand.Variables() }

func (e *unaryExpr) Deterministic() bool { return e.operand.Deterministic() }

type inExpr struct {
	needle Expr
	list   []Expr
	not    bool
}

// Eval implements IN as a disjunction of equalities: an error comparison
// only matters when no list member matches.
func (e *inExpr) Eval(b *Batch) (Vector, error) {
	needle, err := e.needle.Eval(b)
	if err != nil {
		return nil, err
	}
	items, err := evalArgs(b, e.list)
	if err != nil {
		return nil, err
	}
	out := make(Values, b.rows)
	for i := range out {
		v := needle.At(i)
		found, failed := false, false
		for _, item := range items {
			eq, ok := ValueEqual(v, item.At(i))
			if !ok {
				failed = true
				continue
			}
			if eq {
				found = true
				break
			}
		}
		switch {
		case found:
			out[i] = columnar.Boolean(!e.not)
		case failed:
			out[i] = columnar.Error()
		default:
			out[i] = columnar.Boolean(e.not)
		}
	}
	return out, nil
}

func (e *inExpr) Variables() []string {
	return collectVariables(append([]Expr{e.needle}, e.list...)...)
}

func (e *inExpr) Deterministic() bool {
	return allDeterministic(append([]Expr{e.needle}, e.list...)...)
}

type boundExpr struct {
	arg Expr
}

func (e *boundExpr) Eval(b *Batch) (Vector, error) {
	v, err := e.arg.Eval(b)
	if err != nil {
		return nil, err
	}
	return mapUnary(v, b.rows, func(x columnar.Value) columnar.Value {
		return columnar.Boolean(x.IsValid())
	}), nil
}

func (e *boundExpr) Variables() []string { return e.arg.Variables() }

func (e *boundExpr) Deterministic() bool { return true }

type ifExpr struct {
	cond, then, otherwise Expr
}

func (e *ifExpr) Eval(b *Batch) (Vector, error) {
	vs, err := evalArgs(b, []Expr{e.cond, e.then, e.otherwise})
	if err != nil {
		return nil, err
	}
	out := make(Values, b.rows)
	for i := range out {
		ebv, ok := EffectiveBooleanValue(vs[0].At(i))
		switch {
		case !ok:
			out[i] = columnar.Error()
		case ebv:
			out[i] = vs[1].At(i)
		default:
			out[i] = vs[2].At(i)
		}
	}
	return out, nil
}

func (e *ifExpr) Variables() []string { return collectVariables(e.cond, e.then, e.otherwise) }

func (e *ifExpr) Deterministic() bool { return allDeterministic(e.cond, e.then, e.otherwise) }

type coalesceExpr struct {
	args []Expr
}

func (e *coalesceExpr) Eval(b *Batch) (Vector, error) {
	vs, err := evalArgs(b, e.args)
	if err != nil {
		return nil, err
	}
	out := make(Values, b.rows)
	for i := range out {
		out[i] = columnar.Error()
		for _, v := range vs {
			if x := v.At(i); x.IsValid() {
				out[i] = x
				break
			}
		}
	}
	return out, nil
}

func (e *coalesceExpr) Variables() []string { return collectVariables(e.args...) }

func (e *coalesceExpr) Deterministic() bool { return allDeterministic(e.args...) }

func mapUnary(v Vector, rows int, fn func(columnar.Value) columnar.Value) Vector {
	if c, ok := v.(Constant); ok {
		return Constant{Value: fn(c.Value), N: rows}
	}
	out := make(Values, rows)
	for i := range out {
		out[i] = fn(v.At(i))
	}
	return out
}

func mapBinary(a, b Vector, rows int, fn func(x, y columnar.Value) columnar.Value) Vector {
	if allConstant([]Vector{a, b}) {
		return Constant{Value: fn(a.At(0), b.At(0)), N: rows}
	}
	out := make(Values, rows)
	for i := range out {
		out[i] = fn(a.At(i), b.At(i))
	}
	return out
}

// int64Operand returns the raw integers of a typed column whose rows are
// all xsd:integer, or of an integer constant.
func int64Operand(v Vector) (values []int64, constant int64, isConst bool, ok bool) {
	switch x := v.(type) {
	case Constant:
		if x.Value.DType == columnar.DTypeInteger {
			return nil, x.Value.Int, true, true
		}
	case ColumnVector:
		tc, isTyped := x.Column.(*columnar.TypedColumn)
		if !isTyped {
			return nil, 0, false, false
		}
		for i := 0; i < tc.Len(); i++ {
			if tc.DType(i) != columnar.DTypeInteger {
				return nil, 0, false, false
			}
		}
		return tc.Int64Values(), 0, false, true
	}
	return nil, 0, false, false
}

// compareInt64Fast compares integer columns directly on their Arrow values.
func compareInt64Fast(op algebra.Operator, left, right Vector, rows int) (Vector, bool) {
	lv, lc, lConst, ok := int64Operand(left)
	if !ok {
		return nil, false
	}
	rv, rc, rConst, ok := int64Operand(right)
	if !ok || (lConst && rConst) {
		return nil, false
	}
	out := make(Values, rows)
	for i := range out {
		a, b := lc, rc
		if !lConst {
			a = lv[i]
		}
		if !rConst {
			b = rv[i]
		}
		var r bool
		switch op {
		case algebra.OpEqual:
			r = a == b
		case algebra.OpNotEqual:
			r = a != b
		case algebra.OpLess:
			r = a < b
		case algebra.OpLessEqual:
			r = a <= b
		case algebra.OpGreater:
			r = a > b
		case algebra.OpGreaterEqual:
			r = a >= b
		}
		out[i] = columnar.Boolean(r)
	}
	return out, true
}
