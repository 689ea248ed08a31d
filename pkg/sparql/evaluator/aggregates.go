package evaluator

import (
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/algebra"
)

// Accumulator folds the values of one group into an aggregate result.
type Accumulator interface {
	Add(v columnar.Value)
	Result() columnar.Value
}

// RowAccumulator is an accumulator over whole solutions rather than one
// value per row. It is returned for COUNT(DISTINCT *).
type RowAccumulator interface {
	Accumulator
	// AddRow adds a solution identified by key.
	AddRow(key []byte)
}

// NewAccumulator returns an accumulator for an aggregate. For COUNT(*) the
// expression is nil and every added value is counted. COUNT(DISTINCT *)
// yields a RowAccumulator, which is fed through AddRow.
func NewAccumulator(agg *algebra.AggregateExpression) Accumulator {
	if agg.Function == algebra.AggCount && agg.Expr == nil && agg.Distinct {
		return &distinctRowCounter{seen: make(map[string]struct{})}
	}
	var acc Accumulator
	switch agg.Function {
	case algebra.AggCount:
		acc = &countAccumulator{star: agg.Expr == nil}
	case algebra.AggSum:
		acc = &sumAccumulator{sum: columnar.Integer(0)}
	case algebra.AggAvg:
		acc = &avgAccumulator{sum: sumAccumulator{sum: columnar.Integer(0)}}
	case algebra.AggMin:
		acc = &extremeAccumulator{want: -1}
	case algebra.AggMax:
		acc = &extremeAccumulator{want: 1}
	case algebra.AggGroupConcat:
		sep := agg.Separator
		if sep == "" {
			sep = " "
		}
		acc = &concatAccumulator{separator: sep}
	default:
		acc = &sampleAccumulator{}
	}
	if agg.Distinct {
		acc = &distinctAccumulator{inner: acc, seen: make(map[string]struct{})}
	}
	return acc
}

type countAccumulator struct {
	star  bool
	count int64
}

func (a *countAccumulator) Add(v columnar.Value) {
	if a.star || v.IsValid() {
		a.count++
	}
}

func (a *countAccumulator) Result() columnar.Value { return columnar.Integer(a.count) }

// distinctRowCounter counts distinct solutions.
type distinctRowCounter struct {
	seen map[string]struct{}
}

// Add is a no-op: solutions arrive through AddRow.
func (a *distinctRowCounter) Add(columnar.Value) {}

func (a *distinctRowCounter) AddRow(key []byte) {
	if _, dup := a.seen[string(key)]; !dup {
		a.seen[string(key)] = struct{}{}
	}
}

func (a *distinctRowCounter) Result() columnar.Value {
	return columnar.Integer(int64(len(a.seen)))
}

// sumAccumulator skips unbound and error inputs. A non-numeric term makes
// the sum an error.
type sumAccumulator struct {
	sum columnar.Value
}

func (a *sumAccumulator) Add(v columnar.Value) {
	if !v.IsValid() || a.sum.IsError() {
		return
	}
	a.sum = Arithmetic(algebra.OpAdd, a.sum, v)
}

func (a *sumAccumulator) Result() columnar.Value { return a.sum }

type avgAccumulator struct {
	sum   sumAccumulator
	count int64
}

func (a *avgAccumulator) Add(v columnar.Value) {
	if !v.IsValid() {
		return
	}
	a.sum.Add(v)
	a.count++
}

func (a *avgAccumulator) Result() columnar.Value {
	if a.count == 0 {
		return columnar.Integer(0)
	}
	return Arithmetic(algebra.OpDivide, a.sum.Result(), columnar.Integer(a.count))
}

type extremeAccumulator struct {
	want int
	best columnar.Value
}

func (a *extremeAccumulator) Add(v columnar.Value) {
	if !v.IsValid() {
		return
	}
	if !a.best.IsValid() || OrderCompare(v, a.best) == a.want {
		a.best = v
	}
}

func (a *extremeAccumulator) Result() columnar.Value { return a.best }

type concatAccumulator struct {
	separator string
	parts     []string
	failed    bool
}

func (a *concatAccumulator) Add(v columnar.Value) {
	if !v.IsValid() || a.failed {
		return
	}
	s := str(nil, []columnar.Value{v})
	lex, ok := simpleString(s)
	if !ok {
		a.failed = true
		return
	}
	a.parts = append(a.parts, lex)
}

func (a *concatAccumulator) Result() columnar.Value {
	if a.failed {
		return columnar.Error()
	}
	return columnar.String(strings.Join(a.parts, a.separator))
}

type sampleAccumulator struct {
	value columnar.Value
}

func (a *sampleAccumulator) Add(v columnar.Value) {
	if !a.value.IsValid() && v.IsValid() {
		a.value = v
	}
}

func (a *sampleAccumulator) Result() columnar.Value { return a.value }

// distinctAccumulator forwards each distinct term once.
type distinctAccumulator struct {
	inner Accumulator
	seen  map[string]struct{}
}

func (a *distinctAccumulator) Add(v columnar.Value) {
	key := ValueKey(v)
	if _, dup := a.seen[key]; dup {
		return
	}
	a.seen[key] = struct{}{}
	a.inner.Add(v)
}

func (a *distinctAccumulator) Result() columnar.Value { return a.inner.Result() }

// ValueKey returns a key identifying the term of a value. Unbound and error
// values share the empty key.
func ValueKey(v columnar.Value) string {
	if !v.IsValid() {
		return ""
	}
	return string(columnar.TermKey(v.AsTerm()))
}
