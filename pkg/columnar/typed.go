package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// TypedBuilder builds typed-encoded term columns.
type TypedBuilder struct {
	dtype   *array.Uint8Builder
	boolean *array.BooleanBuilder
	integer *array.Int64Builder
	double  *array.Float64Builder
	decimal *array.Decimal128Builder
	ticks   *array.Int64Builder
	offset  *array.Int16Builder
	months  *array.Int64Builder
	term    *PlainBuilder
}

func NewTypedBuilder(mem memory.Allocator) *TypedBuilder {
	return &TypedBuilder{
		dtype:   array.NewUint8Builder(mem),
		boolean: array.NewBooleanBuilder(mem),
		integer: array.NewInt64Builder(mem),
		double:  array.NewFloat64Builder(mem),
		decimal: array.NewDecimal128Builder(mem, decimalType),
		ticks:   array.NewInt64Builder(mem),
		offset:  array.NewInt16Builder(mem),
		months:  array.NewInt64Builder(mem),
		term:    NewPlainBuilder(mem),
	}
}

func (b *TypedBuilder) Encoding() Encoding { return EncodingTyped }

func (b *TypedBuilder) Len() int { return b.dtype.Len() }

func (b *TypedBuilder) AppendNull() {
	b.AppendValue(Unbound())
}

// AppendTerm appends a term, decoding it natively when eligible.
func (b *TypedBuilder) AppendTerm(t rdf.Term) {
	b.AppendValue(FromTerm(t))
}

// AppendValue appends a value as is. Opaque values are not re-decoded.
func (b *TypedBuilder) AppendValue(v Value) {
	if v.DType == DTypeUnbound {
		b.dtype.AppendNull()
	} else {
		b.dtype.Append(uint8(v.DType))
	}
	b.boolean.Append(v.Bool)
	b.integer.Append(v.Int)
	b.double.Append(v.Float)
	b.decimal.Append(v.Decimal)
	b.ticks.Append(v.Ticks)
	if v.HasTZ {
		b.offset.Append(v.Offset)
	} else {
		b.offset.AppendNull()
	}
	b.months.Append(v.Months)
	if v.DType == DTypeTerm {
		b.term.AppendTerm(v.Term)
	} else {
		b.term.AppendNull()
	}
}

// AppendFrom copies row i of c. Plain rows are decoded when eligible.
func (b *TypedBuilder) AppendFrom(c Column, i int) {
	if _, ok := c.(*TypedColumn); ok {
		b.AppendValue(c.Value(i))
		return
	}
	b.AppendTerm(c.Term(i))
}

func (b *TypedBuilder) NewColumn() Column {
	return b.NewTypedColumn()
}

func (b *TypedBuilder) NewTypedColumn() *TypedColumn {
	term := b.term.NewPlainColumn()
	cols := []arrow.Array{
		b.dtype.NewArray(),
		b.boolean.NewArray(),
		b.integer.NewArray(),
		b.double.NewArray(),
		b.decimal.NewArray(),
		b.ticks.NewArray(),
		b.offset.NewArray(),
		b.months.NewArray(),
		term.Arrow(),
	}
	st, err := array.NewStructArray(cols, typedFieldNames)
	if err != nil {
		panic(errors.Wrap(err, "building typed column"))
	}
	for _, c := range cols {
		c.Release()
	}
	tc, err := newTypedColumn(st)
	if err != nil {
		panic(err)
	}
	return tc
}

func (b *TypedBuilder) Release() {
	b.dtype.Release()
	b.boolean.Release()
	b.integer.Release()
	b.double.Release()
	b.decimal.Release()
	b.ticks.Release()
	b.offset.Release()
	b.months.Release()
	b.term.Release()
}

// TypedColumn is a read view over a typed-encoded Arrow struct array.
type TypedColumn struct {
	arr     *array.Struct
	dtype   *array.Uint8
	boolean *array.Boolean
	integer *array.Int64
	double  *array.Float64
	decimal *array.Decimal128
	ticks   *array.Int64
	offset  *array.Int16
	months  *array.Int64
	term    *PlainColumn
}

func newTypedColumn(st *array.Struct) (*TypedColumn, error) {
	if st.NumField() != len(typedFieldNames) {
		return nil, errors.Newf("typed column has %d fields", st.NumField())
	}
	c := &TypedColumn{arr: st}
	var ok [9]bool
	c.dtype, ok[0] = st.Field(0).(*array.Uint8)
	c.boolean, ok[1] = st.Field(1).(*array.Boolean)
	c.integer, ok[2] = st.Field(2).(*array.Int64)
	c.double, ok[3] = st.Field(3).(*array.Float64)
	c.decimal, ok[4] = st.Field(4).(*array.Decimal128)
	c.ticks, ok[5] = st.Field(5).(*array.Int64)
	c.offset, ok[6] = st.Field(6).(*array.Int16)
	c.months, ok[7] = st.Field(7).(*array.Int64)
	var termStruct *array.Struct
	termStruct, ok[8] = st.Field(8).(*array.Struct)
	for _, b := range ok {
		if !b {
			return nil, errors.New("typed column has unexpected child types")
		}
	}
	term, err := newPlainColumn(termStruct)
	if err != nil {
		return nil, err
	}
	c.term = term
	return c, nil
}

func (c *TypedColumn) Encoding() Encoding { return EncodingTyped }

func (c *TypedColumn) Len() int { return c.arr.Len() }

func (c *TypedColumn) Arrow() arrow.Array { return c.arr }

func (c *TypedColumn) IsUnbound(i int) bool { return c.dtype.IsNull(i) }

// DType returns the discriminant of row i.
func (c *TypedColumn) DType(i int) DType {
	if c.dtype.IsNull(i) {
		return DTypeUnbound
	}
	return DType(c.dtype.Value(i))
}

// Int64Values exposes the integer child for native loops. Entries are only
// meaningful where DType reports an integer type.
func (c *TypedColumn) Int64Values() []int64 { return c.integer.Int64Values() }

// Float64Values exposes the double child for native loops.
func (c *TypedColumn) Float64Values() []float64 { return c.double.Float64Values() }

func (c *TypedColumn) Value(i int) Value {
	dt := c.DType(i)
	switch {
	case dt == DTypeUnbound || dt == DTypeError:
		return Value{DType: dt}
	case dt == DTypeTerm:
		return Value{DType: DTypeTerm, Term: c.term.Term(i)}
	}
	v := Value{DType: dt}
	switch {
	case dt == DTypeBoolean:
		v.Bool = c.boolean.Value(i)
	case dt.IsInteger():
		v.Int = c.integer.Value(i)
	case dt == DTypeDecimal:
		v.Decimal = c.decimal.Value(i)
	case dt == DTypeDouble || dt == DTypeFloat:
		v.Float = c.double.Value(i)
	default:
		v.Ticks = c.ticks.Value(i)
		v.Months = c.months.Value(i)
		if !c.offset.IsNull(i) {
			v.Offset = c.offset.Value(i)
			v.HasTZ = true
		}
	}
	return v
}

// Term converts row i back to a term. Unbound and error rows return nil.
func (c *TypedColumn) Term(i int) rdf.Term {
	return c.Value(i).AsTerm()
}

func (c *TypedColumn) AppendKey(dst []byte, i int) []byte {
	if c.DType(i) == DTypeTerm {
		return c.term.AppendKey(dst, i)
	}
	return termKey(dst, c.Term(i))
}
