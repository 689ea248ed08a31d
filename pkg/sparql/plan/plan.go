// Package plan implements the SPARQL operators as relational plan nodes.
// Every node consumes and produces batches of term columns; a column keeps
// the encoding declared in its node's schema.
package plan

import (
	"context"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
)

var (
	// ErrVariableAlreadyUsed is returned when BIND targets a variable that is
	// already in scope.
	ErrVariableAlreadyUsed = errors.New("variable already used")
	// ErrEncodingMismatch is returned at execution when two inputs hold the
	// same variable in different encodings.
	ErrEncodingMismatch = errors.New("inputs disagree on column encoding")
)

// Field returns a schema field for a term column of the given encoding.
func Field(name string, enc columnar.Encoding) relational.Field {
	return relational.Field{Name: name, Type: columnar.TypeOf(enc)}
}

// PlainSchema returns a schema of plain term columns.
func PlainSchema(names ...string) relational.Schema {
	schema := make(relational.Schema, len(names))
	for i, n := range names {
		schema[i] = Field(n, columnar.EncodingPlain)
	}
	return schema
}

// EncodingOf returns the encoding of a schema field. Fields that are not
// term columns report plain.
func EncodingOf(f relational.Field) columnar.Encoding {
	enc, err := columnar.EncodingOf(f.Type)
	if err != nil {
		return columnar.EncodingPlain
	}
	return enc
}

// mergeSchemas returns the fields of a followed by the fields of b that a
// does not have.
func mergeSchemas(a, b relational.Schema) relational.Schema {
	out := append(relational.Schema{}, a...)
	for _, f := range b {
		if !a.Contains(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// checkShared fails when a and b hold a shared variable in different
// encodings.
func checkShared(a, b relational.Schema) error {
	for _, name := range a.Shared(b) {
		ea, eb := EncodingOf(a[a.Index(name)]), EncodingOf(b[b.Index(name)])
		if ea != eb {
			return errors.Wrapf(ErrEncodingMismatch, "?%s is %s and %s", name, ea, eb)
		}
	}
	return nil
}

func formatVariables(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = "?" + n
	}
	return strings.Join(parts, " ")
}

// columnsOf wraps the columns of rec in schema order.
func columnsOf(rec arrow.Record, schema relational.Schema) ([]columnar.Column, error) {
	cols := make([]columnar.Column, len(schema))
	for i, f := range schema {
		arr, ok := relational.Column(rec, f.Name)
		if !ok {
			return nil, errors.Newf("batch is missing column ?%s", f.Name)
		}
		c, err := columnar.Wrap(arr)
		if err != nil {
			return nil, err
		}
		cols[i] = c
	}
	return cols, nil
}

// rowRef addresses one row of a materialized table.
type rowRef struct {
	batch int32
	row   int32
}

// table is a fully drained input.
type table struct {
	schema  relational.Schema
	batches [][]columnar.Column
	rows    []rowRef
}

func drain(ctx context.Context, s relational.Stream, schema relational.Schema) (*table, error) {
	t := &table{schema: schema}
	for s.Next(ctx) {
		rec := s.Record()
		cols, err := columnsOf(rec, schema)
		if err != nil {
			return nil, err
		}
		b := int32(len(t.batches))
		t.batches = append(t.batches, cols)
		for i := int32(0); i < int32(rec.NumRows()); i++ {
			t.rows = append(t.rows, rowRef{batch: b, row: i})
		}
	}
	return t, s.Err()
}

func (t *table) column(ref rowRef, col int) columnar.Column {
	return t.batches[ref.batch][col]
}

// appendKey appends the identity key of the selected columns of one row. It
// reports false when one of them is unbound.
func appendKey(dst []byte, cols []columnar.Column, idx []int, row int) ([]byte, bool) {
	for _, i := range idx {
		if i < 0 || cols[i].IsUnbound(row) {
			return dst, false
		}
		dst = cols[i].AppendKey(dst, row)
		dst = append(dst, 0xff)
	}
	return dst, true
}

// appendRowKey appends a key covering every column, unbound cells included.
func appendRowKey(dst []byte, cols []columnar.Column, row int) []byte {
	for _, c := range cols {
		if c.IsUnbound(row) {
			dst = append(dst, 0)
		} else {
			dst = append(dst, 1)
			dst = c.AppendKey(dst, row)
		}
		dst = append(dst, 0xff)
	}
	return dst
}

// recordBuilder accumulates output rows for a schema.
type recordBuilder struct {
	schema   relational.Schema
	builders []columnar.Builder
	rows     int
}

func newRecordBuilder(schema relational.Schema, mem memory.Allocator) *recordBuilder {
	rb := &recordBuilder{schema: schema, builders: make([]columnar.Builder, len(schema))}
	for i, f := range schema {
		rb.builders[i] = columnar.NewBuilder(EncodingOf(f), mem)
	}
	return rb
}

// finishRow marks the end of a row whose cells were all appended.
func (rb *recordBuilder) finishRow() { rb.rows++ }

// build returns the accumulated rows and resets the builder.
func (rb *recordBuilder) build() arrow.Record {
	cols := make([]arrow.Array, len(rb.builders))
	for i, b := range rb.builders {
		cols[i] = b.NewColumn().Arrow()
	}
	rec := relational.NewRecord(rb.schema.Names(), cols, rb.rows)
	rb.rows = 0
	return rec
}

func (rb *recordBuilder) release() {
	for _, b := range rb.builders {
		b.Release()
	}
}

// takeRecord gathers rows of a batch into a new batch of the same schema.
func takeRecord(cols []columnar.Column, schema relational.Schema, indices []int, mem memory.Allocator) arrow.Record {
	arrays := make([]arrow.Array, len(cols))
	for i, c := range cols {
		arrays[i] = columnar.Take(c, indices, mem).Arrow()
	}
	return relational.NewRecord(schema.Names(), arrays, len(indices))
}

// mapStream applies fn to every batch of input. Batches for which fn
// returns nil or an empty record are skipped.
func mapStream(input relational.Stream, fn func(ctx context.Context, rec arrow.Record) (arrow.Record, error)) relational.Stream {
	return relational.NewFuncStream(func(ctx context.Context) (arrow.Record, error) {
		for input.Next(ctx) {
			out, err := fn(ctx, input.Record())
			if err != nil {
				return nil, err
			}
			if out != nil && out.NumRows() > 0 {
				return out, nil
			}
		}
		return nil, input.Err()
	}, input.Close)
}

// closeAll closes streams, returning the first error.
func closeAll(streams ...relational.Stream) error {
	var first error
	for _, s := range streams {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func oneChild(children []relational.Node) (relational.Node, error) {
	if len(children) != 1 {
		return nil, errors.Newf("expected 1 child, got %d", len(children))
	}
	return children[0], nil
}

func twoChildren(children []relational.Node) (relational.Node, relational.Node, error) {
	if len(children) != 2 {
		return nil, nil, errors.Newf("expected 2 children, got %d", len(children))
	}
	return children[0], children[1], nil
}
