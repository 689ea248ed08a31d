package relational

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// NewRecord assembles a batch. The Arrow schema is derived from the arrays,
// so the field types always match the column types.
func NewRecord(names []string, cols []arrow.Array, rows int) arrow.Record {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: names[i], Type: c.DataType(), Nullable: true}
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), cols, int64(rows))
}

// Column returns the named column of a batch.
func Column(rec arrow.Record, name string) (arrow.Array, bool) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, false
	}
	return rec.Column(idx[0]), true
}

// Collect drains a stream and closes it.
func Collect(ctx context.Context, s Stream) ([]arrow.Record, error) {
	defer s.Close()
	var out []arrow.Record
	for s.Next(ctx) {
		out = append(out, s.Record())
	}
	return out, s.Err()
}

// CollectNode executes n and drains its stream.
func CollectNode(ctx context.Context, tc *TaskContext, n Node) ([]arrow.Record, error) {
	s, err := n.Execute(ctx, tc)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, s)
}

// CountRows returns the total row count of a set of batches.
func CountRows(recs []arrow.Record) int {
	n := 0
	for _, r := range recs {
		n += int(r.NumRows())
	}
	return n
}

// MemoryStream replays a fixed list of batches.
type MemoryStream struct {
	records []arrow.Record
	pos     int
	current arrow.Record
}

func NewMemoryStream(records ...arrow.Record) *MemoryStream {
	return &MemoryStream{records: records, pos: -1}
}

func (s *MemoryStream) Next(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	s.pos++
	if s.pos >= len(s.records) {
		s.current = nil
		return false
	}
	s.current = s.records[s.pos]
	return true
}

func (s *MemoryStream) Record() arrow.Record { return s.current }

func (s *MemoryStream) Err() error { return nil }

func (s *MemoryStream) Close() error {
	s.pos = len(s.records)
	s.current = nil
	return nil
}

// FuncStream adapts a pull function. next returns a nil record at the end.
type FuncStream struct {
	next    func(ctx context.Context) (arrow.Record, error)
	close   func() error
	current arrow.Record
	err     error
	done    bool
}

func NewFuncStream(next func(ctx context.Context) (arrow.Record, error), closeFn func() error) *FuncStream {
	return &FuncStream{next: next, close: closeFn}
}

func (s *FuncStream) Next(ctx context.Context) bool {
	if s.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.err, s.done = err, true
		return false
	}
	rec, err := s.next(ctx)
	if err != nil {
		s.err, s.done = err, true
		return false
	}
	if rec == nil {
		s.done = true
		return false
	}
	s.current = rec
	return true
}

func (s *FuncStream) Record() arrow.Record { return s.current }

func (s *FuncStream) Err() error { return s.err }

func (s *FuncStream) Close() error {
	s.done = true
	s.current = nil
	if s.close != nil {
		c := s.close
		s.close = nil
		return c()
	}
	return nil
}

// mergeStream drains several input streams concurrently. Each input is
// driven by exactly one goroutine; batches are handed over a channel.
type mergeStream struct {
	cancel  context.CancelFunc
	group   *errgroup.Group
	batches chan arrow.Record
	current arrow.Record
	err     error
	once    sync.Once
}

// Merge interleaves the batches of inputs, pulling each input in its own
// goroutine. Batch order across inputs is unspecified. Closing the merged
// stream cancels and closes all inputs.
func Merge(ctx context.Context, inputs []Stream) Stream {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	m := &mergeStream{cancel: cancel, group: g, batches: make(chan arrow.Record)}
	for _, in := range inputs {
		in := in
		g.Go(func() error {
			defer in.Close()
			for in.Next(gctx) {
				select {
				case m.batches <- in.Record():
				case <-gctx.Done():
					return nil
				}
			}
			if err := in.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	go func() {
		m.err = g.Wait()
		close(m.batches)
	}()
	return m
}

func (m *mergeStream) Next(ctx context.Context) bool {
	select {
	case rec, ok := <-m.batches:
		if !ok {
			m.current = nil
			return false
		}
		m.current = rec
		return true
	case <-ctx.Done():
		m.current = nil
		m.Close()
		m.err = ctx.Err()
		return false
	}
}

func (m *mergeStream) Record() arrow.Record { return m.current }

// Err is only read after Next returned false, which happens after the
// channel is closed and the group error has been stored.
func (m *mergeStream) Err() error { return m.err }

func (m *mergeStream) Close() error {
	m.once.Do(func() {
		m.cancel()
		// drain so producers blocked on send observe cancellation
		for range m.batches {
		}
	})
	return nil
}
