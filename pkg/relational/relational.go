// Package relational is a small vectorized execution substrate. Plan nodes
// produce pull-based streams of Arrow record batches; the package knows
// nothing about the values inside the columns.
package relational

import (
	"context"
	"log/slog"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DefaultBatchSize is the target number of rows per batch.
const DefaultBatchSize = 1024

// Field is a named, typed column of a node's output.
type Field struct {
	Name string
	Type arrow.DataType
}

// Schema is the ordered list of output columns of a node.
type Schema []Field

// Index returns the position of the named column or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (s Schema) Contains(name string) bool {
	return s.Index(name) >= 0
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Shared returns the names present in both schemas, in the order of s.
func (s Schema) Shared(other Schema) []string {
	var shared []string
	for _, f := range s {
		if other.Contains(f.Name) {
			shared = append(shared, f.Name)
		}
	}
	return shared
}

func (s Schema) String() string {
	return "[" + strings.Join(s.Names(), ", ") + "]"
}

// Node is a plan operator.
type Node interface {
	// Name is a short operator name used by Explain.
	Name() string
	Schema() Schema
	Children() []Node
	// WithChildren returns a copy of the node with its inputs replaced.
	WithChildren(children []Node) (Node, error)
	// Execute starts the operator. The returned stream owns all operator
	// state and must be closed by the caller.
	Execute(ctx context.Context, tc *TaskContext) (Stream, error)
}

// Describer is implemented by nodes that add detail to Explain output.
type Describer interface {
	Describe() string
}

// Stream is a pull-based sequence of record batches. Every batch conforms to
// the schema of the node that produced it.
type Stream interface {
	// Next advances to the next batch. It returns false at the end of the
	// stream or on error.
	Next(ctx context.Context) bool
	Record() arrow.Record
	Err() error
	// Close releases the stream and stops its inputs.
	Close() error
}

// TaskContext carries per-query execution settings.
type TaskContext struct {
	Allocator   memory.Allocator
	BatchSize   int
	Concurrency int
	Logger      *slog.Logger
}

// NewTaskContext returns a task context with defaults applied.
func NewTaskContext() *TaskContext {
	return &TaskContext{
		Allocator:   memory.NewGoAllocator(),
		BatchSize:   DefaultBatchSize,
		Concurrency: 1,
		Logger:      slog.Default(),
	}
}

// WithDefaults fills unset fields.
func (tc *TaskContext) WithDefaults() *TaskContext {
	out := *tc
	if out.Allocator == nil {
		out.Allocator = memory.NewGoAllocator()
	}
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.Concurrency <= 0 {
		out.Concurrency = 1
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// ExecuteChildren starts every child of n. On failure the streams that were
// already started are closed.
func ExecuteChildren(ctx context.Context, tc *TaskContext, n Node) ([]Stream, error) {
	children := n.Children()
	streams := make([]Stream, 0, len(children))
	for _, child := range children {
		s, err := child.Execute(ctx, tc)
		if err != nil {
			for _, started := range streams {
				_ = started.Close()
			}
			return nil, err
		}
		streams = append(streams, s)
	}
	return streams, nil
}

// Explain renders the plan rooted at n as an indented tree.
func Explain(n Node) string {
	var sb strings.Builder
	explain(&sb, n, 0)
	return sb.String()
}

func explain(sb *strings.Builder, n Node, depth int) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(n.Name())
	if d, ok := n.(Describer); ok {
		if desc := d.Describe(); desc != "" {
			sb.WriteString(": ")
			sb.WriteString(desc)
		}
	}
	sb.WriteString(" ")
	sb.WriteString(n.Schema().String())
	sb.WriteByte('\n')
	for _, child := range n.Children() {
		explain(sb, child, depth+1)
	}
}

// Walk visits n and its descendants depth first. Returning false stops the
// descent below the current node.
func Walk(n Node, visit func(Node) bool) {
	if !visit(n) {
		return
	}
	for _, child := range n.Children() {
		Walk(child, visit)
	}
}

// Transform rewrites a plan bottom-up: children are transformed first, then
// fn is applied to the node rebuilt with its new children.
func Transform(n Node, fn func(Node) (Node, error)) (Node, error) {
	children := n.Children()
	if len(children) > 0 {
		rewritten := make([]Node, len(children))
		changed := false
		for i, child := range children {
			c, err := Transform(child, fn)
			if err != nil {
				return nil, err
			}
			rewritten[i] = c
			changed = changed || c != child
		}
		if changed {
			var err error
			n, err = n.WithChildren(rewritten)
			if err != nil {
				return nil, err
			}
		}
	}
	return fn(n)
}
