// Package results writes query results in the SPARQL result formats, as an
// aligned text table and as N-Triples.
package results

import (
	"context"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/sparql/executor"
)

// Format names an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatXML      Format = "xml"
	FormatCSV      Format = "csv"
	FormatTSV      Format = "tsv"
	FormatNTriples Format = "ntriples"
)

// ErrUnsupportedFormat is returned for unknown formats and for formats that
// cannot carry the kind of result at hand.
var ErrUnsupportedFormat = errors.New("unsupported result format")

// ParseFormat resolves a format name, case-insensitively. "nt" is accepted
// for N-Triples.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case FormatTable, FormatJSON, FormatXML, FormatCSV, FormatTSV, FormatNTriples:
		return f, nil
	case "nt":
		return FormatNTriples, nil
	}
	return "", errors.Wrapf(ErrUnsupportedFormat, "%q", name)
}

// ContentType returns the media type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/sparql-results+json"
	case FormatXML:
		return "application/sparql-results+xml"
	case FormatCSV:
		return "text/csv"
	case FormatTSV:
		return "text/tab-separated-values"
	case FormatNTriples:
		return "application/n-triples"
	default:
		return "text/plain"
	}
}

// SolutionIterator is a forward-only sequence of solutions. *executor.Solutions
// implements it.
type SolutionIterator interface {
	Variables() []string
	Next(ctx context.Context) bool
	Solution() executor.Solution
	Err() error
}

// Write renders a query result. Solutions are consumed but not closed.
// Graph results are written as N-Triples in table format.
func Write(ctx context.Context, w io.Writer, result executor.QueryResult, format Format) error {
	switch r := result.(type) {
	case SolutionIterator:
		return writeSolutions(ctx, w, r, format)
	case *executor.BooleanResult:
		return writeBoolean(w, r.Value, format)
	case *executor.GraphResult:
		if format != FormatNTriples && format != FormatTable {
			return errors.Wrapf(ErrUnsupportedFormat, "%s for graph results", format)
		}
		return WriteNTriples(w, r.Triples)
	default:
		return errors.Newf("unexpected result type %T", result)
	}
}

func writeSolutions(ctx context.Context, w io.Writer, it SolutionIterator, format Format) error {
	switch format {
	case FormatTable:
		return WriteTable(ctx, w, it)
	case FormatJSON:
		return WriteJSON(ctx, w, it)
	case FormatXML:
		return WriteXML(ctx, w, it)
	case FormatCSV:
		return WriteCSV(ctx, w, it)
	case FormatTSV:
		return WriteTSV(ctx, w, it)
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "%s for solutions", format)
	}
}

func writeBoolean(w io.Writer, value bool, format Format) error {
	switch format {
	case FormatTable:
		_, err := io.WriteString(w, formatBool(value)+"\n")
		return err
	case FormatJSON:
		return WriteBooleanJSON(w, value)
	case FormatXML:
		return WriteBooleanXML(w, value)
	case FormatCSV:
		return WriteBooleanCSV(w, value)
	case FormatTSV:
		return WriteBooleanTSV(w, value)
	default:
		return errors.Wrapf(ErrUnsupportedFormat, "%s for boolean results", format)
	}
}

func formatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
