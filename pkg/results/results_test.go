package results

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/executor"
)

type sliceIterator struct {
	vars      []string
	solutions []executor.Solution
	pos       int
	err       error
}

func (s *sliceIterator) Variables() []string { return s.vars }

func (s *sliceIterator) Next(context.Context) bool {
	if s.pos >= len(s.solutions) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceIterator) Solution() executor.Solution { return s.solutions[s.pos-1] }

func (s *sliceIterator) Err() error { return s.err }

func ex(local string) *rdf.NamedNode { return rdf.NewNamedNode("http://example.org/" + local) }

func fixture() *sliceIterator {
	return &sliceIterator{
		vars: []string{"s", "o", "n"},
		solutions: []executor.Solution{
			{
				"s": ex("a"),
				"o": rdf.NewLiteralWithLanguage("hello", "en"),
				"n": rdf.NewIntegerLiteral(42),
			},
			{
				"s": rdf.NewBlankNode("b0"),
				"o": rdf.NewLiteral(`say "hi", ok`),
			},
			{
				"s": ex("c"),
				"o": rdf.NewLiteralWithDatatype("2024-01-01", rdf.XSDDate),
				"n": rdf.NewLiteralWithDatatype("1.5", rdf.XSDDecimal),
			},
		},
	}
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestWriteSolutions(t *testing.T) {
	g := newGoldie(t)
	for _, format := range []Format{FormatTable, FormatJSON, FormatXML, FormatCSV, FormatTSV} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, writeSolutions(context.Background(), &buf, fixture(), format))
			g.Assert(t, "solutions_"+string(format), buf.Bytes())
		})
	}
}

func TestWriteEmptySolutions(t *testing.T) {
	var buf bytes.Buffer
	it := &sliceIterator{vars: []string{"x"}}
	require.NoError(t, WriteJSON(context.Background(), &buf, it))
	assert.Equal(t, "{\"head\":{\"vars\":[\"x\"]},\"results\":{\"bindings\":[\n]}}\n", buf.String())
}

func TestWriteBoolean(t *testing.T) {
	g := newGoldie(t)
	for _, format := range []Format{FormatJSON, FormatXML, FormatCSV, FormatTSV} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(context.Background(), &buf, &executor.BooleanResult{Value: true}, format))
			g.Assert(t, "boolean_"+string(format), buf.Bytes())
		})
	}

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, &executor.BooleanResult{Value: false}, FormatTable))
	assert.Equal(t, "false\n", buf.String())
}

func TestWriteGraph(t *testing.T) {
	graph := &executor.GraphResult{Triples: []*rdf.Triple{
		rdf.NewTriple(ex("a"), ex("p"), rdf.NewLiteral("line\nbreak")),
		rdf.NewTriple(rdf.NewBlankNode("b1"), ex("p"), ex("c")),
	}}

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, graph, FormatNTriples))
	newGoldie(t).Assert(t, "graph", buf.Bytes())

	err := Write(context.Background(), &bytes.Buffer{}, graph, FormatJSON)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestIteratorErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	for _, format := range []Format{FormatTable, FormatJSON, FormatXML, FormatCSV, FormatTSV} {
		it := fixture()
		it.err = boom
		err := writeSolutions(context.Background(), &bytes.Buffer{}, it, format)
		assert.True(t, errors.Is(err, boom), format)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"CSV", FormatCSV, false},
		{"nt", FormatNTriples, false},
		{"table", FormatTable, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.name)
		if tt.wantErr {
			assert.True(t, errors.Is(err, ErrUnsupportedFormat), tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got)
	}
	assert.Equal(t, "application/sparql-results+json", FormatJSON.ContentType())
}
