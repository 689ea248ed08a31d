package results

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// SPARQL TSV Results Format
// https://www.w3.org/TR/sparql11-results-csv-tsv/

// WriteTSV streams solutions in SPARQL TSV format.
func WriteTSV(ctx context.Context, w io.Writer, it SolutionIterator) error {
	bw := bufio.NewWriter(w)
	varNames := it.Variables()
	for i, varName := range varNames {
		if i > 0 {
			bw.WriteByte('\t')
		}
		bw.WriteString("?" + varName)
	}
	bw.WriteByte('\n')

	for it.Next(ctx) {
		solution := it.Solution()
		for i, varName := range varNames {
			if i > 0 {
				bw.WriteByte('\t')
			}
			if term, ok := solution[varName]; ok {
				bw.WriteString(termToTSVValue(term))
			}
		}
		bw.WriteByte('\n')
	}
	if err := it.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

// WriteBooleanTSV writes an ASK result in SPARQL TSV format.
func WriteBooleanTSV(w io.Writer, value bool) error {
	_, err := io.WriteString(w, "?result\n"+formatBool(value)+"\n")
	return err
}

// termToTSVValue renders a term in its N-Triples form, except that
// xsd:integer, xsd:decimal and xsd:double literals are written bare.
func termToTSVValue(term rdf.Term) string {
	lit, ok := term.(*rdf.Literal)
	if !ok || lit.Language != "" || lit.Datatype == nil {
		return escapeTSV(term.String())
	}
	switch lit.Datatype.IRI {
	case rdf.XSDInteger.IRI, rdf.XSDDecimal.IRI, rdf.XSDDouble.IRI:
		return lit.Value
	}
	return escapeTSV(term.String())
}

// escapeTSV escapes the tab characters left by the N-Triples form.
func escapeTSV(s string) string {
	return strings.ReplaceAll(s, "\t", `\t`)
}
