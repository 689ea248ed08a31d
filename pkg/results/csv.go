package results

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// SPARQL CSV Results Format
// https://www.w3.org/TR/sparql11-results-csv-tsv/

// WriteCSV streams solutions in SPARQL CSV format.
func WriteCSV(ctx context.Context, w io.Writer, it SolutionIterator) error {
	cw := csv.NewWriter(w)
	varNames := it.Variables()
	if err := cw.Write(varNames); err != nil {
		return err
	}

	row := make([]string, len(varNames))
	for it.Next(ctx) {
		solution := it.Solution()
		for i, varName := range varNames {
			row[i] = ""
			if term, ok := solution[varName]; ok {
				row[i] = termToCSVValue(term)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}

// WriteBooleanCSV writes an ASK result in SPARQL CSV format.
func WriteBooleanCSV(w io.Writer, value bool) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"result"}); err != nil {
		return err
	}
	if err := cw.Write([]string{formatBool(value)}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

// termToCSVValue renders a term for CSV. IRIs lose their angle brackets,
// literals keep only their lexical form, blank nodes keep their label.
func termToCSVValue(term rdf.Term) string {
	switch t := term.(type) {
	case *rdf.NamedNode:
		return t.IRI
	case *rdf.BlankNode:
		return "_:" + t.ID
	case *rdf.Literal:
		return t.Value
	default:
		return term.String()
	}
}
