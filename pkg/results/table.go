package results

import (
	"context"
	"io"
	"text/tabwriter"
)

// WriteTable writes solutions as an aligned text table with the variable
// names as header. Terms appear as in TSV; unbound cells are empty.
func WriteTable(ctx context.Context, w io.Writer, it SolutionIterator) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	varNames := it.Variables()
	for i, varName := range varNames {
		if i > 0 {
			io.WriteString(tw, "\t")
		}
		io.WriteString(tw, varName)
	}
	io.WriteString(tw, "\n")

	for it.Next(ctx) {
		solution := it.Solution()
		for i, varName := range varNames {
			if i > 0 {
				io.WriteString(tw, "\t")
			}
			if term, ok := solution[varName]; ok {
				io.WriteString(tw, termToTSVValue(term))
			}
		}
		io.WriteString(tw, "\n")
	}
	if err := it.Err(); err != nil {
		return err
	}
	return tw.Flush()
}
