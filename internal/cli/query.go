package cli

import (
	"bufio"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/aleksaelezovic/trigofusion/pkg/results"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/executor"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/parser"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Format string
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <sparql>",
		Short: "Run a SPARQL query",
		Long: `Run a SPARQL query against the store. The query is the argument itself,
@file to read it from a file, or "-" to read standard input. CONSTRUCT and
DESCRIBE results are written as N-Triples in table format.

Example:
  trigofusion query --data ./data 'SELECT * WHERE { ?s ?p ?o } LIMIT 10'
  trigofusion query --data ./data --format json @query.rq`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := results.ParseFormat(opts.Format)
			if err != nil {
				return err
			}
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}

			ts, err := opts.openStore()
			if err != nil {
				return err
			}
			defer opts.closeStore(ts)

			result, err := opts.newExecutor(ts).Query(cmd.Context(), text)
			if err != nil {
				return err
			}
			if sols, ok := result.(*executor.Solutions); ok {
				defer sols.Close()
			}
			return writeResult(cmd, result, format)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", string(results.FormatTable), "output format (table|json|xml|csv|tsv|ntriples)")

	return cmd
}

func writeResult(cmd *cobra.Command, result executor.QueryResult, format results.Format) error {
	w := bufio.NewWriter(cmd.OutOrStdout())
	if err := results.Write(cmd.Context(), w, result, format); err != nil {
		return err
	}
	return w.Flush()
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <sparql>",
		Short: "Print the rewritten plan of a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			query, err := parser.Parse(text)
			if err != nil {
				return errors.Wrap(err, "parse query")
			}

			ts, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(ts)

			plan, err := rootOpts.newExecutor(ts).Prepare(cmd.Context(), query, nil)
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), plan.Explain())
			return err
		},
	}
}
