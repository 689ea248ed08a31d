package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print quad and named graph counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(ts)

			count, err := ts.Count(cmd.Context())
			if err != nil {
				return err
			}
			graphs, err := ts.NamedGraphs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "quads: %d\n", count)
			fmt.Fprintf(out, "named graphs: %d\n", len(graphs))
			for _, g := range graphs {
				fmt.Fprintf(out, "  %s\n", g)
			}
			return nil
		},
	}
}
