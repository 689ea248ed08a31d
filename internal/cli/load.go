package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// loadChunk bounds the number of quads handed to a single Insert call.
const loadChunk = 10000

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "load <file>...",
		Short: "Load N-Quads, N-Triples, Turtle or TriG files into the store",
		Long: `Load RDF files into the store. The syntax follows the file extension
(.nq, .nt, .ttl, .trig) unless --format names it. Triples without a graph go
to the default graph. Use "-" to read standard input, which defaults to
N-Quads.

Example:
  trigofusion load --data ./data people.nq
  trigofusion load --data ./data schema.ttl graphs.trig
  cat extra.ttl | trigofusion load --data ./data --format turtle -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := rootOpts.openStore()
			if err != nil {
				return err
			}
			defer rootOpts.closeStore(ts)

			var total int
			for _, path := range args {
				quads, err := readQuads(cmd, path, format)
				if err != nil {
					return err
				}
				for start := 0; start < len(quads); start += loadChunk {
					end := min(start+loadChunk, len(quads))
					if err := ts.Insert(cmd.Context(), quads[start:end]...); err != nil {
						return errors.Wrapf(err, "insert quads from %s", path)
					}
				}
				rootOpts.Logger.Info("loaded file", slog.String("path", path), slog.Int("quads", len(quads)))
				total += len(quads)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d quads\n", total)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "auto", "input syntax (auto|nquads|ntriples|turtle|trig)")
	return cmd
}

type parseFunc func(input string) ([]*rdf.Quad, error)

// parserFor picks the reader for path. "auto" decides by extension and
// falls back to N-Quads, which also accepts N-Triples.
func parserFor(path, format string) (parseFunc, error) {
	if format == "auto" || format == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".ttl", ".turtle":
			format = "turtle"
		case ".trig":
			format = "trig"
		default:
			format = "nquads"
		}
	}
	switch strings.ToLower(format) {
	case "nquads", "nq", "ntriples", "nt":
		return rdf.ParseNQuads, nil
	case "turtle", "ttl":
		return rdf.ParseTurtle, nil
	case "trig":
		return rdf.ParseTriG, nil
	default:
		return nil, errors.Newf("unknown input format %q", format)
	}
}

func readQuads(cmd *cobra.Command, path, format string) ([]*rdf.Quad, error) {
	parse, err := parserFor(path, format)
	if err != nil {
		return nil, err
	}
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	quads, err := parse(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return quads, nil
}
