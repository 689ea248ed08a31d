// Package cli implements the trigofusion command line.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/aleksaelezovic/trigofusion/internal/encoding"
	"github.com/aleksaelezovic/trigofusion/internal/storage"
	"github.com/aleksaelezovic/trigofusion/pkg/config"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/executor"
	"github.com/aleksaelezovic/trigofusion/pkg/sparql/optimizer"
	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	DataDir    string
	InMemory   bool

	// Set by the root command before a subcommand runs.
	Config *config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command for the trigofusion CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "trigofusion",
		Short: "Columnar SPARQL engine over a Badger quad store",
		Long: `trigofusion loads RDF quads into a Badger store and answers SPARQL
queries with a columnar, batch-at-a-time engine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data", "", "data directory (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.InMemory, "in-memory", false, "use a throwaway in-memory store")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewExplainCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}

// setup resolves the configuration in order: defaults, file, environment,
// flags.
func (o *RootOptions) setup(logOut io.Writer) error {
	cfg := config.DefaultConfig()
	if o.ConfigPath != "" {
		loaded, err := config.LoadConfig(o.ConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if o.DataDir != "" {
		cfg.Storage.Path = o.DataDir
	}
	if o.InMemory {
		cfg.Storage.InMemory = true
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	level, _ := cfg.Log.SlogLevel()
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(logOut, handlerOpts)
	} else {
		handler = slog.NewTextHandler(logOut, handlerOpts)
	}
	o.Config = cfg
	o.Logger = slog.New(handler)
	return nil
}

// openStore opens the configured quad store. The caller closes it.
func (o *RootOptions) openStore() (*store.TripleStore, error) {
	o.Logger.Info("opening store",
		slog.String("path", o.Config.Storage.Path),
		slog.Bool("in_memory", o.Config.Storage.InMemory))
	kv, err := storage.Open(storage.Options{
		Path:     o.Config.Storage.Path,
		InMemory: o.Config.Storage.InMemory,
		Logger:   o.Logger,
	})
	if err != nil {
		return nil, err
	}
	ts := store.NewTripleStore(kv, encoding.NewTermEncoder(), encoding.NewTermDecoder())
	return ts.WithLogger(o.Logger), nil
}

// closeStore closes ts and logs a failure.
func (o *RootOptions) closeStore(ts *store.TripleStore) {
	if err := ts.Close(); err != nil {
		o.Logger.Error("error closing store", slog.Any("error", err))
		return
	}
	o.Logger.Info("store closed")
}

func (o *RootOptions) newExecutor(ts store.QuadStorage) *executor.Executor {
	opt := o.Config.Optimizer
	return executor.NewExecutor(ts, executor.Options{
		BatchSize:   o.Config.Execution.BatchSize,
		Concurrency: o.Config.Execution.Concurrency,
		Passes:      optimizer.Passes(opt.FoldConstants, opt.PushDownFilters, opt.SelectEncodings),
		Logger:      o.Logger,
	})
}

// Execute runs the root command with the process arguments. An interrupt
// cancels the running query.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		cmd.PrintErrln("Error:", err)
		return 1
	}
	return 0
}

// readInput returns the argument itself, the contents of the named file
// when it starts with '@', or standard input for "-".
func readInput(cmd *cobra.Command, arg string) (string, error) {
	switch {
	case arg == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), errors.Wrap(err, "read stdin")
	case strings.HasPrefix(arg, "@"):
		data, err := os.ReadFile(arg[1:])
		return string(data), errors.Wrap(err, "read query file")
	default:
		return arg, nil
	}
}
