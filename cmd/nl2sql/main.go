// Command nl2sql converts a vendor text-to-SQL corpus drop into the
// canonical corpus: tables.json, <split>.json and <split>_gold.sql.
//
// Subcommands:
//
//   - convert:   run the pipeline (config file and/or flags)
//   - validate:  validate a config and exit
//   - decompose: decompose one SQL string against a db_id of a tables.json
//   - probe:     sample a corpus drop and print a starter config
//
// Exit codes: 0 success, 1 run failure, 2 usage or configuration error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nl2sql/internal/config"
	"nl2sql/internal/logging"
	"nl2sql/internal/pipeline"

	// register all backends with the storage factory.
	_ "nl2sql/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// runner is the part of *pipeline.Runner the CLI uses.
type runner interface {
	Run(ctx context.Context, cfg config.Pipeline) (pipeline.Summary, error)
}

// appDeps are the side-effecting seams of the CLI.
type appDeps struct {
	loadConfig  func(path string) (config.Pipeline, error)
	newLogger   func(opts logging.Options) (*zap.Logger, error)
	newRunner   func(log *zap.Logger) runner
	initMetrics func(ctx context.Context, cfg config.Pipeline, log *zap.Logger) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		newLogger:  logging.New,
		newRunner: func(log *zap.Logger) runner {
			return pipeline.NewDefaultRunner(log)
		},
		initMetrics: initMetrics,
	}
}

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func usageErr(err error) error { return &exitError{code: 2, err: err} }

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	root := newRootCmd(deps)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintf(stderr, "nl2sql: %v\n", err)

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, errFlags) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

var errFlags = errors.New("usage")

// usageArgs turns positional argument errors into exit code 2.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return usageErr(err)
		}
		return nil
	}
}

func newRootCmd(deps appDeps) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "nl2sql",
		Short:         "Normalize a text-to-SQL annotation corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errFlags, err)
	})
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "enable debug logs")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: console|json (overrides config)")

	root.AddCommand(newConvertCmd(g, deps))
	root.AddCommand(newValidateCmd(g, deps))
	root.AddCommand(newDecomposeCmd(g, deps))
	root.AddCommand(newProbeCmd(g, deps))
	return root
}

type globalFlags struct {
	verbose   bool
	logLevel  string
	logFormat string
}

func (g *globalFlags) logger(deps appDeps, cfg config.Logging) (*zap.Logger, error) {
	opts := logging.Options{Level: cfg.Level, Format: cfg.Format, Verbose: g.verbose}
	if g.logLevel != "" {
		opts.Level = g.logLevel
	}
	if g.logFormat != "" {
		opts.Format = g.logFormat
	}
	log, err := deps.newLogger(opts)
	if err != nil {
		return nil, usageErr(err)
	}
	return log, nil
}
