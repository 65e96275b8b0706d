package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/irfndi/decoupling-detector/internal/config"
	"github.com/irfndi/decoupling-detector/internal/database"
	"github.com/irfndi/decoupling-detector/internal/logging"
	"github.com/irfndi/decoupling-detector/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const appName = "detector"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalOptions are shared by every subcommand.
type globalOptions struct {
	verbose bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Detect when crypto assets decouple from a benchmark",
		Version: telemetry.ServiceVersion,
		Long: `detector measures how closely crypto assets track a benchmark.

It computes rolling Pearson correlations of daily returns, classifies each
asset as lockstep, linked or decoupled, and rebases prices to a common start
so relative performance can be compared.

Prices come from a CSV file (--file) or from the Postgres asset_prices table.

Examples:
  detector analyze --file prices.csv --benchmark BTC-USD --window 30
  detector import --file prices.csv
  detector assets`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// A missing .env file is fine
			_ = godotenv.Load()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log progress to stderr")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Deadline for the whole command")

	rootCmd.AddCommand(newAnalyzeCmd(opts))
	rootCmd.AddCommand(newImportCmd(opts))
	rootCmd.AddCommand(newAssetsCmd(opts))
	return rootCmd
}

// newLogger logs to stderr so stdout stays machine readable.
func newLogger(cfg *config.Config, opts *globalOptions, stderr io.Writer) *logrus.Logger {
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.NewLogger(level, cfg.Environment)
	logger.SetOutput(stderr)
	return logger
}

func commandContext(cmd *cobra.Command, opts *globalOptions) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.timeout > 0 {
		return context.WithTimeout(ctx, opts.timeout)
	}
	return context.WithCancel(ctx)
}

func openDatabase(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*database.PostgresDB, *database.PriceRepository, error) {
	db, err := database.NewPostgresConnection(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, database.NewPriceRepository(database.NewTracedDB(db.Pool, logger)), nil
}
