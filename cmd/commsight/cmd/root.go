// Package cmd implements the commsight command line interface.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/commsight/commsight/internal/config"
	"github.com/commsight/commsight/internal/ingest"
	"github.com/commsight/commsight/internal/pipeline"
	"github.com/commsight/commsight/internal/store"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "commsight",
	Short: "Communication intelligence pipeline",
	Long: `commsight analyzes a person's email and calendar activity to surface
who they talk to, which conversations need attention, and how loaded
their days are.

Raw records come from an ingestion service; commsight normalizes
contacts, reconstructs conversation threads, builds a unified timeline,
and derives daily workload metrics, all stored locally in SQLite.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set up logging
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openStore opens the configured database and ensures the schema exists.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.WithLogger(logger)
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// newRunner wires the ingestion client and pipeline options from config.
func newRunner(s *store.Store) *pipeline.Runner {
	client := ingest.NewClient(cfg.Ingest.BaseURL, cfg.Ingest.APIKey, cfg.IngestOptions()).
		WithLogger(logger)
	return pipeline.New(client, s, pipelineOptions()).WithLogger(logger)
}

func pipelineOptions() *pipeline.Options {
	opts := pipeline.DefaultOptions()
	opts.OwnerDomain = cfg.Owner.Domain
	opts.Threads = cfg.ThreadConfig()
	opts.Timeline = cfg.TimelineConfig()
	opts.FetchBudget = cfg.FetchBudget()
	return opts
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.commsight/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
