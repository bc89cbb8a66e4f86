package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/commsight/commsight/internal/pipeline"
	"github.com/commsight/commsight/internal/store"
)

var (
	runFull bool
	runDemo bool
)

var runCmd = &cobra.Command{
	Use:   "run <email>",
	Short: "Run the analysis pipeline for a user",
	Long: `Fetch new records from the ingestion service and rebuild the user's
contacts, threads, timeline, and workload metrics.

By default the run is incremental: only records newer than the last
completed run's watermark are fetched, and metrics for the touched days
are recomputed. Use --full to refetch everything and rebuild all
derived data from scratch. The first run for a user must be full.

Use --demo to run against generated sample data instead of the
ingestion service; no account or API key is needed.

Examples:
  commsight run you@acme.com               # Incremental run
  commsight run you@acme.com --full        # Full rebuild
  commsight run you@acme.com --full --demo # Try it on sample data`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email := args[0]

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		var runner *pipeline.Runner
		if runDemo {
			runner = newDemoRunner(s, email)
		} else {
			runner = newRunner(s)
		}

		mode := pipeline.ModeIncremental
		if runFull {
			mode = pipeline.ModeFull
		}

		fmt.Printf("Starting %s run for %s\n", mode, email)

		summary, err := runner.Run(cmd.Context(), email, mode)
		if err != nil {
			if errors.Is(err, pipeline.ErrNoWatermark) {
				fmt.Println("\nNo completed run yet for this user.")
				fmt.Println("Run with --full to establish the baseline.")
				return err
			}
			if errors.Is(err, pipeline.ErrRunInProgress) {
				fmt.Println("\nAnother run is already in progress for this user.")
				return err
			}
			return fmt.Errorf("pipeline run failed: %w", err)
		}

		fmt.Println()
		fmt.Println("Run complete!")
		fmt.Printf("  Run ID:    %s\n", summary.RunID)
		fmt.Printf("  Status:    %s\n", summary.Status)
		fmt.Printf("  Duration:  %s\n", summary.Duration.Round(time.Millisecond))
		fmt.Printf("  Fetched:   %d messages, %d calendar events\n",
			summary.Counts.MessagesFetched, summary.Counts.CalendarFetched)
		fmt.Printf("  Written:   %d contacts, %d threads, %d events, %d metric days\n",
			summary.Counts.ContactsUpserted, summary.Counts.ThreadsUpserted,
			summary.Counts.TimelineUpserted, summary.Counts.MetricsUpserted)
		if summary.Counts.ErrorsCount > 0 {
			fmt.Printf("  Errors:    %d\n", summary.Counts.ErrorsCount)
		}
		if !summary.Watermark.IsZero() {
			fmt.Printf("  Watermark: %s\n", summary.Watermark.Format(time.RFC3339))
		}
		if summary.Status == store.RunPartial {
			fmt.Println("\nRun finished partial; the watermark was not advanced.")
			fmt.Println("Run again to retry the remaining work.")
		}

		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runFull, "full", false, "refetch everything and rebuild all derived data")
	runCmd.Flags().BoolVar(&runDemo, "demo", false, "use generated sample data instead of the ingestion service")
	rootCmd.AddCommand(runCmd)
}
