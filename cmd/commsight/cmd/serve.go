package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/commsight/commsight/internal/api"
	"github.com/commsight/commsight/internal/pipeline"
	"github.com/commsight/commsight/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run commsight as a daemon with scheduled pipeline runs",
	Long: `Run commsight as a long-running daemon that analyzes users on schedule.

The daemon runs in the foreground and performs:
  - HTTP API server on the configured port (default: 8080)
  - Scheduled incremental runs based on user config
  - Automatic full run for users with no completed run yet

Configure schedules in config.toml:
  [[users]]
  email = "you@acme.com"
  schedule = "0 2 * * *"   # 2am daily (cron format)
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 0 * * 0     = Midnight on Sundays

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	scheduled := cfg.ScheduledUsers()
	if len(scheduled) == 0 {
		return fmt.Errorf("no scheduled users configured\n\nAdd users to config.toml:\n\n  [[users]]\n  email = \"you@acme.com\"\n  schedule = \"0 2 * * *\"\n  enabled = true")
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	runner := newRunner(s)

	runFunc := func(ctx context.Context, email string, mode pipeline.Mode) error {
		_, err := runner.Run(ctx, email, mode)
		return err
	}

	sched := scheduler.New(runFunc).WithLogger(logger)

	count, errs := sched.AddUsersFromConfig(cfg)
	if len(errs) > 0 {
		for _, err := range errs {
			logger.Error("failed to schedule user", "error", err)
		}
	}
	if count == 0 {
		return fmt.Errorf("no users could be scheduled")
	}

	sched.Start()

	apiServer := api.NewServer(cfg, s, sched, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	fmt.Printf("commsight daemon started\n")
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Scheduled users: %d\n", count)
	fmt.Printf("  Database: %s\n", cfg.DatabasePath())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	for _, status := range sched.Status() {
		fmt.Printf("  %s: next run at %s\n", status.Email, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	// Wait for shutdown signal or server error
	select {
	case <-cmd.Context().Done():
		logger.Info("received shutdown signal")
		fmt.Println("\nShutting down...")
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		fmt.Printf("\nAPI server error: %v\n", err)
	}

	fmt.Println("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Waiting for running pipelines to complete...")
	schedCtx := sched.Stop()

	select {
	case <-schedCtx.Done():
		fmt.Println("Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Println("Shutdown timed out after 30 seconds.")
	}

	return nil
}
