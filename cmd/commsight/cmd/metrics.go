package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var (
	metricsFrom string
	metricsTo   string
	metricsDay  string
)

var metricsCmd = &cobra.Command{
	Use:   "metrics <email>",
	Short: "Show a user's daily workload metrics",
	Long: `Show the derived daily workload metrics for a user.

Use --from and --to (YYYY-MM-DD, inclusive) to bound the range, and
--day to drill into the hourly breakdown of a single day.

Examples:
  commsight metrics you@acme.com
  commsight metrics you@acme.com --from 2026-08-01 --to 2026-08-31
  commsight metrics you@acme.com --day 2026-08-24`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, v := range []string{metricsFrom, metricsTo, metricsDay} {
			if v == "" {
				continue
			}
			if _, err := time.Parse("2006-01-02", v); err != nil {
				return fmt.Errorf("invalid day %q: want YYYY-MM-DD", v)
			}
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		user, err := s.GetUser(args[0])
		if err != nil {
			return err
		}

		if metricsDay != "" {
			hourly, err := s.ListHourlyMetrics(user.ID, metricsDay)
			if err != nil {
				return fmt.Errorf("list hourly metrics: %w", err)
			}
			if len(hourly) == 0 {
				fmt.Printf("No metrics for %s.\n", metricsDay)
				return nil
			}

			fmt.Printf("%s\n", metricsDay)
			fmt.Printf("%-6s %-10s %s\n", "HOUR", "LOAD", "SWITCHES")
			for _, m := range hourly {
				fmt.Printf("%02d:00  %-10.1f %d\n", m.Hour, m.CognitiveLoad, m.ContextSwitches)
			}
			return nil
		}

		daily, err := s.ListDailyMetrics(user.ID, metricsFrom, metricsTo)
		if err != nil {
			return fmt.Errorf("list daily metrics: %w", err)
		}
		if len(daily) == 0 {
			fmt.Println("No metrics found.")
			return nil
		}

		fmt.Printf("%-12s %-7s %-9s %-9s %-10s %-9s %s\n",
			"DAY", "LOAD", "SWITCHES", "MEETINGS", "MESSAGES", "MTG MINS", "TOP CONTEXT")
		for _, m := range daily {
			fmt.Printf("%-12s %-7.1f %-9d %-9d %-10d %-9d %s\n",
				m.Day, m.CognitiveLoad, m.ContextSwitches, m.MeetingCount,
				m.MessageCount, m.MeetingMinutes, topContext(m.TimeByContext))
		}
		fmt.Printf("\n%d day(s)\n", len(daily))

		return nil
	},
}

// topContext returns the context with the most minutes, ties broken
// alphabetically for stable output.
func topContext(byContext map[string]int) string {
	if len(byContext) == 0 {
		return "-"
	}
	names := make([]string, 0, len(byContext))
	for name := range byContext {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if byContext[name] > byContext[best] {
			best = name
		}
	}
	return fmt.Sprintf("%s (%dm)", best, byContext[best])
}

func init() {
	metricsCmd.Flags().StringVar(&metricsFrom, "from", "", "first day to show (YYYY-MM-DD)")
	metricsCmd.Flags().StringVar(&metricsTo, "to", "", "last day to show (YYYY-MM-DD)")
	metricsCmd.Flags().StringVar(&metricsDay, "day", "", "show the hourly breakdown for one day")
	rootCmd.AddCommand(metricsCmd)
}
