package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs <email>",
	Short: "Show a user's pipeline run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		user, err := s.GetUser(args[0])
		if err != nil {
			return err
		}

		runs, err := s.ListRuns(user.ID, runsLimit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}

		fmt.Printf("%-37s %-12s %-11s %-17s %-9s %s\n",
			"RUN ID", "MODE", "STATUS", "STARTED", "FETCHED", "ERRORS")
		for _, run := range runs {
			fetched := run.Counts.MessagesFetched + run.Counts.CalendarFetched
			errInfo := fmt.Sprintf("%d", run.Counts.ErrorsCount)
			if run.ErrorMessage != "" {
				msg := run.ErrorMessage
				if len(msg) > 40 {
					msg = msg[:37] + "..."
				}
				errInfo = msg
			}
			fmt.Printf("%-37s %-12s %-11s %-17s %-9d %s\n",
				run.ID, run.Mode, run.Status,
				run.StartedAt.Local().Format("2006-01-02 15:04"),
				fetched, errInfo)
		}
		fmt.Printf("\n%d run(s)\n", len(runs))

		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to show (0 = no limit)")
	rootCmd.AddCommand(runsCmd)
}
