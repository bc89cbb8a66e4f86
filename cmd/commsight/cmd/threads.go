package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/commsight/commsight/internal/threads"
)

var (
	threadsAbandoned bool
	threadsLimit     int
)

var threadsCmd = &cobra.Command{
	Use:   "threads <email>",
	Short: "List a user's conversation threads",
	Long: `List the reconstructed conversation threads for a user, newest
activity first.

Use --abandoned to show only threads waiting on a reply from the user
longer than the configured abandonment window, oldest first.

Examples:
  commsight threads you@acme.com
  commsight threads you@acme.com --abandoned
  commsight threads you@acme.com --limit 10`,
	Args: cobra.ExactArgs(1),
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

		var list []*threads.Thread
		if threadsAbandoned {
			list, err = s.ListAbandonedThreads(user.ID)
		} else {
			list, err = s.ListThreads(user.ID, threadsLimit)
		}
		if err != nil {
			return fmt.Errorf("list threads: %w", err)
		}

		if len(list) == 0 {
			fmt.Println("No threads found.")
			return nil
		}

		fmt.Printf("%-45s %-5s %-10s %-12s %s\n", "SUBJECT", "MSGS", "REPLIED", "MEDIAN", "LAST ACTIVITY")
		for _, t := range list {
			subject := t.Subject
			if subject == "" {
				subject = "(no subject)"
			}
			if len(subject) > 43 {
				subject = subject[:40] + "..."
			}

			replied := "no"
			if t.HasReplied {
				replied = "yes"
			}

			median := "-"
			if t.HasResponseStat {
				median = t.MedianResponse.Round(time.Minute).String()
			}

			marker := ""
			if t.IsAbandoned {
				marker = "  (abandoned)"
			}

			fmt.Printf("%-45s %-5d %-10s %-12s %s%s\n",
				subject, len(t.MessageIDs), replied, median,
				t.LastActivity.Local().Format("2006-01-02 15:04"), marker)
		}
		fmt.Printf("\n%d thread(s)\n", len(list))

		return nil
	},
}

func init() {
	threadsCmd.Flags().BoolVar(&threadsAbandoned, "abandoned", false, "show only abandoned threads, oldest first")
	threadsCmd.Flags().IntVar(&threadsLimit, "limit", 50, "maximum threads to show (0 = no limit)")
	rootCmd.AddCommand(threadsCmd)
}
