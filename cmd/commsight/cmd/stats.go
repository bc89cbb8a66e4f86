package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.GetStats()
		if err != nil {
			return fmt.Errorf("get stats: %w", err)
		}

		fmt.Printf("Database: %s\n", cfg.DatabasePath())
		fmt.Printf("  Users:    %d\n", stats.UserCount)
		fmt.Printf("  Contacts: %d\n", stats.ContactCount)
		fmt.Printf("  Threads:  %d\n", stats.ThreadCount)
		fmt.Printf("  Events:   %d\n", stats.EventCount)
		fmt.Printf("  Runs:     %d\n", stats.RunCount)
		fmt.Printf("  Size:     %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))

		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
