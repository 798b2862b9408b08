package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/tilevault/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()
		return printStats(cmd, s)
	},
}

func printStats(cmd *cobra.Command, s *store.Store) error {
	stats, err := s.GetStats()
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s\n", cfg.DatabaseDSN())
	fmt.Fprintf(out, "  Data sources: %d\n", stats.DataSourceCount)
	fmt.Fprintf(out, "  Files:        %d (%d analyzed)\n", stats.FileCount, stats.AnalyzedCount)
	fmt.Fprintf(out, "  Hash sets:    %d\n", stats.HashSetCount)
	fmt.Fprintf(out, "  Hash hits:    %d\n", stats.HashHitCount)
	fmt.Fprintf(out, "  Tags:         %d\n", stats.TagCount)
	fmt.Fprintf(out, "  Reviewers:    %d\n", stats.ReviewerCount)
	fmt.Fprintf(out, "  Seen groups:  %d\n", stats.SeenGroupCount)
	fmt.Fprintf(out, "  Size:         %.2f MB\n", float64(stats.DatabaseSize)/(1024*1024))
	return nil
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
