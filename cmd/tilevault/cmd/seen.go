package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesm/tilevault/internal/grouping"
)

var (
	seenScope  int64
	seenUnmark bool
)

var seenCmd = &cobra.Command{
	Use:   "seen <attribute> <value>",
	Short: "Mark a group seen by the current reviewer",
	Long: `Mark a group seen (or, with --unseen, not seen) by the current reviewer.

The reviewer is [review] reviewer in config.toml, or the login name.

Examples:
  tilevault seen path /DCIM/100APPLE --scope 1
  tilevault seen hash_set known-bad
  tilevault seen category CAT-3 --unseen`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := grouping.ParseGroupKey(args[0], args[1], grouping.ScopeID(seenScope))
		if err != nil {
			return err
		}
		if key.Attribute == grouping.AttrPath && key.Scope == grouping.NoScope {
			return fmt.Errorf("path groups need --scope")
		}

		s, reviewer, err := openForEdit()
		if err != nil {
			return err
		}
		defer s.Close()

		seen := !seenUnmark
		if err := s.SetSeen(cmd.Context(), key, reviewer, seen); err != nil {
			return err
		}
		logger.Debug("group seen flag set", "group", key.String(), "reviewer", reviewer, "seen", seen)

		state := "seen"
		if !seen {
			state = "unseen"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %s %s.\n", key.DisplayName(), state)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seenCmd)
	seenCmd.Flags().Int64Var(&seenScope, "scope", 0, "Data source ID (required for path groups)")
	seenCmd.Flags().BoolVar(&seenUnmark, "unseen", false, "Clear the seen flag instead")
}
