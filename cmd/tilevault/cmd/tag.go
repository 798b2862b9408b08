package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/store"
)

var tagDisplayName string

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Tag files",
	Long: `Apply or remove ordinary tags on catalog files. File IDs are listed by
"tilevault groups show". Categories are set with "tilevault category set".`,
}

var tagAddCmd = &cobra.Command{
	Use:   "add <file-id> <tag>",
	Short: "Apply a tag to a file, creating the tag if needed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFileID(args[0])
		if err != nil {
			return err
		}
		s, reviewer, err := openForEdit()
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.GetFile(id); err != nil {
			return err
		}
		if _, err := s.EnsureTagName(args[1], tagDisplayName); err != nil {
			return err
		}
		tag, added, err := s.AddItemTag(id, args[1], reviewer)
		if err != nil {
			return err
		}
		if !added {
			fmt.Fprintf(cmd.OutOrStdout(), "File %d already tagged %q.\n", id, tag.DisplayName)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tagged file %d %q.\n", id, tag.DisplayName)
		return nil
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "remove <file-id> <tag>",
	Short: "Remove a tag from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFileID(args[0])
		if err != nil {
			return err
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		tag, removed, err := s.RemoveItemTag(id, args[1])
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "File %d was not tagged %q.\n", id, tag.DisplayName)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %q from file %d.\n", tag.DisplayName, id)
		return nil
	},
}

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Categorize files",
}

var categorySetCmd = &cobra.Command{
	Use:   "set <file-id> <CAT-0..CAT-5>",
	Short: "Set a file's category; CAT-0 clears it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseFileID(args[0])
		if err != nil {
			return err
		}
		cat, err := grouping.ParseCategory(args[1])
		if err != nil {
			return err
		}
		s, reviewer, err := openForEdit()
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := s.GetFile(id); err != nil {
			return err
		}
		removed, added, err := s.SetItemCategory(id, cat, reviewer)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, t := range removed {
			fmt.Fprintf(out, "Cleared %s\n", t.DisplayName)
		}
		switch {
		case added != nil:
			fmt.Fprintf(out, "File %d is now %s\n", id, added.DisplayName)
		case cat == grouping.Cat0:
			fmt.Fprintf(out, "File %d is uncategorized\n", id)
		default:
			fmt.Fprintf(out, "File %d was already %s\n", id, cat.Label())
		}
		return nil
	},
}

func parseFileID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid file id %q", s)
	}
	return id, nil
}

// openForEdit opens the store and resolves the current reviewer.
func openForEdit() (*store.Store, grouping.ReviewerID, error) {
	s, err := openStore()
	if err != nil {
		return nil, 0, err
	}
	reviewer, err := s.EnsureReviewer(reviewerName())
	if err != nil {
		s.Close()
		return nil, 0, err
	}
	return s, grouping.ReviewerID(reviewer), nil
}

func init() {
	rootCmd.AddCommand(tagCmd, categoryCmd)
	tagCmd.AddCommand(tagAddCmd, tagRemoveCmd)
	categoryCmd.AddCommand(categorySetCmd)
	tagAddCmd.Flags().StringVar(&tagDisplayName, "display-name", "", "Display name for a newly created tag")
}
