package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var removeSourceYes bool

var removeSourceCmd = &cobra.Command{
	Use:   "remove-source <name>",
	Short: "Remove a data source and all its files from the catalog",
	Long: `Remove a data source from the catalog together with its files, tags and
folder group state. Files on disk are not touched.

Examples:
  tilevault remove-source laptop
  tilevault remove-source laptop --yes`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		src, err := s.GetDataSource(args[0])
		if err != nil {
			return err
		}

		if !removeSourceYes {
			fmt.Fprintf(cmd.OutOrStdout(), "Remove data source %q (%s) from the catalog? [y/N]: ", src.Name, src.RootPath)
			reader := bufio.NewReader(cmd.InOrStdin())
			response, _ := reader.ReadString('\n')
			response = strings.TrimSpace(strings.ToLower(response))
			if response != "y" && response != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
		}

		removed, err := s.RemoveDataSource(src.ID)
		if err != nil {
			return fmt.Errorf("remove data source: %w", err)
		}
		logger.Info("data source removed", "name", src.Name, "files", len(removed))
		fmt.Fprintf(cmd.OutOrStdout(), "Removed data source %q (%d files).\n", src.Name, len(removed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(removeSourceCmd)
	removeSourceCmd.Flags().BoolVarP(&removeSourceYes, "yes", "y", false, "Skip confirmation prompt")
}
