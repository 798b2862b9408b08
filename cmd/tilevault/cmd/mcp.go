package cmd

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/wesm/tilevault/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run MCP server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server over stdio.

This lets any MCP client browse and triage review groups with the tools
list_groups, get_group, mark_group_seen, regroup and get_stats. Seen flags
are recorded for the configured reviewer.

Add to an MCP client config:
  {
    "mcpServers": {
      "tilevault": {
        "command": "tilevault",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		m, err := openManager(cmd.Context(), s)
		if err != nil {
			return err
		}
		defer m.Close()

		return mcpserver.Serve(cmd.Context(), m, s)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
