package cmd

import (
	"github.com/spf13/cobra"
)

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Initialize the database schema",
	Long: `Initialize the tilevault catalog with the required schema.

This command creates all necessary tables for data sources, files, hash
sets, tags and seen flags, and seeds the review categories. It is safe to
run multiple times - tables are only created if they don't already exist.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := cfg.DatabaseDSN()
		logger.Info("initializing database", "path", dbPath)

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		logger.Info("database initialized successfully")
		return printStats(cmd, s)
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
