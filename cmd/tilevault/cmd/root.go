package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/wesm/tilevault/internal/config"
	"github.com/wesm/tilevault/internal/fileutil"
	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/store"
)

var (
	cfgFile string
	homeDir string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tilevault",
	Short: "Group and review drawable files from forensic data sources",
	Long: `tilevault catalogs image and video files from data sources (mounted
evidence, folders, card dumps), checks them against known hash sets and
groups them by folder, hash set, tag, category or MIME type for review.

Groups appear only once every file in them has been analyzed. Reviewers mark
groups seen as they work through them; the unseen view shows what is left.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// --home is passed through so it influences where config.toml is
		// loaded from, like TILEVAULT_HOME.
		var err error
		cfg, err = config.Load(cfgFile, homeDir)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if err := fileutil.PrivateDir(cfg.Data.DataDir); err != nil {
			return fmt.Errorf("create data directory %s: %w", cfg.Data.DataDir, err)
		}
		return nil
	},
}

// Execute runs the root command with a background context.
// Prefer ExecuteContext for signal-aware execution.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with the given context,
// enabling graceful shutdown when the context is cancelled.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// openStore opens the catalog and makes sure the schema is current.
func openStore() (*store.Store, error) {
	s, err := store.Open(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := s.InitSchema(); err != nil {
		s.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	// The catalog holds evidence paths and hashes.
	if cfg.Data.DatabaseURL == "" {
		if err := fileutil.PrivateDatabase(cfg.DatabaseDSN()); err != nil {
			logger.Warn("restrict catalog permissions failed", "path", cfg.DatabaseDSN(), "error", err)
		}
	}
	return s, nil
}

// reviewerName returns the configured reviewer, falling back to the
// login name.
func reviewerName() string {
	if cfg.Review.Reviewer != "" {
		return cfg.Review.Reviewer
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "examiner"
}

// openManager returns a grouping manager for the current reviewer,
// configured from [review] and populated. The caller must Close it.
func openManager(ctx context.Context, s *store.Store) (*grouping.Manager, error) {
	gc, err := cfg.GroupConfig()
	if err != nil {
		return nil, err
	}
	reviewer, err := s.EnsureReviewer(reviewerName())
	if err != nil {
		return nil, err
	}
	m := grouping.NewManager(s, grouping.ReviewerID(reviewer)).
		WithLogger(logger).
		WithDefaults(gc)
	if task := m.Regroup(gc.Scope, gc.Attribute, gc.SortBy, gc.Order, true); task != nil {
		if err := task.Wait(ctx); err != nil {
			m.Close()
			return nil, fmt.Errorf("build groups: %w", err)
		}
	}
	return m, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.tilevault/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "home directory (overrides TILEVAULT_HOME)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
