package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wesm/tilevault/internal/api"
	"github.com/wesm/tilevault/internal/config"
	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/ingest"
	"github.com/wesm/tilevault/internal/scheduler"
	"github.com/wesm/tilevault/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run tilevault as a daemon with scheduled scans",
	Long: `Run tilevault as a long-running daemon.

The daemon runs in the foreground and performs:
  - HTTP API server on configured port (default: 8080)
  - Scheduled rescans based on source config
  - Live updates for sources with watch = true
  - Scheduled group refreshes from [regroup]

Configure schedules in config.toml:
  [[sources]]
  name = "laptop"
  path = "/mnt/evidence/laptop"
  schedule = "0 2 * * *"   # 2am daily (cron format)
  watch = true
  enabled = true

  [regroup]
  schedule = "*/30 * * * *"

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 0 * * 0     = Midnight on Sundays

Tag and seen changes made with other tilevault commands while the daemon
runs show up after the next group refresh.

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	m, err := openManager(ctx, s)
	if err != nil {
		return err
	}
	defer m.Close()

	sched := scheduler.New().WithLogger(logger)
	count, err := addServeJobs(sched, cfg, s, m)
	if err != nil {
		return err
	}
	watchers, err := newWatchers(cfg, s, m)
	if err != nil {
		return err
	}

	sched.Start()

	apiServer := api.NewServer(cfg, s, m, sched, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	for _, w := range watchers {
		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	out := cmd.OutOrStdout()
	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Fprintf(out, "tilevault daemon started\n")
	fmt.Fprintf(out, "  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Fprintf(out, "  Scheduled jobs: %d\n", count)
	fmt.Fprintf(out, "  Watched sources: %d\n", len(watchers))
	fmt.Fprintf(out, "  Groups: %d analyzed, %d unseen\n", len(m.Analyzed()), len(m.Unseen()))
	fmt.Fprintf(out, "  Data directory: %s\n", cfg.Data.DataDir)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Press Ctrl+C to stop.")
	fmt.Fprintln(out)

	for _, status := range sched.Status() {
		fmt.Fprintf(out, "  %s: next run at %s\n", status.Name, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	if count > 0 {
		fmt.Fprintln(out)
	}

	// Wait for shutdown signal or a failing component
	<-gctx.Done()
	if ctx.Err() != nil {
		logger.Info("received shutdown signal")
		fmt.Fprintln(out, "\nShutting down...")
	}

	fmt.Fprintln(out, "Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	cancel()
	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	fmt.Fprintln(out, "Waiting for running jobs to complete...")
	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
		fmt.Fprintln(out, "Shutdown complete.")
	case <-time.After(30 * time.Second):
		fmt.Fprintln(out, "Shutdown timed out after 30 seconds.")
	}

	return runErr
}

// addServeJobs registers the scheduled group refresh and the source
// rescans. Returns the number of jobs added.
func addServeJobs(sched *scheduler.Scheduler, c *config.Config, s *store.Store, m *grouping.Manager) (int, error) {
	count := 0
	if c.Regroup.Schedule != "" {
		err := sched.AddJob(scheduler.RegroupJob, c.Regroup.Schedule, func(ctx context.Context) error {
			gc := m.Config()
			task := m.Regroup(gc.Scope, gc.Attribute, gc.SortBy, gc.Order, true)
			if task == nil {
				return nil
			}
			return task.Wait(ctx)
		})
		if err != nil {
			return 0, fmt.Errorf("schedule regroup: %w", err)
		}
		count++
	}

	scan := func(ctx context.Context, name string) error {
		src := c.GetSource(name)
		if src == nil {
			return fmt.Errorf("source %q is no longer configured", name)
		}
		root, err := filepath.Abs(src.Path)
		if err != nil {
			return err
		}
		summary, err := scanSource(ctx, s, m, name, root, ingest.Options{Logger: logger})
		if err != nil {
			return err
		}
		logger.Info("scheduled scan complete",
			"source", name,
			"added", summary.Added,
			"updated", summary.Updated,
			"removed", summary.Removed,
			"hash_hits", summary.HashHits,
			"duration", summary.Duration)
		return nil
	}
	added, errs := sched.AddSourcesFromConfig(c, scan)
	for _, err := range errs {
		logger.Error("failed to schedule source", "error", err)
	}
	return count + added, nil
}

// newWatchers creates a watcher for every enabled source with watch = true.
func newWatchers(c *config.Config, s *store.Store, m *grouping.Manager) ([]*ingest.Watcher, error) {
	var watchers []*ingest.Watcher
	for _, sc := range c.Sources {
		if !sc.Enabled || !sc.Watch {
			continue
		}
		root, err := filepath.Abs(sc.Path)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		src, err := s.EnsureDataSource(sc.Name, root)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		scanner := ingest.NewScanner(s, m, ingest.Options{Logger: logger})
		watchers = append(watchers, ingest.NewWatcher(scanner, src, ingest.WithWatcherLogger(logger)))
	}
	return watchers, nil
}
