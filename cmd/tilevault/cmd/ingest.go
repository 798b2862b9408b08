package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesm/tilevault/internal/ingest"
	"github.com/wesm/tilevault/internal/store"
)

var ingestWorkers int

var ingestCmd = &cobra.Command{
	Use:   "ingest <source-name> [path]",
	Short: "Scan a data source into the catalog",
	Long: `Scan a data source and record every image and video file in the catalog.

Files are identified by content sniffing and hashed with MD5; digests found in
an imported hash set count as hash hits. Rescanning updates changed files and
removes files that disappeared. Hidden files and folders are skipped.

The path may be omitted for sources listed in config.toml:
  [[sources]]
  name = "laptop"
  path = "/mnt/evidence/laptop"

Examples:
  tilevault ingest laptop /mnt/evidence/laptop
  tilevault ingest laptop`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		var root string
		if len(args) == 2 {
			root = args[1]
		} else if src := cfg.GetSource(name); src != nil {
			root = src.Path
		} else {
			return fmt.Errorf("no path given and source %q is not in config", name)
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", root, err)
		}

		s, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		m, err := openManager(ctx, s)
		if err != nil {
			return err
		}
		defer m.Close()

		out := cmd.OutOrStdout()
		progress := &scanProgress{out: out}
		summary, err := scanSource(ctx, s, m, name, abs, ingest.Options{
			Workers:  ingestWorkers,
			Progress: progress.update,
			Logger:   logger,
		})
		progress.finish()
		if err != nil {
			if ctx.Err() != nil {
				fmt.Fprintln(out, "Scan interrupted. Run again to finish; unchanged files are skipped.")
			}
			return err
		}

		fmt.Fprintln(out, "Scan complete.")
		fmt.Fprintf(out, "  Duration:   %s\n", summary.Duration.Round(time.Millisecond))
		fmt.Fprintf(out, "  Folders:    %d\n", summary.Folders)
		fmt.Fprintf(out, "  Added:      %d\n", summary.Added)
		fmt.Fprintf(out, "  Updated:    %d\n", summary.Updated)
		fmt.Fprintf(out, "  Unchanged:  %d\n", summary.Unchanged)
		fmt.Fprintf(out, "  Skipped:    %d\n", summary.Skipped)
		fmt.Fprintf(out, "  Removed:    %d\n", summary.Removed)
		fmt.Fprintf(out, "  Hash hits:  %d\n", summary.HashHits)
		if summary.Errors > 0 {
			fmt.Fprintf(out, "  Errors:     %d\n", summary.Errors)
		}
		fmt.Fprintf(out, "  Groups:     %d analyzed, %d unseen\n", len(m.Analyzed()), len(m.Unseen()))
		return nil
	},
}

// scanSource registers the data source and scans it, reporting items to
// sink.
func scanSource(ctx context.Context, s *store.Store, sink ingest.Sink, name, root string, opts ingest.Options) (*ingest.Summary, error) {
	src, err := s.EnsureDataSource(name, root)
	if err != nil {
		return nil, err
	}
	return ingest.NewScanner(s, sink, opts).Scan(ctx, src)
}

// scanProgress prints folder progress, throttled to every 2 seconds.
type scanProgress struct {
	out       io.Writer
	startTime time.Time
	lastPrint time.Time
	printed   bool
}

func (p *scanProgress) update(done, total int) {
	now := time.Now()
	if p.startTime.IsZero() {
		p.startTime = now
		p.lastPrint = now
	}
	if now.Sub(p.lastPrint) < 2*time.Second && done != total {
		return
	}
	p.lastPrint = now
	p.printed = true
	fmt.Fprintf(p.out, "\r  Folders: %d/%d | Elapsed: %s    ", done, total, formatDuration(now.Sub(p.startTime)))
}

func (p *scanProgress) finish() {
	if p.printed {
		fmt.Fprintln(p.out) // Clear the progress line
	}
}

// formatDuration formats a duration as "Xs", "Xm Ys" or "Xh Ym" for readability.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, sec)
	default:
		return fmt.Sprintf("%ds", sec)
	}
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 4, "Number of files hashed concurrently")
}
