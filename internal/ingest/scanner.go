// Package ingest walks data-source directories into the catalog and feeds
// the resulting item events to the grouping manager.
package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/store"
)

// Sink receives item events. *grouping.Manager satisfies it.
type Sink interface {
	Dispatch(ctx context.Context, ev grouping.Event)
	CompleteCurrentLocation(ctx context.Context)
}

// Options configures a Scanner.
type Options struct {
	// Workers bounds concurrent hashing. Defaults to 4.
	Workers int

	// MaxFileBytes skips larger files. Defaults to 4 GiB.
	MaxFileBytes int64

	// Progress is called after each folder with the number of folders
	// done and the total. Optional.
	Progress func(done, total int)

	// Logger is optional; defaults to slog.Default().
	Logger *slog.Logger
}

// Summary reports the results of a scan.
type Summary struct {
	Duration  time.Duration
	Folders   int
	Added     int64
	Updated   int64
	Unchanged int64
	Skipped   int64 // not a drawable media type, or too large
	Removed   int64
	HashHits  int64
	Errors    int64
}

const (
	defaultWorkers      = 4
	defaultMaxFileBytes = 4 << 30
	sniffLen            = 512
)

// Scanner ingests data sources into a catalog.
type Scanner struct {
	store *store.Store
	sink  Sink
	opts  Options
	log   *slog.Logger
}

// NewScanner creates a Scanner that writes to st and reports to sink.
func NewScanner(st *store.Store, sink Sink, opts Options) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = defaultMaxFileBytes
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{store: st, sink: sink, opts: opts, log: log}
}

type candidate struct {
	abs     string
	name    string
	size    int64
	modTime time.Time
}

type folder struct {
	parent string
	files  []candidate
}

// ParentPath converts a directory below root into the catalog's
// slash-separated folder form ("/" for root itself).
func ParentPath(root, dir string) (string, error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside %s", dir, root)
	}
	if rel == "." {
		return "/", nil
	}
	return "/" + filepath.ToSlash(rel), nil
}

// discover walks root and returns regular files grouped by folder, folders
// in path order and files by name. Hidden entries are skipped.
func discover(root string) ([]folder, error) {
	byParent := make(map[string][]candidate)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		parent, err := ParentPath(root, filepath.Dir(p))
		if err != nil {
			return err
		}
		byParent[parent] = append(byParent[parent], candidate{
			abs: p, name: d.Name(), size: info.Size(), modTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	folders := make([]folder, 0, len(byParent))
	for parent, files := range byParent {
		sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
		folders = append(folders, folder{parent: parent, files: files})
	}
	sort.Slice(folders, func(i, j int) bool { return folders[i].parent < folders[j].parent })
	return folders, nil
}

// analysis is the outcome of sniffing and hashing one file.
type analysis struct {
	mime string
	md5  string
	skip bool
	err  error
}

// IsDrawable reports whether a sniffed content type is grouped.
func IsDrawable(mime string) bool {
	return strings.HasPrefix(mime, "image/") || strings.HasPrefix(mime, "video/")
}

// analyze sniffs the content type from the first bytes and hashes the
// whole file in one pass. Non-drawable files are not hashed.
func analyze(abs string) analysis {
	f, err := os.Open(abs)
	if err != nil {
		return analysis{err: err}
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return analysis{err: err}
	}
	head = head[:n]
	mime := http.DetectContentType(head)
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !IsDrawable(mime) {
		return analysis{mime: mime, skip: true}
	}

	h := md5.New()
	h.Write(head)
	if _, err := io.Copy(h, f); err != nil {
		return analysis{err: err}
	}
	return analysis{mime: mime, md5: hex.EncodeToString(h.Sum(nil))}
}

// Scan ingests every drawable file below the data source root. Files that
// disappeared since the last scan are removed. A cancelled scan returns
// ctx.Err() and leaves removals for the next run.
func (s *Scanner) Scan(ctx context.Context, src *store.DataSource) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	root, err := filepath.Abs(src.RootPath)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", root)
	}

	folders, err := discover(root)
	if err != nil {
		return nil, err
	}
	summary.Folders = len(folders)
	s.log.Info("scanning data source", "source", src.Name, "root", root, "folders", len(folders))

	present := make(map[int64]bool)
	for i, fo := range folders {
		if err := ctx.Err(); err != nil {
			summary.Duration = time.Since(start)
			return summary, err
		}
		if err := s.scanFolder(ctx, src, fo, present, summary); err != nil {
			return summary, err
		}
		if s.opts.Progress != nil {
			s.opts.Progress(i+1, len(folders))
		}
	}
	s.sink.CompleteCurrentLocation(ctx)

	files, err := s.store.ListFiles(src.ID)
	if err != nil {
		return summary, fmt.Errorf("list files: %w", err)
	}
	var gone []int64
	for _, f := range files {
		if !present[f.ID] {
			gone = append(gone, f.ID)
		}
	}
	if err := s.remove(ctx, gone); err != nil {
		return summary, err
	}
	summary.Removed = int64(len(gone))

	if err := s.store.MarkScanned(src.ID, time.Now()); err != nil {
		return summary, fmt.Errorf("mark scanned: %w", err)
	}
	summary.Duration = time.Since(start)
	s.log.Info("scan complete",
		"source", src.Name,
		"added", summary.Added,
		"updated", summary.Updated,
		"unchanged", summary.Unchanged,
		"removed", summary.Removed,
		"hash_hits", summary.HashHits,
		"errors", summary.Errors,
		"duration", summary.Duration)
	return summary, nil
}

// scanFolder hashes changed files of one folder concurrently, then records
// and dispatches them in name order so the folder's items reach the sink
// contiguously.
func (s *Scanner) scanFolder(ctx context.Context, src *store.DataSource, fo folder, present map[int64]bool, summary *Summary) error {
	existing := make([]*store.File, len(fo.files))
	results := make([]analysis, len(fo.files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, c := range fo.files {
		f, err := s.store.FindFile(src.ID, fo.parent, c.name)
		switch {
		case err == nil:
			existing[i] = f
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if unchanged(existing[i], c) {
			continue
		}
		if c.size > s.opts.MaxFileBytes {
			results[i] = analysis{skip: true}
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = analyze(c.abs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, c := range fo.files {
		old := existing[i]
		if unchanged(old, c) {
			present[old.ID] = true
			summary.Unchanged++
			s.sink.Dispatch(ctx, grouping.ItemUpdated{Item: grouping.ItemID(old.ID)})
			continue
		}
		res := results[i]
		if res.err != nil {
			summary.Errors++
			s.log.Warn("analyze file failed", "path", c.abs, "error", res.err)
			if old != nil {
				present[old.ID] = true
			}
			continue
		}
		if res.skip {
			// A file that stopped being drawable is removed below.
			summary.Skipped++
			continue
		}
		id, hits, err := s.record(src, fo.parent, c, res)
		if err != nil {
			summary.Errors++
			s.log.Warn("record file failed", "path", c.abs, "error", err)
			continue
		}
		present[id] = true
		if old == nil {
			summary.Added++
		} else {
			summary.Updated++
		}
		summary.HashHits += hits
		s.sink.Dispatch(ctx, grouping.ItemUpdated{Item: grouping.ItemID(id)})
	}
	return nil
}

func unchanged(old *store.File, c candidate) bool {
	return old != nil && old.Analyzed && old.Size == c.size && old.ModTime.Equal(c.modTime)
}

// record writes one analyzed file and returns its ID and the number of
// hash sets its digest appears in.
func (s *Scanner) record(src *store.DataSource, parent string, c candidate, res analysis) (int64, int64, error) {
	id, err := s.store.UpsertFile(&store.File{
		DataSourceID: src.ID,
		ParentPath:   parent,
		Name:         c.name,
		MimeType:     res.mime,
		Size:         c.size,
		ModTime:      c.modTime,
	})
	if err != nil {
		return 0, 0, err
	}
	if err := s.store.MarkAnalyzed(id, res.md5); err != nil {
		return 0, 0, err
	}
	sets, err := s.store.HashSetHits(res.md5)
	if err != nil {
		s.log.Warn("hash set lookup failed", "file", id, "error", err)
		return id, 0, nil
	}
	return id, int64(len(sets)), nil
}

func (s *Scanner) remove(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.store.DeleteFiles(ids); err != nil {
		return fmt.Errorf("delete files: %w", err)
	}
	items := make([]grouping.ItemID, len(ids))
	for i, id := range ids {
		items[i] = grouping.ItemID(id)
	}
	s.sink.Dispatch(ctx, grouping.ItemsRemoved{Items: items})
	return nil
}

// ScanPath ingests or removes a single path below the data source root,
// as reported by a filesystem watcher. A directory that no longer exists
// removes every file recorded below it; an existing directory is walked.
func (s *Scanner) ScanPath(ctx context.Context, src *store.DataSource, abs string) error {
	root, err := filepath.Abs(src.RootPath)
	if err != nil {
		return fmt.Errorf("abs path: %w", err)
	}
	parent, err := ParentPath(root, filepath.Dir(abs))
	if err != nil {
		return err
	}
	name := filepath.Base(abs)

	info, err := os.Lstat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return s.removePath(ctx, src, parent, name)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		folders, err := discover(abs)
		if err != nil {
			return err
		}
		prefix, err := ParentPath(root, abs)
		if err != nil {
			return err
		}
		summary := &Summary{}
		present := make(map[int64]bool)
		for _, fo := range folders {
			fo.parent = path.Join(prefix, fo.parent)
			if err := s.scanFolder(ctx, src, fo, present, summary); err != nil {
				return err
			}
		}
		return nil
	}
	if !info.Mode().IsRegular() || strings.HasPrefix(name, ".") {
		return nil
	}

	c := candidate{abs: abs, name: name, size: info.Size(), modTime: info.ModTime()}
	old, err := s.store.FindFile(src.ID, parent, name)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if unchanged(old, c) {
		return nil
	}
	res := analyze(abs)
	if res.err != nil {
		return fmt.Errorf("analyze %s: %w", abs, res.err)
	}
	if res.skip || c.size > s.opts.MaxFileBytes {
		if old != nil {
			return s.remove(ctx, []int64{old.ID})
		}
		return nil
	}
	id, _, err := s.record(src, parent, c, res)
	if err != nil {
		return err
	}
	s.sink.Dispatch(ctx, grouping.ItemUpdated{Item: grouping.ItemID(id)})
	return nil
}

// removePath drops a vanished file, or every file below a vanished folder.
func (s *Scanner) removePath(ctx context.Context, src *store.DataSource, parent, name string) error {
	f, err := s.store.FindFile(src.ID, parent, name)
	if err == nil {
		return s.remove(ctx, []int64{f.ID})
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	ids, err := s.store.DeleteFilesUnder(src.ID, path.Join(parent, name))
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	items := make([]grouping.ItemID, len(ids))
	for i, id := range ids {
		items[i] = grouping.ItemID(id)
	}
	s.sink.Dispatch(ctx, grouping.ItemsRemoved{Items: items})
	return nil
}
