package ingest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/store"
	"github.com/wesm/tilevault/internal/testutil"
)

// recordingSink collects dispatched events.
type recordingSink struct {
	mu        sync.Mutex
	events    []grouping.Event
	completes int
}

func (s *recordingSink) Dispatch(_ context.Context, ev grouping.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) CompleteCurrentLocation(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completes++
}

func (s *recordingSink) updated() []grouping.ItemID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []grouping.ItemID
	for _, ev := range s.events {
		if u, ok := ev.(grouping.ItemUpdated); ok {
			ids = append(ids, u.Item)
		}
	}
	return ids
}

func (s *recordingSink) removed() []grouping.ItemID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []grouping.ItemID
	for _, ev := range s.events {
		if r, ok := ev.(grouping.ItemsRemoved); ok {
			ids = append(ids, r.Items...)
		}
	}
	return ids
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.completes = 0
}

func digest(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	testutil.MustNoErr(t, err, "read "+path)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

type scanEnv struct {
	root    string
	store   *store.Store
	src     *store.DataSource
	sink    *recordingSink
	scanner *Scanner
}

func newScanEnv(t *testing.T) *scanEnv {
	t.Helper()
	root := t.TempDir()
	st := testutil.NewTestStore(t)
	src, err := st.EnsureDataSource("card", root)
	testutil.MustNoErr(t, err, "EnsureDataSource")
	sink := &recordingSink{}
	return &scanEnv{
		root:    root,
		store:   st,
		src:     src,
		sink:    sink,
		scanner: NewScanner(st, sink, Options{Workers: 2}),
	}
}

func (e *scanEnv) paths(t *testing.T) []string {
	t.Helper()
	files, err := e.store.ListFiles(e.src.ID)
	testutil.MustNoErr(t, err, "ListFiles")
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path()
	}
	return out
}

func TestParentPath(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "evidence", "card")
	tests := []struct {
		dir     string
		want    string
		wantErr bool
	}{
		{root, "/", false},
		{filepath.Join(root, "DCIM"), "/DCIM", false},
		{filepath.Join(root, "DCIM", "100APPLE"), "/DCIM/100APPLE", false},
		{filepath.Join(root, ".."), "", true},
		{filepath.Join(string(filepath.Separator), "elsewhere"), "", true},
	}
	for _, tt := range tests {
		got, err := ParentPath(root, tt.dir)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParentPath(%q) error = %v, wantErr %v", tt.dir, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParentPath(%q) = %q, want %q", tt.dir, got, tt.want)
		}
	}
}

func TestIsDrawable(t *testing.T) {
	for mime, want := range map[string]bool{
		"image/png":                 true,
		"video/mp4":                 true,
		"text/plain":                false,
		"application/octet-stream":  false,
		"application/pdf":           false,
	} {
		if got := IsDrawable(mime); got != want {
			t.Errorf("IsDrawable(%q) = %v, want %v", mime, got, want)
		}
	}
}

func TestScanRecordsDrawableFiles(t *testing.T) {
	e := newScanEnv(t)
	testutil.WriteImage(t, e.root, "a.png", "a")
	jpg := testutil.WriteImage(t, e.root, "dcim/b.jpg", "b")
	testutil.WriteImage(t, e.root, "dcim/c.png", "c")
	testutil.WriteFile(t, e.root, "notes.txt", []byte("plain text notes"))
	testutil.WriteImage(t, e.root, ".thumbs/x.png", "x")

	summary, err := e.scanner.Scan(context.Background(), e.src)
	testutil.MustNoErr(t, err, "Scan")

	if summary.Added != 3 || summary.Skipped != 1 || summary.Errors != 0 || summary.Folders != 2 {
		t.Errorf("summary = %+v", summary)
	}
	testutil.AssertStrings(t, e.paths(t), "/a.png", "/dcim/b.jpg", "/dcim/c.png")

	f, err := e.store.FindFile(e.src.ID, "/dcim", "b.jpg")
	testutil.MustNoErr(t, err, "FindFile")
	if !f.Analyzed || f.MimeType != "image/jpeg" || f.MD5 != digest(t, jpg) {
		t.Errorf("b.jpg = %+v", f)
	}

	// Items arrive folder by folder, in name order.
	var names []string
	for _, id := range e.sink.updated() {
		f, err := e.store.GetFile(int64(id))
		testutil.MustNoErr(t, err, "GetFile")
		names = append(names, f.Path())
	}
	if diff := cmp.Diff([]string{"/a.png", "/dcim/b.jpg", "/dcim/c.png"}, names); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
	if e.sink.completes != 1 {
		t.Errorf("CompleteCurrentLocation called %d times, want 1", e.sink.completes)
	}

	src, err := e.store.GetDataSource("card")
	testutil.MustNoErr(t, err, "GetDataSource")
	if !src.LastScanAt.Valid {
		t.Error("LastScanAt not set")
	}
}

func TestRescanDetectsChangesAndRemovals(t *testing.T) {
	e := newScanEnv(t)
	testutil.WriteImage(t, e.root, "keep.png", "k")
	changed := testutil.WriteImage(t, e.root, "edit.png", "v1")
	gone := testutil.WriteImage(t, e.root, "gone.png", "g")

	_, err := e.scanner.Scan(context.Background(), e.src)
	testutil.MustNoErr(t, err, "first Scan")
	old, err := e.store.FindFile(e.src.ID, "/", "gone.png")
	testutil.MustNoErr(t, err, "FindFile gone.png")

	testutil.WriteImage(t, e.root, "edit.png", "version two")
	later := time.Now().Add(time.Hour)
	testutil.MustNoErr(t, os.Chtimes(changed, later, later), "Chtimes")
	testutil.MustNoErr(t, os.Remove(gone), "Remove")
	e.sink.reset()

	summary, err := e.scanner.Scan(context.Background(), e.src)
	testutil.MustNoErr(t, err, "second Scan")
	if summary.Added != 0 || summary.Updated != 1 || summary.Unchanged != 1 || summary.Removed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	testutil.AssertStrings(t, e.paths(t), "/edit.png", "/keep.png")
	if diff := cmp.Diff([]grouping.ItemID{grouping.ItemID(old.ID)}, e.sink.removed()); diff != "" {
		t.Errorf("removed mismatch (-want +got):\n%s", diff)
	}

	f, err := e.store.FindFile(e.src.ID, "/", "edit.png")
	testutil.MustNoErr(t, err, "FindFile edit.png")
	if f.MD5 != digest(t, changed) {
		t.Errorf("edit.png md5 = %s, want updated digest", f.MD5)
	}
}

func TestScanFileTurnedNonDrawableIsRemoved(t *testing.T) {
	e := newScanEnv(t)
	p := testutil.WriteImage(t, e.root, "pic.png", "p")
	_, err := e.scanner.Scan(context.Background(), e.src)
	testutil.MustNoErr(t, err, "first Scan")

	testutil.WriteFile(t, e.root, "pic.png", []byte("now it is text"))
	later := time.Now().Add(time.Hour)
	testutil.MustNoErr(t, os.Chtimes(p, later, later), "Chtimes")

	summary, err := e.scanner.Scan(context.Background(), e.src)
	testutil.MustNoErr(t, err, "second Scan")
	if summary.Removed != 1 || summary.Skipped != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if got := e.paths(t); len(got) != 0 {
		t.Errorf("files = %v, want none", got)
	}
}

func TestScanCancelledKeepsFiles(t *testing.T) {
	e := newScanEnv(t)
	testutil.WriteImage(t, e.root, "a/1.png", "1")
	testutil.WriteImage(t, e.root, "b/2.png", "2")
	_, err := e.scanner.Scan(context.Background(), e.src)
	testutil.MustNoErr(t, err, "first Scan")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := e.scanner.Scan(ctx, e.src); err == nil {
		t.Fatal("cancelled Scan returned nil error")
	}
	if len(e.sink.removed()) != 0 {
		t.Error("cancelled scan removed files")
	}
	testutil.AssertStrings(t, e.paths(t), "/a/1.png", "/b/2.png")
}

func TestScanMissingRoot(t *testing.T) {
	st := testutil.NewTestStore(t)
	src, err := st.EnsureDataSource("gone", filepath.Join(t.TempDir(), "missing"))
	testutil.MustNoErr(t, err, "EnsureDataSource")
	if _, err := NewScanner(st, &recordingSink{}, Options{}).Scan(context.Background(), src); err == nil {
		t.Fatal("Scan of missing root returned nil error")
	}
}

func TestScanPath(t *testing.T) {
	e := newScanEnv(t)
	testutil.WriteImage(t, e.root, "x/old.png", "o")
	testutil.WriteImage(t, e.root, "x/y/deep.png", "d")
	_, err := e.scanner.Scan(context.Background(), e.src)
	testutil.MustNoErr(t, err, "Scan")
	ctx := context.Background()

	// New file.
	added := testutil.WriteImage(t, e.root, "x/new.jpg", "n")
	testutil.MustNoErr(t, e.scanner.ScanPath(ctx, e.src, added), "ScanPath new")
	testutil.AssertStrings(t, e.paths(t), "/x/new.jpg", "/x/old.png", "/x/y/deep.png")

	// New directory.
	testutil.WriteImage(t, e.root, "z/one.png", "1")
	testutil.WriteImage(t, e.root, "z/sub/two.png", "2")
	testutil.MustNoErr(t, e.scanner.ScanPath(ctx, e.src, filepath.Join(e.root, "z")), "ScanPath dir")
	testutil.AssertStrings(t, e.paths(t), "/x/new.jpg", "/x/old.png", "/x/y/deep.png", "/z/one.png", "/z/sub/two.png")

	// Deleted file and deleted directory.
	testutil.MustNoErr(t, os.Remove(added), "Remove")
	testutil.MustNoErr(t, e.scanner.ScanPath(ctx, e.src, added), "ScanPath removed file")
	testutil.MustNoErr(t, os.RemoveAll(filepath.Join(e.root, "x", "y")), "RemoveAll")
	testutil.MustNoErr(t, e.scanner.ScanPath(ctx, e.src, filepath.Join(e.root, "x", "y")), "ScanPath removed dir")
	testutil.AssertStrings(t, e.paths(t), "/x/old.png", "/z/one.png", "/z/sub/two.png")
	if got := len(e.sink.removed()); got != 2 {
		t.Errorf("removed %d items, want 2", got)
	}

	// Paths outside the root are rejected.
	if err := e.scanner.ScanPath(ctx, e.src, filepath.Join(t.TempDir(), "a.png")); err == nil {
		t.Error("ScanPath outside root returned nil error")
	}
}

func TestScanFeedsManager(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e := newScanEnv(t)
	testutil.WriteImage(t, e.root, "docs/a.png", "a")
	bad := testutil.WriteImage(t, e.root, "dcim/b.jpg", "b")
	testutil.WriteImage(t, e.root, "dcim/c.png", "c")
	_, _, err := e.store.ImportHashSet("known-bad", []string{digest(t, bad)})
	testutil.MustNoErr(t, err, "ImportHashSet")

	reviewer, err := e.store.EnsureReviewer("examiner")
	testutil.MustNoErr(t, err, "EnsureReviewer")
	m := grouping.NewManager(e.store, grouping.ReviewerID(reviewer))
	t.Cleanup(m.Close)

	summary, err := NewScanner(e.store, m, Options{}).Scan(ctx, e.src)
	testutil.MustNoErr(t, err, "Scan")
	if summary.HashHits != 1 {
		t.Errorf("HashHits = %d, want 1", summary.HashHits)
	}

	var keys []string
	for _, k := range m.Analyzed() {
		keys = append(keys, k.String())
	}
	// The folder with the hash hit sorts first.
	scope := e.src.ID
	want := []string{
		grouping.NewGroupKey(grouping.AttrPath, "/dcim", grouping.ScopeID(scope)).String(),
		grouping.NewGroupKey(grouping.AttrPath, "/docs", grouping.ScopeID(scope)).String(),
	}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("analyzed mismatch (-want +got):\n%s", diff)
	}
}
