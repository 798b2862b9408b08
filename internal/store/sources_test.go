package store

import (
	"testing"
	"time"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir() + "/catalog.db")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return st
}

func TestListDataSourcesOrder(t *testing.T) {
	st := newStore(t)
	for _, name := range []string{"phone", "laptop", "card"} {
		if _, err := st.EnsureDataSource(name, "/evidence/"+name); err != nil {
			t.Fatalf("EnsureDataSource(%s): %v", name, err)
		}
	}

	sources, err := st.ListDataSources()
	if err != nil {
		t.Fatalf("ListDataSources: %v", err)
	}
	var names []string
	for _, s := range sources {
		names = append(names, s.Name)
		if s.LastScanAt.Valid {
			t.Errorf("%s: LastScanAt set before any scan", s.Name)
		}
		if s.CreatedAt.IsZero() {
			t.Errorf("%s: CreatedAt not parsed", s.Name)
		}
	}
	want := []string{"phone", "laptop", "card"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestMarkScannedRoundTrip(t *testing.T) {
	st := newStore(t)
	src, err := st.EnsureDataSource("laptop", "/evidence/laptop")
	if err != nil {
		t.Fatalf("EnsureDataSource: %v", err)
	}

	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600))
	if err := st.MarkScanned(src.ID, at); err != nil {
		t.Fatalf("MarkScanned: %v", err)
	}
	got, err := st.GetDataSource("laptop")
	if err != nil {
		t.Fatalf("GetDataSource: %v", err)
	}
	if !got.LastScanAt.Valid || !got.LastScanAt.Time.Equal(at) {
		t.Errorf("LastScanAt = %v, want %v", got.LastScanAt, at)
	}
}

func TestEnsureReviewer(t *testing.T) {
	st := newStore(t)

	a, err := st.EnsureReviewer("alice")
	if err != nil {
		t.Fatalf("EnsureReviewer(alice): %v", err)
	}
	again, err := st.EnsureReviewer("alice")
	if err != nil {
		t.Fatalf("EnsureReviewer(alice) again: %v", err)
	}
	if a != again {
		t.Errorf("reviewer IDs differ: %d vs %d", a, again)
	}
	b, err := st.EnsureReviewer("bob")
	if err != nil {
		t.Fatalf("EnsureReviewer(bob): %v", err)
	}
	if a == b {
		t.Error("distinct reviewers share an ID")
	}
	if _, err := st.EnsureReviewer(""); err == nil {
		t.Error("EnsureReviewer(\"\") should fail")
	}
}

func TestParseSQLiteTime(t *testing.T) {
	want := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, s := range []string{
		"2026-01-02T03:04:05Z",
		"2026-01-02 03:04:05",
		"2026-01-02T03:04:05.000000000Z",
	} {
		if got := parseSQLiteTime(s); !got.Equal(want) {
			t.Errorf("parseSQLiteTime(%q) = %v, want %v", s, got, want)
		}
	}
	if got := parseSQLiteTime("yesterday"); !got.IsZero() {
		t.Errorf("parseSQLiteTime(garbage) = %v, want zero", got)
	}
}
