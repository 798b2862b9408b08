package storetest

import (
	"testing"

	"github.com/wesm/tilevault/internal/grouping"
)

func TestFixtureManagerSeesCompletedFolders(t *testing.T) {
	f := New(t)
	f.ImportHashSet("nsrl", "feed")
	f.AddItem("/a", "image/png", "")
	f.AddItem("/b", "image/png", "feed")
	f.AddItem("/c", "image/png", "")
	f.CompleteFolders("/a", "/b")

	m := f.NewManager()
	keys := m.Analyzed()
	if len(keys) != 2 {
		t.Fatalf("analyzed = %v, want 2 groups", keys)
	}
	// The hash hit puts /b first.
	if want := grouping.NewGroupKey(grouping.AttrPath, "/b", f.Scope()); !keys[0].Equal(want) {
		t.Errorf("first group = %s, want %s", keys[0], want)
	}
}
