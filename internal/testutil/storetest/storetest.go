// Package storetest provides a Fixture and helpers for tests that need a
// populated catalog.
package storetest

import (
	"context"
	"fmt"
	"path"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/tilevault/internal/grouping"
	"github.com/wesm/tilevault/internal/store"
	"github.com/wesm/tilevault/internal/testutil"
)

// Fixture holds common test state for catalog-level tests.
type Fixture struct {
	T        *testing.T
	Store    *store.Store
	Source   *store.DataSource
	Reviewer grouping.ReviewerID
	counter  atomic.Int64
}

// New creates a Fixture with a fresh catalog, one data source ("laptop")
// and one reviewer ("examiner").
func New(t *testing.T) *Fixture {
	t.Helper()
	st := testutil.NewTestStore(t)
	src, err := st.EnsureDataSource("laptop", "/evidence/laptop")
	testutil.MustNoErr(t, err, "setup: EnsureDataSource")
	reviewer, err := st.EnsureReviewer("examiner")
	testutil.MustNoErr(t, err, "setup: EnsureReviewer")
	return &Fixture{T: t, Store: st, Source: src, Reviewer: grouping.ReviewerID(reviewer)}
}

// Scope returns the fixture data source as a grouping scope.
func (f *Fixture) Scope() grouping.ScopeID {
	return grouping.ScopeID(f.Source.ID)
}

// AddItem inserts an analyzed file under folder and returns its item ID.
// An empty md5 gets a unique digest so the file has no hash hit.
func (f *Fixture) AddItem(folder, mime, md5 string) grouping.ItemID {
	f.T.Helper()
	n := f.counter.Add(1)
	if md5 == "" {
		md5 = fmt.Sprintf("%032x", n)
	}
	id, err := f.Store.UpsertFile(&store.File{
		DataSourceID: f.Source.ID,
		ParentPath:   folder,
		Name:         fmt.Sprintf("file-%d", n),
		MimeType:     mime,
		Size:         n,
		ModTime:      time.Unix(1700000000+n, 0),
	})
	testutil.MustNoErr(f.T, err, "AddItem "+path.Join(folder, "file"))
	testutil.MustNoErr(f.T, f.Store.MarkAnalyzed(id, md5), "MarkAnalyzed")
	return grouping.ItemID(id)
}

// ImportHashSet adds digests to a named hash set.
func (f *Fixture) ImportHashSet(name string, digests ...string) {
	f.T.Helper()
	_, _, err := f.Store.ImportHashSet(name, digests)
	testutil.MustNoErr(f.T, err, "ImportHashSet "+name)
}

// CompleteFolders marks folders of the fixture data source as fully
// analyzed.
func (f *Fixture) CompleteFolders(folders ...string) {
	f.T.Helper()
	for _, folder := range folders {
		key := grouping.NewGroupKey(grouping.AttrPath, folder, f.Scope())
		testutil.MustNoErr(f.T, f.Store.MarkLocationGroupComplete(context.Background(), key), "MarkLocationGroupComplete "+folder)
	}
}

// NewManager returns a grouping manager over the fixture catalog for its
// reviewer, regrouped by folder and closed when the test ends.
func (f *Fixture) NewManager() *grouping.Manager {
	f.T.Helper()
	m := grouping.NewManager(f.Store, f.Reviewer)
	f.T.Cleanup(m.Close)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	task := m.Regroup(grouping.NoScope, grouping.AttrPath, grouping.ByPriority, grouping.Ascending, true)
	testutil.MustNoErr(f.T, task.Wait(ctx), "initial regroup")
	return m
}
