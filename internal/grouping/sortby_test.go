package grouping

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// groupWithHits builds a group of size members whose first hits members
// are hash-set hits.
func groupWithHits(t *testing.T, cat *fakeCatalog, value string, firstID ItemID, size, hits int) *DrawableGroup {
	t.Helper()
	var ids []ItemID
	for i := 0; i < size; i++ {
		id := firstID + ItemID(i)
		it := fakeItem{scope: 1, path: value}
		if i < hits {
			it.hashSets = []string{"known-bad"}
		}
		cat.put(id, it)
		ids = append(ids, id)
	}
	return newDrawableGroup(NewGroupKey(AttrPath, value, 1), ids, false, cat, testLogger())
}

func displayNames(groups []*DrawableGroup) []string {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.Key().DisplayName()
	}
	return names
}

func TestPriorityTieBreaksOnSize(t *testing.T) {
	cat := newFakeCatalog()
	small := groupWithHits(t, cat, "/small", 100, 4, 2)
	big := groupWithHits(t, cat, "/big", 200, 10, 5)

	groups := []*DrawableGroup{small, big}
	slices.SortStableFunc(groups, ByPriority.Comparator(context.Background(), Ascending))

	if got := displayNames(groups); !slices.Equal(got, []string{"/big", "/small"}) {
		t.Errorf("order = %v, want [/big /small]", got)
	}
}

func TestPriorityOrdering(t *testing.T) {
	cat := newFakeCatalog()
	noHits := groupWithHits(t, cat, "/clean", 100, 50, 0)
	dense := groupWithHits(t, cat, "/dense", 200, 2, 2)
	sparse := groupWithHits(t, cat, "/sparse", 300, 10, 1)

	groups := []*DrawableGroup{noHits, sparse, dense}
	// Priority has no direction: Descending must not change the result.
	for _, order := range []SortOrder{Ascending, Descending} {
		slices.SortStableFunc(groups, ByPriority.Comparator(context.Background(), order))
		if got := displayNames(groups); !slices.Equal(got, []string{"/dense", "/sparse", "/clean"}) {
			t.Errorf("%v order = %v", order, got)
		}
	}
}

func TestSizeOrdering(t *testing.T) {
	cat := newFakeCatalog()
	a := groupWithHits(t, cat, "/a", 100, 3, 0)
	b := groupWithHits(t, cat, "/b", 200, 1, 0)
	c := groupWithHits(t, cat, "/c", 300, 7, 0)

	groups := []*DrawableGroup{a, b, c}
	slices.SortStableFunc(groups, BySize.Comparator(context.Background(), Ascending))
	if got := displayNames(groups); !slices.Equal(got, []string{"/b", "/a", "/c"}) {
		t.Errorf("ascending = %v", got)
	}
	slices.SortStableFunc(groups, BySize.Comparator(context.Background(), Descending))
	if got := displayNames(groups); !slices.Equal(got, []string{"/c", "/a", "/b"}) {
		t.Errorf("descending = %v", got)
	}
}

func valueGroups(cat *fakeCatalog, keys ...GroupKey) []*DrawableGroup {
	groups := make([]*DrawableGroup, len(keys))
	for i, k := range keys {
		groups[i] = newDrawableGroup(k, []ItemID{ItemID(i + 1)}, false, cat, testLogger())
	}
	return groups
}

func TestValueOrderingIsCollated(t *testing.T) {
	cat := newFakeCatalog()
	groups := valueGroups(cat,
		NewGroupKey(AttrMimeType, "img10", 0),
		NewGroupKey(AttrMimeType, "Beta", 0),
		NewGroupKey(AttrMimeType, "img2", 0),
		NewGroupKey(AttrMimeType, "alpha", 0),
	)
	slices.SortStableFunc(groups, ByValue.Comparator(context.Background(), Ascending))
	if got := displayNames(groups); !slices.Equal(got, []string{"alpha", "Beta", "img10", "img2"}) {
		t.Errorf("order = %v", got)
	}
}

func TestValueOrderingWithZeroDigits(t *testing.T) {
	cat := newFakeCatalog()
	tests := []struct {
		name string
		keys []GroupKey
		want []string
	}{
		{
			name: "folders named 0 and 1",
			keys: []GroupKey{NewGroupKey(AttrPath, "/1/a", 1), NewGroupKey(AttrPath, "/0/b", 1)},
			want: []string{"/0/b", "/1/a"},
		},
		{
			name: "zero inside a word",
			keys: []GroupKey{NewGroupKey(AttrTags, "x1 a", 0), NewGroupKey(AttrTags, "x0 b", 0)},
			want: []string{"x0 b", "x1 a"},
		},
		{
			name: "categories",
			keys: []GroupKey{Cat5.Key(0), Cat1.Key(0), Cat0.Key(0), Cat3.Key(0)},
			want: []string{Cat0.Label(), Cat1.Label(), Cat3.Label(), Cat5.Label()},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := valueGroups(cat, tt.keys...)
			slices.SortStableFunc(groups, ByValue.Comparator(context.Background(), Ascending))
			if got := displayNames(groups); !slices.Equal(got, tt.want) {
				t.Errorf("ascending = %v, want %v", got, tt.want)
			}
			slices.SortStableFunc(groups, ByValue.Comparator(context.Background(), Descending))
			want := slices.Clone(tt.want)
			slices.Reverse(want)
			if got := displayNames(groups); !slices.Equal(got, want) {
				t.Errorf("descending = %v, want %v", got, want)
			}
		})
	}
}

func TestUnorderedKeepsDiscoveryOrder(t *testing.T) {
	cat := newFakeCatalog()
	a := groupWithHits(t, cat, "/z", 100, 1, 0)
	b := groupWithHits(t, cat, "/a", 200, 9, 3)
	c := groupWithHits(t, cat, "/m", 300, 2, 0)
	groups := []*DrawableGroup{a, b, c}
	slices.SortStableFunc(groups, Unordered.Comparator(context.Background(), Descending))
	if got := displayNames(groups); !slices.Equal(got, []string{"/z", "/a", "/m"}) {
		t.Errorf("order = %v", got)
	}
}

func TestValueComparatorSynthesizesGroups(t *testing.T) {
	cat := newFakeCatalog()
	registered := map[string]*DrawableGroup{
		"/big": groupWithHits(t, cat, "/big", 100, 8, 0),
	}
	lookup := func(v ScopedValue) *DrawableGroup {
		if g, ok := registered[v.Value]; ok {
			return g
		}
		return newDrawableGroup(NewGroupKey(AttrPath, v.Value, v.Scope), nil, false, cat, testLogger())
	}
	values := []ScopedValue{{Scope: 1, Value: "/big"}, {Scope: 1, Value: "/new"}}
	slices.SortStableFunc(values, BySize.ValueComparator(context.Background(), lookup, Ascending))
	if values[0].Value != "/new" || values[1].Value != "/big" {
		t.Errorf("order = %v", values)
	}
}

func TestParseSortBy(t *testing.T) {
	for _, sb := range SortStrategies() {
		got, err := ParseSortBy(sb.Name())
		if err != nil {
			t.Fatalf("ParseSortBy(%q): %v", sb.Name(), err)
		}
		if got.Name() != sb.Name() {
			t.Errorf("ParseSortBy(%q) = %q", sb.Name(), got.Name())
		}
	}
	if _, err := ParseSortBy("date"); err == nil {
		t.Error("expected error for unknown strategy")
	}
	if ByPriority.Directional() || !BySize.Directional() {
		t.Error("priority must be the only non-directional ordered strategy")
	}
}
