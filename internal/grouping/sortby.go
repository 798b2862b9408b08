package grouping

import (
	"cmp"
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// SortOrder is the direction applied to a directional sort strategy.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

func (o SortOrder) String() string {
	if o == Descending {
		return "desc"
	}
	return "asc"
}

// ParseSortOrder accepts "asc"/"ascending" and "desc"/"descending".
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, nil
	case "desc", "descending":
		return Descending, nil
	}
	return Ascending, fmt.Errorf("unknown sort order %q", s)
}

// GroupSortBy is a named strategy for ordering groups.
type GroupSortBy struct {
	name        string
	displayName string
	directional bool
	compare     func(ctx context.Context, a, b *DrawableGroup) int
}

var (
	// BySize orders by member count.
	BySize = GroupSortBy{name: "size", displayName: "Group Size", directional: true, compare: compareSize}
	// ByValue orders by display name.
	ByValue = GroupSortBy{name: "value", displayName: "Group Name", directional: true, compare: compareValue}
	// Unordered keeps discovery order.
	Unordered = GroupSortBy{name: "none", displayName: "None", compare: func(context.Context, *DrawableGroup, *DrawableGroup) int { return 0 }}
	// ByPriority puts groups with hash hits first, densest first. It has no
	// direction.
	ByPriority = GroupSortBy{name: "priority", displayName: "Priority", compare: comparePriority}
)

// SortStrategies returns every strategy in menu order.
func SortStrategies() []GroupSortBy {
	return []GroupSortBy{ByPriority, BySize, ByValue, Unordered}
}

// ParseSortBy looks a strategy up by name.
func ParseSortBy(s string) (GroupSortBy, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	for _, sb := range SortStrategies() {
		if sb.name == norm {
			return sb, nil
		}
	}
	return GroupSortBy{}, fmt.Errorf("unknown sort strategy %q", s)
}

func (s GroupSortBy) Name() string        { return s.name }
func (s GroupSortBy) DisplayName() string { return s.displayName }
func (s GroupSortBy) String() string      { return s.name }

// Directional reports whether the order argument has any effect.
func (s GroupSortBy) Directional() bool { return s.directional }

// Comparator returns a comparison function over groups. Aggregates read
// through ctx are memoized on the groups, so callers must hold the
// Manager lock.
func (s GroupSortBy) Comparator(ctx context.Context, order SortOrder) func(a, b *DrawableGroup) int {
	base := s.compare
	if base == nil {
		base = comparePriority
	}
	if s.directional && order == Descending {
		return func(a, b *DrawableGroup) int { return base(ctx, b, a) }
	}
	return func(a, b *DrawableGroup) int { return base(ctx, a, b) }
}

// ValueComparator compares raw attribute values before a registered group
// necessarily exists: lookup finds or synthesizes the group for a value,
// then the group comparator decides. Regroup uses it to order discovery.
func (s GroupSortBy) ValueComparator(ctx context.Context, lookup func(ScopedValue) *DrawableGroup, order SortOrder) func(a, b ScopedValue) int {
	groupCmp := s.Comparator(ctx, order)
	return func(a, b ScopedValue) int {
		return groupCmp(lookup(a), lookup(b))
	}
}

func compareSize(_ context.Context, a, b *DrawableGroup) int {
	return cmp.Compare(a.Size(), b.Size())
}

// Digits collate as text. collate.Numeric puts a lone "0" after "1"
// ("x0 b" > "x1 a"), which misorders folders named 0 and CAT-0 labels.
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und, collate.IgnoreCase)
)

func compareValue(_ context.Context, a, b *DrawableGroup) int {
	// Categories have a fixed order regardless of their labels.
	if a.key.Attribute == AttrCategory && b.key.Attribute == AttrCategory {
		return a.key.Compare(b.key)
	}
	collatorMu.Lock()
	c := collator.CompareString(a.key.DisplayName(), b.key.DisplayName())
	collatorMu.Unlock()
	if c != 0 {
		return c
	}
	return a.key.Compare(b.key)
}

func comparePriority(ctx context.Context, a, b *DrawableGroup) int {
	ha, hb := a.HashHitCount(ctx), b.HashHitCount(ctx)
	if (ha == 0) != (hb == 0) {
		if ha == 0 {
			return 1
		}
		return -1
	}
	if c := cmp.Compare(b.HashHitDensity(ctx), a.HashHitDensity(ctx)); c != 0 {
		return c
	}
	return cmp.Compare(b.Size(), a.Size())
}
