package grouping

import (
	"context"
	"log/slog"
	"slices"
)

// DrawableGroup is one group: its member items, cached aggregates and the
// seen flag. It has no lock of its own; every method must be called with
// the owning Manager's lock held.
type DrawableGroup struct {
	key     GroupKey
	members map[ItemID]struct{}
	seen    bool

	hashHits      int64
	hashHitsValid bool
	uncat         int64
	uncatValid    bool

	catalog Catalog
	logger  *slog.Logger
}

func newDrawableGroup(key GroupKey, members []ItemID, seen bool, catalog Catalog, logger *slog.Logger) *DrawableGroup {
	g := &DrawableGroup{
		key:     key,
		members: make(map[ItemID]struct{}, len(members)),
		seen:    seen,
		catalog: catalog,
		logger:  logger,
	}
	for _, id := range members {
		g.members[id] = struct{}{}
	}
	return g
}

func (g *DrawableGroup) Key() GroupKey { return g.key }
func (g *DrawableGroup) Size() int     { return len(g.members) }
func (g *DrawableGroup) Seen() bool    { return g.seen }

// Contains reports whether the item is a member.
func (g *DrawableGroup) Contains(id ItemID) bool {
	_, ok := g.members[id]
	return ok
}

// Members returns the member IDs in ascending order.
func (g *DrawableGroup) Members() []ItemID {
	ids := make([]ItemID, 0, len(g.members))
	for id := range g.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Add inserts the item if absent. The caches are invalidated even when
// the item was already a member, because a returning item may carry new
// hash hits. The seen flag is left alone.
func (g *DrawableGroup) Add(id ItemID) {
	g.members[id] = struct{}{}
	g.invalidate()
}

// Remove deletes the item if present and reports whether it was a member.
func (g *DrawableGroup) Remove(id ItemID) bool {
	_, ok := g.members[id]
	delete(g.members, id)
	g.invalidate()
	return ok
}

// ReplaceMembers makes the member set equal to ids, reusing Add for the
// invalidation rules.
func (g *DrawableGroup) ReplaceMembers(ids []ItemID) {
	keep := make(map[ItemID]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	for id := range g.members {
		if _, ok := keep[id]; !ok {
			g.Remove(id)
		}
	}
	for _, id := range ids {
		g.Add(id)
	}
}

// SetSeen flips the seen flag. Aggregates are unaffected.
func (g *DrawableGroup) SetSeen(seen bool) { g.seen = seen }

// HandleCategoryChange invalidates the uncategorized count when any of
// the changed items is a member. Hash hits do not depend on category.
func (g *DrawableGroup) HandleCategoryChange(ids []ItemID) {
	for _, id := range ids {
		if g.Contains(id) {
			g.uncatValid = false
			return
		}
	}
}

// HashHitCount returns how many members have at least one hash-set hit.
// A catalog failure is logged and yields 0; the cache stays invalid so the
// next read retries.
func (g *DrawableGroup) HashHitCount(ctx context.Context) int64 {
	if g.hashHitsValid {
		return g.hashHits
	}
	n, err := g.catalog.CountHashHits(ctx, g.Members())
	if err != nil {
		g.logger.Warn("count hash hits failed", "group", g.key.String(), "error", err)
		return 0
	}
	g.hashHits, g.hashHitsValid = n, true
	return n
}

// UncategorizedCount returns how many members have no category.
func (g *DrawableGroup) UncategorizedCount(ctx context.Context) int64 {
	if g.uncatValid {
		return g.uncat
	}
	n, err := g.catalog.CountUncategorized(ctx, g.Members())
	if err != nil {
		g.logger.Warn("count uncategorized failed", "group", g.key.String(), "error", err)
		return 0
	}
	g.uncat, g.uncatValid = n, true
	return n
}

// HashHitDensity is hash hits per member.
func (g *DrawableGroup) HashHitDensity(ctx context.Context) float64 {
	if len(g.members) == 0 {
		return 0
	}
	return float64(g.HashHitCount(ctx)) / float64(len(g.members))
}

func (g *DrawableGroup) invalidate() {
	g.hashHitsValid = false
	g.uncatValid = false
}

// GroupInfo is a read-only snapshot of a group.
type GroupInfo struct {
	Key           GroupKey
	DisplayName   string
	Size          int
	Seen          bool
	HashHits      int64
	Uncategorized int64
	Members       []ItemID
}

func (g *DrawableGroup) snapshot(ctx context.Context, withMembers bool) GroupInfo {
	info := GroupInfo{
		Key:           g.key,
		DisplayName:   g.key.DisplayName(),
		Size:          len(g.members),
		Seen:          g.seen,
		HashHits:      g.HashHitCount(ctx),
		Uncategorized: g.UncategorizedCount(ctx),
	}
	if withMembers {
		info.Members = g.Members()
	}
	return info
}
