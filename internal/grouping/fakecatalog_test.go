package grouping

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// fakeItem is one item in the in-memory catalog.
type fakeItem struct {
	scope    ScopeID
	path     string
	mime     string
	hashSets []string
	tags     []Tag
}

func (it *fakeItem) category() Category {
	for _, t := range it.tags {
		if t.Category {
			c, _ := ParseCategory(t.Name)
			return c
		}
	}
	return Cat0
}

type seenRecord struct {
	id       KeyID
	reviewer ReviewerID
}

// fakeCatalog implements Catalog over maps and counts calls.
type fakeCatalog struct {
	mu       sync.Mutex
	items    map[ItemID]*fakeItem
	complete map[KeyID]bool
	seen     map[seenRecord]bool
	calls    map[string]int

	errHashHits error
	errSetSeen  error
	errValues   error
	// membersHook runs before Members answers, without the fake's lock.
	membersHook func(key GroupKey)
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		items:    make(map[ItemID]*fakeItem),
		complete: make(map[KeyID]bool),
		seen:     make(map[seenRecord]bool),
		calls:    make(map[string]int),
	}
}

func (c *fakeCatalog) put(id ItemID, it fakeItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := it
	c.items[id] = &cp
}

func (c *fakeCatalog) delete(id ItemID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, id)
}

func (c *fakeCatalog) setTags(id ItemID, tags ...Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[id].tags = tags
}

func (c *fakeCatalog) markComplete(key GroupKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.complete[key.ID()] = true
}

func (c *fakeCatalog) setSeen(key GroupKey, reviewer ReviewerID, seen bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[seenRecord{key.ID(), reviewer}] = seen
}

func (c *fakeCatalog) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func (c *fakeCatalog) isComplete(key GroupKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete[key.ID()]
}

func (c *fakeCatalog) count(name string) {
	c.calls[name]++
}

func (c *fakeCatalog) sortedIDs() []ItemID {
	ids := make([]ItemID, 0, len(c.items))
	for id := range c.items {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (c *fakeCatalog) GroupableValues(_ context.Context, id ItemID) (ItemValues, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("GroupableValues")
	if c.errValues != nil {
		return ItemValues{}, c.errValues
	}
	it, ok := c.items[id]
	if !ok {
		return ItemValues{}, errors.New("item not found")
	}
	vals := ItemValues{Item: id, Scope: it.scope}
	vals.Values = append(vals.Values, AttributeValue{Attribute: AttrPath, Value: it.path})
	if it.mime != "" {
		vals.Values = append(vals.Values, AttributeValue{Attribute: AttrMimeType, Value: it.mime})
	}
	for _, hs := range it.hashSets {
		vals.Values = append(vals.Values, AttributeValue{Attribute: AttrHashSet, Value: hs})
	}
	for _, t := range it.tags {
		vals.Values = append(vals.Values, AttributeValue{Attribute: AttrTags, Value: t.Name, Label: t.DisplayName, PseudoTag: t.Category})
	}
	cat := it.category()
	vals.Values = append(vals.Values, AttributeValue{Attribute: AttrCategory, Value: cat.Value(), Label: cat.Label()})
	return vals, nil
}

func (c *fakeCatalog) InvalidateItem(ItemID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("InvalidateItem")
}

func (c *fakeCatalog) matches(it *fakeItem, key GroupKey) bool {
	if key.Attribute != AttrPath && key.Scope != NoScope && it.scope != key.Scope {
		return false
	}
	switch key.Attribute {
	case AttrPath:
		return it.path == key.Value && it.scope == key.Scope
	case AttrMimeType:
		return it.mime == key.Value
	case AttrHashSet:
		return slices.Contains(it.hashSets, key.Value)
	case AttrTags:
		return slices.ContainsFunc(it.tags, func(t Tag) bool { return !t.Category && t.Name == key.Value })
	case AttrCategory:
		return it.category().Value() == key.Value
	}
	return false
}

func (c *fakeCatalog) Members(_ context.Context, key GroupKey) ([]ItemID, error) {
	c.mu.Lock()
	c.count("Members")
	hook := c.membersHook
	c.mu.Unlock()
	if hook != nil {
		hook(key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []ItemID
	for _, id := range c.sortedIDs() {
		if c.matches(c.items[id], key) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (c *fakeCatalog) CountHashHits(_ context.Context, ids []ItemID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("CountHashHits")
	if c.errHashHits != nil {
		return 0, c.errHashHits
	}
	var n int64
	for _, id := range ids {
		if it, ok := c.items[id]; ok && len(it.hashSets) > 0 {
			n++
		}
	}
	return n, nil
}

func (c *fakeCatalog) CountUncategorized(_ context.Context, ids []ItemID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("CountUncategorized")
	var n int64
	for _, id := range ids {
		if it, ok := c.items[id]; ok && it.category() == Cat0 {
			n++
		}
	}
	return n, nil
}

func (c *fakeCatalog) IsLocationGroupComplete(_ context.Context, key GroupKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("IsLocationGroupComplete")
	return c.complete[key.ID()], nil
}

func (c *fakeCatalog) MarkLocationGroupComplete(_ context.Context, key GroupKey) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("MarkLocationGroupComplete")
	c.complete[key.ID()] = true
	return nil
}

func (c *fakeCatalog) IsSeen(_ context.Context, key GroupKey, reviewer ReviewerID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("IsSeen")
	if reviewer == AnyReviewer {
		for rec, seen := range c.seen {
			if rec.id == key.ID() && seen {
				return true, nil
			}
		}
		return false, nil
	}
	return c.seen[seenRecord{key.ID(), reviewer}], nil
}

func (c *fakeCatalog) SetSeen(_ context.Context, key GroupKey, reviewer ReviewerID, seen bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("SetSeen")
	if c.errSetSeen != nil {
		return c.errSetSeen
	}
	c.seen[seenRecord{key.ID(), reviewer}] = seen
	return nil
}

func (c *fakeCatalog) DistinctValues(_ context.Context, attr Attribute, scope ScopeID) ([]ScopedValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("DistinctValues")
	var out []ScopedValue
	seen := make(map[ScopedValue]bool)
	add := func(v ScopedValue) {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for _, id := range c.sortedIDs() {
		it := c.items[id]
		if scope != NoScope && it.scope != scope {
			continue
		}
		switch attr {
		case AttrPath:
			add(ScopedValue{Scope: it.scope, Value: it.path})
		case AttrHashSet:
			for _, hs := range it.hashSets {
				add(ScopedValue{Scope: scope, Value: hs})
			}
		}
	}
	return out, nil
}

func (c *fakeCatalog) TagNames(context.Context) ([]Tag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("TagNames")
	var tags []Tag
	for _, id := range c.sortedIDs() {
		for _, t := range c.items[id].tags {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
	}
	return tags, nil
}

func (c *fakeCatalog) MimeTypes(_ context.Context, scope ScopeID) ([]ScopedValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count("MimeTypes")
	var out []ScopedValue
	for _, id := range c.sortedIDs() {
		it := c.items[id]
		if it.mime == "" || (scope != NoScope && it.scope != scope) {
			continue
		}
		v := ScopedValue{Scope: scope, Value: it.mime}
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out, nil
}
