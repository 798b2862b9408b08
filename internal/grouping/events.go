package grouping

import (
	"context"
	"fmt"
)

// Event is a change reported by the ingest pipeline. The set of events is
// closed: ItemUpdated, ItemsRemoved, TagAdded and TagDeleted.
type Event interface {
	event()
}

// ItemUpdated reports that an item was created or finished analysis.
type ItemUpdated struct {
	Item ItemID
}

// ItemsRemoved reports that items left the catalog.
type ItemsRemoved struct {
	Items []ItemID
}

// TagAdded reports that a tag was applied to an item.
type TagAdded struct {
	Item ItemID
	Tag  Tag
}

// TagDeleted reports that a tag was removed from an item.
type TagDeleted struct {
	Item ItemID
	Tag  Tag
}

func (ItemUpdated) event()  {}
func (ItemsRemoved) event() {}
func (TagAdded) event()     {}
func (TagDeleted) event()   {}

func (e ItemUpdated) String() string  { return fmt.Sprintf("item updated: %d", e.Item) }
func (e ItemsRemoved) String() string { return fmt.Sprintf("items removed: %v", e.Items) }
func (e TagAdded) String() string     { return fmt.Sprintf("tag %q added to %d", e.Tag.Name, e.Item) }
func (e TagDeleted) String() string   { return fmt.Sprintf("tag %q deleted from %d", e.Tag.Name, e.Item) }

// Dispatch applies one event.
func (m *Manager) Dispatch(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ItemUpdated:
		m.HandleItemUpdated(ctx, e.Item)
	case ItemsRemoved:
		m.HandleItemsRemoved(ctx, e.Items)
	case TagAdded:
		m.HandleTagAdded(ctx, e.Item, e.Tag)
	case TagDeleted:
		m.HandleTagDeleted(ctx, e.Item, e.Tag)
	}
}

// Run dispatches events from ch until ch is closed or ctx is done.
func (m *Manager) Run(ctx context.Context, ch <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Dispatch(ctx, ev)
		}
	}
}
