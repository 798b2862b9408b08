package grouping

import "context"

// ReviewerID identifies a reviewer in the catalog's seen records.
type ReviewerID int64

// AnyReviewer asks the catalog whether any reviewer has seen a group.
// Collaborative mode computes seen flags against it.
const AnyReviewer ReviewerID = 0

// AttributeValue is one groupable value an item possesses.
type AttributeValue struct {
	Attribute Attribute
	Value     string
	Label     string // display label for tags and categories
	PseudoTag bool   // tag value that encodes a category
}

// ItemValues is everything the catalog knows about an item's groupings.
type ItemValues struct {
	Item   ItemID
	Scope  ScopeID
	Values []AttributeValue
}

// ScopedValue is one distinct attribute value found during enumeration.
type ScopedValue struct {
	Scope ScopeID
	Value string
	Label string
}

// Tag is a tag name known to the catalog.
type Tag struct {
	Name        string
	DisplayName string
	Category    bool
}

// Catalog is the external store of items, hash hits, tags and group
// state. Implementations must be safe for concurrent use.
type Catalog interface {
	// GroupableValues returns the attribute values the item can be grouped by.
	GroupableValues(ctx context.Context, item ItemID) (ItemValues, error)
	// InvalidateItem drops any catalog-side cache for the item.
	InvalidateItem(item ItemID)

	Members(ctx context.Context, key GroupKey) ([]ItemID, error)
	CountHashHits(ctx context.Context, items []ItemID) (int64, error)
	CountUncategorized(ctx context.Context, items []ItemID) (int64, error)

	IsLocationGroupComplete(ctx context.Context, key GroupKey) (bool, error)
	MarkLocationGroupComplete(ctx context.Context, key GroupKey) error

	IsSeen(ctx context.Context, key GroupKey, reviewer ReviewerID) (bool, error)
	SetSeen(ctx context.Context, key GroupKey, reviewer ReviewerID, seen bool) error

	// DistinctValues enumerates values of attributes without a specialized
	// enumerator. scope NoScope means every data source.
	DistinctValues(ctx context.Context, attr Attribute, scope ScopeID) ([]ScopedValue, error)
	// TagNames lists every tag name, including category pseudo-tags.
	TagNames(ctx context.Context) ([]Tag, error)
	// MimeTypes lists MIME types of catalog files that are known items.
	MimeTypes(ctx context.Context, scope ScopeID) ([]ScopedValue, error)
}
