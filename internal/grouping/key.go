// Package grouping partitions reviewable items into groups by an attribute
// value and keeps those groups, their cached statistics and their
// per-reviewer seen state current while items are analyzed, tagged and
// removed.
//
// The Manager is the only owner of DrawableGroup instances. Consumers see
// GroupKey values and GroupInfo snapshots, and subscribe to change
// notifications for the two derived views (analyzed and unseen).
package grouping

import (
	"cmp"
	"fmt"
	"strings"
)

// ItemID identifies one item (file) in the catalog.
type ItemID int64

// ScopeID identifies a data source. NoScope means "all data sources".
type ScopeID int64

// NoScope is the zero scope: no data source filter.
const NoScope ScopeID = 0

// Attribute is a groupable item attribute.
type Attribute string

const (
	AttrPath     Attribute = "path"
	AttrHashSet  Attribute = "hash_set"
	AttrTags     Attribute = "tags"
	AttrCategory Attribute = "category"
	AttrMimeType Attribute = "mime_type"
)

// GroupableAttributes returns every attribute the manager can group by,
// in menu order.
func GroupableAttributes() []Attribute {
	return []Attribute{AttrPath, AttrHashSet, AttrTags, AttrCategory, AttrMimeType}
}

func (a Attribute) String() string { return string(a) }

// DisplayName returns the human readable attribute name.
func (a Attribute) DisplayName() string {
	switch a {
	case AttrPath:
		return "Folder"
	case AttrHashSet:
		return "Hash Set"
	case AttrTags:
		return "Tag"
	case AttrCategory:
		return "Category"
	case AttrMimeType:
		return "MIME Type"
	default:
		return "Unknown"
	}
}

// ParseAttribute maps a config or request string onto an Attribute.
func ParseAttribute(s string) (Attribute, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "path", "folder", "location":
		return AttrPath, nil
	case "hash_set", "hashset":
		return AttrHashSet, nil
	case "tags", "tag":
		return AttrTags, nil
	case "category":
		return AttrCategory, nil
	case "mime_type", "mime":
		return AttrMimeType, nil
	}
	return "", fmt.Errorf("unknown group-by attribute %q", s)
}

// GroupKey identifies a group. Keys are values and are never mutated.
//
// Scope is significant for equality only on the path attribute: groups of
// every other attribute collapse across data sources.
type GroupKey struct {
	Attribute Attribute
	Value     string
	Scope     ScopeID

	label string
}

// KeyID is the comparable identity of a GroupKey. Two keys are Equal
// exactly when their IDs are ==, so KeyID is what maps are keyed by.
type KeyID struct {
	Attribute Attribute
	Value     string
	Scope     ScopeID
}

// NewGroupKey returns a key whose display name is its value.
func NewGroupKey(attr Attribute, value string, scope ScopeID) GroupKey {
	return GroupKey{Attribute: attr, Value: value, Scope: scope}
}

// NewLabeledKey returns a key that displays label instead of its value.
// Tag and category keys use this for the tag's display name.
func NewLabeledKey(attr Attribute, value, label string, scope ScopeID) GroupKey {
	return GroupKey{Attribute: attr, Value: value, Scope: scope, label: label}
}

// ParseGroupKey builds a key from request parts. Category values are
// normalized and labeled; a path key needs a value.
func ParseGroupKey(attr, value string, scope ScopeID) (GroupKey, error) {
	a, err := ParseAttribute(attr)
	if err != nil {
		return GroupKey{}, err
	}
	switch a {
	case AttrCategory:
		c, err := ParseCategory(value)
		if err != nil {
			return GroupKey{}, err
		}
		return c.Key(scope), nil
	case AttrPath:
		if value == "" {
			return GroupKey{}, fmt.Errorf("path group needs a folder")
		}
	}
	return NewGroupKey(a, value, scope), nil
}

// ID returns the identity used for hashing and equality.
func (k GroupKey) ID() KeyID {
	id := KeyID{Attribute: k.Attribute, Value: k.Value}
	if k.Attribute == AttrPath {
		id.Scope = k.Scope
	}
	return id
}

// Equal reports whether k and o name the same group.
func (k GroupKey) Equal(o GroupKey) bool {
	return k.ID() == o.ID()
}

// Compare orders keys by value, then attribute, then (path only) scope.
func (k GroupKey) Compare(o GroupKey) int {
	if c := strings.Compare(k.Value, o.Value); c != 0 {
		return c
	}
	if c := strings.Compare(string(k.Attribute), string(o.Attribute)); c != 0 {
		return c
	}
	return cmp.Compare(k.ID().Scope, o.ID().Scope)
}

// DisplayName is what a consumer shows for the group.
func (k GroupKey) DisplayName() string {
	if (k.Attribute == AttrTags || k.Attribute == AttrCategory) && k.label != "" {
		return k.label
	}
	if k.Value == "" {
		return "(none)"
	}
	return k.Value
}

// WithScope returns a copy of k with a different scope.
func (k GroupKey) WithScope(scope ScopeID) GroupKey {
	k.Scope = scope
	return k
}

func (k GroupKey) String() string {
	if k.Attribute == AttrPath && k.Scope != NoScope {
		return fmt.Sprintf("%s:%s@%d", k.Attribute, k.Value, k.Scope)
	}
	return fmt.Sprintf("%s:%s", k.Attribute, k.Value)
}

// Category is one of the fixed review categories. Categories are stored in
// the catalog as pseudo-tags.
type Category int

const (
	Cat0 Category = iota
	Cat1
	Cat2
	Cat3
	Cat4
	Cat5
)

var categoryLabels = [...]string{
	"CAT-0: Uncategorized",
	"CAT-1: Child Exploitation (Illegal)",
	"CAT-2: Child Exploitation (Non-Illegal/Age Difficult)",
	"CAT-3: CGI/Animation (Child Exploitive)",
	"CAT-4: Exemplar/Comparison (Internal Use Only)",
	"CAT-5: Non-pertinent",
}

// Categories returns the closed set of categories in order.
func Categories() []Category {
	return []Category{Cat0, Cat1, Cat2, Cat3, Cat4, Cat5}
}

// Value is the short name used as group value and tag name, e.g. "CAT-1".
func (c Category) Value() string { return fmt.Sprintf("CAT-%d", int(c)) }

// Label is the display name, e.g. "CAT-1: Child Exploitation (Illegal)".
func (c Category) Label() string {
	if c < Cat0 || c > Cat5 {
		return c.Value()
	}
	return categoryLabels[c]
}

// Key returns the group key for the category.
func (c Category) Key(scope ScopeID) GroupKey {
	return NewLabeledKey(AttrCategory, c.Value(), c.Label(), scope)
}

// ParseCategory accepts "CAT-3", "cat3" or "3".
func ParseCategory(s string) (Category, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	norm = strings.TrimPrefix(norm, "CAT")
	norm = strings.TrimPrefix(norm, "-")
	if len(norm) == 1 && norm[0] >= '0' && norm[0] <= '5' {
		return Category(norm[0] - '0'), nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}
