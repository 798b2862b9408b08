package grouping

import (
	"slices"
	"sort"
)

// ViewName names one of the manager's derived group sequences.
type ViewName string

const (
	AnalyzedView ViewName = "analyzed"
	UnseenView   ViewName = "unseen"
)

// ChangeKind classifies a Notification.
type ChangeKind int

const (
	GroupAdded ChangeKind = iota
	GroupRemoved
	ViewReordered
	ViewCleared
	ViewStateChanged
	ProgressChanged
)

func (k ChangeKind) String() string {
	switch k {
	case GroupAdded:
		return "added"
	case GroupRemoved:
		return "removed"
	case ViewReordered:
		return "reordered"
	case ViewCleared:
		return "cleared"
	case ViewStateChanged:
		return "view_state"
	case ProgressChanged:
		return "progress"
	default:
		return "unknown"
	}
}

// Notification describes one change published by the Manager. View and
// Key are set for view changes, ViewState and Progress for their kinds.
type Notification struct {
	Kind      ChangeKind
	View      ViewName
	Key       GroupKey
	ViewState GroupViewState
	Progress  RegroupProgress
}

// groupList is an ordered, duplicate-free sequence of groups that records
// a Notification for every change it makes.
type groupList struct {
	name   ViewName
	groups []*DrawableGroup
}

func newGroupList(name ViewName) *groupList {
	return &groupList{name: name}
}

func (l *groupList) indexOf(id KeyID) int {
	return slices.IndexFunc(l.groups, func(g *DrawableGroup) bool { return g.key.ID() == id })
}

func (l *groupList) contains(id KeyID) bool { return l.indexOf(id) >= 0 }

func (l *groupList) add(g *DrawableGroup, out *[]Notification) {
	if l.contains(g.key.ID()) {
		return
	}
	l.groups = append(l.groups, g)
	*out = append(*out, Notification{Kind: GroupAdded, View: l.name, Key: g.key})
}

// place puts g at its sorted position: after every group that does not
// sort after it, so equal groups keep arrival order. Only g moves; the
// rest of the list is assumed to be sorted already.
func (l *groupList) place(g *DrawableGroup, cmp func(a, b *DrawableGroup) int, out *[]Notification) {
	old := l.indexOf(g.key.ID())
	if old >= 0 {
		if (old == 0 || cmp(l.groups[old-1], g) <= 0) &&
			(old == len(l.groups)-1 || cmp(g, l.groups[old+1]) <= 0) {
			return
		}
		l.groups = slices.Delete(l.groups, old, old+1)
	}
	at := sort.Search(len(l.groups), func(i int) bool { return cmp(g, l.groups[i]) < 0 })
	l.groups = slices.Insert(l.groups, at, g)
	switch {
	case old < 0:
		*out = append(*out, Notification{Kind: GroupAdded, View: l.name, Key: g.key})
	case old != at:
		*out = append(*out, Notification{Kind: ViewReordered, View: l.name})
	}
}

func (l *groupList) remove(id KeyID, out *[]Notification) {
	i := l.indexOf(id)
	if i < 0 {
		return
	}
	key := l.groups[i].key
	l.groups = slices.Delete(l.groups, i, i+1)
	*out = append(*out, Notification{Kind: GroupRemoved, View: l.name, Key: key})
}

func (l *groupList) clear(out *[]Notification) {
	if len(l.groups) == 0 {
		return
	}
	l.groups = nil
	*out = append(*out, Notification{Kind: ViewCleared, View: l.name})
}

// sort reorders stably and records ViewReordered only if the order moved.
func (l *groupList) sort(cmp func(a, b *DrawableGroup) int, out *[]Notification) {
	if len(l.groups) < 2 {
		return
	}
	before := slices.Clone(l.groups)
	slices.SortStableFunc(l.groups, cmp)
	if !slices.Equal(before, l.groups) {
		*out = append(*out, Notification{Kind: ViewReordered, View: l.name})
	}
}

func (l *groupList) keys() []GroupKey {
	keys := make([]GroupKey, len(l.groups))
	for i, g := range l.groups {
		keys[i] = g.key
	}
	return keys
}
