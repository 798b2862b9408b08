package grouping

// ViewMode is how the consumer presents the selected group.
type ViewMode int

const (
	TileMode ViewMode = iota
	SlideshowMode
)

func (m ViewMode) String() string {
	if m == SlideshowMode {
		return "slideshow"
	}
	return "tile"
}

// GroupViewState describes what the consumer should display. A nil Group
// means nothing is selected.
type GroupViewState struct {
	Group *GroupKey
	Mode  ViewMode
	// Slideshow is the item shown in slideshow mode; zero in tile mode.
	Slideshow ItemID
}

// TileView shows key as a tile grid.
func TileView(key GroupKey) GroupViewState {
	return GroupViewState{Group: &key, Mode: TileMode}
}

// SlideshowView shows one item of key at a time, starting at item.
func SlideshowView(key GroupKey, item ItemID) GroupViewState {
	return GroupViewState{Group: &key, Mode: SlideshowMode, Slideshow: item}
}

// NothingView selects no group.
func NothingView() GroupViewState {
	return GroupViewState{}
}

// IsNothing reports whether no group is selected.
func (s GroupViewState) IsNothing() bool { return s.Group == nil }
