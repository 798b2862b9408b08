package grouping

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrCancelled is the outcome of a regroup or seen update that was
// cancelled or superseded. It is not a failure.
var ErrCancelled = errors.New("grouping: cancelled")

// GroupConfig is the manager's grouping, sorting and filtering setup.
type GroupConfig struct {
	Attribute     Attribute
	SortBy        GroupSortBy
	Order         SortOrder
	Scope         ScopeID
	Collaborative bool
}

// DefaultConfig groups by folder in priority order across all data sources.
func DefaultConfig() GroupConfig {
	return GroupConfig{Attribute: AttrPath, SortBy: ByPriority, Order: Ascending}
}

// Manager owns every DrawableGroup and the two derived views.
//
// Lock discipline: mu guards groups, both views, cfg, currentLocation,
// viewState, progress, the pending/active tasks and the seen queue. Every DrawableGroup
// method runs with mu held. Catalog reads that populate a group run
// without mu; registration re-acquires it. Notifications collected under
// mu are published after it is released.
type Manager struct {
	catalog  Catalog
	reviewer ReviewerID
	logger   *slog.Logger
	notify   *notifier

	mu              sync.Mutex
	defaults        GroupConfig
	cfg             GroupConfig
	groups          map[KeyID]*DrawableGroup
	analyzed        *groupList
	unseen          *groupList
	currentLocation *GroupKey
	viewState       GroupViewState
	progress        RegroupProgress
	pending         *RegroupTask
	active          *RegroupTask
	seenQueue       []seenRequest
	seenDraining    bool
	closed          bool

	generation atomic.Uint64
	wake       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager for reviewer and starts its regroup worker
// and notifier. Call Close to stop them.
func NewManager(catalog Catalog, reviewer ReviewerID) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		catalog:  catalog,
		reviewer: reviewer,
		logger:   slog.Default(),
		notify:   newNotifier(),
		defaults: DefaultConfig(),
		cfg:      DefaultConfig(),
		groups:   make(map[KeyID]*DrawableGroup),
		analyzed: newGroupList(AnalyzedView),
		unseen:   newGroupList(UnseenView),
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.notify.run(ctx)
	}()
	go m.worker()
	return m
}

// WithLogger sets the logger. Call it before delivering events.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.mu.Lock()
	m.logger = logger
	m.mu.Unlock()
	return m
}

// WithDefaults sets the configuration Reset restores and adopts it as the
// current one. The views are not rebuilt; call Regroup with force to do so.
func (m *Manager) WithDefaults(cfg GroupConfig) *Manager {
	m.mu.Lock()
	m.defaults = cfg
	m.cfg = cfg
	m.mu.Unlock()
	return m
}

// Close cancels the in-flight regroup and pending seen updates and waits
// for the background goroutines to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.generation.Add(1)
	m.cancelTasksLocked()
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

// Subscribe registers l for every future Notification and returns a
// function that unregisters it.
func (m *Manager) Subscribe(l Listener) (unsubscribe func()) {
	return m.notify.subscribe(l)
}

// Config returns the current configuration.
func (m *Manager) Config() GroupConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Reviewer returns the reviewer whose seen state this manager tracks.
func (m *Manager) Reviewer() ReviewerID { return m.reviewer }

// Analyzed returns the keys of the analyzed view in display order.
func (m *Manager) Analyzed() []GroupKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyzed.keys()
}

// Unseen returns the keys of the unseen view in display order.
func (m *Manager) Unseen() []GroupKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unseen.keys()
}

// AnalyzedGroups returns snapshots of the analyzed view in display order.
func (m *Manager) AnalyzedGroups(ctx context.Context) []GroupInfo {
	return m.snapshots(ctx, m.analyzed)
}

// UnseenGroups returns snapshots of the unseen view in display order.
func (m *Manager) UnseenGroups(ctx context.Context) []GroupInfo {
	return m.snapshots(ctx, m.unseen)
}

func (m *Manager) snapshots(ctx context.Context, l *groupList) []GroupInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]GroupInfo, len(l.groups))
	for i, g := range l.groups {
		infos[i] = g.snapshot(ctx, false)
	}
	return infos
}

// Group returns a snapshot, including members, of a registered group.
func (m *Manager) Group(ctx context.Context, key GroupKey) (GroupInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[m.normalizeLocked(key).ID()]
	if !ok {
		return GroupInfo{}, false
	}
	return g.snapshot(ctx, true), true
}

// ViewState returns what the consumer should currently display.
func (m *Manager) ViewState() GroupViewState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewState
}

// SetViewState records the consumer's selection and publishes it.
func (m *Manager) SetViewState(vs GroupViewState) {
	var out []Notification
	m.mu.Lock()
	m.setViewStateLocked(vs, &out)
	m.mu.Unlock()
	m.notify.publish(out)
}

func (m *Manager) setViewStateLocked(vs GroupViewState, out *[]Notification) {
	if sameViewState(m.viewState, vs) {
		return
	}
	m.viewState = vs
	*out = append(*out, Notification{Kind: ViewStateChanged, ViewState: vs})
}

func sameViewState(a, b GroupViewState) bool {
	if a.Mode != b.Mode || a.Slideshow != b.Slideshow || (a.Group == nil) != (b.Group == nil) {
		return false
	}
	return a.Group == nil || a.Group.Equal(*b.Group)
}

// AllGroupKeysForItem returns one key per groupable value of the item.
// Category pseudo-tags are not returned as tag keys. A catalog failure is
// logged and yields no keys.
func (m *Manager) AllGroupKeysForItem(ctx context.Context, item ItemID) []GroupKey {
	vals, err := m.catalog.GroupableValues(ctx, item)
	if err != nil {
		m.logger.Warn("read groupable values failed", "item", item, "error", err)
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keysForValuesLocked(vals)
}

// keysForValuesLocked builds keys for an item. Non-path keys carry the
// current scope filter so their member queries are filtered the same way;
// they are skipped entirely when the item lies outside that filter.
func (m *Manager) keysForValuesLocked(vals ItemValues) []GroupKey {
	keys := make([]GroupKey, 0, len(vals.Values))
	for _, v := range vals.Values {
		switch {
		case v.Attribute == AttrTags && v.PseudoTag:
			continue
		case v.Attribute == AttrPath:
			keys = append(keys, NewGroupKey(AttrPath, v.Value, vals.Scope))
		case m.cfg.Scope != NoScope && vals.Scope != m.cfg.Scope:
			continue
		default:
			keys = append(keys, NewLabeledKey(v.Attribute, v.Value, v.Label, m.cfg.Scope))
		}
	}
	return keys
}

func locationOf(vals ItemValues) (GroupKey, bool) {
	for _, v := range vals.Values {
		if v.Attribute == AttrPath {
			return NewGroupKey(AttrPath, v.Value, vals.Scope), true
		}
	}
	return GroupKey{}, false
}

func (m *Manager) normalizeLocked(key GroupKey) GroupKey {
	if key.Attribute == AttrPath {
		return key
	}
	return key.WithScope(m.cfg.Scope)
}

func (m *Manager) seenIdentityLocked() ReviewerID {
	if m.cfg.Collaborative {
		return AnyReviewer
	}
	return m.reviewer
}

// inViewLocked reports whether a group with key belongs in the views under
// the current configuration.
func (m *Manager) inViewLocked(key GroupKey) bool {
	if key.Attribute != m.cfg.Attribute {
		return false
	}
	if key.Attribute == AttrPath && m.cfg.Scope != NoScope {
		return key.Scope == m.cfg.Scope
	}
	return true
}

func (m *Manager) comparatorLocked(ctx context.Context) func(a, b *DrawableGroup) int {
	return m.cfg.SortBy.Comparator(ctx, m.cfg.Order)
}

func (m *Manager) sortViewsLocked(ctx context.Context, out *[]Notification) {
	c := m.comparatorLocked(ctx)
	m.analyzed.sort(c, out)
	m.unseen.sort(c, out)
}

// showLocked places g in the analyzed view and puts it in or out of the
// unseen view according to its seen flag.
func (m *Manager) showLocked(ctx context.Context, g *DrawableGroup, out *[]Notification) {
	if !m.inViewLocked(g.key) {
		return
	}
	c := m.comparatorLocked(ctx)
	m.analyzed.place(g, c, out)
	if g.seen {
		m.unseen.remove(g.key.ID(), out)
	} else {
		m.unseen.place(g, c, out)
	}
}

// refreshSeenLocked re-derives unseen membership after a seen flip.
func (m *Manager) refreshSeenLocked(ctx context.Context, g *DrawableGroup, out *[]Notification) {
	if g.seen {
		m.unseen.remove(g.key.ID(), out)
		return
	}
	if m.analyzed.contains(g.key.ID()) {
		m.unseen.place(g, m.comparatorLocked(ctx), out)
	}
}

// dropEmptyLocked deregisters g once it has no members. Category groups
// stay registered but leave the views.
func (m *Manager) dropEmptyLocked(g *DrawableGroup, out *[]Notification) {
	if g.Size() > 0 {
		return
	}
	if g.key.Attribute == AttrCategory {
		m.analyzed.remove(g.key.ID(), out)
		m.unseen.remove(g.key.ID(), out)
		return
	}
	m.deregisterLocked(g, out)
}

func (m *Manager) deregisterLocked(g *DrawableGroup, out *[]Notification) {
	id := g.key.ID()
	delete(m.groups, id)
	m.analyzed.remove(id, out)
	m.unseen.remove(id, out)
}

// populate reads key's members from the catalog and registers or refreshes
// the group. Path groups are only registered once the catalog reports them
// complete; other groups once they have a member, except category groups,
// which register empty but are not shown until they have members. stale,
// when non-nil, is checked under the lock before registering.
func (m *Manager) populate(ctx context.Context, key GroupKey, stale func() bool) {
	if key.Attribute == AttrPath {
		done, err := m.catalog.IsLocationGroupComplete(ctx, key)
		if err != nil {
			m.logCatalogError(ctx, "check location complete failed", key, err)
			return
		}
		if !done {
			return
		}
	}
	members, err := m.catalog.Members(ctx, key)
	if err != nil {
		m.logCatalogError(ctx, "read group members failed", key, err)
		return
	}
	m.mu.Lock()
	_, known := m.groups[key.ID()]
	identity := m.seenIdentityLocked()
	m.mu.Unlock()
	if len(members) == 0 && key.Attribute != AttrCategory && !known {
		return
	}
	seen, err := m.catalog.IsSeen(ctx, key, identity)
	if err != nil {
		m.logCatalogError(ctx, "read seen state failed", key, err)
		seen = false
	}

	var out []Notification
	m.mu.Lock()
	if m.closed || (stale != nil && stale()) {
		m.mu.Unlock()
		return
	}
	g, ok := m.groups[key.ID()]
	if !ok && len(members) == 0 && key.Attribute != AttrCategory {
		m.mu.Unlock()
		return
	}
	if !ok {
		g = newDrawableGroup(key, members, seen, m.catalog, m.logger)
		m.groups[key.ID()] = g
	} else {
		// Non-path keys compare equal across scopes; adopt the scope the
		// members were just read with.
		g.key = key
		g.ReplaceMembers(members)
	}
	if g.Size() > 0 {
		m.showLocked(ctx, g, &out)
	} else {
		m.dropEmptyLocked(g, &out)
	}
	m.mu.Unlock()
	m.notify.publish(out)
}

func (m *Manager) logCatalogError(ctx context.Context, msg string, key GroupKey, err error) {
	if ctx.Err() != nil {
		return
	}
	m.logger.Warn(msg, "group", key.String(), "error", err)
}

// HandleItemUpdated folds a created or re-analyzed item into its groups.
// Re-delivery of the same item is harmless: every step works from current
// catalog state.
func (m *Manager) HandleItemUpdated(ctx context.Context, item ItemID) {
	m.catalog.InvalidateItem(item)
	vals, err := m.catalog.GroupableValues(ctx, item)
	if err != nil {
		m.logger.Warn("read groupable values failed", "item", item, "error", err)
		return
	}

	m.mu.Lock()
	keys := m.keysForValuesLocked(vals)
	var prev *GroupKey
	if loc, ok := locationOf(vals); ok {
		if m.currentLocation == nil || !m.currentLocation.Equal(loc) {
			prev = m.currentLocation
			m.currentLocation = &loc
		}
	}
	m.mu.Unlock()

	// The cursor moved on, so the folder it was in is as analyzed as it
	// is going to get.
	if prev != nil {
		m.completeLocation(ctx, *prev)
	}
	for _, key := range keys {
		m.addToGroup(ctx, key, item)
	}
}

// CompleteCurrentLocation marks the in-flight location complete and
// populates it. Ingest calls this when it finishes a data source.
func (m *Manager) CompleteCurrentLocation(ctx context.Context) {
	m.mu.Lock()
	prev := m.currentLocation
	m.currentLocation = nil
	m.mu.Unlock()
	if prev != nil {
		m.completeLocation(ctx, *prev)
	}
}

func (m *Manager) completeLocation(ctx context.Context, key GroupKey) {
	if err := m.catalog.MarkLocationGroupComplete(ctx, key); err != nil {
		m.logCatalogError(ctx, "mark location complete failed", key, err)
		return
	}
	m.populate(ctx, key, nil)
}

func (m *Manager) addToGroup(ctx context.Context, key GroupKey, item ItemID) {
	m.mu.Lock()
	_, ok := m.groups[key.ID()]
	m.mu.Unlock()
	if !ok {
		m.populate(ctx, key, nil)
	}

	var out []Notification
	m.mu.Lock()
	if g, ok := m.groups[key.ID()]; ok {
		g.Add(item)
		m.showLocked(ctx, g, &out)
	}
	m.mu.Unlock()
	m.notify.publish(out)
}

// HandleItemsRemoved removes items from every group holding them and
// deregisters groups left empty (category groups stay).
func (m *Manager) HandleItemsRemoved(ctx context.Context, items []ItemID) {
	for _, item := range items {
		// The catalog may already have forgotten the item; the scan of
		// registered groups below covers that case.
		var keys []GroupKey
		if vals, err := m.catalog.GroupableValues(ctx, item); err == nil {
			m.mu.Lock()
			keys = m.keysForValuesLocked(vals)
			m.mu.Unlock()
		} else {
			m.logger.Debug("removed item has no catalog values", "item", item, "error", err)
		}
		m.catalog.InvalidateItem(item)

		var out []Notification
		m.mu.Lock()
		touched := make(map[KeyID]*DrawableGroup)
		for _, key := range keys {
			if g, ok := m.groups[key.ID()]; ok {
				touched[key.ID()] = g
			}
		}
		for id, g := range m.groups {
			if g.Contains(item) {
				touched[id] = g
			}
		}
		for _, g := range touched {
			g.Remove(item)
			m.dropEmptyLocked(g, &out)
		}
		m.sortViewsLocked(ctx, &out)
		m.mu.Unlock()
		m.notify.publish(out)
	}
}

// HandleTagAdded re-points the item when grouping by the tag's kind.
func (m *Manager) HandleTagAdded(ctx context.Context, item ItemID, tag Tag) {
	m.handleTagChange(ctx, item, tag)
}

// HandleTagDeleted re-points the item when grouping by the tag's kind.
func (m *Manager) HandleTagDeleted(ctx context.Context, item ItemID, tag Tag) {
	m.handleTagChange(ctx, item, tag)
}

func (m *Manager) handleTagChange(ctx context.Context, item ItemID, tag Tag) {
	m.mu.Lock()
	if tag.Category {
		changed := []ItemID{item}
		for _, g := range m.groups {
			g.HandleCategoryChange(changed)
		}
	}
	attr := m.cfg.Attribute
	m.mu.Unlock()

	switch {
	case attr == AttrCategory && tag.Category:
	case attr == AttrTags && !tag.Category:
	default:
		return
	}
	m.repoint(ctx, item, attr)
}

// repoint moves item out of the attr groups it no longer belongs to and
// into the ones the catalog now reports.
func (m *Manager) repoint(ctx context.Context, item ItemID, attr Attribute) {
	m.catalog.InvalidateItem(item)
	vals, err := m.catalog.GroupableValues(ctx, item)
	if err != nil {
		m.logger.Warn("read groupable values failed", "item", item, "error", err)
		return
	}

	var out []Notification
	var want []GroupKey
	m.mu.Lock()
	wantIDs := make(map[KeyID]bool)
	for _, key := range m.keysForValuesLocked(vals) {
		if key.Attribute == attr {
			want = append(want, key)
			wantIDs[key.ID()] = true
		}
	}
	for id, g := range m.groups {
		if g.key.Attribute != attr || wantIDs[id] || !g.Contains(item) {
			continue
		}
		g.Remove(item)
		m.dropEmptyLocked(g, &out)
	}
	m.sortViewsLocked(ctx, &out)
	m.mu.Unlock()
	m.notify.publish(out)

	for _, key := range want {
		m.addToGroup(ctx, key, item)
	}
}

// Reset cancels any regroup, restores the default configuration and
// forgets every group.
func (m *Manager) Reset() {
	var out []Notification
	m.mu.Lock()
	m.generation.Add(1)
	m.cancelTasksLocked()
	m.cfg = m.defaults
	m.groups = make(map[KeyID]*DrawableGroup)
	m.analyzed.clear(&out)
	m.unseen.clear(&out)
	m.currentLocation = nil
	m.setViewStateLocked(NothingView(), &out)
	m.progress = RegroupProgress{}
	out = append(out, Notification{Kind: ProgressChanged, Progress: m.progress})
	m.mu.Unlock()
	m.notify.publish(out)
}

func (m *Manager) cancelTasksLocked() {
	if m.pending != nil {
		m.pending.Cancel()
		m.pending.finish(ErrCancelled)
		m.pending = nil
	}
	if m.active != nil {
		m.active.Cancel()
	}
}

// SetCollaborative switches seen flags between the current reviewer and
// any reviewer, re-reading every registered group's flag from the catalog
// and rebuilding the unseen view. Membership and aggregates are untouched.
func (m *Manager) SetCollaborative(ctx context.Context, on bool) {
	m.mu.Lock()
	m.cfg.Collaborative = on
	identity := m.seenIdentityLocked()
	keys := make([]GroupKey, 0, len(m.groups))
	for _, g := range m.groups {
		keys = append(keys, g.key)
	}
	m.mu.Unlock()

	seen := make(map[KeyID]bool, len(keys))
	for _, key := range keys {
		s, err := m.catalog.IsSeen(ctx, key, identity)
		if err != nil {
			m.logCatalogError(ctx, "read seen state failed", key, err)
			continue
		}
		seen[key.ID()] = s
	}

	var out []Notification
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		m.notify.publish(out)
	}()
	if m.cfg.Collaborative != on {
		return
	}
	for id, s := range seen {
		if g, ok := m.groups[id]; ok {
			g.SetSeen(s)
		}
	}
	m.unseen.clear(&out)
	for _, g := range m.analyzed.groups {
		if !g.seen {
			m.unseen.add(g, &out)
		}
	}
}
