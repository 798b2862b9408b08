package grouping

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/google/uuid"
)

// RegroupProgress reports the state of the regroup worker.
type RegroupProgress struct {
	Running bool
	Done    int
	Total   int
	Message string
}

// Fraction is Done/Total, or 0 before enumeration finishes.
func (p RegroupProgress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total)
}

// RegroupTask is a handle on one asynchronous regroup. The task owns only
// its captured configuration, its generation and an atomic cancel flag.
type RegroupTask struct {
	ID  string
	cfg GroupConfig
	gen uint64

	cancelled atomic.Bool
	ctx       context.Context
	stop      context.CancelFunc

	done chan struct{}
	err  error
}

func newRegroupTask(parent context.Context, gen uint64, cfg GroupConfig) *RegroupTask {
	ctx, stop := context.WithCancel(parent)
	return &RegroupTask{
		ID:   uuid.NewString(),
		cfg:  cfg,
		gen:  gen,
		ctx:  ctx,
		stop: stop,
		done: make(chan struct{}),
	}
}

// Config returns the configuration the task regroups to.
func (t *RegroupTask) Config() GroupConfig { return t.cfg }

// Cancel asks the task to stop at the next group boundary. Groups already
// populated stay in the views.
func (t *RegroupTask) Cancel() {
	t.cancelled.Store(true)
	t.stop()
}

// Done is closed when the task has finished, failed or been cancelled.
func (t *RegroupTask) Done() <-chan struct{} { return t.done }

// Wait blocks until the task ends or ctx is done. A cancelled or
// superseded task yields ErrCancelled.
func (t *RegroupTask) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *RegroupTask) finish(err error) {
	t.err = err
	t.stop()
	close(t.done)
}

// Progress returns the regroup worker's last reported progress.
func (m *Manager) Progress() RegroupProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progress
}

// Regroup changes the grouping configuration.
//
// When scope and attribute are unchanged and force is false only the sort
// changes: both views are re-sorted in place and Regroup returns nil.
// Otherwise any in-flight task is cancelled and a new one is queued for the
// regroup worker; its handle is returned.
func (m *Manager) Regroup(scope ScopeID, attr Attribute, sortBy GroupSortBy, order SortOrder, force bool) *RegroupTask {
	var out []Notification
	m.mu.Lock()
	defer func() {
		m.mu.Unlock()
		m.notify.publish(out)
	}()

	if !force && scope == m.cfg.Scope && attr == m.cfg.Attribute {
		m.cfg.SortBy, m.cfg.Order = sortBy, order
		m.sortViewsLocked(m.ctx, &out)
		return nil
	}

	gen := m.generation.Add(1)
	m.cancelTasksLocked()
	m.cfg.Scope, m.cfg.Attribute, m.cfg.SortBy, m.cfg.Order = scope, attr, sortBy, order
	t := newRegroupTask(m.ctx, gen, m.cfg)
	if m.closed {
		t.finish(ErrCancelled)
		return t
	}
	m.pending = t
	m.progress = RegroupProgress{Running: true, Message: "Regrouping by " + attr.DisplayName()}
	out = append(out, Notification{Kind: ProgressChanged, Progress: m.progress})

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return t
}

// worker is the single goroutine that runs regroup tasks, newest first.
func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			m.mu.Lock()
			m.cancelTasksLocked()
			m.mu.Unlock()
			return
		case <-m.wake:
		}

		m.mu.Lock()
		t := m.pending
		m.pending = nil
		m.active = t
		m.mu.Unlock()
		if t == nil {
			continue
		}

		err := m.runRegroup(t)

		m.mu.Lock()
		if m.active == t {
			m.active = nil
		}
		m.mu.Unlock()
		t.finish(err)
	}
}

// stale reports whether t was cancelled or superseded by a newer regroup.
func (m *Manager) stale(t *RegroupTask) bool {
	return t.cancelled.Load() || m.generation.Load() != t.gen
}

func (m *Manager) runRegroup(t *RegroupTask) error {
	ctx := t.ctx
	logger := m.logger.With("task", t.ID, "attribute", t.cfg.Attribute.String())

	var out []Notification
	m.mu.Lock()
	if m.stale(t) {
		m.mu.Unlock()
		m.finishRegroup(t, 0, 0, "Regroup cancelled")
		return ErrCancelled
	}
	m.analyzed.clear(&out)
	m.unseen.clear(&out)
	m.mu.Unlock()
	m.notify.publish(out)

	values, err := m.enumerate(ctx, t.cfg.Attribute, t.cfg.Scope)
	if err != nil {
		if m.stale(t) {
			m.finishRegroup(t, 0, 0, "Regroup cancelled")
			return ErrCancelled
		}
		logger.Error("enumerate group values failed", "error", err)
		m.finishRegroup(t, 0, 0, "Regroup failed")
		return fmt.Errorf("enumerate %s values: %w", t.cfg.Attribute, err)
	}
	logger.Debug("regroup enumerated values", "count", len(values))
	m.orderValues(ctx, t.cfg, values)

	stale := func() bool { return m.stale(t) }
	done := 0
	for _, v := range values {
		if stale() {
			break
		}
		m.populate(ctx, keyForValue(t.cfg, v), stale)
		done++
		m.reportProgress(t, done, len(values))
	}

	if m.stale(t) {
		m.finishRegroup(t, done, len(values), "Regroup cancelled")
		logger.Info("regroup cancelled", "populated", done, "total", len(values))
		return ErrCancelled
	}
	m.finishRegroup(t, done, len(values), "")
	logger.Info("regroup complete", "groups", done)
	return nil
}

func (m *Manager) reportProgress(t *RegroupTask, done, total int) {
	var out []Notification
	m.mu.Lock()
	if m.generation.Load() == t.gen {
		m.progress = RegroupProgress{
			Running: true,
			Done:    done,
			Total:   total,
			Message: fmt.Sprintf("Regrouping by %s: %d of %d", t.cfg.Attribute.DisplayName(), done, total),
		}
		out = append(out, Notification{Kind: ProgressChanged, Progress: m.progress})
	}
	m.mu.Unlock()
	m.notify.publish(out)
}

// finishRegroup picks a new group to display when the shown one no longer
// fits the configuration, and stops the progress indicator. A superseded
// task leaves both to its successor.
func (m *Manager) finishRegroup(t *RegroupTask, done, total int, msg string) {
	var out []Notification
	m.mu.Lock()
	if m.generation.Load() == t.gen {
		if vs := m.viewState; vs.Group == nil || !m.inViewLocked(*vs.Group) {
			next := NothingView()
			switch {
			case len(m.unseen.groups) > 0:
				next = TileView(m.unseen.groups[0].key)
			case len(m.analyzed.groups) > 0:
				next = TileView(m.analyzed.groups[0].key)
			}
			m.setViewStateLocked(next, &out)
		}
		m.progress = RegroupProgress{Done: done, Total: total, Message: msg}
		out = append(out, Notification{Kind: ProgressChanged, Progress: m.progress})
	}
	m.mu.Unlock()
	m.notify.publish(out)
}

// enumerate lists the distinct values of attr. Categories come from the
// fixed set, tags exclude category pseudo-tags and MIME types come from the
// catalog's own file records.
func (m *Manager) enumerate(ctx context.Context, attr Attribute, scope ScopeID) ([]ScopedValue, error) {
	switch attr {
	case AttrCategory:
		cats := Categories()
		values := make([]ScopedValue, len(cats))
		for i, c := range cats {
			values[i] = ScopedValue{Scope: scope, Value: c.Value(), Label: c.Label()}
		}
		return values, nil
	case AttrTags:
		tags, err := m.catalog.TagNames(ctx)
		if err != nil {
			return nil, err
		}
		values := make([]ScopedValue, 0, len(tags))
		for _, tag := range tags {
			if !tag.Category {
				values = append(values, ScopedValue{Scope: scope, Value: tag.Name, Label: tag.DisplayName})
			}
		}
		return values, nil
	case AttrMimeType:
		return m.catalog.MimeTypes(ctx, scope)
	default:
		return m.catalog.DistinctValues(ctx, attr, scope)
	}
}

// orderValues sorts enumerated values into the order the views will show
// their groups, so a cancelled regroup leaves a prefix of that order.
// A value without a registered group compares as an empty group; under
// size or priority such values keep the catalog's enumeration order.
func (m *Manager) orderValues(ctx context.Context, cfg GroupConfig, values []ScopedValue) {
	if cfg.SortBy.Name() == Unordered.Name() || len(values) < 2 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	synthesized := make(map[KeyID]*DrawableGroup)
	lookup := func(v ScopedValue) *DrawableGroup {
		key := keyForValue(cfg, v)
		if g, ok := m.groups[key.ID()]; ok {
			return g
		}
		g, ok := synthesized[key.ID()]
		if !ok {
			g = newDrawableGroup(key, nil, false, m.catalog, m.logger)
			synthesized[key.ID()] = g
		}
		return g
	}
	slices.SortStableFunc(values, cfg.SortBy.ValueComparator(ctx, lookup, cfg.Order))
}

func keyForValue(cfg GroupConfig, v ScopedValue) GroupKey {
	if cfg.Attribute == AttrPath {
		return NewGroupKey(AttrPath, v.Value, v.Scope)
	}
	return NewLabeledKey(cfg.Attribute, v.Value, v.Label, cfg.Scope)
}
