package grouping

import (
	"context"
	"fmt"
)

// SeenHandle is the pending outcome of MarkGroupSeen or MarkGroupUnseen.
//
// The group's in-memory flag and the unseen view change only after the
// catalog write succeeds, so Seen read right after the call may still
// report the old value until the handle is done.
type SeenHandle struct {
	done chan struct{}
	err  error
}

func newSeenHandle() *SeenHandle {
	return &SeenHandle{done: make(chan struct{})}
}

func (h *SeenHandle) finish(err error) {
	h.err = err
	close(h.done)
}

// Done is closed once the update has been applied, failed or cancelled.
func (h *SeenHandle) Done() <-chan struct{} { return h.done }

// Wait blocks until the update resolves or ctx is done. It returns nil on
// success, ErrCancelled if the manager shut down first, or the catalog
// error.
func (h *SeenHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkGroupSeen records that the reviewer has seen the group.
func (m *Manager) MarkGroupSeen(key GroupKey) *SeenHandle {
	return m.markSeen(key, true)
}

// MarkGroupUnseen clears the reviewer's seen record for the group.
func (m *Manager) MarkGroupUnseen(key GroupKey) *SeenHandle {
	return m.markSeen(key, false)
}

type seenRequest struct {
	key  GroupKey
	seen bool
	h    *SeenHandle
}

// markSeen queues the update. Updates are applied one at a time in call
// order, so seen followed by unseen always ends unseen in both the catalog
// and memory.
func (m *Manager) markSeen(key GroupKey, seen bool) *SeenHandle {
	h := newSeenHandle()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		h.finish(ErrCancelled)
		return h
	}
	m.seenQueue = append(m.seenQueue, seenRequest{key: m.normalizeLocked(key), seen: seen, h: h})
	if !m.seenDraining {
		m.seenDraining = true
		m.wg.Add(1)
		go m.drainSeen()
	}
	return h
}

// drainSeen applies queued seen updates until the queue is empty.
func (m *Manager) drainSeen() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(m.seenQueue) == 0 {
			m.seenDraining = false
			m.mu.Unlock()
			return
		}
		req := m.seenQueue[0]
		m.seenQueue[0] = seenRequest{}
		m.seenQueue = m.seenQueue[1:]
		m.mu.Unlock()

		req.h.finish(m.applySeen(req.key, req.seen))
	}
}

func (m *Manager) applySeen(key GroupKey, seen bool) error {
	ctx := m.ctx
	if ctx.Err() != nil {
		return ErrCancelled
	}
	if err := m.catalog.SetSeen(ctx, key, m.reviewer, seen); err != nil {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		m.logger.Warn("write seen state failed", "group", key.String(), "seen", seen, "error", err)
		return fmt.Errorf("set seen %s: %w", key, err)
	}

	var out []Notification
	m.mu.Lock()
	if g, ok := m.groups[key.ID()]; ok {
		g.SetSeen(seen)
		m.refreshSeenLocked(ctx, g, &out)
	}
	m.mu.Unlock()
	m.notify.publish(out)
	return nil
}
