package grouping

import (
	"context"
	"sync"
)

// Listener receives Notifications. Listeners run on the notifier
// goroutine, never under the Manager lock, so they may call back into the
// Manager.
type Listener func(Notification)

// notifier delivers published notifications to listeners in publish order
// from a single goroutine.
type notifier struct {
	mu        sync.Mutex
	queue     []Notification
	listeners map[int]Listener
	nextID    int
	idle      *sync.Cond
	busy      bool
	stopped   bool

	signal chan struct{}
}

func newNotifier() *notifier {
	n := &notifier{
		listeners: make(map[int]Listener),
		signal:    make(chan struct{}, 1),
	}
	n.idle = sync.NewCond(&n.mu)
	return n
}

func (n *notifier) subscribe(l Listener) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.listeners, id)
		n.mu.Unlock()
	}
}

func (n *notifier) publish(ns []Notification) {
	if len(ns) == 0 {
		return
	}
	n.mu.Lock()
	n.queue = append(n.queue, ns...)
	n.mu.Unlock()
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *notifier) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			n.mu.Lock()
			n.stopped = true
			n.idle.Broadcast()
			n.mu.Unlock()
			return
		case <-n.signal:
		}
		for {
			n.mu.Lock()
			batch := n.queue
			n.queue = nil
			if len(batch) == 0 {
				n.busy = false
				n.idle.Broadcast()
				n.mu.Unlock()
				break
			}
			n.busy = true
			ls := make([]Listener, 0, len(n.listeners))
			for _, l := range n.listeners {
				ls = append(ls, l)
			}
			n.mu.Unlock()

			for _, ev := range batch {
				for _, l := range ls {
					l(ev)
				}
			}
		}
	}
}

// drain blocks until everything published so far has been delivered.
// It must not be called from a Listener.
func (n *notifier) drain() {
	n.mu.Lock()
	for !n.stopped && (len(n.queue) > 0 || n.busy) {
		n.idle.Wait()
	}
	n.mu.Unlock()
}
