// Package notify implements the per-account notification outbox that clients
// drain by polling.
package notify

import (
	"sync"

	"github.com/wardenhost/warden/internal/protocol"
)

// Outbox is an append/replace queue of notifications for one account.
//
// Progress-shaped notifications replace any pending notification of the same
// kind for the same server instead of accumulating, bounding the queue's
// growth during long operations. Terminal notifications always append.
type Outbox struct {
	mu      sync.Mutex
	pending []protocol.Notification
}

// Push enqueues a notification, applying the coalescing policy.
func (o *Outbox) Push(n protocol.Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if n.IsProgress() {
		for i := range o.pending {
			if o.pending[i].Kind == n.Kind && o.pending[i].Server == n.Server {
				o.pending[i] = n
				return
			}
		}
	}
	o.pending = append(o.pending, n)
}

// Drain atomically removes and returns every pending notification.
func (o *Outbox) Drain() []protocol.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()

	drained := o.pending
	o.pending = nil
	return drained
}

// Len returns the number of pending notifications.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Registry hands out one Outbox per account. It is an injected handle rather
// than a process-wide table so the coalescing policy stays testable in
// isolation.
type Registry struct {
	mu       sync.Mutex
	outboxes map[string]*Outbox
}

func NewRegistry() *Registry {
	return &Registry{outboxes: make(map[string]*Outbox)}
}

// Outbox returns the account's outbox, creating it on first use.
func (r *Registry) Outbox(account string) *Outbox {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.outboxes[account]
	if !ok {
		o = &Outbox{}
		r.outboxes[account] = o
	}
	return o
}
