// Package notify batches per-cloud lifecycle events into one ChangeSet per
// tick for renderers that track several clouds.
package notify

import (
	"sync"

	"github.com/google/uuid"
)

// ChangeSet lists the clouds added, updated and removed since the previous
// notification. Subscribers receive their own copy.
type ChangeSet struct {
	Added   []uuid.UUID
	Updated []uuid.UUID
	Removed []uuid.UUID
}

// Empty reports whether no cloud changed.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Removed) == 0
}

func (c ChangeSet) clone() ChangeSet {
	return ChangeSet{
		Added:   append([]uuid.UUID(nil), c.Added...),
		Updated: append([]uuid.UUID(nil), c.Updated...),
		Removed: append([]uuid.UUID(nil), c.Removed...),
	}
}

type subscriber struct {
	id uint64
	fn func(ChangeSet)
}

// Notifier accumulates changes during a tick and publishes them on Flush.
type Notifier struct {
	mu      sync.Mutex
	pending ChangeSet
	subs    []subscriber
	nextSub uint64
	flushed uint64
}

// New returns an empty Notifier.
func New() *Notifier {
	return &Notifier{}
}

// MarkAdded records that id was created this tick.
func (n *Notifier) MarkAdded(id uuid.UUID) {
	n.mu.Lock()
	n.pending.Added = append(n.pending.Added, id)
	n.mu.Unlock()
}

// MarkUpdated records that id received new points this tick.
func (n *Notifier) MarkUpdated(id uuid.UUID) {
	n.mu.Lock()
	n.pending.Updated = append(n.pending.Updated, id)
	n.mu.Unlock()
}

// MarkRemoved records that id was destroyed this tick.
func (n *Notifier) MarkRemoved(id uuid.UUID) {
	n.mu.Lock()
	n.pending.Removed = append(n.pending.Removed, id)
	n.mu.Unlock()
}

// Notify records the three lists at once and flushes.
func (n *Notifier) Notify(added, updated, removed []uuid.UUID) bool {
	n.mu.Lock()
	n.pending.Added = append(n.pending.Added, added...)
	n.pending.Updated = append(n.pending.Updated, updated...)
	n.pending.Removed = append(n.pending.Removed, removed...)
	n.mu.Unlock()
	return n.Flush()
}

// Flush delivers the pending ChangeSet to every subscriber and clears it.
// Nothing is delivered when no change was recorded. It reports whether a
// ChangeSet was delivered.
func (n *Notifier) Flush() bool {
	n.mu.Lock()
	cs := n.pending
	n.pending = ChangeSet{}
	if cs.Empty() {
		n.mu.Unlock()
		return false
	}
	n.flushed++
	subs := make([]subscriber, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	for _, s := range subs {
		s.fn(cs.clone())
	}
	return true
}

// Pending returns a copy of the changes recorded since the last Flush.
func (n *Notifier) Pending() ChangeSet {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending.clone()
}

// Flushed returns the number of ChangeSets delivered so far.
func (n *Notifier) Flushed() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.flushed
}

// Subscribe registers fn to receive every flushed ChangeSet, synchronously
// and in registration order. The returned function removes it.
func (n *Notifier) Subscribe(fn func(ChangeSet)) (unsubscribe func()) {
	n.mu.Lock()
	n.nextSub++
	id := n.nextSub
	n.subs = append(n.subs, subscriber{id: id, fn: fn})
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			for i, s := range n.subs {
				if s.id == id {
					n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
					return
				}
			}
		})
	}
}
