package authsession

import (
	"sync"

	"github.com/google/uuid"
)

type observerEntry struct {
	id uuid.UUID
	fn func(Snapshot)
}

// observerSet delivers snapshots to subscribers one round at a time and in
// Version order. A snapshot committed while a round is running is queued;
// when several queue up only the newest is delivered.
type observerSet struct {
	mu         sync.Mutex
	entries    []observerEntry
	pending    *Snapshot
	queued     uint64
	delivering bool
}

func (o *observerSet) subscribe(fn func(Snapshot)) func() {
	if fn == nil {
		return func() {}
	}
	id := uuid.New()

	o.mu.Lock()
	o.entries = append(o.entries, observerEntry{id: id, fn: fn})
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observerSet) remove(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, entry := range o.entries {
		if entry.id == id {
			o.entries = append(o.entries[:i:i], o.entries[i+1:]...)
			return
		}
	}
}

// notify queues s for delivery. The first caller to find no round in
// progress delivers until the queue is empty; everyone else returns at once,
// so an observer may call back into the Machine. It must not be called with
// the machine lock held.
func (o *observerSet) notify(s Snapshot) {
	o.mu.Lock()
	if s.Version <= o.queued {
		o.mu.Unlock()
		return
	}
	o.queued = s.Version
	o.pending = &s
	if o.delivering {
		o.mu.Unlock()
		return
	}
	o.delivering = true

	for o.pending != nil {
		next := *o.pending
		o.pending = nil
		entries := make([]observerEntry, len(o.entries))
		copy(entries, o.entries)
		o.mu.Unlock()

		for _, entry := range entries {
			entry.fn(next.clone())
		}

		o.mu.Lock()
	}
	o.delivering = false
	o.mu.Unlock()
}

func (o *observerSet) clear() {
	o.mu.Lock()
	o.entries = nil
	o.mu.Unlock()
}

func (o *observerSet) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}
