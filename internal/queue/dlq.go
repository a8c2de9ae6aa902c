package queue

import (
	"sync"
	"time"

	"github.com/nodalcore/poolsupervisor/internal/task"
)

// DLQEntry is a task that exhausted its retry budget, retained with the
// reason it was dead-lettered so an operator can inspect and retry it.
type DLQEntry struct {
	Task    *task.Task
	Reason  string
	AddedAt time.Time
}

// DLQ is the in-memory dead-letter queue. Unlike the live priority queue
// it has no eviction policy — entries live until explicitly retried or
// cleared, since they represent work a human is expected to look at.
type DLQ struct {
	mu      sync.Mutex
	entries map[string]*DLQEntry
	order   []string
}

// NewDLQ builds an empty dead-letter queue.
func NewDLQ() *DLQ {
	return &DLQ{entries: make(map[string]*DLQEntry)}
}

// Add records a dead-lettered task, preserving its attempts history.
func (d *DLQ) Add(t *task.Task, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.entries[t.ID]; !exists {
		d.order = append(d.order, t.ID)
	}
	d.entries[t.ID] = &DLQEntry{Task: t, Reason: reason, AddedAt: time.Now().UTC()}
}

// Contains reports whether id is currently dead-lettered.
func (d *DLQ) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.entries[id]
	return ok
}

// Get returns the dead-letter entry for id, if present.
func (d *DLQ) Get(id string) (*DLQEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	return e, ok
}

// List returns all dead-letter entries in insertion order.
func (d *DLQ) List() []*DLQEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*DLQEntry, 0, len(d.order))
	for _, id := range d.order {
		if e, ok := d.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Remove deletes an entry, returning it so the caller (e.g. Retry) can
// re-enqueue its task.
func (d *DLQ) Remove(id string) (*DLQEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[id]
	if !ok {
		return nil, false
	}
	delete(d.entries, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return e, true
}

// Size reports the number of dead-lettered tasks.
func (d *DLQ) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Clear discards every entry.
func (d *DLQ) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]*DLQEntry)
	d.order = nil
}
