package ping

import (
	"sync"
	"time"
)

// Deduper remembers which ping ids already produced an effect. Entries are
// forgotten after ttl; with ttl at least the display window a forgotten id
// can no longer be returned by a poll.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewDeduper(ttl time.Duration, now func() time.Time) *Deduper {
	if now == nil {
		now = time.Now
	}
	return &Deduper{seen: make(map[string]time.Time), ttl: ttl, now: now}
}

// Fresh returns the events whose ids have not been seen before and marks
// them seen.
func (d *Deduper) Fresh(events []*Event) []*Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var fresh []*Event
	for _, ev := range events {
		if _, ok := d.seen[ev.ID]; ok {
			continue
		}
		d.seen[ev.ID] = now
		fresh = append(fresh, ev)
	}
	for id, at := range d.seen {
		if now.Sub(at) > d.ttl {
			delete(d.seen, id)
		}
	}
	return fresh
}

// Len returns the number of remembered ids.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
