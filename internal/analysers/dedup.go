package analysers

import (
	"sync"
	"time"

	"github.com/Fullex26/autowatch/pkg/models"
)

// Deduplicator drops webhook redeliveries. Trackers retry a delivery with
// the same identifier when they did not see a timely 2xx.
type Deduplicator struct {
	mu       sync.Mutex
	seen     map[string]time.Time // delivery id -> first seen
	cooldown time.Duration
}

func NewDeduplicator(cooldown time.Duration) *Deduplicator {
	return &Deduplicator{
		seen:     make(map[string]time.Time),
		cooldown: cooldown,
	}
}

// ShouldProcess returns true unless this delivery was already seen within
// the cooldown. Events without an id are always processed, since each user
// action must be judged on its own.
func (d *Deduplicator) ShouldProcess(event models.IssueEvent) bool {
	key := d.dedupKey(event)
	if key == "" {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	firstSeen, exists := d.seen[key]
	if !exists || time.Since(firstSeen) > d.cooldown {
		d.seen[key] = time.Now()
		return true
	}

	return false
}

// Cleanup removes expired entries to prevent memory leak
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, firstSeen := range d.seen {
		if time.Since(firstSeen) > d.cooldown*2 {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of tracked deliveries
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduplicator) dedupKey(event models.IssueEvent) string {
	if event.ID == "" {
		return ""
	}
	return event.Source + ":" + event.ID
}
