// Package unread combines per-source unread counts into the inbox badge.
package unread

import (
	"strconv"
	"sync"

	"inbox-service/internal/models"
)

// BadgeCap is the largest total rendered as a number.
const BadgeCap = 99

// Aggregator stores the latest count reported by each source. The total is summed
// on every query and never cached.
type Aggregator struct {
	mu     sync.RWMutex
	counts map[models.SourceID]int
	order  []models.SourceID
}

// New returns an aggregator with the given sources registered at zero.
func New(sources ...models.SourceID) *Aggregator {
	a := &Aggregator{counts: make(map[models.SourceID]int)}
	for _, id := range sources {
		a.register(id)
	}
	return a
}

func (a *Aggregator) register(id models.SourceID) {
	if _, ok := a.counts[id]; ok {
		return
	}
	a.counts[id] = 0
	a.order = append(a.order, id)
}

// Update records a source's current count, registering the source if needed.
// Negative counts are treated as zero.
func (a *Aggregator) Update(id models.SourceID, count int) {
	if count < 0 {
		count = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.register(id)
	a.counts[id] = count
}

// Total is the exact sum over every registered source.
func (a *Aggregator) Total() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	total := 0
	for _, n := range a.counts {
		total += n
	}
	return total
}

// Count returns one source's latest value.
func (a *Aggregator) Count(id models.SourceID) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.counts[id]
}

// Snapshot returns every source in registration order.
func (a *Aggregator) Snapshot() []models.UnreadSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]models.UnreadSource, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, models.UnreadSource{SourceID: id, Count: a.counts[id]})
	}
	return out
}

// Summary is the badge payload for the rendering layer.
func (a *Aggregator) Summary() models.UnreadSummary {
	sources := a.Snapshot()
	total := 0
	for _, s := range sources {
		total += s.Count
	}
	return models.UnreadSummary{Total: total, Badge: Badge(total), Sources: sources}
}

// PeerUnread counts peer-support conversations in the active status. This is not a
// count of unread messages: an active conversation counts even when fully read.
func PeerUnread(conversations []models.Conversation) int {
	n := 0
	for _, c := range conversations {
		if c.Status == models.StatusActive {
			n++
		}
	}
	return n
}

// Badge renders a total for display: empty for zero, "99+" above BadgeCap.
func Badge(total int) string {
	switch {
	case total <= 0:
		return ""
	case total > BadgeCap:
		return strconv.Itoa(BadgeCap) + "+"
	default:
		return strconv.Itoa(total)
	}
}
