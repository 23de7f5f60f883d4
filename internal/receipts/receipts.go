// Package receipts derives the display status of a message from its lifecycle
// timestamps.
package receipts

import (
	"sync"

	"inbox-service/internal/models"
)

// Status is evaluated top to bottom: an optimistic message is sending whatever its
// timestamps say, then read wins over delivered because adapters do not always fill
// both. Missing timestamps fall through to the lower-confidence state.
func Status(m models.Message) models.DeliveryStatus {
	switch {
	case m.IsOptimistic:
		return models.StatusSending
	case m.ReadAt != nil:
		return models.StatusRead
	case m.DeliveredAt != nil:
		return models.StatusDelivered
	default:
		return models.StatusSent
	}
}

// Ratchet remembers the highest status shown per message so a refresh that drops a
// timestamp cannot move a message backwards. Entries are grouped by conversation so
// a conversation the user has left can be dropped in one call.
type Ratchet struct {
	mu   sync.Mutex
	seen map[models.ConversationRef]map[string]models.DeliveryStatus
}

func NewRatchet() *Ratchet {
	return &Ratchet{seen: make(map[models.ConversationRef]map[string]models.DeliveryStatus)}
}

// Observe derives m's status and returns it, or the previously shown status if that
// was further along.
func (r *Ratchet) Observe(m models.Message) models.DeliveryStatus {
	s := Status(m)
	if m.ID == "" {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.seen[m.Ref]
	if !ok {
		conv = make(map[string]models.DeliveryStatus)
		r.seen[m.Ref] = conv
	}
	if prev, ok := conv[m.ID]; ok && prev > s {
		return prev
	}
	conv[m.ID] = s
	return s
}

// View wraps m with its ratcheted status.
func (r *Ratchet) View(m models.Message) models.MessageView {
	return models.MessageView{Message: m, Status: r.Observe(m)}
}

// Forget drops every remembered status in ref.
func (r *Ratchet) Forget(ref models.ConversationRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, ref)
}

// Len reports how many conversations are tracked.
func (r *Ratchet) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
