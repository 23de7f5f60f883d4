// Package outbox tracks optimistic messages from the moment they are sent until the
// source confirms them, and keeps failed sends around for a retry.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"inbox-service/internal/adapters"
	"inbox-service/internal/clock"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

var (
	ErrSendFailed    = errors.New("send failed")
	ErrEntryNotFound = errors.New("outbox entry not found")
	ErrStillSending  = errors.New("outbox entry is still sending")
)

// Entry is a local message not yet confirmed by its source.
type Entry struct {
	Message models.Message
	Failed  bool
	LastErr string
}

type Outbox struct {
	sender   adapters.Sender
	notifier adapters.Notifier
	clock    clock.Clock
	log      zerolog.Logger
	newID    func() string

	mu      sync.Mutex
	entries map[string]*Entry
	order   []string
}

func New(sender adapters.Sender, notifier adapters.Notifier, clk clock.Clock, log zerolog.Logger) *Outbox {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Outbox{
		sender:   sender,
		notifier: notifier,
		clock:    clk,
		log:      log,
		newID:    func() string { return "local-" + uuid.NewString() },
		entries:  make(map[string]*Entry),
	}
}

// Send records an optimistic message and hands it to the sender. On success the
// confirmed message is returned and the local entry dropped. On failure the entry is
// kept as failed, the notifier is told, and the optimistic message is returned with
// an error wrapping ErrSendFailed.
func (o *Outbox) Send(ctx context.Context, ref models.ConversationRef, senderID, content string) (models.Message, error) {
	msg := models.Message{
		ID:           o.newID(),
		Ref:          ref,
		SenderID:     senderID,
		Content:      content,
		CreatedAt:    o.clock.Now(),
		IsOptimistic: true,
	}
	o.mu.Lock()
	o.entries[msg.ID] = &Entry{Message: msg}
	o.order = append(o.order, msg.ID)
	o.mu.Unlock()

	return o.deliver(ctx, msg)
}

// Retry resends a failed entry.
func (o *Outbox) Retry(ctx context.Context, id string) (models.Message, error) {
	o.mu.Lock()
	e, ok := o.entries[id]
	if !ok {
		o.mu.Unlock()
		return models.Message{}, ErrEntryNotFound
	}
	if !e.Failed {
		o.mu.Unlock()
		return models.Message{}, ErrStillSending
	}
	e.Failed = false
	e.LastErr = ""
	msg := e.Message
	o.mu.Unlock()

	return o.deliver(ctx, msg)
}

// Discard drops an entry the user gave up on.
func (o *Outbox) Discard(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.entries[id]; !ok {
		return ErrEntryNotFound
	}
	o.removeLocked(id)
	return nil
}

// Pending returns the unconfirmed messages of ref in send order.
func (o *Outbox) Pending(ref models.ConversationRef) []models.MessageView {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []models.MessageView
	for _, id := range o.order {
		e := o.entries[id]
		if e.Message.Ref != ref {
			continue
		}
		status := models.StatusSending
		if e.Failed {
			status = models.StatusFailed
		}
		out = append(out, models.MessageView{Message: e.Message, Status: status})
	}
	return out
}

// Get returns a copy of one entry.
func (o *Outbox) Get(id string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (o *Outbox) deliver(ctx context.Context, msg models.Message) (models.Message, error) {
	confirmed, err := o.sender.SendMessage(ctx, msg.Ref, msg.SenderID, msg.Content)
	if err != nil {
		o.mu.Lock()
		if e, ok := o.entries[msg.ID]; ok {
			e.Failed = true
			e.LastErr = err.Error()
		}
		o.mu.Unlock()

		observability.IncSendFailure(string(msg.Ref.Kind))
		o.log.Warn().Err(err).Str("ref", msg.Ref.String()).Str("local_id", msg.ID).Msg("message send failed")
		if o.notifier != nil {
			o.notifier.SendFailed(msg, err)
		}
		return msg, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	o.mu.Lock()
	o.removeLocked(msg.ID)
	o.mu.Unlock()

	confirmed.IsOptimistic = false
	if confirmed.Ref.IsNone() {
		confirmed.Ref = msg.Ref
	}
	return confirmed, nil
}

func (o *Outbox) removeLocked(id string) {
	delete(o.entries, id)
	for i, existing := range o.order {
		if existing == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			return
		}
	}
}
