package telemetry

import (
	"context"
	"time"

	"inbox-service/internal/clock"
	"inbox-service/internal/logging"
	"inbox-service/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit actions raised by the inbox surface.
const (
	ActionSendFailed = "message.send_failed"
	ActionRetry      = "message.retry"
	ActionDiscard    = "message.discard"
	ActionDebug      = "debug.audit_test"
)

// AuditEmitter publishes audit_log envelopes for user-visible inbox actions.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	clock       clock.Clock
}

// AuditEvent is one action to record. Ref is left empty for actions outside a
// conversation.
type AuditEvent struct {
	Level     string
	Action    string
	Text      string
	RequestID string
	UserID    *string
	Ref       models.ConversationRef
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level        string `json:"level"`
	Action       string `json:"action"`
	Text         string `json:"text"`
	Conversation string `json:"conversation,omitempty"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		clock:       clock.Real{},
	}
}

// WithClock replaces the clock used to stamp occurred_at.
func (e *AuditEmitter) WithClock(clk clock.Clock) *AuditEmitter {
	e.clock = clk
	return e
}

func (e *AuditEmitter) envelope(ev AuditEvent) AuditEnvelope {
	payload := AuditPayload{Level: ev.Level, Action: ev.Action, Text: ev.Text}
	if !ev.Ref.IsNone() {
		payload.Conversation = ev.Ref.String()
	}
	return AuditEnvelope{
		SchemaVersion: 2,
		EventType:     "audit_log",
		OccurredAt:    e.clock.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     ev.RequestID,
		UserID:        ev.UserID,
		Payload:       payload,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, ev AuditEvent) {
	if e == nil || e.publisher == nil {
		return
	}

	log := logging.Component("audit")
	entry := log.Debug().Str("action", ev.Action).Str("level", ev.Level).Str("request_id", ev.RequestID)
	if ev.UserID != nil {
		entry = entry.Str("user_id", *ev.UserID)
	}
	entry.Msg("audit emit")

	if err := e.publisher.Publish(ctx, e.routingKey, e.envelope(ev)); err != nil {
		log.Warn().Err(err).Str("action", ev.Action).Str("request_id", ev.RequestID).Msg("audit publish failed")
	}
}
