package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"inbox-service/internal/clock"
	"inbox-service/internal/models"
)

type publisherMock struct {
	mock.Mock
}

func (m *publisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *publisherMock) Close() error {
	return m.Called().Error(0)
}

func TestAuditEmitterPublishesEnvelope(t *testing.T) {
	pub := new(publisherMock)
	userID := "u1"
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	pub.On("Publish", mock.Anything, "audit.inbox", mock.MatchedBy(func(e AuditEnvelope) bool {
		return e.EventType == "audit_log" &&
			e.Service == "inbox-service" &&
			e.Environment == "test" &&
			e.RequestID == "req-1" &&
			e.OccurredAt == "2026-03-02T09:30:00Z" &&
			e.UserID != nil && *e.UserID == "u1" &&
			e.Payload.Level == "WARN" &&
			e.Payload.Action == ActionSendFailed &&
			e.Payload.Conversation == "peer:p9" &&
			e.Payload.Text == "message send failed"
	})).Return(nil).Once()

	NewAuditEmitter(pub, "audit.inbox", "inbox-service", "test").
		WithClock(clock.NewManual(at)).
		Emit(context.Background(), AuditEvent{
			Level:     "WARN",
			Action:    ActionSendFailed,
			Text:      "message send failed",
			RequestID: "req-1",
			UserID:    &userID,
			Ref:       models.PeerRef("p9"),
		})
	pub.AssertExpectations(t)
}

func TestAuditEnvelopeOmitsEmptyConversation(t *testing.T) {
	e := NewAuditEmitter(nil, "audit.inbox", "inbox-service", "test")
	env := e.envelope(AuditEvent{Level: "INFO", Action: ActionDebug, Text: "x"})
	assert.Empty(t, env.Payload.Conversation)
	assert.Nil(t, env.UserID)
}

func TestAuditEmitterSwallowsPublishErrors(t *testing.T) {
	pub := new(publisherMock)
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("closed")).Once()

	assert.NotPanics(t, func() {
		NewAuditEmitter(pub, "audit.inbox", "inbox-service", "test").
			Emit(context.Background(), AuditEvent{Level: "INFO", Action: ActionDebug, Text: "x"})
	})
	pub.AssertExpectations(t)
}

func TestNilAuditEmitterIsNoop(t *testing.T) {
	var e *AuditEmitter
	assert.NotPanics(t, func() { e.Emit(context.Background(), AuditEvent{Level: "INFO"}) })
}
