package rabbitmq

import (
	"context"

	"inbox-service/internal/adapters"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

// TypingPublisher forwards typing emissions to the event exchange so other service
// instances can relay them.
type TypingPublisher struct {
	publisher Publisher
}

func NewTypingPublisher(publisher Publisher) *TypingPublisher {
	return &TypingPublisher{publisher: publisher}
}

type typingEvent struct {
	UserID   string                 `json:"user_id"`
	Ref      models.ConversationRef `json:"ref"`
	IsTyping bool                   `json:"is_typing"`
}

func (p *TypingPublisher) SetTyping(ctx context.Context, userID string, ref models.ConversationRef, isTyping bool) error {
	err := p.publisher.PublishJSON(ctx, observability.RoutingTyping, observability.EventEnvelope{
		EventType: "inbox",
		EventName: "typing",
		Payload:   typingEvent{UserID: userID, Ref: ref, IsTyping: isTyping},
	}, observability.BuildHeaders("", observability.TraceIDFromContext(ctx)))
	if err != nil {
		observability.IncAMQPPublishError()
	}
	return err
}

var _ adapters.TypingEmitter = (*TypingPublisher)(nil)
