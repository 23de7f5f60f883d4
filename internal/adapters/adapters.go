// Package adapters declares the contracts the inbox consumes from its external
// collaborators: per-channel conversation sources, message stores, presence, and the
// outbound typing and notification sinks.
package adapters

import (
	"context"

	"inbox-service/internal/models"
)

// ConversationSource lists one channel family's conversations for a user.
type ConversationSource interface {
	ListConversations(ctx context.Context, userID string, kind models.ConversationKind) (models.ConversationList, error)
}

// MessageSource returns the messages of one conversation, oldest first.
type MessageSource interface {
	ListMessages(ctx context.Context, ref models.ConversationRef) ([]models.Message, error)
}

// Sender persists an outgoing message and returns the confirmed copy.
type Sender interface {
	SendMessage(ctx context.Context, ref models.ConversationRef, senderID, content string) (models.Message, error)
}

// ReadMarker marks every message in a conversation read for a user. Must be idempotent.
type ReadMarker interface {
	MarkAllRead(ctx context.Context, userID string, ref models.ConversationRef) error
}

// TypingEmitter delivers a user's typing state to the other participants.
type TypingEmitter interface {
	SetTyping(ctx context.Context, userID string, ref models.ConversationRef, isTyping bool) error
}

// PresenceSource reports when a user was last seen.
type PresenceSource interface {
	GetPresence(ctx context.Context, userID string) (models.PresenceRecord, error)
}

// Notifier surfaces a failed send to the user so they can retry.
type Notifier interface {
	SendFailed(msg models.Message, err error)
}

// EventSink pushes inbox events to a user's live connections.
type EventSink interface {
	Push(userID string, event models.InboxEvent)
}
