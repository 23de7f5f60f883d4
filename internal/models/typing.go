package models

import "time"

// TypingIntent is the local outbound typing state for one conversation.
type TypingIntent struct {
	Ref      ConversationRef `json:"ref"`
	IsTyping bool            `json:"is_typing"`
}

// RemoteTypingSignal is an inbound typing event from another participant.
type RemoteTypingSignal struct {
	Ref        ConversationRef `json:"ref"`
	UserID     string          `json:"user_id"`
	IsTyping   bool            `json:"is_typing"`
	ReceivedAt time.Time       `json:"received_at"`
}
