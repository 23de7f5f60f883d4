package models

// InboxEvent is pushed to a user's websocket connections.
type InboxEvent struct {
	Type        string           `json:"type"`
	Selection   *ConversationRef `json:"selection,omitempty"`
	Unread      *UnreadSummary   `json:"unread,omitempty"`
	Ref         *ConversationRef `json:"ref,omitempty"`
	TypingUsers []string         `json:"typing_users,omitempty"`
	Message     *MessageView     `json:"message,omitempty"`
	MessageID   string           `json:"message_id,omitempty"`
	Error       string           `json:"error,omitempty"`
}

const (
	EventSelection  = "selection"
	EventUnread     = "unread"
	EventTyping     = "typing"
	EventMessage    = "message"
	EventSendFailed = "send_failed"
)

// UnreadSummary is the badge payload.
type UnreadSummary struct {
	Total   int            `json:"total"`
	Badge   string         `json:"badge"`
	Sources []UnreadSource `json:"sources"`
}
