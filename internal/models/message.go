package models

import "time"

// Message is a conversation message together with its delivery lifecycle timestamps.
type Message struct {
	ID           string          `db:"id" json:"id"`
	Ref          ConversationRef `json:"ref"`
	SenderID     string          `db:"sender_id" json:"sender_id"`
	Content      string          `db:"content" json:"content"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	DeliveredAt  *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt       *time.Time      `db:"read_at" json:"read_at,omitempty"`
	IsOptimistic bool            `json:"is_optimistic,omitempty"`
}

// DeliveryStatus is the display status of a message. Values are ordered so that a
// later stage compares greater than an earlier one; StatusFailed sits outside that order.
type DeliveryStatus int

const (
	StatusSending DeliveryStatus = iota + 1
	StatusSent
	StatusDelivered
	StatusRead
	StatusFailed DeliveryStatus = -1
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSending:
		return "sending"
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

func (s DeliveryStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MessageView is a message as handed to the rendering layer.
type MessageView struct {
	Message
	Status DeliveryStatus `json:"status"`
}
