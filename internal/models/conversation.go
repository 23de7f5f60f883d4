package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidConversationRef = errors.New("invalid conversation ref")

// ConversationKind names the channel family a conversation belongs to.
type ConversationKind string

const (
	KindNone        ConversationKind = ""
	KindJob         ConversationKind = "job"
	KindPeer        ConversationKind = "peer"
	KindTeamChannel ConversationKind = "team_channel"
	KindTeamDM      ConversationKind = "team_dm"
	KindCollege     ConversationKind = "college"
)

// Kinds lists every selectable kind in inbox order.
var Kinds = []ConversationKind{KindJob, KindPeer, KindTeamChannel, KindTeamDM, KindCollege}

// Valid reports whether k is one of the selectable kinds.
func (k ConversationKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Source returns the unread source that counts conversations of this kind.
func (k ConversationKind) Source() SourceID {
	switch k {
	case KindJob:
		return SourceJob
	case KindPeer:
		return SourcePeer
	case KindTeamChannel, KindTeamDM:
		return SourceTeam
	case KindCollege:
		return SourceCollege
	}
	return ""
}

// ConversationRef identifies the selected conversation across every channel family.
// The zero value means nothing is selected.
type ConversationRef struct {
	Kind ConversationKind `json:"kind"`
	ID   string           `json:"id,omitempty"`
}

func JobRef(id string) ConversationRef         { return ConversationRef{Kind: KindJob, ID: id} }
func PeerRef(id string) ConversationRef        { return ConversationRef{Kind: KindPeer, ID: id} }
func TeamChannelRef(id string) ConversationRef { return ConversationRef{Kind: KindTeamChannel, ID: id} }
func TeamDMRef(id string) ConversationRef      { return ConversationRef{Kind: KindTeamDM, ID: id} }
func CollegeRef(id string) ConversationRef     { return ConversationRef{Kind: KindCollege, ID: id} }

// IsNone reports whether the ref selects nothing.
func (r ConversationRef) IsNone() bool {
	return r.Kind == KindNone
}

func (r ConversationRef) String() string {
	if r.IsNone() {
		return "none"
	}
	return string(r.Kind) + ":" + r.ID
}

// ParseConversationRef parses the "kind:id" form produced by String.
func ParseConversationRef(s string) (ConversationRef, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "none" {
		return ConversationRef{}, nil
	}
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return ConversationRef{}, fmt.Errorf("%w: %q", ErrInvalidConversationRef, s)
	}
	ref := ConversationRef{Kind: ConversationKind(kind), ID: id}
	if !ref.Kind.Valid() {
		return ConversationRef{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidConversationRef, kind)
	}
	return ref, nil
}

// ConversationStatus is only reported by the peer-support source.
type ConversationStatus string

const (
	StatusActive  ConversationStatus = "active"
	StatusPending ConversationStatus = "pending"
	StatusClosed  ConversationStatus = "closed"
)

// Conversation is an inbox row as reported by a source adapter.
type Conversation struct {
	Ref           ConversationRef    `json:"ref"`
	Title         string             `db:"title" json:"title"`
	Status        ConversationStatus `db:"status" json:"status,omitempty"`
	UnreadCount   int                `db:"unread_count" json:"unread_count"`
	CounterpartID string             `db:"counterpart_id" json:"counterpart_id,omitempty"`
	LastMessageAt *time.Time         `db:"last_message_at" json:"last_message_at,omitempty"`
}

// ConversationList is one adapter's answer to a list request.
type ConversationList struct {
	Items       []Conversation `json:"items"`
	UnreadCount int            `json:"unread_count"`
	IsLoading   bool           `json:"is_loading"`
}
