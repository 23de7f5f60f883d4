package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"inbox-service/internal/adapters"
	"inbox-service/internal/models"
)

type ConversationSourceMock struct {
	mock.Mock
}

func (m *ConversationSourceMock) ListConversations(ctx context.Context, userID string, kind models.ConversationKind) (models.ConversationList, error) {
	args := m.Called(ctx, userID, kind)
	var list models.ConversationList
	if val := args.Get(0); val != nil {
		list = val.(models.ConversationList)
	}
	return list, args.Error(1)
}

type MessageSourceMock struct {
	mock.Mock
}

func (m *MessageSourceMock) ListMessages(ctx context.Context, ref models.ConversationRef) ([]models.Message, error) {
	args := m.Called(ctx, ref)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type SenderMock struct {
	mock.Mock
}

func (m *SenderMock) SendMessage(ctx context.Context, ref models.ConversationRef, senderID, content string) (models.Message, error) {
	args := m.Called(ctx, ref, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type ReadMarkerMock struct {
	mock.Mock
}

func (m *ReadMarkerMock) MarkAllRead(ctx context.Context, userID string, ref models.ConversationRef) error {
	args := m.Called(ctx, userID, ref)
	return args.Error(0)
}

type PresenceSourceMock struct {
	mock.Mock
}

func (m *PresenceSourceMock) GetPresence(ctx context.Context, userID string) (models.PresenceRecord, error) {
	args := m.Called(ctx, userID)
	var rec models.PresenceRecord
	if val := args.Get(0); val != nil {
		rec = val.(models.PresenceRecord)
	}
	return rec, args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) SendFailed(msg models.Message, err error) {
	m.Called(msg, err)
}

// TypingCall is one recorded SetTyping invocation.
type TypingCall struct {
	UserID   string
	Ref      models.ConversationRef
	IsTyping bool
}

// TypingRecorder records typing emissions in order and can be told to fail.
type TypingRecorder struct {
	mu    sync.Mutex
	calls []TypingCall
	Err   error
}

func (r *TypingRecorder) SetTyping(ctx context.Context, userID string, ref models.ConversationRef, isTyping bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, TypingCall{UserID: userID, Ref: ref, IsTyping: isTyping})
	return r.Err
}

func (r *TypingRecorder) Calls() []TypingCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TypingCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// Last returns the most recent emission for ref.
func (r *TypingRecorder) Last(ref models.ConversationRef) (TypingCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		if r.calls[i].Ref == ref {
			return r.calls[i], true
		}
	}
	return TypingCall{}, false
}

// EventRecorder collects pushed inbox events.
type EventRecorder struct {
	mu     sync.Mutex
	events map[string][]models.InboxEvent
}

func (r *EventRecorder) Push(userID string, event models.InboxEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = map[string][]models.InboxEvent{}
	}
	r.events[userID] = append(r.events[userID], event)
}

func (r *EventRecorder) Events(userID string) []models.InboxEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.InboxEvent, len(r.events[userID]))
	copy(out, r.events[userID])
	return out
}

// OfType returns the pushed events of one type for userID.
func (r *EventRecorder) OfType(userID, eventType string) []models.InboxEvent {
	var out []models.InboxEvent
	for _, e := range r.Events(userID) {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

var _ adapters.ConversationSource = (*ConversationSourceMock)(nil)
var _ adapters.MessageSource = (*MessageSourceMock)(nil)
var _ adapters.Sender = (*SenderMock)(nil)
var _ adapters.ReadMarker = (*ReadMarkerMock)(nil)
var _ adapters.PresenceSource = (*PresenceSourceMock)(nil)
var _ adapters.Notifier = (*NotifierMock)(nil)
var _ adapters.TypingEmitter = (*TypingRecorder)(nil)
var _ adapters.EventSink = (*EventRecorder)(nil)
