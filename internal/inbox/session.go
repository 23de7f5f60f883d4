// Package inbox composes the per-user inbox session: selection, unread totals, typing,
// presence, delivery status and the send outbox over the channel adapters.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inbox-service/internal/adapters"
	"inbox-service/internal/clock"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
	"inbox-service/internal/outbox"
	"inbox-service/internal/presence"
	"inbox-service/internal/receipts"
	"inbox-service/internal/selection"
	"inbox-service/internal/typing"
	"inbox-service/internal/unread"
)

// Deps are the collaborators a session is built over. Sources maps each conversation
// kind to the adapter that lists it; kinds without a source cannot be refreshed.
type Deps struct {
	Sources    map[models.ConversationKind]adapters.ConversationSource
	Messages   adapters.MessageSource
	Sender     adapters.Sender
	Marker     adapters.ReadMarker
	Typing     adapters.TypingEmitter
	Presence   adapters.PresenceSource
	Events     adapters.EventSink
	Clock      clock.Clock
	TypingCfg  typing.Config
	Thresholds presence.Thresholds
}

// Session is one signed-in user's inbox.
type Session struct {
	userID string
	deps   Deps
	clock  clock.Clock
	log    zerolog.Logger

	selection *selection.Machine
	unread    *unread.Aggregator
	typing    *typing.Coordinator
	presence  *presence.Resolver
	ratchet   *receipts.Ratchet
	outbox    *outbox.Outbox

	mu         sync.RWMutex
	lists      map[models.ConversationKind]models.ConversationList
	teamCounts map[models.ConversationKind]int
}

func NewSession(userID string, deps Deps, log zerolog.Logger) *Session {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	s := &Session{
		userID:     userID,
		deps:       deps,
		clock:      clk,
		log:        log,
		unread:     unread.New(models.Sources...),
		ratchet:    receipts.NewRatchet(),
		lists:      make(map[models.ConversationKind]models.ConversationList),
		teamCounts: make(map[models.ConversationKind]int),
	}
	s.selection = selection.NewMachine(userID, deps.Marker, log)
	s.typing = typing.New(userID, deps.Typing, clk, deps.TypingCfg, log)
	s.presence = presence.NewResolver(deps.Presence, clk, deps.Thresholds, log)
	s.outbox = outbox.New(deps.Sender, s, clk, log)

	s.selection.Subscribe(s.typing.OnSelectionChange)
	s.selection.Subscribe(func(prev, _ models.ConversationRef) {
		if !prev.IsNone() {
			s.ratchet.Forget(prev)
		}
	})
	s.selection.Subscribe(func(_, next models.ConversationRef) {
		ref := next
		s.push(models.InboxEvent{Type: models.EventSelection, Selection: &ref})
	})
	s.typing.OnDisplay(func(ref models.ConversationRef, users []string) {
		r := ref
		s.push(models.InboxEvent{Type: models.EventTyping, Ref: &r, TypingUsers: users})
	})
	return s
}

func (s *Session) UserID() string {
	return s.userID
}

// Refresh reloads one channel family and updates its unread source. On failure the
// previous list and count stay in place and the error is returned.
func (s *Session) Refresh(ctx context.Context, kind models.ConversationKind) (models.ConversationList, error) {
	src, ok := s.deps.Sources[kind]
	if !ok || src == nil {
		return models.ConversationList{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	start := time.Now()
	list, err := src.ListConversations(ctx, s.userID, kind)
	observability.ObserveRefresh(string(kind), start, err)
	if err != nil {
		s.log.Warn().Err(err).Str("kind", string(kind)).Msg("conversation refresh failed")
		return models.ConversationList{}, fmt.Errorf("refresh %s: %w", kind, err)
	}

	s.mu.Lock()
	s.lists[kind] = list
	switch kind {
	case models.KindPeer:
		s.unread.Update(models.SourcePeer, unread.PeerUnread(list.Items))
	case models.KindTeamChannel, models.KindTeamDM:
		s.teamCounts[kind] = list.UnreadCount
		s.unread.Update(models.SourceTeam, s.teamCounts[models.KindTeamChannel]+s.teamCounts[models.KindTeamDM])
	default:
		s.unread.Update(kind.Source(), list.UnreadCount)
	}
	s.mu.Unlock()

	summary := s.unread.Summary()
	s.push(models.InboxEvent{Type: models.EventUnread, Unread: &summary})
	return list, nil
}

// RefreshAll refreshes every configured source and joins the failures.
func (s *Session) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, kind := range models.Kinds {
		if _, ok := s.deps.Sources[kind]; !ok {
			continue
		}
		if _, err := s.Refresh(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Conversations returns the last refreshed list of kind, or every list merged with
// the most recent activity first when kind is none.
func (s *Session) Conversations(kind models.ConversationKind) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if kind != models.KindNone {
		items := s.lists[kind].Items
		out := make([]models.Conversation, len(items))
		copy(out, items)
		return out
	}
	var out []models.Conversation
	for _, k := range models.Kinds {
		out = append(out, s.lists[k].Items...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return out
}

func (s *Session) Unread() models.UnreadSummary {
	return s.unread.Summary()
}

func (s *Session) Selection() models.ConversationRef {
	return s.selection.Current()
}

// Select makes ref the active conversation. Selecting the none ref is Back.
func (s *Session) Select(ref models.ConversationRef) bool {
	return s.selection.Select(ref)
}

func (s *Session) Back() bool {
	return s.selection.Back()
}

// ClosePanel closes the messaging panel: the selection returns to none and every
// typing timer is cancelled.
func (s *Session) ClosePanel() bool {
	changed := s.selection.Close()
	s.typing.Stop()
	return changed
}

// Messages lists the active conversation with derived delivery status, followed by
// any local messages still in the outbox.
func (s *Session) Messages(ctx context.Context) ([]models.MessageView, error) {
	ref := s.selection.Current()
	if ref.IsNone() {
		return nil, ErrNoActiveConversation
	}
	var views []models.MessageView
	if s.deps.Messages != nil {
		msgs, err := s.deps.Messages.ListMessages(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("list messages %s: %w", ref, err)
		}
		views = make([]models.MessageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, s.ratchet.View(m))
		}
	}
	views = append(views, s.outbox.Pending(ref)...)
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].CreatedAt.Before(views[j].CreatedAt)
	})
	return views, nil
}

// Send posts content to the active conversation. The outbound typing signal ends
// first. A failed send returns the kept optimistic message with status failed.
func (s *Session) Send(ctx context.Context, content string) (models.MessageView, error) {
	ref := s.selection.Current()
	if ref.IsNone() {
		return models.MessageView{}, ErrNoActiveConversation
	}
	s.typing.Sent()

	msg, err := s.outbox.Send(ctx, ref, s.userID, content)
	if err != nil {
		return models.MessageView{Message: msg, Status: models.StatusFailed}, err
	}
	return s.confirmed(msg), nil
}

// Retry resends a failed outbox entry.
func (s *Session) Retry(ctx context.Context, localID string) (models.MessageView, error) {
	msg, err := s.outbox.Retry(ctx, localID)
	if errors.Is(err, outbox.ErrEntryNotFound) {
		return models.MessageView{}, fmt.Errorf("%w: message %s", ErrNotFound, localID)
	}
	if err != nil {
		if errors.Is(err, outbox.ErrSendFailed) {
			return models.MessageView{Message: msg, Status: models.StatusFailed}, err
		}
		return models.MessageView{}, err
	}
	return s.confirmed(msg), nil
}

// Discard drops a failed outbox entry.
func (s *Session) Discard(localID string) error {
	if err := s.outbox.Discard(localID); err != nil {
		return fmt.Errorf("%w: message %s", ErrNotFound, localID)
	}
	return nil
}

func (s *Session) confirmed(msg models.Message) models.MessageView {
	view := s.ratchet.View(msg)
	s.push(models.InboxEvent{Type: models.EventMessage, Ref: &msg.Ref, Message: &view})
	return view
}

// Input records keystroke activity in the active conversation.
func (s *Session) Input() {
	s.typing.Input()
}

// TypingSent ends the outbound typing signal without sending through this session.
func (s *Session) TypingSent() {
	s.typing.Sent()
}

// RemoteTyping applies a typing signal from another participant.
func (s *Session) RemoteTyping(sig models.RemoteTypingSignal) {
	s.typing.Remote(sig)
}

// Typing returns who is typing in the active conversation right now.
func (s *Session) Typing() []string {
	return s.typing.TypingUsers(s.clock.Now())
}

// Presence derives userID's presence bucket at the current time.
func (s *Session) Presence(ctx context.Context, userID string) (models.PresenceRecord, models.PresenceStatus) {
	return s.presence.Status(ctx, userID)
}

// SendFailed surfaces a failed send to the user's connections with a retry prompt.
func (s *Session) SendFailed(msg models.Message, err error) {
	view := models.MessageView{Message: msg, Status: models.StatusFailed}
	s.push(models.InboxEvent{
		Type:      models.EventSendFailed,
		Ref:       &msg.Ref,
		Message:   &view,
		MessageID: msg.ID,
		Error:     "message could not be sent, tap to retry",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = observability.PublishEvent(ctx, observability.RoutingSendFailed, observability.EventEnvelope{
		EventType: "inbox",
		EventName: models.EventSendFailed,
		Payload: map[string]string{
			"user_id":  s.userID,
			"ref":      msg.Ref.String(),
			"local_id": msg.ID,
			"error":    err.Error(),
		},
	}, nil)
}

// Shutdown closes the panel so the selection and the typing scope end together.
func (s *Session) Shutdown() {
	s.ClosePanel()
}

func (s *Session) push(event models.InboxEvent) {
	if s.deps.Events == nil {
		return
	}
	s.deps.Events.Push(s.userID, event)
}
