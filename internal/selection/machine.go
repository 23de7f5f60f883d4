// Package selection holds the single active conversation of an inbox session.
package selection

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inbox-service/internal/adapters"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

const markReadTimeout = 10 * time.Second

// Observer is called after every selection change with the previous and new ref.
// Observers run in transition order and must not call back into the Machine's
// transition methods.
type Observer func(prev, next models.ConversationRef)

// Machine is the selection state machine. It is the only writer of the current
// ConversationRef; every transition replaces it under one lock, so two kinds can never
// be active at the same time.
type Machine struct {
	userID string
	marker adapters.ReadMarker
	log    zerolog.Logger

	// transitionMu serializes a transition with its notifications so observers see
	// changes in the order they were applied.
	transitionMu sync.Mutex
	mu           sync.RWMutex
	current      models.ConversationRef
	observers    []Observer

	dispatch func(func())
}

// NewMachine builds a Machine in the None state.
func NewMachine(userID string, marker adapters.ReadMarker, log zerolog.Logger) *Machine {
	return &Machine{
		userID:   userID,
		marker:   marker,
		log:      log,
		dispatch: func(f func()) { go f() },
	}
}

// Subscribe registers an observer for later transitions.
func (m *Machine) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// Current returns the active ref, or the zero ref when nothing is selected.
func (m *Machine) Current() models.ConversationRef {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

func (m *Machine) SelectJob(id string) bool         { return m.Select(models.JobRef(id)) }
func (m *Machine) SelectPeer(id string) bool        { return m.Select(models.PeerRef(id)) }
func (m *Machine) SelectTeamChannel(id string) bool { return m.Select(models.TeamChannelRef(id)) }
func (m *Machine) SelectTeamDM(id string) bool      { return m.Select(models.TeamDMRef(id)) }
func (m *Machine) SelectCollege(id string) bool     { return m.Select(models.CollegeRef(id)) }

// Select activates ref from any state. The ref is not validated against any source;
// a conversation that no longer exists is the rendering layer's concern. Selecting
// the ref that is already active changes nothing and reports false.
func (m *Machine) Select(ref models.ConversationRef) bool {
	return m.transition(ref)
}

// Back returns to the conversation list.
func (m *Machine) Back() bool {
	return m.transition(models.ConversationRef{})
}

// Close is Back for a closing panel. The transition is synchronous.
func (m *Machine) Close() bool {
	return m.transition(models.ConversationRef{})
}

func (m *Machine) transition(next models.ConversationRef) bool {
	m.transitionMu.Lock()
	defer m.transitionMu.Unlock()

	m.mu.Lock()
	prev := m.current
	if prev == next {
		m.mu.Unlock()
		return false
	}
	m.current = next
	observers := make([]Observer, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	m.log.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("selection changed")
	if !next.IsNone() {
		observability.IncSelection(string(next.Kind))
	}
	if next.Kind == models.KindJob || next.Kind == models.KindPeer {
		m.markRead(next)
	}
	for _, o := range observers {
		o(prev, next)
	}
	return true
}

// markRead fires the entry side effect without waiting for it. A failure is only
// logged: unread counts correct themselves on the next source refresh.
func (m *Machine) markRead(ref models.ConversationRef) {
	if m.marker == nil {
		return
	}
	m.dispatch(func() {
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		if err := m.marker.MarkAllRead(ctx, m.userID, ref); err != nil {
			observability.IncMarkReadFailure(string(ref.Kind))
			m.log.Warn().Err(err).Str("ref", ref.String()).Msg("mark all read failed")
		}
	})
}
