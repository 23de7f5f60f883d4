package inbox

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"inbox-service/internal/adapters"
	"inbox-service/internal/clock"
	"inbox-service/internal/logging"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

// Registry keeps one session per user and relays typing between sessions that have
// the same conversation open.
type Registry struct {
	deps  Deps
	clock clock.Clock
	log   zerolog.Logger

	// upstream also receives every typing emission, e.g. a cross-instance transport.
	upstream adapters.TypingEmitter

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds sessions from deps. deps.Typing, if set, is kept as the upstream
// emitter; sessions emit through the registry itself.
func NewRegistry(deps Deps, log zerolog.Logger) *Registry {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Registry{
		clock:    clk,
		log:      log,
		upstream: deps.Typing,
		sessions: make(map[string]*Session),
	}
	deps.Clock = clk
	deps.Typing = r
	r.deps = deps
	return r
}

// GetOrCreate returns the session of userID, creating it on first use.
func (r *Registry) GetOrCreate(userID string) *Session {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		return s
	}
	s = NewSession(userID, r.deps, logging.WithUser("inbox", userID))
	r.sessions[userID] = s
	observability.SetActiveSessions(len(r.sessions))
	r.log.Info().Str("user_id", userID).Msg("inbox session created")
	return s
}

func (r *Registry) Get(userID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove shuts the session of userID down and forgets it.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	s, ok := r.sessions[userID]
	delete(r.sessions, userID)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	s.Shutdown()
	observability.SetActiveSessions(n)
	r.log.Info().Str("user_id", userID).Msg("inbox session removed")
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ActiveIn returns the sessions, other than exclude's, whose active conversation is ref.
func (r *Registry) ActiveIn(ref models.ConversationRef, exclude string) []*Session {
	r.mu.RLock()
	candidates := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		if id != exclude {
			candidates = append(candidates, s)
		}
	}
	r.mu.RUnlock()

	var out []*Session
	for _, s := range candidates {
		if s.Selection() == ref {
			out = append(out, s)
		}
	}
	return out
}

// SetTyping delivers one user's typing state to every local session viewing ref and
// forwards it upstream.
func (r *Registry) SetTyping(ctx context.Context, userID string, ref models.ConversationRef, isTyping bool) error {
	sig := models.RemoteTypingSignal{
		Ref:        ref,
		UserID:     userID,
		IsTyping:   isTyping,
		ReceivedAt: r.clock.Now(),
	}
	for _, s := range r.ActiveIn(ref, userID) {
		s.RemoteTyping(sig)
	}
	if r.upstream == nil {
		return nil
	}
	return r.upstream.SetTyping(ctx, userID, ref, isTyping)
}
