// Package typing runs the two typing pipelines of an inbox session: the debounced
// outbound "I am typing" signal and the decaying inbound "they are typing" display.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"inbox-service/internal/adapters"
	"inbox-service/internal/clock"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

const (
	DefaultInactivityWindow = 3 * time.Second
	DefaultDecayWindow      = 6 * time.Second

	emitTimeout = 5 * time.Second
)

// Config sets the two timer windows. The decay window should exceed the inactivity
// window so network jitter does not make a remote indicator flicker.
type Config struct {
	InactivityWindow time.Duration
	DecayWindow      time.Duration
}

func (c Config) withDefaults() Config {
	if c.InactivityWindow <= 0 {
		c.InactivityWindow = DefaultInactivityWindow
	}
	if c.DecayWindow <= 0 {
		c.DecayWindow = DefaultDecayWindow
	}
	return c
}

// DisplayFunc receives the users currently typing in ref whenever that set changes.
type DisplayFunc func(ref models.ConversationRef, users []string)

type remoteEntry struct {
	receivedAt time.Time
	timer      clock.Timer
	token      uint64
}

// Coordinator is scoped to the session's active conversation. It never changes the
// selection; it follows it through OnSelectionChange.
type Coordinator struct {
	userID  string
	emitter adapters.TypingEmitter
	clock   clock.Clock
	cfg     Config
	log     zerolog.Logger

	mu        sync.Mutex
	display   DisplayFunc
	scope     models.ConversationRef
	signaling bool
	idle      clock.Timer
	idleToken uint64
	nextToken uint64
	remote    map[string]*remoteEntry
	queue     []models.TypingIntent

	// emitMu serializes delivery of queued intents. Decisions are queued under mu
	// and delivered in queue order without holding mu.
	emitMu sync.Mutex
}

// New builds a Coordinator with no active scope.
func New(userID string, emitter adapters.TypingEmitter, clk clock.Clock, cfg Config, log zerolog.Logger) *Coordinator {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Coordinator{
		userID:  userID,
		emitter: emitter,
		clock:   clk,
		cfg:     cfg.withDefaults(),
		log:     log,
		remote:  make(map[string]*remoteEntry),
	}
}

// OnDisplay sets the callback for inbound typing changes.
func (c *Coordinator) OnDisplay(fn DisplayFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.display = fn
}

// Scope returns the conversation the coordinator currently follows.
func (c *Coordinator) Scope() models.ConversationRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// Signaling reports whether an outbound typing=true is currently in effect.
func (c *Coordinator) Signaling() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signaling
}

// Input records local input activity in the active conversation.
func (c *Coordinator) Input() {
	c.mu.Lock()
	if c.scope.IsNone() {
		c.mu.Unlock()
		return
	}
	if !c.signaling {
		c.signaling = true
		c.enqueue(c.scope, true)
	}
	c.startIdleLocked()
	c.mu.Unlock()
	c.flush()
}

// Sent ends the outbound signal immediately because a message was sent.
func (c *Coordinator) Sent() {
	c.mu.Lock()
	if c.scope.IsNone() {
		c.mu.Unlock()
		return
	}
	c.stopIdleLocked()
	c.signaling = false
	c.enqueue(c.scope, false)
	c.mu.Unlock()
	c.flush()
}

// OnSelectionChange leaves prev and starts following next. Leaving always emits
// typing=false for prev and cancels every timer scoped to it.
func (c *Coordinator) OnSelectionChange(prev, next models.ConversationRef) {
	c.mu.Lock()
	hadRemote := c.leaveLocked(prev)
	c.scope = next
	display := c.display
	c.mu.Unlock()

	c.flush()
	if hadRemote && display != nil {
		display(prev, nil)
	}
}

// Stop leaves the current conversation and cancels all pending timers.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	ref := c.scope
	hadRemote := c.leaveLocked(ref)
	c.scope = models.ConversationRef{}
	display := c.display
	c.mu.Unlock()

	c.flush()
	if hadRemote && display != nil {
		display(ref, nil)
	}
}

// Remote applies an inbound typing event. Events for other conversations and the
// session's own echoes are ignored.
func (c *Coordinator) Remote(sig models.RemoteTypingSignal) {
	c.mu.Lock()
	if sig.Ref.IsNone() || sig.Ref != c.scope || sig.UserID == "" || sig.UserID == c.userID {
		c.mu.Unlock()
		return
	}
	now := c.clock.Now()
	at := sig.ReceivedAt
	if at.IsZero() {
		at = now
	}

	existing := c.remote[sig.UserID]
	if existing != nil && at.Before(existing.receivedAt) {
		c.mu.Unlock()
		return
	}

	changed := false
	remaining := at.Add(c.cfg.DecayWindow).Sub(now)
	if !sig.IsTyping || remaining <= 0 {
		if existing != nil {
			c.dropRemoteLocked(sig.UserID)
			changed = true
		}
	} else {
		if existing != nil && existing.timer != nil {
			existing.timer.Stop()
		}
		c.nextToken++
		token, ref, user := c.nextToken, c.scope, sig.UserID
		entry := &remoteEntry{receivedAt: at, token: token}
		entry.timer = c.clock.AfterFunc(remaining, func() { c.decayExpired(ref, user, token) })
		c.remote[user] = entry
		changed = existing == nil
	}

	ref := c.scope
	users := c.activeUsersLocked(now)
	display := c.display
	c.mu.Unlock()

	if changed && display != nil {
		display(ref, users)
	}
}

// TypingUsers returns the users whose last typing signal is younger than the decay
// window at now, sorted.
func (c *Coordinator) TypingUsers(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeUsersLocked(now)
}

// Typing reports whether anyone is typing in the active conversation at now.
func (c *Coordinator) Typing(now time.Time) bool {
	return len(c.TypingUsers(now)) > 0
}

func (c *Coordinator) activeUsersLocked(now time.Time) []string {
	var users []string
	for user, e := range c.remote {
		if now.Before(e.receivedAt.Add(c.cfg.DecayWindow)) {
			users = append(users, user)
		}
	}
	sort.Strings(users)
	return users
}

func (c *Coordinator) decayExpired(ref models.ConversationRef, user string, token uint64) {
	c.mu.Lock()
	e := c.remote[user]
	if ref != c.scope || e == nil || e.token != token {
		c.mu.Unlock()
		return
	}
	delete(c.remote, user)
	users := c.activeUsersLocked(c.clock.Now())
	display := c.display
	c.mu.Unlock()

	if display != nil {
		display(ref, users)
	}
}

func (c *Coordinator) idleExpired(ref models.ConversationRef, token uint64) {
	c.mu.Lock()
	if token != c.idleToken || ref != c.scope || !c.signaling {
		c.mu.Unlock()
		return
	}
	c.idle = nil
	c.idleToken = 0
	c.signaling = false
	c.enqueue(ref, false)
	c.mu.Unlock()
	c.flush()
}

func (c *Coordinator) startIdleLocked() {
	c.stopIdleLocked()
	c.nextToken++
	token, ref := c.nextToken, c.scope
	c.idleToken = token
	c.idle = c.clock.AfterFunc(c.cfg.InactivityWindow, func() { c.idleExpired(ref, token) })
}

func (c *Coordinator) stopIdleLocked() {
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.idleToken = 0
}

func (c *Coordinator) dropRemoteLocked(user string) {
	if e := c.remote[user]; e != nil {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(c.remote, user)
	}
}

// leaveLocked tears down every piece of state scoped to ref and reports whether any
// remote typers were being shown.
func (c *Coordinator) leaveLocked(ref models.ConversationRef) bool {
	c.stopIdleLocked()
	hadRemote := len(c.remote) > 0
	for user := range c.remote {
		c.dropRemoteLocked(user)
	}
	if !ref.IsNone() {
		c.enqueue(ref, false)
	}
	c.signaling = false
	return hadRemote
}

func (c *Coordinator) enqueue(ref models.ConversationRef, isTyping bool) {
	c.queue = append(c.queue, models.TypingIntent{Ref: ref, IsTyping: isTyping})
}

func (c *Coordinator) flush() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		intent := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.emit(intent)
	}
}

// emit is best effort: a failure is counted and logged at debug level, never returned.
func (c *Coordinator) emit(intent models.TypingIntent) {
	if c.emitter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	err := c.emitter.SetTyping(ctx, c.userID, intent.Ref, intent.IsTyping)
	observability.IncTypingEmit(intent.IsTyping, err)
	if err != nil {
		c.log.Debug().Err(err).Str("ref", intent.Ref.String()).Bool("typing", intent.IsTyping).Msg("typing emit failed")
	}
}
