// Package presence maps a counterpart's last-seen time to a coarse status.
package presence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"inbox-service/internal/adapters"
	"inbox-service/internal/clock"
	"inbox-service/internal/models"
	"inbox-service/internal/observability"
)

const lookupTimeout = 3 * time.Second

// Thresholds are the upper bounds (exclusive) of the online and away buckets.
type Thresholds struct {
	Online time.Duration
	Away   time.Duration
}

// DefaultThresholds: online under 2 minutes, away under 15 minutes.
func DefaultThresholds() Thresholds {
	return Thresholds{Online: 2 * time.Minute, Away: 15 * time.Minute}
}

func (t Thresholds) normalized() Thresholds {
	def := DefaultThresholds()
	if t.Online <= 0 {
		t.Online = def.Online
	}
	if t.Away <= 0 {
		t.Away = def.Away
	}
	if t.Away < t.Online {
		t.Away = t.Online
	}
	return t
}

// Classify buckets now-lastSeenAt. Buckets are half-open, [0, Online) is online and
// [Online, Away) is away, so a delta equal to a threshold always lands in the later
// bucket. A zero lastSeenAt means never seen; a lastSeenAt in the future counts as online.
func Classify(lastSeenAt, now time.Time, t Thresholds) models.PresenceStatus {
	if lastSeenAt.IsZero() {
		return models.PresenceOffline
	}
	t = t.normalized()
	delta := now.Sub(lastSeenAt)
	switch {
	case delta < t.Online:
		return models.PresenceOnline
	case delta < t.Away:
		return models.PresenceAway
	default:
		return models.PresenceOffline
	}
}

// Resolver looks presence up on every call; results are never cached because the
// bucket depends on the current time.
type Resolver struct {
	source     adapters.PresenceSource
	clock      clock.Clock
	thresholds Thresholds
	log        zerolog.Logger
}

func NewResolver(source adapters.PresenceSource, clk clock.Clock, thresholds Thresholds, log zerolog.Logger) *Resolver {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Resolver{source: source, clock: clk, thresholds: thresholds.normalized(), log: log}
}

// Status returns the record and its bucket. Lookup failures fall back to offline.
func (r *Resolver) Status(ctx context.Context, userID string) (models.PresenceRecord, models.PresenceStatus) {
	rec := models.PresenceRecord{UserID: userID}
	if r.source == nil {
		return rec, models.PresenceOffline
	}
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	got, err := r.source.GetPresence(ctx, userID)
	if err != nil {
		observability.IncPresenceFallback()
		r.log.Debug().Err(err).Str("peer_id", userID).Msg("presence lookup failed")
		return rec, models.PresenceOffline
	}
	got.UserID = userID
	return got, Classify(got.LastSeenAt, r.clock.Now(), r.thresholds)
}
