package models

import "time"

// PresenceRecord is owned by the presence source and only read by the inbox.
type PresenceRecord struct {
	UserID     string    `db:"user_id" json:"user_id"`
	LastSeenAt time.Time `db:"last_seen_at" json:"last_seen_at"`
}

// PresenceStatus is a coarse bucket derived from how long ago a user was seen.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceOffline PresenceStatus = "offline"
)
