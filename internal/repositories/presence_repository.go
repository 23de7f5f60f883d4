package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"inbox-service/internal/adapters"
	"inbox-service/internal/models"
)

var ErrPresenceNotFound = errors.New("presence not found")

// PresenceRepo stores when each user was last seen.
type PresenceRepo struct {
	db *sqlx.DB
}

func NewPresenceRepo(db *sqlx.DB) *PresenceRepo {
	return &PresenceRepo{db: db}
}

// GetPresence returns the user's last-seen record.
func (r *PresenceRepo) GetPresence(ctx context.Context, userID string) (models.PresenceRecord, error) {
	var rec models.PresenceRecord
	err := r.db.GetContext(ctx, &rec, `SELECT user_id, last_seen_at FROM presence WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PresenceRecord{}, ErrPresenceNotFound
	}
	if err != nil {
		return models.PresenceRecord{}, fmt.Errorf("get presence: %w", err)
	}
	return rec, nil
}

// Touch records activity for userID now.
func (r *PresenceRepo) Touch(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO presence (user_id, last_seen_at) VALUES ($1, NOW())
        ON CONFLICT (user_id) DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at`, userID)
	if err != nil {
		return fmt.Errorf("touch presence: %w", err)
	}
	return nil
}

var _ adapters.PresenceSource = (*PresenceRepo)(nil)
