package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"inbox-service/internal/adapters"
	"inbox-service/internal/models"
)

// MessageRepo is the sqlx-backed message store for every channel family.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id::text AS id, sender_id, content, created_at, delivered_at, read_at`

// ListMessages returns a conversation's messages, oldest first.
func (r *MessageRepo) ListMessages(ctx context.Context, ref models.ConversationRef) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM messages
        WHERE kind = $1 AND conversation_id = $2
        ORDER BY created_at ASC, id ASC`
	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, query, string(ref.Kind), ref.ID); err != nil {
		return nil, fmt.Errorf("list messages %s: %w", ref, err)
	}
	for i := range msgs {
		msgs[i].Ref = ref
	}
	return msgs, nil
}

// SendMessage stores a message and returns the confirmed row.
func (r *MessageRepo) SendMessage(ctx context.Context, ref models.ConversationRef, senderID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (kind, conversation_id, sender_id, content)
        VALUES ($1, $2, $3, $4) RETURNING `+messageColumns, string(ref.Kind), ref.ID, senderID, content).
		StructScan(&msg)
	if err != nil {
		return models.Message{}, fmt.Errorf("send message %s: %w", ref, err)
	}
	msg.Ref = ref
	return msg, nil
}

// MarkAllRead moves the member's read marker to now and stamps other senders'
// messages as delivered and read. Running it twice changes nothing further.
func (r *MessageRepo) MarkAllRead(ctx context.Context, userID string, ref models.ConversationRef) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE conversation_members SET last_read_at = NOW()
        WHERE kind = $1 AND conversation_id = $2 AND user_id = $3`, string(ref.Kind), ref.ID, userID); err != nil {
		return fmt.Errorf("mark read %s: %w", ref, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE messages
        SET delivered_at = COALESCE(delivered_at, NOW()), read_at = NOW()
        WHERE kind = $1 AND conversation_id = $2 AND sender_id <> $3 AND read_at IS NULL`,
		string(ref.Kind), ref.ID, userID); err != nil {
		return fmt.Errorf("mark read %s: %w", ref, err)
	}
	return tx.Commit()
}

// MarkDelivered stamps every undelivered message addressed to userID as delivered.
func (r *MessageRepo) MarkDelivered(ctx context.Context, userID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages m SET delivered_at = NOW()
        FROM conversation_members cm
        WHERE cm.kind = m.kind AND cm.conversation_id = m.conversation_id
        AND cm.user_id = $1 AND m.sender_id <> $1 AND m.delivered_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}
	return res.RowsAffected()
}

var (
	_ adapters.MessageSource = (*MessageRepo)(nil)
	_ adapters.Sender        = (*MessageRepo)(nil)
	_ adapters.ReadMarker    = (*MessageRepo)(nil)
)
