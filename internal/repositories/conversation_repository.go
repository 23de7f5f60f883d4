package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"inbox-service/internal/adapters"
	"inbox-service/internal/models"
)

// ConversationRepo lists one channel family's conversations with per-user unread
// counts. Unread messages are the ones from other senders created after the member's
// last_read_at.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

type conversationRow struct {
	ID string `db:"id"`
	models.Conversation
}

const listConversationsQuery = `SELECT c.id, c.title, COALESCE(c.status, '') AS status,
        COALESCE(cm.counterpart_id, '') AS counterpart_id,
        (SELECT MAX(m.created_at) FROM messages m WHERE m.kind = c.kind AND m.conversation_id = c.id) AS last_message_at,
        (SELECT COUNT(*) FROM messages m
            WHERE m.kind = c.kind AND m.conversation_id = c.id
            AND m.sender_id <> cm.user_id
            AND (cm.last_read_at IS NULL OR m.created_at > cm.last_read_at)) AS unread_count
    FROM conversations c
    JOIN conversation_members cm ON cm.kind = c.kind AND cm.conversation_id = c.id
    WHERE cm.user_id = $1 AND c.kind = $2
    ORDER BY last_message_at DESC NULLS LAST, c.id ASC`

// ListConversations returns the user's conversations of kind, most recent first.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string, kind models.ConversationKind) (models.ConversationList, error) {
	if !kind.Valid() {
		return models.ConversationList{}, fmt.Errorf("list conversations: %w", models.ErrInvalidConversationRef)
	}
	var rows []conversationRow
	if err := r.db.SelectContext(ctx, &rows, listConversationsQuery, userID, string(kind)); err != nil {
		return models.ConversationList{}, fmt.Errorf("list %s conversations: %w", kind, err)
	}

	list := models.ConversationList{Items: make([]models.Conversation, 0, len(rows))}
	for _, row := range rows {
		conv := row.Conversation
		conv.Ref = models.ConversationRef{Kind: kind, ID: row.ID}
		list.Items = append(list.Items, conv)
		list.UnreadCount += conv.UnreadCount
	}
	return list, nil
}

var _ adapters.ConversationSource = (*ConversationRepo)(nil)
