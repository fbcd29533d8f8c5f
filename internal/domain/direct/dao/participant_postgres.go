package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
)

// ParticipantPostgres implements participant repository for PostgreSQL
type ParticipantPostgres struct {
	pool *pgxpool.Pool
}

// NewParticipantPostgres creates a new PostgreSQL participant repository
func NewParticipantPostgres(pool *pgxpool.Pool) *ParticipantPostgres {
	return &ParticipantPostgres{pool: pool}
}

// ListByConversation returns the participants of a conversation
func (r *ParticipantPostgres) ListByConversation(ctx context.Context, conversationID string) ([]entity.Participant, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT conversation_id, user_id, last_read_at, is_muted, is_archived
		FROM participants
		WHERE conversation_id = $1
		ORDER BY user_id
	`, conversationID)
	if err != nil {
		return nil, storeError("querying participants", err)
	}
	defer rows.Close()

	var participants []entity.Participant
	for rows.Next() {
		var p entity.Participant
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.LastReadAt, &p.IsMuted, &p.IsArchived); err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterating participants", err)
	}

	return participants, nil
}

// MarkOpened advances the participant's last_read_at; it never moves backwards
func (r *ParticipantPostgres) MarkOpened(ctx context.Context, conversationID, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE participants
		SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, at)
	if err != nil {
		return storeError("updating last_read_at", err)
	}
	return nil
}
