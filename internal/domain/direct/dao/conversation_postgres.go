package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
)

// pairConstraint is the store-level uniqueness constraint on the participant pair
const pairConstraint = "conversations_pair_key"

// ConversationPostgres implements conversation repository for PostgreSQL
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

// FindByPair returns the conversation whose participant set is exactly {userA, userB}
func (r *ConversationPostgres) FindByPair(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at
		FROM conversations c
		JOIN participants pa ON pa.conversation_id = c.id AND pa.user_id = $1
		JOIN participants pb ON pb.conversation_id = c.id AND pb.user_id = $2
		WHERE (SELECT COUNT(*) FROM participants p WHERE p.conversation_id = c.id) = 2
		ORDER BY c.created_at
		LIMIT 1
	`

	var conv entity.Conversation
	err := r.pool.QueryRow(ctx, query, userA, userB).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("finding conversation by pair", err)
	}

	return &conv, nil
}

// CreateWithParticipants inserts the conversation and both participant rows in
// one transaction. A concurrent creator of the same pair makes it return
// entity.ErrPairConflict and nothing is written.
func (r *ConversationPostgres) CreateWithParticipants(ctx context.Context, conv *entity.Conversation, userA, userB string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeError("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	low, high := entity.PairKey(userA, userB)
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations (id, user_low, user_high, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING created_at, updated_at
	`, conv.ID, low, high).Scan(&conv.CreatedAt, &conv.UpdatedAt)
	if isUniqueViolation(err, pairConstraint) {
		return entity.ErrPairConflict
	}
	if err != nil {
		return storeError("inserting conversation", err)
	}

	batch := &pgx.Batch{}
	for _, userID := range []string{userA, userB} {
		batch.Queue(`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2)`, conv.ID, userID)
	}
	results := tx.SendBatch(ctx, batch)
	for range 2 {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return storeError("inserting participants", err)
		}
	}
	if err := results.Close(); err != nil {
		return storeError("inserting participants", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isUniqueViolation(err, pairConstraint) {
			return entity.ErrPairConflict
		}
		return storeError("committing conversation", err)
	}

	return nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationPostgres) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	var conv entity.Conversation
	err := r.pool.QueryRow(ctx,
		`SELECT id, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("getting conversation", err)
	}
	return &conv, nil
}

// ListForUser retrieves the user's conversations, most recently active first,
// projected for that user
func (r *ConversationPostgres) ListForUser(ctx context.Context, userID string, limit, offset int) ([]entity.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at,
		       other.user_id, me.last_read_at, me.is_muted, me.is_archived,
		       COALESCE(lm.content, ''), COALESCE(lm.media_type, ''), lm.created_at, COALESCE(lm.sender_id = $1, false),
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.receiver_id = $1 AND NOT m.read AND NOT m.is_deleted)
		FROM participants me
		JOIN conversations c ON c.id = me.conversation_id
		JOIN participants other ON other.conversation_id = c.id AND other.user_id <> me.user_id
		LEFT JOIN LATERAL (
			SELECT content, media_type, sender_id, created_at
			FROM messages m
			WHERE m.conversation_id = c.id AND NOT m.is_deleted
			ORDER BY m.created_at DESC, m.id DESC
			LIMIT 1
		) lm ON true
		WHERE me.user_id = $1
		ORDER BY c.updated_at DESC, c.id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, storeError("querying conversations", err)
	}
	defer rows.Close()

	var conversations []entity.Conversation
	for rows.Next() {
		var conv entity.Conversation
		var lastContent, lastMediaType string
		var lastAt *time.Time

		err := rows.Scan(
			&conv.ID,
			&conv.CreatedAt,
			&conv.UpdatedAt,
			&conv.ParticipantID,
			&conv.LastReadAt,
			&conv.IsMuted,
			&conv.IsArchived,
			&lastContent,
			&lastMediaType,
			&lastAt,
			&conv.LastMessageIsFromMe,
			&conv.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		if lastAt != nil {
			conv.LastMessageAt = lastAt
			conv.LastMessageText = entity.Message{Content: lastContent, MediaType: lastMediaType}.Preview()
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterating conversations", err)
	}

	return conversations, nil
}
