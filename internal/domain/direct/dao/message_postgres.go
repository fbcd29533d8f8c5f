package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
)

const messageColumns = `id, conversation_id, sender_id, receiver_id, content, media_url, media_type, read, is_deleted, created_at, updated_at`

// MessagePostgres implements message repository for PostgreSQL
type MessagePostgres struct {
	pool *pgxpool.Pool
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(pool *pgxpool.Pool) *MessagePostgres {
	return &MessagePostgres{pool: pool}
}

// Append inserts a message and bumps the parent conversation's updated_at in
// one transaction. The store assigns created_at.
func (r *MessagePostgres) Append(ctx context.Context, msg *entity.Message) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeError("beginning transaction", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, receiver_id, content, media_url, media_type, read, is_deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, false, clock_timestamp(), clock_timestamp())
		RETURNING created_at, updated_at
	`,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.ReceiverID,
		msg.Content,
		msg.MediaURL,
		msg.MediaType,
	).Scan(&msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return storeError("inserting message", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1`,
		msg.ConversationID, msg.CreatedAt,
	)
	if err != nil {
		return storeError("touching conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrConversationNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return storeError("committing message", err)
	}

	msg.Read = false
	msg.IsDeleted = false
	return nil
}

// GetByID retrieves a message by ID, including soft-deleted ones
func (r *MessagePostgres) GetByID(ctx context.Context, id string) (*entity.Message, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("getting message", err)
	}
	return msg, nil
}

// ListByConversation retrieves non-deleted messages in ascending thread order.
// A zero limit returns every message.
func (r *MessagePostgres) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC, id ASC
		OFFSET $2
	`
	args := []any{conversationID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storeError("querying messages", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// SoftDelete flags a message as deleted and returns the changed row, or nil
// when it was already deleted or does not exist
func (r *MessagePostgres) SoftDelete(ctx context.Context, id string) (*entity.Message, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE messages SET is_deleted = true, updated_at = clock_timestamp()
		WHERE id = $1 AND NOT is_deleted
		RETURNING `+messageColumns,
		id,
	)

	msg, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("deleting message", err)
	}
	return msg, nil
}

// MarkRead flips unread, non-deleted messages addressed to userID and returns
// exactly the rows that changed
func (r *MessagePostgres) MarkRead(ctx context.Context, userID string, sel entity.ReadSelector) ([]entity.Message, error) {
	var (
		rows pgx.Rows
		err  error
	)
	switch {
	case len(sel.MessageIDs) > 0 && sel.ConversationID != "":
		rows, err = r.pool.Query(ctx, `
			UPDATE messages SET read = true, updated_at = clock_timestamp()
			WHERE receiver_id = $1 AND NOT read AND NOT is_deleted AND id = ANY($2) AND conversation_id = $3
			RETURNING `+messageColumns,
			userID, sel.MessageIDs, sel.ConversationID,
		)
	case len(sel.MessageIDs) > 0:
		rows, err = r.pool.Query(ctx, `
			UPDATE messages SET read = true, updated_at = clock_timestamp()
			WHERE receiver_id = $1 AND NOT read AND NOT is_deleted AND id = ANY($2)
			RETURNING `+messageColumns,
			userID, sel.MessageIDs,
		)
	default:
		rows, err = r.pool.Query(ctx, `
			UPDATE messages SET read = true, updated_at = clock_timestamp()
			WHERE receiver_id = $1 AND NOT read AND NOT is_deleted AND conversation_id = $2
			RETURNING `+messageColumns,
			userID, sel.ConversationID,
		)
	}
	if err != nil {
		return nil, storeError("marking messages read", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// CountUnread computes the user's unread counts from first principles. The
// count and AsOf come from one repeatable-read snapshot; AsOf is read after the
// snapshot is taken, so every transition it contains has updated_at <= AsOf.
func (r *MessagePostgres) CountUnread(ctx context.Context, userID string) (*entity.UnreadSnapshot, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, storeError("beginning snapshot", err)
	}
	defer tx.Rollback(ctx)

	snap := &entity.UnreadSnapshot{UserID: userID, PerConversation: map[string]int{}}
	if err := tx.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&snap.AsOf); err != nil {
		return nil, storeError("reading snapshot time", err)
	}

	rows, err := tx.Query(ctx, `
		SELECT p.conversation_id, COUNT(m.id)
		FROM participants p
		LEFT JOIN messages m
		       ON m.conversation_id = p.conversation_id
		      AND m.receiver_id = p.user_id
		      AND NOT m.read
		      AND NOT m.is_deleted
		WHERE p.user_id = $1
		GROUP BY p.conversation_id
	`, userID)
	if err != nil {
		return nil, storeError("counting unread messages", err)
	}
	defer rows.Close()

	for rows.Next() {
		var conversationID string
		var count int
		if err := rows.Scan(&conversationID, &count); err != nil {
			return nil, fmt.Errorf("scanning unread row: %w", err)
		}
		snap.PerConversation[conversationID] = count
		snap.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterating unread rows", err)
	}

	return snap, nil
}

func scanMessage(row pgx.Row) (*entity.Message, error) {
	var msg entity.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.ReceiverID,
		&msg.Content,
		&msg.MediaURL,
		&msg.MediaType,
		&msg.Read,
		&msg.IsDeleted,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	msg.UpdatedAt = msg.UpdatedAt.UTC()
	return &msg, nil
}

func scanMessages(rows pgx.Rows) ([]entity.Message, error) {
	var messages []entity.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterating messages", err)
	}
	return messages, nil
}
