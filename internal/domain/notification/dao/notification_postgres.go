package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
)

const notificationColumns = `id, user_id, type, title, message, related_user_id, related_post_id, action_url, event_key, is_read, created_at, read_at`

// NotificationPostgres implements notification repository for PostgreSQL
type NotificationPostgres struct {
	pool *pgxpool.Pool
}

// NewNotificationPostgres creates a new PostgreSQL notification repository
func NewNotificationPostgres(pool *pgxpool.Pool) *NotificationPostgres {
	return &NotificationPostgres{pool: pool}
}

// Insert stores n unless a notification for the same event key exists.
// It reports whether a row was written.
func (r *NotificationPostgres) Insert(ctx context.Context, n *entity.Notification) (bool, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, related_user_id, related_post_id, action_url, event_key, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, false, clock_timestamp())
		ON CONFLICT (event_key) DO NOTHING
		RETURNING created_at
	`,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.RelatedUserID,
		n.RelatedPostID,
		n.ActionURL,
		n.EventKey,
	).Scan(&n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Unavailable("inserting notification", err)
	}
	n.CreatedAt = n.CreatedAt.UTC()
	return true, nil
}

// GetByID retrieves a notification by ID
func (r *NotificationPostgres) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	return r.getOne(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
}

// GetByEventKey retrieves the notification created for an event
func (r *NotificationPostgres) GetByEventKey(ctx context.Context, key string) (*entity.Notification, error) {
	return r.getOne(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE event_key = $1`, key)
}

func (r *NotificationPostgres) getOne(ctx context.Context, query string, arg string) (*entity.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("getting notification", err)
	}
	return n, nil
}

// ListForUser retrieves the user's notifications, newest first
func (r *NotificationPostgres) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]entity.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE user_id = $1 AND ($2::boolean = false OR NOT is_read)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, apperr.Unavailable("querying notifications", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// CountUnread counts the user's unread notifications. asOf is read after the
// statement snapshot, so every read the count reflects has read_at <= asOf.
func (r *NotificationPostgres) CountUnread(ctx context.Context, userID string) (int, time.Time, error) {
	var (
		count int
		asOf  time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), clock_timestamp()
		FROM notifications
		WHERE user_id = $1 AND NOT is_read
	`, userID).Scan(&count, &asOf)
	if err != nil {
		return 0, time.Time{}, apperr.Unavailable("counting notifications", err)
	}
	return count, asOf.UTC(), nil
}

// MarkRead flips one unread notification owned by userID. It returns nil
// when nothing changed.
func (r *NotificationPostgres) MarkRead(ctx context.Context, id, userID string) (*entity.Notification, error) {
	n, err := scanNotification(r.pool.QueryRow(ctx, `
		UPDATE notifications SET is_read = true, read_at = clock_timestamp()
		WHERE id = $1 AND user_id = $2 AND NOT is_read
		RETURNING `+notificationColumns,
		id, userID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Unavailable("marking notification read", err)
	}
	return n, nil
}

// MarkAllRead flips every unread notification of the user and returns the changed rows
func (r *NotificationPostgres) MarkAllRead(ctx context.Context, userID string) ([]entity.Notification, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE notifications SET is_read = true, read_at = clock_timestamp()
		WHERE user_id = $1 AND NOT is_read
		RETURNING `+notificationColumns,
		userID,
	)
	if err != nil {
		return nil, apperr.Unavailable("marking notifications read", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// Delete removes a notification owned by userID
func (r *NotificationPostgres) Delete(ctx context.Context, id, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, apperr.Unavailable("deleting notification", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanNotification(row pgx.Row) (*entity.Notification, error) {
	var n entity.Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.RelatedUserID,
		&n.RelatedPostID,
		&n.ActionURL,
		&n.EventKey,
		&n.IsRead,
		&n.CreatedAt,
		&n.ReadAt,
	)
	if err != nil {
		return nil, err
	}
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}

func scanNotifications(rows pgx.Rows) ([]entity.Notification, error) {
	var out []entity.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Unavailable("iterating notifications", err)
	}
	return out, nil
}
