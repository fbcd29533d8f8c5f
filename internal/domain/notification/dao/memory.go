package dao

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
)

// NotificationMemory implements notification repository in memory
type NotificationMemory struct {
	mu    sync.RWMutex
	byID  map[string]*entity.Notification
	byKey map[string]string
	last  time.Time
}

// NewNotificationMemory creates an empty in-memory notification repository
func NewNotificationMemory() *NotificationMemory {
	return &NotificationMemory{
		byID:  make(map[string]*entity.Notification),
		byKey: make(map[string]string),
	}
}

func (r *NotificationMemory) tick() time.Time {
	t := time.Now().UTC().Truncate(time.Microsecond)
	if !t.After(r.last) {
		t = r.last.Add(time.Microsecond)
	}
	r.last = t
	return t
}

func (r *NotificationMemory) Insert(ctx context.Context, n *entity.Notification) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperr.Unavailable("inserting notification", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[n.EventKey]; exists {
		return false, nil
	}
	n.CreatedAt = r.tick()
	n.IsRead = false
	n.ReadAt = nil

	stored := *n
	r.byID[n.ID] = &stored
	r.byKey[n.EventKey] = n.ID
	return true, nil
}

func (r *NotificationMemory) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable("getting notification", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	out := *n
	return &out, nil
}

func (r *NotificationMemory) GetByEventKey(ctx context.Context, key string) (*entity.Notification, error) {
	r.mu.RLock()
	id, ok := r.byKey[key]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *NotificationMemory) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]entity.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable("querying notifications", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []entity.Notification
	for _, n := range r.byID {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *NotificationMemory) CountUnread(ctx context.Context, userID string) (int, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, apperr.Unavailable("counting notifications", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, n := range r.byID {
		if n.UserID == userID && !n.IsRead {
			count++
		}
	}
	return count, r.tick(), nil
}

func (r *NotificationMemory) MarkRead(ctx context.Context, id, userID string) (*entity.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable("marking notification read", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[id]
	if !ok || n.UserID != userID || n.IsRead {
		return nil, nil
	}
	n.IsRead = true
	readAt := r.tick()
	n.ReadAt = &readAt
	out := *n
	return &out, nil
}

func (r *NotificationMemory) MarkAllRead(ctx context.Context, userID string) ([]entity.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Unavailable("marking notifications read", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var flipped []entity.Notification
	at := r.tick()
	for _, n := range r.byID {
		if n.UserID != userID || n.IsRead {
			continue
		}
		n.IsRead = true
		readAt := at
		n.ReadAt = &readAt
		flipped = append(flipped, *n)
	}
	return flipped, nil
}

func (r *NotificationMemory) Delete(ctx context.Context, id, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, apperr.Unavailable("deleting notification", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.byID[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	delete(r.byID, id)
	delete(r.byKey, n.EventKey)
	return true, nil
}
