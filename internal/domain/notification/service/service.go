package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/realtime/event"
)

// Repository defines the interface for notification storage
type Repository interface {
	Insert(ctx context.Context, n *entity.Notification) (bool, error)
	GetByID(ctx context.Context, id string) (*entity.Notification, error)
	GetByEventKey(ctx context.Context, key string) (*entity.Notification, error)
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]entity.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, time.Time, error)
	MarkRead(ctx context.Context, id, userID string) (*entity.Notification, error)
	MarkAllRead(ctx context.Context, userID string) ([]entity.Notification, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

// ChangeFeed publishes row changes to push topics
type ChangeFeed interface {
	Publish(ctx context.Context, topic string, ev event.Event) error
}

const defaultPageSize = 50

// Service handles notification business logic
type Service struct {
	repo   Repository
	feed   ChangeFeed
	logger *slog.Logger
	newID  func() string
}

// New creates a new notification service
func New(repo Repository, feed ChangeFeed, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		feed:   feed,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// EmitInput represents a notification to fan out
type EmitInput struct {
	RecipientID   string
	ActorID       string
	Type          entity.Type
	Title         string
	Message       string
	RelatedUserID string
	RelatedPostID string
	ActionURL     string
	EventKey      string
}

// Emit stores a notification for the recipient and pushes it to their inbox.
// Self-notifications are skipped and return nil. Re-emitting an event key
// returns the stored notification without pushing it again.
func (s *Service) Emit(ctx context.Context, in EmitInput) (*entity.Notification, error) {
	switch {
	case in.RecipientID == "":
		return nil, entity.ErrMissingRecipient
	case in.ActorID == "":
		return nil, entity.ErrMissingActor
	case in.EventKey == "":
		return nil, entity.ErrMissingEventKey
	case !in.Type.Valid():
		return nil, entity.ErrInvalidType
	}
	if in.ActorID == in.RecipientID {
		return nil, nil
	}

	n := &entity.Notification{
		ID:            s.newID(),
		UserID:        in.RecipientID,
		Type:          in.Type,
		Title:         in.Title,
		Message:       in.Message,
		RelatedUserID: in.RelatedUserID,
		RelatedPostID: in.RelatedPostID,
		ActionURL:     in.ActionURL,
		EventKey:      in.EventKey,
	}

	inserted, err := s.repo.Insert(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}
	if !inserted {
		s.logger.Debug("duplicate notification event", "event_key", in.EventKey)
		existing, err := s.repo.GetByEventKey(ctx, in.EventKey)
		if err != nil {
			return nil, fmt.Errorf("getting notification by event: %w", err)
		}
		return existing, nil
	}

	s.publish(ctx, event.NotificationInserted{Notification: *n}, n.UserID)
	return n, nil
}

func (s *Service) publish(ctx context.Context, ev event.Event, userID string) {
	if s.feed == nil {
		return
	}
	topic := event.InboxTopic(userID)
	if err := s.feed.Publish(context.WithoutCancel(ctx), topic, ev); err != nil {
		s.logger.Warn("publishing change event",
			"topic", topic,
			"event", ev.Type(),
			"error", err,
		)
	}
}

// FetchInput represents input for fetching notifications
type FetchInput struct {
	UserID     string
	UnreadOnly bool
	Limit      int
	Offset     int
}

// FetchOutput represents output from fetching notifications
type FetchOutput struct {
	Notifications []entity.Notification
	UnreadCount   int
	HasMore       bool
	// AsOf is the store time of the unread count
	AsOf time.Time
}

// Fetch lists the user's notifications, newest first, with the unread count
func (s *Service) Fetch(ctx context.Context, in FetchInput) (*FetchOutput, error) {
	if in.UserID == "" {
		return nil, entity.ErrMissingRecipient
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	offset := max(in.Offset, 0)

	list, err := s.repo.ListForUser(ctx, in.UserID, in.UnreadOnly, limit+1, offset)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	hasMore := len(list) > limit
	if hasMore {
		list = list[:limit]
	}
	if list == nil {
		list = []entity.Notification{}
	}

	unread, asOf, err := s.repo.CountUnread(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("counting unread notifications: %w", err)
	}

	return &FetchOutput{Notifications: list, UnreadCount: unread, HasMore: hasMore, AsOf: asOf}, nil
}

// MarkRead marks a notification read. Marking a read notification again is a no-op.
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*entity.Notification, error) {
	after, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("marking notification read: %w", err)
	}
	if after != nil {
		before := *after
		before.IsRead = false
		before.ReadAt = nil
		s.publish(ctx, event.NotificationUpdated{Before: before, After: *after}, userID)
		return after, nil
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting notification: %w", err)
	}
	if current == nil || current.UserID != userID {
		return nil, entity.ErrNotificationNotFound
	}
	return current, nil
}

// MarkAllRead marks every unread notification of the user read and returns how many changed
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, entity.ErrMissingRecipient
	}
	flipped, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	for _, after := range flipped {
		before := after
		before.IsRead = false
		before.ReadAt = nil
		s.publish(ctx, event.NotificationUpdated{Before: before, After: after}, userID)
	}
	return len(flipped), nil
}

// Delete removes one of the user's notifications
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	deleted, err := s.repo.Delete(ctx, id, userID)
	if err != nil {
		return fmt.Errorf("deleting notification: %w", err)
	}
	if !deleted {
		return entity.ErrNotificationNotFound
	}
	return nil
}
