package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	"github.com/vadim/neo-inbox/internal/realtime/event"
)

// ConversationRepository defines the interface for conversation storage
type ConversationRepository interface {
	FindByPair(ctx context.Context, userA, userB string) (*entity.Conversation, error)
	CreateWithParticipants(ctx context.Context, conv *entity.Conversation, userA, userB string) error
	GetByID(ctx context.Context, id string) (*entity.Conversation, error)
	ListForUser(ctx context.Context, userID string, limit, offset int) ([]entity.Conversation, error)
}

// ParticipantRepository defines the interface for participant storage
type ParticipantRepository interface {
	ListByConversation(ctx context.Context, conversationID string) ([]entity.Participant, error)
	MarkOpened(ctx context.Context, conversationID, userID string, at time.Time) error
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	Append(ctx context.Context, msg *entity.Message) error
	GetByID(ctx context.Context, id string) (*entity.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error)
	SoftDelete(ctx context.Context, id string) (*entity.Message, error)
	MarkRead(ctx context.Context, userID string, sel entity.ReadSelector) ([]entity.Message, error)
	CountUnread(ctx context.Context, userID string) (*entity.UnreadSnapshot, error)
}

// MediaFile is an attachment received from a client
type MediaFile struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64
}

// UploadedMedia is a stored attachment
type UploadedMedia struct {
	Key string
	URL string
}

// BlobStore stores message attachments
type BlobStore interface {
	Upload(ctx context.Context, ownerID string, file MediaFile) (*UploadedMedia, error)
	Delete(ctx context.Context, key string) error
}

// Notifier creates the receiver's notification for a new message
type Notifier interface {
	NotifyMessage(ctx context.Context, msg entity.Message, senderName string) error
}

// ChangeFeed publishes row changes to push topics
type ChangeFeed interface {
	Publish(ctx context.Context, topic string, ev event.Event) error
}

const (
	defaultPageSize        = 50
	defaultResolveAttempts = 3
)

// Service handles direct message business logic
type Service struct {
	convRepo        ConversationRepository
	participantRepo ParticipantRepository
	msgRepo         MessageRepository
	blobs           BlobStore
	notifier        Notifier
	feed            ChangeFeed
	logger          *slog.Logger

	resolveAttempts int
	newID           func() string
	now             func() time.Time
}

// New creates a new direct message service
func New(
	convRepo ConversationRepository,
	participantRepo ParticipantRepository,
	msgRepo MessageRepository,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		convRepo:        convRepo,
		participantRepo: participantRepo,
		msgRepo:         msgRepo,
		logger:          logger,
		resolveAttempts: defaultResolveAttempts,
		newID:           uuid.NewString,
		now:             time.Now,
	}
}

// WithBlobStore enables media attachments
func (s *Service) WithBlobStore(blobs BlobStore) *Service {
	s.blobs = blobs
	return s
}

// WithNotifier enables message notifications
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithFeed enables change event publication
func (s *Service) WithFeed(feed ChangeFeed) *Service {
	s.feed = feed
	return s
}

// publish delivers ev to every topic. Failures are logged: the stored row is
// authoritative and sessions converge on reconcile.
func (s *Service) publish(ctx context.Context, ev event.Event, topics ...string) {
	if s.feed == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, topic := range topics {
		if err := s.feed.Publish(ctx, topic, ev); err != nil {
			s.logger.Warn("publishing change event",
				"topic", topic,
				"event", ev.Type(),
				"error", err,
			)
		}
	}
}

// counterpart returns the other participant of a conversation the user belongs to
func (s *Service) counterpart(ctx context.Context, conversationID, userID string) (string, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return "", err
	}
	if conv == nil {
		return "", entity.ErrConversationNotFound
	}

	participants, err := s.participantRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}

	member := false
	for _, p := range participants {
		if p.UserID == userID {
			member = true
			break
		}
	}
	if !member {
		return "", entity.ErrNotParticipant
	}

	other, ok := entity.OtherParticipant(participants, userID)
	if !ok {
		return "", entity.ErrIncompleteDirectory
	}
	return other, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
