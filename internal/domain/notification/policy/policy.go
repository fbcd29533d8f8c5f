package policy

import (
	"context"
	"time"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/domain/notification/service"
)

// NotificationService defines the interface for the notification service
type NotificationService interface {
	Fetch(ctx context.Context, in service.FetchInput) (*service.FetchOutput, error)
	MarkRead(ctx context.Context, id, userID string) (*entity.Notification, error)
	MarkAllRead(ctx context.Context, userID string) (int, error)
	Delete(ctx context.Context, id, userID string) error
	NotifyFollow(ctx context.Context, ev service.FollowEvent) (*entity.Notification, error)
	NotifyLike(ctx context.Context, ev service.LikeEvent) (*entity.Notification, error)
	NotifyComment(ctx context.Context, ev service.CommentEvent) (*entity.Notification, error)
}

// Actor is the authenticated caller
type Actor struct {
	UserID string
	Name   string
}

// Policy runs notification operations for an authenticated actor under a
// bounded timeout
type Policy struct {
	svc     NotificationService
	timeout time.Duration
}

// New creates a new notification policy
func New(svc NotificationService, timeout time.Duration) *Policy {
	return &Policy{svc: svc, timeout: timeout}
}

func (p *Policy) bound(ctx context.Context, actor Actor) (context.Context, context.CancelFunc, error) {
	if actor.UserID == "" {
		return nil, nil, apperr.NotAuthenticated("authentication required")
	}
	if p.timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return ctx, cancel, nil
}

// FetchInput represents input for fetching notifications
type FetchInput struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Fetch lists the actor's notifications
func (p *Policy) Fetch(ctx context.Context, actor Actor, in FetchInput) (*service.FetchOutput, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.Fetch(ctx, service.FetchInput{
		UserID:     actor.UserID,
		UnreadOnly: in.UnreadOnly,
		Limit:      in.Limit,
		Offset:     in.Offset,
	})
}

// MarkRead marks one of the actor's notifications read
func (p *Policy) MarkRead(ctx context.Context, actor Actor, id string) (*entity.Notification, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.MarkRead(ctx, id, actor.UserID)
}

// MarkAllRead marks all of the actor's notifications read
func (p *Policy) MarkAllRead(ctx context.Context, actor Actor) (int, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return 0, err
	}
	defer cancel()

	return p.svc.MarkAllRead(ctx, actor.UserID)
}

// Delete removes one of the actor's notifications
func (p *Policy) Delete(ctx context.Context, actor Actor, id string) error {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return err
	}
	defer cancel()

	return p.svc.Delete(ctx, id, actor.UserID)
}

// Follow records that the actor followed targetID
func (p *Policy) Follow(ctx context.Context, actor Actor, targetID string) (*entity.Notification, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if targetID == "" {
		return nil, entity.ErrMissingRecipient
	}
	return p.svc.NotifyFollow(ctx, service.FollowEvent{
		ActorID:   actor.UserID,
		ActorName: actor.Name,
		TargetID:  targetID,
	})
}

// Like records that the actor liked a post
func (p *Policy) Like(ctx context.Context, actor Actor, postID, ownerID string) (*entity.Notification, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if ownerID == "" {
		return nil, entity.ErrMissingRecipient
	}
	return p.svc.NotifyLike(ctx, service.LikeEvent{
		ActorID:     actor.UserID,
		ActorName:   actor.Name,
		PostID:      postID,
		PostOwnerID: ownerID,
	})
}

// CommentInput represents a comment made by the actor
type CommentInput struct {
	PostID    string
	OwnerID   string
	CommentID string
	Text      string
}

// Comment records that the actor commented on a post
func (p *Policy) Comment(ctx context.Context, actor Actor, in CommentInput) (*entity.Notification, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if in.OwnerID == "" {
		return nil, entity.ErrMissingRecipient
	}
	return p.svc.NotifyComment(ctx, service.CommentEvent{
		ActorID:     actor.UserID,
		ActorName:   actor.Name,
		PostID:      in.PostID,
		PostOwnerID: in.OwnerID,
		CommentID:   in.CommentID,
		Text:        in.Text,
	})
}
