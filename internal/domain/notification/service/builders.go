package service

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
)

const previewLength = 80

func displayName(name string) string {
	if name == "" {
		return "Someone"
	}
	return name
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	return string([]rune(text)[:previewLength]) + "…"
}

// MessageEvent describes a sent direct message
type MessageEvent struct {
	MessageID      string
	ConversationID string
	SenderID       string
	SenderName     string
	ReceiverID     string
	Preview        string
}

// NotifyMessage notifies the receiver of a new direct message
func (s *Service) NotifyMessage(ctx context.Context, ev MessageEvent) (*entity.Notification, error) {
	return s.Emit(ctx, EmitInput{
		RecipientID:   ev.ReceiverID,
		ActorID:       ev.SenderID,
		Type:          entity.TypeMessage,
		Title:         "New message",
		Message:       fmt.Sprintf("%s: %s", displayName(ev.SenderName), preview(ev.Preview)),
		RelatedUserID: ev.SenderID,
		ActionURL:     "/messages/" + ev.ConversationID,
		EventKey:      entity.MessageEventKey(ev.MessageID),
	})
}

// FollowEvent describes a user following another user
type FollowEvent struct {
	ActorID   string
	ActorName string
	TargetID  string
}

// NotifyFollow notifies the followed user
func (s *Service) NotifyFollow(ctx context.Context, ev FollowEvent) (*entity.Notification, error) {
	return s.Emit(ctx, EmitInput{
		RecipientID:   ev.TargetID,
		ActorID:       ev.ActorID,
		Type:          entity.TypeFollow,
		Title:         "New follower",
		Message:       displayName(ev.ActorName) + " started following you",
		RelatedUserID: ev.ActorID,
		ActionURL:     "/users/" + ev.ActorID,
		EventKey:      entity.FollowEventKey(ev.ActorID, ev.TargetID),
	})
}

// LikeEvent describes a like on a post
type LikeEvent struct {
	ActorID     string
	ActorName   string
	PostID      string
	PostOwnerID string
}

// NotifyLike notifies the post owner of a like
func (s *Service) NotifyLike(ctx context.Context, ev LikeEvent) (*entity.Notification, error) {
	if ev.PostID == "" {
		return nil, entity.ErrMissingPost
	}
	return s.Emit(ctx, EmitInput{
		RecipientID:   ev.PostOwnerID,
		ActorID:       ev.ActorID,
		Type:          entity.TypeLike,
		Title:         "New like",
		Message:       displayName(ev.ActorName) + " liked your post",
		RelatedUserID: ev.ActorID,
		RelatedPostID: ev.PostID,
		ActionURL:     "/posts/" + ev.PostID,
		EventKey:      entity.LikeEventKey(ev.ActorID, ev.PostID),
	})
}

// CommentEvent describes a comment on a post
type CommentEvent struct {
	ActorID     string
	ActorName   string
	PostID      string
	PostOwnerID string
	CommentID   string
	Text        string
}

// NotifyComment notifies the post owner of a comment
func (s *Service) NotifyComment(ctx context.Context, ev CommentEvent) (*entity.Notification, error) {
	if ev.PostID == "" {
		return nil, entity.ErrMissingPost
	}
	if ev.CommentID == "" {
		return nil, entity.ErrMissingComment
	}
	message := displayName(ev.ActorName) + " commented on your post"
	if ev.Text != "" {
		message = fmt.Sprintf("%s commented: %s", displayName(ev.ActorName), preview(ev.Text))
	}
	return s.Emit(ctx, EmitInput{
		RecipientID:   ev.PostOwnerID,
		ActorID:       ev.ActorID,
		Type:          entity.TypeComment,
		Title:         "New comment",
		Message:       message,
		RelatedUserID: ev.ActorID,
		RelatedPostID: ev.PostID,
		ActionURL:     fmt.Sprintf("/posts/%s#comment-%s", ev.PostID, ev.CommentID),
		EventKey:      entity.CommentEventKey(ev.CommentID),
	})
}
