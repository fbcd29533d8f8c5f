package policy

import (
	"context"
	"time"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	"github.com/vadim/neo-inbox/internal/domain/direct/service"
)

// DirectService defines the interface for the direct service
type DirectService interface {
	ResolveConversation(ctx context.Context, selfID, otherID string) (*entity.Conversation, error)
	ListConversations(ctx context.Context, in service.ListConversationsInput) (*service.ListConversationsOutput, error)
	SendMessage(ctx context.Context, in service.SendMessageInput) (*entity.Message, error)
	FetchMessages(ctx context.Context, in service.FetchMessagesInput) (*service.FetchMessagesOutput, error)
	DeleteMessage(ctx context.Context, messageID, requesterID string) (*entity.Message, error)
	MarkRead(ctx context.Context, userID string, sel entity.ReadSelector) ([]entity.Message, error)
	ComputeUnread(ctx context.Context, userID string) (*entity.UnreadSnapshot, error)
}

// Actor is the authenticated caller
type Actor struct {
	UserID string
	Name   string
}

var errNoActor = apperr.NotAuthenticated("authentication required")

// Policy runs direct message operations for an authenticated actor under a
// bounded timeout
type Policy struct {
	svc     DirectService
	timeout time.Duration
}

// New creates a new direct policy
func New(svc DirectService, timeout time.Duration) *Policy {
	return &Policy{
		svc:     svc,
		timeout: timeout,
	}
}

func (p *Policy) bound(ctx context.Context, actor Actor) (context.Context, context.CancelFunc, error) {
	if actor.UserID == "" {
		return nil, nil, errNoActor
	}
	if p.timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	return ctx, cancel, nil
}

// ResolveConversation returns the conversation between the actor and another user
func (p *Policy) ResolveConversation(ctx context.Context, actor Actor, otherUserID string) (*entity.Conversation, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.ResolveConversation(ctx, actor.UserID, otherUserID)
}

// ListConversationsInput represents input for listing conversations
type ListConversationsInput struct {
	Limit  int
	Offset int
}

// ListConversations lists the actor's conversations
func (p *Policy) ListConversations(ctx context.Context, actor Actor, in ListConversationsInput) (*service.ListConversationsOutput, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.ListConversations(ctx, service.ListConversationsInput{
		UserID: actor.UserID,
		Limit:  in.Limit,
		Offset: in.Offset,
	})
}

// SendMessageInput represents input for sending a message
type SendMessageInput struct {
	ConversationID string
	Content        string
	Media          *service.MediaFile
}

// SendMessage sends a message as the actor
func (p *Policy) SendMessage(ctx context.Context, actor Actor, in SendMessageInput) (*entity.Message, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.SendMessage(ctx, service.SendMessageInput{
		ConversationID: in.ConversationID,
		SenderID:       actor.UserID,
		SenderName:     actor.Name,
		Content:        in.Content,
		Media:          in.Media,
	})
}

// FetchMessagesInput represents input for fetching a thread
type FetchMessagesInput struct {
	ConversationID string
	Limit          int
	Offset         int
}

// FetchMessages returns a thread for the actor
func (p *Policy) FetchMessages(ctx context.Context, actor Actor, in FetchMessagesInput) (*service.FetchMessagesOutput, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.FetchMessages(ctx, service.FetchMessagesInput{
		ConversationID: in.ConversationID,
		UserID:         actor.UserID,
		Limit:          in.Limit,
		Offset:         in.Offset,
	})
}

// DeleteMessage soft-deletes one of the actor's messages
func (p *Policy) DeleteMessage(ctx context.Context, actor Actor, messageID string) (*entity.Message, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.DeleteMessage(ctx, messageID, actor.UserID)
}

// MarkRead marks messages addressed to the actor as read
func (p *Policy) MarkRead(ctx context.Context, actor Actor, sel entity.ReadSelector) ([]entity.Message, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.MarkRead(ctx, actor.UserID, sel)
}

// ComputeUnread returns the actor's unread snapshot
func (p *Policy) ComputeUnread(ctx context.Context, actor Actor) (*entity.UnreadSnapshot, error) {
	ctx, cancel, err := p.bound(ctx, actor)
	if err != nil {
		return nil, err
	}
	defer cancel()

	return p.svc.ComputeUnread(ctx, actor.UserID)
}
