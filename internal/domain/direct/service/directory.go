package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
)

// ResolveConversation returns the 1:1 conversation between two users,
// creating it when it does not exist. Concurrent callers for the same pair
// all get the same conversation.
func (s *Service) ResolveConversation(ctx context.Context, selfID, otherID string) (*entity.Conversation, error) {
	if selfID == "" || otherID == "" {
		return nil, entity.ErrMissingUser
	}
	if selfID == otherID {
		return nil, entity.ErrSelfConversation
	}

	for attempt := 1; attempt <= s.resolveAttempts; attempt++ {
		conv, err := s.convRepo.FindByPair(ctx, selfID, otherID)
		if err != nil {
			return nil, fmt.Errorf("finding conversation: %w", err)
		}
		if conv != nil {
			return conv, nil
		}

		conv = &entity.Conversation{ID: s.newID()}
		err = s.convRepo.CreateWithParticipants(ctx, conv, selfID, otherID)
		if errors.Is(err, entity.ErrPairConflict) {
			s.logger.Debug("conversation created concurrently, re-resolving",
				"user_id", selfID,
				"other_user_id", otherID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("creating conversation: %w", err)
		}

		s.logger.Info("conversation created",
			"conversation_id", conv.ID,
			"user_id", selfID,
			"other_user_id", otherID,
		)
		return conv, nil
	}

	return nil, entity.ErrIncompleteDirectory
}

// ListConversationsInput represents input for listing conversations
type ListConversationsInput struct {
	UserID string
	Limit  int
	Offset int
}

// ListConversationsOutput represents output from listing conversations
type ListConversationsOutput struct {
	Conversations []entity.Conversation
	HasMore       bool
}

// ListConversations returns the user's conversations, most recently active first
func (s *Service) ListConversations(ctx context.Context, in ListConversationsInput) (*ListConversationsOutput, error) {
	if in.UserID == "" {
		return nil, entity.ErrMissingUser
	}
	limit, offset := clampPage(in.Limit, in.Offset)
	if limit == 0 {
		limit = defaultPageSize
	}

	conversations, err := s.convRepo.ListForUser(ctx, in.UserID, limit+1, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	hasMore := len(conversations) > limit
	if hasMore {
		conversations = conversations[:limit]
	}
	if conversations == nil {
		conversations = []entity.Conversation{}
	}

	return &ListConversationsOutput{
		Conversations: conversations,
		HasMore:       hasMore,
	}, nil
}
