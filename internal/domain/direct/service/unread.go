package service

import (
	"context"
	"fmt"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	"github.com/vadim/neo-inbox/internal/realtime/event"
)

// ComputeUnread counts the user's unread messages per conversation from the store
func (s *Service) ComputeUnread(ctx context.Context, userID string) (*entity.UnreadSnapshot, error) {
	if userID == "" {
		return nil, entity.ErrMissingUser
	}

	snap, err := s.msgRepo.CountUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("counting unread: %w", err)
	}
	return snap, nil
}

// MarkRead marks the selected messages addressed to the user as read and
// returns the messages whose state changed. Repeating a call changes nothing.
func (s *Service) MarkRead(ctx context.Context, userID string, sel entity.ReadSelector) ([]entity.Message, error) {
	if userID == "" {
		return nil, entity.ErrMissingUser
	}
	if sel.ConversationID == "" && len(sel.MessageIDs) == 0 {
		return nil, entity.ErrEmptyReadSelector
	}
	if sel.ConversationID != "" {
		if _, err := s.counterpart(ctx, sel.ConversationID, userID); err != nil {
			return nil, err
		}
	}

	flipped, err := s.msgRepo.MarkRead(ctx, userID, sel)
	if err != nil {
		return nil, fmt.Errorf("marking read: %w", err)
	}

	for _, after := range flipped {
		before := after
		before.Read = false
		s.publish(ctx, event.MessageUpdated{Before: before, After: after},
			event.InboxTopic(userID),
			event.ConversationTopic(after.ConversationID),
		)
	}

	if len(flipped) > 0 {
		s.logger.Debug("messages marked read", "user_id", userID, "count", len(flipped))
	}
	if flipped == nil {
		flipped = []entity.Message{}
	}
	return flipped, nil
}
