package service

import (
	"context"
	"fmt"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	"github.com/vadim/neo-inbox/internal/realtime/event"
)

// SendMessageInput represents input for sending a message
type SendMessageInput struct {
	ConversationID string
	SenderID       string
	SenderName     string
	Content        string
	Media          *MediaFile
}

// SendMessage persists a message from a participant to the other participant.
// Media is uploaded before the row is written; an upload failure writes nothing.
func (s *Service) SendMessage(ctx context.Context, in SendMessageInput) (*entity.Message, error) {
	if in.SenderID == "" {
		return nil, entity.ErrMissingUser
	}
	if err := entity.ValidateContent(in.Content, in.Media != nil); err != nil {
		return nil, err
	}

	receiverID, err := s.counterpart(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}

	msg := &entity.Message{
		ID:             s.newID(),
		ConversationID: in.ConversationID,
		SenderID:       in.SenderID,
		ReceiverID:     receiverID,
		Content:        in.Content,
	}

	var uploaded *UploadedMedia
	if in.Media != nil {
		if s.blobs == nil {
			return nil, entity.ErrMediaUploadFailed
		}
		uploaded, err = s.blobs.Upload(ctx, in.SenderID, *in.Media)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", entity.ErrMediaUploadFailed, err)
		}
		msg.MediaURL = uploaded.URL
		msg.MediaType = entity.MediaTypeFromContentType(in.Media.ContentType)
	}

	if err := s.msgRepo.Append(ctx, msg); err != nil {
		if uploaded != nil {
			s.discardUpload(ctx, uploaded.Key)
		}
		return nil, fmt.Errorf("appending message: %w", err)
	}

	s.logger.Info("message sent",
		"message_id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID,
	)

	if s.notifier != nil {
		if err := s.notifier.NotifyMessage(context.WithoutCancel(ctx), *msg, in.SenderName); err != nil {
			s.logger.Warn("creating message notification", "message_id", msg.ID, "error", err)
		}
	}
	s.publish(ctx, event.MessageInserted{Message: *msg},
		event.InboxTopic(msg.ReceiverID),
		event.ConversationTopic(msg.ConversationID),
	)

	return msg, nil
}

func (s *Service) discardUpload(ctx context.Context, key string) {
	if err := s.blobs.Delete(context.WithoutCancel(ctx), key); err != nil {
		s.logger.Warn("removing orphaned attachment", "key", key, "error", err)
	}
}

// FetchMessagesInput represents input for fetching a thread
type FetchMessagesInput struct {
	ConversationID string
	UserID         string
	Limit          int
	Offset         int
}

// FetchMessagesOutput represents output from fetching a thread
type FetchMessagesOutput struct {
	Messages []entity.Message
	HasMore  bool
}

// FetchMessages returns the non-deleted messages of a conversation in thread
// order and records that the user opened it. Read flags are left unchanged.
func (s *Service) FetchMessages(ctx context.Context, in FetchMessagesInput) (*FetchMessagesOutput, error) {
	if _, err := s.counterpart(ctx, in.ConversationID, in.UserID); err != nil {
		return nil, err
	}

	limit, offset := clampPage(in.Limit, in.Offset)
	query := limit
	if query > 0 {
		query++
	}

	messages, err := s.msgRepo.ListByConversation(ctx, in.ConversationID, query, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}

	hasMore := limit > 0 && len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	if messages == nil {
		messages = []entity.Message{}
	}

	if err := s.participantRepo.MarkOpened(ctx, in.ConversationID, in.UserID, s.now().UTC()); err != nil {
		s.logger.Warn("recording thread open",
			"conversation_id", in.ConversationID,
			"user_id", in.UserID,
			"error", err,
		)
	}

	return &FetchMessagesOutput{Messages: messages, HasMore: hasMore}, nil
}

// DeleteMessage soft-deletes a message on behalf of its sender. Deleting an
// already deleted message is a no-op.
func (s *Service) DeleteMessage(ctx context.Context, messageID, requesterID string) (*entity.Message, error) {
	if requesterID == "" {
		return nil, entity.ErrMissingUser
	}

	msg, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}
	if msg == nil {
		return nil, entity.ErrMessageNotFound
	}
	if msg.SenderID != requesterID {
		return nil, entity.ErrNotSender
	}
	if msg.IsDeleted {
		return msg, nil
	}

	after, err := s.msgRepo.SoftDelete(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("deleting message: %w", err)
	}
	if after == nil {
		// deleted concurrently
		deleted := *msg
		deleted.IsDeleted = true
		return &deleted, nil
	}

	s.publish(ctx, event.MessageUpdated{Before: *msg, After: *after},
		event.InboxTopic(after.ReceiverID),
		event.ConversationTopic(after.ConversationID),
	)
	return after, nil
}
