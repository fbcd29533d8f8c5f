package entity

import "github.com/vadim/neo-inbox/internal/apperr"

// Domain errors for Direct Messages
var (
	ErrConversationNotFound = apperr.NotFound("conversation not found")
	ErrMessageNotFound      = apperr.NotFound("message not found")
	ErrSelfConversation     = apperr.InvalidArgument("cannot start a conversation with yourself")
	ErrMissingUser          = apperr.InvalidArgument("user id is required")
	ErrEmptyMessage         = apperr.InvalidArgument("message must have text or media")
	ErrMessageTooLong       = apperr.InvalidArgument("message exceeds maximum length")
	ErrEmptyReadSelector    = apperr.InvalidArgument("conversation id or message ids are required")
	ErrNotParticipant       = apperr.PermissionDenied("user is not a participant of this conversation")
	ErrNotSender            = apperr.PermissionDenied("only the sender can delete a message")
	ErrMediaUploadFailed    = apperr.New(apperr.CodeMediaUploadFailed, "media upload failed")
	ErrPairConflict         = apperr.New(apperr.CodeConflictRetry, "conversation for this pair already exists")
	ErrIncompleteDirectory  = apperr.Unavailable("conversation could not be resolved", nil)
)
