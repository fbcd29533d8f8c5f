package entity

import "github.com/vadim/neo-inbox/internal/apperr"

var (
	ErrNotificationNotFound = apperr.NotFound("notification not found")
	ErrMissingRecipient     = apperr.InvalidArgument("recipient is required")
	ErrMissingActor         = apperr.InvalidArgument("actor is required")
	ErrMissingEventKey      = apperr.InvalidArgument("event key is required")
	ErrMissingPost          = apperr.InvalidArgument("post id is required")
	ErrMissingComment       = apperr.InvalidArgument("comment id is required")
	ErrInvalidType          = apperr.InvalidArgument("unknown notification type")
)
