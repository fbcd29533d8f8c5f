package entity

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Media types stored on messages with attachments
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeAudio = "audio"
	MediaTypeFile  = "file"
)

// Message represents a direct message
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	MediaURL       string    `json:"media_url,omitempty"`
	MediaType      string    `json:"media_type,omitempty"`
	Read           bool      `json:"read"`
	IsDeleted      bool      `json:"is_deleted"`
	CreatedAt      time.Time `json:"created_at"`
	// UpdatedAt is the store time of the last read or delete transition
	UpdatedAt time.Time `json:"updated_at"`
}

// Before reports whether m sorts before o in a thread: by created_at, then id
func (m Message) Before(o Message) bool {
	if !m.CreatedAt.Equal(o.CreatedAt) {
		return m.CreatedAt.Before(o.CreatedAt)
	}
	return m.ID < o.ID
}

// CountsAsUnreadFor reports whether m contributes to userID's unread count
func (m Message) CountsAsUnreadFor(userID string) bool {
	return m.ReceiverID == userID && !m.Read && !m.IsDeleted
}

// Preview returns a short text for lists and notifications
func (m Message) Preview() string {
	if m.Content == "" && m.MediaType != "" {
		return "[" + m.MediaType + "]"
	}
	const max = 80
	if utf8.RuneCountInString(m.Content) <= max {
		return m.Content
	}
	r := []rune(m.Content)
	return string(r[:max]) + "…"
}

// MaxMessageLength is the maximum length of a message text
const MaxMessageLength = 1000

// ValidateContent validates message text; empty text is allowed only with media
func ValidateContent(content string, hasMedia bool) error {
	if strings.TrimSpace(content) == "" && !hasMedia {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// MediaTypeFromContentType maps a MIME type to a message media type
func MediaTypeFromContentType(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return MediaTypeImage
	case strings.HasPrefix(contentType, "video/"):
		return MediaTypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return MediaTypeAudio
	default:
		return MediaTypeFile
	}
}

// ReadSelector targets messages for a read-state mutation: every message of a
// conversation, or an explicit set of message ids
type ReadSelector struct {
	ConversationID string
	MessageIDs     []string
}

// UnreadSnapshot is a from-scratch unread computation for one user
type UnreadSnapshot struct {
	UserID          string         `json:"user_id"`
	PerConversation map[string]int `json:"per_conversation"`
	Total           int            `json:"total"`
	AsOf            time.Time      `json:"as_of"`
}
