package entity

import (
	"fmt"
	"time"
)

// Type is the kind of event a notification was fanned out for
type Type string

const (
	TypeMessage Type = "message"
	TypeFollow  Type = "follow"
	TypeLike    Type = "like"
	TypeComment Type = "comment"
)

// Valid reports whether t is a known notification type
func (t Type) Valid() bool {
	switch t {
	case TypeMessage, TypeFollow, TypeLike, TypeComment:
		return true
	}
	return false
}

// Notification is a fan-out record of one triggering event
type Notification struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Type          Type       `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	RelatedUserID string     `json:"related_user_id,omitempty"`
	RelatedPostID string     `json:"related_post_id,omitempty"`
	ActionURL     string     `json:"action_url,omitempty"`
	EventKey      string     `json:"-"`
	IsRead        bool       `json:"is_read"`
	CreatedAt     time.Time  `json:"created_at"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
}

// Event keys identify the triggering event; one notification exists per key
func MessageEventKey(messageID string) string { return "message:" + messageID }

func FollowEventKey(actorID, targetID string) string {
	return fmt.Sprintf("follow:%s:%s", actorID, targetID)
}

func LikeEventKey(actorID, postID string) string {
	return fmt.Sprintf("like:%s:%s", actorID, postID)
}

func CommentEventKey(commentID string) string { return "comment:" + commentID }
