package entity

import "time"

// Conversation represents a 1:1 channel between exactly two users.
// The participant and last-message fields are a projection for the viewing user
// and are only populated by listing queries.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ParticipantID       string     `json:"participant_id,omitempty"`
	LastMessageText     string     `json:"last_message_text,omitempty"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	LastMessageIsFromMe bool       `json:"last_message_is_from_me,omitempty"`
	UnreadCount         int        `json:"unread_count"`
	LastReadAt          *time.Time `json:"last_read_at,omitempty"`
	IsMuted             bool       `json:"is_muted"`
	IsArchived          bool       `json:"is_archived"`
}

// Participant represents a user's membership in a conversation
type Participant struct {
	ConversationID string     `json:"conversation_id"`
	UserID         string     `json:"user_id"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	IsMuted        bool       `json:"is_muted"`
	IsArchived     bool       `json:"is_archived"`
}

// PairKey returns the order-independent key of a user pair
func PairKey(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// OtherParticipant returns the member of participants that is not userID.
// ok is false unless participants is exactly {userID, other}.
func OtherParticipant(participants []Participant, userID string) (other string, ok bool) {
	if len(participants) != 2 {
		return "", false
	}
	switch userID {
	case participants[0].UserID:
		return participants[1].UserID, participants[1].UserID != userID
	case participants[1].UserID:
		return participants[0].UserID, true
	default:
		return "", false
	}
}
