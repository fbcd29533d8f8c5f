package event

import "strings"

const (
	inboxPrefix        = "inbox:"
	conversationPrefix = "conversation:"
)

// InboxTopic carries a user's messages and notifications
func InboxTopic(userID string) string { return inboxPrefix + userID }

// ConversationTopic carries in-thread updates for one conversation
func ConversationTopic(conversationID string) string { return conversationPrefix + conversationID }

// IsInbox reports whether topic is an inbox topic
func IsInbox(topic string) bool { return strings.HasPrefix(topic, inboxPrefix) }

// ConversationOf returns the conversation id of a conversation topic
func ConversationOf(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, conversationPrefix)
	return id, ok && id != ""
}
