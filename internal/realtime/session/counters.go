package session

import (
	"maps"
	"time"

	direct "github.com/vadim/neo-inbox/internal/domain/direct/entity"
)

type counted struct {
	conversationID string
	createdAt      time.Time
}

// Counters caches per-conversation unread counts between reconciles.
// A snapshot replaces them wholesale; pushes adjust them in between.
type Counters struct {
	userID string
	per    map[string]int
	asOf   time.Time

	// increments applied for messages newer than the snapshot
	pending map[string]counted
	// messages already decremented, keyed to their transition time
	settled map[string]time.Time
}

// NewCounters creates empty counters for userID
func NewCounters(userID string) *Counters {
	return &Counters{
		userID:  userID,
		per:     make(map[string]int),
		pending: make(map[string]counted),
		settled: make(map[string]time.Time),
	}
}

// Replace installs a snapshot. Increments for messages created after the
// snapshot survive it; settlements the snapshot covers are forgotten.
func (c *Counters) Replace(snap direct.UnreadSnapshot) {
	c.per = maps.Clone(snap.PerConversation)
	if c.per == nil {
		c.per = make(map[string]int)
	}
	c.asOf = snap.AsOf

	for id, m := range c.pending {
		if !m.createdAt.After(snap.AsOf) {
			delete(c.pending, id)
			continue
		}
		c.per[m.conversationID]++
	}
	for id, at := range c.settled {
		if !at.IsZero() && !at.After(snap.AsOf) {
			delete(c.settled, id)
		}
	}
}

// Increment counts a new unread message addressed to the user. It reports
// false for duplicates and for messages the snapshot already covers.
func (c *Counters) Increment(msg direct.Message) bool {
	if !msg.CountsAsUnreadFor(c.userID) {
		return false
	}
	if !c.asOf.IsZero() && !msg.CreatedAt.After(c.asOf) {
		return false
	}
	if _, ok := c.pending[msg.ID]; ok {
		return false
	}
	if _, ok := c.settled[msg.ID]; ok {
		return false
	}
	c.pending[msg.ID] = counted{conversationID: msg.ConversationID, createdAt: msg.CreatedAt}
	c.per[msg.ConversationID]++
	return true
}

// Settle removes a message that stopped being unread. Each message is
// settled at most once and counts never go below zero. A transition stamped
// at or before the snapshot is already excluded from it.
func (c *Counters) Settle(msg direct.Message) bool {
	if msg.ReceiverID != c.userID {
		return false
	}
	if _, ok := c.settled[msg.ID]; ok {
		return false
	}
	c.settled[msg.ID] = msg.UpdatedAt

	if _, ok := c.pending[msg.ID]; ok {
		delete(c.pending, msg.ID)
		c.decrement(msg.ConversationID)
		return true
	}
	if c.asOf.IsZero() || msg.CreatedAt.After(c.asOf) {
		return false
	}
	if !msg.UpdatedAt.IsZero() && !msg.UpdatedAt.After(c.asOf) {
		return false
	}
	return c.decrement(msg.ConversationID)
}

func (c *Counters) decrement(conversationID string) bool {
	if c.per[conversationID] <= 0 {
		return false
	}
	c.per[conversationID]--
	return true
}

// Get returns the unread count of one conversation
func (c *Counters) Get(conversationID string) int {
	return c.per[conversationID]
}

// Total returns the aggregate unread count
func (c *Counters) Total() int {
	total := 0
	for _, n := range c.per {
		total += n
	}
	return total
}

// View returns a copy of the counters
func (c *Counters) View() UnreadView {
	return UnreadView{PerConversation: maps.Clone(c.per), Total: c.Total()}
}

// UnreadView is the client-facing unread state
type UnreadView struct {
	PerConversation map[string]int `json:"per_conversation"`
	Total           int            `json:"total"`
}
