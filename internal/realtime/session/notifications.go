package session

import (
	"slices"
	"time"

	notification "github.com/vadim/neo-inbox/internal/domain/notification/entity"
)

// NotificationState is the session's notification list and unread counter.
// It follows the same snapshot rules as Counters: inserts newer than the
// snapshot are tracked so a later snapshot keeps them, and reads stamped at
// or before the snapshot are already part of its count.
type NotificationState struct {
	items  []notification.Notification
	unread int
	asOf   time.Time

	// unread notifications counted after the snapshot
	pending map[string]notification.Notification
	// notifications already marked read, keyed to their read time
	settled map[string]time.Time
}

// NewNotificationState creates an empty notification state
func NewNotificationState() *NotificationState {
	return &NotificationState{
		pending: make(map[string]notification.Notification),
		settled: make(map[string]time.Time),
	}
}

// Replace installs a fetched page and the store's unread count taken at asOf
func (s *NotificationState) Replace(items []notification.Notification, unread int, asOf time.Time) {
	s.items = slices.Clone(items)
	s.unread = unread
	s.asOf = asOf

	for id, n := range s.pending {
		if !n.CreatedAt.After(asOf) {
			delete(s.pending, id)
			continue
		}
		s.unread++
		if !slices.ContainsFunc(s.items, func(item notification.Notification) bool { return item.ID == id }) {
			s.items = slices.Insert(s.items, s.position(n), n)
		}
	}
	for id, at := range s.settled {
		if !at.IsZero() && !at.After(asOf) {
			delete(s.settled, id)
		}
	}
}

// Insert prepends a new notification; duplicates are ignored
func (s *NotificationState) Insert(n notification.Notification) bool {
	for _, existing := range s.items {
		if existing.ID == n.ID {
			return false
		}
	}
	if _, ok := s.pending[n.ID]; ok {
		return false
	}
	if _, ok := s.settled[n.ID]; ok {
		n.IsRead = true
	}
	s.items = slices.Insert(s.items, s.position(n), n)

	covered := !s.asOf.IsZero() && !n.CreatedAt.After(s.asOf)
	if !n.IsRead && !covered {
		s.pending[n.ID] = n
		s.unread++
	}
	return true
}

func (s *NotificationState) position(n notification.Notification) int {
	pos := 0
	for pos < len(s.items) && s.items[pos].CreatedAt.After(n.CreatedAt) {
		pos++
	}
	return pos
}

// MarkRead applies a read transition once per notification
func (s *NotificationState) MarkRead(n notification.Notification) bool {
	if _, ok := s.settled[n.ID]; ok {
		return false
	}
	var readAt time.Time
	if n.ReadAt != nil {
		readAt = *n.ReadAt
	}
	s.settled[n.ID] = readAt

	changed := false
	for i := range s.items {
		if s.items[i].ID != n.ID {
			continue
		}
		if s.items[i].IsRead {
			return false
		}
		s.items[i] = n
		changed = true
		break
	}

	if _, ok := s.pending[n.ID]; ok {
		delete(s.pending, n.ID)
		return s.decrement() || changed
	}
	if !s.asOf.IsZero() && n.CreatedAt.After(s.asOf) {
		return changed
	}
	if !s.asOf.IsZero() && !readAt.IsZero() && !readAt.After(s.asOf) {
		return changed
	}
	return s.decrement() || changed
}

func (s *NotificationState) decrement() bool {
	if s.unread <= 0 {
		return false
	}
	s.unread--
	return true
}

// Unread returns the unread notification count
func (s *NotificationState) Unread() int { return s.unread }

// Items returns a copy of the list, newest first
func (s *NotificationState) Items() []notification.Notification {
	return slices.Clone(s.items)
}
