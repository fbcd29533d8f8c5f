// Package session keeps one connected client's inbox state in sync with the
// store: unread counters, notifications, the open thread and optimistic sends.
//
// Push events adjust the state incrementally. Every (re)connect and a
// periodic tick replace it from the store, so missed events only cause drift
// until the next reconcile.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/vadim/neo-inbox/internal/apperr"
	direct "github.com/vadim/neo-inbox/internal/domain/direct/entity"
	notification "github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/realtime/event"
)

// Update types delivered to the client
const (
	UpdateConnection      = "connection.state"
	UpdateUnread          = "unread"
	UpdateConversations   = "conversations"
	UpdateNotifications   = "notifications"
	UpdateNotificationNew = "notification.new"
	UpdateThread          = "thread"
	UpdateMessageNew      = "message.new"
	UpdateMessageChanged  = "message.updated"
	UpdateMessagePending  = "message.pending"
	UpdateMessageFailed   = "message.failed"
	UpdateAlert           = "alert"
	UpdateError           = "error"
)

// Update is one server-to-client push
type Update struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Sink receives updates. Deliver is called with the session locked and
// must not block.
type Sink interface {
	Deliver(u Update)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(Update)

func (f SinkFunc) Deliver(u Update) { f(u) }

// Identity is the logged-in user a session belongs to
type Identity struct {
	UserID string
	Name   string
}

// Alert is a local user-facing alert
type Alert struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ActionURL      string `json:"action_url,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ConnectionView reports a subscription state change
type ConnectionView struct {
	Topic string `json:"topic"`
	State State  `json:"state"`
}

// NotificationsView is the client-facing notification state
type NotificationsView struct {
	Notifications []notification.Notification `json:"notifications"`
	Unread        int                         `json:"unread"`
}

// ErrorView is a dismissible error
type ErrorView struct {
	Code      apperr.Code `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
}

func errorView(err error) ErrorView {
	return ErrorView{
		Code:      apperr.CodeOf(err),
		Message:   apperr.Message(err),
		Retryable: apperr.Retryable(err),
	}
}

// Reconciled is a full state fetch from the store
type Reconciled struct {
	Unread             direct.UnreadSnapshot
	Conversations      []direct.Conversation
	Notifications      []notification.Notification
	NotificationUnread int
	// NotificationAsOf is the store time of NotificationUnread
	NotificationAsOf time.Time

	ThreadID       string
	ThreadMessages []direct.Message

	// Generation is the session generation the fetch started at
	Generation uint64
}

// Effects are follow-up calls an applied event asks for
type Effects struct {
	// MarkRead lists messages the user is viewing in the open thread
	MarkRead []string
	// Reconcile is set when the event refers to state the session lacks
	Reconcile bool
}

// Session is one client's live inbox state
type Session struct {
	mu       sync.Mutex
	identity Identity
	alerts   bool
	sink     Sink

	counters      *Counters
	notes         *NotificationState
	thread        *Thread
	conversations []direct.Conversation

	// bumped by every read transition
	gen uint64
}

// New creates a session for identity delivering updates to sink
func New(identity Identity, sink Sink, alerts bool) *Session {
	if sink == nil {
		sink = SinkFunc(func(Update) {})
	}
	return &Session{
		identity: identity,
		alerts:   alerts,
		sink:     sink,
		counters: NewCounters(identity.UserID),
		notes:    NewNotificationState(),
	}
}

// Identity returns the session owner
func (s *Session) Identity() Identity { return s.identity }

func (s *Session) deliver(typ string, data any) {
	s.sink.Deliver(Update{Type: typ, Data: data})
}

func (s *Session) deliverUnread() {
	s.deliver(UpdateUnread, s.counters.View())
}

func (s *Session) deliverNotifications() {
	s.deliver(UpdateNotifications, NotificationsView{Notifications: s.notes.Items(), Unread: s.notes.Unread()})
}

// Generation changes whenever a read transition is applied. A fetch that
// started at an older generation may predate the transition.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// ApplyReconcile replaces derived state with a store fetch. It reports false
// and changes nothing when the fetch is older than the installed snapshot or
// a read transition was applied while it ran.
func (s *Session) ApplyReconcile(r Reconciled) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.Unread.AsOf.Before(s.counters.asOf) || r.NotificationAsOf.Before(s.notes.asOf) || r.Generation != s.gen {
		return false
	}

	s.counters.Replace(r.Unread)
	s.conversations = slices.Clone(r.Conversations)
	for i := range s.conversations {
		s.conversations[i].UnreadCount = s.counters.Get(s.conversations[i].ID)
	}
	s.notes.Replace(r.Notifications, r.NotificationUnread, r.NotificationAsOf)

	if s.thread != nil && r.ThreadID == s.thread.ConversationID() {
		fresh := NewThread(r.ThreadID, r.ThreadMessages)
		fresh.pending, fresh.order = s.thread.pending, s.thread.order
		// pushes that landed after the fetch
		for _, m := range s.thread.messages {
			if m.CreatedAt.After(r.Unread.AsOf) {
				fresh.Upsert(m)
			}
		}
		s.thread = fresh
		s.deliver(UpdateThread, s.thread.View())
	}

	s.deliverUnread()
	s.deliver(UpdateConversations, slices.Clone(s.conversations))
	s.deliverNotifications()
	return true
}

// Apply folds a push event into the session
func (s *Session) Apply(ev event.Event) Effects {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case event.MessageInserted:
		return s.messageInserted(e.Message)
	case event.MessageUpdated:
		s.messageUpdated(e)
	case event.NotificationInserted:
		s.notificationInserted(e.Notification)
	case event.NotificationUpdated:
		if e.After.UserID == s.identity.UserID && e.BecameRead() && s.notes.MarkRead(e.After) {
			s.gen++
			s.deliverNotifications()
		}
	}
	return Effects{}
}

func (s *Session) messageInserted(msg direct.Message) Effects {
	var fx Effects
	self := s.identity.UserID
	if msg.SenderID != self && msg.ReceiverID != self {
		return fx
	}

	if s.thread != nil && s.thread.ConversationID() == msg.ConversationID {
		if s.thread.Upsert(msg) {
			s.deliver(UpdateMessageNew, msg)
			if msg.CountsAsUnreadFor(self) {
				fx.MarkRead = append(fx.MarkRead, msg.ID)
			}
		}
	} else if s.counters.Increment(msg) {
		s.deliverUnread()
		if s.alerts && !s.muted(msg.ConversationID) {
			s.deliver(UpdateAlert, Alert{
				Title:          "New message",
				Body:           msg.Preview(),
				ActionURL:      "/messages/" + msg.ConversationID,
				ConversationID: msg.ConversationID,
			})
		}
	}

	if !s.touchConversation(msg) {
		fx.Reconcile = true
	}
	return fx
}

func (s *Session) messageUpdated(e event.MessageUpdated) {
	msg := e.After
	if s.thread != nil && s.thread.ConversationID() == msg.ConversationID {
		s.thread.Upsert(msg)
		s.deliver(UpdateMessageChanged, msg)
	}

	wasUnread := e.Before.CountsAsUnreadFor(s.identity.UserID)
	if wasUnread && !msg.CountsAsUnreadFor(s.identity.UserID) && s.counters.Settle(msg) {
		s.gen++
		s.syncConversationCount(msg.ConversationID)
		s.deliverUnread()
	}
}

func (s *Session) notificationInserted(n notification.Notification) {
	if n.UserID != s.identity.UserID || !s.notes.Insert(n) {
		return
	}
	s.deliver(UpdateNotificationNew, n)
	s.deliverNotifications()

	// message notifications alert through the message itself
	if s.alerts && n.Type != notification.TypeMessage && !n.IsRead {
		s.deliver(UpdateAlert, Alert{Title: n.Title, Body: n.Message, ActionURL: n.ActionURL})
	}
}

// touchConversation moves the conversation of msg to the top of the list
// with its new preview. It reports false when the conversation is unknown.
func (s *Session) touchConversation(msg direct.Message) bool {
	idx := slices.IndexFunc(s.conversations, func(c direct.Conversation) bool { return c.ID == msg.ConversationID })
	if idx < 0 {
		return false
	}
	conv := s.conversations[idx]
	if conv.LastMessageAt == nil || conv.LastMessageAt.Before(msg.CreatedAt) {
		at := msg.CreatedAt
		conv.LastMessageAt = &at
		conv.LastMessageText = msg.Preview()
		conv.LastMessageIsFromMe = msg.SenderID == s.identity.UserID
		if at.After(conv.UpdatedAt) {
			conv.UpdatedAt = at
		}
	}
	conv.UnreadCount = s.counters.Get(conv.ID)

	s.conversations = slices.Delete(s.conversations, idx, idx+1)
	s.conversations = slices.Insert(s.conversations, 0, conv)
	s.deliver(UpdateConversations, slices.Clone(s.conversations))
	return true
}

func (s *Session) syncConversationCount(conversationID string) {
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			s.conversations[i].UnreadCount = s.counters.Get(conversationID)
		}
	}
}

func (s *Session) muted(conversationID string) bool {
	for _, c := range s.conversations {
		if c.ID == conversationID {
			return c.IsMuted
		}
	}
	return false
}

// SettleRead applies messages the user marked read through the store
func (s *Session) SettleRead(flipped []direct.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, msg := range flipped {
		if s.thread != nil {
			s.thread.Upsert(msg)
		}
		if s.counters.Settle(msg) {
			s.syncConversationCount(msg.ConversationID)
			changed = true
		}
	}
	if changed {
		s.gen++
		s.deliverUnread()
	}
}

// SettleNotification applies a notification the user marked read
func (s *Session) SettleNotification(n notification.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.notes.MarkRead(n) {
		s.gen++
		s.deliverNotifications()
	}
}

// OpenThread shows a conversation; only one thread is open at a time
func (s *Session) OpenThread(conversationID string, messages []direct.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.thread = NewThread(conversationID, messages)
	s.deliver(UpdateThread, s.thread.View())
}

// CloseThread stops applying events to the thread view. Counters keep updating.
func (s *Session) CloseThread() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thread = nil
}

// ThreadID returns the open conversation or ""
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return ""
	}
	return s.thread.ConversationID()
}

var errNoThread = apperr.InvalidArgument("no conversation is open")

// BeginSend records an optimistic send in the open thread
func (s *Session) BeginSend(clientID, content string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.thread == nil {
		return "", errNoThread
	}
	if clientID == "" {
		return "", apperr.InvalidArgument("client id is required")
	}
	p := s.thread.Begin(clientID, content)
	s.deliver(UpdateMessagePending, p)
	return s.thread.ConversationID(), nil
}

// ConfirmSend replaces an optimistic send with the stored message
func (s *Session) ConfirmSend(clientID string, msg direct.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.thread == nil || s.thread.ConversationID() != msg.ConversationID {
		return
	}
	s.thread.Confirm(clientID, msg)
	s.touchConversation(msg)
	s.deliver(UpdateThread, s.thread.View())
}

// FailSend keeps a failed send with its content for an inline retry
func (s *Session) FailSend(clientID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.thread == nil {
		return
	}
	view := errorView(err)
	if p := s.thread.Fail(clientID, string(view.Code), view.Message, view.Retryable); p != nil {
		s.deliver(UpdateMessageFailed, p)
	}
}

// RetrySend returns the content of a failed send and marks it pending again
func (s *Session) RetrySend(clientID string) (conversationID, content string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.thread == nil {
		return "", "", errNoThread
	}
	content, ok := s.thread.Retry(clientID)
	if !ok {
		return "", "", apperr.NotFound("no failed message with this client id")
	}
	s.deliver(UpdateMessagePending, PendingSend{
		ClientID:       clientID,
		ConversationID: s.thread.ConversationID(),
		Content:        content,
		State:          SendPending,
	})
	return s.thread.ConversationID(), content, nil
}

// ConnectionChanged reports a subscription transition to the client
func (s *Session) ConnectionChanged(topic string, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver(UpdateConnection, ConnectionView{Topic: topic, State: state})
}

// Fail reports a dismissible error to the client
func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver(UpdateError, errorView(err))
}

// View is a point-in-time copy of the session state
type View struct {
	Unread        UnreadView
	Conversations []direct.Conversation
	Notifications NotificationsView
	Thread        *ThreadView
}

// View returns a copy of the session state
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Unread:        s.counters.View(),
		Conversations: slices.Clone(s.conversations),
		Notifications: NotificationsView{Notifications: s.notes.Items(), Unread: s.notes.Unread()},
	}
	if s.thread != nil {
		tv := s.thread.View()
		v.Thread = &tv
	}
	return v
}
