package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vadim/neo-inbox/internal/apperr"
	directpolicy "github.com/vadim/neo-inbox/internal/domain/direct/policy"
	directservice "github.com/vadim/neo-inbox/internal/domain/direct/service"
	direct "github.com/vadim/neo-inbox/internal/domain/direct/entity"
	notificationpolicy "github.com/vadim/neo-inbox/internal/domain/notification/policy"
	notificationservice "github.com/vadim/neo-inbox/internal/domain/notification/service"
	notification "github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/realtime/event"
	"github.com/vadim/neo-inbox/internal/realtime/transport"
)

// Directory is the direct messaging surface a session drives
type Directory interface {
	ListConversations(ctx context.Context, actor directpolicy.Actor, in directpolicy.ListConversationsInput) (*directservice.ListConversationsOutput, error)
	SendMessage(ctx context.Context, actor directpolicy.Actor, in directpolicy.SendMessageInput) (*direct.Message, error)
	FetchMessages(ctx context.Context, actor directpolicy.Actor, in directpolicy.FetchMessagesInput) (*directservice.FetchMessagesOutput, error)
	MarkRead(ctx context.Context, actor directpolicy.Actor, sel direct.ReadSelector) ([]direct.Message, error)
	ComputeUnread(ctx context.Context, actor directpolicy.Actor) (*direct.UnreadSnapshot, error)
}

// Notifications is the notification surface a session drives
type Notifications interface {
	Fetch(ctx context.Context, actor notificationpolicy.Actor, in notificationpolicy.FetchInput) (*notificationservice.FetchOutput, error)
	MarkRead(ctx context.Context, actor notificationpolicy.Actor, id string) (*notification.Notification, error)
}

// Config configures a supervisor
type Config struct {
	Reconnect         Reconnect
	ReconcileInterval time.Duration
	ConversationPage  int
	NotificationPage  int
}

const (
	defaultConversationPage = 100
	defaultNotificationPage = 50
)

// Supervisor connects a Session to the push transport and the store. It
// keeps one inbox subscription for the session's lifetime and at most one
// conversation subscription for the open thread.
type Supervisor struct {
	session       *Session
	transport     transport.Transport
	directory     Directory
	notifications Notifications
	cfg           Config
	logger        *slog.Logger

	directActor       directpolicy.Actor
	notificationActor notificationpolicy.Actor

	reconcileReq chan struct{}

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	inbox  *Subscription
	thread *Subscription
	wg     sync.WaitGroup
}

// NewSupervisor creates a supervisor for sess
func NewSupervisor(sess *Session, tr transport.Transport, dir Directory, notes Notifications, cfg Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConversationPage <= 0 {
		cfg.ConversationPage = defaultConversationPage
	}
	if cfg.NotificationPage <= 0 {
		cfg.NotificationPage = defaultNotificationPage
	}
	id := sess.Identity()
	return &Supervisor{
		session:           sess,
		transport:         tr,
		directory:         dir,
		notifications:     notes,
		cfg:               cfg,
		logger:            logger.With("user_id", id.UserID),
		directActor:       directpolicy.Actor{UserID: id.UserID, Name: id.Name},
		notificationActor: notificationpolicy.Actor{UserID: id.UserID, Name: id.Name},
		reconcileReq:      make(chan struct{}, 1),
	}
}

// Session returns the supervised session
func (s *Supervisor) Session() *Session { return s.session }

// Start subscribes to the user's inbox and starts the reconcile loop.
// The first connect triggers the initial reconcile.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.inbox = s.subscribe(event.InboxTopic(s.directActor.UserID))
	s.inbox.Start(s.ctx)

	s.wg.Add(1)
	go s.reconcileLoop(s.ctx)
}

// Stop closes all subscriptions and waits for background work
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	inbox, thread := s.inbox, s.thread
	s.inbox, s.thread = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if thread != nil {
		thread.Close()
	}
	if inbox != nil {
		inbox.Close()
	}
	s.wg.Wait()
}

func (s *Supervisor) subscribe(topic string) *Subscription {
	return NewSubscription(topic, s.transport, s.cfg.Reconnect, SubscriptionHooks{
		OnEvent: s.handleEvent,
		OnConnected: func(string) {
			s.RequestReconcile()
		},
		OnState: s.session.ConnectionChanged,
	}, s.logger)
}

func (s *Supervisor) handleEvent(ctx context.Context, ev event.Event) {
	fx := s.session.Apply(ev)
	if fx.Reconcile {
		s.RequestReconcile()
	}
	if len(fx.MarkRead) == 0 {
		return
	}
	flipped, err := s.directory.MarkRead(ctx, s.directActor, direct.ReadSelector{MessageIDs: fx.MarkRead})
	if err != nil {
		s.logger.Warn("marking viewed messages read", "error", err)
		return
	}
	s.session.SettleRead(flipped)
}

// RequestReconcile schedules a reconcile without blocking. Requests made
// while one is queued are coalesced.
func (s *Supervisor) RequestReconcile() {
	select {
	case s.reconcileReq <- struct{}{}:
	default:
	}
}

func (s *Supervisor) reconcileLoop(ctx context.Context) {
	defer s.wg.Done()

	var tick <-chan time.Time
	if s.cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(s.cfg.ReconcileInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.reconcileReq:
		case <-tick:
		}
		if err := s.Reconcile(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reconciling session", "error", err)
			s.session.Fail(err)
		}
	}
}

var errStaleFetch = errors.New("state changed during fetch")

// Reconcile replaces the session state from the store. Transient failures
// and fetches overtaken by a read transition are retried with the reconnect
// backoff.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	op := func() error {
		r, err := s.fetchState(ctx)
		if err != nil {
			if apperr.CodeOf(err) == apperr.CodeStoreUnavailable {
				return err
			}
			return backoff.Permanent(err)
		}
		if !s.session.ApplyReconcile(*r) {
			return errStaleFetch
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("reconcile failed, retrying", "error", err, "wait", wait)
	}
	return backoff.RetryNotify(op, s.cfg.Reconnect.backOff(ctx), notify)
}

func (s *Supervisor) fetchState(ctx context.Context) (*Reconciled, error) {
	gen := s.session.Generation()

	// the snapshot goes first so anything pushed after it counts on top
	snap, err := s.directory.ComputeUnread(ctx, s.directActor)
	if err != nil {
		return nil, fmt.Errorf("computing unread: %w", err)
	}
	convs, err := s.directory.ListConversations(ctx, s.directActor, directpolicy.ListConversationsInput{Limit: s.cfg.ConversationPage})
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	notes, err := s.notifications.Fetch(ctx, s.notificationActor, notificationpolicy.FetchInput{Limit: s.cfg.NotificationPage})
	if err != nil {
		return nil, fmt.Errorf("fetching notifications: %w", err)
	}

	r := &Reconciled{
		Unread:             *snap,
		Conversations:      convs.Conversations,
		Notifications:      notes.Notifications,
		NotificationUnread: notes.UnreadCount,
		NotificationAsOf:   notes.AsOf,
		Generation:         gen,
	}

	if threadID := s.session.ThreadID(); threadID != "" {
		msgs, err := s.fetchThread(ctx, threadID)
		if err != nil {
			return nil, err
		}
		r.ThreadID = threadID
		r.ThreadMessages = msgs
	}
	return r, nil
}

func (s *Supervisor) fetchThread(ctx context.Context, conversationID string) ([]direct.Message, error) {
	out, err := s.directory.FetchMessages(ctx, s.directActor, directpolicy.FetchMessagesInput{ConversationID: conversationID})
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	return out.Messages, nil
}

// OpenThread shows a conversation and subscribes to its topic, replacing
// any previously open thread
func (s *Supervisor) OpenThread(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return apperr.InvalidArgument("conversation id is required")
	}
	msgs, err := s.fetchThread(ctx, conversationID)
	if err != nil {
		return err
	}
	s.session.OpenThread(conversationID, msgs)

	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return nil
	}
	prev := s.thread
	s.thread = s.subscribe(event.ConversationTopic(conversationID))
	s.thread.Start(s.ctx)
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return nil
}

// CloseThread closes the open thread and its subscription
func (s *Supervisor) CloseThread() {
	s.session.CloseThread()

	s.mu.Lock()
	prev := s.thread
	s.thread = nil
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
}

// Send sends content to the open thread. The send shows as pending until the
// store confirms it; a failure keeps the content for Retry.
func (s *Supervisor) Send(ctx context.Context, clientID, content string) (*direct.Message, error) {
	conversationID, err := s.session.BeginSend(clientID, content)
	if err != nil {
		return nil, err
	}
	return s.deliverSend(ctx, clientID, conversationID, content)
}

// Retry resends a failed send with its original content
func (s *Supervisor) Retry(ctx context.Context, clientID string) (*direct.Message, error) {
	conversationID, content, err := s.session.RetrySend(clientID)
	if err != nil {
		return nil, err
	}
	return s.deliverSend(ctx, clientID, conversationID, content)
}

// SendError is a send that failed after it was shown as pending. The
// thread keeps it for Retry.
type SendError struct {
	ClientID string
	Err      error
}

func (e *SendError) Error() string { return fmt.Sprintf("sending %s: %v", e.ClientID, e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

func (s *Supervisor) deliverSend(ctx context.Context, clientID, conversationID, content string) (*direct.Message, error) {
	msg, err := s.directory.SendMessage(ctx, s.directActor, directpolicy.SendMessageInput{
		ConversationID: conversationID,
		Content:        content,
	})
	if err != nil {
		s.session.FailSend(clientID, err)
		return nil, &SendError{ClientID: clientID, Err: err}
	}
	s.session.ConfirmSend(clientID, *msg)
	return msg, nil
}

// MarkRead marks messages read and settles the counters immediately
func (s *Supervisor) MarkRead(ctx context.Context, sel direct.ReadSelector) ([]direct.Message, error) {
	flipped, err := s.directory.MarkRead(ctx, s.directActor, sel)
	if err != nil {
		return nil, err
	}
	s.session.SettleRead(flipped)
	return flipped, nil
}

// MarkNotificationRead marks one notification read
func (s *Supervisor) MarkNotificationRead(ctx context.Context, id string) error {
	n, err := s.notifications.MarkRead(ctx, s.notificationActor, id)
	if err != nil {
		return err
	}
	s.session.SettleNotification(*n)
	return nil
}
