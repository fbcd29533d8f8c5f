package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/apperr"
	directdao "github.com/vadim/neo-inbox/internal/domain/direct/dao"
	direct "github.com/vadim/neo-inbox/internal/domain/direct/entity"
	directpolicy "github.com/vadim/neo-inbox/internal/domain/direct/policy"
	directservice "github.com/vadim/neo-inbox/internal/domain/direct/service"
	notificationdao "github.com/vadim/neo-inbox/internal/domain/notification/dao"
	notificationpolicy "github.com/vadim/neo-inbox/internal/domain/notification/policy"
	notificationservice "github.com/vadim/neo-inbox/internal/domain/notification/service"
	"github.com/vadim/neo-inbox/internal/realtime/event"
	"github.com/vadim/neo-inbox/internal/realtime/transport"
)

const (
	waitFor = 3 * time.Second
	poll    = 10 * time.Millisecond
)

type lockedSink struct {
	mu      sync.Mutex
	updates []Update
}

func (s *lockedSink) Deliver(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, u)
}

func (s *lockedSink) sawState(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.updates {
		if v, ok := u.Data.(ConnectionView); ok && v.State == state {
			return true
		}
	}
	return false
}

type harness struct {
	hub    *transport.Hub
	direct *directpolicy.Policy
	notes  *notificationpolicy.Policy
	conv   *direct.Conversation
}

var (
	alice = directpolicy.Actor{UserID: "alice", Name: "Alice"}
	bob   = directpolicy.Actor{UserID: "bob", Name: "Bob"}
)

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := directdao.NewMemoryStore()
	hub := transport.NewHub(64)
	feed := transport.NewFeed(hub)

	dsvc := directservice.New(store.Conversations(), store.Participants(), store.Messages(), nil).WithFeed(feed)
	nsvc := notificationservice.New(notificationdao.NewNotificationMemory(), feed, nil)

	h := &harness{
		hub:    hub,
		direct: directpolicy.New(dsvc, time.Second),
		notes:  notificationpolicy.New(nsvc, time.Second),
	}

	conv, err := h.direct.ResolveConversation(context.Background(), alice, "bob")
	require.NoError(t, err)
	h.conv = conv
	return h
}

func (h *harness) start(t *testing.T, dir Directory) (*Supervisor, *lockedSink) {
	t.Helper()
	if dir == nil {
		dir = h.direct
	}
	sink := &lockedSink{}
	sup := NewSupervisor(New(Identity{UserID: "bob", Name: "Bob"}, sink, true), h.hub, dir, h.notes, Config{
		Reconnect: Reconnect{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond},
	}, nil)
	sup.Start(context.Background())
	t.Cleanup(sup.Stop)

	require.Eventually(t, func() bool {
		return len(sup.Session().View().Conversations) == 1
	}, waitFor, poll, "initial reconcile")
	return sup, sink
}

func (h *harness) send(t *testing.T, content string) *direct.Message {
	t.Helper()
	msg, err := h.direct.SendMessage(context.Background(), alice, directpolicy.SendMessageInput{
		ConversationID: h.conv.ID,
		Content:        content,
	})
	require.NoError(t, err)
	return msg
}

func (h *harness) storeUnread(t *testing.T) int {
	t.Helper()
	snap, err := h.direct.ComputeUnread(context.Background(), bob)
	require.NoError(t, err)
	return snap.Total
}

func TestSupervisorCountsPushedMessages(t *testing.T) {
	h := newHarness(t)
	sup, sink := h.start(t, nil)

	h.send(t, "hi")
	h.send(t, "are you there?")

	require.Eventually(t, func() bool {
		return sup.Session().View().Unread.Total == 2
	}, waitFor, poll)
	assert.Equal(t, h.storeUnread(t), sup.Session().View().Unread.Total)
	assert.True(t, sink.sawState(StateConnected))
}

func TestSupervisorReconcilesAfterOutage(t *testing.T) {
	h := newHarness(t)
	sup, sink := h.start(t, nil)
	topic := event.InboxTopic("bob")

	h.hub.FailSubscribe(topic, errors.New("broker down"))
	h.hub.Disconnect(topic)
	require.Eventually(t, func() bool { return sink.sawState(StateReconnecting) }, waitFor, poll)

	// nobody is listening while these are published
	h.send(t, "first")
	h.send(t, "second")
	assert.Zero(t, sup.Session().View().Unread.Total)

	h.hub.FailSubscribe(topic, nil)

	require.Eventually(t, func() bool {
		return sup.Session().View().Unread.Total == 2
	}, waitFor, poll)
	assert.Equal(t, h.storeUnread(t), sup.Session().View().Unread.Total)
	assert.Equal(t, 2, sup.Session().View().Conversations[0].UnreadCount)
}

func TestSupervisorOpenThreadReadsIncomingMessages(t *testing.T) {
	h := newHarness(t)
	sup, _ := h.start(t, nil)
	ctx := context.Background()

	h.send(t, "before open")
	require.Eventually(t, func() bool { return sup.Session().View().Unread.Total == 1 }, waitFor, poll)

	require.NoError(t, sup.OpenThread(ctx, h.conv.ID))
	require.Eventually(t, func() bool {
		return h.hub.Subscribers(event.ConversationTopic(h.conv.ID)) == 1
	}, waitFor, poll)

	_, err := sup.MarkRead(ctx, direct.ReadSelector{ConversationID: h.conv.ID})
	require.NoError(t, err)
	assert.Zero(t, sup.Session().View().Unread.Total)

	h.send(t, "while open")
	require.Eventually(t, func() bool {
		v := sup.Session().View()
		return v.Thread != nil && len(v.Thread.Messages) == 2 && h.storeUnread(t) == 0
	}, waitFor, poll)
	assert.Zero(t, sup.Session().View().Unread.Total)

	sup.CloseThread()
	assert.Nil(t, sup.Session().View().Thread)
	require.Eventually(t, func() bool {
		return h.hub.Subscribers(event.ConversationTopic(h.conv.ID)) == 0
	}, waitFor, poll)
}

type flakySend struct {
	Directory
	mu    sync.Mutex
	fails int
}

func (f *flakySend) SendMessage(ctx context.Context, actor directpolicy.Actor, in directpolicy.SendMessageInput) (*direct.Message, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return nil, apperr.Unavailable("inserting message", errors.New("connection reset"))
	}
	f.mu.Unlock()
	return f.Directory.SendMessage(ctx, actor, in)
}

func TestSupervisorRetriesFailedSend(t *testing.T) {
	h := newHarness(t)
	dir := &flakySend{Directory: h.direct, fails: 1}
	sup, _ := h.start(t, dir)
	ctx := context.Background()

	_, err := sup.Send(ctx, "local-1", "hello")
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err), "no thread open")

	require.NoError(t, sup.OpenThread(ctx, h.conv.ID))
	_, err = sup.Send(ctx, "local-1", "hello")
	var sendErr *SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "local-1", sendErr.ClientID)
	assert.True(t, apperr.Retryable(err))

	thread := sup.Session().View().Thread
	require.Len(t, thread.Pending, 1)
	assert.Equal(t, SendFailed, thread.Pending[0].State)
	assert.Equal(t, "hello", thread.Pending[0].Content)

	msg, err := sup.Retry(ctx, "local-1")
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.Content)

	thread = sup.Session().View().Thread
	assert.Empty(t, thread.Pending)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, msg.ID, thread.Messages[0].ID)
}

func TestSupervisorMarksNotificationsRead(t *testing.T) {
	h := newHarness(t)
	sup, _ := h.start(t, nil)
	ctx := context.Background()

	n, err := h.notes.Follow(ctx, notificationpolicy.Actor{UserID: "alice", Name: "Alice"}, "bob")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sup.Session().View().Notifications.Unread == 1
	}, waitFor, poll)

	require.NoError(t, sup.MarkNotificationRead(ctx, n.ID))
	assert.Zero(t, sup.Session().View().Notifications.Unread)

	err = sup.MarkNotificationRead(ctx, "missing")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}
