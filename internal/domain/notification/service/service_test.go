package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/notification/dao"
	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/realtime/event"
)

type recordingFeed struct {
	mu     sync.Mutex
	events map[string][]event.Event
}

func (f *recordingFeed) Publish(_ context.Context, topic string, ev event.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events == nil {
		f.events = map[string][]event.Event{}
	}
	f.events[topic] = append(f.events[topic], ev)
	return nil
}

func (f *recordingFeed) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[topic])
}

func newService() (*Service, *dao.NotificationMemory, *recordingFeed) {
	repo := dao.NewNotificationMemory()
	feed := &recordingFeed{}
	return New(repo, feed, nil), repo, feed
}

func TestSelfActionsProduceNoNotification(t *testing.T) {
	svc, repo, feed := newService()
	ctx := context.Background()

	n, err := svc.NotifyFollow(ctx, FollowEvent{ActorID: "alice", TargetID: "alice"})
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = svc.NotifyLike(ctx, LikeEvent{ActorID: "alice", PostID: "p1", PostOwnerID: "alice"})
	require.NoError(t, err)
	assert.Nil(t, n)

	n, err = svc.NotifyComment(ctx, CommentEvent{ActorID: "alice", PostID: "p1", PostOwnerID: "alice", CommentID: "c1"})
	require.NoError(t, err)
	assert.Nil(t, n)

	count, _, err := repo.CountUnread(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, feed.count(event.InboxTopic("alice")))
}

func TestEmitIsIdempotentPerEvent(t *testing.T) {
	svc, _, feed := newService()
	ctx := context.Background()
	like := LikeEvent{ActorID: "alice", ActorName: "Alice", PostID: "p1", PostOwnerID: "bob"}

	first, err := svc.NotifyLike(ctx, like)
	require.NoError(t, err)
	second, err := svc.NotifyLike(ctx, like)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, feed.count(event.InboxTopic("bob")))

	out, err := svc.Fetch(ctx, FetchInput{UserID: "bob"})
	require.NoError(t, err)
	require.Len(t, out.Notifications, 1)
	assert.Equal(t, 1, out.UnreadCount)
	assert.False(t, out.AsOf.IsZero())
	assert.Equal(t, "Alice liked your post", out.Notifications[0].Message)
	assert.Equal(t, "/posts/p1", out.Notifications[0].ActionURL)
}

func TestBuildersLinkToTheirTargets(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	msg, err := svc.NotifyMessage(ctx, MessageEvent{MessageID: "m1", ConversationID: "c1", SenderID: "alice", SenderName: "Alice", ReceiverID: "bob", Preview: "hi"})
	require.NoError(t, err)
	assert.Equal(t, entity.TypeMessage, msg.Type)
	assert.Equal(t, "/messages/c1", msg.ActionURL)
	assert.Equal(t, "Alice: hi", msg.Message)

	follow, err := svc.NotifyFollow(ctx, FollowEvent{ActorID: "alice", TargetID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "/users/alice", follow.ActionURL)
	assert.Equal(t, "Someone started following you", follow.Message)

	comment, err := svc.NotifyComment(ctx, CommentEvent{ActorID: "alice", PostID: "p9", PostOwnerID: "bob", CommentID: "k1", Text: "nice"})
	require.NoError(t, err)
	assert.Equal(t, "/posts/p9#comment-k1", comment.ActionURL)
	assert.Equal(t, "p9", comment.RelatedPostID)

	_, err = svc.NotifyComment(ctx, CommentEvent{ActorID: "alice", PostID: "p9", PostOwnerID: "bob"})
	assert.ErrorIs(t, err, entity.ErrMissingComment)
}

func TestMarkReadPublishesOnlyOnTransition(t *testing.T) {
	svc, _, feed := newService()
	ctx := context.Background()

	n, err := svc.NotifyFollow(ctx, FollowEvent{ActorID: "alice", TargetID: "bob"})
	require.NoError(t, err)

	read, err := svc.MarkRead(ctx, n.ID, "bob")
	require.NoError(t, err)
	assert.True(t, read.IsRead)
	assert.NotNil(t, read.ReadAt)

	again, err := svc.MarkRead(ctx, n.ID, "bob")
	require.NoError(t, err)
	assert.True(t, again.IsRead)

	// one insert and one update
	assert.Equal(t, 2, feed.count(event.InboxTopic("bob")))

	_, err = svc.MarkRead(ctx, n.ID, "mallory")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestMarkAllReadAndDelete(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()

	for _, actor := range []string{"alice", "carol", "dave"} {
		_, err := svc.NotifyFollow(ctx, FollowEvent{ActorID: actor, TargetID: "bob"})
		require.NoError(t, err)
	}

	changed, err := svc.MarkAllRead(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 3, changed)

	changed, err = svc.MarkAllRead(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, changed)

	out, err := svc.Fetch(ctx, FetchInput{UserID: "bob", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, out.Notifications, 2)
	assert.True(t, out.HasMore)
	assert.Zero(t, out.UnreadCount)

	require.NoError(t, svc.Delete(ctx, out.Notifications[0].ID, "bob"))
	err = svc.Delete(ctx, out.Notifications[0].ID, "bob")
	assert.ErrorIs(t, err, entity.ErrNotificationNotFound)

	unread, err := svc.Fetch(ctx, FetchInput{UserID: "bob", UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread.Notifications)
}
