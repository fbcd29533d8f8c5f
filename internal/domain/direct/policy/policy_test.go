package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/direct/dao"
	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	"github.com/vadim/neo-inbox/internal/domain/direct/service"
)

// stalledService never answers until the caller gives up
type stalledService struct {
	DirectService
}

func (stalledService) ComputeUnread(ctx context.Context, _ string) (*entity.UnreadSnapshot, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPolicyRequiresActor(t *testing.T) {
	store := dao.NewMemoryStore()
	p := New(service.New(store.Conversations(), store.Participants(), store.Messages(), nil), time.Second)

	_, err := p.ResolveConversation(context.Background(), Actor{}, "bob")
	assert.Equal(t, apperr.CodeNotAuthenticated, apperr.CodeOf(err))
}

func TestPolicyBoundsSuspendedCalls(t *testing.T) {
	p := New(stalledService{}, 20*time.Millisecond)

	start := time.Now()
	_, err := p.ComputeUnread(context.Background(), Actor{UserID: "alice"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, apperr.CodeStoreUnavailable, apperr.CodeOf(err))
	assert.True(t, apperr.Retryable(err))
}

func TestPolicyStampsSender(t *testing.T) {
	store := dao.NewMemoryStore()
	p := New(service.New(store.Conversations(), store.Participants(), store.Messages(), nil), time.Second)
	ctx := context.Background()
	alice := Actor{UserID: "alice", Name: "Alice"}

	conv, err := p.ResolveConversation(ctx, alice, "bob")
	require.NoError(t, err)

	msg, err := p.SendMessage(ctx, alice, SendMessageInput{ConversationID: conv.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)

	unread, err := p.ComputeUnread(ctx, Actor{UserID: "bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, unread.Total)
}
