package dao

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/vadim/neo-inbox/internal/database"
	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
)

type repository interface {
	Insert(ctx context.Context, n *entity.Notification) (bool, error)
	GetByID(ctx context.Context, id string) (*entity.Notification, error)
	GetByEventKey(ctx context.Context, key string) (*entity.Notification, error)
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]entity.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, time.Time, error)
	MarkRead(ctx context.Context, id, userID string) (*entity.Notification, error)
	MarkAllRead(ctx context.Context, userID string) ([]entity.Notification, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container tests are skipped in -short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("inbox"),
		postgres.WithUsername("inbox"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := database.NewPostgresPool(ctx, dsn, database.PoolConfig{MaxConns: 4, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, database.EnsureSchema(ctx, pool))
	return pool
}

func newFollow(recipient, actor string) *entity.Notification {
	return &entity.Notification{
		ID:            uuid.NewString(),
		UserID:        recipient,
		Type:          entity.TypeFollow,
		Title:         "New follower",
		Message:       actor + " started following you",
		RelatedUserID: actor,
		ActionURL:     "/users/" + actor,
		EventKey:      entity.FollowEventKey(actor, recipient),
	}
}

func TestMemoryRepository(t *testing.T) {
	testRepository(t, NewNotificationMemory())
}

func TestPostgresRepository(t *testing.T) {
	testRepository(t, NewNotificationPostgres(startPostgres(t)))
}

func testRepository(t *testing.T, repo repository) {
	ctx := context.Background()
	recipient := "user-" + uuid.NewString()

	first := newFollow(recipient, "alice")
	inserted, err := repo.Insert(ctx, first)
	require.NoError(t, err)
	require.True(t, inserted)
	assert.False(t, first.CreatedAt.IsZero())

	t.Run("event key is unique", func(t *testing.T) {
		dup := newFollow(recipient, "alice")
		inserted, err := repo.Insert(ctx, dup)
		require.NoError(t, err)
		assert.False(t, inserted)

		existing, err := repo.GetByEventKey(ctx, dup.EventKey)
		require.NoError(t, err)
		require.NotNil(t, existing)
		assert.Equal(t, first.ID, existing.ID)
	})

	second := newFollow(recipient, "carol")
	_, err = repo.Insert(ctx, second)
	require.NoError(t, err)

	t.Run("lists newest first", func(t *testing.T) {
		list, err := repo.ListForUser(ctx, recipient, false, 10, 0)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, first.ID, list[1].ID)

		page, err := repo.ListForUser(ctx, recipient, false, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, first.ID, page[0].ID)
	})

	t.Run("mark read flips once and only for the owner", func(t *testing.T) {
		_, before, err := repo.CountUnread(ctx, recipient)
		require.NoError(t, err)

		other, err := repo.MarkRead(ctx, first.ID, "mallory")
		require.NoError(t, err)
		assert.Nil(t, other)

		read, err := repo.MarkRead(ctx, first.ID, recipient)
		require.NoError(t, err)
		require.NotNil(t, read)
		assert.True(t, read.IsRead)
		require.NotNil(t, read.ReadAt)
		assert.True(t, read.ReadAt.After(before), "read_at comes from the store clock")

		again, err := repo.MarkRead(ctx, first.ID, recipient)
		require.NoError(t, err)
		assert.Nil(t, again)

		count, asOf, err := repo.CountUnread(ctx, recipient)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.False(t, asOf.Before(*read.ReadAt), "a count reflecting the read is stamped no earlier than it")

		unread, err := repo.ListForUser(ctx, recipient, true, 10, 0)
		require.NoError(t, err)
		require.Len(t, unread, 1)
		assert.Equal(t, second.ID, unread[0].ID)
	})

	t.Run("mark all read returns the changed rows", func(t *testing.T) {
		flipped, err := repo.MarkAllRead(ctx, recipient)
		require.NoError(t, err)
		require.Len(t, flipped, 1)
		assert.Equal(t, second.ID, flipped[0].ID)

		flipped, err = repo.MarkAllRead(ctx, recipient)
		require.NoError(t, err)
		assert.Empty(t, flipped)
	})

	t.Run("delete is owner scoped", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, first.ID, "mallory")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = repo.Delete(ctx, first.ID, recipient)
		require.NoError(t, err)
		assert.True(t, deleted)

		gone, err := repo.GetByID(ctx, first.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("cancelled context is unavailable", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := repo.CountUnread(cancelled, recipient)
		assert.Error(t, err)
	})
}
