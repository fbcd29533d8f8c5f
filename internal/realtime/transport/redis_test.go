package transport

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests are skipped in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisPubSub(t *testing.T) {
	client := startRedis(t)
	tr := NewRedis(client, 8)
	ctx := context.Background()

	s, err := tr.Subscribe(ctx, "inbox:bob")
	require.NoError(t, err)

	require.NoError(t, tr.Publish(ctx, "inbox:bob", []byte(`{"event_type":"message.inserted"}`)))
	assert.Equal(t, `{"event_type":"message.inserted"}`, string(receive(t, s)))

	require.NoError(t, s.Close())
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream not ended")
	}
	assert.ErrorIs(t, s.Err(), ErrClosed)
}
