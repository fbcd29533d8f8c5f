package broker

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/notification/dao"
	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/domain/notification/policy"
	"github.com/vadim/neo-inbox/internal/domain/notification/service"
)

type ackRecorder struct {
	acked, rejected, requeued int
}

func (a *ackRecorder) Ack(uint64, bool) error { a.acked++; return nil }

func (a *ackRecorder) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		a.requeued++
	} else {
		a.rejected++
	}
	return nil
}

func (a *ackRecorder) Reject(_ uint64, requeue bool) error {
	return a.Nack(0, false, requeue)
}

func delivery(ack amqp.Acknowledger, action, body string) amqp.Delivery {
	return amqp.Delivery{
		Acknowledger: ack,
		Headers:      amqp.Table{ActionHeader: action},
		Body:         []byte(body),
	}
}

func newConsumer() (*Consumer, *service.Service) {
	svc := service.New(dao.NewNotificationMemory(), nil, nil)
	return NewConsumer(Config{Queue: "social-events"}, policy.New(svc, 0), nil), svc
}

func TestSettleCreatesNotifications(t *testing.T) {
	c, svc := newConsumer()
	ack := &ackRecorder{}
	ctx := context.Background()

	c.settle(ctx, delivery(ack, ActionFollow, `{"actor_id":"alice","actor_name":"Alice","target_id":"bob"}`))
	c.settle(ctx, delivery(ack, ActionLike, `{"actor_id":"alice","post_id":"p1","post_owner_id":"bob"}`))
	c.settle(ctx, delivery(ack, ActionComment, `{"actor_id":"carol","post_id":"p1","post_owner_id":"bob","comment_id":"k1","text":"wow"}`))
	// redelivery of the same follow
	c.settle(ctx, delivery(ack, ActionFollow, `{"actor_id":"alice","actor_name":"Alice","target_id":"bob"}`))

	assert.Equal(t, 4, ack.acked)

	out, err := svc.Fetch(ctx, service.FetchInput{UserID: "bob"})
	require.NoError(t, err)
	assert.Len(t, out.Notifications, 3)
	assert.Equal(t, 3, out.UnreadCount)
}

func TestSettleRejectsMalformedDeliveries(t *testing.T) {
	c, _ := newConsumer()
	ctx := context.Background()

	for name, d := range map[string]struct{ action, body string }{
		"bad json":        {ActionFollow, `{`},
		"no actor":        {ActionFollow, `{"target_id":"bob"}`},
		"unknown action":  {"poke", `{"actor_id":"alice","target_id":"bob"}`},
		"missing target":  {ActionFollow, `{"actor_id":"alice"}`},
		"missing comment": {ActionComment, `{"actor_id":"alice","post_id":"p1","post_owner_id":"bob"}`},
	} {
		t.Run(name, func(t *testing.T) {
			ack := &ackRecorder{}
			c.settle(ctx, delivery(ack, d.action, d.body))
			assert.Equal(t, 1, ack.rejected)
			assert.Zero(t, ack.acked)
		})
	}
}

type unavailableNotifier struct{}

func (unavailableNotifier) Follow(context.Context, policy.Actor, string) (*entity.Notification, error) {
	return nil, apperr.Unavailable("inserting notification", errors.New("connection refused"))
}

func (unavailableNotifier) Like(context.Context, policy.Actor, string, string) (*entity.Notification, error) {
	return nil, nil
}

func (unavailableNotifier) Comment(context.Context, policy.Actor, policy.CommentInput) (*entity.Notification, error) {
	return nil, nil
}

func TestSettleRequeuesTransientFailures(t *testing.T) {
	c := NewConsumer(Config{Queue: "social-events"}, unavailableNotifier{}, nil)
	ack := &ackRecorder{}

	c.settle(context.Background(), delivery(ack, ActionFollow, `{"actor_id":"alice","target_id":"bob"}`))
	assert.Equal(t, 1, ack.requeued)
	assert.Zero(t, ack.rejected)
}
