// Package broker consumes social events (follows, likes, comments) published
// by other services and turns them into notifications.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/domain/notification/policy"
)

// ActionHeader carries the event action of a delivery
const ActionHeader = "x-action"

// Actions understood by the consumer
const (
	ActionFollow  = "follow"
	ActionLike    = "like"
	ActionComment = "comment"
)

// ErrMalformed marks a delivery that can never be processed
var ErrMalformed = errors.New("malformed event")

// Notifier turns social events into notifications
type Notifier interface {
	Follow(ctx context.Context, actor policy.Actor, targetID string) (*entity.Notification, error)
	Like(ctx context.Context, actor policy.Actor, postID, ownerID string) (*entity.Notification, error)
	Comment(ctx context.Context, actor policy.Actor, in policy.CommentInput) (*entity.Notification, error)
}

// SocialEvent is the JSON body of a delivery
type SocialEvent struct {
	ActorID     string `json:"actor_id"`
	ActorName   string `json:"actor_name"`
	TargetID    string `json:"target_id"`
	PostID      string `json:"post_id"`
	PostOwnerID string `json:"post_owner_id"`
	CommentID   string `json:"comment_id"`
	Text        string `json:"text"`
}

// Config configures the consumer
type Config struct {
	URL      string
	Queue    string
	Prefetch int
	// MaxRedial caps the wait between reconnect attempts
	MaxRedial time.Duration
}

// Consumer consumes the social events queue
type Consumer struct {
	cfg      Config
	notifier Notifier
	logger   *slog.Logger
}

// NewConsumer creates a consumer; Run starts it
func NewConsumer(cfg Config, notifier Notifier, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Consumer{cfg: cfg, notifier: notifier, logger: logger.With("queue", cfg.Queue)}
}

// Handle processes one event. Errors wrapping ErrMalformed must not be retried.
func (c *Consumer) Handle(ctx context.Context, action string, body []byte) error {
	var ev SocialEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: decoding body: %w", ErrMalformed, err)
	}
	if ev.ActorID == "" {
		return fmt.Errorf("%w: missing actor", ErrMalformed)
	}
	actor := policy.Actor{UserID: ev.ActorID, Name: ev.ActorName}

	var err error
	switch action {
	case ActionFollow:
		_, err = c.notifier.Follow(ctx, actor, ev.TargetID)
	case ActionLike:
		_, err = c.notifier.Like(ctx, actor, ev.PostID, ev.PostOwnerID)
	case ActionComment:
		_, err = c.notifier.Comment(ctx, actor, policy.CommentInput{
			PostID:    ev.PostID,
			OwnerID:   ev.PostOwnerID,
			CommentID: ev.CommentID,
			Text:      ev.Text,
		})
	default:
		return fmt.Errorf("%w: unknown action %q", ErrMalformed, action)
	}
	if err != nil && !apperr.Retryable(err) {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return err
}

func actionOf(d amqp.Delivery) string {
	switch v := d.Headers[ActionHeader].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

// settle handles a delivery and acknowledges it: processed deliveries are
// acked, malformed ones rejected and transient failures requeued
func (c *Consumer) settle(ctx context.Context, d amqp.Delivery) {
	action := actionOf(d)
	err := c.Handle(ctx, action, d.Body)

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Warn("acking delivery", "error", ackErr)
		}
	case errors.Is(err, ErrMalformed):
		c.logger.Warn("rejecting malformed event", "action", action, "error", err)
		if rejErr := d.Reject(false); rejErr != nil {
			c.logger.Warn("rejecting delivery", "error", rejErr)
		}
	default:
		c.logger.Info("requeueing event", "action", action, "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Warn("nacking delivery", "error", nackErr)
		}
	}
}

// Run consumes until ctx is done, redialling with backoff when the
// connection drops
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	if c.cfg.MaxRedial > 0 {
		b.MaxInterval = c.cfg.MaxRedial
	}
	bo := backoff.WithContext(b, ctx)

	for {
		err := c.consume(ctx, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return nil
		}
		c.logger.Warn("broker connection lost, redialling", "error", err, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (c *Consumer) consume(ctx context.Context, connected func()) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dialing broker: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("setting prefetch: %w", err)
	}
	if _, err := ch.QueueDeclare(
		c.cfg.Queue, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	); err != nil {
		return fmt.Errorf("declaring queue: %w", err)
	}

	deliveries, err := ch.Consume(
		c.cfg.Queue, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}
	connected()
	c.logger.Info("consuming social events")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.settle(ctx, d)
		}
	}
}
