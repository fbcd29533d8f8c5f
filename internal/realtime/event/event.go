// Package event converts change-feed payloads into a closed set of typed events.
//
// The wire shape is {event_type, row_before?, row_after}. Decode is the only
// place that handles untyped data; everything past it switches on the concrete
// event types below.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	direct "github.com/vadim/neo-inbox/internal/domain/direct/entity"
	notification "github.com/vadim/neo-inbox/internal/domain/notification/entity"
)

// Type is the event_type of a change-feed payload
type Type string

const (
	TypeMessageInserted      Type = "message.inserted"
	TypeMessageUpdated       Type = "message.updated"
	TypeNotificationInserted Type = "notification.inserted"
	TypeNotificationUpdated  Type = "notification.updated"
)

var (
	ErrUnknownType   = errors.New("unknown event type")
	ErrMissingRow    = errors.New("event payload has no row_after")
	ErrMissingBefore = errors.New("update event payload has no row_before")
)

// Event is one of MessageInserted, MessageUpdated, NotificationInserted, NotificationUpdated
type Event interface {
	Type() Type
	sealed()
}

type MessageInserted struct {
	Message direct.Message
}

type MessageUpdated struct {
	Before direct.Message
	After  direct.Message
}

type NotificationInserted struct {
	Notification notification.Notification
}

type NotificationUpdated struct {
	Before notification.Notification
	After  notification.Notification
}

func (MessageInserted) Type() Type      { return TypeMessageInserted }
func (MessageUpdated) Type() Type       { return TypeMessageUpdated }
func (NotificationInserted) Type() Type { return TypeNotificationInserted }
func (NotificationUpdated) Type() Type  { return TypeNotificationUpdated }

func (MessageInserted) sealed()      {}
func (MessageUpdated) sealed()       {}
func (NotificationInserted) sealed() {}
func (NotificationUpdated) sealed()  {}

// BecameRead reports a read=false -> true transition
func (e MessageUpdated) BecameRead() bool { return !e.Before.Read && e.After.Read }

// BecameDeleted reports an is_deleted=false -> true transition
func (e MessageUpdated) BecameDeleted() bool { return !e.Before.IsDeleted && e.After.IsDeleted }

// BecameRead reports an is_read=false -> true transition
func (e NotificationUpdated) BecameRead() bool { return !e.Before.IsRead && e.After.IsRead }

type envelope struct {
	Type   Type            `json:"event_type"`
	Before json.RawMessage `json:"row_before,omitempty"`
	After  json.RawMessage `json:"row_after"`
}

// Encode serializes ev into the change-feed wire shape
func Encode(ev Event) ([]byte, error) {
	var before, after any
	switch e := ev.(type) {
	case MessageInserted:
		after = e.Message
	case MessageUpdated:
		before, after = e.Before, e.After
	case NotificationInserted:
		after = e.Notification
	case NotificationUpdated:
		before, after = e.Before, e.After
	default:
		return nil, fmt.Errorf("encoding %T: %w", ev, ErrUnknownType)
	}

	env := envelope{Type: ev.Type()}
	var err error
	if env.After, err = json.Marshal(after); err != nil {
		return nil, fmt.Errorf("marshaling row_after: %w", err)
	}
	if before != nil {
		if env.Before, err = json.Marshal(before); err != nil {
			return nil, fmt.Errorf("marshaling row_before: %w", err)
		}
	}
	return json.Marshal(env)
}

// Decode parses a change-feed payload into its typed event
func Decode(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if len(env.After) == 0 || string(env.After) == "null" {
		return nil, ErrMissingRow
	}

	switch env.Type {
	case TypeMessageInserted:
		var e MessageInserted
		if err := json.Unmarshal(env.After, &e.Message); err != nil {
			return nil, fmt.Errorf("decoding message row: %w", err)
		}
		return e, nil
	case TypeMessageUpdated:
		var e MessageUpdated
		if err := decodePair(env, &e.Before, &e.After); err != nil {
			return nil, err
		}
		return e, nil
	case TypeNotificationInserted:
		var e NotificationInserted
		if err := json.Unmarshal(env.After, &e.Notification); err != nil {
			return nil, fmt.Errorf("decoding notification row: %w", err)
		}
		return e, nil
	case TypeNotificationUpdated:
		var e NotificationUpdated
		if err := decodePair(env, &e.Before, &e.After); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodePair(env envelope, before, after any) error {
	if len(env.Before) == 0 || string(env.Before) == "null" {
		return ErrMissingBefore
	}
	if err := json.Unmarshal(env.Before, before); err != nil {
		return fmt.Errorf("decoding row_before: %w", err)
	}
	if err := json.Unmarshal(env.After, after); err != nil {
		return fmt.Errorf("decoding row_after: %w", err)
	}
	return nil
}
