package session

import (
	"slices"
	"sort"

	direct "github.com/vadim/neo-inbox/internal/domain/direct/entity"
)

// SendState is the state of an optimistic send
type SendState string

const (
	SendPending SendState = "pending"
	SendFailed  SendState = "failed"
)

// PendingSend is a message the client composed that the store has not
// confirmed yet. A failed send keeps its content for retry.
type PendingSend struct {
	ClientID       string    `json:"client_id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	State          SendState `json:"state"`
	Error          string    `json:"error,omitempty"`
	Code           string    `json:"code,omitempty"`
	Retryable      bool      `json:"retryable,omitempty"`
}

// Thread is the open conversation's message list, ordered by
// (created_at, id) regardless of arrival order
type Thread struct {
	conversationID string
	messages       []direct.Message
	pending        map[string]*PendingSend
	order          []string
}

// NewThread creates a thread view seeded with fetched messages
func NewThread(conversationID string, messages []direct.Message) *Thread {
	t := &Thread{
		conversationID: conversationID,
		pending:        make(map[string]*PendingSend),
	}
	for _, m := range messages {
		t.Upsert(m)
	}
	return t
}

// ConversationID returns the conversation the thread shows
func (t *Thread) ConversationID() string { return t.conversationID }

// Upsert inserts msg at its ordered position or replaces the row with the
// same id. Deleted messages are removed. It reports whether msg is new.
func (t *Thread) Upsert(msg direct.Message) bool {
	if msg.ConversationID != t.conversationID {
		return false
	}
	idx := slices.IndexFunc(t.messages, func(m direct.Message) bool { return m.ID == msg.ID })
	if idx >= 0 {
		if msg.IsDeleted {
			t.messages = slices.Delete(t.messages, idx, idx+1)
		} else {
			t.messages[idx] = msg
		}
		return false
	}
	if msg.IsDeleted {
		return false
	}

	pos := sort.Search(len(t.messages), func(i int) bool { return msg.Before(t.messages[i]) })
	t.messages = slices.Insert(t.messages, pos, msg)
	return true
}

// Begin records an optimistic send
func (t *Thread) Begin(clientID, content string) *PendingSend {
	p, ok := t.pending[clientID]
	if !ok {
		p = &PendingSend{ClientID: clientID, ConversationID: t.conversationID}
		t.pending[clientID] = p
		t.order = append(t.order, clientID)
	}
	p.Content = content
	p.State = SendPending
	p.Error, p.Code, p.Retryable = "", "", false
	out := *p
	return &out
}

// Confirm replaces an optimistic send with the stored message
func (t *Thread) Confirm(clientID string, msg direct.Message) {
	t.drop(clientID)
	t.Upsert(msg)
}

// Fail marks an optimistic send failed; its content stays for retry
func (t *Thread) Fail(clientID, code, message string, retryable bool) *PendingSend {
	p, ok := t.pending[clientID]
	if !ok {
		return nil
	}
	p.State = SendFailed
	p.Code = code
	p.Error = message
	p.Retryable = retryable
	out := *p
	return &out
}

// Retry returns the content of a failed send and marks it pending again
func (t *Thread) Retry(clientID string) (string, bool) {
	p, ok := t.pending[clientID]
	if !ok || p.State != SendFailed {
		return "", false
	}
	p.State = SendPending
	p.Error, p.Code, p.Retryable = "", "", false
	return p.Content, true
}

func (t *Thread) drop(clientID string) {
	if _, ok := t.pending[clientID]; !ok {
		return
	}
	delete(t.pending, clientID)
	t.order = slices.DeleteFunc(t.order, func(id string) bool { return id == clientID })
}

// Messages returns a copy of the ordered messages
func (t *Thread) Messages() []direct.Message {
	return slices.Clone(t.messages)
}

// Pending returns the unconfirmed sends in the order they were composed
func (t *Thread) Pending() []PendingSend {
	out := make([]PendingSend, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.pending[id])
	}
	return out
}

// View returns the client-facing thread state
func (t *Thread) View() ThreadView {
	return ThreadView{
		ConversationID: t.conversationID,
		Messages:       t.Messages(),
		Pending:        t.Pending(),
	}
}

// ThreadView is the client-facing thread state
type ThreadView struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []direct.Message `json:"messages"`
	Pending        []PendingSend    `json:"pending"`
}
