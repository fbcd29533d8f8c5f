package dao

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
)

// MemoryStore keeps conversations, participants and messages in process.
// It backs single-node deployments without DATABASE_URL and service tests,
// and honours the same constraints as the PostgreSQL schema.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*entity.Conversation
	pairs         map[[2]string]string
	participants  map[string][]entity.Participant
	messages      map[string]*entity.Message
	byConv        map[string][]string
	last          time.Time
	now           func() time.Time
}

// NewMemoryStore creates an empty in-memory direct store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*entity.Conversation),
		pairs:         make(map[[2]string]string),
		participants:  make(map[string][]entity.Participant),
		messages:      make(map[string]*entity.Message),
		byConv:        make(map[string][]string),
		now:           time.Now,
	}
}

// tick returns a strictly increasing store timestamp; callers hold mu
func (s *MemoryStore) tick() time.Time {
	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

// Conversations returns the conversation repository view of the store
func (s *MemoryStore) Conversations() *ConversationMemory { return &ConversationMemory{s: s} }

// Participants returns the participant repository view of the store
func (s *MemoryStore) Participants() *ParticipantMemory { return &ParticipantMemory{s: s} }

// Messages returns the message repository view of the store
func (s *MemoryStore) Messages() *MessageMemory { return &MessageMemory{s: s} }

// ConversationMemory implements conversation repository in memory
type ConversationMemory struct {
	s *MemoryStore
}

func (r *ConversationMemory) FindByPair(ctx context.Context, userA, userB string) (*entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("finding conversation by pair", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	low, high := entity.PairKey(userA, userB)
	id, ok := r.s.pairs[[2]string{low, high}]
	if !ok {
		return nil, nil
	}
	conv := *r.s.conversations[id]
	return &conv, nil
}

func (r *ConversationMemory) CreateWithParticipants(ctx context.Context, conv *entity.Conversation, userA, userB string) error {
	if err := ctx.Err(); err != nil {
		return storeError("inserting conversation", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	low, high := entity.PairKey(userA, userB)
	key := [2]string{low, high}
	if _, exists := r.s.pairs[key]; exists {
		return entity.ErrPairConflict
	}

	now := r.s.tick()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	stored := entity.Conversation{ID: conv.ID, CreatedAt: now, UpdatedAt: now}

	r.s.conversations[conv.ID] = &stored
	r.s.pairs[key] = conv.ID
	r.s.participants[conv.ID] = []entity.Participant{
		{ConversationID: conv.ID, UserID: low},
		{ConversationID: conv.ID, UserID: high},
	}
	return nil
}

func (r *ConversationMemory) GetByID(ctx context.Context, id string) (*entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("getting conversation", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	conv, ok := r.s.conversations[id]
	if !ok {
		return nil, nil
	}
	out := *conv
	return &out, nil
}

func (r *ConversationMemory) ListForUser(ctx context.Context, userID string, limit, offset int) ([]entity.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("querying conversations", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []entity.Conversation
	for id, participants := range r.s.participants {
		var me *entity.Participant
		for i := range participants {
			if participants[i].UserID == userID {
				me = &participants[i]
			}
		}
		if me == nil {
			continue
		}
		other, _ := entity.OtherParticipant(participants, userID)

		conv := *r.s.conversations[id]
		conv.ParticipantID = other
		conv.LastReadAt = me.LastReadAt
		conv.IsMuted = me.IsMuted
		conv.IsArchived = me.IsArchived

		var last *entity.Message
		for _, msgID := range r.s.byConv[id] {
			msg := r.s.messages[msgID]
			if msg.CountsAsUnreadFor(userID) {
				conv.UnreadCount++
			}
			if !msg.IsDeleted && (last == nil || last.Before(*msg)) {
				last = msg
			}
		}
		if last != nil {
			at := last.CreatedAt
			conv.LastMessageAt = &at
			conv.LastMessageText = last.Preview()
			conv.LastMessageIsFromMe = last.SenderID == userID
		}
		out = append(out, conv)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, limit, offset), nil
}

// ParticipantMemory implements participant repository in memory
type ParticipantMemory struct {
	s *MemoryStore
}

func (r *ParticipantMemory) ListByConversation(ctx context.Context, conversationID string) ([]entity.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("querying participants", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	return slices.Clone(r.s.participants[conversationID]), nil
}

func (r *ParticipantMemory) MarkOpened(ctx context.Context, conversationID, userID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return storeError("updating last_read_at", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	participants := r.s.participants[conversationID]
	for i := range participants {
		if participants[i].UserID != userID {
			continue
		}
		if participants[i].LastReadAt == nil || participants[i].LastReadAt.Before(at) {
			t := at
			participants[i].LastReadAt = &t
		}
	}
	return nil
}

// SetMuted toggles the participant's mute flag
func (r *ParticipantMemory) SetMuted(conversationID, userID string, muted bool) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	participants := r.s.participants[conversationID]
	for i := range participants {
		if participants[i].UserID == userID {
			participants[i].IsMuted = muted
		}
	}
}

// MessageMemory implements message repository in memory
type MessageMemory struct {
	s *MemoryStore
}

func (r *MessageMemory) Append(ctx context.Context, msg *entity.Message) error {
	if err := ctx.Err(); err != nil {
		return storeError("inserting message", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	conv, ok := r.s.conversations[msg.ConversationID]
	if !ok {
		return entity.ErrConversationNotFound
	}

	msg.CreatedAt = r.s.tick()
	msg.UpdatedAt = msg.CreatedAt
	msg.Read = false
	msg.IsDeleted = false

	stored := *msg
	r.s.messages[msg.ID] = &stored
	r.s.byConv[msg.ConversationID] = append(r.s.byConv[msg.ConversationID], msg.ID)
	if msg.CreatedAt.After(conv.UpdatedAt) {
		conv.UpdatedAt = msg.CreatedAt
	}
	return nil
}

func (r *MessageMemory) GetByID(ctx context.Context, id string) (*entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("getting message", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msg, ok := r.s.messages[id]
	if !ok {
		return nil, nil
	}
	out := *msg
	return &out, nil
}

func (r *MessageMemory) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("querying messages", err)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []entity.Message
	for _, id := range r.s.byConv[conversationID] {
		if msg := r.s.messages[id]; !msg.IsDeleted {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return page(out, limit, offset), nil
}

func (r *MessageMemory) SoftDelete(ctx context.Context, id string) (*entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("deleting message", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	msg, ok := r.s.messages[id]
	if !ok || msg.IsDeleted {
		return nil, nil
	}
	msg.IsDeleted = true
	msg.UpdatedAt = r.s.tick()
	out := *msg
	return &out, nil
}

func (r *MessageMemory) MarkRead(ctx context.Context, userID string, sel entity.ReadSelector) ([]entity.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("marking messages read", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := sel.MessageIDs
	if len(ids) == 0 {
		ids = r.s.byConv[sel.ConversationID]
	}

	var flipped []entity.Message
	for _, id := range ids {
		msg, ok := r.s.messages[id]
		if !ok || !msg.CountsAsUnreadFor(userID) {
			continue
		}
		if sel.ConversationID != "" && msg.ConversationID != sel.ConversationID {
			continue
		}
		msg.Read = true
		msg.UpdatedAt = r.s.tick()
		flipped = append(flipped, *msg)
	}
	return flipped, nil
}

func (r *MessageMemory) CountUnread(ctx context.Context, userID string) (*entity.UnreadSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, storeError("counting unread messages", err)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	snap := &entity.UnreadSnapshot{
		UserID:          userID,
		PerConversation: map[string]int{},
		AsOf:            r.s.tick(),
	}
	for convID, participants := range r.s.participants {
		member := false
		for _, p := range participants {
			member = member || p.UserID == userID
		}
		if !member {
			continue
		}
		count := 0
		for _, id := range r.s.byConv[convID] {
			if r.s.messages[id].CountsAsUnreadFor(userID) {
				count++
			}
		}
		snap.PerConversation[convID] = count
		snap.Total += count
	}
	return snap, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
