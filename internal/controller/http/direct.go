package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	"github.com/vadim/neo-inbox/internal/domain/direct/policy"
	"github.com/vadim/neo-inbox/internal/domain/direct/service"
	"github.com/vadim/neo-inbox/internal/httpx/auth"
	"github.com/vadim/neo-inbox/internal/httpx/response"
)

// DirectPolicy defines the interface for direct message operations
type DirectPolicy interface {
	ResolveConversation(ctx context.Context, actor policy.Actor, otherUserID string) (*entity.Conversation, error)
	ListConversations(ctx context.Context, actor policy.Actor, in policy.ListConversationsInput) (*service.ListConversationsOutput, error)
	SendMessage(ctx context.Context, actor policy.Actor, in policy.SendMessageInput) (*entity.Message, error)
	FetchMessages(ctx context.Context, actor policy.Actor, in policy.FetchMessagesInput) (*service.FetchMessagesOutput, error)
	DeleteMessage(ctx context.Context, actor policy.Actor, messageID string) (*entity.Message, error)
	MarkRead(ctx context.Context, actor policy.Actor, sel entity.ReadSelector) ([]entity.Message, error)
	ComputeUnread(ctx context.Context, actor policy.Actor) (*entity.UnreadSnapshot, error)
}

// DirectHandler handles HTTP requests for direct messages
type DirectHandler struct {
	policy        DirectPolicy
	maxUploadSize int64
}

// NewDirectHandler creates a new direct message handler
func NewDirectHandler(p DirectPolicy, maxUploadSize int64) *DirectHandler {
	if maxUploadSize <= 0 {
		maxUploadSize = MaxUploadSize
	}
	return &DirectHandler{policy: p, maxUploadSize: maxUploadSize}
}

// RegisterRoutes registers direct message routes
func (h *DirectHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", h.ResolveConversation())
		r.Get("/", h.ListConversations())
		r.Get("/{conversationId}/messages", h.FetchMessages())
		r.Post("/{conversationId}/messages", h.SendMessage())
		r.Post("/{conversationId}/read", h.MarkRead())
	})
	r.Delete("/messages/{messageId}", h.DeleteMessage())
	r.Get("/unread", h.ComputeUnread())
}

func directActor(r *http.Request) (policy.Actor, bool) {
	id, ok := auth.FromContext(r.Context())
	return policy.Actor{UserID: id.UserID, Name: id.Name}, ok
}

// parsePage reads limit and offset query parameters
func parsePage(r *http.Request) (limit, offset int) {
	limit = 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 100 {
				limit = 100
			}
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// ResolveConversationRequest represents the request body for resolving a conversation
type ResolveConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// ResolveConversation handles POST /conversations
func (h *DirectHandler) ResolveConversation() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := directActor(r)

		var req ResolveConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid JSON")
			return
		}
		if req.OtherUserID == "" {
			response.BadRequest(w, "other_user_id is required")
			return
		}

		conv, err := h.policy.ResolveConversation(r.Context(), actor, req.OtherUserID)
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, conv)
	}
}

// ListConversationsResponse represents the response for listing conversations
type ListConversationsResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
	HasMore       bool                  `json:"has_more"`
}

// ListConversations handles GET /conversations
func (h *DirectHandler) ListConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := directActor(r)
		limit, offset := parsePage(r)

		result, err := h.policy.ListConversations(r.Context(), actor, policy.ListConversationsInput{
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, ListConversationsResponse{
			Conversations: result.Conversations,
			HasMore:       result.HasMore,
		})
	}
}

// FetchMessagesResponse represents the response for fetching messages
type FetchMessagesResponse struct {
	Messages []entity.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
}

// FetchMessages handles GET /conversations/{conversationId}/messages
func (h *DirectHandler) FetchMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := directActor(r)
		limit, offset := parsePage(r)

		result, err := h.policy.FetchMessages(r.Context(), actor, policy.FetchMessagesInput{
			ConversationID: chi.URLParam(r, "conversationId"),
			Limit:          limit,
			Offset:         offset,
		})
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, FetchMessagesResponse{
			Messages: result.Messages,
			HasMore:  result.HasMore,
		})
	}
}

// SendMessageRequest represents the JSON body for sending a text message
type SendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage handles POST /conversations/{conversationId}/messages.
// Attachments are sent as multipart/form-data with a "file" part.
func (h *DirectHandler) SendMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := directActor(r)
		in := policy.SendMessageInput{ConversationID: chi.URLParam(r, "conversationId")}

		if isMultipart(r) {
			att, err := parseAttachment(w, r, h.maxUploadSize)
			if err != nil {
				response.BadRequest(w, err.Error())
				return
			}
			defer att.Close()
			in.Content = att.Content
			in.Media = att.File
		} else {
			var req SendMessageRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.BadRequest(w, "invalid JSON")
				return
			}
			in.Content = req.Content
		}

		msg, err := h.policy.SendMessage(r.Context(), actor, in)
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.Created(w, msg)
	}
}

// MarkReadRequest represents the optional body for marking messages read
type MarkReadRequest struct {
	MessageIDs []string `json:"message_ids"`
}

// MarkReadResponse lists the messages that changed
type MarkReadResponse struct {
	Messages []entity.Message `json:"messages"`
}

// MarkRead handles POST /conversations/{conversationId}/read. Without
// message ids every message of the conversation is marked.
func (h *DirectHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := directActor(r)

		var req MarkReadRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				response.BadRequest(w, "invalid JSON")
				return
			}
		}

		sel := entity.ReadSelector{ConversationID: chi.URLParam(r, "conversationId")}
		if len(req.MessageIDs) > 0 {
			sel.MessageIDs = req.MessageIDs
		}

		flipped, err := h.policy.MarkRead(r.Context(), actor, sel)
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, MarkReadResponse{Messages: flipped})
	}
}

// DeleteMessage handles DELETE /messages/{messageId}
func (h *DirectHandler) DeleteMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := directActor(r)

		if _, err := h.policy.DeleteMessage(r.Context(), actor, chi.URLParam(r, "messageId")); err != nil {
			response.Fail(w, err)
			return
		}

		response.NoContent(w)
	}
}

// ComputeUnread handles GET /unread
func (h *DirectHandler) ComputeUnread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := directActor(r)

		snap, err := h.policy.ComputeUnread(r.Context(), actor)
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, snap)
	}
}
