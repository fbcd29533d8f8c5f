package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/domain/notification/policy"
	"github.com/vadim/neo-inbox/internal/httpx/response"
)

// SocialPolicy records social actions of the caller as notifications
type SocialPolicy interface {
	Follow(ctx context.Context, actor policy.Actor, targetID string) (*entity.Notification, error)
	Like(ctx context.Context, actor policy.Actor, postID, ownerID string) (*entity.Notification, error)
	Comment(ctx context.Context, actor policy.Actor, in policy.CommentInput) (*entity.Notification, error)
}

// SocialHandler handles social action HTTP requests
type SocialHandler struct {
	policy SocialPolicy
}

// NewSocialHandler creates a new social handler
func NewSocialHandler(p SocialPolicy) *SocialHandler {
	return &SocialHandler{policy: p}
}

// RegisterRoutes registers social routes
func (h *SocialHandler) RegisterRoutes(r chi.Router) {
	r.Route("/social", func(r chi.Router) {
		r.Post("/follows", h.Follow())
		r.Post("/likes", h.Like())
		r.Post("/comments", h.Comment())
	})
}

// SocialActionRequest represents the request body of a social action
type SocialActionRequest struct {
	TargetID    string `json:"target_id"`
	PostID      string `json:"post_id"`
	PostOwnerID string `json:"post_owner_id"`
	CommentID   string `json:"comment_id"`
	Text        string `json:"text"`
}

// SocialActionResponse reports the notification the action produced, if any
type SocialActionResponse struct {
	Notification *entity.Notification `json:"notification"`
}

func decodeSocial(w http.ResponseWriter, r *http.Request) (SocialActionRequest, bool) {
	var req SocialActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON")
		return req, false
	}
	return req, true
}

func writeSocial(w http.ResponseWriter, n *entity.Notification, err error) {
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.Created(w, SocialActionResponse{Notification: n})
}

// Follow handles POST /social/follows
func (h *SocialHandler) Follow() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSocial(w, r)
		if !ok {
			return
		}
		n, err := h.policy.Follow(r.Context(), notificationActor(r), req.TargetID)
		writeSocial(w, n, err)
	}
}

// Like handles POST /social/likes
func (h *SocialHandler) Like() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSocial(w, r)
		if !ok {
			return
		}
		n, err := h.policy.Like(r.Context(), notificationActor(r), req.PostID, req.PostOwnerID)
		writeSocial(w, n, err)
	}
}

// Comment handles POST /social/comments
func (h *SocialHandler) Comment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeSocial(w, r)
		if !ok {
			return
		}
		n, err := h.policy.Comment(r.Context(), notificationActor(r), policy.CommentInput{
			PostID:    req.PostID,
			OwnerID:   req.PostOwnerID,
			CommentID: req.CommentID,
			Text:      req.Text,
		})
		writeSocial(w, n, err)
	}
}
