package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/neo-inbox/internal/domain/notification/entity"
	"github.com/vadim/neo-inbox/internal/domain/notification/policy"
	"github.com/vadim/neo-inbox/internal/domain/notification/service"
	"github.com/vadim/neo-inbox/internal/httpx/auth"
	"github.com/vadim/neo-inbox/internal/httpx/response"
)

// NotificationPolicy defines the interface for notification operations
type NotificationPolicy interface {
	Fetch(ctx context.Context, actor policy.Actor, in policy.FetchInput) (*service.FetchOutput, error)
	MarkRead(ctx context.Context, actor policy.Actor, id string) (*entity.Notification, error)
	MarkAllRead(ctx context.Context, actor policy.Actor) (int, error)
	Delete(ctx context.Context, actor policy.Actor, id string) error
}

// NotificationHandler handles HTTP requests for notifications
type NotificationHandler struct {
	policy NotificationPolicy
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(p NotificationPolicy) *NotificationHandler {
	return &NotificationHandler{policy: p}
}

// RegisterRoutes registers notification routes
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Get("/", h.Fetch())
		r.Post("/read-all", h.MarkAllRead())
		r.Post("/{notificationId}/read", h.MarkRead())
		r.Delete("/{notificationId}", h.Delete())
	})
}

func notificationActor(r *http.Request) policy.Actor {
	id, _ := auth.FromContext(r.Context())
	return policy.Actor{UserID: id.UserID, Name: id.Name}
}

// FetchNotificationsResponse represents the response for fetching notifications
type FetchNotificationsResponse struct {
	Notifications []entity.Notification `json:"notifications"`
	UnreadCount   int                   `json:"unread_count"`
	HasMore       bool                  `json:"has_more"`
}

// Fetch handles GET /notifications
func (h *NotificationHandler) Fetch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := parsePage(r)
		unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread_only"))

		result, err := h.policy.Fetch(r.Context(), notificationActor(r), policy.FetchInput{
			UnreadOnly: unreadOnly,
			Limit:      limit,
			Offset:     offset,
		})
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, FetchNotificationsResponse{
			Notifications: result.Notifications,
			UnreadCount:   result.UnreadCount,
			HasMore:       result.HasMore,
		})
	}
}

// MarkRead handles POST /notifications/{notificationId}/read
func (h *NotificationHandler) MarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.policy.MarkRead(r.Context(), notificationActor(r), chi.URLParam(r, "notificationId"))
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, n)
	}
}

// MarkAllReadResponse reports how many notifications changed
type MarkAllReadResponse struct {
	Updated int `json:"updated"`
}

// MarkAllRead handles POST /notifications/read-all
func (h *NotificationHandler) MarkAllRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		updated, err := h.policy.MarkAllRead(r.Context(), notificationActor(r))
		if err != nil {
			response.Fail(w, err)
			return
		}

		response.OK(w, MarkAllReadResponse{Updated: updated})
	}
}

// Delete handles DELETE /notifications/{notificationId}
func (h *NotificationHandler) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h.policy.Delete(r.Context(), notificationActor(r), chi.URLParam(r, "notificationId")); err != nil {
			response.Fail(w, err)
			return
		}

		response.NoContent(w)
	}
}
