package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/vadim/neo-inbox/internal/apperr"
	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	"github.com/vadim/neo-inbox/internal/httpx/auth"
	"github.com/vadim/neo-inbox/internal/httpx/response"
	"github.com/vadim/neo-inbox/internal/realtime/session"
	"github.com/vadim/neo-inbox/internal/realtime/transport"
)

// Client commands accepted over the websocket
const (
	CommandOpenThread       = "thread.open"
	CommandCloseThread      = "thread.close"
	CommandSendMessage      = "message.send"
	CommandRetryMessage     = "message.retry"
	CommandMarkRead         = "messages.read"
	CommandReadNotification = "notification.read"
	CommandReconcile        = "reconcile"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	pingInterval = 25 * time.Second
)

// Command is a client-to-server websocket frame
type Command struct {
	Type           string   `json:"type"`
	ConversationID string   `json:"conversation_id,omitempty"`
	ClientID       string   `json:"client_id,omitempty"`
	Content        string   `json:"content,omitempty"`
	MessageIDs     []string `json:"message_ids,omitempty"`
	NotificationID string   `json:"notification_id,omitempty"`
}

// RealtimeConfig configures websocket sessions
type RealtimeConfig struct {
	Supervisor     session.Config
	Alerts         bool
	OriginPatterns []string
}

// RealtimeHandler serves live inbox sessions over websockets
type RealtimeHandler struct {
	transport     transport.Transport
	directory     session.Directory
	notifications session.Notifications
	cfg           RealtimeConfig
	logger        *slog.Logger
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(tr transport.Transport, dir session.Directory, notes session.Notifications, cfg RealtimeConfig, logger *slog.Logger) *RealtimeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeHandler{
		transport:     tr,
		directory:     dir,
		notifications: notes,
		cfg:           cfg,
		logger:        logger,
	}
}

// RegisterRoutes registers realtime routes
func (h *RealtimeHandler) RegisterRoutes(r chi.Router) {
	r.Get("/realtime", h.Connect())
}

// wsClient writes session updates to one websocket
type wsClient struct {
	conn   *websocket.Conn
	send   chan session.Update
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

// Deliver queues an update. A client that falls a full buffer behind is
// disconnected and resynchronises on reconnect.
func (c *wsClient) Deliver(u session.Update) {
	select {
	case c.send <- u:
	default:
		c.logger.Warn("client too slow, disconnecting", "update", u.Type)
		c.cancel()
	}
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case u := <-c.send:
			writeCtx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, u)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *wsClient) keepAliveLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			_ = c.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// Connect handles GET /realtime. Browsers pass the token as ?token=.
func (h *RealtimeHandler) Connect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := auth.FromContext(r.Context())
		if !ok {
			response.Fail(w, apperr.NotAuthenticated("authentication required"))
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
		if err != nil {
			return // Accept already wrote the response
		}

		ctx, cancel := context.WithCancel(r.Context())
		logger := h.logger.With("user_id", id.UserID)
		client := &wsClient{
			conn:   conn,
			send:   make(chan session.Update, sendBuffer),
			ctx:    ctx,
			cancel: cancel,
			logger: logger,
		}
		go client.writeLoop()
		go client.keepAliveLoop()

		sess := session.New(session.Identity{UserID: id.UserID, Name: id.Name}, client, h.cfg.Alerts)
		sup := session.NewSupervisor(sess, h.transport, h.directory, h.notifications, h.cfg.Supervisor, logger)
		sup.Start(ctx)
		logger.Info("realtime session started")

		defer func() {
			sup.Stop()
			cancel()
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			logger.Info("realtime session ended")
		}()

		for {
			var cmd Command
			if err := wsjson.Read(ctx, conn, &cmd); err != nil {
				if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
					logger.Debug("reading command", "error", err)
				}
				return
			}
			if err := h.dispatch(ctx, sup, cmd); err != nil {
				sess.Fail(err)
			}
		}
	}
}

func (h *RealtimeHandler) dispatch(ctx context.Context, sup *session.Supervisor, cmd Command) error {
	switch cmd.Type {
	case CommandOpenThread:
		return sup.OpenThread(ctx, cmd.ConversationID)
	case CommandCloseThread:
		sup.CloseThread()
		return nil
	case CommandSendMessage:
		_, err := sup.Send(ctx, cmd.ClientID, cmd.Content)
		return untracked(err)
	case CommandRetryMessage:
		_, err := sup.Retry(ctx, cmd.ClientID)
		return untracked(err)
	case CommandMarkRead:
		sel := entity.ReadSelector{ConversationID: cmd.ConversationID, MessageIDs: cmd.MessageIDs}
		_, err := sup.MarkRead(ctx, sel)
		return err
	case CommandReadNotification:
		return sup.MarkNotificationRead(ctx, cmd.NotificationID)
	case CommandReconcile:
		sup.RequestReconcile()
		return nil
	default:
		return apperr.InvalidArgument("unknown command " + cmd.Type)
	}
}

// untracked drops send failures that the thread already shows inline
func untracked(err error) error {
	var sendErr *session.SendError
	if errors.As(err, &sendErr) {
		return nil
	}
	return err
}
