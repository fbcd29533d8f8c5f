package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	directdao "github.com/vadim/neo-inbox/internal/domain/direct/dao"
	"github.com/vadim/neo-inbox/internal/domain/direct/entity"
	directpolicy "github.com/vadim/neo-inbox/internal/domain/direct/policy"
	directservice "github.com/vadim/neo-inbox/internal/domain/direct/service"
	notificationdao "github.com/vadim/neo-inbox/internal/domain/notification/dao"
	notificationpolicy "github.com/vadim/neo-inbox/internal/domain/notification/policy"
	notificationservice "github.com/vadim/neo-inbox/internal/domain/notification/service"
	"github.com/vadim/neo-inbox/internal/httpx/auth"
	"github.com/vadim/neo-inbox/internal/realtime/session"
	"github.com/vadim/neo-inbox/internal/realtime/transport"
)

type memoryBlobs struct {
	uploaded []string
}

func (b *memoryBlobs) Upload(_ context.Context, ownerID string, file directservice.MediaFile) (*directservice.UploadedMedia, error) {
	data, err := io.ReadAll(file.Reader)
	if err != nil {
		return nil, err
	}
	key := "messages/" + ownerID + "/" + file.Filename
	b.uploaded = append(b.uploaded, string(data))
	return &directservice.UploadedMedia{Key: key, URL: "http://cdn/" + key}, nil
}

func (b *memoryBlobs) Delete(context.Context, string) error { return nil }

type testAPI struct {
	router   chi.Router
	verifier *auth.Verifier
	blobs    *memoryBlobs
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := directdao.NewMemoryStore()
	hub := transport.NewHub(64)
	feed := transport.NewFeed(hub)
	blobs := &memoryBlobs{}

	dsvc := directservice.New(store.Conversations(), store.Participants(), store.Messages(), nil).
		WithFeed(feed).
		WithBlobStore(blobs)
	nsvc := notificationservice.New(notificationdao.NewNotificationMemory(), feed, nil)
	direct := directpolicy.New(dsvc, time.Second)
	notes := notificationpolicy.New(nsvc, time.Second)
	verifier := auth.NewVerifier("test-secret", "")

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(verifier.Middleware)
		NewDirectHandler(direct, 0).RegisterRoutes(r)
		NewNotificationHandler(notes).RegisterRoutes(r)
		NewSocialHandler(notes).RegisterRoutes(r)
		NewRealtimeHandler(hub, direct, notes, RealtimeConfig{
			Supervisor: session.Config{Reconnect: session.Reconnect{Initial: 5 * time.Millisecond}},
		}, nil).RegisterRoutes(r)
	})

	return &testAPI{router: r, verifier: verifier, blobs: blobs}
}

func (a *testAPI) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := a.verifier.Issue(auth.Identity{UserID: userID, Name: strings.ToUpper(userID[:1]) + userID[1:]}, time.Hour)
	require.NoError(t, err)
	return token
}

func (a *testAPI) do(t *testing.T, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, "/api/v1"+path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+a.token(t, userID))
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func (a *testAPI) resolve(t *testing.T, userID, other string) entity.Conversation {
	t.Helper()
	rec := a.do(t, userID, http.MethodPost, "/conversations", ResolveConversationRequest{OtherUserID: other})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[entity.Conversation](t, rec)
}

func TestDirectRoutes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, "", http.MethodGet, "/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	conv := api.resolve(t, "alice", "bob")
	assert.Equal(t, conv.ID, api.resolve(t, "bob", "alice").ID)

	rec = api.do(t, "alice", http.MethodPost, "/conversations", ResolveConversationRequest{OtherUserID: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, "alice", http.MethodPost, "/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "hi bob"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[entity.Message](t, rec)
	assert.Equal(t, "bob", msg.ReceiverID)

	rec = api.do(t, "alice", http.MethodPost, "/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, "mallory", http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, "bob", http.MethodGet, "/unread", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[entity.UnreadSnapshot](t, rec).Total)

	rec = api.do(t, "bob", http.MethodGet, "/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListConversationsResponse](t, rec)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "alice", list.Conversations[0].ParticipantID)
	assert.Equal(t, "hi bob", list.Conversations[0].LastMessageText)

	rec = api.do(t, "bob", http.MethodPost, "/conversations/"+conv.ID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[MarkReadResponse](t, rec).Messages, 1)

	rec = api.do(t, "bob", http.MethodPost, "/conversations/"+conv.ID+"/read", MarkReadRequest{MessageIDs: []string{msg.ID}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[MarkReadResponse](t, rec).Messages)

	rec = api.do(t, "bob", http.MethodGet, "/unread", nil)
	assert.Zero(t, decode[entity.UnreadSnapshot](t, rec).Total)

	rec = api.do(t, "bob", http.MethodDelete, "/messages/"+msg.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(t, "alice", http.MethodDelete, "/messages/"+msg.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = api.do(t, "alice", http.MethodGet, "/conversations/"+conv.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[FetchMessagesResponse](t, rec).Messages)
}

func TestSendMessageWithAttachment(t *testing.T) {
	api := newTestAPI(t)
	conv := api.resolve(t, "alice", "bob")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("content", "look"))
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="cat.png"`)
	header.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte("png-bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/"+conv.ID+"/messages", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+api.token(t, "alice"))
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[entity.Message](t, rec)
	assert.Equal(t, "look", msg.Content)
	assert.Equal(t, entity.MediaTypeImage, msg.MediaType)
	assert.Equal(t, "http://cdn/messages/alice/cat.png", msg.MediaURL)
	assert.Equal(t, []string{"png-bytes"}, api.blobs.uploaded)
}

func TestNotificationAndSocialRoutes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, "alice", http.MethodPost, "/social/follows", SocialActionRequest{TargetID: "bob"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	follow := decode[SocialActionResponse](t, rec)
	require.NotNil(t, follow.Notification)
	assert.Equal(t, "Alice started following you", follow.Notification.Message)

	rec = api.do(t, "alice", http.MethodPost, "/social/likes", SocialActionRequest{PostID: "p1", PostOwnerID: "alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, decode[SocialActionResponse](t, rec).Notification, "liking your own post")

	rec = api.do(t, "carol", http.MethodPost, "/social/comments", SocialActionRequest{PostID: "p1", PostOwnerID: "bob", CommentID: "k1", Text: "nice"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, "carol", http.MethodPost, "/social/comments", SocialActionRequest{PostID: "p1", PostOwnerID: "bob"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(t, "bob", http.MethodGet, "/notifications?unread_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[FetchNotificationsResponse](t, rec)
	require.Len(t, list.Notifications, 2)
	assert.Equal(t, 2, list.UnreadCount)

	rec = api.do(t, "bob", http.MethodPost, "/notifications/"+follow.Notification.ID+"/read", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, "alice", http.MethodPost, "/notifications/"+follow.Notification.ID+"/read", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, "bob", http.MethodPost, "/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[MarkAllReadResponse](t, rec).Updated)

	rec = api.do(t, "bob", http.MethodDelete, "/notifications/"+follow.Notification.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(t, "bob", http.MethodDelete, "/notifications/"+follow.Notification.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type wireUpdate struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(wireUpdate) bool) wireUpdate {
	t.Helper()
	for {
		var u wireUpdate
		require.NoError(t, wsjson.Read(ctx, conn, &u))
		if match(u) {
			return u
		}
	}
}

func TestRealtimeSession(t *testing.T) {
	api := newTestAPI(t)
	srv := httptest.NewServer(api.router)
	t.Cleanup(srv.Close)

	conv := api.resolve(t, "alice", "bob")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/realtime?token=" + api.token(t, "bob")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	readUntil(t, ctx, conn, func(u wireUpdate) bool { return u.Type == session.UpdateConversations })

	rec := api.do(t, "alice", http.MethodPost, "/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "ping"})
	require.Equal(t, http.StatusCreated, rec.Code)

	readUntil(t, ctx, conn, func(u wireUpdate) bool {
		if u.Type != session.UpdateUnread {
			return false
		}
		var v session.UnreadView
		require.NoError(t, json.Unmarshal(u.Data, &v))
		return v.Total == 1
	})

	require.NoError(t, wsjson.Write(ctx, conn, Command{Type: CommandOpenThread, ConversationID: conv.ID}))
	thread := readUntil(t, ctx, conn, func(u wireUpdate) bool { return u.Type == session.UpdateThread })
	var view session.ThreadView
	require.NoError(t, json.Unmarshal(thread.Data, &view))
	require.Len(t, view.Messages, 1)

	require.NoError(t, wsjson.Write(ctx, conn, Command{Type: CommandMarkRead, ConversationID: conv.ID}))
	readUntil(t, ctx, conn, func(u wireUpdate) bool {
		if u.Type != session.UpdateUnread {
			return false
		}
		var v session.UnreadView
		require.NoError(t, json.Unmarshal(u.Data, &v))
		return v.Total == 0
	})

	require.NoError(t, wsjson.Write(ctx, conn, Command{Type: "bogus"}))
	failure := readUntil(t, ctx, conn, func(u wireUpdate) bool { return u.Type == session.UpdateError })
	assert.Contains(t, string(failure.Data), "INVALID_ARGUMENT")
}

func TestRealtimeRequiresToken(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, "", http.MethodGet, "/realtime", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
