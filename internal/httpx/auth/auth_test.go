package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/apperr"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "identity")

	token, err := v.Issue(Identity{UserID: "bob", Name: "Bob", AvatarURL: "https://cdn/bob.png"}, time.Minute)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "bob", Name: "Bob", AvatarURL: "https://cdn/bob.png"}, id)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", "identity")

	expired, err := v.Issue(Identity{UserID: "bob"}, -time.Minute)
	require.NoError(t, err)

	foreign, err := NewVerifier("other", "identity").Issue(Identity{UserID: "bob"}, time.Minute)
	require.NoError(t, err)

	wrongIssuer, err := NewVerifier("secret", "elsewhere").Issue(Identity{UserID: "bob"}, time.Minute)
	require.NoError(t, err)

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Name: "Bob"}).SignedString([]byte("secret"))
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"foreign":      foreign,
		"wrong issuer": wrongIssuer,
		"no subject":   noSubject,
		"garbage":      "not-a-token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.Equal(t, apperr.CodeNotAuthenticated, apperr.CodeOf(err))
		})
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	var seen Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := v.Issue(Identity{UserID: "alice", Name: "Alice"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", seen.UserID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
