package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-inbox/internal/apperr"
)

func TestFailMapsCodes(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		message   string
		retryable bool
	}{
		{"not authenticated", apperr.NotAuthenticated("login"), http.StatusUnauthorized, "login", false},
		{"invalid", fmt.Errorf("validating: %w", apperr.InvalidArgument("bad")), http.StatusBadRequest, "bad", false},
		{"denied", apperr.PermissionDenied("nope"), http.StatusForbidden, "nope", false},
		{"not found", apperr.NotFound("gone"), http.StatusNotFound, "gone", false},
		{"upload", apperr.New(apperr.CodeMediaUploadFailed, "upload"), http.StatusBadGateway, "upload", true},
		{"store", apperr.Unavailable("store down", errors.New("dial tcp")), http.StatusServiceUnavailable, "store down", true},
		{"unknown", errors.New("secret detail"), http.StatusInternalServerError, "internal error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			Fail(rec, tt.err)

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorBody
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.message, body.Error)
			assert.Equal(t, tt.retryable, body.Retryable)
		})
	}
}
