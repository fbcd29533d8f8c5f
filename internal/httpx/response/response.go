package response

import (
	"encoding/json"
	"net/http"

	"github.com/vadim/neo-inbox/internal/apperr"
)

// ErrorBody is the JSON body of every error response
type ErrorBody struct {
	Error     string      `json:"error"`
	Code      apperr.Code `json:"code,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// StatusOf maps an error code to its HTTP status
func StatusOf(code apperr.Code) int {
	switch code {
	case apperr.CodeNotAuthenticated:
		return http.StatusUnauthorized
	case apperr.CodeInvalidArgument:
		return http.StatusBadRequest
	case apperr.CodePermissionDenied:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeMediaUploadFailed:
		return http.StatusBadGateway
	case apperr.CodeStoreUnavailable, apperr.CodeConflictRetry:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Fail sends the response for a classified application error. Unclassified
// errors are reported as internal without their details.
func Fail(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := StatusOf(code)
	message := apperr.Message(err)
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, ErrorBody{Error: message, Code: code, Retryable: apperr.Retryable(err)})
}

// JSON sends a JSON response
func JSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// NoContent sends a 204 No Content response
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Created sends a 201 Created response with JSON body
func Created(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusCreated, data)
}

// OK sends a 200 OK response with JSON body
func OK(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// BadRequest sends a 400 Bad Request error
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, ErrorBody{Error: message, Code: apperr.CodeInvalidArgument})
}
