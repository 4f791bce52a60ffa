package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/setzkasten/internal/sandbox"
	"github.com/p-arndt/setzkasten/internal/session"
)

// Error codes returned in API responses.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidState   = "INVALID_STATE"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// APIError is the structured error response body. The message is carried in
// the "error" field.
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error"`
}

// writeAPIError maps known sentinel errors onto HTTP statuses.
func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr APIError
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, session.ErrNotFound):
		apiErr = APIError{Code: ErrCodeNotFound, Message: err.Error()}
		statusCode = http.StatusNotFound

	case errors.Is(err, session.ErrInvalidState):
		apiErr = APIError{Code: ErrCodeInvalidState, Message: err.Error()}
		statusCode = http.StatusForbidden

	case errors.Is(err, session.ErrInvalidRequest), errors.Is(err, sandbox.ErrEscape):
		apiErr = APIError{Code: ErrCodeInvalidRequest, Message: err.Error()}
		statusCode = http.StatusBadRequest

	default:
		apiErr = APIError{Code: ErrCodeInternalError, Message: err.Error()}
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(apiErr)
}

// writeValidationError writes a 400 Bad Request.
func writeValidationError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
	})
}

// writeNotFound writes a 404 with a plain message.
func writeNotFound(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeNotFound,
		Message: message,
	})
}
