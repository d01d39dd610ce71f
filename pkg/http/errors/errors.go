package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gokatarajesh/quizforge/internal/quiz"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// RespondError writes a standardized error response to the HTTP response writer
func RespondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
	})
}

// RespondValidationError writes a validation error response with field information
func RespondValidationError(w http.ResponseWriter, message, field string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   ErrCodeValidationFailed,
		Message: message,
		Field:   field,
	})
}

// RespondInternalError writes an internal server error response
func RespondInternalError(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// RespondUnauthorized writes an unauthorized error response
func RespondUnauthorized(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusUnauthorized, code, message)
}

// RespondBadRequest writes a bad request error response
func RespondBadRequest(w http.ResponseWriter, code, message string) {
	RespondError(w, http.StatusBadRequest, code, message)
}

// Classify maps an engine error onto its HTTP status and error code.
func Classify(err error) (int, string) {
	switch {
	case stderrors.Is(err, quiz.ErrValidation):
		return http.StatusBadRequest, ErrCodeValidationFailed
	case stderrors.Is(err, quiz.ErrNotFound):
		return http.StatusNotFound, ErrCodeNotFound
	case stderrors.Is(err, quiz.ErrConflict):
		return http.StatusConflict, ErrCodeConflict
	case stderrors.Is(err, quiz.ErrUpstreamGeneration):
		return http.StatusBadGateway, ErrCodeUpstreamError
	default:
		return http.StatusInternalServerError, ErrCodeInternalError
	}
}

// RespondDomainError writes the response for an engine error. Internal
// failures get a generic message so storage details never reach clients.
func RespondDomainError(w http.ResponseWriter, err error) {
	status, code := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	RespondError(w, status, code, message)
}
