package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/chatgate-core/internal/auth"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeConflict     = "conflict"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeUnavailable  = "service_unavailable"
	ErrCodeTokenExpired = "token_expired"
)

// msgInvalidLogin is shared by unknown-email and wrong-password failures.
const msgInvalidLogin = "invalid email or password"

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeAuthError maps an error from the auth service to a response.
// Expired tokens get their own code so clients know to refresh rather than
// log in again.
func (s *Server) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	// Token kinds come first: they may wrap ErrUserNotFound, which on its
	// own is a failed login.
	switch {
	case errors.Is(err, auth.ErrExpiredAccessToken):
		writeError(w, http.StatusUnauthorized, ErrCodeTokenExpired, "access token has expired")
	case errors.Is(err, auth.ErrExpiredRefreshToken):
		writeError(w, http.StatusUnauthorized, ErrCodeTokenExpired, "refresh token has expired")
	case errors.Is(err, auth.ErrInvalidAccessToken):
		writeUnauthorized(w, "invalid access token")
	case errors.Is(err, auth.ErrInvalidRefreshToken):
		writeUnauthorized(w, "invalid refresh token")
	case errors.Is(err, auth.ErrUserNotFound), errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, msgInvalidLogin)
	case errors.Is(err, auth.ErrUserDisabled):
		writeUnauthorized(w, "user account is disabled")
	case errors.Is(err, auth.ErrInsufficientPermissions):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, auth.ErrEmailExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "email already registered")
	case errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, auth.ErrInvalidName),
		errors.Is(err, auth.ErrInvalidPassword),
		errors.Is(err, auth.ErrInvalidScope),
		errors.Is(err, auth.ErrSameName),
		errors.Is(err, auth.ErrSameEmail),
		errors.Is(err, auth.ErrSamePassword):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, auth.ErrStorage):
		s.logger.Error("auth storage failure",
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "temporarily unavailable, retry later")
	default:
		s.logger.Error("unexpected auth error",
			"error", err,
			"path", r.URL.Path,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "internal server error")
	}
}
