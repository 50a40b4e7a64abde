package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/chatgate-core/internal/auth"
)

// ─── Request/Response Types ────────────────────────────────────────

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Scope    []string `json:"scope,omitempty"`
}

// refreshRequest is optional; browsers send the cookie instead.
type refreshRequest struct {
	RefreshToken string   `json:"refresh_token,omitempty"`
	Scope        []string `json:"scope,omitempty"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type changeEmailRequest struct {
	Email        string `json:"email"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type changePasswordRequest struct {
	Password     string `json:"password"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// tokenResponse adds expires_in (seconds) to the pair for OAuth-style clients.
type tokenResponse struct {
	*auth.TokenPair
	ExpiresIn int64 `json:"expires_in"`
}

type registerResponse struct {
	User   *auth.User    `json:"user"`
	Tokens tokenResponse `json:"tokens"`
}

type sessionResponse struct {
	auth.RefreshTokenRecord
	Current bool `json:"current"`
}

// ─── Handlers ──────────────────────────────────────────────────────

// handleRegister creates an account and starts its first session.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, pair, err := s.auth.Register(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusCreated, registerResponse{User: user, Tokens: newTokenResponse(pair)})
}

// handleLogin checks credentials and returns a fresh token pair.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Email, req.Password, req.Scope...)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// handleRefresh rotates the refresh token. The presented token is dead once
// this returns successfully.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	token, ok := s.refreshTokenFrom(r, req.RefreshToken)
	if !ok {
		writeUnauthorized(w, "missing refresh token")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), token, req.Scope...)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// handleLogout revokes the presented refresh token and clears the cookie.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	token, ok := s.refreshTokenFrom(r, req.RefreshToken)
	if !ok {
		writeUnauthorized(w, "missing refresh token")
		return
	}

	if err := s.auth.Logout(r.Context(), token); err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleMe returns the caller's profile with the effective scope.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	user, err := s.auth.Profile(r.Context(), claims.Subject)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleRename changes the caller's display name.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	user, err := s.auth.Rename(r.Context(), claims.Subject, req.Name)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleChangeEmail changes the login address. Every session of the user is
// revoked and the caller receives a new pair.
func (s *Server) handleChangeEmail(w http.ResponseWriter, r *http.Request) {
	var req changeEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	token, ok := s.refreshTokenFrom(r, req.RefreshToken)
	if !ok {
		writeUnauthorized(w, "missing refresh token")
		return
	}

	pair, err := s.auth.ChangeEmail(r.Context(), token, req.Email)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// handleChangePassword sets a new password. Every session of the user is
// revoked and the caller receives a new pair.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	token, ok := s.refreshTokenFrom(r, req.RefreshToken)
	if !ok {
		writeUnauthorized(w, "missing refresh token")
		return
	}

	pair, err := s.auth.ChangePassword(r.Context(), token, req.Password)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.setRefreshCookie(w, pair)
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// handleListSessions lists the caller's live refresh tokens. The session the
// access token was minted with is flagged as current.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	records, err := s.auth.Sessions(r.Context(), claims.Subject)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	sessions := make([]sessionResponse, 0, len(records))
	for _, rec := range records {
		sessions = append(sessions, sessionResponse{RefreshTokenRecord: rec, Current: rec.JTI == claims.ID})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// handleRevokeSessions logs the caller out everywhere. Access tokens already
// issued stay valid until they expire.
func (s *Server) handleRevokeSessions(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())

	n, err := s.auth.RevokeAllSessions(r.Context(), claims.Subject)
	if err != nil {
		s.writeAuthError(w, r, err)
		return
	}

	s.clearRefreshCookie(w)
	writeJSON(w, http.StatusOK, map[string]any{"revoked": n})
}

// ─── Helpers ───────────────────────────────────────────────────────

func newTokenResponse(pair *auth.TokenPair) tokenResponse {
	return tokenResponse{
		TokenPair: pair,
		ExpiresIn: int64(time.Until(pair.AccessExpiresAt).Seconds()),
	}
}

// decodeJSON decodes a required JSON body.
func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// decodeOptionalJSON decodes a JSON body if one was sent.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
