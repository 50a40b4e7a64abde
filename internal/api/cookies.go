package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/chatgate-core/internal/auth"
)

// defaultRefreshCookie is used when the config leaves the cookie name empty.
const defaultRefreshCookie = "refresh_token"

// setRefreshCookie stores the pair's refresh token in an HTTP-only cookie
// that expires with the token.
func (s *Server) setRefreshCookie(w http.ResponseWriter, pair *auth.TokenPair) {
	maxAge := int(time.Until(pair.RefreshExpiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    pair.RefreshToken,
		Path:     s.cfg.Cookie.Path,
		Expires:  pair.RefreshExpiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: parseSameSite(s.cfg.Cookie.SameSite),
	})
}

// clearRefreshCookie tells the browser to drop the refresh cookie.
func (s *Server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Cookie.Name,
		Value:    "",
		Path:     s.cfg.Cookie.Path,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.Cookie.Secure,
		SameSite: parseSameSite(s.cfg.Cookie.SameSite),
	})
}

// refreshTokenFrom returns the refresh cookie, or fallback (usually a body
// field) when no cookie was sent.
func (s *Server) refreshTokenFrom(r *http.Request, fallback string) (string, bool) {
	if c, err := r.Cookie(s.cfg.Cookie.Name); err == nil && c.Value != "" {
		return c.Value, true
	}
	fallback = strings.TrimSpace(fallback)
	return fallback, fallback != ""
}

// parseSameSite converts the configured mode, defaulting to Lax.
func parseSameSite(mode string) http.SameSite {
	switch strings.ToLower(mode) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
