package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// healthCheckTimeout bounds the dependency checks behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such endpoint")
	})

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/user", func(r chi.Router) {
			// Unauthenticated, or authenticated by the refresh cookie
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.Post("/me/email", s.handleChangeEmail)
			r.Post("/me/password", s.handleChangePassword)

			// Bearer access token
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Get("/me", s.handleMe)
				r.Post("/me/username", s.handleRename)
				r.Get("/me/sessions", s.handleListSessions)
				r.Delete("/me/sessions", s.handleRevokeSessions)
				if s.audit != nil {
					r.Get("/me/activity", s.handleActivity)
				}
			})
		})
	})

	return r
}

// handleHealth reports the server and dependency status. A failing database
// turns the response into 503 so load balancers stop routing here.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			body["database"] = "unavailable"
			body["status"] = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
			if version, err := s.db.SchemaVersion(ctx); err == nil {
				body["schema_version"] = version
			}
		}
	}

	if len(s.checks) > 0 {
		deps := make(map[string]string, len(s.checks))
		for name, c := range s.checks {
			if err := c.HealthCheck(ctx); err != nil {
				s.logger.Warn("dependency health check failed", "dependency", name, "error", err)
				deps[name] = "unavailable"
				continue
			}
			deps[name] = "ok"
		}
		body["dependencies"] = deps
	}

	writeJSON(w, status, body)
}
