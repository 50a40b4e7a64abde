package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/chatgate-core/internal/audit"
)

// handleActivity returns the caller's audit trail, newest first.
//
// Query parameters: type (event type), limit, offset.
func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	q := r.URL.Query()

	filter := audit.Filter{
		Type:   q.Get("type"),
		UserID: claims.Subject,
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list activity", "user_id", claims.Subject, "error", err)
		writeInternalError(w, "failed to list activity")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
