package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/nerrad567/chatgate-core/internal/auth"
)

// writeTimeout bounds a single audit insert.
const writeTimeout = 2 * time.Second

// Sink records auth events in the audit trail. It implements auth.EventSink.
//
// Writes outlive the request that produced the event, so a client hanging up
// after a login still leaves the entry behind.
type Sink struct {
	repo   Repository
	logger *slog.Logger
}

// NewSink creates a Sink writing to repo. A nil logger discards failures.
func NewSink(repo Repository, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sink{repo: repo, logger: logger}
}

// Record implements auth.EventSink.
func (s *Sink) Record(ctx context.Context, e auth.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	entry := &Entry{
		Type:      string(e.Type),
		UserID:    e.UserID,
		JTI:       e.JTI,
		Reason:    e.Reason,
		Count:     e.Count,
		CreatedAt: e.At,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Warn("recording audit entry failed", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}
