package auth

import (
	"context"
	"time"
)

// EventType names a session lifecycle event.
type EventType string

// Event types.
const (
	EventLogin           EventType = "login"
	EventLoginFailed     EventType = "login_failed"
	EventRefresh         EventType = "refresh"
	EventRefreshRejected EventType = "refresh_rejected"
	EventLogout          EventType = "logout"
	EventRevokeAll       EventType = "revoke_all"
	EventRegister        EventType = "register"
	EventPasswordChanged EventType = "password_changed"
	EventEmailChanged    EventType = "email_changed"
)

// Event is emitted after an auth operation completes. It never carries
// token strings or passwords.
type Event struct {
	Type   EventType `json:"type"`
	UserID int64     `json:"user_id,omitempty"`
	JTI    string    `json:"jti,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Count  int64     `json:"count,omitempty"`
	At     time.Time `json:"at"`
}

// EventSink receives events. Sinks are best-effort: Record must not block
// for long and has no way to fail the operation that produced the event.
type EventSink interface {
	Record(ctx context.Context, e Event)
}

// MultiSink fans an event out to every sink in order.
type MultiSink []EventSink

// Record implements EventSink.
func (m MultiSink) Record(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Record(ctx, e)
		}
	}
}

// NopSink discards events.
type NopSink struct{}

// Record implements EventSink.
func (NopSink) Record(context.Context, Event) {}
