package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// Fields carries the request-scoped attributes attached to an event.
type Fields struct {
	OrganizationID string
	UserID         string
	SessionID      string
	IPAddress      string
	UserAgent      string
	Details        map[string]string
}

// RBACChange describes a membership transition.
type RBACChange struct {
	EventType      string
	OrganizationID string
	UserID         string
	OldRole        string
	NewRole        string
	OldStatus      string
	NewStatus      string
}

// Logger builds events, assigns severity by rule, and queues them on a
// [Dispatcher]. A nil *Logger is valid and records nothing.
type Logger struct {
	dispatcher *Dispatcher
	now        func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger wraps a dispatcher. The dispatcher may be nil (audit disabled).
func NewLogger(d *Dispatcher, opts ...Option) *Logger {
	l := &Logger{dispatcher: d, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dispatcher exposes the underlying queue for lifecycle management.
func (l *Logger) Dispatcher() *Dispatcher {
	if l == nil {
		return nil
	}
	return l.dispatcher
}

// Auth records an authentication or session event. Severity comes from the event type.
func (l *Logger) Auth(ctx context.Context, eventType string, f Fields) {
	category := CategoryAuthentication
	switch eventType {
	case EventSessionCreated, EventSessionRotated, EventSessionRefreshed,
		EventSessionExpired, EventSessionTerminated, EventSessionEvicted:
		category = CategorySession
	}
	l.emit(ctx, eventType, category, SeverityOf(eventType), f)
}

// AccessDenied records a failed permission check at high severity.
func (l *Logger) AccessDenied(ctx context.Context, permission, role, reason string, f Fields) {
	f.Details = merge(f.Details, map[string]string{
		"permission": permission,
		"role":       role,
		"reason":     reason,
	})
	l.emit(ctx, EventAccessDenied, CategoryAuthorization, SeverityHigh, f)
}

// PolicyDenied records a denial from the dynamic policy pipeline.
func (l *Logger) PolicyDenied(ctx context.Context, resource, action, stage, reason string, f Fields) {
	f.Details = merge(f.Details, map[string]string{
		"resource": resource,
		"action":   action,
		"stage":    stage,
		"reason":   reason,
	})
	l.emit(ctx, EventPolicyDenied, CategoryAuthorization, SeverityOf(EventPolicyDenied), f)
}

// DataAccess records a data operation; severity is derived by [Classify].
func (l *Logger) DataAccess(ctx context.Context, op Operation, table string, status int, f Fields) {
	f.Details = merge(f.Details, map[string]string{
		"operation": string(op),
		"table":     table,
		"status":    strconv.Itoa(status),
	})
	l.emit(ctx, EventDataAccess, CategoryDataAccess, Classify(op, table, status), f)
}

// RBAC records a membership change. RBAC changes are always high severity.
func (l *Logger) RBAC(ctx context.Context, c RBACChange) {
	details := map[string]string{}
	for k, v := range map[string]string{
		"old_role":   c.OldRole,
		"new_role":   c.NewRole,
		"old_status": c.OldStatus,
		"new_status": c.NewStatus,
	} {
		if v != "" {
			details[k] = v
		}
	}
	l.emit(ctx, c.EventType, CategoryRBAC, SeverityHigh, Fields{
		OrganizationID: c.OrganizationID,
		UserID:         c.UserID,
		Details:        details,
	})
}

func (l *Logger) emit(ctx context.Context, eventType string, category Category, sev Severity, f Fields) {
	if l == nil || l.dispatcher == nil {
		return
	}
	f = f.withRequest(ctx)
	l.dispatcher.Emit(ctx, Event{
		ID:             ulid.Make().String(),
		Timestamp:      l.now().UTC(),
		OrganizationID: f.OrganizationID,
		UserID:         f.UserID,
		SessionID:      f.SessionID,
		EventType:      eventType,
		Category:       category,
		Severity:       sev,
		IPAddress:      f.IPAddress,
		UserAgent:      f.UserAgent,
		Details:        f.Details,
	})
}

func merge(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
