package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/store"
)

// AuditSink appends events to audit_logs or security_events.
type AuditSink struct {
	db    *sql.DB
	table string
}

var _ audit.Sink = (*AuditSink)(nil)

// NewAuditLogSink writes to audit_logs.
func NewAuditLogSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db, table: "audit_logs"}
}

// NewSecurityEventSink writes to security_events.
func NewSecurityEventSink(db *sql.DB) *AuditSink {
	return &AuditSink{db: db, table: "security_events"}
}

// Sinks returns both sinks wired for an audit.Dispatcher.
func Sinks(db *sql.DB) audit.Sinks {
	return audit.Sinks{AuditLog: NewAuditLogSink(db), SecurityEvents: NewSecurityEventSink(db)}
}

// Write inserts e. Re-delivery of the same event ID is ignored so dispatcher
// retries cannot duplicate rows.
func (s *AuditSink) Write(ctx context.Context, e audit.Event) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("%w: %v", store.ErrInvalid, err)
		}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO `+s.table+` (
		id, occurred_at, organization_id, user_id, session_id, event_type, category, severity,
		ip_address, user_agent, details
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Timestamp.UTC(), e.OrganizationID, e.UserID, e.SessionID, e.EventType, string(e.Category),
		e.Severity.String(), e.IPAddress, e.UserAgent, details)
	return mapError(err)
}
