package audit

import "strings"

// Operation is the data operation being recorded.
type Operation string

const (
	OpSelect Operation = "SELECT"
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

var (
	criticalDeleteTables = map[string]struct{}{"users": {}, "organizations": {}, "settings": {}}
	sensitiveWriteTables = map[string]struct{}{"users": {}, "memberships": {}, "settings": {}}
	financialTables      = map[string]struct{}{"finance": {}, "contracts": {}, "permissions": {}}
)

// Classify derives the severity of a data-access event from what happened,
// never from what the caller claims.
func Classify(op Operation, table string, status int) Severity {
	op = Operation(strings.ToUpper(string(op)))
	table = strings.ToLower(table)

	sev := SeverityLow
	switch {
	case op == OpDelete && in(criticalDeleteTables, table):
		sev = SeverityCritical
	case op == OpDelete, op == OpUpdate && in(sensitiveWriteTables, table):
		sev = SeverityHigh
	case (op == OpInsert || op == OpUpdate) && in(financialTables, table):
		sev = SeverityMedium
	}

	if status >= 400 && sev < SeverityMedium {
		sev = SeverityMedium
	}
	return sev
}

// Event types emitted by this module. Severity for each is fixed here.
const (
	EventLoginSuccess       = "login_success"
	EventLoginFailure       = "login_failure"
	EventLoginRateLimited   = "login_rate_limited"
	EventAccountLocked      = "account_locked"
	EventLockedAttempt      = "locked_account_attempt"
	EventMFARequired        = "mfa_required"
	EventMFANotConfigured   = "mfa_not_configured"
	EventMFASuccess         = "mfa_success"
	EventMFAFailure         = "mfa_failure"
	EventSignOut            = "sign_out"
	EventSignOutAll         = "sign_out_all"
	EventSessionCreated     = "session_created"
	EventSessionRotated     = "session_rotated"
	EventSessionRefreshed   = "session_refreshed"
	EventSessionExpired     = "session_expired"
	EventSessionTerminated  = "session_terminated"
	EventSessionEvicted     = "session_evicted"
	EventAccessDenied       = "access_denied"
	EventPolicyDenied       = "policy_denied"
	EventDataAccess         = "data_access"
	EventRoleChanged        = "role_changed"
	EventUserAddedToOrg     = "user_added_to_org"
	EventUserRemovedFromOrg = "user_removed_from_org"
)

var eventSeverity = map[string]Severity{
	EventLoginSuccess:       SeverityLow,
	EventLoginFailure:       SeverityMedium,
	EventLoginRateLimited:   SeverityMedium,
	EventAccountLocked:      SeverityHigh,
	EventLockedAttempt:      SeverityHigh,
	EventMFARequired:        SeverityLow,
	EventMFANotConfigured:   SeverityMedium,
	EventMFASuccess:         SeverityLow,
	EventMFAFailure:         SeverityMedium,
	EventSignOut:            SeverityLow,
	EventSignOutAll:         SeverityLow,
	EventSessionCreated:     SeverityLow,
	EventSessionRotated:     SeverityLow,
	EventSessionRefreshed:   SeverityLow,
	EventSessionExpired:     SeverityLow,
	EventSessionTerminated:  SeverityLow,
	EventSessionEvicted:     SeverityMedium,
	EventAccessDenied:       SeverityHigh,
	EventPolicyDenied:       SeverityMedium,
	EventRoleChanged:        SeverityHigh,
	EventUserAddedToOrg:     SeverityHigh,
	EventUserRemovedFromOrg: SeverityHigh,
}

// SeverityOf returns the fixed severity of a known event type; unknown types are low.
func SeverityOf(eventType string) Severity {
	if s, ok := eventSeverity[eventType]; ok {
		return s
	}
	return SeverityLow
}

func in(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
