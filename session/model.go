package session

import (
	"time"

	"github.com/MrEthical07/orgauth/secrets"
)

// State is the lifecycle position of a session. Only StateActive sessions
// authenticate; the other two are terminal.
type State string

const (
	StateActive     State = "active"
	StateExpired    State = "expired"
	StateTerminated State = "terminated"
)

// Termination reasons recorded on ended sessions.
const (
	ReasonSignOut      = "sign_out"
	ReasonSignOutAll   = "sign_out_all"
	ReasonSessionLimit = "session_limit"
	ReasonExpired      = "expired"
	ReasonRevoked      = "revoked"
)

// Session is one authenticated context. Token and refresh token plaintexts are
// never stored; TokenHash and RefreshHash are their digests.
type Session struct {
	ID                string
	UserID            string
	OrganizationID    string
	TokenHash         secrets.Digest
	RefreshHash       secrets.Digest
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
	MFAVerified       bool

	State             State
	TerminationReason string

	CreatedAt        time.Time
	TokenIssuedAt    time.Time
	ExpiresAt        time.Time
	RefreshExpiresAt time.Time
	LastActivity     time.Time
	TerminatedAt     time.Time
}

// Active reports whether the session can still authenticate a request.
func (s *Session) Active() bool {
	return s != nil && s.State == StateActive
}

// Clone returns a copy safe to hand to callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

// TokenUpdate replaces the session token of an active session.
type TokenUpdate struct {
	TokenHash secrets.Digest
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Termination ends a session.
type Termination struct {
	At     time.Time
	State  State
	Reason string
}
