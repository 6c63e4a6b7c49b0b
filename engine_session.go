package orgauth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/authz"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/session"
)

// Principal is the resolved identity behind a session token.
type Principal struct {
	UserID         string
	OrganizationID string
	Role           permission.Role
	SessionID      string
	MFAVerified    bool
	ExpiresAt      time.Time

	// Token is set when validation replaced the session token; the caller
	// must hand it to the client, the old one no longer authenticates.
	Token string
}

// ValidateSession resolves a session token to a principal. Rotation and
// refresh happen transparently and are reported through Principal.Token.
// A session whose membership is no longer active does not authenticate.
func (e *Engine) ValidateSession(ctx context.Context, token string) (*Principal, error) {
	start := time.Now()
	defer func() { e.recorder.ObserveValidate(time.Since(start)) }()

	if strings.TrimSpace(token) == "" {
		return nil, ErrInvalidSession
	}
	v, err := e.sessions.Validate(ctx, token)
	if err != nil {
		return nil, e.sessionError("session validate", err)
	}
	return e.principal(ctx, v.Session, v.Token)
}

// RefreshSession mints a new session token from a refresh token.
func (e *Engine) RefreshSession(ctx context.Context, refreshToken string) (*Principal, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidSession
	}
	issued, err := e.sessions.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, e.sessionError("session refresh", err)
	}
	return e.principal(ctx, issued.Session, issued.Token)
}

func (e *Engine) principal(ctx context.Context, s *session.Session, token string) (*Principal, error) {
	role, err := e.checker.GetUserRole(ctx, s.UserID, s.OrganizationID)
	if err != nil {
		return nil, e.unavailable("role lookup", err)
	}
	if role == permission.RoleNone {
		return nil, wrap(ErrInvalidSession, errors.New("membership not active"))
	}
	return &Principal{
		UserID:         s.UserID,
		OrganizationID: s.OrganizationID,
		Role:           role,
		SessionID:      s.ID,
		MFAVerified:    s.MFAVerified,
		ExpiresAt:      s.ExpiresAt,
		Token:          token,
	}, nil
}

// SignOut ends the session behind token. Signing out an unknown or already
// ended session succeeds.
func (e *Engine) SignOut(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return nil
	}
	s, err := e.sessions.TerminateByToken(ctx, token, session.ReasonSignOut)
	if err != nil {
		if errors.Is(err, session.ErrInvalidSession) {
			return nil
		}
		return e.unavailable("sign out", err)
	}
	e.audit.Auth(ctx, audit.EventSignOut, audit.Fields{
		OrganizationID: s.OrganizationID,
		UserID:         s.UserID,
		SessionID:      s.ID,
	})
	return nil
}

// SignOutAll ends every active session of a user and reports how many ended.
func (e *Engine) SignOutAll(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, validation("user id is required")
	}
	n, err := e.sessions.TerminateAllForUser(ctx, userID, session.ReasonSignOutAll)
	if err != nil {
		return 0, e.unavailable("sign out all", err)
	}
	e.audit.Auth(ctx, audit.EventSignOutAll, audit.Fields{UserID: userID})
	return n, nil
}

// Authorize checks a principal against the role matrix. With requireAll every
// permission must be granted, otherwise any one suffices. An empty list only
// requires a principal. Denials, including those caused by store failures,
// return a Forbidden error naming the permission and the role.
func (e *Engine) Authorize(ctx context.Context, p *Principal, perms []permission.Permission, requireAll bool) error {
	if p == nil {
		return ErrUnauthenticated
	}
	if len(perms) == 0 {
		return nil
	}

	var d authz.Decision
	if requireAll {
		d = e.checker.CheckAllPermissions(ctx, p.UserID, p.OrganizationID, perms)
	} else {
		d = e.checker.CheckAnyPermission(ctx, p.UserID, p.OrganizationID, perms)
	}
	if d.Allowed {
		return nil
	}
	return forbidden(d.Permission.String(), d.Role.String())
}

// AuthorizeAction runs the dynamic policy pipeline for resource.action,
// optionally against a specific row.
func (e *Engine) AuthorizeAction(ctx context.Context, p *Principal, resource, action, resourceID string) error {
	if p == nil {
		return ErrUnauthenticated
	}
	d := e.dynamic.Evaluate(ctx, authz.Request{
		UserID:         p.UserID,
		OrganizationID: p.OrganizationID,
		Resource:       resource,
		Action:         action,
		ResourceID:     resourceID,
		IPAddress:      clientIPFromContext(ctx),
	})
	if d.Allowed {
		return nil
	}
	out := forbidden(resource+":"+action, d.Role.String())
	out.Message = "access denied by " + string(d.Stage) + " policy"
	return out
}

func (e *Engine) sessionError(op string, err error) error {
	if errors.Is(err, session.ErrInvalidSession) || errors.Is(err, session.ErrSessionExpired) || errors.Is(err, session.ErrCorrupt) {
		return ErrInvalidSession
	}
	return e.unavailable(op, err)
}
