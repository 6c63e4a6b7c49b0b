package authz

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/cache"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/store"
)

// ErrInvalidRequest is returned for malformed policy input such as empty identifiers.
var ErrInvalidRequest = errors.New("invalid authorization request")

// Decision reasons.
const (
	ReasonGranted           = "granted"
	ReasonMissingPermission = "missing_permission"
	ReasonNoMembership      = "no_active_membership"
	ReasonStoreUnavailable  = "store_unavailable"
	ReasonInvalidRequest    = "invalid_request"
)

// Decision is the outcome of a permission check. Role is the resolved role
// (RoleNone when there is no active membership). Permission is the permission
// that decided the outcome: the granting one for allows, the failing one for
// denials.
type Decision struct {
	Allowed    bool
	Role       permission.Role
	Permission permission.Permission
	Reason     string
}

// Observer receives check outcomes.
type Observer interface {
	ObservePermissionCheck(allowed bool, reason string)
}

// Checker evaluates the static role matrix for a user in an organization.
// Every failure, including store errors, is a deny.
type Checker struct {
	memberships store.MembershipStore
	cache       *cache.PermissionCache
	audit       *audit.Logger
	log         zerolog.Logger
	observer    Observer
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithAuditLogger sets where access_denied events go.
func WithAuditLogger(l *audit.Logger) CheckerOption {
	return func(c *Checker) { c.audit = l }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l zerolog.Logger) CheckerOption {
	return func(c *Checker) { c.log = l }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) CheckerOption {
	return func(c *Checker) { c.observer = o }
}

// NewChecker builds a Checker. The cache may be nil.
func NewChecker(memberships store.MembershipStore, c *cache.PermissionCache, opts ...CheckerOption) *Checker {
	ch := &Checker{
		memberships: memberships,
		cache:       c,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ch)
	}
	ch.log = ch.log.With().Str("component", "authz").Logger()
	return ch
}

// GetUserRole resolves the active role of a user in an organization, cache
// first. A missing or non-active membership yields RoleNone and a nil error.
// A store failure yields RoleNone and the error.
func (c *Checker) GetUserRole(ctx context.Context, userID, orgID string) (permission.Role, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(orgID) == "" {
		return permission.RoleNone, ErrInvalidRequest
	}

	if m, ok := c.cache.Membership(userID, orgID); ok {
		return activeRole(m), nil
	}

	gen := c.cache.Generation()
	m, err := c.memberships.GetMembership(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return permission.RoleNone, nil
		}
		return permission.RoleNone, err
	}

	c.cache.PutMembership(gen, m)
	return activeRole(m), nil
}

func activeRole(m store.Membership) permission.Role {
	if !m.Active() {
		return permission.RoleNone
	}
	return m.Role
}

// CheckPermission reports whether the user's role grants perm.
func (c *Checker) CheckPermission(ctx context.Context, userID, orgID string, perm permission.Permission) Decision {
	return c.CheckAllPermissions(ctx, userID, orgID, []permission.Permission{perm})
}

// CheckAnyPermission allows as soon as one permission is granted.
func (c *Checker) CheckAnyPermission(ctx context.Context, userID, orgID string, perms []permission.Permission) Decision {
	role, d, ok := c.resolve(ctx, userID, orgID, perms)
	if !ok {
		return d
	}

	for _, p := range perms {
		if permission.Grants(role, p) {
			return c.finish(ctx, userID, orgID, perms, Decision{Allowed: true, Role: role, Permission: p, Reason: ReasonGranted})
		}
	}
	return c.finish(ctx, userID, orgID, perms, Decision{Role: role, Permission: perms[0], Reason: ReasonMissingPermission})
}

// CheckAllPermissions allows only if every permission is granted, reporting the first failure.
func (c *Checker) CheckAllPermissions(ctx context.Context, userID, orgID string, perms []permission.Permission) Decision {
	role, d, ok := c.resolve(ctx, userID, orgID, perms)
	if !ok {
		return d
	}

	for _, p := range perms {
		if !permission.Grants(role, p) {
			return c.finish(ctx, userID, orgID, []permission.Permission{p}, Decision{Role: role, Permission: p, Reason: ReasonMissingPermission})
		}
	}
	return c.finish(ctx, userID, orgID, perms, Decision{Allowed: true, Role: role, Permission: perms[len(perms)-1], Reason: ReasonGranted})
}

// resolve handles the shared prefix of every check. ok is false when the
// returned decision is already final.
func (c *Checker) resolve(ctx context.Context, userID, orgID string, perms []permission.Permission) (permission.Role, Decision, bool) {
	if len(perms) == 0 {
		return permission.RoleNone, c.finish(ctx, userID, orgID, nil, Decision{Reason: ReasonInvalidRequest}), false
	}

	role, err := c.GetUserRole(ctx, userID, orgID)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return role, c.finish(ctx, userID, orgID, perms, Decision{Permission: perms[0], Reason: ReasonInvalidRequest}), false
	case err != nil:
		c.log.Error().Err(err).
			Str("user_id", userID).
			Str("organization_id", orgID).
			Msg("role resolution failed, denying")
		return role, c.finish(ctx, userID, orgID, perms, Decision{Permission: perms[0], Reason: ReasonStoreUnavailable}), false
	case role == permission.RoleNone:
		return role, c.finish(ctx, userID, orgID, perms, Decision{Permission: perms[0], Reason: ReasonNoMembership}), false
	}
	return role, Decision{}, true
}

func (c *Checker) finish(ctx context.Context, userID, orgID string, perms []permission.Permission, d Decision) Decision {
	if c.observer != nil {
		c.observer.ObservePermissionCheck(d.Allowed, d.Reason)
	}
	if !d.Allowed {
		c.audit.AccessDenied(ctx, strings.Join(permission.Strings(perms), ","), d.Role.String(), d.Reason, audit.Fields{
			OrganizationID: orgID,
			UserID:         userID,
		})
	}
	return d
}

// UserPermissions lists what the user's active role grants. RoleNone yields an empty list.
func (c *Checker) UserPermissions(ctx context.Context, userID, orgID string) ([]permission.Permission, error) {
	role, err := c.GetUserRole(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	return permission.PermissionsFor(role), nil
}

// IsOwner reports whether the user is an active owner. Errors count as false.
func (c *Checker) IsOwner(ctx context.Context, userID, orgID string) bool {
	role, err := c.GetUserRole(ctx, userID, orgID)
	return err == nil && role == permission.RoleOwner
}

// IsAdminOrOwner reports whether the user is an active admin or owner. Errors count as false.
func (c *Checker) IsAdminOrOwner(ctx context.Context, userID, orgID string) bool {
	role, err := c.GetUserRole(ctx, userID, orgID)
	return err == nil && role.IsAdminOrOwner()
}

// CanManageRole reports whether the manager strictly outranks target. Errors count as false.
func (c *Checker) CanManageRole(ctx context.Context, managerID, orgID string, target permission.Role) bool {
	role, err := c.GetUserRole(ctx, managerID, orgID)
	return err == nil && role.CanManage(target)
}
