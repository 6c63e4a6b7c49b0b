package cache

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/store"
)

// RBACRecorder receives membership transitions worth auditing.
type RBACRecorder interface {
	RBAC(ctx context.Context, change audit.RBACChange)
}

// ChangeHandler implements [store.Invalidator]: it evicts derived entries
// after committed writes and records RBAC transitions.
type ChangeHandler struct {
	cache    *PermissionCache
	recorder RBACRecorder
	log      zerolog.Logger
}

var _ store.Invalidator = (*ChangeHandler)(nil)

// NewChangeHandler wires a cache and an optional recorder.
func NewChangeHandler(c *PermissionCache, recorder RBACRecorder, log zerolog.Logger) *ChangeHandler {
	return &ChangeHandler{
		cache:    c,
		recorder: recorder,
		log:      log.With().Str("component", "cache").Logger(),
	}
}

// OnChange runs synchronously inside the store adapter's write call.
func (h *ChangeHandler) OnChange(ctx context.Context, ev store.ChangeEvent) {
	if h == nil {
		return
	}

	var evicted int
	switch ev.Table {
	case store.TableMemberships:
		evicted = h.cache.InvalidateUser(ev.UserID)
		h.recordMembership(ctx, ev)
	case store.TableOrganizations:
		evicted = h.cache.InvalidateOrganization(ev.OrganizationID)
	case store.TableUsers:
		evicted = h.cache.InvalidateUser(ev.UserID)
	default:
		return
	}

	h.log.Debug().
		Str("table", ev.Table).
		Str("op", string(ev.Op)).
		Str("user_id", ev.UserID).
		Str("organization_id", ev.OrganizationID).
		Int("evicted", evicted).
		Msg("cache invalidated")
}

func (h *ChangeHandler) recordMembership(ctx context.Context, ev store.ChangeEvent) {
	if h.recorder == nil {
		return
	}
	eventType, ok := ClassifyMembershipChange(ev.Old, ev.New, ev.Op)
	if !ok {
		return
	}

	change := audit.RBACChange{
		EventType:      eventType,
		OrganizationID: ev.OrganizationID,
		UserID:         ev.UserID,
	}
	if ev.Old != nil {
		change.OldRole = ev.Old.Role.String()
		change.OldStatus = string(ev.Old.Status)
	}
	if ev.New != nil && ev.Op != store.OpDelete {
		change.NewRole = ev.New.Role.String()
		change.NewStatus = string(ev.New.Status)
	}
	h.recorder.RBAC(ctx, change)
}

// ClassifyMembershipChange maps a membership transition to its RBAC event type.
// Becoming active is an addition, leaving active (or deletion) is a removal,
// and a role change while active is role_changed. Anything else is not an RBAC event.
func ClassifyMembershipChange(old, next *store.Membership, op store.Op) (string, bool) {
	wasActive := old != nil && old.Status == store.StatusActive
	isActive := op != store.OpDelete && next != nil && next.Status == store.StatusActive

	switch {
	case !wasActive && isActive:
		return audit.EventUserAddedToOrg, true
	case wasActive && !isActive:
		return audit.EventUserRemovedFromOrg, true
	case wasActive && isActive && old.Role != next.Role:
		return audit.EventRoleChanged, true
	}
	return "", false
}
