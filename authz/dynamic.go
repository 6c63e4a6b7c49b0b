package authz

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/cache"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/store"
)

// Stage names a step of the policy pipeline.
type Stage string

const (
	StageRole        Stage = "role"
	StageFeatureFlag Stage = "feature_flag"
	StageOwnership   Stage = "ownership"
	StageTimeWindow  Stage = "time_window"
	StageIP          Stage = "ip"
)

// Policy reasons, in addition to the checker reasons.
const (
	ReasonInsufficientRole = "insufficient_role"
	ReasonUnknownAction    = "unknown_action"
	ReasonFlagDisabled     = "feature_disabled"
	ReasonRolloutExcluded  = "rollout_excluded"
	ReasonFlagCondition    = "feature_condition"
	ReasonResourceNotFound = "resource_not_found"
	ReasonTenantMismatch   = "organization_mismatch"
	ReasonNotOwner         = "not_resource_owner"
	ReasonOutsideHours     = "outside_business_hours"
)

// Request is one policy question: may UserID perform Action on Resource in OrganizationID.
type Request struct {
	UserID         string
	OrganizationID string
	Resource       string
	Action         string
	ResourceID     string
	IPAddress      string
}

// PolicyDecision is the outcome of the pipeline. Stage is set on denials.
type PolicyDecision struct {
	Allowed bool
	Role    permission.Role
	Stage   Stage
	Reason  string
}

// PolicyObserver receives pipeline denials.
type PolicyObserver interface {
	ObservePolicyDenial(stage string)
}

// minimumRoles maps resource -> action -> lowest role that holds resource:action.
var minimumRoles = buildMinimumRoles()

func buildMinimumRoles() map[string]map[string]permission.Role {
	out := map[string]map[string]permission.Role{}
	for _, p := range permission.All() {
		for _, r := range permission.Roles() {
			if !permission.Grants(r, p) {
				continue
			}
			actions, ok := out[p.Resource()]
			if !ok {
				actions = map[string]permission.Role{}
				out[p.Resource()] = actions
			}
			actions[p.Action()] = r
			break
		}
	}
	return out
}

// MinimumRole returns the lowest role allowed to perform action on resource.
// modeled is false when the resource is not in the table.
func MinimumRole(resource, action string) (role permission.Role, modeled bool) {
	actions, ok := minimumRoles[resource]
	if !ok {
		return permission.RoleNone, false
	}
	return actions[action], true
}

// DynamicService layers feature flags, ownership, time-of-day, and IP policy
// on top of the static role table. Stages run in a fixed order and the first
// denial wins.
type DynamicService struct {
	checker   *Checker
	orgs      store.OrganizationStore
	resources store.ResourceStore
	cache     *cache.PermissionCache
	ipPolicy  IPPolicy
	audit     *audit.Logger
	log       zerolog.Logger
	observer  PolicyObserver
	now       func() time.Time
}

// DynamicOption configures a DynamicService.
type DynamicOption func(*DynamicService)

// WithIPPolicy replaces the default edge-delegated IP policy.
func WithIPPolicy(p IPPolicy) DynamicOption {
	return func(s *DynamicService) {
		if p != nil {
			s.ipPolicy = p
		}
	}
}

// WithPolicyClock overrides the time source for the business-hours stage.
func WithPolicyClock(now func() time.Time) DynamicOption {
	return func(s *DynamicService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPolicyAudit sets where policy denials are recorded.
func WithPolicyAudit(l *audit.Logger) DynamicOption {
	return func(s *DynamicService) { s.audit = l }
}

// WithPolicyLogger sets the diagnostic logger.
func WithPolicyLogger(l zerolog.Logger) DynamicOption {
	return func(s *DynamicService) { s.log = l }
}

// WithPolicyObserver attaches a metrics observer.
func WithPolicyObserver(o PolicyObserver) DynamicOption {
	return func(s *DynamicService) { s.observer = o }
}

// NewDynamicService builds the pipeline on top of a Checker.
func NewDynamicService(checker *Checker, orgs store.OrganizationStore, resources store.ResourceStore, c *cache.PermissionCache, opts ...DynamicOption) *DynamicService {
	s := &DynamicService{
		checker:   checker,
		orgs:      orgs,
		resources: resources,
		cache:     c,
		ipPolicy:  EdgeIPPolicy{},
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "policy").Logger()
	return s
}

// Evaluate runs the pipeline and records denials.
func (s *DynamicService) Evaluate(ctx context.Context, req Request) PolicyDecision {
	d := s.evaluate(ctx, req)
	if !d.Allowed {
		if s.observer != nil {
			s.observer.ObservePolicyDenial(string(d.Stage))
		}
		s.audit.PolicyDenied(ctx, req.Resource, req.Action, string(d.Stage), d.Reason, audit.Fields{
			OrganizationID: req.OrganizationID,
			UserID:         req.UserID,
			IPAddress:      req.IPAddress,
			Details:        map[string]string{"resource_id": req.ResourceID, "role": d.Role.String()},
		})
	}
	return d
}

func (s *DynamicService) evaluate(ctx context.Context, req Request) PolicyDecision {
	deny := func(stage Stage, role permission.Role, reason string) PolicyDecision {
		return PolicyDecision{Role: role, Stage: stage, Reason: reason}
	}

	req.Resource = strings.ToLower(strings.TrimSpace(req.Resource))
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	if req.Resource == "" || req.Action == "" {
		return deny(StageRole, permission.RoleNone, ReasonInvalidRequest)
	}

	// 1. role
	role, err := s.checker.GetUserRole(ctx, req.UserID, req.OrganizationID)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return deny(StageRole, role, ReasonInvalidRequest)
	case err != nil:
		s.log.Error().Err(err).Str("user_id", req.UserID).Msg("role resolution failed, denying")
		return deny(StageRole, role, ReasonStoreUnavailable)
	case role == permission.RoleNone:
		return deny(StageRole, role, ReasonNoMembership)
	}

	if required, modeled := MinimumRole(req.Resource, req.Action); modeled {
		if required == permission.RoleNone {
			return deny(StageRole, role, ReasonUnknownAction)
		}
		if !role.AtLeast(required) {
			return deny(StageRole, role, ReasonInsufficientRole)
		}
	}

	settings, err := s.settings(ctx, req.OrganizationID)
	if err != nil {
		s.log.Error().Err(err).Str("organization_id", req.OrganizationID).Msg("settings load failed, denying")
		return deny(StageFeatureFlag, role, ReasonStoreUnavailable)
	}

	// 2. feature flag
	if flag, ok := settings.FeatureFlags[req.Resource+"."+req.Action]; ok {
		if reason := evaluateFlag(flag, req.UserID, role); reason != "" {
			return deny(StageFeatureFlag, role, reason)
		}
	}

	// 3. ownership
	if req.ResourceID != "" && s.resources != nil {
		res, err := s.resources.GetResource(ctx, req.Resource, req.ResourceID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return deny(StageOwnership, role, ReasonResourceNotFound)
		case err != nil:
			s.log.Error().Err(err).Str("resource", req.Resource).Str("resource_id", req.ResourceID).Msg("resource load failed, denying")
			return deny(StageOwnership, role, ReasonStoreUnavailable)
		}
		if res.OrganizationID != req.OrganizationID {
			return deny(StageOwnership, role, ReasonTenantMismatch)
		}
		if (req.Action == "update" || req.Action == "delete") && res.CreatedBy != req.UserID && !role.IsAdminOrOwner() {
			return deny(StageOwnership, role, ReasonNotOwner)
		}
	}

	// 4. time of day
	if settings.BusinessHoursOnly && !WithinBusinessHours(s.now(), settings.Timezone) {
		return deny(StageTimeWindow, role, ReasonOutsideHours)
	}

	// 5. ip
	if ok, reason := s.ipPolicy.Allow(ctx, settings, req.IPAddress); !ok {
		return deny(StageIP, role, reason)
	}

	return PolicyDecision{Allowed: true, Role: role, Reason: ReasonGranted}
}

func (s *DynamicService) settings(ctx context.Context, orgID string) (store.OrgSettings, error) {
	if cached, ok := s.cache.OrgSettings(orgID); ok {
		return cached, nil
	}
	if s.orgs == nil {
		return store.OrgSettings{}, nil
	}
	gen := s.cache.Generation()
	org, err := s.orgs.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.OrgSettings{}, nil
		}
		return store.OrgSettings{}, err
	}
	s.cache.PutOrgSettings(gen, orgID, org.Settings)
	return org.Settings, nil
}

// RolloutBucket places a user in [0, 100). The same user always lands in the same bucket.
func RolloutBucket(userID string) int {
	return int(xxhash.Sum64String(userID) % 100)
}

// evaluateFlag returns a denial reason, or "" when the flag lets the request through.
func evaluateFlag(flag store.FeatureFlag, userID string, role permission.Role) string {
	if !flag.Enabled {
		return ReasonFlagDisabled
	}
	if flag.RolloutPercentage != nil && RolloutBucket(userID) >= *flag.RolloutPercentage {
		return ReasonRolloutExcluded
	}
	if minRole, ok := flag.Conditions["min_role"]; ok {
		required, err := permission.ParseRole(minRole)
		if err != nil || !role.AtLeast(required) {
			return ReasonFlagCondition
		}
	}
	return ""
}

// WithinBusinessHours reports whether t falls on Monday to Friday, 09:00 to
// 17:59, in the named IANA zone. An empty or unknown zone means UTC.
func WithinBusinessHours(t time.Time, timezone string) bool {
	loc := time.UTC
	if timezone != "" {
		if l, err := time.LoadLocation(timezone); err == nil {
			loc = l
		}
	}
	local := t.In(loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return local.Hour() >= 9 && local.Hour() < 18
}

// GetUserPermissions runs every modeled resource:action pair through the
// pipeline and returns the allowed ones. Results are cached, except for
// organizations restricted to business hours, whose answer changes with the
// clock.
func (s *DynamicService) GetUserPermissions(ctx context.Context, userID, orgID string) ([]string, error) {
	if cached, ok := s.cache.Permissions(userID, orgID); ok {
		return cached, nil
	}

	gen := s.cache.Generation()
	role, err := s.checker.GetUserRole(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if role == permission.RoleNone {
		return []string{}, nil
	}
	settings, err := s.settings(ctx, orgID)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(minimumRoles)*4)
	for _, p := range permission.All() {
		d := s.evaluate(ctx, Request{
			UserID:         userID,
			OrganizationID: orgID,
			Resource:       p.Resource(),
			Action:         p.Action(),
		})
		if d.Allowed {
			out = append(out, p.String())
		} else if d.Reason == ReasonStoreUnavailable {
			return nil, store.ErrUnavailable
		}
	}
	sort.Strings(out)

	if !settings.BusinessHoursOnly {
		s.cache.PutPermissions(gen, userID, orgID, out)
	}
	return out, nil
}
