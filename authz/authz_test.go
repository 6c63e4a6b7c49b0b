package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/cache"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/store"
)

type fakeMemberships struct {
	mu    sync.Mutex
	rows  map[string]store.Membership
	err   error
	calls int
}

func newFakeMemberships(rows ...store.Membership) *fakeMemberships {
	f := &fakeMemberships{rows: map[string]store.Membership{}}
	for _, r := range rows {
		f.rows[r.UserID+"|"+r.OrganizationID] = r
	}
	return f
}

func (f *fakeMemberships) GetMembership(_ context.Context, userID, orgID string) (store.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return store.Membership{}, f.err
	}
	m, ok := f.rows[userID+"|"+orgID]
	if !ok {
		return store.Membership{}, store.ErrNotFound
	}
	return m, nil
}

func (f *fakeMemberships) ListMemberships(context.Context, string) ([]store.Membership, error) {
	return nil, nil
}

func (f *fakeMemberships) SaveMembership(_ context.Context, m store.Membership) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[m.UserID+"|"+m.OrganizationID] = m
	return nil
}

func (f *fakeMemberships) DeleteMembership(_ context.Context, userID, orgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, userID+"|"+orgID)
	return nil
}

type fakeOrgs struct {
	orgs map[string]store.Organization
	err  error
}

func (f *fakeOrgs) GetOrganization(_ context.Context, orgID string) (store.Organization, error) {
	if f.err != nil {
		return store.Organization{}, f.err
	}
	o, ok := f.orgs[orgID]
	if !ok {
		return store.Organization{}, store.ErrNotFound
	}
	return o, nil
}

func (f *fakeOrgs) SaveOrganization(_ context.Context, o store.Organization) error {
	f.orgs[o.ID] = o
	return nil
}

type fakeResources map[string]store.Resource

func (f fakeResources) GetResource(_ context.Context, table, id string) (store.Resource, error) {
	r, ok := f[table+"/"+id]
	if !ok {
		return store.Resource{}, store.ErrNotFound
	}
	return r, nil
}

type sinkSpy struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *sinkSpy) Write(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *sinkSpy) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

func active(user, org string, role permission.Role) store.Membership {
	return store.Membership{UserID: user, OrganizationID: org, Role: role, Status: store.StatusActive}
}

func newAudit(t *testing.T) (*audit.Logger, *sinkSpy, func()) {
	t.Helper()
	spy := &sinkSpy{}
	d := audit.NewDispatcher(audit.DefaultConfig(), audit.Sinks{SecurityEvents: spy}, zerolog.Nop())
	return audit.NewLogger(d), spy, d.Close
}

func TestMemberCannotDeleteFinanceAndDenialIsAudited(t *testing.T) {
	logger, spy, flush := newAudit(t)
	checker := NewChecker(newFakeMemberships(active("u1", "o1", permission.RoleMember)), cache.New(cache.DefaultConfig()), WithAuditLogger(logger))

	d := checker.CheckPermission(context.Background(), "u1", "o1", permission.FinanceDelete)
	flush()

	assert.False(t, d.Allowed)
	assert.Equal(t, permission.RoleMember, d.Role)
	assert.Equal(t, ReasonMissingPermission, d.Reason)

	events := spy.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventAccessDenied, events[0].EventType)
	assert.Equal(t, audit.SeverityHigh, events[0].Severity)
	assert.Equal(t, "finance:delete", events[0].Details["permission"])
}

func TestOwnerIsAlwaysAllowed(t *testing.T) {
	checker := NewChecker(newFakeMemberships(active("owner", "o1", permission.RoleOwner)), nil)
	for _, p := range permission.All() {
		d := checker.CheckPermission(context.Background(), "owner", "o1", p)
		assert.True(t, d.Allowed, "owner denied %s", p)
	}
}

func TestCheckMatchesMatrixForEveryRole(t *testing.T) {
	for _, r := range permission.Roles() {
		checker := NewChecker(newFakeMemberships(active("u", "o", r)), nil)
		for _, p := range permission.All() {
			d := checker.CheckPermission(context.Background(), "u", "o", p)
			assert.Equal(t, permission.Grants(r, p), d.Allowed, "role=%s perm=%s", r, p)
		}
	}
}

func TestStoreFailureFailsClosed(t *testing.T) {
	ms := newFakeMemberships()
	ms.err = fmt.Errorf("%w: connection refused", store.ErrUnavailable)
	checker := NewChecker(ms, nil)

	d := checker.CheckPermission(context.Background(), "u1", "o1", permission.ProcurementRead)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, d.Reason)

	role, err := checker.GetUserRole(context.Background(), "u1", "o1")
	assert.Equal(t, permission.RoleNone, role)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.False(t, checker.IsOwner(context.Background(), "u1", "o1"))
}

func TestInactiveOrMissingMembershipDenies(t *testing.T) {
	suspended := active("u1", "o1", permission.RoleOwner)
	suspended.Status = store.StatusSuspended
	checker := NewChecker(newFakeMemberships(suspended), nil)

	d := checker.CheckPermission(context.Background(), "u1", "o1", permission.ProcurementRead)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMembership, d.Reason)

	d = checker.CheckPermission(context.Background(), "ghost", "o1", permission.ProcurementRead)
	assert.Equal(t, ReasonNoMembership, d.Reason)

	d = checker.CheckPermission(context.Background(), "", "o1", permission.ProcurementRead)
	assert.Equal(t, ReasonInvalidRequest, d.Reason)
}

func TestCheckAnyAndAll(t *testing.T) {
	checker := NewChecker(newFakeMemberships(active("u1", "o1", permission.RoleProducer)), nil)
	ctx := context.Background()

	anyOf := checker.CheckAnyPermission(ctx, "u1", "o1", []permission.Permission{permission.FinanceDelete, permission.FinanceRead})
	assert.True(t, anyOf.Allowed)
	assert.Equal(t, permission.FinanceRead, anyOf.Permission)

	none := checker.CheckAnyPermission(ctx, "u1", "o1", []permission.Permission{permission.FinanceDelete, permission.UsersDelete})
	assert.False(t, none.Allowed)

	all := checker.CheckAllPermissions(ctx, "u1", "o1", []permission.Permission{permission.FinanceRead, permission.FinanceCreate, permission.UsersDelete})
	assert.False(t, all.Allowed)
	assert.Equal(t, permission.FinanceCreate, all.Permission, "first failure is reported")

	ok := checker.CheckAllPermissions(ctx, "u1", "o1", []permission.Permission{permission.FinanceRead, permission.ProcurementUpdate})
	assert.True(t, ok.Allowed)

	empty := checker.CheckAllPermissions(ctx, "u1", "o1", nil)
	assert.False(t, empty.Allowed)
	assert.Equal(t, ReasonInvalidRequest, empty.Reason)
}

func TestRoleHierarchyQueries(t *testing.T) {
	checker := NewChecker(newFakeMemberships(
		active("owner", "o1", permission.RoleOwner),
		active("admin", "o1", permission.RoleAdmin),
		active("mgr", "o1", permission.RoleManager),
	), nil)
	ctx := context.Background()

	assert.True(t, checker.IsOwner(ctx, "owner", "o1"))
	assert.False(t, checker.IsOwner(ctx, "admin", "o1"))
	assert.True(t, checker.IsAdminOrOwner(ctx, "admin", "o1"))
	assert.False(t, checker.IsAdminOrOwner(ctx, "mgr", "o1"))

	assert.True(t, checker.CanManageRole(ctx, "mgr", "o1", permission.RoleProducer))
	assert.False(t, checker.CanManageRole(ctx, "mgr", "o1", permission.RoleManager))
	assert.False(t, checker.CanManageRole(ctx, "admin", "o1", permission.RoleOwner))
	assert.False(t, checker.CanManageRole(ctx, "ghost", "o1", permission.RoleMember))
}

func TestInvalidationForcesStoreRead(t *testing.T) {
	ms := newFakeMemberships(active("u1", "o1", permission.RoleAdmin))
	c := cache.New(cache.DefaultConfig())
	checker := NewChecker(ms, c)
	ctx := context.Background()

	role, err := checker.GetUserRole(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, permission.RoleAdmin, role)
	_, _ = checker.GetUserRole(ctx, "u1", "o1")
	assert.Equal(t, 1, ms.calls, "second read should be a cache hit")

	require.NoError(t, ms.SaveMembership(ctx, active("u1", "o1", permission.RoleMember)))
	c.InvalidateUser("u1")

	role, err = checker.GetUserRole(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, permission.RoleMember, role)
	assert.Equal(t, 2, ms.calls)
}

func TestMinimumRoleTable(t *testing.T) {
	r, modeled := MinimumRole("users", "delete")
	assert.True(t, modeled)
	assert.Equal(t, permission.RoleOwner, r)

	r, _ = MinimumRole("finance", "read")
	assert.Equal(t, 2, r.Level())

	_, modeled = MinimumRole("spaceships", "launch")
	assert.False(t, modeled)
}

type policyFixture struct {
	svc       *DynamicService
	orgs      *fakeOrgs
	resources fakeResources
	now       time.Time
}

func newPolicyFixture(members ...store.Membership) *policyFixture {
	f := &policyFixture{
		orgs:      &fakeOrgs{orgs: map[string]store.Organization{"o1": {ID: "o1"}, "o2": {ID: "o2"}}},
		resources: fakeResources{},
		// Wednesday 10:30 UTC
		now: time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC),
	}
	checker := NewChecker(newFakeMemberships(members...), nil)
	f.svc = NewDynamicService(checker, f.orgs, f.resources, nil, WithPolicyClock(func() time.Time { return f.now }))
	return f
}

func TestPipelineRoleStage(t *testing.T) {
	f := newPolicyFixture(active("m", "o1", permission.RoleMember), active("o", "o1", permission.RoleOwner))
	ctx := context.Background()

	d := f.svc.Evaluate(ctx, Request{UserID: "m", OrganizationID: "o1", Resource: "users", Action: "delete"})
	assert.False(t, d.Allowed)
	assert.Equal(t, StageRole, d.Stage)
	assert.Equal(t, ReasonInsufficientRole, d.Reason)

	d = f.svc.Evaluate(ctx, Request{UserID: "o", OrganizationID: "o1", Resource: "users", Action: "delete"})
	assert.True(t, d.Allowed)

	d = f.svc.Evaluate(ctx, Request{UserID: "m", OrganizationID: "o1", Resource: "spaceships", Action: "launch"})
	assert.True(t, d.Allowed, "unmodeled resources are allowed")

	d = f.svc.Evaluate(ctx, Request{UserID: "o", OrganizationID: "o1", Resource: "finance", Action: "teleport"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonUnknownAction, d.Reason)

	d = f.svc.Evaluate(ctx, Request{UserID: "nobody", OrganizationID: "o1", Resource: "spaceships", Action: "launch"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoMembership, d.Reason)
}

func TestPipelineFeatureFlags(t *testing.T) {
	f := newPolicyFixture(active("u1", "o1", permission.RoleAdmin))
	zero, hundred := 0, 100
	f.orgs.orgs["o1"] = store.Organization{ID: "o1", Settings: store.OrgSettings{FeatureFlags: map[string]store.FeatureFlag{
		"finance.create":  {Name: "finance.create", Enabled: false},
		"finance.update":  {Name: "finance.update", Enabled: true, RolloutPercentage: &zero},
		"contracts.read":  {Name: "contracts.read", Enabled: true, RolloutPercentage: &hundred},
		"settings.update": {Name: "settings.update", Enabled: true, Conditions: map[string]string{"min_role": "owner"}},
	}}}
	ctx := context.Background()

	d := f.svc.Evaluate(ctx, Request{UserID: "u1", OrganizationID: "o1", Resource: "finance", Action: "create"})
	assert.Equal(t, ReasonFlagDisabled, d.Reason)
	assert.Equal(t, StageFeatureFlag, d.Stage)

	d = f.svc.Evaluate(ctx, Request{UserID: "u1", OrganizationID: "o1", Resource: "finance", Action: "update"})
	assert.Equal(t, ReasonRolloutExcluded, d.Reason)

	d = f.svc.Evaluate(ctx, Request{UserID: "u1", OrganizationID: "o1", Resource: "contracts", Action: "read"})
	assert.True(t, d.Allowed)

	d = f.svc.Evaluate(ctx, Request{UserID: "u1", OrganizationID: "o1", Resource: "settings", Action: "update"})
	assert.Equal(t, ReasonFlagCondition, d.Reason)
}

func TestRolloutIsDeterministic(t *testing.T) {
	pct := 37
	flag := store.FeatureFlag{Enabled: true, RolloutPercentage: &pct}
	for i := 0; i < 50; i++ {
		user := fmt.Sprintf("user-%d", i)
		first := evaluateFlag(flag, user, permission.RoleMember)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, evaluateFlag(flag, user, permission.RoleMember))
		}
		bucket := RolloutBucket(user)
		assert.GreaterOrEqual(t, bucket, 0)
		assert.Less(t, bucket, 100)
		assert.Equal(t, bucket < pct, first == "")
	}
}

func TestPipelineOwnership(t *testing.T) {
	f := newPolicyFixture(
		active("creator", "o1", permission.RoleManager),
		active("peer", "o1", permission.RoleManager),
		active("admin", "o1", permission.RoleAdmin),
	)
	f.resources["procurement/r1"] = store.Resource{Table: "procurement", ID: "r1", OrganizationID: "o1", CreatedBy: "creator"}
	f.resources["procurement/r2"] = store.Resource{Table: "procurement", ID: "r2", OrganizationID: "o2", CreatedBy: "creator"}
	ctx := context.Background()
	req := func(user, action, id string) Request {
		return Request{UserID: user, OrganizationID: "o1", Resource: "procurement", Action: action, ResourceID: id}
	}

	assert.True(t, f.svc.Evaluate(ctx, req("creator", "delete", "r1")).Allowed)
	assert.True(t, f.svc.Evaluate(ctx, req("admin", "delete", "r1")).Allowed)
	assert.True(t, f.svc.Evaluate(ctx, req("peer", "read", "r1")).Allowed)

	d := f.svc.Evaluate(ctx, req("peer", "update", "r1"))
	assert.Equal(t, ReasonNotOwner, d.Reason)
	assert.Equal(t, StageOwnership, d.Stage)

	d = f.svc.Evaluate(ctx, req("admin", "read", "r2"))
	assert.Equal(t, ReasonTenantMismatch, d.Reason)

	d = f.svc.Evaluate(ctx, req("admin", "read", "missing"))
	assert.Equal(t, ReasonResourceNotFound, d.Reason)
}

func TestPipelineBusinessHours(t *testing.T) {
	f := newPolicyFixture(active("u1", "o1", permission.RoleOwner))
	f.orgs.orgs["o1"] = store.Organization{ID: "o1", Settings: store.OrgSettings{BusinessHoursOnly: true}}
	ctx := context.Background()
	req := Request{UserID: "u1", OrganizationID: "o1", Resource: "finance", Action: "read"}

	assert.True(t, f.svc.Evaluate(ctx, req).Allowed)

	f.now = time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC)
	d := f.svc.Evaluate(ctx, req)
	assert.Equal(t, ReasonOutsideHours, d.Reason)
	assert.Equal(t, StageTimeWindow, d.Stage)

	f.now = time.Date(2026, 3, 7, 11, 0, 0, 0, time.UTC) // Saturday
	assert.False(t, f.svc.Evaluate(ctx, req).Allowed)
}

func TestWithinBusinessHoursUsesTimezone(t *testing.T) {
	// 08:00 UTC on a Monday is 09:00 in Berlin during winter time.
	at := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	assert.False(t, WithinBusinessHours(at, ""))
	assert.True(t, WithinBusinessHours(at, "Europe/Berlin"))
	assert.False(t, WithinBusinessHours(at, "Not/AZone"))
}

func TestIPPolicies(t *testing.T) {
	ctx := context.Background()
	ok, _ := EdgeIPPolicy{}.Allow(ctx, store.OrgSettings{IPDenyList: []string{"10.0.0.1"}}, "10.0.0.1")
	assert.True(t, ok)

	settings := store.OrgSettings{IPAllowList: []string{"10.0.0.0/8", "192.168.1.7"}, IPDenyList: []string{"10.9.0.0/16"}}
	p := ListIPPolicy{}
	ok, _ = p.Allow(ctx, settings, "10.1.2.3")
	assert.True(t, ok)
	ok, _ = p.Allow(ctx, settings, "192.168.1.7")
	assert.True(t, ok)
	ok, reason := p.Allow(ctx, settings, "10.9.1.1")
	assert.False(t, ok)
	assert.Equal(t, ReasonIPDenied, reason)
	ok, reason = p.Allow(ctx, settings, "8.8.8.8")
	assert.False(t, ok)
	assert.Equal(t, ReasonIPNotAllowed, reason)
	ok, reason = p.Allow(ctx, settings, "")
	assert.False(t, ok)
	assert.Equal(t, ReasonIPUnknown, reason)
	ok, _ = p.Allow(ctx, store.OrgSettings{}, "")
	assert.True(t, ok)
}

func TestPipelineIPStage(t *testing.T) {
	f := newPolicyFixture(active("u1", "o1", permission.RoleOwner))
	f.svc.ipPolicy = ListIPPolicy{}
	f.orgs.orgs["o1"] = store.Organization{ID: "o1", Settings: store.OrgSettings{IPDenyList: []string{"203.0.113.9"}}}

	d := f.svc.Evaluate(context.Background(), Request{UserID: "u1", OrganizationID: "o1", Resource: "finance", Action: "read", IPAddress: "203.0.113.9"})
	assert.Equal(t, StageIP, d.Stage)
}

func TestPipelineSettingsFailureDenies(t *testing.T) {
	f := newPolicyFixture(active("u1", "o1", permission.RoleOwner))
	f.orgs.err = errors.New("timeout")
	d := f.svc.Evaluate(context.Background(), Request{UserID: "u1", OrganizationID: "o1", Resource: "finance", Action: "read"})
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStoreUnavailable, d.Reason)
}

func TestGetUserPermissionsIsCached(t *testing.T) {
	c := cache.New(cache.DefaultConfig())
	ms := newFakeMemberships(active("u1", "o1", permission.RoleProducer))
	checker := NewChecker(ms, c)
	orgs := &fakeOrgs{orgs: map[string]store.Organization{"o1": {ID: "o1"}}}
	svc := NewDynamicService(checker, orgs, fakeResources{}, c)

	perms, err := svc.GetUserPermissions(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Len(t, perms, permission.MaskFor(permission.RoleProducer).Len())
	assert.Contains(t, perms, "finance:read")
	assert.NotContains(t, perms, "finance:create")

	orgs.err = errors.New("store gone")
	again, err := svc.GetUserPermissions(context.Background(), "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, perms, again)
}

// interleavingMemberships commits a concurrent change between reading a row
// and returning it, the first time it is read.
type interleavingMemberships struct {
	*fakeMemberships
	once   sync.Once
	change func()
}

func (s *interleavingMemberships) GetMembership(ctx context.Context, userID, orgID string) (store.Membership, error) {
	m, err := s.fakeMemberships.GetMembership(ctx, userID, orgID)
	s.once.Do(s.change)
	return m, err
}

func TestRoleReadBeforeConcurrentChangeIsNotCached(t *testing.T) {
	c := cache.New(cache.DefaultConfig())
	ms := &interleavingMemberships{fakeMemberships: newFakeMemberships(active("u1", "o1", permission.RoleOwner))}
	ms.change = func() {
		suspended := active("u1", "o1", permission.RoleOwner)
		suspended.Status = store.StatusSuspended
		require.NoError(t, ms.SaveMembership(context.Background(), suspended))
		c.InvalidateUser("u1")
	}
	checker := NewChecker(ms, c)
	ctx := context.Background()

	role, err := checker.GetUserRole(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, permission.RoleOwner, role)

	role, err = checker.GetUserRole(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Equal(t, permission.RoleNone, role)
	assert.Equal(t, 2, ms.calls)

	assert.False(t, checker.CheckPermission(ctx, "u1", "o1", permission.ReportsRead).Allowed)
}

func TestSettingsReadBeforeConcurrentChangeIsNotCached(t *testing.T) {
	c := cache.New(cache.DefaultConfig())
	orgs := &fakeOrgs{orgs: map[string]store.Organization{"o1": {ID: "o1"}}}
	checker := NewChecker(newFakeMemberships(active("u1", "o1", permission.RoleOwner)), c)
	svc := NewDynamicService(checker, orgs, fakeResources{}, c)
	ctx := context.Background()

	gen := c.Generation()
	orgs.orgs["o1"] = store.Organization{ID: "o1", Settings: store.OrgSettings{IPAllowList: []string{"10.0.0.0/8"}}}
	c.InvalidateOrganization("o1")
	assert.False(t, c.PutOrgSettings(gen, "o1", store.OrgSettings{}))

	settings, err := svc.settings(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8"}, settings.IPAllowList)
}

func TestGetUserPermissionsFollowsBusinessHours(t *testing.T) {
	c := cache.New(cache.DefaultConfig())
	checker := NewChecker(newFakeMemberships(active("u1", "o1", permission.RoleOwner)), c)
	orgs := &fakeOrgs{orgs: map[string]store.Organization{"o1": {ID: "o1", Settings: store.OrgSettings{BusinessHoursOnly: true}}}}
	// Wednesday, two minutes before closing.
	now := time.Date(2026, 3, 4, 17, 58, 0, 0, time.UTC)
	svc := NewDynamicService(checker, orgs, fakeResources{}, c, WithPolicyClock(func() time.Time { return now }))
	ctx := context.Background()

	perms, err := svc.GetUserPermissions(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Len(t, perms, len(permission.All()))

	now = now.Add(2 * time.Minute)
	perms, err = svc.GetUserPermissions(ctx, "u1", "o1")
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestRolloutBoundary(t *testing.T) {
	user := "rollout-user"
	bucket := RolloutBucket(user)

	at := bucket
	above := bucket + 1
	zero, hundred := 0, 100
	tests := []struct {
		name string
		pct  *int
		want string
	}{
		{"bucket equal to percentage is excluded", &at, ReasonRolloutExcluded},
		{"bucket below percentage is included", &above, ""},
		{"zero excludes everyone", &zero, ReasonRolloutExcluded},
		{"hundred includes everyone", &hundred, ""},
		{"no percentage includes everyone", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := store.FeatureFlag{Enabled: true, RolloutPercentage: tt.pct}
			assert.Equal(t, tt.want, evaluateFlag(flag, user, permission.RoleMember))
		})
	}
}
