package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/orgauth/authz"
	"github.com/MrEthical07/orgauth/cache"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/secrets"
	"github.com/MrEthical07/orgauth/session"
	"github.com/MrEthical07/orgauth/store"
)

func TestSaveMembershipNotifiesWithBeforeAndAfter(t *testing.T) {
	var got []store.ChangeEvent
	s := New(WithInvalidator(store.InvalidatorFunc(func(_ context.Context, ev store.ChangeEvent) {
		got = append(got, ev)
	})))
	ctx := context.Background()

	m := store.Membership{UserID: "u1", OrganizationID: "o1", Role: permission.RoleMember, Status: store.StatusActive}
	require.NoError(t, s.SaveMembership(ctx, m))
	m.Role = permission.RoleAdmin
	require.NoError(t, s.SaveMembership(ctx, m))
	require.NoError(t, s.DeleteMembership(ctx, "u1", "o1"))

	require.Len(t, got, 3)
	assert.Equal(t, store.OpInsert, got[0].Op)
	assert.Nil(t, got[0].Old)
	assert.Equal(t, store.OpUpdate, got[1].Op)
	assert.Equal(t, permission.RoleMember, got[1].Old.Role)
	assert.Equal(t, permission.RoleAdmin, got[1].New.Role)
	assert.Equal(t, store.OpDelete, got[2].Op)
	assert.Nil(t, got[2].New)

	_, err := s.GetMembership(ctx, "u1", "o1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteMembership(ctx, "u1", "o1"), store.ErrNotFound)
	assert.Len(t, got, 3)
}

func TestSaveMembershipRejectsIncompleteRows(t *testing.T) {
	s := New()
	err := s.SaveMembership(context.Background(), store.Membership{UserID: "u1", Status: store.StatusActive})
	assert.ErrorIs(t, err, store.ErrInvalid)
	err = s.SaveMembership(context.Background(), store.Membership{UserID: "u1", OrganizationID: "o1", Status: "gone"})
	assert.ErrorIs(t, err, store.ErrInvalid)
}

func TestUserEmailIsCaseInsensitiveAndUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveUser(ctx, store.User{ID: "u1", Email: " Alice@Example.com "}))

	u, err := s.GetUserByEmail(ctx, "alice@example.COM")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "alice@example.com", u.Email)

	err = s.SaveUser(ctx, store.User{ID: "u2", Email: "ALICE@example.com"})
	assert.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, s.SaveUser(ctx, store.User{ID: "u1", Email: "alice2@example.com"}))
	_, err = s.GetUserByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAdvanceFactorCounterIsMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveFactor(ctx, store.MFAFactor{ID: "f1", UserID: "u1", Type: store.FactorTOTP}))

	ok, err := s.AdvanceFactorCounter(ctx, "f1", 100)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.AdvanceFactorCounter(ctx, "f1", 100)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AdvanceFactorCounter(ctx, "f1", 99)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SaveFactor(ctx, store.MFAFactor{ID: "f1", UserID: "u1", Type: store.FactorTOTP, Verified: true}))
	fs, err := s.ListFactors(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, fs, 1)
	assert.EqualValues(t, 100, fs[0].LastUsedCounter)

	_, err = s.AdvanceFactorCounter(ctx, "missing", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailWithWrapsUnavailable(t *testing.T) {
	s := New()
	s.FailWith(errors.New("connection refused"))
	_, err := s.GetMembership(context.Background(), "u1", "o1")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = s.GetOrganization(context.Background(), "o1")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	s.FailWith(nil)
	_, err = s.GetOrganization(context.Background(), "o1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestOrganizationSettingsAreCopied(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.SaveOrganization(ctx, store.Organization{
		ID:       "o1",
		Settings: store.OrgSettings{IPAllowList: []string{"10.0.0.0/8"}},
	}))

	o, err := s.GetOrganization(ctx, "o1")
	require.NoError(t, err)
	o.Settings.IPAllowList[0] = "0.0.0.0/0"

	again, err := s.GetOrganization(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.0/8", again.Settings.IPAllowList[0])
}

func TestRoleChangeIsVisibleOnNextCheck(t *testing.T) {
	ctx := context.Background()
	c := cache.New(cache.DefaultConfig())
	s := New(WithInvalidator(cache.NewChangeHandler(c, nil, zerolog.Nop())))
	checker := authz.NewChecker(s, c)

	m := store.Membership{UserID: "u1", OrganizationID: "o1", Role: permission.RoleMember, Status: store.StatusActive}
	require.NoError(t, s.SaveMembership(ctx, m))
	assert.False(t, checker.CheckPermission(ctx, "u1", "o1", permission.FinanceDelete).Allowed)

	m.Role = permission.RoleOwner
	require.NoError(t, s.SaveMembership(ctx, m))
	assert.True(t, checker.CheckPermission(ctx, "u1", "o1", permission.FinanceDelete).Allowed)

	m.Status = store.StatusSuspended
	require.NoError(t, s.SaveMembership(ctx, m))
	assert.False(t, checker.CheckPermission(ctx, "u1", "o1", permission.FinanceDelete).Allowed)
}

func TestSessionRepositoryWithManager(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := NewSessionRepository()
	mgr := session.NewManager(repo, session.DefaultConfig(), session.WithClock(clock))

	issued, err := mgr.Create(ctx, session.CreateParams{UserID: "u1", OrganizationID: "o1"})
	require.NoError(t, err)

	v, err := mgr.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.False(t, v.Rotated)

	now = now.Add(6 * time.Minute)
	v, err = mgr.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.True(t, v.Rotated)

	_, err = mgr.Validate(ctx, issued.Token)
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	require.NoError(t, mgr.Terminate(ctx, issued.Session.ID, session.ReasonSignOut))
	require.NoError(t, mgr.Terminate(ctx, issued.Session.ID, session.ReasonSignOut))
	_, err = mgr.Validate(ctx, v.Token)
	assert.ErrorIs(t, err, session.ErrInvalidSession)

	ended, err := repo.GetByID(ctx, issued.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateTerminated, ended.State)
	assert.Equal(t, ended.TerminatedAt, ended.ExpiresAt)
}

func TestSessionRepositorySwapIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	_, h1, err := secrets.NewToken()
	require.NoError(t, err)
	_, h2, err := secrets.NewToken()
	require.NoError(t, err)
	_, h3, err := secrets.NewToken()
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, repo.Create(ctx, &session.Session{
		ID: "s1", UserID: "u1", TokenHash: h1, State: session.StateActive,
		CreatedAt: now, RefreshExpiresAt: now.Add(time.Hour),
	}))

	ok, err := repo.SwapToken(ctx, "s1", h1, session.TokenUpdate{TokenHash: h2, IssuedAt: now})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SwapToken(ctx, "s1", h1, session.TokenUpdate{TokenHash: h3, IssuedAt: now})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = repo.GetByTokenHash(ctx, h1)
	assert.ErrorIs(t, err, session.ErrNotFound)
	got, err := repo.GetByTokenHash(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
}

func TestSessionRepositorySweep(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Now()
	for i, exp := range []time.Duration{-time.Minute, 0, time.Hour} {
		_, h, err := secrets.NewToken()
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, &session.Session{
			ID: string(rune('a' + i)), UserID: "u1", TokenHash: h, State: session.StateActive,
			CreatedAt: now, RefreshExpiresAt: now.Add(exp),
		}))
	}

	n, err := repo.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := repo.ListActiveForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "c", active[0].ID)
}
