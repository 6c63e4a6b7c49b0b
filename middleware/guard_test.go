package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/orgauth"
	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/password"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/store"
	"github.com/MrEthical07/orgauth/store/memory"
)

type fakeEngine struct {
	principal   *orgauth.Principal
	validateErr error
	authorize   func(perms []permission.Permission, requireAll bool) error
	gotToken    string
}

func (f *fakeEngine) ValidateSession(_ context.Context, token string) (*orgauth.Principal, error) {
	f.gotToken = token
	if f.validateErr != nil {
		return nil, f.validateErr
	}
	p := *f.principal
	return &p, nil
}

func (f *fakeEngine) Authorize(_ context.Context, p *orgauth.Principal, perms []permission.Permission, requireAll bool) error {
	if f.authorize != nil {
		return f.authorize(perms, requireAll)
	}
	return nil
}

func okHandler(check func(*orgauth.Principal, bool)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if check != nil {
			check(p, ok)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestProtectMissingToken(t *testing.T) {
	h := Protect(&fakeEngine{}, Options{})(okHandler(nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "unauthenticated", decodeBody(t, rec).Error)
}

func TestProtectMalformedHeader(t *testing.T) {
	f := &fakeEngine{principal: &orgauth.Principal{UserID: "u1"}}
	h := Protect(f, Options{})(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.gotToken)
}

func TestProtectInjectsPrincipal(t *testing.T) {
	f := &fakeEngine{principal: &orgauth.Principal{UserID: "u1", OrganizationID: "o1", Role: permission.RoleManager, SessionID: "s1"}}
	var seen *orgauth.Principal
	h := Protect(f, Options{})(okHandler(func(p *orgauth.Principal, ok bool) {
		require.True(t, ok)
		seen = p
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "tok-1", f.gotToken)
	require.NotNil(t, seen)
	assert.Equal(t, "s1", seen.SessionID)
	assert.Empty(t, rec.Header().Get(RotatedTokenHeader))
}

func TestProtectReadsCookie(t *testing.T) {
	f := &fakeEngine{principal: &orgauth.Principal{UserID: "u1"}}
	h := Protect(f, Options{})(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-tok"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "cookie-tok", f.gotToken)
}

func TestProtectReturnsRotatedToken(t *testing.T) {
	f := &fakeEngine{principal: &orgauth.Principal{UserID: "u1", Token: "fresh"}}
	h := Protect(f, Options{})(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "fresh", rec.Header().Get(RotatedTokenHeader))
}

func TestProtectForbiddenBody(t *testing.T) {
	f := &fakeEngine{
		principal: &orgauth.Principal{UserID: "u1", Role: permission.RoleMember},
		authorize: func(perms []permission.Permission, requireAll bool) error {
			assert.True(t, requireAll)
			assert.Equal(t, []permission.Permission{permission.FinanceDelete}, perms)
			return &orgauth.Error{Kind: orgauth.KindForbidden, Message: "insufficient permissions", Permission: "finance:delete", Role: "member"}
		},
	}
	h := RequireAll(f, permission.FinanceDelete)(okHandler(nil))
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "forbidden", body.Error)
	assert.Equal(t, "finance:delete", body.RequiredPermission)
	assert.Equal(t, "member", body.Role)
}

func TestProtectRequireAnyPassesFlag(t *testing.T) {
	var gotAll bool
	f := &fakeEngine{
		principal: &orgauth.Principal{UserID: "u1"},
		authorize: func(_ []permission.Permission, requireAll bool) error {
			gotAll = requireAll
			return nil
		},
	}
	h := RequireAny(f, permission.FinanceRead, permission.ReportsRead)(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, gotAll)
}

func TestProtectRequireMFA(t *testing.T) {
	f := &fakeEngine{principal: &orgauth.Principal{UserID: "u1"}}
	h := Protect(f, Options{RequireMFA: true})(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "mfa_required", decodeBody(t, rec).Error)

	f.principal.MFAVerified = true
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestProtectAllowPublic(t *testing.T) {
	f := &fakeEngine{validateErr: orgauth.ErrInvalidSession}
	calls := 0
	h := Protect(f, Options{AllowPublic: true})(okHandler(func(_ *orgauth.Principal, ok bool) {
		calls++
		assert.False(t, ok)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 2, calls)
}

func TestProtectStoreFailureIsNotPublic(t *testing.T) {
	f := &fakeEngine{validateErr: orgauth.ErrStoreUnavailable}
	h := Protect(f, Options{AllowPublic: true})(okHandler(nil))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "store_unavailable", decodeBody(t, rec).Error)
}

func TestProtectAllowPublicWithoutPermissions(t *testing.T) {
	f := &fakeEngine{
		principal: &orgauth.Principal{UserID: "u1", Role: permission.RoleMember},
		authorize: func([]permission.Permission, bool) error { return orgauth.ErrForbidden },
	}
	h := Protect(f, Options{AllowPublic: true, Permissions: []permission.Permission{permission.FinanceRead}})(okHandler(func(_ *orgauth.Principal, ok bool) {
		assert.False(t, ok, "principal without the permission must not be injected")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	f.authorize = func([]permission.Permission, bool) error { return orgauth.ErrStoreUnavailable }
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type eventSpy struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *eventSpy) Write(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *eventSpy) all() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

type auditedEngine struct {
	*fakeEngine
	trail *audit.Logger
}

func (a auditedEngine) Audit() *audit.Logger { return a.trail }

type auditFixture struct {
	engine   auditedEngine
	auditLog *eventSpy
	security *eventSpy
	flush    func()
}

func newAuditFixture(f *fakeEngine) *auditFixture {
	af := &auditFixture{auditLog: &eventSpy{}, security: &eventSpy{}}
	d := audit.NewDispatcher(audit.DefaultConfig(), audit.Sinks{AuditLog: af.auditLog, SecurityEvents: af.security}, zerolog.Nop())
	af.engine = auditedEngine{fakeEngine: f, trail: audit.NewLogger(d)}
	af.flush = d.Close
	return af
}

func TestProtectRecordsDeniedDataAccess(t *testing.T) {
	af := newAuditFixture(&fakeEngine{
		principal: &orgauth.Principal{UserID: "u1", OrganizationID: "o1", SessionID: "s1", Role: permission.RoleMember},
		authorize: func([]permission.Permission, bool) error { return orgauth.ErrForbidden },
	})
	h := Protect(af.engine, Options{
		Permissions: []permission.Permission{permission.FinanceDelete},
		RequireAll:  true,
		Resource:    "finance",
	})(okHandler(nil))

	req := httptest.NewRequest(http.MethodDelete, "/finance/r1", nil)
	req.Header.Set("Authorization", "Bearer tok")
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	af.flush()

	events := af.security.all()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, audit.EventDataAccess, e.EventType)
	assert.Equal(t, audit.SeverityHigh, e.Severity)
	assert.Equal(t, "u1", e.UserID)
	assert.Equal(t, "o1", e.OrganizationID)
	assert.Equal(t, "s1", e.SessionID)
	assert.Equal(t, "203.0.113.9", e.IPAddress)
	assert.Equal(t, map[string]string{"operation": "DELETE", "table": "finance", "status": "403"}, e.Details)
}

func TestProtectRecordsServerErrorsAsSecurityEvents(t *testing.T) {
	af := newAuditFixture(&fakeEngine{principal: &orgauth.Principal{UserID: "u1", OrganizationID: "o1"}})
	failing := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	h := Protect(af.engine, Options{Resource: "reports"})(failing)

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	req.Header.Set("Authorization", "Bearer tok")
	h.ServeHTTP(httptest.NewRecorder(), req)
	af.flush()

	events := af.security.all()
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityMedium, events[0].Severity)
	assert.Equal(t, "SELECT", events[0].Details["operation"])
	assert.Equal(t, "500", events[0].Details["status"])
}

func TestProtectRecordsSuccessfulReadsInAuditLogOnly(t *testing.T) {
	af := newAuditFixture(&fakeEngine{principal: &orgauth.Principal{UserID: "u1", OrganizationID: "o1"}})
	h := Protect(af.engine, Options{Resource: "reports"})(okHandler(nil))
	plain := Protect(af.engine, Options{})(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/reports", nil)
	req.Header.Set("Authorization", "Bearer tok")
	h.ServeHTTP(httptest.NewRecorder(), req)
	plain.ServeHTTP(httptest.NewRecorder(), req)
	af.flush()

	logged := af.auditLog.all()
	require.Len(t, logged, 1)
	assert.Equal(t, audit.SeverityLow, logged[0].Severity)
	assert.Equal(t, "204", logged[0].Details["status"])
	assert.Empty(t, af.security.all())
}

func TestOperationFor(t *testing.T) {
	cases := map[string]audit.Operation{
		http.MethodGet:    audit.OpSelect,
		http.MethodHead:   audit.OpSelect,
		http.MethodPost:   audit.OpInsert,
		http.MethodPut:    audit.OpUpdate,
		http.MethodPatch:  audit.OpUpdate,
		http.MethodDelete: audit.OpDelete,
	}
	for method, want := range cases {
		assert.Equal(t, want, operationFor(method), method)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":   "abc",
		"bearer abc":   "abc",
		"Bearer  abc ": "abc",
		"Bearer ":      "",
		"Token abc":    "",
		"Bear":         "",
	}
	for in, want := range cases {
		got, ok := bearerToken(in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want != "", ok, in)
	}
}

func TestRemoteIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5123"
	assert.Equal(t, "203.0.113.9", RemoteIP(req))
	req.RemoteAddr = "unix"
	assert.Equal(t, "unix", RemoteIP(req))
}

func TestProtectWithEngine(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := orgauth.DefaultConfig()
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MinLength: 10}
	cfg.Ticket.PrivateKey = bytes.Repeat([]byte{1}, 32)
	cfg.MFA.EncryptionKey = bytes.Repeat([]byte{2}, 32)
	cfg.Maintenance.Enabled = false

	data := memory.New()
	engine, err := orgauth.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithStores(orgauth.Stores{Memberships: data, Organizations: data, Users: data, Resources: data}).
		WithSessionRepository(memory.NewSessionRepository()).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	ctx := context.Background()
	hash, err := engine.Passwords().Hash("correct-horse-battery")
	require.NoError(t, err)
	require.NoError(t, data.SaveOrganization(ctx, store.Organization{ID: "o1", Name: "Acme"}))
	require.NoError(t, data.SaveUser(ctx, store.User{ID: "u1", Email: "m@example.com", PasswordHash: hash}))
	require.NoError(t, data.SaveMembership(ctx, store.Membership{UserID: "u1", OrganizationID: "o1", Role: permission.RoleMember, Status: store.StatusActive}))

	res, err := engine.SignInWithPassword(ctx, orgauth.SignInRequest{Email: "m@example.com", Password: "correct-horse-battery", IPAddress: "192.0.2.1"})
	require.NoError(t, err)
	require.True(t, res.Success)

	read := Protect(engine, Options{Permissions: []permission.Permission{permission.ProcurementRead}})(okHandler(nil))
	del := RequireAll(engine, permission.FinanceDelete)(okHandler(nil))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token)

	rec := httptest.NewRecorder()
	read.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	del.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "finance:delete", body.RequiredPermission)
	assert.Equal(t, "member", body.Role)
}
