package orgauth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/internal/rate"
	"github.com/MrEthical07/orgauth/internal/stores"
	"github.com/MrEthical07/orgauth/mfa"
	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/session"
	"github.com/MrEthical07/orgauth/store"
)

// Sign-in outcomes reported to metrics.
const (
	outcomeSuccess          = "success"
	outcomeInvalid          = "invalid_credentials"
	outcomeThrottled        = "rate_limited"
	outcomeLocked           = "locked"
	outcomeMFARequired      = "mfa_required"
	outcomeMFANotConfigured = "mfa_not_configured"
	outcomeMFAFailure       = "mfa_failure"
	outcomeError            = "error"
)

// SignInRequest is a password sign-in. OrganizationID may be empty when the
// user has exactly one active membership. Client metadata falls back to the
// values attached with WithClientIP, WithUserAgent and WithDeviceFingerprint.
type SignInRequest struct {
	Email             string
	Password          string
	OrganizationID    string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
}

// FactorInfo describes a verified factor the user can complete sign-in with.
type FactorInfo struct {
	ID           string
	Type         string
	FriendlyName string
}

// SignInResult is either an established session (Success) or a pending
// second-factor step (MFARequired) carrying a single-use ticket.
type SignInResult struct {
	Success      bool
	Session      *session.Session
	Token        string
	RefreshToken string
	Role         permission.Role

	MFARequired     bool
	Ticket          string
	TicketExpiresAt time.Time
	Factors         []FactorInfo
}

// MFARequest completes a pending sign-in. FactorID may be empty to try every
// factor offered with the ticket.
type MFARequest struct {
	Ticket            string
	FactorID          string
	Code              string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
}

type client struct {
	ip          string
	userAgent   string
	fingerprint string
}

// SignInWithPassword runs the password step of sign-in: throttling and
// lockout, credential verification, membership resolution, then either a
// session or a pending MFA result.
//
// Unknown accounts, wrong passwords, and accounts without an active
// membership all return ErrInvalidCredentials. Lockout and throttling both
// return ErrRateLimited. ErrMFANotConfigured and ErrOrganizationRequired are
// only returned once the password has been verified.
func (e *Engine) SignInWithPassword(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	ctx, ip, ua := withRequestInfo(ctx, req.IPAddress, req.UserAgent)
	cl := client{ip: ip, userAgent: ua, fingerprint: req.DeviceFingerprint}
	if cl.fingerprint == "" {
		cl.fingerprint = fingerprintFromContext(ctx)
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return nil, validation("email and password are required")
	}

	if err := e.throttle(ctx, email, ip); err != nil {
		return nil, err
	}

	user, err := e.stores.Users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, e.unavailable("user lookup", err)
		}
		e.hasher.Equalize(req.Password)
		return nil, e.rejectPassword(ctx, email, "", "unknown_user")
	}

	ok, err := e.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		e.log.Warn().Err(err).Str("user_id", user.ID).Msg("stored password hash unusable")
	}
	if !ok {
		return nil, e.rejectPassword(ctx, email, user.ID, "invalid_password")
	}

	membership, err := e.selectMembership(ctx, user.ID, req.OrganizationID)
	if err != nil {
		return nil, err
	}

	required, err := e.mfaRequired(ctx, user, membership)
	if err != nil {
		return nil, err
	}
	if !required {
		return e.establish(ctx, email, membership, false, cl)
	}

	factors, err := e.verifier.VerifiedFactors(ctx, user.ID)
	if err != nil {
		return nil, e.unavailable("factor lookup", err)
	}
	if len(factors) == 0 {
		e.resetCounters(ctx, email)
		e.signInOutcome(outcomeMFANotConfigured)
		e.audit.Auth(ctx, audit.EventMFANotConfigured, audit.Fields{
			OrganizationID: membership.OrganizationID,
			UserID:         user.ID,
		})
		return nil, ErrMFANotConfigured
	}

	return e.pendingMFA(ctx, membership, factors)
}

// CompleteMFAAuthentication verifies the second factor of a pending sign-in
// and creates the session. A ticket is single use: it is consumed on success
// and burned after MFA.MaxAttempts wrong codes.
func (e *Engine) CompleteMFAAuthentication(ctx context.Context, req MFARequest) (*SignInResult, error) {
	ctx, ip, ua := withRequestInfo(ctx, req.IPAddress, req.UserAgent)
	cl := client{ip: ip, userAgent: ua, fingerprint: req.DeviceFingerprint}
	if cl.fingerprint == "" {
		cl.fingerprint = fingerprintFromContext(ctx)
	}

	if strings.TrimSpace(req.Ticket) == "" || strings.TrimSpace(req.Code) == "" {
		return nil, validation("ticket and code are required")
	}
	if !e.local.Allow(ip) {
		e.signInOutcome(outcomeThrottled)
		e.audit.Auth(ctx, audit.EventLoginRateLimited, audit.Fields{Details: map[string]string{"stage": "mfa"}})
		return nil, ErrRateLimited
	}

	claims, err := e.tickets.Parse(req.Ticket)
	if err != nil {
		return nil, wrap(ErrMFAChallengeInvalid, err)
	}
	challengeID := claims.ID

	ch, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) || errors.Is(err, stores.ErrChallengeExpired) {
			return nil, ErrMFAChallengeInvalid
		}
		return nil, e.unavailable("challenge lookup", err)
	}
	if ch.UserID != claims.Subject || ch.OrganizationID != claims.OrganizationID {
		return nil, ErrMFAChallengeInvalid
	}

	fields := audit.Fields{OrganizationID: ch.OrganizationID, UserID: ch.UserID}

	var verifyErr error
	if req.FactorID != "" && len(claims.Factors) > 0 && !slices.Contains(claims.Factors, req.FactorID) {
		verifyErr = mfa.ErrFactorNotFound
	} else {
		_, verifyErr = e.verifier.Verify(ctx, ch.UserID, req.FactorID, req.Code)
	}
	if verifyErr != nil {
		if !errors.Is(verifyErr, mfa.ErrInvalidCode) && !errors.Is(verifyErr, mfa.ErrFactorNotFound) {
			return nil, e.unavailable("factor verification", verifyErr)
		}
		exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.config.MFA.MaxAttempts)
		if err != nil && !errors.Is(err, stores.ErrChallengeNotFound) && !errors.Is(err, stores.ErrChallengeExpired) {
			e.log.Warn().Err(err).Str("user_id", ch.UserID).Msg("mfa failure not recorded")
		}
		e.signInOutcome(outcomeMFAFailure)
		fields.Details = map[string]string{"reason": verifyErr.Error()}
		if exceeded {
			fields.Details["challenge"] = "burned"
		}
		e.audit.Auth(ctx, audit.EventMFAFailure, fields)
		return nil, ErrInvalidMFACode
	}

	consumed, err := e.challenges.Consume(ctx, challengeID)
	if err != nil {
		return nil, e.unavailable("challenge consume", err)
	}
	if !consumed {
		return nil, ErrMFAChallengeInvalid
	}

	// Membership may have changed while the challenge was pending.
	membership, err := e.stores.Memberships.GetMembership(ctx, ch.UserID, ch.OrganizationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, e.unavailable("membership lookup", err)
	}
	if err != nil || !membership.Active() {
		e.signInOutcome(outcomeInvalid)
		fields.Details = map[string]string{"reason": "no_active_membership"}
		e.audit.Auth(ctx, audit.EventLoginFailure, fields)
		return nil, ErrInvalidCredentials
	}

	user, err := e.stores.Users.GetUserByID(ctx, ch.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, e.unavailable("user lookup", err)
	}

	e.audit.Auth(ctx, audit.EventMFASuccess, fields)
	return e.establish(ctx, normalizeEmail(user.Email), membership, true, cl)
}

// throttle applies the local bucket, the lockout flag, and the Redis attempt
// budgets in that order.
func (e *Engine) throttle(ctx context.Context, email, ip string) error {
	fields := audit.Fields{Details: map[string]string{"identifier": email}}

	if !e.local.Allow(ip) {
		e.signInOutcome(outcomeThrottled)
		e.audit.Auth(ctx, audit.EventLoginRateLimited, fields)
		return ErrRateLimited
	}

	locked, _, err := e.lockout.Locked(ctx, email)
	if err != nil {
		return e.unavailable("lockout check", err)
	}
	if locked {
		e.signInOutcome(outcomeLocked)
		e.audit.Auth(ctx, audit.EventLockedAttempt, fields)
		return ErrRateLimited
	}

	if err := e.limiter.Allow(ctx, email, ip); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.signInOutcome(outcomeThrottled)
			e.audit.Auth(ctx, audit.EventLoginRateLimited, fields)
			return ErrRateLimited
		}
		return e.unavailable("rate limit", err)
	}
	return nil
}

// rejectPassword counts a credential failure toward lockout.
func (e *Engine) rejectPassword(ctx context.Context, email, userID, reason string) error {
	tripped, err := e.lockout.RecordFailure(ctx, email)
	if err != nil {
		e.log.Warn().Err(err).Msg("lockout failure not recorded")
	}

	fields := audit.Fields{UserID: userID, Details: map[string]string{"identifier": email, "reason": reason}}
	e.signInOutcome(outcomeInvalid)
	e.audit.Auth(ctx, audit.EventLoginFailure, fields)
	if tripped {
		e.audit.Auth(ctx, audit.EventAccountLocked, audit.Fields{
			UserID: userID,
			Details: map[string]string{
				"identifier": email,
				"duration":   e.config.SignIn.LockoutDuration.String(),
			},
		})
	}
	return ErrInvalidCredentials
}

// selectMembership resolves the organization to sign in to. Only active
// memberships qualify.
func (e *Engine) selectMembership(ctx context.Context, userID, orgID string) (store.Membership, error) {
	reject := func() (store.Membership, error) {
		e.signInOutcome(outcomeInvalid)
		e.audit.Auth(ctx, audit.EventLoginFailure, audit.Fields{
			OrganizationID: orgID,
			UserID:         userID,
			Details:        map[string]string{"reason": "no_active_membership"},
		})
		return store.Membership{}, ErrInvalidCredentials
	}

	if orgID != "" {
		m, err := e.stores.Memberships.GetMembership(ctx, userID, orgID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return reject()
			}
			return store.Membership{}, e.unavailable("membership lookup", err)
		}
		if !m.Active() {
			return reject()
		}
		return m, nil
	}

	all, err := e.stores.Memberships.ListMemberships(ctx, userID)
	if err != nil {
		return store.Membership{}, e.unavailable("membership lookup", err)
	}
	var active []store.Membership
	for _, m := range all {
		if m.Active() {
			active = append(active, m)
		}
	}
	switch len(active) {
	case 0:
		return reject()
	case 1:
		return active[0], nil
	default:
		return store.Membership{}, ErrOrganizationRequired
	}
}

// mfaRequired applies the second-factor rule: the organization forces it,
// the role is owner or admin, or the user opted in.
func (e *Engine) mfaRequired(ctx context.Context, user store.User, m store.Membership) (bool, error) {
	if user.MFAEnabled || m.Role.IsAdminOrOwner() {
		return true, nil
	}
	settings, ok := e.cache.OrgSettings(m.OrganizationID)
	if !ok {
		gen := e.cache.Generation()
		org, err := e.stores.Organizations.GetOrganization(ctx, m.OrganizationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// No organization row means no policy could be read; require MFA.
				return true, nil
			}
			return false, e.unavailable("organization lookup", err)
		}
		settings = org.Settings
		e.cache.PutOrgSettings(gen, m.OrganizationID, settings)
	}
	return settings.RequireMFA, nil
}

func (e *Engine) pendingMFA(ctx context.Context, m store.Membership, factors []store.MFAFactor) (*SignInResult, error) {
	ids := make([]string, 0, len(factors))
	infos := make([]FactorInfo, 0, len(factors))
	for _, f := range factors {
		ids = append(ids, f.ID)
		infos = append(infos, FactorInfo{ID: f.ID, Type: string(f.Type), FriendlyName: f.FriendlyName})
	}

	ticket, claims, err := e.tickets.Issue(m.UserID, m.OrganizationID, ids)
	if err != nil {
		e.signInOutcome(outcomeError)
		return nil, wrap(ErrStoreUnavailable, err)
	}
	expiresAt := claims.ExpiresAt.Time
	err = e.challenges.Save(ctx, claims.ID, &stores.Challenge{
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		ExpiresAt:      expiresAt.Unix(),
	}, e.tickets.TTL())
	if err != nil {
		return nil, e.unavailable("challenge save", err)
	}

	e.signInOutcome(outcomeMFARequired)
	e.audit.Auth(ctx, audit.EventMFARequired, audit.Fields{
		OrganizationID: m.OrganizationID,
		UserID:         m.UserID,
		Details:        map[string]string{"factors": strings.Join(ids, ",")},
	})
	return &SignInResult{
		MFARequired:     true,
		Ticket:          ticket,
		TicketExpiresAt: expiresAt,
		Factors:         infos,
		Role:            m.Role,
	}, nil
}

// establish creates the session for a fully authenticated user and clears
// the attempt counters.
func (e *Engine) establish(ctx context.Context, email string, m store.Membership, mfaVerified bool, cl client) (*SignInResult, error) {
	issued, err := e.sessions.Create(ctx, session.CreateParams{
		UserID:            m.UserID,
		OrganizationID:    m.OrganizationID,
		IPAddress:         cl.ip,
		UserAgent:         cl.userAgent,
		DeviceFingerprint: cl.fingerprint,
		MFAVerified:       mfaVerified,
	})
	if err != nil {
		return nil, e.unavailable("session create", err)
	}

	e.resetCounters(ctx, email)
	e.signInOutcome(outcomeSuccess)
	e.audit.Auth(ctx, audit.EventLoginSuccess, audit.Fields{
		OrganizationID: m.OrganizationID,
		UserID:         m.UserID,
		SessionID:      issued.Session.ID,
	})
	return &SignInResult{
		Success:      true,
		Session:      issued.Session,
		Token:        issued.Token,
		RefreshToken: issued.RefreshToken,
		Role:         m.Role,
	}, nil
}

func (e *Engine) resetCounters(ctx context.Context, email string) {
	if err := e.lockout.Reset(ctx, email); err != nil {
		e.log.Warn().Err(err).Msg("lockout reset failed")
	}
	if err := e.limiter.Reset(ctx, email); err != nil {
		e.log.Warn().Err(err).Msg("attempt counter reset failed")
	}
}

func (e *Engine) signInOutcome(outcome string) {
	e.recorder.ObserveSignIn(outcome)
}

// unavailable logs a downstream failure and converts it to ErrStoreUnavailable.
func (e *Engine) unavailable(op string, err error) error {
	e.log.Error().Err(err).Str("op", op).Msg("downstream failure")
	return wrap(ErrStoreUnavailable, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
