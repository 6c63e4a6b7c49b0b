package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/orgauth/audit"
	"github.com/MrEthical07/orgauth/secrets"
)

var (
	// ErrInvalidSession covers unknown, ended, and superseded tokens.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionExpired is returned when both the access and refresh windows have closed.
	ErrSessionExpired = errors.New("session expired")
	// ErrInvalidRequest is returned for malformed Create input.
	ErrInvalidRequest = errors.New("invalid session request")
)

// Config holds session lifetimes.
type Config struct {
	AccessTTL        time.Duration `yaml:"access_ttl"`
	RefreshTTL       time.Duration `yaml:"refresh_ttl"`
	RotationInterval time.Duration `yaml:"rotation_interval"`
	MaxActivePerUser int           `yaml:"max_active_per_user"`
}

// DefaultConfig returns 15 minute access tokens, a 7 day refresh window,
// rotation every 5 minutes, and at most 5 sessions per user.
func DefaultConfig() Config {
	return Config{
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		RotationInterval: 5 * time.Minute,
		MaxActivePerUser: 5,
	}
}

// Validate checks lifetimes for internal consistency.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 {
		return errors.New("session access_ttl must be > 0")
	}
	if c.RefreshTTL < c.AccessTTL {
		return errors.New("session refresh_ttl must be >= access_ttl")
	}
	if c.RotationInterval <= 0 || c.RotationInterval > c.AccessTTL {
		return errors.New("session rotation_interval must be in (0, access_ttl]")
	}
	if c.MaxActivePerUser <= 0 {
		return errors.New("session max_active_per_user must be > 0")
	}
	return nil
}

// Observer receives lifecycle transitions.
type Observer interface {
	ObserveSessions(event string, n int)
}

// CreateParams describes the session to open.
type CreateParams struct {
	UserID            string
	OrganizationID    string
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	MFAVerified       bool
}

// Issued is returned when a new token is minted. RefreshToken is only set
// by Create; rotation and refresh keep the original refresh token.
type Issued struct {
	Session      *Session
	Token        string
	RefreshToken string
}

// Validated is the outcome of Validate. Token is set when the session token
// was replaced and the caller must hand the new one to the client.
type Validated struct {
	Session   *Session
	Token     string
	Rotated   bool
	Refreshed bool
}

// Manager owns the session lifecycle on top of a Repository.
type Manager struct {
	repo     Repository
	cfg      Config
	audit    *audit.Logger
	log      zerolog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithAudit sets where lifecycle events are recorded.
func WithAudit(l *audit.Logger) Option {
	return func(m *Manager) { m.audit = l }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager builds a Manager. cfg must already be valid.
func NewManager(repo Repository, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		repo: repo,
		cfg:  cfg,
		log:  zerolog.Nop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "session").Logger()
	return m
}

// Config returns the lifetimes in effect.
func (m *Manager) Config() Config {
	return m.cfg
}

// Create opens a session. Stale sessions of the user are expired first; if
// the user is still at the cap, the single oldest active session is
// terminated. The cap is checked then enforced without a lock, so concurrent
// sign-ins may briefly overshoot it.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Issued, error) {
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.OrganizationID) == "" {
		return nil, ErrInvalidRequest
	}
	now := m.now()

	if n, err := m.repo.ExpireStale(ctx, p.UserID, now); err != nil {
		return nil, err
	} else if n > 0 {
		m.observe("expired", n)
	}

	active, err := m.repo.ListActiveForUser(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	if len(active) >= m.cfg.MaxActivePerUser {
		oldest := active[0]
		ended, err := m.repo.Terminate(ctx, oldest.ID, Termination{At: now, State: StateTerminated, Reason: ReasonSessionLimit})
		if err != nil {
			return nil, err
		}
		if ended {
			m.observe("evicted", 1)
			m.record(ctx, audit.EventSessionEvicted, oldest, map[string]string{"reason": ReasonSessionLimit})
		}
	}

	token, tokenHash, err := secrets.NewToken()
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}
	refresh, refreshHash, err := secrets.NewToken()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	s := &Session{
		ID:                uuid.NewString(),
		UserID:            p.UserID,
		OrganizationID:    p.OrganizationID,
		TokenHash:         tokenHash,
		RefreshHash:       refreshHash,
		DeviceFingerprint: p.DeviceFingerprint,
		IPAddress:         p.IPAddress,
		UserAgent:         p.UserAgent,
		MFAVerified:       p.MFAVerified,
		State:             StateActive,
		CreatedAt:         now,
		TokenIssuedAt:     now,
		ExpiresAt:         now.Add(m.cfg.AccessTTL),
		RefreshExpiresAt:  now.Add(m.cfg.RefreshTTL),
		LastActivity:      now,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}

	m.observe("created", 1)
	m.record(ctx, audit.EventSessionCreated, s, map[string]string{"device_fingerprint": s.DeviceFingerprint})
	return &Issued{Session: s.Clone(), Token: token, RefreshToken: refresh}, nil
}

// Validate resolves a session token. Past the access expiry it refreshes
// from the refresh window or ends the session; past the rotation interval it
// swaps in a new token; otherwise it records activity.
func (m *Manager) Validate(ctx context.Context, token string) (*Validated, error) {
	hash, err := secrets.HashToken(token)
	if err != nil {
		return nil, ErrInvalidSession
	}
	s, err := m.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !s.Active() {
		return nil, ErrInvalidSession
	}

	now := m.now()
	switch {
	case !now.Before(s.ExpiresAt):
		issued, err := m.refresh(ctx, s, now)
		if err != nil {
			return nil, err
		}
		return &Validated{Session: issued.Session, Token: issued.Token, Refreshed: true}, nil
	case now.Sub(s.TokenIssuedAt) >= m.cfg.RotationInterval:
		issued, err := m.swap(ctx, s, now, audit.EventSessionRotated, "rotated")
		if err != nil {
			return nil, err
		}
		return &Validated{Session: issued.Session, Token: issued.Token, Rotated: true}, nil
	}

	if err := m.repo.Touch(ctx, s.ID, now); err != nil {
		m.log.Warn().Err(err).Str("session_id", s.ID).Msg("touch failed")
	} else {
		s.LastActivity = now
	}
	return &Validated{Session: s}, nil
}

// Refresh mints a new session token from a refresh token. The refresh token
// itself is unchanged and stays valid until CreatedAt + RefreshTTL.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (*Issued, error) {
	hash, err := secrets.HashToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidSession
	}
	s, err := m.repo.GetByRefreshHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	if !s.Active() {
		return nil, ErrInvalidSession
	}
	return m.refresh(ctx, s, m.now())
}

// Rotate unconditionally replaces the token of the session identified by token.
func (m *Manager) Rotate(ctx context.Context, token string) (*Issued, error) {
	hash, err := secrets.HashToken(token)
	if err != nil {
		return nil, ErrInvalidSession
	}
	s, err := m.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	now := m.now()
	if !s.Active() || !now.Before(s.ExpiresAt) {
		return nil, ErrInvalidSession
	}
	return m.swap(ctx, s, now, audit.EventSessionRotated, "rotated")
}

func (m *Manager) refresh(ctx context.Context, s *Session, now time.Time) (*Issued, error) {
	if !now.Before(s.RefreshExpiresAt) {
		ended, err := m.repo.Terminate(ctx, s.ID, Termination{At: now, State: StateExpired, Reason: ReasonExpired})
		if err != nil {
			m.log.Warn().Err(err).Str("session_id", s.ID).Msg("expire failed")
		} else if ended {
			m.observe("expired", 1)
			m.record(ctx, audit.EventSessionExpired, s, nil)
		}
		return nil, ErrSessionExpired
	}
	return m.swap(ctx, s, now, audit.EventSessionRefreshed, "refreshed")
}

// swap installs a new session token. Losing the race to a concurrent swap
// leaves the caller's token stale, which is reported as an invalid session.
func (m *Manager) swap(ctx context.Context, s *Session, now time.Time, eventType, metric string) (*Issued, error) {
	token, hash, err := secrets.NewToken()
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}

	next := TokenUpdate{TokenHash: hash, IssuedAt: now, ExpiresAt: now.Add(m.cfg.AccessTTL)}
	if next.ExpiresAt.After(s.RefreshExpiresAt) {
		next.ExpiresAt = s.RefreshExpiresAt
	}

	ok, err := m.repo.SwapToken(ctx, s.ID, s.TokenHash, next)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.log.Debug().Str("session_id", s.ID).Msg("token swap lost race")
		return nil, ErrInvalidSession
	}

	out := s.Clone()
	out.TokenHash = next.TokenHash
	out.TokenIssuedAt = next.IssuedAt
	out.ExpiresAt = next.ExpiresAt
	out.LastActivity = now

	m.observe(metric, 1)
	m.record(ctx, eventType, out, nil)
	return &Issued{Session: out, Token: token}, nil
}

// Terminate ends a session. Ending an unknown or already ended session is not an error.
func (m *Manager) Terminate(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = ReasonRevoked
	}
	var s *Session
	if m.audit != nil {
		s, _ = m.repo.GetByID(ctx, id)
	}
	ended, err := m.repo.Terminate(ctx, id, Termination{At: m.now(), State: StateTerminated, Reason: reason})
	if err != nil {
		return err
	}
	if ended {
		m.observe("terminated", 1)
		if s == nil {
			s = &Session{ID: id}
		}
		m.record(ctx, audit.EventSessionTerminated, s, map[string]string{"reason": reason})
	}
	return nil
}

// TerminateByToken ends the session a token belongs to.
func (m *Manager) TerminateByToken(ctx context.Context, token, reason string) (*Session, error) {
	hash, err := secrets.HashToken(token)
	if err != nil {
		return nil, ErrInvalidSession
	}
	s, err := m.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	return s, m.Terminate(ctx, s.ID, reason)
}

// TerminateAllForUser ends every active session of a user and returns how many were ended.
func (m *Manager) TerminateAllForUser(ctx context.Context, userID, reason string) (int, error) {
	if reason == "" {
		reason = ReasonRevoked
	}
	n, err := m.repo.TerminateAllForUser(ctx, userID, Termination{At: m.now(), State: StateTerminated, Reason: reason})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.observe("terminated", n)
		m.record(ctx, audit.EventSessionTerminated, &Session{UserID: userID}, map[string]string{
			"reason": reason,
			"count":  fmt.Sprint(n),
		})
	}
	return n, nil
}

// CleanupExpired ends every session whose refresh window has closed.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	n, err := m.repo.SweepExpired(ctx, m.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.observe("expired", n)
		m.log.Info().Int("count", n).Msg("expired sessions swept")
	}
	return n, nil
}

// ListActive returns the user's active sessions, oldest first.
func (m *Manager) ListActive(ctx context.Context, userID string) ([]*Session, error) {
	all, err := m.repo.ListActiveForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	out := all[:0]
	for _, s := range all {
		if now.Before(s.RefreshExpiresAt) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Manager) observe(event string, n int) {
	if m.observer != nil {
		m.observer.ObserveSessions(event, n)
	}
}

func (m *Manager) record(ctx context.Context, eventType string, s *Session, details map[string]string) {
	m.audit.Auth(ctx, eventType, audit.Fields{
		OrganizationID: s.OrganizationID,
		UserID:         s.UserID,
		SessionID:      s.ID,
		IPAddress:      s.IPAddress,
		UserAgent:      s.UserAgent,
		Details:        details,
	})
}
