package session

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/orgauth/secrets"
)

var (
	// ErrNotFound is returned by repositories when no matching session exists.
	ErrNotFound = errors.New("session not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrCorrupt is returned when a stored record cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
)

// Repository persists sessions. Implementations must make SwapToken and
// Terminate atomic per session; everything else may be read-then-write.
type Repository interface {
	Create(ctx context.Context, s *Session) error

	// GetByTokenHash and GetByRefreshHash only match active sessions.
	GetByTokenHash(ctx context.Context, hash secrets.Digest) (*Session, error)
	GetByRefreshHash(ctx context.Context, hash secrets.Digest) (*Session, error)
	// GetByID returns the session in any state.
	GetByID(ctx context.Context, id string) (*Session, error)
	// ListActiveForUser returns active sessions ordered oldest first.
	ListActiveForUser(ctx context.Context, userID string) ([]*Session, error)

	// SwapToken replaces the token of an active session whose current digest
	// equals expected. It reports false, without error, when the session is
	// gone or another caller swapped first.
	SwapToken(ctx context.Context, id string, expected secrets.Digest, next TokenUpdate) (bool, error)
	Touch(ctx context.Context, id string, at time.Time) error

	// Terminate ends an active session. It reports false for sessions that
	// are unknown or already ended.
	Terminate(ctx context.Context, id string, t Termination) (bool, error)
	TerminateAllForUser(ctx context.Context, userID string, t Termination) (int, error)

	// ExpireStale and SweepExpired end active sessions whose refresh window
	// closed at or before now, for one user or for everyone.
	ExpireStale(ctx context.Context, userID string, now time.Time) (int, error)
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}
