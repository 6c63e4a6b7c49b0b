package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/orgauth/secrets"
	"github.com/MrEthical07/orgauth/session"
)

const sessionColumns = `id, user_id, organization_id, token_hash, refresh_hash, device_fingerprint, ip_address,
	user_agent, mfa_verified, state, termination_reason, created_at, token_issued_at, expires_at,
	refresh_expires_at, last_activity, terminated_at`

// SessionRepository implements session.Repository on the user_sessions table.
// Ended rows are kept for audit; only active rows are indexed by token.
type SessionRepository struct {
	db *sql.DB
}

var _ session.Repository = (*SessionRepository)(nil)

// NewSessionRepository wraps an open database.
func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func sessionError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return session.ErrNotFound
	}
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		s                session.Session
		tokHash, refHash []byte
		terminatedAt     sql.NullTime
	)
	err := row.Scan(&s.ID, &s.UserID, &s.OrganizationID, &tokHash, &refHash, &s.DeviceFingerprint, &s.IPAddress,
		&s.UserAgent, &s.MFAVerified, &s.State, &s.TerminationReason, &s.CreatedAt, &s.TokenIssuedAt, &s.ExpiresAt,
		&s.RefreshExpiresAt, &s.LastActivity, &terminatedAt)
	if err != nil {
		return nil, err
	}
	if len(tokHash) != len(s.TokenHash) || len(refHash) != len(s.RefreshHash) {
		return nil, fmt.Errorf("%w: session %s digest length", session.ErrCorrupt, s.ID)
	}
	copy(s.TokenHash[:], tokHash)
	copy(s.RefreshHash[:], refHash)
	if terminatedAt.Valid {
		s.TerminatedAt = terminatedAt.Time
	}
	return &s, nil
}

func (r *SessionRepository) one(ctx context.Context, where string, args ...any) (*session.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM user_sessions WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, session.ErrCorrupt) {
			return nil, err
		}
		return nil, sessionError(err)
	}
	return s, nil
}

func (r *SessionRepository) Create(ctx context.Context, s *session.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, NULL)`,
		s.ID, s.UserID, s.OrganizationID, s.TokenHash[:], s.RefreshHash[:], s.DeviceFingerprint, s.IPAddress,
		s.UserAgent, s.MFAVerified, string(s.State), s.TerminationReason, s.CreatedAt.UTC(), s.TokenIssuedAt.UTC(),
		s.ExpiresAt.UTC(), s.RefreshExpiresAt.UTC(), s.LastActivity.UTC())
	return sessionError(err)
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, hash secrets.Digest) (*session.Session, error) {
	return r.one(ctx, `token_hash = $1 AND state = 'active'`, hash[:])
}

func (r *SessionRepository) GetByRefreshHash(ctx context.Context, hash secrets.Digest) (*session.Session, error) {
	return r.one(ctx, `refresh_hash = $1 AND state = 'active'`, hash[:])
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*session.Session, error) {
	return r.one(ctx, `id = $1`, id)
}

func (r *SessionRepository) ListActiveForUser(ctx context.Context, userID string) ([]*session.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM user_sessions WHERE user_id = $1 AND state = 'active' ORDER BY created_at, id`,
		userID)
	if err != nil {
		return nil, sessionError(err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			if errors.Is(err, session.ErrCorrupt) {
				return nil, err
			}
			return nil, sessionError(err)
		}
		out = append(out, s)
	}
	return out, sessionError(rows.Err())
}

func affected(res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, sessionError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, sessionError(err)
	}
	return int(n), nil
}

func (r *SessionRepository) SwapToken(ctx context.Context, id string, expected secrets.Digest, next session.TokenUpdate) (bool, error) {
	n, err := affected(r.db.ExecContext(ctx, `
		UPDATE user_sessions
		SET token_hash = $3, token_issued_at = $4, expires_at = $5, last_activity = $4
		WHERE id = $1 AND token_hash = $2 AND state = 'active'`,
		id, expected[:], next.TokenHash[:], next.IssuedAt.UTC(), next.ExpiresAt.UTC()))
	return n == 1, err
}

func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := affected(r.db.ExecContext(ctx,
		`UPDATE user_sessions SET last_activity = $2 WHERE id = $1 AND state = 'active'`, id, at.UTC()))
	return err
}

const endSession = `
	UPDATE user_sessions
	SET state = $1, termination_reason = $2, terminated_at = $3, expires_at = $3
	WHERE state = 'active' AND `

func (r *SessionRepository) Terminate(ctx context.Context, id string, t session.Termination) (bool, error) {
	n, err := affected(r.db.ExecContext(ctx, endSession+`id = $4`, string(t.State), t.Reason, t.At.UTC(), id))
	return n == 1, err
}

func (r *SessionRepository) TerminateAllForUser(ctx context.Context, userID string, t session.Termination) (int, error) {
	return affected(r.db.ExecContext(ctx, endSession+`user_id = $4`, string(t.State), t.Reason, t.At.UTC(), userID))
}

func (r *SessionRepository) ExpireStale(ctx context.Context, userID string, now time.Time) (int, error) {
	return affected(r.db.ExecContext(ctx, endSession+`user_id = $4 AND refresh_expires_at <= $3`,
		string(session.StateExpired), session.ReasonExpired, now.UTC(), userID))
}

func (r *SessionRepository) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	return affected(r.db.ExecContext(ctx, endSession+`refresh_expires_at <= $3`,
		string(session.StateExpired), session.ReasonExpired, now.UTC()))
}
