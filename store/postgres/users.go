package postgres

import (
	"context"
	"strings"

	"github.com/MrEthical07/orgauth/store"
)

const userColumns = `id, email, password_hash, mfa_enabled, updated_at`

func scanUser(row rowScanner) (store.User, error) {
	var u store.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.MFAEnabled, &u.UpdatedAt)
	return u, mapError(err)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1`,
		strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func (s *Store) SaveUser(ctx context.Context, u store.User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.ID == "" || u.Email == "" {
		return store.ErrInvalid
	}

	var inserted bool
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash, mfa_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, password_hash = EXCLUDED.password_hash,
			mfa_enabled = EXCLUDED.mfa_enabled, updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`,
		u.ID, u.Email, u.PasswordHash, u.MFAEnabled, s.now().UTC(),
	).Scan(&inserted)
	if err != nil {
		return mapError(err)
	}

	op := store.OpUpdate
	if inserted {
		op = store.OpInsert
	}
	s.notify(ctx, store.ChangeEvent{Table: store.TableUsers, Op: op, UserID: u.ID})
	return nil
}

func (s *Store) ListFactors(ctx context.Context, userID string) ([]store.MFAFactor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, factor_type, friendly_name, secret_cipher, secret_nonce, verified, last_used_counter, created_at
		FROM mfa_factors WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []store.MFAFactor
	for rows.Next() {
		var f store.MFAFactor
		if err := rows.Scan(&f.ID, &f.UserID, &f.Type, &f.FriendlyName, &f.SecretCipher, &f.SecretNonce,
			&f.Verified, &f.LastUsedCounter, &f.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		out = append(out, f)
	}
	return out, mapError(rows.Err())
}

// SaveFactor upserts a factor. last_used_counter never moves backwards.
func (s *Store) SaveFactor(ctx context.Context, f store.MFAFactor) error {
	if f.ID == "" || f.UserID == "" {
		return store.ErrInvalid
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mfa_factors (id, user_id, factor_type, friendly_name, secret_cipher, secret_nonce, verified, last_used_counter, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET friendly_name = EXCLUDED.friendly_name, verified = EXCLUDED.verified,
			last_used_counter = GREATEST(mfa_factors.last_used_counter, EXCLUDED.last_used_counter)`,
		f.ID, f.UserID, string(f.Type), f.FriendlyName, f.SecretCipher, f.SecretNonce, f.Verified, f.LastUsedCounter, f.CreatedAt.UTC())
	return mapError(err)
}

// AdvanceFactorCounter is a conditional update so two requests racing with
// the same code cannot both claim the step.
func (s *Store) AdvanceFactorCounter(ctx context.Context, factorID string, counter int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mfa_factors SET last_used_counter = $2 WHERE id = $1 AND last_used_counter < $2`,
		factorID, counter)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	if n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM mfa_factors WHERE id = $1)`, factorID).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	if !exists {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) GetResource(ctx context.Context, table, id string) (store.Resource, error) {
	r := store.Resource{Table: table, ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT organization_id, created_by FROM resources WHERE table_name = $1 AND id = $2`, table, id,
	).Scan(&r.OrganizationID, &r.CreatedBy)
	if err != nil {
		return store.Resource{}, mapError(err)
	}
	return r, nil
}
