package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/MrEthical07/orgauth/permission"
	"github.com/MrEthical07/orgauth/store"
)

const membershipColumns = `user_id, organization_id, role, status, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanMembership(row rowScanner) (store.Membership, error) {
	var (
		m    store.Membership
		role string
	)
	if err := row.Scan(&m.UserID, &m.OrganizationID, &role, &m.Status, &m.UpdatedAt); err != nil {
		return store.Membership{}, err
	}
	r, err := permission.ParseRole(role)
	if err != nil {
		// Leaves Role at RoleNone so the row grants nothing.
		s.log.Warn().Str("user_id", m.UserID).Str("organization_id", m.OrganizationID).Str("role", role).Msg("unknown role in membership row")
	}
	m.Role = r
	return m, nil
}

func (s *Store) GetMembership(ctx context.Context, userID, orgID string) (store.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND organization_id = $2`,
		userID, orgID)
	m, err := s.scanMembership(row)
	if err != nil {
		return store.Membership{}, mapError(err)
	}
	return m, nil
}

func (s *Store) ListMemberships(ctx context.Context, userID string) ([]store.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 ORDER BY organization_id`,
		userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []store.Membership
	for rows.Next() {
		m, err := s.scanMembership(rows)
		if err != nil {
			return nil, mapError(err)
		}
		out = append(out, m)
	}
	return out, mapError(rows.Err())
}

// SaveMembership upserts the row. The previous row is read under FOR UPDATE
// in the same transaction so the change event carries an exact before image.
func (s *Store) SaveMembership(ctx context.Context, m store.Membership) error {
	if m.UserID == "" || m.OrganizationID == "" || !m.Status.Valid() || !m.Role.Valid() {
		return store.ErrInvalid
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev *store.Membership
	old, err := s.scanMembership(tx.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND organization_id = $2 FOR UPDATE`,
		m.UserID, m.OrganizationID))
	switch {
	case err == nil:
		prev = &old
	case !errors.Is(err, sql.ErrNoRows):
		return mapError(err)
	}

	m.UpdatedAt = s.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (user_id, organization_id, role, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, organization_id)
		DO UPDATE SET role = EXCLUDED.role, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		m.UserID, m.OrganizationID, m.Role.String(), string(m.Status), m.UpdatedAt); err != nil {
		return mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapError(err)
	}

	ev := store.ChangeEvent{
		Table:          store.TableMemberships,
		Op:             store.OpInsert,
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		Old:            prev,
		New:            &m,
	}
	if prev != nil {
		ev.Op = store.OpUpdate
	}
	s.notify(ctx, ev)
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, userID, orgID string) error {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM memberships WHERE user_id = $1 AND organization_id = $2 RETURNING `+membershipColumns,
		userID, orgID)
	old, err := s.scanMembership(row)
	if err != nil {
		return mapError(err)
	}

	s.notify(ctx, store.ChangeEvent{
		Table:          store.TableMemberships,
		Op:             store.OpDelete,
		UserID:         userID,
		OrganizationID: orgID,
		Old:            &old,
	})
	return nil
}
