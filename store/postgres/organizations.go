package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrEthical07/orgauth/store"
)

func (s *Store) GetOrganization(ctx context.Context, orgID string) (store.Organization, error) {
	var (
		o        store.Organization
		settings []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, settings, updated_at FROM organizations WHERE id = $1`, orgID,
	).Scan(&o.ID, &o.Name, &settings, &o.UpdatedAt)
	if err != nil {
		return store.Organization{}, mapError(err)
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &o.Settings); err != nil {
			return store.Organization{}, fmt.Errorf("%w: organization %s settings: %v", store.ErrUnavailable, orgID, err)
		}
	}
	return o, nil
}

func (s *Store) SaveOrganization(ctx context.Context, o store.Organization) error {
	if o.ID == "" {
		return store.ErrInvalid
	}
	settings, err := json.Marshal(o.Settings)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}

	var inserted bool
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO organizations (id, name, settings, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, settings = EXCLUDED.settings, updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0)`,
		o.ID, o.Name, settings, s.now().UTC(),
	).Scan(&inserted)
	if err != nil {
		return mapError(err)
	}

	op := store.OpUpdate
	if inserted {
		op = store.OpInsert
	}
	s.notify(ctx, store.ChangeEvent{Table: store.TableOrganizations, Op: op, OrganizationID: o.ID})
	return nil
}
