package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/orgauth/store"
)

// Store holds memberships, organizations, users, factors, and resources.
type Store struct {
	mu            sync.RWMutex
	memberships   map[string]store.Membership
	organizations map[string]store.Organization
	users         map[string]store.User
	emails        map[string]string
	factors       map[string]store.MFAFactor
	resources     map[string]store.Resource

	invalidator store.Invalidator
	now         func() time.Time
	fail        error
}

var (
	_ store.MembershipStore   = (*Store)(nil)
	_ store.OrganizationStore = (*Store)(nil)
	_ store.UserStore         = (*Store)(nil)
	_ store.ResourceStore     = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithInvalidator sets the hook called after every successful write.
func WithInvalidator(inv store.Invalidator) Option {
	return func(s *Store) { s.invalidator = inv }
}

// WithClock overrides the UpdatedAt source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		memberships:   map[string]store.Membership{},
		organizations: map[string]store.Organization{},
		users:         map[string]store.User{},
		emails:        map[string]string{},
		factors:       map[string]store.MFAFactor{},
		resources:     map[string]store.Resource{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetInvalidator replaces the write hook. Use it when the invalidator is
// built after the store.
func (s *Store) SetInvalidator(inv store.Invalidator) {
	s.mu.Lock()
	s.invalidator = inv
	s.mu.Unlock()
}

// FailWith makes every subsequent call return err wrapped in
// store.ErrUnavailable. Pass nil to recover.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *Store) failure() error {
	if s.fail == nil {
		return nil
	}
	return unavailable(s.fail)
}

func (s *Store) notify(ctx context.Context, ev store.ChangeEvent) {
	s.mu.RLock()
	inv := s.invalidator
	s.mu.RUnlock()
	if inv != nil {
		inv.OnChange(ctx, ev)
	}
}

func membershipKey(userID, orgID string) string { return userID + "|" + orgID }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

/* ==== memberships ==== */

func (s *Store) GetMembership(_ context.Context, userID, orgID string) (store.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return store.Membership{}, err
	}
	m, ok := s.memberships[membershipKey(userID, orgID)]
	if !ok {
		return store.Membership{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMemberships(_ context.Context, userID string) ([]store.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	var out []store.Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) SaveMembership(ctx context.Context, m store.Membership) error {
	if m.UserID == "" || m.OrganizationID == "" || !m.Status.Valid() {
		return store.ErrInvalid
	}

	s.mu.Lock()
	if err := s.failure(); err != nil {
		s.mu.Unlock()
		return err
	}
	key := membershipKey(m.UserID, m.OrganizationID)
	prev, existed := s.memberships[key]
	m.UpdatedAt = s.now()
	s.memberships[key] = m
	s.mu.Unlock()

	ev := store.ChangeEvent{
		Table:          store.TableMemberships,
		Op:             store.OpInsert,
		UserID:         m.UserID,
		OrganizationID: m.OrganizationID,
		New:            &m,
	}
	if existed {
		ev.Op = store.OpUpdate
		ev.Old = &prev
	}
	s.notify(ctx, ev)
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, userID, orgID string) error {
	s.mu.Lock()
	if err := s.failure(); err != nil {
		s.mu.Unlock()
		return err
	}
	key := membershipKey(userID, orgID)
	prev, existed := s.memberships[key]
	delete(s.memberships, key)
	s.mu.Unlock()

	if !existed {
		return store.ErrNotFound
	}
	s.notify(ctx, store.ChangeEvent{
		Table:          store.TableMemberships,
		Op:             store.OpDelete,
		UserID:         userID,
		OrganizationID: orgID,
		Old:            &prev,
	})
	return nil
}

/* ==== organizations ==== */

func (s *Store) GetOrganization(_ context.Context, orgID string) (store.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return store.Organization{}, err
	}
	o, ok := s.organizations[orgID]
	if !ok {
		return store.Organization{}, store.ErrNotFound
	}
	o.Settings = o.Settings.Clone()
	return o, nil
}

func (s *Store) SaveOrganization(ctx context.Context, o store.Organization) error {
	if o.ID == "" {
		return store.ErrInvalid
	}

	s.mu.Lock()
	if err := s.failure(); err != nil {
		s.mu.Unlock()
		return err
	}
	_, existed := s.organizations[o.ID]
	o.Settings = o.Settings.Clone()
	o.UpdatedAt = s.now()
	s.organizations[o.ID] = o
	s.mu.Unlock()

	op := store.OpInsert
	if existed {
		op = store.OpUpdate
	}
	s.notify(ctx, store.ChangeEvent{Table: store.TableOrganizations, Op: op, OrganizationID: o.ID})
	return nil
}

/* ==== users and factors ==== */

func (s *Store) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return store.User{}, err
	}
	id, ok := s.emails[normalizeEmail(email)]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return s.users[id], nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return store.User{}, err
	}
	u, ok := s.users[userID]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u store.User) error {
	email := normalizeEmail(u.Email)
	if u.ID == "" || email == "" {
		return store.ErrInvalid
	}

	s.mu.Lock()
	if err := s.failure(); err != nil {
		s.mu.Unlock()
		return err
	}
	if owner, taken := s.emails[email]; taken && owner != u.ID {
		s.mu.Unlock()
		return store.ErrConflict
	}
	prev, existed := s.users[u.ID]
	if existed && normalizeEmail(prev.Email) != email {
		delete(s.emails, normalizeEmail(prev.Email))
	}
	u.Email = email
	u.UpdatedAt = s.now()
	s.users[u.ID] = u
	s.emails[email] = u.ID
	s.mu.Unlock()

	op := store.OpInsert
	if existed {
		op = store.OpUpdate
	}
	s.notify(ctx, store.ChangeEvent{Table: store.TableUsers, Op: op, UserID: u.ID})
	return nil
}

func (s *Store) ListFactors(_ context.Context, userID string) ([]store.MFAFactor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	var out []store.MFAFactor
	for _, f := range s.factors {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Store) SaveFactor(_ context.Context, f store.MFAFactor) error {
	if f.ID == "" || f.UserID == "" {
		return store.ErrInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return err
	}
	if prev, ok := s.factors[f.ID]; ok && prev.LastUsedCounter > f.LastUsedCounter {
		f.LastUsedCounter = prev.LastUsedCounter
	}
	s.factors[f.ID] = f
	return nil
}

func (s *Store) AdvanceFactorCounter(_ context.Context, factorID string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(); err != nil {
		return false, err
	}
	f, ok := s.factors[factorID]
	if !ok {
		return false, store.ErrNotFound
	}
	if counter <= f.LastUsedCounter {
		return false, nil
	}
	f.LastUsedCounter = counter
	s.factors[factorID] = f
	return true, nil
}

/* ==== resources ==== */

// PutResource registers a row for ownership checks.
func (s *Store) PutResource(r store.Resource) {
	s.mu.Lock()
	s.resources[r.Table+"/"+r.ID] = r
	s.mu.Unlock()
}

func (s *Store) GetResource(_ context.Context, table, id string) (store.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return store.Resource{}, err
	}
	r, ok := s.resources[table+"/"+id]
	if !ok {
		return store.Resource{}, store.ErrNotFound
	}
	return r, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
