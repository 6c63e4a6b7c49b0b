package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable wraps any failure of the underlying data service.
	ErrUnavailable = errors.New("store unavailable")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
	// ErrInvalid is returned when a write is missing required fields.
	ErrInvalid = errors.New("invalid row")
)

// MembershipStore reads and writes organization memberships.
type MembershipStore interface {
	GetMembership(ctx context.Context, userID, orgID string) (Membership, error)
	ListMemberships(ctx context.Context, userID string) ([]Membership, error)
	SaveMembership(ctx context.Context, m Membership) error
	DeleteMembership(ctx context.Context, userID, orgID string) error
}

// OrganizationStore reads and writes organizations and their settings.
type OrganizationStore interface {
	GetOrganization(ctx context.Context, orgID string) (Organization, error)
	SaveOrganization(ctx context.Context, org Organization) error
}

// UserStore reads accounts and their second factors.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	SaveUser(ctx context.Context, u User) error
	ListFactors(ctx context.Context, userID string) ([]MFAFactor, error)
	SaveFactor(ctx context.Context, f MFAFactor) error
	// AdvanceFactorCounter stores counter as the last accepted TOTP step. It
	// returns false when counter is not greater than the stored value.
	AdvanceFactorCounter(ctx context.Context, factorID string, counter int64) (bool, error)
}

// ResourceStore resolves the tenant and creator of a row.
type ResourceStore interface {
	GetResource(ctx context.Context, table, id string) (Resource, error)
}

// Op is the kind of write that produced a ChangeEvent.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table names used in change events.
const (
	TableMemberships   = "memberships"
	TableOrganizations = "organizations"
	TableUsers         = "users"
)

// ChangeEvent describes a committed write. For memberships, Old and New carry
// the row before and after; either may be nil.
type ChangeEvent struct {
	Table          string
	Op             Op
	UserID         string
	OrganizationID string
	Old            *Membership
	New            *Membership
}

// Invalidator is called synchronously by store adapters after every
// successful write, before the write call returns.
type Invalidator interface {
	OnChange(ctx context.Context, ev ChangeEvent)
}

// InvalidatorFunc adapts a function to [Invalidator].
type InvalidatorFunc func(ctx context.Context, ev ChangeEvent)

func (f InvalidatorFunc) OnChange(ctx context.Context, ev ChangeEvent) {
	f(ctx, ev)
}

// Invalidators fans a change out to several invalidators in order.
type Invalidators []Invalidator

func (is Invalidators) OnChange(ctx context.Context, ev ChangeEvent) {
	for _, inv := range is {
		if inv != nil {
			inv.OnChange(ctx, ev)
		}
	}
}
