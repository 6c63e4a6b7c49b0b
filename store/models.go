package store

import (
	"time"

	"github.com/MrEthical07/orgauth/permission"
)

// MembershipStatus is the lifecycle state of a membership. Only active memberships confer permissions.
type MembershipStatus string

const (
	StatusActive    MembershipStatus = "active"
	StatusInvited   MembershipStatus = "invited"
	StatusSuspended MembershipStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s MembershipStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInvited, StatusSuspended:
		return true
	}
	return false
}

// Membership binds a user to one role inside one organization.
type Membership struct {
	UserID         string
	OrganizationID string
	Role           permission.Role
	Status         MembershipStatus
	UpdatedAt      time.Time
}

// Active reports whether the membership confers its role.
func (m Membership) Active() bool {
	return m.Status == StatusActive && m.Role.Valid()
}

// FeatureFlag gates a resource.action pair, optionally for a deterministic fraction of users.
type FeatureFlag struct {
	Name              string            `json:"name"`
	Enabled           bool              `json:"enabled"`
	RolloutPercentage *int              `json:"rollout_percentage,omitempty"`
	Conditions        map[string]string `json:"conditions,omitempty"`
}

// OrgSettings is the security policy of an organization.
type OrgSettings struct {
	RequireMFA        bool                   `json:"require_mfa"`
	BusinessHoursOnly bool                   `json:"business_hours_only"`
	Timezone          string                 `json:"timezone,omitempty"`
	FeatureFlags      map[string]FeatureFlag `json:"feature_flags,omitempty"`
	IPAllowList       []string               `json:"ip_allow_list,omitempty"`
	IPDenyList        []string               `json:"ip_deny_list,omitempty"`
}

// Clone returns a deep copy so cached values are never shared with callers.
func (s OrgSettings) Clone() OrgSettings {
	out := s
	if s.FeatureFlags != nil {
		out.FeatureFlags = make(map[string]FeatureFlag, len(s.FeatureFlags))
		for k, v := range s.FeatureFlags {
			if v.RolloutPercentage != nil {
				pct := *v.RolloutPercentage
				v.RolloutPercentage = &pct
			}
			if v.Conditions != nil {
				conds := make(map[string]string, len(v.Conditions))
				for ck, cv := range v.Conditions {
					conds[ck] = cv
				}
				v.Conditions = conds
			}
			out.FeatureFlags[k] = v
		}
	}
	out.IPAllowList = append([]string(nil), s.IPAllowList...)
	out.IPDenyList = append([]string(nil), s.IPDenyList...)
	return out
}

// Organization is a tenant.
type Organization struct {
	ID        string
	Name      string
	Settings  OrgSettings
	UpdatedAt time.Time
}

// User is an account that can sign in.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	MFAEnabled   bool
	UpdatedAt    time.Time
}

// FactorType names a second-factor mechanism.
type FactorType string

const FactorTOTP FactorType = "totp"

// MFAFactor is an enrolled second factor. Secret is stored encrypted.
type MFAFactor struct {
	ID              string
	UserID          string
	Type            FactorType
	FriendlyName    string
	SecretCipher    []byte
	SecretNonce     []byte
	Verified        bool
	LastUsedCounter int64
	CreatedAt       time.Time
}

// Resource is the ownership view of a tenant-scoped row.
type Resource struct {
	Table          string
	ID             string
	OrganizationID string
	CreatedBy      string
}
