package permission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPermission is returned by [ParsePermission] for strings outside the closed set.
var ErrUnknownPermission = errors.New("unknown permission")

// Permission is a resource:action capability. The set is closed; the numeric
// value is the bit position inside a [Mask64].
type Permission uint8

const (
	ProcurementCreate Permission = iota
	ProcurementRead
	ProcurementUpdate
	ProcurementDelete

	ApprovalsRead
	ApprovalsApprove

	FinanceCreate
	FinanceRead
	FinanceUpdate
	FinanceDelete

	ContractsCreate
	ContractsRead
	ContractsUpdate
	ContractsDelete

	VendorsCreate
	VendorsRead
	VendorsUpdate
	VendorsDelete

	ReportsRead
	ReportsExport

	UsersInvite
	UsersRead
	UsersUpdate
	UsersDelete

	OrganizationRead
	OrganizationUpdate
	OrganizationDelete

	SettingsRead
	SettingsUpdate

	PermissionsRead
	PermissionsManage

	ProfilesCreate
	ProfilesRead
	ProfilesUpdate
	ProfilesDelete

	AuditRead

	permissionCount
)

var permissionNames = [permissionCount]string{
	ProcurementCreate:  "procurement:create",
	ProcurementRead:    "procurement:read",
	ProcurementUpdate:  "procurement:update",
	ProcurementDelete:  "procurement:delete",
	ApprovalsRead:      "approvals:read",
	ApprovalsApprove:   "approvals:approve",
	FinanceCreate:      "finance:create",
	FinanceRead:        "finance:read",
	FinanceUpdate:      "finance:update",
	FinanceDelete:      "finance:delete",
	ContractsCreate:    "contracts:create",
	ContractsRead:      "contracts:read",
	ContractsUpdate:    "contracts:update",
	ContractsDelete:    "contracts:delete",
	VendorsCreate:      "vendors:create",
	VendorsRead:        "vendors:read",
	VendorsUpdate:      "vendors:update",
	VendorsDelete:      "vendors:delete",
	ReportsRead:        "reports:read",
	ReportsExport:      "reports:export",
	UsersInvite:        "users:invite",
	UsersRead:          "users:read",
	UsersUpdate:        "users:update",
	UsersDelete:        "users:delete",
	OrganizationRead:   "organization:read",
	OrganizationUpdate: "organization:update",
	OrganizationDelete: "organization:delete",
	SettingsRead:       "settings:read",
	SettingsUpdate:     "settings:update",
	PermissionsRead:    "permissions:read",
	PermissionsManage:  "permissions:manage",
	ProfilesCreate:     "profiles:create",
	ProfilesRead:       "profiles:read",
	ProfilesUpdate:     "profiles:update",
	ProfilesDelete:     "profiles:delete",
	AuditRead:          "audit:read",
}

var permissionByName = func() map[string]Permission {
	out := make(map[string]Permission, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		out[permissionNames[p]] = p
	}
	return out
}()

// All returns every permission in declaration order.
func All() []Permission {
	out := make([]Permission, 0, permissionCount)
	for p := Permission(0); p < permissionCount; p++ {
		out = append(out, p)
	}
	return out
}

// ParsePermission resolves "resource:action" into a Permission.
func ParsePermission(s string) (Permission, error) {
	p, ok := permissionByName[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownPermission, s)
	}
	return p, nil
}

// ParsePermissions resolves a list, failing on the first unknown entry.
func ParsePermissions(values []string) ([]Permission, error) {
	out := make([]Permission, 0, len(values))
	for _, v := range values {
		p, err := ParsePermission(v)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Valid reports whether p belongs to the closed set.
func (p Permission) Valid() bool {
	return p < permissionCount
}

// String returns the resource:action form.
func (p Permission) String() string {
	if !p.Valid() {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return permissionNames[p]
}

// Resource is the part before the colon.
func (p Permission) Resource() string {
	res, _, _ := strings.Cut(p.String(), ":")
	return res
}

// Action is the part after the colon.
func (p Permission) Action() string {
	_, act, _ := strings.Cut(p.String(), ":")
	return act
}

// MarshalText implements encoding.TextMarshaler.
func (p Permission) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownPermission, uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Permission) UnmarshalText(b []byte) error {
	parsed, err := ParsePermission(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Strings renders a permission list for logs and payloads.
func Strings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = p.String()
	}
	return out
}
