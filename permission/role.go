package permission

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownRole is returned by [ParseRole] for names outside the hierarchy.
var ErrUnknownRole = errors.New("unknown role")

// Role is a position in the fixed organization hierarchy. The numeric value is the level.
type Role uint8

const (
	// RoleNone means "no active membership". It fails every check.
	RoleNone Role = iota
	RoleMember
	RoleProducer
	RoleManager
	RoleAdmin
	RoleOwner
)

const roleCount = int(RoleOwner) + 1

var roleNames = [roleCount]string{
	RoleNone:     "",
	RoleMember:   "member",
	RoleProducer: "producer",
	RoleManager:  "manager",
	RoleAdmin:    "admin",
	RoleOwner:    "owner",
}

// Roles returns every assignable role from lowest to highest level.
func Roles() []Role {
	return []Role{RoleMember, RoleProducer, RoleManager, RoleAdmin, RoleOwner}
}

// ParseRole maps a stored role name to its Role.
func ParseRole(name string) (Role, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for r := RoleMember; r <= RoleOwner; r++ {
		if roleNames[r] == n {
			return r, nil
		}
	}
	return RoleNone, fmt.Errorf("%w: %q", ErrUnknownRole, name)
}

// String returns the stored name of the role, or "none" for RoleNone.
func (r Role) String() string {
	if !r.Valid() {
		return "none"
	}
	return roleNames[r]
}

// Valid reports whether r is an assignable role.
func (r Role) Valid() bool {
	return r >= RoleMember && r <= RoleOwner
}

// Level is the numeric rank of the role; RoleNone and invalid values are 0.
func (r Role) Level() int {
	if !r.Valid() {
		return 0
	}
	return int(r)
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Level() >= min.Level()
}

// CanManage reports whether r strictly outranks target. Peers and superiors
// cannot be managed.
func (r Role) CanManage(target Role) bool {
	return r.Valid() && r.Level() > target.Level()
}

// IsAdminOrOwner reports whether r is one of the two top roles.
func (r Role) IsAdminOrOwner() bool {
	return r == RoleAdmin || r == RoleOwner
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	if s := string(b); s == "" || s == "none" {
		*r = RoleNone
		return nil
	}
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
