package permission

// Each role inherits everything granted to the role directly below it and
// adds the entries listed here.
var roleGrants = [roleCount][]Permission{
	RoleMember: {
		ProcurementCreate, ProcurementRead,
		ApprovalsRead,
		VendorsRead,
		ReportsRead,
		OrganizationRead,
		ProfilesCreate, ProfilesRead, ProfilesUpdate,
	},
	RoleProducer: {
		ProcurementUpdate,
		FinanceRead,
		ContractsRead,
		VendorsCreate, VendorsUpdate,
		ReportsExport,
		UsersRead,
	},
	RoleManager: {
		ProcurementDelete,
		ApprovalsApprove,
		FinanceCreate, FinanceUpdate,
		ContractsCreate, ContractsUpdate,
		VendorsDelete,
		SettingsRead,
		PermissionsRead,
		ProfilesDelete,
		AuditRead,
	},
	RoleAdmin: {
		FinanceDelete,
		ContractsDelete,
		UsersInvite, UsersUpdate,
		OrganizationUpdate,
		SettingsUpdate,
		PermissionsManage,
	},
	RoleOwner: {
		UsersDelete,
		OrganizationDelete,
	},
}

var roleMasks = buildMasks()

func buildMasks() [roleCount]Mask64 {
	var out [roleCount]Mask64
	var acc Mask64
	for r := RoleMember; r <= RoleOwner; r++ {
		for _, p := range roleGrants[r] {
			acc = acc.With(p)
		}
		out[r] = acc
	}
	return out
}

// MaskFor returns the permission bitset of a role. RoleNone and invalid roles get an empty mask.
func MaskFor(r Role) Mask64 {
	if !r.Valid() {
		return 0
	}
	return roleMasks[r]
}

// Grants reports whether role r holds permission p.
func Grants(r Role, p Permission) bool {
	return MaskFor(r).Has(p)
}

// PermissionsFor lists every permission a role holds.
func PermissionsFor(r Role) []Permission {
	return MaskFor(r).Permissions()
}
