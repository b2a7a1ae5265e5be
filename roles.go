package auth

// Role is the identity's global role. The enumeration is closed; every
// dispatch over it must handle all eight values.
type Role string

const (
	// RoleSuperAdmin bypasses every role and scope check.
	RoleSuperAdmin Role = "super-admin"
	// RoleAdmin holds every capability but does not bypass role gates.
	RoleAdmin Role = "admin"
	// RoleFacilityManager manages facilities, services, and staff.
	RoleFacilityManager Role = "facility-manager"
	// RoleSupervisor oversees day-to-day service operations.
	RoleSupervisor Role = "supervisor"
	// RoleTechnician performs maintenance work orders.
	RoleTechnician Role = "technician"
	// RoleHousekeeping performs housekeeping work orders.
	RoleHousekeeping Role = "housekeeping"
	// RoleUser is a regular tenant/customer account.
	RoleUser Role = "user"
	// RoleGuest is an unverified or placeholder account.
	RoleGuest Role = "guest"
)

// IsValid checks if the role is one of the predefined valid roles
func (r Role) IsValid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleFacilityManager, RoleSupervisor,
		RoleTechnician, RoleHousekeeping, RoleUser, RoleGuest:
		return true
	default:
		return false
	}
}

// IsPrivileged reports whether the role bypasses role-allow-list,
// ownership, and facility-scope gates.
func (r Role) IsPrivileged() bool {
	return r == RoleSuperAdmin
}

// IsManagement reports whether the role belongs to the management tier
// that is granted ownership pass-through for subordinate resources.
func (r Role) IsManagement() bool {
	return r == RoleFacilityManager || r == RoleSupervisor
}

// AllRoles returns all predefined roles, most to least privileged.
func AllRoles() []Role {
	return []Role{
		RoleSuperAdmin,
		RoleAdmin,
		RoleFacilityManager,
		RoleSupervisor,
		RoleTechnician,
		RoleHousekeeping,
		RoleUser,
		RoleGuest,
	}
}

// ParseRole safely parses a string into a Role.
func ParseRole(roleStr string) (Role, bool) {
	role := Role(roleStr)
	return role, role.IsValid()
}

// roleAllowed reports membership of r in the allowed set.
func roleAllowed(r Role, allowed []Role) bool {
	for _, candidate := range allowed {
		if r == candidate {
			return true
		}
	}
	return false
}
