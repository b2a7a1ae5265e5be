package auth

// Capability flag names. These are the wire/storage names; CapabilitySet
// fields mirror them one to one.
const (
	CapManageFacilities = "canManageFacilities"
	CapManageServices   = "canManageServices"
	CapManageIoTDevices = "canManageIoTDevices"
	CapManageEmployees  = "canManageEmployees"
	CapManageUsers      = "canManageUsers"
	CapManageDocuments  = "canManageDocuments"
	CapManageReports    = "canManageReports"
	CapViewReports      = "canViewReports"
	CapViewSalaries     = "canViewSalaries"

	// CapabilityAll is the custom-permission wildcard; an identity whose
	// custom list contains it passes every capability check.
	CapabilityAll = "all"
)

// CapabilitySet is the effective permission document attached to an
// identity: one boolean per named capability plus the free-form custom
// permission list, preserved verbatim across merges.
type CapabilitySet struct {
	CanManageFacilities bool     `json:"canManageFacilities"`
	CanManageServices   bool     `json:"canManageServices"`
	CanManageIoTDevices bool     `json:"canManageIoTDevices"`
	CanManageEmployees  bool     `json:"canManageEmployees"`
	CanManageUsers      bool     `json:"canManageUsers"`
	CanManageDocuments  bool     `json:"canManageDocuments"`
	CanManageReports    bool     `json:"canManageReports"`
	CanViewReports      bool     `json:"canViewReports"`
	CanViewSalaries     bool     `json:"canViewSalaries"`
	Custom              []string `json:"customPermissions,omitempty"`
}

// DefaultCapabilities is the total mapping from role to its default
// capability set. The switch is exhaustive over the Role enumeration; an
// unknown role gets the guest (empty) set.
func DefaultCapabilities(role Role) CapabilitySet {
	switch role {
	case RoleSuperAdmin, RoleAdmin:
		return allCapabilities()
	case RoleFacilityManager:
		return CapabilitySet{
			CanManageFacilities: true,
			CanManageServices:   true,
			CanManageIoTDevices: true,
			CanManageEmployees:  true,
			CanManageDocuments:  true,
			CanManageReports:    true,
			CanViewReports:      true,
		}
	case RoleSupervisor:
		return CapabilitySet{
			CanManageServices: true,
			CanManageReports:  true,
			CanViewReports:    true,
		}
	case RoleTechnician:
		return CapabilitySet{
			CanManageIoTDevices: true,
			CanViewReports:      true,
		}
	case RoleHousekeeping:
		return CapabilitySet{
			CanViewReports: true,
		}
	case RoleUser:
		return CapabilitySet{
			CanViewReports: true,
		}
	case RoleGuest:
		return CapabilitySet{}
	default:
		return CapabilitySet{}
	}
}

func allCapabilities() CapabilitySet {
	return CapabilitySet{
		CanManageFacilities: true,
		CanManageServices:   true,
		CanManageIoTDevices: true,
		CanManageEmployees:  true,
		CanManageUsers:      true,
		CanManageDocuments:  true,
		CanManageReports:    true,
		CanViewReports:      true,
		CanViewSalaries:     true,
	}
}

// MergeCapabilities layers explicit per-flag overrides on top of defaults.
// Overrides win key by key; unknown flag names are ignored. The custom
// permission list is carried over verbatim, never merged key-wise.
func MergeCapabilities(defaults CapabilitySet, overrides map[string]bool, custom []string) CapabilitySet {
	merged := defaults
	for name, value := range overrides {
		merged.Set(name, value)
	}
	merged.Custom = custom
	return merged
}

// Has reports the value of the named boolean flag. Unknown names are false;
// the custom list is not consulted here (see HasCapability).
func (c CapabilitySet) Has(name string) bool {
	switch name {
	case CapManageFacilities:
		return c.CanManageFacilities
	case CapManageServices:
		return c.CanManageServices
	case CapManageIoTDevices:
		return c.CanManageIoTDevices
	case CapManageEmployees:
		return c.CanManageEmployees
	case CapManageUsers:
		return c.CanManageUsers
	case CapManageDocuments:
		return c.CanManageDocuments
	case CapManageReports:
		return c.CanManageReports
	case CapViewReports:
		return c.CanViewReports
	case CapViewSalaries:
		return c.CanViewSalaries
	default:
		return false
	}
}

// Set assigns the named flag, reporting whether the name was recognized.
func (c *CapabilitySet) Set(name string, value bool) bool {
	switch name {
	case CapManageFacilities:
		c.CanManageFacilities = value
	case CapManageServices:
		c.CanManageServices = value
	case CapManageIoTDevices:
		c.CanManageIoTDevices = value
	case CapManageEmployees:
		c.CanManageEmployees = value
	case CapManageUsers:
		c.CanManageUsers = value
	case CapManageDocuments:
		c.CanManageDocuments = value
	case CapManageReports:
		c.CanManageReports = value
	case CapViewReports:
		c.CanViewReports = value
	case CapViewSalaries:
		c.CanViewSalaries = value
	default:
		return false
	}
	return true
}

// HasCustom reports whether the custom permission list contains name.
func (c CapabilitySet) HasCustom(name string) bool {
	for _, candidate := range c.Custom {
		if candidate == name {
			return true
		}
	}
	return false
}

// HasCapability is the capability check used by callers holding a resolved
// identity: true when the named flag is set, or the custom list grants the
// wildcard, or the custom list contains the exact name.
func HasCapability(identity *Identity, name string) bool {
	if identity == nil {
		return false
	}
	if identity.Permissions.HasCustom(CapabilityAll) {
		return true
	}
	if identity.Permissions.Has(name) {
		return true
	}
	return identity.Permissions.HasCustom(name)
}
