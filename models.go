package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AccountStatus is the identity's lifecycle status. Only active accounts
// may authenticate.
type AccountStatus string

const (
	// AccountStatusPending is a created but unconfirmed account.
	AccountStatusPending AccountStatus = "pending"
	// AccountStatusActive is the only status that may authenticate.
	AccountStatusActive AccountStatus = "active"
	// AccountStatusInactive marks terminated or dormant accounts.
	AccountStatusInactive AccountStatus = "inactive"
	// AccountStatusSuspended is a temporary administrative hold.
	AccountStatusSuspended AccountStatus = "suspended"
	// AccountStatusBlocked is terminal.
	AccountStatusBlocked AccountStatus = "blocked"
)

// IsValid checks the status against the closed enumeration.
func (s AccountStatus) IsValid() bool {
	switch s {
	case AccountStatusPending, AccountStatusActive, AccountStatusInactive,
		AccountStatusSuspended, AccountStatusBlocked:
		return true
	default:
		return false
	}
}

// Identity is the account record: credentials, role, capability set, and
// the security block (lockout counters, bounded session list, single-use
// token digests). Embedded documents are stored as JSON columns.
type Identity struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`

	ID        uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email     string    `bun:"email,notnull,unique" json:"email,omitempty"`
	Username  string    `bun:"username,unique,nullzero" json:"username,omitempty"`
	FirstName string    `bun:"first_name" json:"first_name,omitempty"`
	LastName  string    `bun:"last_name" json:"last_name,omitempty"`
	Phone     string    `bun:"phone_number" json:"phone_number,omitempty"`

	PasswordHash string        `bun:"password_hash" json:"-"`
	Role         Role          `bun:"role,notnull" json:"role,omitempty"`
	Status       AccountStatus `bun:"status,notnull" json:"status,omitempty"`

	// Permissions is the effective capability document; Overrides records
	// the explicitly set flags that survive role changes.
	Permissions CapabilitySet   `bun:"permissions" json:"permissions,omitempty"`
	Overrides   map[string]bool `bun:"permission_overrides" json:"permission_overrides,omitempty"`

	EmailVerified bool `bun:"is_email_verified" json:"is_email_verified,omitempty"`

	FailedLoginAttempts int        `bun:"failed_login_attempts" json:"failed_login_attempts,omitempty"`
	LockoutUntil        *time.Time `bun:"lockout_until,nullzero" json:"lockout_until,omitempty"`
	LastPasswordChange  *time.Time `bun:"last_password_change,nullzero" json:"last_password_change,omitempty"`
	LastLoginAt         *time.Time `bun:"last_login_at,nullzero" json:"last_login_at,omitempty"`
	LastLoginIP         string     `bun:"last_login_ip" json:"last_login_ip,omitempty"`

	// SessionTokens holds the registry of issued bearer tokens, newest
	// last, capped at MaxSessionTokens.
	SessionTokens []SessionToken `bun:"session_tokens" json:"-"`

	// Single-use verification tokens are persisted as sha256 digests only.
	EmailVerifyTokenHash     string     `bun:"email_verify_token_hash" json:"-"`
	EmailVerifyTokenExpiry   *time.Time `bun:"email_verify_token_expiry,nullzero" json:"-"`
	PasswordResetTokenHash   string     `bun:"password_reset_token_hash" json:"-"`
	PasswordResetTokenExpiry *time.Time `bun:"password_reset_token_expiry,nullzero" json:"-"`

	TwoFactorEnabled bool   `bun:"two_factor_enabled" json:"two_factor_enabled,omitempty"`
	TwoFactorSecret  string `bun:"two_factor_secret" json:"-"`

	// ManagedFacilities is the facility-scope set consulted by the gate;
	// facility records themselves are owned elsewhere.
	ManagedFacilities []uuid.UUID `bun:"managed_facilities" json:"managed_facilities,omitempty"`

	SuspendedAt *time.Time `bun:"suspended_at,nullzero" json:"suspended_at,omitempty"`

	DeletedBy *uuid.UUID `bun:"deleted_by,nullzero,type:uuid" json:"deleted_by,omitempty"`
	CreatedAt *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus backfills a missing status with active.
func (i *Identity) EnsureStatus() {
	if i.Status == "" {
		i.Status = AccountStatusActive
	}
}

// EnsureRole backfills a missing role with guest.
func (i *Identity) EnsureRole() {
	if i.Role == "" {
		i.Role = RoleGuest
	}
}

// IsActive reports whether the account may authenticate.
func (i *Identity) IsActive() bool {
	return i.Status == AccountStatusActive
}

// IsSuspended reports a suspended status.
func (i *Identity) IsSuspended() bool {
	return i.Status == AccountStatusSuspended
}

// IsDeleted reports a soft-deleted record.
func (i *Identity) IsDeleted() bool {
	return i.DeletedAt != nil
}

// ManagesFacility reports membership of the facility in the identity's
// managed set.
func (i *Identity) ManagesFacility(facilityID uuid.UUID) bool {
	for _, id := range i.ManagedFacilities {
		if id == facilityID {
			return true
		}
	}
	return false
}

// PrepareForPersist is the explicit normalization step every identity
// write path runs: it backfills role/status defaults and recomputes the
// effective capability set from the role defaults plus the recorded
// explicit overrides, preserving the custom permission list verbatim.
// Password rehashing is equally explicit; see SetPassword.
func (i *Identity) PrepareForPersist() {
	i.EnsureRole()
	i.EnsureStatus()
	i.Permissions = MergeCapabilities(DefaultCapabilities(i.Role), i.Overrides, i.Permissions.Custom)
}

// SetOverride records an explicit capability flag and applies it to the
// effective set. Unknown flag names are ignored.
func (i *Identity) SetOverride(name string, value bool) bool {
	probe := CapabilitySet{}
	if !probe.Set(name, value) {
		return false
	}
	if i.Overrides == nil {
		i.Overrides = map[string]bool{}
	}
	i.Overrides[name] = value
	i.Permissions.Set(name, value)
	return true
}
