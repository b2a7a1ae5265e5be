package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthClaims represents the validated JWT claims attached to a request
type AuthClaims interface {
	Subject() string
	UserID() string
	Email() string
	Role() Role
	HasRole(role Role) bool
	IsPrivileged() bool
	Expires() time.Time
	IssuedAt() time.Time
}

// JWTClaims is the concrete implementation of AuthClaims
type JWTClaims struct {
	jwt.RegisteredClaims
	UID       string `json:"uid,omitempty"`
	UserEmail string `json:"email,omitempty"`
	UserRole  string `json:"role,omitempty"`
}

// Verify interface compliance
var _ AuthClaims = (*JWTClaims)(nil)

// Subject returns the subject claim
func (c *JWTClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the identity ID, falling back to the subject claim for
// tokens minted before the uid claim existed.
func (c *JWTClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Email returns the email claim
func (c *JWTClaims) Email() string {
	return c.UserEmail
}

// Role returns the global role carried in the token
func (c *JWTClaims) Role() Role {
	return Role(c.UserRole)
}

// HasRole checks if the token carries the given role
func (c *JWTClaims) HasRole(role Role) bool {
	return Role(c.UserRole) == role
}

// IsPrivileged reports whether the token's role bypasses authorization
// gates.
func (c *JWTClaims) IsPrivileged() bool {
	return Role(c.UserRole).IsPrivileged()
}

// Expires returns the expiration time
func (c *JWTClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *JWTClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
