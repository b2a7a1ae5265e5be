package auth

import "time"

const (
	// MaxLoginAttempts is the number of consecutive failures that locks an
	// account.
	MaxLoginAttempts = 5
	// LockoutDuration is the lock window started by the locking failure.
	LockoutDuration = 30 * time.Minute
)

// IsLockedOut reports whether a lock window is set and still in the
// future. A past-due lock reads as unlocked, but the failure counter is
// only reset by a successful login.
func IsLockedOut(identity *Identity, now time.Time) bool {
	if identity == nil || identity.LockoutUntil == nil {
		return false
	}
	return identity.LockoutUntil.After(now)
}

// LockoutRemaining returns how long until the lock elapses, zero when not
// locked.
func LockoutRemaining(identity *Identity, now time.Time) time.Duration {
	if !IsLockedOut(identity, now) {
		return 0
	}
	return identity.LockoutUntil.Sub(now)
}

// RegisterFailedAttempt advances the lockout machine on a failed login:
// the counter increments, and reaching MaxLoginAttempts starts the lock
// window. It reports whether this failure locked the account. The caller
// persists the mutated counters; two concurrent failures may both observe
// the pre-increment value, an accepted approximation.
func RegisterFailedAttempt(identity *Identity, now time.Time) bool {
	identity.FailedLoginAttempts++
	if identity.FailedLoginAttempts >= MaxLoginAttempts {
		until := now.Add(LockoutDuration)
		identity.LockoutUntil = &until
		return true
	}
	return false
}

// RegisterSuccessfulLogin resets the lockout machine and stamps the login
// metadata.
func RegisterSuccessfulLogin(identity *Identity, now time.Time, ip string) {
	identity.FailedLoginAttempts = 0
	identity.LockoutUntil = nil
	at := now
	identity.LastLoginAt = &at
	if ip != "" {
		identity.LastLoginIP = ip
	}
}
