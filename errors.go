package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to classified auth failures. Clients key their
// handling off these, not off the human readable message.
const (
	TextCodeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	TextCodeTokenExpired           = "TOKEN_EXPIRED"
	TextCodeTokenInvalid           = "TOKEN_INVALID"
	TextCodeTokenUnverifiable      = "TOKEN_UNVERIFIABLE"
	TextCodeIdentityNotFound       = "IDENTITY_NOT_FOUND"
	TextCodeAccountNotActive       = "ACCOUNT_NOT_ACTIVE"
	TextCodeAccountLocked          = "ACCOUNT_LOCKED"
	TextCodeSessionInvalidated     = "SESSION_INVALIDATED"
	TextCodeInsufficientPermission = "INSUFFICIENT_PERMISSION"
	TextCodeOwnershipViolation     = "OWNERSHIP_VIOLATION"
	TextCodeFacilityAccessDenied   = "FACILITY_ACCESS_DENIED"
	TextCodeInvalidCredentials     = "INVALID_CREDENTIALS"
)

// ErrAuthenticationRequired is returned when a request carries no usable
// bearer token.
var ErrAuthenticationRequired = goerrors.New("you are not logged in, please log in to get access", goerrors.CategoryAuth).
	WithTextCode(TextCodeAuthenticationRequired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenExpired is returned for structurally valid tokens past their expiry.
var ErrTokenExpired = goerrors.New("your session has expired, please log in again", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for tokens that fail parsing or signature
// verification.
var ErrTokenMalformed = goerrors.New("invalid authentication token, please log in again", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenUnverifiable covers verification failures that are neither expiry
// nor malformed input, e.g. claims that cannot be decoded.
var ErrTokenUnverifiable = goerrors.New("could not verify authentication token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenUnverifiable).
	WithCode(goerrors.CodeUnauthorized)

// ErrIdentityNotFound is returned when the account embedded in a token no
// longer resolves to a live identity.
var ErrIdentityNotFound = goerrors.New("the account belonging to this token no longer exists", goerrors.CategoryAuth).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionInvalidated is returned for tokens that verify but are absent
// from the identity's session registry (logged out or evicted).
var ErrSessionInvalidated = goerrors.New("this session is no longer valid, please log in again", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionInvalidated).
	WithCode(goerrors.CodeUnauthorized)

// ErrInsufficientPermission is returned when the identity's role is not in
// the endpoint's allowed set.
var ErrInsufficientPermission = goerrors.New("you do not have permission to perform this action", goerrors.CategoryAuthz).
	WithTextCode(TextCodeInsufficientPermission).
	WithCode(goerrors.CodeForbidden)

// ErrOwnershipViolation is returned when an identity acts on a resource it
// does not own.
var ErrOwnershipViolation = goerrors.New("you can only access your own resources", goerrors.CategoryAuthz).
	WithTextCode(TextCodeOwnershipViolation).
	WithCode(goerrors.CodeForbidden)

// ErrFacilityAccessDenied is returned when a facility-scoped endpoint is
// reached by an identity that does not manage the target facility.
var ErrFacilityAccessDenied = goerrors.New("you do not have access to this facility", goerrors.CategoryAuthz).
	WithTextCode(TextCodeFacilityAccessDenied).
	WithCode(goerrors.CodeForbidden)

// ErrMismatchedHashAndPassword is the uniform credential failure; it never
// distinguishes unknown accounts from wrong passwords.
var ErrMismatchedHashAndPassword = goerrors.New("incorrect email or password", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoEmptyString is returned when hashing an empty credential.
var ErrNoEmptyString = goerrors.New("value must not be an empty string", goerrors.CategoryValidation).
	WithTextCode("EMPTY_VALUE")

// ErrUnableToParseData signals claims that could not be projected into a
// session object.
var ErrUnableToParseData = errors.New("unable to parse data")

// AccountNotActiveError builds the rejection for a non-active account,
// embedding the status name in the message.
func AccountNotActiveError(status AccountStatus) *goerrors.Error {
	name := string(status)
	if name == "" {
		name = "unavailable"
	}
	return goerrors.New(
		fmt.Sprintf("your account is %s, please contact an administrator", name),
		goerrors.CategoryAuthz,
	).
		WithTextCode(TextCodeAccountNotActive).
		WithCode(goerrors.CodeForbidden).
		WithMetadata(map[string]any{"status": name})
}

// AccountLockedError builds the 423 rejection with the remaining whole
// minutes until the lock window elapses.
func AccountLockedError(remaining time.Duration) *goerrors.Error {
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return goerrors.New(
		fmt.Sprintf("account temporarily locked due to failed login attempts, try again in %d minutes", minutes),
		goerrors.CategoryAuth,
	).
		WithTextCode(TextCodeAccountLocked).
		WithCode(http.StatusLocked).
		WithMetadata(map[string]any{"retry_after_minutes": minutes})
}

// statusAuthError maps a non-active account status to its rejection.
func statusAuthError(status AccountStatus) error {
	if status == "" || status == AccountStatusActive {
		return nil
	}
	return AccountNotActiveError(status)
}

// HasTextCode reports whether err carries the given classified text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenExpired) {
		return true
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	if HasTextCode(err, TextCodeTokenInvalid) {
		return true
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
