package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor applied to stored credentials.
const BcryptCost = 12

// VerificationKind selects which single-use token slot an operation
// targets.
type VerificationKind string

const (
	// VerificationEmail confirms ownership of the account email.
	VerificationEmail VerificationKind = "email-verify"
	// VerificationPasswordReset authorizes a password reset.
	VerificationPasswordReset VerificationKind = "password-reset"
)

const (
	// EmailVerifyTokenTTL bounds email verification tokens.
	EmailVerifyTokenTTL = 24 * time.Hour
	// PasswordResetTokenTTL bounds password reset tokens.
	PasswordResetTokenTTL = time.Hour

	verificationTokenBytes = 32
)

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		// mismatches and malformed hashes report the same uniform failure
		return ErrMismatchedHashAndPassword
	}
	return nil
}

// VerifyPassword is the boolean form of ComparePasswordAndHash; malformed
// hashes verify false, never panic.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// RandomPasswordHash is a temporary password
func RandomPasswordHash() string {
	pwd := uuid.New()

	h, err := HashPassword(pwd.String())
	if err != nil {
		return RandomPasswordHash()
	}

	return h
}

// SetPassword rehashes the credential and stamps the change time. This is
// the only path that may touch PasswordHash; callers commit the record
// before running dependent checks.
func SetPassword(identity *Identity, password string, now time.Time) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	identity.PasswordHash = hash
	changed := now
	identity.LastPasswordChange = &changed
	return nil
}

// IssueVerificationToken generates a high-entropy single-use token for the
// given kind, stores only its sha256 digest plus expiry on the identity,
// and returns the plaintext exactly once.
func IssueVerificationToken(identity *Identity, kind VerificationKind, now time.Time) (string, error) {
	buf := make([]byte, verificationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification token")
	}

	plaintext := hex.EncodeToString(buf)
	digest := hashVerificationToken(plaintext)

	switch kind {
	case VerificationEmail:
		expiry := now.Add(EmailVerifyTokenTTL)
		identity.EmailVerifyTokenHash = digest
		identity.EmailVerifyTokenExpiry = &expiry
	case VerificationPasswordReset:
		expiry := now.Add(PasswordResetTokenTTL)
		identity.PasswordResetTokenHash = digest
		identity.PasswordResetTokenExpiry = &expiry
	default:
		return "", goerrors.New("unknown verification token kind", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"kind": string(kind)})
	}

	return plaintext, nil
}

// ConsumeVerificationToken validates a presented token against the stored
// digest and expiry, clearing the slot on success so the token is single
// use. It reports false for unknown kinds, missing slots, mismatches, and
// expired tokens.
func ConsumeVerificationToken(identity *Identity, kind VerificationKind, plaintext string, now time.Time) bool {
	var digest string
	var expiry *time.Time

	switch kind {
	case VerificationEmail:
		digest = identity.EmailVerifyTokenHash
		expiry = identity.EmailVerifyTokenExpiry
	case VerificationPasswordReset:
		digest = identity.PasswordResetTokenHash
		expiry = identity.PasswordResetTokenExpiry
	default:
		return false
	}

	if digest == "" || expiry == nil || plaintext == "" {
		return false
	}
	if now.After(*expiry) {
		return false
	}

	presented := hashVerificationToken(plaintext)
	if subtle.ConstantTimeCompare([]byte(presented), []byte(digest)) != 1 {
		return false
	}

	switch kind {
	case VerificationEmail:
		identity.EmailVerifyTokenHash = ""
		identity.EmailVerifyTokenExpiry = nil
	case VerificationPasswordReset:
		identity.PasswordResetTokenHash = ""
		identity.PasswordResetTokenExpiry = nil
	}

	return true
}

func hashVerificationToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
