package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/facilitykit/go-facility-auth"
)

func TestHashPassword(t *testing.T) {
	hash, err := auth.HashPassword("secure_password123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "secure_password123", hash)

	_, err = auth.HashPassword("")
	assert.ErrorIs(t, err, auth.ErrNoEmptyString)
}

func TestComparePasswordAndHash(t *testing.T) {
	hash, err := auth.HashPassword("secure_password123")
	require.NoError(t, err)

	assert.NoError(t, auth.ComparePasswordAndHash("secure_password123", hash))

	err = auth.ComparePasswordAndHash("wrong_password", hash)
	assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)

	// malformed hash reports the same uniform failure
	err = auth.ComparePasswordAndHash("secure_password123", "not-a-bcrypt-hash")
	assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)
}

func TestVerifyPassword(t *testing.T) {
	hash, err := auth.HashPassword("secure_password123")
	require.NoError(t, err)

	assert.True(t, auth.VerifyPassword("secure_password123", hash))
	assert.False(t, auth.VerifyPassword("nope", hash))
	assert.False(t, auth.VerifyPassword("secure_password123", "garbage"))
}

func TestSetPassword(t *testing.T) {
	identity := newTestIdentity(auth.RoleUser, auth.AccountStatusActive)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, auth.SetPassword(identity, "secure_password123", now))
	assert.True(t, auth.VerifyPassword("secure_password123", identity.PasswordHash))
	require.NotNil(t, identity.LastPasswordChange)
	assert.Equal(t, now, *identity.LastPasswordChange)
}

func TestVerificationTokenLifecycle(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("issue and consume", func(t *testing.T) {
		identity := newTestIdentity(auth.RoleUser, auth.AccountStatusPending)

		token, err := auth.IssueVerificationToken(identity, auth.VerificationEmail, now)
		require.NoError(t, err)
		assert.Len(t, token, 64)
		assert.NotEqual(t, token, identity.EmailVerifyTokenHash, "only the digest is stored")
		require.NotNil(t, identity.EmailVerifyTokenExpiry)
		assert.Equal(t, now.Add(auth.EmailVerifyTokenTTL), *identity.EmailVerifyTokenExpiry)

		assert.True(t, auth.ConsumeVerificationToken(identity, auth.VerificationEmail, token, now.Add(time.Hour)))
	})

	t.Run("single use", func(t *testing.T) {
		identity := newTestIdentity(auth.RoleUser, auth.AccountStatusPending)
		token, err := auth.IssueVerificationToken(identity, auth.VerificationEmail, now)
		require.NoError(t, err)

		assert.True(t, auth.ConsumeVerificationToken(identity, auth.VerificationEmail, token, now))
		assert.False(t, auth.ConsumeVerificationToken(identity, auth.VerificationEmail, token, now), "second consume fails")
	})

	t.Run("expired token", func(t *testing.T) {
		identity := newTestIdentity(auth.RoleUser, auth.AccountStatusActive)
		token, err := auth.IssueVerificationToken(identity, auth.VerificationPasswordReset, now)
		require.NoError(t, err)

		late := now.Add(auth.PasswordResetTokenTTL + time.Minute)
		assert.False(t, auth.ConsumeVerificationToken(identity, auth.VerificationPasswordReset, token, late))
	})

	t.Run("wrong token", func(t *testing.T) {
		identity := newTestIdentity(auth.RoleUser, auth.AccountStatusActive)
		_, err := auth.IssueVerificationToken(identity, auth.VerificationPasswordReset, now)
		require.NoError(t, err)

		assert.False(t, auth.ConsumeVerificationToken(identity, auth.VerificationPasswordReset, "deadbeef", now))
	})

	t.Run("kinds are independent slots", func(t *testing.T) {
		identity := newTestIdentity(auth.RoleUser, auth.AccountStatusActive)
		emailToken, err := auth.IssueVerificationToken(identity, auth.VerificationEmail, now)
		require.NoError(t, err)
		resetToken, err := auth.IssueVerificationToken(identity, auth.VerificationPasswordReset, now)
		require.NoError(t, err)

		assert.False(t, auth.ConsumeVerificationToken(identity, auth.VerificationEmail, resetToken, now))
		assert.True(t, auth.ConsumeVerificationToken(identity, auth.VerificationEmail, emailToken, now))
		assert.True(t, auth.ConsumeVerificationToken(identity, auth.VerificationPasswordReset, resetToken, now))
	})

	t.Run("unknown kind", func(t *testing.T) {
		identity := newTestIdentity(auth.RoleUser, auth.AccountStatusActive)
		_, err := auth.IssueVerificationToken(identity, auth.VerificationKind("carrier-pigeon"), now)
		assert.Error(t, err)
	})
}
