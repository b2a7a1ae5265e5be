package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	auth "github.com/facilitykit/go-facility-auth"
)

const sqliteCreateIdentities = `CREATE TABLE identities (
    id TEXT NOT NULL PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    username TEXT UNIQUE,
    first_name TEXT,
    last_name TEXT,
    phone_number TEXT,
    password_hash TEXT,
    role TEXT NOT NULL,
    status TEXT NOT NULL,
    permissions TEXT,
    permission_overrides TEXT,
    is_email_verified BOOLEAN NOT NULL DEFAULT FALSE,
    failed_login_attempts INTEGER NOT NULL DEFAULT 0,
    lockout_until TIMESTAMP NULL,
    last_password_change TIMESTAMP NULL,
    last_login_at TIMESTAMP NULL,
    last_login_ip TEXT,
    session_tokens TEXT,
    email_verify_token_hash TEXT,
    email_verify_token_expiry TIMESTAMP NULL,
    password_reset_token_hash TEXT,
    password_reset_token_expiry TIMESTAMP NULL,
    two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    two_factor_secret TEXT,
    managed_facilities TEXT,
    suspended_at TIMESTAMP NULL,
    deleted_by TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP,
    deleted_at TIMESTAMP NULL
);`

func setupRepoManager(t *testing.T) (auth.RepositoryManager, func()) {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec(sqliteCreateIdentities)
	require.NoError(t, err)

	cleanup := func() {
		_ = bunDB.Close()
		_ = db.Close()
	}

	repo := auth.NewRepositoryManager(bunDB)
	repo.MustValidate()

	return repo, cleanup
}

func seedIdentity(t *testing.T, repo auth.RepositoryManager, role auth.Role, status auth.AccountStatus) *auth.Identity {
	t.Helper()

	identity := &auth.Identity{
		Email:  fmt.Sprintf("%s@example.com", uuid.NewString()[:8]),
		Role:   role,
		Status: status,
	}
	require.NoError(t, auth.SetPassword(identity, "secure_password123", time.Now()))

	created, err := repo.Identities().Create(context.Background(), identity)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	return created
}

func TestIdentitiesCreateAndFind(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()

	identity := seedIdentity(t, repo, auth.RoleFacilityManager, auth.AccountStatusActive)

	t.Run("find by id", func(t *testing.T) {
		found, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, identity.Email, found.Email)
		assert.Equal(t, auth.RoleFacilityManager, found.Role)
		assert.True(t, found.Permissions.CanManageFacilities, "capability document round-trips")
	})

	t.Run("find by email identifier", func(t *testing.T) {
		found, err := repo.Identities().GetByIdentifier(ctx, identity.Email)
		require.NoError(t, err)
		assert.Equal(t, identity.ID, found.ID)
	})

	t.Run("find by id string identifier", func(t *testing.T) {
		found, err := repo.Identities().GetByIdentifier(ctx, identity.ID.String())
		require.NoError(t, err)
		assert.Equal(t, identity.ID, found.ID)
	})

	t.Run("unknown identifier", func(t *testing.T) {
		_, err := repo.Identities().GetByIdentifier(ctx, "nobody@example.com")
		assert.Error(t, err)
	})
}

func TestIdentitiesLoginTracking(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	identity := seedIdentity(t, repo, auth.RoleUser, auth.AccountStatusActive)

	for i := 0; i < auth.MaxLoginAttempts; i++ {
		auth.RegisterFailedAttempt(identity, now)
	}
	require.NoError(t, repo.Identities().TrackFailedLogin(ctx, identity))

	reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.MaxLoginAttempts, reloaded.FailedLoginAttempts)
	require.NotNil(t, reloaded.LockoutUntil)

	auth.RegisterSuccessfulLogin(identity, now.Add(time.Hour), "203.0.113.7")
	require.NoError(t, repo.Identities().TrackSuccessfulLogin(ctx, identity))

	reloaded, err = repo.Identities().FindByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.Zero(t, reloaded.FailedLoginAttempts)
	assert.Nil(t, reloaded.LockoutUntil, "cleared lock writes NULL, not a skipped zero value")
	assert.Equal(t, "203.0.113.7", reloaded.LastLoginIP)
	require.NotNil(t, reloaded.LastLoginAt)
}

func TestIdentitiesSessionPersistence(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()
	now := time.Now()

	identity := seedIdentity(t, repo, auth.RoleUser, auth.AccountStatusActive)

	t.Run("push caps the registry", func(t *testing.T) {
		for i := 0; i < auth.MaxSessionTokens+2; i++ {
			token := fmt.Sprintf("tok-%d", i)
			require.NoError(t, repo.Identities().PushSession(ctx, identity.ID, auth.NewSessionToken(token, now, "laptop", "")))
		}

		reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		require.Len(t, reloaded.SessionTokens, auth.MaxSessionTokens)
		assert.Equal(t, "tok-2", reloaded.SessionTokens[0].Token)

		live, err := repo.Identities().HasSession(ctx, identity.ID, "tok-0")
		require.NoError(t, err)
		assert.False(t, live, "evicted session no longer resolves")

		live, err = repo.Identities().HasSession(ctx, identity.ID, fmt.Sprintf("tok-%d", auth.MaxSessionTokens+1))
		require.NoError(t, err)
		assert.True(t, live)
	})

	t.Run("remove and clear", func(t *testing.T) {
		require.NoError(t, repo.Identities().RemoveSession(ctx, identity.ID, "tok-2"))
		live, err := repo.Identities().HasSession(ctx, identity.ID, "tok-2")
		require.NoError(t, err)
		assert.False(t, live)

		require.NoError(t, repo.Identities().ClearSessions(ctx, identity.ID))
		reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Empty(t, reloaded.SessionTokens)
	})

	t.Run("registry adapter", func(t *testing.T) {
		registry := auth.NewIdentitySessionRegistry(repo.Identities())
		require.NoError(t, registry.Add(ctx, identity.ID, auth.NewSessionToken("adapter-tok", now, "", "")))

		live, err := registry.Contains(ctx, identity.ID, "adapter-tok")
		require.NoError(t, err)
		assert.True(t, live)

		require.NoError(t, registry.Remove(ctx, identity.ID, "adapter-tok"))
		live, err = registry.Contains(ctx, identity.ID, "adapter-tok")
		require.NoError(t, err)
		assert.False(t, live)
	})
}

func TestIdentitiesUpdateRole(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()

	identity := seedIdentity(t, repo, auth.RoleSupervisor, auth.AccountStatusActive)

	// an explicit grant recorded before the role change
	identity.SetOverride(auth.CapViewSalaries, true)
	_, err := repo.Identities().Update(ctx, identity)
	require.NoError(t, err)

	updated, err := repo.Identities().UpdateRole(ctx, identity.ID, auth.RoleTechnician)
	require.NoError(t, err)

	assert.Equal(t, auth.RoleTechnician, updated.Role)
	assert.True(t, updated.Permissions.CanManageIoTDevices, "new role defaults apply")
	assert.False(t, updated.Permissions.CanManageServices, "old role defaults do not linger")
	assert.True(t, updated.Permissions.CanViewSalaries, "explicit override survives the role change")

	reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.Permissions.CanViewSalaries)
}

func TestIdentitiesLifecycle(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()
	actor := auth.ActorRef{ID: "ops-1", Type: "user"}

	t.Run("suspend and reinstate", func(t *testing.T) {
		identity := seedIdentity(t, repo, auth.RoleUser, auth.AccountStatusActive)

		suspended, err := repo.Identities().Suspend(ctx, actor, identity, auth.WithTransitionReason("policy breach"))
		require.NoError(t, err)
		assert.Equal(t, auth.AccountStatusSuspended, suspended.Status)
		assert.NotNil(t, suspended.SuspendedAt)

		reinstated, err := repo.Identities().Reinstate(ctx, actor, suspended)
		require.NoError(t, err)
		assert.Equal(t, auth.AccountStatusActive, reinstated.Status)

		reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, auth.AccountStatusActive, reloaded.Status)
	})

	t.Run("confirm pending account", func(t *testing.T) {
		identity := seedIdentity(t, repo, auth.RoleUser, auth.AccountStatusPending)

		confirmed, err := repo.Identities().Confirm(ctx, actor, identity)
		require.NoError(t, err)
		assert.Equal(t, auth.AccountStatusActive, confirmed.Status)
	})

	t.Run("transition touches only the lifecycle columns", func(t *testing.T) {
		identity := seedIdentity(t, repo, auth.RoleSupervisor, auth.AccountStatusPending)
		require.NoError(t, repo.Identities().PushSession(ctx, identity.ID, auth.NewSessionToken("tok-kept", time.Now(), "", "")))

		_, err := repo.Identities().Confirm(ctx, actor, identity)
		require.NoError(t, err)

		reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Equal(t, auth.AccountStatusActive, reloaded.Status)
		assert.Equal(t, identity.Email, reloaded.Email, "email must survive a status transition")
		assert.Equal(t, identity.PasswordHash, reloaded.PasswordHash)
		assert.Equal(t, auth.RoleSupervisor, reloaded.Role)
		assert.True(t, reloaded.Permissions.CanManageServices)
		assert.Len(t, reloaded.SessionTokens, 1)
		assert.True(t, auth.VerifyPassword("secure_password123", reloaded.PasswordHash), "the account can still log in")
	})

	t.Run("terminate drops sessions", func(t *testing.T) {
		identity := seedIdentity(t, repo, auth.RoleUser, auth.AccountStatusActive)
		require.NoError(t, repo.Identities().PushSession(ctx, identity.ID, auth.NewSessionToken("tok-live", time.Now(), "", "")))

		terminated, err := repo.Identities().Terminate(ctx, actor, identity)
		require.NoError(t, err)
		assert.Equal(t, auth.AccountStatusInactive, terminated.Status)

		reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.Empty(t, reloaded.SessionTokens)
	})

	t.Run("invalid transition is rejected", func(t *testing.T) {
		identity := seedIdentity(t, repo, auth.RoleUser, auth.AccountStatusPending)

		_, err := repo.Identities().Suspend(ctx, actor, identity)
		assert.ErrorIs(t, err, auth.ErrInvalidTransition)
	})
}

func TestRegisterIdentityHandler(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()

	t.Run("register creates a pending identity", func(t *testing.T) {
		sink := &recordingSink{}
		handler := auth.NewRegisterIdentityHandler(repo).WithActivitySink(sink)

		var resp *auth.RegisterIdentityResponse
		err := handler.Execute(ctx, auth.RegisterIdentityMessage{
			FirstName:  "Pepe",
			LastName:   "Rone",
			Email:      "pepe.rone@example.com",
			Phone:      "+12125551234",
			Role:       string(auth.RoleUser),
			Password:   "secure_password123",
			OnResponse: func(r *auth.RegisterIdentityResponse) { resp = r },
		})
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.True(t, resp.Success)
		assert.Len(t, resp.VerificationToken, 64, "one-time token is surfaced exactly once")

		identity := resp.Identity
		require.NotNil(t, identity)
		assert.Equal(t, auth.AccountStatusPending, identity.Status)
		assert.Equal(t, "pepe.rone", identity.Username, "username derives from the email local part")
		assert.False(t, identity.EmailVerified)
		assert.NotEqual(t, resp.VerificationToken, identity.EmailVerifyTokenHash, "only the digest is stored")
		assert.True(t, auth.VerifyPassword("secure_password123", identity.PasswordHash))

		assert.Equal(t, []auth.ActivityEventType{auth.ActivityEventAccountRegistered}, sink.eventTypes())
	})

	t.Run("omitted role defaults to user", func(t *testing.T) {
		handler := auth.NewRegisterIdentityHandler(repo)

		var resp *auth.RegisterIdentityResponse
		err := handler.Execute(ctx, auth.RegisterIdentityMessage{
			Email:      "no.role@example.com",
			Password:   "secure_password123",
			OnResponse: func(r *auth.RegisterIdentityResponse) { resp = r },
		})
		require.NoError(t, err)
		require.NotNil(t, resp.Identity)
		assert.Equal(t, auth.RoleUser, resp.Identity.Role)
	})

	t.Run("second super admin is refused", func(t *testing.T) {
		handler := auth.NewRegisterIdentityHandler(repo)

		err := handler.Execute(ctx, auth.RegisterIdentityMessage{
			Email:    "root@example.com",
			Password: "secure_password123",
			Role:     string(auth.RoleSuperAdmin),
		})
		require.NoError(t, err, "first super admin bootstraps through registration")

		err = handler.Execute(ctx, auth.RegisterIdentityMessage{
			Email:    "root2@example.com",
			Password: "secure_password123",
			Role:     string(auth.RoleSuperAdmin),
		})
		require.Error(t, err)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeInsufficientPermission))
	})

	t.Run("payload validation", func(t *testing.T) {
		handler := auth.NewRegisterIdentityHandler(repo)

		cases := []auth.RegisterIdentityMessage{
			{Email: "not-an-email", Password: "secure_password123"},
			{Email: "short@example.com", Password: "short"},
			{Email: "role@example.com", Password: "secure_password123", Role: "warlock"},
			{Email: "phone@example.com", Password: "secure_password123", Phone: "not-a-phone"},
		}

		for _, msg := range cases {
			err := handler.Execute(ctx, msg)
			assert.Error(t, err, "message %+v", msg)
		}
	})
}

func TestVerifyAccountHandler(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()

	register := func(t *testing.T, email string) (string, *auth.Identity) {
		t.Helper()
		var resp *auth.RegisterIdentityResponse
		err := auth.NewRegisterIdentityHandler(repo).Execute(ctx, auth.RegisterIdentityMessage{
			Email:      email,
			Password:   "secure_password123",
			Role:       string(auth.RoleUser),
			OnResponse: func(r *auth.RegisterIdentityResponse) { resp = r },
		})
		require.NoError(t, err)
		return resp.VerificationToken, resp.Identity
	}

	t.Run("valid token activates the account", func(t *testing.T) {
		token, identity := register(t, "verify.me@example.com")

		sink := &recordingSink{}
		handler := auth.NewVerifyAccountHandler(repo).WithActivitySink(sink)

		var resp *auth.VerifyAccountResponse
		err := handler.Execute(ctx, auth.VerifyAccountMessage{
			Email:      "verify.me@example.com",
			Token:      token,
			OnResponse: func(r *auth.VerifyAccountResponse) { resp = r },
		})
		require.NoError(t, err)
		require.NotNil(t, resp)
		assert.True(t, resp.Found)
		assert.True(t, resp.Verified)
		assert.False(t, resp.Expired)

		reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.EmailVerified)
		assert.Equal(t, auth.AccountStatusActive, reloaded.Status, "verification confirms the pending account")
		assert.Empty(t, reloaded.EmailVerifyTokenHash, "token slot is cleared after use")

		assert.Contains(t, sink.eventTypes(), auth.ActivityEventEmailVerified)
	})

	t.Run("wrong token reports expired", func(t *testing.T) {
		register(t, "wrong.token@example.com")

		var resp *auth.VerifyAccountResponse
		err := auth.NewVerifyAccountHandler(repo).Execute(ctx, auth.VerifyAccountMessage{
			Email:      "wrong.token@example.com",
			Token:      "deadbeef",
			OnResponse: func(r *auth.VerifyAccountResponse) { resp = r },
		})
		require.NoError(t, err)
		assert.True(t, resp.Found)
		assert.True(t, resp.Expired)
		assert.False(t, resp.Verified)
	})

	t.Run("unknown email", func(t *testing.T) {
		var resp *auth.VerifyAccountResponse
		err := auth.NewVerifyAccountHandler(repo).Execute(ctx, auth.VerifyAccountMessage{
			Email:      "ghost@example.com",
			Token:      "deadbeef",
			OnResponse: func(r *auth.VerifyAccountResponse) { resp = r },
		})
		require.NoError(t, err)
		assert.False(t, resp.Found)
	})
}

func TestPasswordResetFlow(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()

	identity := seedIdentity(t, repo, auth.RoleUser, auth.AccountStatusActive)
	require.NoError(t, repo.Identities().PushSession(ctx, identity.ID, auth.NewSessionToken("live-session", time.Now(), "", "")))

	var initResp *auth.InitializePasswordResetResponse
	err := auth.NewInitializePasswordResetHandler(repo).Execute(ctx, auth.InitializePasswordResetMessage{
		Email:      identity.Email,
		OnResponse: func(r *auth.InitializePasswordResetResponse) { initResp = r },
	})
	require.NoError(t, err)
	require.NotNil(t, initResp)
	assert.True(t, initResp.Success)
	require.Len(t, initResp.Token, 64)

	t.Run("finalize rotates the credential and drops sessions", func(t *testing.T) {
		sink := &recordingSink{}
		err := auth.NewFinalizePasswordResetHandler(repo).WithActivitySink(sink).Execute(ctx, auth.FinalizePasswordResetMessage{
			Email:    identity.Email,
			Token:    initResp.Token,
			Password: "brand_new_password",
		})
		require.NoError(t, err)

		reloaded, err := repo.Identities().FindByID(ctx, identity.ID)
		require.NoError(t, err)
		assert.True(t, auth.VerifyPassword("brand_new_password", reloaded.PasswordHash))
		assert.False(t, auth.VerifyPassword("secure_password123", reloaded.PasswordHash))
		assert.Empty(t, reloaded.PasswordResetTokenHash)
		assert.Empty(t, reloaded.SessionTokens, "live sessions are revoked with the old credential")
		assert.True(t, reloaded.EmailVerified, "a reset proves control of the mailbox")

		assert.Contains(t, sink.eventTypes(), auth.ActivityEventPasswordResetSuccess)
	})

	t.Run("token is single use", func(t *testing.T) {
		err := auth.NewFinalizePasswordResetHandler(repo).Execute(ctx, auth.FinalizePasswordResetMessage{
			Email:    identity.Email,
			Token:    initResp.Token,
			Password: "yet_another_password",
		})
		require.Error(t, err)
		assert.True(t, auth.HasTextCode(err, auth.TextCodeTokenExpired))
	})

	t.Run("unknown email does not leak", func(t *testing.T) {
		var resp *auth.InitializePasswordResetResponse
		err := auth.NewInitializePasswordResetHandler(repo).Execute(ctx, auth.InitializePasswordResetMessage{
			Email:      "ghost@example.com",
			OnResponse: func(r *auth.InitializePasswordResetResponse) { resp = r },
		})
		require.NoError(t, err)
		assert.True(t, resp.Success, "the response shape is identical for unknown accounts")
		assert.Empty(t, resp.Token)
	})
}

func TestIdentitiesCountByRole(t *testing.T) {
	repo, cleanup := setupRepoManager(t)
	defer cleanup()
	ctx := context.Background()

	seedIdentity(t, repo, auth.RoleTechnician, auth.AccountStatusActive)
	seedIdentity(t, repo, auth.RoleTechnician, auth.AccountStatusActive)
	seedIdentity(t, repo, auth.RoleAdmin, auth.AccountStatusActive)

	count, err := repo.Identities().CountByRole(ctx, auth.RoleTechnician)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.Identities().CountByRole(ctx, auth.RoleSuperAdmin)
	require.NoError(t, err)
	assert.Zero(t, count)
}
