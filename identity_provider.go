package auth

import (
	"context"
	"time"

	repository "github.com/goliatone/go-repository-bun"
)

// IdentityTracker is the narrow persistence surface the identity provider
// needs: resolve by identifier, and persist the lockout counters mutated
// by each login attempt.
type IdentityTracker interface {
	GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Identity, error)
	TrackFailedLogin(ctx context.Context, identity *Identity) error
	TrackSuccessfulLogin(ctx context.Context, identity *Identity) error
}

// ProviderImpl verifies credentials against the identity store, driving
// the lockout machine on every attempt.
type ProviderImpl struct {
	tracker IdentityTracker
	logger  Logger
	now     func() time.Time
}

var _ IdentityProvider = &ProviderImpl{}

// NewIdentityProvider creates an IdentityProvider over the given store.
func NewIdentityProvider(tracker IdentityTracker) *ProviderImpl {
	return &ProviderImpl{
		tracker: tracker,
		logger:  defLogger{},
		now:     time.Now,
	}
}

func (p *ProviderImpl) WithLogger(logger Logger) *ProviderImpl {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// WithClock replaces the provider clock, mostly for tests.
func (p *ProviderImpl) WithClock(now func() time.Time) *ProviderImpl {
	if now != nil {
		p.now = now
	}
	return p
}

// FindIdentityByIdentifier resolves an identity without touching the
// lockout machine.
func (p *ProviderImpl) FindIdentityByIdentifier(ctx context.Context, identifier string) (*Identity, error) {
	identity, err := p.tracker.GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

// VerifyIdentity runs the full login pipeline: resolve, status check,
// lockout check, credential compare, counter update. An unknown
// identifier reports the same invalid-credentials error as a bad
// password. The status check runs before the lockout check, so a
// suspended account answers with its status even while locked.
func (p *ProviderImpl) VerifyIdentity(ctx context.Context, identifier, password string) (*Identity, error) {
	identity, err := p.tracker.GetByIdentifier(ctx, identifier)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, err
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	identity.EnsureStatus()
	if err := statusAuthError(identity.Status); err != nil {
		return nil, err
	}

	now := p.now()
	if IsLockedOut(identity, now) {
		return nil, AccountLockedError(LockoutRemaining(identity, now))
	}

	if err := ComparePasswordAndHash(password, identity.PasswordHash); err != nil {
		locked := RegisterFailedAttempt(identity, now)
		if trackErr := p.tracker.TrackFailedLogin(ctx, identity); trackErr != nil {
			p.logger.Error("VerifyIdentity failed to persist login failure: %v", trackErr)
		}
		if locked {
			p.logger.Warn("VerifyIdentity locked account %s after %d failed attempts", identity.ID, identity.FailedLoginAttempts)
		}
		return nil, ErrMismatchedHashAndPassword
	}

	meta, _ := LoginMetadataFromContext(ctx)
	RegisterSuccessfulLogin(identity, now, meta.IP)
	if err := p.tracker.TrackSuccessfulLogin(ctx, identity); err != nil {
		p.logger.Error("VerifyIdentity failed to persist login success: %v", err)
	}

	return identity, nil
}
