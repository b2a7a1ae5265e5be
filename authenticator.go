package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LoginOption customizes a single login attempt, e.g. stamping the device
// and source IP into the session registry entry.
type LoginOption func(*LoginMetadata)

// WithDevice records the client device description for the session entry.
func WithDevice(device string) LoginOption {
	return func(m *LoginMetadata) {
		m.Device = device
	}
}

// WithIP records the client source address for the session entry.
func WithIP(ip string) LoginOption {
	return func(m *LoginMetadata) {
		m.IP = ip
	}
}

type Auther struct {
	provider       IdentityProvider
	sessions       SessionRegistry
	logger         Logger
	tokenService   TokenService
	tokenValidator TokenValidator
	activitySink   ActivitySink
	now            func() time.Time
}

var _ Authenticator = &Auther{}

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, sessions SessionRegistry, opts Config) *Auther {
	tokenService := NewTokenServiceFromConfig(opts, defLogger{})

	return &Auther{
		provider:     provider,
		sessions:     sessions,
		logger:       defLogger{},
		tokenService: tokenService,
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	s.logger = logger
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = normalizeActivitySink(sink)
	return s
}

// WithTokenValidator sets a custom token validator for externally issued tokens.
func (s *Auther) WithTokenValidator(validator TokenValidator) *Auther {
	s.tokenValidator = validator
	return s
}

// WithTokenService replaces the token service, mostly for tests that need
// a fixed clock.
func (s *Auther) WithTokenService(service TokenService) *Auther {
	if service != nil {
		s.tokenService = service
	}
	return s
}

// WithClock replaces the authenticator clock, mostly for tests.
func (s *Auther) WithClock(now func() time.Time) *Auther {
	if now != nil {
		s.now = now
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Login verifies credentials, mints a bearer token, and registers it in
// the identity's session list. Adding the session may evict the oldest
// entry when the identity is at its session cap.
func (s *Auther) Login(ctx context.Context, identifier, password string, opts ...LoginOption) (string, error) {
	meta, _ := LoginMetadataFromContext(ctx)
	for _, opt := range opts {
		opt(&meta)
	}
	ctx = WithLoginMetadata(ctx, meta)

	identity, err := s.provider.VerifyIdentity(ctx, identifier, password)
	if err != nil {
		s.logger.Error("Login verify identity error: %v", err)
		eventType := ActivityEventLoginFailure
		if HasTextCode(err, TextCodeAccountLocked) {
			eventType = ActivityEventLoginLocked
		}
		s.emitAuthEvent(ctx, eventType, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	if identity == nil {
		s.logger.Error("Login identity is nil")
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrIdentityNotFound.Error(),
		})
		return "", ErrIdentityNotFound
	}

	token, err := s.tokenService.Generate(identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, actorFromIdentity(identity), identity.ID.String(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	if err := s.sessions.Add(ctx, identity.ID, NewSessionToken(token, s.now(), meta.Device, meta.IP)); err != nil {
		s.logger.Error("Login failed to register session: %v", err)
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, actorFromIdentity(identity), identity.ID.String(), map[string]any{
		"identifier": identifier,
	})

	return token, nil
}

// Impersonate mints a session for an identity without checking its
// credentials. The account still has to be active; the issued token goes
// through the same session registry as a regular login.
func (s *Auther) Impersonate(ctx context.Context, identifier string) (string, error) {
	identity, err := s.provider.FindIdentityByIdentifier(ctx, identifier)
	if err != nil {
		s.logger.Error("Impersonate verify identity error: %v", err)
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, "", map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	if identity == nil {
		s.logger.Error("Impersonate identity is nil")
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, "", map[string]any{
			"identifier": identifier,
			"error":      ErrIdentityNotFound.Error(),
		})
		return "", ErrIdentityNotFound
	}

	identity.EnsureStatus()
	if err := statusAuthError(identity.Status); err != nil {
		s.logger.Warn("Impersonation blocked for %s account: %v", identity.Status, err)
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, identity.ID.String(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
			"status":     string(identity.Status),
		})
		return "", err
	}

	token, err := s.tokenService.Generate(identity)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventImpersonationFailure, ActorRef{Type: "system"}, identity.ID.String(), map[string]any{
			"identifier": identifier,
			"error":      err.Error(),
		})
		return "", err
	}

	if err := s.sessions.Add(ctx, identity.ID, NewSessionToken(token, s.now(), "impersonation", "")); err != nil {
		s.logger.Error("Impersonate failed to register session: %v", err)
		return "", err
	}

	s.emitAuthEvent(ctx, ActivityEventImpersonationSuccess, ActorRef{Type: "system"}, identity.ID.String(), map[string]any{
		"identifier": identifier,
	})

	return token, nil
}

// Logout invalidates the presented token's session registry entry. The
// token has to verify; other live sessions are untouched.
func (s *Auther) Logout(ctx context.Context, token string) error {
	claims, err := s.validator().Validate(token)
	if err != nil {
		s.logger.Error("Logout token validation failed: %v", err)
		return err
	}

	identityID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return ErrTokenUnverifiable
	}

	if err := s.sessions.Remove(ctx, identityID, token); err != nil {
		return err
	}

	s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{ID: claims.UserID(), Type: "user"}, claims.UserID(), nil)
	return nil
}

// LogoutAll invalidates every live session for the identity at once.
func (s *Auther) LogoutAll(ctx context.Context, identityID uuid.UUID) error {
	if err := s.sessions.Clear(ctx, identityID); err != nil {
		return err
	}
	s.emitAuthEvent(ctx, ActivityEventLogoutAll, ActorRef{ID: identityID.String(), Type: "user"}, identityID.String(), nil)
	return nil
}

func (s *Auther) IdentityFromSession(ctx context.Context, session Session) (*Identity, error) {
	identity, err := s.provider.FindIdentityByIdentifier(ctx, session.GetUserID())

	if err != nil {
		s.logger.Error("IdentityFromSession find identity by identifier: %s", err)
		return nil, err
	}

	return identity, nil
}

func (s *Auther) SessionFromToken(raw string) (Session, error) {
	claims, err := s.validator().Validate(raw)
	if err != nil {
		s.logger.Error("SessionFromToken validation failed: %v", err)
		return nil, err
	}

	session, err := sessionFromAuthClaims(claims)
	if err != nil {
		s.logger.Error("SessionFromToken failed to create session from claims: %v", err)
		return nil, err
	}

	return session, nil
}

func (s *Auther) validator() TokenValidator {
	if s.tokenValidator != nil {
		return s.tokenValidator
	}
	return s.tokenService
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, identityID string, metadata map[string]any) {
	sink := normalizeActivitySink(s.activitySink)
	event := ActivityEvent{
		EventType:  eventType,
		Actor:      actor,
		IdentityID: identityID,
		Metadata:   metadata,
	}

	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("activity sink record error: %v", err)
	}
}

func actorFromIdentity(identity *Identity) ActorRef {
	if identity == nil {
		return ActorRef{Type: "unknown"}
	}

	return ActorRef{
		ID:   identity.ID.String(),
		Type: "user",
	}
}
