package auth

import (
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"

	"github.com/facilitykit/go-facility-auth/middleware/jwtware"
)

// Gate authenticates requests and enforces role, ownership, and facility
// scope rules. Every middleware it produces answers with the classified
// error contract: 401 for authentication failures, 403 for authorization
// failures, 423 while the account lock window is open.
type Gate struct {
	cfg        Config
	validator  TokenValidator
	identities IdentityResolver
	sessions   SessionRegistry
	Logger     Logger
	// ErrorHandler renders classified errors; replace it to integrate with
	// an application-wide error envelope.
	ErrorHandler func(c router.Context, err error) error
	now          func() time.Time
}

// NewGate creates an authorization gate over the given token validator,
// identity store, and session registry.
func NewGate(cfg Config, validator TokenValidator, identities IdentityResolver, sessions SessionRegistry) *Gate {
	g := &Gate{
		cfg:        cfg,
		validator:  validator,
		identities: identities,
		sessions:   sessions,
		Logger:     defLogger{},
		now:        time.Now,
	}
	g.ErrorHandler = g.defaultErrHandler
	return g
}

func (g *Gate) WithLogger(logger Logger) *Gate {
	if logger != nil {
		g.Logger = logger
	}
	return g
}

// WithClock replaces the gate clock, mostly for tests.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	if now != nil {
		g.now = now
	}
	return g
}

// Authenticate requires a live, verified bearer token and attaches the
// resolved identity and claims to the request context.
func (g *Gate) Authenticate() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			identity, claims, err := g.authenticate(ctx)
			if err != nil {
				return g.ErrorHandler(ctx, err)
			}
			g.attach(ctx, identity, claims)
			return ctx.Next()
		}
	}
}

// OptionalAuth attaches the identity when a well-formed, verified token
// names a known identity, and lets the request through anonymously
// otherwise. Only the token itself is checked; status, lockout, and
// session-registry enforcement belong to Authenticate. Failures are
// swallowed, never surfaced.
func (g *Gate) OptionalAuth() router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			raw, err := g.extractToken(ctx)
			if err != nil {
				return ctx.Next()
			}
			claims, err := g.validator.Validate(raw)
			if err != nil {
				g.Logger.Debug("optional auth token rejected, proceeding anonymously: %v", err)
				return ctx.Next()
			}
			identity, err := g.lookup(ctx, claims)
			if err != nil {
				g.Logger.Debug("optional auth lookup failed, proceeding anonymously: %v", err)
				return ctx.Next()
			}
			g.attach(ctx, identity, claims)
			return ctx.Next()
		}
	}
}

// RequireRoles allows the request through when the identity's role is in
// the allowed set. Super admins bypass the check. Runs downstream of
// Authenticate.
func (g *Gate) RequireRoles(allowed ...Role) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			identity, ok := IdentityFromContext(ctx.Context())
			if !ok {
				return g.ErrorHandler(ctx, ErrAuthenticationRequired)
			}
			if identity.Role.IsPrivileged() {
				return ctx.Next()
			}
			if !roleAllowed(identity.Role, allowed) {
				return g.ErrorHandler(ctx, ErrInsufficientPermission)
			}
			return ctx.Next()
		}
	}
}

// RequireSelfOrManager restricts the route to the identity named by the
// given route parameter. Super admins bypass; management tier roles pass
// regardless of which identity the parameter names, the resource-level
// handlers narrow that further.
func (g *Gate) RequireSelfOrManager(param string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			identity, ok := IdentityFromContext(ctx.Context())
			if !ok {
				return g.ErrorHandler(ctx, ErrAuthenticationRequired)
			}
			if identity.Role.IsPrivileged() || identity.Role.IsManagement() {
				return ctx.Next()
			}
			target := ctx.Param(param)
			if target != "" && target == identity.ID.String() {
				return ctx.Next()
			}
			return g.ErrorHandler(ctx, ErrOwnershipViolation)
		}
	}
}

// RequireFacilityAccess restricts the route to identities that manage the
// facility named by the given route parameter. Super admins bypass.
func (g *Gate) RequireFacilityAccess(param string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			identity, ok := IdentityFromContext(ctx.Context())
			if !ok {
				return g.ErrorHandler(ctx, ErrAuthenticationRequired)
			}
			if identity.Role.IsPrivileged() {
				return ctx.Next()
			}
			facilityID, err := uuid.Parse(ctx.Param(param))
			if err != nil {
				return g.ErrorHandler(ctx, ErrFacilityAccessDenied)
			}
			if !identity.ManagesFacility(facilityID) {
				return g.ErrorHandler(ctx, ErrFacilityAccessDenied)
			}
			return ctx.Next()
		}
	}
}

// RequireCapability allows the request through when the identity holds the
// named capability, via its flag set, an exact custom grant, or the "all"
// wildcard.
func (g *Gate) RequireCapability(name string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			identity, ok := IdentityFromContext(ctx.Context())
			if !ok {
				return g.ErrorHandler(ctx, ErrAuthenticationRequired)
			}
			if !HasCapability(identity, name) {
				return g.ErrorHandler(ctx, ErrInsufficientPermission)
			}
			return ctx.Next()
		}
	}
}

// ProtectedRoute adapts the gate to the jwtware middleware shape, keeping
// the session registry and identity checks in its validation pipeline.
func (g *Gate) ProtectedRoute(errorHandler func(router.Context, error) error) router.MiddlewareFunc {
	if errorHandler == nil {
		errorHandler = g.ErrorHandler
	}
	return jwtware.New(jwtware.Config{
		ErrorHandler:   errorHandler,
		AuthScheme:     g.cfg.GetAuthScheme(),
		ContextKey:     g.cfg.GetContextKey(),
		TokenLookup:    g.cfg.GetTokenLookup(),
		TokenValidator: jwtValidatorAdapter{g.validator},
		ClaimsChecker: func(ctx router.Context, claims jwtware.AuthClaims) error {
			authClaims, ok := claims.(AuthClaims)
			if !ok {
				return ErrTokenUnverifiable
			}
			raw, err := jwtware.ExtractRawTokenFromContext(ctx, jwtware.GetExtractors(g.cfg.GetTokenLookup(), g.cfg.GetAuthScheme()))
			if err != nil {
				return ErrAuthenticationRequired
			}
			identity, err := g.resolve(ctx, authClaims, raw)
			if err != nil {
				return err
			}
			g.attach(ctx, identity, authClaims)
			return nil
		},
	})
}

// authenticate runs the full request authentication pipeline: extract the
// bearer token, verify it, resolve the identity, check its status and
// lock window, and confirm the session is still registered.
func (g *Gate) authenticate(ctx router.Context) (*Identity, AuthClaims, error) {
	raw, err := g.extractToken(ctx)
	if err != nil {
		return nil, nil, err
	}

	claims, err := g.validator.Validate(raw)
	if err != nil {
		return nil, nil, err
	}

	identity, err := g.resolve(ctx, claims, raw)
	if err != nil {
		return nil, nil, err
	}

	return identity, claims, nil
}

func (g *Gate) extractToken(ctx router.Context) (string, error) {
	extractors := jwtware.GetExtractors(g.cfg.GetTokenLookup(), g.cfg.GetAuthScheme())
	raw, err := jwtware.ExtractRawTokenFromContext(ctx, extractors)
	if err != nil || raw == "" {
		return "", ErrAuthenticationRequired
	}
	return raw, nil
}

// lookup resolves the identity a verified token names, without judging
// whether that identity may authenticate right now.
func (g *Gate) lookup(ctx router.Context, claims AuthClaims) (*Identity, error) {
	identityID, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, ErrTokenUnverifiable
	}

	identity, err := g.identities.FindByID(ctx.Context(), identityID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	if identity == nil {
		return nil, ErrIdentityNotFound
	}

	identity.EnsureStatus()
	return identity, nil
}

func (g *Gate) resolve(ctx router.Context, claims AuthClaims, raw string) (*Identity, error) {
	identity, err := g.lookup(ctx, claims)
	if err != nil {
		return nil, err
	}

	if err := statusAuthError(identity.Status); err != nil {
		return nil, err
	}

	now := g.now()
	if IsLockedOut(identity, now) {
		return nil, AccountLockedError(LockoutRemaining(identity, now))
	}

	live, err := g.sessions.Contains(ctx.Context(), identity.ID, raw)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrSessionInvalidated
	}

	return identity, nil
}

func (g *Gate) attach(ctx router.Context, identity *Identity, claims AuthClaims) {
	ctx.Locals(g.cfg.GetContextKey(), claims)
	stdCtx := WithClaimsContext(ctx.Context(), claims)
	stdCtx = WithIdentityContext(stdCtx, identity)
	ctx.SetContext(stdCtx)
}

func (g *Gate) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	code := richErr.Code
	if code == 0 {
		code = http.StatusInternalServerError
	}

	if code >= http.StatusInternalServerError {
		g.Logger.Error(
			"gate error handler",
			"error", richErr.Message,
			"category", richErr.Category,
			"details", print.MaybePrettyJSON(richErr.Metadata),
		)
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"error": "An unexpected server error occurred",
		})
	}

	body := map[string]any{
		"error": richErr.Message,
	}
	if richErr.TextCode != "" {
		body["code"] = richErr.TextCode
	}
	if retry, ok := richErr.Metadata["retry_after_minutes"]; ok {
		body["retry_after_minutes"] = retry
	}

	return c.JSON(code, body)
}

// jwtValidatorAdapter bridges the auth TokenValidator to the jwtware
// middleware interface.
type jwtValidatorAdapter struct {
	validator TokenValidator
}

func (a jwtValidatorAdapter) Validate(tokenString string) (jwtware.AuthClaims, error) {
	claims, err := a.validator.Validate(tokenString)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
