package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

type RegisterIdentityMessage struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	Password  string `json:"password"`
	UseHashid bool
	// OnResponse receives the created record plus the one-time email
	// verification token; the token plaintext is not stored anywhere.
	OnResponse func(resp *RegisterIdentityResponse)
}

func (e RegisterIdentityMessage) Type() string { return "identity.register" }

// Validate checks the message before any persistence happens.
func (e RegisterIdentityMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Email, validation.Required, is.Email),
		validation.Field(&e.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&e.Role, validation.By(validRoleName)),
		validation.Field(&e.Phone, validation.By(validPhoneNumber)),
	)
}

type RegisterIdentityResponse struct {
	Identity          *Identity
	VerificationToken string
	Success           bool
}

type RegisterIdentityHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewRegisterIdentityHandler creates a handler with sane defaults.
func NewRegisterIdentityHandler(repo RepositoryManager) *RegisterIdentityHandler {
	return &RegisterIdentityHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterIdentityHandler) WithActivitySink(sink ActivitySink) *RegisterIdentityHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterIdentityHandler) WithLogger(logger Logger) *RegisterIdentityHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *RegisterIdentityHandler) Execute(ctx context.Context, event RegisterIdentityMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during identity registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterIdentityHandler) execute(ctx context.Context, event RegisterIdentityMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid registration payload")
	}

	identity := &Identity{}
	resp := &RegisterIdentityResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		// Self-registration defaults to a regular account.
		role, _ := ParseRole(event.Role)
		if role == "" {
			role = RoleUser
		}

		// The first super-admin can be provisioned through registration;
		// once one exists, further super-admins only come from an existing
		// one changing a role. The count runs on the transaction so the
		// check and the insert are one atomic unit.
		if role == RoleSuperAdmin {
			count, err := h.repo.Identities().CountByRoleTx(ctx, tx, RoleSuperAdmin)
			if err != nil {
				return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing super admin")
			}
			if count > 0 {
				return goerrors.New("a super admin account already exists", goerrors.CategoryAuthz).
					WithCode(goerrors.CodeForbidden).
					WithTextCode(TextCodeInsufficientPermission)
			}
		}

		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		now := h.now()
		identity.PasswordHash = hash
		identity.Email = event.Email
		identity.Phone = event.Phone
		identity.FirstName = event.FirstName
		identity.LastName = event.LastName
		identity.Username = getUsername(event.Username, event.Email)
		identity.Role = role
		identity.Status = AccountStatusPending
		changed := now
		identity.LastPasswordChange = &changed
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				identity.ID = id
			}
		}

		token, err := IssueVerificationToken(identity, VerificationEmail, now)
		if err != nil {
			return err
		}
		resp.VerificationToken = token

		if identity, err = h.repo.Identities().CreateTx(ctx, tx, identity); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create identity")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "identity registration transaction failed")
	}

	h.recordActivity(ctx, identity)

	resp.Identity = identity
	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *RegisterIdentityHandler) recordActivity(ctx context.Context, identity *Identity) {
	if identity == nil {
		return
	}

	event := ActivityEvent{
		EventType:  ActivityEventAccountRegistered,
		Actor:      ActorRef{ID: identity.ID.String(), Type: "user"},
		IdentityID: identity.ID.String(),
		Metadata: map[string]any{
			"role": string(identity.Role),
		},
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during registration: %v", err)
	}
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}

func validRoleName(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, ok := ParseRole(s); !ok {
		return errors.New("must be a valid role")
	}
	return nil
}

func validPhoneNumber(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	num, err := phonenumbers.Parse(s, "US")
	if err != nil {
		return errors.New("must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}
