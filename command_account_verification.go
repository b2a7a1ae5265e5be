package auth

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type VerifyAccountMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	Token      string `json:"token" doc:"One-time verification token from the email link."`
	OnResponse func(resp *VerifyAccountResponse)
}

func (p VerifyAccountMessage) Type() string { return "identity.verify_email" }

// Validate checks the message payload.
func (p VerifyAccountMessage) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Token, validation.Required),
	)
}

type VerifyAccountResponse struct {
	Identity *Identity
	Found    bool
	Expired  bool
	Verified bool
}

type VerifyAccountHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	now      func() time.Time
}

// NewVerifyAccountHandler creates a handler with sane defaults.
func NewVerifyAccountHandler(repo RepositoryManager) *VerifyAccountHandler {
	return &VerifyAccountHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *VerifyAccountHandler) WithActivitySink(sink ActivitySink) *VerifyAccountHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyAccountHandler) WithLogger(logger Logger) *VerifyAccountHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyAccountHandler) Execute(ctx context.Context, event VerifyAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during account verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyAccountHandler) execute(ctx context.Context, event VerifyAccountMessage) error {
	if err := event.Validate(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid account verification payload")
	}

	resp := &VerifyAccountResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		identity, err := h.repo.Identities().GetByIdentifierTx(ctx, tx, event.Email)
		if err != nil {
			// if the record is not found, is part of expected flow, not an application error
			if repository.IsRecordNotFound(err) {
				resp.Found = false
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve verification request")
		}

		resp.Found = true
		resp.Identity = identity

		if !ConsumeVerificationToken(identity, VerificationEmail, event.Token, h.now()) {
			resp.Expired = true
			return nil
		}

		identity.EmailVerified = true

		_, err = tx.NewUpdate().
			Model(identity).
			Column("is_email_verified", "email_verify_token_hash", "email_verify_token_expiry").
			WherePK().
			Where("deleted_at IS NULL").
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist email verification")
		}

		resp.Verified = true
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to execute account verification")
	}

	// Activating a pending account goes through the lifecycle machine so
	// the transition is validated and recorded.
	if resp.Verified && resp.Identity != nil && resp.Identity.Status == AccountStatusPending {
		actor := ActorRef{ID: resp.Identity.ID.String(), Type: "user"}
		if _, err := h.repo.Identities().Confirm(ctx, actor, resp.Identity, WithTransitionReason("email verified")); err != nil {
			return err
		}
	}

	if resp.Verified {
		h.recordActivity(ctx, resp.Identity)
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *VerifyAccountHandler) recordActivity(ctx context.Context, identity *Identity) {
	if identity == nil {
		return
	}

	event := ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor: ActorRef{
			ID:   identity.ID.String(),
			Type: "user",
		},
		IdentityID: identity.ID.String(),
		OccurredAt: h.now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during account verification: %v", err)
	}
}
