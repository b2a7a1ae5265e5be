package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ResetIdentityPasswordSQL = `UPDATE "identities" AS "idn"
SET
	"is_email_verified" = TRUE,
	"password_hash" = ?,
	"last_password_change" = ?,
	"password_reset_token_hash" = '',
	"password_reset_token_expiry" = NULL,
	"session_tokens" = NULL
WHERE
	"idn"."deleted_at" IS NULL
AND (
	"idn"."id" = ?
) RETURNING *;`

type Identities interface {
	repository.Repository[*Identity]

	FindByID(ctx context.Context, id uuid.UUID) (*Identity, error)

	TrackFailedLogin(ctx context.Context, identity *Identity) error
	TrackFailedLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error
	TrackSuccessfulLogin(ctx context.Context, identity *Identity) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error

	Register(ctx context.Context, identity *Identity) (*Identity, error)
	RegisterTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error)
	Create(ctx context.Context, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Identity, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Identity, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) (*Identity, error)
	Suspend(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error)
	Reinstate(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error)
	Confirm(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error)
	Terminate(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error)

	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	CountByRole(ctx context.Context, role Role) (int, error)
	CountByRoleTx(ctx context.Context, tx bun.IDB, role Role) (int, error)

	PushSession(ctx context.Context, id uuid.UUID, session SessionToken) error
	RemoveSession(ctx context.Context, id uuid.UUID, token string) error
	ClearSessions(ctx context.Context, id uuid.UUID) error
	HasSession(ctx context.Context, id uuid.UUID, token string) (bool, error)
}

type identities struct {
	repository.Repository[*Identity]
	db                  *bun.DB
	stateMachine        AccountStateMachine
	stateMachineOptions []StateMachineOption
	now                 func() time.Time
}

var (
	_ Identities                       = (*identities)(nil)
	_ repository.Repository[*Identity] = (*identities)(nil)
	_ IdentityStatusStore              = (*identities)(nil)
	_ IdentityTracker                  = (*identities)(nil)
	_ IdentityResolver                 = (*identities)(nil)
)

type IdentitiesOption func(*identities)

func NewIdentitiesRepository(db *bun.DB, opts ...IdentitiesOption) Identities {
	repo := repository.NewRepository[*Identity](db, repository.ModelHandlers[*Identity]{
		NewRecord: func() *Identity { return &Identity{} },
		GetID: func(i *Identity) uuid.UUID {
			if i == nil {
				return uuid.Nil
			}
			return i.ID
		},
		SetID: func(i *Identity, id uuid.UUID) {
			if i != nil {
				i.ID = id
			}
		},
	})

	repoIdentities := &identities{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoIdentities)
		}
	}

	return repoIdentities
}

func WithIdentitiesStateMachineOptions(options ...StateMachineOption) IdentitiesOption {
	return func(i *identities) {
		if len(options) == 0 {
			return
		}
		i.stateMachineOptions = append(i.stateMachineOptions, options...)
		i.stateMachine = nil
	}
}

func WithIdentitiesStateMachine(sm AccountStateMachine) IdentitiesOption {
	return func(i *identities) {
		i.stateMachine = sm
	}
}

func WithIdentitiesClock(now func() time.Time) IdentitiesOption {
	return func(i *identities) {
		if now != nil {
			i.now = now
		}
	}
}

func (a *identities) Register(ctx context.Context, identity *Identity) (*Identity, error) {
	return a.RegisterTx(ctx, a.db, identity)
}

func (a *identities) RegisterTx(ctx context.Context, tx bun.IDB, identity *Identity) (*Identity, error) {
	return a.CreateTx(ctx, tx, identity)
}

func (a *identities) FindByID(ctx context.Context, id uuid.UUID) (*Identity, error) {
	record := &Identity{}
	err := a.db.NewSelect().Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (a *identities) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*Identity, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *identities) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*Identity, error) {
	options := resolveIdentityIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &Identity{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *identities) Create(ctx context.Context, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *identities) CreateTx(ctx context.Context, tx bun.IDB, record *Identity, criteria ...repository.InsertCriteria) (*Identity, error) {
	prepareIdentityDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *identities) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *identities) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := a.Repository.RawTx(ctx, tx, ResetIdentityPasswordSQL, passwordHash, a.now(), id.String())
	if err != nil {
		return err
	}

	if len(res) == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}

// TrackFailedLogin persists the lockout counters mutated by
// RegisterFailedAttempt. Explicit columns so a cleared lockout_until
// writes NULL rather than being skipped as a zero value.
func (a *identities) TrackFailedLogin(ctx context.Context, identity *Identity) error {
	return a.TrackFailedLoginTx(ctx, a.db, identity)
}

func (a *identities) TrackFailedLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error {
	_, err := tx.NewUpdate().
		Model(identity).
		Column("failed_login_attempts", "lockout_until").
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (a *identities) TrackSuccessfulLogin(ctx context.Context, identity *Identity) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, identity)
}

func (a *identities) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, identity *Identity) error {
	_, err := tx.NewUpdate().
		Model(identity).
		Column("failed_login_attempts", "lockout_until", "last_login_at", "last_login_ip").
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (a *identities) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Identity, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status, opts...)
}

// UpdateStatusTx writes only the lifecycle columns. Explicit columns so
// the rest of the row survives the sparse record and a cleared
// suspended_at writes NULL rather than being skipped.
func (a *identities) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus, opts ...StatusUpdateOption) (*Identity, error) {
	record := &Identity{
		ID:     id,
		Status: status,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}

	_, err := tx.NewUpdate().
		Model(record).
		Column("status", "suspended_at").
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return record, nil
}

// UpdateRole changes the identity's role and recomputes the effective
// capability set, layering recorded explicit overrides back on top of the
// new role's defaults.
func (a *identities) UpdateRole(ctx context.Context, id uuid.UUID, role Role) (*Identity, error) {
	record, err := a.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	record.Role = role
	record.PrepareForPersist()

	_, err = a.db.NewUpdate().
		Model(record).
		Column("role", "permissions").
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (a *identities) CountByRole(ctx context.Context, role Role) (int, error) {
	return a.CountByRoleTx(ctx, a.db, role)
}

func (a *identities) CountByRoleTx(ctx context.Context, tx bun.IDB, role Role) (int, error) {
	return tx.NewSelect().
		Model((*Identity)(nil)).
		Where("?TableAlias.role = ?", string(role)).
		Where("?TableAlias.deleted_at IS NULL").
		Count(ctx)
}

func (a *identities) PushSession(ctx context.Context, id uuid.UUID, session SessionToken) error {
	record, err := a.FindByID(ctx, id)
	if err != nil {
		return err
	}
	record.SessionTokens = PushSessionToken(record.SessionTokens, session)
	return a.persistSessions(ctx, record)
}

func (a *identities) RemoveSession(ctx context.Context, id uuid.UUID, token string) error {
	record, err := a.FindByID(ctx, id)
	if err != nil {
		return err
	}
	remaining, found := RemoveSessionToken(record.SessionTokens, token)
	if !found {
		return nil
	}
	record.SessionTokens = remaining
	return a.persistSessions(ctx, record)
}

func (a *identities) ClearSessions(ctx context.Context, id uuid.UUID) error {
	record, err := a.FindByID(ctx, id)
	if err != nil {
		return err
	}
	record.SessionTokens = nil
	return a.persistSessions(ctx, record)
}

func (a *identities) HasSession(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	record, err := a.FindByID(ctx, id)
	if err != nil {
		return false, err
	}
	return ContainsSessionToken(record.SessionTokens, token, a.now()), nil
}

func (a *identities) persistSessions(ctx context.Context, record *Identity) error {
	_, err := a.db.NewUpdate().
		Model(record).
		Column("session_tokens").
		WherePK().
		Where("deleted_at IS NULL").
		Exec(ctx)
	return err
}

func (a *identities) Suspend(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error) {
	return a.lifecycleMachine().Transition(ctx, actor, identity, AccountStatusSuspended, opts...)
}

func (a *identities) Reinstate(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error) {
	return a.lifecycleMachine().Transition(ctx, actor, identity, AccountStatusActive, opts...)
}

// Confirm activates a pending account, typically after email verification.
func (a *identities) Confirm(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error) {
	return a.lifecycleMachine().Transition(ctx, actor, identity, AccountStatusActive, opts...)
}

// Terminate deactivates an account and invalidates all of its sessions.
func (a *identities) Terminate(ctx context.Context, actor ActorRef, identity *Identity, opts ...TransitionOption) (*Identity, error) {
	updated, err := a.lifecycleMachine().Transition(ctx, actor, identity, AccountStatusInactive, opts...)
	if err != nil {
		return nil, err
	}
	if err := a.ClearSessions(ctx, updated.ID); err != nil {
		return nil, err
	}
	updated.SessionTokens = nil
	return updated, nil
}

// StatusUpdateOption allows callers to mutate the identity record before persisting status changes.
type StatusUpdateOption func(*Identity)

// WithSuspendedAt sets the SuspendedAt timestamp during a status transition.
func WithSuspendedAt(at *time.Time) StatusUpdateOption {
	return func(i *Identity) {
		i.SuspendedAt = at
	}
}

func prepareIdentityDefaults(record *Identity) {
	if record == nil {
		return
	}

	record.PrepareForPersist()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveIdentityIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "username",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}

func (a *identities) lifecycleMachine() AccountStateMachine {
	if a.stateMachine == nil {
		a.stateMachine = NewAccountStateMachine(a, a.stateMachineOptions...)
	}
	return a.stateMachine
}

// IdentitySessionRegistry stores session tokens on the identity record
// itself, satisfying SessionRegistry over the Identities repository.
type IdentitySessionRegistry struct {
	identities Identities
}

var _ SessionRegistry = &IdentitySessionRegistry{}

// NewIdentitySessionRegistry adapts an Identities repository into a
// SessionRegistry.
func NewIdentitySessionRegistry(identities Identities) *IdentitySessionRegistry {
	return &IdentitySessionRegistry{identities: identities}
}

func (r *IdentitySessionRegistry) Add(ctx context.Context, identityID uuid.UUID, session SessionToken) error {
	return r.identities.PushSession(ctx, identityID, session)
}

func (r *IdentitySessionRegistry) Contains(ctx context.Context, identityID uuid.UUID, token string) (bool, error) {
	return r.identities.HasSession(ctx, identityID, token)
}

func (r *IdentitySessionRegistry) Remove(ctx context.Context, identityID uuid.UUID, token string) error {
	return r.identities.RemoveSession(ctx, identityID, token)
}

func (r *IdentitySessionRegistry) Clear(ctx context.Context, identityID uuid.UUID) error {
	return r.identities.ClearSessions(ctx, identityID)
}
