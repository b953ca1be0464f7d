package tenant

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/subscription"
	"github.com/hms/hms/internal/platform/apperr"
)

// SubscriptionCreator starts the initial subscription of a new tenant.
type SubscriptionCreator interface {
	CreateSubscription(ctx context.Context, tenantID uuid.UUID, plan subscription.Plan) (*subscription.Subscription, error)
}

// AdminProvisioner creates the first HOSPITAL_ADMIN of a new tenant.
type AdminProvisioner interface {
	ProvisionAdmin(ctx context.Context, tenantID uuid.UUID, email, password, firstName, lastName string) error
}

// TxRunner runs fn in one database transaction carried by its context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Created is the result of provisioning a tenant.
type Created struct {
	*Tenant
	Subscription *subscription.Subscription `json:"subscription"`
}

type Service struct {
	repo        Repository
	subs        SubscriptionCreator
	admins      AdminProvisioner
	runInTx     TxRunner
	clock       clock.Clock
	trialPeriod time.Duration
	logger      zerolog.Logger
}

func NewService(repo Repository, subs SubscriptionCreator, runInTx TxRunner, clk clock.Clock, trialDays int, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	if runInTx == nil {
		runInTx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		repo:        repo,
		subs:        subs,
		runInTx:     runInTx,
		clock:       clk,
		trialPeriod: time.Duration(trialDays) * 24 * time.Hour,
		logger:      logger.With().Str("component", "tenant").Logger(),
	}
}

// SetAdminProvisioner enables the admin_* fields of Create.
func (s *Service) SetAdminProvisioner(p AdminProvisioner) {
	s.admins = p
}

// Create provisions a tenant on trial together with its initial
// subscription (STARTER unless in.Plan names another) and, when requested,
// its first administrator. All of it commits or none of it does.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	plan := subscription.PlanStarter
	if in.Plan != "" {
		p, err := subscription.ParsePlan(in.Plan)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
		}
		plan = p
	}
	if in.requested() && s.admins == nil {
		return nil, apperr.New(apperr.KindValidation, "admin provisioning is not available")
	}

	identifier := Identifier(in.Name)
	if _, err := s.repo.GetByIdentifier(ctx, identifier); err == nil {
		return nil, apperr.ErrTenantExists
	} else if !errors.Is(err, apperr.ErrTenantNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	trialEnds := now.Add(s.trialPeriod)
	t := &Tenant{
		ID:          uuid.New(),
		Identifier:  identifier,
		Name:        in.Name,
		Description: in.Description,
		Email:       in.Email,
		Phone:       in.Phone,
		Website:     in.Website,
		Address:     in.Address,
		City:        in.City,
		State:       in.State,
		Country:     in.Country,
		PostalCode:  in.PostalCode,
		IsActive:    true,
		IsOnTrial:   true,
		TrialEndsAt: &trialEnds,
	}

	out := &Created{Tenant: t}
	err := s.runInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, t); err != nil {
			return err
		}
		sub, err := s.subs.CreateSubscription(ctx, t.ID, plan)
		if err != nil {
			return err
		}
		out.Subscription = sub
		if in.requested() {
			return s.admins.ProvisionAdmin(ctx, t.ID, in.AdminInput.Email, in.Password, in.FirstName, in.LastName)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("tenant_id", t.ID.String()).Str("identifier", t.Identifier).Str("plan", string(plan)).Msg("tenant created")
	return out, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByIdentifier(ctx context.Context, identifier string) (*Tenant, error) {
	return s.repo.GetByIdentifier(ctx, identifier)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Tenant, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update applies in. A changed name regenerates the identifier; references
// elsewhere use the id and are unaffected.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Tenant, error) {
	if err := in.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	renamed := in.Name != nil && *in.Name != t.Name
	in.apply(t)
	if renamed {
		t.Identifier = Identifier(t.Name)
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) Activate(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) setActive(ctx context.Context, id uuid.UUID, active bool) (*Tenant, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t.IsActive = active
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Info().Str("tenant_id", id.String()).Bool("active", active).Msg("tenant activation changed")
	return t, nil
}

// Resolve maps an external reference, either the identifier slug or the
// tenant id, to an active tenant.
func (s *Service) Resolve(ctx context.Context, ref string) (*Tenant, error) {
	if ref == "" {
		return nil, apperr.ErrTenantNotFound
	}
	var (
		t   *Tenant
		err error
	)
	if id, perr := uuid.Parse(ref); perr == nil {
		t, err = s.repo.GetByID(ctx, id)
	} else {
		t, err = s.repo.GetByIdentifier(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, apperr.ErrTenantInactive
	}
	return t, nil
}
