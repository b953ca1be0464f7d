package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/subscription"
	"github.com/hms/hms/internal/platform/apperr"
)

// Quota is the part of the subscription ledger patient writes depend on.
type Quota interface {
	EnsureCapacity(ctx context.Context, tenantID uuid.UUID, r subscription.ResourceType, usage int) error
	RecordUsage(ctx context.Context, tenantID uuid.UUID, patch subscription.UsagePatch) (*subscription.Subscription, error)
}

type Service struct {
	repo   Repository
	quota  Quota
	logger zerolog.Logger
}

func NewService(repo Repository, quota Quota, logger zerolog.Logger) *Service {
	return &Service{repo: repo, quota: quota, logger: logger.With().Str("component", "patient").Logger()}
}

// Create registers an active patient. Only active patients count against
// the patients quota.
func (s *Service) Create(ctx context.Context, tenantID uuid.UUID, in Input) (*Patient, error) {
	if err := in.validate(true); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	count, err := s.repo.CountActive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := s.quota.EnsureCapacity(ctx, tenantID, subscription.ResourcePatients, count); err != nil {
		return nil, err
	}

	p := &Patient{TenantID: tenantID, Active: true}
	in.apply(p)
	if p.MRN == "" {
		p.MRN = newMRN()
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.syncUsage(ctx, tenantID)
	return p, nil
}

func (s *Service) syncUsage(ctx context.Context, tenantID uuid.UUID) {
	count, err := s.repo.CountActive(ctx, tenantID)
	if err == nil {
		_, err = s.quota.RecordUsage(ctx, tenantID, subscription.PatchFor(subscription.ResourcePatients, count))
	}
	if err != nil && !errors.Is(err, apperr.ErrNoActiveSubscription) {
		s.logger.Error().Err(err).Str("tenant_id", tenantID.String()).Msg("record patients usage")
	}
}

func (s *Service) Get(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	return s.repo.Get(ctx, tenantID, id)
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID, query string, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, tenantID, query, limit, offset)
}

func (s *Service) Update(ctx context.Context, tenantID, id uuid.UUID, in Input) (*Patient, error) {
	if err := in.validate(false); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	p, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	in.apply(p)
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Deactivate retires the patient and frees its seat in the quota.
func (s *Service) Deactivate(ctx context.Context, tenantID, id uuid.UUID) (*Patient, error) {
	p, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return p, nil
	}
	p.Active = false
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	s.syncUsage(ctx, tenantID)
	return p, nil
}

// CountUsage implements subscription.UsageCounter for the patients quota.
func (s *Service) CountUsage(ctx context.Context, tenantID uuid.UUID) (int, error) {
	return s.repo.CountActive(ctx, tenantID)
}
