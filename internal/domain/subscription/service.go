package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/apperr"
)

const (
	// BillingPeriod is the validity window granted on create, plan change and
	// renewal.
	BillingPeriod = 30 * 24 * time.Hour

	maxWriteAttempts = 3
	expireBatchSize  = 500
)

// Service is the subscription ledger.
type Service struct {
	repo   Repository
	clock  clock.Clock
	logger zerolog.Logger
}

func NewService(repo Repository, clk clock.Clock, logger zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{repo: repo, clock: clk, logger: logger.With().Str("component", "subscription").Logger()}
}

func (s *Service) newSubscription(tenantID uuid.UUID, plan Plan, features Features) *Subscription {
	now := s.clock.Now()
	ends := now.Add(BillingPeriod)
	next := ends
	return &Subscription{
		ID:            uuid.New(),
		TenantID:      tenantID,
		Plan:          plan,
		Status:        StatusActive,
		Features:      features,
		Price:         features.Price,
		BillingCycle:  1,
		IsAutoRenew:   true,
		StartedAt:     now,
		EndsAt:        ends,
		NextBillingAt: &next,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func planFeatures(plan Plan) (Features, error) {
	f, ok := PlanFeatures(plan)
	if !ok {
		return Features{}, apperr.Newf(apperr.KindValidation, "unknown plan %q", plan)
	}
	return f, nil
}

// CreateSubscription starts an ACTIVE subscription for tenantID with a
// snapshot of plan's features and zeroed usage.
func (s *Service) CreateSubscription(ctx context.Context, tenantID uuid.UUID, plan Plan) (*Subscription, error) {
	features, err := planFeatures(plan)
	if err != nil {
		return nil, err
	}
	sub := s.newSubscription(tenantID, plan, features)
	if err := s.repo.Create(ctx, sub, ReasonCreated); err != nil {
		if errors.Is(err, ErrActiveExists) {
			return nil, apperr.Wrap(apperr.KindConflict, "tenant already has an active subscription", err)
		}
		return nil, err
	}
	s.logger.Info().Str("tenant_id", tenantID.String()).Str("plan", string(plan)).Msg("subscription created")
	return sub, nil
}

// GetActive returns the tenant's ACTIVE subscription or
// apperr.ErrNoActiveSubscription.
func (s *Service) GetActive(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.repo.GetActive(ctx, tenantID)
}

// mutate applies fn to the current ACTIVE subscription and writes it back,
// re-reading and re-applying when another writer got there first.
func (s *Service) mutate(ctx context.Context, tenantID uuid.UUID, reason string, fn func(sub *Subscription) error) (*Subscription, error) {
	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		sub, err := s.repo.GetActive(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if err := fn(sub); err != nil {
			return nil, err
		}
		err = s.repo.Update(ctx, sub, reason)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Debug().Str("tenant_id", tenantID.String()).Int("attempt", attempt).Msg("subscription write conflict, retrying")
	}
	return nil, apperr.Wrap(apperr.KindConflict, "subscription was modified concurrently", lastErr)
}

// UpdateSubscription moves the tenant to plan. With no ACTIVE subscription
// it creates one. Usage counters are kept and the over-limit flag is
// recomputed against the new quotas.
func (s *Service) UpdateSubscription(ctx context.Context, tenantID uuid.UUID, plan Plan) (*Subscription, error) {
	features, err := planFeatures(plan)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		sub, err := s.mutate(ctx, tenantID, ReasonPlanChange, func(sub *Subscription) error {
			now := s.clock.Now()
			ends := now.Add(BillingPeriod)
			sub.Plan = plan
			sub.Features = features.clone()
			sub.Price = features.Price
			sub.EndsAt = ends
			sub.NextBillingAt = &ends
			sub.recomputeOverLimit()
			return nil
		})
		if !errors.Is(err, apperr.ErrNoActiveSubscription) {
			return sub, err
		}

		sub = s.newSubscription(tenantID, plan, features.clone())
		err = s.repo.Create(ctx, sub, ReasonCreated)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, ErrActiveExists) {
			return nil, err
		}
		// A concurrent request created one; update that instead.
	}
	return nil, apperr.New(apperr.KindConflict, "subscription was modified concurrently")
}

// CancelSubscription ends the ACTIVE subscription. The row is kept.
func (s *Service) CancelSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	return s.mutate(ctx, tenantID, ReasonCancelled, func(sub *Subscription) error {
		now := s.clock.Now()
		sub.Status = StatusCancelled
		sub.CancelledAt = &now
		sub.IsAutoRenew = false
		return nil
	})
}

// CheckLimit reports whether usage is below the quota for r. Without an
// ACTIVE subscription it denies.
func (s *Service) CheckLimit(ctx context.Context, tenantID uuid.UUID, r ResourceType, usage int) (bool, error) {
	sub, err := s.repo.GetActive(ctx, tenantID)
	if err != nil {
		if errors.Is(err, apperr.ErrNoActiveSubscription) {
			return false, nil
		}
		return false, err
	}
	return sub.Allows(r, usage), nil
}

// EnsureCapacity is CheckLimit as an error: apperr.ErrQuotaExceeded when
// denied.
func (s *Service) EnsureCapacity(ctx context.Context, tenantID uuid.UUID, r ResourceType, usage int) error {
	ok, err := s.CheckLimit(ctx, tenantID, r, usage)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.KindQuotaExceeded, "%s limit reached for the current plan", r)
	}
	return nil
}

// RecordUsage merges patch into the usage counters.
func (s *Service) RecordUsage(ctx context.Context, tenantID uuid.UUID, patch UsagePatch) (*Subscription, error) {
	if err := patch.validate(); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return s.mutate(ctx, tenantID, ReasonUsage, func(sub *Subscription) error {
		sub.UsageStats = sub.UsageStats.apply(patch)
		sub.recomputeOverLimit()
		return nil
	})
}

// HasModule reports whether the tenant's ACTIVE subscription enables m.
func (s *Service) HasModule(ctx context.Context, tenantID uuid.UUID, m Module) (bool, error) {
	sub, err := s.repo.GetActive(ctx, tenantID)
	if err != nil {
		if errors.Is(err, apperr.ErrNoActiveSubscription) {
			return false, nil
		}
		return false, err
	}
	return sub.HasModule(m), nil
}

// History returns the newest history entries for the tenant.
func (s *Service) History(ctx context.Context, tenantID uuid.UUID, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return s.repo.History(ctx, tenantID, limit)
}

// ExpireResult counts what one Expire pass changed.
type ExpireResult struct {
	Expired int `json:"expired"`
	Renewed int `json:"renewed"`
	Skipped int `json:"skipped"`
}

// Expire processes every ACTIVE subscription whose window has ended:
// auto-renewing ones get their window advanced past now, the rest become
// EXPIRED. Rows changed concurrently are skipped and picked up next run.
func (s *Service) Expire(ctx context.Context) (ExpireResult, error) {
	var res ExpireResult
	now := s.clock.Now()

	due, err := s.repo.ListDue(ctx, now, expireBatchSize)
	if err != nil {
		return res, err
	}

	for _, sub := range due {
		reason := ReasonExpired
		if sub.IsAutoRenew {
			reason = ReasonRenewed
			for !sub.EndsAt.After(now) {
				sub.EndsAt = sub.EndsAt.Add(BillingPeriod)
			}
			next := sub.EndsAt
			sub.NextBillingAt = &next
		} else {
			sub.Status = StatusExpired
			sub.NextBillingAt = nil
		}

		if err := s.repo.Update(ctx, sub, reason); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				res.Skipped++
				continue
			}
			return res, err
		}
		if reason == ReasonRenewed {
			res.Renewed++
		} else {
			res.Expired++
		}
	}

	s.logger.Info().Int("expired", res.Expired).Int("renewed", res.Renewed).Int("skipped", res.Skipped).Msg("subscription expiry pass complete")
	return res, nil
}
