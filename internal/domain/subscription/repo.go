package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrVersionConflict is returned by Update when the stored row no longer
	// carries the version the caller read.
	ErrVersionConflict = errors.New("subscription version conflict")
	// ErrActiveExists is returned by Create when the tenant already holds an
	// ACTIVE subscription.
	ErrActiveExists = errors.New("tenant already has an active subscription")
)

// Repository persists subscriptions. Every write appends a history entry in
// the same transaction.
type Repository interface {
	Create(ctx context.Context, sub *Subscription, reason string) error
	// GetActive returns apperr.ErrNoActiveSubscription when none exists.
	GetActive(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	// Update stores sub only if the row is still at sub.Version, then
	// increments sub.Version.
	Update(ctx context.Context, sub *Subscription, reason string) error
	// ListDue returns ACTIVE subscriptions whose window ended at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error)
	History(ctx context.Context, tenantID uuid.UUID, limit int) ([]*HistoryEntry, error)
}

func historyEntry(sub *Subscription, reason string, at time.Time) *HistoryEntry {
	return &HistoryEntry{
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Version:        sub.Version,
		Plan:           sub.Plan,
		Status:         sub.Status,
		Features:       sub.Features.clone(),
		UsageStats:     sub.UsageStats,
		IsOverLimit:    sub.IsOverLimit,
		Reason:         reason,
		RecordedAt:     at,
	}
}
