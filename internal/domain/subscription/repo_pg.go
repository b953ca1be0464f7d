package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type subscriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &subscriptionRepoPG{pool: pool}
}

const subscriptionColumns = `id, tenant_id, plan, status, features, price::text, billing_cycle,
	is_auto_renew, started_at, ends_at, next_billing_at, cancelled_at,
	usage_stats, is_over_limit, version, created_at, updated_at`

func (r *subscriptionRepoPG) Create(ctx context.Context, sub *Subscription, reason string) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	sub.Version = 1

	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		err := q.QueryRow(ctx, `
			INSERT INTO subscriptions (
				id, tenant_id, plan, status, features, price, billing_cycle,
				is_auto_renew, started_at, ends_at, next_billing_at, cancelled_at,
				usage_stats, is_over_limit, version
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			RETURNING created_at, updated_at`,
			sub.ID, sub.TenantID, string(sub.Plan), string(sub.Status), sub.Features, sub.Price, sub.BillingCycle,
			sub.IsAutoRenew, sub.StartedAt, sub.EndsAt, sub.NextBillingAt, sub.CancelledAt,
			sub.UsageStats, sub.IsOverLimit, sub.Version,
		).Scan(&sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			if db.IsUniqueViolation(err, "subscriptions_one_active") {
				return ErrActiveExists
			}
			return fmt.Errorf("insert subscription: %w", err)
		}
		return r.appendHistory(ctx, q, historyEntry(sub, reason, sub.UpdatedAt))
	})
}

func (r *subscriptionRepoPG) GetActive(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := scanSubscription(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE tenant_id = $1 AND status = 'ACTIVE'`, tenantID))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, apperr.ErrNoActiveSubscription
		}
		return nil, fmt.Errorf("get active subscription: %w", err)
	}
	return sub, nil
}

func (r *subscriptionRepoPG) Update(ctx context.Context, sub *Subscription, reason string) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		err := q.QueryRow(ctx, `
			UPDATE subscriptions SET
				plan = $3, status = $4, features = $5, price = $6, billing_cycle = $7,
				is_auto_renew = $8, started_at = $9, ends_at = $10, next_billing_at = $11,
				cancelled_at = $12, usage_stats = $13, is_over_limit = $14,
				version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at`,
			sub.ID, sub.Version, string(sub.Plan), string(sub.Status), sub.Features, sub.Price, sub.BillingCycle,
			sub.IsAutoRenew, sub.StartedAt, sub.EndsAt, sub.NextBillingAt,
			sub.CancelledAt, sub.UsageStats, sub.IsOverLimit,
		).Scan(&sub.Version, &sub.UpdatedAt)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrVersionConflict
			}
			if db.IsUniqueViolation(err, "subscriptions_one_active") {
				return ErrActiveExists
			}
			return fmt.Errorf("update subscription %s: %w", sub.ID, err)
		}
		return r.appendHistory(ctx, q, historyEntry(sub, reason, sub.UpdatedAt))
	})
}

func (r *subscriptionRepoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]*Subscription, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE status = 'ACTIVE' AND ends_at <= $1
		ORDER BY ends_at LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (r *subscriptionRepoPG) History(ctx context.Context, tenantID uuid.UUID, limit int) ([]*HistoryEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT subscription_id, tenant_id, version, plan, status, features,
			usage_stats, is_over_limit, reason, recorded_at
		FROM subscription_history
		WHERE tenant_id = $1
		ORDER BY recorded_at DESC, version DESC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list subscription history: %w", err)
	}
	defer rows.Close()

	var entries []*HistoryEntry
	for rows.Next() {
		var (
			h            HistoryEntry
			plan, status string
		)
		if err := rows.Scan(&h.SubscriptionID, &h.TenantID, &h.Version, &plan, &status, &h.Features,
			&h.UsageStats, &h.IsOverLimit, &h.Reason, &h.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan subscription history: %w", err)
		}
		h.Plan = Plan(plan)
		h.Status = Status(status)
		entries = append(entries, &h)
	}
	return entries, rows.Err()
}

func (r *subscriptionRepoPG) appendHistory(ctx context.Context, q db.Querier, h *HistoryEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO subscription_history (
			subscription_id, tenant_id, version, plan, status, features,
			usage_stats, is_over_limit, reason, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		h.SubscriptionID, h.TenantID, h.Version, string(h.Plan), string(h.Status), h.Features,
		h.UsageStats, h.IsOverLimit, h.Reason, h.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("append subscription history: %w", err)
	}
	return nil
}

func scanSubscription(row pgx.Row) (*Subscription, error) {
	var (
		s            Subscription
		plan, status string
		price        string
	)
	err := row.Scan(
		&s.ID, &s.TenantID, &plan, &status, &s.Features, &price, &s.BillingCycle,
		&s.IsAutoRenew, &s.StartedAt, &s.EndsAt, &s.NextBillingAt, &s.CancelledAt,
		&s.UsageStats, &s.IsOverLimit, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Plan = Plan(plan)
	s.Status = Status(status)
	if s.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse price %q: %w", price, err)
	}
	return &s, nil
}
