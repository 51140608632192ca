package store

import (
	"context"
	"database/sql"
	"fmt"

	"bursar/pkg/models"
)

// UpsertSubscription persists a subscription keyed by
// (tenant, provider subscription id).
func (r *Repository) UpsertSubscription(ctx context.Context, s *models.Subscription) (Action, error) {
	s.CreatedAt = touchTime(s.CreatedAt)

	var periodStart, periodEnd, canceledAt sql.NullTime
	if s.CurrentPeriodStart != nil {
		periodStart = sql.NullTime{Time: *s.CurrentPeriodStart, Valid: true}
	}
	if s.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *s.CurrentPeriodEnd, Valid: true}
	}
	if s.CanceledAt != nil {
		canceledAt = sql.NullTime{Time: *s.CanceledAt, Valid: true}
	}

	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO bursar.subscriptions
			(tenant_id, stripe_subscription_id, client_id, status,
			 current_period_start, current_period_end, plan_id, mrr_cents,
			 canceled_at, created_at)
		VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6, NULLIF($7, ''), $8, $9, $10)
		ON CONFLICT (tenant_id, stripe_subscription_id) DO UPDATE SET
			client_id = COALESCE(EXCLUDED.client_id, bursar.subscriptions.client_id),
			status = EXCLUDED.status,
			current_period_start = COALESCE(EXCLUDED.current_period_start, bursar.subscriptions.current_period_start),
			current_period_end = COALESCE(EXCLUDED.current_period_end, bursar.subscriptions.current_period_end),
			plan_id = COALESCE(EXCLUDED.plan_id, bursar.subscriptions.plan_id),
			mrr_cents = EXCLUDED.mrr_cents,
			canceled_at = COALESCE(EXCLUDED.canceled_at, bursar.subscriptions.canceled_at),
			updated_at = NOW()
		RETURNING (xmax = 0)`,
		s.TenantID, s.StripeSubscriptionID, s.ClientID, s.Status,
		periodStart, periodEnd, s.PlanID, s.MRRCents, canceledAt, s.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return ActionSkipped, conflictErr(fmt.Errorf("upsert subscription: %w", err))
	}
	if inserted {
		return ActionInserted, nil
	}
	return ActionUpdated, nil
}

// ListSubscriptions returns all of a tenant's subscriptions.
func (r *Repository) ListSubscriptions(ctx context.Context, tenantID string) ([]models.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, stripe_subscription_id, COALESCE(client_id::text, ''),
		       status, current_period_start, current_period_end,
		       COALESCE(plan_id, ''), mrr_cents, canceled_at, created_at, updated_at
		FROM bursar.subscriptions
		WHERE tenant_id = $1
		ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var s models.Subscription
		var periodStart, periodEnd, canceledAt sql.NullTime
		if err := rows.Scan(&s.ID, &s.TenantID, &s.StripeSubscriptionID, &s.ClientID,
			&s.Status, &periodStart, &periodEnd, &s.PlanID, &s.MRRCents,
			&canceledAt, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		if periodStart.Valid {
			s.CurrentPeriodStart = &periodStart.Time
		}
		if periodEnd.Valid {
			s.CurrentPeriodEnd = &periodEnd.Time
		}
		if canceledAt.Valid {
			s.CanceledAt = &canceledAt.Time
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// ActiveSubscriptionStats returns the count and MRR sum over active and
// trialing subscriptions.
func (r *Repository) ActiveSubscriptionStats(ctx context.Context, tenantID string) (int, float64, error) {
	var count int
	var mrr float64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(mrr_cents), 0)
		FROM bursar.subscriptions
		WHERE tenant_id = $1 AND status IN ('active', 'trialing')`,
		tenantID).Scan(&count, &mrr)
	if err != nil {
		return 0, 0, fmt.Errorf("active subscription stats: %w", err)
	}
	return count, mrr, nil
}
