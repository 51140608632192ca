package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bursar/internal/store"
	"bursar/pkg/cache"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// Calculator serves metric queries over the repository. Summary snapshots
// are cached briefly with request coalescing; everything stays reproducible
// from persisted entities.
type Calculator struct {
	repo   *store.Repository
	cache  *cache.Cache
	grace  time.Duration
	logger logging.Logger
}

// NewCalculator wires a calculator over the repository. grace is the one-off
// churn grace period.
func NewCalculator(repo *store.Repository, grace time.Duration, logger logging.Logger) *Calculator {
	if grace <= 0 {
		grace = DefaultChurnGrace
	}
	return &Calculator{
		repo: repo,
		cache: cache.New(cache.Options{
			TTL:                  30 * time.Second,
			StaleWhileRevalidate: 30 * time.Second,
			MaxEntries:           1024,
		}, cache.MetricsHooks{}),
		grace:  grace,
		logger: logger,
	}
}

// MRR returns the tenant's recurring revenue snapshot.
func (c *Calculator) MRR(ctx context.Context, tenantID string) (*models.MRRResult, error) {
	count, mrr, err := c.repo.ActiveSubscriptionStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &models.MRRResult{
		MRRCents:            mrr,
		ARRCents:            mrr * 12,
		ActiveSubscriptions: count,
		Currency:            "usd",
	}, nil
}

func windowStart(rangeDays int) sql.NullTime {
	if rangeDays <= 0 {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: time.Now().UTC().AddDate(0, 0, -rangeDays), Valid: true}
}

// RevenueTimeline buckets the window's deduplicated succeeded payments.
func (c *Calculator) RevenueTimeline(ctx context.Context, tenantID string, rangeDays int, groupBy string) ([]models.TimelinePoint, error) {
	if groupBy != GroupByWeek {
		groupBy = GroupByDay
	}
	payments, err := c.repo.PaymentsSince(ctx, tenantID, windowStart(rangeDays))
	if err != nil {
		return nil, err
	}
	return Timeline(payments, groupBy), nil
}

// TotalRevenue sums the window's deduplicated succeeded payments. Always
// equals the sum of RevenueTimeline's buckets for the same window.
func (c *Calculator) TotalRevenue(ctx context.Context, tenantID string, rangeDays int) (int64, error) {
	payments, err := c.repo.PaymentsSince(ctx, tenantID, windowStart(rangeDays))
	if err != nil {
		return 0, err
	}
	return TotalRevenueCents(payments), nil
}

// Churn classifies churn by month over the trailing window.
func (c *Calculator) Churn(ctx context.Context, tenantID string, months int) (*models.ChurnResult, error) {
	histories, err := c.clientHistories(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return ChurnByMonth(histories, months, c.grace, time.Now()), nil
}

// TopClients ranks the window's clients by deduplicated revenue.
func (c *Calculator) TopClients(ctx context.Context, tenantID string, rangeDays, limit int) ([]models.TopClient, error) {
	payments, err := c.repo.PaymentsSince(ctx, tenantID, windowStart(rangeDays))
	if err != nil {
		return nil, err
	}
	clients, err := c.repo.ListClients(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	return TopClients(payments, clients, limit), nil
}

// Summary returns the headline KPI block, cached briefly per tenant.
func (c *Calculator) Summary(ctx context.Context, tenantID string) (*models.RevenueSummary, error) {
	v, ok, err := c.cache.Get(ctx, "summary:"+tenantID, func(ctx context.Context, _ string) (interface{}, bool, error) {
		s, err := c.loadSummary(ctx, tenantID)
		if err != nil {
			return nil, false, err
		}
		return s, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("summary unavailable for tenant %s", tenantID)
	}
	return v.(*models.RevenueSummary), nil
}

func (c *Calculator) loadSummary(ctx context.Context, tenantID string) (*models.RevenueSummary, error) {
	subCount, mrr, err := c.repo.ActiveSubscriptionStats(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	clientCount, lifetime, err := c.repo.CountClients(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &models.RevenueSummary{
		MRRCents:             mrr,
		ARRCents:             mrr * 12,
		ActiveSubscriptions:  subCount,
		TotalClients:         clientCount,
		LifetimeRevenueCents: lifetime,
	}, nil
}

// clientHistories loads every client's subscriptions and payments grouped
// for churn classification.
func (c *Calculator) clientHistories(ctx context.Context, tenantID string) ([]ClientHistory, error) {
	clients, err := c.repo.ListClients(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	subs, err := c.repo.ListSubscriptions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	payments, err := c.repo.PaymentsSince(ctx, tenantID, sql.NullTime{})
	if err != nil {
		return nil, err
	}

	byClient := map[string]*ClientHistory{}
	for _, cl := range clients {
		byClient[cl.ID] = &ClientHistory{ClientID: cl.ID}
	}
	for _, s := range subs {
		if h, ok := byClient[s.ClientID]; ok {
			h.Subscriptions = append(h.Subscriptions, s)
		}
	}
	for _, p := range payments {
		if h, ok := byClient[p.ClientID]; ok {
			h.Payments = append(h.Payments, p)
		}
	}

	histories := make([]ClientHistory, 0, len(byClient))
	for _, h := range byClient {
		histories = append(histories, *h)
	}
	return histories, nil
}
