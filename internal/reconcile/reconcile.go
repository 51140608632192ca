// Package reconcile recomputes derived aggregates from persisted records.
// It never calls the provider and is idempotent: with no new data a second
// pass changes nothing.
package reconcile

import (
	"context"
	"time"

	"bursar/internal/dedup"
	"bursar/internal/store"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// Engine recomputes per-client lifetime revenue from deduplicated succeeded
// payments.
type Engine struct {
	repo   *store.Repository
	logger logging.Logger
}

// NewEngine returns a reconciliation engine over the repository.
func NewEngine(repo *store.Repository, logger logging.Logger) *Engine {
	return &Engine{repo: repo, logger: logger}
}

// Reconcile recomputes lifetime revenue for every client of the tenant. The
// dedup rule is applied again over the stored rows as defense in depth
// against upsert-time races.
func (e *Engine) Reconcile(ctx context.Context, tenantID string) (*models.ReconcileResult, error) {
	clients, err := e.repo.ListClients(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	result := &models.ReconcileResult{TenantID: tenantID}
	for _, client := range clients {
		result.ClientsChecked++

		payments, err := e.repo.PaymentsForClient(ctx, tenantID, client.ID)
		if err != nil {
			return nil, err
		}

		winners, suppressed := dedup.Resolve(payments)
		result.DuplicatesFound += suppressed

		var total int64
		for _, p := range winners {
			if p.Status == models.PaymentSucceeded {
				total += p.AmountCents
			}
		}

		changed, err := e.repo.SetClientLifetimeRevenue(ctx, client.ID, total)
		if err != nil {
			return nil, err
		}
		if changed {
			result.ClientsAdjusted++
			e.logger.WithFields(logging.Fields{
				"tenant_id": tenantID,
				"client_id": client.ID,
				"revenue":   total,
			}).Info("Adjusted client lifetime revenue")
		}
	}

	result.CompletedAt = time.Now()
	return result, nil
}

// ReconcileClient recomputes one client, used after a payment delete.
func (e *Engine) ReconcileClient(ctx context.Context, tenantID, clientID string) error {
	payments, err := e.repo.PaymentsForClient(ctx, tenantID, clientID)
	if err != nil {
		return err
	}
	total := dedup.SumSucceeded(payments)
	_, err = e.repo.SetClientLifetimeRevenue(ctx, clientID, total)
	return err
}
