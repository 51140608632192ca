package handlers

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"bursar/internal/credentials"
	"bursar/internal/syncer"
	"bursar/pkg/config"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// JobManager runs the background sync loop: every interval it syncs all
// connected tenants, a bounded number at a time.
type JobManager struct {
	creds       *credentials.Store
	syncSvc     *syncer.Syncer
	logger      logging.Logger
	interval    time.Duration
	concurrency int
	stopCh      chan struct{}
}

// NewJobManager creates a job manager. Interval and concurrency come from
// SYNC_INTERVAL_MINUTES and SYNC_CONCURRENCY.
func NewJobManager(creds *credentials.Store, syncSvc *syncer.Syncer, log logging.Logger) *JobManager {
	return &JobManager{
		creds:       creds,
		syncSvc:     syncSvc,
		logger:      log,
		interval:    time.Duration(config.GetEnvInt("SYNC_INTERVAL_MINUTES", 60)) * time.Minute,
		concurrency: config.GetEnvInt("SYNC_CONCURRENCY", 4),
		stopCh:      make(chan struct{}),
	}
}

// Start launches the sync loop.
func (jm *JobManager) Start(ctx context.Context) {
	jm.logger.WithFields(logging.Fields{
		"interval":    jm.interval.String(),
		"concurrency": jm.concurrency,
	}).Info("Starting background sync loop")

	go jm.runSyncLoop(ctx)
}

// Stop stops the background loop.
func (jm *JobManager) Stop() {
	jm.logger.Info("Stopping background sync loop")
	close(jm.stopCh)
}

func (jm *JobManager) runSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-jm.stopCh:
			return
		case <-ticker.C:
			jm.syncAllTenants(ctx)
		}
	}
}

// syncAllTenants runs one scheduled pass over every connected tenant.
// Tenants run concurrently up to the configured limit; one tenant's failure
// never stops the others.
func (jm *JobManager) syncAllTenants(ctx context.Context) {
	tenants, err := jm.creds.ConnectedTenants(ctx, credentials.ProviderStripe)
	if err != nil {
		jm.logger.WithError(err).Error("Failed to list connected tenants")
		return
	}
	if len(tenants) == 0 {
		return
	}

	jm.logger.WithField("tenants", len(tenants)).Info("Running scheduled sync pass")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jm.concurrency)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			result, err := jm.syncSvc.Sync(gctx, tenantID, false)
			switch {
			case errors.Is(err, models.ErrSyncInProgress):
				jm.logger.WithField("tenant_id", tenantID).Debug("Sync already running, skipping scheduled pass")
			case errors.Is(err, models.ErrReconnectRequired):
				jm.logger.WithField("tenant_id", tenantID).Warn("Tenant needs to reconnect provider")
			case err != nil:
				jm.logger.WithError(err).WithField("tenant_id", tenantID).Error("Scheduled sync failed")
			default:
				if len(result.Errors) > 0 {
					jm.logger.WithFields(logging.Fields{
						"tenant_id": tenantID,
						"errors":    len(result.Errors),
					}).Warn("Scheduled sync completed with errors")
				}
			}
			// Scheduled passes are best effort per tenant.
			return nil
		})
	}
	_ = g.Wait()
}
