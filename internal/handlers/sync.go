package handlers

import (
	"errors"
	"net/http"

	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
	"bursar/pkg/models"
)

// TriggerSync runs a sync for the calling tenant and returns the per-kind
// outcome. A run that partially failed still returns 200 with the error
// details in the body.
func TriggerSync(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	var req bursarapi.SyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
			return
		}
	}

	result, err := syncSvc.Sync(c.Request.Context(), tenantID, req.ForceFull)
	switch {
	case errors.Is(err, models.ErrSyncInProgress):
		metrics.SyncRuns.WithLabelValues(tenantID, "rejected").Inc()
		c.JSON(http.StatusConflict, bursarapi.ErrorResponse{Error: "Sync already running for tenant"})
		return
	case errors.Is(err, models.ErrNotConnected):
		c.JSON(http.StatusPreconditionFailed, bursarapi.ErrorResponse{Error: "No provider connected"})
		return
	case errors.Is(err, models.ErrReconnectRequired):
		metrics.SyncRuns.WithLabelValues(tenantID, "reconnect_required").Inc()
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "Provider credential invalid, reconnect required"})
		return
	case err != nil:
		metrics.SyncRuns.WithLabelValues(tenantID, "error").Inc()
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Sync run failed")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Sync failed"})
		return
	}

	status := "ok"
	if len(result.Errors) > 0 {
		status = "partial"
	}
	metrics.SyncRuns.WithLabelValues(tenantID, status).Inc()
	for _, kr := range result.Kinds {
		metrics.SyncedObjects.WithLabelValues(string(kr.Kind), "upserted").Add(float64(kr.Upserted))
		metrics.SyncedObjects.WithLabelValues(string(kr.Kind), "skipped").Add(float64(kr.Skipped))
	}

	c.JSON(http.StatusOK, result)
}

// RunReconcile recomputes every client's lifetime revenue from the
// deduplicated payment set.
func RunReconcile(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	result, err := reconciler.Reconcile(c.Request.Context(), tenantID)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues(tenantID, "error").Inc()
		logger.WithError(err).WithField("tenant_id", tenantID).Error("Reconciliation failed")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Reconciliation failed"})
		return
	}
	metrics.ReconcileRuns.WithLabelValues(tenantID, "ok").Inc()

	logger.WithFields(logging.Fields{
		"tenant_id":  tenantID,
		"checked":    result.ClientsChecked,
		"adjusted":   result.ClientsAdjusted,
		"duplicates": result.DuplicatesFound,
	}).Info("Reconciliation complete")

	c.JSON(http.StatusOK, result)
}
