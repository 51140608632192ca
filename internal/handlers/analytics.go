package handlers

import (
	"net/http"
	"strconv"

	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/middleware"
)

// Revenue analytics endpoints. All figures are computed from the synced,
// deduplicated payment set; refunded and failed payments never count.

// GetMRR returns monthly and annual recurring revenue.
func GetMRR(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	result, err := calc.MRR(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute MRR")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to compute MRR"})
		return
	}
	metrics.MetricQueries.WithLabelValues("mrr").Inc()
	c.JSON(http.StatusOK, result)
}

// GetRevenueTimeline returns revenue bucketed by day or week over a
// trailing window.
func GetRevenueTimeline(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	interval := c.DefaultQuery("interval", "day")
	if interval != "day" && interval != "week" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "interval must be day or week"})
		return
	}
	rangeDays := queryInt(c, "range_days", 30)

	points, err := calc.RevenueTimeline(c.Request.Context(), tenantID, rangeDays, interval)
	if err != nil {
		logger.WithError(err).Error("Failed to compute revenue timeline")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to compute timeline"})
		return
	}
	metrics.MetricQueries.WithLabelValues("timeline").Inc()
	c.JSON(http.StatusOK, bursarapi.TimelineResponse{Interval: interval, Points: points})
}

// GetChurn returns churn by calendar month over a trailing window.
func GetChurn(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	months := queryInt(c, "months", 6)
	if months < 1 || months > 36 {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "months must be between 1 and 36"})
		return
	}

	result, err := calc.Churn(c.Request.Context(), tenantID, months)
	if err != nil {
		logger.WithError(err).Error("Failed to compute churn")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to compute churn"})
		return
	}
	metrics.MetricQueries.WithLabelValues("churn").Inc()
	c.JSON(http.StatusOK, result)
}

// GetTopClients ranks clients by deduplicated succeeded payment volume.
func GetTopClients(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	rangeDays := queryInt(c, "range_days", 0)
	limit := queryInt(c, "limit", 10)
	if limit < 1 || limit > 100 {
		limit = 10
	}

	clients, err := calc.TopClients(c.Request.Context(), tenantID, rangeDays, limit)
	if err != nil {
		logger.WithError(err).Error("Failed to compute top clients")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to compute top clients"})
		return
	}
	metrics.MetricQueries.WithLabelValues("top_clients").Inc()
	c.JSON(http.StatusOK, bursarapi.TopClientsResponse{Clients: clients})
}

// GetRevenueSummary returns the headline KPI block. Served from a short
// cache since dashboards poll it.
func GetRevenueSummary(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	summary, err := calc.Summary(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithError(err).Error("Failed to compute revenue summary")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to compute summary"})
		return
	}
	metrics.MetricQueries.WithLabelValues("summary").Inc()
	c.JSON(http.StatusOK, summary)
}

func queryInt(c middleware.Context, key string, fallback int) int {
	raw := c.DefaultQuery(key, "")
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
