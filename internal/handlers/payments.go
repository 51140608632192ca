package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
)

// GetPayments lists the tenant's synced payments, newest first. The status
// filter covers the failed-payment review flow (?status=failed).
func GetPayments(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	status := c.DefaultQuery("status", "")
	limit := queryInt(c, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}

	payments, err := repo.ListPayments(c.Request.Context(), tenantID, status, limit)
	if err != nil {
		logger.WithError(err).Error("Failed to list payments")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list payments"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.PaymentsResponse{Payments: payments, Count: len(payments)})
}

// DeletePayment removes a synced payment and reconciles the owning client's
// lifetime revenue so derived figures stay consistent.
func DeletePayment(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}
	paymentID := c.Param("payment_id")
	if paymentID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Payment ID required"})
		return
	}

	clientID, err := repo.DeletePayment(c.Request.Context(), tenantID, paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, bursarapi.ErrorResponse{Error: "Payment not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to delete payment")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to delete payment"})
		return
	}

	if clientID != "" {
		if err := reconciler.ReconcileClient(c.Request.Context(), tenantID, clientID); err != nil {
			logger.WithError(err).WithFields(logging.Fields{
				"tenant_id": tenantID,
				"client_id": clientID,
			}).Error("Post-delete reconciliation failed")
		}
	}

	logger.WithFields(logging.Fields{
		"tenant_id":  tenantID,
		"payment_id": paymentID,
		"client_id":  clientID,
	}).Info("Payment deleted")

	c.JSON(http.StatusOK, bursarapi.DeletePaymentResponse{Deleted: true, ClientID: clientID})
}

// GetClients lists the tenant's billed clients with reconciled lifetime
// revenue.
func GetClients(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	clients, err := repo.ListClients(c.Request.Context(), tenantID)
	if err != nil {
		logger.WithError(err).Error("Failed to list clients")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to list clients"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.ClientsResponse{Clients: clients, Count: len(clients)})
}
