package handlers

import (
	"errors"
	"net/http"

	"bursar/internal/credentials"
	"bursar/internal/stripeclient"
	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
	"bursar/pkg/models"
)

// ConnectStripe stores a tenant's provider API key after validating it with
// a live call. The key is encrypted at rest and flagged as a direct key, so
// it is never run through the OAuth refresh path.
func ConnectStripe(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	var req bursarapi.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: err.Error()})
		return
	}

	if err := stripeclient.ValidateAPIKey(req.APIKey); err != nil {
		if errors.Is(err, models.ErrAuthExpired) {
			c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "Provider rejected the API key"})
			return
		}
		logger.WithError(err).Error("API key validation failed")
		c.JSON(http.StatusBadGateway, bursarapi.ErrorResponse{Error: "Could not validate API key"})
		return
	}

	cred := &models.Credential{
		TenantID:    tenantID,
		Provider:    credentials.ProviderStripe,
		AccessToken: req.APIKey,
		Scope:       models.ScopeDirectAPIKey,
		AccountID:   req.AccountID,
	}
	if err := credsStore.Persist(c.Request.Context(), cred); err != nil {
		logger.WithError(err).Error("Failed to persist credential")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to store connection"})
		return
	}

	logger.WithFields(logging.Fields{
		"tenant_id":  tenantID,
		"account_id": req.AccountID,
	}).Info("Provider connected")

	c.JSON(http.StatusCreated, bursarapi.ConnectResponse{
		Connected: true,
		Provider:  credentials.ProviderStripe,
		AccountID: req.AccountID,
	})
}

// DisconnectStripe removes the tenant's credential and sync checkpoints.
// Synced billing data is kept; a later reconnect resumes with a full sync.
func DisconnectStripe(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	if err := credsStore.Disconnect(c.Request.Context(), tenantID, credentials.ProviderStripe); err != nil {
		logger.WithError(err).Error("Failed to disconnect provider")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to disconnect"})
		return
	}

	logger.WithField("tenant_id", tenantID).Info("Provider disconnected")
	c.JSON(http.StatusOK, bursarapi.ConnectionStatusResponse{Connected: false})
}

// GetConnectionStatus reports whether the tenant has a provider connection.
func GetConnectionStatus(c middleware.Context) {
	tenantID := c.GetString("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Tenant context required"})
		return
	}

	cred, err := credsStore.Get(c.Request.Context(), tenantID, credentials.ProviderStripe)
	if errors.Is(err, models.ErrNotConnected) {
		c.JSON(http.StatusOK, bursarapi.ConnectionStatusResponse{Connected: false})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load credential")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to load connection"})
		return
	}

	c.JSON(http.StatusOK, bursarapi.ConnectionStatusResponse{
		Connected:  true,
		Provider:   cred.Provider,
		AccountID:  cred.AccountID,
		LastSyncAt: cred.LastSyncAt,
	})
}
