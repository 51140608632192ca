// Package bursar defines the request and response types of the billing
// sync API.
package bursar

import (
	"time"

	"bursar/pkg/models"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConnectRequest links a provider account using a direct API key.
type ConnectRequest struct {
	APIKey    string `json:"api_key" binding:"required"`
	AccountID string `json:"account_id,omitempty"`
}

// ConnectResponse confirms a stored provider connection.
type ConnectResponse struct {
	Connected bool   `json:"connected"`
	Provider  string `json:"provider"`
	AccountID string `json:"account_id,omitempty"`
}

// ConnectionStatusResponse describes the tenant's provider connection.
type ConnectionStatusResponse struct {
	Connected  bool       `json:"connected"`
	Provider   string     `json:"provider,omitempty"`
	AccountID  string     `json:"account_id,omitempty"`
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
}

// SyncRequest triggers a sync run.
type SyncRequest struct {
	ForceFull bool `json:"force_full"`
}

// SyncResponse is the outcome of a sync run.
type SyncResponse = models.SyncResult

// ReconcileResponse is the outcome of a reconciliation pass.
type ReconcileResponse = models.ReconcileResult

// MRRResponse is the recurring revenue snapshot.
type MRRResponse = models.MRRResult

// TimelineResponse is bucketed revenue over a trailing window.
type TimelineResponse struct {
	Interval string                 `json:"interval"`
	Points   []models.TimelinePoint `json:"points"`
}

// ChurnResponse is churn by calendar month.
type ChurnResponse = models.ChurnResult

// TopClientsResponse ranks clients by deduplicated revenue.
type TopClientsResponse struct {
	Clients []models.TopClient `json:"clients"`
}

// SummaryResponse is the headline KPI block.
type SummaryResponse = models.RevenueSummary

// PaymentsResponse lists payments for a tenant.
type PaymentsResponse struct {
	Payments []models.Payment `json:"payments"`
	Count    int              `json:"count"`
}

// ClientsResponse lists the tenant's billed clients.
type ClientsResponse struct {
	Clients []models.Client `json:"clients"`
	Count   int             `json:"count"`
}

// DeletePaymentResponse confirms a payment removal and the implicit
// reconciliation of the owning client.
type DeletePaymentResponse struct {
	Deleted  bool   `json:"deleted"`
	ClientID string `json:"client_id,omitempty"`
}
