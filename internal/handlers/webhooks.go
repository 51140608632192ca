package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82/webhook"

	"bursar/internal/credentials"
	"bursar/internal/stripeclient"
	bursarapi "bursar/pkg/api/bursar"
	"bursar/pkg/config"
	"bursar/pkg/logging"
	"bursar/pkg/middleware"
	"bursar/pkg/models"
)

const webhookBodyLimit = 1 << 20

// HandleStripeWebhook ingests provider events between sync runs. Events run
// through the same mapping and dedup-aware upsert path as polled records,
// so a webhook arriving before or after the poll covering it is harmless.
func HandleStripeWebhook(c middleware.Context) {
	secret := config.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if secret == "" {
		logger.Error("STRIPE_WEBHOOK_SECRET not configured; rejecting webhook")
		c.JSON(http.StatusServiceUnavailable, bursarapi.ErrorResponse{Error: "Webhook verification not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit))
	if err != nil {
		c.JSON(http.StatusBadRequest, bursarapi.ErrorResponse{Error: "Failed to read body"})
		return
	}

	// Events arrive on the account's pinned API version, not the SDK's, so
	// only the signature is validated here.
	event, err := webhook.ConstructEventWithOptions(body, c.GetHeader("Stripe-Signature"), secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		logger.WithError(err).Warn("Stripe webhook signature verification failed")
		metrics.WebhookEvents.WithLabelValues("unknown", "signature_failed").Inc()
		c.JSON(http.StatusUnauthorized, bursarapi.ErrorResponse{Error: "Invalid signature"})
		return
	}

	eventType := string(event.Type)
	ctx := c.Request.Context()

	accountID := event.Account
	if accountID == "" {
		accountID = c.GetHeader("Stripe-Account")
	}
	tenantID, err := resolveWebhookTenant(ctx, accountID)
	if err != nil {
		// Events for accounts we do not track are acknowledged so the
		// provider stops redelivering them.
		logger.WithFields(logging.Fields{
			"event_id":   event.ID,
			"event_type": eventType,
			"account_id": accountID,
		}).Debug("Webhook for unknown account, ignoring")
		metrics.WebhookEvents.WithLabelValues(eventType, "unattributed").Inc()
		c.JSON(http.StatusOK, map[string]bool{"received": true})
		return
	}

	if repo.WebhookSeen(ctx, credentials.ProviderStripe, event.ID) {
		logger.WithField("event_id", event.ID).Debug("Stripe webhook already processed, skipping")
		c.JSON(http.StatusOK, map[string]bool{"received": true})
		return
	}

	logger.WithFields(logging.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
		"tenant_id":  tenantID,
	}).Info("Received Stripe webhook")

	if err := dispatchStripeEvent(ctx, tenantID, eventType, event.Data.Raw); err != nil {
		if errors.Is(err, models.ErrMalformedRecord) {
			metrics.WebhookEvents.WithLabelValues(eventType, "malformed").Inc()
			c.JSON(http.StatusOK, map[string]bool{"received": true})
			return
		}
		metrics.WebhookEvents.WithLabelValues(eventType, "error").Inc()
		logger.WithError(err).WithField("event_type", eventType).Error("Failed to process Stripe webhook")
		c.JSON(http.StatusInternalServerError, bursarapi.ErrorResponse{Error: "Failed to process webhook"})
		return
	}

	repo.MarkWebhookProcessed(ctx, credentials.ProviderStripe, event.ID, eventType)
	metrics.WebhookEvents.WithLabelValues(eventType, "ok").Inc()
	c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// resolveWebhookTenant maps a provider account to the owning tenant.
func resolveWebhookTenant(ctx context.Context, accountID string) (string, error) {
	if accountID == "" {
		return "", models.ErrNotConnected
	}
	return credsStore.TenantByAccount(ctx, accountID)
}

// dispatchStripeEvent routes one event's object through the shared record
// ingestion path. Unhandled event types are acknowledged without action.
func dispatchStripeEvent(ctx context.Context, tenantID, eventType string, object json.RawMessage) error {
	switch eventType {
	case "customer.created", "customer.updated":
		var cu stripeclient.Customer
		if err := json.Unmarshal(object, &cu); err != nil {
			return err
		}
		return syncSvc.ApplyCustomer(ctx, tenantID, cu)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripeclient.Subscription
		if err := json.Unmarshal(object, &sub); err != nil {
			return err
		}
		_, err := syncSvc.ApplySubscription(ctx, tenantID, sub)
		return err

	case "charge.succeeded", "charge.failed", "charge.refunded":
		var ch stripeclient.Charge
		if err := json.Unmarshal(object, &ch); err != nil {
			return err
		}
		_, err := syncSvc.ApplyCharge(ctx, tenantID, ch)
		return err

	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripeclient.PaymentIntent
		if err := json.Unmarshal(object, &pi); err != nil {
			return err
		}
		_, err := syncSvc.ApplyPaymentIntent(ctx, tenantID, pi)
		return err

	case "invoice.paid", "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripeclient.Invoice
		if err := json.Unmarshal(object, &inv); err != nil {
			return err
		}
		_, err := syncSvc.ApplyInvoice(ctx, tenantID, inv)
		return err

	default:
		logger.WithField("event_type", eventType).Debug("Ignoring unhandled Stripe event type")
		return nil
	}
}
