package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bursar/internal/metrics"
	"bursar/internal/store"
	"bursar/internal/stripeclient"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// syncKind fetches one kind's window and upserts every record. Malformed or
// unmappable records are skipped and reported; a fetch error fails the kind.
func (s *Syncer) syncKind(ctx context.Context, provider Provider, tenantID string, kind models.ObjectKind, since *time.Time) (*models.KindResult, []string, error) {
	kr := &models.KindResult{Kind: kind}
	var recordErrs []string

	record := func(id string, err error) {
		kr.Skipped++
		recordErrs = append(recordErrs, fmt.Sprintf("%s %s: %v", kind, id, err))
		s.logger.WithFields(logging.Fields{
			"tenant_id": tenantID,
			"kind":      string(kind),
			"object_id": id,
			"error":     err.Error(),
		}).Warn("Skipping record")
	}

	switch kind {
	case models.KindCustomer:
		customers, malformed, err := provider.ListCustomers(ctx, since)
		if err != nil {
			return kr, recordErrs, err
		}
		kr.Fetched = len(customers) + malformed
		kr.Skipped += malformed
		for _, cu := range customers {
			if cu.Deleted || (cu.ID == "" && cu.Email == "") {
				kr.Skipped++
				continue
			}
			if _, err := s.repo.ResolveClient(ctx, tenantID, cu.ID, cu.Email, cu.Name); err != nil {
				record(cu.ID, err)
				continue
			}
			kr.Upserted++
		}

	case models.KindSubscription:
		subs, malformed, err := provider.ListSubscriptions(ctx, since)
		if err != nil {
			return kr, recordErrs, err
		}
		kr.Fetched = len(subs) + malformed
		kr.Skipped += malformed
		for _, sub := range subs {
			mapped, err := s.mapSubscription(ctx, tenantID, sub)
			if err != nil {
				record(sub.ID, err)
				continue
			}
			if _, err := s.repo.UpsertSubscription(ctx, mapped); err != nil {
				record(sub.ID, err)
				continue
			}
			kr.Upserted++
		}

	case models.KindCharge:
		charges, malformed, err := provider.ListCharges(ctx, since)
		if err != nil {
			return kr, recordErrs, err
		}
		kr.Fetched = len(charges) + malformed
		kr.Skipped += malformed
		for _, ch := range charges {
			mapped, err := s.mapCharge(ctx, tenantID, ch)
			if err != nil {
				record(ch.ID, err)
				continue
			}
			s.upsertPayment(ctx, mapped, kr, record)
		}

	case models.KindPaymentIntent:
		intents, malformed, err := provider.ListPaymentIntents(ctx, since)
		if err != nil {
			return kr, recordErrs, err
		}
		kr.Fetched = len(intents) + malformed
		kr.Skipped += malformed
		for _, pi := range intents {
			mapped, err := s.mapPaymentIntent(ctx, tenantID, pi)
			if err != nil {
				record(pi.ID, err)
				continue
			}
			s.upsertPayment(ctx, mapped, kr, record)
		}

	case models.KindInvoice:
		invoices, malformed, err := provider.ListInvoices(ctx, since)
		if err != nil {
			return kr, recordErrs, err
		}
		kr.Fetched = len(invoices) + malformed
		kr.Skipped += malformed
		for _, inv := range invoices {
			mapped, skip, err := s.mapInvoice(ctx, tenantID, inv)
			if err != nil {
				record(inv.ID, err)
				continue
			}
			if skip {
				kr.Skipped++
				continue
			}
			s.upsertPayment(ctx, mapped, kr, record)
		}

	case models.KindTreasuryTransaction:
		txns, malformed, err := provider.ListTreasuryTransactions(ctx, since)
		if err != nil {
			return kr, recordErrs, err
		}
		kr.Fetched = len(txns) + malformed
		kr.Skipped += malformed
		for _, tx := range txns {
			if _, err := s.repo.UpsertTreasuryTransaction(ctx, mapTreasuryTransaction(tenantID, tx)); err != nil {
				record(tx.ID, err)
				continue
			}
			kr.Upserted++
		}

	default:
		return kr, recordErrs, fmt.Errorf("unknown object kind %q", kind)
	}

	return kr, recordErrs, nil
}

// upsertPayment routes one mapped payment through the dedup-aware store.
// A skipped action means a higher-priority record of the same underlying
// payment already exists; that is normal operation, not an error.
func (s *Syncer) upsertPayment(ctx context.Context, p *models.Payment, kr *models.KindResult, record func(string, error)) {
	action, err := s.repo.UpsertPayment(ctx, p)
	if err != nil {
		record(p.StripeID, err)
		return
	}
	if action == store.ActionSkipped {
		kr.Skipped++
		return
	}
	kr.Upserted++
}

// resolveClient links a record to a client row by provider customer id,
// creating the client opportunistically. Records without a customer stay
// unlinked rather than failing.
func (s *Syncer) resolveClient(ctx context.Context, tenantID, customerID string) (string, error) {
	if customerID == "" {
		return "", nil
	}
	id, err := s.repo.ResolveClient(ctx, tenantID, customerID, "", "")
	if err != nil {
		if errors.Is(err, models.ErrMalformedRecord) {
			return "", nil
		}
		return "", err
	}
	return id, nil
}

func (s *Syncer) mapSubscription(ctx context.Context, tenantID string, sub stripeclient.Subscription) (*models.Subscription, error) {
	if sub.ID == "" {
		return nil, models.ErrMalformedRecord
	}
	clientID, err := s.resolveClient(ctx, tenantID, sub.Customer)
	if err != nil {
		return nil, err
	}

	items := make([]metrics.LineItem, 0, len(sub.Items.Data))
	for _, item := range sub.Items.Data {
		items = append(items, metrics.LineItem{
			UnitAmountCents: item.Price.UnitAmount,
			Interval:        item.Price.Recurring.Interval,
			Quantity:        item.Quantity,
		})
	}

	mapped := &models.Subscription{
		TenantID:             tenantID,
		StripeSubscriptionID: sub.ID,
		ClientID:             clientID,
		Status:               sub.Status,
		MRRCents:             metrics.SubscriptionMRRCents(items),
		CanceledAt:           unixTimePtr(sub.CanceledAt),
		CreatedAt:            unixTime(sub.Created),
	}
	// Billing periods live on the line items; the first item carries the
	// subscription's effective period.
	if len(sub.Items.Data) > 0 {
		first := sub.Items.Data[0]
		mapped.PlanID = first.Price.ID
		mapped.CurrentPeriodStart = unixTimePtr(first.CurrentPeriodStart)
		mapped.CurrentPeriodEnd = unixTimePtr(first.CurrentPeriodEnd)
	}
	return mapped, nil
}

func (s *Syncer) mapCharge(ctx context.Context, tenantID string, ch stripeclient.Charge) (*models.Payment, error) {
	if ch.ID == "" {
		return nil, models.ErrMalformedRecord
	}
	clientID, err := s.resolveClient(ctx, tenantID, ch.Customer)
	if err != nil {
		return nil, err
	}
	// A charge and its payment intent share an id suffix, so the canonical
	// key derived from ch.ID alone already collides with the intent record;
	// the invoice link covers the invoice side.
	p := &models.Payment{
		TenantID:    tenantID,
		StripeID:    ch.ID,
		ObjectKind:  models.KindCharge,
		ClientID:    clientID,
		AmountCents: ch.Amount,
		Currency:    ch.Currency,
		Status:      chargeStatus(ch),
		InvoiceID:   ch.Invoice,
		ReceiptURL:  ch.ReceiptURL,
		CreatedAt:   unixTime(ch.Created),
	}
	store.PreparePayment(p)
	return p, nil
}

func (s *Syncer) mapPaymentIntent(ctx context.Context, tenantID string, pi stripeclient.PaymentIntent) (*models.Payment, error) {
	if pi.ID == "" {
		return nil, models.ErrMalformedRecord
	}
	clientID, err := s.resolveClient(ctx, tenantID, pi.Customer)
	if err != nil {
		return nil, err
	}
	p := &models.Payment{
		TenantID:    tenantID,
		StripeID:    pi.ID,
		ObjectKind:  models.KindPaymentIntent,
		ClientID:    clientID,
		AmountCents: pi.Amount,
		Currency:    pi.Currency,
		Status:      paymentIntentStatus(pi.Status),
		InvoiceID:   pi.Invoice,
		CreatedAt:   unixTime(pi.Created),
	}
	store.PreparePayment(p)
	return p, nil
}

func (s *Syncer) mapInvoice(ctx context.Context, tenantID string, inv stripeclient.Invoice) (*models.Payment, bool, error) {
	if inv.ID == "" {
		return nil, false, models.ErrMalformedRecord
	}
	status, ok := invoiceStatus(inv)
	if !ok {
		return nil, true, nil
	}
	clientID, err := s.resolveClient(ctx, tenantID, inv.Customer)
	if err != nil {
		return nil, false, err
	}
	amount := inv.AmountDue
	if inv.Paid {
		amount = inv.AmountPaid
	}
	p := &models.Payment{
		TenantID:       tenantID,
		StripeID:       inv.ID,
		ObjectKind:     models.KindInvoice,
		ClientID:       clientID,
		AmountCents:    amount,
		Currency:       inv.Currency,
		Status:         status,
		SubscriptionID: inv.Subscription,
		InvoiceID:      inv.ID,
		ReceiptURL:     inv.HostedInvoiceURL,
		CreatedAt:      unixTime(inv.Created),
	}
	store.PreparePayment(p)
	return p, false, nil
}

func mapTreasuryTransaction(tenantID string, tx stripeclient.TreasuryTransaction) *models.TreasuryTransaction {
	return &models.TreasuryTransaction{
		TenantID:            tenantID,
		StripeTransactionID: tx.ID,
		FinancialAccount:    tx.FinancialAccount,
		AmountCents:         tx.Amount,
		Currency:            tx.Currency,
		Status:              tx.Status,
		FlowID:              tx.Flow,
		FlowType:            tx.FlowType,
		Description:         tx.Description,
		PostedAt:            unixTimePtr(tx.StatusTransitions.PostedAt),
		VoidedAt:            unixTimePtr(tx.StatusTransitions.VoidAt),
		CreatedAt:           unixTime(tx.Created),
	}
}

// chargeStatus maps a charge to the normalized payment status. Refunds win
// over everything so a refunded charge never counts as revenue.
func chargeStatus(ch stripeclient.Charge) string {
	switch {
	case ch.Refunded:
		return models.PaymentRefunded
	case ch.Status == "succeeded" || ch.Paid:
		return models.PaymentSucceeded
	case ch.Status == "pending":
		return models.PaymentPending
	default:
		return models.PaymentFailed
	}
}

func paymentIntentStatus(status string) string {
	switch status {
	case "succeeded":
		return models.PaymentSucceeded
	case "processing", "requires_confirmation", "requires_action", "requires_capture":
		return models.PaymentPending
	default:
		// requires_payment_method, canceled
		return models.PaymentFailed
	}
}

// invoiceStatus maps an invoice to a payment status. Draft and void
// invoices never became payments and are skipped entirely.
func invoiceStatus(inv stripeclient.Invoice) (string, bool) {
	switch inv.Status {
	case "paid":
		return models.PaymentSucceeded, true
	case "uncollectible":
		return models.PaymentFailed, true
	case "open":
		return models.PaymentPending, true
	default:
		return "", false
	}
}

// Apply* ingest a single record outside a sync run, sharing the mapping
// and upsert path with the kind loop. Used by the webhook handler.

func (s *Syncer) ApplyCustomer(ctx context.Context, tenantID string, cu stripeclient.Customer) error {
	if cu.ID == "" && cu.Email == "" {
		return models.ErrMalformedRecord
	}
	_, err := s.repo.ResolveClient(ctx, tenantID, cu.ID, cu.Email, cu.Name)
	return err
}

func (s *Syncer) ApplySubscription(ctx context.Context, tenantID string, sub stripeclient.Subscription) (store.Action, error) {
	mapped, err := s.mapSubscription(ctx, tenantID, sub)
	if err != nil {
		return store.ActionSkipped, err
	}
	return s.repo.UpsertSubscription(ctx, mapped)
}

func (s *Syncer) ApplyCharge(ctx context.Context, tenantID string, ch stripeclient.Charge) (store.Action, error) {
	mapped, err := s.mapCharge(ctx, tenantID, ch)
	if err != nil {
		return store.ActionSkipped, err
	}
	return s.repo.UpsertPayment(ctx, mapped)
}

func (s *Syncer) ApplyPaymentIntent(ctx context.Context, tenantID string, pi stripeclient.PaymentIntent) (store.Action, error) {
	mapped, err := s.mapPaymentIntent(ctx, tenantID, pi)
	if err != nil {
		return store.ActionSkipped, err
	}
	return s.repo.UpsertPayment(ctx, mapped)
}

func (s *Syncer) ApplyInvoice(ctx context.Context, tenantID string, inv stripeclient.Invoice) (store.Action, error) {
	mapped, skip, err := s.mapInvoice(ctx, tenantID, inv)
	if err != nil {
		return store.ActionSkipped, err
	}
	if skip {
		return store.ActionSkipped, nil
	}
	return s.repo.UpsertPayment(ctx, mapped)
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixTimePtr(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
