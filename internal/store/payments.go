package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bursar/internal/dedup"
	"bursar/internal/stripeids"
	"bursar/pkg/models"
)

// PreparePayment fills the canonical dedup keys from the payment's provider
// ids. Must be called before UpsertPayment.
func PreparePayment(p *models.Payment) {
	p.StripeDedup = stripeids.DedupKey(p.StripeID)
	p.SubscriptionDedup = stripeids.DedupKey(p.SubscriptionID)
	p.InvoiceDedup = stripeids.DedupKey(p.InvoiceID)
}

// UpsertPayment persists one payment record idempotently.
//
// Succeeded payments are checked against previously persisted succeeded
// payments for the tenant using the canonical-id collision rules. When the
// incoming record loses the tie-break it is skipped; when it outranks the
// stored row (a charge arriving after an invoice placeholder) the stored row
// is upgraded in place rather than inserting a second row. Failed and
// pending records always land individually, keyed by provider id.
func (r *Repository) UpsertPayment(ctx context.Context, p *models.Payment) (Action, error) {
	PreparePayment(p)
	p.CreatedAt = touchTime(p.CreatedAt)

	if p.Status != models.PaymentSucceeded {
		return r.writePayment(ctx, p)
	}

	existing, err := r.findCollision(ctx, p)
	if err != nil {
		return ActionSkipped, err
	}
	if existing == nil {
		return r.writePayment(ctx, p)
	}

	if existing.StripeID == p.StripeID {
		return r.writePayment(ctx, p)
	}

	if dedup.Outranks(p.ObjectKind, existing.ObjectKind) {
		if err := r.upgradePayment(ctx, existing, p); err != nil {
			return ActionSkipped, err
		}
		return ActionUpgraded, nil
	}

	// Loser: keep the stored winner but let it absorb links the loser knows
	// and it does not (an invoice record carries the receipt URL the charge
	// may lack).
	if err := r.absorbPaymentLinks(ctx, existing.ID, p); err != nil {
		return ActionSkipped, err
	}
	return ActionSkipped, nil
}

// collisionRow is the slice of a persisted payment the dedup decision needs.
type collisionRow struct {
	ID         string
	StripeID   string
	ObjectKind models.ObjectKind
}

// findCollision returns the most authoritative persisted succeeded payment
// colliding with p, or nil.
func (r *Repository) findCollision(ctx context.Context, p *models.Payment) (*collisionRow, error) {
	var row collisionRow
	err := r.db.QueryRowContext(ctx, `
		SELECT id, stripe_id, object_kind FROM bursar.payments
		WHERE tenant_id = $1 AND status = 'succeeded' AND (
			stripe_dedup = $2
			OR ($3 <> '' AND $4 <> '' AND subscription_dedup = $3 AND invoice_dedup = $4)
			OR ($4 <> '' AND invoice_dedup = $4
				AND (subscription_dedup = '' OR $3 = '' OR subscription_dedup = $3))
		)
		ORDER BY CASE object_kind
			WHEN 'charge' THEN 0
			WHEN 'payment_intent' THEN 1
			WHEN 'invoice' THEN 2
			ELSE 3 END,
			created_at DESC
		LIMIT 1`,
		p.TenantID, p.StripeDedup, p.SubscriptionDedup, p.InvoiceDedup,
	).Scan(&row.ID, &row.StripeID, &row.ObjectKind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	return &row, nil
}

// writePayment is the plain idempotent upsert on (tenant, provider id).
func (r *Repository) writePayment(ctx context.Context, p *models.Payment) (Action, error) {
	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO bursar.payments
			(tenant_id, stripe_id, stripe_dedup, object_kind, client_id,
			 amount_cents, currency, status, subscription_id, subscription_dedup,
			 invoice_id, invoice_dedup, receipt_url, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid, $6, $7, $8,
			NULLIF($9, ''), $10, NULLIF($11, ''), $12, NULLIF($13, ''), $14)
		ON CONFLICT (tenant_id, stripe_id) DO UPDATE SET
			object_kind = EXCLUDED.object_kind,
			client_id = COALESCE(EXCLUDED.client_id, bursar.payments.client_id),
			amount_cents = EXCLUDED.amount_cents,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			subscription_id = COALESCE(EXCLUDED.subscription_id, bursar.payments.subscription_id),
			subscription_dedup = CASE WHEN EXCLUDED.subscription_dedup <> ''
				THEN EXCLUDED.subscription_dedup ELSE bursar.payments.subscription_dedup END,
			invoice_id = COALESCE(EXCLUDED.invoice_id, bursar.payments.invoice_id),
			invoice_dedup = CASE WHEN EXCLUDED.invoice_dedup <> ''
				THEN EXCLUDED.invoice_dedup ELSE bursar.payments.invoice_dedup END,
			receipt_url = COALESCE(EXCLUDED.receipt_url, bursar.payments.receipt_url),
			updated_at = NOW()
		RETURNING (xmax = 0)`,
		p.TenantID, p.StripeID, p.StripeDedup, string(p.ObjectKind), p.ClientID,
		p.AmountCents, p.Currency, p.Status, p.SubscriptionID, p.SubscriptionDedup,
		p.InvoiceID, p.InvoiceDedup, p.ReceiptURL, p.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return ActionSkipped, conflictErr(fmt.Errorf("upsert payment: %w", err))
	}
	if inserted {
		return ActionInserted, nil
	}
	return ActionUpdated, nil
}

// upgradePayment rewrites a stored row with a higher-priority record's
// identity and amounts, keeping the row id stable.
func (r *Repository) upgradePayment(ctx context.Context, existing *collisionRow, p *models.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bursar.payments SET
			stripe_id = $2,
			stripe_dedup = $3,
			object_kind = $4,
			amount_cents = $5,
			currency = $6,
			client_id = COALESCE(NULLIF($7, '')::uuid, client_id),
			subscription_id = COALESCE(NULLIF($8, ''), subscription_id),
			subscription_dedup = CASE WHEN $9 <> '' THEN $9 ELSE subscription_dedup END,
			invoice_id = COALESCE(NULLIF($10, ''), invoice_id),
			invoice_dedup = CASE WHEN $11 <> '' THEN $11 ELSE invoice_dedup END,
			receipt_url = COALESCE(NULLIF($12, ''), receipt_url),
			created_at = $13,
			updated_at = NOW()
		WHERE id = $1`,
		existing.ID, p.StripeID, p.StripeDedup, string(p.ObjectKind),
		p.AmountCents, p.Currency, p.ClientID, p.SubscriptionID, p.SubscriptionDedup,
		p.InvoiceID, p.InvoiceDedup, p.ReceiptURL, p.CreatedAt)
	if err != nil {
		return conflictErr(fmt.Errorf("upgrade payment: %w", err))
	}
	r.logger.WithFields(map[string]interface{}{
		"tenant_id": p.TenantID,
		"from":      existing.StripeID,
		"to":        p.StripeID,
	}).Debug("Upgraded payment to higher-priority object kind")
	return nil
}

// absorbPaymentLinks backfills link fields a suppressed duplicate carried.
func (r *Repository) absorbPaymentLinks(ctx context.Context, winnerID string, p *models.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bursar.payments SET
			subscription_id = COALESCE(subscription_id, NULLIF($2, '')),
			subscription_dedup = CASE WHEN subscription_dedup = '' THEN $3 ELSE subscription_dedup END,
			invoice_id = COALESCE(invoice_id, NULLIF($4, '')),
			invoice_dedup = CASE WHEN invoice_dedup = '' THEN $5 ELSE invoice_dedup END,
			receipt_url = COALESCE(receipt_url, NULLIF($6, '')),
			updated_at = NOW()
		WHERE id = $1`,
		winnerID, p.SubscriptionID, p.SubscriptionDedup, p.InvoiceID, p.InvoiceDedup, p.ReceiptURL)
	if err != nil {
		return fmt.Errorf("absorb payment links: %w", err)
	}
	return nil
}

const paymentColumns = `
	id, tenant_id, stripe_id, stripe_dedup, object_kind,
	COALESCE(client_id::text, ''), amount_cents, currency, status,
	COALESCE(subscription_id, ''), subscription_dedup,
	COALESCE(invoice_id, ''), invoice_dedup,
	COALESCE(receipt_url, ''), created_at, updated_at`

func scanPayments(rows *sql.Rows) ([]models.Payment, error) {
	defer rows.Close()
	var payments []models.Payment
	for rows.Next() {
		var p models.Payment
		var kind string
		if err := rows.Scan(&p.ID, &p.TenantID, &p.StripeID, &p.StripeDedup, &kind,
			&p.ClientID, &p.AmountCents, &p.Currency, &p.Status,
			&p.SubscriptionID, &p.SubscriptionDedup,
			&p.InvoiceID, &p.InvoiceDedup,
			&p.ReceiptURL, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.ObjectKind = models.ObjectKind(kind)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListPayments returns a tenant's payments, optionally filtered by status,
// newest first.
func (r *Repository) ListPayments(ctx context.Context, tenantID, status string, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM bursar.payments
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3`,
		tenantID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return scanPayments(rows)
}

// PaymentsSince returns payments created in the trailing window; zero since
// means all history.
func (r *Repository) PaymentsSince(ctx context.Context, tenantID string, since sql.NullTime) ([]models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM bursar.payments
		WHERE tenant_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at`,
		tenantID, since)
	if err != nil {
		return nil, fmt.Errorf("payments since: %w", err)
	}
	return scanPayments(rows)
}

// PaymentsForClient returns every payment linked to one client.
func (r *Repository) PaymentsForClient(ctx context.Context, tenantID, clientID string) ([]models.Payment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM bursar.payments
		WHERE tenant_id = $1 AND client_id = $2
		ORDER BY created_at`,
		tenantID, clientID)
	if err != nil {
		return nil, fmt.Errorf("payments for client: %w", err)
	}
	return scanPayments(rows)
}

// DeletePayment removes one payment and reports which client owned it so the
// caller can reconcile.
func (r *Repository) DeletePayment(ctx context.Context, tenantID, paymentID string) (clientID string, err error) {
	var client sql.NullString
	err = r.db.QueryRowContext(ctx, `
		DELETE FROM bursar.payments
		WHERE tenant_id = $1 AND id = $2
		RETURNING COALESCE(client_id::text, '')`,
		tenantID, paymentID).Scan(&client)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sql.ErrNoRows
	}
	if err != nil {
		return "", fmt.Errorf("delete payment: %w", err)
	}
	return client.String, nil
}

// MarkPaymentRefunded flips a payment to refunded by provider id.
func (r *Repository) MarkPaymentRefunded(ctx context.Context, tenantID, stripeID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE bursar.payments SET status = 'refunded', updated_at = NOW()
		WHERE tenant_id = $1 AND stripe_id = $2`,
		tenantID, stripeID)
	if err != nil {
		return fmt.Errorf("mark refunded: %w", err)
	}
	return nil
}
