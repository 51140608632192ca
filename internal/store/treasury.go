package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"bursar/pkg/models"
)

// emailPattern pulls an email address out of a free-text transaction
// description, the only client hint treasury records carry.
var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// ExtractEmail returns the first email address found in a description.
func ExtractEmail(description string) string {
	return emailPattern.FindString(description)
}

// UpsertTreasuryTransaction persists a ledger transaction keyed by its
// globally unique provider id. When the description contains a known
// client's email the transaction is linked to that client.
func (r *Repository) UpsertTreasuryTransaction(ctx context.Context, t *models.TreasuryTransaction) (Action, error) {
	t.CreatedAt = touchTime(t.CreatedAt)

	if t.ClientID == "" {
		if email := ExtractEmail(t.Description); email != "" {
			clientID, err := r.ClientByEmail(ctx, t.TenantID, email)
			if err == nil {
				t.ClientID = clientID
			} else if !errors.Is(err, sql.ErrNoRows) {
				return ActionSkipped, fmt.Errorf("link treasury client: %w", err)
			}
		}
	}

	var postedAt, voidedAt sql.NullTime
	if t.PostedAt != nil {
		postedAt = sql.NullTime{Time: *t.PostedAt, Valid: true}
	}
	if t.VoidedAt != nil {
		voidedAt = sql.NullTime{Time: *t.VoidedAt, Valid: true}
	}

	var inserted bool
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO bursar.treasury_transactions
			(tenant_id, stripe_transaction_id, financial_account, client_id,
			 amount_cents, currency, status, flow_id, flow_type, description,
			 posted_at, voided_at, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, '')::uuid, $5, $6, $7,
			NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $12, $13)
		ON CONFLICT (stripe_transaction_id) DO UPDATE SET
			status = EXCLUDED.status,
			client_id = COALESCE(EXCLUDED.client_id, bursar.treasury_transactions.client_id),
			posted_at = COALESCE(EXCLUDED.posted_at, bursar.treasury_transactions.posted_at),
			voided_at = COALESCE(EXCLUDED.voided_at, bursar.treasury_transactions.voided_at),
			description = COALESCE(EXCLUDED.description, bursar.treasury_transactions.description),
			updated_at = NOW()
		RETURNING (xmax = 0)`,
		t.TenantID, t.StripeTransactionID, t.FinancialAccount, t.ClientID,
		t.AmountCents, t.Currency, t.Status, t.FlowID, t.FlowType, t.Description,
		postedAt, voidedAt, t.CreatedAt,
	).Scan(&inserted)
	if err != nil {
		return ActionSkipped, conflictErr(fmt.Errorf("upsert treasury transaction: %w", err))
	}
	if inserted {
		return ActionInserted, nil
	}
	return ActionUpdated, nil
}

// ListTreasuryTransactions returns a tenant's ledger transactions, newest
// first.
func (r *Repository) ListTreasuryTransactions(ctx context.Context, tenantID string, limit int) ([]models.TreasuryTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, stripe_transaction_id, COALESCE(financial_account, ''),
		       COALESCE(client_id::text, ''), amount_cents, currency, status,
		       COALESCE(flow_id, ''), COALESCE(flow_type, ''), COALESCE(description, ''),
		       posted_at, voided_at, created_at, updated_at
		FROM bursar.treasury_transactions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list treasury transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.TreasuryTransaction
	for rows.Next() {
		var t models.TreasuryTransaction
		var postedAt, voidedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.TenantID, &t.StripeTransactionID, &t.FinancialAccount,
			&t.ClientID, &t.AmountCents, &t.Currency, &t.Status,
			&t.FlowID, &t.FlowType, &t.Description,
			&postedAt, &voidedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if postedAt.Valid {
			t.PostedAt = &postedAt.Time
		}
		if voidedAt.Valid {
			t.VoidedAt = &voidedAt.Time
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}
