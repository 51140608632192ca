package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bursar/pkg/models"
)

// ResolveClient finds or creates the client owning a provider customer.
// Resolution is by (tenant, customer id) first, then (tenant, normalized
// email) so webhook- and poll-derived records converge on one client even
// when only one of the two carries the customer id. Missing fields on an
// existing row are backfilled, never overwritten.
func (r *Repository) ResolveClient(ctx context.Context, tenantID, customerID, email, name string) (string, error) {
	email = NormalizeEmail(email)

	var id string
	var existingCustomerID, existingEmail, existingName sql.NullString

	find := func() error {
		if customerID != "" {
			err := r.db.QueryRowContext(ctx, `
				SELECT id, stripe_customer_id, email, name FROM bursar.clients
				WHERE tenant_id = $1 AND stripe_customer_id = $2`,
				tenantID, customerID,
			).Scan(&id, &existingCustomerID, &existingEmail, &existingName)
			if err == nil || !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		if email != "" {
			err := r.db.QueryRowContext(ctx, `
				SELECT id, stripe_customer_id, email, name FROM bursar.clients
				WHERE tenant_id = $1 AND LOWER(email) = $2
				ORDER BY created_at LIMIT 1`,
				tenantID, email,
			).Scan(&id, &existingCustomerID, &existingEmail, &existingName)
			if err == nil || !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}
		return sql.ErrNoRows
	}

	err := find()
	switch {
	case err == nil:
		return id, r.backfillClient(ctx, id, existingCustomerID.String, customerID, existingEmail.String, email, existingName.String, name)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("resolve client: %w", err)
	}

	if customerID == "" && email == "" {
		return "", fmt.Errorf("customer without id or email: %w", models.ErrMalformedRecord)
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO bursar.clients (tenant_id, stripe_customer_id, email, name)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		RETURNING id`,
		tenantID, customerID, email, name,
	).Scan(&id)
	if isUniqueViolation(err) {
		// Lost a race with a concurrent insert for the same customer;
		// the winner's row is the one we want.
		if ferr := find(); ferr == nil {
			return id, nil
		}
		return "", conflictErr(err)
	}
	if err != nil {
		return "", fmt.Errorf("insert client: %w", err)
	}
	return id, nil
}

// backfillClient fills fields the existing row is missing.
func (r *Repository) backfillClient(ctx context.Context, id, haveCustomerID, customerID, haveEmail, email, haveName, name string) error {
	sets := []string{}
	args := []interface{}{id}
	if haveCustomerID == "" && customerID != "" {
		args = append(args, customerID)
		sets = append(sets, fmt.Sprintf("stripe_customer_id = $%d", len(args)))
	}
	if haveEmail == "" && email != "" {
		args = append(args, email)
		sets = append(sets, fmt.Sprintf("email = $%d", len(args)))
	}
	if haveName == "" && name != "" {
		args = append(args, name)
		sets = append(sets, fmt.Sprintf("name = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		"UPDATE bursar.clients SET %s, updated_at = NOW() WHERE id = $1",
		strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("backfill client: %w", err)
	}
	return nil
}

// ClientByEmail looks a client up by normalized email.
func (r *Repository) ClientByEmail(ctx context.Context, tenantID, email string) (string, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return "", sql.ErrNoRows
	}
	var id string
	err := r.db.QueryRowContext(ctx, `
		SELECT id FROM bursar.clients
		WHERE tenant_id = $1 AND LOWER(email) = $2
		ORDER BY created_at LIMIT 1`,
		tenantID, email).Scan(&id)
	return id, err
}

// ListClients returns all of a tenant's clients.
func (r *Repository) ListClients(ctx context.Context, tenantID string) ([]models.Client, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, COALESCE(stripe_customer_id, ''), COALESCE(email, ''),
		       COALESCE(name, ''), lifetime_revenue_cents, created_at, updated_at
		FROM bursar.clients WHERE tenant_id = $1 ORDER BY created_at`,
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var clients []models.Client
	for rows.Next() {
		var c models.Client
		if err := rows.Scan(&c.ID, &c.TenantID, &c.StripeCustomerID, &c.Email,
			&c.Name, &c.LifetimeRevenueCents, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// SetClientLifetimeRevenue writes the reconciled revenue figure. Returns
// true when the stored value actually changed.
func (r *Repository) SetClientLifetimeRevenue(ctx context.Context, clientID string, cents int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE bursar.clients SET lifetime_revenue_cents = $2, updated_at = NOW()
		WHERE id = $1 AND lifetime_revenue_cents <> $2`,
		clientID, cents)
	if err != nil {
		return false, fmt.Errorf("set lifetime revenue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountClients returns the tenant's client count and summed lifetime revenue.
func (r *Repository) CountClients(ctx context.Context, tenantID string) (int, int64, error) {
	var count int
	var revenue int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(lifetime_revenue_cents), 0)
		FROM bursar.clients WHERE tenant_id = $1`,
		tenantID).Scan(&count, &revenue)
	if err != nil {
		return 0, 0, fmt.Errorf("count clients: %w", err)
	}
	return count, revenue, nil
}

// NormalizeEmail lowercases and trims an email for matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// touchTime guards zero timestamps from the provider.
func touchTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
