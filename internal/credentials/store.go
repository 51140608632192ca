// Package credentials manages per-tenant provider credentials and sync
// checkpoints. Tokens are encrypted at rest and only decrypted when handed
// to a provider client.
package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bursar/pkg/clients"
	"bursar/pkg/crypto"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

// ProviderStripe is the only provider currently supported.
const ProviderStripe = "stripe"

const tokenEndpoint = "https://connect.stripe.com/oauth/token"

// Store reads and writes credentials and per-kind sync checkpoints.
type Store struct {
	db           *sql.DB
	enc          *crypto.FieldEncryptor
	logger       logging.Logger
	httpClient   *http.Client
	tokenURL     string
	clientSecret string
}

// NewStore derives the field encryption key from masterSecret and returns a
// ready store. clientSecret is the platform secret used for OAuth refresh;
// empty is fine when every tenant uses direct API keys.
func NewStore(db *sql.DB, masterSecret []byte, clientSecret string, logger logging.Logger) (*Store, error) {
	enc, err := crypto.DeriveFieldEncryptor(masterSecret, "provider-tokens")
	if err != nil {
		return nil, err
	}
	return &Store{
		db:     db,
		enc:    enc,
		logger: logger,
		httpClient: &http.Client{
			Transport: clients.DefaultTransport(),
			Timeout:   15 * time.Second,
		},
		tokenURL:     tokenEndpoint,
		clientSecret: clientSecret,
	}, nil
}

// SetTokenURL overrides the OAuth token endpoint. Used in tests.
func (s *Store) SetTokenURL(u string) { s.tokenURL = u }

// Get returns the tenant's credential with tokens decrypted, or
// ErrNotConnected when none exists.
func (s *Store) Get(ctx context.Context, tenantID, provider string) (*models.Credential, error) {
	var c models.Credential
	var refreshToken, accountID sql.NullString
	var expiresAt, lastSyncAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, provider, access_token, refresh_token, scope,
		       account_id, expires_at, last_sync_at, created_at, updated_at
		FROM bursar.credentials
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider,
	).Scan(&c.ID, &c.TenantID, &c.Provider, &c.AccessToken, &refreshToken,
		&c.Scope, &accountID, &expiresAt, &lastSyncAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}

	c.AccountID = accountID.String
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.Time
	}
	if lastSyncAt.Valid {
		c.LastSyncAt = &lastSyncAt.Time
	}

	if c.AccessToken, err = s.enc.Decrypt(c.AccessToken); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if refreshToken.Valid {
		if c.RefreshToken, err = s.enc.Decrypt(refreshToken.String); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &c, nil
}

// Persist encrypts the credential's tokens and upserts it. At most one
// credential exists per (tenant, provider).
func (s *Store) Persist(ctx context.Context, c *models.Credential) error {
	access, err := s.enc.Encrypt(c.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	var refresh sql.NullString
	if c.RefreshToken != "" {
		enc, err := s.enc.Encrypt(c.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		refresh = sql.NullString{String: enc, Valid: true}
	}

	var expiresAt sql.NullTime
	if c.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *c.ExpiresAt, Valid: true}
	}
	var accountID sql.NullString
	if c.AccountID != "" {
		accountID = sql.NullString{String: c.AccountID, Valid: true}
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO bursar.credentials
			(tenant_id, provider, access_token, refresh_token, scope, account_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			scope = EXCLUDED.scope,
			account_id = EXCLUDED.account_id,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING id`,
		c.TenantID, c.Provider, access, refresh, c.Scope, accountID, expiresAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}
	return nil
}

// Disconnect removes the tenant's credential and its checkpoints.
func (s *Store) Disconnect(ctx context.Context, tenantID, provider string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM bursar.credentials WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM bursar.sync_checkpoints WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// RefreshIfExpired refreshes the credential when its expiry has passed.
// Direct API key credentials never expire.
func (s *Store) RefreshIfExpired(ctx context.Context, c *models.Credential) (bool, error) {
	if c.Scope == models.ScopeDirectAPIKey || c.ExpiresAt == nil {
		return false, nil
	}
	if time.Now().Before(*c.ExpiresAt) {
		return false, nil
	}
	if err := s.Refresh(ctx, c); err != nil {
		return false, err
	}
	return true, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	StripeUserID string `json:"stripe_user_id"`
}

// Refresh exchanges the refresh token for a new access token, re-encrypts
// and persists it, and advances the expiry. Credentials without a refresh
// token cannot be refreshed and surface ErrReconnectRequired.
func (s *Store) Refresh(ctx context.Context, c *models.Credential) error {
	if c.RefreshToken == "" {
		return fmt.Errorf("credential has no refresh token: %w", models.ErrReconnectRequired)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.RefreshToken)
	form.Set("client_secret", s.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.WithFields(logging.Fields{
			"tenant_id": c.TenantID,
			"status":    resp.StatusCode,
		}).Warn("Token refresh rejected")
		return fmt.Errorf("token refresh returned %d: %w", resp.StatusCode, models.ErrReconnectRequired)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token response missing access token: %w", models.ErrReconnectRequired)
	}

	c.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.RefreshToken = tok.RefreshToken
	}
	if tok.StripeUserID != "" {
		c.AccountID = tok.StripeUserID
	}
	expires := time.Now().Add(time.Hour)
	c.ExpiresAt = &expires

	return s.Persist(ctx, c)
}

// MarkSynced records the completion time of the last sync run attempt.
func (s *Store) MarkSynced(ctx context.Context, tenantID, provider string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bursar.credentials SET last_sync_at = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND provider = $2`,
		tenantID, provider, at)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return nil
}

// Checkpoint returns when the kind last completed a sync for the tenant, or
// nil when it never has.
func (s *Store) Checkpoint(ctx context.Context, tenantID string, kind models.ObjectKind) (*time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT last_synced_at FROM bursar.sync_checkpoints
		WHERE tenant_id = $1 AND object_kind = $2`,
		tenantID, string(kind)).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return &at, nil
}

// SetCheckpoint advances a kind's checkpoint. Checkpoints only move for
// kinds that completed, so a failing kind is re-covered on the next run.
func (s *Store) SetCheckpoint(ctx context.Context, tenantID string, kind models.ObjectKind, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bursar.sync_checkpoints (tenant_id, object_kind, last_synced_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, object_kind) DO UPDATE SET
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at = NOW()`,
		tenantID, string(kind), at)
	if err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// TenantByAccount resolves the tenant owning a connected provider account.
// Webhook events carry the account id, not the tenant id.
func (s *Store) TenantByAccount(ctx context.Context, accountID string) (string, error) {
	var tenantID string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id FROM bursar.credentials WHERE account_id = $1`,
		accountID).Scan(&tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrNotConnected
	}
	if err != nil {
		return "", fmt.Errorf("resolve tenant by account: %w", err)
	}
	return tenantID, nil
}

// ConnectedTenants lists tenants with a credential for the provider, for the
// background sync loop.
func (s *Store) ConnectedTenants(ctx context.Context, provider string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id FROM bursar.credentials WHERE provider = $1 ORDER BY tenant_id`,
		provider)
	if err != nil {
		return nil, fmt.Errorf("list connected tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}
