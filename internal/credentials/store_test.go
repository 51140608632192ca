package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"bursar/pkg/crypto"
	"bursar/pkg/logging"
	"bursar/pkg/models"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func testStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, testSecret, "sk_platform", logging.NewLogger())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s, mock
}

func encryptToken(t *testing.T, plaintext string) string {
	t.Helper()
	enc, err := crypto.DeriveFieldEncryptor(testSecret, "provider-tokens")
	if err != nil {
		t.Fatalf("derive encryptor: %v", err)
	}
	out, err := enc.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	return out
}

func credentialRows(access, refresh string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "provider", "access_token", "refresh_token",
		"scope", "account_id", "expires_at", "last_sync_at", "created_at", "updated_at",
	}).AddRow("cred-1", "tenant-1", ProviderStripe, access, refresh,
		models.ScopeDirectAPIKey, "acct_1", nil, nil, now, now)
}

func TestGetDecryptsTokens(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT id, tenant_id, provider").
		WithArgs("tenant-1", ProviderStripe).
		WillReturnRows(credentialRows(encryptToken(t, "sk_live_secret"), encryptToken(t, "rt_refresh")))

	cred, err := s.Get(context.Background(), "tenant-1", ProviderStripe)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cred.AccessToken != "sk_live_secret" {
		t.Fatalf("access token not decrypted: %q", cred.AccessToken)
	}
	if cred.RefreshToken != "rt_refresh" {
		t.Fatalf("refresh token not decrypted: %q", cred.RefreshToken)
	}
}

func TestGetNotConnected(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT id, tenant_id, provider").
		WithArgs("tenant-2", ProviderStripe).
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "tenant-2", ProviderStripe)
	if !errors.Is(err, models.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestRefreshIfExpiredSkipsDirectKeys(t *testing.T) {
	s, _ := testStore(t)

	cred := &models.Credential{
		TenantID: "tenant-1",
		Provider: ProviderStripe,
		Scope:    models.ScopeDirectAPIKey,
	}
	refreshed, err := s.RefreshIfExpired(context.Background(), cred)
	if err != nil {
		t.Fatalf("RefreshIfExpired: %v", err)
	}
	if refreshed {
		t.Fatal("direct API key credential must never refresh")
	}
}

func TestRefreshWithoutRefreshTokenRequiresReconnect(t *testing.T) {
	s, _ := testStore(t)

	cred := &models.Credential{TenantID: "tenant-1", Provider: ProviderStripe}
	err := s.Refresh(context.Background(), cred)
	if !errors.Is(err, models.ErrReconnectRequired) {
		t.Fatalf("expected ErrReconnectRequired, got %v", err)
	}
}

func TestRefreshPersistsNewToken(t *testing.T) {
	s, mock := testStore(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("expected refresh_token grant, got %q", got)
		}
		fmt.Fprint(w, `{"access_token":"sk_new","refresh_token":"rt_new","stripe_user_id":"acct_1"}`)
	}))
	defer srv.Close()
	s.SetTokenURL(srv.URL)

	mock.ExpectQuery("INSERT INTO bursar.credentials").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cred-1"))

	expired := time.Now().Add(-time.Hour)
	cred := &models.Credential{
		TenantID:     "tenant-1",
		Provider:     ProviderStripe,
		AccessToken:  "sk_old",
		RefreshToken: "rt_old",
		ExpiresAt:    &expired,
	}

	refreshed, err := s.RefreshIfExpired(context.Background(), cred)
	if err != nil {
		t.Fatalf("RefreshIfExpired: %v", err)
	}
	if !refreshed {
		t.Fatal("expected a refresh")
	}
	if cred.AccessToken != "sk_new" || cred.RefreshToken != "rt_new" {
		t.Fatalf("tokens not rotated: %q %q", cred.AccessToken, cred.RefreshToken)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.After(time.Now()) {
		t.Fatal("expiry must advance")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	s, mock := testStore(t)

	mock.ExpectQuery("SELECT last_synced_at FROM bursar.sync_checkpoints").
		WithArgs("tenant-1", "charge").
		WillReturnError(sql.ErrNoRows)

	at, err := s.Checkpoint(context.Background(), "tenant-1", models.KindCharge)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if at != nil {
		t.Fatalf("expected nil checkpoint before first sync, got %v", at)
	}

	now := time.Now()
	mock.ExpectExec("INSERT INTO bursar.sync_checkpoints").
		WithArgs("tenant-1", "charge", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SetCheckpoint(context.Background(), "tenant-1", models.KindCharge, now); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
