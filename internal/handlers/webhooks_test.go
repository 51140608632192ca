package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

const webhookTestSecret = "whsec_test"

// stripeSignature builds a Stripe-Signature header the way the provider
// signs payloads: v1 = HMAC-SHA256(secret, "<timestamp>.<payload>").
func stripeSignature(payload string, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(webhookTestSecret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", webhookTestSecret)
	router, _ := setupTest(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestWebhookChargeSucceededUpserts(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", webhookTestSecret)
	router, mock := setupTest(t)

	payload := `{
		"id": "evt_1",
		"type": "charge.succeeded",
		"account": "acct_1",
		"api_version": "2024-06-20",
		"data": {
			"object": {
				"id": "ch_3AAAbbbCCCdddEE0xYZ",
				"amount": 4900,
				"currency": "usd",
				"status": "succeeded",
				"paid": true,
				"created": 1756600000
			}
		}
	}`

	mock.ExpectQuery(`SELECT tenant_id FROM bursar\.credentials WHERE account_id`).
		WithArgs("acct_1").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("tenant-1"))
	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM bursar\.webhook_events`).
		WithArgs("stripe", "evt_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT id, stripe_id, object_kind FROM bursar\.payments`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO bursar\.payments`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(true))
	mock.ExpectExec(`INSERT INTO bursar\.webhook_events`).
		WithArgs("stripe", "evt_1", "charge.succeeded").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(payload, time.Now()))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWebhookUnknownAccountAcknowledged(t *testing.T) {
	t.Setenv("STRIPE_WEBHOOK_SECRET", webhookTestSecret)
	router, mock := setupTest(t)

	payload := `{"id": "evt_2", "type": "charge.succeeded", "account": "acct_stranger", "api_version": "2024-06-20", "data": {"object": {}}}`

	mock.ExpectQuery(`SELECT tenant_id FROM bursar\.credentials WHERE account_id`).
		WithArgs("acct_stranger").
		WillReturnError(sql.ErrNoRows)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", stripeSignature(payload, time.Now()))
	router.ServeHTTP(w, req)

	// Unknown accounts are acknowledged so the provider stops redelivering.
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
