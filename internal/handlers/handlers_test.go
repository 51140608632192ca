package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"bursar/internal/credentials"
	billingmetrics "bursar/internal/metrics"
	"bursar/internal/reconcile"
	"bursar/internal/store"
	"bursar/internal/syncer"
	"bursar/pkg/logging"
)

var handlerTestSecret = []byte("0123456789abcdef0123456789abcdef")

func testMetrics() *BursarMetrics {
	return &BursarMetrics{
		SyncRuns:      prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_sync_runs"}, []string{"tenant_id", "status"}),
		SyncedObjects: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_synced_objects"}, []string{"kind", "action"}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_reconcile_runs"}, []string{"tenant_id", "status"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_webhook_events"}, []string{"event_type", "status"}),
		MetricQueries: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_metric_queries"}, []string{"metric"}),
	}
}

// setupTest wires the full handler stack over a mocked database and returns
// a router with the tenant context pre-set.
func setupTest(t *testing.T) (*gin.Engine, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := logging.NewLogger()
	creds, err := credentials.NewStore(db, handlerTestSecret, "", log)
	if err != nil {
		t.Fatalf("credential store: %v", err)
	}
	repository := store.NewRepository(db, log)
	sync := syncer.New(creds, repository, func(string) syncer.Provider { return nil }, 0, log)
	engine := reconcile.NewEngine(repository, log)
	calculator := billingmetrics.NewCalculator(repository, 0, log)

	Init(log, testMetrics(), creds, repository, sync, engine, calculator)

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("tenant_id", "tenant-1") })
	router.POST("/billing/sync", TriggerSync)
	router.POST("/billing/reconcile", RunReconcile)
	router.GET("/billing/payments", GetPayments)
	router.DELETE("/billing/payments/:payment_id", DeletePayment)
	router.GET("/billing/metrics/mrr", GetMRR)
	router.GET("/billing/metrics/timeline", GetRevenueTimeline)
	router.POST("/webhooks/stripe", HandleStripeWebhook)
	return router, mock
}

func TestGetMRREndpoint(t *testing.T) {
	router, mock := setupTest(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\), COALESCE\(SUM\(mrr_cents\), 0\)`).
		WithArgs("tenant-1").
		WillReturnRows(sqlmock.NewRows([]string{"count", "sum"}).AddRow(3, 8700.0))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/billing/metrics/mrr", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		MRRCents            float64 `json:"mrr_cents"`
		ARRCents            float64 `json:"arr_cents"`
		ActiveSubscriptions int     `json:"active_subscriptions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.MRRCents != 8700 || body.ARRCents != 104400 || body.ActiveSubscriptions != 3 {
		t.Fatalf("unexpected MRR body: %+v", body)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetPaymentsStatusFilter(t *testing.T) {
	router, mock := setupTest(t)

	now := time.Now()
	mock.ExpectQuery(`SELECT\s+id, tenant_id, stripe_id`).
		WithArgs("tenant-1", "failed", 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "stripe_id", "stripe_dedup", "object_kind",
			"client_id", "amount_cents", "currency", "status",
			"subscription_id", "subscription_dedup", "invoice_id", "invoice_dedup",
			"receipt_url", "created_at", "updated_at",
		}).AddRow("p1", "tenant-1", "pi_1", "1", "payment_intent",
			"client-1", 2900, "usd", "failed", "", "", "", "", "", now, now))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/billing/payments?status=failed", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeletePaymentReconcilesOwningClient(t *testing.T) {
	router, mock := setupTest(t)

	mock.ExpectQuery(`DELETE FROM bursar\.payments`).
		WithArgs("tenant-1", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}).AddRow("client-1"))
	// Implicit reconciliation of the owning client.
	mock.ExpectQuery(`SELECT\s+id, tenant_id, stripe_id`).
		WithArgs("tenant-1", "client-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tenant_id", "stripe_id", "stripe_dedup", "object_kind",
			"client_id", "amount_cents", "currency", "status",
			"subscription_id", "subscription_dedup", "invoice_id", "invoice_dedup",
			"receipt_url", "created_at", "updated_at",
		}))
	mock.ExpectExec(`UPDATE bursar\.clients SET lifetime_revenue_cents`).
		WithArgs("client-1", int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/billing/payments/p1", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTriggerSyncWithoutConnection(t *testing.T) {
	router, mock := setupTest(t)

	mock.ExpectQuery(`SELECT id, tenant_id, provider, access_token`).
		WithArgs("tenant-1", "stripe").
		WillReturnError(sql.ErrNoRows)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/billing/sync", strings.NewReader(`{"force_full":true}`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want 412", w.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTimelineRejectsBadInterval(t *testing.T) {
	router, _ := setupTest(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/billing/metrics/timeline?interval=hour", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
