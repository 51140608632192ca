package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"bursar/internal/store"
	"bursar/pkg/logging"
)

func testEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEngine(store.NewRepository(db, logging.NewLogger()), logging.NewLogger()), mock
}

func clientRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "stripe_customer_id", "email", "name",
		"lifetime_revenue_cents", "created_at", "updated_at",
	}).AddRow("client-1", "tenant-1", "cus_1", "a@example.com", "Acme", 0, now, now)
}

func paymentRows(t *testing.T) *sqlmock.Rows {
	t.Helper()
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "stripe_id", "stripe_dedup", "object_kind",
		"client_id", "amount_cents", "currency", "status",
		"subscription_id", "subscription_dedup", "invoice_id", "invoice_dedup",
		"receipt_url", "created_at", "updated_at",
	})
	// Charge and payment intent for the same transaction plus one refund:
	// reconciled revenue must be 2900, with one duplicate suppressed.
	rows.AddRow("p1", "tenant-1", "ch_AAAAAAAAAAAAAAAAAAAA", "AAAAAAAAAAAAAAAAA", "charge",
		"client-1", 2900, "usd", "succeeded", "", "", "", "", "", now, now)
	rows.AddRow("p2", "tenant-1", "pi_AAAAAAAAAAAAAAAAAAAA", "AAAAAAAAAAAAAAAAA", "payment_intent",
		"client-1", 2900, "usd", "succeeded", "", "", "", "", "", now, now)
	rows.AddRow("p3", "tenant-1", "ch_REFUND00000000000000", "REFUND00000000000", "charge",
		"client-1", 5000, "usd", "refunded", "", "", "", "", "", now, now)
	return rows
}

func TestReconcileDeduplicatesAndAdjusts(t *testing.T) {
	e, mock := testEngine(t)

	mock.ExpectQuery("SELECT id, tenant_id, COALESCE\\(stripe_customer_id").
		WithArgs("tenant-1").
		WillReturnRows(clientRows())
	mock.ExpectQuery("FROM bursar.payments").
		WithArgs("tenant-1", "client-1").
		WillReturnRows(paymentRows(t))
	mock.ExpectExec("UPDATE bursar.clients SET lifetime_revenue_cents").
		WithArgs("client-1", int64(2900)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := e.Reconcile(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.ClientsChecked != 1 || result.ClientsAdjusted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.DuplicatesFound != 1 {
		t.Fatalf("expected 1 suppressed duplicate, got %d", result.DuplicatesFound)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReconcileIdempotentWhenNothingChanged(t *testing.T) {
	e, mock := testEngine(t)

	rows := clientRows()
	mock.ExpectQuery("SELECT id, tenant_id, COALESCE\\(stripe_customer_id").
		WillReturnRows(rows)
	mock.ExpectQuery("FROM bursar.payments").
		WillReturnRows(paymentRows(t))
	// Guarded update touches no rows when the stored value already matches.
	mock.ExpectExec("UPDATE bursar.clients SET lifetime_revenue_cents").
		WillReturnResult(sqlmock.NewResult(0, 0))

	result, err := e.Reconcile(context.Background(), "tenant-1")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.ClientsAdjusted != 0 {
		t.Fatalf("no adjustment expected on a converged store, got %+v", result)
	}
}
