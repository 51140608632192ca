// Package handlers implements the HTTP surface of the billing sync API.
package handlers

import (
	"github.com/prometheus/client_golang/prometheus"

	"bursar/internal/credentials"
	billingmetrics "bursar/internal/metrics"
	"bursar/internal/reconcile"
	"bursar/internal/store"
	"bursar/internal/syncer"
	"bursar/pkg/logging"
)

var (
	logger     logging.Logger
	metrics    *BursarMetrics
	credsStore *credentials.Store
	repo       *store.Repository
	syncSvc    *syncer.Syncer
	reconciler *reconcile.Engine
	calc       *billingmetrics.Calculator
)

// BursarMetrics holds all Prometheus metrics for Bursar
type BursarMetrics struct {
	SyncRuns      *prometheus.CounterVec
	SyncedObjects *prometheus.CounterVec
	ReconcileRuns *prometheus.CounterVec
	WebhookEvents *prometheus.CounterVec
	MetricQueries *prometheus.CounterVec
	DBQueries     *prometheus.CounterVec
	DBDuration    *prometheus.HistogramVec
	DBConnections *prometheus.GaugeVec
}

// Init initializes the handlers with logger, metrics, and the billing
// services
func Init(log logging.Logger, bursarMetrics *BursarMetrics,
	creds *credentials.Store, repository *store.Repository, sync *syncer.Syncer,
	engine *reconcile.Engine, calculator *billingmetrics.Calculator) {
	logger = log
	metrics = bursarMetrics
	credsStore = creds
	repo = repository
	syncSvc = sync
	reconciler = engine
	calc = calculator
}
