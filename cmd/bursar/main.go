package main

import (
	"context"
	"time"

	"bursar/internal/credentials"
	"bursar/internal/handlers"
	billingmetrics "bursar/internal/metrics"
	"bursar/internal/reconcile"
	"bursar/internal/store"
	"bursar/internal/stripeclient"
	"bursar/internal/syncer"
	"bursar/pkg/auth"
	"bursar/pkg/config"
	"bursar/pkg/database"
	"bursar/pkg/logging"
	"bursar/pkg/monitoring"
	"bursar/pkg/server"
	"bursar/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("bursar")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Bursar (Billing Sync API)")

	dbURL := config.RequireEnv("DATABASE_URL")
	jwtSecret := config.RequireEnv("JWT_SECRET")
	tokenKey := config.RequireEnv("TOKEN_ENCRYPTION_KEY")
	oauthClientSecret := config.GetEnv("STRIPE_CLIENT_SECRET", "")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.EnsureSchema(db, logger); err != nil {
		logger.WithError(err).Fatal("Schema migration failed")
	}

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("bursar", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("bursar", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":         dbURL,
		"JWT_SECRET":           jwtSecret,
		"TOKEN_ENCRYPTION_KEY": tokenKey,
	}))

	// Create custom billing sync metrics
	metrics := &handlers.BursarMetrics{
		SyncRuns:      metricsCollector.NewCounter("sync_runs_total", "Sync runs by outcome", []string{"tenant_id", "status"}),
		SyncedObjects: metricsCollector.NewCounter("synced_objects_total", "Provider objects processed", []string{"kind", "action"}),
		ReconcileRuns: metricsCollector.NewCounter("reconcile_runs_total", "Reconciliation passes", []string{"tenant_id", "status"}),
		WebhookEvents: metricsCollector.NewCounter("webhook_events_total", "Provider webhook events", []string{"event_type", "status"}),
		MetricQueries: metricsCollector.NewCounter("metric_queries_total", "Revenue metric queries", []string{"metric"}),
	}

	// Create database metrics
	metrics.DBQueries, metrics.DBDuration, metrics.DBConnections = metricsCollector.CreateDatabaseMetrics()

	// Wire the billing services
	credsStore, err := credentials.NewStore(db, []byte(tokenKey), oauthClientSecret, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize credential store")
	}
	repo := store.NewRepository(db, logger)

	newProvider := func(apiKey string) syncer.Provider {
		return stripeclient.New(apiKey, logger)
	}
	buffer := time.Duration(config.GetEnvInt("SYNC_BUFFER_SECONDS", 300)) * time.Second
	syncSvc := syncer.New(credsStore, repo, newProvider, buffer, logger)

	reconciler := reconcile.NewEngine(repo, logger)
	grace := time.Duration(config.GetEnvInt("CHURN_GRACE_DAYS", 30)) * 24 * time.Hour
	calculator := billingmetrics.NewCalculator(repo, grace, logger)

	// Initialize handlers
	handlers.Init(logger, metrics, credsStore, repo, syncSvc, reconciler, calculator)

	// Start the background sync loop
	jobManager := handlers.NewJobManager(credsStore, syncSvc, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobManager.Start(ctx)
	defer jobManager.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "bursar", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/billing/ prefix)
	{
		// Authentication required endpoints
		protected := router.Group("")
		protected.Use(auth.JWTAuthMiddleware([]byte(jwtSecret)))
		{
			// Provider connection
			protected.POST("/billing/connect", handlers.ConnectStripe)
			protected.DELETE("/billing/connect", handlers.DisconnectStripe)
			protected.GET("/billing/connection", handlers.GetConnectionStatus)

			// Sync and reconciliation
			protected.POST("/billing/sync", handlers.TriggerSync)
			protected.POST("/billing/reconcile", handlers.RunReconcile)

			// Synced data
			protected.GET("/billing/payments", handlers.GetPayments)
			protected.DELETE("/billing/payments/:payment_id", handlers.DeletePayment)
			protected.GET("/billing/clients", handlers.GetClients)

			// Revenue analytics
			protected.GET("/billing/metrics/mrr", handlers.GetMRR)
			protected.GET("/billing/metrics/timeline", handlers.GetRevenueTimeline)
			protected.GET("/billing/metrics/churn", handlers.GetChurn)
			protected.GET("/billing/metrics/top-clients", handlers.GetTopClients)
			protected.GET("/billing/metrics/summary", handlers.GetRevenueSummary)
		}

		// Webhook endpoint (signature-verified, no auth required)
		router.POST("/webhooks/stripe", handlers.HandleStripeWebhook)
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("bursar", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
