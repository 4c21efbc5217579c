package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentraguard/internal/audit"
	"sentraguard/internal/auth"
	"sentraguard/internal/config"
	"sentraguard/internal/containment"
	"sentraguard/internal/db"
	"sentraguard/internal/engine"
	"sentraguard/internal/events"
	"sentraguard/internal/housekeeping"
	"sentraguard/internal/httpserver"
	"sentraguard/internal/incidents"
	"sentraguard/internal/logging"
	"sentraguard/internal/notify"
	"sentraguard/internal/release"
)

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	dbConn, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	if err := db.RunMigrations(ctx, dbConn, "sql"); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	operatorStore := auth.NewStore(dbConn)
	if err := operatorStore.SeedFromFile(ctx, cfg.OperatorsPath); err != nil {
		log.Fatalf("seed operators: %v", err)
	}
	authSvc := auth.NewService(operatorStore, cfg.JWTSecret)

	// Containment: consistency check first, then adopt surviving rows.
	containmentStore := containment.NewSQLStore(dbConn)
	controller := containment.NewController(containmentStore, cfg.ContainmentDuration(), logger)
	containment.NewConsistencyChecker(containmentStore, logger).Run(ctx, controller)
	if err := controller.LoadState(ctx); err != nil {
		log.Fatalf("load containment state: %v", err)
	}

	dispatcher := notify.NewDispatcher(
		cfg.NotificationWebhookURL,
		cfg.NotificationDedupe(),
		cfg.NotificationRetryMax,
		cfg.NotificationRetryBackoff(),
		logger,
	)

	incidentStore := incidents.NewSQLStore(dbConn)
	incidentJournal := audit.NewAppender(cfg.IncidentLogPath, 0, 0)
	manager := incidents.NewManager(
		incidentStore,
		incidentJournal,
		controller,
		dispatcher,
		cfg.AlertDedupeWindow(),
		cfg.IncidentThreshold,
		cfg.ContainmentEnabled,
		logger,
	)

	releaseStore := release.NewSQLStore(dbConn)
	auditJournal := audit.NewAppender(cfg.AuditLogPath, cfg.AuditJSONLMaxMB, cfg.AuditJSONLKeepFiles)
	authority := release.NewAuthority(release.Config{
		Token:          cfg.OperatorToken,
		PreviousToken:  cfg.OperatorTokenPrevious,
		ReplayWindow:   cfg.ReplayWindow(),
		RateLimitCount: cfg.ReleaseRateLimitCount,
		RateLimitSpan:  cfg.ReleaseRateLimitWindow(),
		FailThreshold:  cfg.AuthFailureThreshold,
		LockoutSpan:    cfg.AuthLockout(),
	}, releaseStore, controller, dispatcher, auditJournal, logger)

	window := events.NewWindow(cfg.CorrelationWindow(), cfg.IncidentThreshold)
	eng := engine.New(window, manager, controller, authority, incidentStore, releaseStore, cfg, logger)

	sweeper := housekeeping.New(
		releaseStore,
		auditJournal,
		cfg.HousekeepingInterval(),
		cfg.ReplayWindow(),
		cfg.ReleaseRateLimitWindow(),
		cfg.AuthLockout(),
		cfg.AuditRetention(),
		logger,
	)
	go sweeper.Run(ctx)

	handler := httpserver.NewRouter(logger, authSvc, eng, cfg.IngestToken)
	server := httpserver.New(cfg.HTTPAddr, handler, logger)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	stop()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
