package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/helpdesk-sla/internal/api/http"
	"github.com/spec-kit/helpdesk-sla/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk-sla/internal/auth"
	"github.com/spec-kit/helpdesk-sla/internal/config"
	"github.com/spec-kit/helpdesk-sla/internal/domain"
	"github.com/spec-kit/helpdesk-sla/internal/events"
	"github.com/spec-kit/helpdesk-sla/internal/lifecycle"
	"github.com/spec-kit/helpdesk-sla/internal/observability"
	"github.com/spec-kit/helpdesk-sla/internal/persistence"
	"github.com/spec-kit/helpdesk-sla/internal/repository"
	"github.com/spec-kit/helpdesk-sla/internal/scanner"
	"github.com/spec-kit/helpdesk-sla/internal/service"
	"github.com/spec-kit/helpdesk-sla/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()

	var (
		store       repository.Store
		riverClient *river.Client[pgx.Tx]
	)
	deps := map[string]handlers.Pinger{"redis": redis}
	if pool != nil {
		riverClient, err = worker.NewRiverClient(pool, dispatcher, logger, cfg.Worker.RiverMaxWorkers)
		if err != nil {
			logger.Fatal("failed to init river", zap.Error(err))
		}
		if err := riverClient.Start(ctx); err != nil {
			logger.Fatal("failed to start river", zap.Error(err))
		}
		store = repository.NewPostgresStore(pool, riverClient)
		deps["postgres"] = pg
	} else {
		logger.Warn("running with the in-memory store; data is lost on exit")
		store = repository.NewMemoryStore(dispatcher)
	}

	var seed []domain.SLAPolicy
	if cfg.SLA.PolicyFile != "" {
		seed, err = lifecycle.LoadPolicyFile(cfg.SLA.PolicyFile)
		if err != nil {
			logger.Fatal("failed to load sla policy file", zap.String("path", cfg.SLA.PolicyFile), zap.Error(err))
		}
	}
	policyService := service.NewPolicyService(service.PolicyDependencies{
		PolicyRepo: store.Policies(),
		UserRepo:   store.Users(),
		Cache:      redis,
		CacheTTL:   cfg.SLA.PolicyCacheTTL(),
		Seed:       seed,
		Logger:     logger,
	})
	if err := policyService.EnsureSeeded(ctx); err != nil {
		logger.Fatal("failed to seed sla policies", zap.Error(err))
	}

	vendorDay := cfg.SLA.VendorVisitWeekday
	ticketService := service.NewTicketService(service.TicketDependencies{
		Store:          store,
		Policies:       policyService,
		VendorVisitDay: vendorDay,
		Logger:         logger,
	})
	assignmentService := service.NewAssignmentService(service.AssignmentDependencies{
		Store:          store,
		Policies:       policyService,
		VendorVisitDay: vendorDay,
		Logger:         logger,
	})
	mergeService := service.NewMergeService(service.MergeDependencies{
		Store:          store,
		Policies:       policyService,
		VendorVisitDay: vendorDay,
		Logger:         logger,
	})
	bulkService, err := service.NewBulkService(service.BulkDependencies{
		Store:          store,
		Policies:       policyService,
		VendorVisitDay: vendorDay,
		Metrics:        metrics,
		Logger:         logger,
		Concurrency:    cfg.Worker.BulkConcurrency,
	})
	if err != nil {
		logger.Fatal("failed to init bulk pool", zap.Error(err))
	}
	defer bulkService.Close()

	service.NewNotificationService(dispatcher, logger, cfg.Notification).RegisterHandlers()

	slaScanner := scanner.New(scanner.Dependencies{Store: store, Logger: logger, Metrics: metrics})
	scheduler, err := worker.NewScanScheduler(worker.ScanSchedulerDependencies{
		Runner:   slaScanner,
		Locker:   redis,
		Schedule: cfg.SLA.ScanSchedule,
		LockTTL:  cfg.SLA.ScanLockTTL(),
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal("invalid sla scan schedule", zap.String("schedule", cfg.SLA.ScanSchedule), zap.Error(err))
	}
	scheduler.Start()

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTLMinutes)
	if pool == nil {
		bootstrapAdmin(ctx, store.Users(), tokens, logger)
	}

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, deps),
		Tickets:        handlers.NewTicketsHandler(ticketService, assignmentService),
		StaffTickets:   handlers.NewStaffTicketsHandler(bulkService, mergeService),
		Admin:          handlers.NewAdminHandler(policyService, scheduler),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Users()),
		Gatherer:       metrics.Registry(),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = app.ShutdownWithContext(shutdownCtx)
	scheduler.Stop(shutdownCtx)
	if riverClient != nil {
		if err := riverClient.Stop(shutdownCtx); err != nil {
			logger.Warn("river stop", zap.Error(err))
		}
	}
}

// bootstrapAdmin creates an administrator for the in-memory store, which
// otherwise starts without users, and logs a bearer token for it.
func bootstrapAdmin(ctx context.Context, users repository.UserRepository, tokens *auth.TokenManager, logger *zap.Logger) {
	admin := &domain.User{Name: "Administrator", Email: "admin@localhost", Role: domain.RoleAdmin, Active: true}
	if err := users.Create(ctx, admin); err != nil {
		logger.Fatal("failed to create bootstrap admin", zap.Error(err))
	}
	token, expires, err := tokens.GenerateToken(admin.ID)
	if err != nil {
		logger.Fatal("failed to issue bootstrap token", zap.Error(err))
	}
	logger.Info("bootstrap admin created",
		zap.String("user_id", admin.ID),
		zap.String("token", token),
		zap.Time("expires_at", expires))
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
