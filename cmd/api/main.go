package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/ticketflow/internal/api/http"
	"github.com/spec-kit/ticketflow/internal/api/http/handlers"
	"github.com/spec-kit/ticketflow/internal/auth"
	"github.com/spec-kit/ticketflow/internal/config"
	"github.com/spec-kit/ticketflow/internal/events"
	"github.com/spec-kit/ticketflow/internal/lifecycle"
	"github.com/spec-kit/ticketflow/internal/observability"
	"github.com/spec-kit/ticketflow/internal/persistence"
	"github.com/spec-kit/ticketflow/internal/service"
	"github.com/spec-kit/ticketflow/internal/worker"
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

	rules, err := loadRules(cfg.Rules)
	if err != nil {
		logger.Fatal("failed to load transition rules", zap.Error(err))
	}

	store, pg, err := persistence.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer pg.Close()
	defer store.Close() //nolint:errcheck

	if err := persistence.SeedCatalog(ctx, cfg.Catalog, store, logger); err != nil {
		logger.Fatal("failed to seed catalog", zap.Error(err))
	}

	readiness := map[string]handlers.Pinger{"store": store}
	dispatcher := events.NewInMemoryDispatcher()
	var publisher *service.RedisPublisher
	if cfg.Redis.Enabled {
		redis := persistence.NewRedis(cfg.Redis, logger)
		defer redis.Close()
		readiness["redis"] = redis
		publisher = service.NewRedisPublisher(redis.Client, cfg.Redis.Channel, logger)
	}
	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(dispatcher, notifications, publisher)

	metrics := observability.NewMetrics()
	deps := service.Dependencies{
		Store:      store,
		Rules:      rules,
		Dispatcher: dispatcher,
		Logger:     logger,
		Metrics:    metrics,
	}
	aggregator := service.NewAggregator(deps)
	ticketService := service.NewTicketService(deps)
	lifecycleService := service.NewLifecycleService(deps, aggregator)
	allocationService := service.NewAllocationService(deps, aggregator)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTLMinutes)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, readiness),
		Tickets:        handlers.NewTicketsHandler(ticketService, lifecycleService, allocationService),
		Rules:          handlers.NewRulesHandler(ticketService),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
		Metrics:        metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func loadRules(cfg config.RulesConfig) (*lifecycle.Table, error) {
	if cfg.File == "" {
		return lifecycle.DefaultTable()
	}
	return lifecycle.LoadTableFile(cfg.File)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
