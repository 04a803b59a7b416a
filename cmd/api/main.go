package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/peopledesk/ticketd/internal/api/http"
	"github.com/peopledesk/ticketd/internal/api/http/handlers"
	"github.com/peopledesk/ticketd/internal/auth"
	"github.com/peopledesk/ticketd/internal/chatcache"
	"github.com/peopledesk/ticketd/internal/config"
	"github.com/peopledesk/ticketd/internal/events"
	"github.com/peopledesk/ticketd/internal/observability"
	"github.com/peopledesk/ticketd/internal/persistence"
	"github.com/peopledesk/ticketd/internal/repository"
	"github.com/peopledesk/ticketd/internal/service"
	"github.com/peopledesk/ticketd/internal/worker"
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

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var (
		userRepo    repository.UserRepository
		ticketRepo  repository.TicketRepository
		messageRepo repository.MessageRepository
	)
	if pool := pg.PoolHandle(); pool != nil {
		userRepo = repository.NewUserRepository(pool)
		ticketRepo = repository.NewTicketRepository(pool)
		messageRepo = repository.NewMessageRepository(pool)
	} else {
		logger.Warn("running with in-memory stores; data will not survive restarts")
		store := repository.NewMemoryStore()
		userRepo = store.Users()
		ticketRepo = store.Tickets()
		messageRepo = store.Messages()
	}

	var chatStore chatcache.Store = chatcache.NewMemoryStore()
	if redis.Client != nil {
		chatStore = chatcache.NewRedisStore(redis.Client, cfg.Redis.ChatTTL)
	}

	var dispatcher events.Dispatcher = events.NewInMemoryDispatcher()
	if cfg.Kafka.Enabled() {
		sink := events.NewKafkaSink(cfg.Kafka, dispatcher, logger)
		defer sink.Close() //nolint:errcheck
		dispatcher = sink
	}

	metrics := observability.NewMetrics()

	authService := service.NewAuthService(*cfg, userRepo)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:  ticketRepo,
		MessageRepo: messageRepo,
		UserRepo:    userRepo,
		ChatCache:   chatStore,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	notificationService := service.NewNotificationService(dispatcher, logger)
	worker.StartNotificationWorker(notificationService)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AuthMiddleware: authMiddleware,
	})

	metricsSrv := metrics.Server(cfg.Metrics.Addr)
	go func() {
		logger.Info("metrics listening", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
	_ = metricsSrv.Shutdown(context.Background())
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
