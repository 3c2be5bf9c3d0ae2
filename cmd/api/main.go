package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zapis/internal/api"
	"zapis/internal/config"
	"zapis/internal/database"
	"zapis/internal/domain"
	"zapis/internal/events"
	"zapis/internal/logging"
	"zapis/internal/metrics"
	"zapis/internal/mq"
	"zapis/internal/obs"
	"zapis/internal/payment"
	"zapis/internal/repository"
	"zapis/internal/service"
	"zapis/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	db, err := initDatabase(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	locker, wake := initCoordination(redisClient, &logger)

	bus := events.NewEventBus(&logger)
	publisher := initPublisher(cfg, bus, &logger)
	if publisher != nil {
		defer publisher.Close()
	}

	provider, err := initProvider(cfg)
	if err != nil {
		return err
	}

	grid, err := service.NewGrid(cfg.Calendar)
	if err != nil {
		return fmt.Errorf("slot grid: %w", err)
	}

	queue := worker.NewQueue(db, wake, worker.PolicyFromConfig(cfg.Notifications), cfg.Notifications.Lease, &logger)
	notifications := service.NewNotificationService(queue, cfg.Calendar.ReminderOffset, cfg.Calendar.ReviewOffset, &logger)
	slots := service.NewAvailabilityService(db, db, grid)
	promos := service.NewPromoService(db)
	bookings := service.NewBookingService(db, db, db, slots, locker, notifications, bus, service.BookingPolicy{
		CancellationWindow: cfg.Calendar.CancellationWindow,
		LockTTL:            cfg.Notifications.LockTTL,
	}, &logger)
	payments := service.NewPaymentService(db, promos, provider, db, notifications, bus, locker, cfg.Payment.CreditUnit(), &logger)

	grpcServer, err := api.NewGRPCServer(&cfg.API, slots, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}

	httpServer := api.NewHTTPServer(cfg.API, api.Services{
		Slots:    slots,
		Promo:    promos,
		Bookings: bookings,
		Payments: payments,
		Jobs:     queue,
		Webhooks: payment.NewVerifier(cfg.Payment.WebhookSecret, cfg.Payment.WebhookTolerance),
		Ready: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	}, &logger)

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

// initDatabase opens the database and syncs the service and promo catalog into it.
func initDatabase(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	catalogPath := os.Getenv("CATALOG_PATH")
	if catalogPath == "" {
		catalogPath = cfg.CatalogPath
	}
	if catalogPath == "" {
		catalogPath = "configs/catalog.yaml"
	}
	catalog, err := config.LoadCatalog(catalogPath, cfg.Payment.Currency)
	if err != nil {
		logger.Error().Err(err).Str("catalog_path", catalogPath).Msg("load catalog")
		return nil, err
	}

	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	if err := db.SyncServices(ctx, catalog.Services); err != nil {
		db.Close()
		return nil, fmt.Errorf("sync services: %w", err)
	}
	for i := range catalog.PromoCodes {
		if err := db.UpsertPromoCode(ctx, &catalog.PromoCodes[i]); err != nil {
			db.Close()
			return nil, fmt.Errorf("sync promo code %s: %w", catalog.PromoCodes[i].Code, err)
		}
	}
	logger.Info().
		Int("services", len(catalog.Services)).
		Int("promo_codes", len(catalog.PromoCodes)).
		Msg("catalog synced")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initCoordination prefers Redis and falls back to in-process structures.
func initCoordination(client *redis.Client, logger *zerolog.Logger) (domain.Locker, domain.JobQueue) {
	memLocker := repository.NewMemoryLocker()
	memQueue := repository.NewMemoryJobQueue()
	if client == nil {
		return memLocker, memQueue
	}
	return repository.NewFailoverLocker(repository.NewRedisLocker(client), memLocker, logger),
		repository.NewFailoverJobQueue(repository.NewRedisJobQueue(client), memQueue, logger)
}

func initPublisher(cfg *config.Config, bus *events.EventBus, logger *zerolog.Logger) *mq.Publisher {
	if !cfg.RabbitMQ.Enabled {
		return nil
	}
	pub, err := mq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.App.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq unavailable, events stay in-process")
		return nil
	}
	events.NewForwarder(pub, cfg.App.Name).Attach(bus)
	logger.Info().Str("exchange", cfg.RabbitMQ.Exchange).Msg("event forwarding enabled")
	return pub
}

func initProvider(cfg *config.Config) (domain.PaymentProvider, error) {
	switch cfg.Payment.Provider {
	case "omise":
		return payment.NewOmiseProvider(cfg.Payment.PublicKey, cfg.Payment.SecretKey, cfg.Payment.SourceType)
	case "memory":
		return payment.NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Payment.Provider)
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	if cfg.API.GRPC.Enabled {
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
