package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"zapis/internal/config"
	"zapis/internal/database"
	"zapis/internal/domain"
	"zapis/internal/export"
	"zapis/internal/google"
	"zapis/internal/logging"
	"zapis/internal/metrics"
	"zapis/internal/notify"
	"zapis/internal/obs"
	"zapis/internal/repository"
	"zapis/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	exportDir := flag.String("export-failed", "", "write failed jobs to an xlsx file in this directory and exit")
	exportLimit := flag.Int("export-limit", 500, "maximum number of failed jobs to export")
	flag.Parse()

	if err := run(*exportDir, *exportLimit); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(exportDir string, exportLimit int) error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	wake := initWakeQueue(ctx, cfg, &logger)
	queue := worker.NewQueue(db, wake, worker.PolicyFromConfig(cfg.Notifications), cfg.Notifications.Lease, &logger)

	if exportDir != "" {
		path, err := export.FailedJobsToFile(ctx, queue, exportLimit, exportDir, time.Now())
		if err != nil {
			return fmt.Errorf("export failed jobs: %w", err)
		}
		logger.Info().Str("path", path).Msg("failed jobs exported")
		return nil
	}

	shutdownTracer, err := obs.InitTracer(ctx, cfg.Tracing, cfg.App)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	loc, err := cfg.Calendar.Location()
	if err != nil {
		return err
	}
	sender, err := initSender(cfg, &logger)
	if err != nil {
		return err
	}
	dispatcher := worker.NewDispatcher(db, db, db, notify.NewRenderer(loc), sender, initCalendar(ctx, cfg, loc, &logger), &logger)
	jobs := worker.NewJobWorker(queue, dispatcher, cfg.Notifications.PollInterval, cfg.Notifications.BatchSize, &logger)

	maintenance := worker.NewMaintenance(queue, &logger)
	if cfg.Backup.Enabled {
		backup := database.NewBackupService(db, cfg.Backup, &logger)
		if err := maintenance.AddBackup(cfg.Backup.Schedule, backup.Run); err != nil {
			return err
		}
	}
	if err := maintenance.Start(); err != nil {
		return err
	}
	defer maintenance.Stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	jobs.Start(ctx)
	logger.Info().Msg("worker stopped")
	return nil
}

func initWakeQueue(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.JobQueue {
	memQueue := repository.NewMemoryJobQueue()
	if cfg.Redis.Address == "" {
		return memQueue
	}
	client := repository.NewRedisClient(cfg.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, polling the database only")
		_ = client.Close()
		return memQueue
	}
	return repository.NewFailoverJobQueue(repository.NewRedisJobQueue(client), memQueue, logger)
}

// initSender routes to Telegram when a bot token is configured and logs otherwise.
func initSender(cfg *config.Config, logger *zerolog.Logger) (domain.Sender, error) {
	bot, err := notify.NewBotAPI(cfg.Telegram)
	if err != nil {
		return nil, err
	}
	var telegram domain.Sender
	if bot != nil {
		telegram = notify.NewTelegramSender(bot)
		logger.Info().Str("bot", bot.Self.UserName).Msg("telegram delivery enabled")
	}
	return notify.NewRouter(telegram, notify.NewLogSender(logger)), nil
}

func initCalendar(ctx context.Context, cfg *config.Config, loc *time.Location, logger *zerolog.Logger) domain.CalendarClient {
	if cfg.Google.CredentialsFile == "" || cfg.Google.CalendarID == "" {
		return nil
	}
	cal, err := google.NewCalendarService(ctx, cfg.Google.CredentialsFile, cfg.Google.CalendarID, loc)
	if err != nil {
		logger.Warn().Err(err).Msg("google calendar init failed, calendar jobs will be skipped")
		return nil
	}
	logger.Info().Msg("google calendar connected")
	return cal
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
