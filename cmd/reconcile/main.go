package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/rubickcz/smsgate/internal/backend"
	"github.com/rubickcz/smsgate/internal/config"
	"github.com/rubickcz/smsgate/internal/handler"
	"github.com/rubickcz/smsgate/internal/infra/postgresql"
	"github.com/rubickcz/smsgate/internal/observability"
	"github.com/rubickcz/smsgate/internal/repository"
	"github.com/rubickcz/smsgate/internal/service"
	"github.com/rubickcz/smsgate/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "reconcile")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	registry, err := backend.NewRegistryFromConfig(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("backend registry initialization failed", zap.Error(err))
	}

	messages := repository.NewGormMessageRepo(db)
	dispatchLogs := repository.NewGormDispatchLogRepo(db)

	metrics := observability.NewMetrics()

	reconciler, err := service.NewReconciler(messages, dispatchLogs, registry, cfg.Reconcile.ScanLimit, logger)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}
	reconciler.SetMetrics(metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Reconcile.IntervalSeconds > 0 {
		// Health and metrics endpoints for the loop mode; the one-shot
		// mode exits before anything could scrape them.
		app := fiber.New(fiber.Config{
			ErrorHandler: transport.ErrorHandler(logger),
		})
		handler.RegisterHealthRoutes(app, sqlDB, nil)
		app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

		go func() {
			if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
				logger.Error("reconciler http server stopped", zap.Error(err))
			}
		}()

		interval := time.Duration(cfg.Reconcile.IntervalSeconds) * time.Second
		logger.Info("smsgate reconciler started", zap.Duration("interval", interval))
		if err := reconciler.Start(ctx, interval); err != nil {
			logger.Fatal("reconciler stopped with error", zap.Error(err))
		}

		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
		return
	}

	report, err := reconciler.Run(ctx)
	if report != nil {
		logger.Info("reconciliation pass finished",
			zap.Int("scanned", report.Scanned),
			zap.Int("groups", report.Groups),
			zap.Int("updated", report.Updated),
			zap.Int("unchanged", report.Unchanged),
			zap.Int("failed", report.Failed),
		)
	}
	if err != nil {
		logger.Error("reconciliation pass had failures", zap.Error(err))
		logger.Sync() //nolint:errcheck
		os.Exit(1)
	}
}
