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
	"github.com/rubickcz/smsgate/internal/infra/postgresql/migrations"
	infraredis "github.com/rubickcz/smsgate/internal/infra/redis"
	"github.com/rubickcz/smsgate/internal/observability"
	"github.com/rubickcz/smsgate/internal/queue"
	"github.com/rubickcz/smsgate/internal/ratelimit"
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

	logger, err := observability.NewLogger(cfg.LogLevel, "api")
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewOptionalRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}

	var limiter ratelimit.RateLimiter
	if rdb != nil {
		defer rdb.Close()
		redisLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.SMS.RateLimitPerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
		limiter = redisLimiter
	} else {
		logger.Warn("REDIS_URL is not set, dispatch runs without rate limiting")
	}

	registry, err := backend.NewRegistryFromConfig(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("backend registry initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	messages := repository.NewGormMessageRepo(db)
	templates := repository.NewGormTemplateRepo(db)
	dispatchLogs := repository.NewGormDispatchLogRepo(db)
	batches := repository.NewGormBatchRepo(db)

	dispatch, err := service.NewDispatchService(messages, batches, dispatchLogs, registry, limiter, service.Options{
		Debug:          cfg.SMS.Debug,
		AllowAccent:    cfg.SMS.AllowAccent,
		DefaultBackend: cfg.SMS.Backend,
		SendTimeout:    time.Duration(cfg.SMS.SendTimeoutSeconds) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal("dispatch service initialization failed", zap.Error(err))
	}
	dispatch.SetMetrics(metrics)

	templateSvc, err := service.NewTemplateService(templates, dispatch, nil, nil, logger)
	if err != nil {
		logger.Fatal("template service initialization failed", zap.Error(err))
	}

	var publisher queue.Publisher
	if cfg.RabbitMQURL != "" {
		mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
		if err != nil {
			logger.Fatal("rabbitmq initialization failed", zap.Error(err))
		}
		rabbitPublisher := queue.NewRabbitMQPublisher(mq)
		defer rabbitPublisher.Close() //nolint:errcheck
		publisher = rabbitPublisher
	} else {
		logger.Warn("RABBITMQ_URL is not set, async sends are disabled")
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	if err := handler.RegisterMessageRoutes(app, dispatch, publisher); err != nil {
		logger.Fatal("failed to register message routes", zap.Error(err))
	}
	if err := handler.RegisterTemplateRoutes(app, templateSvc); err != nil {
		logger.Fatal("failed to register template routes", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Error("api server stopped", zap.Error(err))
			stop()
		}
	}()
	logger.Info("smsgate api started",
		zap.Int("port", cfg.APIPort),
		zap.String("defaultBackend", cfg.SMS.Backend),
		zap.Bool("debug", cfg.SMS.Debug),
	)

	<-ctx.Done()

	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
