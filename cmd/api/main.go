package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sanosuguru/go-flight-booking/internal/api"
	"github.com/sanosuguru/go-flight-booking/internal/api/handler"
	"github.com/sanosuguru/go-flight-booking/internal/api/middleware"
	"github.com/sanosuguru/go-flight-booking/internal/application"
	"github.com/sanosuguru/go-flight-booking/internal/config"
	"github.com/sanosuguru/go-flight-booking/internal/infrastructure/kafka"
	mongoinfra "github.com/sanosuguru/go-flight-booking/internal/infrastructure/mongo"
	"github.com/sanosuguru/go-flight-booking/internal/infrastructure/postgres"
	redisinfra "github.com/sanosuguru/go-flight-booking/internal/infrastructure/redis"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/logger"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/metrics"
	"github.com/sanosuguru/go-flight-booking/internal/pkg/tracing"
	"github.com/sanosuguru/go-flight-booking/internal/worker"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.Load()
	log := logger.NewLogger(cfg.Env)
	defer logger.Sync(log)

	if err := run(cfg, log); err != nil {
		log.Error("サーバーが異常終了しました", zap.Error(err))
		logger.Sync(log)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, &cfg.Tracing, log)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("トレースのフラッシュに失敗", zap.Error(err))
		}
	}()

	// 在庫ストア
	db, err := postgres.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := postgres.RunMigrations(db.DB, cfg.Server.MigrationsPath, log); err != nil {
		return err
	}

	// 予約台帳
	mongoClient, err := mongoinfra.NewClient(ctx, &cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = mongoClient.Disconnect(dctx)
	}()
	ledger := mongoinfra.NewBookingLedger(mongoClient.Database(cfg.Mongo.Database), cfg.Mongo.Collection)
	if err := ledger.EnsureIndexes(ctx); err != nil {
		return err
	}

	redisClient, err := redisinfra.NewClient(&cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	publisher := kafka.NewEventPublisher(&cfg.Kafka, log)
	defer publisher.Close()

	m := metrics.New()

	flights := postgres.NewFlightRepository(db)
	airports := postgres.NewAirportRepository(db)
	tasks := postgres.NewReconciliationRepository(db)
	cache := redisinfra.NewAvailabilityCache(redisClient)
	locker := redisinfra.NewIdempotencyLocker(
		redisinfra.NewLockManager(redisClient),
		cfg.Coordinator.IdempotencyTTL, cfg.Coordinator.LockRetries, cfg.Coordinator.LockRetryDelay,
	)

	coordinator := application.NewBookingCoordinator(flights, ledger, log,
		application.WithIdempotencyLocker(locker),
		application.WithAvailabilityCache(cache),
		application.WithReconciliationQueue(tasks),
		application.WithEventPublisher(publisher),
		application.WithMetrics(m),
		application.WithRetryPolicy(application.RetryPolicy{
			MaxAttempts: cfg.Coordinator.MaxAttempts,
			BaseBackoff: cfg.Coordinator.BaseBackoff,
			MaxBackoff:  cfg.Coordinator.MaxBackoff,
		}),
		application.WithCallTimeout(cfg.Coordinator.CallTimeout),
	)
	aggregator := application.NewBookingAggregator(ledger, flights, log,
		application.WithAggregatorCallTimeout(cfg.Coordinator.CallTimeout))
	flightService := application.NewFlightService(flights, flights, cache, cfg.Coordinator.AvailabilityTTL, log)
	airportService := application.NewAirportService(airports)
	reconciler := application.NewReconciler(tasks, flights, postgres.NewTxManager(db), cache, log, m, cfg.Reconciler.MaxAttempts)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.NewHTTPErrorHandler(log)
	middleware.SetupMiddleware(e, log, m)

	metricsCfg := middleware.LoadMetricsConfig()
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.MetricsBasicAuth(metricsCfg))

	handler.RegisterRoutes(e.Group("/api", middleware.Identity(cfg.Auth.JWTSecret, log)), handler.Handlers{
		Health:  handler.NewHealthHandler(healthCheckers(db, mongoClient, redisClient)),
		Airport: handler.NewAirportHandler(airportService),
		Flight:  handler.NewFlightHandler(flightService),
		Booking: handler.NewBookingHandler(coordinator, aggregator),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("サーバーを起動します", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Reconciler.Enabled {
		w := worker.NewReconciliationWorker(reconciler, cfg.Reconciler.Interval, cfg.Reconciler.BatchSize, log)
		g.Go(func() error {
			w.Start(gctx)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("サーバーをシャットダウンしています")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("サーバーが正常にシャットダウンしました")
	return nil
}

func healthCheckers(db *sqlx.DB, mc *mongo.Client, rc *redis.Client) map[string]handler.Checker {
	return map[string]handler.Checker{
		"postgres": func(ctx context.Context) error { return postgres.Ping(ctx, db) },
		"mongo":    func(ctx context.Context) error { return mongoinfra.Ping(ctx, mc) },
		"redis":    func(ctx context.Context) error { return redisinfra.Ping(ctx, rc) },
	}
}
