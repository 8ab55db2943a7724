package main

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jafarshop/labconnect/internal/api"
	"github.com/jafarshop/labconnect/internal/breaker"
	"github.com/jafarshop/labconnect/internal/config"
	"github.com/jafarshop/labconnect/internal/credential"
	"github.com/jafarshop/labconnect/internal/events"
	"github.com/jafarshop/labconnect/internal/gateway"
	"github.com/jafarshop/labconnect/internal/partner"
	"github.com/jafarshop/labconnect/internal/queue"
	"github.com/jafarshop/labconnect/internal/repository"
	"github.com/jafarshop/labconnect/internal/repository/memory"
	"github.com/jafarshop/labconnect/internal/repository/postgres"
	rediscache "github.com/jafarshop/labconnect/internal/repository/redis"
	"github.com/jafarshop/labconnect/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "labconnect: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	repos, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	// Redis session cache (optional)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn("Redis not available, running without session cache", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			client.Close()
		} else {
			logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
			repos.Session = rediscache.NewSessionCache(client, repos.Session, logger)
			defer client.Close()
		}
		cancel()
	}

	// Order events
	var publisher events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		logger.Info("Publishing order events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	} else {
		publisher = events.NewLogPublisher(logger)
	}
	defer publisher.Close()

	// Partner admission: breaker, then the paced queue
	partnerBreaker := breaker.New(breaker.Config{
		Name:             "partner",
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout,
	}, logger)
	partnerQueue := queue.New(queue.Config{MinDelay: cfg.Queue.MinDelay}, logger)
	partnerQueue.Start()
	defer partnerQueue.Close()

	dispatcher := gateway.NewDispatcher(partnerBreaker, partnerQueue, cfg.Queue.MinDelay, logger)
	metrics, err := gateway.NewMetrics(otel.Meter("github.com/jafarshop/labconnect/gateway"), dispatcher)
	if err != nil {
		return fmt.Errorf("register partner metrics: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	// Credentials and gateway
	policy, err := credential.PolicyFromConfig(cfg.Credential)
	if err != nil {
		return err
	}
	client := partner.NewClient(cfg.Partner, logger)
	credentials := credential.NewManager(repos.Session, client, dispatcher, policy, cfg.Partner, logger)
	gw := gateway.New(dispatcher, credentials, logger)

	// Services
	orderService := service.NewOrderService(repos, gw, client, publisher, cfg.Sync, logger)
	syncService := service.NewSyncService(repos, gw, client, publisher, logger)
	catalogService := service.NewCatalogService(gw, client, logger)
	retryScheduler := service.NewRetryScheduler(repos.RetryTask, orderService, cfg.Sync, logger)
	syncLoop := service.NewSyncLoop(syncService, cfg.Sync, logger)

	router := api.NewRouter(cfg, api.Services{
		Operators:   repos.Operator,
		Credentials: credentials,
		Orders:      orderService,
		Sync:        syncService,
		Catalog:     catalogService,
		Partner:     gw,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		// Partner calls wait in the paced queue, so writes may take several MinDelay periods.
		WriteTimeout: cfg.Partner.Timeout + 4*cfg.Queue.MinDelay + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting server", zap.String("port", cfg.Port), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return retryScheduler.Run(gctx)
	})
	g.Go(func() error {
		return syncLoop.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Environment == "production" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repository.Repositories, func(), error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Warn("Using in-memory storage; orders and sessions are lost on restart")
		return memory.NewRepositories(), func() {}, nil
	}

	db, err := postgres.NewConnection(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("Database ready", zap.String("host", cfg.Database.Host), zap.String("name", cfg.Database.DBName))

	return postgres.NewRepositories(db, logger), closeDB(db, logger), nil
}

func closeDB(db *sql.DB, logger *zap.Logger) func() {
	return func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
}
