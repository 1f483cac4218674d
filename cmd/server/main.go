package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reservation-service/config"
	"reservation-service/internal/api"
	"reservation-service/internal/broker"
	"reservation-service/internal/kvstore"
	"reservation-service/internal/redisclient"
	"reservation-service/internal/service"
	"reservation-service/internal/store"
	"reservation-service/internal/util"
	"reservation-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting reservation service", zap.String("backend", cfg.Storage.Backend))

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
		if err != nil {
			logger.Fatal("Failed to initialize tracer", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	ctx := context.Background()

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	st, ready, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer st.Close()

	if kv, ok := st.(*kvstore.Store); ok {
		go runValueLogGC(workerCtx, kv, logger)
	}

	ledger := service.NewStockLedger(st)
	for itemID, stock := range cfg.Business.SeedItems {
		if err := ledger.Register(ctx, itemID, stock); err != nil {
			logger.Fatal("Failed to seed item", zap.String("item_id", itemID), zap.Error(err))
		}
	}

	reconcilerCfg := service.ReconcilerConfig{
		PropagationConcurrency: cfg.Business.PropagationConcurrency,
		LockTTL:                cfg.Business.CheckoutLockTTL,
		IdempotencyTTL:         cfg.Business.IdempotencyTTL,
		Locker:                 service.NewLocalLocker(),
	}

	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))

		reconcilerCfg.Locker = redisClient
		reconcilerCfg.Idempotency = redisClient
	}

	var publisher service.EventPublisher = service.NopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicInventory))
	}

	manager := service.NewReservationManager(st)
	reconciler := service.NewReconciler(st, ledger, publisher, reconcilerCfg)

	var propagationWorker *worker.PropagationWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicInventory, cfg.Kafka.ConsumerGroup)
		propagationWorker = worker.NewPropagationWorker(consumer, reconciler)
		go func() {
			if err := propagationWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Propagation worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(ledger, manager, reconciler)
	handler.AddReadinessCheck("store", ready)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient.Ping)
	}
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if propagationWorker != nil {
		_ = propagationWorker.Stop()
	}

	logger.Info("Server exited")
}

// openStore opens the configured backend and returns a readiness probe for it
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, api.ReadinessCheck, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		db, err := store.NewStore(cfg.Storage.DatabaseURL, cfg.Storage.MaxRetries)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.Migrate {
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		logger.Info("Database connected")
		return db, func(ctx context.Context) error { return db.GetDB().PingContext(ctx) }, nil

	default:
		kvCfg := kvstore.DefaultConfig(cfg.Storage.BadgerPath)
		kvCfg.MaxRetries = cfg.Storage.MaxRetries
		kvCfg.Logger = logger
		db, err := kvstore.Open(kvCfg)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Badger store opened", zap.String("path", cfg.Storage.BadgerPath))
		return db, db.Ping, nil
	}
}

// runValueLogGC reclaims badger value log space until ctx is done
func runValueLogGC(ctx context.Context, kv *kvstore.Store, logger *zap.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := kv.RunGC(0.5); err != nil {
				logger.Warn("Badger value log GC failed", zap.Error(err))
			}
		}
	}
}
