package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/safar/restaurant-orders/internal/config"
	"github.com/safar/restaurant-orders/internal/database"
	"github.com/safar/restaurant-orders/internal/events"
	"github.com/safar/restaurant-orders/internal/handlers"
	"github.com/safar/restaurant-orders/internal/idempotency"
	"github.com/safar/restaurant-orders/internal/metrics"
	"github.com/safar/restaurant-orders/internal/observability"
	"github.com/safar/restaurant-orders/internal/ordering"
	"github.com/safar/restaurant-orders/internal/store"
	"github.com/safar/restaurant-orders/internal/sweeper"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("connected to database")

	serverMetrics := metrics.NewServerMetrics(nil)

	var publisher ordering.EventPublisher
	if cfg.RabbitMQ.Enabled() {
		p, err := events.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger.Named("events"))
		if err != nil {
			logger.Fatal("connect to rabbitmq", zap.Error(err))
		}
		defer p.Close()
		publisher = p
		logger.Info("publishing order events", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	var idem idempotency.Store = idempotency.NewMemoryStore()
	if cfg.Redis.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal("connect to redis", zap.Error(err))
		}
		idem = idempotency.NewRedisStore(client, "idempotency:")
		logger.Info("using redis idempotency store", zap.String("addr", cfg.Redis.Addr))
	}

	svc := ordering.NewService(ordering.ServiceDeps{
		Store:           store.NewTransactor(db, database.TxOptionsFromConfig(&cfg.Database)),
		Events:          publisher,
		Metrics:         serverMetrics,
		Logger:          logger.Named("ordering"),
		OrderNoAttempts: cfg.Orders.OrderNoAttempts,
	})

	router := handlers.NewRouter(handlers.RouterDeps{
		Service:        svc,
		Users:          store.NewUsers(db),
		DB:             db,
		Logger:         logger.Named("http"),
		Metrics:        serverMetrics,
		Idempotency:    idem,
		IdempotencyTTL: cfg.Redis.IdempotencyTTL,
		Timeout:        cfg.Server.WriteTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	sw := sweeper.New(svc, serverMetrics, sweeper.Config{
		PaymentTimeout: cfg.Orders.PaymentTimeout,
		Interval:       cfg.Orders.SweepInterval,
		BatchSize:      cfg.Orders.SweepBatchSize,
	}, logger.Named("sweeper"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		sw.Run(ctx)
	}()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout + time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	wg.Wait()
}
