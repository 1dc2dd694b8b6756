package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aescanero/kanban-live/internal/application/relay"
	"github.com/aescanero/kanban-live/internal/config"
	"github.com/aescanero/kanban-live/internal/logger"
	"github.com/aescanero/kanban-live/pkg/adapters/events/amqp"
	"github.com/aescanero/kanban-live/pkg/adapters/events/zapwatermill"
	"github.com/aescanero/kanban-live/pkg/adapters/metrics/prometheus"
	notifyhttp "github.com/aescanero/kanban-live/pkg/adapters/notify/http"
	redisstorage "github.com/aescanero/kanban-live/pkg/adapters/storage/redis"
	"github.com/aescanero/kanban-live/pkg/adapters/storage/sqlstore"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("kanban-relay", cfg.LogLevel)
	defer log.Sync()

	log.Info("starting kanban relay",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	ctx := context.Background()
	wmLogger := zapwatermill.New(log)

	// Activity log
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Dialect:         sqlstore.Dialect(cfg.Database.Driver),
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		log.Fatal("failed to open activity log", zap.Error(err))
	}
	log.Info("activity log ready", zap.String("driver", cfg.Database.Driver))

	// Broker
	settings := amqp.Settings{
		URI:         cfg.GetAMQPURI(),
		Exchange:    cfg.Broker.Exchange,
		Queue:       cfg.Broker.Queue,
		ConsumerTag: cfg.Relay.ConsumerTag,
	}
	conn, err := amqp.Connect(settings, wmLogger)
	if err != nil {
		log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
	}
	subscriber, err := amqp.NewSubscriber(settings, conn, wmLogger)
	if err != nil {
		log.Fatal("failed to create subscriber", zap.Error(err))
	}
	log.Info("connected to RabbitMQ",
		zap.String("host", cfg.Broker.Host),
		zap.String("exchange", cfg.Broker.Exchange),
		zap.String("queue", cfg.Broker.Queue))

	// Recent activity cache
	redisClient := redisstorage.NewClient(redisstorage.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("Redis not reachable, recent activity cache writes will fail",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
	}
	recent := redisstorage.NewRecentCache(redisClient, cfg.Redis.RecentKey, cfg.Redis.RecentLimit, log)

	// Side channel to the hub
	notifier, err := notifyhttp.NewNotifier(cfg.GetHubBroadcastURL(), cfg.Relay.PushTimeout, wmLogger)
	if err != nil {
		log.Fatal("failed to create hub notifier", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector(nil)

	worker := relay.New(
		relay.Config{
			Topic:          cfg.Broker.Exchange,
			PushTimeout:    cfg.Relay.PushTimeout,
			HealthInterval: cfg.Relay.HealthInterval,
			RecentLimit:    cfg.Redis.RecentLimit,
		},
		subscriber,
		store,
		recent,
		notifier,
		metricsCollector,
		log,
	)
	if err := worker.Start(ctx); err != nil {
		log.Fatal("failed to start relay", zap.Error(err))
	}

	var metricsServer *nethttp.Server
	if cfg.Relay.MetricsPort > 0 {
		metricsServer = newMetricsServer(cfg.GetRelayMetricsAddr(), worker)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != nethttp.ErrServerClosed {
				log.Fatal("metrics server failed", zap.Error(err))
			}
		}()
	}

	log.Info("kanban relay started",
		zap.String("hub_url", cfg.GetHubBroadcastURL()),
		zap.Int("metrics_port", cfg.Relay.MetricsPort))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := worker.Shutdown(shutdownCtx); err != nil {
		log.Error("relay shutdown error", zap.Error(err))
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown error", zap.Error(err))
		}
	}

	if err := subscriber.Close(); err != nil {
		log.Error("subscriber close error", zap.Error(err))
	}

	if err := conn.Close(); err != nil {
		log.Error("RabbitMQ close error", zap.Error(err))
	}

	if err := notifier.Close(); err != nil {
		log.Error("hub notifier close error", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		log.Error("activity log close error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		log.Error("Redis close error", zap.Error(err))
	}

	log.Info("kanban relay shut down complete")
}

// newMetricsServer serves relay health and Prometheus metrics
func newMetricsServer(addr string, worker *relay.Relay) *nethttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		status := worker.Health().GetStatus()
		code := nethttp.StatusOK
		if !status.Healthy {
			code = nethttp.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status.Status,
			"healthy":   status.Healthy,
			"persisted": status.Persisted,
			"requeued":  status.Requeued,
			"dropped":   status.Dropped,
			"timestamp": status.Timestamp.UTC().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &nethttp.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
