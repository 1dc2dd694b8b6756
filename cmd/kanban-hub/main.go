package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/kanban-live/internal/application/hub"
	"github.com/aescanero/kanban-live/internal/config"
	"github.com/aescanero/kanban-live/internal/logger"
	"github.com/aescanero/kanban-live/pkg/adapters/metrics/prometheus"
	redisstorage "github.com/aescanero/kanban-live/pkg/adapters/storage/redis"
	"github.com/aescanero/kanban-live/pkg/api/grpc"
	"github.com/aescanero/kanban-live/pkg/api/http"
	"github.com/aescanero/kanban-live/pkg/api/websocket"

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

	log := logger.New("kanban-hub", cfg.LogLevel)
	defer log.Sync()

	log.Info("starting kanban hub",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Recent activity is optional for live broadcast
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
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("Redis not reachable, recent activity will be unavailable until it is",
			zap.String("addr", cfg.Redis.Addr),
			zap.Error(err))
	} else {
		log.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}
	recent := redisstorage.NewRecentCache(redisClient, cfg.Redis.RecentKey, cfg.Redis.RecentLimit, log)

	metricsCollector := prometheus.NewCollector(nil)

	connectionHub := hub.New(cfg.Hub.SendBuffer, metricsCollector, log)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:              cfg.Hub.Port,
		Hub:               connectionHub,
		Recent:            recent,
		Logger:            log,
		MaxBroadcastBytes: cfg.Hub.MaxMessageBytes,
		RecentLimit:       cfg.Redis.RecentLimit,
	})

	wsHandler := websocket.NewHandler(connectionHub, websocket.Config{
		WriteTimeout:    cfg.Hub.WriteTimeout,
		PingInterval:    cfg.Hub.PingInterval,
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
		MessageRate:     cfg.Hub.MessageRate,
		MessageBurst:    cfg.Hub.MessageBurst,
	}, log)
	httpServer.SetupWebSocket(wsHandler)

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:   cfg.Hub.GRPCPort,
		Logger: log,
	})
	if err != nil {
		log.Fatal("failed to create gRPC server", zap.Error(err))
	}

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		if err := grpcServer.Start(); err != nil {
			log.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	log.Info("kanban hub started",
		zap.Int("port", cfg.Hub.Port),
		zap.Int("grpc_port", cfg.Hub.GRPCPort))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	grpcServer.SetServing(false)

	// Close peers first; upgraded connections are not tracked by http.Server
	connectionHub.Shutdown()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	if err := grpcServer.Shutdown(shutdownCtx); err != nil {
		log.Error("gRPC server shutdown error", zap.Error(err))
	}

	if err := redisClient.Close(); err != nil {
		log.Error("Redis close error", zap.Error(err))
	}

	log.Info("kanban hub shut down complete")
}
