package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aescanero/kanban-live/internal/application/hub"
	"github.com/aescanero/kanban-live/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server represents the HTTP API server
type Server struct {
	router *gin.Engine
	server *http.Server
	hub    *hub.Hub
	recent ports.RecentActivity
	logger *zap.Logger

	maxBroadcastBytes int64
	defaultLimit      int
}

// Config holds HTTP server configuration
type Config struct {
	Port   int
	Hub    *hub.Hub
	Recent ports.RecentActivity
	Logger *zap.Logger

	// MaxBroadcastBytes caps side-channel request bodies
	MaxBroadcastBytes int64
	// RecentLimit is the default and maximum page size for /api/v1/activity
	RecentLimit int
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:            router,
		hub:               cfg.Hub,
		recent:            cfg.Recent,
		logger:            cfg.Logger,
		maxBroadcastBytes: cfg.MaxBroadcastBytes,
		defaultLimit:      cfg.RecentLimit,
	}
	if s.maxBroadcastBytes <= 0 {
		s.maxBroadcastBytes = 1 << 16
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 20
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Relay side channel
	s.router.POST("/internal/broadcast", s.handleBroadcast)

	// API v1
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/activity", s.handleRecentActivity)
		v1.GET("/hub/stats", s.handleHubStats)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface {
	HandleConnect(*gin.Context)
}) {
	s.router.GET("/", handler.HandleConnect)
	s.router.GET("/ws", handler.HandleConnect)
}

// Handler returns the root handler, for embedding in tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
