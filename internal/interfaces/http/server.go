// Package http is the gateway's front door: the canonical messages
// endpoint, the Responses-shape shim, health probes, metrics exposition,
// and the routing-decision debug view.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/application/usecase"
	"github.com/relaygate/relaygate/internal/domain/routing"
	"github.com/relaygate/relaygate/internal/infrastructure/metrics"
	"github.com/relaygate/relaygate/internal/interfaces/http/handlers"
)

// Server wraps the HTTP listener.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the listener.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// NewServer builds the router and handlers.
func NewServer(cfg Config, gw *usecase.Gateway, collector *metrics.Collector, decisions *routing.DecisionLog, primaryProvider string, logger *zap.Logger) *Server {
	if cfg.Mode == "release" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := buildRouter(gw, collector, decisions, primaryProvider, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// buildRouter registers every route on a fresh engine.
func buildRouter(gw *usecase.Gateway, collector *metrics.Collector, decisions *routing.DecisionLog, primaryProvider string, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	messages := handlers.NewMessagesHandler(gw, logger)
	health := handlers.NewHealthHandler(gw.HealthChecks, primaryProvider)
	debug := handlers.NewDebugHandler(decisions, collector)

	router.POST("/messages", messages.Messages)
	router.POST("/v1/messages", messages.Messages) // Anthropic SDK default path
	router.POST("/responses", messages.Responses)

	router.GET("/health/live", health.Live)
	router.GET("/health/ready", health.Ready)

	router.GET("/metrics", gin.WrapH(collector.Handler()))
	router.GET("/debug/decisions", debug.Decisions)
	router.GET("/debug/stats", debug.Stats)

	return router
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests and shuts down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
