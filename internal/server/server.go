// Package server assembles the HTTP surface of the platform.
package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aurumvault/metalex_unified/internal/fiat"
	"github.com/aurumvault/metalex_unified/internal/positions"
	"github.com/aurumvault/metalex_unified/internal/reconcile"
)

// Server wraps the gin engine and its dependencies.
type Server struct {
	engine *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router: provider webhooks, the positions API, the
// operator surface, health, and metrics.
func NewServer(
	logger *zap.Logger,
	allowedOrigins []string,
	normalizer *reconcile.Normalizer,
	processor *reconcile.Processor,
	positionsSvc *positions.Service,
	unmatched *reconcile.UnmatchedLedger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	engine.Use(ginzap.RecoveryWithZap(logger, true))

	corsConfig := cors.DefaultConfig()
	if len(allowedOrigins) > 0 {
		corsConfig.AllowOrigins = allowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders,
		"X-User-ID", "X-KYC-Approved", "X-Trace-ID")
	engine.Use(cors.New(corsConfig))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	root := engine.Group("")
	fiat.Routes(root, normalizer, processor, logger)
	positions.Routes(root, positionsSvc, unmatched, logger)

	return &Server{engine: engine, logger: logger}
}

// Start runs the HTTP server on addr.
func (s *Server) Start(addr string) error {
	return s.engine.Run(addr)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}
