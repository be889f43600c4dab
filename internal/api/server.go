// Package api exposes the bridge's control surface: health, readiness,
// metrics, stats, and housekeeping. Thin wrappers over the engine's
// counters and control operations.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atxtak/cotbridge/internal/config"
	"github.com/atxtak/cotbridge/internal/engine"
	"github.com/atxtak/cotbridge/internal/poller"
	"github.com/atxtak/cotbridge/internal/sender"
	"github.com/atxtak/cotbridge/internal/store"
)

// Deps collects the collaborators the handlers read from. Nothing here is
// mutated by the API except through the engine's purge operation.
type Deps struct {
	Logger    *slog.Logger
	Engine    *engine.Engine
	Pollers   []*poller.Poller
	Sender    sender.Sender
	Store     store.Store
	Scheduler interface{ Running() bool }
	Config    *config.Config
}

// Server wraps the HTTP control-surface server and lifecycle helpers.
type Server struct {
	cfg        config.ServerConfig
	httpServer *http.Server
	deps       Deps
}

// NewServer builds the gin router and binds it to the configured address.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{cfg: cfg, deps: deps}

	router.GET("/", s.handleRoot)
	router.GET("/healthz", s.handleHealthz)
	router.GET("/ready", s.handleReady)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/stats", s.handleStats)
	router.POST("/cleanup", s.handleCleanup)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start serves requests until Shutdown is invoked.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
