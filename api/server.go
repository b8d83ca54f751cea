// Package api exposes the HTTP submission surface: email submission,
// queue inspection, a manual processing trigger, and a health probe.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/odiseohq/mailqd/core"
	"github.com/odiseohq/mailqd/limiter"
	"github.com/odiseohq/mailqd/store"
)

// Manual trigger bounds. Requests outside the range are clamped.
const (
	minProcessLimit = 1
	maxProcessLimit = 50
)

// Processor triggers delivery cycles and reports component health.
// *core.Dispatcher satisfies it.
type Processor interface {
	ProcessOnce(ctx context.Context, limit int) (int, error)
	Counters() core.Counters
	Health(ctx context.Context) core.HealthStatus
}

// Options configures the server.
type Options struct {
	Addr    string
	APIKey  string
	RunMode string // gin mode: debug, release, test
}

// Server is the HTTP API server.
type Server struct {
	store     store.Store
	processor Processor
	limiter   limiter.Limiter
	opts      Options
	engine    *gin.Engine
	srv       *http.Server
}

// NewServer wires the router. A nil limiter disables rate limiting and
// an empty APIKey disables authentication; both are meant for tests.
func NewServer(s store.Store, p Processor, l limiter.Limiter, opts Options) *Server {
	if opts.RunMode == "" {
		opts.RunMode = gin.ReleaseMode
	}
	gin.SetMode(opts.RunMode)

	srv := &Server{
		store:     s,
		processor: p,
		limiter:   l,
		opts:      opts,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	// Health stays outside auth and rate limiting so orchestrators can
	// probe without credentials.
	engine.GET("/health", srv.handleHealth)

	authed := engine.Group("/")
	if opts.APIKey != "" {
		authed.Use(srv.requireAPIKey())
	}
	if l != nil {
		authed.Use(srv.rateLimit())
	}

	authed.POST("/emails", srv.handleSubmit)
	authed.GET("/queue/status", srv.handleQueueStatus)
	authed.POST("/queue/process", srv.handleProcess)

	srv.engine = engine
	return srv
}

// Handler returns the underlying http.Handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving. Blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server listening", "addr", s.opts.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
