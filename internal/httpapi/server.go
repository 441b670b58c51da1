// Package httpapi exposes the pipeline engine over HTTP. Every /api route
// requires a bearer JWT carrying the tenant and user; requests are rate
// limited per tenant.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fixaren/backoffice/internal/logging"
	"github.com/fixaren/backoffice/internal/metrics"
	"github.com/fixaren/backoffice/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Options configures the API server.
type Options struct {
	Service   *pipeline.Service
	JWTSecret string
	RateLimit float64 // requests per second per tenant; 0 disables limiting
	Burst     int
	Log       *zap.SugaredLogger
	Metrics   *metrics.Metrics
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
	// PollInterval is how often the activity stream checks for new entries.
	PollInterval time.Duration
}

// Server holds the gin router and its dependencies.
type Server struct {
	svc     *pipeline.Service
	router  *gin.Engine
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
	poll    time.Duration
}

// New builds the router. It does not start listening.
func New(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("httpapi: service is required")
	}
	if opts.JWTSecret == "" {
		return nil, fmt.Errorf("httpapi: jwt secret is required")
	}
	if opts.Log == nil {
		opts.Log = logging.Nop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		svc:     opts.Service,
		router:  router,
		log:     opts.Log,
		metrics: opts.Metrics,
		poll:    opts.PollInterval,
	}
	router.Use(s.logRequests())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))

	var limiter *tenantLimiter
	if opts.RateLimit > 0 {
		limiter = newTenantLimiter(opts.RateLimit, opts.Burst)
	}
	api := router.Group("/api", requireAuth(opts.JWTSecret), s.scopeLogger(), rateLimit(limiter))
	s.registerRoutes(api)
	return s, nil
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string, out io.Writer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if out != nil {
		fmt.Fprintf(out, "API listening on %s\n", addr)
	}
	s.log.Infow("http server starting", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

// logRequests logs and counts every request once it completes.
func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		s.metrics.ObserveRequest(c.Request.Method, route, strconv.Itoa(status))
		s.log.Debugw("request",
			"method", c.Request.Method,
			"path", route,
			"status", status,
			"latency", time.Since(start),
			"tenant", principal(c).TenantID,
		)
	}
}

// scopeLogger carries a logger tagged with the caller's session on the
// request context for the engine to use.
func (s *Server) scopeLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		log := s.log.With("tenant", p.TenantID, "user", p.UserID)
		c.Request = c.Request.WithContext(logging.WithLogger(c.Request.Context(), log))
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.svc.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		s.log.Warnw("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
