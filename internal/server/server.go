// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/nexshop/nexid/internal/auth"
	"github.com/nexshop/nexid/internal/circuitbreaker"
	"github.com/nexshop/nexid/internal/config"
	"github.com/nexshop/nexid/internal/events"
	"github.com/nexshop/nexid/internal/health"
	"github.com/nexshop/nexid/internal/idgen"
	"github.com/nexshop/nexid/internal/jobs"
	"github.com/nexshop/nexid/internal/lists"
	"github.com/nexshop/nexid/internal/logging"
	"github.com/nexshop/nexid/internal/metrics"
	"github.com/nexshop/nexid/internal/ratelimit"
	"github.com/nexshop/nexid/internal/realtime"
	"github.com/nexshop/nexid/internal/results"
	"github.com/nexshop/nexid/internal/retry"
	"github.com/nexshop/nexid/internal/risk"
	"github.com/nexshop/nexid/internal/security"
	"github.com/nexshop/nexid/internal/validation"
	"github.com/nexshop/nexid/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg        *config.Config
	lists      *risk.ListSet
	engine     *risk.Engine
	store      *results.MemoryStore
	sweeper    *results.Sweeper
	dispatcher *jobs.Dispatcher
	limiter    ratelimit.Limiter
	memLimiter *ratelimit.MemoryLimiter // nil when Redis backs the limiter
	authz      *auth.Authorizer
	hub        *realtime.Hub
	events     *events.Fanout
	extraSinks []events.Sink
	health     *health.Registry
	db         *sql.DB       // nil unless lists come from Postgres
	redis      *redis.Client // nil unless REDIS_URL is set
	router     *gin.Engine
	httpSrv    *http.Server
	logger     *slog.Logger
	drainDelay time.Duration

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLists uses a prebuilt list set instead of loading the configured
// sources (for testing).
func WithLists(ls *risk.ListSet) Option {
	return func(s *Server) {
		s.lists = ls
	}
}

// WithLimiter replaces the configured rate limiter.
func WithLimiter(l ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = l
	}
}

// WithEventSink adds a decision event sink.
func WithEventSink(sink events.Sink) Option {
	return func(s *Server) {
		s.extraSinks = append(s.extraSinks, sink)
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.IsProduction() {
		s.drainDelay = 5 * time.Second
	}

	ctx := context.Background()

	if s.lists == nil {
		if err := s.loadLists(ctx); err != nil {
			s.closeResources()
			return nil, err
		}
	}

	s.engine = risk.NewEngine(s.lists).
		WithSensitivity(cfg.Sensitivity).
		WithReviewMinScore(cfg.ReviewMinScore)

	s.store = results.NewMemoryStore(cfg.ResultTTL)
	if cfg.ResultTTL > 0 {
		s.sweeper = results.NewSweeper(s.store, cfg.ResultSweepInterval, s.logger)
		s.logger.Info("result retention enabled", "ttl", cfg.ResultTTL.String())
	}

	s.authz = auth.New(cfg.APIKey, cfg.AllowedOrigins)
	s.logger.Info("API authentication enabled",
		"api_key", cfg.APIKey != "",
		"allowed_origins", len(cfg.AllowedOrigins),
	)

	// Decision events: realtime stream always, Kafka when configured
	s.hub = realtime.NewHub(s.logger, s.authz.OriginAllowed)
	s.events = events.NewFanout(s.logger, s.hub)
	if len(cfg.KafkaBrokers) > 0 {
		k, err := events.NewKafka(events.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, s.logger)
		if err != nil {
			s.closeResources()
			return nil, fmt.Errorf("failed to create kafka sink: %w", err)
		}
		s.events.Add(k)
		s.logger.Info("kafka decision events enabled", "topic", cfg.KafkaTopic)
	}
	for _, sink := range s.extraSinks {
		s.events.Add(sink)
	}

	jobOpts := []jobs.Option{jobs.WithPublisher(s.events)}
	if cfg.CallbackURL != "" {
		validate := security.ValidateCallbackURL
		if cfg.IsProduction() {
			validate = security.ValidateEndpointURL
		}
		hookCfg := webhooks.Config{
			URL:      cfg.CallbackURL,
			Secret:   cfg.CallbackSecret,
			Timeout:  cfg.CallbackTimeout,
			Validate: validate,
		}
		if cfg.CallbackBreakerThreshold > 0 {
			hookCfg.Breaker = circuitbreaker.New(cfg.CallbackBreakerThreshold, cfg.CallbackBreakerCooldown, s.logger)
		}
		sender, err := webhooks.NewSender(hookCfg, s.logger)
		if err != nil {
			s.closeResources()
			return nil, err
		}
		jobOpts = append(jobOpts, jobs.WithDeliverer(sender))
		s.logger.Info("decision callbacks enabled", "url", maskURL(cfg.CallbackURL))
	}
	s.dispatcher = jobs.New(jobs.Config{
		Delay:   cfg.AsyncDelay,
		Workers: cfg.JobWorkers,
	}, s.engine, s.store, s.logger, jobOpts...)

	if s.limiter == nil {
		if err := s.setupLimiter(ctx); err != nil {
			s.closeResources()
			return nil, err
		}
	}

	s.setupHealth()

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func (s *Server) loadLists(ctx context.Context) error {
	sources := []lists.Source{lists.FromConfig(s.cfg)}
	if s.cfg.ListsFile != "" {
		sources = append(sources, lists.NewFile(s.cfg.ListsFile))
	}
	if s.cfg.DatabaseURL != "" {
		db, err := lists.OpenDB(ctx, s.cfg.DatabaseURL, s.logger)
		if err != nil {
			return err
		}
		s.db = db
		s.logger.Info("using PostgreSQL list source", "url", maskURL(s.cfg.DatabaseURL))
		sources = append(sources, lists.NewPostgres(db, s.logger))
	}

	set, err := lists.Build(ctx, s.logger, sources...)
	if err != nil {
		return err
	}
	s.lists = set
	return nil
}

func (s *Server) setupLimiter(ctx context.Context) error {
	rlCfg := ratelimit.Config{
		Window: s.cfg.RateLimitWindow,
		Max:    s.cfg.RateLimitMax,
	}

	if s.cfg.RedisURL == "" {
		s.memLimiter = ratelimit.NewMemory(rlCfg)
		s.limiter = s.memLimiter
		s.logger.Info("rate limiting enabled (in-memory)",
			"window", rlCfg.Window.String(), "max", rlCfg.Max)
		return nil
	}

	opts, err := redis.ParseURL(s.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	err = retry.Do(ctx, retry.DefaultPolicy("redis", s.logger), func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	s.redis = client
	s.limiter = ratelimit.NewRedis(client, rlCfg)
	s.logger.Info("rate limiting enabled (redis)",
		"addr", opts.Addr, "window", rlCfg.Window.String(), "max", rlCfg.Max)
	return nil
}

func (s *Server) setupHealth() {
	s.health = health.NewRegistry()
	s.health.Register("lists", func(context.Context) health.Status {
		c := s.lists.Counts()
		return health.Status{
			Healthy: true,
			Detail: fmt.Sprintf("trusted=%d blocked=%d",
				c["trusted_ip"]+c["trusted_email"]+c["trusted_user"],
				c["blocked_ip"]+c["blocked_email"]+c["blocked_user"]),
		}
	})
	s.health.Register("jobs", func(context.Context) health.Status {
		return health.Status{
			Healthy: s.dispatcher.Running(),
			Detail:  fmt.Sprintf("inflight=%d", s.dispatcher.Inflight()),
		}
	})
	s.health.Register("results", func(context.Context) health.Status {
		return health.Status{Healthy: true, Detail: fmt.Sprintf("stored=%d", s.store.Len())}
	})
	if s.db != nil {
		s.health.Register("postgres", health.Ping("postgres", s.db.PingContext))
	}
	if s.redis != nil {
		s.health.Register("redis", health.Ping("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
	}
}

// maskURL hides the password in a connection string or URL for logging
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), 64)
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", security.CallerIP(c.Request),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	identity := s.router.Group("/identity")
	identity.Use(auth.RequireAuth(s.authz))
	{
		identity.POST("/verify",
			ratelimit.Middleware(s.limiter, security.ClientKey, s.logger),
			s.verifyHandler,
		)
		identity.GET("/result/:id", s.resultHandler)
		identity.GET("/stream", s.streamHandler)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.startBackground(runCtx)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// startBackground launches the hub, dispatcher, sweeper and runtime
// collector. The dispatcher is given a context that outlives ctx so queued
// jobs can drain during shutdown.
func (s *Server) startBackground(ctx context.Context) {
	go s.hub.Run(ctx)
	go s.dispatcher.Start(context.WithoutCancel(ctx))
	if s.sweeper != nil {
		go s.sweeper.Start(ctx)
	}
	go metrics.StartRuntimeCollector(ctx, s.db, 15*time.Second)
}

// Shutdown gracefully stops the server. Pending async jobs are drained
// before the dispatcher stops so every issued request id gets a result.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if err := s.dispatcher.Drain(ctx); err != nil {
		s.logger.Error("async jobs not drained", "error", err)
	} else {
		s.logger.Info("async jobs drained")
	}
	s.dispatcher.Stop()

	// Cancel the context for all background goroutines (hub, sweeper, collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	if s.sweeper != nil {
		s.sweeper.Stop()
	}

	s.closeResources()
	s.logger.Info("server stopped")
	return shutdownErr
}

// closeResources releases connections and flushes event sinks. Safe to call
// on a partially constructed server.
func (s *Server) closeResources() {
	if s.memLimiter != nil {
		s.memLimiter.Stop()
	}
	if s.events != nil {
		if err := s.events.Close(); err != nil {
			s.logger.Error("event sink close error", "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	return idgen.Hex(16)
}
