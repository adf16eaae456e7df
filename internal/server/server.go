// Package server wires capture, analysis and alerting behind the HTTP API.
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
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/scamshield/internal/alert"
	"github.com/mbd888/scamshield/internal/analysis"
	"github.com/mbd888/scamshield/internal/archive"
	"github.com/mbd888/scamshield/internal/capture"
	"github.com/mbd888/scamshield/internal/circuitbreaker"
	"github.com/mbd888/scamshield/internal/config"
	"github.com/mbd888/scamshield/internal/health"
	"github.com/mbd888/scamshield/internal/history"
	"github.com/mbd888/scamshield/internal/idgen"
	"github.com/mbd888/scamshield/internal/logging"
	"github.com/mbd888/scamshield/internal/metrics"
	"github.com/mbd888/scamshield/internal/ratelimit"
	"github.com/mbd888/scamshield/internal/realtime"
	"github.com/mbd888/scamshield/internal/risk"
	"github.com/mbd888/scamshield/internal/security"
	"github.com/mbd888/scamshield/internal/session"
	"github.com/mbd888/scamshield/internal/validation"
	"github.com/mbd888/scamshield/internal/webhooks"
)

const (
	defaultDrainDelay = 5 * time.Second
	dbStatsInterval   = 15 * time.Second
	version           = "0.1.0"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server owns the orchestrator and everything it depends on.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	recorder    session.Recorder
	analyzer    session.Analyzer
	client      *analysis.Client // nil when an analyzer is injected
	breaker     *circuitbreaker.Breaker
	chunkDevice *capture.ChunkDevice // nil with a command device
	audioIngest *realtime.AudioIngest

	orch     *session.Orchestrator
	history  *history.Store
	alerts   *alert.Dispatcher
	calls    archive.Store
	hub      *realtime.Hub
	webhooks *webhooks.Dispatcher
	notifier *webhooks.Notifier

	checks      *health.Registry
	rateLimiter *ratelimit.Limiter
	rateLimit   ratelimit.Config
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	drainDelay  time.Duration

	cancelRunCtx context.CancelFunc
	orchDone     chan struct{}

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

// WithRecorder replaces the capture pipeline built from config.
func WithRecorder(r session.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithAnalyzer replaces the analysis client built from config.
func WithAnalyzer(a session.Analyzer) Option {
	return func(s *Server) {
		s.analyzer = a
	}
}

// WithArchive replaces the call archive built from config.
func WithArchive(store archive.Store) Option {
	return func(s *Server) {
		s.calls = store
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// WithRateLimit overrides the per-client limit on /v1.
func WithRateLimit(cfg ratelimit.Config) Option {
	return func(s *Server) {
		s.rateLimit = cfg
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: defaultDrainDelay,
		rateLimit:  ratelimit.DefaultConfig(),
		orchDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	ctx := context.Background()

	if err := s.initAnalyzer(); err != nil {
		return nil, err
	}
	if err := s.initArchive(ctx); err != nil {
		return nil, err
	}
	s.initRecorder()

	// Realtime hub doubles as the session emitter and an alert notifier.
	s.hub = realtime.NewHub(s.logger)
	s.alerts = alert.NewDispatcher(s.hub)
	if cfg.AlertWebhookURL != "" {
		s.webhooks = webhooks.NewDispatcher(cfg.AlertWebhookURL, cfg.AlertWebhookSecret)
		s.notifier = webhooks.NewNotifier(s.webhooks, s.logger)
		s.alerts.AddNotifier(s.notifier)
		s.logger.Info("alert webhooks enabled", "url", maskURL(cfg.AlertWebhookURL))
	}

	s.history = history.NewStore(history.DefaultCapacity)
	orch, err := session.New(session.Deps{
		Recorder: s.recorder,
		Analyzer: s.analyzer,
		Backend:  cfg.DefaultBackend,
		History:  s.history,
		Alerts:   s.alerts,
		Archive:  s.calls,
		Emitter:  s.hub,
		Logger:   s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session orchestrator: %w", err)
	}
	s.orch = orch

	s.registerHealthChecks()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) initAnalyzer() error {
	if s.analyzer != nil {
		return nil
	}

	rules := risk.DefaultRules()
	if s.cfg.RulesFile != "" {
		loaded, err := risk.LoadRules(s.cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("failed to load rules: %w", err)
		}
		rules = loaded
		s.logger.Info("risk rules loaded", "file", s.cfg.RulesFile)
	}

	for _, target := range []string{s.cfg.AnalyzerURL, s.cfg.LLMBaseURL} {
		if target == "" {
			continue
		}
		if err := security.AnalyzerPolicy.Check(context.Background(), target); err != nil {
			return fmt.Errorf("analyzer endpoint %s: %w", maskURL(target), err)
		}
	}

	var backends []analysis.Backend
	if s.cfg.AnalyzerURL != "" {
		backends = append(backends, analysis.NewStructuredBackend(config.BackendStructured, s.cfg.AnalyzerURL, s.cfg.AnalyzerToken))
	}
	if s.cfg.LLMAPIKey != "" {
		mm, err := analysis.NewMultimodalBackend(analysis.MultimodalConfig{
			Name:    config.BackendMultimodal,
			APIKey:  s.cfg.LLMAPIKey,
			BaseURL: s.cfg.LLMBaseURL,
			Model:   s.cfg.LLMModel,
		})
		if err != nil {
			return fmt.Errorf("failed to create multimodal backend: %w", err)
		}
		backends = append(backends, mm)
	}

	s.breaker = circuitbreaker.New(s.cfg.BreakerThreshold, s.cfg.BreakerCooldown)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("analyzer circuit changed", "backend", key, "from", from.String(), "to", to.String())
	})

	s.client = analysis.NewClient(analysis.NewNormalizer(rules), backends...).WithBreaker(s.breaker)
	s.analyzer = s.client
	s.logger.Info("analysis backends configured", "backends", s.client.Backends(), "default", s.cfg.DefaultBackend)
	return nil
}

func (s *Server) initArchive(ctx context.Context) error {
	if s.calls != nil {
		return nil
	}
	if s.cfg.DatabaseURL == "" {
		s.calls = archive.NewMemoryStore()
		s.logger.Info("using in-memory call archive (data will not persist)")
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	store := archive.NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate call archive: %w", err)
	}

	s.db = db
	s.calls = store
	s.logger.Info("using PostgreSQL call archive", "url", maskURL(s.cfg.DatabaseURL))
	return nil
}

func (s *Server) initRecorder() {
	if s.recorder != nil {
		return
	}
	if len(s.cfg.CaptureCommand) > 0 {
		s.recorder = capture.NewPipeline(&capture.CommandDevice{Argv: s.cfg.CaptureCommand})
		s.logger.Info("capturing from command", "command", s.cfg.CaptureCommand[0])
		return
	}
	s.chunkDevice = capture.NewChunkDevice()
	s.audioIngest = realtime.NewAudioIngest(s.chunkDevice, s.logger)
	s.recorder = capture.NewPipeline(s.chunkDevice)
	s.logger.Info("capturing from websocket producers", "path", "/ws/audio")
}

func (s *Server) registerHealthChecks() {
	s.checks = health.NewRegistry()

	if s.client != nil {
		for _, name := range s.client.Backends() {
			s.checks.Register("analyzer:"+name, func(context.Context) health.Status {
				st := s.breaker.State(name)
				return health.Status{Healthy: st != circuitbreaker.StateOpen, Detail: "circuit " + st.String()}
			})
		}
	}
	if s.db != nil {
		s.checks.RegisterPing("archive", s.db.PingContext)
	}
	if s.chunkDevice != nil {
		// No producer is normal between calls, so this never fails the check.
		s.checks.Register("capture", func(context.Context) health.Status {
			return health.Status{Healthy: true, Detail: strconv.Itoa(s.chunkDevice.Producers()) + " audio producer(s)"}
		})
	}
	if s.webhooks != nil {
		s.checks.Register("alert_webhook", func(context.Context) health.Status {
			_, lastErr := s.webhooks.Status()
			return health.Status{Healthy: true, Detail: lastErr}
		})
	}
}

// maskURL hides the password in a DSN or URL for logging
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	u.RawQuery = ""
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
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
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.Request()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
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

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		case path == "/metrics" || path == "/health/live" || path == "/health/ready":
			logger.Debug("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", dashboardHandler)

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	if s.audioIngest != nil {
		s.router.GET("/ws/audio", func(c *gin.Context) {
			s.audioIngest.HandleWebSocket(c.Writer, c.Request)
		})
	}

	s.rateLimiter = ratelimit.New(s.rateLimit)
	v1 := s.router.Group("/v1")
	v1.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	v1.Use(s.rateLimiter.Middleware())
	v1.Use(security.NoStore())
	{
		v1.GET("/info", s.infoHandler)

		v1.GET("/session", s.getSession)
		v1.POST("/session/start", s.startSession)
		v1.POST("/session/stop", s.stopSession)
		v1.DELETE("/session", s.teardownSession)
		v1.PUT("/session/backend", s.selectBackend)

		v1.GET("/history", s.listHistory)
		v1.GET("/history/stats", s.historyStats)

		v1.GET("/alert", s.getAlert)
		v1.POST("/alert/dismiss", s.dismissAlert)
		v1.POST("/alert/review", s.reviewAlert)

		v1.GET("/calls", s.listCalls)
		v1.GET("/calls/:id", validation.IDParamMiddleware(idgen.PrefixCall), s.getCall)
	}
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, statuses := s.checks.CheckAll(c.Request.Context())

	status, code := "healthy", http.StatusOK
	if !ok {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    statuses,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	var backends []string
	if s.client != nil {
		backends = s.client.Backends()
	}
	source := "command"
	if s.chunkDevice != nil {
		source = "websocket"
	}
	c.JSON(http.StatusOK, gin.H{
		"name":            "scamshield",
		"version":         version,
		"backends":        backends,
		"default_backend": s.cfg.DefaultBackend,
		"capture":         source,
		"history_size":    s.history.Capacity(),
		"archive":         s.db != nil,
		"alert_webhook":   s.webhooks != nil,
		"realtime":        s.hub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the background workers without the HTTP listener.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.hub.Run(runCtx)
	go func() {
		defer close(s.orchDone)
		s.orch.Run(runCtx)
	}()
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

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
		s.logger.Info("starting server", "port", s.cfg.Port, "backend", s.orch.Backend())
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.ready.Store(true)
	s.logger.Info("server ready")

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

// Shutdown gracefully stops the server. Any live session is torn down, and
// pending archive writes and webhook deliveries finish first.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	var shutdownErr error
	if s.httpSrv != nil {
		time.Sleep(s.drainDelay)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
		<-s.orchDone
		s.logger.Info("session orchestrator stopped")
	}
	if s.notifier != nil {
		s.notifier.Wait()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Orchestrator exposes the session orchestrator.
func (s *Server) Orchestrator() *session.Orchestrator {
	return s.orch
}
