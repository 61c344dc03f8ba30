// Package server wires every Lumenguard subsystem behind one HTTP surface.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
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
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/lumenguard/lumenguard/internal/blacklist"
	"github.com/lumenguard/lumenguard/internal/circuitbreaker"
	"github.com/lumenguard/lumenguard/internal/community"
	"github.com/lumenguard/lumenguard/internal/config"
	"github.com/lumenguard/lumenguard/internal/health"
	"github.com/lumenguard/lumenguard/internal/horizon"
	"github.com/lumenguard/lumenguard/internal/logging"
	"github.com/lumenguard/lumenguard/internal/metrics"
	"github.com/lumenguard/lumenguard/internal/portfolio"
	"github.com/lumenguard/lumenguard/internal/preview"
	"github.com/lumenguard/lumenguard/internal/ratelimit"
	"github.com/lumenguard/lumenguard/internal/realtime"
	"github.com/lumenguard/lumenguard/internal/risk"
	"github.com/lumenguard/lumenguard/internal/security"
	"github.com/lumenguard/lumenguard/internal/stellartoml"
	"github.com/lumenguard/lumenguard/internal/traces"
	"github.com/lumenguard/lumenguard/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	horizon      *horizon.Client
	engine       *risk.Engine
	riskStore    risk.Store
	blacklistSvc *blacklist.Service
	communitySvc *community.Service
	scanner      *portfolio.Scanner
	previewer    *preview.Previewer
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTraces   func(context.Context) error

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

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		communityStore community.Store
		blacklistStore blacklist.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db

		ctx := context.Background()
		riskStore := risk.NewPostgresStore(db)
		if err := riskStore.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate risk store: %w", err)
		}
		pgCommunity := community.NewPostgresStore(db)
		if err := pgCommunity.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate community store: %w", err)
		}
		pgBlacklist := blacklist.NewPostgresStore(db)
		if err := pgBlacklist.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate blacklist store: %w", err)
		}

		s.riskStore = riskStore
		communityStore = pgCommunity
		blacklistStore = pgBlacklist
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.riskStore = risk.NewMemoryStore()
		communityStore = community.NewMemoryStore()
		blacklistStore = blacklist.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Realtime threat feed
	s.realtimeHub = realtime.NewHub(s.logger)

	// Blacklist and community services
	s.blacklistSvc = blacklist.NewService(blacklistStore)
	s.communitySvc = community.NewService(communityStore,
		community.WithBlacklist(s.blacklistSvc),
		community.WithLogger(s.logger),
		community.WithReportHook(func(r *community.Report) {
			s.realtimeHub.BroadcastReport(r.Subject, r.ClaimType, r.RequiresManualReview)
		}),
	)

	// Ledger signal providers
	s.horizon = horizon.New(cfg.HorizonURL)
	ledgerReader := &ledgerAdapter{client: s.horizon}
	tomlVerifier := stellartoml.New()

	// Risk engine over the full provider set
	s.engine = risk.NewEngine(risk.Providers{
		Ledger:        ledgerReader,
		TOML:          tomlVerifier,
		Blacklist:     &blacklistAdapter{svc: s.blacklistSvc},
		Reports:       &reportsAdapter{svc: s.communitySvc},
		Verifications: &verificationAdapter{store: communityStore},
	},
		risk.WithStore(s.riskStore),
		risk.WithLogger(s.logger),
		risk.WithTimeouts(cfg.SignalTimeout, cfg.AnalysisTimeout),
		risk.WithLargeTransferThreshold(cfg.LargeTransferThreshold),
		risk.WithMaxOperations(cfg.MaxOperations),
		risk.WithAssessmentHook(func(a *risk.RiskAssessment) {
			s.realtimeHub.BroadcastAssessment(a.Subject, string(a.SubjectType), a.Score, string(a.Level))
		}),
	)

	s.scanner = portfolio.NewScanner(s.engine, ledgerReader, cfg.PortfolioConcurrency, s.logger)
	s.previewer = preview.NewPreviewer(ledgerReader, cfg.BaseFee, cfg.BaseReserve)

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("horizon", func(ctx context.Context) health.Status {
		st := health.Status{Name: "horizon", Healthy: true}
		if s.horizon.BreakerState("accounts") == circuitbreaker.StateOpen {
			st.Healthy = false
			st.Detail = "circuit open"
		}
		return st
	})
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			if err := s.db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}

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

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (wallets and browser extensions call this API cross-origin)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
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

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.healthHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket threat feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	api := s.router.Group("/api/v1")

	risk.NewHandler(s.engine, s.riskStore, s.cfg.Network).RegisterRoutes(api)
	portfolio.NewHandler(s.scanner).RegisterRoutes(api)
	preview.NewHandler(s.previewer).RegisterRoutes(api)
	community.NewHandler(s.communitySvc, s.cfg.AdminSecret).RegisterRoutes(api)
	blacklist.NewHandler(s.blacklistSvc, s.cfg.AdminSecret, func(e *blacklist.Entry) {
		s.realtimeHub.BroadcastBlacklistAdded(e.Subject, e.Reason, e.Source)
	}).RegisterRoutes(api)
}

// -----------------------------------------------------------------------------
// Health handlers
// -----------------------------------------------------------------------------

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !healthy || !s.healthy.Load() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy": healthy && s.healthy.Load(),
		"checks":  statuses,
	})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op without an endpoint)
	stop, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing init failed, continuing without traces", "error", err)
	} else {
		s.stopTraces = stop
	}

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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"horizon", s.cfg.HorizonURL,
			"network", s.cfg.Network,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Sample DB pool stats into gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Flush traces
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
