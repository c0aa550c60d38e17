package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/assemblyline/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
)

// Config contains admin server configuration
type Config struct {
	Addr           string
	RateLimit      RateLimitConfig
	AllowedOrigins []string
	Development    bool
}

// DefaultConfig returns the default admin server configuration
func DefaultConfig() Config {
	return Config{
		Addr:      ":9090",
		RateLimit: DefaultRateLimitConfig(),
	}
}

// Server exposes a coordinator over HTTP
type Server struct {
	router      *gin.Engine
	coordinator *pipeline.Coordinator
	hub         *Hub
	tracer      *tracing.Tracer
	logger      *zap.Logger
	config      Config

	mu         sync.Mutex
	httpServer *http.Server
	closed     bool
}

// NewServer creates a server for coordinator and subscribes its event hub
// to worker failures.
func NewServer(coordinator *pipeline.Coordinator, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("admin")
	metrics := coordinator.Metrics()

	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	tracer := tracing.New("admin", logger)

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(CORS(cfg.AllowedOrigins))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(RateLimit(cfg.RateLimit))
	}

	hub := NewHub(coordinator.RunID(), cfg.AllowedOrigins, logger, metrics)
	coordinator.OnFailure(hub.Publish)

	handlers := NewHandlers(coordinator)

	router.GET("/health", handlers.Health)
	router.GET("/status", handlers.Status)
	router.GET("/report", handlers.Report)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.GET("/events", hub.HandleConnection)

	return &Server{
		router:      router,
		coordinator: coordinator,
		hub:         hub,
		tracer:      tracer,
		logger:      logger,
		config:      cfg,
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the failure event hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ln.Close()
	}
	s.httpServer = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting admin server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("admin server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Close(shutdownCtx)
}

// Close disconnects event subscribers and shuts the HTTP server down
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Shutting down admin server...")
	s.hub.Close()
	defer s.tracer.Close()

	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to shut down admin server: %w", err)
	}
	return nil
}
