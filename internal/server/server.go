package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/straighten/internal/api"
	"github.com/jackzampolin/straighten/internal/config"
	"github.com/jackzampolin/straighten/internal/export"
	"github.com/jackzampolin/straighten/internal/home"
	"github.com/jackzampolin/straighten/internal/ingest"
	"github.com/jackzampolin/straighten/internal/providers"
	"github.com/jackzampolin/straighten/internal/server/endpoints"
	"github.com/jackzampolin/straighten/internal/session"
	"github.com/jackzampolin/straighten/internal/svcctx"
)

// Server is the main straighten HTTP server. Sessions live in memory and
// are dropped on shutdown.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	detectors  *providers.Holder
	sessions   *session.Service
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the data directory for uploads and exports
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support.
	// Defaults are used when nil.
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		h, err := home.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.Home = h
	}

	appCfg := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		appCfg = cfg.ConfigManager.Get()
	}

	// Detector holder, swapped on config reload
	detectors, err := NewDetectors(appCfg, cfg.Logger)
	if err != nil {
		return nil, err
	}

	sessions, err := NewSessionService(appCfg, detectors, cfg.Home.ExportsDir(), cfg.Logger)
	if err != nil {
		return nil, err
	}

	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			if err := detectors.Reload(c.ToDetectorConfig()); err != nil {
				cfg.Logger.Error("failed to reload detector", "error", err)
			}
			sessions.UpdateSettings(session.Settings{
				DPI:          c.Rasterizer.DPI,
				PaddingRatio: c.Pipeline.PaddingRatio,
				BatchSize:    c.Pipeline.BatchSize,
			})
			cfg.Logger.Info("pipeline settings reloaded from config")
		})
	}

	s := &Server{
		home:      cfg.Home,
		detectors: detectors,
		sessions:  sessions,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: endpoints.GetSwaggerSpecPath()}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  5 * time.Minute, // large PDF uploads
		WriteTimeout: 5 * time.Minute, // single-page rectify waits on the detector
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// NewDetectors builds the configured corner detector behind a reloadable holder.
func NewDetectors(c *config.Config, logger *slog.Logger) (*providers.Holder, error) {
	creds := providers.NewCredentials("")
	detector, err := providers.NewDetector(c.ToDetectorConfig(), creds, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	return providers.NewHolder(detector, creds, logger), nil
}

// NewSessionService wires the rasterizer, detector and exporters.
func NewSessionService(c *config.Config, detectors *providers.Holder, exportDir string, logger *slog.Logger) (*session.Service, error) {
	rasterizer, err := ingest.New(ingest.Config{
		Backend: c.Rasterizer.Backend,
		Workers: c.Rasterizer.Workers,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rasterizer: %w", err)
	}
	background, err := export.NewForegroundExtractor(c.Background.Backend, uint8(c.Background.Threshold))
	if err != nil {
		return nil, fmt.Errorf("failed to create background extractor: %w", err)
	}
	return session.NewService(session.Config{
		Rasterizer:   rasterizer,
		DPI:          c.Rasterizer.DPI,
		Detectors:    detectors,
		PaddingRatio: c.Pipeline.PaddingRatio,
		BatchSize:    c.Pipeline.BatchSize,
		Background:   background,
		Assembler:    export.NewAssembler(c.Export.JPEGQuality, logger),
		ExportDir:    exportDir,
		Logger:       logger,
	}), nil
}

// Start prepares the home directory and serves HTTP.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to create home directory: %w", err)
	}

	if s.configMgr != nil {
		s.configMgr.WatchConfig()
	}

	// Create services struct for context enrichment
	s.mu.Lock()
	s.services = &svcctx.Services{
		Sessions:      s.sessions,
		Detectors:     s.detectors,
		ConfigManager: s.configMgr,
		Logger:        s.logger,
		Home:          s.home,
	}
	s.mu.Unlock()

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr, "home", s.home.Path())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.mu.Lock()
	s.services = nil
	s.mu.Unlock()

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Sessions returns the session service.
func (s *Server) Sessions() *session.Service {
	return s.sessions
}

// Detectors returns the detector holder.
func (s *Server) Detectors() *providers.Holder {
	return s.detectors
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) currentServices() *svcctx.Services {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.services
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if services := s.currentServices(); services != nil {
			ctx = svcctx.WithServices(ctx, services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until Start has prepared the services.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.currentServices() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
