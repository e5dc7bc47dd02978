package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/port"
)

// Config contains HTTP server configuration
type Config struct {
	BindAddr      string
	AdminUsername string
	AdminPassword string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		BindAddr:     "127.0.0.1:8090",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Server is the install status and control API
type Server struct {
	config         *Config
	runs           port.InstallRepository
	logger         *zap.Logger
	server         *http.Server
	installHandler *InstallHandler
	debugHandler   *DebugHandler
}

// New creates a new HTTP server. runs may be nil.
func New(cfg *Config, installs *InstallHandler, debug *DebugHandler, runs port.InstallRepository, logger *zap.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		config:         cfg,
		runs:           runs,
		logger:         logger,
		installHandler: installs,
		debugHandler:   debug,
	}

	s.server = &http.Server{
		Addr:         cfg.BindAddr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the routed handler with middleware applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", s.handleHealth)

	// Control endpoints need credentials when a password is configured
	control := func(h http.HandlerFunc) http.HandlerFunc { return h }
	if s.config.AdminPassword != "" {
		control = BasicAuthMiddleware(s.config.AdminUsername, s.config.AdminPassword, s.logger)
	}

	if s.installHandler != nil {
		mux.HandleFunc("GET /installs", s.installHandler.HandleList)
		mux.HandleFunc("GET /installs/{id}", s.installHandler.HandleGet)
		mux.HandleFunc("POST /installs", control(s.installHandler.HandleStart))
		mux.HandleFunc("POST /installs/{id}/{action}", control(s.installHandler.HandleControl))
	}

	if s.debugHandler != nil {
		mux.HandleFunc("GET /debug/stats", s.debugHandler.HandleStats)
		mux.HandleFunc("GET /debug/runs", s.debugHandler.HandleRuns)
	}

	return LoggingMiddleware(s.logger)(mux)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.runs != nil {
		if err := s.runs.Ping(); err != nil {
			s.logger.Error("health check failed", zap.Error(err))
			http.Error(w, "Database connection failed", http.StatusServiceUnavailable)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
