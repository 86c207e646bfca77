// Package server exposes the scan engine over HTTP: a synchronous scan
// endpoint, health and info endpoints, and the WebSocket event feed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wardenlabs/llm-warden/internal/cache"
	"github.com/wardenlabs/llm-warden/internal/config"
	"github.com/wardenlabs/llm-warden/internal/events"
	"github.com/wardenlabs/llm-warden/internal/logger"
	"github.com/wardenlabs/llm-warden/internal/rules"
	"github.com/wardenlabs/llm-warden/internal/scan"
)

// Server represents the main scan API server
type Server struct {
	config       *config.Config
	logger       *logger.Logger
	engine       *scan.Engine
	verdicts     *cache.VerdictCache // nil when caching is disabled
	rulesVersion string
	router       *mux.Router
	server       *http.Server
	hub          *events.Hub
	limiter      *rateLimiter
	startedAt    time.Time
}

// New creates a new server instance. verdicts may be nil.
func New(cfg *config.Config, engine *scan.Engine, verdicts *cache.VerdictCache, log *logger.Logger) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	hub := events.NewHub(&events.HubConfig{
		BroadcastVerdicts:    cfg.WebSocket.Events.BroadcastVerdicts,
		BroadcastDetections:  cfg.WebSocket.Events.BroadcastDetections,
		BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		Username:             cfg.WebSocket.Username,
		Password:             cfg.WebSocket.Password,
	}, log.WithComponent("events").Logger)

	router := mux.NewRouter()

	server := &Server{
		config:       cfg,
		logger:       log.WithComponent("server"),
		engine:       engine,
		verdicts:     verdicts,
		rulesVersion: rules.PackVersion(engine.Rules()),
		router:       router,
		hub:          hub,
		limiter:      newRateLimiter(cfg.RateLimit),
		startedAt:    time.Now(),
	}

	// Setup routes
	server.setupRoutes()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// WebSocket event feed
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	// Scan API
	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/scan", s.handleScan).Methods("POST")
	api.HandleFunc("/rules", s.handleRules).Methods("GET")
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting LLM-Warden scan server",
		zap.Int("port", s.config.Server.Port),
		zap.Int("active_rules", len(s.engine.Rules())),
		zap.String("rules_version", s.rulesVersion),
		zap.Bool("verdict_cache", s.verdicts != nil),
	)

	// Start event hub in a separate goroutine
	go s.hub.Run()
	go s.limiter.runCleanup()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping LLM-Warden scan server")
	s.limiter.stop()
	return s.server.Shutdown(ctx)
}

// handleWebSocket handles WebSocket connections for the event feed
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.HandleWebSocket(w, r)
}

// GetEventHub returns the event hub for broadcasting
func (s *Server) GetEventHub() *events.Hub {
	return s.hub
}
