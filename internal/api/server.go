package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/masking"
	"github.com/raaihank/contract-sentinel/internal/store"
	"github.com/raaihank/contract-sentinel/internal/websocket"
	"github.com/raaihank/contract-sentinel/internal/workspace"
	"go.uber.org/zap"
)

// Version is reported by /info
const Version = "0.1.0"

// Dependencies are the services the API exposes. Hub and Cache are optional.
type Dependencies struct {
	Masker     *masking.Masker
	Rules      store.RuleStore
	Workspaces *workspace.Manager
	Hub        *websocket.Hub
	Cache      *cache.MaskingCache
	Provider   string
}

// Server is the HTTP API server
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	masker     *masking.Masker
	rules      store.RuleStore
	workspaces *workspace.Manager
	hub        *websocket.Hub
	cache      *cache.MaskingCache
	provider   string
	limiter    *RateLimiter
	router     *mux.Router
	server     *http.Server
	startedAt  time.Time
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) *Server {
	s := &Server{
		config:     cfg,
		logger:     log.WithComponent("api"),
		masker:     deps.Masker,
		rules:      deps.Rules,
		workspaces: deps.Workspaces,
		hub:        deps.Hub,
		cache:      deps.Cache,
		provider:   deps.Provider,
		limiter:    NewRateLimiter(cfg.Server.RequestsPerMinute),
		router:     mux.NewRouter(),
		startedAt:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.hub != nil && s.config.WebSocket.Enabled {
		path := s.config.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.NewRoute().Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/detectors", s.handleListDetectors).Methods(http.MethodGet)
	api.HandleFunc("/detectors/{id}", s.handleSetDetector).Methods(http.MethodPut)

	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	api.HandleFunc("/unmask", s.handleUnmask).Methods(http.MethodPost)

	api.HandleFunc("/reviews", s.handleListReviews).Methods(http.MethodGet)
	api.HandleFunc("/reviews", s.handleOpenReview).Methods(http.MethodPost)
	api.HandleFunc("/reviews/{id}", s.handleGetReview).Methods(http.MethodGet)
	api.HandleFunc("/reviews/{id}", s.handleCloseReview).Methods(http.MethodDelete)
	api.HandleFunc("/reviews/{id}/accept", s.handleAccept).Methods(http.MethodPost)
	api.HandleFunc("/reviews/{id}/ignore", s.handleIgnore).Methods(http.MethodPost)
	api.HandleFunc("/reviews/{id}/undo", s.handleUndo).Methods(http.MethodPost)
	api.HandleFunc("/reviews/{id}/navigate", s.handleNavigate).Methods(http.MethodPost)
	api.HandleFunc("/reviews/{id}/select", s.handleSelect).Methods(http.MethodPost)
	api.HandleFunc("/reviews/{id}/select-first", s.handleSelectFirst).Methods(http.MethodPost)
	api.HandleFunc("/reviews/{id}/save", s.handleSave).Methods(http.MethodPost)

	api.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/reopen", s.handleReopen).Methods(http.MethodPost)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting contract-sentinel API server",
		zap.Int("port", s.config.Server.Port),
		zap.String("analyzer_provider", s.provider),
		zap.Bool("websocket_enabled", s.hub != nil && s.config.WebSocket.Enabled),
		zap.Int("requests_per_minute", s.config.Server.RequestsPerMinute),
	)

	s.limiter.StartCleanupRoutine(context.Background())
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping contract-sentinel API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":              "contract-sentinel",
		"version":           Version,
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
		"analyzer_provider": s.provider,
		"open_reviews":      len(s.workspaces.OpenSessions()),
	}
	if s.masker != nil {
		info["enabled_detectors"] = s.masker.EnabledDetectors().IDs()
	}
	if s.hub != nil {
		info["websocket"] = s.hub.GetStats()
	}
	if s.cache != nil {
		if stats, err := s.cache.GetStats(r.Context()); err == nil {
			info["cache"] = stats
		} else {
			s.logger.Warn("Failed to read cache stats", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, info)
}
