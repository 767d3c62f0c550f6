package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/zeroquant/zeroquant/internal/config"
)

// Server runs the HTTP/WebSocket API for the dashboard.
type Server struct {
	cfg      config.DashboardConfig
	provider MarketSnapshotProvider
	fullCfg  config.Config
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
	done     chan struct{}
}

// broadcastInterval is how often Start pushes a fresh snapshot to every
// connected WebSocket client between the per-connection snapshot
// HandleWebSocket already sends on connect.
const broadcastInterval = 5 * time.Second

// NewServer creates a new API server
func NewServer(
	cfg config.DashboardConfig,
	provider MarketSnapshotProvider,
	fullCfg config.Config,
	logger *slog.Logger,
) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, fullCfg, hub, logger)

	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	// Serve static files (web dashboard)
	mux.Handle("/", http.FileServer(http.Dir("web")))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		fullCfg:  fullCfg,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
		done:     make(chan struct{}),
	}
}

// Start starts the API server, the WebSocket hub, and the periodic
// snapshot broadcaster. Blocks until Stop is called.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.broadcastLoop()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server and the broadcast loop.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	close(s.done)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// broadcastLoop pushes a fresh snapshot to every connected client at
// broadcastInterval, so a dashboard left open keeps seeing live state
// between reconnects without the process needing a dedicated fill/order
// event bus.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.hub.BroadcastEvent(NewSnapshotEvent(BuildSnapshot(s.provider, s.fullCfg)))
		}
	}
}
