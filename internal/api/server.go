// Package api is the RPC Surface: the translator between the wire
// protocol and the coordinator. It performs no replication logic of its
// own — every route either works on this node's local state directly
// (internal routes on the local store, admin routes on membership and
// the store) or delegates to the coordinator (client routes).
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ringkv/ringkv/internal/config"
	"github.com/ringkv/ringkv/internal/coordinator"
	"github.com/ringkv/ringkv/internal/membership"
	"github.com/ringkv/ringkv/internal/ring"
	"github.com/ringkv/ringkv/internal/store"
)

// Server represents the HTTP API server for a single node.
type Server struct {
	config      *config.Config
	router      *mux.Router
	httpServer  *http.Server
	store       *store.Store
	ring        *ring.Ring
	membership  *membership.Membership
	coordinator *coordinator.Coordinator
}

// NewServer creates a new API server wired to this node's collaborators.
func NewServer(cfg *config.Config, s *store.Store, r *ring.Ring, mem *membership.Membership, coord *coordinator.Coordinator) *Server {
	srv := &Server{
		config:      cfg,
		router:      mux.NewRouter(),
		store:       s,
		ring:        r,
		membership:  mem,
		coordinator: coord,
	}

	srv.setupRoutes()
	return srv
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Client routes
	s.router.HandleFunc("/keys/{key}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/keys/{key}", s.handlePut).Methods(http.MethodPut)
	s.router.HandleFunc("/keys/{key}", s.handleDelete).Methods(http.MethodDelete)

	// Peer-internal routes: local-only, never recurse into the coordinator.
	s.router.HandleFunc("/internal/store/{key}", s.handleInternalGet).Methods(http.MethodGet)
	s.router.HandleFunc("/internal/store/{key}", s.handleInternalPut).Methods(http.MethodPut)
	s.router.HandleFunc("/internal/delete/{key}", s.handleInternalDelete).Methods(http.MethodDelete)

	// Admin routes
	s.router.HandleFunc("/admin/join", s.handleJoin).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/notify_join", s.handleNotifyJoin).Methods(http.MethodPost)
	s.router.HandleFunc("/admin/peers", s.handlePeers).Methods(http.MethodGet)
	s.router.HandleFunc("/admin/status", s.handleStatus).Methods(http.MethodGet)
}

// Router exposes the mux router, for tests that serve it themselves.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Address(),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
