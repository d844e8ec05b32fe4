// Package api serves the zone shadow state and the zone light-service entry
// points over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/alxld/new-zone-light/internal/history"
	"github.com/alxld/new-zone-light/internal/shadowstate"
	"github.com/alxld/new-zone-light/internal/zone"
)

// ZoneRunner executes work on a zone's owning goroutine
type ZoneRunner interface {
	Do(ctx context.Context, fn func(*zone.Arbitrator) error) error
}

// ZoneLookup finds the runner of a zone by name
type ZoneLookup func(name string) (ZoneRunner, bool)

// HistoryReader reads recorded transitions
type HistoryReader interface {
	Recent(zoneName string, limit int) ([]history.Entry, error)
}

// Server provides HTTP API endpoints for the zone light service
type Server struct {
	tracker *shadowstate.Tracker
	zones   ZoneLookup
	history HistoryReader
	logger  *zap.Logger
	router  *mux.Router
	server  *http.Server
}

// NewServer creates a new API server. hist may be nil when history is disabled.
func NewServer(tracker *shadowstate.Tracker, zones ZoneLookup, hist HistoryReader, logger *zap.Logger, port int) *Server {
	s := &Server{
		tracker: tracker,
		zones:   zones,
		history: hist,
		logger:  logger.Named("api"),
	}

	r := mux.NewRouter()
	r.Use(s.logging)
	r.Use(s.recovery)

	r.HandleFunc("/", s.handleSitemap).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/zones", s.handleListZones).Methods(http.MethodGet)
	api.HandleFunc("/zones/{name}", s.handleGetZone).Methods(http.MethodGet)
	api.HandleFunc("/zones/{name}/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/zones/{name}/turn_on", s.handleTurnOn).Methods(http.MethodPost)
	api.HandleFunc("/zones/{name}/turn_off", s.handleTurnOff).Methods(http.MethodPost)
	api.HandleFunc("/zones/{name}/mode", s.handleMode).Methods(http.MethodPost)

	s.router = r
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
