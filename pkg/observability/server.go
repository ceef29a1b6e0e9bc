// Package observability is the HTTP health/metrics/debug surface (§4.7):
// health check, Prometheus scrape endpoint, and two debug routes exposing
// the session table and the log ring buffer. It reads the core's state
// through narrow interfaces and never mutates it, per §6's "observability
// collaborator" contract.
//
// Grounded on the teacher's pkg/api/rest.Server (gorilla/mux router,
// promhttp.Handler mounted at /metrics, health check, JSON responders) and
// pkg/api/middleware.APIKeyAuth for the admin-token gate.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ble-mcp-test/bridge/pkg/logger"
	"github.com/ble-mcp-test/bridge/pkg/session"
)

// SessionLister is the read-only slice of sessionmgr.Manager this surface
// needs.
type SessionLister interface {
	Statuses() []session.Status
}

// Config configures the observability server.
type Config struct {
	Host       string
	Port       int
	AdminToken string
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 9090
	}
	return c
}

// Server is the observability HTTP surface.
type Server struct {
	cfg     Config
	sess    SessionLister
	logRing *LogRing
	log     *logger.Logger
	srv     *http.Server
	started time.Time
}

// New creates a Server. logRing may be nil if log buffering is disabled.
func New(cfg Config, sess SessionLister, logRing *LogRing, log *logger.Logger) *Server {
	return &Server{cfg: cfg.withDefaults(), sess: sess, logRing: logRing, log: log, started: time.Now()}
}

// Start begins listening.
func (s *Server) Start() error {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/debug/sessions", s.handleDebugSessions).Methods(http.MethodGet)
	r.HandleFunc("/debug/log", s.handleDebugLog).Methods(http.MethodGet)

	auth := newAdminAuth(s.cfg.AdminToken)
	r.Use(auth.handler)

	s.srv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: r,
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("observability server stopped", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.sess.Statuses())
}

func (s *Server) handleDebugLog(w http.ResponseWriter, r *http.Request) {
	if s.logRing == nil {
		respondJSON(w, http.StatusOK, []LogEntry{})
		return
	}
	respondJSON(w, http.StatusOK, s.logRing.Snapshot())
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
