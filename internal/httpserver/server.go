// Package httpserver implements the HTTP frontend: a thin
// JSON-over-HTTP translation layer in front of the PipelineManager,
// exposing the load/unload/run/healthz routes. Routing uses gorilla/mux
// rather than a bare http.ServeMux since the route set needs the
// method-specific registration the stdlib mux only grew in Go 1.22's
// pattern syntax.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/zhangcong2019/hsf-pipeline/internal/manager"
)

// Server is the HTTP frontend. One Server is wired to one
// *manager.Manager for the lifetime of the process.
type Server struct {
	addr string
	mgr  *manager.Manager

	server *http.Server
	log    *logrus.Entry

	lastHealthCheck int64 // atomic, snapshot of mgr.HealthCheck() as of the previous /healthz call
}

// NewServer constructs an HTTP frontend bound to addr.
func NewServer(addr string, mgr *manager.Manager) *Server {
	return &Server{addr: addr, mgr: mgr, log: logrus.WithField("component", "httpserver")}
}

// Start builds the route table and begins serving in a background
// goroutine.
func (s *Server) Start(ctx context.Context) error {
	r := mux.NewRouter()
	r.HandleFunc("/load_pipeline", s.handleLoadPipeline).Methods(http.MethodPost)
	r.HandleFunc("/unload_pipeline", s.handleUnloadPipeline).Methods(http.MethodPost)
	r.HandleFunc("/run", s.handleRun).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // /run holds the connection open until emitFinish
		IdleTimeout:  60 * time.Second,
	}

	s.log.WithField("addr", s.addr).Info("starting http frontend")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("http frontend error")
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, bounded by a 5s timeout.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("stopping http frontend")
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http frontend shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	current := s.mgr.HealthCheck()
	last := atomic.SwapInt64(&s.lastHealthCheck, current)
	if current > last {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
