// Package health serves liveness, readiness and prometheus metrics over HTTP.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Check reports whether one part of the bridge is ready.
type Check func() bool

type Server struct {
	server  *http.Server
	started time.Time

	mu     sync.RWMutex
	checks map[string]Check
}

type statusResponse struct {
	Status string          `json:"status"`
	Uptime string          `json:"uptime,omitempty"`
	Checks map[string]bool `json:"checks,omitempty"`
}

func NewServer(host string, port int) *Server {
	s := &Server{
		started: time.Now(),
		checks:  make(map[string]Check),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              net.JoinHostPort(host, fmt.Sprint(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// RegisterCheck adds a named readiness check. /ready is 200 only when all
// registered checks pass.
func (s *Server) RegisterCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

func (s *Server) Handler() http.Handler { return s.server.Handler }

func (s *Server) Addr() string { return s.server.Addr }

// Start blocks serving until Stop is called, then returns
// http.ErrServerClosed.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	results := make(map[string]bool, len(names))
	ready := true
	for _, name := range names {
		ok := s.checks[name]()
		results[name] = ok
		ready = ready && ok
	}
	s.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "not ready", Checks: results})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ready", Checks: results})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
