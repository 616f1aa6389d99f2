// Package serve exposes diff requests over HTTP as NDJSON event streams.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	holonlog "github.com/holon-run/xavier/pkg/log"
	"github.com/holon-run/xavier/pkg/session"
)

const (
	// DiffPath accepts diff requests.
	DiffPath = "/api/diff"
	// HealthPath reports liveness.
	HealthPath = "/health"

	contentTypeNDJSON = "application/x-ndjson"
	maxRequestBytes   = 1 << 20
	drainPollInterval = 100 * time.Millisecond
)

// Handler runs one diff request, emitting its events in order.
type Handler interface {
	Handle(ctx context.Context, req session.Request, emit session.Emit)
}

// Config configures the HTTP server.
type Config struct {
	Addr    string
	Handler Handler
	// ShutdownTimeout bounds the wait for idle connections on shutdown.
	// Diff requests still running after it are waited for regardless.
	// Defaults to 5s.
	ShutdownTimeout time.Duration
}

// Server serves the diff API.
type Server struct {
	server          *http.Server
	handler         Handler
	shutdownTimeout time.Duration
	now             func() time.Time
	active          atomic.Int64
}

// NewServer creates a server for cfg.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("request handler is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		handler:         cfg.Handler,
		shutdownTimeout: cfg.ShutdownTimeout,
		now:             time.Now,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(DiffPath, s.handleDiff)
	mux.HandleFunc(HealthPath, s.handleHealth)
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It does not return while a diff request is still running, so
// agent processes are never left behind.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	holonlog.Info("server listening", "addr", ln.Addr().String(), "path", DiffPath)

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server failed: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		holonlog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			holonlog.Warn("waiting for in-flight diff requests", "requests", s.active.Load(), "error", err)
			s.drain()
		}
		return nil
	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		return err
	}
}

// drain blocks until no diff request is running.
func (s *Server) drain() {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for s.active.Load() > 0 {
		<-ticker.C
	}
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req session.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		holonlog.Debug("rejected request body", "error", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", contentTypeNDJSON)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	s.active.Add(1)
	defer s.active.Add(-1)

	stream := NewStreamWriter(w)
	defer stream.Close()

	dropped := 0
	s.handler.Handle(r.Context(), req, func(e session.Event) {
		if err := stream.Write(e); err != nil {
			dropped++
		}
	})
	if dropped > 0 {
		holonlog.Warn("client went away before the stream ended", "dropped_events", dropped, "remote", r.RemoteAddr)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   s.now().UTC().Format(time.RFC3339Nano),
	})
}
