// pkg/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/scout-etl/edge-ingest/pkg/domain"
	"github.com/scout-etl/edge-ingest/pkg/monitor"
)

// Server exposes the operator API: health snapshots, an SSE stream of
// broadcast cycles, and operational prometheus metrics.
type Server struct {
	broadcaster *monitor.Broadcaster
	promHandler http.Handler
	logger      *zap.Logger
	httpServer  *http.Server
}

// New builds the server. promHandler may be nil to disable the
// prometheus endpoint.
func New(addr string, broadcaster *monitor.Broadcaster, promHandler http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		broadcaster: broadcaster,
		promHandler: promHandler,
		logger:      logger.Named("server"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table. Exposed separately for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/metrics", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/stream", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.promHandler != nil {
		r.Handle("/metrics/prometheus", s.promHandler).Methods(http.MethodGet)
	}
	return r
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("Operator API listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("operator api: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.broadcaster.Snapshot(r.Context())
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStream pushes each broadcast cycle as a server-sent event until
// the client disconnects or the broadcaster shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case m, open := <-sub:
			if !open {
				return
			}
			if err := writeEvent(w, m); err != nil {
				s.logger.Debug("SSE write failed, dropping client", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, m domain.PipelineMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: metrics\ndata: %s\n\n", data)
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
