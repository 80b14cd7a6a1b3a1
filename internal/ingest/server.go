// Package ingest accepts log events over HTTP and hands them to an EventSink.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Chichichkin/DynamoLogForwarder/internal/logging"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/batch"
	"github.com/Chichichkin/DynamoLogForwarder/internal/logging/jsonevent"
)

const defaultMaxBodyBytes = 4 << 20

type StatsProvider interface {
	Stats() batch.Stats
}

type Options struct {
	Listen       string
	MaxBodyBytes int64
}

type Server struct {
	opts     Options
	sink     logging.EventSink
	stats    StatsProvider
	diag     logging.Diagnostics
	router   *mux.Router
	httpSrv  *http.Server
	listener net.Listener
}

type IngestResponse struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

func NewServer(opts Options, sink logging.EventSink, stats StatsProvider, diag logging.Diagnostics) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	s := &Server{
		opts:  opts,
		sink:  sink,
		stats: stats,
		diag:  diag,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/events", s.ingestHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/stats", s.statsHandler).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }).Methods(http.MethodGet)
	s.router = r

	return s
}

func (s *Server) Router() *mux.Router {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return err
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.diag.Error("Ingest server stopped", "error", err)
		}
	}()

	s.diag.Info("Ingest server listening", "addr", ln.Addr().String())
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.opts.Listen
	}
	return s.listener.Addr().String()
}

func (s *Server) GracefulShutdownName() string {
	return "ingest-server"
}

func (s *Server) GracefulShutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, IngestResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, IngestResponse{Error: "failed to read body"})
		return
	}

	events, err := jsonevent.ParseBatch(body, time.Now().UTC())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, IngestResponse{Error: "invalid JSON: " + err.Error()})
		return
	}

	resp := IngestResponse{}
	var lastErr error
	for _, event := range events {
		if err := s.sink.Enqueue(event); err != nil {
			resp.Rejected++
			lastErr = err
			continue
		}
		resp.Accepted++
	}

	status := http.StatusAccepted
	if errors.Is(lastErr, logging.ErrStopped) && resp.Accepted == 0 {
		status = http.StatusServiceUnavailable
	}
	if lastErr != nil {
		resp.Error = lastErr.Error()
	}
	writeJSON(w, status, resp)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSON(w, http.StatusOK, batch.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
