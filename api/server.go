// Package api exposes the control plane over HTTP: ingest endpoints
// for executor rollups, read endpoints for snapshots and budgets, a
// Prometheus scrape surface, and an SSE bridge onto the stream hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ftahirops/qplane/control"
	"github.com/ftahirops/qplane/model"
)

// Server wires the HTTP surface onto a running control plane.
type Server struct {
	rt      *control.Runtime
	metrics *Metrics
	srv     *http.Server
}

// NewServer builds the server around an already constructed runtime.
// The caller owns the runtime's lifecycle; the server only reads from
// and ingests into it.
func NewServer(rt *control.Runtime, addr string) *Server {
	s := &Server{
		rt:      rt,
		metrics: NewMetrics(),
	}
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		// No WriteTimeout: the SSE stream holds its connection open
		// for the life of the client.
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler assembles the router. Exposed separately so tests can drive
// the mux through httptest without binding a socket.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.measure)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	// Custom registry keeps the scrape surface to qplane_* series
	// instead of whatever the process default accumulates.
	promHandler := promhttp.HandlerFor(s.metrics.Gatherer(), promhttp.HandlerOpts{})
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		s.metrics.Observe(s.rt.Snapshot())
		promHandler.ServeHTTP(w, req)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/metrics", s.handleIngestModule)
		r.Post("/latency", s.handleIngestLatency)
		r.Post("/requests", s.handleIngestRequest)
		r.Post("/flows", s.handleIngestFlow)
		r.Post("/validations", s.handleIngestValidation)

		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/correlations", s.handleCorrelations)
		r.Get("/budget/{op}", s.handleBudget)
		r.Get("/export", s.handleExport)
		r.Post("/ladder/override", s.handleOverride)

		r.Get("/stream", s.handleStream)
		r.Post("/stream/{client}/control", s.handleStreamControl)
	})

	return r
}

// Start blocks serving requests until Shutdown. A closed-server exit
// is reported as nil.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests. Open SSE streams end when their
// request contexts are cancelled by the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// measure records one counter and histogram sample per request, keyed
// by the chi route pattern to keep label cardinality bounded.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		route := chi.RouteContext(r.Context()).RoutePattern()
		s.metrics.RecordHTTP(r.Method, route, code, time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.rt.Clock.Now(),
	})
}

func (s *Server) handleIngestModule(w http.ResponseWriter, r *http.Request) {
	var mm model.ModuleMetrics
	if err := json.NewDecoder(r.Body).Decode(&mm); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if mm.Module == "" {
		s.respondError(w, http.StatusBadRequest, "module is required")
		return
	}
	if mm.Timestamp == 0 {
		mm.Timestamp = s.rt.Clock.Now()
	}
	s.rt.IngestModuleMetrics(mm)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type latencyIngest struct {
	Operation  string            `json:"operation"`
	DurationMs float64           `json:"duration_ms"`
	Labels     map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleIngestLatency(w http.ResponseWriter, r *http.Request) {
	var in latencyIngest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if in.Operation == "" {
		s.respondError(w, http.StatusBadRequest, "operation is required")
		return
	}
	s.rt.Aggregator.RecordLatency(in.Operation, in.DurationMs, in.Labels)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type requestIngest struct {
	Operation string            `json:"operation"`
	Success   bool              `json:"success"`
	Labels    map[string]string `json:"labels,omitempty"`
}

func (s *Server) handleIngestRequest(w http.ResponseWriter, r *http.Request) {
	var in requestIngest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if in.Operation == "" {
		s.respondError(w, http.StatusBadRequest, "operation is required")
		return
	}
	s.rt.Aggregator.RecordRequest(in.Operation, in.Success, in.Labels)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleIngestFlow(w http.ResponseWriter, r *http.Request) {
	var m model.FlowExecutionMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if m.FlowID == "" {
		s.respondError(w, http.StatusBadRequest, "flow_id is required")
		return
	}
	s.rt.Aggregator.RecordFlowExecution(m)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleIngestValidation(w http.ResponseWriter, r *http.Request) {
	var m model.ValidationPipelineMetrics
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if m.Stage == "" {
		s.respondError(w, http.StatusBadRequest, "stage is required")
		return
	}
	s.rt.Aggregator.RecordValidationPipeline(m)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.rt.Snapshot())
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"correlations": s.rt.Correlator.Matrix(),
		"paths":        s.rt.Correlator.CriticalPaths(),
	})
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	s.respondJSON(w, http.StatusOK, s.rt.Aggregator.ErrorBudget(op))
}

// handleExport serves the aggregator's own exposition: every dynamic
// series, histogram summary, and budget, which the curated /metrics
// registry does not carry.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	s.rt.Aggregator.WritePrometheus(w)
}

type overrideRequest struct {
	Level  int    `json:"level"`
	Reason string `json:"reason"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.rt.Ladder.Override(req.Level, req.Reason); err != nil {
		if control.IsCode(err, control.ErrCodeInvalidInput) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, s.rt.Ladder.Status())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := newSSEConn(w, flusher)
	id, err := s.rt.Hub.Register(conn)
	if err != nil {
		// Headers are gone; all we can do is drop the connection.
		return
	}
	defer s.rt.Hub.Unregister(id)

	// The welcome frame carried the client id; the hub pushes from
	// here on. Block until the client leaves or the hub reaps us.
	select {
	case <-r.Context().Done():
	case <-conn.done:
	}
}

func (s *Server) handleStreamControl(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client")
	var msg control.ClientMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := s.rt.Hub.ProcessMessage(clientID, msg); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"subscriptions": s.rt.Hub.Subscriptions(clientID),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// sseConn adapts one server-sent-events response onto the hub's Conn.
// Send must survive concurrent broadcast and reap goroutines.
type sseConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
	once    sync.Once
}

func newSSEConn(w http.ResponseWriter, flusher http.Flusher) *sseConn {
	return &sseConn{w: w, flusher: flusher, done: make(chan struct{})}
}

func (c *sseConn) Send(f control.Frame) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", f.Type, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *sseConn) Close() {
	c.once.Do(func() { close(c.done) })
}
