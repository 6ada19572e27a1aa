package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/engine"
	"github.com/hupe1980/agentweave/logging"
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address (default ":8080").
	Addr string

	// Registry backs /metrics and receives the HTTP metrics. Defaults to a
	// fresh registry.
	Registry *prometheus.Registry

	// RequestsPerSecond limits invoke requests; 0 disables the limit.
	RequestsPerSecond float64
	// Burst of the request limiter (default 1).
	Burst int

	// ShutdownTimeout bounds graceful shutdown (default 10s).
	ShutdownTimeout time.Duration

	Logger logging.Logger
}

// Server serves an engine over HTTP.
type Server struct {
	engine   *engine.Engine
	opts     Options
	logger   logging.Logger
	limiter  *rate.Limiter
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	mux      *http.ServeMux
}

// New creates a Server for e.
func New(e *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:            ":8080",
		Burst:           1,
		ShutdownTimeout: 10 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{
		engine: e,
		opts:   opts,
		logger: opts.Logger,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentweave",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by path and status code",
		}, []string{"path", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentweave",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"path"}),
		mux: http.NewServeMux(),
	}

	opts.Registry.MustRegister(s.requests, s.latency)

	if opts.RequestsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}

	s.mux.Handle("POST /api/invoke", s.instrument("/api/invoke", http.HandlerFunc(s.handleInvoke)))
	s.mux.Handle("GET /api/agents", s.instrument("/api/agents", http.HandlerFunc(s.handleAgents)))
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled and then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.engine.Agents()})
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: ErrorBody{Message: "rate limit exceeded", Type: ErrorTypeRateLimited}})
		return
	}

	var req InvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Message: "invalid request body: " + err.Error(), Type: ErrorTypeBadRequest}})
		return
	}

	if req.Agent == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{Message: "agent is required", Type: ErrorTypeBadRequest}})
		return
	}

	if req.Input.Len() == 0 {
		req.Input = core.NewMessage()
	}

	s.logger.Debug("invoke request", "agent", req.Agent, "streaming", req.Options.Streaming, "session_id", req.SessionID)

	if req.Options.Streaming {
		s.stream(w, r, req)
		return
	}

	var (
		out       core.Message
		sessionID string
		err       error
	)

	if req.SessionID != "" {
		out, sessionID, err = s.engine.InvokeSession(r.Context(), req.Agent, req.SessionID, req.Input)
	} else {
		out, err = s.engine.Invoke(r.Context(), req.Agent, req.Input)
	}

	if err != nil {
		s.fail(w, req.Agent, err)
		return
	}

	writeJSON(w, http.StatusOK, InvokeResponse{Output: out, SessionID: sessionID})
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request, req InvokeRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{Message: "streaming unsupported", Type: "Error"}})
		return
	}

	var (
		stream core.Stream
		err    error
	)

	if req.SessionID != "" {
		var sessionID string

		stream, sessionID, err = s.engine.InvokeSessionStream(r.Context(), req.Agent, req.SessionID, req.Input)
		w.Header().Set("X-Session-Id", sessionID)
	} else {
		stream, err = s.engine.InvokeStream(r.Context(), req.Agent, req.Input)
	}

	if err != nil {
		s.fail(w, req.Agent, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for c := range stream {
		if c.Err != nil {
			s.logger.Warn("stream failed", "agent", req.Agent, "error_type", core.ErrorType(c.Err), "error", c.Err)
			writeEvent(w, "error", errorResponse(c.Err))
			flusher.Flush()

			continue
		}

		writeEvent(w, "", c)
		flusher.Flush()
	}
}

func (s *Server) fail(w http.ResponseWriter, agent string, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("invoke failed", "agent", agent, "status", status, "error", err)
	} else {
		s.logger.Warn("invoke rejected", "agent", agent, "status", status, "error", err)
	}

	writeJSON(w, status, errorResponse(err))
}

func (s *Server) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		s.requests.WithLabelValues(path, strconv.Itoa(sw.status)).Inc()
		s.latency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(errorResponse(&core.StreamError{Err: err}))
		event = "error"
	}

	if event != "" {
		_, _ = fmt.Fprintf(w, "event: %s\n", event)
	}

	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}
