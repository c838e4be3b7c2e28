// Package httpapi exposes a thin HTTP boundary around the reconciliation
// engine: manual reconcile requests, provider webhook ingestion, health and
// metrics. Authentication, rate limiting and webhook signature verification
// sit in front of this server.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	reconcile "github.com/xraph/reconcile"
)

// maxBodyBytes caps webhook and reconcile request bodies.
const maxBodyBytes = 1 << 20

// Server wraps an http.Server with reconcile routes mounted.
type Server struct {
	srv    *http.Server
	engine *reconcile.Engine
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*serverConfig)

type serverConfig struct {
	logger   *slog.Logger
	registry *prometheus.Registry
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *serverConfig) { c.logger = logger }
}

// WithMetricsRegistry exposes the given registry on /metrics. When unset,
// /metrics serves the prometheus default registry.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(c *serverConfig) { c.registry = reg }
}

// New creates a Server listening on addr, routing into the engine.
func New(addr string, engine *reconcile.Engine, opts ...Option) *Server {
	cfg := &serverConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	s := &Server{
		engine: engine,
		logger: cfg.logger,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /reconcile", s.handleReconcile)
	mux.HandleFunc("POST /webhooks/billing", s.handleWebhook)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := engine.Ping(r.Context()); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if cfg.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.registry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.srv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the mounted routes, for embedding in an existing server.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleReconcile accepts a manual reconciliation request and runs it through
// the engine. Domain failures come back as 200 with ok=false and a code.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcile.Request
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.engine.Reconcile(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// webhookEnvelope is the minimal shape read from provider webhook payloads.
// The raw payload is handed to OnWebhookReceived plugins untouched.
type webhookEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

// handleWebhook translates a provider webhook payload into an Inbound event.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	s.engine.Plugins().EmitWebhookReceived(r.Context(), "billing", body)

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	in := &reconcile.Inbound{
		EventID:   env.ID,
		EventType: env.Type,
		ObjectID:  env.Data.Object.ID,
		Status:    env.Data.Object.Status,
		Meta:      env.Data.Object.Metadata,
	}

	res, err := s.engine.ProcessEvent(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.engine.Plugins().EmitWebhookProcessed(r.Context(), "billing", res.EventID.String(), res.OK)
	writeJSON(w, http.StatusOK, res)
}

// writeError maps engine errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr reconcile.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, reconcile.ErrMissingDedupeKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case reconcile.IsNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case reconcile.IsRetryable(err):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		s.logger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
