// Riskpipe - Behavioral Risk Decision Pipeline
// Copyright 2026 Veridian Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/veridianlabs/riskpipe

// Package server is the ingestion HTTP surface: event submission, queue
// statistics, health, and Prometheus metrics, behind static API-key
// authentication, per-client rate limiting, and CORS.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veridianlabs/riskpipe/internal/event"
	"github.com/veridianlabs/riskpipe/internal/logging"
	"github.com/veridianlabs/riskpipe/internal/normalize"
	"github.com/veridianlabs/riskpipe/internal/queue"
)

// Server ingests raw events into the hybrid queue. It implements
// suture.Service.
type Server struct {
	cfg   Config
	queue *queue.HybridQueue
	keys  map[string]bool
}

// New validates cfg and returns a server over the given queue.
func New(cfg Config, q *queue.HybridQueue) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, fmt.Errorf("server: queue is required")
	}
	keys := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k] = true
	}
	return &Server{cfg: cfg, queue: q, keys: keys}, nil
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-API-Key"},
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.Limit(s.cfg.RateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(rateLimitKey)))
		r.Use(s.authenticate)

		r.Post("/events", s.handleIngest)
		r.Post("/events/batch", s.handleIngestBatch)
		r.Get("/stats", s.handleStats)
	})

	return r
}

// Serve runs the HTTP server until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("Ingest server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			logging.Error().Err(err).Msg("Ingest server shutdown failed")
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) String() string { return "ingest-server" }

// rateLimitKey buckets requests by API key so a key's quota is global
// across client addresses. Unauthenticated requests fall back to the
// client IP.
func rateLimitKey(r *http.Request) (string, error) {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key, nil
	}
	return httprate.KeyByRealIP(r)
}

// authenticate requires a configured X-API-Key. An empty key list disables
// authentication (development only).
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.keys) > 0 && !s.keys[r.Header.Get("X-API-Key")] {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ingestRequest is one submitted event. ID is optional; the server assigns
// one when absent.
type ingestRequest struct {
	ID      string          `json:"id"`
	Source  event.Source    `json:"source"`
	Payload json.RawMessage `json:"payload"`
}

type ingestResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	res := s.ingest(req)
	switch res.Status {
	case "accepted", "overflowed":
		writeJSON(w, http.StatusAccepted, res)
	case "invalid":
		writeJSON(w, http.StatusBadRequest, res)
	default:
		writeJSON(w, http.StatusServiceUnavailable, res)
	}
}

type batchRequest struct {
	Events []ingestRequest `json:"events"`
}

type batchResponse struct {
	Accepted   int            `json:"accepted"`
	Overflowed int            `json:"overflowed"`
	Rejected   int            `json:"rejected"`
	Results    []ingestResult `json:"results"`
}

func (s *Server) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if len(req.Events) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(req.Events) > s.cfg.MaxBatchSize {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("batch exceeds maximum of %d events", s.cfg.MaxBatchSize))
		return
	}

	resp := batchResponse{Results: make([]ingestResult, 0, len(req.Events))}
	for _, ev := range req.Events {
		res := s.ingest(ev)
		switch res.Status {
		case "accepted":
			resp.Accepted++
		case "overflowed":
			resp.Overflowed++
		default:
			resp.Rejected++
		}
		resp.Results = append(resp.Results, res)
	}

	writeJSON(w, http.StatusAccepted, resp)
}

// ingest enqueues one event and maps the admission outcome to a result.
func (s *Server) ingest(req ingestRequest) ingestResult {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	raw := event.RawEvent{
		ID:          req.ID,
		Source:      req.Source,
		Payload:     req.Payload,
		ArrivalTime: time.Now().UTC(),
	}

	admission, err := s.queue.Enqueue(raw, normalize.PartitionKey(raw))
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			return ingestResult{ID: req.ID, Status: "invalid", Error: verr.Error()}
		}
		return ingestResult{ID: req.ID, Status: admission.String(), Error: err.Error()}
	}
	return ingestResult{ID: req.ID, Status: admission.String()}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.queue.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
