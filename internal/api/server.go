// Package api exposes the pipeline stages over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/docsift/docsift/internal/app"
	"github.com/docsift/docsift/internal/docs"
	"github.com/docsift/docsift/internal/metrics"
	"github.com/docsift/docsift/internal/store"
)

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router   chi.Router
	pipeline *app.Pipeline
	clock    docs.Clock
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(pipeline *app.Pipeline, clock docs.Clock, logger *zap.Logger) *Server {
	s := &Server{
		pipeline: pipeline,
		clock:    clock,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/docs", s.listDocs)
		r.Get("/docs/{doc_id}", s.getDoc)
		r.Post("/scrape", s.runScrape)
		r.Post("/clean", s.runClean)
		r.Post("/analyze", s.runAnalyze)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	counts, err := s.pipeline.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"base_url": s.pipeline.BaseURL(),
		"counts":   counts,
		"time_utc": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) listDocs(w http.ResponseWriter, r *http.Request) {
	sortByScore := r.URL.Query().Get("sort") == "score"
	items, err := s.pipeline.Docs(r.Context(), sortByScore)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"count":    len(items),
		"time_utc": s.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getDoc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "doc_id")
	item, err := s.pipeline.DocByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeRaw(w, http.StatusOK, item)
}

func (s *Server) runScrape(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.RunScrape(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runClean(w http.ResponseWriter, r *http.Request) {
	result, err := s.pipeline.RunClean(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runAnalyze(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	result, err := s.pipeline.RunAnalyze(r.Context(), force)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// statusFor maps pipeline errors onto HTTP statuses: a missing prior stage
// is the caller's mistake, lock contention and backend failures are ours.
func statusFor(err error) int {
	var noInput app.ErrNoInput
	if errors.As(err, &noInput) {
		return http.StatusBadRequest
	}
	if errors.Is(err, store.ErrLockTimeout) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeRaw(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		zap.L().Error("write response failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
