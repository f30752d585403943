// Package httpapi exposes the admin HTTP surface: health, metrics, manual
// cycles, topic backfill and the list of articles that ran out of attempts.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ArticleClusterer/internal/domain"
	"ArticleClusterer/internal/usecase"
)

// Pipeline is the part of the use case layer the API drives.
type Pipeline interface {
	RunCycle(ctx context.Context) (usecase.CycleReport, error)
	ProcessNewTopic(ctx context.Context, topicID int64) (usecase.BackfillReport, error)
}

// FailedArticles lists articles that exhausted their attempts.
type FailedArticles interface {
	FailedArticles(ctx context.Context, limit int) ([]domain.Article, error)
}

// Pinger reports storage health. Optional.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies bundles what the handlers need.
type Dependencies struct {
	Pipeline Pipeline
	Failed   FailedArticles
	Pinger   Pinger
	Metrics  http.Handler
	Logger   *slog.Logger
}

// Server wires HTTP routes for the admin API.
type Server struct {
	deps Dependencies
}

// NewServer creates a server over deps.
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{deps: deps}
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}
	mux.HandleFunc("POST /cycles", s.handleRunCycle)
	mux.HandleFunc("POST /topics/{id}/backfill", s.handleBackfill)
	mux.HandleFunc("GET /articles/failed", s.handleFailed)
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Pinger.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Error: err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Pipeline.RunCycle(r.Context())
	switch {
	case errors.Is(err, usecase.ErrCycleInProgress):
		writeError(w, http.StatusConflict, "cycle_in_progress", err)
	case err != nil:
		s.deps.Logger.Error("manual cycle failed", "error", err)
		writeError(w, http.StatusInternalServerError, "cycle_failed", err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_topic_id", ErrBadRequest)
		return
	}

	report, err := s.deps.Pipeline.ProcessNewTopic(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "topic_not_found", err)
	case errors.Is(err, usecase.ErrTopicInactive):
		writeError(w, http.StatusConflict, "topic_inactive", err)
	case err != nil:
		s.deps.Logger.Error("backfill failed", "topic_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "backfill_failed", err)
	default:
		writeJSON(w, http.StatusOK, report)
	}
}

type failedArticle struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s *Server) handleFailed(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "bad_limit", ErrBadRequest)
			return
		}
		limit = n
	}

	articles, err := s.deps.Failed.FailedArticles(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error", err)
		return
	}

	out := make([]failedArticle, 0, len(articles))
	for _, a := range articles {
		out = append(out, failedArticle{
			ID:        a.ID,
			Title:     a.Title,
			Attempts:  a.Attempts,
			LastError: a.LastError,
			UpdatedAt: a.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
