// Package server exposes the run ledger over a read-only HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/skillgen/internal/model"
	"github.com/sells-group/skillgen/internal/monitoring"
	"github.com/sells-group/skillgen/internal/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Server serves the ledger API.
type Server struct {
	store         store.Store
	collector     *monitoring.Collector
	lookbackHours int
	router        chi.Router
}

// New builds the router. lookbackHours is the default window for /stats.
func New(st store.Store, lookbackHours int) *Server {
	s := &Server{
		store:         st,
		collector:     monitoring.NewCollector(st),
		lookbackHours: lookbackHours,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/stats", s.stats)
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", s.listRuns)
		r.Get("/{id}", s.getRun)
		r.Get("/{id}/attempts", s.listAttempts)
	})
	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultPageSize)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	status := model.RunStatus(q.Get("status"))
	switch status {
	case "", model.RunStatusRunning, model.RunStatusSucceeded, model.RunStatusExhausted, model.RunStatusFailed:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
		return
	}

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status:  status,
		Library: q.Get("library"),
		Limit:   min(limit, maxPageSize),
		Offset:  offset,
	})
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetRun(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.internalError(w, r, err)
		return
	}
	attempts, err := s.store.ListAttempts(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if attempts == nil {
		attempts = []model.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"run_id": id, "attempts": attempts})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r.URL.Query().Get("lookback_hours"), s.lookbackHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lookback_hours must be an integer")
		return
	}
	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("server: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
