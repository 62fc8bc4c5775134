package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/cartridge/summarizer/internal/metrics"
	"github.com/cartridge/summarizer/internal/middleware"
	"github.com/cartridge/summarizer/internal/storage"
	"github.com/cartridge/summarizer/internal/types"
)

// StatusSource exposes the live state of a training run.
type StatusSource interface {
	Status() types.Status
}

// Server wires HTTP handlers to a running trainer.
type Server struct {
	status    StatusSource
	history   storage.HistoryStore
	collector *metrics.Collector
	logger    zerolog.Logger
}

// NewServer constructs a Server instance. history and collector may be nil.
func NewServer(status StatusSource, history storage.HistoryStore, collector *metrics.Collector, logger zerolog.Logger) *Server {
	return &Server{status: status, history: history, collector: collector, logger: logger}
}

// Routes builds the HTTP router for the status server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CorrelationID)
	r.Use(middleware.RequestLogger(s.logger, s.collector))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/selection", s.handleSelection)
		r.Get("/runs/{runID}/epochs", s.handleEpochs)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	picks := st.BestPicks
	if picks == nil {
		picks = []int{}
	}
	ids := st.BestIDs
	if ids == nil {
		ids = []string{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"run_id":      st.RunID,
		"best_reward": st.BestReward,
		"best_picks":  picks,
		"best_ids":    ids,
	})
}

func (s *Server) handleEpochs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "epoch history is not enabled")
		return
	}
	runID := chi.URLParam(r, "runID")
	epochs, err := s.history.ListEpochs(r.Context(), runID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, epochs)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.logger.Error().Err(err).Msg("request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}
