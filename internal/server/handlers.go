package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/regime-engine/internal/history"
	"github.com/aristath/regime-engine/internal/session"
)

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.db != nil {
		if err := s.db.QuickCheck(r.Context()); err != nil {
			status = "degraded"
			s.log.Warn().Err(err).Msg("Health check database ping failed")
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  status,
		"service": "regime-engine",
	})
}

// handleLatestRun serves the most recent stored analysis run
func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.GetLatest(r.Context())
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "no analysis runs stored yet")
			return
		}
		s.log.Error().Err(err).Msg("Failed to load latest run")
		s.writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleListRuns lists stored run summaries, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	summaries, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": summaries})
}

// handleGetRun serves one stored run by id
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	result, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load run")
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleTriggerRun starts an analysis batch in the background
func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	if s.batchJob == nil || s.scheduler == nil {
		s.writeError(w, http.StatusServiceUnavailable, "analysis job not registered")
		return
	}

	go func() {
		if err := s.scheduler.RunNow(s.batchJob); err != nil {
			s.log.Error().Err(err).Msg("Manually triggered batch failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleRegimes serves the per-symbol regime states from the latest run
func (s *Server) handleRegimes(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.GetLatest(r.Context())
	if err != nil {
		if errors.Is(err, history.ErrRunNotFound) {
			s.writeError(w, http.StatusNotFound, "no analysis runs stored yet")
			return
		}
		s.log.Error().Err(err).Msg("Failed to load latest run")
		s.writeError(w, http.StatusInternalServerError, "failed to load latest run")
		return
	}

	regimes := make(map[string]interface{}, len(result.Reports))
	for _, report := range result.Reports {
		regimes[report.Symbol] = report.Regime
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  result.RunID,
		"as_of":   result.CompletedAt,
		"regimes": regimes,
	})
}

// handleGap serves a live overnight gap prediction
func (s *Server) handleGap(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "gap predictor not configured")
		return
	}

	prediction, snapshots, err := s.predictor.PredictGap(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrNoSnapshots) {
			s.writeError(w, http.StatusServiceUnavailable, "no foreign market snapshots available")
			return
		}
		s.log.Error().Err(err).Msg("Gap prediction failed")
		s.writeError(w, http.StatusInternalServerError, "gap prediction failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"gap":            prediction,
		"snapshots":      snapshots,
		"recommendation": session.BandScore(session.SentimentScore(prediction)),
	})
}

// handleSessionState reports which trading window we are currently in
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	if s.predictor == nil {
		s.writeError(w, http.StatusServiceUnavailable, "gap predictor not configured")
		return
	}

	window := s.predictor.Window()
	state := window.Classify(timeNow())

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":             string(state),
		"in_futures_window": state == session.StateFuturesSession,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
