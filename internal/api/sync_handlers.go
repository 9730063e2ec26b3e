package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/discipline-sync/internal/catalog"
	"github.com/JakeFAU/discipline-sync/internal/engine"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// Triggerer starts a background run.
type Triggerer interface {
	Trigger(ctx context.Context) (engine.TriggerResult, error)
}

// triggerSync handles POST /v1/sync. It answers 202 with the run id, 409 when
// a run is already active, or 503 when the guard could not be checked.
func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.trigger.Trigger(r.Context())
	if err != nil {
		s.logger.Error("trigger synchronization failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "could not start synchronization")
		return
	}
	if res.Status == engine.TriggerAlreadyRunning {
		writeJSON(w, http.StatusConflict, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// latestRun handles GET /v1/sync/runs/latest.
func (s *Server) latestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.LatestRun(r.Context())
	if errors.Is(err, catalog.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no synchronization has run yet")
		return
	}
	if err != nil {
		s.logger.Error("load latest run failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, runDTO{SyncRun: run, DurationSeconds: run.Duration().Seconds(), Failures: run.Failures()})
}

// listRuns handles GET /v1/sync/runs?limit=.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		// Summaries only; outcomes are on the latest-run view.
		run.Outcomes = nil
		out = append(out, runDTO{SyncRun: run, DurationSeconds: run.Duration().Seconds()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

type runDTO struct {
	catalog.SyncRun
	DurationSeconds float64                     `json:"duration_seconds"`
	Failures        []catalog.DisciplineOutcome `json:"failures,omitempty"`
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, nil
}
