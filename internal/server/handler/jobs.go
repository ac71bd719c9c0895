package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// JobTrigger enqueues background job runs. Both triggers are idempotent: a
// run already queued or in flight coalesces instead of stacking.
type JobTrigger interface {
	TriggerMatcher() bool
	TriggerSettlement() bool
}

// JobsHandler serves the manual job trigger endpoints.
type JobsHandler struct {
	runner JobTrigger
	logger *slog.Logger
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(runner JobTrigger, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{runner: runner, logger: logger}
}

// TriggerMatcher enqueues one market-matching run.
// POST /api/jobs/matcher/trigger
func (h *JobsHandler) TriggerMatcher(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "matcher", h.runner.TriggerMatcher)
}

// TriggerSettlement enqueues one settlement run.
// POST /api/jobs/settlement/trigger
func (h *JobsHandler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "settlement", h.runner.TriggerSettlement)
}

func (h *JobsHandler) trigger(w http.ResponseWriter, r *http.Request, job string, fn func() bool) {
	queued := fn()
	status := "accepted"
	if !queued {
		status = "already_queued"
	}
	h.logger.InfoContext(r.Context(), "job trigger requested",
		slog.String("job", job),
		slog.String("status", status),
	)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job":          job,
		"status":       status,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
