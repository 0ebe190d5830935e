package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/recapd/recapd/internal/api/shared"
	"github.com/recapd/recapd/internal/task"
)

// StatsResponse represents the response data for queue statistics.
type StatsResponse struct {
	ByStatus       map[string]int `json:"by_status"`
	ByKind         map[string]int `json:"by_kind"`
	OldestRunnable *time.Time     `json:"oldest_runnable,omitempty"`
}

// StatsHandler handles queue observability requests.
type StatsHandler struct {
	tasks  task.Store
	logger *slog.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(tasks task.Store, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		tasks:  tasks,
		logger: logger,
	}
}

// GetStats handles GET /api/tasks/stats requests.
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tasks.Stats(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			http.StatusInternalServerError, "Failed to collect queue statistics", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, statsToDTOResponse(stats))
}

// statsToDTOResponse converts task.Stats to a StatsResponse.
func statsToDTOResponse(stats *task.Stats) StatsResponse {
	resp := StatsResponse{
		ByStatus:       make(map[string]int, len(stats.ByStatus)),
		ByKind:         make(map[string]int, len(stats.ByKind)),
		OldestRunnable: stats.OldestRunnable,
	}
	for status, n := range stats.ByStatus {
		resp.ByStatus[string(status)] = n
	}
	for kind, n := range stats.ByKind {
		resp.ByKind[string(kind)] = n
	}
	return resp
}
