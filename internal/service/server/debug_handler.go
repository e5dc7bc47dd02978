package server

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/app-installer/internal/domain/event"
	"github.com/vertextoedge/app-installer/internal/port"
	"github.com/vertextoedge/app-installer/internal/service/installer"
)

// DebugHandler handles debug endpoint requests
type DebugHandler struct {
	runs    port.InstallRepository
	metrics *event.MetricsHandler
	gate    *installer.Gate
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler. Any dependency may be nil.
func NewDebugHandler(runs port.InstallRepository, metrics *event.MetricsHandler, gate *installer.Gate, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		runs:    runs,
		metrics: metrics,
		gate:    gate,
		logger:  logger,
	}
}

// HandleStats returns install counters and gate usage
func (h *DebugHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{}
	if h.metrics != nil {
		response["events"] = h.metrics.GetMetrics()
	}
	if h.gate != nil {
		response["gate"] = map[string]int{
			"capacity": h.gate.Capacity(),
			"held":     h.gate.Held(),
			"peak":     h.gate.Peak(),
		}
	}
	writeJSON(w, http.StatusOK, response)
}

// runView is the JSON shape of a stored run
type runView struct {
	ID          string  `json:"id"`
	AppID       string  `json:"app_id"`
	InstallRoot string  `json:"install_root"`
	State       string  `json:"state"`
	Module      string  `json:"module,omitempty"`
	Error       string  `json:"error,omitempty"`
	StartedAt   string  `json:"started_at"`
	FinishedAt  *string `json:"finished_at,omitempty"`
}

// HandleRuns returns recorded runs from the store, newest first
func (h *DebugHandler) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "Run history is not available", http.StatusNotFound)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.runs.ListRuns(limit)
	if err != nil {
		h.logger.Error("failed to list install runs", zap.Error(err))
		http.Error(w, "Failed to list install runs", http.StatusInternalServerError)
		return
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		v := runView{
			ID:          run.ID,
			AppID:       run.AppID,
			InstallRoot: run.InstallRoot,
			State:       string(run.State),
			Module:      run.Module,
			Error:       run.Error,
			StartedAt:   run.StartedAt.Format(time.RFC3339),
		}
		if run.FinishedAt != nil {
			f := run.FinishedAt.Format(time.RFC3339)
			v.FinishedAt = &f
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}
